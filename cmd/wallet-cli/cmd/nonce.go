package cmd

import (
	"fmt"

	"wallet-relay/internal/bootstrap"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/cobra"
)

var nonceCmd = &cobra.Command{
	Use:   "nonce <address>",
	Short: "查看地址下一个可用 nonce",
	Long:  `开启 wallet.distributed_nonce 时读取 Redis 中的计数，否则读取节点的 pending nonce。`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !common.IsHexAddress(args[0]) {
			return fmt.Errorf("invalid address %q", args[0])
		}
		addr := common.HexToAddress(args[0])
		return withServices(cmd.Context(), func(_ *bootstrap.Infra, svc *bootstrap.Services) error {
			n, err := svc.Nonces.Peek(cmd.Context(), addr)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", addr.Hex(), n)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(nonceCmd)
}
