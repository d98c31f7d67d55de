package cmd

import (
	"bufio"
	"fmt"
	"strings"

	"wallet-relay/internal/service/account"
	"wallet-relay/pkg/config"
	"wallet-relay/pkg/crypto_util"
	"wallet-relay/pkg/keystore"

	"github.com/spf13/cobra"
)

var sealKeyCmd = &cobra.Command{
	Use:   "seal-key",
	Short: "用 wallet.secret 加密私钥 (从标准输入读取 hex)",
	Long: `输出的 JSON 可直接作为 wallet.liquidity_key 配置。
示例: echo $LIQUIDITY_HEX | wallet-cli seal-key`,
	RunE: func(cmd *cobra.Command, args []string) error {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read key: %w", err)
		}
		raw := []byte(strings.TrimSpace(line))

		key, err := account.NormalizeKey(raw)
		crypto_util.Zero(raw)
		if err != nil {
			return err
		}
		defer crypto_util.Zero(key)

		sealer, err := keystore.NewSealer(config.Global.Wallet.Secret, config.Global.Wallet.ScryptN)
		if err != nil {
			return err
		}
		sealed, err := sealer.Seal(key)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), sealed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sealKeyCmd)
}
