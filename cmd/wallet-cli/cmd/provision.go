package cmd

import (
	"wallet-relay/internal/bootstrap"

	"github.com/spf13/cobra"
)

var provisionCmd = &cobra.Command{
	Use:   "provision <user-id>",
	Short: "为用户开通钱包 (ETH + BTC)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(_ *bootstrap.Infra, svc *bootstrap.Services) error {
			info, err := svc.Provisioner.CreateWallet(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd, info)
		})
	},
}

func init() {
	rootCmd.AddCommand(provisionCmd)
}
