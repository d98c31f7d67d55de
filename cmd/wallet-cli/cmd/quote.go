package cmd

import (
	"wallet-relay/internal/bootstrap"
	"wallet-relay/internal/model"
	"wallet-relay/internal/service/transfer"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "预估 send-erc20 / erc20-to-eth 的 gas 补贴 (不提交交易)",
	RunE: func(cmd *cobra.Command, args []string) error {
		userID, _ := cmd.Flags().GetString("user")
		kind, _ := cmd.Flags().GetString("kind")
		currency, _ := cmd.Flags().GetString("currency")
		rawAmount, _ := cmd.Flags().GetString("amount")
		to, _ := cmd.Flags().GetString("to")
		charge, _ := cmd.Flags().GetBool("charge-from-amount")

		amount, err := decimal.NewFromString(rawAmount)
		if err != nil {
			return err
		}
		return withServices(cmd.Context(), func(_ *bootstrap.Infra, svc *bootstrap.Services) error {
			q, err := svc.Orchestrator.Quote(cmd.Context(), model.TransferKind(kind), transfer.Request{
				UserID:           userID,
				Currency:         currency,
				Amount:           amount,
				To:               to,
				ChargeFromAmount: charge || kind == string(model.KindErc20ToEth),
			})
			if err != nil {
				return err
			}
			return printJSON(cmd, q)
		})
	},
}

func init() {
	rootCmd.AddCommand(quoteCmd)
	quoteCmd.Flags().String("user", "", "用户 ID")
	quoteCmd.Flags().String("kind", string(model.KindSendErc20), "send_erc20 或 erc20_to_eth")
	quoteCmd.Flags().String("currency", "USDC", "代币符号")
	quoteCmd.Flags().String("amount", "", "金额")
	quoteCmd.Flags().String("to", "", "收款地址 (send_erc20，可省略)")
	quoteCmd.Flags().Bool("charge-from-amount", false, "从金额中扣除补贴")
	_ = quoteCmd.MarkFlagRequired("user")
	_ = quoteCmd.MarkFlagRequired("amount")
}
