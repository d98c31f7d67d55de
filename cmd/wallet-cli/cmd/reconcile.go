package cmd

import (
	"wallet-relay/internal/bootstrap"
	"wallet-relay/internal/service/reconcile"

	"github.com/spf13/cobra"
)

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "手动执行一轮对账",
	Long:  `读取超时后仍处于 submitted 的交易回执并更新状态，不会重新广播。与定时任务共用同一把锁。`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withServices(cmd.Context(), func(_ *bootstrap.Infra, svc *bootstrap.Services) error {
			res, err := reconcile.NewScheduler(svc.Reconciler, svc.Locker, "").RunOnce(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		})
	},
}

func init() {
	rootCmd.AddCommand(reconcileCmd)
}
