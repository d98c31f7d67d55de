package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"

	"wallet-relay/internal/bootstrap"
	"wallet-relay/pkg/config"
	"wallet-relay/pkg/logger"

	"github.com/spf13/cobra"
)

// rootCmd 代表基础命令，没有子命令时直接调用
var rootCmd = &cobra.Command{
	Use:   "wallet-cli",
	Short: "wallet-relay 运维命令行工具",
	Long: `读取与 wallet-server 相同的 config.yaml，用于开通钱包、预估补贴、
查看 nonce、手动触发对账以及加密流动性账户私钥。`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		config.Init()
		logger.Init(config.Global.App.Env)
	},
	SilenceUsage: true,
}

// Execute 将所有子命令添加到根命令并设置标志
func Execute() {
	defer logger.Sync()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withServices 连接基础设施并组装业务组件
func withServices(ctx context.Context, fn func(*bootstrap.Infra, *bootstrap.Services) error) error {
	infra, err := bootstrap.Connect(ctx, config.Global)
	if err != nil {
		return err
	}
	defer infra.Close()

	svc, err := bootstrap.NewServices(infra, config.Global)
	if err != nil {
		return err
	}
	return fn(infra, svc)
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
