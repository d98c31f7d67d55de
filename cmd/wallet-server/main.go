package main

import (
	"context"

	"wallet-relay/internal/bootstrap"
	"wallet-relay/internal/handler"
	"wallet-relay/internal/handler/middleware"
	"wallet-relay/internal/model"
	"wallet-relay/internal/server"
	"wallet-relay/internal/service/outbox"
	"wallet-relay/internal/service/reconcile"
	"wallet-relay/pkg/config"
	"wallet-relay/pkg/logger"

	"go.uber.org/zap"
)

// @title wallet-relay API
// @version 1.0
// @description Custodial wallet with gasless ERC20 relay and Uniswap swaps.

// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

// @host localhost:8080
// @BasePath /
func main() {
	// 0. 初始化 Config
	config.Init()
	cfg := config.Global

	// 1. 初始化 Logger
	logger.Init(cfg.App.Env)
	defer logger.Sync()

	// 2. 连接 Postgres / Redis / 以太坊节点
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	infra, err := bootstrap.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("基础设施连接失败", zap.Error(err))
	}
	defer infra.Close()

	// 3. 开发环境自动迁移，生产环境请使用 cmd/migrate
	if cfg.App.IsDevelopment() {
		logger.Info("开发环境: 尝试自动迁移 Schema (GORM AutoMigrate)...")
		if err := infra.DB.AutoMigrate(model.AllModels()...); err != nil {
			logger.Fatal("数据库自动迁移失败", zap.Error(err))
		}
	}

	// 4. 业务组件
	svc, err := bootstrap.NewServices(infra, cfg)
	if err != nil {
		logger.Fatal("初始化服务失败", zap.Error(err))
	}

	// 5. 后台任务: outbox 中继 + 对账
	producer := bootstrap.NewProducer(cfg, infra.Redis)
	relay := outbox.NewRelay(svc.Store, producer, cfg.Jobs.OutboxInterval)
	go relay.Start(ctx)

	scheduler := reconcile.NewScheduler(svc.Reconciler, svc.Locker, cfg.Jobs.ReconcileSpec)
	if err := scheduler.Start(); err != nil {
		logger.Fatal("对账任务启动失败", zap.Error(err))
	}

	// 6. HTTP
	wallet := handler.NewWalletHandler(svc.Orchestrator, svc.Provisioner)
	health := handler.NewHealthHandler(infra.Eth, svc.Store)
	r := server.NewHTTPRouter(health, wallet, middleware.Auth(cfg.App.JwtSecret, svc.Store))

	app := server.New(server.Config{HttpPort: cfg.App.HttpPort}, r)
	app.OnStop(func() {
		_ = producer.Close()
	})
	app.OnStop(cancel)
	app.OnStop(scheduler.Stop)

	// 运行 (阻塞)
	app.Run()
	logger.Info("系统已退出")
}
