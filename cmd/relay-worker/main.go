package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"wallet-relay/internal/bootstrap"
	"wallet-relay/internal/service/outbox"
	"wallet-relay/internal/service/reconcile"
	"wallet-relay/pkg/config"
	"wallet-relay/pkg/logger"

	"go.uber.org/zap"
)

// relay-worker 独立运行 outbox 中继、部分失败告警和对账任务
// wallet-server 多实例部署时可以只跑 HTTP，把后台任务交给它
func main() {
	config.Init()
	cfg := config.Global

	logger.Init(cfg.App.Env)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	infra, err := bootstrap.Connect(ctx, cfg)
	if err != nil {
		logger.Fatal("基础设施连接失败", zap.Error(err))
	}
	defer infra.Close()

	svc, err := bootstrap.NewServices(infra, cfg)
	if err != nil {
		logger.Fatal("初始化服务失败", zap.Error(err))
	}

	producer := bootstrap.NewProducer(cfg, infra.Redis)
	defer producer.Close()
	go outbox.NewRelay(svc.Store, producer, cfg.Jobs.OutboxInterval).Start(ctx)

	host, _ := os.Hostname()
	consumer := bootstrap.NewConsumer(cfg, infra.Redis, cfg.Kafka.GroupID+"-watcher", host)
	defer consumer.Close()
	if err := outbox.NewPartialFailureWatcher(consumer, nil).Start(ctx); err != nil {
		logger.Fatal("部分失败监听启动失败", zap.Error(err))
	}

	scheduler := reconcile.NewScheduler(svc.Reconciler, svc.Locker, cfg.Jobs.ReconcileSpec)
	if err := scheduler.Start(); err != nil {
		logger.Fatal("对账任务启动失败", zap.Error(err))
	}

	logger.Info("relay-worker started")
	<-ctx.Done()
	logger.Info("relay-worker shutting down")
	scheduler.Stop()
}
