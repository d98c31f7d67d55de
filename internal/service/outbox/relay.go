package outbox

import (
	"context"
	"time"

	"wallet-relay/internal/model"
	"wallet-relay/internal/service/mq"
	"wallet-relay/pkg/logger"
	"wallet-relay/pkg/monitor"

	"go.uber.org/zap"
)

// Store relay 依赖的 outbox 读写
type Store interface {
	PendingOutbox(ctx context.Context, limit int) ([]model.OutboxMessage, error)
	MarkOutboxSent(ctx context.Context, id uint64) error
	CountPendingOutbox(ctx context.Context) (int64, error)
}

// Relay 负责将本地消息表的消息搬运到 MQ
type Relay struct {
	store    Store
	producer mq.Producer
	interval time.Duration
	batch    int
}

func NewRelay(store Store, producer mq.Producer, interval time.Duration) *Relay {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	return &Relay{
		store:    store,
		producer: producer,
		interval: interval,
		batch:    50, // 每次取 50 条，避免内存爆炸
	}
}

// Start 阻塞直到 ctx 取消
func (r *Relay) Start(ctx context.Context) {
	logger.Info("Outbox relay started", zap.Duration("interval", r.interval))
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("Outbox relay stopped")
			return
		case <-ticker.C:
			r.Flush(ctx)
		}
	}
}

// Flush 发送一批 PENDING 消息，返回成功投递的条数
func (r *Relay) Flush(ctx context.Context) int {
	messages, err := r.store.PendingOutbox(ctx, r.batch)
	if err != nil {
		logger.Warn("outbox: query pending failed", zap.Error(err))
		return 0
	}

	sent := 0
	for _, msg := range messages {
		// 只有发送成功了才更新状态，至少一次投递，消费端按 event id 幂等
		if err := r.producer.Publish(ctx, msg.Topic, msg.Key, msg.Payload); err != nil {
			logger.Warn("outbox: publish failed", zap.Uint64("id", msg.ID), zap.String("topic", msg.Topic), zap.Error(err))
			continue
		}
		if err := r.store.MarkOutboxSent(ctx, msg.ID); err != nil {
			logger.Warn("outbox: mark sent failed", zap.Uint64("id", msg.ID), zap.Error(err))
			continue
		}
		sent++
	}
	if sent > 0 {
		logger.Debug("outbox: messages published", zap.Int("count", sent))
	}

	if n, err := r.store.CountPendingOutbox(ctx); err == nil {
		monitor.Business.OutboxPendingMessages.Set(float64(n))
	}
	return sent
}
