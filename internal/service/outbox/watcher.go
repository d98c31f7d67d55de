package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"wallet-relay/internal/event"
	"wallet-relay/internal/service/mq"
	"wallet-relay/pkg/logger"

	"go.uber.org/zap"
)

// Alert 部分失败时的通知出口 (日志、告警 webhook 等)
type Alert func(ev event.TransferEvent)

// PartialFailureWatcher 消费转账事件，对补贴已结算但主交易失败的转账告警
type PartialFailureWatcher struct {
	consumer mq.Consumer
	alert    Alert

	mu   sync.Mutex
	seen map[string]struct{} // transfer id，重复投递只告警一次
}

func NewPartialFailureWatcher(consumer mq.Consumer, alert Alert) *PartialFailureWatcher {
	if alert == nil {
		alert = logAlert
	}
	return &PartialFailureWatcher{consumer: consumer, alert: alert, seen: make(map[string]struct{})}
}

func (w *PartialFailureWatcher) Start(ctx context.Context) error {
	return w.consumer.Subscribe(ctx, event.TopicTransfer, w.Handle)
}

func (w *PartialFailureWatcher) Handle(msg *mq.Message) error {
	var ev event.TransferEvent
	if err := json.Unmarshal(msg.Payload, &ev); err != nil {
		// 格式错误的消息重试也没用，直接丢弃
		logger.Warn("watcher: malformed transfer event", zap.String("id", msg.ID), zap.Error(err))
		return nil
	}
	if ev.Type != event.TypePartialFailure {
		return nil
	}

	w.mu.Lock()
	_, dup := w.seen[ev.TransferID]
	w.seen[ev.TransferID] = struct{}{}
	w.mu.Unlock()
	if dup {
		return nil
	}

	w.alert(ev)
	return nil
}

func logAlert(ev event.TransferEvent) {
	legs := make([]string, 0, len(ev.Legs))
	for _, l := range ev.Legs {
		legs = append(legs, fmt.Sprintf("%s:%s", l.Leg, l.Status))
	}
	logger.Error("partial failure: subsidy settled but transfer failed",
		zap.String("transfer_id", ev.TransferID),
		zap.String("user_id", ev.UserID),
		zap.String("currency", ev.Currency),
		zap.String("subsidy_amount", ev.SubsidyAmount),
		zap.Strings("legs", legs))
}
