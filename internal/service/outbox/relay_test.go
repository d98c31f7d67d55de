package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"wallet-relay/internal/event"
	"wallet-relay/internal/model"
	"wallet-relay/internal/service/mq"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu   sync.Mutex
	msgs []model.OutboxMessage
}

func (s *memStore) PendingOutbox(_ context.Context, limit int) ([]model.OutboxMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.OutboxMessage
	for _, m := range s.msgs {
		if m.Status == "PENDING" && len(out) < limit {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memStore) MarkOutboxSent(_ context.Context, id uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			s.msgs[i].Status = "SENT"
		}
	}
	return nil
}

func (s *memStore) CountPendingOutbox(ctx context.Context) (int64, error) {
	msgs, _ := s.PendingOutbox(ctx, 1<<30)
	return int64(len(msgs)), nil
}

type published struct {
	topic, key string
	payload    []byte
}

type fakeProducer struct {
	mu     sync.Mutex
	out    []published
	failOn string
}

func (p *fakeProducer) Publish(_ context.Context, topic, key string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if key == p.failOn {
		return errors.New("broker down")
	}
	p.out = append(p.out, published{topic, key, payload})
	return nil
}

func (p *fakeProducer) Close() error { return nil }

func TestRelay_FlushPublishesWithKeyAndMarksSent(t *testing.T) {
	store := &memStore{msgs: []model.OutboxMessage{
		{ID: 1, Topic: event.TopicTransfer, Key: "t1", Payload: []byte(`{"type":"transfer.confirmed"}`), Status: "PENDING"},
		{ID: 2, Topic: event.TopicTransfer, Key: "t2", Payload: []byte(`{}`), Status: "PENDING"},
		{ID: 3, Topic: event.TopicTransfer, Key: "t3", Payload: []byte(`{}`), Status: "SENT"},
	}}
	prod := &fakeProducer{failOn: "t2"}
	r := NewRelay(store, prod, 0)

	assert.Equal(t, 1, r.Flush(context.Background()))
	require.Len(t, prod.out, 1)
	assert.Equal(t, "t1", prod.out[0].key)
	assert.Equal(t, event.TopicTransfer, prod.out[0].topic)
	assert.Equal(t, "SENT", store.msgs[0].Status)
	// 发送失败的留在 PENDING，下一轮重发
	assert.Equal(t, "PENDING", store.msgs[1].Status)

	prod.failOn = ""
	assert.Equal(t, 1, r.Flush(context.Background()))
	assert.Equal(t, 0, r.Flush(context.Background()))
}

func TestRelay_StartStopsOnCancel(t *testing.T) {
	store := &memStore{msgs: []model.OutboxMessage{{ID: 1, Topic: "x", Key: "k", Status: "PENDING"}}}
	prod := &fakeProducer{}
	r := NewRelay(store, prod, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		r.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool {
		n, _ := store.CountPendingOutbox(context.Background())
		return n == 0
	}, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}

func encode(t *testing.T, ev event.TransferEvent) *mq.Message {
	t.Helper()
	b, err := json.Marshal(ev)
	require.NoError(t, err)
	return &mq.Message{ID: "1-0", Topic: event.TopicTransfer, Key: ev.TransferID, Payload: b}
}

func TestWatcher_AlertsOncePerPartialFailure(t *testing.T) {
	var alerts []event.TransferEvent
	w := NewPartialFailureWatcher(nil, func(ev event.TransferEvent) { alerts = append(alerts, ev) })

	require.NoError(t, w.Handle(encode(t, event.TransferEvent{Type: event.TypeConfirmed, TransferID: "a"})))
	require.NoError(t, w.Handle(encode(t, event.TransferEvent{Type: event.TypePartialFailure, TransferID: "b", SubsidyAmount: "0.05"})))
	require.NoError(t, w.Handle(encode(t, event.TransferEvent{Type: event.TypePartialFailure, TransferID: "b"})))
	require.NoError(t, w.Handle(&mq.Message{ID: "2-0", Payload: []byte("not json")}))

	require.Len(t, alerts, 1)
	assert.Equal(t, "b", alerts[0].TransferID)
	assert.Equal(t, "0.05", alerts[0].SubsidyAmount)
}
