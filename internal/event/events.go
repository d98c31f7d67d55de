package event

import (
	"time"

	"wallet-relay/internal/model"
	"wallet-relay/pkg/crypto_util"
)

// TopicTransfer 转账生命周期事件
// Topic: wallet_events_transfer
const TopicTransfer = "wallet_events_transfer"

const (
	TypeConfirmed      = "transfer.confirmed"
	TypeFailed         = "transfer.failed"
	TypePartialFailure = "transfer.partial_failure"
)

// Envelope 待写入 outbox 的一条事件
type Envelope struct {
	ID      string
	Topic   string
	Payload TransferEvent
}

// TransferEvent 消息体
type TransferEvent struct {
	Type            string     `json:"type"`
	TransferID      string     `json:"transfer_id"`
	UserID          string     `json:"user_id"`
	Kind            string     `json:"kind"`
	Currency        string     `json:"currency"`
	Amount          string     `json:"amount"` // Decimal string
	RecipientAmount string     `json:"recipient_amount"`
	SubsidyAmount   string     `json:"subsidy_amount"`
	State           string     `json:"state"`
	FailureCode     int        `json:"failure_code,omitempty"`
	PartialFailure  bool       `json:"partial_failure"`
	Legs            []LegState `json:"legs,omitempty"`
	OccurredAt      time.Time  `json:"occurred_at"`
}

type LegState struct {
	Leg    string `json:"leg"`
	TxHash string `json:"tx_hash"`
	Nonce  uint64 `json:"nonce"`
	Status string `json:"status"`
}

// ForTransfer 由转账当前状态生成事件；同一转账同一类型只会产生一个 ID
func ForTransfer(typ string, t *model.Transfer, legs []model.PendingTransaction) Envelope {
	ev := TransferEvent{
		Type:            typ,
		TransferID:      t.ID,
		UserID:          t.UserID,
		Kind:            string(t.Kind),
		Currency:        t.Currency,
		Amount:          t.Amount.String(),
		RecipientAmount: t.RecipientAmount.String(),
		SubsidyAmount:   t.SubsidyAmount.String(),
		State:           string(t.State),
		FailureCode:     t.FailureCode,
		PartialFailure:  t.PartialFailure,
		OccurredAt:      time.Now().UTC(),
	}
	for _, l := range legs {
		ev.Legs = append(ev.Legs, LegState{Leg: string(l.Leg), TxHash: l.TxHash, Nonce: l.Nonce, Status: string(l.Status)})
	}
	return Envelope{
		ID:      crypto_util.EventKey(t.ID, typ),
		Topic:   TopicTransfer,
		Payload: ev,
	}
}
