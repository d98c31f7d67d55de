package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-relay/internal/event"
	"wallet-relay/internal/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrNotFound     = errors.New("record not found")
	ErrWalletExists = errors.New("wallet already provisioned")
	// ErrStaleState 状态迁移不合法 (并发写或重复提交)
	ErrStaleState = errors.New("illegal transfer state transition")
)

// Store gorm 实现，覆盖用户钱包、授权表、转账与 leg、outbox
type Store struct {
	db *gorm.DB
}

func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// FindUser 已删除或未激活的用户同样视为不存在
func (s *Store) FindUser(ctx context.Context, id string) (*model.User, error) {
	var u model.User
	err := s.db.WithContext(ctx).
		Where("id = ? AND is_deleted = ? AND active = ?", id, false, true).
		First(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// SaveWallet 只在用户尚未开通钱包时写入，条件更新保证并发开通只有一个成功
func (s *Store) SaveWallet(ctx context.Context, userID string, w model.Wallet) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).
		Where("id = ? AND (ethereum_address IS NULL OR ethereum_address = '')", userID).
		Updates(map[string]interface{}{
			"ethereum_address": w.EthereumAddress,
			"ethereum_account": w.EthereumAccount,
			"bitcoin_address":  w.BitcoinAddress,
			"bitcoin_account":  w.BitcoinAccount,
			"updated_at":       time.Now(),
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrWalletExists
	}
	return nil
}

// IsApproved 查询 owner 是否已对 spender 授权过 token
func (s *Store) IsApproved(ctx context.Context, owner, token, spender string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.ApprovedAddress{}).
		Where("owner = ? AND token = ? AND spender = ?", owner, token, spender).
		Count(&count).Error
	return count > 0, err
}

// MarkApproved 幂等写入；唯一索引冲突时忽略
func (s *Store) MarkApproved(ctx context.Context, owner, token, spender, txHash string) error {
	row := model.ApprovedAddress{Owner: owner, Token: token, Spender: spender, TxHash: txHash}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&row).Error
}

func (s *Store) CreateTransfer(ctx context.Context, t *model.Transfer) error {
	return s.db.WithContext(ctx).Omit("Legs").Create(t).Error
}

// SaveTransfer 更新转账记录并在同一事务中写入 outbox 事件
// expected 为调用方读到的状态，用作乐观锁
func (s *Store) SaveTransfer(ctx context.Context, t *model.Transfer, expected model.TransferState, events ...event.Envelope) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&model.Transfer{}).
			Where("id = ? AND state = ?", t.ID, expected).
			Updates(map[string]interface{}{
				"state":            t.State,
				"recipient_amount": t.RecipientAmount,
				"subsidy_amount":   t.SubsidyAmount,
				"failure_code":     t.FailureCode,
				"failure_reason":   t.FailureReason,
				"failure_detail":   t.FailureDetail,
				"partial_failure":  t.PartialFailure,
				"updated_at":       time.Now(),
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return fmt.Errorf("%w: transfer %s is not %s", ErrStaleState, t.ID, expected)
		}

		for _, ev := range events {
			if err := model.CreateOutboxMessage(tx, ev.Topic, t.ID, ev.ID, ev.Payload); err != nil {
				return err
			}
		}
		return nil
	})
}

// GetTransfer 按 id 读取，userID 非空时限定归属
func (s *Store) GetTransfer(ctx context.Context, id, userID string) (*model.Transfer, error) {
	q := s.db.WithContext(ctx).Preload("Legs", func(db *gorm.DB) *gorm.DB {
		return db.Order("id ASC")
	}).Where("id = ?", id)
	if userID != "" {
		q = q.Where("user_id = ?", userID)
	}

	var t model.Transfer
	err := q.First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (s *Store) CreateLeg(ctx context.Context, leg *model.PendingTransaction) error {
	return s.db.WithContext(ctx).Create(leg).Error
}

func (s *Store) SaveLeg(ctx context.Context, leg *model.PendingTransaction) error {
	return s.db.WithContext(ctx).Save(leg).Error
}

// ListSubmittedLegs 对账用：submitted 超过 olderThan 仍未确认的 leg
func (s *Store) ListSubmittedLegs(ctx context.Context, olderThan time.Time, limit int) ([]model.PendingTransaction, error) {
	var legs []model.PendingTransaction
	err := s.db.WithContext(ctx).
		Where("status = ? AND submitted_at < ?", model.TxSubmitted, olderThan).
		Order("id ASC").
		Limit(limit).
		Find(&legs).Error
	return legs, err
}

// PendingOutbox relay 轮询用
func (s *Store) PendingOutbox(ctx context.Context, limit int) ([]model.OutboxMessage, error) {
	var msgs []model.OutboxMessage
	err := s.db.WithContext(ctx).
		Where("status = ?", "PENDING").
		Order("id ASC").
		Limit(limit).
		Find(&msgs).Error
	return msgs, err
}

func (s *Store) MarkOutboxSent(ctx context.Context, id uint64) error {
	return s.db.WithContext(ctx).Model(&model.OutboxMessage{}).
		Where("id = ?", id).
		Update("status", "SENT").Error
}

func (s *Store) CountPendingOutbox(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&model.OutboxMessage{}).Where("status = ?", "PENDING").Count(&n).Error
	return n, err
}
