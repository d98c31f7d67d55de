package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"wallet-relay/internal/event"
	"wallet-relay/internal/model"
	"wallet-relay/pkg/errno"
	"wallet-relay/pkg/logger"
	"wallet-relay/pkg/monitor"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"go.uber.org/zap"
)

// Repository 对账任务需要的读写
type Repository interface {
	ListSubmittedLegs(ctx context.Context, olderThan time.Time, limit int) ([]model.PendingTransaction, error)
	SaveLeg(ctx context.Context, leg *model.PendingTransaction) error
	GetTransfer(ctx context.Context, id, userID string) (*model.Transfer, error)
	SaveTransfer(ctx context.Context, t *model.Transfer, expected model.TransferState, events ...event.Envelope) error
}

type ReceiptReader interface {
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// Result 一轮对账的统计
type Result struct {
	Checked   int `json:"checked"`
	Confirmed int `json:"confirmed"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
}

// Resolver 处理回执超时后停留在 submitted 的 leg
// 只读链上回执并修正记录，从不重新广播
type Resolver struct {
	repo   Repository
	chain  ReceiptReader
	minAge time.Duration
	batch  int
	now    func() time.Time
}

func NewResolver(repo Repository, chain ReceiptReader, minAge time.Duration, batch int) *Resolver {
	if batch <= 0 {
		batch = 100
	}
	return &Resolver{repo: repo, chain: chain, minAge: minAge, batch: batch, now: time.Now}
}

func (r *Resolver) Run(ctx context.Context) (Result, error) {
	var res Result
	legs, err := r.repo.ListSubmittedLegs(ctx, r.now().Add(-r.minAge), r.batch)
	if err != nil {
		return res, fmt.Errorf("list submitted legs: %w", err)
	}

	for i := range legs {
		if ctx.Err() != nil {
			return res, ctx.Err()
		}
		leg := &legs[i]
		res.Checked++

		receipt, err := r.chain.TransactionReceipt(ctx, common.HexToHash(leg.TxHash))
		if errors.Is(err, ethereum.NotFound) || (err == nil && receipt == nil) {
			res.Pending++
			continue
		}
		if err != nil {
			logger.Warn("reconcile: receipt lookup failed", zap.String("tx_hash", leg.TxHash), zap.Error(err))
			res.Pending++
			continue
		}

		if err := r.settleLeg(ctx, leg, receipt); err != nil {
			logger.Error("reconcile: settle leg failed", zap.Uint64("leg_id", leg.ID), zap.Error(err))
			continue
		}
		if leg.Status == model.TxConfirmed {
			res.Confirmed++
		} else {
			res.Failed++
		}
	}

	if res.Checked > 0 {
		logger.Info("reconcile round finished",
			zap.Int("checked", res.Checked),
			zap.Int("confirmed", res.Confirmed),
			zap.Int("failed", res.Failed),
			zap.Int("pending", res.Pending))
	}
	return res, nil
}

func (r *Resolver) settleLeg(ctx context.Context, leg *model.PendingTransaction, receipt *types.Receipt) error {
	now := r.now()
	if receipt.BlockNumber != nil {
		leg.BlockNumber = receipt.BlockNumber.Uint64()
	}
	if receipt.Status == types.ReceiptStatusSuccessful {
		leg.Status = model.TxConfirmed
		leg.ConfirmedAt = &now
	} else {
		leg.Status = model.TxFailed
		leg.FailureReason = fmt.Sprintf("reverted in block %d", leg.BlockNumber)
	}
	if err := r.repo.SaveLeg(ctx, leg); err != nil {
		return err
	}
	monitor.Business.ReconciledTotal.WithLabelValues(string(leg.Status)).Inc()

	t, err := r.repo.GetTransfer(ctx, leg.TransferID, "")
	if err != nil {
		return fmt.Errorf("load transfer %s: %w", leg.TransferID, err)
	}
	// 用刚更新的 leg 覆盖预加载的旧值
	for i := range t.Legs {
		if t.Legs[i].ID == leg.ID {
			t.Legs[i] = *leg
		}
	}
	return r.settleTransfer(ctx, t, leg)
}

// settleTransfer 根据 leg 的最终结果推进转账
func (r *Resolver) settleTransfer(ctx context.Context, t *model.Transfer, leg *model.PendingTransaction) error {
	log := logger.With(zap.String("transfer_id", t.ID), zap.String("leg", string(leg.Leg)))
	prev := t.State

	switch {
	case leg.Leg == model.LegPrimary && prev == model.StateSubmitted:
		if leg.Status == model.TxConfirmed {
			t.State = model.StateConfirmed
			log.Info("reconcile: transfer confirmed")
			return r.repo.SaveTransfer(ctx, t, prev, event.ForTransfer(event.TypeConfirmed, t, t.Legs))
		}
		t.State = model.StateFailed
		t.FailureCode = errno.ErrOnChainRevert.Code
		t.FailureReason = errno.ErrOnChainRevert.Message
		t.FailureDetail = leg.FailureReason
		var events []event.Envelope
		if subsidySettled(t.Legs) {
			t.PartialFailure = true
			monitor.Business.PartialFailureTotal.Inc()
			events = append(events, event.ForTransfer(event.TypePartialFailure, t, t.Legs))
		}
		events = append(events, event.ForTransfer(event.TypeFailed, t, t.Legs))
		log.Warn("reconcile: transfer failed", zap.Bool("partial", t.PartialFailure))
		return r.repo.SaveTransfer(ctx, t, prev, events...)

	case isSubsidyLeg(leg.Leg) && leg.Status == model.TxConfirmed && prev == model.StateFailed && !t.PartialFailure:
		// 补贴 leg 超时后才上链，而转账已经失败
		t.PartialFailure = true
		monitor.Business.PartialFailureTotal.Inc()
		log.Warn("reconcile: late subsidy settlement on failed transfer")
		return r.repo.SaveTransfer(ctx, t, prev, event.ForTransfer(event.TypePartialFailure, t, t.Legs))
	}
	return nil
}

func isSubsidyLeg(l model.Leg) bool {
	for _, s := range model.SubsidyLegs {
		if l == s {
			return true
		}
	}
	return false
}

func subsidySettled(legs []model.PendingTransaction) bool {
	for _, l := range legs {
		if l.Status == model.TxConfirmed && isSubsidyLeg(l.Leg) {
			return true
		}
	}
	return false
}
