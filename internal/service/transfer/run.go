package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"wallet-relay/internal/chain"
	"wallet-relay/internal/event"
	"wallet-relay/internal/model"
	"wallet-relay/internal/service/account"
	"wallet-relay/pkg/errno"
	"wallet-relay/pkg/logger"
	"wallet-relay/pkg/monitor"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// run 一次转账的执行上下文
type run struct {
	o        *Orchestrator
	t        *model.Transfer
	log      *zap.Logger
	gasPrice *big.Int
	legs     []*model.PendingTransaction
}

type legSpec struct {
	leg      model.Leg
	from     *account.Account
	to       common.Address
	value    *big.Int
	data     []byte
	gasLimit uint64
}

func (o *Orchestrator) begin(ctx context.Context, kind model.TransferKind, req Request, currency string, from, to common.Address) (*run, error) {
	t := &model.Transfer{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		Kind:             kind,
		Currency:         currency,
		Amount:           req.Amount,
		RecipientAmount:  decimal.Zero,
		SubsidyAmount:    decimal.Zero,
		ChargeFromAmount: req.ChargeFromAmount,
		FromAddress:      from.Hex(),
		ToAddress:        to.Hex(),
		State:            model.StateQuoting,
	}
	if err := o.repo.CreateTransfer(ctx, t); err != nil {
		return nil, errno.ErrDatabase.WithCause(err)
	}
	return &run{
		o: o,
		t: t,
		log: logger.With(
			zap.String("transfer_id", t.ID),
			zap.String("kind", string(kind)),
			zap.String("from", t.FromAddress),
		),
	}, nil
}

// advance 推进状态机，非法迁移直接报错
func (r *run) advance(ctx context.Context, next model.TransferState, events ...event.Envelope) error {
	prev := r.t.State
	if !prev.CanTransition(next) {
		return errno.InternalServerError.WithCause(fmt.Errorf("illegal transition %s -> %s", prev, next))
	}
	r.t.State = next
	if err := r.o.repo.SaveTransfer(ctx, r.t, prev, events...); err != nil {
		r.t.State = prev
		return errno.ErrDatabase.WithCause(err)
	}
	r.log.Debug("transfer state", zap.String("state", string(next)))
	return nil
}

func (r *run) persistedLegs() []model.PendingTransaction {
	out := make([]model.PendingTransaction, 0, len(r.legs))
	for _, l := range r.legs {
		out = append(out, *l)
	}
	return out
}

// subsidyMoved 补贴 leg 中是否已有上链成功的
func (r *run) subsidyMoved() bool {
	for _, l := range r.legs {
		if l.Status != model.TxConfirmed {
			continue
		}
		for _, s := range model.SubsidyLegs {
			if l.Leg == s {
				return true
			}
		}
	}
	return false
}

// finish 收尾：成功时落 confirmed，失败时落 failed 并按需标记部分失败
func (r *run) finish(ctx context.Context, cause error) (*Outcome, error) {
	r.t.Legs = r.persistedLegs()
	kind := string(r.t.Kind)
	if cause == nil {
		monitor.Business.TransferTotal.WithLabelValues(kind, "confirmed").Inc()
		r.log.Info("transfer confirmed", zap.String("recipient_amount", r.t.RecipientAmount.String()))
		return OutcomeOf(r.t), nil
	}

	// 用独立 ctx 落库，请求被取消时状态也要写进去
	ctx = context.WithoutCancel(ctx)

	// 主交易已广播但回执超时：保持 submitted，等对账任务收尾
	if errors.Is(cause, errno.ErrConfirmationPending) && r.t.State == model.StateSubmitted {
		monitor.Business.TransferTotal.WithLabelValues(kind, "pending").Inc()
		r.log.Warn("transfer confirmation pending", zap.Error(cause))
		return OutcomeOf(r.t), cause
	}

	if r.t.State.Terminal() {
		return OutcomeOf(r.t), cause
	}

	en := errno.From(cause)
	prev := r.t.State
	r.t.State = model.StateFailed
	r.t.FailureCode = en.Code
	r.t.FailureReason = en.Message
	r.t.FailureDetail = errno.Detail(cause)

	result := "failed"
	var events []event.Envelope
	if r.subsidyMoved() {
		r.t.PartialFailure = true
		result = "partial"
		monitor.Business.PartialFailureTotal.Inc()
		events = append(events, event.ForTransfer(event.TypePartialFailure, r.t, r.t.Legs))
	}
	events = append(events, event.ForTransfer(event.TypeFailed, r.t, r.t.Legs))

	if err := r.o.repo.SaveTransfer(ctx, r.t, prev, events...); err != nil {
		r.log.Error("persist failed transfer", zap.Error(err), zap.NamedError("cause", cause))
	}
	monitor.Business.TransferTotal.WithLabelValues(kind, result).Inc()

	if r.t.PartialFailure {
		r.log.Error("transfer partially settled", zap.Int("code", en.Code), zap.Error(cause))
		return OutcomeOf(r.t), errno.ErrPartialSettlement.WithCause(cause)
	}
	r.log.Warn("transfer failed", zap.Int("code", en.Code), zap.Error(cause))
	return OutcomeOf(r.t), cause
}

// quoteGasPrice 取 gas price 并检查上限
func (o *Orchestrator) quoteGasPrice(ctx context.Context) (*big.Int, error) {
	gp, err := o.backend.SuggestGasPrice(ctx)
	if err != nil {
		return nil, chain.ProviderError("suggest gas price", err)
	}
	if o.cfg.MaxGasPrice != nil && gp.Cmp(o.cfg.MaxGasPrice) > 0 {
		return nil, errno.ErrGasPriceTooHigh.WithCause(fmt.Errorf("gas price %s wei exceeds cap %s wei", gp, o.cfg.MaxGasPrice))
	}
	return gp, nil
}

// estimateGas 估算失败 (常见于授权尚未上链) 时使用配置的默认值
func (o *Orchestrator) estimateGas(ctx context.Context, from, to common.Address, value *big.Int, data []byte, fallback uint64) uint64 {
	gas, err := o.backend.EstimateGas(ctx, ethereum.CallMsg{From: from, To: &to, Value: value, Data: data})
	if err != nil || gas == 0 {
		logger.Debug("gas estimate fallback",
			zap.String("from", from.Hex()),
			zap.String("to", to.Hex()),
			zap.Uint64("gas", fallback),
			zap.Error(err))
		return fallback
	}
	return gas
}

// submit 构造、签名、广播一笔 leg 并等待回执
// 广播失败释放 nonce；广播成功后 nonce 一定提交，即使后续回执超时
func (r *run) submit(ctx context.Context, spec legSpec) (*model.PendingTransaction, error) {
	o := r.o
	value := spec.value
	if value == nil {
		value = big.NewInt(0)
	}

	lease, err := o.nonces.Acquire(ctx, spec.from.Address)
	if err != nil {
		return nil, errno.ErrProviderUnavailable.WithCause(err)
	}
	committed := false
	defer func() {
		if !committed {
			lease.Release()
		}
	}()

	to := spec.to
	tx := types.NewTx(&types.LegacyTx{
		Nonce:    lease.Nonce(),
		GasPrice: r.gasPrice,
		Gas:      spec.gasLimit,
		To:       &to,
		Value:    value,
		Data:     spec.data,
	})
	raw, err := tx.MarshalBinary()
	if err != nil {
		return nil, errno.InternalServerError.WithCause(err)
	}

	leg := &model.PendingTransaction{
		TransferID:  r.t.ID,
		Leg:         spec.leg,
		FromAddress: spec.from.Address.Hex(),
		ToAddress:   to.Hex(),
		Nonce:       lease.Nonce(),
		Value:       decimal.NewFromBigInt(value, 0),
		GasPrice:    decimal.NewFromBigInt(r.gasPrice, 0),
		GasLimit:    spec.gasLimit,
		RawPayload:  hexutil.Encode(raw),
		Status:      model.TxBuilt,
	}
	if err := o.repo.CreateLeg(ctx, leg); err != nil {
		return nil, errno.ErrDatabase.WithCause(err)
	}
	r.legs = append(r.legs, leg)
	log := r.log.With(zap.String("leg", string(spec.leg)), zap.Uint64("nonce", leg.Nonce))

	signed, err := spec.from.SignTx(tx, o.cfg.ChainID)
	if err != nil {
		r.failLeg(ctx, leg, err)
		return leg, errno.InternalServerError.WithCause(err)
	}
	signedRaw, err := signed.MarshalBinary()
	if err != nil {
		r.failLeg(ctx, leg, err)
		return leg, errno.InternalServerError.WithCause(err)
	}
	leg.SignedPayload = hexutil.Encode(signedRaw)
	leg.TxHash = signed.Hash().Hex()
	leg.Status = model.TxSigned
	r.saveLeg(ctx, leg)

	if err := o.backend.SendTransaction(ctx, signed); err != nil {
		r.failLeg(ctx, leg, err)
		log.Warn("broadcast failed", zap.Error(err))
		return leg, chain.ProviderError("broadcast "+string(spec.leg), err)
	}

	committed = true
	if err := lease.Commit(context.WithoutCancel(ctx)); err != nil {
		log.Warn("commit nonce failed", zap.Error(err))
	}
	now := time.Now()
	leg.Status = model.TxSubmitted
	leg.SubmittedAt = &now
	r.saveLeg(ctx, leg)
	monitor.Business.RelayLegTotal.WithLabelValues(string(spec.leg), string(model.TxSubmitted)).Inc()
	log.Info("leg submitted", zap.String("tx_hash", leg.TxHash))

	start := time.Now()
	receipt, err := chain.WaitReceipt(ctx, o.backend, signed.Hash(), o.cfg.ReceiptTimeout, o.cfg.PollInterval)
	monitor.Business.ReceiptWaitDuration.WithLabelValues(string(spec.leg)).Observe(time.Since(start).Seconds())
	if receipt != nil && receipt.BlockNumber != nil {
		leg.BlockNumber = receipt.BlockNumber.Uint64()
	}
	switch {
	case errors.Is(err, chain.ErrReceiptTimeout):
		log.Warn("receipt timeout", zap.String("tx_hash", leg.TxHash))
		return leg, errno.ErrConfirmationPending.WithCause(err)
	case err != nil:
		r.failLeg(ctx, leg, err)
		log.Warn("leg reverted", zap.String("tx_hash", leg.TxHash), zap.Error(err))
		return leg, err
	}

	confirmed := time.Now()
	leg.Status = model.TxConfirmed
	leg.ConfirmedAt = &confirmed
	r.saveLeg(ctx, leg)
	monitor.Business.RelayLegTotal.WithLabelValues(string(spec.leg), string(model.TxConfirmed)).Inc()
	log.Info("leg confirmed", zap.String("tx_hash", leg.TxHash), zap.Uint64("block", leg.BlockNumber))
	return leg, nil
}

func (r *run) failLeg(ctx context.Context, leg *model.PendingTransaction, cause error) {
	leg.Status = model.TxFailed
	leg.FailureReason = cause.Error()
	r.saveLeg(ctx, leg)
	monitor.Business.RelayLegTotal.WithLabelValues(string(leg.Leg), string(model.TxFailed)).Inc()
}

// saveLeg 广播之后的落库失败不中断流程，对账任务会按链上状态修正
func (r *run) saveLeg(ctx context.Context, leg *model.PendingTransaction) {
	if err := r.o.repo.SaveLeg(context.WithoutCancel(ctx), leg); err != nil {
		r.log.Error("save leg failed", zap.String("leg", string(leg.Leg)), zap.Error(err))
	}
}
