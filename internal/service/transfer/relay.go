package transfer

import (
	"context"
	"fmt"
	"math/big"

	"wallet-relay/internal/chain"
	"wallet-relay/internal/model"
	"wallet-relay/internal/service/account"
	"wallet-relay/internal/service/fee"
	"wallet-relay/pkg/errno"
	"wallet-relay/pkg/logger"
	"wallet-relay/pkg/monitor"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
)

// subsidyPlan 发送方 ETH 不足以支付 gas 时，由流动性账户代付、收取等值 token
type subsidyPlan struct {
	needed bool
	// approved 发送方已授权流动性账户划转该 token
	approved bool
	// senderGas 发送方自己要发的交易 (主交易及 router 授权) 的 gas 总量
	senderGas  uint64
	ethBalance *big.Int
	units      *big.Int
	liquidity  *account.Account
}

// planSubsidy 只读报价，不产生任何交易
// 补贴覆盖整个中继流程的 gas：collect 和 forward 由流动性账户发出，未授权时再加上 funding 和 approve
func (o *Orchestrator) planSubsidy(ctx context.Context, token chain.Token, sender common.Address, senderGas uint64, gasPrice, amount *big.Int) (*subsidyPlan, error) {
	ethBal, err := o.backend.BalanceAt(ctx, sender, nil)
	if err != nil {
		return nil, chain.ProviderError("eth balance", err)
	}
	sp := &subsidyPlan{senderGas: senderGas, ethBalance: ethBal, units: big.NewInt(0)}
	if ethBal.Cmp(fee.GasCostWei(senderGas, gasPrice)) >= 0 {
		return sp, nil
	}

	liq, err := o.accounts.ResolveLiquidityAccount()
	if err != nil {
		return nil, err
	}
	approved, err := o.isApproved(ctx, sender, token.Address, liq.Address, amount)
	if err != nil {
		return nil, err
	}

	gl := o.cfg.GasLimits
	total := senderGas + gl.TransferFrom + gl.EthTransfer
	if !approved {
		total += gl.EthTransfer + gl.Erc20Approve
	}
	units, err := o.fees.TokenCostOfGas(ctx, total, gasPrice, token)
	if err != nil {
		return nil, err
	}

	sp.needed = true
	sp.approved = approved
	sp.units = units
	sp.liquidity = liq
	return sp, nil
}

// isApproved 先查授权表，再看链上 allowance 是否已覆盖 need；链上已足够时补记授权表
func (o *Orchestrator) isApproved(ctx context.Context, owner, token, spender common.Address, need *big.Int) (bool, error) {
	ok, err := o.repo.IsApproved(ctx, owner.Hex(), token.Hex(), spender.Hex())
	if err != nil {
		return false, errno.ErrDatabase.WithCause(err)
	}
	if ok {
		return true, nil
	}
	allowance, err := chain.Allowance(ctx, o.backend, token, owner, spender)
	if err != nil {
		return false, err
	}
	if allowance.Cmp(need) < 0 {
		return false, nil
	}
	if err := o.repo.MarkApproved(ctx, owner.Hex(), token.Hex(), spender.Hex(), ""); err != nil {
		logger.Warn("mark approved failed", zap.String("owner", owner.Hex()), zap.Error(err))
	}
	return true, nil
}

// chargeSplit 按收费方式拆分金额
// 返回实际发出的数量和发送方需要持有的 token 总量
func chargeSplit(amount, subsidy *big.Int, chargeFromAmount bool) (send, required *big.Int, err error) {
	if subsidy.Cmp(amount) > 0 {
		return nil, nil, errno.ErrChargeExceedsAmount.WithCause(fmt.Errorf("subsidy %s exceeds amount %s", subsidy, amount))
	}
	if chargeFromAmount {
		send = new(big.Int).Sub(amount, subsidy)
		if send.Sign() <= 0 {
			return nil, nil, errno.ErrChargeExceedsAmount.WithCause(fmt.Errorf("nothing left after subsidy %s", subsidy))
		}
		return send, new(big.Int).Set(amount), nil
	}
	return new(big.Int).Set(amount), new(big.Int).Add(amount, subsidy), nil
}

// relay 执行补贴中继：(funding + approve) -> collect -> forward
// 任一 leg 失败立即返回，不再继续后续 leg
func (r *run) relay(ctx context.Context, token chain.Token, sender *account.Account, sp *subsidyPlan) error {
	if !sp.needed {
		return nil
	}
	gl := r.o.cfg.GasLimits
	liq := sp.liquidity

	if !sp.approved {
		if err := r.approve(ctx, token, sender, liq.Address, sp, model.LegApprove); err != nil {
			return err
		}
	}

	collect, err := chain.PackTransferFrom(sender.Address, liq.Address, sp.units)
	if err != nil {
		return errno.InternalServerError.WithCause(err)
	}
	if _, err := r.submit(ctx, legSpec{
		leg:      model.LegSubsidyCollect,
		from:     liq,
		to:       token.Address,
		data:     collect,
		gasLimit: gl.TransferFrom,
	}); err != nil {
		return err
	}
	monitor.Business.SubsidyAmountTotal.WithLabelValues(token.Symbol).Add(token.FromUnits(sp.units).InexactFloat64())

	if _, err := r.submit(ctx, legSpec{
		leg:      model.LegSubsidyForward,
		from:     liq,
		to:       sender.Address,
		value:    fee.GasCostWei(sp.senderGas, r.gasPrice),
		gasLimit: gl.EthTransfer,
	}); err != nil {
		return err
	}
	r.log.Info("subsidy relayed",
		zap.String("currency", token.Symbol),
		zap.String("units", sp.units.String()),
		zap.String("liquidity", liq.Address.Hex()))
	return nil
}

// approve 发送方授权 spender 无限额度；发送方连授权的 gas 都没有时先由流动性账户垫付差额
func (r *run) approve(ctx context.Context, token chain.Token, sender *account.Account, spender common.Address, sp *subsidyPlan, leg model.Leg) error {
	gl := r.o.cfg.GasLimits
	approveCost := fee.GasCostWei(gl.Erc20Approve, r.gasPrice)
	if sp != nil && sp.liquidity != nil && sp.ethBalance.Cmp(approveCost) < 0 {
		shortfall := new(big.Int).Sub(approveCost, sp.ethBalance)
		if _, err := r.submit(ctx, legSpec{
			leg:      model.LegApprovalFunding,
			from:     sp.liquidity,
			to:       sender.Address,
			value:    shortfall,
			gasLimit: gl.EthTransfer,
		}); err != nil {
			return err
		}
		sp.ethBalance = new(big.Int).Set(approveCost)
	}

	data, err := chain.PackApprove(spender, chain.MaxAllowance)
	if err != nil {
		return errno.InternalServerError.WithCause(err)
	}
	confirmed, err := r.submit(ctx, legSpec{
		leg:      leg,
		from:     sender,
		to:       token.Address,
		data:     data,
		gasLimit: gl.Erc20Approve,
	})
	if err != nil {
		return err
	}
	if sp != nil {
		sp.ethBalance.Sub(sp.ethBalance, approveCost)
	}
	if err := r.o.repo.MarkApproved(ctx, sender.Address.Hex(), token.Address.Hex(), spender.Hex(), confirmed.TxHash); err != nil {
		r.log.Warn("mark approved failed", zap.String("spender", spender.Hex()), zap.Error(err))
	}
	return nil
}
