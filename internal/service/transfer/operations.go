package transfer

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"wallet-relay/internal/chain"
	"wallet-relay/internal/event"
	"wallet-relay/internal/model"
	"wallet-relay/internal/service/account"
	"wallet-relay/internal/service/fee"
	"wallet-relay/internal/service/swap"
	"wallet-relay/internal/store"
	"wallet-relay/pkg/address"
	"wallet-relay/pkg/errno"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

func parseRecipient(to string) (common.Address, error) {
	addr, err := address.ParseETHAddress(to)
	if err != nil {
		return common.Address{}, errno.ErrBind.WithMessage("to must be a valid ethereum address")
	}
	return addr, nil
}

func positiveUnits(t chain.Token, amount decimal.Decimal) (*big.Int, error) {
	units := t.ToUnits(amount)
	if units.Sign() <= 0 {
		return nil, errno.ErrInvalidAmount.WithCause(fmt.Errorf("%s %s is below one base unit", amount, t.Symbol))
	}
	return units, nil
}

// erc20Token 查找 token 并排除原生 ETH
func (o *Orchestrator) erc20Token(currency string) (chain.Token, error) {
	token, err := o.tokens.Lookup(currency)
	if err != nil {
		return chain.Token{}, err
	}
	if token.IsNative() {
		return chain.Token{}, errno.ErrUnsupportedRoute.WithMessage("use send-eth for ETH transfers")
	}
	return token, nil
}

// swapToken swap 的另一侧不能是 WETH 本身
func (o *Orchestrator) swapToken(currency string) (chain.Token, error) {
	token, err := o.erc20Token(currency)
	if err != nil {
		return chain.Token{}, err
	}
	if token.Address == o.router.WETH() {
		return chain.Token{}, errno.ErrUnsupportedRoute.WithCause(fmt.Errorf("%s is the wrapped native token", token.Symbol))
	}
	return token, nil
}

// SendEth 发送 ETH，不涉及补贴；chargeFromAmount 时从金额中扣除 gas
func (o *Orchestrator) SendEth(ctx context.Context, req Request) (*Outcome, error) {
	to, err := parseRecipient(req.To)
	if err != nil {
		return nil, err
	}
	amount, err := positiveUnits(chain.Ether, req.Amount)
	if err != nil {
		return nil, err
	}
	sender, err := o.accounts.ResolveAccount(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	defer sender.Wipe()

	r, err := o.begin(ctx, model.KindSendEth, req, chain.Ether.Symbol, sender.Address, to)
	if err != nil {
		return nil, err
	}
	return r.finish(ctx, r.sendEth(ctx, sender, to, amount, req.ChargeFromAmount))
}

func (r *run) sendEth(ctx context.Context, sender *account.Account, to common.Address, amount *big.Int, chargeFromAmount bool) error {
	o := r.o
	gasPrice, err := o.quoteGasPrice(ctx)
	if err != nil {
		return err
	}
	r.gasPrice = gasPrice
	gas := o.estimateGas(ctx, sender.Address, to, amount, nil, o.cfg.GasLimits.EthTransfer)
	gasCost := fee.GasCostWei(gas, gasPrice)

	value := new(big.Int).Set(amount)
	required := new(big.Int).Add(amount, gasCost)
	if chargeFromAmount {
		if gasCost.Cmp(amount) >= 0 {
			return errno.ErrChargeExceedsAmount.WithCause(fmt.Errorf("gas cost %s wei exceeds amount %s wei", gasCost, amount))
		}
		value.Sub(value, gasCost)
		required.Set(amount)
		r.t.SubsidyAmount = chain.Ether.FromUnits(gasCost)
	}
	r.t.RecipientAmount = chain.Ether.FromUnits(value)

	balance, err := o.backend.BalanceAt(ctx, sender.Address, nil)
	if err != nil {
		return chain.ProviderError("eth balance", err)
	}
	if balance.Cmp(required) < 0 {
		return errno.ErrInsufficientFunds.WithCause(fmt.Errorf("have %s wei, need %s wei", balance, required))
	}
	if err := r.advance(ctx, model.StateBalanceChecked); err != nil {
		return err
	}
	if err := r.advance(ctx, model.StateSubsidyResolved); err != nil {
		return err
	}
	return r.primary(ctx, legSpec{
		from:     sender,
		to:       to,
		value:    value,
		gasLimit: gas,
	})
}

// SendErc20 发送 ERC20；发送方 ETH 不够付 gas 时走补贴中继
func (o *Orchestrator) SendErc20(ctx context.Context, req Request) (*Outcome, error) {
	token, err := o.erc20Token(req.Currency)
	if err != nil {
		return nil, err
	}
	to, err := parseRecipient(req.To)
	if err != nil {
		return nil, err
	}
	amount, err := positiveUnits(token, req.Amount)
	if err != nil {
		return nil, err
	}
	sender, err := o.accounts.ResolveAccount(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	defer sender.Wipe()

	r, err := o.begin(ctx, model.KindSendErc20, req, token.Symbol, sender.Address, to)
	if err != nil {
		return nil, err
	}
	return r.finish(ctx, r.sendErc20(ctx, token, sender, to, amount, req.ChargeFromAmount))
}

func (r *run) sendErc20(ctx context.Context, token chain.Token, sender *account.Account, to common.Address, amount *big.Int, chargeFromAmount bool) error {
	o := r.o
	gasPrice, err := o.quoteGasPrice(ctx)
	if err != nil {
		return err
	}
	r.gasPrice = gasPrice

	data, err := chain.PackTransfer(to, amount)
	if err != nil {
		return errno.InternalServerError.WithCause(err)
	}
	gas := o.estimateGas(ctx, sender.Address, token.Address, nil, data, o.cfg.GasLimits.Erc20Transfer)

	sp, err := o.planSubsidy(ctx, token, sender.Address, gas, gasPrice, amount)
	if err != nil {
		return err
	}
	send, required, err := chargeSplit(amount, sp.units, chargeFromAmount)
	if err != nil {
		return err
	}
	r.t.SubsidyAmount = token.FromUnits(sp.units)
	r.t.RecipientAmount = token.FromUnits(send)
	if send.Cmp(amount) != 0 {
		if data, err = chain.PackTransfer(to, send); err != nil {
			return errno.InternalServerError.WithCause(err)
		}
	}

	balance, err := chain.BalanceOf(ctx, o.backend, token.Address, sender.Address)
	if err != nil {
		return err
	}
	if balance.Cmp(required) < 0 {
		return errno.ErrInsufficientFunds.WithCause(fmt.Errorf("have %s %s units, need %s", balance, token.Symbol, required))
	}
	if err := r.advance(ctx, model.StateBalanceChecked); err != nil {
		return err
	}

	if err := r.relay(ctx, token, sender, sp); err != nil {
		return err
	}
	if err := r.advance(ctx, model.StateSubsidyResolved); err != nil {
		return err
	}
	return r.primary(ctx, legSpec{
		from:     sender,
		to:       token.Address,
		data:     data,
		gasLimit: gas,
	})
}

// EthToErc20 ETH 兑换 token，收款人为发送方自己
func (o *Orchestrator) EthToErc20(ctx context.Context, req Request) (*Outcome, error) {
	token, err := o.swapToken(req.Currency)
	if err != nil {
		return nil, err
	}
	amount, err := positiveUnits(chain.Ether, req.Amount)
	if err != nil {
		return nil, err
	}
	sender, err := o.accounts.ResolveAccount(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	defer sender.Wipe()

	r, err := o.begin(ctx, model.KindEthToErc20, req, token.Symbol, sender.Address, sender.Address)
	if err != nil {
		return nil, err
	}
	return r.finish(ctx, r.ethToErc20(ctx, token, sender, amount))
}

func (r *run) ethToErc20(ctx context.Context, token chain.Token, sender *account.Account, amount *big.Int) error {
	o := r.o
	gasPrice, err := o.quoteGasPrice(ctx)
	if err != nil {
		return err
	}
	r.gasPrice = gasPrice

	plan, err := o.router.NewPlan(ctx, []common.Address{o.router.WETH(), token.Address}, amount)
	if err != nil {
		return err
	}
	data, value, err := o.router.BuildSwapCall(plan, swap.ExactInput, sender.Address)
	if err != nil {
		return err
	}
	gas := o.estimateGas(ctx, sender.Address, o.router.Router(), value, data, o.cfg.GasLimits.Swap)
	r.t.RecipientAmount = token.FromUnits(plan.MinimumAmountOut)

	required := new(big.Int).Add(value, fee.GasCostWei(gas, gasPrice))
	balance, err := o.backend.BalanceAt(ctx, sender.Address, nil)
	if err != nil {
		return chain.ProviderError("eth balance", err)
	}
	if balance.Cmp(required) < 0 {
		return errno.ErrInsufficientFunds.WithCause(fmt.Errorf("have %s wei, need %s wei", balance, required))
	}
	if err := r.advance(ctx, model.StateBalanceChecked); err != nil {
		return err
	}
	if err := r.advance(ctx, model.StateSubsidyResolved); err != nil {
		return err
	}
	return r.primary(ctx, legSpec{
		from:     sender,
		to:       o.router.Router(),
		value:    value,
		data:     data,
		gasLimit: gas,
	})
}

// Erc20ToEth token 兑换 ETH。补贴总是从兑换金额中扣除
func (o *Orchestrator) Erc20ToEth(ctx context.Context, req Request) (*Outcome, error) {
	token, err := o.swapToken(req.Currency)
	if err != nil {
		return nil, err
	}
	amount, err := positiveUnits(token, req.Amount)
	if err != nil {
		return nil, err
	}
	sender, err := o.accounts.ResolveAccount(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	defer sender.Wipe()

	req.ChargeFromAmount = true
	r, err := o.begin(ctx, model.KindErc20ToEth, req, token.Symbol, sender.Address, sender.Address)
	if err != nil {
		return nil, err
	}
	return r.finish(ctx, r.erc20ToEth(ctx, token, sender, amount))
}

func (r *run) erc20ToEth(ctx context.Context, token chain.Token, sender *account.Account, amount *big.Int) error {
	o := r.o
	gasPrice, err := o.quoteGasPrice(ctx)
	if err != nil {
		return err
	}
	r.gasPrice = gasPrice

	router := o.router.Router()
	route := []common.Address{token.Address, o.router.WETH()}
	routerApproved, err := o.isApproved(ctx, sender.Address, token.Address, router, amount)
	if err != nil {
		return err
	}

	plan, err := o.router.NewPlan(ctx, route, amount)
	if err != nil {
		return err
	}
	data, _, err := o.router.BuildSwapCall(plan, swap.ExactInput, sender.Address)
	if err != nil {
		return err
	}
	swapGas := o.estimateGas(ctx, sender.Address, router, nil, data, o.cfg.GasLimits.Swap)
	senderGas := swapGas
	if !routerApproved {
		senderGas += o.cfg.GasLimits.Erc20Approve
	}

	sp, err := o.planSubsidy(ctx, token, sender.Address, senderGas, gasPrice, amount)
	if err != nil {
		return err
	}
	net, required, err := chargeSplit(amount, sp.units, true)
	if err != nil {
		return err
	}
	if sp.needed {
		// 按扣除补贴后的数量重新报价
		if plan, err = o.router.NewPlan(ctx, route, net); err != nil {
			return err
		}
		if data, _, err = o.router.BuildSwapCall(plan, swap.ExactInput, sender.Address); err != nil {
			return err
		}
	}
	r.t.SubsidyAmount = token.FromUnits(sp.units)
	r.t.RecipientAmount = chain.Ether.FromUnits(plan.MinimumAmountOut)

	balance, err := chain.BalanceOf(ctx, o.backend, token.Address, sender.Address)
	if err != nil {
		return err
	}
	if balance.Cmp(required) < 0 {
		return errno.ErrInsufficientFunds.WithCause(fmt.Errorf("have %s %s units, need %s", balance, token.Symbol, required))
	}
	if err := r.advance(ctx, model.StateBalanceChecked); err != nil {
		return err
	}

	if err := r.relay(ctx, token, sender, sp); err != nil {
		return err
	}
	if !routerApproved {
		if err := r.approve(ctx, token, sender, router, nil, model.LegRouterApprove); err != nil {
			return err
		}
	}
	if err := r.advance(ctx, model.StateSubsidyResolved); err != nil {
		return err
	}
	return r.primary(ctx, legSpec{
		from:     sender,
		to:       router,
		data:     data,
		gasLimit: swapGas,
	})
}

// primary 进入 submitted 后发出主交易，确认后落 confirmed 并写事件
func (r *run) primary(ctx context.Context, spec legSpec) error {
	if err := r.advance(ctx, model.StateSubmitted); err != nil {
		return err
	}
	spec.leg = model.LegPrimary
	if _, err := r.submit(ctx, spec); err != nil {
		return err
	}
	return r.confirm(ctx)
}

func (r *run) confirm(ctx context.Context) error {
	r.t.Legs = r.persistedLegs()
	return r.advance(ctx, model.StateConfirmed, event.ForTransfer(event.TypeConfirmed, r.t, r.t.Legs))
}

// Get 查询转账记录，只能查自己的
func (o *Orchestrator) Get(ctx context.Context, userID, id string) (*Outcome, error) {
	t, err := o.repo.GetTransfer(ctx, id, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errno.ErrTransferNotFound
	}
	if err != nil {
		return nil, errno.ErrDatabase.WithCause(err)
	}
	return OutcomeOf(t), nil
}
