package transfer

import (
	"context"
	"fmt"

	"wallet-relay/internal/chain"
	"wallet-relay/internal/model"
	"wallet-relay/internal/service/fee"
	"wallet-relay/internal/service/swap"
	"wallet-relay/pkg/errno"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Quote 下单前的费用预估，不落库、不签名
type Quote struct {
	Kind            model.TransferKind `json:"kind"`
	Currency        string             `json:"currency"`
	Amount          decimal.Decimal    `json:"amount"`
	GasPriceWei     string             `json:"gas_price_wei"`
	GasLimit        uint64             `json:"gas_limit"`
	GasCost         decimal.Decimal    `json:"gas_cost_eth"`
	SubsidyRequired bool               `json:"subsidy_required"`
	ApprovalNeeded  bool               `json:"approval_needed"`
	SubsidyAmount   decimal.Decimal    `json:"subsidy_amount"`
	RecipientAmount decimal.Decimal    `json:"recipient_amount"`
}

// Quote 按 send-erc20 / erc20-to-eth 的规则预估补贴
func (o *Orchestrator) Quote(ctx context.Context, kind model.TransferKind, req Request) (*Quote, error) {
	if kind != model.KindSendErc20 && kind != model.KindErc20ToEth {
		return nil, errno.ErrUnsupportedRoute.WithCause(fmt.Errorf("quote is not available for %s", kind))
	}
	token, err := o.erc20Token(req.Currency)
	if err != nil {
		return nil, err
	}
	amount, err := positiveUnits(token, req.Amount)
	if err != nil {
		return nil, err
	}
	sender, err := o.accounts.ResolveAddress(ctx, req.UserID)
	if err != nil {
		return nil, err
	}
	gasPrice, err := o.quoteGasPrice(ctx)
	if err != nil {
		return nil, err
	}

	q := &Quote{Kind: kind, Currency: token.Symbol, Amount: req.Amount, GasPriceWei: gasPrice.String()}
	charge := req.ChargeFromAmount
	var plan *swap.Plan
	route := []common.Address{token.Address, o.router.WETH()}

	switch kind {
	case model.KindSendErc20:
		// 未给收款地址时用发送方自己估算 gas
		to := sender
		if req.To != "" {
			if to, err = parseRecipient(req.To); err != nil {
				return nil, err
			}
		}
		data, err := chain.PackTransfer(to, amount)
		if err != nil {
			return nil, errno.InternalServerError.WithCause(err)
		}
		q.GasLimit = o.estimateGas(ctx, sender, token.Address, nil, data, o.cfg.GasLimits.Erc20Transfer)
	default:
		if token.Address == o.router.WETH() {
			return nil, errno.ErrUnsupportedRoute.WithCause(fmt.Errorf("%s is the wrapped native token", token.Symbol))
		}
		charge = true
		router := o.router.Router()
		approved, err := o.isApproved(ctx, sender, token.Address, router, amount)
		if err != nil {
			return nil, err
		}
		if plan, err = o.router.NewPlan(ctx, route, amount); err != nil {
			return nil, err
		}
		data, _, err := o.router.BuildSwapCall(plan, swap.ExactInput, sender)
		if err != nil {
			return nil, err
		}
		q.GasLimit = o.estimateGas(ctx, sender, router, nil, data, o.cfg.GasLimits.Swap)
		if !approved {
			q.ApprovalNeeded = true
			q.GasLimit += o.cfg.GasLimits.Erc20Approve
		}
	}
	q.GasCost = chain.Ether.FromUnits(fee.GasCostWei(q.GasLimit, gasPrice))

	sp, err := o.planSubsidy(ctx, token, sender, q.GasLimit, gasPrice, amount)
	if err != nil {
		return nil, err
	}
	send, _, err := chargeSplit(amount, sp.units, charge)
	if err != nil {
		return nil, err
	}
	q.SubsidyRequired = sp.needed
	q.SubsidyAmount = token.FromUnits(sp.units)
	if sp.needed && !sp.approved {
		q.ApprovalNeeded = true
	}

	if kind == model.KindSendErc20 {
		q.RecipientAmount = token.FromUnits(send)
		return q, nil
	}
	if sp.needed {
		if plan, err = o.router.NewPlan(ctx, route, send); err != nil {
			return nil, err
		}
	}
	q.RecipientAmount = chain.Ether.FromUnits(plan.MinimumAmountOut)
	return q, nil
}
