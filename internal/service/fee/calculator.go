package fee

import (
	"context"
	"fmt"
	"math/big"

	"wallet-relay/internal/chain"
	"wallet-relay/internal/oracle"
	"wallet-relay/pkg/errno"

	"github.com/shopspring/decimal"
)

// divPrecision 中间结果保留的小数位，足够覆盖 18 位精度的 token
const divPrecision = 40

// Calculator 在 gas 成本 (wei) 和 token 最小单位之间换算
// 每次调用都重新取价，不缓存
type Calculator struct {
	prices oracle.PriceSource
}

func NewCalculator(prices oracle.PriceSource) *Calculator {
	return &Calculator{prices: prices}
}

// GasCostWei gasLimit * gasPrice
func GasCostWei(gasLimit uint64, gasPriceWei *big.Int) *big.Int {
	return new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPriceWei)
}

// TokenCostOfGas 计算支付 gasLimit*gasPrice 所需的 token 数量 (最小单位)，向上取整
func (c *Calculator) TokenCostOfGas(ctx context.Context, gasLimit uint64, gasPriceWei *big.Int, token chain.Token) (*big.Int, error) {
	if gasPriceWei == nil || gasPriceWei.Sign() < 0 {
		return nil, fmt.Errorf("invalid gas price %v", gasPriceWei)
	}
	weiCost := GasCostWei(gasLimit, gasPriceWei)
	if token.IsNative() {
		return weiCost, nil
	}

	ethUsd, tokenUsd, err := c.rates(ctx, token)
	if err != nil {
		return nil, err
	}

	units := decimal.NewFromBigInt(weiCost, -18).
		Mul(ethUsd).
		DivRound(tokenUsd, divPrecision).
		Shift(token.Decimals).
		Ceil()
	return units.BigInt(), nil
}

// WeiCostOfToken TokenCostOfGas 的逆运算：tokenUnits 能覆盖多少 wei 的 gas，向下取整
func (c *Calculator) WeiCostOfToken(ctx context.Context, tokenUnits *big.Int, token chain.Token) (*big.Int, error) {
	if tokenUnits == nil || tokenUnits.Sign() < 0 {
		return nil, fmt.Errorf("invalid token amount %v", tokenUnits)
	}
	if token.IsNative() {
		return new(big.Int).Set(tokenUnits), nil
	}

	ethUsd, tokenUsd, err := c.rates(ctx, token)
	if err != nil {
		return nil, err
	}

	wei := decimal.NewFromBigInt(tokenUnits, -token.Decimals).
		Mul(tokenUsd).
		DivRound(ethUsd, divPrecision).
		Shift(18).
		Floor()
	return wei.BigInt(), nil
}

func (c *Calculator) rates(ctx context.Context, token chain.Token) (decimal.Decimal, decimal.Decimal, error) {
	ethUsd, err := c.price(ctx, chain.Ether.PriceID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	tokenUsd, err := c.price(ctx, token.PriceID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return ethUsd, tokenUsd, nil
}

// price 零价或负价同样视为不可用，不能拿默认值继续
func (c *Calculator) price(ctx context.Context, priceID string) (decimal.Decimal, error) {
	p, err := c.prices.USDPrice(ctx, priceID)
	if err != nil {
		if errno.From(err).Code == errno.ErrQuoteUnavailable.Code {
			return decimal.Zero, err
		}
		return decimal.Zero, errno.ErrQuoteUnavailable.WithCause(err)
	}
	if !p.IsPositive() {
		return decimal.Zero, errno.ErrQuoteUnavailable.WithCause(fmt.Errorf("price for %s is %s", priceID, p))
	}
	return p, nil
}
