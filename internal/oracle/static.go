package oracle

import (
	"context"
	"fmt"

	"wallet-relay/pkg/errno"

	"github.com/shopspring/decimal"
)

// Static 固定价格表，用于本地开发 (oracle.base_url=static) 和测试
type Static map[string]decimal.Decimal

func (s Static) USDPrice(_ context.Context, priceID string) (decimal.Decimal, error) {
	p, ok := s[priceID]
	if !ok || !p.IsPositive() {
		return decimal.Zero, errno.ErrQuoteUnavailable.WithCause(fmt.Errorf("no static price for %s", priceID))
	}
	return p, nil
}
