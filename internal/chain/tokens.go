package chain

import (
	"fmt"
	"math/big"
	"sort"
	"strings"

	"wallet-relay/pkg/config"
	"wallet-relay/pkg/errno"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Token 一种支持的币种；ETH 为原生币，Address 为零地址
type Token struct {
	Symbol   string
	Address  common.Address
	Decimals int32
	PriceID  string // coingecko id
}

// Ether 原生 ETH
var Ether = Token{Symbol: "ETH", Decimals: 18, PriceID: "ethereum"}

func (t Token) IsNative() bool {
	return t.Address == (common.Address{})
}

// ToUnits 转成最小单位，多余精度截断
func (t Token) ToUnits(amount decimal.Decimal) *big.Int {
	return amount.Shift(t.Decimals).Truncate(0).BigInt()
}

// FromUnits 最小单位转回可读金额
func (t Token) FromUnits(units *big.Int) decimal.Decimal {
	return decimal.NewFromBigInt(units, -t.Decimals)
}

// Registry 支持的 ERC20 币种表
type Registry struct {
	tokens map[string]Token
}

// NewRegistry viper 会把 map key 转成小写，这里统一转回大写
func NewRegistry(cfg map[string]config.TokenConfig) (*Registry, error) {
	r := &Registry{tokens: make(map[string]Token, len(cfg))}
	for symbol, tc := range cfg {
		if !common.IsHexAddress(tc.Address) {
			return nil, fmt.Errorf("token %s: invalid address %q", symbol, tc.Address)
		}
		// 零地址保留给原生 ETH
		if common.HexToAddress(tc.Address) == (common.Address{}) {
			return nil, fmt.Errorf("token %s: zero address is reserved for ETH", symbol)
		}
		if tc.Decimals < 0 || tc.Decimals > 36 {
			return nil, fmt.Errorf("token %s: invalid decimals %d", symbol, tc.Decimals)
		}
		if tc.PriceID == "" {
			return nil, fmt.Errorf("token %s: price_id is required", symbol)
		}
		sym := strings.ToUpper(symbol)
		r.tokens[sym] = Token{
			Symbol:   sym,
			Address:  common.HexToAddress(tc.Address),
			Decimals: tc.Decimals,
			PriceID:  tc.PriceID,
		}
	}
	return r, nil
}

// Lookup 查找 ERC20 币种，未注册返回 ErrCurrencyNotFound
func (r *Registry) Lookup(symbol string) (Token, error) {
	t, ok := r.tokens[strings.ToUpper(strings.TrimSpace(symbol))]
	if !ok {
		return Token{}, errno.ErrCurrencyNotFound
	}
	return t, nil
}

// Symbols 按字母序返回
func (r *Registry) Symbols() []string {
	out := make([]string, 0, len(r.tokens))
	for s := range r.tokens {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
