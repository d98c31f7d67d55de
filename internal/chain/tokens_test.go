package chain

import (
	"math/big"
	"testing"

	"wallet-relay/pkg/config"
	"wallet-relay/pkg/errno"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const usdcHex = "0x07865c6E87B9F70255377e024ace6630C1Eaa37F"

func TestNewRegistry(t *testing.T) {
	r, err := NewRegistry(map[string]config.TokenConfig{
		"usdc": {Address: usdcHex, Decimals: 6, PriceID: "usd-coin"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"USDC"}, r.Symbols())

	tok, err := r.Lookup(" usdc ")
	require.NoError(t, err)
	assert.False(t, tok.IsNative())
	assert.Equal(t, big.NewInt(1_500_000), tok.ToUnits(decimal.RequireFromString("1.5000009")))

	_, err = r.Lookup("DAI")
	assert.ErrorIs(t, err, errno.ErrCurrencyNotFound)
}

func TestNewRegistry_RejectsBadConfig(t *testing.T) {
	tests := []struct {
		name string
		tc   config.TokenConfig
	}{
		{"bad address", config.TokenConfig{Address: "0x123", Decimals: 6, PriceID: "x"}},
		{"zero address", config.TokenConfig{Address: "0x0000000000000000000000000000000000000000", Decimals: 18, PriceID: "ethereum"}},
		{"decimals", config.TokenConfig{Address: usdcHex, Decimals: 40, PriceID: "x"}},
		{"price id", config.TokenConfig{Address: usdcHex, Decimals: 6}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewRegistry(map[string]config.TokenConfig{"tok": tt.tc})
			assert.Error(t, err)
		})
	}
}
