package oracle

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"wallet-relay/pkg/errno"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoinGecko_USDPrice(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		want    string
		wantErr bool
	}{
		{"number", http.StatusOK, `{"usd-coin":{"usd":0.9998}}`, "0.9998", false},
		{"quoted number", http.StatusOK, `{"usd-coin":{"usd":"1.0001"}}`, "1.0001", false},
		{"http error", http.StatusTooManyRequests, `{"status":{"error_code":429}}`, "", true},
		{"missing id", http.StatusOK, `{}`, "", true},
		{"non numeric", http.StatusOK, `{"usd-coin":{"usd":"n/a"}}`, "", true},
		{"zero", http.StatusOK, `{"usd-coin":{"usd":0}}`, "", true},
		{"garbage", http.StatusOK, `<html>`, "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/simple/price", r.URL.Path)
				assert.Equal(t, "usd-coin", r.URL.Query().Get("ids"))
				assert.Equal(t, "usd", r.URL.Query().Get("vs_currencies"))
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			c := NewCoinGecko(Config{BaseURL: srv.URL})
			price, err := c.USDPrice(context.Background(), "usd-coin")
			if tt.wantErr {
				assert.ErrorIs(t, err, errno.ErrQuoteUnavailable)
				assert.True(t, price.IsZero())
				return
			}
			require.NoError(t, err)
			assert.True(t, decimal.RequireFromString(tt.want).Equal(price), "got %s", price)
		})
	}
}

func TestCoinGecko_NoCache(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		_, _ = w.Write([]byte(`{"ethereum":{"usd":2000}}`))
	}))
	defer srv.Close()

	c := NewCoinGecko(Config{BaseURL: srv.URL})
	for i := 0; i < 3; i++ {
		_, err := c.USDPrice(context.Background(), "ethereum")
		require.NoError(t, err)
	}
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestCoinGecko_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	c := NewCoinGecko(Config{BaseURL: srv.URL})
	_, err := c.USDPrice(context.Background(), "ethereum")
	assert.ErrorIs(t, err, errno.ErrQuoteUnavailable)
}
