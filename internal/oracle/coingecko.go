package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"wallet-relay/pkg/errno"
	"wallet-relay/pkg/logger"
	"wallet-relay/pkg/monitor"

	"github.com/shopspring/decimal"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.coingecko.com/api/v3"
	defaultTimeout = 10 * time.Second
)

// PriceSource 现货价格来源：coingecko id -> USD 价格
// 实现不得缓存结果，价格在请求之间会漂移
type PriceSource interface {
	USDPrice(ctx context.Context, priceID string) (decimal.Decimal, error)
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	RPS     float64
}

// CoinGecko /simple/price 客户端，带熔断和限流
type CoinGecko struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker
	limiter    *rate.Limiter
}

func NewCoinGecko(cfg Config) *CoinGecko {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}

	st := gobreaker.Settings{
		Name:        "CoinGecko",
		MaxRequests: 1,
		Interval:    30 * time.Second,
		Timeout:     20 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}

	return &CoinGecko{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:     cfg.APIKey,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    gobreaker.NewCircuitBreaker(st),
		limiter:    rate.NewLimiter(limit, 1),
	}
}

// simplePriceResponse {"usd-coin":{"usd":1.0}}
type simplePriceResponse map[string]map[string]json.RawMessage

// USDPrice 任何失败 (网络、非 2xx、非数字、<=0) 都返回 ErrQuoteUnavailable
func (c *CoinGecko) USDPrice(ctx context.Context, priceID string) (decimal.Decimal, error) {
	start := time.Now()
	price, err := c.fetch(ctx, priceID)

	result := "ok"
	if err != nil {
		result = "error"
		logger.Warn("spot price unavailable", zap.String("price_id", priceID), zap.Error(err))
	}
	monitor.Business.OracleRequestDuration.WithLabelValues(result).Observe(time.Since(start).Seconds())

	if err != nil {
		return decimal.Zero, errno.ErrQuoteUnavailable.WithCause(err)
	}
	return price, nil
}

func (c *CoinGecko) fetch(ctx context.Context, priceID string) (decimal.Decimal, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return decimal.Zero, fmt.Errorf("rate limiter: %w", err)
	}

	out, err := c.breaker.Execute(func() (interface{}, error) {
		return c.do(ctx, priceID)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return out.(decimal.Decimal), nil
}

func (c *CoinGecko) do(ctx context.Context, priceID string) (decimal.Decimal, error) {
	q := url.Values{}
	q.Set("ids", priceID)
	q.Set("vs_currencies", "usd")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/simple/price?"+q.Encode(), nil)
	if err != nil {
		return decimal.Zero, err
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("request %s: %w", priceID, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return decimal.Zero, fmt.Errorf("read body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return decimal.Zero, fmt.Errorf("coingecko status %d: %s", resp.StatusCode, truncate(body, 128))
	}

	var parsed simplePriceResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return decimal.Zero, fmt.Errorf("decode response: %w", err)
	}
	raw, ok := parsed[priceID]["usd"]
	if !ok {
		return decimal.Zero, fmt.Errorf("no usd price for %s", priceID)
	}
	price, err := decimal.NewFromString(strings.Trim(string(raw), `"`))
	if err != nil {
		return decimal.Zero, fmt.Errorf("non-numeric price for %s: %s", priceID, raw)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price for %s: %s", priceID, price)
	}
	return price, nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
