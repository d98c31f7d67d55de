package transfer

import (
	"context"
	"math/big"
	"time"

	"wallet-relay/internal/chain"
	"wallet-relay/internal/event"
	"wallet-relay/internal/model"
	"wallet-relay/internal/service/account"
	"wallet-relay/internal/service/nonce"
	"wallet-relay/internal/service/swap"
	"wallet-relay/pkg/config"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Repository 转账、leg 和授权表的持久化
type Repository interface {
	CreateTransfer(ctx context.Context, t *model.Transfer) error
	SaveTransfer(ctx context.Context, t *model.Transfer, expected model.TransferState, events ...event.Envelope) error
	GetTransfer(ctx context.Context, id, userID string) (*model.Transfer, error)
	CreateLeg(ctx context.Context, leg *model.PendingTransaction) error
	SaveLeg(ctx context.Context, leg *model.PendingTransaction) error
	IsApproved(ctx context.Context, owner, token, spender string) (bool, error)
	MarkApproved(ctx context.Context, owner, token, spender, txHash string) error
}

// Accounts 账户解锁
type Accounts interface {
	ResolveAccount(ctx context.Context, userID string) (*account.Account, error)
	ResolveAddress(ctx context.Context, userID string) (common.Address, error)
	ResolveLiquidityAccount() (*account.Account, error)
}

// FeeCalculator gas 成本换算成 token
type FeeCalculator interface {
	TokenCostOfGas(ctx context.Context, gasLimit uint64, gasPriceWei *big.Int, token chain.Token) (*big.Int, error)
}

// SwapRouter DEX 报价与调用编码
type SwapRouter interface {
	Router() common.Address
	WETH() common.Address
	NewPlan(ctx context.Context, route []common.Address, amountIn *big.Int) (*swap.Plan, error)
	BuildSwapCall(p *swap.Plan, dir swap.Direction, recipient common.Address) ([]byte, *big.Int, error)
}

type Config struct {
	ChainID        *big.Int
	GasLimits      config.GasLimits
	MaxGasPrice    *big.Int // nil 表示不设上限
	ReceiptTimeout time.Duration
	PollInterval   time.Duration
}

// ConfigFrom 从全局配置构造
func ConfigFrom(c config.ChainConfig) Config {
	cfg := Config{
		ChainID:        big.NewInt(c.ChainID),
		GasLimits:      c.GasLimits,
		ReceiptTimeout: c.ReceiptTimeout,
		PollInterval:   c.PollInterval,
	}
	if c.MaxGasPriceGwei > 0 {
		cfg.MaxGasPrice = new(big.Int).Mul(big.NewInt(c.MaxGasPriceGwei), big.NewInt(1_000_000_000))
	}
	return cfg
}

// Orchestrator 转账/兑换编排器
// 单个请求内严格串行：报价 -> 余额快照 -> 补贴 -> 主交易 -> 等回执
type Orchestrator struct {
	backend  chain.Backend
	accounts Accounts
	fees     FeeCalculator
	router   SwapRouter
	nonces   *nonce.Manager
	repo     Repository
	tokens   *chain.Registry
	cfg      Config
}

func NewOrchestrator(
	backend chain.Backend,
	accounts Accounts,
	fees FeeCalculator,
	router SwapRouter,
	nonces *nonce.Manager,
	repo Repository,
	tokens *chain.Registry,
	cfg Config,
) *Orchestrator {
	if cfg.ReceiptTimeout <= 0 {
		cfg.ReceiptTimeout = 3 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	return &Orchestrator{
		backend:  backend,
		accounts: accounts,
		fees:     fees,
		router:   router,
		nonces:   nonces,
		repo:     repo,
		tokens:   tokens,
		cfg:      cfg,
	}
}

// Request 一次 API 调用的入参，不落库
type Request struct {
	UserID           string
	Currency         string
	Amount           decimal.Decimal
	To               string
	ChargeFromAmount bool
}

// Outcome 返回给调用方的转账状态
type Outcome struct {
	TransferID      string              `json:"transfer_id"`
	Kind            model.TransferKind  `json:"kind"`
	State           model.TransferState `json:"state"`
	Currency        string              `json:"currency"`
	Amount          decimal.Decimal     `json:"amount"`
	RecipientAmount decimal.Decimal     `json:"recipient_amount"`
	SubsidyAmount   decimal.Decimal     `json:"subsidy_amount"`
	From            string              `json:"from"`
	To              string              `json:"to"`
	TxHash          string              `json:"tx_hash,omitempty"`
	PartialFailure  bool                `json:"partial_failure"`
	Legs            []LegOutcome        `json:"legs"`
}

type LegOutcome struct {
	Leg    model.Leg      `json:"leg"`
	Nonce  uint64         `json:"nonce"`
	TxHash string         `json:"tx_hash"`
	Status model.TxStatus `json:"status"`
}

// OutcomeOf 由持久化的记录构造
func OutcomeOf(t *model.Transfer) *Outcome {
	out := &Outcome{
		TransferID:      t.ID,
		Kind:            t.Kind,
		State:           t.State,
		Currency:        t.Currency,
		Amount:          t.Amount,
		RecipientAmount: t.RecipientAmount,
		SubsidyAmount:   t.SubsidyAmount,
		From:            t.FromAddress,
		To:              t.ToAddress,
		PartialFailure:  t.PartialFailure,
		Legs:            []LegOutcome{},
	}
	for _, l := range t.Legs {
		out.Legs = append(out.Legs, LegOutcome{Leg: l.Leg, Nonce: l.Nonce, TxHash: l.TxHash, Status: l.Status})
		if l.Leg == model.LegPrimary {
			out.TxHash = l.TxHash
		}
	}
	return out
}
