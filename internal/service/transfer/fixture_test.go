package transfer

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"testing"
	"time"

	"wallet-relay/internal/chain"
	"wallet-relay/internal/chain/chaintest"
	"wallet-relay/internal/event"
	"wallet-relay/internal/model"
	"wallet-relay/internal/oracle"
	"wallet-relay/internal/service/account"
	"wallet-relay/internal/service/fee"
	"wallet-relay/internal/service/nonce"
	"wallet-relay/internal/service/swap"
	"wallet-relay/internal/store"
	"wallet-relay/pkg/config"
	"wallet-relay/pkg/errno"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// 测试用 gas price 0.2 gwei，配合下面的 gas 兜底值使补贴金额为整数
var testGasPrice = big.NewInt(200_000_000)

var testGasLimits = config.GasLimits{
	EthTransfer:   25_000,
	Erc20Transfer: 50_000,
	Erc20Approve:  50_000,
	TransferFrom:  50_000,
	Swap:          100_000,
}

var (
	usdcAddr  = common.HexToAddress("0x07865c6E87B9F70255377e024ace6630C1Eaa37F")
	recipient = common.HexToAddress("0x000000000000000000000000000000000000bee5")
)

// memRepo Repository 的内存实现，校验乐观锁的 expected 状态
type memRepo struct {
	mu        sync.Mutex
	transfers map[string]model.Transfer
	legs      map[uint64]model.PendingTransaction
	approvals map[string]string
	events    []event.Envelope
	nextLeg   uint64
}

func newMemRepo() *memRepo {
	return &memRepo{
		transfers: make(map[string]model.Transfer),
		legs:      make(map[uint64]model.PendingTransaction),
		approvals: make(map[string]string),
	}
}

func approvalKey(owner, token, spender string) string {
	return owner + "/" + token + "/" + spender
}

func (m *memRepo) CreateTransfer(_ context.Context, t *model.Transfer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	cp.Legs = nil
	m.transfers[t.ID] = cp
	return nil
}

func (m *memRepo) SaveTransfer(_ context.Context, t *model.Transfer, expected model.TransferState, events ...event.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.transfers[t.ID]
	if !ok || cur.State != expected {
		return fmt.Errorf("%w: transfer %s is not %s", store.ErrStaleState, t.ID, expected)
	}
	cp := *t
	cp.Legs = nil
	m.transfers[t.ID] = cp
	m.events = append(m.events, events...)
	return nil
}

func (m *memRepo) GetTransfer(_ context.Context, id, userID string) (*model.Transfer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.transfers[id]
	if !ok || (userID != "" && t.UserID != userID) {
		return nil, store.ErrNotFound
	}
	t.Legs = m.legsOf(id)
	return &t, nil
}

func (m *memRepo) legsOf(id string) []model.PendingTransaction {
	var out []model.PendingTransaction
	for _, l := range m.legs {
		if l.TransferID == id {
			out = append(out, l)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *memRepo) CreateLeg(_ context.Context, leg *model.PendingTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextLeg++
	leg.ID = m.nextLeg
	m.legs[leg.ID] = *leg
	return nil
}

func (m *memRepo) SaveLeg(_ context.Context, leg *model.PendingTransaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.legs[leg.ID] = *leg
	return nil
}

func (m *memRepo) IsApproved(_ context.Context, owner, token, spender string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.approvals[approvalKey(owner, token, spender)]
	return ok, nil
}

func (m *memRepo) MarkApproved(_ context.Context, owner, token, spender, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := approvalKey(owner, token, spender)
	if _, ok := m.approvals[k]; !ok {
		m.approvals[k] = txHash
	}
	return nil
}

func (m *memRepo) transferCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transfers)
}

func (m *memRepo) only(t *testing.T) model.Transfer {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Len(t, m.transfers, 1)
	for _, tr := range m.transfers {
		tr.Legs = m.legsOf(tr.ID)
		return tr
	}
	return model.Transfer{}
}

func (m *memRepo) eventTypes() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for _, e := range m.events {
		out = append(out, e.Payload.Type)
	}
	return out
}

// memAccounts 每次解锁都返回新的 Account，和真实 Resolver 一样可以被 Wipe
type memAccounts struct {
	keys      map[string][]byte
	liquidity *account.Account
}

func (m *memAccounts) ResolveAccount(_ context.Context, userID string) (*account.Account, error) {
	k, ok := m.keys[userID]
	if !ok {
		return nil, errno.ErrAccountNotFound
	}
	return account.FromKeyBytes(append([]byte(nil), k...))
}

func (m *memAccounts) ResolveAddress(ctx context.Context, userID string) (common.Address, error) {
	acct, err := m.ResolveAccount(ctx, userID)
	if err != nil {
		return common.Address{}, err
	}
	defer acct.Wipe()
	return acct.Address, nil
}

func (m *memAccounts) ResolveLiquidityAccount() (*account.Account, error) {
	if m.liquidity == nil {
		return nil, errno.ErrAccountNotFound
	}
	return m.liquidity, nil
}

type fixture struct {
	backend   *chaintest.Backend
	repo      *memRepo
	accounts  *memAccounts
	prices    oracle.Static
	nonces    *nonce.Manager
	orch      *Orchestrator
	liquidity common.Address
	weth      common.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	b := chaintest.New(4)
	b.GasPrice = new(big.Int).Set(testGasPrice)

	liqKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	liq, err := account.FromKeyBytes(crypto.FromECDSA(liqKey))
	require.NoError(t, err)
	b.SetEth(liq.Address, big.NewInt(1e18))

	tokens, err := chain.NewRegistry(map[string]config.TokenConfig{
		"usdc": {Address: usdcAddr.Hex(), Decimals: 6, PriceID: "usd-coin"},
		"weth": {Address: b.WETH.Hex(), Decimals: 18, PriceID: "weth"},
	})
	require.NoError(t, err)

	f := &fixture{
		backend:   b,
		repo:      newMemRepo(),
		accounts:  &memAccounts{keys: make(map[string][]byte), liquidity: liq},
		prices:    oracle.Static{"ethereum": decimal.NewFromInt(2000), "usd-coin": decimal.NewFromInt(1), "weth": decimal.NewFromInt(2000)},
		liquidity: liq.Address,
		weth:      b.WETH,
	}
	f.nonces = nonce.NewManager(b, nil, nonce.WithSharedAccount(liq.Address))
	router := swap.NewClient(b, swap.Config{Router: b.Router, Factory: b.Factory, WETH: b.WETH})
	f.orch = NewOrchestrator(b, f.accounts, fee.NewCalculator(f.prices), router, f.nonces, f.repo, tokens, Config{
		ChainID:        b.ChainID,
		GasLimits:      testGasLimits,
		ReceiptTimeout: 100 * time.Millisecond,
		PollInterval:   5 * time.Millisecond,
	})
	return f
}

// newUser 注册一个用户并返回其地址
func (f *fixture) newUser(t *testing.T, id string) common.Address {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	f.accounts.keys[id] = crypto.FromECDSA(key)
	return crypto.PubkeyToAddress(key.PublicKey)
}

// preApprove 授权表和链上 allowance 都已就绪
func (f *fixture) preApprove(owner common.Address) {
	f.backend.SetAllowance(usdcAddr, owner, f.liquidity, new(big.Int).Set(chain.MaxAllowance))
	f.repo.approvals[approvalKey(owner.Hex(), usdcAddr.Hex(), f.liquidity.Hex())] = "0xseed"
}

func legNames(legs []model.PendingTransaction) []model.Leg {
	var out []model.Leg
	for _, l := range legs {
		out = append(out, l.Leg)
	}
	return out
}

func usdc(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}
