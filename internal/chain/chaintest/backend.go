// Package chaintest 提供一个内存版的 chain.Backend，用于编排器和对账任务的单元测试。
// 交易在 SendTransaction 时立即执行并出回执 (除非 HoldReceipts)，只模拟用到的 ERC20 / UniswapV2 方法。
package chaintest

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"wallet-relay/internal/chain"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

var _ chain.Backend = (*Backend)(nil)

var ErrInsufficientFundsForGas = errors.New("insufficient funds for gas * price + value")

type Backend struct {
	mu sync.Mutex

	ChainID  *big.Int
	GasPrice *big.Int
	// EstimateGasErr 非空时 EstimateGas 失败，编排器应回退到配置的默认值
	EstimateGasErr error
	GasEstimate    uint64
	GasPriceErr    error
	CallErr        error
	SendErr        error
	// HoldReceipts 为 true 时交易被接受但永不出块
	HoldReceipts bool
	// RevertIf 返回 true 的交易上链后 status=0
	RevertIf func(tx *types.Transaction, from common.Address) bool
	Now      func() time.Time

	Router  common.Address
	Factory common.Address
	WETH    common.Address
	// WeiPerUnit 每个 token 最小单位值多少 wei，决定假路由的兑换价
	WeiPerUnit map[common.Address]*big.Int
	// Pairs token -> pair 地址；Reserves pair -> (reserve0, reserve1)
	Pairs    map[common.Address]common.Address
	Reserves map[common.Address][2]*big.Int

	eth        map[common.Address]*big.Int
	tokens     map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[[2]common.Address]*big.Int
	nonces     map[common.Address]uint64
	receipts   map[common.Hash]*types.Receipt
	block      int64

	Sent []*types.Transaction
}

func New(chainID int64) *Backend {
	return &Backend{
		ChainID:    big.NewInt(chainID),
		GasPrice:   big.NewInt(10_000_000_000), // 10 gwei
		Now:        time.Now,
		Router:     common.HexToAddress("0x7a250d5630B4cF539739dF2C5dAcb4c659F2488D"),
		Factory:    common.HexToAddress("0x5C69bEe701ef814a2B6a3EDD4B1652CB9cc5aA6f"),
		WETH:       common.HexToAddress("0xc778417E063141139Fce010982780140Aa0cD5Ab"),
		WeiPerUnit: make(map[common.Address]*big.Int),
		Pairs:      make(map[common.Address]common.Address),
		Reserves:   make(map[common.Address][2]*big.Int),
		eth:        make(map[common.Address]*big.Int),
		tokens:     make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[[2]common.Address]*big.Int),
		nonces:     make(map[common.Address]uint64),
		receipts:   make(map[common.Hash]*types.Receipt),
		block:      100,
	}
}

// SetEth 设置地址的 ETH 余额 (wei)
func (b *Backend) SetEth(addr common.Address, wei *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.eth[addr] = new(big.Int).Set(wei)
}

// SetToken 设置地址的 token 余额 (最小单位)
func (b *Backend) SetToken(token, addr common.Address, units *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tokenBook(token)[addr] = new(big.Int).Set(units)
}

// SetAllowance 预置授权
func (b *Backend) SetAllowance(token, owner, spender common.Address, units *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.allowanceBook(token)[[2]common.Address{owner, spender}] = new(big.Int).Set(units)
}

// AddPool 注册一个有流动性的池子
func (b *Backend) AddPool(token common.Address, weiPerUnit *big.Int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	pair := common.BytesToAddress(append([]byte("pair"), token.Bytes()[:16]...))
	b.Pairs[token] = pair
	b.Reserves[pair] = [2]*big.Int{big.NewInt(1e18), big.NewInt(1e18)}
	b.WeiPerUnit[token] = new(big.Int).Set(weiPerUnit)
}

func (b *Backend) Eth(addr common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.ethOf(addr))
}

func (b *Backend) Token(token, addr common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.tokenOf(token, addr))
}

func (b *Backend) Allowed(token, owner, spender common.Address) *big.Int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.allowanceOf(token, owner, spender))
}

// SentCount 已被接受的交易数
func (b *Backend) SentCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.Sent)
}

// SentTxs 返回已接受交易的快照
func (b *Backend) SentTxs() []*types.Transaction {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*types.Transaction, len(b.Sent))
	copy(out, b.Sent)
	return out
}

// Sender 恢复交易的发送方
func (b *Backend) Sender(tx *types.Transaction) common.Address {
	from, _ := types.Sender(types.LatestSignerForChainID(b.ChainID), tx)
	return from
}

// Mine 为 HoldReceipts 期间接受的交易补出回执
func (b *Backend) Mine(hash common.Hash, success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.block++
	status := types.ReceiptStatusFailed
	if success {
		status = types.ReceiptStatusSuccessful
	}
	b.receipts[hash] = &types.Receipt{TxHash: hash, Status: status, BlockNumber: big.NewInt(b.block)}
}

func (b *Backend) BalanceAt(ctx context.Context, account common.Address, _ *big.Int) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.CallErr != nil {
		return nil, b.CallErr
	}
	return new(big.Int).Set(b.ethOf(account)), nil
}

func (b *Backend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.GasPriceErr != nil {
		return nil, b.GasPriceErr
	}
	return new(big.Int).Set(b.GasPrice), nil
}

func (b *Backend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.EstimateGasErr != nil {
		return 0, b.EstimateGasErr
	}
	if b.GasEstimate == 0 {
		return 0, errors.New("execution reverted")
	}
	return b.GasEstimate, nil
}

func (b *Backend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nonces[account], nil
}

func (b *Backend) TransactionReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

func (b *Backend) CallContract(ctx context.Context, call ethereum.CallMsg, _ *big.Int) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.CallErr != nil {
		return nil, b.CallErr
	}
	if call.To == nil || len(call.Data) < 4 {
		return nil, errors.New("invalid call")
	}
	to := *call.To

	switch to {
	case b.Router:
		method, args, err := decode(chain.RouterABI, call.Data)
		if err != nil {
			return nil, err
		}
		amount := args[0].(*big.Int)
		path := args[1].([]common.Address)
		switch method.Name {
		case "getAmountsOut":
			out, err := b.amountOut(amount, path)
			if err != nil {
				return nil, err
			}
			return method.Outputs.Pack([]*big.Int{amount, out})
		case "getAmountsIn":
			in, err := b.amountIn(amount, path)
			if err != nil {
				return nil, err
			}
			return method.Outputs.Pack([]*big.Int{in, amount})
		}
		return nil, fmt.Errorf("unsupported router call %s", method.Name)
	case b.Factory:
		method, args, err := decode(chain.FactoryABI, call.Data)
		if err != nil {
			return nil, err
		}
		tokenA, tokenB := args[0].(common.Address), args[1].(common.Address)
		token := tokenA
		if token == b.WETH {
			token = tokenB
		}
		return method.Outputs.Pack(b.Pairs[token])
	}

	if reserves, ok := b.Reserves[to]; ok {
		method, _, err := decode(chain.PairABI, call.Data)
		if err != nil {
			return nil, err
		}
		if method.Name == "getReserves" {
			return method.Outputs.Pack(reserves[0], reserves[1], uint32(0))
		}
		return method.Outputs.Pack(b.WETH)
	}

	method, args, err := decode(chain.ERC20ABI, call.Data)
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "balanceOf":
		return method.Outputs.Pack(new(big.Int).Set(b.tokenOf(to, args[0].(common.Address))))
	case "allowance":
		return method.Outputs.Pack(new(big.Int).Set(b.allowanceOf(to, args[0].(common.Address), args[1].(common.Address))))
	}
	return nil, fmt.Errorf("unsupported call %s", method.Name)
}

func (b *Backend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.SendErr != nil {
		return b.SendErr
	}

	from, err := types.Sender(types.LatestSignerForChainID(b.ChainID), tx)
	if err != nil {
		return fmt.Errorf("invalid sender: %w", err)
	}
	if tx.Nonce() != b.nonces[from] {
		return fmt.Errorf("nonce mismatch: have %d want %d", tx.Nonce(), b.nonces[from])
	}
	fee := new(big.Int).Mul(tx.GasPrice(), new(big.Int).SetUint64(tx.Gas()))
	cost := new(big.Int).Add(fee, tx.Value())
	if b.ethOf(from).Cmp(cost) < 0 {
		return ErrInsufficientFundsForGas
	}

	b.nonces[from]++
	b.eth[from] = new(big.Int).Sub(b.ethOf(from), fee)
	b.Sent = append(b.Sent, tx)

	ok := true
	if b.RevertIf != nil && b.RevertIf(tx, from) {
		ok = false
	} else if err := b.apply(tx, from); err != nil {
		ok = false
	}

	if b.HoldReceipts {
		return nil
	}
	b.block++
	status := types.ReceiptStatusSuccessful
	if !ok {
		status = types.ReceiptStatusFailed
	}
	b.receipts[tx.Hash()] = &types.Receipt{
		TxHash:      tx.Hash(),
		Status:      status,
		GasUsed:     tx.Gas(),
		BlockNumber: big.NewInt(b.block),
	}
	return nil
}

// apply 执行交易效果；出错时状态不变 (等同 revert)
func (b *Backend) apply(tx *types.Transaction, from common.Address) error {
	to := *tx.To()
	if len(tx.Data()) == 0 {
		b.move(from, to, tx.Value())
		return nil
	}

	if to == b.Router {
		return b.swap(tx, from)
	}

	method, args, err := decode(chain.ERC20ABI, tx.Data())
	if err != nil {
		return err
	}
	switch method.Name {
	case "transfer":
		return b.moveToken(to, from, args[0].(common.Address), args[1].(*big.Int))
	case "approve":
		b.allowanceBook(to)[[2]common.Address{from, args[0].(common.Address)}] = new(big.Int).Set(args[1].(*big.Int))
		return nil
	case "transferFrom":
		owner, recipient, amount := args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int)
		if err := b.spendAllowance(to, owner, from, amount); err != nil {
			return err
		}
		return b.moveToken(to, owner, recipient, amount)
	}
	return fmt.Errorf("unsupported tx %s", method.Name)
}

func (b *Backend) swap(tx *types.Transaction, from common.Address) error {
	method, args, err := decode(chain.RouterABI, tx.Data())
	if err != nil {
		return err
	}
	switch method.Name {
	case "swapExactTokensForETH":
		amountIn, minOut := args[0].(*big.Int), args[1].(*big.Int)
		path, recipient, deadline := args[2].([]common.Address), args[3].(common.Address), args[4].(*big.Int)
		if err := b.checkDeadline(deadline); err != nil {
			return err
		}
		out, err := b.amountOut(amountIn, path)
		if err != nil {
			return err
		}
		if out.Cmp(minOut) < 0 {
			return errors.New("INSUFFICIENT_OUTPUT_AMOUNT")
		}
		if err := b.spendAllowance(path[0], from, b.Router, amountIn); err != nil {
			return err
		}
		if err := b.moveToken(path[0], from, b.Router, amountIn); err != nil {
			return err
		}
		b.eth[recipient] = new(big.Int).Add(b.ethOf(recipient), out)
		return nil
	case "swapExactETHForTokens":
		minOut, path := args[0].(*big.Int), args[1].([]common.Address)
		recipient, deadline := args[2].(common.Address), args[3].(*big.Int)
		if err := b.checkDeadline(deadline); err != nil {
			return err
		}
		out, err := b.amountOut(tx.Value(), path)
		if err != nil {
			return err
		}
		if out.Cmp(minOut) < 0 {
			return errors.New("INSUFFICIENT_OUTPUT_AMOUNT")
		}
		b.move(from, b.Router, tx.Value())
		token := path[len(path)-1]
		b.tokenBook(token)[recipient] = new(big.Int).Add(b.tokenOf(token, recipient), out)
		return nil
	}
	return fmt.Errorf("unsupported swap %s", method.Name)
}

func (b *Backend) checkDeadline(deadline *big.Int) error {
	if deadline.Int64() < b.Now().Unix() {
		return errors.New("UniswapV2Router: EXPIRED")
	}
	return nil
}

func (b *Backend) amountOut(amountIn *big.Int, path []common.Address) (*big.Int, error) {
	if len(path) != 2 {
		return nil, errors.New("unsupported path")
	}
	if path[0] == b.WETH {
		wpu, ok := b.WeiPerUnit[path[1]]
		if !ok {
			return nil, errors.New("no pool")
		}
		return new(big.Int).Div(amountIn, wpu), nil
	}
	wpu, ok := b.WeiPerUnit[path[0]]
	if !ok || path[1] != b.WETH {
		return nil, errors.New("no pool")
	}
	return new(big.Int).Mul(amountIn, wpu), nil
}

func (b *Backend) amountIn(amountOut *big.Int, path []common.Address) (*big.Int, error) {
	if len(path) != 2 {
		return nil, errors.New("unsupported path")
	}
	if path[0] == b.WETH {
		wpu, ok := b.WeiPerUnit[path[1]]
		if !ok {
			return nil, errors.New("no pool")
		}
		return new(big.Int).Mul(amountOut, wpu), nil
	}
	wpu, ok := b.WeiPerUnit[path[0]]
	if !ok || path[1] != b.WETH {
		return nil, errors.New("no pool")
	}
	in, rem := new(big.Int).QuoRem(amountOut, wpu, new(big.Int))
	if rem.Sign() > 0 {
		in.Add(in, big.NewInt(1))
	}
	return in, nil
}

func (b *Backend) move(from, to common.Address, value *big.Int) {
	b.eth[from] = new(big.Int).Sub(b.ethOf(from), value)
	b.eth[to] = new(big.Int).Add(b.ethOf(to), value)
}

func (b *Backend) moveToken(token, from, to common.Address, amount *big.Int) error {
	book := b.tokenBook(token)
	if b.tokenOf(token, from).Cmp(amount) < 0 {
		return errors.New("ERC20: transfer amount exceeds balance")
	}
	book[from] = new(big.Int).Sub(b.tokenOf(token, from), amount)
	book[to] = new(big.Int).Add(b.tokenOf(token, to), amount)
	return nil
}

func (b *Backend) spendAllowance(token, owner, spender common.Address, amount *big.Int) error {
	allowed := b.allowanceOf(token, owner, spender)
	if allowed.Cmp(amount) < 0 {
		return errors.New("ERC20: insufficient allowance")
	}
	b.allowanceBook(token)[[2]common.Address{owner, spender}] = new(big.Int).Sub(allowed, amount)
	return nil
}

func (b *Backend) ethOf(addr common.Address) *big.Int {
	if v, ok := b.eth[addr]; ok {
		return v
	}
	return big.NewInt(0)
}

func (b *Backend) tokenBook(token common.Address) map[common.Address]*big.Int {
	book, ok := b.tokens[token]
	if !ok {
		book = make(map[common.Address]*big.Int)
		b.tokens[token] = book
	}
	return book
}

func (b *Backend) tokenOf(token, addr common.Address) *big.Int {
	if v, ok := b.tokenBook(token)[addr]; ok {
		return v
	}
	return big.NewInt(0)
}

func (b *Backend) allowanceBook(token common.Address) map[[2]common.Address]*big.Int {
	book, ok := b.allowances[token]
	if !ok {
		book = make(map[[2]common.Address]*big.Int)
		b.allowances[token] = book
	}
	return book
}

func (b *Backend) allowanceOf(token, owner, spender common.Address) *big.Int {
	if v, ok := b.allowanceBook(token)[[2]common.Address{owner, spender}]; ok {
		return v
	}
	return big.NewInt(0)
}

func decode(contract abi.ABI, data []byte) (*abi.Method, []interface{}, error) {
	if len(data) < 4 {
		return nil, nil, errors.New("short calldata")
	}
	method, err := contract.MethodById(data[:4])
	if err != nil {
		return nil, nil, err
	}
	args, err := method.Inputs.Unpack(data[4:])
	if err != nil {
		return nil, nil, err
	}
	return method, args, nil
}
