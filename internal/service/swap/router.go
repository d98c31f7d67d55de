package swap

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"wallet-relay/internal/chain"
	"wallet-relay/pkg/errno"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
)

const (
	// DefaultSlippageBps 0.5%
	DefaultSlippageBps int64 = 50
	// DefaultDeadline 每笔 swap 的有效期
	DefaultDeadline = 1200 * time.Second

	bpsDenominator = 10000
)

type Direction int

const (
	ExactInput Direction = iota
	ExactOutput
)

func (d Direction) String() string {
	if d == ExactOutput {
		return "EXACT_OUTPUT"
	}
	return "EXACT_INPUT"
}

// Plan 一次 swap 的参数。Deadline 在构造时确定，提交时不再重算
type Plan struct {
	Direction   Direction
	InputToken  common.Address
	OutputToken common.Address
	Route       []common.Address

	// ExactInput
	AmountIn         *big.Int
	MinimumAmountOut *big.Int

	// ExactOutput
	AmountOut       *big.Int
	MaximumAmountIn *big.Int

	Deadline  int64
	CreatedAt time.Time
}

// Caller 只读合约调用
type Caller interface {
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
}

type Config struct {
	Router      common.Address
	Factory     common.Address
	WETH        common.Address
	SlippageBps int64
	Deadline    time.Duration
}

// Client UniswapV2 Router02 的报价和调用编码
type Client struct {
	caller Caller
	cfg    Config
	now    func() time.Time
}

func NewClient(caller Caller, cfg Config) *Client {
	if cfg.SlippageBps <= 0 || cfg.SlippageBps >= bpsDenominator {
		cfg.SlippageBps = DefaultSlippageBps
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = DefaultDeadline
	}
	return &Client{caller: caller, cfg: cfg, now: time.Now}
}

func (c *Client) Router() common.Address { return c.cfg.Router }

func (c *Client) WETH() common.Address { return c.cfg.WETH }

// QuoteMinimumOut getAmountsOut 的最后一项扣除滑点，向下取整
func (c *Client) QuoteMinimumOut(ctx context.Context, route []common.Address, amountIn *big.Int, slippageBps int64) (*big.Int, error) {
	quoted, err := c.amounts(ctx, "getAmountsOut", amountIn, route)
	if err != nil {
		return nil, err
	}
	return ApplySlippage(quoted[len(quoted)-1], slippageBps), nil
}

// QuoteMaximumIn getAmountsIn 的第一项加上滑点，向上取整
func (c *Client) QuoteMaximumIn(ctx context.Context, route []common.Address, amountOut *big.Int, slippageBps int64) (*big.Int, error) {
	quoted, err := c.amounts(ctx, "getAmountsIn", amountOut, route)
	if err != nil {
		return nil, err
	}
	num := new(big.Int).Mul(quoted[0], big.NewInt(bpsDenominator+slippageBps))
	maxIn, rem := new(big.Int).QuoRem(num, big.NewInt(bpsDenominator), new(big.Int))
	if rem.Sign() > 0 {
		maxIn.Add(maxIn, big.NewInt(1))
	}
	return maxIn, nil
}

// ApplySlippage amount * (10000 - bps) / 10000，向下取整
func ApplySlippage(amount *big.Int, slippageBps int64) *big.Int {
	out := new(big.Int).Mul(amount, big.NewInt(bpsDenominator-slippageBps))
	return out.Quo(out, big.NewInt(bpsDenominator))
}

func (c *Client) amounts(ctx context.Context, method string, amount *big.Int, route []common.Address) ([]*big.Int, error) {
	if len(route) < 2 {
		return nil, errno.ErrUnsupportedRoute.WithCause(fmt.Errorf("route needs at least two tokens, got %d", len(route)))
	}
	data, err := chain.RouterABI.Pack(method, amount, route)
	if err != nil {
		return nil, err
	}
	router := c.cfg.Router
	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &router, Data: data}, nil)
	if err != nil {
		return nil, chain.ProviderError(method, err)
	}
	values, err := chain.RouterABI.Unpack(method, out)
	if err != nil {
		return nil, chain.ProviderError(method, err)
	}
	amounts, ok := values[0].([]*big.Int)
	if !ok || len(amounts) != len(route) {
		return nil, chain.ProviderError(method, errors.New("unexpected amounts length"))
	}
	return amounts, nil
}

// PairReserves 通过 factory.getPair + pair.getReserves 读取池子储备
func (c *Client) PairReserves(ctx context.Context, tokenA, tokenB common.Address) (common.Address, *big.Int, *big.Int, error) {
	data, err := chain.FactoryABI.Pack("getPair", tokenA, tokenB)
	if err != nil {
		return common.Address{}, nil, nil, err
	}
	factory := c.cfg.Factory
	out, err := c.caller.CallContract(ctx, ethereum.CallMsg{To: &factory, Data: data}, nil)
	if err != nil {
		return common.Address{}, nil, nil, chain.ProviderError("getPair", err)
	}
	values, err := chain.FactoryABI.Unpack("getPair", out)
	if err != nil {
		return common.Address{}, nil, nil, chain.ProviderError("getPair", err)
	}
	pair := values[0].(common.Address)
	if pair == (common.Address{}) {
		return pair, nil, nil, errno.ErrUnsupportedRoute.WithCause(fmt.Errorf("no pair for %s/%s", tokenA.Hex(), tokenB.Hex()))
	}

	data, err = chain.PairABI.Pack("getReserves")
	if err != nil {
		return pair, nil, nil, err
	}
	out, err = c.caller.CallContract(ctx, ethereum.CallMsg{To: &pair, Data: data}, nil)
	if err != nil {
		return pair, nil, nil, chain.ProviderError("getReserves", err)
	}
	values, err = chain.PairABI.Unpack("getReserves", out)
	if err != nil {
		return pair, nil, nil, chain.ProviderError("getReserves", err)
	}
	return pair, values[0].(*big.Int), values[1].(*big.Int), nil
}

func (c *Client) checkPools(ctx context.Context, route []common.Address) error {
	for i := 0; i+1 < len(route); i++ {
		_, r0, r1, err := c.PairReserves(ctx, route[i], route[i+1])
		if err != nil {
			return err
		}
		if r0.Sign() == 0 || r1.Sign() == 0 {
			return errno.ErrUnsupportedRoute.WithCause(fmt.Errorf("empty pool %s/%s", route[i].Hex(), route[i+1].Hex()))
		}
	}
	return nil
}

// NewPlan 构造 EXACT_INPUT 计划：校验池子、报价、扣滑点，并固定 deadline
func (c *Client) NewPlan(ctx context.Context, route []common.Address, amountIn *big.Int) (*Plan, error) {
	if err := c.checkPools(ctx, route); err != nil {
		return nil, err
	}
	minOut, err := c.QuoteMinimumOut(ctx, route, amountIn, c.cfg.SlippageBps)
	if err != nil {
		return nil, err
	}
	if minOut.Sign() == 0 {
		return nil, errno.ErrUnsupportedRoute.WithCause(fmt.Errorf("quoted output for %s is zero", amountIn))
	}
	return c.plan(ExactInput, route, func(p *Plan) {
		p.AmountIn = new(big.Int).Set(amountIn)
		p.MinimumAmountOut = minOut
	}), nil
}

// NewExactOutputPlan 构造 EXACT_OUTPUT 计划
func (c *Client) NewExactOutputPlan(ctx context.Context, route []common.Address, amountOut *big.Int) (*Plan, error) {
	if err := c.checkPools(ctx, route); err != nil {
		return nil, err
	}
	maxIn, err := c.QuoteMaximumIn(ctx, route, amountOut, c.cfg.SlippageBps)
	if err != nil {
		return nil, err
	}
	return c.plan(ExactOutput, route, func(p *Plan) {
		p.AmountOut = new(big.Int).Set(amountOut)
		p.MaximumAmountIn = maxIn
	}), nil
}

func (c *Client) plan(dir Direction, route []common.Address, fill func(*Plan)) *Plan {
	now := c.now()
	p := &Plan{
		Direction:   dir,
		InputToken:  route[0],
		OutputToken: route[len(route)-1],
		Route:       append([]common.Address(nil), route...),
		Deadline:    now.Add(c.cfg.Deadline).Unix(),
		CreatedAt:   now,
	}
	fill(p)
	return p
}

// BuildSwapCall 编码 router 调用，返回 calldata 和需要附带的 ETH
// ETH 输入走 *ETHFor* 方法，token 输入走 *ForETH 方法；token->token 不支持
func (c *Client) BuildSwapCall(p *Plan, dir Direction, recipient common.Address) ([]byte, *big.Int, error) {
	if p.Direction != dir {
		return nil, nil, fmt.Errorf("plan is %s, not %s", p.Direction, dir)
	}
	deadline := big.NewInt(p.Deadline)
	ethIn := p.InputToken == c.cfg.WETH
	ethOut := p.OutputToken == c.cfg.WETH
	if ethIn == ethOut {
		return nil, nil, errno.ErrUnsupportedRoute.WithCause(errors.New("exactly one side of the route must be WETH"))
	}

	var (
		data []byte
		err  error
	)
	value := big.NewInt(0)
	switch {
	case dir == ExactInput && ethIn:
		data, err = chain.RouterABI.Pack("swapExactETHForTokens", p.MinimumAmountOut, p.Route, recipient, deadline)
		value = new(big.Int).Set(p.AmountIn)
	case dir == ExactInput:
		data, err = chain.RouterABI.Pack("swapExactTokensForETH", p.AmountIn, p.MinimumAmountOut, p.Route, recipient, deadline)
	case ethIn:
		data, err = chain.RouterABI.Pack("swapETHForExactTokens", p.AmountOut, p.Route, recipient, deadline)
		value = new(big.Int).Set(p.MaximumAmountIn)
	default:
		data, err = chain.RouterABI.Pack("swapTokensForExactETH", p.AmountOut, p.MaximumAmountIn, p.Route, recipient, deadline)
	}
	if err != nil {
		return nil, nil, err
	}
	return data, value, nil
}
