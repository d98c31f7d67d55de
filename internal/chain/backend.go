package chain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"wallet-relay/pkg/errno"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
)

// Backend 编排器用到的 RPC 子集，*ethclient.Client 直接满足
type Backend interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

var _ Backend = (*ethclient.Client)(nil)

// Dial 连接节点并校验 chain id 与配置一致
func Dial(ctx context.Context, rpcURL string, wantChainID int64) (*ethclient.Client, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", rpcURL, err)
	}
	id, err := client.ChainID(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("chain id: %w", err)
	}
	if id.Int64() != wantChainID {
		client.Close()
		return nil, fmt.Errorf("chain id mismatch: node=%s config=%d", id, wantChainID)
	}
	return client, nil
}

// ProviderError 把 RPC 层错误归类为 ProviderUnavailable
func ProviderError(op string, err error) error {
	return errno.ErrProviderUnavailable.WithCause(fmt.Errorf("%s: %w", op, err))
}

// BalanceOf 读取 ERC20 余额
func BalanceOf(ctx context.Context, b Backend, token, owner common.Address) (*big.Int, error) {
	data, err := PackBalanceOf(owner)
	if err != nil {
		return nil, err
	}
	out, err := b.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, ProviderError("balanceOf", err)
	}
	return unpackUint("balanceOf", out)
}

// Allowance 读取 owner 对 spender 的授权额度
func Allowance(ctx context.Context, b Backend, token, owner, spender common.Address) (*big.Int, error) {
	data, err := PackAllowance(owner, spender)
	if err != nil {
		return nil, err
	}
	out, err := b.CallContract(ctx, ethereum.CallMsg{To: &token, Data: data}, nil)
	if err != nil {
		return nil, ProviderError("allowance", err)
	}
	return unpackUint("allowance", out)
}

// ErrReceiptTimeout 等待回执超时；交易可能仍会上链，不能换 nonce 重发
var ErrReceiptTimeout = errors.New("timed out waiting for receipt")

// WaitReceipt 轮询直到拿到回执、超时或 ctx 取消
// 回执 status=0 时返回回执和 ErrOnChainRevert
func WaitReceipt(ctx context.Context, b Backend, hash common.Hash, timeout, interval time.Duration) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		receipt, err := b.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			if receipt.Status != types.ReceiptStatusSuccessful {
				return receipt, errno.ErrOnChainRevert.WithCause(fmt.Errorf("tx %s reverted in block %s", hash.Hex(), receipt.BlockNumber))
			}
			return receipt, nil
		case err != nil && !errors.Is(err, ethereum.NotFound) && ctx.Err() == nil:
			// 节点抖动不算失败，继续等到超时
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %s", ErrReceiptTimeout, hash.Hex())
		case <-ticker.C:
		}
	}
}
