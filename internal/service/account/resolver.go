package account

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"wallet-relay/internal/model"
	"wallet-relay/internal/store"
	"wallet-relay/pkg/crypto_util"
	"wallet-relay/pkg/errno"
	"wallet-relay/pkg/keystore"

	"github.com/ethereum/go-ethereum/common"
)

// UserFinder 读取用户记录
type UserFinder interface {
	FindUser(ctx context.Context, id string) (*model.User, error)
}

// Resolver 解锁用户账户和流动性账户；签名能力只通过这里获得
type Resolver struct {
	users  UserFinder
	sealer *keystore.Sealer

	liquidityKey  string
	liquidityOnce sync.Once
	liquidity     *Account
	liquidityErr  error
}

func NewResolver(users UserFinder, sealer *keystore.Sealer, liquidityKey string) *Resolver {
	return &Resolver{users: users, sealer: sealer, liquidityKey: liquidityKey}
}

// ResolveAccount 解密用户的以太坊私钥。调用方在请求结束时必须 Wipe
func (r *Resolver) ResolveAccount(ctx context.Context, userID string) (*Account, error) {
	user, err := r.users.FindUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errno.ErrAccountNotFound
	}
	if err != nil {
		return nil, errno.ErrDatabase.WithCause(err)
	}
	if !user.HasWallet() {
		return nil, errno.ErrAccountNotFound
	}

	acct, err := r.open(user.EthereumAccount)
	if err != nil {
		return nil, errno.ErrDecryptionFailure.WithCause(fmt.Errorf("user %s: %w", userID, err))
	}
	if !common.IsHexAddress(user.EthereumAddress) || acct.Address != common.HexToAddress(user.EthereumAddress) {
		acct.Wipe()
		return nil, errno.ErrDecryptionFailure.WithCause(fmt.Errorf("user %s: decrypted key does not match stored address", userID))
	}
	return acct, nil
}

// ResolveAddress 只读地址，不解密私钥
func (r *Resolver) ResolveAddress(ctx context.Context, userID string) (common.Address, error) {
	user, err := r.users.FindUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return common.Address{}, errno.ErrAccountNotFound
	}
	if err != nil {
		return common.Address{}, errno.ErrDatabase.WithCause(err)
	}
	if !user.HasWallet() || !common.IsHexAddress(user.EthereumAddress) {
		return common.Address{}, errno.ErrAccountNotFound
	}
	return common.HexToAddress(user.EthereumAddress), nil
}

// ResolveLiquidityAccount 首次调用时解析配置中的流动性账户，之后复用同一个对象
// 该对象在进程内共享，不要 Wipe；其 nonce 由 nonce.Manager 串行化
func (r *Resolver) ResolveLiquidityAccount() (*Account, error) {
	r.liquidityOnce.Do(func() {
		if r.liquidityKey == "" {
			r.liquidityErr = errno.ErrAccountNotFound.WithCause(errors.New("wallet.liquidity_key is not configured"))
			return
		}
		var acct *Account
		var err error
		if keystore.IsSealed(r.liquidityKey) {
			acct, err = r.open(r.liquidityKey)
		} else {
			acct, err = FromKeyBytes([]byte(r.liquidityKey))
		}
		if err != nil {
			r.liquidityErr = errno.ErrDecryptionFailure.WithCause(fmt.Errorf("liquidity account: %w", err))
			return
		}
		r.liquidity = acct
	})
	return r.liquidity, r.liquidityErr
}

func (r *Resolver) open(sealed string) (*Account, error) {
	raw, err := r.sealer.Open(sealed)
	if err != nil {
		return nil, err
	}
	defer crypto_util.Zero(raw)
	return FromKeyBytes(raw)
}
