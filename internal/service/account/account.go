package account

import (
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"wallet-relay/pkg/crypto_util"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

type Chain string

const (
	ChainETH Chain = "ETH"
	ChainBTC Chain = "BTC"
)

var (
	ErrKeyLength = errors.New("invalid private key length")
	ErrWiped     = errors.New("account key has been wiped")
)

// Account 一个已解锁的签名账户。私钥只在内存中存在，不可序列化，不可打印
type Account struct {
	Address common.Address
	Chain   Chain

	mu  sync.RWMutex
	key *ecdsa.PrivateKey
}

func newAccount(key *ecdsa.PrivateKey) *Account {
	return &Account{
		Address: crypto.PubkeyToAddress(key.PublicKey),
		Chain:   ChainETH,
		key:     key,
	}
}

// SignTx 使用 EIP-155 / London 签名器签名
func (a *Account) SignTx(tx *types.Transaction, chainID *big.Int) (*types.Transaction, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.key == nil {
		return nil, ErrWiped
	}
	return types.SignTx(tx, types.LatestSignerForChainID(chainID), a.key)
}

// Wipe 清零内存中的私钥，之后 SignTx 返回 ErrWiped
func (a *Account) Wipe() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.key == nil {
		return
	}
	b := a.key.D.Bits()
	for i := range b {
		b[i] = 0
	}
	a.key = nil
}

func (a *Account) String() string {
	return fmt.Sprintf("%s:%s", a.Chain, a.Address.Hex())
}

// GoString 防止 %#v 打出私钥
func (a *Account) GoString() string {
	return a.String()
}

// NormalizeKey 接受以下形式并统一成 32 字节：
// 32 字节原始私钥、带 0x00 前缀的 33 字节、64 位 hex、0x + 64 位 hex
func NormalizeKey(raw []byte) ([]byte, error) {
	switch len(raw) {
	case 32:
		return append([]byte(nil), raw...), nil
	case 33:
		if raw[0] != 0 {
			return nil, fmt.Errorf("%w: 33 bytes without zero prefix", ErrKeyLength)
		}
		return append([]byte(nil), raw[1:]...), nil
	}

	s := strings.TrimSpace(string(raw))
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != 64 {
		return nil, fmt.Errorf("%w: %d bytes", ErrKeyLength, len(raw))
	}
	key, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: not hex", ErrKeyLength)
	}
	return key, nil
}

// FromKeyBytes 解析私钥，调用方负责清零 raw
func FromKeyBytes(raw []byte) (*Account, error) {
	normalized, err := NormalizeKey(raw)
	if err != nil {
		return nil, err
	}
	defer crypto_util.Zero(normalized)

	key, err := crypto.ToECDSA(normalized)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return newAccount(key), nil
}

// Generate 生成新的以太坊账户
func Generate() (*Account, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	return newAccount(key), nil
}

// exportKey 导出 32 字节私钥，仅用于开通钱包时加密落库
func (a *Account) exportKey() ([]byte, error) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.key == nil {
		return nil, ErrWiped
	}
	return crypto.FromECDSA(a.key), nil
}
