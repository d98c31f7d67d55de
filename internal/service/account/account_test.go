package account

import (
	"context"
	"encoding/hex"
	"math/big"
	"sync"
	"testing"

	"wallet-relay/internal/model"
	"wallet-relay/internal/store"
	"wallet-relay/pkg/address"
	"wallet-relay/pkg/errno"
	"wallet-relay/pkg/keystore"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"

var testKeyAddr = common.HexToAddress("0x2c7536E3605D9C16a7a3D7b1898e529396a65c23")

type memUsers struct {
	mu    sync.Mutex
	users map[string]*model.User
}

func newMemUsers(users ...*model.User) *memUsers {
	m := &memUsers{users: make(map[string]*model.User)}
	for _, u := range users {
		m.users[u.ID] = u
	}
	return m
}

func (m *memUsers) FindUser(_ context.Context, id string) (*model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok || u.IsDeleted || !u.Active {
		return nil, store.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) SaveWallet(_ context.Context, id string, w model.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.users[id]
	if u.EthereumAddress != "" {
		return store.ErrWalletExists
	}
	u.EthereumAddress, u.EthereumAccount = w.EthereumAddress, w.EthereumAccount
	u.BitcoinAddress, u.BitcoinAccount = w.BitcoinAddress, w.BitcoinAccount
	return nil
}

func testSealer(t *testing.T, secret string) *keystore.Sealer {
	s, err := keystore.NewSealer(secret, 1<<10)
	require.NoError(t, err)
	return s
}

func TestNormalizeKey(t *testing.T) {
	raw, _ := hex.DecodeString(testKeyHex)

	tests := []struct {
		name    string
		input   []byte
		wantErr bool
	}{
		{"raw 32 bytes", raw, false},
		{"33 bytes zero prefix", append([]byte{0}, raw...), false},
		{"hex", []byte(testKeyHex), false},
		{"0x hex", []byte("0x" + testKeyHex), false},
		{"33 bytes non-zero prefix", append([]byte{1}, raw...), true},
		{"short", raw[:31], true},
		{"bad hex", []byte("0x" + testKeyHex[:62] + "zz"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key, err := NormalizeKey(tt.input)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrKeyLength)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, raw, key)
		})
	}
}

func TestAccount_SignAndWipe(t *testing.T) {
	acct, err := FromKeyBytes([]byte(testKeyHex))
	require.NoError(t, err)
	assert.Equal(t, testKeyAddr, acct.Address)
	assert.NotContains(t, acct.String(), testKeyHex)

	chainID := big.NewInt(4)
	tx := types.NewTx(&types.LegacyTx{Nonce: 1, Gas: 21000, GasPrice: big.NewInt(1), To: &testKeyAddr, Value: big.NewInt(1)})
	signed, err := acct.SignTx(tx, chainID)
	require.NoError(t, err)
	from, err := types.Sender(types.LatestSignerForChainID(chainID), signed)
	require.NoError(t, err)
	assert.Equal(t, testKeyAddr, from)

	acct.Wipe()
	_, err = acct.SignTx(tx, chainID)
	assert.ErrorIs(t, err, ErrWiped)
	acct.Wipe() // 重复调用无副作用
}

func TestResolver_ResolveAccount(t *testing.T) {
	sealer := testSealer(t, "server-secret")
	raw, _ := hex.DecodeString(testKeyHex)
	sealed, err := sealer.Seal(raw)
	require.NoError(t, err)

	users := newMemUsers(
		&model.User{ID: "ok", Active: true, EthereumAddress: testKeyAddr.Hex(), EthereumAccount: sealed},
		&model.User{ID: "no-wallet", Active: true},
		&model.User{ID: "deleted", Active: true, IsDeleted: true, EthereumAddress: testKeyAddr.Hex(), EthereumAccount: sealed},
		&model.User{ID: "corrupt", Active: true, EthereumAddress: testKeyAddr.Hex(), EthereumAccount: `{"version":1,"crypto":{"ciphertext":"zz"}}`},
		&model.User{ID: "mismatch", Active: true, EthereumAddress: "0x0000000000000000000000000000000000000001", EthereumAccount: sealed},
	)
	r := NewResolver(users, sealer, "")

	acct, err := r.ResolveAccount(context.Background(), "ok")
	require.NoError(t, err)
	assert.Equal(t, testKeyAddr, acct.Address)
	acct.Wipe()

	for id, want := range map[string]error{
		"missing":   errno.ErrAccountNotFound,
		"no-wallet": errno.ErrAccountNotFound,
		"deleted":   errno.ErrAccountNotFound,
		"corrupt":   errno.ErrDecryptionFailure,
		"mismatch":  errno.ErrDecryptionFailure,
	} {
		_, err := r.ResolveAccount(context.Background(), id)
		assert.ErrorIs(t, err, want, id)
	}

	// 轮换了 secret 的服务端无法解锁旧数据
	rotated := NewResolver(users, testSealer(t, "rotated-secret"), "")
	_, err = rotated.ResolveAccount(context.Background(), "ok")
	assert.ErrorIs(t, err, errno.ErrDecryptionFailure)
}

func TestResolver_ResolveAddress(t *testing.T) {
	users := newMemUsers(
		&model.User{ID: "ok", Active: true, EthereumAddress: testKeyAddr.Hex(), EthereumAccount: "not decrypted"},
		&model.User{ID: "no-wallet", Active: true},
	)
	// 不需要 sealer
	r := NewResolver(users, nil, "")

	addr, err := r.ResolveAddress(context.Background(), "ok")
	require.NoError(t, err)
	assert.Equal(t, testKeyAddr, addr)

	_, err = r.ResolveAddress(context.Background(), "no-wallet")
	assert.ErrorIs(t, err, errno.ErrAccountNotFound)
	_, err = r.ResolveAddress(context.Background(), "missing")
	assert.ErrorIs(t, err, errno.ErrAccountNotFound)
}

func TestResolver_LiquidityAccount(t *testing.T) {
	sealer := testSealer(t, "server-secret")

	plain := NewResolver(newMemUsers(), sealer, "0x"+testKeyHex)
	a1, err := plain.ResolveLiquidityAccount()
	require.NoError(t, err)
	a2, err := plain.ResolveLiquidityAccount()
	require.NoError(t, err)
	assert.Same(t, a1, a2)
	assert.Equal(t, testKeyAddr, a1.Address)

	raw, _ := hex.DecodeString(testKeyHex)
	sealed, err := sealer.Seal(raw)
	require.NoError(t, err)
	fromSealed, err := NewResolver(newMemUsers(), sealer, sealed).ResolveLiquidityAccount()
	require.NoError(t, err)
	assert.Equal(t, testKeyAddr, fromSealed.Address)

	_, err = NewResolver(newMemUsers(), sealer, "").ResolveLiquidityAccount()
	assert.ErrorIs(t, err, errno.ErrAccountNotFound)
	_, err = NewResolver(newMemUsers(), sealer, "0x1234").ResolveLiquidityAccount()
	assert.ErrorIs(t, err, errno.ErrDecryptionFailure)
}

func TestProvisioner_CreateWallet(t *testing.T) {
	sealer := testSealer(t, "server-secret")
	users := newMemUsers(&model.User{ID: "u1", Active: true})
	p := NewProvisioner(users, sealer, address.NewBTCGenerator(&chaincfg.TestNet3Params))

	info, err := p.CreateWallet(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, common.IsHexAddress(info.EthereumAddress))
	assert.NotEmpty(t, info.BitcoinAddress)

	// 开通后的账户可以被 Resolver 解锁
	acct, err := NewResolver(users, sealer, "").ResolveAccount(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, info.EthereumAddress, acct.Address.Hex())
	acct.Wipe()

	_, err = p.CreateWallet(context.Background(), "u1")
	assert.ErrorIs(t, err, errno.ErrWalletExists)

	_, err = p.CreateWallet(context.Background(), "nobody")
	assert.ErrorIs(t, err, errno.ErrAccountNotFound)
}
