package account

import (
	"context"
	"errors"

	"wallet-relay/internal/model"
	"wallet-relay/internal/store"
	"wallet-relay/pkg/address"
	"wallet-relay/pkg/crypto_util"
	"wallet-relay/pkg/errno"
	"wallet-relay/pkg/keystore"
	"wallet-relay/pkg/logger"
	"wallet-relay/pkg/monitor"

	"go.uber.org/zap"
)

type WalletWriter interface {
	UserFinder
	SaveWallet(ctx context.Context, userID string, w model.Wallet) error
}

// WalletInfo 开通结果，只含公开信息
type WalletInfo struct {
	EthereumAddress string `json:"ethereum_address"`
	BitcoinAddress  string `json:"bitcoin_address"`
}

// Provisioner 为用户生成 ETH 和 BTC 账户，私钥加密后落库
type Provisioner struct {
	users  WalletWriter
	sealer *keystore.Sealer
	btc    *address.BTCGenerator
}

func NewProvisioner(users WalletWriter, sealer *keystore.Sealer, btc *address.BTCGenerator) *Provisioner {
	return &Provisioner{users: users, sealer: sealer, btc: btc}
}

func (p *Provisioner) CreateWallet(ctx context.Context, userID string) (*WalletInfo, error) {
	user, err := p.users.FindUser(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errno.ErrAccountNotFound
	}
	if err != nil {
		return nil, errno.ErrDatabase.WithCause(err)
	}
	if user.HasWallet() {
		return nil, errno.ErrWalletExists
	}

	eth, err := Generate()
	if err != nil {
		return nil, errno.InternalServerError.WithCause(err)
	}
	defer eth.Wipe()

	raw, err := eth.exportKey()
	if err != nil {
		return nil, errno.InternalServerError.WithCause(err)
	}
	sealedEth, err := p.sealer.Seal(raw)
	crypto_util.Zero(raw)
	if err != nil {
		return nil, errno.InternalServerError.WithCause(err)
	}

	btcAddr, wif, err := p.btc.NewAccount()
	if err != nil {
		return nil, errno.InternalServerError.WithCause(err)
	}
	sealedBtc, err := p.sealer.Seal([]byte(wif))
	if err != nil {
		return nil, errno.InternalServerError.WithCause(err)
	}

	w := model.Wallet{
		EthereumAddress: eth.Address.Hex(),
		EthereumAccount: sealedEth,
		BitcoinAddress:  btcAddr,
		BitcoinAccount:  sealedBtc,
	}
	if err := p.users.SaveWallet(ctx, userID, w); err != nil {
		if errors.Is(err, store.ErrWalletExists) {
			return nil, errno.ErrWalletExists
		}
		return nil, errno.ErrDatabase.WithCause(err)
	}

	monitor.Business.WalletProvisionedTotal.Inc()
	logger.Info("wallet provisioned",
		zap.String("user_id", userID),
		zap.String("address", w.EthereumAddress))

	return &WalletInfo{EthereumAddress: w.EthereumAddress, BitcoinAddress: btcAddr}, nil
}
