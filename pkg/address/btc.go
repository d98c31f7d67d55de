package address

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// BTCGenerator 比特币账户生成器，钱包开通时和 ETH 账户一起生成
type BTCGenerator struct {
	network *chaincfg.Params
}

func NewBTCGenerator(network *chaincfg.Params) *BTCGenerator {
	return &BTCGenerator{network: network}
}

// NetworkByName mainnet / testnet3 / regtest
func NetworkByName(name string) (*chaincfg.Params, error) {
	switch name {
	case "mainnet", "":
		return &chaincfg.MainNetParams, nil
	case "testnet3", "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("unknown btc network %q", name)
	}
}

// NewAccount 生成新的 P2PKH 地址，返回地址和 WIF 私钥
func (g *BTCGenerator) NewAccount() (string, string, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return "", "", err
	}

	wif, err := btcutil.NewWIF(priv, g.network, true)
	if err != nil {
		return "", "", err
	}

	addr, err := g.PubKeyToAddress(priv.PubKey().SerializeCompressed())
	if err != nil {
		return "", "", err
	}
	return addr, wif.String(), nil
}

// PubKeyToAddress 将公钥字节 (压缩格式) 转换为 P2PKH 地址
func (g *BTCGenerator) PubKeyToAddress(pubKeyBytes []byte) (string, error) {
	addr, err := btcutil.NewAddressPubKey(pubKeyBytes, g.network)
	if err != nil {
		return "", err
	}
	return addr.AddressPubKeyHash().EncodeAddress(), nil
}
