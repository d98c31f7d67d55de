package chain

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
)

// MaxAllowance approve 时使用的无限额度
var MaxAllowance = new(big.Int).Set(math.MaxBig256)

func PackTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI.Pack("transfer", to, amount)
}

func PackTransferFrom(from, to common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI.Pack("transferFrom", from, to, amount)
}

func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI.Pack("approve", spender, amount)
}

func PackBalanceOf(owner common.Address) ([]byte, error) {
	return ERC20ABI.Pack("balanceOf", owner)
}

func PackAllowance(owner, spender common.Address) ([]byte, error) {
	return ERC20ABI.Pack("allowance", owner, spender)
}

// unpackUint 解析单个 uint256 返回值；空结果 (地址从未持有该 token) 视为 0
func unpackUint(method string, data []byte) (*big.Int, error) {
	if len(data) == 0 {
		return big.NewInt(0), nil
	}
	out, err := ERC20ABI.Unpack(method, data)
	if err != nil {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("unpack %s: unexpected %d outputs", method, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok || v == nil {
		return big.NewInt(0), nil
	}
	return v, nil
}
