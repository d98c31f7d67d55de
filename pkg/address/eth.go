package address

import (
	"encoding/hex"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

var (
	ErrInvalidAddress  = errors.New("invalid ethereum address")
	ErrChecksumInvalid = errors.New("ethereum address checksum mismatch")
)

// ParseETHAddress 校验用户输入的地址
// 全小写/全大写视为未带校验和，直接接受；大小写混合时必须满足 EIP-55
func ParseETHAddress(s string) (common.Address, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return common.Address{}, ErrInvalidAddress
	}
	body := s[2:]
	if len(body) != 40 {
		return common.Address{}, ErrInvalidAddress
	}
	if _, err := hex.DecodeString(body); err != nil {
		return common.Address{}, ErrInvalidAddress
	}

	lower, upper := strings.ToLower(body), strings.ToUpper(body)
	if body != lower && body != upper && body != ToChecksum(body) {
		return common.Address{}, ErrChecksumInvalid
	}
	addr := common.HexToAddress(body)
	if addr == (common.Address{}) {
		return common.Address{}, ErrInvalidAddress
	}
	return addr, nil
}

// IsValidETHAddress 供 validator 的自定义 tag 使用
func IsValidETHAddress(s string) bool {
	_, err := ParseETHAddress(s)
	return err == nil
}

// ToChecksum 实现 EIP-55 混合大小写校验 (输入不带 0x)
func ToChecksum(address string) string {
	address = strings.ToLower(address)
	hash := keccak256([]byte(address))
	hexHash := hex.EncodeToString(hash)

	var sb strings.Builder
	for i := 0; i < len(address); i++ {
		char := address[i]
		// hash 的第 i 位 >= 8 时大写
		if hexCharToInt(hexHash[i]) >= 8 {
			sb.WriteString(strings.ToUpper(string(char)))
		} else {
			sb.WriteByte(char)
		}
	}
	return sb.String()
}

func keccak256(data []byte) []byte {
	hash := sha3.NewLegacyKeccak256()
	hash.Write(data)
	return hash.Sum(nil)
}

func hexCharToInt(c byte) byte {
	if c >= '0' && c <= '9' {
		return c - '0'
	}
	if c >= 'a' && c <= 'f' {
		return c - 'a' + 10
	}
	return 0
}
