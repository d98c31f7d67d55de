package keystore

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"wallet-relay/pkg/crypto_util"

	"golang.org/x/crypto/scrypt"
)

// SealedKey 存储在 users.ethereum_account / bitcoin_account 里的 JSON 结构
// 参照 Ethereum Keystore V3 的字段风格，密文由 AES-256-GCM 自带认证，不再单独计算 MAC
type SealedKey struct {
	Version int        `json:"version"`
	Crypto  CryptoJSON `json:"crypto"`
}

type CryptoJSON struct {
	Cipher     string    `json:"cipher"`     // "aes-256-gcm"
	CipherText string    `json:"ciphertext"` // hex(nonce + ciphertext)
	KDF        string    `json:"kdf"`        // "scrypt"
	KDFParams  KDFParams `json:"kdfparams"`
}

type KDFParams struct {
	DKLen int    `json:"dklen"`
	N     int    `json:"n"`
	R     int    `json:"r"`
	P     int    `json:"p"`
	Salt  string `json:"salt"`
}

const (
	version     = 1
	scryptR     = 8
	scryptP     = 1
	scryptDKLen = 32

	DefaultScryptN = 1 << 15
)

var (
	ErrEmptySecret = errors.New("keystore: wallet secret is empty")
	ErrMalformed   = errors.New("keystore: malformed sealed key")
	ErrOpen        = errors.New("keystore: wrong secret or corrupted data")
)

// Sealer 使用服务端 wallet secret 加解密私钥
type Sealer struct {
	secret  []byte
	scryptN int
}

func NewSealer(secret string, scryptN int) (*Sealer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	if scryptN <= 1 {
		scryptN = DefaultScryptN
	}
	return &Sealer{secret: []byte(secret), scryptN: scryptN}, nil
}

// Seal 加密明文并序列化为 JSON 字符串
func (s *Sealer) Seal(plaintext []byte) (string, error) {
	salt := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", err
	}

	derivedKey, err := scrypt.Key(s.secret, salt, s.scryptN, scryptR, scryptP, scryptDKLen)
	if err != nil {
		return "", err
	}
	defer crypto_util.Zero(derivedKey)

	ciphertext, err := crypto_util.EncryptAESGCM(derivedKey, plaintext)
	if err != nil {
		return "", err
	}

	data, err := json.Marshal(SealedKey{
		Version: version,
		Crypto: CryptoJSON{
			Cipher:     "aes-256-gcm",
			CipherText: hex.EncodeToString(ciphertext),
			KDF:        "scrypt",
			KDFParams: KDFParams{
				DKLen: scryptDKLen,
				N:     s.scryptN,
				R:     scryptR,
				P:     scryptP,
				Salt:  hex.EncodeToString(salt),
			},
		},
	})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Open 解密 Seal 产生的字符串。调用方负责在用完后 Zero 返回值
func (s *Sealer) Open(sealed string) ([]byte, error) {
	var key SealedKey
	if err := json.Unmarshal([]byte(sealed), &key); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if key.Crypto.KDF != "scrypt" || key.Crypto.Cipher != "aes-256-gcm" {
		return nil, fmt.Errorf("%w: unsupported %s/%s", ErrMalformed, key.Crypto.KDF, key.Crypto.Cipher)
	}

	salt, err := hex.DecodeString(key.Crypto.KDFParams.Salt)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid salt", ErrMalformed)
	}
	ciphertext, err := hex.DecodeString(key.Crypto.CipherText)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ciphertext", ErrMalformed)
	}

	p := key.Crypto.KDFParams
	derivedKey, err := scrypt.Key(s.secret, salt, p.N, p.R, p.P, p.DKLen)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	defer crypto_util.Zero(derivedKey)

	plaintext, err := crypto_util.DecryptAESGCM(derivedKey, ciphertext)
	if err != nil {
		return nil, ErrOpen
	}
	return plaintext, nil
}

// IsSealed 粗略判断字符串是否是 Seal 的输出 (配置里的流动性私钥允许直接给 hex)
func IsSealed(s string) bool {
	var key SealedKey
	return json.Unmarshal([]byte(s), &key) == nil && key.Crypto.CipherText != ""
}
