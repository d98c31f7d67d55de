package keystore

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// 测试里用很小的 N，避免 scrypt 拖慢用例
const testN = 1 << 4

func TestSealOpen(t *testing.T) {
	sealer, err := NewSealer("secure-wallet-secret", testN)
	if err != nil {
		t.Fatalf("NewSealer failed: %v", err)
	}

	secret := bytes.Repeat([]byte{0xab}, 32)
	sealed, err := sealer.Seal(secret)
	if err != nil {
		t.Fatalf("Seal failed: %v", err)
	}
	if strings.Contains(sealed, strings.Repeat("ab", 32)) {
		t.Errorf("sealed output leaks plaintext")
	}
	if !IsSealed(sealed) {
		t.Errorf("IsSealed should recognise its own output")
	}

	plaintext, err := sealer.Open(sealed)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if !bytes.Equal(plaintext, secret) {
		t.Errorf("Open mismatch. Expected %x, got %x", secret, plaintext)
	}
}

func TestOpenWrongSecret(t *testing.T) {
	sealer, _ := NewSealer("secret-a", testN)
	other, _ := NewSealer("secret-b", testN)

	sealed, err := sealer.Seal([]byte("payload"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := other.Open(sealed); !errors.Is(err, ErrOpen) {
		t.Errorf("Expected ErrOpen with rotated secret, got %v", err)
	}
}

func TestOpenMalformed(t *testing.T) {
	sealer, _ := NewSealer("secret", testN)

	cases := []string{
		"",
		"not-json",
		`{"version":1,"crypto":{"cipher":"aes-128-ctr","kdf":"scrypt"}}`,
		`{"version":1,"crypto":{"cipher":"aes-256-gcm","kdf":"scrypt","ciphertext":"zz","kdfparams":{"salt":"00"}}}`,
	}
	for _, c := range cases {
		if _, err := sealer.Open(c); !errors.Is(err, ErrMalformed) {
			t.Errorf("Open(%q) expected ErrMalformed, got %v", c, err)
		}
	}
}

func TestNewSealerEmptySecret(t *testing.T) {
	if _, err := NewSealer("", testN); !errors.Is(err, ErrEmptySecret) {
		t.Errorf("Expected ErrEmptySecret, got %v", err)
	}
}
