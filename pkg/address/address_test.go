package address

import (
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseETHAddress(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"checksummed", "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", nil},
		{"lowercase", "0x5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", nil},
		{"bad checksum", "0x5AAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", ErrChecksumInvalid},
		{"no prefix", "5aaeb6053f3e94c9b9a09f33669435e7ef1beaed", ErrInvalidAddress},
		{"too short", "0x5aaeb6053f", ErrInvalidAddress},
		{"not hex", "0xzzzeb6053f3e94c9b9a09f33669435e7ef1beaed", ErrInvalidAddress},
		{"zero", "0x0000000000000000000000000000000000000000", ErrInvalidAddress},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr, err := ParseETHAddress(tt.input)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "0x5aAeb6053F3E94C9b9A09f33669435E7Ef1BeAed", addr.Hex())
		})
	}
}

func TestToChecksum(t *testing.T) {
	assert.Equal(t, "fB6916095ca1df60bB79Ce92cE3Ea74c37c5d359", ToChecksum("fb6916095ca1df60bb79ce92ce3ea74c37c5d359"))
}

func TestBTCGenerator_NewAccount(t *testing.T) {
	gen := NewBTCGenerator(&chaincfg.TestNet3Params)

	addr, wifStr, err := gen.NewAccount()
	require.NoError(t, err)

	decoded, err := btcutil.DecodeAddress(addr, &chaincfg.TestNet3Params)
	require.NoError(t, err)
	assert.True(t, decoded.IsForNet(&chaincfg.TestNet3Params))

	wif, err := btcutil.DecodeWIF(wifStr)
	require.NoError(t, err)
	again, err := gen.PubKeyToAddress(wif.SerializePubKey())
	require.NoError(t, err)
	assert.Equal(t, addr, again)
}

func TestNetworkByName(t *testing.T) {
	p, err := NetworkByName("regtest")
	require.NoError(t, err)
	assert.Equal(t, chaincfg.RegressionNetParams.Name, p.Name)

	_, err = NetworkByName("dogenet")
	assert.Error(t, err)
}
