package middleware

import (
	"testing"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sign(t *testing.T, claims jwt.MapClaims, key string) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
	require.NoError(t, err)
	return s
}

func TestParseUserID(t *testing.T) {
	id, err := ParseUserID(sign(t, jwt.MapClaims{"payload": "u1"}, "k"), "k")
	require.NoError(t, err)
	assert.Equal(t, "u1", id)

	id, err = ParseUserID(sign(t, jwt.MapClaims{"sub": "u2"}, "k"), "k")
	require.NoError(t, err)
	assert.Equal(t, "u2", id)

	_, err = ParseUserID(sign(t, jwt.MapClaims{"role": "x"}, "k"), "k")
	assert.Error(t, err)

	_, err = ParseUserID(sign(t, jwt.MapClaims{"payload": "u1"}, "k"), "wrong")
	assert.Error(t, err)

	_, err = ParseUserID("not-a-jwt", "k")
	assert.Error(t, err)
}
