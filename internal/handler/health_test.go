package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"wallet-relay/internal/handler"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChain struct {
	block uint64
	err   error
}

func (f fakeChain) BlockNumber(context.Context) (uint64, error) { return f.block, f.err }

type fakeOutbox int64

func (f fakeOutbox) CountPendingOutbox(context.Context) (int64, error) { return int64(f), nil }

func healthOf(t *testing.T, h *handler.HealthHandler) (int, map[string]interface{}) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/health", h.Check)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	var body struct {
		Data map[string]interface{} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body.Data
}

func TestHealth(t *testing.T) {
	code, data := healthOf(t, handler.NewHealthHandler(fakeChain{block: 42}, fakeOutbox(3)))
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "UP", data["status"])
	assert.EqualValues(t, 42, data["block_number"])
	assert.EqualValues(t, 3, data["outbox_pending"])

	code, data = healthOf(t, handler.NewHealthHandler(fakeChain{err: errors.New("dial tcp: refused")}, nil))
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "DEGRADED", data["status"])
	assert.NotContains(t, data, "block_number")
}
