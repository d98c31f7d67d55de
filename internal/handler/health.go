package handler

import (
	"context"
	"net/http"
	"time"

	"wallet-relay/internal/handler/response"
	"wallet-relay/pkg/errno"

	"github.com/gin-gonic/gin"
)

// ChainStatus 节点连通性，ethclient.Client 满足
type ChainStatus interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// OutboxCounter 未投递的事件数
type OutboxCounter interface {
	CountPendingOutbox(ctx context.Context) (int64, error)
}

type HealthHandler struct {
	chain   ChainStatus
	outbox  OutboxCounter
	timeout time.Duration
}

func NewHealthHandler(chain ChainStatus, outbox OutboxCounter) *HealthHandler {
	return &HealthHandler{chain: chain, outbox: outbox, timeout: 3 * time.Second}
}

// Check godoc
// @Summary Check system health
// @Description 节点不可达时返回 503，outbox 积压只做展示
// @Tags system
// @Produce  json
// @Success 200 {object} response.Response
// @Failure 503 {object} response.Response
// @Router /health [get]
func (h *HealthHandler) Check(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.timeout)
	defer cancel()

	data := gin.H{"status": "UP", "service": "wallet-relay"}
	if h.outbox != nil {
		if n, err := h.outbox.CountPendingOutbox(ctx); err == nil {
			data["outbox_pending"] = n
		}
	}

	block, err := h.chain.BlockNumber(ctx)
	if err != nil {
		data["status"] = "DEGRADED"
		c.JSON(http.StatusServiceUnavailable, response.Response{
			Status:  false,
			Message: errno.ErrProviderUnavailable.Message,
			Data:    data,
		})
		return
	}
	data["block_number"] = block
	response.Success(c, data)
}
