package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/kgindex"
	"github.com/soundprediction/kgindex/pkg/server/dto"
)

// HealthHandler handles health and readiness probes.
type HealthHandler struct {
	index *kgindex.Index
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(index *kgindex.Index) *HealthHandler {
	return &HealthHandler{index: index}
}

// HealthCheck handles GET /health.
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, dto.HealthResponse{Status: "ok"})
}

// ReadinessCheck handles GET /ready. The service is ready when the graph
// store answers a stats query.
func (h *HealthHandler) ReadinessCheck(c *gin.Context) {
	if _, err := h.index.Stats(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, dto.ErrorResponse{
			Error:   "store_unavailable",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, dto.HealthResponse{Status: "ready"})
}
