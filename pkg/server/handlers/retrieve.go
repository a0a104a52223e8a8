package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/kgindex"
	"github.com/soundprediction/kgindex/pkg/server/dto"
	"github.com/soundprediction/kgindex/pkg/store"
)

// RetrieveHandler handles graph retrieval requests.
type RetrieveHandler struct {
	index *kgindex.Index
}

// NewRetrieveHandler creates a new retrieve handler.
func NewRetrieveHandler(index *kgindex.Index) *RetrieveHandler {
	return &RetrieveHandler{index: index}
}

// Retrieve handles POST /api/v1/retrieve.
func (h *RetrieveHandler) Retrieve(c *gin.Context) {
	var req dto.RetrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	var options *kgindex.RetrieveOptions
	if req.Depth != nil || req.Limit > 0 || req.SeedLimit > 0 || len(req.Filter) > 0 {
		options = &kgindex.RetrieveOptions{
			Depth:     kgindex.DefaultRetrieveDepth,
			Limit:     req.Limit,
			SeedLimit: req.SeedLimit,
			Filter:    store.MetadataFilter(req.Filter),
		}
		if req.Depth != nil {
			options.Depth = *req.Depth
		}
	}

	graph, err := h.index.Retrieve(c.Request.Context(), req.Query, options)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, kgindex.ErrEmptyQuery) {
			status = http.StatusBadRequest
		}
		c.JSON(status, dto.ErrorResponse{
			Error:   "retrieval_failed",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, graph)
}

// Stats handles GET /api/v1/stats.
func (h *RetrieveHandler) Stats(c *gin.Context) {
	stats, err := h.index.Stats(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "stats_failed",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, stats)
}
