package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundprediction/kgindex"
	"github.com/soundprediction/kgindex/pkg/server/dto"
	"github.com/soundprediction/kgindex/pkg/types"
)

// defaultChunkSize is used when an ingest-text request leaves the chunk
// size unset.
const defaultChunkSize = 2000

// IngestHandler handles graph ingestion requests.
type IngestHandler struct {
	index  *kgindex.Index
	logger *slog.Logger
}

// NewIngestHandler creates a new ingest handler.
func NewIngestHandler(index *kgindex.Index, logger *slog.Logger) *IngestHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &IngestHandler{index: index, logger: logger}
}

// AddChunks handles POST /api/v1/ingest/chunks. Ingestion runs
// synchronously and the per-chunk results are returned in request order.
func (h *IngestHandler) AddChunks(c *gin.Context) {
	var req dto.IngestChunksRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}
	if len(req.Chunks) == 0 {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_request",
			Message: "chunks array cannot be empty",
		})
		return
	}

	chunks := make([]types.Chunk, len(req.Chunks))
	for i, p := range req.Chunks {
		chunks[i] = types.Chunk{ID: p.ID, Text: p.Text}
	}

	results, err := h.index.AddChunks(c.Request.Context(), chunks)
	if err != nil {
		h.logger.Error("chunk ingestion failed", "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "ingestion_failed",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, results)
}

// AddText handles POST /api/v1/ingest/text: the document is split into
// chunks server-side, then ingested.
func (h *IngestHandler) AddText(c *gin.Context) {
	var req dto.IngestTextRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{
			Error:   "invalid_request",
			Message: err.Error(),
		})
		return
	}

	chunkSize := req.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	chunks := kgindex.SplitText(req.DocumentID, req.Text, chunkSize)

	results, err := h.index.AddChunks(c.Request.Context(), chunks)
	if err != nil {
		h.logger.Error("text ingestion failed", "document_id", req.DocumentID, "error", err)
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "ingestion_failed",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, results)
}

// ClearGraph handles DELETE /api/v1/ingest/clear.
func (h *IngestHandler) ClearGraph(c *gin.Context) {
	if err := h.index.Reset(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{
			Error:   "clear_failed",
			Message: err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cleared"})
}
