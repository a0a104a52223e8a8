// Package dto defines the HTTP request and response shapes.
package dto

// ChunkPayload is one chunk submitted for ingestion.
type ChunkPayload struct {
	ID   string `json:"id" binding:"required"`
	Text string `json:"text" binding:"required"`
}

// IngestChunksRequest is the body for POST /api/v1/ingest/chunks.
type IngestChunksRequest struct {
	Chunks []ChunkPayload `json:"chunks" binding:"required"`
}

// IngestTextRequest is the body for POST /api/v1/ingest/text. The server
// splits the document into chunks before ingestion.
type IngestTextRequest struct {
	// DocumentID prefixes the generated chunk ids.
	DocumentID string `json:"document_id" binding:"required"`
	Text       string `json:"text" binding:"required"`
	// ChunkSize is the approximate chunk size in characters. Zero uses the
	// server default.
	ChunkSize int `json:"chunk_size"`
}

// RetrieveRequest is the body for POST /api/v1/retrieve.
type RetrieveRequest struct {
	Query string `json:"query" binding:"required"`
	// Depth is the traversal depth. Nil uses the default; zero or negative
	// returns seed entities only.
	Depth     *int           `json:"depth"`
	Limit     int            `json:"limit"`
	SeedLimit int            `json:"seed_limit"`
	Filter    map[string]any `json:"filter"`
}

// ErrorResponse is the uniform error body.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// HealthResponse reports service health.
type HealthResponse struct {
	Status string `json:"status"`
}
