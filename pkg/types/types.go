package types

import (
	"errors"
	"time"
)

// Validation errors
var (
	ErrEmptyName = errors.New("name cannot be empty")
	ErrEmptyID   = errors.New("id cannot be empty")
	ErrEmptyText = errors.New("text cannot be empty")
)

// Entity represents a canonicalized entity node in the knowledge graph.
// Two entities with the same ID describe the same real-world concept and
// are always merged, never stored as separate rows.
type Entity struct {
	// ID is the canonical id derived from the normalized name and the
	// description prefix. Stable across re-extraction.
	ID string `json:"id" mapstructure:"id"`
	// Name is the raw name as extracted, before normalization.
	Name        string `json:"name" mapstructure:"name"`
	Description string `json:"description,omitempty" mapstructure:"description"`
	EntityType  string `json:"entity_type,omitempty" mapstructure:"entity_type"`

	// Metadata is an open key-value map. On merge, conflicting keys are
	// resolved last-writer-wins.
	Metadata map[string]any `json:"metadata,omitempty" mapstructure:"metadata"`

	// SourceChunkIDs records every chunk that contributed this entity.
	SourceChunkIDs []string `json:"source_chunk_ids,omitempty" mapstructure:"source_chunk_ids"`

	// Embedding of the description, used for fuzzy merging and retrieval seeding.
	Embedding []float32 `json:"embedding,omitempty" mapstructure:"embedding"`

	CreatedAt time.Time `json:"created_at" mapstructure:"created_at"`
	UpdatedAt time.Time `json:"updated_at" mapstructure:"updated_at"`
}

// Validate checks if the Entity has all required fields set.
func (e *Entity) Validate() error {
	if e.Name == "" {
		return ErrEmptyName
	}
	if e.ID == "" {
		return ErrEmptyID
	}
	return nil
}

// MergeFrom folds a newly extracted candidate into an existing entity.
// The source chunk set is unioned, the richer description wins, and
// metadata keys are merged last-writer-wins.
func (e *Entity) MergeFrom(candidate *Entity) {
	if candidate == nil {
		return
	}
	if len(candidate.Description) > len(e.Description) {
		e.Description = candidate.Description
		if len(candidate.Embedding) > 0 {
			e.Embedding = candidate.Embedding
		}
	}
	if e.EntityType == "" {
		e.EntityType = candidate.EntityType
	}
	for _, id := range candidate.SourceChunkIDs {
		if !containsString(e.SourceChunkIDs, id) {
			e.SourceChunkIDs = append(e.SourceChunkIDs, id)
		}
	}
	if len(candidate.Metadata) > 0 {
		if e.Metadata == nil {
			e.Metadata = make(map[string]any, len(candidate.Metadata))
		}
		// Last writer wins on conflicting keys.
		for k, v := range candidate.Metadata {
			e.Metadata[k] = v
		}
	}
	e.UpdatedAt = time.Now().UTC()
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Chunk is an externally-owned unit of source text submitted for extraction.
// The index only references chunks by identity.
type Chunk struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// Validate checks if the Chunk has all required fields set.
func (c *Chunk) Validate() error {
	if c.ID == "" {
		return ErrEmptyID
	}
	if c.Text == "" {
		return ErrEmptyText
	}
	return nil
}

// ChunkStatus describes the outcome of processing a single chunk.
type ChunkStatus string

const (
	// ChunkProcessed means the chunk's fragment was applied to the graph.
	ChunkProcessed ChunkStatus = "processed"
	// ChunkSkipped means the chunk had already contributed relationships
	// to the graph and was treated as a successful no-op.
	ChunkSkipped ChunkStatus = "skipped"
	// ChunkFailed means extraction, application, or the per-chunk timeout
	// failed this chunk. Other chunks in the batch are unaffected.
	ChunkFailed ChunkStatus = "failed"
)

// ChunkResult is the per-chunk outcome of an ingestion run. A batch call
// always returns one ChunkResult per input chunk, in input order.
type ChunkResult struct {
	ChunkID string      `json:"chunk_id"`
	Status  ChunkStatus `json:"status"`

	// Counts of graph elements accepted for this chunk.
	EntityCount       int `json:"entity_count"`
	RelationshipCount int `json:"relationship_count"`

	// Error holds the failure reason when Status is ChunkFailed.
	Error string `json:"error,omitempty"`

	Duration time.Duration `json:"duration"`
}

// Failed reports whether the chunk failed processing.
func (r *ChunkResult) Failed() bool {
	return r.Status == ChunkFailed
}

// IngestResults summarizes an ingestion run over a chunk batch.
type IngestResults struct {
	// Results holds one entry per input chunk, in the caller's order.
	Results []ChunkResult `json:"results"`

	Processed int `json:"processed"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`

	TotalDuration time.Duration `json:"total_duration"`
}

// Summarize recomputes the aggregate counters from Results.
func (r *IngestResults) Summarize() {
	r.Processed, r.Skipped, r.Failed = 0, 0, 0
	for i := range r.Results {
		switch r.Results[i].Status {
		case ChunkProcessed:
			r.Processed++
		case ChunkSkipped:
			r.Skipped++
		case ChunkFailed:
			r.Failed++
		}
	}
}

// ScoredEntity pairs an entity with its traversal relevance score.
type ScoredEntity struct {
	Entity *Entity `json:"entity"`
	Score  float64 `json:"score"`
	// Depth is the number of hops from the seed set (0 for seeds).
	Depth int `json:"depth"`
}

// RetrievedGraph is the ranked subgraph returned by retrieval. Entities are
// ordered by score descending with ties broken by canonical id.
type RetrievedGraph struct {
	Query         string          `json:"query"`
	Entities      []ScoredEntity  `json:"entities"`
	Relationships []*Relationship `json:"relationships"`
}
