package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEntityMergeFrom(t *testing.T) {
	existing := &Entity{
		ID:             "e1",
		Name:           "TiDB",
		Description:    "a database",
		EntityType:     "technology",
		SourceChunkIDs: []string{"chunk-1"},
		Metadata:       map[string]any{"topic": "storage", "source": "doc-a"},
	}
	candidate := &Entity{
		ID:             "e1",
		Name:           "TiDB",
		Description:    "a distributed SQL database compatible with MySQL",
		SourceChunkIDs: []string{"chunk-1", "chunk-2"},
		Embedding:      []float32{0.1, 0.2},
		Metadata:       map[string]any{"source": "doc-b"},
	}

	existing.MergeFrom(candidate)

	// Richer description wins and brings its embedding along.
	assert.Equal(t, candidate.Description, existing.Description)
	assert.Equal(t, candidate.Embedding, existing.Embedding)

	// Chunk ids are unioned without duplicates.
	assert.Equal(t, []string{"chunk-1", "chunk-2"}, existing.SourceChunkIDs)

	// Metadata is merged last-writer-wins.
	assert.Equal(t, "doc-b", existing.Metadata["source"])
	assert.Equal(t, "storage", existing.Metadata["topic"])

	// Entity type is kept once set.
	assert.Equal(t, "technology", existing.EntityType)
}

func TestEntityMergeFromShorterDescription(t *testing.T) {
	existing := &Entity{
		ID:          "e1",
		Name:        "TiDB",
		Description: "a distributed SQL database",
		Embedding:   []float32{0.5},
	}
	existing.MergeFrom(&Entity{ID: "e1", Name: "TiDB", Description: "a db", Embedding: []float32{0.9}})

	assert.Equal(t, "a distributed SQL database", existing.Description)
	assert.Equal(t, []float32{0.5}, existing.Embedding)
}

func TestChunkValidate(t *testing.T) {
	assert.NoError(t, (&Chunk{ID: "c1", Text: "hello"}).Validate())
	assert.ErrorIs(t, (&Chunk{Text: "hello"}).Validate(), ErrEmptyID)
	assert.ErrorIs(t, (&Chunk{ID: "c1"}).Validate(), ErrEmptyText)
}

func TestIngestResultsSummarize(t *testing.T) {
	results := &IngestResults{
		Results: []ChunkResult{
			{ChunkID: "a", Status: ChunkProcessed},
			{ChunkID: "b", Status: ChunkSkipped},
			{ChunkID: "c", Status: ChunkFailed, Error: "boom"},
			{ChunkID: "d", Status: ChunkProcessed},
		},
	}
	results.Summarize()

	assert.Equal(t, 2, results.Processed)
	assert.Equal(t, 1, results.Skipped)
	assert.Equal(t, 1, results.Failed)
}
