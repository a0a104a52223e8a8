package embedder

import (
	"context"
	"errors"
)

// Client generates vector embeddings for text. Implementations handle
// batching internally based on provider limits.
type Client interface {
	// Embed generates embeddings for the given texts.
	Embed(ctx context.Context, texts []string) ([][]float32, error)

	// EmbedSingle generates an embedding for a single text.
	EmbedSingle(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the number of dimensions in the embeddings.
	Dimensions() int

	// Close cleans up any resources.
	Close() error
}

// ErrNoEmbeddings is returned when the provider returned no vectors.
var ErrNoEmbeddings = errors.New("no embeddings returned")
