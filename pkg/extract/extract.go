package extract

import (
	"context"
	"errors"

	"github.com/soundprediction/kgindex/pkg/types"
)

// Extractor turns raw chunk text into a candidate graph fragment. It is an
// external collaborator: implementations may be slow, non-deterministic, or
// return malformed output, and callers must treat any failure as a
// single-chunk failure rather than a fatal error.
type Extractor interface {
	Extract(ctx context.Context, text string) (*types.Extraction, error)
}

var (
	// ErrEmptyResponse is returned when the model produced no usable output.
	ErrEmptyResponse = errors.New("extraction returned empty response")
	// ErrMalformedResponse is returned when output could not be decoded
	// even after repair.
	ErrMalformedResponse = errors.New("extraction returned malformed response")
)

// Func adapts a plain function to the Extractor interface. Useful in tests.
type Func func(ctx context.Context, text string) (*types.Extraction, error)

// Extract implements Extractor.
func (f Func) Extract(ctx context.Context, text string) (*types.Extraction, error) {
	return f(ctx, text)
}
