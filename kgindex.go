package kgindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/soundprediction/kgindex/pkg/canonical"
	"github.com/soundprediction/kgindex/pkg/config"
	"github.com/soundprediction/kgindex/pkg/embedder"
	"github.com/soundprediction/kgindex/pkg/extract"
	"github.com/soundprediction/kgindex/pkg/store"
)

var (
	// ErrNilStore is returned when New is called without a graph store.
	ErrNilStore = errors.New("graph store is required")
	// ErrNilExtractor is returned when New is called without an extractor.
	ErrNilExtractor = errors.New("extractor is required")
	// ErrEmptyQuery is returned when Retrieve is called with an empty query.
	ErrEmptyQuery = errors.New("query cannot be empty")
)

// Index is the main entry point. It owns the ingestion pipeline and the
// retrieval traversal, delegating persistence, extraction, and embedding to
// the injected collaborators.
type Index struct {
	store     store.GraphStore
	extractor extract.Extractor
	embedder  embedder.Client
	canon     *canonical.Canonicalizer
	cfg       config.Graph
	logger    *slog.Logger
}

// New creates an Index. The embedder client may be nil, which disables
// fuzzy entity merging and embedding-seeded retrieval. The logger may be
// nil, in which case slog.Default() is used.
func New(graphStore store.GraphStore, extractor extract.Extractor, embedderClient embedder.Client, cfg config.Graph, logger *slog.Logger) (*Index, error) {
	if graphStore == nil {
		return nil, ErrNilStore
	}
	if extractor == nil {
		return nil, ErrNilExtractor
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid graph configuration: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}

	// Normalization and the fuzzy merge path are both part of
	// canonicalization; with the toggle off, raw names are kept verbatim and
	// entities merge on exact raw-name identity only.
	opts := []canonical.Option{}
	if cfg.CanonicalizationOn() {
		opts = append(opts, canonical.WithPreservedCase(cfg.PreserveCaseEntities))
		if embedderClient != nil {
			opts = append(opts, canonical.WithFuzzyMerge(cfg.EffectiveDistanceThreshold()))
		}
	} else {
		opts = append(opts, canonical.WithRawNames())
	}

	return &Index{
		store:     graphStore,
		extractor: extractor,
		embedder:  embedderClient,
		canon:     canonical.New(opts...),
		cfg:       cfg,
		logger:    logger,
	}, nil
}

// Store returns the underlying graph store.
func (ix *Index) Store() store.GraphStore {
	return ix.store
}

// Stats returns aggregate graph counts.
func (ix *Index) Stats(ctx context.Context) (*store.GraphStats, error) {
	return ix.store.Stats(ctx)
}

// Reset removes all entities and relationships from the graph.
func (ix *Index) Reset(ctx context.Context) error {
	ix.logger.Warn("resetting knowledge graph")
	return ix.store.Reset(ctx)
}

// Close releases the store and embedder resources.
func (ix *Index) Close() error {
	var errs []error
	if ix.embedder != nil {
		if err := ix.embedder.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close embedder: %w", err))
		}
	}
	if err := ix.store.Close(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close store: %w", err))
	}
	return errors.Join(errs...)
}
