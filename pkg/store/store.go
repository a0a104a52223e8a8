package store

import (
	"context"
	"errors"

	"github.com/soundprediction/kgindex/pkg/types"
)

var (
	// ErrEntityNotFound is returned when an entity lookup misses.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrClosed is returned when the store has been closed.
	ErrClosed = errors.New("store is closed")
)

// MetadataFilter is a set of exact-match predicates over entity metadata.
// A nil or empty filter matches everything.
type MetadataFilter map[string]any

// Matches reports whether the entity satisfies every predicate.
func (f MetadataFilter) Matches(e *types.Entity) bool {
	if len(f) == 0 {
		return true
	}
	for k, want := range f {
		got, ok := e.Metadata[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

// ScoredMatch pairs an entity with its similarity to a query vector.
type ScoredMatch struct {
	Entity     *types.Entity
	Similarity float64
}

// GraphStats reports aggregate counts for observability.
type GraphStats struct {
	EntityCount       int64 `json:"entity_count"`
	RelationshipCount int64 `json:"relationship_count"`
}

// Reader provides the read-only operations shared by the store and its
// transactions. Retrieval depends on Reader only.
type Reader interface {
	// GetEntityByCanonicalID returns the entity with the given canonical
	// id, or ErrEntityNotFound.
	GetEntityByCanonicalID(ctx context.Context, canonicalID string) (*types.Entity, error)

	// GetEntities returns the entities with the given canonical ids,
	// silently skipping missing ones.
	GetEntities(ctx context.Context, canonicalIDs []string) ([]*types.Entity, error)

	// SearchEntitiesBySimilarity returns entities whose description
	// embedding has cosine similarity >= threshold with the query vector,
	// best first, restricted by the optional metadata filter.
	SearchEntitiesBySimilarity(ctx context.Context, embedding []float32, threshold float64, limit int, filter MetadataFilter) ([]ScoredMatch, error)

	// ListRelationshipsByChunk returns every relationship extracted from
	// the given chunk. A non-empty result is the idempotency marker.
	ListRelationshipsByChunk(ctx context.Context, chunkID string) ([]*types.Relationship, error)

	// ListRelationships returns every relationship touching the entity,
	// in either direction, with stored direction preserved.
	ListRelationships(ctx context.Context, entityID string) ([]*types.Relationship, error)

	// ListOutgoingRelationships returns relationships whose source is the
	// given entity.
	ListOutgoingRelationships(ctx context.Context, entityID string) ([]*types.Relationship, error)

	// CountOutgoingEdges returns the entity's outgoing edge count.
	CountOutgoingEdges(ctx context.Context, entityID string) (int, error)

	// Stats returns aggregate graph counts.
	Stats(ctx context.Context) (*GraphStats, error)
}

// Tx exposes mutations inside a per-chunk transactional scope. All reads
// performed through a Tx observe the transaction's own writes.
type Tx interface {
	Reader

	// UpsertEntity inserts or replaces an entity keyed by canonical id.
	UpsertEntity(ctx context.Context, entity *types.Entity) error

	// UpsertRelationship inserts or replaces a relationship keyed by id.
	UpsertRelationship(ctx context.Context, rel *types.Relationship) error

	// GetRelationshipBetween returns the relationship (source, target) of
	// the given type, or nil when absent. Used to avoid duplicating
	// symmetric mirrors.
	GetRelationshipBetween(ctx context.Context, sourceID, targetID string, relType types.RelationType) (*types.Relationship, error)

	// DeleteRelationships removes relationships by id.
	DeleteRelationships(ctx context.Context, ids []string) error
}

// GraphStore is the persistent graph storage collaborator. Update scopes a
// transaction per chunk: concurrent Update calls touching overlapping
// entities are serialized by the implementation so a chunk's batch is
// applied atomically or not at all.
type GraphStore interface {
	Reader

	// Update runs fn inside a write transaction. If fn returns an error
	// the transaction's mutations are discarded.
	Update(ctx context.Context, fn func(tx Tx) error) error

	// Reset removes all entities and relationships.
	Reset(ctx context.Context) error

	// Close releases resources held by the store.
	Close() error
}
