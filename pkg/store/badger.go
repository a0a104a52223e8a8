package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/soundprediction/kgindex/pkg/canonical"
	"github.com/soundprediction/kgindex/pkg/types"
)

const (
	entityPrefix       = "e:"
	relationshipPrefix = "r:"
)

// BadgerStore implements GraphStore on an embedded Badger database for
// single-process deployments that need persistence without a graph server.
// Entities and relationships are stored as JSON values under prefixed keys;
// lookups beyond the primary key are prefix scans.
type BadgerStore struct {
	db *badger.DB
	// writeMu serializes Update calls. Badger transactions are optimistic
	// and would abort on overlapping writes; the mutation path requires
	// serialized per-chunk applies instead of retry loops.
	writeMu sync.Mutex
}

// NewBadgerStore opens (or creates) a Badger-backed store at path.
func NewBadgerStore(path string) (*BadgerStore, error) {
	opts := badger.DefaultOptions(path)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func entityKey(id string) []byte       { return []byte(entityPrefix + id) }
func relationshipKey(id string) []byte { return []byte(relationshipPrefix + id) }

func decodeEntity(val []byte) (*types.Entity, error) {
	var e types.Entity
	if err := json.Unmarshal(val, &e); err != nil {
		return nil, fmt.Errorf("failed to decode entity: %w", err)
	}
	return &e, nil
}

func decodeRelationship(val []byte) (*types.Relationship, error) {
	var r types.Relationship
	if err := json.Unmarshal(val, &r); err != nil {
		return nil, fmt.Errorf("failed to decode relationship: %w", err)
	}
	return &r, nil
}

func (s *BadgerStore) view(fn func(tx *badgerTx) error) error {
	return s.db.View(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

// GetEntityByCanonicalID implements Reader.
func (s *BadgerStore) GetEntityByCanonicalID(ctx context.Context, canonicalID string) (*types.Entity, error) {
	var out *types.Entity
	err := s.view(func(tx *badgerTx) error {
		var err error
		out, err = tx.GetEntityByCanonicalID(ctx, canonicalID)
		return err
	})
	return out, err
}

// GetEntities implements Reader.
func (s *BadgerStore) GetEntities(ctx context.Context, canonicalIDs []string) ([]*types.Entity, error) {
	var out []*types.Entity
	err := s.view(func(tx *badgerTx) error {
		var err error
		out, err = tx.GetEntities(ctx, canonicalIDs)
		return err
	})
	return out, err
}

// SearchEntitiesBySimilarity implements Reader.
func (s *BadgerStore) SearchEntitiesBySimilarity(ctx context.Context, embedding []float32, threshold float64, limit int, filter MetadataFilter) ([]ScoredMatch, error) {
	var out []ScoredMatch
	err := s.view(func(tx *badgerTx) error {
		var err error
		out, err = tx.SearchEntitiesBySimilarity(ctx, embedding, threshold, limit, filter)
		return err
	})
	return out, err
}

// ListRelationshipsByChunk implements Reader.
func (s *BadgerStore) ListRelationshipsByChunk(ctx context.Context, chunkID string) ([]*types.Relationship, error) {
	var out []*types.Relationship
	err := s.view(func(tx *badgerTx) error {
		var err error
		out, err = tx.ListRelationshipsByChunk(ctx, chunkID)
		return err
	})
	return out, err
}

// ListRelationships implements Reader.
func (s *BadgerStore) ListRelationships(ctx context.Context, entityID string) ([]*types.Relationship, error) {
	var out []*types.Relationship
	err := s.view(func(tx *badgerTx) error {
		var err error
		out, err = tx.ListRelationships(ctx, entityID)
		return err
	})
	return out, err
}

// ListOutgoingRelationships implements Reader.
func (s *BadgerStore) ListOutgoingRelationships(ctx context.Context, entityID string) ([]*types.Relationship, error) {
	var out []*types.Relationship
	err := s.view(func(tx *badgerTx) error {
		var err error
		out, err = tx.ListOutgoingRelationships(ctx, entityID)
		return err
	})
	return out, err
}

// CountOutgoingEdges implements Reader.
func (s *BadgerStore) CountOutgoingEdges(ctx context.Context, entityID string) (int, error) {
	var out int
	err := s.view(func(tx *badgerTx) error {
		var err error
		out, err = tx.CountOutgoingEdges(ctx, entityID)
		return err
	})
	return out, err
}

// Stats implements Reader.
func (s *BadgerStore) Stats(ctx context.Context) (*GraphStats, error) {
	var out *GraphStats
	err := s.view(func(tx *badgerTx) error {
		var err error
		out, err = tx.Stats(ctx)
		return err
	})
	return out, err
}

// Update implements GraphStore. Writers are serialized so a per-chunk batch
// commits atomically without optimistic-conflict retries.
func (s *BadgerStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.Update(func(txn *badger.Txn) error {
		return fn(&badgerTx{txn: txn})
	})
}

// Reset implements GraphStore.
func (s *BadgerStore) Reset(ctx context.Context) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.db.DropAll()
}

// Close implements GraphStore.
func (s *BadgerStore) Close() error {
	return s.db.Close()
}

// badgerTx implements Tx over a badger transaction. Badger transactions
// already observe their own writes.
type badgerTx struct {
	txn *badger.Txn
}

func (t *badgerTx) eachEntity(visit func(e *types.Entity) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(entityPrefix)
	it := t.txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		err := it.Item().Value(func(val []byte) error {
			e, err := decodeEntity(val)
			if err != nil {
				return err
			}
			return visit(e)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *badgerTx) eachRelationship(visit func(r *types.Relationship) error) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = []byte(relationshipPrefix)
	it := t.txn.NewIterator(opts)
	defer it.Close()
	for it.Rewind(); it.Valid(); it.Next() {
		err := it.Item().Value(func(val []byte) error {
			r, err := decodeRelationship(val)
			if err != nil {
				return err
			}
			return visit(r)
		})
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *badgerTx) GetEntityByCanonicalID(ctx context.Context, canonicalID string) (*types.Entity, error) {
	item, err := t.txn.Get(entityKey(canonicalID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrEntityNotFound
	}
	if err != nil {
		return nil, err
	}
	var out *types.Entity
	err = item.Value(func(val []byte) error {
		var derr error
		out, derr = decodeEntity(val)
		return derr
	})
	return out, err
}

func (t *badgerTx) GetEntities(ctx context.Context, canonicalIDs []string) ([]*types.Entity, error) {
	out := make([]*types.Entity, 0, len(canonicalIDs))
	for _, id := range canonicalIDs {
		e, err := t.GetEntityByCanonicalID(ctx, id)
		if errors.Is(err, ErrEntityNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

func (t *badgerTx) SearchEntitiesBySimilarity(ctx context.Context, embedding []float32, threshold float64, limit int, filter MetadataFilter) ([]ScoredMatch, error) {
	if len(embedding) == 0 {
		return []ScoredMatch{}, nil
	}
	var matches []ScoredMatch
	err := t.eachEntity(func(e *types.Entity) error {
		if !filter.Matches(e) {
			return nil
		}
		sim := canonical.CosineSimilarity(embedding, e.Embedding)
		if sim >= threshold {
			matches = append(matches, ScoredMatch{Entity: e, Similarity: sim})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Similarity != matches[j].Similarity {
			return matches[i].Similarity > matches[j].Similarity
		}
		return matches[i].Entity.ID < matches[j].Entity.ID
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

func (t *badgerTx) ListRelationshipsByChunk(ctx context.Context, chunkID string) ([]*types.Relationship, error) {
	var out []*types.Relationship
	err := t.eachRelationship(func(r *types.Relationship) error {
		if r.ChunkID == chunkID {
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRelationships(out)
	return out, nil
}

func (t *badgerTx) ListRelationships(ctx context.Context, entityID string) ([]*types.Relationship, error) {
	var out []*types.Relationship
	err := t.eachRelationship(func(r *types.Relationship) error {
		if r.SourceID == entityID || r.TargetID == entityID {
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRelationships(out)
	return out, nil
}

func (t *badgerTx) ListOutgoingRelationships(ctx context.Context, entityID string) ([]*types.Relationship, error) {
	var out []*types.Relationship
	err := t.eachRelationship(func(r *types.Relationship) error {
		if r.SourceID == entityID {
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortRelationships(out)
	return out, nil
}

func (t *badgerTx) CountOutgoingEdges(ctx context.Context, entityID string) (int, error) {
	count := 0
	err := t.eachRelationship(func(r *types.Relationship) error {
		if r.SourceID == entityID {
			count++
		}
		return nil
	})
	return count, err
}

func (t *badgerTx) Stats(ctx context.Context) (*GraphStats, error) {
	stats := &GraphStats{}
	if err := t.eachEntity(func(*types.Entity) error { stats.EntityCount++; return nil }); err != nil {
		return nil, err
	}
	if err := t.eachRelationship(func(*types.Relationship) error { stats.RelationshipCount++; return nil }); err != nil {
		return nil, err
	}
	return stats, nil
}

func (t *badgerTx) UpsertEntity(ctx context.Context, entity *types.Entity) error {
	if err := entity.Validate(); err != nil {
		return err
	}
	val, err := json.Marshal(entity)
	if err != nil {
		return fmt.Errorf("failed to encode entity: %w", err)
	}
	return t.txn.Set(entityKey(entity.ID), val)
}

func (t *badgerTx) UpsertRelationship(ctx context.Context, rel *types.Relationship) error {
	if err := rel.Validate(); err != nil {
		return err
	}
	val, err := json.Marshal(rel)
	if err != nil {
		return fmt.Errorf("failed to encode relationship: %w", err)
	}
	return t.txn.Set(relationshipKey(rel.ID), val)
}

func (t *badgerTx) GetRelationshipBetween(ctx context.Context, sourceID, targetID string, relType types.RelationType) (*types.Relationship, error) {
	var found *types.Relationship
	err := t.eachRelationship(func(r *types.Relationship) error {
		if found == nil && r.SourceID == sourceID && r.TargetID == targetID && r.Type == relType {
			found = r
		}
		return nil
	})
	return found, err
}

func (t *badgerTx) DeleteRelationships(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := t.txn.Delete(relationshipKey(id)); err != nil {
			return err
		}
	}
	return nil
}
