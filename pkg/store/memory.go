package store

import (
	"context"
	"sort"
	"sync"

	"github.com/soundprediction/kgindex/pkg/canonical"
	"github.com/soundprediction/kgindex/pkg/types"
)

// MemoryStore is an in-memory GraphStore. It is the zero-dependency default
// and the backing store for tests. Update serializes writers behind a single
// mutex, which also provides the per-chunk atomicity the mutation path
// requires.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[string]*types.Entity
	rels     map[string]*types.Relationship
	closed   bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entities: make(map[string]*types.Entity),
		rels:     make(map[string]*types.Relationship),
	}
}

func cloneEntity(e *types.Entity) *types.Entity {
	if e == nil {
		return nil
	}
	out := *e
	if e.Metadata != nil {
		out.Metadata = make(map[string]any, len(e.Metadata))
		for k, v := range e.Metadata {
			out.Metadata[k] = v
		}
	}
	out.SourceChunkIDs = append([]string(nil), e.SourceChunkIDs...)
	out.Embedding = append([]float32(nil), e.Embedding...)
	return &out
}

func cloneRelationship(r *types.Relationship) *types.Relationship {
	if r == nil {
		return nil
	}
	out := *r
	return &out
}

// GetEntityByCanonicalID implements Reader.
func (s *MemoryStore) GetEntityByCanonicalID(ctx context.Context, canonicalID string) (*types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	e, ok := s.entities[canonicalID]
	if !ok {
		return nil, ErrEntityNotFound
	}
	return cloneEntity(e), nil
}

// GetEntities implements Reader.
func (s *MemoryStore) GetEntities(ctx context.Context, canonicalIDs []string) ([]*types.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	out := make([]*types.Entity, 0, len(canonicalIDs))
	for _, id := range canonicalIDs {
		if e, ok := s.entities[id]; ok {
			out = append(out, cloneEntity(e))
		}
	}
	return out, nil
}

// SearchEntitiesBySimilarity implements Reader with a brute-force scan.
func (s *MemoryStore) SearchEntitiesBySimilarity(ctx context.Context, embedding []float32, threshold float64, limit int, filter MetadataFilter) ([]ScoredMatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return searchEntities(s.entities, nil, nil, embedding, threshold, limit, filter), nil
}

// ListRelationshipsByChunk implements Reader.
func (s *MemoryStore) ListRelationshipsByChunk(ctx context.Context, chunkID string) ([]*types.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []*types.Relationship
	for _, r := range s.rels {
		if r.ChunkID == chunkID {
			out = append(out, cloneRelationship(r))
		}
	}
	sortRelationships(out)
	return out, nil
}

// ListRelationships implements Reader.
func (s *MemoryStore) ListRelationships(ctx context.Context, entityID string) ([]*types.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []*types.Relationship
	for _, r := range s.rels {
		if r.SourceID == entityID || r.TargetID == entityID {
			out = append(out, cloneRelationship(r))
		}
	}
	sortRelationships(out)
	return out, nil
}

// ListOutgoingRelationships implements Reader.
func (s *MemoryStore) ListOutgoingRelationships(ctx context.Context, entityID string) ([]*types.Relationship, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	var out []*types.Relationship
	for _, r := range s.rels {
		if r.SourceID == entityID {
			out = append(out, cloneRelationship(r))
		}
	}
	sortRelationships(out)
	return out, nil
}

// CountOutgoingEdges implements Reader.
func (s *MemoryStore) CountOutgoingEdges(ctx context.Context, entityID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, ErrClosed
	}
	count := 0
	for _, r := range s.rels {
		if r.SourceID == entityID {
			count++
		}
	}
	return count, nil
}

// Stats implements Reader.
func (s *MemoryStore) Stats(ctx context.Context) (*GraphStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}
	return &GraphStats{
		EntityCount:       int64(len(s.entities)),
		RelationshipCount: int64(len(s.rels)),
	}, nil
}

// Update implements GraphStore. The write lock is held for the duration of
// fn, so concurrent chunk applications never observe partial state. On
// error the staged mutations are discarded.
func (s *MemoryStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	tx := &memTx{
		store:   s,
		staged:  make(map[string]*types.Entity),
		rels:    make(map[string]*types.Relationship),
		deleted: make(map[string]struct{}),
	}
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// Reset implements GraphStore.
func (s *MemoryStore) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.entities = make(map[string]*types.Entity)
	s.rels = make(map[string]*types.Relationship)
	return nil
}

// Close implements GraphStore.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// memTx stages mutations on top of the store's maps and commits them only
// when the update function succeeds.
type memTx struct {
	store   *MemoryStore
	staged  map[string]*types.Entity
	rels    map[string]*types.Relationship
	deleted map[string]struct{}
}

func (t *memTx) commit() {
	for id, e := range t.staged {
		t.store.entities[id] = e
	}
	for id, r := range t.rels {
		t.store.rels[id] = r
	}
	for id := range t.deleted {
		delete(t.store.rels, id)
	}
}

func (t *memTx) relVisible(r *types.Relationship) bool {
	_, gone := t.deleted[r.ID]
	return !gone
}

func (t *memTx) eachRelationship(visit func(r *types.Relationship)) {
	for id, r := range t.store.rels {
		if _, staged := t.rels[id]; staged {
			continue
		}
		if t.relVisible(r) {
			visit(r)
		}
	}
	for _, r := range t.rels {
		if t.relVisible(r) {
			visit(r)
		}
	}
}

func (t *memTx) GetEntityByCanonicalID(ctx context.Context, canonicalID string) (*types.Entity, error) {
	if e, ok := t.staged[canonicalID]; ok {
		return cloneEntity(e), nil
	}
	if e, ok := t.store.entities[canonicalID]; ok {
		return cloneEntity(e), nil
	}
	return nil, ErrEntityNotFound
}

func (t *memTx) GetEntities(ctx context.Context, canonicalIDs []string) ([]*types.Entity, error) {
	out := make([]*types.Entity, 0, len(canonicalIDs))
	for _, id := range canonicalIDs {
		if e, err := t.GetEntityByCanonicalID(ctx, id); err == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

func (t *memTx) SearchEntitiesBySimilarity(ctx context.Context, embedding []float32, threshold float64, limit int, filter MetadataFilter) ([]ScoredMatch, error) {
	return searchEntities(t.store.entities, t.staged, nil, embedding, threshold, limit, filter), nil
}

func (t *memTx) ListRelationshipsByChunk(ctx context.Context, chunkID string) ([]*types.Relationship, error) {
	var out []*types.Relationship
	t.eachRelationship(func(r *types.Relationship) {
		if r.ChunkID == chunkID {
			out = append(out, cloneRelationship(r))
		}
	})
	sortRelationships(out)
	return out, nil
}

func (t *memTx) ListRelationships(ctx context.Context, entityID string) ([]*types.Relationship, error) {
	var out []*types.Relationship
	t.eachRelationship(func(r *types.Relationship) {
		if r.SourceID == entityID || r.TargetID == entityID {
			out = append(out, cloneRelationship(r))
		}
	})
	sortRelationships(out)
	return out, nil
}

func (t *memTx) ListOutgoingRelationships(ctx context.Context, entityID string) ([]*types.Relationship, error) {
	var out []*types.Relationship
	t.eachRelationship(func(r *types.Relationship) {
		if r.SourceID == entityID {
			out = append(out, cloneRelationship(r))
		}
	})
	sortRelationships(out)
	return out, nil
}

func (t *memTx) CountOutgoingEdges(ctx context.Context, entityID string) (int, error) {
	count := 0
	t.eachRelationship(func(r *types.Relationship) {
		if r.SourceID == entityID {
			count++
		}
	})
	return count, nil
}

func (t *memTx) Stats(ctx context.Context) (*GraphStats, error) {
	stats := &GraphStats{EntityCount: int64(len(t.store.entities))}
	for id := range t.staged {
		if _, ok := t.store.entities[id]; !ok {
			stats.EntityCount++
		}
	}
	t.eachRelationship(func(*types.Relationship) { stats.RelationshipCount++ })
	return stats, nil
}

func (t *memTx) UpsertEntity(ctx context.Context, entity *types.Entity) error {
	if err := entity.Validate(); err != nil {
		return err
	}
	t.staged[entity.ID] = cloneEntity(entity)
	return nil
}

func (t *memTx) UpsertRelationship(ctx context.Context, rel *types.Relationship) error {
	if err := rel.Validate(); err != nil {
		return err
	}
	delete(t.deleted, rel.ID)
	t.rels[rel.ID] = cloneRelationship(rel)
	return nil
}

func (t *memTx) GetRelationshipBetween(ctx context.Context, sourceID, targetID string, relType types.RelationType) (*types.Relationship, error) {
	var found *types.Relationship
	t.eachRelationship(func(r *types.Relationship) {
		if found != nil {
			return
		}
		if r.SourceID == sourceID && r.TargetID == targetID && r.Type == relType {
			found = cloneRelationship(r)
		}
	})
	return found, nil
}

func (t *memTx) DeleteRelationships(ctx context.Context, ids []string) error {
	for _, id := range ids {
		delete(t.rels, id)
		t.deleted[id] = struct{}{}
	}
	return nil
}

// searchEntities scans base plus staged entities and ranks matches by
// similarity descending, ties broken by canonical id for determinism.
func searchEntities(base, staged map[string]*types.Entity, skip map[string]struct{}, embedding []float32, threshold float64, limit int, filter MetadataFilter) []ScoredMatch {
	seen := make(map[string]struct{})
	var matches []ScoredMatch
	consider := func(e *types.Entity) {
		if _, dup := seen[e.ID]; dup {
			return
		}
		seen[e.ID] = struct{}{}
		if skip != nil {
			if _, ok := skip[e.ID]; ok {
				return
			}
		}
		if !filter.Matches(e) {
			return
		}
		sim := canonical.CosineSimilarity(embedding, e.Embedding)
		if sim >= threshold {
			matches = append(matches, ScoredMatch{Entity: cloneEntity(e), Similarity: sim})
		}
	}
	for _, e := range staged {
		consider(e)
	}
	for _, e := range base {
		consider(e)
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
	return matches
}

func sortRelationships(rels []*types.Relationship) {
	sort.Slice(rels, func(i, j int) bool { return rels[i].ID < rels[j].ID })
}
