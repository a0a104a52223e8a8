package kgindex

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/soundprediction/kgindex/pkg/store"
	"github.com/soundprediction/kgindex/pkg/types"
)

// applyStats counts the graph elements accepted from one chunk.
type applyStats struct {
	Entities      int
	Relationships int
}

// applyExtraction applies one chunk's extracted fragment to the graph inside
// a single store transaction. It returns skipped=true when the chunk had
// already contributed relationships, in which case nothing is written.
//
// Embeddings for fuzzy merging are generated before the transaction opens so
// no network call runs while the store is locked.
func (ix *Index) applyExtraction(ctx context.Context, chunk types.Chunk, ext *types.Extraction) (applyStats, bool, error) {
	var stats applyStats

	candidates := ix.buildCandidates(chunk, ext)
	if err := ix.embedCandidates(ctx, candidates); err != nil {
		return stats, false, err
	}

	skipped := false
	err := ix.store.Update(ctx, func(tx store.Tx) error {
		existing, err := tx.ListRelationshipsByChunk(ctx, chunk.ID)
		if err != nil {
			return fmt.Errorf("failed to check chunk idempotency: %w", err)
		}
		if len(existing) > 0 {
			skipped = true
			return nil
		}

		resolved, err := ix.applyEntities(ctx, tx, candidates)
		if err != nil {
			return err
		}
		stats.Entities = len(candidates)

		relCount, err := ix.applyRelationships(ctx, tx, chunk, ext.Relationships, resolved)
		if err != nil {
			return err
		}
		stats.Relationships = relCount
		return nil
	})
	if err != nil {
		return applyStats{}, false, err
	}
	if skipped {
		return applyStats{}, true, nil
	}
	return stats, false, nil
}

// buildCandidates converts extracted entities into canonical candidates,
// merging duplicates within the chunk that share a canonical id. Entities
// with empty names are dropped.
func (ix *Index) buildCandidates(chunk types.Chunk, ext *types.Extraction) []*types.Entity {
	now := time.Now().UTC()
	byID := make(map[string]*types.Entity)
	var order []string

	for _, e := range ext.Entities {
		if e.Name == "" {
			continue
		}
		id := ix.canon.CanonicalID(e.Name, e.Description)
		candidate := &types.Entity{
			ID:             id,
			Name:           e.Name,
			Description:    e.Description,
			EntityType:     e.EntityType,
			Metadata:       e.Metadata,
			SourceChunkIDs: []string{chunk.ID},
			CreatedAt:      now,
			UpdatedAt:      now,
		}
		if prev, ok := byID[id]; ok {
			prev.MergeFrom(candidate)
			continue
		}
		byID[id] = candidate
		order = append(order, id)
	}

	candidates := make([]*types.Entity, 0, len(order))
	for _, id := range order {
		candidates = append(candidates, byID[id])
	}
	return candidates
}

// embedCandidates generates description embeddings for the fuzzy merge path.
// When fuzzy merging is disabled this is a no-op.
func (ix *Index) embedCandidates(ctx context.Context, candidates []*types.Entity) error {
	if ix.embedder == nil || !ix.canon.FuzzyEnabled() || len(candidates) == 0 {
		return nil
	}
	texts := make([]string, len(candidates))
	for i, c := range candidates {
		if c.Description != "" {
			texts[i] = c.Name + ": " + c.Description
		} else {
			texts[i] = c.Name
		}
	}
	embeddings, err := ix.embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("failed to embed entity candidates: %w", err)
	}
	for i := range candidates {
		candidates[i].Embedding = embeddings[i]
	}
	return nil
}

// applyEntities upserts candidates into the graph, merging into existing
// entities. Resolution order is exact canonical id first, then fuzzy
// embedding similarity. The returned map resolves each extracted name to the
// canonical id it ended up under.
func (ix *Index) applyEntities(ctx context.Context, tx store.Tx, candidates []*types.Entity) (map[string]string, error) {
	resolved := make(map[string]string, len(candidates))

	for _, candidate := range candidates {
		target, err := ix.resolveEntity(ctx, tx, candidate)
		if err != nil {
			return nil, err
		}

		if target != nil {
			target.MergeFrom(candidate)
			if err := tx.UpsertEntity(ctx, target); err != nil {
				return nil, fmt.Errorf("failed to merge entity %q: %w", candidate.Name, err)
			}
			resolved[candidate.Name] = target.ID
			continue
		}

		if err := tx.UpsertEntity(ctx, candidate); err != nil {
			return nil, fmt.Errorf("failed to insert entity %q: %w", candidate.Name, err)
		}
		resolved[candidate.Name] = candidate.ID
	}
	return resolved, nil
}

// resolveEntity finds the existing entity a candidate should merge into, or
// nil when the candidate is new.
func (ix *Index) resolveEntity(ctx context.Context, tx store.Tx, candidate *types.Entity) (*types.Entity, error) {
	existing, err := tx.GetEntityByCanonicalID(ctx, candidate.ID)
	if err == nil {
		return existing, nil
	}
	if err != store.ErrEntityNotFound {
		return nil, fmt.Errorf("failed to look up entity %q: %w", candidate.Name, err)
	}

	if !ix.canon.FuzzyEnabled() || len(candidate.Embedding) == 0 {
		return nil, nil
	}
	matches, err := tx.SearchEntitiesBySimilarity(ctx, candidate.Embedding, ix.canon.Threshold(), 1, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to search for similar entities: %w", err)
	}
	if len(matches) == 0 {
		return nil, nil
	}
	ix.logger.Debug("fuzzy-merging entity",
		"candidate", candidate.Name,
		"into", matches[0].Entity.Name,
		"similarity", matches[0].Similarity)
	return matches[0].Entity, nil
}

// applyRelationships persists the chunk's extracted relationships. Edges
// referencing unknown entity names or falling below the confidence floor are
// dropped silently; self-loops are dropped as well. Returns the number of
// edges persisted, mirrors included.
func (ix *Index) applyRelationships(ctx context.Context, tx store.Tx, chunk types.Chunk, extracted []types.ExtractedRelationship, resolved map[string]string) (int, error) {
	now := time.Now().UTC()
	count := 0

	for _, er := range extracted {
		sourceID, okS := resolved[er.SourceEntityName]
		targetID, okT := resolved[er.TargetEntityName]
		if !okS || !okT {
			ix.logger.Debug("dropping relationship with unresolved endpoint",
				"source", er.SourceEntityName,
				"target", er.TargetEntityName,
				"chunk_id", chunk.ID)
			continue
		}
		if sourceID == targetID {
			continue
		}

		confidence := clamp01(er.Confidence)
		if confidence < ix.cfg.MinRelationshipConfidence {
			continue
		}

		relType := types.RelationGeneric
		if ix.cfg.TypedRelationshipsOn() {
			relType = types.ParseRelationType(er.RelationshipType)
		}

		rel := &types.Relationship{
			ID:          uuid.New().String(),
			SourceID:    sourceID,
			TargetID:    targetID,
			Description: er.Description,
			Type:        relType,
			Confidence:  confidence,
			Weight:      relType.Weight(confidence),
			ChunkID:     chunk.ID,
			CreatedAt:   now,
		}
		if err := tx.UpsertRelationship(ctx, rel); err != nil {
			return 0, fmt.Errorf("failed to insert relationship: %w", err)
		}
		count++
		if err := ix.enforceDegreeCap(ctx, tx, sourceID); err != nil {
			return 0, err
		}

		if ix.cfg.SymmetricMirroringOn() && relType.IsSymmetric() {
			mirrored, err := ix.mirrorRelationship(ctx, tx, rel)
			if err != nil {
				return 0, err
			}
			if mirrored {
				count++
			}
		}
	}
	return count, nil
}

// mirrorRelationship materializes the inverse edge for a symmetric relation
// unless one of the same type already exists between the pair.
func (ix *Index) mirrorRelationship(ctx context.Context, tx store.Tx, rel *types.Relationship) (bool, error) {
	existing, err := tx.GetRelationshipBetween(ctx, rel.TargetID, rel.SourceID, rel.Type)
	if err != nil {
		return false, fmt.Errorf("failed to check for existing mirror: %w", err)
	}
	if existing != nil {
		return false, nil
	}
	inverse := rel.Inverse(uuid.New().String())
	if err := tx.UpsertRelationship(ctx, inverse); err != nil {
		return false, fmt.Errorf("failed to insert mirrored relationship: %w", err)
	}
	if err := ix.enforceDegreeCap(ctx, tx, inverse.SourceID); err != nil {
		return false, err
	}
	return true, nil
}

// enforceDegreeCap evicts the lowest-weight outgoing edges of an entity when
// its outgoing degree exceeds the configured cap. Ties break on the lower
// relationship id so eviction is deterministic.
func (ix *Index) enforceDegreeCap(ctx context.Context, tx store.Tx, entityID string) error {
	maxEdges := ix.cfg.MaxEdgesPerEntity
	if maxEdges <= 0 {
		return nil
	}
	count, err := tx.CountOutgoingEdges(ctx, entityID)
	if err != nil {
		return fmt.Errorf("failed to count outgoing edges: %w", err)
	}
	if count <= maxEdges {
		return nil
	}

	outgoing, err := tx.ListOutgoingRelationships(ctx, entityID)
	if err != nil {
		return fmt.Errorf("failed to list outgoing edges: %w", err)
	}
	sort.Slice(outgoing, func(i, j int) bool {
		if outgoing[i].Weight != outgoing[j].Weight {
			return outgoing[i].Weight < outgoing[j].Weight
		}
		return outgoing[i].ID < outgoing[j].ID
	})

	excess := len(outgoing) - maxEdges
	ids := make([]string, 0, excess)
	for _, rel := range outgoing[:excess] {
		ids = append(ids, rel.ID)
	}
	ix.logger.Debug("evicting lowest-weight edges to enforce degree cap",
		"entity_id", entityID,
		"evicted", len(ids),
		"cap", maxEdges)
	if err := tx.DeleteRelationships(ctx, ids); err != nil {
		return fmt.Errorf("failed to evict edges: %w", err)
	}
	return nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
