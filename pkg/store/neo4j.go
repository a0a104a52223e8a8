package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/db"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/dbtype"

	"github.com/soundprediction/kgindex/pkg/canonical"
	"github.com/soundprediction/kgindex/pkg/types"
)

// Neo4jStore implements GraphStore against a Neo4j database. Entities are
// (:Entity) nodes keyed by canonical id and relationships are [:RELATES]
// edges. Embeddings and metadata are stored as JSON string properties.
type Neo4jStore struct {
	client   neo4j.DriverWithContext
	database string
}

// NewNeo4jStore creates a Neo4j-backed store.
func NewNeo4jStore(uri, username, password, database string) (*Neo4jStore, error) {
	client, err := neo4j.NewDriverWithContext(uri, neo4j.BasicAuth(username, password, ""))
	if err != nil {
		return nil, fmt.Errorf("failed to create neo4j driver: %w", err)
	}
	if database == "" {
		database = "neo4j"
	}
	return &Neo4jStore{client: client, database: database}, nil
}

// runner abstracts query execution so the same read helpers serve both
// session reads and reads inside a write transaction.
type runner func(ctx context.Context, query string, params map[string]any) ([]*db.Record, error)

func (s *Neo4jStore) readRunner(session neo4j.SessionWithContext) runner {
	return func(ctx context.Context, query string, params map[string]any) ([]*db.Record, error) {
		result, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			res, err := tx.Run(ctx, query, params)
			if err != nil {
				return nil, err
			}
			return res.Collect(ctx)
		})
		if err != nil {
			return nil, err
		}
		return result.([]*db.Record), nil
	}
}

func txRunner(tx neo4j.ManagedTransaction) runner {
	return func(ctx context.Context, query string, params map[string]any) ([]*db.Record, error) {
		res, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}
		return res.Collect(ctx)
	}
}

func (s *Neo4jStore) session(ctx context.Context) neo4j.SessionWithContext {
	return s.client.NewSession(ctx, neo4j.SessionConfig{DatabaseName: s.database})
}

func entityToProps(e *types.Entity) map[string]any {
	metadata, _ := json.Marshal(e.Metadata)
	embedding, _ := json.Marshal(e.Embedding)
	return map[string]any{
		"id":               e.ID,
		"name":             e.Name,
		"description":      e.Description,
		"entity_type":      e.EntityType,
		"metadata":         string(metadata),
		"source_chunk_ids": e.SourceChunkIDs,
		"embedding":        string(embedding),
		"created_at":       e.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":       e.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func entityFromNode(n dbtype.Node) *types.Entity {
	e := &types.Entity{}
	if v, ok := n.Props["id"].(string); ok {
		e.ID = v
	}
	if v, ok := n.Props["name"].(string); ok {
		e.Name = v
	}
	if v, ok := n.Props["description"].(string); ok {
		e.Description = v
	}
	if v, ok := n.Props["entity_type"].(string); ok {
		e.EntityType = v
	}
	if v, ok := n.Props["metadata"].(string); ok && v != "" && v != "null" {
		_ = json.Unmarshal([]byte(v), &e.Metadata)
	}
	if v, ok := n.Props["embedding"].(string); ok && v != "" && v != "null" {
		_ = json.Unmarshal([]byte(v), &e.Embedding)
	}
	if v, ok := n.Props["source_chunk_ids"].([]any); ok {
		for _, id := range v {
			if s, ok := id.(string); ok {
				e.SourceChunkIDs = append(e.SourceChunkIDs, s)
			}
		}
	}
	if v, ok := n.Props["created_at"].(string); ok {
		e.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	if v, ok := n.Props["updated_at"].(string); ok {
		e.UpdatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	return e
}

func relationshipToProps(r *types.Relationship) map[string]any {
	return map[string]any{
		"id":          r.ID,
		"rel_type":    string(r.Type),
		"description": r.Description,
		"confidence":  r.Confidence,
		"weight":      r.Weight,
		"chunk_id":    r.ChunkID,
		"created_at":  r.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

func relationshipFromRecord(rel dbtype.Relationship, sourceID, targetID string) *types.Relationship {
	r := &types.Relationship{SourceID: sourceID, TargetID: targetID}
	if v, ok := rel.Props["id"].(string); ok {
		r.ID = v
	}
	if v, ok := rel.Props["rel_type"].(string); ok {
		r.Type = types.RelationType(v)
	}
	if v, ok := rel.Props["description"].(string); ok {
		r.Description = v
	}
	if v, ok := rel.Props["confidence"].(float64); ok {
		r.Confidence = v
	}
	if v, ok := rel.Props["weight"].(float64); ok {
		r.Weight = v
	}
	if v, ok := rel.Props["chunk_id"].(string); ok {
		r.ChunkID = v
	}
	if v, ok := rel.Props["created_at"].(string); ok {
		r.CreatedAt, _ = time.Parse(time.RFC3339Nano, v)
	}
	return r
}

const relationshipReturn = ` RETURN r, a.id AS source_id, b.id AS target_id`

func collectRelationships(records []*db.Record) []*types.Relationship {
	var out []*types.Relationship
	for _, record := range records {
		relValue, found := record.Get("r")
		if !found {
			continue
		}
		rel, ok := relValue.(dbtype.Relationship)
		if !ok {
			continue
		}
		sourceID, _ := record.Get("source_id")
		targetID, _ := record.Get("target_id")
		src, _ := sourceID.(string)
		dst, _ := targetID.(string)
		out = append(out, relationshipFromRecord(rel, src, dst))
	}
	sortRelationships(out)
	return out
}

func getEntityByCanonicalID(ctx context.Context, run runner, canonicalID string) (*types.Entity, error) {
	records, err := run(ctx, `MATCH (n:Entity {id: $id}) RETURN n`, map[string]any{"id": canonicalID})
	if err != nil {
		return nil, err
	}
	for _, record := range records {
		if v, found := record.Get("n"); found {
			if node, ok := v.(dbtype.Node); ok {
				return entityFromNode(node), nil
			}
		}
	}
	return nil, ErrEntityNotFound
}

func getEntities(ctx context.Context, run runner, ids []string) ([]*types.Entity, error) {
	if len(ids) == 0 {
		return []*types.Entity{}, nil
	}
	records, err := run(ctx, `MATCH (n:Entity) WHERE n.id IN $ids RETURN n`, map[string]any{"ids": ids})
	if err != nil {
		return nil, err
	}
	out := make([]*types.Entity, 0, len(records))
	for _, record := range records {
		if v, found := record.Get("n"); found {
			if node, ok := v.(dbtype.Node); ok {
				out = append(out, entityFromNode(node))
			}
		}
	}
	return out, nil
}

// searchBySimilarity fetches candidate entities and ranks them by cosine
// similarity in memory, matching how the rest of the stack scores vectors.
func searchBySimilarity(ctx context.Context, run runner, embedding []float32, threshold float64, limit int, filter MetadataFilter) ([]ScoredMatch, error) {
	if len(embedding) == 0 {
		return []ScoredMatch{}, nil
	}
	records, err := run(ctx, `MATCH (n:Entity) WHERE n.embedding IS NOT NULL RETURN n`, nil)
	if err != nil {
		return nil, err
	}
	var matches []ScoredMatch
	for _, record := range records {
		v, found := record.Get("n")
		if !found {
			continue
		}
		node, ok := v.(dbtype.Node)
		if !ok {
			continue
		}
		entity := entityFromNode(node)
		if !filter.Matches(entity) {
			continue
		}
		sim := canonical.CosineSimilarity(embedding, entity.Embedding)
		if sim >= threshold {
			matches = append(matches, ScoredMatch{Entity: entity, Similarity: sim})
		}
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

func listRelationshipsByChunk(ctx context.Context, run runner, chunkID string) ([]*types.Relationship, error) {
	records, err := run(ctx,
		`MATCH (a:Entity)-[r:RELATES {chunk_id: $chunk_id}]->(b:Entity)`+relationshipReturn,
		map[string]any{"chunk_id": chunkID})
	if err != nil {
		return nil, err
	}
	return collectRelationships(records), nil
}

func listRelationships(ctx context.Context, run runner, entityID string) ([]*types.Relationship, error) {
	records, err := run(ctx,
		`MATCH (a:Entity)-[r:RELATES]->(b:Entity) WHERE a.id = $id OR b.id = $id`+relationshipReturn,
		map[string]any{"id": entityID})
	if err != nil {
		return nil, err
	}
	return collectRelationships(records), nil
}

func listOutgoingRelationships(ctx context.Context, run runner, entityID string) ([]*types.Relationship, error) {
	records, err := run(ctx,
		`MATCH (a:Entity {id: $id})-[r:RELATES]->(b:Entity)`+relationshipReturn,
		map[string]any{"id": entityID})
	if err != nil {
		return nil, err
	}
	return collectRelationships(records), nil
}

func countOutgoingEdges(ctx context.Context, run runner, entityID string) (int, error) {
	records, err := run(ctx,
		`MATCH (a:Entity {id: $id})-[r:RELATES]->() RETURN count(r) AS c`,
		map[string]any{"id": entityID})
	if err != nil {
		return 0, err
	}
	for _, record := range records {
		if v, found := record.Get("c"); found {
			if c, ok := v.(int64); ok {
				return int(c), nil
			}
		}
	}
	return 0, nil
}

func graphStats(ctx context.Context, run runner) (*GraphStats, error) {
	records, err := run(ctx,
		`MATCH (n:Entity)
		 OPTIONAL MATCH ()-[r:RELATES]->()
		 RETURN count(DISTINCT n) AS entities, count(DISTINCT r) AS relationships`, nil)
	if err != nil {
		return nil, err
	}
	stats := &GraphStats{}
	for _, record := range records {
		if v, found := record.Get("entities"); found {
			if c, ok := v.(int64); ok {
				stats.EntityCount = c
			}
		}
		if v, found := record.Get("relationships"); found {
			if c, ok := v.(int64); ok {
				stats.RelationshipCount = c
			}
		}
	}
	return stats, nil
}

// GetEntityByCanonicalID implements Reader.
func (s *Neo4jStore) GetEntityByCanonicalID(ctx context.Context, canonicalID string) (*types.Entity, error) {
	session := s.session(ctx)
	defer session.Close(ctx)
	return getEntityByCanonicalID(ctx, s.readRunner(session), canonicalID)
}

// GetEntities implements Reader.
func (s *Neo4jStore) GetEntities(ctx context.Context, canonicalIDs []string) ([]*types.Entity, error) {
	session := s.session(ctx)
	defer session.Close(ctx)
	return getEntities(ctx, s.readRunner(session), canonicalIDs)
}

// SearchEntitiesBySimilarity implements Reader.
func (s *Neo4jStore) SearchEntitiesBySimilarity(ctx context.Context, embedding []float32, threshold float64, limit int, filter MetadataFilter) ([]ScoredMatch, error) {
	session := s.session(ctx)
	defer session.Close(ctx)
	return searchBySimilarity(ctx, s.readRunner(session), embedding, threshold, limit, filter)
}

// ListRelationshipsByChunk implements Reader.
func (s *Neo4jStore) ListRelationshipsByChunk(ctx context.Context, chunkID string) ([]*types.Relationship, error) {
	session := s.session(ctx)
	defer session.Close(ctx)
	return listRelationshipsByChunk(ctx, s.readRunner(session), chunkID)
}

// ListRelationships implements Reader.
func (s *Neo4jStore) ListRelationships(ctx context.Context, entityID string) ([]*types.Relationship, error) {
	session := s.session(ctx)
	defer session.Close(ctx)
	return listRelationships(ctx, s.readRunner(session), entityID)
}

// ListOutgoingRelationships implements Reader.
func (s *Neo4jStore) ListOutgoingRelationships(ctx context.Context, entityID string) ([]*types.Relationship, error) {
	session := s.session(ctx)
	defer session.Close(ctx)
	return listOutgoingRelationships(ctx, s.readRunner(session), entityID)
}

// CountOutgoingEdges implements Reader.
func (s *Neo4jStore) CountOutgoingEdges(ctx context.Context, entityID string) (int, error) {
	session := s.session(ctx)
	defer session.Close(ctx)
	return countOutgoingEdges(ctx, s.readRunner(session), entityID)
}

// Stats implements Reader.
func (s *Neo4jStore) Stats(ctx context.Context) (*GraphStats, error) {
	session := s.session(ctx)
	defer session.Close(ctx)
	return graphStats(ctx, s.readRunner(session))
}

// Update implements GraphStore. The whole per-chunk batch runs inside one
// managed write transaction, so partial application is never observable and
// the driver retries transient conflicts.
func (s *Neo4jStore) Update(ctx context.Context, fn func(tx Tx) error) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return nil, fn(&neo4jTx{tx: tx})
	})
	return err
}

// Reset implements GraphStore.
func (s *Neo4jStore) Reset(ctx context.Context) error {
	session := s.session(ctx)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		_, err := tx.Run(ctx, `MATCH (n:Entity) DETACH DELETE n`, nil)
		return nil, err
	})
	return err
}

// Close implements GraphStore.
func (s *Neo4jStore) Close() error {
	return s.client.Close(context.Background())
}

// neo4jTx adapts a managed transaction to the Tx interface. Reads inside
// the transaction observe its own writes.
type neo4jTx struct {
	tx neo4j.ManagedTransaction
}

func (t *neo4jTx) run() runner { return txRunner(t.tx) }

func (t *neo4jTx) GetEntityByCanonicalID(ctx context.Context, canonicalID string) (*types.Entity, error) {
	return getEntityByCanonicalID(ctx, t.run(), canonicalID)
}

func (t *neo4jTx) GetEntities(ctx context.Context, canonicalIDs []string) ([]*types.Entity, error) {
	return getEntities(ctx, t.run(), canonicalIDs)
}

func (t *neo4jTx) SearchEntitiesBySimilarity(ctx context.Context, embedding []float32, threshold float64, limit int, filter MetadataFilter) ([]ScoredMatch, error) {
	return searchBySimilarity(ctx, t.run(), embedding, threshold, limit, filter)
}

func (t *neo4jTx) ListRelationshipsByChunk(ctx context.Context, chunkID string) ([]*types.Relationship, error) {
	return listRelationshipsByChunk(ctx, t.run(), chunkID)
}

func (t *neo4jTx) ListRelationships(ctx context.Context, entityID string) ([]*types.Relationship, error) {
	return listRelationships(ctx, t.run(), entityID)
}

func (t *neo4jTx) ListOutgoingRelationships(ctx context.Context, entityID string) ([]*types.Relationship, error) {
	return listOutgoingRelationships(ctx, t.run(), entityID)
}

func (t *neo4jTx) CountOutgoingEdges(ctx context.Context, entityID string) (int, error) {
	return countOutgoingEdges(ctx, t.run(), entityID)
}

func (t *neo4jTx) Stats(ctx context.Context) (*GraphStats, error) {
	return graphStats(ctx, t.run())
}

func (t *neo4jTx) UpsertEntity(ctx context.Context, entity *types.Entity) error {
	if err := entity.Validate(); err != nil {
		return err
	}
	_, err := t.tx.Run(ctx, `
		MERGE (n:Entity {id: $id})
		SET n += $props
	`, map[string]any{
		"id":    entity.ID,
		"props": entityToProps(entity),
	})
	return err
}

func (t *neo4jTx) UpsertRelationship(ctx context.Context, rel *types.Relationship) error {
	if err := rel.Validate(); err != nil {
		return err
	}
	_, err := t.tx.Run(ctx, `
		MATCH (a:Entity {id: $source_id}), (b:Entity {id: $target_id})
		MERGE (a)-[r:RELATES {id: $id}]->(b)
		SET r += $props
	`, map[string]any{
		"source_id": rel.SourceID,
		"target_id": rel.TargetID,
		"id":        rel.ID,
		"props":     relationshipToProps(rel),
	})
	return err
}

func (t *neo4jTx) GetRelationshipBetween(ctx context.Context, sourceID, targetID string, relType types.RelationType) (*types.Relationship, error) {
	records, err := t.run()(ctx,
		`MATCH (a:Entity {id: $source_id})-[r:RELATES {rel_type: $rel_type}]->(b:Entity {id: $target_id})`+
			relationshipReturn+` LIMIT 1`,
		map[string]any{
			"source_id": sourceID,
			"target_id": targetID,
			"rel_type":  string(relType),
		})
	if err != nil {
		return nil, err
	}
	rels := collectRelationships(records)
	if len(rels) == 0 {
		return nil, nil
	}
	return rels[0], nil
}

func (t *neo4jTx) DeleteRelationships(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.Run(ctx,
		`MATCH ()-[r:RELATES]->() WHERE r.id IN $ids DELETE r`,
		map[string]any{"ids": ids})
	return err
}
