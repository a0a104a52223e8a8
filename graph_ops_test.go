package kgindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/kgindex/pkg/canonical"
	"github.com/soundprediction/kgindex/pkg/types"
)

func TestIngestAppliesExtraction(t *testing.T) {
	ctx := context.Background()
	cfg := testGraphConfig()
	index, memStore := newTestIndex(t, cfg, extractionFor(map[string]*types.Extraction{
		"tidb text": {
			Entities: []types.ExtractedEntity{
				{Name: "TiDB", Description: "a distributed SQL database", EntityType: "technology"},
				{Name: "TiKV", Description: "a distributed key-value store", EntityType: "technology"},
			},
			Relationships: []types.ExtractedRelationship{
				{SourceEntityName: "TiDB", TargetEntityName: "TiKV", Description: "TiDB stores data in TiKV", RelationshipType: "dependency", Confidence: 0.9},
			},
		},
	}), nil)

	result, err := index.AddChunk(ctx, types.Chunk{ID: "chunk-1", Text: "tidb text"})
	require.NoError(t, err)
	assert.Equal(t, types.ChunkProcessed, result.Status)
	assert.Equal(t, 2, result.EntityCount)
	assert.Equal(t, 1, result.RelationshipCount)

	rels, err := memStore.ListRelationshipsByChunk(ctx, "chunk-1")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, types.RelationDependency, rels[0].Type)
	assert.InDelta(t, 0.9*0.85*10, rels[0].Weight, 1e-9)
	assert.Equal(t, "chunk-1", rels[0].ChunkID)

	// The entity lands under its canonical id with provenance recorded.
	canon := canonical.New(canonical.WithPreservedCase(cfg.PreserveCaseEntities))
	entity, err := memStore.GetEntityByCanonicalID(ctx, canon.CanonicalID("TiDB", "a distributed SQL database"))
	require.NoError(t, err)
	assert.Equal(t, "TiDB", entity.Name)
	assert.Equal(t, []string{"chunk-1"}, entity.SourceChunkIDs)
}

func TestIngestIdempotency(t *testing.T) {
	ctx := context.Background()
	calls := 0
	fragments := map[string]*types.Extraction{
		"text": {
			Entities: []types.ExtractedEntity{
				{Name: "alpha", Description: "first"},
				{Name: "beta", Description: "second"},
			},
			Relationships: []types.ExtractedRelationship{
				{SourceEntityName: "alpha", TargetEntityName: "beta", RelationshipType: "causal", Confidence: 0.9},
			},
		},
	}
	counting := func(ctx context.Context, text string) (*types.Extraction, error) {
		calls++
		return fragments[text], nil
	}
	index, memStore := newTestIndex(t, testGraphConfig(), counting, nil)

	first, err := index.AddChunk(ctx, types.Chunk{ID: "c1", Text: "text"})
	require.NoError(t, err)
	assert.Equal(t, types.ChunkProcessed, first.Status)
	assert.Equal(t, 1, calls)

	second, err := index.AddChunk(ctx, types.Chunk{ID: "c1", Text: "text"})
	require.NoError(t, err)
	assert.Equal(t, types.ChunkSkipped, second.Status)
	assert.Zero(t, second.EntityCount)
	assert.Zero(t, second.RelationshipCount)

	// The extractor is not called again for an already-ingested chunk.
	assert.Equal(t, 1, calls)

	stats, err := memStore.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.EntityCount)
	assert.Equal(t, int64(1), stats.RelationshipCount)
}

func TestConfidenceFloor(t *testing.T) {
	ctx := context.Background()
	index, memStore := newTestIndex(t, testGraphConfig(), extractionFor(map[string]*types.Extraction{
		"text": {
			Entities: []types.ExtractedEntity{
				{Name: "a", Description: "one"},
				{Name: "b", Description: "two"},
				{Name: "c", Description: "three"},
			},
			Relationships: []types.ExtractedRelationship{
				{SourceEntityName: "a", TargetEntityName: "b", RelationshipType: "causal", Confidence: 0.29},
				{SourceEntityName: "a", TargetEntityName: "c", RelationshipType: "causal", Confidence: 0.3},
			},
		},
	}), nil)

	result, err := index.AddChunk(ctx, types.Chunk{ID: "c1", Text: "text"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.RelationshipCount)

	// The boundary is inclusive: exactly 0.3 survives.
	rels, err := memStore.ListRelationshipsByChunk(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, 0.3, rels[0].Confidence)
}

func TestConfidenceClamped(t *testing.T) {
	ctx := context.Background()
	index, memStore := newTestIndex(t, testGraphConfig(), extractionFor(map[string]*types.Extraction{
		"text": {
			Entities: []types.ExtractedEntity{
				{Name: "a", Description: "one"},
				{Name: "b", Description: "two"},
			},
			Relationships: []types.ExtractedRelationship{
				{SourceEntityName: "a", TargetEntityName: "b", RelationshipType: "hypernym", Confidence: 1.7},
			},
		},
	}), nil)

	_, err := index.AddChunk(ctx, types.Chunk{ID: "c1", Text: "text"})
	require.NoError(t, err)

	rels, err := memStore.ListRelationshipsByChunk(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, 1.0, rels[0].Confidence)
	assert.InDelta(t, 10.0, rels[0].Weight, 1e-9)
}

func TestSymmetricMirroring(t *testing.T) {
	ctx := context.Background()
	index, memStore := newTestIndex(t, testGraphConfig(), extractionFor(map[string]*types.Extraction{
		"text": {
			Entities: []types.ExtractedEntity{
				{Name: "car", Description: "a vehicle"},
				{Name: "automobile", Description: "a vehicle"},
				{Name: "engine", Description: "a machine"},
			},
			Relationships: []types.ExtractedRelationship{
				{SourceEntityName: "car", TargetEntityName: "automobile", RelationshipType: "synonym", Confidence: 0.9},
				{SourceEntityName: "car", TargetEntityName: "engine", RelationshipType: "meronym", Confidence: 0.9},
			},
		},
	}), nil)

	result, err := index.AddChunk(ctx, types.Chunk{ID: "c1", Text: "text"})
	require.NoError(t, err)

	// The synonym edge is mirrored, the meronym edge is not.
	assert.Equal(t, 3, result.RelationshipCount)

	rels, err := memStore.ListRelationshipsByChunk(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, rels, 3)

	forward, backward := 0, 0
	for _, rel := range rels {
		if rel.Type != types.RelationSynonym {
			continue
		}
		if rel.SourceID < rel.TargetID {
			forward++
		} else {
			backward++
		}
	}
	assert.Equal(t, 1, forward)
	assert.Equal(t, 1, backward)
}

func TestSymmetricMirroringDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := testGraphConfig()
	cfg.SymmetricMirroring = false
	index, memStore := newTestIndex(t, cfg, extractionFor(map[string]*types.Extraction{
		"text": {
			Entities: []types.ExtractedEntity{
				{Name: "car", Description: "a vehicle"},
				{Name: "automobile", Description: "a vehicle too"},
			},
			Relationships: []types.ExtractedRelationship{
				{SourceEntityName: "car", TargetEntityName: "automobile", RelationshipType: "synonym", Confidence: 0.9},
			},
		},
	}), nil)

	_, err := index.AddChunk(ctx, types.Chunk{ID: "c1", Text: "text"})
	require.NoError(t, err)

	rels, err := memStore.ListRelationshipsByChunk(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, rels, 1)
}

func TestTypedRelationshipsDisabled(t *testing.T) {
	ctx := context.Background()
	cfg := testGraphConfig()
	cfg.TypedRelationships = false
	index, memStore := newTestIndex(t, cfg, extractionFor(map[string]*types.Extraction{
		"text": {
			Entities: []types.ExtractedEntity{
				{Name: "a", Description: "one"},
				{Name: "b", Description: "two"},
			},
			Relationships: []types.ExtractedRelationship{
				{SourceEntityName: "a", TargetEntityName: "b", RelationshipType: "hypernym", Confidence: 0.8},
			},
		},
	}), nil)

	_, err := index.AddChunk(ctx, types.Chunk{ID: "c1", Text: "text"})
	require.NoError(t, err)

	rels, err := memStore.ListRelationshipsByChunk(ctx, "c1")
	require.NoError(t, err)
	require.Len(t, rels, 1)
	assert.Equal(t, types.RelationGeneric, rels[0].Type)
	assert.InDelta(t, 0.8*0.5*10, rels[0].Weight, 1e-9)
}

func TestDegreeCapEvictsLowestWeight(t *testing.T) {
	ctx := context.Background()
	cfg := testGraphConfig()
	cfg.MaxEdgesPerEntity = 3

	entities := []types.ExtractedEntity{{Name: "hub", Description: "center"}}
	var rels []types.ExtractedRelationship
	confidences := []float64{0.5, 0.6, 0.7, 0.8, 0.9}
	targets := []string{"t1", "t2", "t3", "t4", "t5"}
	for i, target := range targets {
		entities = append(entities, types.ExtractedEntity{Name: target, Description: "spoke " + target})
		rels = append(rels, types.ExtractedRelationship{
			SourceEntityName: "hub",
			TargetEntityName: target,
			RelationshipType: "causal",
			Confidence:       confidences[i],
		})
	}

	index, memStore := newTestIndex(t, cfg, extractionFor(map[string]*types.Extraction{
		"text": {Entities: entities, Relationships: rels},
	}), nil)

	_, err := index.AddChunk(ctx, types.Chunk{ID: "c1", Text: "text"})
	require.NoError(t, err)

	canon := canonical.New(canonical.WithPreservedCase(cfg.PreserveCaseEntities))
	hubID := canon.CanonicalID("hub", "center")

	outgoing, err := memStore.ListOutgoingRelationships(ctx, hubID)
	require.NoError(t, err)
	require.Len(t, outgoing, 3)

	// Only the three highest-weight edges survive.
	for _, rel := range outgoing {
		assert.GreaterOrEqual(t, rel.Confidence, 0.7)
	}
}

func TestUnresolvedEndpointsAndSelfLoopsDropped(t *testing.T) {
	ctx := context.Background()
	index, memStore := newTestIndex(t, testGraphConfig(), extractionFor(map[string]*types.Extraction{
		"text": {
			Entities: []types.ExtractedEntity{
				{Name: "a", Description: "one"},
				{Name: "b", Description: "two"},
			},
			Relationships: []types.ExtractedRelationship{
				{SourceEntityName: "a", TargetEntityName: "ghost", RelationshipType: "causal", Confidence: 0.9},
				{SourceEntityName: "a", TargetEntityName: "a", RelationshipType: "causal", Confidence: 0.9},
				{SourceEntityName: "a", TargetEntityName: "b", RelationshipType: "causal", Confidence: 0.9},
			},
		},
	}), nil)

	result, err := index.AddChunk(ctx, types.Chunk{ID: "c1", Text: "text"})
	require.NoError(t, err)
	assert.Equal(t, 1, result.RelationshipCount)

	rels, err := memStore.ListRelationshipsByChunk(ctx, "c1")
	require.NoError(t, err)
	assert.Len(t, rels, 1)
}

func TestCanonicalizationDisabledKeepsRawNames(t *testing.T) {
	ctx := context.Background()
	cfg := testGraphConfig()
	cfg.Canonicalization = false
	index, memStore := newTestIndex(t, cfg, extractionFor(map[string]*types.Extraction{
		"text": {
			Entities: []types.ExtractedEntity{
				{Name: "API", Description: "an interface"},
				{Name: "api", Description: "an interface"},
			},
		},
	}), nil)

	result, err := index.AddChunk(ctx, types.Chunk{ID: "c1", Text: "text"})
	require.NoError(t, err)
	assert.Equal(t, 2, result.EntityCount)

	// Case variants stay separate and names keep their raw form.
	canon := canonical.New(canonical.WithRawNames())
	entity, err := memStore.GetEntityByCanonicalID(ctx, canon.CanonicalID("API", "an interface"))
	require.NoError(t, err)
	assert.Equal(t, "API", entity.Name)

	stats, err := memStore.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.EntityCount)
}

func TestFuzzyMergeGatedOnCanonicalization(t *testing.T) {
	ctx := context.Background()
	fragments := map[string]*types.Extraction{
		"first":  {Entities: []types.ExtractedEntity{{Name: "HTTP", Description: "a protocol"}}},
		"second": {Entities: []types.ExtractedEntity{{Name: "HTTP Protocol", Description: "the protocol"}}},
	}
	vectors := map[string][]float32{
		"HTTP: a protocol":            {1, 0},
		"HTTP Protocol: the protocol": {1, 0},
	}
	chunks := []types.Chunk{{ID: "c1", Text: "first"}, {ID: "c2", Text: "second"}}

	// With canonicalization on, identical embeddings merge the two surface
	// forms into one entity.
	onIndex, onStore := newTestIndex(t, testGraphConfig(), extractionFor(fragments), newFakeEmbedder(vectors))
	_, err := onIndex.AddChunks(ctx, chunks)
	require.NoError(t, err)
	onStats, err := onStore.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), onStats.EntityCount)

	// With canonicalization off, the fuzzy path is inactive even though an
	// embedder is present.
	off := testGraphConfig()
	off.Canonicalization = false
	offIndex, offStore := newTestIndex(t, off, extractionFor(fragments), newFakeEmbedder(vectors))
	_, err = offIndex.AddChunks(ctx, chunks)
	require.NoError(t, err)
	offStats, err := offStore.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), offStats.EntityCount)
}

func TestEntityMergedAcrossChunks(t *testing.T) {
	ctx := context.Background()
	cfg := testGraphConfig()
	index, memStore := newTestIndex(t, cfg, extractionFor(map[string]*types.Extraction{
		"first": {
			Entities: []types.ExtractedEntity{
				{Name: "TiDB", Description: "a database"},
				{Name: "SQL", Description: "a query language"},
			},
			Relationships: []types.ExtractedRelationship{
				{SourceEntityName: "TiDB", TargetEntityName: "SQL", RelationshipType: "dependency", Confidence: 0.9},
			},
		},
		"second": {
			Entities: []types.ExtractedEntity{
				// Different surface form, same normalized name and description.
				{Name: "tidb", Description: "a database"},
				{Name: "Go", Description: "a language"},
			},
			Relationships: []types.ExtractedRelationship{
				{SourceEntityName: "tidb", TargetEntityName: "Go", RelationshipType: "reference", Confidence: 0.9},
			},
		},
	}), nil)

	results, err := index.AddChunks(ctx, []types.Chunk{
		{ID: "c1", Text: "first"},
		{ID: "c2", Text: "second"},
	})
	require.NoError(t, err)
	assert.Equal(t, 2, results.Processed)

	canon := canonical.New(canonical.WithPreservedCase(cfg.PreserveCaseEntities))
	entity, err := memStore.GetEntityByCanonicalID(ctx, canon.CanonicalID("TiDB", "a database"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c1", "c2"}, entity.SourceChunkIDs)

	stats, err := memStore.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), stats.EntityCount)
}
