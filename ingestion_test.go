package kgindex

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/soundprediction/kgindex/pkg/extract"
	"github.com/soundprediction/kgindex/pkg/store"
	"github.com/soundprediction/kgindex/pkg/types"
)

// fragmentFor builds a small extraction whose entities are unique to the
// given key, so chunks never collide in the graph.
func fragmentFor(key string) *types.Extraction {
	return &types.Extraction{
		Entities: []types.ExtractedEntity{
			{Name: key + "-subject", Description: "subject of " + key},
			{Name: key + "-object", Description: "object of " + key},
		},
		Relationships: []types.ExtractedRelationship{
			{
				SourceEntityName: key + "-subject",
				TargetEntityName: key + "-object",
				RelationshipType: "causal",
				Confidence:       0.9,
			},
		},
	}
}

func TestAddChunksEmptyBatch(t *testing.T) {
	index, _ := newTestIndex(t, testGraphConfig(), extractionFor(nil), nil)

	results, err := index.AddChunks(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, results.Results)
	assert.Zero(t, results.Processed)
	assert.Zero(t, results.Failed)
}

func TestAddChunksFailureIsolation(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("model unavailable")
	extractor := func(ctx context.Context, text string) (*types.Extraction, error) {
		if text == "poison" {
			return nil, boom
		}
		return fragmentFor(text), nil
	}
	index, memStore := newTestIndex(t, testGraphConfig(), extractor, nil)

	chunks := make([]types.Chunk, 10)
	for i := range chunks {
		chunks[i] = types.Chunk{ID: fmt.Sprintf("c%d", i), Text: fmt.Sprintf("text-%d", i)}
	}
	chunks[5].Text = "poison"

	results, err := index.AddChunks(ctx, chunks)
	require.NoError(t, err)
	assert.Equal(t, 9, results.Processed)
	assert.Equal(t, 1, results.Failed)

	// Results come back in input order.
	for i, r := range results.Results {
		assert.Equal(t, fmt.Sprintf("c%d", i), r.ChunkID)
	}
	failed := results.Results[5]
	assert.Equal(t, types.ChunkFailed, failed.Status)
	assert.Contains(t, failed.Error, "model unavailable")

	// The nine good chunks all landed.
	stats, err := memStore.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(18), stats.EntityCount)
	assert.Equal(t, int64(9), stats.RelationshipCount)
}

func TestAddChunksInvalidChunkFailsAlone(t *testing.T) {
	ctx := context.Background()
	extractor := func(ctx context.Context, text string) (*types.Extraction, error) {
		return fragmentFor(text), nil
	}
	index, _ := newTestIndex(t, testGraphConfig(), extractor, nil)

	results, err := index.AddChunks(ctx, []types.Chunk{
		{ID: "good", Text: "some text"},
		{ID: "empty", Text: ""},
		{ID: "", Text: "no id"},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, results.Processed)
	assert.Equal(t, 2, results.Failed)
	assert.Equal(t, types.ChunkProcessed, results.Results[0].Status)
	assert.Equal(t, types.ChunkFailed, results.Results[1].Status)
	assert.Equal(t, types.ChunkFailed, results.Results[2].Status)
}

func TestAddChunksEmptyExtractionIsProcessed(t *testing.T) {
	ctx := context.Background()
	extractor := func(ctx context.Context, text string) (*types.Extraction, error) {
		return &types.Extraction{}, nil
	}
	index, memStore := newTestIndex(t, testGraphConfig(), extractor, nil)

	result, err := index.AddChunk(ctx, types.Chunk{ID: "c1", Text: "nothing here"})
	require.NoError(t, err)
	assert.Equal(t, types.ChunkProcessed, result.Status)
	assert.Zero(t, result.EntityCount)
	assert.Zero(t, result.RelationshipCount)

	stats, err := memStore.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.EntityCount)
}

func TestAddChunksReingestSkipsWholeBatch(t *testing.T) {
	ctx := context.Background()
	extractor := func(ctx context.Context, text string) (*types.Extraction, error) {
		return fragmentFor(text), nil
	}
	index, _ := newTestIndex(t, testGraphConfig(), extractor, nil)

	chunks := []types.Chunk{
		{ID: "c1", Text: "one"},
		{ID: "c2", Text: "two"},
		{ID: "c3", Text: "three"},
	}

	first, err := index.AddChunks(ctx, chunks)
	require.NoError(t, err)
	assert.Equal(t, 3, first.Processed)

	second, err := index.AddChunks(ctx, chunks)
	require.NoError(t, err)
	assert.Equal(t, 3, second.Skipped)
	assert.Zero(t, second.Processed)
}

func TestAddChunksParallelMatchesSequential(t *testing.T) {
	ctx := context.Background()
	extractor := func(ctx context.Context, text string) (*types.Extraction, error) {
		return fragmentFor(text), nil
	}

	chunks := make([]types.Chunk, 16)
	for i := range chunks {
		chunks[i] = types.Chunk{ID: fmt.Sprintf("c%d", i), Text: fmt.Sprintf("text-%d", i)}
	}

	sequential := testGraphConfig()
	seqIndex, seqStore := newTestIndex(t, sequential, extractor, nil)
	seqResults, err := seqIndex.AddChunks(ctx, chunks)
	require.NoError(t, err)

	parallel := testGraphConfig()
	parallel.Parallelism = true
	parallel.MaxWorkers = 8
	parIndex, parStore := newTestIndex(t, parallel, extractor, nil)
	parResults, err := parIndex.AddChunks(ctx, chunks)
	require.NoError(t, err)

	assert.Equal(t, seqResults.Processed, parResults.Processed)
	assert.Equal(t, seqResults.Failed, parResults.Failed)
	for i := range chunks {
		assert.Equal(t, chunks[i].ID, parResults.Results[i].ChunkID)
		assert.Equal(t, seqResults.Results[i].Status, parResults.Results[i].Status)
		assert.Equal(t, seqResults.Results[i].EntityCount, parResults.Results[i].EntityCount)
	}

	seqStats, err := seqStore.Stats(ctx)
	require.NoError(t, err)
	parStats, err := parStore.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, seqStats.EntityCount, parStats.EntityCount)
	assert.Equal(t, seqStats.RelationshipCount, parStats.RelationshipCount)
}

func TestChunkTimeout(t *testing.T) {
	ctx := context.Background()
	cfg := testGraphConfig()
	cfg.ChunkTimeout = 20 * time.Millisecond

	stuck := func(ctx context.Context, text string) (*types.Extraction, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	index, _ := newTestIndex(t, cfg, stuck, nil)

	result, err := index.AddChunk(ctx, types.Chunk{ID: "c1", Text: "slow"})
	require.NoError(t, err)
	assert.Equal(t, types.ChunkFailed, result.Status)
	assert.Contains(t, result.Error, context.DeadlineExceeded.Error())
}

func TestChunkTimeoutUncooperativeExtractor(t *testing.T) {
	ctx := context.Background()
	cfg := testGraphConfig()
	cfg.ChunkTimeout = 20 * time.Millisecond

	// The extractor ignores its context entirely and finishes well past the
	// deadline.
	released := make(chan struct{})
	ignoring := func(ctx context.Context, text string) (*types.Extraction, error) {
		defer close(released)
		time.Sleep(100 * time.Millisecond)
		return fragmentFor(text), nil
	}
	index, memStore := newTestIndex(t, cfg, ignoring, nil)

	result, err := index.AddChunk(ctx, types.Chunk{ID: "c1", Text: "slow"})
	require.NoError(t, err)
	assert.Equal(t, types.ChunkFailed, result.Status)
	assert.Contains(t, result.Error, context.DeadlineExceeded.Error())

	// The late fragment is discarded, never applied.
	<-released
	stats, err := memStore.Stats(ctx)
	require.NoError(t, err)
	assert.Zero(t, stats.EntityCount)
	assert.Zero(t, stats.RelationshipCount)
}

func TestAddChunkSurfacesStoreFailure(t *testing.T) {
	ctx := context.Background()
	extractor := func(ctx context.Context, text string) (*types.Extraction, error) {
		return fragmentFor(text), nil
	}
	memStore := store.NewMemoryStore()
	index, err := New(memStore, extract.Func(extractor), nil, testGraphConfig(), nil)
	require.NoError(t, err)
	require.NoError(t, memStore.Close())

	result, err := index.AddChunk(ctx, types.Chunk{ID: "c1", Text: "text"})
	require.NoError(t, err)
	assert.Equal(t, types.ChunkFailed, result.Status)
	assert.Contains(t, result.Error, store.ErrClosed.Error())
}

func TestSplitText(t *testing.T) {
	chunks := SplitText("doc", "short text", 100)
	require.Len(t, chunks, 1)
	assert.Equal(t, "doc-0000", chunks[0].ID)
	assert.Equal(t, "short text", chunks[0].Text)

	// Paragraphs are kept whole when they fit.
	paraA := "first paragraph with some words in it."
	paraB := "second paragraph with some other words."
	chunks = SplitText("doc", paraA+"\n\n"+paraB, len(paraA)+5)
	require.Len(t, chunks, 2)
	assert.Equal(t, paraA, chunks[0].Text)
	assert.Equal(t, paraB, chunks[1].Text)

	// Ids are stable across re-splitting.
	again := SplitText("doc", paraA+"\n\n"+paraB, len(paraA)+5)
	assert.Equal(t, chunks[0].ID, again[0].ID)
	assert.Equal(t, chunks[1].ID, again[1].ID)
}

func TestSplitTextOversizedParagraph(t *testing.T) {
	text := "one sentence here. another sentence follows. and a third one ends it."
	chunks := SplitText("doc", text, 30)
	require.Greater(t, len(chunks), 1)
	for _, c := range chunks {
		assert.LessOrEqual(t, len(c.Text), 30)
		assert.NotEmpty(t, c.Text)
	}
}
