package kgindex

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/soundprediction/kgindex/pkg/types"
)

// progressInterval controls how often batch progress is logged.
const progressInterval = 10

// AddChunks ingests a batch of chunks into the knowledge graph. Each chunk
// is processed independently: extraction or persistence failures are
// isolated into that chunk's ChunkResult and never abort the batch. The
// returned results are in the caller's input order, one per chunk.
//
// Chunks whose relationships are already persisted are skipped without
// calling the extractor, making re-ingestion of a batch a cheap no-op.
func (ix *Index) AddChunks(ctx context.Context, chunks []types.Chunk) (*types.IngestResults, error) {
	start := time.Now()
	results := &types.IngestResults{Results: make([]types.ChunkResult, len(chunks))}
	if len(chunks) == 0 {
		return results, nil
	}

	workers := ix.cfg.WorkerCount()
	if !ix.cfg.ParallelismOn() || len(chunks) == 1 {
		workers = 1
	}
	ix.logger.Info("ingesting chunk batch",
		"chunks", len(chunks),
		"workers", workers)

	if workers == 1 {
		for i := range chunks {
			results.Results[i] = ix.processChunk(ctx, chunks[i])
			ix.logProgress(int64(i+1), len(chunks))
		}
	} else {
		var wg sync.WaitGroup
		var completed atomic.Int64
		sem := make(chan struct{}, workers)
		for i := range chunks {
			wg.Add(1)
			sem <- struct{}{}
			go func(i int) {
				defer wg.Done()
				defer func() { <-sem }()
				results.Results[i] = ix.processChunk(ctx, chunks[i])
				ix.logProgress(completed.Add(1), len(chunks))
			}(i)
		}
		wg.Wait()
	}

	results.Summarize()
	results.TotalDuration = time.Since(start)
	ix.logger.Info("chunk batch complete",
		"processed", results.Processed,
		"skipped", results.Skipped,
		"failed", results.Failed,
		"duration", results.TotalDuration)
	return results, nil
}

// AddChunk ingests a single chunk.
func (ix *Index) AddChunk(ctx context.Context, chunk types.Chunk) (*types.ChunkResult, error) {
	results, err := ix.AddChunks(ctx, []types.Chunk{chunk})
	if err != nil {
		return nil, err
	}
	return &results.Results[0], nil
}

// processChunk runs the full pipeline for one chunk: validate, check
// idempotency, extract, and apply. Any failure becomes a ChunkFailed result.
//
// When a chunk timeout is configured the pipeline body runs in its own
// goroutine so a collaborator that ignores its context cannot hold the worker
// past the deadline. A result arriving after the deadline is discarded, which
// is safe because applying a chunk is idempotent.
func (ix *Index) processChunk(ctx context.Context, chunk types.Chunk) types.ChunkResult {
	start := time.Now()
	result := types.ChunkResult{ChunkID: chunk.ID}

	if err := chunk.Validate(); err != nil {
		return failChunk(result, start, fmt.Errorf("invalid chunk: %w", err))
	}

	if ix.cfg.ChunkTimeout <= 0 {
		return ix.runChunk(ctx, chunk, start)
	}

	ctx, cancel := context.WithTimeout(ctx, ix.cfg.ChunkTimeout)
	defer cancel()

	done := make(chan types.ChunkResult, 1)
	go func() {
		done <- ix.runChunk(ctx, chunk, start)
	}()

	select {
	case r := <-done:
		return r
	case <-ctx.Done():
		ix.logger.Warn("chunk processing timed out",
			"chunk_id", chunk.ID,
			"timeout", ix.cfg.ChunkTimeout)
		return failChunk(result, start, fmt.Errorf("chunk processing timed out: %w", ctx.Err()))
	}
}

// runChunk is the pipeline body shared by the timed and untimed paths.
func (ix *Index) runChunk(ctx context.Context, chunk types.Chunk, start time.Time) types.ChunkResult {
	result := types.ChunkResult{ChunkID: chunk.ID}

	// Cheap pre-check outside any transaction; the authoritative check
	// happens again inside the write transaction.
	existing, err := ix.store.ListRelationshipsByChunk(ctx, chunk.ID)
	if err != nil {
		return failChunk(result, start, fmt.Errorf("failed to check chunk idempotency: %w", err))
	}
	if len(existing) > 0 {
		result.Status = types.ChunkSkipped
		result.Duration = time.Since(start)
		return result
	}

	ext, err := ix.extractor.Extract(ctx, chunk.Text)
	if err != nil {
		ix.logger.Warn("chunk extraction failed",
			"chunk_id", chunk.ID,
			"error", err)
		return failChunk(result, start, fmt.Errorf("extraction failed: %w", err))
	}
	// An extractor that ignores its context can return after the deadline.
	// Nothing from an expired chunk may reach the store.
	if err := ctx.Err(); err != nil {
		return failChunk(result, start, fmt.Errorf("chunk processing timed out: %w", err))
	}
	if ext.Empty() {
		result.Status = types.ChunkProcessed
		result.Duration = time.Since(start)
		return result
	}

	stats, skipped, err := ix.applyExtraction(ctx, chunk, ext)
	if err != nil {
		ix.logger.Warn("chunk application failed",
			"chunk_id", chunk.ID,
			"error", err)
		return failChunk(result, start, fmt.Errorf("failed to apply extraction: %w", err))
	}
	if skipped {
		result.Status = types.ChunkSkipped
	} else {
		result.Status = types.ChunkProcessed
		result.EntityCount = stats.Entities
		result.RelationshipCount = stats.Relationships
	}
	result.Duration = time.Since(start)
	return result
}

func failChunk(result types.ChunkResult, start time.Time, err error) types.ChunkResult {
	result.Status = types.ChunkFailed
	result.Error = err.Error()
	result.Duration = time.Since(start)
	return result
}

func (ix *Index) logProgress(completed int64, total int) {
	if completed%progressInterval == 0 || completed == int64(total) {
		ix.logger.Info("ingestion progress",
			"completed", completed,
			"total", total)
	}
}

// SplitText splits text into chunks of approximately maxChars, preferring
// paragraph boundaries and falling back to sentence and word boundaries
// inside oversized paragraphs. Chunk ids are derived from idPrefix and the
// chunk's position so re-splitting the same document yields stable ids.
func SplitText(idPrefix, text string, maxChars int) []types.Chunk {
	if maxChars <= 0 {
		maxChars = 2000
	}
	parts := splitParagraphs(text, maxChars)
	chunks := make([]types.Chunk, 0, len(parts))
	for i, part := range parts {
		if part == "" {
			continue
		}
		chunks = append(chunks, types.Chunk{
			ID:   fmt.Sprintf("%s-%04d", idPrefix, i),
			Text: part,
		})
	}
	return chunks
}

func splitParagraphs(text string, maxChars int) []string {
	text = strings.TrimSpace(text)
	if len(text) <= maxChars {
		return []string{text}
	}

	paragraphs := strings.Split(text, "\n\n")

	var parts []string
	var current strings.Builder
	for _, para := range paragraphs {
		if len(para) > maxChars {
			if current.Len() > 0 {
				parts = append(parts, strings.TrimSpace(current.String()))
				current.Reset()
			}
			parts = append(parts, splitParagraph(para, maxChars)...)
			continue
		}
		if current.Len() > 0 && current.Len()+2+len(para) > maxChars {
			parts = append(parts, strings.TrimSpace(current.String()))
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	if current.Len() > 0 {
		parts = append(parts, strings.TrimSpace(current.String()))
	}
	return parts
}

// splitParagraph breaks a single oversized paragraph at sentence, newline,
// or word boundaries, splitting mid-word only as a last resort.
func splitParagraph(para string, maxChars int) []string {
	var parts []string
	remaining := para
	minSize := maxChars / 3

	for len(remaining) > 0 {
		if len(remaining) <= maxChars {
			parts = append(parts, strings.TrimSpace(remaining))
			break
		}

		window := remaining[:maxChars]
		breakPoint := maxChars
		if idx := strings.LastIndex(window, ". "); idx > minSize {
			breakPoint = idx + 2
		} else if idx := strings.LastIndex(window, "! "); idx > minSize {
			breakPoint = idx + 2
		} else if idx := strings.LastIndex(window, "? "); idx > minSize {
			breakPoint = idx + 2
		} else if idx := strings.LastIndex(window, "\n"); idx > minSize {
			breakPoint = idx + 1
		} else if idx := strings.LastIndex(window, " "); idx > minSize {
			breakPoint = idx + 1
		}

		parts = append(parts, strings.TrimSpace(remaining[:breakPoint]))
		remaining = remaining[breakPoint:]
	}
	return parts
}
