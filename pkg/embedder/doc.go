// Package embedder provides text embedding clients used for entity
// deduplication and retrieval seeding.
package embedder
