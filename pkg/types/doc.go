// Package types defines the core data model for the knowledge graph:
// entities, typed weighted relationships, chunks, extraction fragments,
// and the result types returned by ingestion and retrieval.
//
// Relationship typing lives here as well: RelationType carries the fixed
// base-weight table and the symmetry rule used when edges are persisted.
package types
