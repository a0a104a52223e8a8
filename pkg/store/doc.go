// Package store defines the graph storage collaborator: the GraphStore
// interface with its per-chunk transactional scope, and three
// implementations. The in-memory store serves tests and ephemeral use,
// the Neo4j store serves server deployments, and the embedded Badger
// store serves persistent single-process deployments.
package store
