// Package kgindex builds and queries typed, weighted knowledge graphs from
// text chunks. Entities are canonicalized so the same concept extracted from
// different chunks converges on one node, relationships carry semantic types
// and traversal weights, and retrieval walks the graph outward from
// embedding-similar seed entities.
package kgindex
