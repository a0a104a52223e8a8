package kgindex

import (
	"context"
	"fmt"
	"sort"

	"github.com/soundprediction/kgindex/pkg/store"
	"github.com/soundprediction/kgindex/pkg/types"
)

// Retrieval defaults.
const (
	DefaultRetrieveDepth = 2
	DefaultSeedLimit     = 10
	DefaultRetrieveLimit = 50
	defaultHopDecay      = 0.8
)

// RetrieveOptions tunes the retrieval traversal. Passing nil uses the
// defaults.
type RetrieveOptions struct {
	// Depth is the maximum number of hops from the seed set. Zero or
	// negative returns the seed entities only, with no traversal.
	Depth int
	// SeedLimit bounds the number of embedding-similar seed entities.
	SeedLimit int
	// Limit bounds the total number of entities returned.
	Limit int
	// Filter restricts seed selection to entities matching the metadata
	// predicates exactly.
	Filter store.MetadataFilter
}

func (o *RetrieveOptions) withDefaults() RetrieveOptions {
	if o == nil {
		return RetrieveOptions{
			Depth:     DefaultRetrieveDepth,
			SeedLimit: DefaultSeedLimit,
			Limit:     DefaultRetrieveLimit,
		}
	}
	opts := *o
	if opts.SeedLimit <= 0 {
		opts.SeedLimit = DefaultSeedLimit
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultRetrieveLimit
	}
	return opts
}

// visit tracks the best-known path score for an entity during traversal.
type visit struct {
	score float64
	depth int
}

// Retrieve returns the weighted subgraph relevant to a query. Seed entities
// are selected by embedding similarity against the query, then the graph is
// walked outward up to Depth hops. An entity's score is its best path score:
// seed similarity multiplied by each traversed edge's normalized weight and
// a per-hop decay. Entities are returned best first with ties broken by
// canonical id, and relationships are restricted to edges between returned
// entities.
//
// An empty seed set yields an empty graph, not an error.
func (ix *Index) Retrieve(ctx context.Context, query string, options *RetrieveOptions) (*types.RetrievedGraph, error) {
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if ix.embedder == nil {
		return nil, fmt.Errorf("retrieval requires an embedder client")
	}
	opts := options.withDefaults()

	embedding, err := ix.embedder.EmbedSingle(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	seeds, err := ix.store.SearchEntitiesBySimilarity(ctx, embedding, ix.cfg.SeedSimilarityThreshold, opts.SeedLimit, opts.Filter)
	if err != nil {
		return nil, fmt.Errorf("failed to search seed entities: %w", err)
	}

	graph := &types.RetrievedGraph{
		Query:         query,
		Entities:      []types.ScoredEntity{},
		Relationships: []*types.Relationship{},
	}
	if len(seeds) == 0 {
		ix.logger.Debug("retrieval found no seed entities",
			"query", query,
			"threshold", ix.cfg.SeedSimilarityThreshold)
		return graph, nil
	}

	visited := make(map[string]visit, len(seeds))
	frontier := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		visited[seed.Entity.ID] = visit{score: seed.Similarity, depth: 0}
		frontier = append(frontier, seed.Entity.ID)
	}

	edges := make(map[string]*types.Relationship)
	if opts.Depth > 0 {
		if err := ix.traverse(ctx, visited, frontier, edges, opts.Depth); err != nil {
			return nil, err
		}
	}

	return ix.assembleGraph(ctx, graph, visited, edges, opts.Limit)
}

// traverse walks the graph outward from the frontier, keeping the best path
// score per entity. Edges are followed in both directions: an incoming edge
// still connects its far endpoint.
func (ix *Index) traverse(ctx context.Context, visited map[string]visit, frontier []string, edges map[string]*types.Relationship, depth int) error {
	decay := ix.cfg.HopDecay
	if decay <= 0 {
		decay = defaultHopDecay
	}

	for hop := 1; hop <= depth && len(frontier) > 0; hop++ {
		var next []string
		for _, id := range frontier {
			from := visited[id]
			rels, err := ix.store.ListRelationships(ctx, id)
			if err != nil {
				return fmt.Errorf("failed to list relationships for %s: %w", id, err)
			}
			for _, rel := range rels {
				other := rel.TargetID
				if other == id {
					other = rel.SourceID
				}
				edges[rel.ID] = rel

				score := from.score * (rel.Weight / 10) * decay
				if prev, seen := visited[other]; seen && prev.score >= score {
					continue
				}
				visited[other] = visit{score: score, depth: hop}
				next = append(next, other)
			}
		}
		frontier = next
	}
	return nil
}

// assembleGraph loads the visited entities, ranks them, applies the limit,
// and filters relationships to edges between returned entities.
func (ix *Index) assembleGraph(ctx context.Context, graph *types.RetrievedGraph, visited map[string]visit, edges map[string]*types.Relationship, limit int) (*types.RetrievedGraph, error) {
	ids := make([]string, 0, len(visited))
	for id := range visited {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	entities, err := ix.store.GetEntities(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load retrieved entities: %w", err)
	}

	scored := make([]types.ScoredEntity, 0, len(entities))
	for _, e := range entities {
		v := visited[e.ID]
		scored = append(scored, types.ScoredEntity{Entity: e, Score: v.score, Depth: v.depth})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Entity.ID < scored[j].Entity.ID
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	graph.Entities = scored

	kept := make(map[string]bool, len(scored))
	for _, s := range scored {
		kept[s.Entity.ID] = true
	}
	rels := make([]*types.Relationship, 0, len(edges))
	for _, rel := range edges {
		if kept[rel.SourceID] && kept[rel.TargetID] {
			rels = append(rels, rel)
		}
	}
	sort.Slice(rels, func(i, j int) bool { return rels[i].ID < rels[j].ID })
	graph.Relationships = rels

	ix.logger.Debug("retrieval complete",
		"query", graph.Query,
		"entities", len(graph.Entities),
		"relationships", len(graph.Relationships))
	return graph, nil
}
