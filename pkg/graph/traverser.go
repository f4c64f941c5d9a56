package graph

import (
	"context"

	"github.com/cartographai/atlas/pkg/common"
	"github.com/cartographai/atlas/pkg/logger"
	"github.com/cartographai/atlas/pkg/store"
)

// hardDepthCeiling is the absolute traversal depth bound. Configured depths
// above it are clamped, never honored, to prevent runaway exploration.
const hardDepthCeiling = 5

// TraverserConfig holds traversal tunables.
type TraverserConfig struct {
	// MaxDepth is the default traversal depth. Default 3, clamped to the
	// hard ceiling.
	MaxDepth int
	// MaxPaths caps how many shortest paths one request returns. Default 50.
	MaxPaths int
	// HopLimit caps the result size of a single neighbor expansion.
	HopLimit int
	// RelevanceDecay is multiplied onto an entity's relevance for each hop
	// it sits away from a seed. Default 0.7.
	RelevanceDecay float64
}

func (c TraverserConfig) normalized() TraverserConfig {
	if c.MaxDepth <= 0 {
		c.MaxDepth = 3
	}
	if c.MaxDepth > hardDepthCeiling {
		c.MaxDepth = hardDepthCeiling
	}
	if c.MaxPaths <= 0 {
		c.MaxPaths = 50
	}
	if c.HopLimit <= 0 {
		c.HopLimit = 200
	}
	if c.RelevanceDecay <= 0 || c.RelevanceDecay >= 1 {
		c.RelevanceDecay = 0.7
	}
	return c
}

// Traverser explores the graph store breadth-first from seed entities. All
// store access is compiled through the query builder; store-side failures
// never leave this package as errors, they degrade to empty results with a
// logged diagnostic.
type Traverser struct {
	graphStore store.GraphStore
	builder    *QueryBuilder
	config     TraverserConfig
}

// NewTraverser creates a traverser over the given graph store.
func NewTraverser(graphStore store.GraphStore, builder *QueryBuilder, config TraverserConfig) *Traverser {
	return &Traverser{
		graphStore: graphStore,
		builder:    builder,
		config:     config.normalized(),
	}
}

// Traverse explores breadth-first from the seed entities up to depth hops,
// optionally filtering relationships by type. Entities carry a relevance
// score that decays per hop from 1.0 at the seeds. The returned result only
// ever contains entities reachable within depth hops.
func (t *Traverser) Traverse(
	ctx context.Context,
	seeds []common.Entity,
	depth int,
	direction Direction,
	relTypes []string,
) common.GraphResult {
	if len(seeds) == 0 {
		return common.GraphResult{Relevance: map[string]float64{}}
	}
	if depth <= 0 || depth > t.config.MaxDepth {
		depth = t.config.MaxDepth
	}

	result := common.GraphResult{
		Relevance: make(map[string]float64, len(seeds)),
	}
	seenEntities := make(map[string]struct{}, len(seeds))
	seenRels := make(map[string]struct{})
	parent := make(map[string]string)

	frontier := make([]string, 0, len(seeds))
	for _, seed := range seeds {
		if _, ok := seenEntities[seed.ID]; ok {
			continue
		}
		seenEntities[seed.ID] = struct{}{}
		result.Entities = append(result.Entities, seed)
		result.Relevance[seed.ID] = 1.0
		frontier = append(frontier, seed.ID)
	}

	relevance := 1.0
	for hop := 1; hop <= depth && len(frontier) > 0; hop++ {
		relevance *= t.config.RelevanceDecay

		query, err := t.builder.NeighborHop(frontier, relTypes, direction, t.config.HopLimit)
		if err != nil {
			logger.Error("[Traverser] Failed to build hop query", "hop", hop, "err", err)
			return common.GraphResult{Degraded: true, Relevance: map[string]float64{}}
		}
		records, err := t.graphStore.Run(ctx, query)
		if err != nil {
			logger.Warn("[Traverser] Hop query failed, degrading to partial graph context", "hop", hop, "err", err)
			result.Degraded = true
			break
		}

		previous := make(map[string]struct{}, len(seenEntities))
		for id := range seenEntities {
			previous[id] = struct{}{}
		}

		next := make([]string, 0, len(records.Entities))
		for _, rel := range records.Relationships {
			if _, ok := seenRels[rel.ID]; ok {
				continue
			}
			seenRels[rel.ID] = struct{}{}
			result.Relationships = append(result.Relationships, rel)
		}
		for _, entity := range records.Entities {
			if _, ok := seenEntities[entity.ID]; ok {
				continue
			}
			seenEntities[entity.ID] = struct{}{}
			result.Entities = append(result.Entities, entity)
			result.Relevance[entity.ID] = relevance
			next = append(next, entity.ID)
		}
		// Record which earlier entity discovered each new one, walking
		// edges in either direction.
		for _, rel := range records.Relationships {
			_, srcOld := previous[rel.SourceID]
			_, tgtOld := previous[rel.TargetID]
			if srcOld && !tgtOld {
				if _, known := parent[rel.TargetID]; !known {
					parent[rel.TargetID] = rel.SourceID
				}
			} else if tgtOld && !srcOld {
				if _, known := parent[rel.SourceID]; !known {
					parent[rel.SourceID] = rel.TargetID
				}
			}
		}
		frontier = next
	}

	result.Paths = t.buildPaths(parent, frontier)
	return result
}

// buildPaths reconstructs one discovery path per final-frontier entity from
// the parent pointers collected while walking.
func (t *Traverser) buildPaths(parent map[string]string, frontier []string) []common.Path {
	paths := make([]common.Path, 0, len(frontier))
	for _, id := range frontier {
		path := common.Path{id}
		for cur, ok := parent[id]; ok; cur, ok = parent[cur] {
			path = append(common.Path{cur}, path...)
			if len(path) > hardDepthCeiling+1 {
				break
			}
		}
		if len(path) > 1 {
			paths = append(paths, path)
		}
		if len(paths) >= t.config.MaxPaths {
			break
		}
	}
	return paths
}

// ShortestPaths returns the shortest paths by hop count between two
// entities, up to maxDepth hops. All length ties come back, capped at the
// configured path count.
func (t *Traverser) ShortestPaths(
	ctx context.Context,
	aID, bID string,
	maxDepth int,
) []common.Path {
	if maxDepth <= 0 {
		maxDepth = t.config.MaxDepth
	}
	query, err := t.builder.PathsBetween(aID, bID, maxDepth, t.config.MaxPaths)
	if err != nil {
		logger.Error("[Traverser] Failed to build path query", "err", err)
		return nil
	}
	records, err := t.graphStore.Run(ctx, query)
	if err != nil {
		logger.Warn("[Traverser] Path query failed", "a", aID, "b", bID, "err", err)
		return nil
	}
	if len(records.Paths) > t.config.MaxPaths {
		return records.Paths[:t.config.MaxPaths]
	}
	return records.Paths
}

// Subgraph returns all entities and relationships within radius hops of
// the center entity, used as relational context for synthesis even for
// nominally vector-focused queries with a confidently matched entity.
func (t *Traverser) Subgraph(ctx context.Context, center common.Entity, radius int) common.GraphResult {
	query, err := t.builder.SubgraphAround(center.ID, radius, t.config.HopLimit)
	if err != nil {
		logger.Error("[Traverser] Failed to build subgraph query", "err", err)
		return common.GraphResult{Degraded: true, Relevance: map[string]float64{}}
	}
	records, err := t.graphStore.Run(ctx, query)
	if err != nil {
		logger.Warn("[Traverser] Subgraph query failed, degrading to no graph context", "center", center.ID, "err", err)
		return common.GraphResult{Degraded: true, Relevance: map[string]float64{}}
	}

	result := common.GraphResult{
		Relationships: records.Relationships,
		Paths:         records.Paths,
		Relevance:     make(map[string]float64, len(records.Entities)+1),
	}
	seen := map[string]struct{}{center.ID: {}}
	result.Entities = append(result.Entities, center)
	result.Relevance[center.ID] = 1.0
	for _, entity := range records.Entities {
		if _, ok := seen[entity.ID]; ok {
			continue
		}
		seen[entity.ID] = struct{}{}
		result.Entities = append(result.Entities, entity)
		result.Relevance[entity.ID] = t.config.RelevanceDecay
	}
	return result
}
