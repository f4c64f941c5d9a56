package graph

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/cartographai/atlas/pkg/common"
	"github.com/cartographai/atlas/pkg/store"
)

// Direction selects which way relationships are followed during traversal.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// relTypePattern is the shape a relationship type label must have to be
// spliced into a query pattern. Cypher cannot bind type labels as
// parameters, so the builder only accepts labels matching this pattern and
// rejects everything else before any query text is assembled.
var relTypePattern = regexp.MustCompile(`^[A-Z][A-Z0-9_]*$`)

// QueryBuilder compiles traversal and lookup intents into parameterized
// Cypher. Every value travels as a bound parameter; the only text splicing
// is validated relationship-type labels and integer depth bounds, which
// Cypher cannot parameterize. Templates are selected by traversal shape and
// assume nothing about the store's index layout.
type QueryBuilder struct{}

// NewQueryBuilder returns a stateless builder.
func NewQueryBuilder() *QueryBuilder {
	return &QueryBuilder{}
}

// EntityInventory fetches the entity name inventory used for fuzzy
// matching. The limit bounds how many candidates the matcher will score.
func (b *QueryBuilder) EntityInventory(limit int) store.CypherQuery {
	if limit <= 0 {
		limit = 5000
	}
	return store.CypherQuery{
		Text:   "MATCH (n:Entity) RETURN n ORDER BY n.name LIMIT $limit",
		Params: map[string]any{"limit": limit},
		Limit:  limit,
	}
}

// EntitiesByName looks up entities by exact case-insensitive name.
func (b *QueryBuilder) EntitiesByName(names []string, limit int) store.CypherQuery {
	if limit <= 0 {
		limit = len(names)
	}
	lowered := make([]string, len(names))
	for i, name := range names {
		lowered[i] = strings.ToLower(name)
	}
	return store.CypherQuery{
		Text:   "MATCH (n:Entity) WHERE toLower(n.name) IN $names RETURN n LIMIT $limit",
		Params: map[string]any{"names": lowered, "limit": limit},
		Limit:  limit,
	}
}

// EntityEdges fetches the relationships incident to the given entities.
// The matcher counts them to derive relationship degree for disambiguation.
func (b *QueryBuilder) EntityEdges(ids []string, limit int) store.CypherQuery {
	if limit <= 0 {
		limit = 1000
	}
	return store.CypherQuery{
		Text:   "MATCH (n:Entity)-[r]-() WHERE n.id IN $ids RETURN n, r LIMIT $limit",
		Params: map[string]any{"ids": ids, "limit": limit},
		Limit:  limit,
	}
}

// NeighborHop expands one traversal hop from the frontier entities,
// optionally restricted to a relationship-type allow-list.
func (b *QueryBuilder) NeighborHop(
	ids []string,
	relTypes []string,
	direction Direction,
	limit int,
) (store.CypherQuery, error) {
	if limit <= 0 {
		limit = 200
	}
	relPattern, err := relTypeFilter(relTypes)
	if err != nil {
		return store.CypherQuery{}, err
	}

	var pattern string
	switch direction {
	case DirectionOutgoing:
		pattern = fmt.Sprintf("(n:Entity)-[r%s]->(m:Entity)", relPattern)
	case DirectionIncoming:
		pattern = fmt.Sprintf("(n:Entity)<-[r%s]-(m:Entity)", relPattern)
	default:
		pattern = fmt.Sprintf("(n:Entity)-[r%s]-(m:Entity)", relPattern)
	}

	return store.CypherQuery{
		Text:   fmt.Sprintf("MATCH %s WHERE n.id IN $ids RETURN n, r, m LIMIT $limit", pattern),
		Params: map[string]any{"ids": ids, "limit": limit},
		Limit:  limit,
	}, nil
}

// PathsBetween finds shortest paths by hop count between two entities, up
// to maxDepth hops, capped at maxPaths. Length ties are all returned up to
// the cap rather than pruned to one.
func (b *QueryBuilder) PathsBetween(aID, bID string, maxDepth, maxPaths int) (store.CypherQuery, error) {
	if maxDepth <= 0 {
		return store.CypherQuery{}, common.NewConfigurationError("max_depth", "must be positive")
	}
	if maxDepth > hardDepthCeiling {
		maxDepth = hardDepthCeiling
	}
	if maxPaths <= 0 {
		maxPaths = 50
	}
	text := fmt.Sprintf(
		"MATCH p = allShortestPaths((a:Entity {id: $a})-[*..%d]-(b:Entity {id: $b})) RETURN p LIMIT $limit",
		maxDepth,
	)
	return store.CypherQuery{
		Text:   text,
		Params: map[string]any{"a": aID, "b": bID, "limit": maxPaths},
		Limit:  maxPaths,
	}, nil
}

// SubgraphAround returns all entities and relationships within radius hops
// of the center entity.
func (b *QueryBuilder) SubgraphAround(centerID string, radius, limit int) (store.CypherQuery, error) {
	if radius <= 0 {
		return store.CypherQuery{}, common.NewConfigurationError("radius", "must be positive")
	}
	if radius > hardDepthCeiling {
		radius = hardDepthCeiling
	}
	if limit <= 0 {
		limit = 200
	}
	text := fmt.Sprintf(
		"MATCH p = (c:Entity {id: $center})-[*..%d]-(m:Entity) RETURN p LIMIT $limit",
		radius,
	)
	return store.CypherQuery{
		Text:   text,
		Params: map[string]any{"center": centerID, "limit": limit},
		Limit:  limit,
	}, nil
}

// MergeEntity upserts a catalog entity during ingestion. The graph store
// enforces uniqueness on id.
func (b *QueryBuilder) MergeEntity(entity common.Entity) store.CypherQuery {
	return store.CypherQuery{
		Text: `MERGE (n:Entity {id: $id})
SET n.name = $name, n.entity_type = $type, n.description = $description, n.chunk_ref = $chunk_ref
RETURN n`,
		Params: map[string]any{
			"id":          entity.ID,
			"name":        entity.Name,
			"type":        entity.Type,
			"description": entity.Description,
			"chunk_ref":   entity.ChunkRef,
		},
		Limit: 1,
	}
}

// MergeRelationship upserts a typed edge between two existing entities.
// The MATCH clauses guarantee both endpoints exist, so no dangling edges
// can be written. The edge carries its own id and endpoint ids as
// properties so read-back is self-describing and stable across re-merges.
func (b *QueryBuilder) MergeRelationship(rel common.Relationship) (store.CypherQuery, error) {
	relType := strings.ToUpper(strings.TrimSpace(rel.Type))
	if relType == "" {
		relType = "RELATED_TO"
	}
	if !relTypePattern.MatchString(relType) {
		return store.CypherQuery{}, common.NewConfigurationError("relationship_type", fmt.Sprintf("invalid label %q", rel.Type))
	}
	id := strings.TrimSpace(rel.ID)
	if id == "" {
		id = fmt.Sprintf("%s:%s:%s", rel.SourceID, relType, rel.TargetID)
	}
	text := fmt.Sprintf(`MATCH (a:Entity {id: $source}), (b:Entity {id: $target})
MERGE (a)-[r:%s]->(b)
SET r.id = $id, r.source_id = $source, r.target_id = $target, r.strength = $strength, r.description = $description
RETURN r`, relType)
	return store.CypherQuery{
		Text: text,
		Params: map[string]any{
			"id":          id,
			"source":      rel.SourceID,
			"target":      rel.TargetID,
			"strength":    rel.Strength,
			"description": rel.Description,
		},
		Limit: 1,
	}, nil
}

func relTypeFilter(relTypes []string) (string, error) {
	if len(relTypes) == 0 {
		return "", nil
	}
	labels := make([]string, 0, len(relTypes))
	for _, t := range relTypes {
		label := strings.ToUpper(strings.TrimSpace(t))
		if !relTypePattern.MatchString(label) {
			return "", common.NewConfigurationError("relationship_types", fmt.Sprintf("invalid label %q", t))
		}
		labels = append(labels, label)
	}
	return ":" + strings.Join(labels, "|"), nil
}
