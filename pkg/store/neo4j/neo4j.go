package neo4j

import (
	"context"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"

	"github.com/cartographai/atlas/pkg/common"
	"github.com/cartographai/atlas/pkg/store"
)

// GraphStore implements store.GraphStore against a Neo4j (or
// Bolt-compatible) database. All queries arrive pre-parameterized from the
// query builder; this adapter only executes them and maps records back into
// the core's types.
type GraphStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewGraphStoreParams configures the Neo4j connection.
type NewGraphStoreParams struct {
	URI      string
	Username string
	Password string
	Database string
}

// NewGraphStore connects to the graph database and verifies connectivity.
func NewGraphStore(ctx context.Context, params NewGraphStoreParams) (*GraphStore, error) {
	driver, err := neo4j.NewDriverWithContext(
		params.URI,
		neo4j.BasicAuth(params.Username, params.Password, ""),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create graph driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		return nil, common.Transient("graph connect", err)
	}
	return &GraphStore{driver: driver, database: params.Database}, nil
}

// Run executes one parameterized query and maps every node, relationship,
// and path in the result set. Duplicate nodes and relationships across
// records are collapsed by identity.
func (s *GraphStore) Run(ctx context.Context, query store.CypherQuery) (*store.GraphRecords, error) {
	mode := neo4j.AccessModeRead
	if strings.Contains(query.Text, "MERGE") {
		mode = neo4j.AccessModeWrite
	}
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.database,
		AccessMode:   mode,
	})
	defer session.Close(ctx)

	result, err := session.Run(ctx, query.Text, query.Params)
	if err != nil {
		return nil, common.Transient("graph query", err)
	}

	collector := newRecordCollector()
	for result.Next(ctx) {
		record := result.Record()
		for _, value := range record.Values {
			collector.collect(value)
		}
	}
	if err := result.Err(); err != nil {
		return nil, common.Transient("graph result", err)
	}
	return collector.records(), nil
}

// recordCollector accumulates the nodes, relationships, and paths of one
// result set, collapsing duplicates by identity. The driver reports
// relationship endpoints as internal element IDs; the collector tracks the
// element ID of every node it sees and remaps endpoints to catalog entity
// IDs when the set is finished, so edges reference the entities returned
// alongside them.
type recordCollector struct {
	recs      store.GraphRecords
	seenNodes map[string]struct{}
	seenRels  map[string]struct{}
	elementID map[string]string
}

func newRecordCollector() *recordCollector {
	return &recordCollector{
		seenNodes: make(map[string]struct{}),
		seenRels:  make(map[string]struct{}),
		elementID: make(map[string]string),
	}
}

func (c *recordCollector) collect(value any) {
	switch v := value.(type) {
	case neo4j.Node:
		c.addNode(v)
	case neo4j.Relationship:
		c.addRelationship(v)
	case neo4j.Path:
		path := make(common.Path, 0, len(v.Nodes))
		for _, node := range v.Nodes {
			if entity, ok := c.addNode(node); ok {
				path = append(path, entity.ID)
			}
		}
		for _, rel := range v.Relationships {
			c.addRelationship(rel)
		}
		if len(path) > 0 {
			c.recs.Paths = append(c.recs.Paths, path)
		}
	case []any:
		for _, item := range v {
			c.collect(item)
		}
	}
}

func (c *recordCollector) addNode(node neo4j.Node) (common.Entity, bool) {
	entity, ok := nodeToEntity(node)
	if !ok {
		return common.Entity{}, false
	}
	c.elementID[node.ElementId] = entity.ID
	if _, seen := c.seenNodes[entity.ID]; !seen {
		c.seenNodes[entity.ID] = struct{}{}
		c.recs.Entities = append(c.recs.Entities, entity)
	}
	return entity, true
}

func (c *recordCollector) addRelationship(rel neo4j.Relationship) {
	edge := relationshipToEdge(rel)
	if _, seen := c.seenRels[edge.ID]; seen {
		return
	}
	c.seenRels[edge.ID] = struct{}{}
	c.recs.Relationships = append(c.recs.Relationships, edge)
}

// records resolves relationship endpoints against every node collected so
// far and returns the finished set. Endpoints already carried as catalog IDs
// through edge properties are left untouched.
func (c *recordCollector) records() *store.GraphRecords {
	for i := range c.recs.Relationships {
		rel := &c.recs.Relationships[i]
		if id, ok := c.elementID[rel.SourceID]; ok {
			rel.SourceID = id
		}
		if id, ok := c.elementID[rel.TargetID]; ok {
			rel.TargetID = id
		}
	}
	return &c.recs
}

// Ping verifies the store is reachable.
func (s *GraphStore) Ping(ctx context.Context) error {
	if err := s.driver.VerifyConnectivity(ctx); err != nil {
		return common.Transient("graph ping", err)
	}
	return nil
}

// Close releases the underlying driver.
func (s *GraphStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

func nodeToEntity(node neo4j.Node) (common.Entity, bool) {
	entity := common.Entity{
		ID:         node.ElementId,
		Properties: map[string]any{},
	}
	for key, raw := range node.Props {
		switch key {
		case "id":
			if id, ok := raw.(string); ok && id != "" {
				entity.ID = id
			}
		case "name":
			entity.Name, _ = raw.(string)
		case "entity_type":
			entity.Type, _ = raw.(string)
		case "description":
			entity.Description, _ = raw.(string)
		case "chunk_ref":
			entity.ChunkRef, _ = raw.(string)
		case "degree":
			if d, ok := raw.(int64); ok {
				entity.Degree = int(d)
			}
		default:
			entity.Properties[key] = raw
		}
	}
	if entity.Name == "" {
		return common.Entity{}, false
	}
	return entity, true
}

func relationshipToEdge(rel neo4j.Relationship) common.Relationship {
	edge := common.Relationship{
		ID:       rel.ElementId,
		SourceID: rel.StartElementId,
		TargetID: rel.EndElementId,
		Type:     rel.Type,
	}
	for key, raw := range rel.Props {
		switch key {
		case "id":
			if id, ok := raw.(string); ok && id != "" {
				edge.ID = id
			}
		case "source_id":
			if id, ok := raw.(string); ok && id != "" {
				edge.SourceID = id
			}
		case "target_id":
			if id, ok := raw.(string); ok && id != "" {
				edge.TargetID = id
			}
		case "strength":
			switch s := raw.(type) {
			case float64:
				edge.Strength = s
			case int64:
				edge.Strength = float64(s)
			}
		case "description":
			edge.Description, _ = raw.(string)
		}
	}
	return edge
}
