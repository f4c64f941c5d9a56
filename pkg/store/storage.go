package store

import (
	"context"

	"github.com/cartographai/atlas/pkg/common"
)

// CypherQuery is a parameterized declarative query for the graph store.
// Text must only ever reference bound parameters ($name); the core never
// interpolates values into query text. Limit caps the result size and is
// derived from the request's result cap by the query builder.
type CypherQuery struct {
	Text   string
	Params map[string]any
	Limit  int
}

// GraphRecords is the raw result set of one graph query: the node and edge
// records the store returned, plus any paths. The traverser turns these
// into a GraphResult.
type GraphRecords struct {
	Entities      []common.Entity
	Relationships []common.Relationship
	Paths         []common.Path
}

// GraphStore is the boundary to the persistent property graph. The core
// assumes name-lookup and type-lookup are efficient but nothing about index
// names or layout.
type GraphStore interface {
	Run(ctx context.Context, query CypherQuery) (*GraphRecords, error)
	Ping(ctx context.Context) error
	Close(ctx context.Context) error
}

// Filter is the optional metadata predicate applied by the vector store
// before ranking.
type Filter struct {
	DocumentIDs []string
	Source      string
}

// VectorStore is the boundary to the persistent chunk index. Search returns
// chunks ranked by cosine similarity descending. Every embedding written or
// compared must match Dimensions(); adapters reject mismatches rather than
// truncating or padding.
type VectorStore interface {
	Search(ctx context.Context, embedding []float32, k int, filter *Filter) ([]common.ScoredChunk, error)
	Upsert(ctx context.Context, chunks []common.DocumentChunk) error
	Dimensions() int
	Ping(ctx context.Context) error
}
