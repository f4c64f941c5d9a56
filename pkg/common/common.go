package common

import "time"

// Entity represents a node in the knowledge graph. An entity can be a
// concept, document, technology, person, or any other addressable thing.
// The type tag is an open set; unknown types are carried through untouched.
//
// Entities are created by ingestion or on first graph write and are never
// deleted by the retrieval core.
type Entity struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Properties  map[string]any `json:"properties,omitempty"`
	// ChunkRef optionally links the entity to a vector-store record.
	ChunkRef string `json:"chunk_ref,omitempty"`
	// Degree is the relationship count the graph store reports for this
	// entity. Used for disambiguation, not persisted by the core.
	Degree int `json:"degree,omitempty"`
}

// Relationship represents a typed directed edge between two entities,
// carrying a strength weight in [0,1] and a type label such as RELATED_TO,
// CONTAINS, or IS_A. The graph store enforces existence of both endpoints;
// the core never creates dangling edges.
type Relationship struct {
	ID          string  `json:"id"`
	SourceID    string  `json:"source_id"`
	TargetID    string  `json:"target_id"`
	Type        string  `json:"type"`
	Strength    float64 `json:"strength"`
	Description string  `json:"description,omitempty"`
}

// Path is an ordered sequence of entity identifiers connected by
// relationships, one hop per adjacent pair.
type Path []string

// DocumentChunk is one ingested text segment with its positional metadata
// and embedding. The embedding dimensionality must match the configured
// embedding model; mixing dimensionalities within one collection is a fatal
// error.
type DocumentChunk struct {
	ID          string    `json:"id"`
	DocumentID  string    `json:"document_id"`
	Title       string    `json:"title"`
	Source      string    `json:"source"`
	ChunkIndex  int       `json:"chunk_index"`
	StartOffset int       `json:"start_offset"`
	EndOffset   int       `json:"end_offset"`
	Content     string    `json:"content"`
	Embedding   []float32 `json:"-"`
	CreatedAt   time.Time `json:"created_at"`
}

// ScoredChunk pairs a chunk with its similarity score for one query.
type ScoredChunk struct {
	Chunk DocumentChunk `json:"chunk"`
	// Score is the ranking score for the search that produced this result:
	// cosine similarity for pure semantic search, the blended score for
	// hybrid search.
	Score float64 `json:"score"`
	// Semantic preserves the raw cosine similarity when Score is a
	// blended hybrid value. Equal to Score for pure semantic search.
	Semantic float64 `json:"semantic"`
}

// GraphResult is the outcome of one traversal request: an ordered,
// deduplicated set of entities, the relationships connecting them, and the
// paths that were walked. Built per query, never persisted.
type GraphResult struct {
	Entities      []Entity       `json:"entities"`
	Relationships []Relationship `json:"relationships"`
	Paths         []Path         `json:"paths"`
	// Relevance maps entity ID to a score in [0,1]; seeds score highest,
	// each hop away decays the score.
	Relevance map[string]float64 `json:"-"`
	// Degraded is set when the graph store was unreachable or the
	// traversal failed and the result is empty by fallback, not by fact.
	Degraded bool `json:"degraded,omitempty"`
}

// Empty reports whether the result carries no graph context at all.
func (g GraphResult) Empty() bool {
	return len(g.Entities) == 0 && len(g.Relationships) == 0 && len(g.Paths) == 0
}

// VectorResult is the ranked outcome of one vector search, ephemeral like
// GraphResult.
type VectorResult struct {
	Chunks   []ScoredChunk `json:"chunks"`
	Degraded bool          `json:"degraded,omitempty"`
}

// Empty reports whether the search returned no chunks.
func (v VectorResult) Empty() bool {
	return len(v.Chunks) == 0
}

// SourceType distinguishes what a citation points at.
type SourceType string

const (
	SourceTypeChunk  SourceType = "chunk"
	SourceTypeEntity SourceType = "entity"
)

// Citation is a numbered reference from a synthesized answer back to a
// chunk or entity that was actually part of the retrieval results for that
// query. Numbers are 1-based and stable in selection order; lifetime is one
// synthesized answer.
type Citation struct {
	Number    int        `json:"number"`
	SourceID  string     `json:"source_id"`
	Type      SourceType `json:"type"`
	Rendered  string     `json:"rendered"`
	Relevance float64    `json:"relevance"`
}
