package pgx

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/cartographai/atlas/pkg/common"
	"github.com/cartographai/atlas/pkg/store"
)

// ChunkStore implements store.VectorStore on PostgreSQL with pgvector.
// One ChunkStore maps to one collection (table) with a fixed embedding
// dimensionality.
type ChunkStore struct {
	conn *pgxpool.Pool
	dims int
}

// NewChunkStore wraps an existing connection pool. dims is the pinned
// collection dimensionality shared with the embedding model configuration.
func NewChunkStore(conn *pgxpool.Pool, dims int) (*ChunkStore, error) {
	if dims <= 0 {
		return nil, common.NewConfigurationError("embedding_dimensions", "must be a positive integer")
	}
	return &ChunkStore{conn: conn, dims: dims}, nil
}

// Dimensions reports the collection's embedding dimensionality.
func (s *ChunkStore) Dimensions() int {
	return s.dims
}

// Ping verifies database connectivity.
func (s *ChunkStore) Ping(ctx context.Context) error {
	if err := s.conn.Ping(ctx); err != nil {
		return common.Transient("vector ping", err)
	}
	return nil
}

const searchChunksSQL = `
SELECT id, document_id, title, source, chunk_index, start_offset, end_offset,
       content, created_at,
       1 - (embedding <=> $1) AS score
FROM document_chunks
WHERE ($2::text[] IS NULL OR document_id = ANY($2))
  AND ($3::text = '' OR source = $3)
ORDER BY embedding <=> $1, created_at DESC, id
LIMIT $4`

// Search returns the k nearest chunks by cosine similarity, with the
// optional metadata filter applied before ranking. Distance ties are broken
// by recency and then id so repeated searches over an unchanged store
// return the same order.
func (s *ChunkStore) Search(
	ctx context.Context,
	embedding []float32,
	k int,
	filter *store.Filter,
) ([]common.ScoredChunk, error) {
	if len(embedding) != s.dims {
		return nil, &common.EmbeddingDimensionError{Want: s.dims, Got: len(embedding)}
	}
	if k <= 0 {
		k = 10
	}

	var docIDs []string
	source := ""
	if filter != nil {
		docIDs = filter.DocumentIDs
		source = filter.Source
	}

	rows, err := s.conn.Query(ctx, searchChunksSQL, pgvector.NewVector(embedding), docIDs, source, k)
	if err != nil {
		return nil, common.Transient("vector search", err)
	}
	defer rows.Close()

	results := make([]common.ScoredChunk, 0, k)
	for rows.Next() {
		var chunk common.DocumentChunk
		var score float64
		if err := rows.Scan(
			&chunk.ID,
			&chunk.DocumentID,
			&chunk.Title,
			&chunk.Source,
			&chunk.ChunkIndex,
			&chunk.StartOffset,
			&chunk.EndOffset,
			&chunk.Content,
			&chunk.CreatedAt,
			&score,
		); err != nil {
			return nil, fmt.Errorf("failed to scan chunk row: %w", err)
		}
		results = append(results, common.ScoredChunk{
			Chunk:    chunk,
			Score:    score,
			Semantic: score,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, common.Transient("vector search rows", err)
	}
	return results, nil
}

const upsertChunkSQL = `
INSERT INTO document_chunks (
	id, document_id, title, source, chunk_index,
	start_offset, end_offset, content, embedding, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
ON CONFLICT (id) DO UPDATE SET
	title = EXCLUDED.title,
	source = EXCLUDED.source,
	content = EXCLUDED.content,
	embedding = EXCLUDED.embedding`

// Upsert writes chunks with their embeddings. Every embedding must match
// the collection dimensionality; the whole batch is written in one
// transaction so a dimension mismatch leaves the store untouched.
func (s *ChunkStore) Upsert(ctx context.Context, chunks []common.DocumentChunk) error {
	if len(chunks) == 0 {
		return nil
	}
	for _, chunk := range chunks {
		if len(chunk.Embedding) != s.dims {
			return &common.EmbeddingDimensionError{Want: s.dims, Got: len(chunk.Embedding)}
		}
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return common.Transient("vector upsert begin", err)
	}
	defer tx.Rollback(ctx)

	for _, chunk := range chunks {
		_, err := tx.Exec(ctx, upsertChunkSQL,
			chunk.ID,
			chunk.DocumentID,
			chunk.Title,
			chunk.Source,
			chunk.ChunkIndex,
			chunk.StartOffset,
			chunk.EndOffset,
			chunk.Content,
			pgvector.NewVector(chunk.Embedding),
			chunk.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to upsert chunk %s: %w", chunk.ID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return common.Transient("vector upsert commit", err)
	}
	return nil
}
