package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/cartographai/atlas/internal/util"
	"github.com/cartographai/atlas/pkg/common"
	"github.com/cartographai/atlas/pkg/graph"
	"github.com/cartographai/atlas/pkg/logger"
	"github.com/cartographai/atlas/pkg/store"
	"github.com/cartographai/atlas/pkg/vector"
)

// IngestChunk is one pre-chunked text segment of an ingest message.
// Chunking happens upstream; the worker only embeds and stores.
type IngestChunk struct {
	Index       int    `json:"index"`
	StartOffset int    `json:"start_offset"`
	EndOffset   int    `json:"end_offset"`
	Content     string `json:"content"`
}

// IngestEntity is a catalog entity carried alongside a document.
type IngestEntity struct {
	ID          string `json:"id,omitempty"`
	Name        string `json:"name"`
	Type        string `json:"type,omitempty"`
	Description string `json:"description,omitempty"`
	ChunkRef    string `json:"chunk_ref,omitempty"`
}

// IngestRelationship is a typed edge between two catalog entities.
type IngestRelationship struct {
	SourceID    string  `json:"source_id"`
	TargetID    string  `json:"target_id"`
	Type        string  `json:"type"`
	Strength    float64 `json:"strength,omitempty"`
	Description string  `json:"description,omitempty"`
}

// IngestDocumentMsg is the wire shape of one ingest_queue message.
type IngestDocumentMsg struct {
	CorrelationID string               `json:"correlation_id"`
	DocumentID    string               `json:"document_id"`
	Title         string               `json:"title,omitempty"`
	Source        string               `json:"source,omitempty"`
	Chunks        []IngestChunk        `json:"chunks"`
	Entities      []IngestEntity       `json:"entities,omitempty"`
	Relationships []IngestRelationship `json:"relationships,omitempty"`
}

// ProcessIngest embeds a document's chunks into the vector store and merges
// its entities and relationships into the graph. Chunk IDs derive from the
// document ID and chunk index, so redelivery of the same message is
// idempotent.
func ProcessIngest(
	ctx context.Context,
	embeddings *vector.EmbeddingService,
	vectorStore store.VectorStore,
	graphStore store.GraphStore,
	builder *graph.QueryBuilder,
	body []byte,
) error {
	var msg IngestDocumentMsg
	if err := json.Unmarshal(body, &msg); err != nil {
		return fmt.Errorf("unmarshal ingest message: %w", err)
	}
	if msg.DocumentID == "" {
		return fmt.Errorf("ingest message missing document_id")
	}

	if len(msg.Chunks) > 0 {
		texts := make([]string, len(msg.Chunks))
		for i, chunk := range msg.Chunks {
			texts[i] = chunk.Content
		}
		vectors, err := embeddings.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("embed document %s: %w", msg.DocumentID, err)
		}

		now := time.Now().UTC()
		chunks := make([]common.DocumentChunk, len(msg.Chunks))
		for i, chunk := range msg.Chunks {
			chunks[i] = common.DocumentChunk{
				ID:          fmt.Sprintf("%s:%d", msg.DocumentID, chunk.Index),
				DocumentID:  msg.DocumentID,
				Title:       msg.Title,
				Source:      msg.Source,
				ChunkIndex:  chunk.Index,
				StartOffset: chunk.StartOffset,
				EndOffset:   chunk.EndOffset,
				Content:     chunk.Content,
				Embedding:   vectors[i],
				CreatedAt:   now,
			}
		}
		if err := vectorStore.Upsert(ctx, chunks); err != nil {
			return fmt.Errorf("store chunks for document %s: %w", msg.DocumentID, err)
		}
	}

	for _, in := range msg.Entities {
		entity := common.Entity{
			ID:          in.ID,
			Name:        in.Name,
			Type:        in.Type,
			Description: in.Description,
			ChunkRef:    in.ChunkRef,
		}
		if entity.Name == "" {
			logger.Warn("[Ingest] Skipping unnamed entity", "document_id", msg.DocumentID)
			continue
		}
		if entity.ID == "" {
			entity.ID = entitySlug(entity.Name)
		}
		if _, err := graphStore.Run(ctx, builder.MergeEntity(entity)); err != nil {
			return fmt.Errorf("merge entity %s: %w", entity.ID, err)
		}
	}

	for _, in := range msg.Relationships {
		rel := common.Relationship{
			SourceID:    in.SourceID,
			TargetID:    in.TargetID,
			Type:        in.Type,
			Strength:    in.Strength,
			Description: in.Description,
		}
		query, err := builder.MergeRelationship(rel)
		if err != nil {
			logger.Warn("[Ingest] Skipping relationship with invalid type",
				"document_id", msg.DocumentID, "type", rel.Type, "err", err)
			continue
		}
		if _, err := graphStore.Run(ctx, query); err != nil {
			return fmt.Errorf("merge relationship %s->%s: %w", rel.SourceID, rel.TargetID, err)
		}
	}

	logger.Info("[Ingest] Document ingested",
		"document_id", msg.DocumentID,
		"chunks", len(msg.Chunks),
		"entities", len(msg.Entities),
		"relationships", len(msg.Relationships),
	)
	return nil
}

// entitySlug derives a stable entity ID from its name so repeated ingests
// of the same catalog converge on one node.
func entitySlug(name string) string {
	return strings.ReplaceAll(util.NormalizeText(name), " ", "-")
}
