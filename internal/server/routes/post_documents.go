package routes

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"
	gonanoid "github.com/matoous/go-nanoid/v2"

	ingest "github.com/cartographai/atlas/internal/queue"
	"github.com/cartographai/atlas/internal/server/middleware"
	"github.com/cartographai/atlas/pkg/logger"
)

// IngestDocumentHandler accepts one pre-chunked document and queues it for
// embedding and graph merging. The response is returned before the worker
// runs; use the correlation ID to trace the ingest in the logs.
func IngestDocumentHandler(c echo.Context) error {
	type ingestChunkBody struct {
		Index       int    `json:"index" validate:"min=0"`
		StartOffset int    `json:"start_offset,omitempty"`
		EndOffset   int    `json:"end_offset,omitempty"`
		Content     string `json:"content" validate:"required"`
	}

	type ingestBody struct {
		DocumentID    string                      `json:"document_id,omitempty"`
		Title         string                      `json:"title,omitempty"`
		Source        string                      `json:"source,omitempty"`
		Chunks        []ingestChunkBody           `json:"chunks" validate:"required,min=1,dive"`
		Entities      []ingest.IngestEntity       `json:"entities,omitempty"`
		Relationships []ingest.IngestRelationship `json:"relationships,omitempty"`
	}

	type ingestResponse struct {
		Message       string `json:"message"`
		DocumentID    string `json:"document_id,omitempty"`
		CorrelationID string `json:"correlation_id,omitempty"`
	}

	data := new(ingestBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, ingestResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, ingestResponse{
			Message: "Invalid request body",
		})
	}

	documentID := data.DocumentID
	if documentID == "" {
		documentID, _ = gonanoid.New()
	}
	correlationID, _ := gonanoid.New()

	msg := ingest.IngestDocumentMsg{
		CorrelationID: correlationID,
		DocumentID:    documentID,
		Title:         data.Title,
		Source:        data.Source,
		Entities:      data.Entities,
		Relationships: data.Relationships,
	}
	for _, chunk := range data.Chunks {
		msg.Chunks = append(msg.Chunks, ingest.IngestChunk{
			Index:       chunk.Index,
			StartOffset: chunk.StartOffset,
			EndOffset:   chunk.EndOffset,
			Content:     chunk.Content,
		})
	}

	msgBytes, err := json.Marshal(msg)
	if err != nil {
		logger.Error("Failed to marshal ingest message", "err", err)
		return c.JSON(http.StatusInternalServerError, ingestResponse{
			Message: "Internal server error",
		})
	}

	app := c.(*middleware.AppContext).App
	if err := ingest.PublishFIFO(app.Queue, ingest.IngestQueue, msgBytes); err != nil {
		logger.Error("Failed to queue document", "document_id", documentID, "err", err)
		return c.JSON(http.StatusInternalServerError, ingestResponse{
			Message: "Internal server error",
		})
	}

	return c.JSON(http.StatusAccepted, ingestResponse{
		Message:       "Document queued for ingestion",
		DocumentID:    documentID,
		CorrelationID: correlationID,
	})
}
