package routes

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cartographai/atlas/internal/server/middleware"
	"github.com/cartographai/atlas/pkg/common"
	"github.com/cartographai/atlas/pkg/logger"
	"github.com/cartographai/atlas/pkg/query"
	"github.com/cartographai/atlas/pkg/store"
)

// QueryHandler answers one question over the knowledge base.
func QueryHandler(c echo.Context) error {
	type queryBody struct {
		Query            string   `json:"query" validate:"required"`
		Strategy         string   `json:"strategy,omitempty"`
		MaxResults       int      `json:"max_results,omitempty" validate:"omitempty,min=1,max=50"`
		SemanticWeight   *float64 `json:"semantic_weight,omitempty"`
		DocumentIDs      []string `json:"document_ids,omitempty"`
		Source           string   `json:"source,omitempty"`
		IncludeReasoning bool     `json:"include_reasoning,omitempty"`
	}

	type queryResponse struct {
		Message         string             `json:"message,omitempty"`
		Response        string             `json:"response,omitempty"`
		Sources         []common.Citation  `json:"sources,omitempty"`
		ConfidenceScore float64            `json:"confidence_score"`
		StrategyUsed    string             `json:"strategy_used,omitempty"`
		ProcessingTime  float64            `json:"processing_time"`
		Degraded        bool               `json:"degraded,omitempty"`
		Entities        []string           `json:"entities_mentioned,omitempty"`
		ReasoningPath   []query.TraceEntry `json:"reasoning_path,omitempty"`
	}

	data := new(queryBody)
	if err := c.Bind(data); err != nil {
		return c.JSON(http.StatusBadRequest, queryResponse{
			Message: "Invalid request body",
		})
	}
	if err := c.Validate(data); err != nil {
		return c.JSON(http.StatusBadRequest, queryResponse{
			Message: "Invalid request body",
		})
	}

	strategy, err := query.ParseStrategy(data.Strategy)
	if err != nil {
		return c.JSON(http.StatusBadRequest, queryResponse{
			Message: err.Error(),
		})
	}

	var filter *store.Filter
	if len(data.DocumentIDs) > 0 || data.Source != "" {
		filter = &store.Filter{
			DocumentIDs: data.DocumentIDs,
			Source:      data.Source,
		}
	}

	app := c.(*middleware.AppContext).App
	ctx := c.Request().Context()
	start := time.Now()

	route, err := app.Coordinator.Route(ctx, data.Query, query.Options{
		Strategy:       strategy,
		MaxResults:     data.MaxResults,
		SemanticWeight: data.SemanticWeight,
		Filter:         filter,
	})
	if err != nil {
		var confErr *common.ConfigurationError
		if errors.As(err, &confErr) {
			return c.JSON(http.StatusBadRequest, queryResponse{
				Message: confErr.Error(),
			})
		}
		logger.Error("Failed to route query", "err", err)
		return c.JSON(http.StatusInternalServerError, queryResponse{
			Message: "Internal server error",
		})
	}

	answer := app.Synthesizer.Synthesize(ctx, data.Query, route)

	mentions := make([]string, len(route.Mentions))
	for i, mention := range route.Mentions {
		mentions[i] = mention.Text
	}

	resp := queryResponse{
		Response:        answer.Response,
		Sources:         answer.Citations,
		ConfidenceScore: answer.Confidence,
		StrategyUsed:    string(route.Strategy),
		ProcessingTime:  time.Since(start).Seconds(),
		Degraded:        route.Graph.Degraded || route.Vector.Degraded || answer.GenerationUnavailable,
		Entities:        mentions,
	}
	if data.IncludeReasoning {
		resp.ReasoningPath = route.Trace.Snapshot()
	}
	return c.JSON(http.StatusOK, resp)
}
