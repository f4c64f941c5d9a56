package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/cartographai/atlas/internal/server/middleware"
)

// GetHealthHandler reports liveness plus per-store reachability. A single
// unreachable store degrades the status instead of failing it: queries
// still work through branch degradation.
func GetHealthHandler(c echo.Context) error {
	type healthResponse struct {
		Status     string            `json:"status"`
		Components map[string]string `json:"components"`
	}

	app := c.(*middleware.AppContext).App
	ctx, cancel := context.WithTimeout(c.Request().Context(), 3*time.Second)
	defer cancel()

	components := map[string]string{
		"postgres": "ok",
		"neo4j":    "ok",
	}
	status := "ok"

	if err := app.VectorStore.Ping(ctx); err != nil {
		components["postgres"] = err.Error()
		status = "degraded"
	}
	if err := app.GraphStore.Ping(ctx); err != nil {
		components["neo4j"] = err.Error()
		status = "degraded"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, healthResponse{
		Status:     status,
		Components: components,
	})
}
