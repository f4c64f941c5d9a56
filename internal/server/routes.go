package server

import (
	"github.com/labstack/echo/v4"

	"github.com/cartographai/atlas/internal/server/routes"
)

func RegisterRoutes(e *echo.Echo) {
	e.GET("/health", routes.GetHealthHandler)

	apiRoutes := e.Group("/api")

	// Query routes
	apiRoutes.POST("/query", routes.QueryHandler)

	// Document ingestion routes
	apiRoutes.POST("/documents", routes.IngestDocumentHandler)
}
