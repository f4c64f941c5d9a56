package middleware

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rabbitmq/amqp091-go"

	"github.com/cartographai/atlas/internal/config"
	"github.com/cartographai/atlas/pkg/ai"
	"github.com/cartographai/atlas/pkg/query"
	"github.com/cartographai/atlas/pkg/store"
	"github.com/cartographai/atlas/pkg/synth"
)

// App bundles the long-lived components handlers need. Built once at
// startup and shared across requests.
type App struct {
	Config      config.Config
	DBConn      *pgxpool.Pool
	Queue       *amqp091.Channel
	GraphStore  store.GraphStore
	VectorStore store.VectorStore
	Model       ai.Client
	Coordinator *query.Coordinator
	Synthesizer *synth.Synthesizer
}

// AppContext wraps the echo context with the application components.
type AppContext struct {
	echo.Context
	App *App
}

// AppContextMiddleware injects the shared App into every request context.
func AppContextMiddleware(app *App) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			return next(&AppContext{c, app})
		}
	}
}
