package server

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomid "github.com/labstack/echo/v4/middleware"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/cartographai/atlas/internal/config"
	"github.com/cartographai/atlas/internal/queue"
	mid "github.com/cartographai/atlas/internal/server/middleware"
	"github.com/cartographai/atlas/pkg/ai"
	oai "github.com/cartographai/atlas/pkg/ai/ollama"
	gai "github.com/cartographai/atlas/pkg/ai/openai"
	"github.com/cartographai/atlas/pkg/graph"
	"github.com/cartographai/atlas/pkg/logger"
	neostore "github.com/cartographai/atlas/pkg/store/neo4j"
	pgstore "github.com/cartographai/atlas/pkg/store/pgx"
	"github.com/cartographai/atlas/pkg/query"
	"github.com/cartographai/atlas/pkg/synth"
	"github.com/cartographai/atlas/pkg/vector"
)

type CustomValidator struct {
	validator *validator.Validate
}

func (cv *CustomValidator) Validate(i any) error {
	if err := cv.validator.Struct(i); err != nil {
		return err
	}
	return nil
}

// NewModelClient builds the model client the configured adapter selects.
func NewModelClient(cfg config.AIConfig) (ai.Client, error) {
	switch cfg.Adapter {
	case "ollama":
		return oai.NewAtlasOllamaClient(oai.NewAtlasOllamaClientParams{
			EmbeddingModel:      cfg.EmbedModel,
			GenerationModel:     cfg.ChatModel,
			EmbeddingDimensions: cfg.EmbedDimensions,

			BaseURL: cfg.ChatURL,
			ApiKey:  cfg.ChatKey,

			MaxConcurrentRequests: cfg.MaxConcurrent,
		})
	default:
		return gai.NewAtlasOpenAIClient(gai.NewAtlasOpenAIClientParams{
			EmbeddingModel:      cfg.EmbedModel,
			GenerationModel:     cfg.ChatModel,
			EmbeddingDimensions: cfg.EmbedDimensions,

			EmbeddingURL: cfg.EmbedURL,
			EmbeddingKey: cfg.EmbedKey,
			ChatURL:      cfg.ChatURL,
			ChatKey:      cfg.ChatKey,

			MaxConcurrentRequests: cfg.MaxConcurrent,
		}), nil
	}
}

// Init wires every component and serves HTTP until interrupted.
func Init() {
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := pgxpool.New(ctx, cfg.Database.URL)
	if err != nil {
		logger.Fatal("Failed to connect to database", "err", err)
	}
	defer conn.Close()
	conn.Config().AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	chunkStore, err := pgstore.NewChunkStore(conn, cfg.AI.EmbedDimensions)
	if err != nil {
		logger.Fatal("Failed to create chunk store", "err", err)
	}

	graphStore, err := neostore.NewGraphStore(ctx, neostore.NewGraphStoreParams{
		URI:      cfg.Graph.URI,
		Username: cfg.Graph.Username,
		Password: cfg.Graph.Password,
		Database: cfg.Graph.Database,
	})
	if err != nil {
		logger.Fatal("Failed to connect to graph database", "err", err)
	}
	defer graphStore.Close(ctx)

	model, err := NewModelClient(cfg.AI)
	if err != nil {
		logger.Fatal("Failed to create model client", "err", err)
	}

	embeddings, err := vector.NewEmbeddingService(model, vector.EmbeddingConfig{
		CacheSize: cfg.Retrieval.CacheSize,
	})
	if err != nil {
		logger.Fatal("Failed to create embedding service", "err", err)
	}
	retriever, err := vector.NewRetriever(embeddings, chunkStore, vector.RetrieverConfig{
		SemanticWeight: cfg.Retrieval.SemanticWeight,
	})
	if err != nil {
		logger.Fatal("Failed to create retriever", "err", err)
	}

	builder := graph.NewQueryBuilder()
	matcher := graph.NewEntityMatcher(graphStore, builder, graph.MatcherConfig{})
	traverser := graph.NewTraverser(graphStore, builder, graph.TraverserConfig{
		MaxDepth: cfg.Routing.TraversalDepth,
	})

	coordinator, err := query.NewCoordinator(query.NewCoordinatorParams{
		Extractor: query.NewExtractor(cfg.Routing.Domain),
		Matcher:   matcher,
		Traverser: traverser,
		Retriever: retriever,
		Model:     model,
		Config: query.CoordinatorConfig{
			FactualThreshold: cfg.Routing.FactualThreshold,
			ComplexThreshold: cfg.Routing.ComplexThreshold,
			BranchTimeout:    cfg.Routing.BranchTimeout,
			MaxResults:       cfg.Routing.MaxResults,
			TraversalDepth:   cfg.Routing.TraversalDepth,
		},
	})
	if err != nil {
		logger.Fatal("Failed to create query coordinator", "err", err)
	}

	synthesizer, err := synth.NewSynthesizer(model, synth.Config{
		TokenBudget:    cfg.Synthesis.TokenBudget,
		Encoding:       cfg.Synthesis.Encoding,
		PerDocumentCap: cfg.Synthesis.PerDocumentCap,
	})
	if err != nil {
		logger.Fatal("Failed to create synthesizer", "err", err)
	}

	que := queue.Init(cfg.Queue)
	defer que.Close()
	ch, err := que.Channel()
	if err != nil {
		logger.Fatal("Failed to open channel", "err", err)
	}
	if err := queue.SetupQueues(ch, queue.Queues); err != nil {
		logger.Fatal("Failed to declare queues", "err", err)
	}

	app := &mid.App{
		Config:      cfg,
		DBConn:      conn,
		Queue:       ch,
		GraphStore:  graphStore,
		VectorStore: chunkStore,
		Model:       model,
		Coordinator: coordinator,
		Synthesizer: synthesizer,
	}

	e := echo.New()
	e.Validator = &CustomValidator{validator: validator.New()}
	e.Use(mid.AppContextMiddleware(app))
	e.Use(echomid.CORS())
	e.Use(echomid.RequestLogger())
	e.Use(echomid.Recover())
	e.Use(echomid.BodyLimit(cfg.Server.BodyLimit))

	RegisterRoutes(e)

	go func() {
		logger.Info("Starting server", "port", cfg.Server.Port)
		if err := e.Start(":" + cfg.Server.Port); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed shutting down server", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Failed to shutdown server", "err", err)
	}
}
