package config

import (
	"time"

	"github.com/cartographai/atlas/internal/util"
	"github.com/cartographai/atlas/pkg/common"
)

// ServerConfig controls the HTTP surface.
type ServerConfig struct {
	Port      string
	BodyLimit string
	Debug     bool
}

// DatabaseConfig points at the Postgres instance holding the chunk
// collection.
type DatabaseConfig struct {
	URL string
}

// GraphConfig points at the Neo4j instance holding the knowledge graph.
type GraphConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// QueueConfig points at the RabbitMQ broker used for document ingestion.
type QueueConfig struct {
	User     string
	Password string
	Host     string
	Port     string
}

// AIConfig selects and configures the model provider. EmbedDimensions is
// pinned configuration: it must match both the embedding model and the
// vector collection, and a mismatch is fatal at startup.
type AIConfig struct {
	Adapter         string
	ChatURL         string
	ChatKey         string
	ChatModel       string
	EmbedURL        string
	EmbedKey        string
	EmbedModel      string
	EmbedDimensions int
	MaxConcurrent   int64
}

// RoutingConfig tunes query routing.
type RoutingConfig struct {
	// Domain selects an entity-extraction pattern pack; empty means
	// generic extraction only.
	Domain           string
	FactualThreshold float64
	ComplexThreshold float64
	BranchTimeout    time.Duration
	MaxResults       int
	TraversalDepth   int
}

// RetrievalConfig tunes vector retrieval.
type RetrievalConfig struct {
	SemanticWeight float64
	CacheSize      int
}

// SynthesisConfig tunes answer synthesis.
type SynthesisConfig struct {
	TokenBudget    int
	Encoding       string
	PerDocumentCap int
}

// Config is the full service configuration, loaded once at startup.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Graph     GraphConfig
	Queue     QueueConfig
	AI        AIConfig
	Routing   RoutingConfig
	Retrieval RetrievalConfig
	Synthesis SynthesisConfig
}

// Load reads the configuration from the environment, applying defaults for
// everything optional. Call util.LoadEnv first so a local .env is honored.
func Load() Config {
	return Config{
		Server: ServerConfig{
			Port:      util.GetEnvString("PORT", "8080"),
			BodyLimit: util.GetEnvString("BODY_LIMIT", "16M"),
			Debug:     util.GetEnvBool("DEBUG", false),
		},
		Database: DatabaseConfig{
			URL: util.GetEnv("DATABASE_URL"),
		},
		Graph: GraphConfig{
			URI:      util.GetEnv("NEO4J_URI"),
			Username: util.GetEnv("NEO4J_USERNAME"),
			Password: util.GetEnv("NEO4J_PASSWORD"),
			Database: util.GetEnvString("NEO4J_DATABASE", "neo4j"),
		},
		Queue: QueueConfig{
			User:     util.GetEnv("RABBITMQ_USER"),
			Password: util.GetEnv("RABBITMQ_PASSWORD"),
			Host:     util.GetEnv("RABBITMQ_HOST"),
			Port:     util.GetEnvString("RABBITMQ_PORT", "5672"),
		},
		AI: AIConfig{
			Adapter:         util.GetEnvString("AI_ADAPTER", "openai"),
			ChatURL:         util.GetEnv("AI_CHAT_URL"),
			ChatKey:         util.GetEnv("AI_CHAT_KEY"),
			ChatModel:       util.GetEnv("AI_CHAT_MODEL"),
			EmbedURL:        util.GetEnv("AI_EMBED_URL"),
			EmbedKey:        util.GetEnv("AI_EMBED_KEY"),
			EmbedModel:      util.GetEnv("AI_EMBED_MODEL"),
			EmbedDimensions: util.GetEnvInt("AI_EMBED_DIMENSIONS", 1536),
			MaxConcurrent:   int64(util.GetEnvNumeric("AI_PARALLEL_REQ", 15)),
		},
		Routing: RoutingConfig{
			Domain:           util.GetEnvString("QUERY_DOMAIN", ""),
			FactualThreshold: util.GetEnvNumeric("QUERY_FACTUAL_THRESHOLD", 0.35),
			ComplexThreshold: util.GetEnvNumeric("QUERY_COMPLEX_THRESHOLD", 0.65),
			BranchTimeout:    time.Duration(util.GetEnvNumeric("QUERY_BRANCH_TIMEOUT_SEC", 30)) * time.Second,
			MaxResults:       util.GetEnvInt("QUERY_MAX_RESULTS", 10),
			TraversalDepth:   util.GetEnvInt("QUERY_TRAVERSAL_DEPTH", 3),
		},
		Retrieval: RetrievalConfig{
			SemanticWeight: util.GetEnvNumeric("RETRIEVAL_SEMANTIC_WEIGHT", 0.7),
			CacheSize:      util.GetEnvInt("RETRIEVAL_EMBED_CACHE_SIZE", 1024),
		},
		Synthesis: SynthesisConfig{
			TokenBudget:    util.GetEnvInt("SYNTH_TOKEN_BUDGET", 4000),
			Encoding:       util.GetEnvString("SYNTH_TOKEN_ENCODING", "o200k_base"),
			PerDocumentCap: util.GetEnvInt("SYNTH_PER_DOCUMENT_CAP", 3),
		},
	}
}

// Validate rejects a configuration that cannot start. Tunables are not
// checked here; their consumers normalize out-of-range values themselves.
func (c Config) Validate() error {
	if c.Database.URL == "" {
		return common.NewConfigurationError("DATABASE_URL", "must be set")
	}
	if c.Graph.URI == "" {
		return common.NewConfigurationError("NEO4J_URI", "must be set")
	}
	if c.AI.ChatModel == "" {
		return common.NewConfigurationError("AI_CHAT_MODEL", "must be set")
	}
	if c.AI.EmbedModel == "" {
		return common.NewConfigurationError("AI_EMBED_MODEL", "must be set")
	}
	if c.AI.EmbedDimensions <= 0 {
		return common.NewConfigurationError("AI_EMBED_DIMENSIONS", "must be a positive integer")
	}
	if c.Retrieval.SemanticWeight < 0 || c.Retrieval.SemanticWeight > 1 {
		return common.NewConfigurationError("RETRIEVAL_SEMANTIC_WEIGHT", "must be within [0,1]")
	}
	return nil
}
