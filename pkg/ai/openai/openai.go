package openai

import (
	"sync"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/sync/semaphore"

	"github.com/cartographai/atlas/pkg/ai"
)

// AtlasOpenAIClient implements ai.Client against OpenAI-compatible APIs.
// It manages separate clients for embeddings and chat so the two can point
// at different endpoints (for example a local embedding server and a hosted
// chat model).
type AtlasOpenAIClient struct {
	embeddingModel  string
	generationModel string
	embeddingDim    int

	chatURL      string
	embeddingURL string

	reqLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	ChatClient      *openai.Client
	EmbeddingClient *openai.Client
}

// NewAtlasOpenAIClientParams defines the configuration for creating an
// AtlasOpenAIClient. EmbeddingDimensions must match the vector-store
// collection; it is validated on every returned vector.
type NewAtlasOpenAIClientParams struct {
	EmbeddingModel      string
	GenerationModel     string
	EmbeddingDimensions int

	EmbeddingURL string
	EmbeddingKey string
	ChatURL      string
	ChatKey      string

	MaxConcurrentRequests int64
}

// NewAtlasOpenAIClient creates a client for OpenAI-compatible endpoints.
//
// Example:
//
//	client := openai.NewAtlasOpenAIClient(openai.NewAtlasOpenAIClientParams{
//		EmbeddingModel:      "text-embedding-3-small",
//		GenerationModel:     "gpt-4o-mini",
//		EmbeddingDimensions: 1536,
//		ChatKey:             os.Getenv("OPENAI_API_KEY"),
//		EmbeddingKey:        os.Getenv("OPENAI_API_KEY"),
//	})
func NewAtlasOpenAIClient(params NewAtlasOpenAIClientParams) *AtlasOpenAIClient {
	maxConcurrent := params.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = 8
	}

	return &AtlasOpenAIClient{
		embeddingModel:  params.EmbeddingModel,
		generationModel: params.GenerationModel,
		embeddingDim:    params.EmbeddingDimensions,

		chatURL:      params.ChatURL,
		embeddingURL: params.EmbeddingURL,

		reqLock: semaphore.NewWeighted(maxConcurrent),

		ChatClient:      newOpenaiClient(params.ChatURL, params.ChatKey),
		EmbeddingClient: newOpenaiClient(params.EmbeddingURL, params.EmbeddingKey),
	}
}

// EmbeddingDimensions reports the configured embedding dimensionality.
func (c *AtlasOpenAIClient) EmbeddingDimensions() int {
	return c.embeddingDim
}

// ResetMetrics zeroes the accumulated usage metrics.
func (c *AtlasOpenAIClient) ResetMetrics() {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.metrics = ai.ModelMetrics{}
}

// GetMetrics returns a snapshot of the accumulated usage metrics.
func (c *AtlasOpenAIClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

func (c *AtlasOpenAIClient) modifyMetrics(delta ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.metrics.InputTokens += delta.InputTokens
	c.metrics.OutputTokens += delta.OutputTokens
	c.metrics.TotalTokens += delta.TotalTokens
	c.metrics.DurationMs += delta.DurationMs
}

func newOpenaiClient(baseURL string, apiKey string) *openai.Client {
	if apiKey == "" {
		return nil
	}
	options := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if baseURL != "" {
		options = append(options, option.WithBaseURL(baseURL))
	}

	client := openai.NewClient(options...)

	return &client
}
