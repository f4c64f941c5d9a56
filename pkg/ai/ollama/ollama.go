package ollama

import (
	"net/http"
	"net/url"
	"sync"

	"github.com/ollama/ollama/api"
	"golang.org/x/sync/semaphore"

	"github.com/cartographai/atlas/pkg/ai"
)

// AtlasOllamaClient implements ai.Client using Ollama as the backend for
// locally-hosted embedding and generation models.
type AtlasOllamaClient struct {
	embeddingModel  string
	generationModel string
	embeddingDim    int

	reqLock *semaphore.Weighted

	metricsLock sync.Mutex
	metrics     ai.ModelMetrics

	Client *api.Client
}

// NewAtlasOllamaClientParams contains configuration options for creating a
// new AtlasOllamaClient.
type NewAtlasOllamaClientParams struct {
	EmbeddingModel      string
	GenerationModel     string
	EmbeddingDimensions int

	BaseURL string
	ApiKey  string

	MaxConcurrentRequests int64
}

type headerTransport struct {
	headers map[string]string
	rt      http.RoundTripper
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// clone so original request isn't modified
	r := req.Clone(req.Context())
	for k, v := range t.headers {
		if r.Header.Get(k) == "" {
			r.Header.Set(k, v)
		}
	}
	return t.rt.RoundTrip(r)
}

// NewAtlasOllamaClient creates a new Ollama-based AI client. It connects to
// the Ollama server at BaseURL (or the default when empty).
func NewAtlasOllamaClient(params NewAtlasOllamaClientParams) (*AtlasOllamaClient, error) {
	var (
		u   *url.URL
		err error
	)
	if params.BaseURL != "" {
		u, err = url.Parse(params.BaseURL)
		if err != nil {
			return nil, err
		}
	}

	httpClient := &http.Client{
		Transport: &headerTransport{
			headers: map[string]string{
				"Authorization": "Bearer " + params.ApiKey,
			},
			rt: http.DefaultTransport,
		},
	}

	maxConcurrent := params.MaxConcurrentRequests
	if maxConcurrent <= 0 {
		maxConcurrent = 4
	}

	return &AtlasOllamaClient{
		embeddingModel:  params.EmbeddingModel,
		generationModel: params.GenerationModel,
		embeddingDim:    params.EmbeddingDimensions,

		reqLock: semaphore.NewWeighted(maxConcurrent),

		Client: api.NewClient(u, httpClient),
	}, nil
}

// EmbeddingDimensions reports the configured embedding dimensionality.
func (c *AtlasOllamaClient) EmbeddingDimensions() int {
	return c.embeddingDim
}

// ResetMetrics zeroes the accumulated usage metrics.
func (c *AtlasOllamaClient) ResetMetrics() {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.metrics = ai.ModelMetrics{}
}

// GetMetrics returns a snapshot of the accumulated usage metrics.
func (c *AtlasOllamaClient) GetMetrics() ai.ModelMetrics {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	return c.metrics
}

func (c *AtlasOllamaClient) modifyMetrics(delta ai.ModelMetrics) {
	c.metricsLock.Lock()
	defer c.metricsLock.Unlock()
	c.metrics.InputTokens += delta.InputTokens
	c.metrics.OutputTokens += delta.OutputTokens
	c.metrics.TotalTokens += delta.TotalTokens
	c.metrics.DurationMs += delta.DurationMs
}
