package vector

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/cartographai/atlas/internal/util"
	"github.com/cartographai/atlas/pkg/ai"
	"github.com/cartographai/atlas/pkg/common"
)

// EmbeddingConfig holds embedding-service tunables.
type EmbeddingConfig struct {
	// CacheSize bounds the LRU embedding cache. Default 1024 entries.
	CacheSize int
	// Backoff is the retry policy applied to model calls. Zero value uses
	// the shared defaults.
	Backoff util.BackoffPolicy
}

// EmbeddingService turns text into fixed-length vectors through the model
// boundary, with a strict-LRU cache keyed by the normalized text. A cache
// hit skips the model invocation entirely. The cache is process-wide and
// safe for concurrent use.
type EmbeddingService struct {
	client ai.Client
	cache  *lru.Cache[string, []float32]
	policy util.BackoffPolicy
}

// NewEmbeddingService creates an embedding service over the given model
// client.
func NewEmbeddingService(client ai.Client, config EmbeddingConfig) (*EmbeddingService, error) {
	size := config.CacheSize
	if size <= 0 {
		size = 1024
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	policy := config.Backoff
	if policy.Retryable == nil {
		policy = util.DefaultBackoff(common.IsTransient)
	}
	return &EmbeddingService{
		client: client,
		cache:  cache,
		policy: policy,
	}, nil
}

// Dimensions reports the configured embedding dimensionality.
func (s *EmbeddingService) Dimensions() int {
	return s.client.EmbeddingDimensions()
}

// Embed returns the embedding for text. Identical normalized text always
// yields an identical vector, served from cache without a second model
// call.
func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	key := util.NormalizeText(text)
	if vec, ok := s.cache.Get(key); ok {
		return vec, nil
	}

	vec, err := util.RetryBackoff(ctx, s.policy, func(ctx context.Context) ([]float32, error) {
		return s.client.GenerateEmbedding(ctx, []byte(text))
	})
	if err != nil {
		return nil, err
	}
	if want := s.Dimensions(); len(vec) != want {
		return nil, &common.EmbeddingDimensionError{Want: want, Got: len(vec)}
	}

	s.cache.Add(key, vec)
	return vec, nil
}

// EmbedBatch embeds many texts, serving what it can from cache and sending
// only the misses to the model in one batched call.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	missIdx := make([]int, 0, len(texts))
	missKeys := make([]string, 0, len(texts))
	missInputs := make([][]byte, 0, len(texts))
	for i, text := range texts {
		key := util.NormalizeText(text)
		if vec, ok := s.cache.Get(key); ok {
			out[i] = vec
			continue
		}
		missIdx = append(missIdx, i)
		missKeys = append(missKeys, key)
		missInputs = append(missInputs, []byte(text))
	}
	if len(missInputs) == 0 {
		return out, nil
	}

	vecs, err := util.RetryBackoff(ctx, s.policy, func(ctx context.Context) ([][]float32, error) {
		return s.client.GenerateEmbeddings(ctx, missInputs)
	})
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(missInputs) {
		return nil, fmt.Errorf("embedding batch size mismatch: got %d, want %d", len(vecs), len(missInputs))
	}

	want := s.Dimensions()
	for i, vec := range vecs {
		if len(vec) != want {
			return nil, &common.EmbeddingDimensionError{Want: want, Got: len(vec)}
		}
		out[missIdx[i]] = vec
		s.cache.Add(missKeys[i], vec)
	}
	return out, nil
}

// CacheLen reports the current cache entry count.
func (s *EmbeddingService) CacheLen() int {
	return s.cache.Len()
}
