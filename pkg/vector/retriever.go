package vector

import (
	"context"
	"sort"
	"strings"

	"github.com/cartographai/atlas/internal/util"
	"github.com/cartographai/atlas/pkg/common"
	"github.com/cartographai/atlas/pkg/logger"
	"github.com/cartographai/atlas/pkg/store"
)

// RetrieverConfig holds the vector-retrieval tunables.
type RetrieverConfig struct {
	// SemanticWeight is the default blend weight for hybrid search, in
	// [0,1]. Default 0.7.
	SemanticWeight float64
	// CandidateMultiplier controls how many semantic candidates hybrid
	// search fetches before re-ranking (k * multiplier). Default 4.
	CandidateMultiplier int
	// PhraseBonus is added to the keyword score when the whole normalized
	// query occurs in a chunk. Default 0.25.
	PhraseBonus float64
}

func (c RetrieverConfig) normalized() RetrieverConfig {
	if c.SemanticWeight <= 0 || c.SemanticWeight > 1 {
		c.SemanticWeight = 0.7
	}
	if c.CandidateMultiplier <= 0 {
		c.CandidateMultiplier = 4
	}
	if c.PhraseBonus <= 0 {
		c.PhraseBonus = 0.25
	}
	return c
}

// Retriever performs semantic and hybrid search over the vector store.
// Model or store unavailability degrades to an empty result with the
// Degraded flag set; the pipeline never aborts because one search failed.
type Retriever struct {
	embeddings  *EmbeddingService
	vectorStore store.VectorStore
	config      RetrieverConfig
}

// NewRetriever creates a retriever over the given embedding service and
// vector store. The two must agree on dimensionality; a mismatch is a
// configuration error caught at construction, not at query time.
func NewRetriever(
	embeddings *EmbeddingService,
	vectorStore store.VectorStore,
	config RetrieverConfig,
) (*Retriever, error) {
	if embeddings.Dimensions() != vectorStore.Dimensions() {
		return nil, &common.EmbeddingDimensionError{
			Want: vectorStore.Dimensions(),
			Got:  embeddings.Dimensions(),
		}
	}
	return &Retriever{
		embeddings:  embeddings,
		vectorStore: vectorStore,
		config:      config.normalized(),
	}, nil
}

// SimilaritySearch embeds the query and returns the top-k chunks by cosine
// similarity, with the optional metadata filter applied store-side before
// ranking. Given an unchanged store, repeated calls return the same order.
func (r *Retriever) SimilaritySearch(
	ctx context.Context,
	query string,
	k int,
	filter *store.Filter,
) common.VectorResult {
	embedding, err := r.embeddings.Embed(ctx, query)
	if err != nil {
		logger.Warn("[Retriever] Embedding unavailable, degrading to empty result", "err", err)
		return common.VectorResult{Degraded: true}
	}

	chunks, err := r.vectorStore.Search(ctx, embedding, k, filter)
	if err != nil {
		logger.Warn("[Retriever] Vector search failed, degrading to empty result", "err", err)
		return common.VectorResult{Degraded: true}
	}
	return common.VectorResult{Chunks: chunks}
}

// HybridSearch blends semantic similarity with lexical overlap:
// final = w*semantic + (1-w)*keyword. With w=1.0 the ranking is identical
// to pure similarity search. A weight outside [0,1] is a configuration
// error.
func (r *Retriever) HybridSearch(
	ctx context.Context,
	query string,
	k int,
	semanticWeight float64,
	filter *store.Filter,
) (common.VectorResult, error) {
	if semanticWeight < 0 || semanticWeight > 1 {
		return common.VectorResult{}, common.NewConfigurationError(
			"semantic_weight", "must be within [0,1]",
		)
	}
	if k <= 0 {
		k = 10
	}

	candidates := r.SimilaritySearch(ctx, query, k*r.config.CandidateMultiplier, filter)
	if candidates.Degraded || candidates.Empty() {
		return candidates, nil
	}

	queryTokens := util.Tokenize(query)
	queryNorm := util.NormalizeText(query)
	scored := make([]common.ScoredChunk, len(candidates.Chunks))
	for i, candidate := range candidates.Chunks {
		keyword := r.keywordScore(queryTokens, queryNorm, candidate.Chunk.Content)
		scored[i] = common.ScoredChunk{
			Chunk:    candidate.Chunk,
			Semantic: candidate.Semantic,
			Score:    semanticWeight*candidate.Semantic + (1-semanticWeight)*keyword,
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		if scored[i].Semantic != scored[j].Semantic {
			return scored[i].Semantic > scored[j].Semantic
		}
		return scored[i].Chunk.CreatedAt.After(scored[j].Chunk.CreatedAt)
	})

	if len(scored) > k {
		scored = scored[:k]
	}
	return common.VectorResult{Chunks: scored}, nil
}

// keywordScore rewards exact term matches and whole-phrase overlap between
// the query and a chunk, in [0,1].
func (r *Retriever) keywordScore(queryTokens []string, queryNorm, content string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	contentNorm := util.NormalizeText(content)
	contentTokens := make(map[string]struct{})
	for _, token := range strings.Fields(contentNorm) {
		contentTokens[token] = struct{}{}
	}

	matched := 0
	for _, token := range queryTokens {
		if _, ok := contentTokens[token]; ok {
			matched++
		}
	}
	score := float64(matched) / float64(len(queryTokens))

	if queryNorm != "" && strings.Contains(contentNorm, queryNorm) {
		score += r.config.PhraseBonus
	}
	if score > 1 {
		score = 1
	}
	return score
}

// DefaultSemanticWeight exposes the configured hybrid blend weight.
func (r *Retriever) DefaultSemanticWeight() float64 {
	return r.config.SemanticWeight
}
