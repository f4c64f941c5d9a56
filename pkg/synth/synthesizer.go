package synth

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pkoukk/tiktoken-go"

	"github.com/cartographai/atlas/internal/util"
	"github.com/cartographai/atlas/pkg/ai"
	"github.com/cartographai/atlas/pkg/common"
	"github.com/cartographai/atlas/pkg/logger"
	"github.com/cartographai/atlas/pkg/query"
)

// Config holds the synthesis tunables.
type Config struct {
	// TokenBudget caps the size of the context block handed to the
	// generation model. Default 4000.
	TokenBudget int
	// Encoding names the tiktoken encoding used for budget accounting.
	// Default o200k_base.
	Encoding string
	// ConfidenceTopK is how many of the best selected sources feed the
	// confidence mean. Default 5.
	ConfidenceTopK int
	// PerDocumentCap bounds how many chunks of one document may be
	// selected, so a single long document cannot crowd out the rest.
	// Default 3.
	PerDocumentCap int
	// MinSources is the source count below which confidence is
	// discounted. Default 3.
	MinSources int
	// FallbackCeiling caps confidence when generation was unavailable and
	// the answer is stitched from snippets. Default 0.35.
	FallbackCeiling float64
	// Backoff drives generation retries. Zero value selects the default
	// policy with transient-error classification.
	Backoff util.BackoffPolicy
}

func (c Config) normalized() Config {
	if c.TokenBudget <= 0 {
		c.TokenBudget = 4000
	}
	if c.Encoding == "" {
		c.Encoding = "o200k_base"
	}
	if c.ConfidenceTopK <= 0 {
		c.ConfidenceTopK = 5
	}
	if c.PerDocumentCap <= 0 {
		c.PerDocumentCap = 3
	}
	if c.MinSources <= 0 {
		c.MinSources = 3
	}
	if c.FallbackCeiling <= 0 {
		c.FallbackCeiling = 0.35
	}
	if c.Backoff.Retryable == nil {
		c.Backoff = util.DefaultBackoff(common.IsTransient)
	}
	return c
}

// Answer is one synthesized response with its provenance.
type Answer struct {
	Response   string            `json:"response"`
	Citations  []common.Citation `json:"citations"`
	Confidence float64           `json:"confidence"`
	// GenerationUnavailable is set when the model could not be reached
	// after retries and Response is stitched from source snippets.
	GenerationUnavailable bool `json:"generation_unavailable,omitempty"`
}

// source is one citable context candidate before budget selection.
type source struct {
	id         string
	sourceType common.SourceType
	documentID string
	rendered   string
	relevance  float64
	tokens     int
}

// Synthesizer fuses graph and vector retrieval results into one cited
// answer: dedupe, token-budgeted selection, citation numbering, confidence
// scoring, and the generation call with snippet fallback.
type Synthesizer struct {
	model  ai.Client
	enc    *tiktoken.Tiktoken
	config Config
}

// NewSynthesizer builds a synthesizer over the given generation client.
func NewSynthesizer(model ai.Client, config Config) (*Synthesizer, error) {
	if model == nil {
		return nil, common.NewConfigurationError("model", "generation client is required")
	}
	config = config.normalized()
	enc, err := tiktoken.GetEncoding(config.Encoding)
	if err != nil {
		return nil, common.NewConfigurationError("encoding", err.Error())
	}
	return &Synthesizer{model: model, enc: enc, config: config}, nil
}

// Synthesize turns a routed retrieval result into a final cited answer.
// Retrieval degradation has already happened upstream; the only failure
// mode left here is the generation model, which degrades to a snippet
// answer instead of an error.
func (s *Synthesizer) Synthesize(ctx context.Context, question string, route *query.RouteResult) *Answer {
	start := time.Now()
	sources := s.collectSources(route)
	selected := s.selectWithinBudget(sources)

	citations := make([]common.Citation, len(selected))
	for i, src := range selected {
		citations[i] = common.Citation{
			Number:    i + 1,
			SourceID:  src.id,
			Type:      src.sourceType,
			Rendered:  src.rendered,
			Relevance: src.relevance,
		}
	}
	confidence := s.confidence(selected, route)
	route.Trace.Record(query.StageSynthesis,
		fmt.Sprintf("selected %d of %d sources, confidence %.2f", len(selected), len(sources), confidence),
		time.Since(start))

	answer := &Answer{Citations: citations, Confidence: confidence}
	s.generate(ctx, question, selected, route, answer)
	return answer
}

// collectSources flattens chunks and graph entities into citable sources,
// deduplicated by ID with the maximum relevance kept. An entity whose
// ChunkRef points at a retrieved chunk folds into that chunk instead of
// appearing twice.
func (s *Synthesizer) collectSources(route *query.RouteResult) []source {
	best := make(map[string]source)

	keep := func(src source) {
		if existing, ok := best[src.id]; ok {
			if src.relevance > existing.relevance {
				existing.relevance = src.relevance
				best[src.id] = existing
			}
			return
		}
		best[src.id] = src
	}

	chunkIDs := make(map[string]struct{}, len(route.Vector.Chunks))
	for _, scored := range route.Vector.Chunks {
		chunkIDs[scored.Chunk.ID] = struct{}{}
		keep(source{
			id:         scored.Chunk.ID,
			sourceType: common.SourceTypeChunk,
			documentID: scored.Chunk.DocumentID,
			rendered:   renderChunk(scored.Chunk),
			relevance:  scored.Score,
		})
	}
	for _, entity := range route.Graph.Entities {
		relevance := route.Graph.Relevance[entity.ID]
		if entity.ChunkRef != "" {
			if _, ok := chunkIDs[entity.ChunkRef]; ok {
				keep(source{id: entity.ChunkRef, relevance: relevance})
				continue
			}
		}
		keep(source{
			id:         entity.ID,
			sourceType: common.SourceTypeEntity,
			rendered:   renderEntity(entity, route.Graph),
			relevance:  relevance,
		})
	}

	sources := make([]source, 0, len(best))
	for _, src := range best {
		sources = append(sources, src)
	}
	sort.Slice(sources, func(i, j int) bool {
		if sources[i].relevance != sources[j].relevance {
			return sources[i].relevance > sources[j].relevance
		}
		if sources[i].sourceType != sources[j].sourceType {
			return sources[i].sourceType == common.SourceTypeChunk
		}
		return sources[i].id < sources[j].id
	})
	return sources
}

// selectWithinBudget greedily takes sources best-first until the token
// budget is spent, skipping over sources that no longer fit and capping
// chunks per document for diversity.
func (s *Synthesizer) selectWithinBudget(sources []source) []source {
	remaining := s.config.TokenBudget
	perDocument := make(map[string]int)
	selected := make([]source, 0, len(sources))
	for _, src := range sources {
		if src.documentID != "" && perDocument[src.documentID] >= s.config.PerDocumentCap {
			continue
		}
		src.tokens = len(s.enc.Encode(src.rendered, nil, nil))
		if src.tokens > remaining {
			continue
		}
		remaining -= src.tokens
		if src.documentID != "" {
			perDocument[src.documentID]++
		}
		selected = append(selected, src)
		if remaining <= 0 {
			break
		}
	}
	return selected
}

// confidence is the mean relevance of the top selected sources, discounted
// when few sources survived selection or when extracted mentions went
// unmatched in the graph.
func (s *Synthesizer) confidence(selected []source, route *query.RouteResult) float64 {
	if len(selected) == 0 {
		return 0
	}
	k := s.config.ConfidenceTopK
	if k > len(selected) {
		k = len(selected)
	}
	sum := 0.0
	for _, src := range selected[:k] {
		sum += src.relevance
	}
	confidence := sum / float64(k)

	if len(selected) < s.config.MinSources {
		confidence *= 0.8
	}
	if unresolvedMentions(route) > 0 {
		confidence *= 0.9
	}
	if route.Graph.Degraded || route.Vector.Degraded {
		confidence *= 0.9
	}
	return capUnit(confidence)
}

func unresolvedMentions(route *query.RouteResult) int {
	matched := make(map[string]struct{}, len(route.Matches))
	for _, match := range route.Matches {
		matched[util.NormalizeText(match.Mention)] = struct{}{}
	}
	unresolved := 0
	for _, mention := range route.Mentions {
		if _, ok := matched[util.NormalizeText(mention.Text)]; !ok {
			unresolved++
		}
	}
	return unresolved
}

// generate calls the model with the numbered context block, retrying
// transient failures. When the model stays unreachable the answer degrades
// to stitched snippets with the confidence capped low.
func (s *Synthesizer) generate(
	ctx context.Context,
	question string,
	selected []source,
	route *query.RouteResult,
	answer *Answer,
) {
	start := time.Now()

	var prompt []ai.ChatMessage
	if len(selected) == 0 {
		prompt = []ai.ChatMessage{
			{Role: "user", Message: fmt.Sprintf(ai.NoContextPrompt, question)},
		}
	} else {
		prompt = []ai.ChatMessage{
			{Role: "system", Message: fmt.Sprintf(ai.AnswerPrompt, contextBlock(selected))},
			{Role: "user", Message: question},
		}
	}

	response, err := util.RetryBackoff(ctx, s.config.Backoff,
		func(ctx context.Context) (string, error) {
			return s.model.GenerateChat(ctx, prompt)
		})
	if err != nil {
		logger.Warn("[Synthesizer] Generation unavailable, degrading to snippets", "err", err)
		route.Trace.Record(query.StageGeneration, "model unavailable, snippet fallback", time.Since(start))
		answer.Response = snippetFallback(selected)
		answer.GenerationUnavailable = true
		answer.Confidence = capUnit(math.Min(answer.Confidence, s.config.FallbackCeiling))
		return
	}
	route.Trace.Record(query.StageGeneration, "model answer", time.Since(start))
	answer.Response = strings.TrimSpace(response)
}

// contextBlock renders the selected sources as the numbered list the
// answer prompt expects, numbers matching the citations.
func contextBlock(selected []source) string {
	var b strings.Builder
	for i, src := range selected {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, src.rendered)
	}
	return b.String()
}

// snippetFallback builds a readable extract-only answer from the selected
// sources, reusing the citation numbering.
func snippetFallback(selected []source) string {
	if len(selected) == 0 {
		return "No relevant information was found in the knowledge base, and the answer model is currently unavailable."
	}
	var b strings.Builder
	b.WriteString("The answer model is currently unavailable. The most relevant sources found were:\n")
	limit := len(selected)
	if limit > 3 {
		limit = 3
	}
	for i := 0; i < limit; i++ {
		fmt.Fprintf(&b, "\n[%d] %s\n", i+1, util.TruncateRunes(selected[i].rendered, 400))
	}
	return b.String()
}

func renderChunk(chunk common.DocumentChunk) string {
	title := chunk.Title
	if title == "" {
		title = chunk.DocumentID
	}
	return fmt.Sprintf("%s: %s", title, strings.TrimSpace(chunk.Content))
}

// renderEntity includes the entity's one-hop neighborhood from the
// traversal so the model can answer relational questions from graph
// context alone.
func renderEntity(entity common.Entity, graphResult common.GraphResult) string {
	var b strings.Builder
	b.WriteString(entity.Name)
	if entity.Type != "" {
		fmt.Fprintf(&b, " (%s)", entity.Type)
	}
	if entity.Description != "" {
		b.WriteString(": ")
		b.WriteString(entity.Description)
	}

	names := make(map[string]string, len(graphResult.Entities))
	for _, e := range graphResult.Entities {
		names[e.ID] = e.Name
	}
	var links []string
	for _, rel := range graphResult.Relationships {
		switch entity.ID {
		case rel.SourceID:
			if name, ok := names[rel.TargetID]; ok {
				links = append(links, fmt.Sprintf("%s %s", strings.ToLower(rel.Type), name))
			}
		case rel.TargetID:
			if name, ok := names[rel.SourceID]; ok {
				links = append(links, fmt.Sprintf("%s (from %s)", strings.ToLower(rel.Type), name))
			}
		}
	}
	if len(links) > 0 {
		if len(links) > 6 {
			links = links[:6]
		}
		fmt.Fprintf(&b, ". Connections: %s", strings.Join(links, "; "))
	}
	return b.String()
}

func capUnit(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
