package synth

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/cartographai/atlas/internal/util"
	"github.com/cartographai/atlas/pkg/ai"
	"github.com/cartographai/atlas/pkg/common"
	"github.com/cartographai/atlas/pkg/graph"
	"github.com/cartographai/atlas/pkg/query"
)

// fakeModel serves canned chat replies and records the prompts it saw.
type fakeModel struct {
	chatReply string
	chatErr   error
	chatCalls int
	prompts   [][]ai.ChatMessage
}

func (f *fakeModel) GenerateCompletion(ctx context.Context, prompt string, opts ...ai.GenerateOption) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeModel) GenerateCompletionWithFormat(ctx context.Context, name, description, prompt string, out any, opts ...ai.GenerateOption) error {
	return errors.New("not implemented")
}

func (f *fakeModel) GenerateChat(ctx context.Context, messages []ai.ChatMessage, opts ...ai.GenerateOption) (string, error) {
	f.chatCalls++
	f.prompts = append(f.prompts, messages)
	if f.chatErr != nil {
		return "", f.chatErr
	}
	return f.chatReply, nil
}

func (f *fakeModel) GenerateEmbedding(ctx context.Context, input []byte) ([]float32, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeModel) GenerateEmbeddings(ctx context.Context, inputs [][]byte) ([][]float32, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeModel) EmbeddingDimensions() int { return 0 }

func (f *fakeModel) ResetMetrics() {}

func (f *fakeModel) GetMetrics() ai.ModelMetrics { return ai.ModelMetrics{} }

func fastBackoff() util.BackoffPolicy {
	return util.BackoffPolicy{
		MaxRetries: 1,
		BaseDelay:  time.Millisecond,
		MaxDelay:   time.Millisecond,
		MaxWindow:  time.Second,
		Retryable:  common.IsTransient,
	}
}

func newTestSynthesizer(t *testing.T, model *fakeModel, config Config) *Synthesizer {
	t.Helper()
	config.Backoff = fastBackoff()
	s, err := NewSynthesizer(model, config)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	return s
}

func scoredChunk(id, docID, content string, score float64) common.ScoredChunk {
	return common.ScoredChunk{
		Chunk: common.DocumentChunk{
			ID:         id,
			DocumentID: docID,
			Content:    content,
		},
		Score:    score,
		Semantic: score,
	}
}

func emptyRoute() *query.RouteResult {
	return &query.RouteResult{
		Strategy: query.StrategyVectorFocused,
		Graph:    common.GraphResult{Relevance: map[string]float64{}},
		Trace:    query.NewTrace(),
	}
}

func TestNewSynthesizerRequiresModel(t *testing.T) {
	_, err := NewSynthesizer(nil, Config{})
	var confErr *common.ConfigurationError
	if !errors.As(err, &confErr) {
		t.Fatalf("unexpected error: got %v, want ConfigurationError", err)
	}
}

func TestSynthesizeCitationNumbering(t *testing.T) {
	model := &fakeModel{chatReply: "answer [1][2]"}
	s := newTestSynthesizer(t, model, Config{})

	route := emptyRoute()
	route.Vector.Chunks = []common.ScoredChunk{
		scoredChunk("c1", "d1", "first passage", 0.9),
		scoredChunk("c2", "d2", "second passage", 0.7),
		scoredChunk("c3", "d3", "third passage", 0.5),
	}

	answer := s.Synthesize(context.Background(), "what is this about?", route)
	if answer.Response != "answer [1][2]" {
		t.Fatalf("unexpected response: %q", answer.Response)
	}
	if len(answer.Citations) != 3 {
		t.Fatalf("unexpected citation count: got %d, want 3", len(answer.Citations))
	}
	for i, citation := range answer.Citations {
		if citation.Number != i+1 {
			t.Fatalf("citation numbers must be 1-based and contiguous: got %d at index %d", citation.Number, i)
		}
	}
	// Selection is relevance-descending, so citation order follows score.
	wantIDs := []string{"c1", "c2", "c3"}
	for i, want := range wantIDs {
		if answer.Citations[i].SourceID != want {
			t.Fatalf("unexpected citation order at %d: got %q, want %q", i, answer.Citations[i].SourceID, want)
		}
	}
	if answer.Citations[0].Type != common.SourceTypeChunk {
		t.Fatalf("unexpected citation type: got %q", answer.Citations[0].Type)
	}
}

func TestSynthesizeDedupesByID(t *testing.T) {
	model := &fakeModel{chatReply: "ok"}
	s := newTestSynthesizer(t, model, Config{})

	route := emptyRoute()
	route.Vector.Chunks = []common.ScoredChunk{
		scoredChunk("c1", "d1", "same chunk", 0.6),
		scoredChunk("c1", "d1", "same chunk", 0.9),
	}

	answer := s.Synthesize(context.Background(), "q", route)
	if len(answer.Citations) != 1 {
		t.Fatalf("duplicate IDs must collapse to one citation, got %d", len(answer.Citations))
	}
	if answer.Citations[0].Relevance != 0.9 {
		t.Fatalf("dedupe must keep the maximum relevance: got %v, want 0.9", answer.Citations[0].Relevance)
	}
}

func TestSynthesizeEntityFoldsIntoChunk(t *testing.T) {
	model := &fakeModel{chatReply: "ok"}
	s := newTestSynthesizer(t, model, Config{})

	route := emptyRoute()
	route.Vector.Chunks = []common.ScoredChunk{
		scoredChunk("c1", "d1", "kafka overview", 0.5),
	}
	route.Graph = common.GraphResult{
		Entities: []common.Entity{
			{ID: "e-kafka", Name: "Apache Kafka", Type: "technology", ChunkRef: "c1"},
		},
		Relevance: map[string]float64{"e-kafka": 0.95},
	}

	answer := s.Synthesize(context.Background(), "q", route)
	if len(answer.Citations) != 1 {
		t.Fatalf("entity with a retrieved chunk ref must fold into the chunk, got %d citations", len(answer.Citations))
	}
	c := answer.Citations[0]
	if c.SourceID != "c1" || c.Type != common.SourceTypeChunk {
		t.Fatalf("unexpected citation: %+v", c)
	}
	if c.Relevance != 0.95 {
		t.Fatalf("fold must keep the higher relevance: got %v, want 0.95", c.Relevance)
	}
}

func TestSynthesizeEntityWithoutChunkRefIsCited(t *testing.T) {
	model := &fakeModel{chatReply: "ok"}
	s := newTestSynthesizer(t, model, Config{})

	route := emptyRoute()
	route.Graph = common.GraphResult{
		Entities: []common.Entity{
			{ID: "e-nn", Name: "Neural Networks", Type: "concept", Description: "layered models"},
			{ID: "e-dl", Name: "Deep Learning", Type: "concept"},
		},
		Relationships: []common.Relationship{
			{ID: "r1", SourceID: "e-nn", TargetID: "e-dl", Type: "RELATED_TO"},
		},
		Relevance: map[string]float64{"e-nn": 1.0, "e-dl": 0.7},
	}

	answer := s.Synthesize(context.Background(), "q", route)
	if len(answer.Citations) != 2 {
		t.Fatalf("unexpected citation count: got %d, want 2", len(answer.Citations))
	}
	top := answer.Citations[0]
	if top.SourceID != "e-nn" || top.Type != common.SourceTypeEntity {
		t.Fatalf("unexpected top citation: %+v", top)
	}
	if !strings.Contains(top.Rendered, "Neural Networks (concept): layered models") {
		t.Fatalf("entity rendering missing name/type/description: %q", top.Rendered)
	}
	if !strings.Contains(top.Rendered, "related_to Deep Learning") {
		t.Fatalf("entity rendering must include its one-hop connections: %q", top.Rendered)
	}
}

func TestSynthesizePerDocumentCap(t *testing.T) {
	model := &fakeModel{chatReply: "ok"}
	s := newTestSynthesizer(t, model, Config{PerDocumentCap: 2})

	route := emptyRoute()
	route.Vector.Chunks = []common.ScoredChunk{
		scoredChunk("c1", "d1", "one", 0.9),
		scoredChunk("c2", "d1", "two", 0.8),
		scoredChunk("c3", "d1", "three", 0.7),
		scoredChunk("c4", "d2", "four", 0.6),
	}

	answer := s.Synthesize(context.Background(), "q", route)
	if len(answer.Citations) != 3 {
		t.Fatalf("unexpected citation count: got %d, want 3", len(answer.Citations))
	}
	fromD1 := 0
	for _, c := range answer.Citations {
		if c.SourceID == "c1" || c.SourceID == "c2" || c.SourceID == "c3" {
			fromD1++
		}
	}
	if fromD1 != 2 {
		t.Fatalf("one document must not exceed the cap: got %d chunks from d1, want 2", fromD1)
	}
}

func TestSynthesizeTokenBudget(t *testing.T) {
	model := &fakeModel{chatReply: "ok"}
	s := newTestSynthesizer(t, model, Config{TokenBudget: 30})

	route := emptyRoute()
	route.Vector.Chunks = []common.ScoredChunk{
		scoredChunk("big", "d1", strings.Repeat("overflow ", 200), 0.9),
		scoredChunk("small", "d2", "short passage", 0.8),
	}

	answer := s.Synthesize(context.Background(), "q", route)
	for _, c := range answer.Citations {
		if c.SourceID == "big" {
			t.Fatalf("a source larger than the whole budget must be skipped")
		}
	}
	found := false
	for _, c := range answer.Citations {
		if c.SourceID == "small" {
			found = true
		}
	}
	if !found {
		t.Fatalf("selection must skip past oversized sources, not stop at them")
	}
}

func TestSynthesizeConfidence(t *testing.T) {
	model := &fakeModel{chatReply: "ok"}
	s := newTestSynthesizer(t, model, Config{})

	t.Run("mean of top sources", func(t *testing.T) {
		route := emptyRoute()
		route.Vector.Chunks = []common.ScoredChunk{
			scoredChunk("c1", "d1", "a", 0.9),
			scoredChunk("c2", "d2", "b", 0.8),
			scoredChunk("c3", "d3", "c", 0.7),
		}
		answer := s.Synthesize(context.Background(), "q", route)
		want := (0.9 + 0.8 + 0.7) / 3
		if diff := answer.Confidence - want; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("unexpected confidence: got %v, want %v", answer.Confidence, want)
		}
	})

	t.Run("few sources discounted", func(t *testing.T) {
		route := emptyRoute()
		route.Vector.Chunks = []common.ScoredChunk{
			scoredChunk("c1", "d1", "a", 1.0),
		}
		answer := s.Synthesize(context.Background(), "q", route)
		if diff := answer.Confidence - 0.8; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("unexpected confidence: got %v, want 0.8", answer.Confidence)
		}
	})

	t.Run("unresolved mentions discounted", func(t *testing.T) {
		route := emptyRoute()
		route.Vector.Chunks = []common.ScoredChunk{
			scoredChunk("c1", "d1", "a", 1.0),
			scoredChunk("c2", "d2", "b", 1.0),
			scoredChunk("c3", "d3", "c", 1.0),
		}
		route.Mentions = []query.Mention{{Text: "quantum computing", Pattern: "noun_phrase"}}
		answer := s.Synthesize(context.Background(), "q", route)
		if diff := answer.Confidence - 0.9; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("unexpected confidence: got %v, want 0.9", answer.Confidence)
		}
	})

	t.Run("degraded branch discounted", func(t *testing.T) {
		route := emptyRoute()
		route.Vector.Chunks = []common.ScoredChunk{
			scoredChunk("c1", "d1", "a", 1.0),
			scoredChunk("c2", "d2", "b", 1.0),
			scoredChunk("c3", "d3", "c", 1.0),
		}
		route.Graph.Degraded = true
		answer := s.Synthesize(context.Background(), "q", route)
		if diff := answer.Confidence - 0.9; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("unexpected confidence: got %v, want 0.9", answer.Confidence)
		}
	})

	t.Run("no sources zero", func(t *testing.T) {
		answer := s.Synthesize(context.Background(), "q", emptyRoute())
		if answer.Confidence != 0 {
			t.Fatalf("unexpected confidence: got %v, want 0", answer.Confidence)
		}
	})

	t.Run("resolved mentions not discounted", func(t *testing.T) {
		route := emptyRoute()
		route.Vector.Chunks = []common.ScoredChunk{
			scoredChunk("c1", "d1", "a", 1.0),
			scoredChunk("c2", "d2", "b", 1.0),
			scoredChunk("c3", "d3", "c", 1.0),
		}
		route.Mentions = []query.Mention{{Text: "Machine Learning", Pattern: "capitalized_phrase"}}
		route.Matches = []graph.EntityMatch{
			{Mention: "machine learning", Entity: common.Entity{ID: "ml", Name: "Machine Learning"}, Score: 1.0},
		}
		answer := s.Synthesize(context.Background(), "q", route)
		if diff := answer.Confidence - 1.0; diff > 1e-9 || diff < -1e-9 {
			t.Fatalf("unexpected confidence: got %v, want 1.0", answer.Confidence)
		}
	})
}

func TestSynthesizeGenerationFallback(t *testing.T) {
	model := &fakeModel{chatErr: errors.New("connection refused")}
	s := newTestSynthesizer(t, model, Config{})

	route := emptyRoute()
	route.Vector.Chunks = []common.ScoredChunk{
		scoredChunk("c1", "d1", "the most relevant passage", 0.9),
		scoredChunk("c2", "d2", "second passage", 0.8),
		scoredChunk("c3", "d3", "third passage", 0.7),
		scoredChunk("c4", "d4", "fourth passage", 0.6),
	}

	answer := s.Synthesize(context.Background(), "q", route)
	if !answer.GenerationUnavailable {
		t.Fatalf("model failure must set GenerationUnavailable")
	}
	if !strings.Contains(answer.Response, "the most relevant passage") {
		t.Fatalf("fallback must stitch source snippets, got %q", answer.Response)
	}
	if strings.Contains(answer.Response, "fourth passage") {
		t.Fatalf("snippet fallback must only include the top sources, got %q", answer.Response)
	}
	if answer.Confidence > 0.35 {
		t.Fatalf("fallback confidence must be capped: got %v", answer.Confidence)
	}
	if len(answer.Citations) != 4 {
		t.Fatalf("citations must survive the fallback, got %d", len(answer.Citations))
	}
}

func TestSynthesizeRetriesTransientGeneration(t *testing.T) {
	model := &fakeModel{chatErr: common.Transient("chat", errors.New("rate limited"))}
	s := newTestSynthesizer(t, model, Config{})

	route := emptyRoute()
	route.Vector.Chunks = []common.ScoredChunk{scoredChunk("c1", "d1", "a", 0.9)}

	answer := s.Synthesize(context.Background(), "q", route)
	if model.chatCalls != 2 {
		t.Fatalf("transient errors must be retried: got %d calls, want 2", model.chatCalls)
	}
	if !answer.GenerationUnavailable {
		t.Fatalf("exhausted retries must degrade the answer")
	}
}

func TestSynthesizeNoContextPrompt(t *testing.T) {
	model := &fakeModel{chatReply: "I do not have enough information to answer that."}
	s := newTestSynthesizer(t, model, Config{})

	answer := s.Synthesize(context.Background(), "what is the airspeed of an unladen swallow?", emptyRoute())
	if len(answer.Citations) != 0 {
		t.Fatalf("no retrieval results must mean no citations, got %d", len(answer.Citations))
	}
	if model.chatCalls != 1 {
		t.Fatalf("unexpected chat calls: got %d, want 1", model.chatCalls)
	}
	messages := model.prompts[0]
	if len(messages) != 1 || messages[0].Role != "user" {
		t.Fatalf("no-context generation must use a single user message, got %+v", messages)
	}
	if !strings.Contains(messages[0].Message, "unladen swallow") {
		t.Fatalf("question missing from prompt: %q", messages[0].Message)
	}
}

func TestSynthesizeContextPromptNumbersSources(t *testing.T) {
	model := &fakeModel{chatReply: "ok"}
	s := newTestSynthesizer(t, model, Config{})

	route := emptyRoute()
	route.Vector.Chunks = []common.ScoredChunk{
		scoredChunk("c1", "d1", "first", 0.9),
		scoredChunk("c2", "d2", "second", 0.8),
	}

	s.Synthesize(context.Background(), "q", route)
	messages := model.prompts[0]
	if len(messages) != 2 || messages[0].Role != "system" || messages[1].Role != "user" {
		t.Fatalf("context generation must send system context plus user question, got %+v", messages)
	}
	system := messages[0].Message
	if !strings.Contains(system, "[1] d1: first") || !strings.Contains(system, "[2] d2: second") {
		t.Fatalf("context block numbering must match citations: %q", system)
	}
}
