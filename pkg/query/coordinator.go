package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/cartographai/atlas/pkg/ai"
	"github.com/cartographai/atlas/pkg/common"
	"github.com/cartographai/atlas/pkg/graph"
	"github.com/cartographai/atlas/pkg/logger"
	"github.com/cartographai/atlas/pkg/store"
	"github.com/cartographai/atlas/pkg/vector"
)

// Strategy names which retrieval branches a query runs.
type Strategy string

const (
	// StrategyVectorFocused retrieves by embedding similarity only.
	StrategyVectorFocused Strategy = "vector_focused"
	// StrategyGraphFocused retrieves by entity matching and traversal only.
	StrategyGraphFocused Strategy = "graph_focused"
	// StrategyHybrid runs both branches in parallel and fuses the results.
	StrategyHybrid Strategy = "hybrid"
	// StrategyAuto lets the coordinator pick from the complexity score.
	StrategyAuto Strategy = ""
)

// ParseStrategy validates a caller-supplied strategy string. The empty
// string selects automatic routing; anything else unknown is rejected
// before any retrieval work happens.
func ParseStrategy(s string) (Strategy, error) {
	switch Strategy(s) {
	case StrategyAuto, StrategyVectorFocused, StrategyGraphFocused, StrategyHybrid:
		return Strategy(s), nil
	}
	return StrategyAuto, common.NewConfigurationError(
		"strategy",
		fmt.Sprintf("unknown strategy %q, expected one of %s, %s, %s",
			s, StrategyVectorFocused, StrategyGraphFocused, StrategyHybrid),
	)
}

// Phrases that signal the question is about how things relate rather than
// what a single thing is. Their presence dominates the strategy choice for
// medium-complexity questions.
var relationalCues = []string{
	"related to", "relate to", "relates to", "relationship between",
	"connected to", "connection between", "compared to", "compared with",
	"difference between", "differ from", "versus", " vs ", "depends on",
	"depend on", "linked to", "associated with", "interact with",
	"influence", "affect", "impact of", "cause", "lead to", "leads to",
}

var clauseConnectives = []string{" and ", " or ", " but ", "; ", ", how ", ", what ", ", why "}

// ComplexityWeights blends the four complexity signals into one [0,1]
// score. Weights must sum to 1 for the score to stay in range.
type ComplexityWeights struct {
	Length     float64
	Entities   float64
	Relational float64
	Clauses    float64
}

// DefaultComplexityWeights matches the routing behavior described in the
// scoring breakdown returned in traces.
func DefaultComplexityWeights() ComplexityWeights {
	return ComplexityWeights{Length: 0.2, Entities: 0.3, Relational: 0.3, Clauses: 0.2}
}

// CoordinatorConfig holds routing tunables.
type CoordinatorConfig struct {
	Weights ComplexityWeights
	// FactualThreshold is the score below which a question is treated as
	// factual lookup. Default 0.35.
	FactualThreshold float64
	// ComplexThreshold is the score at or above which both branches run.
	// Default 0.65.
	ComplexThreshold float64
	// BranchTimeout bounds each retrieval branch independently. A branch
	// that exceeds it degrades to an empty result. Default 30s.
	BranchTimeout time.Duration
	// MaxResults is the default chunk count per query. Default 10.
	MaxResults int
	// TraversalDepth is how many hops the graph branch walks from matched
	// seeds. Default 0 lets the traverser use its own default.
	TraversalDepth int
	// SubgraphScore is the minimum match score at which a vector-focused
	// query still gets a one-hop subgraph as relational context.
	// Default 0.85.
	SubgraphScore float64
	// IntentCandidates caps how many entity names are offered to the model
	// for intent fallback. Default 200.
	IntentCandidates int
}

func (c CoordinatorConfig) normalized() CoordinatorConfig {
	if c.Weights == (ComplexityWeights{}) {
		c.Weights = DefaultComplexityWeights()
	}
	if c.FactualThreshold <= 0 {
		c.FactualThreshold = 0.35
	}
	if c.ComplexThreshold <= 0 {
		c.ComplexThreshold = 0.65
	}
	if c.BranchTimeout <= 0 {
		c.BranchTimeout = 30 * time.Second
	}
	if c.MaxResults <= 0 {
		c.MaxResults = 10
	}
	if c.SubgraphScore <= 0 {
		c.SubgraphScore = 0.85
	}
	if c.IntentCandidates <= 0 {
		c.IntentCandidates = 200
	}
	return c
}

// Options carries per-query routing choices from the caller.
type Options struct {
	// Strategy overrides automatic selection when non-empty. Must already
	// be validated via ParseStrategy.
	Strategy Strategy
	// MaxResults overrides the configured default when positive.
	MaxResults int
	// SemanticWeight overrides the retriever's hybrid blend when non-nil.
	SemanticWeight *float64
	// Filter restricts the vector branch to matching chunks.
	Filter *store.Filter
}

// RouteResult is everything the routing and retrieval stages produced for
// one question, ready for synthesis.
type RouteResult struct {
	Strategy   Strategy
	Complexity float64
	Mentions   []Mention
	Matches    []graph.EntityMatch
	Graph      common.GraphResult
	Vector     common.VectorResult
	Trace      *Trace
}

// Coordinator routes a question to the retrieval branches: extracts entity
// mentions, scores complexity, picks a strategy, and runs the branches in
// parallel with independent timeouts. Branch failures degrade the result
// instead of failing the query.
type Coordinator struct {
	extractor EntityExtractor
	matcher   *graph.EntityMatcher
	traverser *graph.Traverser
	retriever *vector.Retriever
	model     ai.Client
	config    CoordinatorConfig
}

// NewCoordinatorParams collects the coordinator's collaborators. The model
// client is optional; without it the intent fallback is skipped.
type NewCoordinatorParams struct {
	Extractor EntityExtractor
	Matcher   *graph.EntityMatcher
	Traverser *graph.Traverser
	Retriever *vector.Retriever
	Model     ai.Client
	Config    CoordinatorConfig
}

// NewCoordinator wires a coordinator from its collaborators.
func NewCoordinator(params NewCoordinatorParams) (*Coordinator, error) {
	if params.Extractor == nil {
		return nil, common.NewConfigurationError("extractor", "entity extractor is required")
	}
	if params.Matcher == nil || params.Traverser == nil {
		return nil, common.NewConfigurationError("graph", "entity matcher and traverser are required")
	}
	if params.Retriever == nil {
		return nil, common.NewConfigurationError("retriever", "vector retriever is required")
	}
	return &Coordinator{
		extractor: params.Extractor,
		matcher:   params.Matcher,
		traverser: params.Traverser,
		retriever: params.Retriever,
		model:     params.Model,
		config:    params.Config.normalized(),
	}, nil
}

// Route runs the full routing pipeline for one question. The only error it
// returns is invalid caller input; retrieval failures show up as degraded
// branch results with trace entries instead.
func (c *Coordinator) Route(ctx context.Context, question string, opts Options) (*RouteResult, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, common.NewConfigurationError("query", "query text must not be empty")
	}
	if opts.Strategy != StrategyAuto {
		if _, err := ParseStrategy(string(opts.Strategy)); err != nil {
			return nil, err
		}
	}
	trace := NewTrace()

	var mentions []Mention
	trace.Step(StageExtract, "", func() {
		mentions = c.extractor.Extract(question)
	})
	mentionTexts := make([]string, len(mentions))
	for i, m := range mentions {
		mentionTexts[i] = m.Text
	}
	c.rerecordDetail(trace, StageExtract,
		fmt.Sprintf("found %d mentions: %s", len(mentions), strings.Join(mentionTexts, ", ")))

	score := c.complexityScore(question, len(mentions))
	trace.Record(StageComplexity, fmt.Sprintf("score %.2f", score), 0)

	strategy := c.selectStrategy(question, score, len(mentions))
	if opts.Strategy != StrategyAuto {
		trace.Record(StageStrategy,
			fmt.Sprintf("caller override %s (automatic choice was %s)", opts.Strategy, strategy), 0)
		strategy = opts.Strategy
	} else {
		trace.Record(StageStrategy, string(strategy), 0)
	}

	// Entity matching runs up front: graph strategies need the seeds, and
	// a confidently matched entity upgrades a vector-focused query with a
	// small subgraph of relational context.
	var (
		matches  []graph.EntityMatch
		degraded bool
	)
	trace.Step(StageEntityMatch, "", func() {
		matches, degraded = c.matchEntities(ctx, mentionTexts, question, trace)
	})
	c.rerecordDetail(trace, StageEntityMatch, matchDetail(matches, degraded))

	if opts.Strategy == StrategyAuto && strategy == StrategyGraphFocused && len(matches) == 0 {
		// Nothing to seed a traversal with. Falling back keeps the query
		// answerable instead of returning an empty graph walk.
		trace.Record(StageStrategy, "no graph entities matched, falling back to vector_focused", 0)
		strategy = StrategyVectorFocused
	}

	result := &RouteResult{
		Strategy:   strategy,
		Complexity: score,
		Mentions:   mentions,
		Matches:    matches,
		Graph:      common.GraphResult{Relevance: map[string]float64{}},
		Trace:      trace,
	}
	c.dispatch(ctx, question, opts, result)
	return result, nil
}

// dispatch runs the retrieval branches the strategy calls for, in parallel
// with independent timeouts. The errgroup never carries an error up: every
// branch degrades in place.
func (c *Coordinator) dispatch(ctx context.Context, question string, opts Options, result *RouteResult) {
	maxResults := opts.MaxResults
	if maxResults <= 0 {
		maxResults = c.config.MaxResults
	}

	runGraph := result.Strategy == StrategyGraphFocused || result.Strategy == StrategyHybrid
	contextOnly := false
	if !runGraph && len(result.Matches) > 0 && result.Matches[0].Score >= c.config.SubgraphScore {
		// Vector-focused, but the question names a known entity with high
		// confidence. A one-hop subgraph is cheap relational context.
		runGraph = true
		contextOnly = true
	}
	runVector := result.Strategy == StrategyVectorFocused || result.Strategy == StrategyHybrid

	group, groupCtx := errgroup.WithContext(ctx)

	if runGraph {
		group.Go(func() error {
			branchCtx, cancel := context.WithTimeout(groupCtx, c.config.BranchTimeout)
			defer cancel()
			start := time.Now()
			graphResult := c.graphBranch(branchCtx, result.Matches, contextOnly)
			if branchCtx.Err() != nil && errors.Is(branchCtx.Err(), context.DeadlineExceeded) {
				result.Trace.Record(StageGraphRetrieval, "timed_out", time.Since(start))
				result.Graph = common.GraphResult{Degraded: true, Relevance: map[string]float64{}}
				return nil
			}
			result.Trace.Record(StageGraphRetrieval,
				fmt.Sprintf("%d entities, %d relationships, %d paths",
					len(graphResult.Entities), len(graphResult.Relationships), len(graphResult.Paths)),
				time.Since(start))
			result.Graph = graphResult
			return nil
		})
	}
	if runVector {
		group.Go(func() error {
			branchCtx, cancel := context.WithTimeout(groupCtx, c.config.BranchTimeout)
			defer cancel()
			start := time.Now()
			vectorResult := c.vectorBranch(branchCtx, question, maxResults, opts)
			if branchCtx.Err() != nil && errors.Is(branchCtx.Err(), context.DeadlineExceeded) {
				result.Trace.Record(StageVectorRetrieval, "timed_out", time.Since(start))
				result.Vector = common.VectorResult{Degraded: true}
				return nil
			}
			result.Trace.Record(StageVectorRetrieval,
				fmt.Sprintf("%d chunks", len(vectorResult.Chunks)), time.Since(start))
			result.Vector = vectorResult
			return nil
		})
	}

	// Branches only ever return nil; Wait is for joining.
	_ = group.Wait()
}

// graphBranch traverses from the matched seeds. For hybrid and
// graph-focused strategies it also tries shortest paths between the two
// best-matched entities; contextOnly restricts the walk to a one-hop
// subgraph of the top match.
func (c *Coordinator) graphBranch(ctx context.Context, matches []graph.EntityMatch, contextOnly bool) common.GraphResult {
	if len(matches) == 0 {
		return common.GraphResult{Relevance: map[string]float64{}}
	}
	if contextOnly {
		return c.traverser.Subgraph(ctx, matches[0].Entity, 1)
	}

	seeds := make([]common.Entity, 0, len(matches))
	for _, match := range matches {
		seeds = append(seeds, match.Entity)
	}
	result := c.traverser.Traverse(ctx, seeds, c.config.TraversalDepth, graph.DirectionBoth, nil)

	if len(matches) >= 2 {
		paths := c.traverser.ShortestPaths(ctx, matches[0].Entity.ID, matches[1].Entity.ID, c.config.TraversalDepth)
		result.Paths = mergePaths(result.Paths, paths)
	}
	return result
}

func (c *Coordinator) vectorBranch(ctx context.Context, question string, k int, opts Options) common.VectorResult {
	weight := c.retriever.DefaultSemanticWeight()
	if opts.SemanticWeight != nil {
		weight = *opts.SemanticWeight
	}
	result, err := c.retriever.HybridSearch(ctx, question, k, weight, opts.Filter)
	if err != nil {
		// Only reachable with an out-of-range weight, validated upstream.
		logger.Error("[Coordinator] Hybrid search rejected weight", "err", err)
		return common.VectorResult{Degraded: true}
	}
	return result
}

// matchEntities resolves mentions against the graph, falling back to a
// model read of the question when heuristics found nothing and a model
// client is configured.
func (c *Coordinator) matchEntities(
	ctx context.Context,
	mentionTexts []string,
	question string,
	trace *Trace,
) ([]graph.EntityMatch, bool) {
	if len(mentionTexts) > 0 {
		return c.matcher.Match(ctx, mentionTexts, question)
	}
	if c.model == nil {
		return nil, false
	}

	names, err := c.matcher.CandidateNames(ctx, c.config.IntentCandidates)
	if err != nil || len(names) == 0 {
		return nil, err != nil
	}
	var intent struct {
		Entities []string `json:"entities" jsonschema_description:"Candidate names the question refers to"`
	}
	prompt := fmt.Sprintf(ai.IntentPrompt, strings.Join(names, "\n"), question)
	err = c.model.GenerateCompletionWithFormat(ctx,
		"question_intent",
		"Entity names from the candidate list that the question refers to",
		prompt, &intent, ai.WithTemperature(0),
	)
	if err != nil || len(intent.Entities) == 0 {
		if err != nil {
			logger.Warn("[Coordinator] Intent fallback failed", "err", err)
		}
		return nil, false
	}
	trace.Record(StageEntityMatch,
		fmt.Sprintf("model intent fallback proposed: %s", strings.Join(intent.Entities, ", ")), 0)
	return c.matcher.Match(ctx, intent.Entities, question)
}

// complexityScore blends question length, mention count, relational cues,
// and clause structure into a [0,1] score.
func (c *Coordinator) complexityScore(question string, mentionCount int) float64 {
	w := c.config.Weights
	words := len(strings.Fields(question))

	lengthSignal := capFloat(float64(words) / 25)
	entitySignal := capFloat(float64(mentionCount) / 3)

	relationalSignal := 0.0
	if hasRelationalCue(question) {
		relationalSignal = 1.0
	}

	lower := strings.ToLower(question)
	clauses := 0
	for _, conn := range clauseConnectives {
		clauses += strings.Count(lower, conn)
	}
	clauseSignal := capFloat(float64(clauses) / 2)

	score := w.Length*lengthSignal + w.Entities*entitySignal +
		w.Relational*relationalSignal + w.Clauses*clauseSignal
	return capFloat(score)
}

// selectStrategy maps the complexity score to a strategy. Relational cues
// dominate mid-range scores; a question with no extractable entities can
// never be graph-focused.
func (c *Coordinator) selectStrategy(question string, score float64, mentionCount int) Strategy {
	if mentionCount == 0 {
		return StrategyVectorFocused
	}
	if score >= c.config.ComplexThreshold {
		return StrategyHybrid
	}
	if score >= c.config.FactualThreshold && hasRelationalCue(question) {
		return StrategyGraphFocused
	}
	return StrategyVectorFocused
}

func hasRelationalCue(question string) bool {
	lower := strings.ToLower(question)
	for _, cue := range relationalCues {
		if strings.Contains(lower, cue) {
			return true
		}
	}
	return false
}

// rerecordDetail fills in the detail of the most recent entry for a stage
// recorded via Step, which times the work before the detail is known.
func (c *Coordinator) rerecordDetail(trace *Trace, stage, detail string) {
	trace.mu.Lock()
	defer trace.mu.Unlock()
	for i := len(trace.entries) - 1; i >= 0; i-- {
		if trace.entries[i].Stage == stage {
			trace.entries[i].Detail = detail
			return
		}
	}
}

func matchDetail(matches []graph.EntityMatch, degraded bool) string {
	if degraded {
		return "graph store unavailable, matching degraded"
	}
	if len(matches) == 0 {
		return "no entities matched"
	}
	names := make([]string, len(matches))
	for i, match := range matches {
		names[i] = fmt.Sprintf("%s (%.2f)", match.Entity.Name, match.Score)
	}
	return "matched " + strings.Join(names, ", ")
}

func mergePaths(existing, extra []common.Path) []common.Path {
	seen := make(map[string]struct{}, len(existing))
	for _, p := range existing {
		seen[strings.Join(p, "\x00")] = struct{}{}
	}
	for _, p := range extra {
		key := strings.Join(p, "\x00")
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		existing = append(existing, p)
	}
	return existing
}

func capFloat(v float64) float64 {
	if v > 1 {
		return 1
	}
	if v < 0 {
		return 0
	}
	return v
}
