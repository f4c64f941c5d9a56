package query

import (
	"sync"
	"time"
)

// Stages of one routed query, in the order they normally occur.
const (
	StageExtract         = "entity_extraction"
	StageComplexity      = "complexity_scoring"
	StageStrategy        = "strategy_selection"
	StageEntityMatch     = "entity_matching"
	StageGraphRetrieval  = "graph_retrieval"
	StageVectorRetrieval = "vector_retrieval"
	StageSynthesis       = "synthesis"
	StageGeneration      = "generation"
)

// TraceEntry is one recorded step of a query's reasoning path.
type TraceEntry struct {
	Stage      string `json:"stage"`
	Detail     string `json:"detail"`
	DurationMs int64  `json:"duration_ms"`
}

// Trace collects the ordered reasoning path of one query. Retrieval
// branches run concurrently and record into the same trace, so all access
// is mutex-guarded. Entries keep insertion order.
//
// The trace is consumed by the synthesizer for the reasoning explanation
// and returned to the caller when include_reasoning is set.
type Trace struct {
	mu      sync.Mutex
	entries []TraceEntry
}

// NewTrace returns an empty trace.
func NewTrace() *Trace {
	return &Trace{}
}

// Record appends one entry. Safe for concurrent use; nil traces discard.
func (t *Trace) Record(stage, detail string, duration time.Duration) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries = append(t.entries, TraceEntry{
		Stage:      stage,
		Detail:     detail,
		DurationMs: duration.Milliseconds(),
	})
}

// Step runs fn and records its wall-clock duration under the given stage.
func (t *Trace) Step(stage, detail string, fn func()) {
	start := time.Now()
	fn()
	t.Record(stage, detail, time.Since(start))
}

// Snapshot returns a copy of the entries in insertion order.
func (t *Trace) Snapshot() []TraceEntry {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TraceEntry, len(t.entries))
	copy(out, t.entries)
	return out
}
