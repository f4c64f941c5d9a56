package graph

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/cartographai/atlas/pkg/common"
	"github.com/cartographai/atlas/pkg/store"
)

// fakeGraphStore serves canned graph data by inspecting the query shape.
// failAfter > -1 makes every Run call past that count fail, to exercise
// degradation paths.
type fakeGraphStore struct {
	entities []common.Entity
	rels     []common.Relationship
	paths    []common.Path

	failAfter int
	calls     int
}

func newFakeGraphStore(entities []common.Entity, rels []common.Relationship) *fakeGraphStore {
	return &fakeGraphStore{entities: entities, rels: rels, failAfter: -1}
}

func (f *fakeGraphStore) Run(ctx context.Context, query store.CypherQuery) (*store.GraphRecords, error) {
	f.calls++
	if f.failAfter > -1 && f.calls > f.failAfter {
		return nil, errors.New("graph store down")
	}

	switch {
	case strings.Contains(query.Text, "allShortestPaths"):
		return &store.GraphRecords{Paths: f.paths}, nil

	case strings.Contains(query.Text, "RETURN n, r, m"):
		// one traversal hop from the bound frontier IDs
		ids, _ := query.Params["ids"].([]string)
		frontier := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			frontier[id] = struct{}{}
		}
		records := &store.GraphRecords{}
		touched := make(map[string]struct{})
		for _, rel := range f.rels {
			_, fromSrc := frontier[rel.SourceID]
			_, fromTgt := frontier[rel.TargetID]
			if !fromSrc && !fromTgt {
				continue
			}
			records.Relationships = append(records.Relationships, rel)
			touched[rel.SourceID] = struct{}{}
			touched[rel.TargetID] = struct{}{}
		}
		for _, entity := range f.entities {
			if _, ok := touched[entity.ID]; ok {
				records.Entities = append(records.Entities, entity)
			}
		}
		return records, nil

	case strings.Contains(query.Text, "-[r]-()"):
		// incident edges for degree counting
		ids, _ := query.Params["ids"].([]string)
		wanted := make(map[string]struct{}, len(ids))
		for _, id := range ids {
			wanted[id] = struct{}{}
		}
		records := &store.GraphRecords{}
		for _, rel := range f.rels {
			_, src := wanted[rel.SourceID]
			_, tgt := wanted[rel.TargetID]
			if src || tgt {
				records.Relationships = append(records.Relationships, rel)
			}
		}
		return records, nil

	case strings.Contains(query.Text, "id: $center"):
		return &store.GraphRecords{
			Entities:      f.entities,
			Relationships: f.rels,
		}, nil

	default:
		// entity inventory
		return &store.GraphRecords{Entities: f.entities}, nil
	}
}

func (f *fakeGraphStore) Ping(ctx context.Context) error { return nil }

func (f *fakeGraphStore) Close(ctx context.Context) error { return nil }

func testEntities() []common.Entity {
	return []common.Entity{
		{ID: "ml", Name: "Machine Learning", Type: "concept"},
		{ID: "dl", Name: "Deep Learning", Type: "concept"},
		{ID: "nn", Name: "Neural Networks", Type: "concept"},
		{ID: "go", Name: "Go", Type: "technology"},
	}
}

func TestMatchExactName(t *testing.T) {
	fake := newFakeGraphStore(testEntities(), nil)
	m := NewEntityMatcher(fake, NewQueryBuilder(), MatcherConfig{})

	matches, degraded := m.Match(context.Background(), []string{"machine learning"}, "")
	if degraded {
		t.Fatalf("unexpected degradation")
	}
	if len(matches) != 1 {
		t.Fatalf("unexpected match count: got %d, want 1", len(matches))
	}
	if matches[0].Entity.ID != "ml" {
		t.Fatalf("unexpected entity: got %q, want %q", matches[0].Entity.ID, "ml")
	}
	if matches[0].Score < 0.99 {
		t.Fatalf("exact name must score ~1.0, got %v", matches[0].Score)
	}
}

func TestMatchFuzzyName(t *testing.T) {
	fake := newFakeGraphStore(testEntities(), nil)
	m := NewEntityMatcher(fake, NewQueryBuilder(), MatcherConfig{})

	matches, _ := m.Match(context.Background(), []string{"machne learning"}, "")
	if len(matches) != 1 || matches[0].Entity.ID != "ml" {
		t.Fatalf("typo mention must resolve to the closest entity, got %v", matches)
	}
	if matches[0].Score >= 1 {
		t.Fatalf("fuzzy match must score below exact, got %v", matches[0].Score)
	}
}

func TestMatchBelowThreshold(t *testing.T) {
	fake := newFakeGraphStore(testEntities(), nil)
	m := NewEntityMatcher(fake, NewQueryBuilder(), MatcherConfig{})

	matches, degraded := m.Match(context.Background(), []string{"quantum chromodynamics"}, "")
	if degraded {
		t.Fatalf("unexpected degradation")
	}
	if len(matches) != 0 {
		t.Fatalf("dissimilar mention must not match, got %v", matches)
	}
}

func TestMatchNoMentions(t *testing.T) {
	fake := newFakeGraphStore(testEntities(), nil)
	m := NewEntityMatcher(fake, NewQueryBuilder(), MatcherConfig{})

	matches, degraded := m.Match(context.Background(), nil, "")
	if matches != nil || degraded {
		t.Fatalf("no mentions must mean no work: got %v, degraded=%v", matches, degraded)
	}
	if fake.calls != 0 {
		t.Fatalf("no mentions must not hit the store, got %d calls", fake.calls)
	}
}

func TestMatchDegradedStore(t *testing.T) {
	fake := newFakeGraphStore(testEntities(), nil)
	fake.failAfter = 0
	m := NewEntityMatcher(fake, NewQueryBuilder(), MatcherConfig{})

	matches, degraded := m.Match(context.Background(), []string{"machine learning"}, "")
	if !degraded {
		t.Fatalf("store failure must report degradation")
	}
	if len(matches) != 0 {
		t.Fatalf("degraded match must be empty, got %v", matches)
	}
}

func TestMatchDisambiguatesByDegree(t *testing.T) {
	entities := []common.Entity{
		{ID: "python-lang", Name: "Python", Type: "technology"},
		{ID: "python-snake", Name: "Python", Type: "animal"},
		{ID: "web", Name: "Web Development", Type: "concept"},
		{ID: "data", Name: "Data Science", Type: "concept"},
	}
	rels := []common.Relationship{
		{ID: "r1", SourceID: "python-lang", TargetID: "web", Type: "USED_FOR"},
		{ID: "r2", SourceID: "python-lang", TargetID: "data", Type: "USED_FOR"},
	}
	fake := newFakeGraphStore(entities, rels)
	m := NewEntityMatcher(fake, NewQueryBuilder(), MatcherConfig{})

	matches, _ := m.Match(context.Background(), []string{"Python"}, "what can I build with Python")
	if len(matches) == 0 {
		t.Fatalf("expected a match")
	}
	if matches[0].Entity.ID != "python-lang" {
		t.Fatalf("higher-degree entity must win the tie, got %q", matches[0].Entity.ID)
	}
}

func TestCandidateNames(t *testing.T) {
	entities := append(testEntities(), common.Entity{ID: "ml2", Name: "Machine Learning"})
	fake := newFakeGraphStore(entities, nil)
	m := NewEntityMatcher(fake, NewQueryBuilder(), MatcherConfig{})

	names, err := m.CandidateNames(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(names) != 4 {
		t.Fatalf("duplicate names must collapse: got %d, want 4", len(names))
	}
}
