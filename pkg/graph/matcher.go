package graph

import (
	"context"
	"sort"
	"strings"

	"github.com/cartographai/atlas/internal/util"
	"github.com/cartographai/atlas/pkg/common"
	"github.com/cartographai/atlas/pkg/logger"
	"github.com/cartographai/atlas/pkg/store"
)

// EntityMatch pairs a matched graph entity with its similarity score for
// one query mention.
type EntityMatch struct {
	Entity  common.Entity
	Mention string
	Score   float64
}

// MatcherConfig holds the tunables for fuzzy entity matching. The
// similarity threshold and blend weights are heuristics; expose them as
// configuration rather than trusting any particular literal.
type MatcherConfig struct {
	// SimilarityThreshold is the minimum blended score a candidate must
	// reach to be retained. Default 0.6.
	SimilarityThreshold float64
	// OverlapWeight balances token overlap against edit distance in the
	// blended score. Default 0.5.
	OverlapWeight float64
	// InventoryLimit caps how many entity names are fetched for scoring.
	InventoryLimit int
}

func (c MatcherConfig) normalized() MatcherConfig {
	if c.SimilarityThreshold <= 0 {
		c.SimilarityThreshold = 0.6
	}
	if c.OverlapWeight <= 0 || c.OverlapWeight > 1 {
		c.OverlapWeight = 0.5
	}
	if c.InventoryLimit <= 0 {
		c.InventoryLimit = 5000
	}
	return c
}

// EntityMatcher resolves free-text mentions to ranked graph entities using
// fuzzy name matching against the graph store's entity inventory.
type EntityMatcher struct {
	graphStore store.GraphStore
	builder    *QueryBuilder
	config     MatcherConfig
}

// NewEntityMatcher creates a matcher over the given graph store.
func NewEntityMatcher(graphStore store.GraphStore, builder *QueryBuilder, config MatcherConfig) *EntityMatcher {
	return &EntityMatcher{
		graphStore: graphStore,
		builder:    builder,
		config:     config.normalized(),
	}
}

// Match resolves mention spans to graph entities. queryContext is the full
// question text, used for type-based disambiguation.
//
// An unreachable graph store is not an error here: Match returns an empty
// list with degraded=true and the caller must fall back to a vector
// strategy.
func (m *EntityMatcher) Match(
	ctx context.Context,
	mentions []string,
	queryContext string,
) (matches []EntityMatch, degraded bool) {
	if len(mentions) == 0 {
		return nil, false
	}

	records, err := m.graphStore.Run(ctx, m.builder.EntityInventory(m.config.InventoryLimit))
	if err != nil {
		logger.Warn("[Matcher] Entity inventory unavailable", "err", err)
		return nil, true
	}
	if len(records.Entities) == 0 {
		return nil, false
	}

	impliedType := impliedEntityType(queryContext)

	best := make(map[string]EntityMatch)
	for _, mention := range mentions {
		candidates := m.scoreMention(mention, records.Entities)
		if len(candidates) == 0 {
			continue
		}
		m.disambiguate(ctx, mention, impliedType, candidates)

		top := candidates[0]
		if existing, ok := best[top.Entity.ID]; !ok || top.Score > existing.Score {
			best[top.Entity.ID] = top
		}
	}

	matches = make([]EntityMatch, 0, len(best))
	for _, match := range best {
		matches = append(matches, match)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Entity.Name < matches[j].Entity.Name
	})
	return matches, false
}

// CandidateNames lists distinct entity names from the graph store, used as
// candidates for model-assisted intent resolution when heuristic extraction
// finds nothing.
func (m *EntityMatcher) CandidateNames(ctx context.Context, limit int) ([]string, error) {
	if limit <= 0 || limit > m.config.InventoryLimit {
		limit = m.config.InventoryLimit
	}
	records, err := m.graphStore.Run(ctx, m.builder.EntityInventory(limit))
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(records.Entities))
	seen := make(map[string]struct{}, len(records.Entities))
	for _, entity := range records.Entities {
		if _, ok := seen[entity.Name]; ok || entity.Name == "" {
			continue
		}
		seen[entity.Name] = struct{}{}
		names = append(names, entity.Name)
	}
	return names, nil
}

// scoreMention returns all candidates at or above the similarity threshold,
// sorted best-first by blended score.
func (m *EntityMatcher) scoreMention(mention string, entities []common.Entity) []EntityMatch {
	w := m.config.OverlapWeight
	candidates := make([]EntityMatch, 0, 4)
	for _, entity := range entities {
		overlap := util.OverlapRatio(mention, entity.Name)
		edit := util.LevenshteinRatio(mention, entity.Name)
		score := w*overlap + (1-w)*edit
		if score < m.config.SimilarityThreshold {
			continue
		}
		candidates = append(candidates, EntityMatch{
			Entity:  entity,
			Mention: mention,
			Score:   score,
		})
	}
	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].Score > candidates[j].Score
	})
	return candidates
}

const scoreTieEpsilon = 1e-6

// disambiguate reorders score-tied leading candidates in place: exact
// case-insensitive match first, then higher relationship degree, then an
// entity type matching the type the query context implies.
func (m *EntityMatcher) disambiguate(
	ctx context.Context,
	mention string,
	impliedType string,
	candidates []EntityMatch,
) {
	tied := 1
	for tied < len(candidates) && candidates[0].Score-candidates[tied].Score < scoreTieEpsilon {
		tied++
	}
	if tied < 2 {
		return
	}

	group := candidates[:tied]
	m.fillDegrees(ctx, group)

	mentionLower := strings.ToLower(strings.TrimSpace(mention))
	sort.SliceStable(group, func(i, j int) bool {
		exactI := strings.ToLower(group[i].Entity.Name) == mentionLower
		exactJ := strings.ToLower(group[j].Entity.Name) == mentionLower
		if exactI != exactJ {
			return exactI
		}
		if group[i].Entity.Degree != group[j].Entity.Degree {
			return group[i].Entity.Degree > group[j].Entity.Degree
		}
		if impliedType != "" {
			typeI := group[i].Entity.Type == impliedType
			typeJ := group[j].Entity.Type == impliedType
			if typeI != typeJ {
				return typeI
			}
		}
		return false
	})
}

// fillDegrees fetches relationship degrees for candidates that lack one.
// Failure here only weakens disambiguation, never the match itself.
func (m *EntityMatcher) fillDegrees(ctx context.Context, group []EntityMatch) {
	missing := make([]string, 0, len(group))
	for _, c := range group {
		if c.Entity.Degree == 0 {
			missing = append(missing, c.Entity.ID)
		}
	}
	if len(missing) == 0 {
		return
	}

	records, err := m.graphStore.Run(ctx, m.builder.EntityEdges(missing, 0))
	if err != nil {
		logger.Debug("[Matcher] Degree lookup failed", "err", err)
		return
	}

	counts := make(map[string]int)
	for _, rel := range records.Relationships {
		counts[rel.SourceID]++
		counts[rel.TargetID]++
	}
	for i := range group {
		if group[i].Entity.Degree == 0 {
			group[i].Entity.Degree = counts[group[i].Entity.ID]
		}
	}
}

// impliedEntityType maps cue words in the question to an entity type tag.
// The type set is open; this only covers the common tags.
func impliedEntityType(queryContext string) string {
	lowered := strings.ToLower(queryContext)
	switch {
	case strings.HasPrefix(lowered, "who ") || strings.Contains(lowered, "person"):
		return "person"
	case strings.Contains(lowered, "technology") || strings.Contains(lowered, "framework") ||
		strings.Contains(lowered, "library") || strings.Contains(lowered, "tool"):
		return "technology"
	case strings.Contains(lowered, "document") || strings.Contains(lowered, "paper") ||
		strings.Contains(lowered, "article"):
		return "document"
	case strings.Contains(lowered, "concept") || strings.Contains(lowered, "idea"):
		return "concept"
	default:
		return ""
	}
}
