package graph

import (
	"errors"
	"strings"
	"testing"

	"github.com/cartographai/atlas/pkg/common"
)

func TestNeighborHopDirections(t *testing.T) {
	b := NewQueryBuilder()

	tests := []struct {
		name      string
		direction Direction
		wantArrow string
	}{
		{
			name:      "outgoing",
			direction: DirectionOutgoing,
			wantArrow: "-[r]->",
		},
		{
			name:      "incoming",
			direction: DirectionIncoming,
			wantArrow: "<-[r]-",
		},
		{
			name:      "both",
			direction: DirectionBoth,
			wantArrow: "-[r]-",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, err := b.NeighborHop([]string{"a"}, nil, tt.direction, 10)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(query.Text, tt.wantArrow) {
				t.Fatalf("query %q missing pattern %q", query.Text, tt.wantArrow)
			}
		})
	}
}

func TestNeighborHopBindsIDsAsParameters(t *testing.T) {
	b := NewQueryBuilder()
	ids := []string{"machine-learning", "deep'); DETACH DELETE (n"}

	query, err := b.NeighborHop(ids, nil, DirectionBoth, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for _, id := range ids {
		if strings.Contains(query.Text, id) {
			t.Fatalf("entity ID spliced into query text: %q", query.Text)
		}
	}
	bound, ok := query.Params["ids"].([]string)
	if !ok || len(bound) != len(ids) {
		t.Fatalf("ids must travel as a bound parameter, got %v", query.Params["ids"])
	}
}

func TestNeighborHopRelTypeFilter(t *testing.T) {
	b := NewQueryBuilder()

	tests := []struct {
		name     string
		relTypes []string
		want     string
		wantErr  bool
	}{
		{
			name:     "single label",
			relTypes: []string{"RELATED_TO"},
			want:     "[r:RELATED_TO]",
		},
		{
			name:     "multiple labels",
			relTypes: []string{"CONTAINS", "IS_A"},
			want:     "[r:CONTAINS|IS_A]",
		},
		{
			name:     "lowercase is normalized",
			relTypes: []string{"contains"},
			want:     "[r:CONTAINS]",
		},
		{
			name:     "injection shaped label rejected",
			relTypes: []string{"X]->() DETACH DELETE (n"},
			wantErr:  true,
		},
		{
			name:     "empty label rejected",
			relTypes: []string{""},
			wantErr:  true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, err := b.NeighborHop([]string{"a"}, tt.relTypes, DirectionBoth, 10)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for rel types %v", tt.relTypes)
				}
				var confErr *common.ConfigurationError
				if !errors.As(err, &confErr) {
					t.Fatalf("unexpected error type: %T", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(query.Text, tt.want) {
				t.Fatalf("query %q missing %q", query.Text, tt.want)
			}
		})
	}
}

func TestPathsBetween(t *testing.T) {
	b := NewQueryBuilder()

	query, err := b.PathsBetween("a", "b", 3, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(query.Text, "allShortestPaths") {
		t.Fatalf("expected shortest-path query, got %q", query.Text)
	}
	if !strings.Contains(query.Text, "[*..3]") {
		t.Fatalf("depth bound missing from %q", query.Text)
	}
	if query.Params["a"] != "a" || query.Params["b"] != "b" {
		t.Fatalf("endpoint IDs must be bound parameters, got %v", query.Params)
	}
}

func TestPathsBetweenClampsDepth(t *testing.T) {
	b := NewQueryBuilder()

	query, err := b.PathsBetween("a", "b", 40, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(query.Text, "[*..5]") {
		t.Fatalf("depth must clamp to the ceiling, got %q", query.Text)
	}

	if _, err := b.PathsBetween("a", "b", 0, 10); err == nil {
		t.Fatalf("expected error for non-positive depth")
	}
}

func TestMergeRelationship(t *testing.T) {
	b := NewQueryBuilder()

	tests := []struct {
		name    string
		relType string
		want    string
		wantErr bool
	}{
		{
			name:    "valid label",
			relType: "CONTAINS",
			want:    "[r:CONTAINS]",
		},
		{
			name:    "empty defaults",
			relType: "",
			want:    "[r:RELATED_TO]",
		},
		{
			name:    "invalid label rejected",
			relType: "has space",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, err := b.MergeRelationship(common.Relationship{
				SourceID: "a",
				TargetID: "b",
				Type:     tt.relType,
				Strength: 0.8,
			})
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for type %q", tt.relType)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !strings.Contains(query.Text, tt.want) {
				t.Fatalf("query %q missing %q", query.Text, tt.want)
			}
			if !strings.Contains(query.Text, "MATCH (a:Entity {id: $source}), (b:Entity {id: $target})") {
				t.Fatalf("merge must match both endpoints, got %q", query.Text)
			}
			if !strings.Contains(query.Text, "r.id = $id, r.source_id = $source, r.target_id = $target") {
				t.Fatalf("merge must persist edge identity, got %q", query.Text)
			}
		})
	}
}

func TestMergeRelationshipEdgeID(t *testing.T) {
	b := NewQueryBuilder()

	query, err := b.MergeRelationship(common.Relationship{
		SourceID: "deep-learning",
		TargetID: "machine-learning",
		Type:     "is_a",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := query.Params["id"]; got != "deep-learning:IS_A:machine-learning" {
		t.Fatalf("unexpected derived edge ID: %v", got)
	}

	query, err = b.MergeRelationship(common.Relationship{
		ID:       "edge-7",
		SourceID: "a",
		TargetID: "b",
		Type:     "CONTAINS",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := query.Params["id"]; got != "edge-7" {
		t.Fatalf("explicit edge ID must win: got %v", got)
	}
}
