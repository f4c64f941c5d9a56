package util

import (
	"math"
	"testing"
)

func TestNormalizeText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "lowercase passthrough",
			input: "machine learning",
			want:  "machine learning",
		},
		{
			name:  "mixed case and punctuation",
			input: "What is Machine-Learning?",
			want:  "what is machine learning",
		},
		{
			name:  "collapses whitespace",
			input: "  neural \t networks \n ",
			want:  "neural networks",
		},
		{
			name:  "only punctuation",
			input: "?!.",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := NormalizeText(tt.input)
			if got != tt.want {
				t.Fatalf("unexpected normalized text: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestOverlapRatio(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want float64
	}{
		{
			name: "identical",
			a:    "machine learning",
			b:    "machine learning",
			want: 1,
		},
		{
			name: "disjoint",
			a:    "graph traversal",
			b:    "vector search",
			want: 0,
		},
		{
			name: "partial overlap",
			a:    "deep learning",
			b:    "machine learning",
			want: 1.0 / 3.0,
		},
		{
			name: "case insensitive",
			a:    "Machine Learning",
			b:    "machine learning",
			want: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := OverlapRatio(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("unexpected overlap ratio: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLevenshteinRatio(t *testing.T) {
	tests := []struct {
		name string
		a    string
		b    string
		want float64
	}{
		{
			name: "identical",
			a:    "neo4j",
			b:    "neo4j",
			want: 1,
		},
		{
			name: "both empty",
			a:    "",
			b:    "",
			want: 1,
		},
		{
			name: "one empty",
			a:    "graph",
			b:    "",
			want: 0,
		},
		{
			name: "single substitution",
			a:    "graph",
			b:    "grapf",
			want: 0.8,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := LevenshteinRatio(tt.a, tt.b)
			if math.Abs(got-tt.want) > 1e-9 {
				t.Fatalf("unexpected similarity: got %v, want %v", got, tt.want)
			}
		})
	}
}

func TestLevenshteinRatioSymmetric(t *testing.T) {
	a, b := "transformer", "transforner"
	if LevenshteinRatio(a, b) != LevenshteinRatio(b, a) {
		t.Fatalf("similarity must be symmetric")
	}
}

func TestTruncateRunes(t *testing.T) {
	tests := []struct {
		name  string
		input string
		n     int
		want  string
	}{
		{
			name:  "shorter than limit",
			input: "short",
			n:     10,
			want:  "short",
		},
		{
			name:  "truncated",
			input: "abcdefgh",
			n:     4,
			want:  "abcd…",
		},
		{
			name:  "multibyte runes",
			input: "äöüäöü",
			n:     3,
			want:  "äöü…",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TruncateRunes(tt.input, tt.n)
			if got != tt.want {
				t.Fatalf("unexpected truncation: got %q, want %q", got, tt.want)
			}
		})
	}
}
