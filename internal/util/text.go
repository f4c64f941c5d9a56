package util

import (
	"strings"
	"unicode"
)

// NormalizeText lowercases the input, strips punctuation, and collapses
// whitespace. Used as the canonical form for embedding cache keys and for
// name matching, so the same question phrased with different casing or
// punctuation hits the same cache entry.
func NormalizeText(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToLower(r))
		case unicode.IsSpace(r):
			b.WriteRune(' ')
		default:
			// punctuation becomes a separator so "graph-based" and
			// "graph based" normalize identically
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Tokenize splits text into normalized word tokens.
func Tokenize(s string) []string {
	normalized := NormalizeText(s)
	if normalized == "" {
		return nil
	}
	return strings.Fields(normalized)
}

// OverlapRatio returns the Jaccard overlap of the normalized token sets of
// a and b, in [0,1].
func OverlapRatio(a, b string) float64 {
	ta := Tokenize(a)
	tb := Tokenize(b)
	if len(ta) == 0 || len(tb) == 0 {
		return 0
	}

	setA := make(map[string]struct{}, len(ta))
	for _, t := range ta {
		setA[t] = struct{}{}
	}
	setB := make(map[string]struct{}, len(tb))
	for _, t := range tb {
		setB[t] = struct{}{}
	}

	intersection := 0
	for t := range setA {
		if _, ok := setB[t]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}

// LevenshteinRatio returns a normalized edit-distance similarity between the
// normalized forms of a and b: 1.0 for identical strings, 0.0 for fully
// dissimilar ones.
func LevenshteinRatio(a, b string) float64 {
	ra := []rune(NormalizeText(a))
	rb := []rune(NormalizeText(b))
	if len(ra) == 0 && len(rb) == 0 {
		return 1
	}
	if len(ra) == 0 || len(rb) == 0 {
		return 0
	}

	prev := make([]int, len(rb)+1)
	curr := make([]int, len(rb)+1)
	for j := 0; j <= len(rb); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(ra); i++ {
		curr[0] = i
		for j := 1; j <= len(rb); j++ {
			cost := 1
			if ra[i-1] == rb[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}

	dist := prev[len(rb)]
	longest := max(len(ra), len(rb))
	return 1 - float64(dist)/float64(longest)
}

// TruncateRunes shortens s to at most n runes, appending an ellipsis when
// truncation happened.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
