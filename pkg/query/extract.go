package query

import (
	"regexp"
	"strings"

	"github.com/cartographai/atlas/internal/util"
)

// Mention is a candidate entity reference found in the question text,
// tagged with the pattern that produced it.
type Mention struct {
	Text    string `json:"text"`
	Pattern string `json:"pattern"`
}

// EntityExtractor pulls candidate entity mentions out of a question.
// Implementations must be safe for concurrent use.
type EntityExtractor interface {
	Extract(question string) []Mention
}

var (
	capitalizedPhraseRe = regexp.MustCompile(`\b[A-Z][a-zA-Z0-9+#.-]*(?:\s+[A-Z][a-zA-Z0-9+#.-]*)*\b`)
	quotedPhraseRe      = regexp.MustCompile(`"([^"]{2,64})"|'([^']{2,64})'`)
	acronymRe           = regexp.MustCompile(`\b[A-Z]{2,8}[0-9]*\b`)
)

// Leading interrogative scaffolding stripped before noun-phrase recovery.
var questionPrefixes = []string{
	"what is the difference between", "what is the relationship between",
	"how does", "how do", "how are", "how is", "what are", "what is",
	"what was", "what were", "who is", "who are", "where is", "where are",
	"when did", "when was", "why does", "why do", "why is", "why are",
	"explain", "describe", "define", "tell me about", "compare",
}

// Phrases that separate two entity mentions in a relational question.
var mentionSplitters = []string{
	" related to ", " relate to ", " relates to ", " compared to ",
	" compared with ", " versus ", " vs ", " connected to ", " linked to ",
	" associated with ", " depend on ", " depends on ", " differ from ",
	" and ", " or ",
}

var mentionStopwords = map[string]struct{}{
	"the": {}, "a": {}, "an": {}, "of": {}, "in": {}, "on": {}, "for": {},
	"to": {}, "by": {}, "with": {}, "about": {}, "between": {}, "their": {},
	"its": {}, "this": {}, "that": {}, "these": {}, "those": {}, "it": {},
	"they": {}, "is": {}, "are": {}, "was": {}, "were": {}, "do": {},
	"does": {}, "did": {}, "can": {}, "could": {}, "would": {}, "should": {},
	"what": {}, "how": {}, "why": {}, "who": {}, "where": {}, "when": {},
	"which": {}, "there": {}, "used": {}, "using": {}, "use": {},
	"explain": {}, "describe": {}, "define": {}, "compare": {}, "tell": {},
	"me": {}, "list": {}, "show": {},
	"main": {}, "some": {}, "many": {}, "most": {}, "all": {}, "any": {},
}

// GenericExtractor finds mentions with domain-agnostic heuristics:
// capitalized phrases, quoted spans, acronyms, and a noun-phrase recovery
// pass that strips the interrogative prefix and splits on relational
// connectives. Works on questions where nothing is capitalized, e.g.
// "what is machine learning" still yields "machine learning".
type GenericExtractor struct{}

// NewGenericExtractor returns the default extractor.
func NewGenericExtractor() *GenericExtractor {
	return &GenericExtractor{}
}

// Extract returns deduplicated mentions in discovery order.
func (e *GenericExtractor) Extract(question string) []Mention {
	var mentions []Mention

	for _, m := range quotedPhraseRe.FindAllStringSubmatch(question, -1) {
		text := m[1]
		if text == "" {
			text = m[2]
		}
		mentions = appendMention(mentions, text, "quoted_phrase")
	}
	for _, m := range capitalizedPhraseRe.FindAllString(question, -1) {
		if isQuestionWord(m) {
			continue
		}
		mentions = appendMention(mentions, m, "capitalized_phrase")
	}
	for _, m := range acronymRe.FindAllString(question, -1) {
		mentions = appendMention(mentions, m, "acronym")
	}

	for _, span := range nounPhraseSpans(question) {
		mentions = appendMention(mentions, span, "noun_phrase")
	}
	return mentions
}

// nounPhraseSpans strips the question prefix, splits the remainder on
// relational connectives, and trims stopwords off both ends of each span.
func nounPhraseSpans(question string) []string {
	text := strings.ToLower(strings.TrimSpace(question))
	text = strings.TrimRight(text, "?!. ")
	for _, prefix := range questionPrefixes {
		if strings.HasPrefix(text, prefix+" ") {
			text = strings.TrimPrefix(text, prefix+" ")
			break
		}
	}

	parts := []string{text}
	for _, sep := range mentionSplitters {
		var next []string
		for _, p := range parts {
			next = append(next, strings.Split(p, sep)...)
		}
		parts = next
	}

	var spans []string
	for _, p := range parts {
		span := trimStopwords(p)
		words := strings.Fields(span)
		if len(words) == 0 || len(words) > 5 {
			continue
		}
		spans = append(spans, span)
	}
	return spans
}

func trimStopwords(s string) string {
	words := strings.Fields(strings.TrimSpace(s))
	for len(words) > 0 {
		if _, ok := mentionStopwords[words[0]]; !ok {
			break
		}
		words = words[1:]
	}
	for len(words) > 0 {
		if _, ok := mentionStopwords[words[len(words)-1]]; !ok {
			break
		}
		words = words[:len(words)-1]
	}
	return strings.Join(words, " ")
}

func isQuestionWord(s string) bool {
	_, ok := mentionStopwords[strings.ToLower(s)]
	return ok
}

func appendMention(mentions []Mention, text, pattern string) []Mention {
	text = strings.TrimSpace(text)
	if text == "" {
		return mentions
	}
	norm := util.NormalizeText(text)
	if norm == "" {
		return mentions
	}
	for _, existing := range mentions {
		have := util.NormalizeText(existing.Text)
		if have == norm || strings.Contains(have, norm) {
			return mentions
		}
	}
	return append(mentions, Mention{Text: text, Pattern: pattern})
}

// DomainExtractor layers named regex packs for a specific corpus domain on
// top of the generic heuristics. Unknown domains degrade to generic-only.
type DomainExtractor struct {
	generic  *GenericExtractor
	patterns []domainPattern
}

type domainPattern struct {
	name string
	re   *regexp.Regexp
}

var domainPatternPacks = map[string][]domainPattern{
	"technical_documentation": {
		{"code_identifier", regexp.MustCompile(`\b[a-z]+[A-Z][a-zA-Z0-9]*\b|\b[a-z][a-z0-9]*(?:_[a-z0-9]+)+\b`)},
		{"file_name", regexp.MustCompile(`\b[\w./-]+\.(?:go|py|js|ts|json|ya?ml|toml|proto|sql|md)\b`)},
		{"api_endpoint", regexp.MustCompile(`/(?:api|v\d+)(?:/[\w{}-]+)+`)},
		{"version", regexp.MustCompile(`\bv?\d+\.\d+(?:\.\d+)?\b`)},
		{"env_var", regexp.MustCompile(`\b[A-Z][A-Z0-9]*(?:_[A-Z0-9]+)+\b`)},
	},
	"research_papers": {
		{"cited_work", regexp.MustCompile(`\b[A-Z][a-z]+ et al\.(?:,? \(?\d{4}\)?)?`)},
		{"metric", regexp.MustCompile(`(?i)\b(?:F1(?:[ -]score)?|BLEU|ROUGE(?:-[LN12])?|perplexity|precision|recall|accuracy|AUC|MRR|NDCG)\b`)},
		{"model_name", regexp.MustCompile(`\b[A-Z][a-zA-Z]*-?(?:Net|BERT|GPT|Former|LM)[a-zA-Z0-9-]*\b`)},
		{"dataset", regexp.MustCompile(`\b[A-Z][a-zA-Z]*(?:QA|NLI|Bank|Corpus|Benchmark)\b`)},
	},
}

// NewDomainExtractor builds an extractor for one of the built-in domain
// packs. An empty or unrecognized domain yields generic extraction only.
func NewDomainExtractor(domain string) *DomainExtractor {
	return &DomainExtractor{
		generic:  NewGenericExtractor(),
		patterns: domainPatternPacks[domain],
	}
}

// Extract runs the domain packs first so their provenance wins on overlap,
// then folds in the generic heuristics.
func (e *DomainExtractor) Extract(question string) []Mention {
	var mentions []Mention
	for _, p := range e.patterns {
		for _, m := range p.re.FindAllString(question, -1) {
			mentions = appendMention(mentions, m, p.name)
		}
	}
	for _, m := range e.generic.Extract(question) {
		mentions = appendMention(mentions, m.Text, m.Pattern)
	}
	return mentions
}

// NewExtractor selects the extractor for a configured domain; empty means
// generic.
func NewExtractor(domain string) EntityExtractor {
	if domain == "" {
		return NewGenericExtractor()
	}
	return NewDomainExtractor(domain)
}
