package query

import (
	"testing"
)

func mentionTexts(mentions []Mention) map[string]string {
	out := make(map[string]string, len(mentions))
	for _, m := range mentions {
		out[m.Text] = m.Pattern
	}
	return out
}

func TestGenericExtractorLowercaseNounPhrase(t *testing.T) {
	e := NewGenericExtractor()

	mentions := e.Extract("What is machine learning?")
	if len(mentions) != 1 {
		t.Fatalf("unexpected mention count: got %d (%v), want 1", len(mentions), mentions)
	}
	if mentions[0].Text != "machine learning" {
		t.Fatalf("unexpected mention: got %q, want %q", mentions[0].Text, "machine learning")
	}
	if mentions[0].Pattern != "noun_phrase" {
		t.Fatalf("unexpected provenance: got %q", mentions[0].Pattern)
	}
}

func TestGenericExtractorRelationalQuestion(t *testing.T) {
	e := NewGenericExtractor()

	mentions := e.Extract("How are neural networks related to deep learning?")
	got := mentionTexts(mentions)
	for _, want := range []string{"neural networks", "deep learning"} {
		if _, ok := got[want]; !ok {
			t.Fatalf("mention %q missing, got %v", want, got)
		}
	}
	if len(mentions) != 2 {
		t.Fatalf("unexpected mention count: got %d (%v), want 2", len(mentions), mentions)
	}
}

func TestGenericExtractorCapitalizedAndQuoted(t *testing.T) {
	e := NewGenericExtractor()

	tests := []struct {
		name     string
		question string
		want     string
		pattern  string
	}{
		{
			name:     "capitalized phrase",
			question: "Who maintains Apache Kafka these days?",
			want:     "Apache Kafka",
			pattern:  "capitalized_phrase",
		},
		{
			name:     "quoted phrase",
			question: `Explain "retrieval augmented generation" briefly`,
			want:     "retrieval augmented generation",
			pattern:  "quoted_phrase",
		},
		{
			name:     "question word not a mention",
			question: "What is Kubernetes?",
			want:     "Kubernetes",
			pattern:  "capitalized_phrase",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mentions := e.Extract(tt.question)
			got := mentionTexts(mentions)
			pattern, ok := got[tt.want]
			if !ok {
				t.Fatalf("mention %q missing, got %v", tt.want, got)
			}
			if pattern != tt.pattern {
				t.Fatalf("unexpected provenance for %q: got %q, want %q", tt.want, pattern, tt.pattern)
			}
			if _, ok := got["What"]; ok {
				t.Fatalf("question words must never become mentions: %v", got)
			}
		})
	}
}

func TestGenericExtractorDeduplicatesContained(t *testing.T) {
	e := NewGenericExtractor()

	mentions := e.Extract("What is Deep Learning?")
	if len(mentions) != 1 {
		t.Fatalf("contained spans must collapse into one mention, got %v", mentions)
	}
	if mentions[0].Text != "Deep Learning" {
		t.Fatalf("unexpected mention: got %q", mentions[0].Text)
	}
}

func TestDomainExtractorTechnicalDocumentation(t *testing.T) {
	e := NewDomainExtractor("technical_documentation")

	tests := []struct {
		name     string
		question string
		want     string
		pattern  string
	}{
		{
			name:     "file name",
			question: "Where is the retry count in config.yaml defined?",
			want:     "config.yaml",
			pattern:  "file_name",
		},
		{
			name:     "snake case identifier",
			question: "what does max_retries control",
			want:     "max_retries",
			pattern:  "code_identifier",
		},
		{
			name:     "environment variable",
			question: "Is DATABASE_URL required at startup?",
			want:     "DATABASE_URL",
			pattern:  "env_var",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := mentionTexts(e.Extract(tt.question))
			pattern, ok := got[tt.want]
			if !ok {
				t.Fatalf("mention %q missing, got %v", tt.want, got)
			}
			if pattern != tt.pattern {
				t.Fatalf("unexpected provenance for %q: got %q, want %q", tt.want, pattern, tt.pattern)
			}
		})
	}
}

func TestDomainExtractorUnknownDomainFallsBack(t *testing.T) {
	e := NewDomainExtractor("no_such_domain")

	mentions := e.Extract("What is machine learning?")
	if len(mentions) != 1 || mentions[0].Text != "machine learning" {
		t.Fatalf("unknown domain must behave like the generic extractor, got %v", mentions)
	}
}

func TestNewExtractorSelection(t *testing.T) {
	if _, ok := NewExtractor("").(*GenericExtractor); !ok {
		t.Fatalf("empty domain must select the generic extractor")
	}
	if _, ok := NewExtractor("research_papers").(*DomainExtractor); !ok {
		t.Fatalf("named domain must select the domain extractor")
	}
}
