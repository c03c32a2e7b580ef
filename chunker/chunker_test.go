package chunker

import (
	"strings"
	"testing"

	"github.com/ukdeposit/tribunalengine/parser"
)

func TestClassifySectionKind(t *testing.T) {
	cases := map[string]SectionKind{
		"BACKGROUND":            KindBackground,
		"Introduction":          KindBackground,
		"The Facts":             KindFacts,
		"Findings of Fact":      KindFacts,
		"Reasons for Decision":  KindReasoning,
		"The Law":               KindReasoning,
		"DECISION":              KindDecision,
		"Order":                 KindDecision,
		"Appendix: Photographs": KindOther,
		"":                      KindOther,
	}
	for heading, want := range cases {
		if got := ClassifySectionKind(heading); got != want {
			t.Errorf("ClassifySectionKind(%q) = %s, want %s", heading, got, want)
		}
	}
}

func TestChunkNeverCrossesSectionBoundary(t *testing.T) {
	sections := []parser.Section{
		{Heading: "Background", Content: "The tenancy began on 1 March 2019 and ended on 1 March 2021."},
		{Heading: "Decision", Content: "The claim succeeds in the sum of £400."},
	}
	c := New(Config{MaxTokens: 500, Overlap: 50})
	chunks := c.Chunk(sections)

	if len(chunks) != 2 {
		t.Fatalf("expected one chunk per section, got %d", len(chunks))
	}
	if chunks[0].SectionKind != string(KindBackground) || chunks[1].SectionKind != string(KindDecision) {
		t.Fatalf("unexpected section kinds: %s, %s", chunks[0].SectionKind, chunks[1].SectionKind)
	}
	if strings.Contains(chunks[0].Content, "claim succeeds") {
		t.Fatal("background chunk leaked decision content")
	}
}

func TestChunkSplitsLongSectionRespectingMaxTokens(t *testing.T) {
	var long strings.Builder
	for i := 0; i < 400; i++ {
		long.WriteString("The tribunal carefully considered the evidence submitted. ")
	}
	sections := []parser.Section{{Heading: "Reasons", Content: long.String()}}

	c := New(Config{MaxTokens: 100, Overlap: 20})
	chunks := c.Chunk(sections)

	if len(chunks) < 2 {
		t.Fatalf("expected the long section to split into multiple chunks, got %d", len(chunks))
	}
	for _, ch := range chunks {
		if ch.SectionKind != string(KindReasoning) {
			t.Errorf("expected all fragments to retain section kind %s, got %s", KindReasoning, ch.SectionKind)
		}
		if estimateTokens(ch.Content) > 130 {
			t.Errorf("chunk exceeds token bound by more than overlap allowance: %d tokens", estimateTokens(ch.Content))
		}
	}
}

func TestChunkOverlapSharesTrailingText(t *testing.T) {
	var long strings.Builder
	for i := 0; i < 200; i++ {
		long.WriteString("Paragraph about the deposit deduction and evidence provided.\n\n")
	}
	sections := []parser.Section{{Heading: "Facts", Content: long.String()}}

	c := New(Config{MaxTokens: 80, Overlap: 30})
	chunks := c.Chunk(sections)
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}
	if want := extractOverlap(chunks[0].Content, 30); !strings.HasPrefix(chunks[1].Content, want) {
		t.Fatalf("expected second chunk to start with the trailing overlap %q, got %q", want, chunks[1].Content)
	}
}

func TestChunkIDsArePositionOrdered(t *testing.T) {
	sections := []parser.Section{
		{Heading: "Background", Content: "Short background."},
		{Heading: "Facts", Content: "Short facts."},
		{Heading: "Decision", Content: "Short decision."},
	}
	c := New(Config{})
	chunks := c.Chunk(sections)
	for i, ch := range chunks {
		if ch.PositionInDoc != i {
			t.Errorf("chunk %d has PositionInDoc=%d", i, ch.PositionInDoc)
		}
	}
}
