package chunker

import (
	"regexp"
	"strings"
)

// SectionKind tags a chunk with the part of a tribunal decision it came
// from. The kind is stored on the chunk row; the reranker does not read it.
type SectionKind string

const (
	KindBackground SectionKind = "background"
	KindFacts      SectionKind = "facts"
	KindReasoning  SectionKind = "reasoning"
	KindDecision   SectionKind = "decision"
	KindOther      SectionKind = "other"
)

// sectionKindPatterns maps heading regular expressions to the section kind
// they indicate. Patterns are anchored at the start of the heading and the
// first match wins, so "REASONS FOR DECISION" matches only the reasoning
// pattern.
var sectionKindPatterns = []struct {
	pattern *regexp.Regexp
	kind    SectionKind
}{
	{regexp.MustCompile(`(?i)^(background|introduction|the application|preliminary matters)\b`), KindBackground},
	{regexp.MustCompile(`(?i)^(the facts|findings? of fact|evidence)\b`), KindFacts},
	{regexp.MustCompile(`(?i)^(decision|determination|order|outcome)\b`), KindDecision},
	{regexp.MustCompile(`(?i)^(reasons?( for (the )?decision)?|discussion|the law|conclusions?)\b`), KindReasoning},
}

// ClassifySectionKind maps a section heading to the legal section kind it
// belongs to. An empty or unrecognised heading classifies as
// KindOther rather than guessing.
func ClassifySectionKind(heading string) SectionKind {
	heading = strings.TrimSpace(heading)
	if heading == "" {
		return KindOther
	}
	for _, p := range sectionKindPatterns {
		if p.pattern.MatchString(heading) {
			return p.kind
		}
	}
	return KindOther
}

// headingPatterns recognise heading-style lines within tribunal decisions:
// uppercase titles, numbered headings, and named sections.
var headingPatterns = []*regexp.Regexp{
	regexp.MustCompile(`^[A-Z][A-Z\s]{4,}$`),
	regexp.MustCompile(`^\s*(\d+\.)+(\d+)?\s+\S`),
	regexp.MustCompile(`(?i)^(background|introduction|the facts|findings? of fact|evidence|the law|reasons?|discussion|conclusions?|decision|determination|order|outcome)\b`),
}

// IsHeading reports whether a line of text looks like a section heading.
func IsHeading(line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	for _, re := range headingPatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}
