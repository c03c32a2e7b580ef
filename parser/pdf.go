package parser

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
)

// PDFParser extracts text from First-tier Tribunal decision PDFs.
type PDFParser struct{}

func (p *PDFParser) SupportedFormats() []string { return []string{"pdf"} }

func (p *PDFParser) Parse(ctx context.Context, path string) (*ParseResult, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening PDF: %w", err)
	}
	defer f.Close()

	totalPages := reader.NumPage()
	sections := make([]Section, 0)

	for i := 1; i <= totalPages; i++ {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text, err := extractPageTextOrdered(page)
		if err != nil {
			continue
		}

		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}

		sections = append(sections, splitPageIntoSections(text, i)...)
	}

	sections = fixRunningHeaders(sections, totalPages)

	if len(sections) == 0 {
		return &ParseResult{Method: "native"}, nil
	}

	return &ParseResult{Sections: sections, Method: "native"}, nil
}

// extractPageTextOrdered extracts text from a PDF page sorted by visual
// position (top-to-bottom). The default GetPlainText reads text in PDF
// object order which can differ from visual layout — paragraph headings
// may appear after the body text they label.
func extractPageTextOrdered(page pdf.Page) (string, error) {
	content := page.Content()
	if len(content.Text) == 0 {
		return page.GetPlainText(nil)
	}

	const lineTolerance = 3.0

	type visualLine struct {
		y   float64
		buf strings.Builder
	}

	var lines []*visualLine
	var cur *visualLine

	for _, t := range content.Text {
		if cur == nil || math.Abs(t.Y-cur.y) > lineTolerance {
			lines = append(lines, &visualLine{y: t.Y})
			cur = lines[len(lines)-1]
		}
		cur.buf.WriteString(t.S)
	}

	sort.SliceStable(lines, func(i, j int) bool {
		return lines[i].y > lines[j].y
	})

	var parts []string
	for _, l := range lines {
		text := strings.TrimSpace(l.buf.String())
		if text != "" {
			parts = append(parts, text)
		}
	}

	result := strings.Join(parts, "\n")
	if strings.TrimSpace(result) == "" {
		return page.GetPlainText(nil)
	}
	return result, nil
}

// splitPageIntoSections breaks page text into logical sections by detecting
// heading-like lines. Legal section kind tagging happens downstream in the
// chunker; this pass only separates headings from body text.
func splitPageIntoSections(text string, pageNum int) []Section {
	lines := strings.Split(text, "\n")
	var sections []Section
	var currentContent strings.Builder
	var currentHeading string
	currentLevel := 0

	flush := func() {
		if currentContent.Len() > 0 || currentHeading != "" {
			sections = append(sections, Section{
				Heading:    currentHeading,
				Content:    strings.TrimSpace(currentContent.String()),
				Level:      currentLevel,
				PageNumber: pageNum,
				Type:       classifySectionType(currentHeading, currentContent.String()),
			})
			currentContent.Reset()
		}
	}

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			if currentContent.Len() > 0 {
				currentContent.WriteString("\n")
			}
			continue
		}

		if isLikelyHeading(trimmed) {
			flush()
			currentHeading = trimmed
			currentLevel = detectHeadingLevel(trimmed)
		} else {
			if currentContent.Len() > 0 {
				currentContent.WriteString("\n")
			}
			currentContent.WriteString(trimmed)
		}
	}
	flush()

	if len(sections) == 0 && strings.TrimSpace(text) != "" {
		sections = append(sections, Section{Content: text, PageNumber: pageNum, Type: "paragraph"})
	}

	return sections
}

func isLikelyHeading(line string) bool {
	if len(line) < 100 && line == strings.ToUpper(line) && len(line) > 2 {
		return true
	}
	if len(line) < 120 {
		if len(line) > 0 && line[0] >= '0' && line[0] <= '9' && strings.Contains(line[:min(10, len(line))], ".") {
			return true
		}
		lower := strings.ToLower(line)
		for _, prefix := range []string{"section ", "article ", "chapter ", "part ", "annex "} {
			if strings.HasPrefix(lower, prefix) {
				return true
			}
		}
	}
	return false
}

func detectHeadingLevel(heading string) int {
	parts := strings.SplitN(heading, " ", 2)
	if len(parts) > 0 {
		if dots := strings.Count(parts[0], "."); dots > 0 {
			return dots
		}
	}
	if heading == strings.ToUpper(heading) {
		return 1
	}
	return 2
}

func classifySectionType(heading, content string) string {
	headingLower := strings.ToLower(heading)
	contentLower := strings.ToLower(content)

	if strings.Contains(headingLower, "definition") || strings.Contains(contentLower, "definition") {
		return "definition"
	}
	if strings.Contains(headingLower, "shall") || strings.Contains(headingLower, "must") ||
		strings.Contains(headingLower, "requirement") {
		return "requirement"
	}
	if strings.Contains(headingLower, "table") {
		return "table"
	}
	if strings.Count(content, "\t") > 3 || strings.Count(content, "|") > 3 {
		return "table"
	}
	if strings.Contains(headingLower, "annex") || strings.Contains(headingLower, "schedule") {
		return "annex"
	}
	return "section"
}

// fixRunningHeaders detects repeated headers/footers (tribunal name, case
// reference header printed on every page) and replaces them with the last
// meaningful heading, so content following a running header stays attached
// to the real section it belongs to.
func fixRunningHeaders(sections []Section, totalPages int) []Section {
	if len(sections) == 0 || totalPages == 0 {
		return sections
	}

	headingPages := make(map[string]map[int]bool)
	for _, s := range sections {
		h := normalizeHeading(s.Heading)
		if h == "" {
			continue
		}
		if headingPages[h] == nil {
			headingPages[h] = make(map[int]bool)
		}
		headingPages[h][s.PageNumber] = true
	}

	threshold := max(3, totalPages/4)
	runningHeaders := make(map[string]bool)
	for h, pages := range headingPages {
		if len(pages) >= threshold {
			runningHeaders[h] = true
		}
	}
	if len(runningHeaders) == 0 {
		return sections
	}

	var lastRealHeading string
	var lastRealLevel int
	for i := range sections {
		h := normalizeHeading(sections[i].Heading)
		if runningHeaders[h] {
			if lastRealHeading != "" {
				sections[i].Heading = lastRealHeading
				sections[i].Level = lastRealLevel
			}
		} else if sections[i].Heading != "" {
			lastRealHeading = sections[i].Heading
			lastRealLevel = sections[i].Level
		}
	}
	return sections
}

// normalizeHeading strips trailing non-printable artifacts PDF extraction
// sometimes leaves behind, so the same running header matches across pages.
func normalizeHeading(h string) string {
	h = strings.TrimSpace(h)
	for len(h) > 0 {
		r := rune(h[len(h)-1])
		if r > 127 {
			h = h[:len(h)-1]
			h = strings.TrimSpace(h)
		} else {
			break
		}
	}
	return h
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
