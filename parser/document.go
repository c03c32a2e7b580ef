package parser

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrScanOnlyPDF is returned when a PDF yields fewer than the configured
// minimum extractable characters, indicating it is a scanned image with no
// embedded text layer. The engine logs a warning and counts the document
// as skipped rather than attempting OCR.
var ErrScanOnlyPDF = errors.New("parser: scan-only PDF, no extractable text layer")

// Metadata is the structural metadata extracted alongside a CaseDocument's
// text.
type Metadata struct {
	CaseReference string
	Year          int
	Region        string
	CaseType      string
}

// ligatureFixes repairs common PDF-to-text mis-decodings of typographic
// ligatures that ledongthuc/pdf sometimes leaves unexpanded.
var ligatureFixes = strings.NewReplacer(
	"ﬁ", "fi",
	"ﬂ", "fl",
	"ﬀ", "ff",
	"ﬃ", "ffi",
	"ﬄ", "ffl",
)

var whitespaceRun = regexp.MustCompile(`[ \t]+`)
var blankLineRun = regexp.MustCompile(`\n{3,}`)

// CleanText normalizes Unicode (NFC), collapses whitespace, fixes ligature
// mis-decodings, and redacts PII. PII redaction is mandatory before
// indexing — every call path into the chunker goes through this function.
func CleanText(text string) string {
	text = norm.NFC.String(text)
	text = ligatureFixes.Replace(text)
	text = whitespaceRun.ReplaceAllString(text, " ")
	text = blankLineRun.ReplaceAllString(text, "\n\n")
	text = redactPII(text)
	return strings.TrimSpace(text)
}

// caseReferencePattern matches the BAILII convention
// <REGION>_<office>_<type>_<year>_<seq>, e.g. LON_00BK_HMF_2022_0227.
var caseReferencePattern = regexp.MustCompile(`^([A-Z]{3})_([A-Z0-9]+)_([A-Z]+)_(\d{4})_(\d+)$`)

// ParseCaseReference splits a BAILII-convention case reference into its
// components. year is the value embedded in the reference itself — callers
// must not assume this equals the decision year.
func ParseCaseReference(ref string) (region, office, caseType string, year int, err error) {
	m := caseReferencePattern.FindStringSubmatch(ref)
	if m == nil {
		return "", "", "", 0, fmt.Errorf("malformed case reference: %q", ref)
	}
	y, _ := strconv.Atoi(m[4])
	return m[1], m[2], m[3], y, nil
}

// sidecarMetadata mirrors the scraper's sidecar JSON shape.
type sidecarMetadata struct {
	CaseReference string `json:"case_reference"`
	Year          int    `json:"year"`
	Region        string `json:"region"`
	CaseType      string `json:"case_type"`
}

// ExtractMetadata resolves {case_reference, year, region, case_type} for a
// PDF. The sidecar JSON, when present, wins over path-parsed metadata.
// Absent a sidecar, the filename is parsed using the
// BAILII convention. A filename that matches neither source is rejected —
// the caller should treat this as a reason to skip the document, not ingest
// it with guessed metadata.
func ExtractMetadata(pdfPath string, sidecar []byte) (Metadata, error) {
	if len(sidecar) > 0 {
		var sc sidecarMetadata
		if err := json.Unmarshal(sidecar, &sc); err == nil && sc.CaseReference != "" {
			return Metadata{
				CaseReference: sc.CaseReference,
				Year:          sc.Year,
				Region:        sc.Region,
				CaseType:      sc.CaseType,
			}, nil
		}
	}

	base := strings.TrimSuffix(filepath.Base(pdfPath), filepath.Ext(pdfPath))
	region, _, caseType, year, err := ParseCaseReference(base)
	if err != nil {
		return Metadata{}, fmt.Errorf("resolving metadata for %s: %w", pdfPath, err)
	}
	return Metadata{
		CaseReference: base,
		Year:          year,
		Region:        region,
		CaseType:      caseType,
	}, nil
}

// ValidateExtractable rejects a document whose extracted text falls short of
// minChars. Callers should skip ingestion
// of the document rather than index a near-empty chunk.
func ValidateExtractable(text string, minChars int) error {
	if len(strings.TrimSpace(text)) < minChars {
		return fmt.Errorf("%w: got %d chars, need %d", ErrScanOnlyPDF, len(strings.TrimSpace(text)), minChars)
	}
	return nil
}

// JoinSections concatenates parsed sections into a single text, preserving
// paragraph breaks between sections the way Document Processor's extract()
// step requires.
func JoinSections(sections []Section) string {
	var b strings.Builder
	for i, s := range sections {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if s.Heading != "" {
			b.WriteString(s.Heading)
			b.WriteString("\n")
		}
		b.WriteString(s.Content)
	}
	return b.String()
}
