package parser

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseCaseReferenceValid(t *testing.T) {
	region, office, caseType, year, err := ParseCaseReference("LON_00BK_HMF_2022_0227")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if region != "LON" || office != "00BK" || caseType != "HMF" || year != 2022 {
		t.Fatalf("unexpected parse: region=%s office=%s type=%s year=%d", region, office, caseType, year)
	}
}

func TestParseCaseReferenceMalformed(t *testing.T) {
	if _, _, _, _, err := ParseCaseReference("not-a-case-reference"); err == nil {
		t.Fatal("expected error for malformed case reference")
	}
}

func TestExtractMetadataFallsBackToFilename(t *testing.T) {
	md, err := ExtractMetadata("/data/raw/MAN_00CR_HMF_2021_0045.pdf", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if md.CaseReference != "MAN_00CR_HMF_2021_0045" || md.Year != 2021 || md.Region != "MAN" || md.CaseType != "HMF" {
		t.Fatalf("unexpected metadata: %+v", md)
	}
}

func TestExtractMetadataSidecarWinsOverFilename(t *testing.T) {
	sidecar, _ := json.Marshal(sidecarMetadata{
		CaseReference: "LON_00BK_HMF_2023_0099",
		Year:          2023,
		Region:        "LON",
		CaseType:      "HMF",
	})
	// Filename disagrees with the sidecar; the sidecar must win.
	md, err := ExtractMetadata("/data/raw/MAN_00CR_HMF_2021_0045.pdf", sidecar)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if md.CaseReference != "LON_00BK_HMF_2023_0099" || md.Year != 2023 {
		t.Fatalf("sidecar metadata did not win: %+v", md)
	}
}

func TestExtractMetadataNoSourceRejected(t *testing.T) {
	if _, err := ExtractMetadata("/data/raw/scan0001.pdf", nil); err == nil {
		t.Fatal("expected error when neither sidecar nor filename carries a case reference")
	}
}

func TestCleanTextNormalizesAndRedacts(t *testing.T) {
	in := "The  tenant's    deposit   was £500, contact 07911 123456.\n\n\n\nNext paragraph."
	got := CleanText(in)
	if strings.Contains(got, "07911 123456") {
		t.Fatalf("expected phone number redacted: %s", got)
	}
	if strings.Contains(got, "   ") {
		t.Fatalf("expected whitespace collapsed: %s", got)
	}
	if strings.Contains(got, "\n\n\n") {
		t.Fatalf("expected blank line runs collapsed: %s", got)
	}
}

func TestCleanTextFixesLigatures(t *testing.T) {
	got := CleanText("The landlord's ﬁnal deduction was unjustiﬁed.")
	if strings.Contains(got, "ﬁ") {
		t.Fatalf("expected ligature fixed: %s", got)
	}
	if !strings.Contains(got, "final") || !strings.Contains(got, "unjustified") {
		t.Fatalf("expected ligature expansion, got: %s", got)
	}
}

func TestValidateExtractableRejectsScanOnly(t *testing.T) {
	err := ValidateExtractable("short scan artifact", 500)
	if !errors.Is(err, ErrScanOnlyPDF) {
		t.Fatalf("expected ErrScanOnlyPDF, got: %v", err)
	}
}

func TestValidateExtractableAcceptsLongText(t *testing.T) {
	if err := ValidateExtractable(strings.Repeat("word ", 200), 500); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestJoinSectionsPreservesOrder(t *testing.T) {
	sections := []Section{
		{Heading: "Background", Content: "The tenancy began in 2019."},
		{Heading: "Decision", Content: "The claim is dismissed."},
	}
	got := JoinSections(sections)
	if strings.Index(got, "Background") > strings.Index(got, "Decision") {
		t.Fatalf("expected Background before Decision: %s", got)
	}
}
