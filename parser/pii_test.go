package parser

import (
	"strings"
	"testing"
)

func TestRedactPIIPostcode(t *testing.T) {
	in := "The property at 14 Elm Road, London SW1A 1AA was inspected."
	got := redactPII(in)
	if strings.Contains(got, "SW1A 1AA") {
		t.Fatalf("postcode not redacted: %s", got)
	}
	if !strings.Contains(got, "[POSTCODE]") {
		t.Fatalf("expected [POSTCODE] placeholder, got: %s", got)
	}
}

func TestRedactPIIPhone(t *testing.T) {
	in := "Contact the landlord on 07911 123456 for access."
	got := redactPII(in)
	if !strings.Contains(got, "[PHONE]") {
		t.Fatalf("expected [PHONE] placeholder, got: %s", got)
	}
}

func TestRedactPIIEmail(t *testing.T) {
	in := "Correspondence was sent to tenant.name@example.co.uk on review."
	got := redactPII(in)
	if !strings.Contains(got, "[EMAIL]") {
		t.Fatalf("expected [EMAIL] placeholder, got: %s", got)
	}
	if strings.Contains(got, "tenant.name@example.co.uk") {
		t.Fatalf("email not redacted: %s", got)
	}
}

func TestRedactPIILeavesOrdinaryTextAlone(t *testing.T) {
	in := "The tribunal found the deposit deduction unreasonable."
	if got := redactPII(in); got != in {
		t.Fatalf("expected no redaction, got: %s", got)
	}
}
