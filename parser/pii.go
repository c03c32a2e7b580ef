package parser

import "regexp"

// PII redaction patterns. Applied in order so a postcode embedded in
// free text is redacted before phone-number patterns have a chance to
// misfire on the trailing digits.
var (
	postcodePattern = regexp.MustCompile(`\b[A-Z]{1,2}\d[A-Z\d]? ?\d[A-Z]{2}\b`)
	phonePattern    = regexp.MustCompile(`\b(?:(?:\+44\s?|0)(?:\d\s?){9,10})\b`)
	emailPattern    = regexp.MustCompile(`\b[\w.+-]+@[\w-]+\.[\w.-]+\b`)
)

// redactPII replaces UK postcodes, phone numbers, and e-mail addresses with
// typed placeholders. Mandatory before indexing.
func redactPII(text string) string {
	text = postcodePattern.ReplaceAllString(text, "[POSTCODE]")
	text = phonePattern.ReplaceAllString(text, "[PHONE]")
	text = emailPattern.ReplaceAllString(text, "[EMAIL]")
	return text
}
