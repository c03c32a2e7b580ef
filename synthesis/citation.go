package synthesis

import (
	"strings"

	"github.com/ukdeposit/tribunalengine/retrieval"
)

// normalizeForMatch collapses whitespace and case so a quote copied by the
// model still matches its source chunk despite minor reflow.
func normalizeForMatch(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// citationValid reports whether c's case_reference appears among candidates
// and its quote is a normalized substring of that case's retrieved content.
func citationValid(c Citation, byCaseRef map[string][]retrieval.Scored) bool {
	if c.CaseReference == "" || c.Quote == "" {
		return false
	}
	chunks, ok := byCaseRef[c.CaseReference]
	if !ok {
		return false
	}
	normQuote := normalizeForMatch(c.Quote)
	if normQuote == "" {
		return false
	}
	for _, chunk := range chunks {
		if strings.Contains(normalizeForMatch(chunk.Content), normQuote) {
			return true
		}
	}
	return false
}

// indexByCaseReference groups retrieved candidates by case_reference for
// citation lookups.
func indexByCaseReference(candidates []retrieval.Scored) map[string][]retrieval.Scored {
	idx := make(map[string][]retrieval.Scored)
	for _, c := range candidates {
		idx[c.CaseReference] = append(idx[c.CaseReference], c)
	}
	return idx
}

// enforceCiteOrAbstain walks every issue prediction and every reasoning
// step, drops citations that don't verify against the retrieved candidates,
// and downgrades to uncertain when a dropped citation was load-bearing —
// the claim's only citation.
func enforceCiteOrAbstain(pred *Prediction, candidates []retrieval.Scored) {
	byCaseRef := indexByCaseReference(candidates)
	var anyDowngraded bool

	for i := range pred.Issues {
		issue := &pred.Issues[i]
		if len(issue.Citations) == 0 {
			continue
		}

		kept := filterValidCitations(issue.Citations, byCaseRef)
		if len(kept) == 0 {
			issue.Outcome = string(OutcomeUncertain)
			issue.Citations = nil
			anyDowngraded = true
		} else {
			issue.Citations = kept
		}
	}

	for i := range pred.Reasoning {
		step := &pred.Reasoning[i]
		if len(step.Citations) == 0 {
			continue
		}

		kept := filterValidCitations(step.Citations, byCaseRef)
		if len(kept) == 0 {
			step.Citations = nil
			step.Tag = "uncited_claim_removed"
			anyDowngraded = true
		} else {
			step.Citations = kept
		}
	}

	if anyDowngraded {
		pred.OverallOutcome = OutcomeUncertain
		pred.Reasoning = append(pred.Reasoning, ReasoningStep{
			Stage:  "cite-validate",
			Detail: "a claim's only citation failed verification against the retrieved excerpts and was removed; the affected issue or reasoning step and the overall outcome were downgraded to uncertain",
			Tag:    "uncited_claim_removed",
		})
	}
}

// filterValidCitations keeps only the citations that verify against byCaseRef.
func filterValidCitations(citations []Citation, byCaseRef map[string][]retrieval.Scored) []Citation {
	kept := make([]Citation, 0, len(citations))
	for _, c := range citations {
		if citationValid(c, byCaseRef) {
			kept = append(kept, c)
		}
	}
	return kept
}
