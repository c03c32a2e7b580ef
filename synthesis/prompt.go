package synthesis

import (
	"fmt"
	"strings"

	"github.com/ukdeposit/tribunalengine/casefile"
	"github.com/ukdeposit/tribunalengine/retrieval"
)

const disclaimerText = "This is not legal advice. It is an estimate of how similar disputes have been resolved by the First-tier Tribunal (Property Chamber), based on a limited set of retrieved cases, and may be wrong."

// systemPrompt is the Phase A contract: the model's role,
// the cite-or-abstain rule, the disclaimer requirement, and the strict JSON
// output schema.
const systemPrompt = `You are a legal-analysis assistant estimating how a UK residential tenancy deposit dispute is likely to be resolved by the First-tier Tribunal (Property Chamber), based only on the retrieved case excerpts you are given.

Rules:
1. Cite-or-abstain: every claim you make about how an issue is likely to be decided must carry at least one citation to a retrieved case, identified by its case_reference, together with a short quote copied verbatim from that case's excerpt. Never state an outcome you cannot support with a citation from the supplied excerpts.
2. Never rely on legal knowledge outside the supplied excerpts. If the excerpts do not support a confident view on an issue, set that issue's outcome to "uncertain" and explain why in its reasoning, rather than guessing.
3. This is not legal advice, and your output must make that clear.
4. Respond with a single strict JSON object and nothing else — no markdown fences, no commentary before or after. The object must have this shape:

{
  "overall_outcome": "tenant_favored" | "landlord_favored" | "split" | "uncertain",
  "issues": [
    {
      "issue": "<issue type>",
      "outcome": "tenant_favored" | "landlord_favored" | "split" | "uncertain",
      "amount_awarded": <number, optional>,
      "amount_range": {"low": <number>, "high": <number>, optional},
      "reasoning": "<short explanation citing the excerpts below>",
      "citations": [{"case_reference": "<exact case_reference from an excerpt>", "quote": "<verbatim excerpt text>"}]
    }
  ],
  "reasoning_steps": [
    {
      "stage": "<short label for this step, e.g. issue_analysis, weighing_precedent>",
      "detail": "<one or two sentences explaining what this step drew from the excerpts>",
      "citations": [{"case_reference": "<exact case_reference from an excerpt>", "quote": "<verbatim excerpt text>"}]
    }
  ],
  "model_version": "<optional>",
  "rag_confidence": <optional number 0-1>
}

5. Every reasoning step must carry at least one citation, under the same cite-or-abstain rule as issues. Include one step per issue you analyzed, plus any step recording how you weighed the excerpts against each other.`

// strictJSONNudge is appended to the Phase B prompt on the one allowed
// retry after a malformed-JSON response.
const strictJSONNudge = "\n\nYour previous response was not valid JSON matching the required schema. Respond again with ONLY the strict JSON object described above — no other text."

// BuildUserPrompt is the Phase B prompt: the CaseFile summary plus the
// retrieved chunks, each labeled with its case_reference so the model can
// cite them.
func BuildUserPrompt(cf casefile.CaseFile, candidates []retrieval.Scored, retryNudge bool) string {
	var b strings.Builder

	b.WriteString("Case file:\n")
	fmt.Fprintf(&b, "- Role: %s\n", cf.UserRole)
	fmt.Fprintf(&b, "- Property region: %s\n", orDash(cf.Property.Region))
	fmt.Fprintf(&b, "- Deposit amount: %.2f\n", cf.Tenancy.DepositAmount)
	fmt.Fprintf(&b, "- Deposit protected: %v (%s)\n", cf.Tenancy.DepositProtected, orDash(cf.Tenancy.DepositProtectionScheme))
	if len(cf.Issues) > 0 {
		issues := make([]string, len(cf.Issues))
		for i, iss := range cf.Issues {
			issues[i] = string(iss)
		}
		fmt.Fprintf(&b, "- Issues: %s\n", strings.Join(issues, ", "))
	}
	if cf.Narrative != "" {
		fmt.Fprintf(&b, "- Narrative: %s\n", cf.Narrative)
	}

	b.WriteString("\nRetrieved case excerpts:\n")
	if len(candidates) == 0 {
		b.WriteString("(none retrieved)\n")
	}
	for i, c := range candidates {
		fmt.Fprintf(&b, "[%d] case_reference=%s region=%s year=%d\n%s\n\n",
			i+1, c.CaseReference, c.Region, c.Year, c.Content)
	}

	b.WriteString("\nRespond with the JSON object described in the system instructions.")

	out := b.String()
	if retryNudge {
		out += strictJSONNudge
	}
	return out
}

func orDash(s string) string {
	if s == "" {
		return "unspecified"
	}
	return s
}
