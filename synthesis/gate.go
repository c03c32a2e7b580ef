package synthesis

import "github.com/ukdeposit/tribunalengine/casefile"

// GateResult is the outcome of the completeness gate.
type GateResult struct {
	OK      bool
	Missing []string
}

// Gate checks intake_complete before any retrieval or LLM call is made.
// When incomplete, the synthesizer must return a structured refusal without
// spending a single retrieval query or LLM token.
func Gate(cf casefile.CaseFile) GateResult {
	missing := casefile.MissingRequiredFields(cf)
	return GateResult{OK: len(missing) == 0, Missing: missing}
}

// refusalPrediction builds the zero-LLM-call structured refusal emitted when
// Gate fails.
func refusalPrediction(cf casefile.CaseFile, missing []string, disclaimer string) *Prediction {
	return &Prediction{
		CaseID:         cf.CaseID,
		OverallOutcome: OutcomeUncertain,
		Confidence:     0,
		Disclaimer:     disclaimer,
		ModelUsed:      "",
		Reasoning: []ReasoningStep{
			{
				Stage:  "gate",
				Detail: "case file is missing required fields; synthesis was not attempted",
				Tag:    "missing_required_fields",
			},
		},
		MissingRequiredFields: missing,
	}
}
