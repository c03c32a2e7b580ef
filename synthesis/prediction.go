// Package synthesis implements the prediction synthesizer: the
// completeness gate, query construction, two-phase LLM prompting, and
// cite-or-abstain enforcement that turn a CaseFile and a retrieval result
// into a Prediction.
package synthesis

import "github.com/ukdeposit/tribunalengine/casefile"

// Outcome is the overall prediction verdict.
type Outcome string

const (
	OutcomeTenantFavored   Outcome = "tenant_favored"
	OutcomeLandlordFavored Outcome = "landlord_favored"
	OutcomeSplit           Outcome = "split"
	OutcomeUncertain       Outcome = "uncertain"
)

// Citation ties a claim to a specific retrieved chunk.
type Citation struct {
	CaseReference string `json:"case_reference"`
	Quote         string `json:"quote"`
	ChunkID       int64  `json:"chunk_id,omitempty"`
}

// AmountRange is an optional low/high estimate for a monetary outcome,
// carried as an optional field and populated only when the model supplies it.
type AmountRange struct {
	Low  float64 `json:"low"`
	High float64 `json:"high"`
}

// IssuePrediction is the per-issue verdict within an overall Prediction.
type IssuePrediction struct {
	Issue         casefile.IssueType `json:"issue"`
	Outcome       string             `json:"outcome"`
	AmountAwarded *float64           `json:"amount_awarded,omitempty"`
	AmountRange   *AmountRange       `json:"amount_range,omitempty"`
	Reasoning     string             `json:"reasoning"`
	Citations     []Citation         `json:"citations"`
}

// ReasoningStep records one stage of the synthesis state machine for
// provenance and for surfacing why a prediction was downgraded. Steps the
// model itself produces carry their own citations, validated by cite-or-
// abstain the same way an issue's citations are.
type ReasoningStep struct {
	Stage     string     `json:"stage"`
	Detail    string     `json:"detail"`
	Tag       string     `json:"tag,omitempty"`
	Citations []Citation `json:"citations,omitempty"`
}

// Prediction is the synthesizer's output for one CaseFile.
type Prediction struct {
	CaseID         string            `json:"case_id"`
	OverallOutcome Outcome           `json:"overall_outcome"`
	Confidence     float64           `json:"confidence"`
	Issues         []IssuePrediction `json:"issues"`
	Reasoning      []ReasoningStep   `json:"reasoning"`
	Disclaimer     string            `json:"disclaimer"`
	ModelUsed      string            `json:"model_used"`

	// Present when the model supplies them, zero/nil otherwise.
	ModelVersion  *string  `json:"model_version,omitempty"`
	RAGConfidence *float64 `json:"rag_confidence,omitempty"`

	MissingRequiredFields []string `json:"missing_required_fields,omitempty"`
}

// llmPrediction is the shape the model is instructed to emit. It is
// converted into the public Prediction after cite-or-abstain validation.
type llmPrediction struct {
	OverallOutcome string             `json:"overall_outcome"`
	Issues         []llmIssue         `json:"issues"`
	ReasoningSteps []llmReasoningStep `json:"reasoning_steps"`
	ModelVersion   *string            `json:"model_version,omitempty"`
	RAGConfidence  *float64           `json:"rag_confidence,omitempty"`
}

type llmIssue struct {
	Issue         string       `json:"issue"`
	Outcome       string       `json:"outcome"`
	AmountAwarded *float64     `json:"amount_awarded,omitempty"`
	AmountRange   *AmountRange `json:"amount_range,omitempty"`
	Reasoning     string       `json:"reasoning"`
	Citations     []Citation   `json:"citations"`
}

// llmReasoningStep is the model's self-reported trace of how it reached its
// verdict, each step citing the excerpt it drew on.
type llmReasoningStep struct {
	Stage     string     `json:"stage"`
	Detail    string     `json:"detail"`
	Citations []Citation `json:"citations"`
}
