package synthesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ukdeposit/tribunalengine/casefile"
	"github.com/ukdeposit/tribunalengine/llm"
	"github.com/ukdeposit/tribunalengine/retrieval"
)

// Config tunes the synthesizer, normally sourced from
// tribunalengine.SynthesisConfig.
type Config struct {
	GenerationBudget time.Duration
	MaxCases         int
	Disclaimer       string
	MinConfidence    float64
	MinSimilarity    float64
	MinCandidates    int
}

// Engine runs the prediction synthesizer's state machine:
// gate -> retrieve -> prompt -> parse -> cite-validate -> (ok | retry |
// downgrade) -> emit.
type Engine struct {
	retriever *retrieval.Engine
	primary   llm.Provider
	fallback  llm.Provider
	cfg       Config
}

// New creates a synthesizer. fallback may be nil if no fallback model is
// configured.
func New(retriever *retrieval.Engine, primary, fallback llm.Provider, cfg Config) *Engine {
	if cfg.Disclaimer == "" {
		cfg.Disclaimer = disclaimerText
	}
	if cfg.MaxCases == 0 {
		cfg.MaxCases = 8
	}
	if cfg.GenerationBudget == 0 {
		cfg.GenerationBudget = 120 * time.Second
	}
	return &Engine{retriever: retriever, primary: primary, fallback: fallback, cfg: cfg}
}

// Predict runs the full state machine for one CaseFile.
func (e *Engine) Predict(ctx context.Context, cf casefile.CaseFile) (*Prediction, error) {
	// gate
	if g := Gate(cf); !g.OK {
		slog.Info("synthesis: intake incomplete, refusing without retrieval", "case_id", cf.CaseID, "missing", g.Missing)
		return refusalPrediction(cf, g.Missing, e.cfg.Disclaimer), nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.cfg.GenerationBudget)
	defer cancel()

	// retrieve
	query := BuildQuery(cf)
	rerankCtx := BuildRerankContext(cf)
	candidates, trace, err := e.retriever.Search(ctx, query, retrieval.SearchOptions{
		MaxResults: e.cfg.MaxCases * 4,
		Context:    rerankCtx,
	})
	if err != nil {
		return nil, fmt.Errorf("synthesis: retrieval failed: %w", err)
	}

	minConfidence := e.cfg.MinConfidence
	if minConfidence == 0 {
		minConfidence = 0.5
	}
	minSimilarity := e.cfg.MinSimilarity
	if minSimilarity == 0 {
		minSimilarity = 0.3
	}
	minCandidates := e.cfg.MinCandidates
	if minCandidates == 0 {
		minCandidates = 3
	}
	stage3 := retrieval.EvaluateConfidence(candidates, trace, minConfidence, minSimilarity, minCandidates)

	if len(candidates) > e.cfg.MaxCases {
		candidates = candidates[:e.cfg.MaxCases]
	}

	if stage3.IsUncertain {
		return e.uncertainPrediction(cf, stage3, candidates), nil
	}

	// prompt + parse, with one malformed-JSON retry and one fallback-model
	// retry on a hard LLM error.
	pred, err := e.synthesizeWithRetry(ctx, cf, candidates)
	if err != nil {
		if ctx.Err() != nil {
			slog.Warn("synthesis: generation budget exceeded", "case_id", cf.CaseID)
			return e.timeoutPrediction(cf, stage3), nil
		}
		slog.Warn("synthesis: LLM synthesis failed after retries", "case_id", cf.CaseID, "error", err)
		return e.failedPrediction(cf, stage3, err), nil
	}

	pred.Confidence = stage3.Confidence

	// cite-validate
	enforceCiteOrAbstain(pred, candidates)

	return pred, nil
}

// synthesizeWithRetry implements the prompt -> parse -> (retry | fallback)
// portion of the state machine.
func (e *Engine) synthesizeWithRetry(ctx context.Context, cf casefile.CaseFile, candidates []retrieval.Scored) (*Prediction, error) {
	provider := e.primary
	modelLabel := "primary"

	pred, err := e.tryGenerate(ctx, provider, cf, candidates, false)
	if err == nil {
		return pred, nil
	}

	if isMalformedJSON(err) {
		slog.Debug("synthesis: malformed JSON, retrying with strict-JSON nudge", "case_id", cf.CaseID)
		pred, err2 := e.tryGenerate(ctx, provider, cf, candidates, true)
		if err2 == nil {
			return pred, nil
		}
		return nil, fmt.Errorf("malformed JSON persisted after retry: %w", err2)
	}

	// hard LLM error: switch to fallback model, retry once.
	if e.fallback != nil {
		slog.Warn("synthesis: primary model failed, switching to fallback", "case_id", cf.CaseID, "error", err)
		provider = e.fallback
		modelLabel = "fallback"
		pred, err3 := e.tryGenerate(ctx, provider, cf, candidates, false)
		if err3 == nil {
			return pred, nil
		}
		return nil, fmt.Errorf("%s model also failed: %w", modelLabel, err3)
	}

	return nil, fmt.Errorf("primary model failed, no fallback configured: %w", err)
}

// tryGenerate sends one Phase A + Phase B prompt pair and parses the result.
func (e *Engine) tryGenerate(ctx context.Context, provider llm.Provider, cf casefile.CaseFile, candidates []retrieval.Scored, retryNudge bool) (*Prediction, error) {
	resp, err := provider.Chat(ctx, llm.ChatRequest{
		Messages: []llm.Message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: BuildUserPrompt(cf, candidates, retryNudge)},
		},
		Temperature:    0.1,
		ResponseFormat: "json_object",
	})
	if err != nil {
		return nil, fmt.Errorf("llm chat: %w", err)
	}

	parsed, perr := parseLLMPrediction(resp.Content)
	if perr != nil {
		return nil, fmt.Errorf("%w: %v", errMalformedJSON, perr)
	}

	return toPrediction(cf, parsed, resp, e.cfg.Disclaimer), nil
}

var errMalformedJSON = errors.New("malformed JSON response")

func isMalformedJSON(err error) bool {
	return errors.Is(err, errMalformedJSON)
}

// parseLLMPrediction decodes the model's strict-JSON response, tolerating a
// leading/trailing markdown fence some providers add despite instructions.
func parseLLMPrediction(content string) (*llmPrediction, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	content = strings.TrimSpace(content)

	var parsed llmPrediction
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return nil, err
	}
	if parsed.OverallOutcome == "" {
		return nil, fmt.Errorf("missing overall_outcome")
	}
	return &parsed, nil
}

func toPrediction(cf casefile.CaseFile, parsed *llmPrediction, resp *llm.ChatResponse, disclaimer string) *Prediction {
	issues := make([]IssuePrediction, len(parsed.Issues))
	for i, li := range parsed.Issues {
		issues[i] = IssuePrediction{
			Issue:         casefile.IssueType(li.Issue),
			Outcome:       li.Outcome,
			AmountAwarded: li.AmountAwarded,
			AmountRange:   li.AmountRange,
			Reasoning:     li.Reasoning,
			Citations:     li.Citations,
		}
	}

	reasoning := make([]ReasoningStep, len(parsed.ReasoningSteps))
	for i, rs := range parsed.ReasoningSteps {
		reasoning[i] = ReasoningStep{Stage: rs.Stage, Detail: rs.Detail, Citations: rs.Citations}
	}
	if len(reasoning) == 0 {
		// the model omitted its trace despite the prompt instruction; record
		// that the synthesis ran rather than leaving the trace empty.
		reasoning = []ReasoningStep{
			{Stage: "synthesis", Detail: "prediction generated from retrieved case excerpts"},
		}
	}

	return &Prediction{
		CaseID:         cf.CaseID,
		OverallOutcome: Outcome(parsed.OverallOutcome),
		Issues:         issues,
		Disclaimer:     disclaimer,
		ModelUsed:      resp.Model,
		ModelVersion:   parsed.ModelVersion,
		RAGConfidence:  parsed.RAGConfidence,
		Reasoning:      reasoning,
	}
}

// uncertainPrediction builds the structured "uncertain" outcome for a
// confident-retrieval-threshold failure, without ever calling the LLM.
func (e *Engine) uncertainPrediction(cf casefile.CaseFile, stage3 retrieval.Stage3, candidates []retrieval.Scored) *Prediction {
	return &Prediction{
		CaseID:         cf.CaseID,
		OverallOutcome: OutcomeUncertain,
		Confidence:     stage3.Confidence,
		Disclaimer:     e.cfg.Disclaimer,
		Reasoning: []ReasoningStep{
			{Stage: "retrieve", Detail: stage3.UncertaintyDetail, Tag: stage3.UncertaintyReason},
		},
	}
}

func (e *Engine) timeoutPrediction(cf casefile.CaseFile, stage3 retrieval.Stage3) *Prediction {
	return &Prediction{
		CaseID:         cf.CaseID,
		OverallOutcome: OutcomeUncertain,
		Confidence:     stage3.Confidence,
		Disclaimer:     e.cfg.Disclaimer,
		Reasoning: []ReasoningStep{
			{Stage: "prompt", Detail: "generation did not complete within the wall-clock budget", Tag: "timeout"},
		},
	}
}

func (e *Engine) failedPrediction(cf casefile.CaseFile, stage3 retrieval.Stage3, cause error) *Prediction {
	return &Prediction{
		CaseID:         cf.CaseID,
		OverallOutcome: OutcomeUncertain,
		Confidence:     stage3.Confidence,
		Disclaimer:     e.cfg.Disclaimer,
		Reasoning: []ReasoningStep{
			{Stage: "parse", Detail: fmt.Sprintf("synthesis failed: %v", cause), Tag: "synthesis_failed"},
		},
	}
}
