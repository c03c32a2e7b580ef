package retrieval

// Stage3 is the retrieval confidence/uncertainty verdict.
type Stage3 struct {
	Confidence        float64 `json:"confidence"`
	IsUncertain       bool    `json:"is_uncertain"`
	UncertaintyReason string  `json:"uncertainty_reason,omitempty"`
	UncertaintyDetail string  `json:"uncertainty_detail,omitempty"`
}

// EvaluateConfidence aggregates the Stage 2 scores of the top-K surviving
// candidates into a confidence figure and decides is_uncertain: top semantic
// similarity < 0.3, confidence < 0.5, or fewer than 3 candidates survive the
// similarity floor.
func EvaluateConfidence(scored []Scored, trace *SearchTrace, minConfidence, minSimilarity float64, minCandidates int) Stage3 {
	if trace != nil && trace.DegradedReason != "" {
		return Stage3{
			IsUncertain:       true,
			UncertaintyReason: trace.DegradedReason,
			UncertaintyDetail: "one retrieval store failed; results come from the other store alone",
		}
	}

	if len(scored) == 0 {
		if trace != nil && trace.NoFilterMatch {
			return Stage3{
				IsUncertain:       true,
				UncertaintyReason: "no_filter_match",
				UncertaintyDetail: "no candidates matched the requested region/year filters",
			}
		}
		return Stage3{
			IsUncertain:       true,
			UncertaintyReason: "empty_corpus",
			UncertaintyDetail: "no candidates were returned by either retrieval store",
		}
	}

	confidence := meanFinalScore(scored)

	var topSemantic float64
	if trace != nil {
		topSemantic = trace.TopSemanticScore
	}

	surviving := SurvivingCandidates(scored, minSimilarity)

	switch {
	case topSemantic < minSimilarity:
		return Stage3{
			Confidence:        confidence,
			IsUncertain:       true,
			UncertaintyReason: "low_similarity",
			UncertaintyDetail: "the corpus has nothing close enough to the query to be confident",
		}
	case confidence < minConfidence:
		return Stage3{
			Confidence:        confidence,
			IsUncertain:       true,
			UncertaintyReason: "low_confidence",
			UncertaintyDetail: "the retrieved candidates do not strongly support an outcome",
		}
	case surviving < minCandidates:
		return Stage3{
			Confidence:        confidence,
			IsUncertain:       true,
			UncertaintyReason: "insufficient_candidates",
			UncertaintyDetail: "too few candidates survive the similarity floor",
		}
	}

	return Stage3{Confidence: confidence, IsUncertain: false}
}

// meanFinalScore averages FinalScore across scored, clipped to [0,1].
func meanFinalScore(scored []Scored) float64 {
	if len(scored) == 0 {
		return 0
	}
	var sum float64
	for _, s := range scored {
		sum += s.FinalScore
	}
	mean := sum / float64(len(scored))
	if mean < 0 {
		return 0
	}
	if mean > 1 {
		return 1
	}
	return mean
}
