package retrieval

import "testing"

func TestEvaluateConfidenceEmptyCorpus(t *testing.T) {
	s3 := EvaluateConfidence(nil, &SearchTrace{}, 0.5, 0.3, 3)
	if !s3.IsUncertain || s3.UncertaintyReason != "empty_corpus" {
		t.Fatalf("expected empty_corpus uncertainty, got %+v", s3)
	}
}

func TestEvaluateConfidenceNoFilterMatch(t *testing.T) {
	s3 := EvaluateConfidence(nil, &SearchTrace{NoFilterMatch: true}, 0.5, 0.3, 3)
	if !s3.IsUncertain || s3.UncertaintyReason != "no_filter_match" {
		t.Fatalf("expected no_filter_match uncertainty, got %+v", s3)
	}
}

func TestEvaluateConfidenceDegradedRetrieval(t *testing.T) {
	scored := []Scored{{FinalScore: 0.9}}
	s3 := EvaluateConfidence(scored, &SearchTrace{DegradedReason: "degraded_retrieval"}, 0.5, 0.3, 1)
	if !s3.IsUncertain || s3.UncertaintyReason != "degraded_retrieval" {
		t.Fatalf("expected degraded_retrieval uncertainty, got %+v", s3)
	}
}

// Boundary behavior: top semantic similarity 0.29 is uncertain; 0.31
// with confidence 0.51 is not.
func TestEvaluateConfidenceSimilarityBoundary(t *testing.T) {
	scored := []Scored{
		{FinalScore: 0.51, RRFNormScore: 0.9},
		{FinalScore: 0.51, RRFNormScore: 0.9},
		{FinalScore: 0.51, RRFNormScore: 0.9},
	}

	below := EvaluateConfidence(scored, &SearchTrace{TopSemanticScore: 0.29}, 0.5, 0.3, 3)
	if !below.IsUncertain || below.UncertaintyReason != "low_similarity" {
		t.Fatalf("expected low_similarity at 0.29, got %+v", below)
	}

	above := EvaluateConfidence(scored, &SearchTrace{TopSemanticScore: 0.31}, 0.5, 0.3, 3)
	if above.IsUncertain {
		t.Fatalf("expected not uncertain at 0.31 with confidence 0.51, got %+v", above)
	}
}

func TestEvaluateConfidenceLowConfidence(t *testing.T) {
	scored := []Scored{
		{FinalScore: 0.2, RRFNormScore: 0.9},
		{FinalScore: 0.2, RRFNormScore: 0.9},
		{FinalScore: 0.2, RRFNormScore: 0.9},
	}
	s3 := EvaluateConfidence(scored, &SearchTrace{TopSemanticScore: 0.9}, 0.5, 0.3, 3)
	if !s3.IsUncertain || s3.UncertaintyReason != "low_confidence" {
		t.Fatalf("expected low_confidence, got %+v", s3)
	}
}

func TestEvaluateConfidenceInsufficientCandidates(t *testing.T) {
	scored := []Scored{
		{FinalScore: 0.9, RRFNormScore: 0.9},
		{FinalScore: 0.9, RRFNormScore: 0.1},
	}
	s3 := EvaluateConfidence(scored, &SearchTrace{TopSemanticScore: 0.9}, 0.5, 0.3, 3)
	if !s3.IsUncertain || s3.UncertaintyReason != "insufficient_candidates" {
		t.Fatalf("expected insufficient_candidates, got %+v", s3)
	}
}

func TestEvaluateConfidenceConfident(t *testing.T) {
	scored := []Scored{
		{FinalScore: 0.9, RRFNormScore: 0.9},
		{FinalScore: 0.8, RRFNormScore: 0.8},
		{FinalScore: 0.7, RRFNormScore: 0.7},
	}
	s3 := EvaluateConfidence(scored, &SearchTrace{TopSemanticScore: 0.9}, 0.5, 0.3, 3)
	if s3.IsUncertain {
		t.Fatalf("expected confident result, got %+v", s3)
	}
}
