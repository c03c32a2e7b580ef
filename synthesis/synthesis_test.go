package synthesis

import (
	"context"
	"strings"
	"testing"

	"github.com/ukdeposit/tribunalengine/casefile"
	"github.com/ukdeposit/tribunalengine/llm"
	"github.com/ukdeposit/tribunalengine/retrieval"
	"github.com/ukdeposit/tribunalengine/store"
)

func TestGateRefusesIncompleteCaseFileWithoutCallingLLM(t *testing.T) {
	cf := casefile.CaseFile{CaseID: "case-1"}

	g := Gate(cf)
	if g.OK {
		t.Fatalf("expected gate to fail for an empty case file")
	}
	if len(g.Missing) == 0 {
		t.Fatalf("expected missing fields to be reported")
	}

	pred := refusalPrediction(cf, g.Missing, "disclaimer")
	if pred.OverallOutcome != OutcomeUncertain {
		t.Fatalf("expected uncertain outcome, got %v", pred.OverallOutcome)
	}
	if len(pred.Reasoning) != 1 || pred.Reasoning[0].Tag != "missing_required_fields" {
		t.Fatalf("expected a missing_required_fields reasoning step, got %+v", pred.Reasoning)
	}
}

func TestGateAcceptsCompleteCaseFile(t *testing.T) {
	cf := completeCaseFile()
	g := Gate(cf)
	if !g.OK {
		t.Fatalf("expected complete case file to pass gate, missing=%v", g.Missing)
	}
}

func TestBuildQueryIncludesCoreSignals(t *testing.T) {
	cf := completeCaseFile()
	q := BuildQuery(cf)

	for _, want := range []string{"tenant", "LON", "cleaning", "450.00", "protected"} {
		if !strings.Contains(q, want) {
			t.Errorf("expected query to mention %q, got: %s", want, q)
		}
	}
}

func TestCiteOrAbstainDropsUnverifiableCitationAndDowngrades(t *testing.T) {
	candidates := []retrieval.Scored{
		{RetrievalResult: store.RetrievalResult{
			CaseReference: "LON_00BK_HMF_2099_9999",
			Content:       "the tribunal found the cleaning charge was not supported by a check-out inventory",
		}},
	}

	pred := &Prediction{
		OverallOutcome: OutcomeTenantFavored,
		Issues: []IssuePrediction{
			{
				Issue:   casefile.IssueCleaning,
				Outcome: string(OutcomeTenantFavored),
				Citations: []Citation{
					{CaseReference: "LON_00BK_HMF_2099_9999", Quote: "not supported by a check-out inventory"},
				},
			},
			{
				Issue:   casefile.IssueDamage,
				Outcome: string(OutcomeLandlordFavored),
				Citations: []Citation{
					{CaseReference: "LON_00BK_HMF_2099_9999", Quote: "this sentence never appears anywhere"},
				},
			},
		},
	}

	enforceCiteOrAbstain(pred, candidates)

	if pred.Issues[0].Outcome != string(OutcomeTenantFavored) {
		t.Errorf("expected verified citation to survive, issue outcome=%s", pred.Issues[0].Outcome)
	}
	if pred.Issues[1].Outcome != string(OutcomeUncertain) {
		t.Errorf("expected unverifiable citation's issue to downgrade to uncertain, got %s", pred.Issues[1].Outcome)
	}
	if pred.OverallOutcome != OutcomeUncertain {
		t.Errorf("expected overall outcome to downgrade to uncertain, got %s", pred.OverallOutcome)
	}

	var found bool
	for _, step := range pred.Reasoning {
		if step.Tag == "uncited_claim_removed" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected an uncited_claim_removed reasoning step, got %+v", pred.Reasoning)
	}
}

func TestCiteOrAbstainKeepsValidCitationsUnchanged(t *testing.T) {
	candidates := []retrieval.Scored{
		{RetrievalResult: store.RetrievalResult{
			CaseReference: "SCO_00GL_HMF_2021_0042",
			Content:       "deposit was not protected within the 30 day window required by the scheme",
		}},
	}
	pred := &Prediction{
		OverallOutcome: OutcomeTenantFavored,
		Issues: []IssuePrediction{
			{
				Issue:   casefile.IssueDepositProtection,
				Outcome: string(OutcomeTenantFavored),
				Citations: []Citation{
					{CaseReference: "SCO_00GL_HMF_2021_0042", Quote: "not protected within the 30 day window"},
				},
			},
		},
	}

	enforceCiteOrAbstain(pred, candidates)

	if pred.OverallOutcome != OutcomeTenantFavored {
		t.Fatalf("expected overall outcome unchanged, got %s", pred.OverallOutcome)
	}
	if len(pred.Issues[0].Citations) != 1 {
		t.Fatalf("expected the valid citation to be kept, got %+v", pred.Issues[0].Citations)
	}
}

func TestCiteOrAbstainValidatesReasoningStepCitations(t *testing.T) {
	candidates := []retrieval.Scored{
		{RetrievalResult: store.RetrievalResult{
			CaseReference: "LON_00BK_HMF_2099_9999",
			Content:       "the tribunal found the cleaning charge was not supported by a check-out inventory",
		}},
	}

	pred := &Prediction{
		OverallOutcome: OutcomeTenantFavored,
		Reasoning: []ReasoningStep{
			{
				Stage: "issue_analysis",
				Citations: []Citation{
					{CaseReference: "LON_00BK_HMF_2099_9999", Quote: "not supported by a check-out inventory"},
				},
			},
			{
				Stage: "weighing_precedent",
				Citations: []Citation{
					{CaseReference: "LON_00BK_HMF_2099_9999", Quote: "this sentence never appears anywhere"},
				},
			},
		},
	}

	enforceCiteOrAbstain(pred, candidates)

	if len(pred.Reasoning[0].Citations) != 1 {
		t.Errorf("expected the verified reasoning-step citation to survive, got %+v", pred.Reasoning[0])
	}
	if len(pred.Reasoning[1].Citations) != 0 || pred.Reasoning[1].Tag != "uncited_claim_removed" {
		t.Errorf("expected the unverifiable reasoning-step citation to be dropped and tagged, got %+v", pred.Reasoning[1])
	}
	if pred.OverallOutcome != OutcomeUncertain {
		t.Errorf("expected overall outcome to downgrade to uncertain, got %s", pred.OverallOutcome)
	}
}

func TestPredictRefusesIncompleteCaseFileWithoutRetrievalOrLLM(t *testing.T) {
	eng := New(nil, &explodingProvider{t: t}, nil, Config{})

	pred, err := eng.Predict(context.Background(), casefile.CaseFile{CaseID: "case-2"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pred.OverallOutcome != OutcomeUncertain {
		t.Fatalf("expected uncertain outcome, got %v", pred.OverallOutcome)
	}
	if len(pred.MissingRequiredFields) == 0 {
		t.Fatalf("expected missing required fields to be populated")
	}
}

// explodingProvider fails the test if Chat or Embed is ever called; used to
// assert the completeness gate short-circuits before any LLM call.
type explodingProvider struct{ t *testing.T }

func (p *explodingProvider) Chat(ctx context.Context, req llm.ChatRequest) (*llm.ChatResponse, error) {
	p.t.Fatal("Chat should not be called when the completeness gate fails")
	return nil, nil
}

func (p *explodingProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	p.t.Fatal("Embed should not be called when the completeness gate fails")
	return nil, nil
}

func completeCaseFile() casefile.CaseFile {
	return casefile.CaseFile{
		CaseID:   "case-3",
		UserRole: casefile.RoleTenant,
		Property: casefile.Property{
			Address: "12 Example Street",
			Region:  "LON",
		},
		Tenancy: casefile.Tenancy{
			StartDate:        "2022-01-01",
			EndDate:          "2023-01-01",
			DepositAmount:    450.00,
			DepositProtected: true,
		},
		Issues: []casefile.IssueType{casefile.IssueCleaning},
	}
}
