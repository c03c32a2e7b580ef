package retrieval

import (
	"sort"
	"strings"

	"github.com/ukdeposit/tribunalengine/casefile"
	"github.com/ukdeposit/tribunalengine/store"
)

// RerankConfig controls Stage 2 domain rerank.
type RerankConfig struct {
	IssueMatchWeight   float64
	TemporalWeight     float64
	RegionWeight       float64
	EvidenceWeight     float64
	RRFNormWeight      float64
	TemporalDecayYears int
	IssueKeywords      map[string][]string
}

// RerankContext carries the case-specific signals Stage 2 scores candidates
// against: the issues under dispute, the tenancy's end year, the property
// region, and the evidence types the tenant/landlord has on file.
type RerankContext struct {
	Issues        []casefile.IssueType
	TenancyEndYear int
	Region        string
	EvidenceTypes map[casefile.EvidenceType]struct{}
}

// Scored pairs a retrieval result with its Stage 2 factor breakdown.
type Scored struct {
	store.RetrievalResult
	IssueMatchScore float64
	TemporalScore   float64
	RegionScore     float64
	EvidenceScore   float64
	RRFNormScore    float64
	FinalScore      float64
}

// Rerank applies the Stage 2 domain-specific scoring function:
//
//	final = 0.4*issue_match + 0.2*temporal + 0.1*region + 0.2*evidence + 0.1*rrf_normalized
//
// Ties are broken by (higher year, then lower case_reference lexicographically).
func Rerank(results []store.RetrievalResult, rrfNorm map[int64]float64, rc RerankContext, cfg RerankConfig) []Scored {
	scored := make([]Scored, len(results))
	for i, r := range results {
		im := issueMatchScore(r, rc.Issues, cfg.IssueKeywords)
		tm := temporalScore(r.Year, rc.TenancyEndYear, cfg.TemporalDecayYears)
		rg := regionScore(r.Region, rc.Region)
		ev := evidenceScore(r, rc.EvidenceTypes)
		rn := rrfNorm[r.ChunkID]

		final := cfg.IssueMatchWeight*im + cfg.TemporalWeight*tm + cfg.RegionWeight*rg +
			cfg.EvidenceWeight*ev + cfg.RRFNormWeight*rn

		scored[i] = Scored{
			RetrievalResult: r,
			IssueMatchScore: im,
			TemporalScore:   tm,
			RegionScore:     rg,
			EvidenceScore:   ev,
			RRFNormScore:    rn,
			FinalScore:      final,
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].FinalScore != scored[j].FinalScore {
			return scored[i].FinalScore > scored[j].FinalScore
		}
		if scored[i].Year != scored[j].Year {
			return scored[i].Year > scored[j].Year
		}
		return scored[i].CaseReference < scored[j].CaseReference
	})

	return scored
}

// issueMatchScore measures what fraction of the case's claimed issues have
// a keyword hit in the chunk's content, against the default dictionary,
// overridable via RerankConfig.IssueKeywords.
func issueMatchScore(r store.RetrievalResult, issues []casefile.IssueType, keywords map[string][]string) float64 {
	if len(issues) == 0 {
		return 0.5 // neutral when the case has no resolved issue list yet
	}
	lower := strings.ToLower(r.Content + " " + r.Heading)
	matched := 0
	for _, issue := range issues {
		for _, kw := range keywords[string(issue)] {
			if strings.Contains(lower, strings.ToLower(kw)) {
				matched++
				break
			}
		}
	}
	return float64(matched) / float64(len(issues))
}

// temporalScore rewards decisions closer to the tenancy's end year, decaying
// linearly to zero over decayYears.
func temporalScore(caseYear, tenancyEndYear, decayYears int) float64 {
	if tenancyEndYear == 0 || caseYear == 0 {
		return 0.5
	}
	if decayYears <= 0 {
		decayYears = 20
	}
	delta := caseYear - tenancyEndYear
	if delta < 0 {
		delta = -delta
	}
	score := 1.0 - float64(delta)/float64(decayYears)
	if score < 0 {
		return 0
	}
	return score
}

// regionScore rewards an exact region match; an empty case region (the
// case's own region not yet known) scores neutral rather than zero.
func regionScore(candidateRegion, caseRegion string) float64 {
	if caseRegion == "" || candidateRegion == "" {
		return 0.5
	}
	if strings.EqualFold(candidateRegion, caseRegion) {
		return 1.0
	}
	return 0.0
}

// evidenceScore is the fraction of the case file's evidence types whose name
// appears in the chunk content: 0.2 when none appears, 0.5 when the case has
// no evidence on record. Chunks carry no evidence-type classification of
// their own, so this is not a Jaccard overlap.
func evidenceScore(r store.RetrievalResult, evidence map[casefile.EvidenceType]struct{}) float64 {
	if len(evidence) == 0 {
		return 0.5
	}
	lower := strings.ToLower(r.Content)
	hits := 0
	for et := range evidence {
		if strings.Contains(lower, strings.ToLower(string(et))) {
			hits++
		}
	}
	if hits == 0 {
		return 0.2
	}
	score := float64(hits) / float64(len(evidence))
	if score > 1 {
		score = 1
	}
	return score
}
