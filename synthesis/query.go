package synthesis

import (
	"fmt"
	"strings"

	"github.com/ukdeposit/tribunalengine/casefile"
	"github.com/ukdeposit/tribunalengine/retrieval"
)

// narrativeTruncateChars bounds how much of a free-text narrative feeds the
// retrieval query, keeping it a query rather than a document.
const narrativeTruncateChars = 400

// BuildQuery renders a CaseFile into the text the hybrid retriever searches
// against: role, issues, deposit amount and protection
// status, an evidence summary, region, and a truncated narrative.
func BuildQuery(cf casefile.CaseFile) string {
	var b strings.Builder

	fmt.Fprintf(&b, "%s dispute", string(cf.UserRole))
	if cf.Property.Region != "" {
		fmt.Fprintf(&b, " in %s", cf.Property.Region)
	}
	b.WriteString(". ")

	if len(cf.Issues) > 0 {
		issues := make([]string, len(cf.Issues))
		for i, iss := range cf.Issues {
			issues[i] = string(iss)
		}
		fmt.Fprintf(&b, "Issues: %s. ", strings.Join(issues, ", "))
	}

	fmt.Fprintf(&b, "Deposit amount: %.2f. ", cf.Tenancy.DepositAmount)
	if cf.Tenancy.DepositProtected {
		scheme := cf.Tenancy.DepositProtectionScheme
		if scheme == "" {
			scheme = "a protection scheme"
		}
		fmt.Fprintf(&b, "Deposit was protected under %s. ", scheme)
	} else {
		b.WriteString("Deposit was not protected. ")
	}

	if len(cf.Evidence) > 0 {
		types := make(map[casefile.EvidenceType]int)
		for _, e := range cf.Evidence {
			types[e.Type]++
		}
		parts := make([]string, 0, len(types))
		for t, n := range types {
			parts = append(parts, fmt.Sprintf("%d %s", n, t))
		}
		fmt.Fprintf(&b, "Evidence on file: %s. ", strings.Join(parts, ", "))
	}

	if cf.Narrative != "" {
		n := cf.Narrative
		if len(n) > narrativeTruncateChars {
			n = n[:narrativeTruncateChars]
		}
		fmt.Fprintf(&b, "Narrative: %s", n)
	}

	return strings.TrimSpace(b.String())
}

// BuildRerankContext derives the Stage 2 reranker context from a CaseFile:
// issue list, tenancy end year, region, and evidence types.
func BuildRerankContext(cf casefile.CaseFile) retrieval.RerankContext {
	year := 0
	if len(cf.Tenancy.EndDate) >= 4 {
		fmt.Sscanf(cf.Tenancy.EndDate[:4], "%d", &year)
	} else if len(cf.Tenancy.StartDate) >= 4 {
		fmt.Sscanf(cf.Tenancy.StartDate[:4], "%d", &year)
	}

	return retrieval.RerankContext{
		Issues:         cf.Issues,
		TenancyEndYear: year,
		Region:         cf.Property.Region,
		EvidenceTypes:  casefile.EvidenceTypeSet(cf),
	}
}
