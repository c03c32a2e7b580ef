// Package casefile holds the read-only case file snapshot the engine
// consumes from the intake collaborator. The engine never mutates
// a CaseFile; completeness is computed, not stored.
package casefile

// UserRole identifies which party supplied the case file.
type UserRole string

const (
	RoleTenant   UserRole = "tenant"
	RoleLandlord UserRole = "landlord"
)

// IssueType enumerates the dispute categories the reranker and synthesizer
// reason over.
type IssueType string

const (
	IssueCleaning          IssueType = "cleaning"
	IssueDamage            IssueType = "damage"
	IssueDepositProtection IssueType = "deposit-protection"
	IssueRentArrears       IssueType = "rent-arrears"
	IssueRedecoration      IssueType = "redecoration"
	IssueGardening         IssueType = "gardening"
	IssueOther             IssueType = "other"
)

// EvidenceType classifies an evidence item for the reranker's Jaccard overlap
// term.
type EvidenceType string

const (
	EvidencePhoto      EvidenceType = "photo"
	EvidenceInventory  EvidenceType = "inventory"
	EvidenceCorrespondence EvidenceType = "correspondence"
	EvidenceReceipt    EvidenceType = "receipt"
	EvidenceWitness    EvidenceType = "witness_statement"
	EvidenceOther      EvidenceType = "other"
)

// Property describes the let property.
type Property struct {
	Address  string `json:"address"`
	Postcode string `json:"postcode"`
	Region   string `json:"region"` // three-letter tribunal region code
	Type     string `json:"type"`   // e.g. "flat", "house", "HMO room"
}

// Tenancy describes the tenancy terms relevant to the dispute.
type Tenancy struct {
	StartDate              string  `json:"start_date"`
	EndDate                string  `json:"end_date,omitempty"`
	RentPCM                float64 `json:"rent_pcm"`
	DepositAmount          float64 `json:"deposit_amount"`
	DepositProtected       bool    `json:"deposit_protected"`
	DepositProtectionScheme string `json:"deposit_protection_scheme,omitempty"`
}

// Evidence is a single piece of supporting material. ExtractedText, when
// present, comes from the evidence collaborator — the engine never
// fetches the underlying blob itself.
type Evidence struct {
	ID            string       `json:"id"`
	Type          EvidenceType `json:"type"`
	Description   string       `json:"description"`
	ExtractedText string       `json:"extracted_text,omitempty"`
}

// ClaimedAmount is a per-issue monetary claim with references to supporting
// evidence items.
type ClaimedAmount struct {
	Issue       IssueType `json:"issue"`
	Amount      float64   `json:"amount"`
	EvidenceIDs []string  `json:"evidence_ids,omitempty"`
}

// CaseFile is the user-supplied dispute. Owned by the intake collaborator;
// the engine borrows a read-only snapshot.
type CaseFile struct {
	CaseID   string   `json:"case_id"`
	UserRole UserRole `json:"user_role"`

	Property Property `json:"property"`
	Tenancy  Tenancy  `json:"tenancy"`

	Issues         []IssueType     `json:"issues"`
	Evidence       []Evidence      `json:"evidence"`
	ClaimedAmounts []ClaimedAmount `json:"claimed_amounts"`
	Narrative      string          `json:"narrative"`
}

// requiredFields names the five fields required for intake_complete. Kept
// here (not as engine config) because they are
// named invariants of the data model itself; RequiredFields in
// SynthesisConfig mirrors this list for display purposes and may be
// overridden without changing this function's semantics.
var requiredFields = []string{
	"property_address",
	"tenancy_start_date",
	"deposit_amount",
	"issues",
	"deposit_protection_status",
}

// MissingRequiredFields reports which of the five required fields are
// absent. DepositProtected has no "unset" representation distinct from
// false, so its required-field semantics are: always present once a
// CaseFile exists — it participates in intake_complete only in the sense
// that the zero value is a valid, complete answer ("not protected").
func MissingRequiredFields(cf CaseFile) []string {
	var missing []string
	if cf.Property.Address == "" {
		missing = append(missing, "property_address")
	}
	if cf.Tenancy.StartDate == "" {
		missing = append(missing, "tenancy_start_date")
	}
	if cf.Tenancy.DepositAmount <= 0 {
		missing = append(missing, "deposit_amount")
	}
	if len(cf.Issues) == 0 {
		missing = append(missing, "issues")
	}
	return missing
}

// IntakeComplete reports whether every required field is present.
// Invariant: IntakeComplete(cf) == (len(MissingRequiredFields(cf)) == 0).
func IntakeComplete(cf CaseFile) bool {
	return len(MissingRequiredFields(cf)) == 0
}

// CompletenessScore is the fraction of eight intake fields that are filled
// in: address, postcode, start date, deposit amount, issues, evidence,
// narrative and end date. Deposit-protection status is not counted.
// Used only for UI progress hints by the (out-of-scope) intake
// collaborator; the engine itself gates purely on IntakeComplete.
func CompletenessScore(cf CaseFile) float64 {
	total := 8.0
	filled := 0.0
	if cf.Property.Address != "" {
		filled++
	}
	if cf.Property.Postcode != "" {
		filled++
	}
	if cf.Tenancy.StartDate != "" {
		filled++
	}
	if cf.Tenancy.DepositAmount > 0 {
		filled++
	}
	if len(cf.Issues) > 0 {
		filled++
	}
	if len(cf.Evidence) > 0 {
		filled++
	}
	if cf.Narrative != "" {
		filled++
	}
	if cf.Tenancy.EndDate != "" {
		filled++
	}
	return filled / total
}

// EvidenceTypeSet returns the distinct evidence types present in the case
// file, for the reranker's evidence term.
func EvidenceTypeSet(cf CaseFile) map[EvidenceType]struct{} {
	set := make(map[EvidenceType]struct{}, len(cf.Evidence))
	for _, e := range cf.Evidence {
		set[e.Type] = struct{}{}
	}
	return set
}
