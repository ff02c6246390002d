package eligibility

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ehr/eligibility/pkg/client"
)

// SearchRequest is a patient eligibility search. MemberID and DateOfBirth
// are required; DateOfBirth is always ISO (YYYY-MM-DD) once it reaches the
// orchestrator.
type SearchRequest struct {
	MemberID         string `json:"memberId"`
	DateOfBirth      string `json:"dateOfBirth"`
	FirstName        string `json:"firstName,omitempty"`
	LastName         string `json:"lastName,omitempty"`
	PayerID          string `json:"payerId,omitempty"`
	ProviderLastName string `json:"providerLastName,omitempty"`
	TaxIDNumber      string `json:"taxIdNumber,omitempty"`
	SearchOption     string `json:"searchOption,omitempty"`
	ServiceStart     string `json:"serviceStart,omitempty"`
	ServiceEnd       string `json:"serviceEnd,omitempty"`
}

// Missing lists the empty required fields.
func (r SearchRequest) Missing() []string {
	var out []string
	if strings.TrimSpace(r.MemberID) == "" {
		out = append(out, "memberId")
	}
	if strings.TrimSpace(r.DateOfBirth) == "" {
		out = append(out, "dateOfBirth")
	}
	return out
}

func (r SearchRequest) toGateway(token string) client.EligibilityRequest {
	opt := r.SearchOption
	if opt == "" {
		opt = client.DefaultSearchOption
	}
	return client.EligibilityRequest{
		Token:            token,
		MemberID:         strings.TrimSpace(r.MemberID),
		DateOfBirth:      r.DateOfBirth,
		SearchOption:     opt,
		PayerID:          r.PayerID,
		ProviderLastName: r.ProviderLastName,
		TaxIDNumber:      r.TaxIDNumber,
		FirstName:        r.FirstName,
		LastName:         r.LastName,
		ServiceStart:     r.ServiceStart,
		ServiceEnd:       r.ServiceEnd,
	}
}

// MemberCard is the stored outcome of a member card lookup: either a blob
// key for the image bytes or the upstream's non-image message.
type MemberCard struct {
	ContentType string          `json:"content_type"`
	BlobKey     string          `json:"blob_key,omitempty"`
	Size        int             `json:"size,omitempty"`
	Message     json.RawMessage `json:"message,omitempty"`
}

// HasImage reports whether image bytes were stored.
func (m *MemberCard) HasImage() bool {
	return m != nil && m.BlobKey != ""
}

// SearchRecord maps to the eligibility_search table. Coverage and MemberCard
// are nil when the enrichment was skipped or failed.
type SearchRecord struct {
	ID          uuid.UUID       `db:"id" json:"id"`
	MemberID    string          `db:"member_id" json:"member_id"`
	PatientName string          `db:"patient_name" json:"patient_name"`
	DateOfBirth string          `db:"date_of_birth" json:"date_of_birth"`
	SearchedAt  time.Time       `db:"searched_at" json:"searched_at"`
	SearchedBy  string          `db:"searched_by" json:"searched_by,omitempty"`
	Eligibility json.RawMessage `db:"eligibility" json:"eligibility"`
	Coverage    json.RawMessage `db:"coverage" json:"coverage,omitempty"`
	MemberCard  *MemberCard     `db:"member_card" json:"member_card,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// HasCoverage reports whether coverage details were attached.
func (r *SearchRecord) HasCoverage() bool {
	return len(r.Coverage) > 0
}

// Diagnostic records why an enrichment is absent from a result.
type Diagnostic struct {
	Stage   string `json:"stage"`
	Message string `json:"message"`
}

// Enrichment stages reported in diagnostics.
const (
	StageCoverage   = "coverage"
	StageMemberCard = "member-card"
	StagePersist    = "persist"
)

// SearchResult is what a completed search returns.
type SearchResult struct {
	Record      *SearchRecord `json:"record"`
	Policy      PolicySummary `json:"policy"`
	Persisted   bool          `json:"persisted"`
	Diagnostics []Diagnostic  `json:"diagnostics,omitempty"`
}

func (r *SearchResult) note(stage, msg string) {
	r.Diagnostics = append(r.Diagnostics, Diagnostic{Stage: stage, Message: msg})
}
