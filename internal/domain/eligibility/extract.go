package eligibility

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// looseString accepts a JSON string, number, bool or null. The upstream is
// not consistent about quoting identifiers.
type looseString string

func (s *looseString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*s = ""
		return nil
	}
	switch b[0] {
	case '"':
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*s = looseString(str)
	case '{', '[':
		*s = ""
	default:
		if _, err := strconv.ParseFloat(string(b), 64); err == nil || string(b) == "true" || string(b) == "false" {
			*s = looseString(b)
			return nil
		}
		return fmt.Errorf("unexpected JSON value %s", b)
	}
	return nil
}

func (s looseString) String() string {
	return strings.TrimSpace(string(s))
}

type patientInfo struct {
	PatientKey   looseString `json:"patientKey"`
	FirstName    looseString `json:"firstName"`
	MiddleName   looseString `json:"middleName"`
	LastName     looseString `json:"lastName"`
	DateOfBirth  looseString `json:"dateOfBirth"`
	Gender       looseString `json:"gender"`
	Relationship looseString `json:"relationship"`
}

type insuranceInfo struct {
	MemberID        looseString `json:"memberId"`
	PayerID         looseString `json:"payerId"`
	PayerName       looseString `json:"payerName"`
	GroupNumber     looseString `json:"groupNumber"`
	InsuranceType   looseString `json:"insuranceType"`
	PlanDescription looseString `json:"planDescription"`
	LineOfBusiness  looseString `json:"lineOfBusiness"`
}

type dateRange struct {
	StartDate looseString `json:"startDate"`
	EndDate   looseString `json:"endDate"`
}

type policyInfo struct {
	PolicyStatus     looseString `json:"policyStatus"`
	CoverageType     looseString `json:"coverageType"`
	EligibilityDates dateRange   `json:"eligibilityDates"`
}

type memberPolicy struct {
	TransactionID looseString   `json:"transactionId"`
	PatientInfo   []patientInfo `json:"patientInfo"`
	InsuranceInfo insuranceInfo `json:"insuranceInfo"`
	PolicyInfo    policyInfo    `json:"policyInfo"`
}

type eligibilityBody struct {
	MemberPolicies []memberPolicy `json:"memberPolicies"`
}

// PolicySummary is the transient extraction from the first policy of an
// eligibility response. Only policy index 0 is read; PolicyCount tells the
// caller when more were returned.
type PolicySummary struct {
	PolicyCount      int    `json:"policy_count"`
	TransactionID    string `json:"transaction_id,omitempty"`
	PatientKey       string `json:"patient_key,omitempty"`
	FirstName        string `json:"first_name,omitempty"`
	MiddleName       string `json:"middle_name,omitempty"`
	LastName         string `json:"last_name,omitempty"`
	DateOfBirth      string `json:"date_of_birth,omitempty"`
	Gender           string `json:"gender,omitempty"`
	Relationship     string `json:"relationship,omitempty"`
	MemberID         string `json:"member_id,omitempty"`
	PayerID          string `json:"payer_id,omitempty"`
	PayerName        string `json:"payer_name,omitempty"`
	GroupNumber      string `json:"group_number,omitempty"`
	PlanDescription  string `json:"plan_description,omitempty"`
	PolicyStatus     string `json:"policy_status,omitempty"`
	CoverageType     string `json:"coverage_type,omitempty"`
	EligibilityStart string `json:"eligibility_start,omitempty"`
	EligibilityEnd   string `json:"eligibility_end,omitempty"`
}

// ExtractFirstPolicy reads the first entry of memberPolicies. A response
// with no policies yields a zero summary and no error.
func ExtractFirstPolicy(raw json.RawMessage) (PolicySummary, error) {
	var body eligibilityBody
	if err := json.Unmarshal(raw, &body); err != nil {
		return PolicySummary{}, fmt.Errorf("decoding eligibility response: %w", err)
	}
	if len(body.MemberPolicies) == 0 {
		return PolicySummary{}, nil
	}

	p := body.MemberPolicies[0]
	s := PolicySummary{
		PolicyCount:      len(body.MemberPolicies),
		TransactionID:    p.TransactionID.String(),
		MemberID:         p.InsuranceInfo.MemberID.String(),
		PayerID:          p.InsuranceInfo.PayerID.String(),
		PayerName:        p.InsuranceInfo.PayerName.String(),
		GroupNumber:      p.InsuranceInfo.GroupNumber.String(),
		PlanDescription:  p.InsuranceInfo.PlanDescription.String(),
		PolicyStatus:     p.PolicyInfo.PolicyStatus.String(),
		CoverageType:     p.PolicyInfo.CoverageType.String(),
		EligibilityStart: p.PolicyInfo.EligibilityDates.StartDate.String(),
		EligibilityEnd:   p.PolicyInfo.EligibilityDates.EndDate.String(),
	}
	if len(p.PatientInfo) > 0 {
		pi := p.PatientInfo[0]
		s.PatientKey = pi.PatientKey.String()
		s.FirstName = pi.FirstName.String()
		s.MiddleName = pi.MiddleName.String()
		s.LastName = pi.LastName.String()
		s.DateOfBirth = pi.DateOfBirth.String()
		s.Gender = pi.Gender.String()
		s.Relationship = pi.Relationship.String()
	}
	return s, nil
}

// PatientName joins the non-empty name parts.
func (s PolicySummary) PatientName() string {
	var parts []string
	for _, p := range []string{s.FirstName, s.MiddleName, s.LastName} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// CoverageKeysMissing lists what the coverage lookup needs but lacks.
func (s PolicySummary) CoverageKeysMissing() []string {
	var out []string
	if s.PatientKey == "" {
		out = append(out, "patientKey")
	}
	if s.TransactionID == "" {
		out = append(out, "transactionId")
	}
	return out
}

// MemberCardKeysMissing lists what the member card lookup needs but lacks.
func (s PolicySummary) MemberCardKeysMissing() []string {
	var out []string
	for _, f := range []struct{ name, v string }{
		{"memberId", s.MemberID},
		{"payerId", s.PayerID},
		{"firstName", s.FirstName},
		{"transactionId", s.TransactionID},
		{"dateOfBirth", s.DateOfBirth},
	} {
		if f.v == "" {
			out = append(out, f.name)
		}
	}
	return out
}
