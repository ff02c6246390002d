package client

import "encoding/json"

// DefaultSearchOption is the eligibility search mode keyed on member id and
// date of birth.
const DefaultSearchOption = "memberIDDateOfBirth"

// TokenData is the upstream OAuth token response relayed by the gateway.
// ExpiresIn is left untyped because providers send it as a number or string.
type TokenData struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	ExpiresIn   any    `json:"expires_in,omitempty"`
	Scope       string `json:"scope,omitempty"`
}

// EligibilityRequest is the body of POST /api/uhc/eligibility.
type EligibilityRequest struct {
	Token            string `json:"token"`
	MemberID         string `json:"memberId"`
	DateOfBirth      string `json:"dateOfBirth"`
	SearchOption     string `json:"searchOption"`
	PayerID          string `json:"payerID"`
	ProviderLastName string `json:"providerLastName"`
	TaxIDNumber      string `json:"taxIdNumber"`
	FirstName        string `json:"firstName"`
	LastName         string `json:"lastName"`
	ServiceStart     string `json:"serviceStart,omitempty"`
	ServiceEnd       string `json:"serviceEnd,omitempty"`
}

// Missing lists required fields that are empty.
func (r EligibilityRequest) Missing() []string {
	return missing(
		field{"token", r.Token},
		field{"memberId", r.MemberID},
		field{"dateOfBirth", r.DateOfBirth},
	)
}

// CoverageRequest is the body of POST /api/uhc/coverage.
type CoverageRequest struct {
	Token         string `json:"token"`
	PatientKey    string `json:"patientKey"`
	TransactionID string `json:"transactionId"`
}

func (r CoverageRequest) Missing() []string {
	return missing(
		field{"token", r.Token},
		field{"patientKey", r.PatientKey},
		field{"transactionId", r.TransactionID},
	)
}

// MemberCardRequest is the body of POST /api/uhc/member-card.
type MemberCardRequest struct {
	Token         string `json:"token"`
	TransactionID string `json:"transactionId"`
	MemberID      string `json:"memberId"`
	DateOfBirth   string `json:"dateOfBirth"`
	PayerID       string `json:"payerId"`
	FirstName     string `json:"firstName"`
}

func (r MemberCardRequest) Missing() []string {
	return missing(
		field{"token", r.Token},
		field{"transactionId", r.TransactionID},
		field{"memberId", r.MemberID},
		field{"dateOfBirth", r.DateOfBirth},
		field{"payerId", r.PayerID},
		field{"firstName", r.FirstName},
	)
}

// MemberCardData is the member card relayed by the gateway: either image
// bytes (base64 on the wire) or a message, always with the content type.
type MemberCardData struct {
	ImageData   []byte          `json:"imageData,omitempty"`
	ContentType string          `json:"contentType"`
	Message     json.RawMessage `json:"message,omitempty"`
}

// IsImage reports whether the card carries image bytes.
func (d *MemberCardData) IsImage() bool {
	return d != nil && len(d.ImageData) > 0
}

// NetworkStatusRequest is the body of POST /api/uhc/network-status.
type NetworkStatusRequest struct {
	Token              string `json:"token"`
	MemberID           string `json:"memberId"`
	DateOfBirth        string `json:"dateOfBirth"`
	FirstName          string `json:"firstName,omitempty"`
	LastName           string `json:"lastName,omitempty"`
	PayerID            string `json:"payerID,omitempty"`
	ProviderFirstName  string `json:"providerFirstName,omitempty"`
	ProviderLastName   string `json:"providerLastName"`
	ProviderTin        string `json:"providerTin,omitempty"`
	ProviderNpi        string `json:"providerNpi,omitempty"`
	FirstDateOfService string `json:"firstDateOfService"`
	LastDateOfService  string `json:"lastDateOfService"`
	TransactionID      string `json:"transactionId,omitempty"`
}

func (r NetworkStatusRequest) Missing() []string {
	return missing(
		field{"token", r.Token},
		field{"memberId", r.MemberID},
		field{"dateOfBirth", r.DateOfBirth},
		field{"providerLastName", r.ProviderLastName},
		field{"firstDateOfService", r.FirstDateOfService},
		field{"lastDateOfService", r.LastDateOfService},
	)
}

type field struct {
	name  string
	value string
}

func missing(fields ...field) []string {
	var out []string
	for _, f := range fields {
		if f.value == "" {
			out = append(out, f.name)
		}
	}
	return out
}
