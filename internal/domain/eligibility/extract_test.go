package eligibility

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestExtractFirstPolicy(t *testing.T) {
	s, err := ExtractFirstPolicy(json.RawMessage(fullEligibility))
	if err != nil {
		t.Fatalf("ExtractFirstPolicy: %v", err)
	}
	if s.PolicyCount != 2 {
		t.Errorf("expected 2 policies, got %d", s.PolicyCount)
	}
	if s.TransactionID != "TX1" || s.PatientKey != "PK1" || s.MemberID != "123456789" || s.PayerID != "87726" {
		t.Errorf("expected first policy values, got %+v", s)
	}
	if s.PatientName() != "Jane Doe" {
		t.Errorf("unexpected patient name %q", s.PatientName())
	}
	if len(s.CoverageKeysMissing()) != 0 || len(s.MemberCardKeysMissing()) != 0 {
		t.Error("expected all enrichment keys present")
	}
}

func TestExtractFirstPolicy_LooseTypes(t *testing.T) {
	raw := `{"memberPolicies":[{"transactionId":12345,"patientInfo":[{"patientKey":null,"firstName":" Ann "}],"insuranceInfo":{"payerId":87726,"memberId":{"nested":true}}}]}`
	s, err := ExtractFirstPolicy(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("ExtractFirstPolicy: %v", err)
	}
	if s.TransactionID != "12345" || s.PayerID != "87726" || s.FirstName != "Ann" {
		t.Errorf("unexpected summary %+v", s)
	}
	if s.MemberID != "" || s.PatientKey != "" {
		t.Errorf("objects and nulls should read as empty, got %+v", s)
	}
	if got := s.CoverageKeysMissing(); !reflect.DeepEqual(got, []string{"patientKey"}) {
		t.Errorf("unexpected coverage keys missing %v", got)
	}
	if got := s.MemberCardKeysMissing(); !reflect.DeepEqual(got, []string{"memberId", "dateOfBirth"}) {
		t.Errorf("unexpected member card keys missing %v", got)
	}
}

func TestExtractFirstPolicy_Empty(t *testing.T) {
	for _, raw := range []string{`{}`, `{"memberPolicies":[]}`, `{"memberPolicies":null}`} {
		s, err := ExtractFirstPolicy(json.RawMessage(raw))
		if err != nil {
			t.Errorf("%s: unexpected error %v", raw, err)
		}
		if s.PolicyCount != 0 {
			t.Errorf("%s: expected zero summary, got %+v", raw, s)
		}
	}
	if _, err := ExtractFirstPolicy(json.RawMessage(`not json`)); err == nil {
		t.Error("expected error for invalid JSON")
	}
}

func TestNormalizeDateOfBirth(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"01/15/1980", "1980-01-15", false},
		{"1/5/1980", "1980-01-05", false},
		{"1980-01-15", "1980-01-15", false},
		{" 12/31/1999 ", "1999-12-31", false},
		{"13/01/1980", "", true},
		{"15-01-1980", "", true},
		{"", "", true},
	}
	for _, tt := range tests {
		got, err := NormalizeDateOfBirth(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("NormalizeDateOfBirth(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("NormalizeDateOfBirth(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestFormatUSDate(t *testing.T) {
	tests := []struct{ in, want string }{
		{"", "N/A"},
		{"N/A", "N/A"},
		{"1980-01-15", "01/15/1980"},
		{"1980-01-15T00:00:00", "01/15/1980"},
		{"20240301", "03/01/2024"},
		{"01/15/1980", "01/15/1980"},
		{"someday", "someday"},
	}
	for _, tt := range tests {
		if got := FormatUSDate(tt.in); got != tt.want {
			t.Errorf("FormatUSDate(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
