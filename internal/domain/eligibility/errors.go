package eligibility

import (
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned by repositories for an unknown record id.
var ErrNotFound = errors.New("search record not found")

// Terminal failure stages of a search.
const (
	StageValidation    = "validation"
	StageNoToken       = "no-token"
	StageEligibility   = "eligibility"
	StageNetworkStatus = "network-status"
)

// ValidationError lists required fields that were empty or malformed. It is
// raised before any network call.
type ValidationError struct {
	Fields []string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Reason != "" {
		return e.Reason
	}
	return "missing required fields: " + strings.Join(e.Fields, ", ")
}

// SearchError is a search that ended in a failed terminal state. Message is
// the upstream's own text when it supplied one. Status is the HTTP status of
// the failing call, or 0 when there was none.
type SearchError struct {
	Stage   string
	Status  int
	Message string
	Err     error
}

func (e *SearchError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("%s failed (status %d): %s", e.Stage, e.Status, e.Message)
	}
	return fmt.Sprintf("%s failed: %s", e.Stage, e.Message)
}

func (e *SearchError) Unwrap() error {
	return e.Err
}
