package client

import (
	"encoding/json"
	"fmt"
)

// Envelope is the body of every gateway response.
type Envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   *ErrorBody      `json:"error,omitempty"`
}

// ErrorBody is the failure half of an Envelope.
type ErrorBody struct {
	Status  int    `json:"status"`
	Message string `json:"message"`
}

// APIError is returned for any non-success envelope. Message is the
// upstream's own text whenever the upstream provided one.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway error (status %d): %s", e.Status, e.Message)
}
