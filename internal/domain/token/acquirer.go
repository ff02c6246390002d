package token

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/ehr/eligibility/pkg/client"
)

// DefaultExpiresIn applies when the token response has no usable expires_in.
const DefaultExpiresIn = 3600 * time.Second

// BearerPrefix is the Authorization scheme stored with every token value.
const BearerPrefix = "Bearer "

// AcquisitionError is the failure of a single acquisition attempt. Status is
// the HTTP status from the gateway, or 0 when the gateway was unreachable.
type AcquisitionError struct {
	Status  int
	Message string
	Err     error
}

func (e *AcquisitionError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("token acquisition failed (status %d): %s", e.Status, e.Message)
	}
	return "token acquisition failed: " + e.Message
}

func (e *AcquisitionError) Unwrap() error {
	return e.Err
}

// Acquirer obtains a new token and hands it to the cache.
type Acquirer interface {
	Acquire(ctx context.Context) (Record, error)
}

// TokenEndpoint is the part of the gateway client used for acquisition.
type TokenEndpoint interface {
	Token(ctx context.Context) (*client.TokenData, error)
}

// GatewayAcquirer exchanges client credentials for a token through the
// gateway's token endpoint. It makes exactly one call per Acquire.
type GatewayAcquirer struct {
	endpoint TokenEndpoint
	cache    *Cache
}

func NewGatewayAcquirer(endpoint TokenEndpoint, cache *Cache) *GatewayAcquirer {
	return &GatewayAcquirer{endpoint: endpoint, cache: cache}
}

// Acquire calls the token endpoint and persists the result.
func (a *GatewayAcquirer) Acquire(ctx context.Context) (Record, error) {
	data, err := a.endpoint.Token(ctx)
	if err != nil {
		var apiErr *client.APIError
		if errors.As(err, &apiErr) {
			return Record{}, &AcquisitionError{Status: apiErr.Status, Message: apiErr.Message, Err: err}
		}
		return Record{}, &AcquisitionError{Message: "token endpoint unreachable: " + err.Error(), Err: err}
	}
	if data == nil || data.AccessToken == "" {
		return Record{}, &AcquisitionError{Message: "token response did not include access_token"}
	}

	value := data.AccessToken
	if !strings.HasPrefix(value, BearerPrefix) {
		value = BearerPrefix + value
	}
	rec := Record{
		Value:     value,
		ExpiresAt: a.cache.Now().Add(ParseExpiresIn(data.ExpiresIn)),
	}
	a.cache.Persist(ctx, rec.Value, rec.ExpiresAt)
	return rec, nil
}

// ParseExpiresIn reads an expires_in value given as a JSON number or a
// numeric string. Anything absent, unparseable or non-positive yields
// DefaultExpiresIn.
func ParseExpiresIn(v any) time.Duration {
	var secs float64
	switch x := v.(type) {
	case float64:
		secs = x
	case int:
		secs = float64(x)
	case int64:
		secs = float64(x)
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(x), 64)
		if err != nil {
			return DefaultExpiresIn
		}
		secs = f
	default:
		return DefaultExpiresIn
	}
	if secs <= 0 || math.IsNaN(secs) || math.IsInf(secs, 0) || secs > math.MaxInt64/float64(time.Second) {
		return DefaultExpiresIn
	}
	return time.Duration(secs * float64(time.Second))
}
