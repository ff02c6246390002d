// Package uhc forwards gateway requests to the external eligibility API.
package uhc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ehr/eligibility/pkg/client"
)

// Upstream endpoint paths, relative to the API base URL.
const (
	EligibilityPath   = "/api/external/member/eligibility/v3.0"
	CoveragePath      = "/api/appservices/copayCoinsuranceDetails/v5.0"
	MemberCardPath    = "/api/extended/memberIdCard/image/v3.0"
	NetworkStatusPath = "/api/external/networkStatus/v4.0"
)

// maxBodySize caps how much of an upstream response is read.
const maxBodySize = 16 << 20

type Config struct {
	ClientID     string
	ClientSecret string
	OAuthURL     string
	BaseURL      string
	Env          string
	Timeout      time.Duration
}

// Upstream is the HTTP client for the external API. It holds the client
// credentials and injects the API headers into every call.
type Upstream struct {
	cfg    Config
	http   *http.Client
	logger zerolog.Logger
}

type Option func(*Upstream)

func WithHTTPClient(hc *http.Client) Option {
	return func(u *Upstream) { u.http = hc }
}

func WithLogger(l zerolog.Logger) Option {
	return func(u *Upstream) { u.logger = l }
}

func New(cfg Config, opts ...Option) *Upstream {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	u := &Upstream{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// TransportError is a failure to get any HTTP response from the upstream.
type TransportError struct {
	Op      string
	Timeout bool
	Err     error
}

func (e *TransportError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: request timed out", e.Op)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Token exchanges the client credentials for a bearer token.
func (u *Upstream) Token(ctx context.Context) (*Relay, error) {
	payload := map[string]string{
		"client_id":     u.cfg.ClientID,
		"client_secret": u.cfg.ClientSecret,
		"grant_type":    "client_credentials",
	}
	headers := http.Header{}
	headers.Set("Content-Type", "application/json")
	if u.cfg.Env != "" {
		headers.Set("env", u.cfg.Env)
	}
	return u.send(ctx, "token", u.cfg.OAuthURL, headers, payload)
}

// Eligibility looks up a member's policies.
func (u *Upstream) Eligibility(ctx context.Context, req client.EligibilityRequest) (*Relay, error) {
	searchOption := req.SearchOption
	if searchOption == "" {
		searchOption = client.DefaultSearchOption
	}
	payload := map[string]string{
		"memberId":         req.MemberID,
		"dateOfBirth":      req.DateOfBirth,
		"searchOption":     searchOption,
		"payerID":          req.PayerID,
		"providerLastName": req.ProviderLastName,
		"taxIdNumber":      req.TaxIDNumber,
		"firstName":        req.FirstName,
		"lastName":         req.LastName,
	}
	if req.ServiceStart != "" {
		payload["serviceStart"] = req.ServiceStart
	}
	if req.ServiceEnd != "" {
		payload["serviceEnd"] = req.ServiceEnd
	}
	return u.send(ctx, "eligibility", u.cfg.BaseURL+EligibilityPath, u.apiHeaders(req.Token, true), payload)
}

// Coverage fetches copay and coinsurance details for a policy.
func (u *Upstream) Coverage(ctx context.Context, req client.CoverageRequest) (*Relay, error) {
	payload := map[string]string{
		"patientKey":    req.PatientKey,
		"transactionId": req.TransactionID,
	}
	return u.send(ctx, "coverage", u.cfg.BaseURL+CoveragePath, u.apiHeaders(req.Token, true), payload)
}

// MemberCard fetches the ID card image. The upstream rejects the env header
// on this endpoint, so it is not sent.
func (u *Upstream) MemberCard(ctx context.Context, req client.MemberCardRequest) (*Relay, error) {
	payload := map[string]string{
		"transactionId": req.TransactionID,
		"memberId":      req.MemberID,
		"dateOfBirth":   req.DateOfBirth,
		"payerId":       req.PayerID,
		"firstName":     req.FirstName,
	}
	return u.send(ctx, "member-card", u.cfg.BaseURL+MemberCardPath, u.apiHeaders(req.Token, false), payload)
}

// NetworkStatus checks whether a provider is in network for the member.
func (u *Upstream) NetworkStatus(ctx context.Context, req client.NetworkStatusRequest) (*Relay, error) {
	payload := map[string]string{
		"memberId":           req.MemberID,
		"dateOfBirth":        req.DateOfBirth,
		"providerLastName":   req.ProviderLastName,
		"firstDateOfService": req.FirstDateOfService,
		"lastDateOfService":  req.LastDateOfService,
		"familyIndicator":    "N",
		"payerID":            req.PayerID,
		"taxIdNumber":        "",
		"firstName":          req.FirstName,
		"lastName":           req.LastName,
	}
	if req.TransactionID != "" {
		payload["transactionId"] = req.TransactionID
	} else {
		payload["providerMpin"] = ""
	}
	if req.ProviderFirstName != "" {
		payload["providerFirstName"] = req.ProviderFirstName
	}
	if req.ProviderTin != "" {
		payload["providerTin"] = req.ProviderTin
	}
	if req.ProviderNpi != "" {
		payload["providerNpi"] = req.ProviderNpi
	}
	return u.send(ctx, "network-status", u.cfg.BaseURL+NetworkStatusPath, u.apiHeaders(req.Token, true), payload)
}

func (u *Upstream) apiHeaders(token string, withEnv bool) http.Header {
	h := http.Header{}
	if token != "" && !strings.HasPrefix(token, "Bearer ") {
		token = "Bearer " + token
	}
	h.Set("Authorization", token)
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	h.Set("X-API-Key", u.cfg.ClientID)
	h.Set("Client-Id", u.cfg.ClientID)
	if withEnv && u.cfg.Env != "" {
		h.Set("env", u.cfg.Env)
	}
	return h
}

func (u *Upstream) send(ctx context.Context, op, url string, headers http.Header, payload any) (*Relay, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("%s: marshaling payload: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s: creating request: %w", op, err)
	}
	req.Header = headers

	start := time.Now()
	resp, err := u.http.Do(req)
	if err != nil {
		u.logger.Warn().Err(err).Str("op", op).Dur("duration", time.Since(start)).Msg("upstream request failed")
		return nil, &TransportError{Op: op, Timeout: isTimeout(err), Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, &TransportError{Op: op, Timeout: isTimeout(err), Err: fmt.Errorf("reading response: %w", err)}
	}

	u.logger.Debug().
		Str("op", op).
		Int("status", resp.StatusCode).
		Str("content_type", resp.Header.Get("Content-Type")).
		Int("bytes", len(data)).
		Dur("duration", time.Since(start)).
		Msg("upstream response")

	return &Relay{
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Body:        data,
	}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
