// Package client is a Go client for the eligibility gateway's /api/uhc surface.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout bounds a single gateway round trip.
const DefaultTimeout = 60 * time.Second

// Client talks to a running gateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	userAgent  string
	authorize  func(ctx context.Context) string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying *http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithTimeout sets the per-request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) { c.userAgent = ua }
}

// WithAuthorization sets a function that returns the Authorization header for
// each request. An empty result sends no header.
func WithAuthorization(fn func(ctx context.Context) string) Option {
	return func(c *Client) { c.authorize = fn }
}

// WithBearerToken sends a fixed application bearer token on every request.
func WithBearerToken(token string) Option {
	return WithAuthorization(func(context.Context) string {
		if token == "" {
			return ""
		}
		return "Bearer " + token
	})
}

// New returns a client for the gateway at baseURL (e.g. http://localhost:8000).
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		userAgent:  "eligibility-client/1",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the gateway address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

func (c *Client) url(path string) string {
	return c.baseURL + path
}

func (c *Client) post(ctx context.Context, path string, payload, result any) error {
	if payload == nil {
		payload = struct{}{}
	}
	bodyBytes, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url(path), bytes.NewReader(bodyBytes))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	if c.authorize != nil {
		if v := c.authorize(ctx); v != "" {
			req.Header.Set("Authorization", v)
		}
	}
	return c.do(req, result)
}

func (c *Client) do(req *http.Request, result any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("connection failed: %w", err)
	}
	defer func(Body io.ReadCloser) {
		_ = Body.Close()
	}(resp.Body)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response (status %d): %w", resp.StatusCode, err)
	}

	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if resp.StatusCode >= 400 {
			return parseErrorBody(resp.StatusCode, body)
		}
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if !env.Success || resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if env.Error != nil {
			if env.Error.Status != 0 {
				apiErr.Status = env.Error.Status
			}
			if env.Error.Message != "" {
				apiErr.Message = env.Error.Message
			}
		}
		return apiErr
	}

	if result != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return fmt.Errorf("failed to decode data: %w", err)
		}
	}
	return nil
}

func parseErrorBody(status int, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(status)
	}
	return &APIError{Status: status, Message: msg}
}

// StatusOf returns the HTTP status carried by an *APIError, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// MessageOf returns the upstream message carried by an *APIError, falling
// back to err.Error().
func MessageOf(err error) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
