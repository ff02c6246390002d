package client

import (
	"context"
	"encoding/json"
)

// Gateway paths.
const (
	PathToken         = "/api/uhc/token"
	PathEligibility   = "/api/uhc/eligibility"
	PathCoverage      = "/api/uhc/coverage"
	PathMemberCard    = "/api/uhc/member-card"
	PathNetworkStatus = "/api/uhc/network-status"
)

// Token asks the gateway to obtain a fresh upstream token.
func (c *Client) Token(ctx context.Context) (*TokenData, error) {
	var out TokenData
	if err := c.post(ctx, PathToken, struct{}{}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Eligibility runs an eligibility lookup and returns the raw upstream object.
func (c *Client) Eligibility(ctx context.Context, req EligibilityRequest) (json.RawMessage, error) {
	if req.SearchOption == "" {
		req.SearchOption = DefaultSearchOption
	}
	var out json.RawMessage
	if err := c.post(ctx, PathEligibility, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Coverage fetches copay and coinsurance details for one policy.
func (c *Client) Coverage(ctx context.Context, req CoverageRequest) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.post(ctx, PathCoverage, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// MemberCard fetches the member ID card image.
func (c *Client) MemberCard(ctx context.Context, req MemberCardRequest) (*MemberCardData, error) {
	var out MemberCardData
	if err := c.post(ctx, PathMemberCard, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NetworkStatus checks a provider's network status for a member.
func (c *Client) NetworkStatus(ctx context.Context, req NetworkStatusRequest) (json.RawMessage, error) {
	var out json.RawMessage
	if err := c.post(ctx, PathNetworkStatus, req, &out); err != nil {
		return nil, err
	}
	return out, nil
}
