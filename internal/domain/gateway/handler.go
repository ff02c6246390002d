// Package gateway is the /api/uhc proxy surface. Each route validates its
// body, forwards it upstream with credentials injected and re-wraps the
// response in the success/error envelope.
package gateway

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/eligibility/internal/platform/middleware"
	"github.com/ehr/eligibility/internal/platform/uhc"
	"github.com/ehr/eligibility/pkg/client"
)

// Upstream is the external API as seen by the gateway.
type Upstream interface {
	Token(ctx context.Context) (*uhc.Relay, error)
	Eligibility(ctx context.Context, req client.EligibilityRequest) (*uhc.Relay, error)
	Coverage(ctx context.Context, req client.CoverageRequest) (*uhc.Relay, error)
	MemberCard(ctx context.Context, req client.MemberCardRequest) (*uhc.Relay, error)
	NetworkStatus(ctx context.Context, req client.NetworkStatusRequest) (*uhc.Relay, error)
}

type Handler struct {
	upstream Upstream
	logger   zerolog.Logger
}

func NewHandler(upstream Upstream, logger zerolog.Logger) *Handler {
	return &Handler{upstream: upstream, logger: logger}
}

// RegisterRoutes mounts the proxy under g (normally /api/uhc).
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/token", h.Token)
	g.POST("/eligibility", h.Eligibility)
	g.POST("/coverage", h.Coverage)
	g.POST("/member-card", h.MemberCard)
	g.POST("/network-status", h.NetworkStatus)
}

func success(c echo.Context, status int, data any) error {
	return c.JSON(status, map[string]any{"success": true, "data": data})
}

func failure(c echo.Context, status int, message string) error {
	return c.JSON(status, client.Envelope{
		Success: false,
		Error:   &client.ErrorBody{Status: status, Message: message},
	})
}

func missingFields(c echo.Context, fields []string) error {
	return failure(c, http.StatusBadRequest, "missing required fields: "+strings.Join(fields, ", "))
}

// relayError answers for a transport failure or a non-2xx upstream reply.
func (h *Handler) relayError(c echo.Context, op string, relay *uhc.Relay, err error) error {
	if err != nil {
		var te *uhc.TransportError
		if errors.As(err, &te) {
			status := http.StatusBadGateway
			if te.Timeout {
				status = http.StatusGatewayTimeout
			}
			return failure(c, status, te.Error())
		}
		h.logger.Error().Err(err).Str("op", op).Msg("gateway request failed")
		return failure(c, http.StatusInternalServerError, "unexpected error: "+err.Error())
	}

	msg := relay.ErrorMessage()
	h.logger.Warn().Str("op", op).Int("status", relay.Status).Str("message", msg).Msg("upstream returned error")
	return failure(c, relay.Status, msg)
}

func (h *Handler) Token(c echo.Context) error {
	relay, err := h.upstream.Token(c.Request().Context())
	if err != nil || !relay.OK() {
		return h.relayError(c, "token", relay, err)
	}
	return success(c, relay.Status, relay.Data())
}

func (h *Handler) Eligibility(c echo.Context) error {
	var req client.EligibilityRequest
	if err := c.Bind(&req); err != nil {
		return failure(c, http.StatusBadRequest, "invalid request body")
	}
	middleware.SetAuditMemberID(c, req.MemberID)
	if missing := req.Missing(); len(missing) > 0 {
		return missingFields(c, missing)
	}
	relay, err := h.upstream.Eligibility(c.Request().Context(), req)
	if err != nil || !relay.OK() {
		return h.relayError(c, "eligibility", relay, err)
	}
	return success(c, relay.Status, relay.Data())
}

func (h *Handler) Coverage(c echo.Context) error {
	var req client.CoverageRequest
	if err := c.Bind(&req); err != nil {
		return failure(c, http.StatusBadRequest, "invalid request body")
	}
	if missing := req.Missing(); len(missing) > 0 {
		return missingFields(c, missing)
	}
	relay, err := h.upstream.Coverage(c.Request().Context(), req)
	if err != nil || !relay.OK() {
		return h.relayError(c, "coverage", relay, err)
	}
	return success(c, relay.Status, relay.Data())
}

func (h *Handler) MemberCard(c echo.Context) error {
	var req client.MemberCardRequest
	if err := c.Bind(&req); err != nil {
		return failure(c, http.StatusBadRequest, "invalid request body")
	}
	middleware.SetAuditMemberID(c, req.MemberID)
	if missing := req.Missing(); len(missing) > 0 {
		return missingFields(c, missing)
	}
	relay, err := h.upstream.MemberCard(c.Request().Context(), req)
	if err != nil || !relay.OK() {
		return h.relayError(c, "member-card", relay, err)
	}

	data := client.MemberCardData{ContentType: relay.ContentType}
	if relay.IsImage() {
		data.ImageData = relay.Body
	} else {
		data.Message = relay.Message()
	}
	return success(c, relay.Status, data)
}

func (h *Handler) NetworkStatus(c echo.Context) error {
	var req client.NetworkStatusRequest
	if err := c.Bind(&req); err != nil {
		return failure(c, http.StatusBadRequest, "invalid request body")
	}
	middleware.SetAuditMemberID(c, req.MemberID)
	if missing := req.Missing(); len(missing) > 0 {
		return missingFields(c, missing)
	}
	relay, err := h.upstream.NetworkStatus(c.Request().Context(), req)
	if err != nil || !relay.OK() {
		return h.relayError(c, "network-status", relay, err)
	}
	return success(c, relay.Status, relay.Data())
}
