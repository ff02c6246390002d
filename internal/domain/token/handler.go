package token

import (
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/ehr/eligibility/internal/platform/auth"
)

type Handler struct {
	mgr *Manager
}

func NewHandler(mgr *Manager) *Handler {
	return &Handler{mgr: mgr}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	role := auth.RequireRole("admin", "staff")

	g := api.Group("/token", role)
	g.GET("", h.GetStatus)
	g.POST("/refresh", h.Refresh)
	g.POST("/manual", h.SetManual)
	g.DELETE("", h.Clear)
}

// StatusView is the JSON form of Status. The bearer value is redacted.
type StatusView struct {
	Valid     bool       `json:"valid"`
	Token     string     `json:"token,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	ExpiresIn string     `json:"expires_in,omitempty"`
}

// NewStatusView renders st relative to now.
func NewStatusView(st Status, now time.Time) StatusView {
	v := StatusView{Valid: st.IsValid, Token: Redact(st.Token)}
	if !st.ExpiresAt.IsZero() {
		exp := st.ExpiresAt.UTC()
		v.ExpiresAt = &exp
		if remaining := st.ExpiresAt.Sub(now); remaining > 0 {
			v.ExpiresIn = remaining.Truncate(time.Second).String()
		}
	}
	return v
}

func (h *Handler) view(st Status) StatusView {
	return NewStatusView(st, h.mgr.Cache().Now())
}

func (h *Handler) GetStatus(c echo.Context) error {
	return c.JSON(http.StatusOK, h.view(h.mgr.Status()))
}

func (h *Handler) Refresh(c echo.Context) error {
	st, err := h.mgr.Refresh(c.Request().Context())
	if err != nil {
		var acqErr *AcquisitionError
		if errors.As(err, &acqErr) {
			return echo.NewHTTPError(http.StatusBadGateway, acqErr.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, h.view(st))
}

type manualRequest struct {
	Token string `json:"token"`
}

func (h *Handler) SetManual(c echo.Context) error {
	var req manualRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	st, err := h.mgr.SetManual(c.Request().Context(), req.Token)
	if err != nil {
		if errors.Is(err, ErrInvalidManualToken) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, h.view(st))
}

func (h *Handler) Clear(c echo.Context) error {
	h.mgr.Invalidate(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}
