package token

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/ehr/eligibility/pkg/client"
)

func newTestHandler(ep *fakeEndpoint) (*Handler, *echo.Echo) {
	m, _ := newTestManager(ep)
	return NewHandler(m), echo.New()
}

func TestHandler_GetStatus_Empty(t *testing.T) {
	h, e := newTestHandler(&fakeEndpoint{})
	req := httptest.NewRequest(http.MethodGet, "/api/v1/token", nil)
	rec := httptest.NewRecorder()

	if err := h.GetStatus(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var v StatusView
	json.Unmarshal(rec.Body.Bytes(), &v)
	if v.Valid || v.ExpiresAt != nil {
		t.Errorf("expected empty status, got %+v", v)
	}
}

func TestHandler_Refresh(t *testing.T) {
	h, e := newTestHandler(&fakeEndpoint{data: &client.TokenData{AccessToken: "secretvalue"}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/token/refresh", nil)
	rec := httptest.NewRecorder()

	if err := h.Refresh(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strings.Contains(rec.Body.String(), "secretvalue") {
		t.Error("token value must be redacted")
	}
	var v StatusView
	json.Unmarshal(rec.Body.Bytes(), &v)
	if !v.Valid || v.ExpiresIn != "1h0m0s" {
		t.Errorf("unexpected status %+v", v)
	}
}

func TestHandler_Refresh_Failure(t *testing.T) {
	h, e := newTestHandler(&fakeEndpoint{err: &client.APIError{Status: 401, Message: "bad creds"}})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/token/refresh", nil)
	rec := httptest.NewRecorder()

	err := h.Refresh(e.NewContext(req, rec))
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if he.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", he.Code)
	}
}

func TestHandler_SetManual(t *testing.T) {
	h, e := newTestHandler(&fakeEndpoint{})

	body := `{"token":"Bearer operator"}`
	req := httptest.NewRequest(http.MethodPost, "/api/v1/token/manual", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	if err := h.SetManual(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/v1/token/manual", strings.NewReader(`{"token":"nope"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec = httptest.NewRecorder()
	err := h.SetManual(e.NewContext(req, rec))
	if he, ok := err.(*echo.HTTPError); !ok || he.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %v", err)
	}
}

func TestHandler_Clear(t *testing.T) {
	h, e := newTestHandler(&fakeEndpoint{})
	req := httptest.NewRequest(http.MethodDelete, "/api/v1/token", nil)
	rec := httptest.NewRecorder()
	if err := h.Clear(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
}
