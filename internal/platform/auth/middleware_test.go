package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
)

var testSigningKey = []byte("test-secret-key-for-unit-tests-only")

func createTestToken(t *testing.T, claims Claims, key []byte) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenStr, err := token.SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign test token: %v", err)
	}
	return tokenStr
}

func validClaims() Claims {
	return Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "clerk-1",
			Issuer:    "https://idp.example.com",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Roles: []string{"staff"},
	}
}

// runMiddleware returns the context the inner handler saw and the chain error.
func runMiddleware(t *testing.T, mw echo.MiddlewareFunc, path, authHeader string) (context.Context, error) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	c := e.NewContext(req, httptest.NewRecorder())

	var seen context.Context
	err := mw(func(c echo.Context) error {
		seen = c.Request().Context()
		return c.String(http.StatusOK, "ok")
	})(c)
	return seen, err
}

func expectStatus(t *testing.T, err error, code int) {
	t.Helper()
	httpErr, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected echo.HTTPError, got %T (%v)", err, err)
	}
	if httpErr.Code != code {
		t.Errorf("expected %d, got %d", code, httpErr.Code)
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	_, err := runMiddleware(t, JWTMiddleware(JWTConfig{SigningKey: testSigningKey}), "/", "")
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_InvalidFormat(t *testing.T) {
	tests := []struct {
		name   string
		header string
	}{
		{"no bearer prefix", "Token abc123"},
		{"missing token", "Bearer"},
		{"empty value", "Bearer "},
		{"basic auth", "Basic dXNlcjpwYXNz"},
	}
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runMiddleware(t, mw, "/", tt.header)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_ValidToken(t *testing.T) {
	tok := createTestToken(t, validClaims(), testSigningKey)
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Issuer: "https://idp.example.com"})

	ctx, err := runMiddleware(t, mw, "/", "Bearer "+tok)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if UserIDFromContext(ctx) != "clerk-1" {
		t.Errorf("expected user clerk-1, got %q", UserIDFromContext(ctx))
	}
	if roles := RolesFromContext(ctx); len(roles) != 1 || roles[0] != "staff" {
		t.Errorf("unexpected roles %v", roles)
	}
	if got := AuthorizationFromContext(ctx); got != "Bearer "+tok {
		t.Errorf("expected verified header in context, got %q", got)
	}
}

func TestJWTMiddleware_Rejections(t *testing.T) {
	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Minute))

	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "https://evil.example.com"

	tests := []struct {
		name  string
		token string
	}{
		{"expired", createTestToken(t, expired, testSigningKey)},
		{"wrong issuer", createTestToken(t, wrongIssuer, testSigningKey)},
		{"wrong key", createTestToken(t, validClaims(), []byte("another-key"))},
		{"garbage", "not.a.jwt"},
	}
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Issuer: "https://idp.example.com"})
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runMiddleware(t, mw, "/", "Bearer "+tt.token)
			expectStatus(t, err, http.StatusUnauthorized)
		})
	}
}

func TestJWTMiddleware_NoKeysConfigured(t *testing.T) {
	_, err := runMiddleware(t, JWTMiddleware(JWTConfig{}), "/", "Bearer abc")
	expectStatus(t, err, http.StatusUnauthorized)
}

func TestJWTMiddleware_Skipper(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{SigningKey: testSigningKey, Skipper: AuthSkipper})
	if _, err := runMiddleware(t, mw, "/health", ""); err != nil {
		t.Errorf("expected /health to bypass auth, got %v", err)
	}
	for _, path := range []string{"/api/v1/searches", "/api/uhc/token"} {
		_, err := runMiddleware(t, mw, path, "")
		expectStatus(t, err, http.StatusUnauthorized)
	}
}

func TestDevAuthMiddleware(t *testing.T) {
	ctx, err := runMiddleware(t, DevAuthMiddleware(), "/", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if UserIDFromContext(ctx) != "dev-user" {
		t.Errorf("expected dev-user, got %q", UserIDFromContext(ctx))
	}
	if !HasRole(RolesFromContext(ctx), "staff") {
		t.Error("dev user should pass role checks")
	}
}

func TestContextHelpers_Empty(t *testing.T) {
	ctx := context.Background()
	if UserIDFromContext(ctx) != "" || RolesFromContext(ctx) != nil || AuthorizationFromContext(ctx) != "" {
		t.Error("expected zero values from an empty context")
	}
}
