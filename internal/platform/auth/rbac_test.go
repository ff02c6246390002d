package auth

import (
	"net/http"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestHasRole(t *testing.T) {
	tests := []struct {
		granted  []string
		required []string
		want     bool
	}{
		{[]string{"staff"}, []string{"admin", "staff"}, true},
		{[]string{"admin"}, []string{"billing"}, true},
		{[]string{"viewer"}, []string{"admin", "staff"}, false},
		{nil, []string{"staff"}, false},
	}
	for _, tt := range tests {
		if got := HasRole(tt.granted, tt.required...); got != tt.want {
			t.Errorf("HasRole(%v, %v) = %v, want %v", tt.granted, tt.required, got, tt.want)
		}
	}
}

func withRoles(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.SetRequest(c.Request().WithContext(WithUser(c.Request().Context(), "u", roles)))
			return next(c)
		}
	}
}

func chain(outer, inner echo.MiddlewareFunc) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return outer(inner(next))
	}
}

func TestRequireRole(t *testing.T) {
	_, err := runMiddleware(t, chain(withRoles("staff"), RequireRole("admin", "staff")), "/", "")
	if err != nil {
		t.Errorf("expected staff to pass, got %v", err)
	}

	_, err = runMiddleware(t, chain(withRoles("viewer"), RequireRole("admin", "staff")), "/", "")
	expectStatus(t, err, http.StatusForbidden)

	_, err = runMiddleware(t, RequireRole("staff"), "/", "")
	expectStatus(t, err, http.StatusForbidden)
}
