package auth

import (
	"strings"

	"github.com/labstack/echo/v4"
)

// publicPaths bypass application-user authentication.
var publicPaths = map[string]bool{
	"/health":    true,
	"/health/db": true,
}

// publicPrefixes cover the websocket endpoint, where browsers cannot send an
// Authorization header. Token events never include the bearer value.
// The /api/uhc gateway mints upstream tokens and stays authenticated.
var publicPrefixes = []string{"/ws/"}

// AuthSkipper reports whether the request should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Request().URL.Path)
}

func IsPublicPath(path string) bool {
	if publicPaths[path] {
		return true
	}
	for _, p := range publicPrefixes {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}
