package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths bypass authentication: health checks and the sign-in flow.
var publicPaths = map[string]bool{
	"/health":             true,
	"/health/db":          true,
	"/api/v1/auth/signup": true,
	"/api/v1/auth/login":  true,
	"/api/v1/auth/verify": true,
}

// AuthSkipper returns true for requests whose route should skip authentication.
func AuthSkipper(c echo.Context) bool {
	return IsPublicPath(c.Path())
}

// IsPublicPath reports whether path is served without credentials.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}
