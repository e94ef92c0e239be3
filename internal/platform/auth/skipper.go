package auth

import (
	"github.com/labstack/echo/v4"
)

// publicPaths are infrastructure endpoints served without credentials.
// Probes and scrapers hit them often, so per-client throttling skips them.
var publicPaths = map[string]bool{
	"/health":           true,
	"/health/db":        true,
	"/metrics":          true,
	"/api/openapi.json": true,
}

// PublicSkipper reports whether the matched route is a public
// infrastructure endpoint. It fits the Skipper field of echo-style configs.
func PublicSkipper(c echo.Context) bool {
	return publicPaths[c.Path()]
}

// IsPublicPath reports whether path is a public infrastructure endpoint.
func IsPublicPath(path string) bool {
	return publicPaths[path]
}

// sessionPaths accept a stale or revoked credential as anonymous, so a user
// whose sessions were revoked can still sign in again or clear the cookie.
var sessionPaths = map[string]bool{
	"/api/auth/login":  true,
	"/api/auth/logout": true,
}

// IgnoresBadCredentials reports whether the matched route treats an invalid
// credential as no credential at all.
func IgnoresBadCredentials(c echo.Context) bool {
	return sessionPaths[c.Path()]
}
