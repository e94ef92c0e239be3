package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestIsPublicPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/health", true},
		{"/health/db", true},
		{"/metrics", true},
		{"/api/openapi.json", true},
		{"/api/auth/login", false},
		{"/api/v1/queues", false},
		{"/health/", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := IsPublicPath(tt.path); got != tt.want {
			t.Errorf("IsPublicPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestPublicSkipper_UsesRoutePath(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/metrics?x=1", nil), httptest.NewRecorder())
	c.SetPath("/metrics")
	if !PublicSkipper(c) {
		t.Error("expected /metrics to be skipped")
	}

	c.SetPath("/api/v1/queues/:id")
	if PublicSkipper(c) {
		t.Error("expected API routes not to be skipped")
	}
}
