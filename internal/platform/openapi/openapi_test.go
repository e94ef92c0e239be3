package openapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

type widgetHandler struct{}

func (widgetHandler) ListWidgets(c echo.Context) error  { return c.NoContent(http.StatusOK) }
func (widgetHandler) CreateWidget(c echo.Context) error { return c.NoContent(http.StatusCreated) }
func (widgetHandler) DeleteWidget(c echo.Context) error { return c.NoContent(http.StatusNoContent) }

func newTestEcho() *echo.Echo {
	e := echo.New()
	var h widgetHandler
	e.GET("/health", func(c echo.Context) error { return c.NoContent(http.StatusOK) })
	api := e.Group("/api/v1")
	api.GET("/widgets", h.ListWidgets)
	api.POST("/widgets", h.CreateWidget)
	api.DELETE("/widgets/:id/parts/:part", h.DeleteWidget)
	NewGenerator(e.Routes, "/api", "1.2.3").RegisterRoutes(e.Group("/api"))
	return e
}

func TestConvertPath(t *testing.T) {
	tests := []struct {
		in     string
		want   string
		params []string
	}{
		{"/api/v1/queues", "/api/v1/queues", nil},
		{"/api/v1/queues/:id", "/api/v1/queues/{id}", []string{"id"}},
		{"/api/v1/patients/:id/history/:noteId", "/api/v1/patients/{id}/history/{noteId}", []string{"id", "noteId"}},
	}
	for _, tt := range tests {
		got, params := convertPath(tt.in)
		if got != tt.want || len(params) != len(tt.params) {
			t.Errorf("convertPath(%q) = %q %v, want %q %v", tt.in, got, params, tt.want, tt.params)
		}
	}
}

func TestTagFor(t *testing.T) {
	if got := tagFor("/v1/queues/{id}"); got != "v1" {
		t.Errorf("tagFor = %q", got)
	}
	if got := tagFor(""); got != "root" {
		t.Errorf("tagFor(empty) = %q", got)
	}
}

func TestGenerateDocument(t *testing.T) {
	e := newTestEcho()
	doc := NewGenerator(e.Routes, "/api/v1", "1.2.3").GenerateDocument()

	if doc["openapi"] != "3.0.3" {
		t.Errorf("openapi = %v", doc["openapi"])
	}
	info := doc["info"].(map[string]interface{})
	if info["version"] != "1.2.3" {
		t.Errorf("version = %v", info["version"])
	}

	paths := doc["paths"].(map[string]interface{})
	if _, ok := paths["/health"]; ok {
		t.Error("routes outside the prefix must be skipped")
	}
	widgets, ok := paths["/api/v1/widgets"].(map[string]interface{})
	if !ok {
		t.Fatalf("missing /api/v1/widgets in %v", paths)
	}
	post := widgets["post"].(map[string]interface{})
	if post["operationId"] != "openapi.widgetHandler.CreateWidget" {
		t.Errorf("operationId = %v", post["operationId"])
	}
	if _, ok := post["requestBody"]; !ok {
		t.Error("POST should declare a request body")
	}
	if _, ok := post["responses"].(map[string]interface{})["201"]; !ok {
		t.Error("POST should answer 201")
	}

	del := paths["/api/v1/widgets/{id}/parts/{part}"].(map[string]interface{})["delete"].(map[string]interface{})
	if params := del["parameters"].([]map[string]interface{}); len(params) != 2 || params[1]["name"] != "part" {
		t.Errorf("parameters = %v", params)
	}
}

func TestRegisterRoutes_ServesDocument(t *testing.T) {
	e := newTestEcho()
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/openapi.json", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var doc struct {
		Paths map[string]map[string]any `json:"paths"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &doc); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := doc.Paths["/api/openapi.json"]["get"]; !ok {
		t.Error("document should list itself")
	}
	if len(doc.Paths["/api/v1/widgets"]) != 2 {
		t.Errorf("widgets operations = %v", doc.Paths["/api/v1/widgets"])
	}
}
