package openapi

import (
	"net/http"
	"sort"
	"strings"

	"github.com/labstack/echo/v4"
)

// Generator builds an OpenAPI 3.0 document from the routes registered on an
// echo instance. Paths outside prefix are left out.
type Generator struct {
	routes  func() []*echo.Route
	prefix  string
	version string
}

// NewGenerator reads routes lazily so that it sees routes registered after it.
func NewGenerator(routes func() []*echo.Route, prefix, version string) *Generator {
	return &Generator{routes: routes, prefix: prefix, version: version}
}

// GenerateDocument produces the OpenAPI 3.0 document as a map.
func (g *Generator) GenerateDocument() map[string]interface{} {
	routes := g.routes()
	sort.Slice(routes, func(i, j int) bool {
		if routes[i].Path != routes[j].Path {
			return routes[i].Path < routes[j].Path
		}
		return routes[i].Method < routes[j].Method
	})

	paths := make(map[string]interface{})
	seen := make(map[string]bool)
	for _, r := range routes {
		if !strings.HasPrefix(r.Path, g.prefix) || r.Method == echo.RouteNotFound {
			continue
		}
		path, params := convertPath(r.Path)
		method := strings.ToLower(r.Method)
		if seen[method+" "+path] {
			continue
		}
		seen[method+" "+path] = true

		item, _ := paths[path].(map[string]interface{})
		if item == nil {
			item = make(map[string]interface{})
			paths[path] = item
		}
		item[method] = g.buildOperation(r, path, params)
	}

	return map[string]interface{}{
		"openapi": "3.0.3",
		"info": map[string]interface{}{
			"title":       "Clinic API",
			"version":     g.version,
			"description": "Patient queue, dispensary, prescription and billing API",
		},
		"paths": paths,
		"components": map[string]interface{}{
			"schemas": map[string]interface{}{
				"Error": map[string]interface{}{
					"type":     "object",
					"required": []string{"error"},
					"properties": map[string]interface{}{
						"error": map[string]string{"type": "string"},
						"code":  map[string]string{"type": "string"},
					},
				},
			},
			"securitySchemes": map[string]interface{}{
				"bearer": map[string]string{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
				"cookie": map[string]string{"type": "apiKey", "in": "cookie", "name": "session"},
			},
		},
		"security": []map[string][]string{{"bearer": {}}, {"cookie": {}}},
	}
}

func (g *Generator) buildOperation(r *echo.Route, path string, params []string) map[string]interface{} {
	parameters := make([]map[string]interface{}, 0, len(params))
	for _, p := range params {
		parameters = append(parameters, map[string]interface{}{
			"name": p, "in": "path", "required": true,
			"schema": map[string]string{"type": "string"},
		})
	}

	success := "200"
	switch r.Method {
	case http.MethodPost:
		success = "201"
	case http.MethodDelete:
		success = "204"
	}

	op := map[string]interface{}{
		"operationId": operationID(r),
		"tags":        []string{tagFor(strings.TrimPrefix(path, g.prefix))},
		"parameters":  parameters,
		"responses": map[string]interface{}{
			success: map[string]string{"description": "Success"},
			"4XX":   errorResponse("Client error"),
			"5XX":   errorResponse("Server error"),
		},
	}
	if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
		op["requestBody"] = map[string]interface{}{
			"content": map[string]interface{}{
				"application/json": map[string]interface{}{"schema": map[string]string{"type": "object"}},
			},
		}
	}
	return op
}

func errorResponse(description string) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": map[string]string{"$ref": "#/components/schemas/Error"},
			},
		},
	}
}

// convertPath rewrites echo's :param segments as {param}.
func convertPath(p string) (string, []string) {
	segs := strings.Split(p, "/")
	var params []string
	for i, s := range segs {
		if strings.HasPrefix(s, ":") {
			params = append(params, s[1:])
			segs[i] = "{" + s[1:] + "}"
		}
	}
	return strings.Join(segs, "/"), params
}

// tagFor groups an operation by its first path segment.
func tagFor(rel string) string {
	rel = strings.TrimPrefix(rel, "/")
	if i := strings.IndexByte(rel, '/'); i >= 0 {
		rel = rel[:i]
	}
	if rel == "" {
		return "root"
	}
	return rel
}

// operationID derives a name from the handler, e.g.
// ".../queue.(*Handler).CreateQueue-fm" becomes "queue.CreateQueue".
func operationID(r *echo.Route) string {
	name := strings.TrimSuffix(r.Name, "-fm")
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	name = strings.Replace(name, ".(*Handler)", "", 1)
	if name == "" || strings.Contains(name, "func") {
		return strings.ToLower(r.Method) + strings.ReplaceAll(r.Path, "/", "_")
	}
	return name
}

// RegisterRoutes serves the document at /openapi.json.
func (g *Generator) RegisterRoutes(apiGroup *echo.Group) {
	apiGroup.GET("/openapi.json", func(c echo.Context) error {
		return c.JSON(http.StatusOK, g.GenerateDocument())
	})
}
