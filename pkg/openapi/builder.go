package openapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
)

// Operation represents a single HTTP operation to surface in OpenAPI.
type Operation struct {
	Method      string         `json:"method"`
	Path        string         `json:"path"`
	Summary     string         `json:"summary,omitempty"`
	Description string         `json:"description,omitempty"`
	Tags        []string       `json:"tags,omitempty"`
	Bearer      bool           `json:"-"`
	Roles       []string       `json:"x-required-roles,omitempty"`
	RequestBody any            `json:"requestBody,omitempty"`
	Responses   map[string]any `json:"responses"`
}

// Registry holds the operations a service exposes.
type Registry struct {
	mu  sync.RWMutex
	Ops []Operation
}

func NewRegistry() *Registry { return &Registry{Ops: []Operation{}} }

func (r *Registry) Register(op Operation) {
	if op.Method != "" {
		op.Method = strings.ToLower(op.Method)
	}
	if op.Responses == nil {
		op.Responses = map[string]any{}
	}
	r.mu.Lock()
	r.Ops = append(r.Ops, op)
	r.mu.Unlock()
}

// JSONBody is a request body with an inline JSON schema of string fields.
func JSONBody(required []string, fields ...string) map[string]any {
	props := map[string]any{}
	for _, f := range fields {
		props[f] = map[string]any{"type": "string"}
	}
	return map[string]any{
		"required": true,
		"content": map[string]any{
			"application/json": map[string]any{
				"schema": map[string]any{"type": "object", "required": required, "properties": props},
			},
		},
	}
}

// Responses builds a response map from status code to description. Error
// statuses are documented as problem+json.
func Responses(pairs ...string) map[string]any {
	out := map[string]any{}
	for i := 0; i+1 < len(pairs); i += 2 {
		resp := map[string]any{"description": pairs[i+1]}
		if strings.HasPrefix(pairs[i], "4") || strings.HasPrefix(pairs[i], "5") {
			resp["content"] = map[string]any{"application/problem+json": map[string]any{"schema": map[string]any{"$ref": "#/components/schemas/Problem"}}}
		}
		out[pairs[i]] = resp
	}
	return out
}

// Build produces a minimal OpenAPI 3.1 document for the registered
// operations. Components/schemas are kept inline for brevity.
func (r *Registry) Build(serviceName, version string) map[string]any {
	r.mu.RLock()
	defer r.mu.RUnlock()
	paths := map[string]any{}
	for _, op := range r.Ops {
		if _, ok := paths[op.Path]; !ok {
			paths[op.Path] = map[string]any{}
		}
		m := map[string]any{
			"summary":     op.Summary,
			"description": op.Description,
			"tags":        op.Tags,
			"responses":   op.Responses,
		}
		if op.Bearer {
			m["security"] = []map[string]any{{"bearer": []string{}}}
		}
		if len(op.Roles) > 0 {
			m["x-required-roles"] = op.Roles
		}
		if op.RequestBody != nil {
			m["requestBody"] = op.RequestBody
		}
		paths[op.Path].(map[string]any)[op.Method] = m
	}
	return map[string]any{
		"openapi": "3.1.0",
		"info":    map[string]any{"title": serviceName, "version": version},
		"paths":   paths,
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"bearer": map[string]any{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
			"schemas": map[string]any{
				"Problem": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"type":     map[string]any{"type": "string"},
						"title":    map[string]any{"type": "string"},
						"status":   map[string]any{"type": "integer"},
						"detail":   map[string]any{"type": "string"},
						"instance": map[string]any{"type": "string"},
						"code":     map[string]any{"type": "string"},
					},
				},
			},
		},
	}
}

// ServeHandler returns an HTTP handler that serves the built OpenAPI JSON.
func (r *Registry) ServeHandler(serviceName, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(r.Build(serviceName, version))
	}
}
