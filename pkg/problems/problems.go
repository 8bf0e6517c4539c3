package problems

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"

	dErrors "realmauth/pkg/domainerrors"
)

// Base returns the base URL for problem type identifiers.
// Order of precedence:
// 1. PROBLEM_BASE_URL (exact base, e.g. https://mydomain.com/problems)
// 2. BASE_PUBLIC_URL + "/problems" (if set)
// 3. https://example.com/problems (fallback)
func Base() string {
	if b := os.Getenv("PROBLEM_BASE_URL"); b != "" {
		return strings.TrimRight(b, "/")
	}
	if b := os.Getenv("BASE_PUBLIC_URL"); b != "" {
		return strings.TrimRight(b, "/") + "/problems"
	}
	return "https://example.com/problems"
}

// Type builds a full problem type URL for the given slug.
func Type(slug string) string { return Base() + "/" + slug }

// Problem is an RFC 7807 body extended with the domain error code.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	Code     string `json:"code"`
}

// Status maps a domain code to its HTTP status.
func Status(code dErrors.Code) int {
	switch code {
	case dErrors.CodeValidation, dErrors.CodeBadRequest:
		return http.StatusBadRequest
	case dErrors.CodeConflict:
		return http.StatusConflict
	case dErrors.CodeNotFound:
		return http.StatusNotFound
	case dErrors.CodeUnauthorized:
		return http.StatusUnauthorized
	case dErrors.CodeForbidden:
		return http.StatusForbidden
	case dErrors.CodeUnavailable:
		return http.StatusServiceUnavailable
	case dErrors.CodeAdminUnauthenticated:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// From builds the problem for err. Internal failures never leak their message.
func From(err error, instance string) Problem {
	code := dErrors.CodeOf(err)
	status := Status(code)
	p := Problem{
		Type:     Type(strings.ReplaceAll(string(code), "_", "-")),
		Title:    http.StatusText(status),
		Status:   status,
		Instance: instance,
		Code:     string(code),
	}
	if code != dErrors.CodeInternal {
		p.Detail = err.Error()
	}
	return p
}

// Write renders err as application/problem+json.
func Write(w http.ResponseWriter, r *http.Request, err error) {
	instance := ""
	if r != nil {
		instance = r.URL.Path
	}
	WriteProblem(w, From(err, instance))
}

// WriteProblem renders p as application/problem+json.
func WriteProblem(w http.ResponseWriter, p Problem) {
	if p.Status == http.StatusUnauthorized {
		w.Header().Set("WWW-Authenticate", `Bearer error="invalid_token"`)
	}
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}
