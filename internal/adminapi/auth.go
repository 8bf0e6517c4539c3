package adminapi

import (
	"net/http"
	"strings"

	"realmauth/internal/provisioning"
	dErrors "realmauth/pkg/domainerrors"
	"realmauth/pkg/middleware"
	"realmauth/pkg/problems"
)

// cors returns a middleware that sets CORS headers and handles preflight requests.
// allowed may contain exact origins (e.g., http://localhost:3001) or "*" to allow all.
func cors(allowed []string) func(http.Handler) http.Handler {
	match := func(origin string) (string, bool) {
		if origin == "" {
			return "", false
		}
		for _, a := range allowed {
			a = strings.TrimSpace(a)
			if a == "*" || a == origin {
				return a, true
			}
		}
		return "", false
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if ao, ok := match(r.Header.Get("Origin")); ok {
				if ao != "*" {
					w.Header().Set("Access-Control-Allow-Credentials", "true")
				}
				w.Header().Set("Access-Control-Allow-Origin", ao)
				w.Header().Set("Vary", "Origin")
				w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Request-Id")
				w.Header().Set("Access-Control-Max-Age", "86400")
				if r.Method == http.MethodOptions {
					w.WriteHeader(http.StatusNoContent)
					return
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// adminOrSelf lets realm Admins through, and any principal acting on its own
// user id.
func adminOrSelf(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p := middleware.PrincipalFrom(r.Context())
		if p == nil {
			problems.Write(w, r, dErrors.New(dErrors.CodeUnauthorized, "not authenticated"))
			return
		}
		if p.HasRole(provisioning.RoleAdmin) || p.Subject == userIDParam(r) {
			next.ServeHTTP(w, r)
			return
		}
		problems.Write(w, r, dErrors.New(dErrors.CodeForbidden, "only a realm Admin or the user may change this password"))
	})
}
