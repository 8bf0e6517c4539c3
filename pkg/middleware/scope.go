// pkg/middleware/scope.go
package middleware

import (
	"context"
	"net/http"

	dErrors "realmauth/pkg/domainerrors"
	"realmauth/pkg/problems"
)

// RequireRole lets the request through when the principal holds any of roles.
// It must run after BearerAuth.
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if PrincipalFrom(r.Context()) == nil {
				problems.Write(w, r, dErrors.New(dErrors.CodeUnauthorized, "not authenticated"))
				return
			}
			if !HasAnyRole(r.Context(), roles) {
				problems.Write(w, r, dErrors.New(dErrors.CodeForbidden, "insufficient role"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// HasAnyRole returns true if the principal in ctx holds at least one of the
// required roles. An empty requirement is satisfied by any principal.
func HasAnyRole(ctx context.Context, required []string) bool {
	p := PrincipalFrom(ctx)
	if p == nil {
		return false
	}
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if p.HasRole(r) {
			return true
		}
	}
	return false
}
