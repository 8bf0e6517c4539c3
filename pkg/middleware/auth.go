// pkg/middleware/auth.go
package middleware

import (
	"context"
	"net/http"
	"strings"

	"go.uber.org/zap"

	dErrors "realmauth/pkg/domainerrors"
	"realmauth/pkg/problems"
	"realmauth/pkg/tokens"
)

// TokenValidator turns a raw bearer token into a principal.
type TokenValidator interface {
	Validate(ctx context.Context, raw string) (*tokens.Principal, error)
}

type ctxPrincipalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p *tokens.Principal) context.Context {
	return context.WithValue(ctx, ctxPrincipalKey{}, p)
}

// PrincipalFrom returns the authenticated principal, or nil.
func PrincipalFrom(ctx context.Context) *tokens.Principal {
	p, _ := ctx.Value(ctxPrincipalKey{}).(*tokens.Principal)
	return p
}

// ActorSub is the subject of the authenticated principal, or "".
func ActorSub(ctx context.Context) string {
	if p := PrincipalFrom(ctx); p != nil {
		return p.Subject
	}
	return ""
}

// BearerAuth validates the Authorization bearer token and populates the
// principal in the request context. Health, metrics and well-known paths pass
// through untouched.
func BearerAuth(v TokenValidator, log *zap.SugaredLogger) func(http.Handler) http.Handler {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/healthz" || r.URL.Path == "/metrics" || strings.HasPrefix(r.URL.Path, "/.well-known/") {
				next.ServeHTTP(w, r)
				return
			}
			raw, ok := bearer(r)
			if !ok {
				problems.Write(w, r, dErrors.New(dErrors.CodeUnauthorized, "missing bearer token"))
				return
			}
			p, err := v.Validate(r.Context(), raw)
			if err != nil {
				log.Debugw("bearer rejected", "path", r.URL.Path, "err", err)
				problems.Write(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), p)))
		})
	}
}

func bearer(r *http.Request) (string, bool) {
	authz := r.Header.Get("Authorization")
	if len(authz) < len("Bearer ") || !strings.EqualFold(authz[:len("Bearer ")], "bearer ") {
		return "", false
	}
	raw := strings.TrimSpace(authz[len("Bearer "):])
	return raw, raw != ""
}
