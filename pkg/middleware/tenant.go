// pkg/middleware/tenant.go
package middleware

import (
	"context"
	"errors"
	"net/http"

	dErrors "realmauth/pkg/domainerrors"
	"realmauth/pkg/problems"
	"realmauth/pkg/tenants"
)

type ctxRealmKey struct{}

// WithRealm loads the directory record of the caller's realm. Requests whose
// principal belongs to a realm the directory does not know get 404; lookups
// that fail for other reasons get 503.
func WithRealm(dir tenants.Directory) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := PrincipalFrom(r.Context())
			if p == nil || p.RealmName == "" {
				problems.Write(w, r, dErrors.New(dErrors.CodeUnauthorized, "not authenticated"))
				return
			}
			rec, err := dir.Get(r.Context(), p.RealmName)
			if err != nil {
				if errors.Is(err, tenants.ErrNotFound) {
					problems.Write(w, r, dErrors.New(dErrors.CodeNotFound, "unknown realm"))
					return
				}
				problems.Write(w, r, dErrors.Wrap(err, dErrors.CodeUnavailable, "realm directory unavailable"))
				return
			}
			ctx := context.WithValue(r.Context(), ctxRealmKey{}, rec)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RealmFrom returns the realm record loaded by WithRealm.
func RealmFrom(ctx context.Context) (tenants.Realm, bool) {
	rec, ok := ctx.Value(ctxRealmKey{}).(tenants.Realm)
	return rec, ok
}
