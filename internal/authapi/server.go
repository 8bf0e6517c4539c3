package authapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"realmauth/pkg/middleware"
	"realmauth/pkg/openapi"
)

// Handler builds the HTTP handler with routes and middleware.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(a.log))
	r.Use(middleware.Tracing(a.cfg.ServiceName, a.log))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	if a.cfg.ServeOpenAPI {
		r.Get("/.well-known/openapi.json", a.api.ServeHandler(a.cfg.ServiceName, a.cfg.Version))
	}

	r.Route("/v1/auth", func(ar chi.Router) {
		ar.Post("/register", a.register)
		ar.Post("/login", a.login)
		ar.Post("/refresh", a.refresh)
		ar.Post("/logout", a.logout)
		ar.With(middleware.BearerAuth(a.tokens, a.log)).Get("/me", a.me)
	})
	return r
}

func (a *App) describe() {
	a.api.Register(openapi.Operation{
		Method: "POST", Path: "/v1/auth/register", Tags: []string{"auth"},
		Summary:     "Register in the shared realm",
		Description: "Creates the user with a temporary password and the basic role. No company realm is involved.",
		RequestBody: openapi.JSONBody([]string{"email", "firstName", "lastName", "authId"}, "email", "firstName", "lastName", "authId"),
		Responses:   openapi.Responses("201", "user registered", "400", "invalid input", "409", "user already exists", "503", "identity provider unavailable"),
	})
	a.api.Register(openapi.Operation{
		Method: "POST", Path: "/v1/auth/login", Tags: []string{"auth"},
		Summary:     "Exchange credentials for tokens",
		Description: "Without a realm the shared realm is tried first, then the realms the email belongs to.",
		RequestBody: openapi.JSONBody([]string{"email", "password"}, "email", "password", "realm"),
		Responses:   openapi.Responses("200", "session", "400", "invalid input or account not set up", "401", "invalid credentials", "503", "identity provider unavailable"),
	})
	a.api.Register(openapi.Operation{
		Method: "POST", Path: "/v1/auth/refresh", Tags: []string{"auth"},
		Summary:     "Redeem a refresh token",
		RequestBody: openapi.JSONBody([]string{"realm", "refreshToken"}, "realm", "refreshToken"),
		Responses:   openapi.Responses("200", "session", "401", "refresh token expired or revoked"),
	})
	a.api.Register(openapi.Operation{
		Method: "POST", Path: "/v1/auth/logout", Tags: []string{"auth"},
		Summary:     "End the session a refresh token belongs to",
		RequestBody: openapi.JSONBody([]string{"realm", "refreshToken"}, "realm", "refreshToken"),
		Responses:   openapi.Responses("204", "logged out", "400", "logout rejected"),
	})
	a.api.Register(openapi.Operation{
		Method: "GET", Path: "/v1/auth/me", Tags: []string{"auth"}, Bearer: true,
		Summary:   "The authenticated principal",
		Responses: openapi.Responses("200", "principal", "401", "missing or invalid bearer token"),
	})
}
