package adminapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"realmauth/internal/provisioning"
	"realmauth/pkg/middleware"
	"realmauth/pkg/openapi"
)

// Handler builds the HTTP handler with routes and middleware.
func (a *App) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Recover(a.log))
	r.Use(middleware.Tracing(a.cfg.ServiceName, a.log))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(a.gatherer, promhttp.HandlerOpts{}))
	if a.cfg.ServeOpenAPI {
		r.Get("/.well-known/openapi.json", a.api.ServeHandler(a.cfg.ServiceName, a.cfg.Version))
	}

	r.Route("/admin", func(ar chi.Router) {
		ar.Use(cors(a.cfg.CORSOrigins))
		ar.Use(middleware.BearerAuth(a.tokens, a.log))
		ar.Post("/companies", a.createCompany)

		ar.Route("/realm", func(rr chi.Router) {
			rr.Group(func(admin chi.Router) {
				admin.Use(middleware.RequireRole(provisioning.RoleAdmin))
				admin.Use(middleware.WithRealm(a.dir))
				admin.Get("/", a.getRealm)
				admin.Get("/client", a.getClientCredentials)
				admin.Post("/users", a.addUser)
				admin.Post("/users/{userID}/verify", a.verifyUser)
			})
			// Shared realm users have no directory record, so this route
			// works from the principal's realm alone.
			rr.With(adminOrSelf).Put("/users/{userID}/password", a.changePassword)
		})
	})
	return r
}

func (a *App) describe() {
	admin := []string{provisioning.RoleAdmin}
	a.api.Register(openapi.Operation{
		Method: "POST", Path: "/admin/companies", Tags: []string{"companies"}, Bearer: true,
		Summary:     "Create a company realm",
		Description: "Creates the realm, its API and web clients, the role catalog and the owner with the Admin role. Steps are not rolled back on failure.",
		RequestBody: openapi.JSONBody([]string{"companyId", "companyName", "ownerEmail", "ownerFirstName", "ownerLastName", "ownerAuthId"},
			"companyId", "companyName", "ownerEmail", "ownerFirstName", "ownerLastName", "ownerAuthId"),
		Responses: openapi.Responses("201", "realm created", "400", "invalid input", "409", "realm already exists", "502", "identity provider rejected admin credentials", "503", "identity provider unavailable"),
	})
	a.api.Register(openapi.Operation{
		Method: "GET", Path: "/admin/realm", Tags: []string{"realm"}, Bearer: true, Roles: admin,
		Summary:   "The caller's realm record",
		Responses: openapi.Responses("200", "realm", "403", "not an Admin", "404", "unknown realm"),
	})
	a.api.Register(openapi.Operation{
		Method: "GET", Path: "/admin/realm/client", Tags: []string{"realm"}, Bearer: true, Roles: admin,
		Summary:   "The realm's API client credentials",
		Responses: openapi.Responses("200", "client id and secret", "403", "not an Admin", "404", "no client recorded"),
	})
	a.api.Register(openapi.Operation{
		Method: "POST", Path: "/admin/realm/users", Tags: []string{"users"}, Bearer: true, Roles: admin,
		Summary:     "Add a user to the caller's realm",
		RequestBody: openapi.JSONBody([]string{"email", "firstName", "lastName", "authId", "role"}, "email", "firstName", "lastName", "authId", "role"),
		Responses:   openapi.Responses("201", "user created", "400", "invalid input or role", "409", "user already exists"),
	})
	a.api.Register(openapi.Operation{
		Method: "POST", Path: "/admin/realm/users/{userID}/verify", Tags: []string{"users"}, Bearer: true, Roles: admin,
		Summary:   "Mark a user's email as verified",
		Responses: openapi.Responses("204", "verified", "404", "unknown user"),
	})
	a.api.Register(openapi.Operation{
		Method: "PUT", Path: "/admin/realm/users/{userID}/password", Tags: []string{"users"}, Bearer: true,
		Summary:     "Set a permanent password",
		Description: "Allowed for realm Admins and for the user themself.",
		RequestBody: openapi.JSONBody([]string{"password"}, "password"),
		Responses:   openapi.Responses("204", "password changed", "400", "password too short", "403", "not allowed"),
	})
}
