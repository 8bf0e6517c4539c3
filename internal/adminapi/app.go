// Package adminapi is the provisioning REST surface: company realm creation
// and management of users inside the caller's realm.
package adminapi

import (
	"context"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"realmauth/internal/provisioning"
	"realmauth/pkg/middleware"
	"realmauth/pkg/openapi"
	"realmauth/pkg/secret"
	"realmauth/pkg/tenants"
)

// Provisioner runs the identity provider workflows.
type Provisioner interface {
	ProvisionCompanyRealm(ctx context.Context, company provisioning.Company, owner provisioning.NewUser) (provisioning.RealmProvisioned, error)
	AddUserToRealm(ctx context.Context, realmName string, u provisioning.NewUser, role string) (provisioning.UserProvisioned, error)
	VerifyUser(ctx context.Context, realmName, userID string) error
	ChangePassword(ctx context.Context, realmName, userID, newPassword string) error
}

// Config holds admin-api specific configuration.
type Config struct {
	ServiceName string
	Version     string
	// IssuerBase is the identity provider URL realm URLs are built from.
	IssuerBase   string
	CORSOrigins  []string
	ServeOpenAPI bool
}

// App is the admin-api application container.
// Handlers and middleware have methods on this type.
//
// Keep it lean: shared deps and config only.
// Request-scoped work should use context.
type App struct {
	cfg      Config
	log      *zap.SugaredLogger
	prov     Provisioner
	dir      tenants.Directory
	sealer   *secret.Sealer
	tokens   middleware.TokenValidator
	gatherer prometheus.Gatherer
	api      *openapi.Registry
	validate *validator.Validate
}

// New constructs App. sealer must be the one the provisioner seals client
// secrets with.
func New(cfg Config, log *zap.SugaredLogger, prov Provisioner, dir tenants.Directory, sealer *secret.Sealer, tokens middleware.TokenValidator, gatherer prometheus.Gatherer) *App {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "admin-api-service"
	}
	if cfg.Version == "" {
		cfg.Version = "0.1.0"
	}
	if len(cfg.CORSOrigins) == 0 {
		cfg.CORSOrigins = []string{"http://localhost:3001"}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	a := &App{
		cfg:      cfg,
		log:      log,
		prov:     prov,
		dir:      dir,
		sealer:   sealer,
		tokens:   tokens,
		gatherer: gatherer,
		api:      openapi.NewRegistry(),
		validate: newValidator(),
	}
	a.describe()
	return a
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
