// Package authapi is the public REST surface: self-registration in the shared
// realm, login, refresh, logout and the caller's own principal.
package authapi

import (
	"context"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"realmauth/internal/credentials"
	"realmauth/internal/provisioning"
	"realmauth/pkg/middleware"
	"realmauth/pkg/openapi"
)

// Registrar creates users in the shared realm.
type Registrar interface {
	RegisterInSharedRealm(ctx context.Context, u provisioning.NewUser) (provisioning.UserProvisioned, error)
}

// Sessions runs the token flows against a realm's web client.
type Sessions interface {
	Authenticate(ctx context.Context, email, password, realmHint string) (*credentials.Session, error)
	Refresh(ctx context.Context, realmName, refreshToken string) (*credentials.Session, error)
	Logout(ctx context.Context, realmName, refreshToken string) error
}

type Config struct {
	ServiceName  string
	Version      string
	ServeOpenAPI bool
}

// App holds the auth-service dependencies. Handlers are methods on it.
type App struct {
	cfg       Config
	log       *zap.SugaredLogger
	registrar Registrar
	sessions  Sessions
	tokens    middleware.TokenValidator
	gatherer  prometheus.Gatherer
	api       *openapi.Registry
	validate  *validator.Validate
}

// New wires the App. gatherer backs /metrics; nil uses the default registry.
func New(cfg Config, log *zap.SugaredLogger, registrar Registrar, sessions Sessions, tokens middleware.TokenValidator, gatherer prometheus.Gatherer) *App {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "auth-service"
	}
	if cfg.Version == "" {
		cfg.Version = "0.1.0"
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	a := &App{
		cfg:       cfg,
		log:       log,
		registrar: registrar,
		sessions:  sessions,
		tokens:    tokens,
		gatherer:  gatherer,
		api:       openapi.NewRegistry(),
		validate:  newValidator(),
	}
	a.describe()
	return a
}

// newValidator reports fields by their JSON names.
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
