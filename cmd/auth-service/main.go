// cmd/auth-service/main.go
package main

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"realmauth/internal/authapi"
	"realmauth/internal/bootstrap"
	"realmauth/internal/credentials"
	"realmauth/internal/provisioning"
	"realmauth/pkg/config"
	"realmauth/pkg/logger"
	"realmauth/pkg/metrics"
	"realmauth/pkg/secret"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env, "auth-service")
	defer log.Sync()

	m := metrics.New(prometheus.DefaultRegisterer)
	stores := bootstrap.OpenStores(cfg, log)
	defer stores.Close()

	admin := bootstrap.Admin(cfg, log)
	mapper := bootstrap.ClaimMapper(cfg, log)

	prov := provisioning.New(provisioning.Config{
		SharedRealm: cfg.SharedRealm,
		SharedRole:  cfg.SharedRealmRole,
	}, admin, stores.Directory, stores.Memberships, secret.NewSealer(cfg.EncryptionKey), m, log)

	issuer := credentials.New(credentials.Config{
		BaseURL:     cfg.KCBaseURL,
		SharedRealm: cfg.SharedRealm,
		HTTPClient:  &http.Client{Timeout: cfg.IdPHTTPTimeout},
	}, admin, stores.Memberships, mapper, m, log)

	app := authapi.New(authapi.Config{ServeOpenAPI: cfg.ServeOpenAPI}, log, prov, issuer,
		bootstrap.Validator(cfg, mapper, m, log), prometheus.DefaultGatherer)

	srv := &http.Server{Addr: cfg.AuthAddr, Handler: app.Handler(), ReadHeaderTimeout: 10 * time.Second}
	bootstrap.Serve(srv, "auth-service", log)
}
