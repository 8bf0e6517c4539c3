package main

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"realmauth/internal/adminapi"
	"realmauth/internal/bootstrap"
	"realmauth/internal/provisioning"
	"realmauth/pkg/config"
	"realmauth/pkg/logger"
	"realmauth/pkg/metrics"
	"realmauth/pkg/secret"
)

func main() {
	cfg := config.Load()
	log := logger.New(cfg.Env, "admin-api-service")
	defer log.Sync()

	tmpl, err := provisioning.LoadTemplate(cfg.RealmTemplateFile)
	if err != nil {
		log.Fatalw("realm template", "err", err)
	}

	m := metrics.New(prometheus.DefaultRegisterer)
	stores := bootstrap.OpenStores(cfg, log)
	defer stores.Close()

	sealer := secret.NewSealer(cfg.EncryptionKey)
	prov := provisioning.New(provisioning.Config{
		SharedRealm: cfg.SharedRealm,
		SharedRole:  cfg.SharedRealmRole,
		Template:    tmpl,
	}, bootstrap.Admin(cfg, log), stores.Directory, stores.Memberships, sealer, m, log)

	app := adminapi.New(adminapi.Config{
		IssuerBase:   cfg.KCBaseURL,
		CORSOrigins:  cfg.CORSOrigins,
		ServeOpenAPI: cfg.ServeOpenAPI,
	}, log, prov, stores.Directory, sealer, bootstrap.Validator(cfg, bootstrap.ClaimMapper(cfg, log), m, log), prometheus.DefaultGatherer)

	srv := &http.Server{Addr: cfg.AdminAddr, Handler: app.Handler(), ReadHeaderTimeout: 10 * time.Second}
	bootstrap.Serve(srv, "admin-api-service", log)
}
