// Package bootstrap builds the collaborators both binaries share from config.
package bootstrap

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"realmauth/pkg/config"
	"realmauth/pkg/db"
	"realmauth/pkg/keycloak"
	"realmauth/pkg/metrics"
	"realmauth/pkg/middleware"
	"realmauth/pkg/tenants"
	"realmauth/pkg/tokens"
)

// Stores is the local bookkeeping backend chosen from config.
type Stores struct {
	Directory   tenants.Directory
	Memberships tenants.Memberships
	pool        *pgxpool.Pool
	rdb         *redis.Client
}

// Close releases database connections.
func (s *Stores) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
	if s.rdb != nil {
		_ = s.rdb.Close()
	}
}

// OpenStores uses Postgres when DATABASE_URL is set and the in-memory store
// otherwise. With REDIS_URL set, memberships are indexed in Redis instead.
func OpenStores(cfg config.Config, log *zap.SugaredLogger) *Stores {
	s := &Stores{}
	if pool := db.MustConnect(cfg, log); pool != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := tenants.EnsureSchema(ctx, pool); err != nil {
			log.Fatalw("schema", "err", err)
		}
		pg := tenants.NewPostgresStore(pool, log)
		s.pool, s.Directory, s.Memberships = pool, pg, pg
	} else {
		mem := tenants.NewMemoryStore(log)
		s.Directory, s.Memberships = mem, mem
	}
	if rdb := db.MustRedis(cfg, log); rdb != nil {
		s.rdb = rdb
		s.Memberships = tenants.NewRedisMemberships(rdb, "")
	}
	if s.pool == nil && s.rdb == nil {
		log.Warnw("memberships are process-local; set DATABASE_URL or REDIS_URL so auth-service sees users provisioned by admin-api-service, otherwise company logins need a realm hint")
	}
	return s
}

// Admin builds the identity provider admin client.
func Admin(cfg config.Config, log *zap.SugaredLogger) *keycloak.Admin {
	if cfg.KCAdminUsername == "" || cfg.KCAdminPassword == "" {
		log.Warnw("KC_ADMIN_USERNAME/KC_ADMIN_PASSWORD not set; admin calls will fail with admin_unauthenticated")
	}
	return keycloak.NewAdmin(keycloak.AdminConfig{
		BaseURL:    cfg.KCBaseURL,
		AdminRealm: cfg.KCAdminRealm,
		Username:   cfg.KCAdminUsername,
		Password:   cfg.KCAdminPassword,
		ClientID:   cfg.KCAdminClientID,
		Timeout:    cfg.IdPHTTPTimeout,
	}, log)
}

// ClaimMapper compiles the configured claim paths. Bad expressions are fatal.
func ClaimMapper(cfg config.Config, log *zap.SugaredLogger) *tokens.ClaimMapper {
	mapper, err := tokens.NewClaimMapper(tokens.ClaimPaths{
		Roles:   cfg.ClaimRolesPath,
		Company: cfg.ClaimCompanyPath,
		AuthID:  cfg.ClaimAuthIDPath,
	})
	if err != nil {
		log.Fatalw("claim paths", "err", err)
	}
	return mapper
}

// Validator builds the bearer token validator with its per-issuer key cache.
func Validator(cfg config.Config, mapper *tokens.ClaimMapper, m *metrics.Metrics, log *zap.SugaredLogger) *tokens.Validator {
	keys := tokens.NewKeyCache(tokens.KeyCacheConfig{
		TTL:          cfg.JWKSCacheTTL,
		FetchTimeout: cfg.JWKSFetchTimeout,
		RatePerMin:   cfg.JWKSRatePerMin,
		Fetch:        tokens.HTTPFetcher(&http.Client{Timeout: cfg.JWKSFetchTimeout}),
		Metrics:      m,
		Log:          log,
	})
	return tokens.NewValidator(tokens.ValidatorConfig{
		IssuerBase:  cfg.KCBaseURL,
		Audiences:   cfg.Audiences,
		AllowedAlgs: cfg.AllowedAlgs,
		ClockSkew:   cfg.ClockSkew,
	}, keys, mapper, m, log)
}

// Serve runs srv until SIGINT or SIGTERM, then shuts down gracefully.
func Serve(srv *http.Server, name string, log *zap.SugaredLogger) {
	go func() {
		log.Infow(name+" listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalw("ListenAndServe", "err", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
	if err := middleware.ShutdownTracing(ctx); err != nil {
		log.Warnw("tracing shutdown", "err", err)
	}
	log.Infow(name + " stopped")
}
