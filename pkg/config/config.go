// pkg/config/config.go
package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Env       string
	AuthAddr  string // auth-service
	AdminAddr string // admin-api-service

	// Keycloak admin access
	KCBaseURL       string
	KCAdminRealm    string
	KCAdminUsername string
	KCAdminPassword string
	KCAdminClientID string

	// Shared realm for self-registration
	SharedRealm     string
	SharedRealmRole string

	// Bearer validation
	Audiences   []string
	AllowedAlgs []string
	ClockSkew   time.Duration

	// Key cache
	JWKSCacheTTL     time.Duration
	JWKSRatePerMin   int
	JWKSFetchTimeout time.Duration
	IdPHTTPTimeout   time.Duration

	// JMESPath claim mapping overrides; empty keeps the defaults
	ClaimRolesPath   string
	ClaimCompanyPath string
	ClaimAuthIDPath  string

	RealmTemplateFile string

	// Redis & Postgres
	RedisURL    string
	DatabaseURL string

	EncryptionKey string
	CORSOrigins   []string
	// ServeOpenAPI exposes /.well-known/openapi.json
	ServeOpenAPI bool
}

func Load() Config {
	_ = godotenv.Load()
	cfg := Config{
		Env:               env("ENV", "dev"),
		AuthAddr:          env("AUTH_HTTP_ADDR", ":8080"),
		AdminAddr:         env("ADMIN_HTTP_ADDR", ":8082"),
		KCBaseURL:         strings.TrimRight(env("KC_BASE_URL", "http://localhost:8081"), "/"),
		KCAdminRealm:      env("KC_ADMIN_REALM", "master"),
		KCAdminUsername:   env("KC_ADMIN_USERNAME", ""),
		KCAdminPassword:   env("KC_ADMIN_PASSWORD", ""),
		KCAdminClientID:   env("KC_ADMIN_CLIENT_ID", "admin-cli"),
		SharedRealm:       env("KC_SHARED_REALM", "ally"),
		SharedRealmRole:   env("KC_SHARED_REALM_ROLE", "user"),
		Audiences:         envList("OIDC_AUDIENCES", []string{"account", "api"}),
		AllowedAlgs:       envList("OIDC_ALLOWED_ALGS", []string{"RS256"}),
		ClockSkew:         envDur("OIDC_CLOCK_SKEW_SEC", 30) * time.Second,
		JWKSCacheTTL:      envDur("JWKS_CACHE_TTL_SEC", 600) * time.Second,
		JWKSRatePerMin:    envInt("JWKS_RATE_PER_MIN", 5),
		JWKSFetchTimeout:  envDur("JWKS_FETCH_TIMEOUT_SEC", 5) * time.Second,
		IdPHTTPTimeout:    envDur("IDP_HTTP_TIMEOUT_SEC", 10) * time.Second,
		ClaimRolesPath:    env("CLAIM_ROLES_PATH", ""),
		ClaimCompanyPath:  env("CLAIM_COMPANY_PATH", ""),
		ClaimAuthIDPath:   env("CLAIM_AUTHID_PATH", ""),
		RealmTemplateFile: env("REALM_TEMPLATE_FILE", ""),
		RedisURL:          env("REDIS_URL", ""),
		DatabaseURL:       env("DATABASE_URL", ""),
		EncryptionKey:     env("ENCRYPTION_KEY", ""),
		CORSOrigins:       envList("ADMIN_CORS_ORIGINS", []string{"http://localhost:3001"}),
		ServeOpenAPI:      envBool("OPENAPI_ENABLED", true),
	}
	if cfg.DatabaseURL == "" {
		log.Println("[WARN] DATABASE_URL not set; using in-memory realm directory for dev")
	}
	if cfg.EncryptionKey == "" {
		log.Println("[WARN] ENCRYPTION_KEY not set; client secrets are stored unsealed")
	}
	return cfg
}

func env(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
func envBool(k string, def bool) bool {
	if v := os.Getenv(k); v != "" {
		b, _ := strconv.ParseBool(v)
		return b
	}
	return def
}
func envInt(k string, def int) int {
	if v := os.Getenv(k); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}
func envDur(k string, def int) time.Duration {
	return time.Duration(envInt(k, def))
}

// envList splits a comma separated value, dropping blanks.
func envList(k string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(k))
	if v == "" {
		return def
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
