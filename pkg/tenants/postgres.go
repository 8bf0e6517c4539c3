package tenants

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStore implements Directory and Memberships backed by PostgreSQL.
type PostgresStore struct {
	dbPool *pgxpool.Pool
	log    *zap.SugaredLogger
}

var (
	_ Directory   = (*PostgresStore)(nil)
	_ Memberships = (*PostgresStore)(nil)
)

func NewPostgresStore(dbPool *pgxpool.Pool, log *zap.SugaredLogger) *PostgresStore {
	return &PostgresStore{dbPool: dbPool, log: log}
}

// EnsureSchema creates the tables if they do not already exist.
// Safe to call repeatedly.
func EnsureSchema(ctx context.Context, dbPool *pgxpool.Pool) error {
	_, err := dbPool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS realms (
  name text PRIMARY KEY,
  display_name text NOT NULL,
  company_id text NOT NULL,
  status text NOT NULL DEFAULT 'provisioning',
  failed_step text NOT NULL DEFAULT '',
  api_client_id text NOT NULL DEFAULT '',
  web_client_id text NOT NULL DEFAULT '',
  sealed_client_secret bytea,
  created_at timestamptz NOT NULL DEFAULT NOW(),
  updated_at timestamptz NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS realms_company_idx ON realms(company_id);
CREATE TABLE IF NOT EXISTS realm_memberships (
  email text NOT NULL,
  realm_name text NOT NULL,
  created_at timestamptz NOT NULL DEFAULT NOW(),
  PRIMARY KEY (email, realm_name)
);
`)
	return err
}

func (p *PostgresStore) Get(ctx context.Context, name string) (Realm, error) {
	row := p.dbPool.QueryRow(ctx, `SELECT name,display_name,company_id,status,failed_step,api_client_id,web_client_id,sealed_client_secret,created_at,updated_at FROM realms WHERE name=$1`, name)
	var r Realm
	var status string
	if err := row.Scan(&r.Name, &r.DisplayName, &r.CompanyID, &status, &r.FailedStep, &r.APIClientID, &r.WebClientID, &r.SealedClientSecret, &r.CreatedAt, &r.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Realm{}, ErrNotFound
		}
		return Realm{}, err
	}
	r.Status = Status(status)
	return r, nil
}

func (p *PostgresStore) Save(ctx context.Context, r Realm) error {
	_, err := p.dbPool.Exec(ctx, `INSERT INTO realms(name,display_name,company_id,status,failed_step,api_client_id,web_client_id,sealed_client_secret)
	  VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	  ON CONFLICT (name) DO UPDATE SET display_name=EXCLUDED.display_name,company_id=EXCLUDED.company_id,status=EXCLUDED.status,
	    failed_step=EXCLUDED.failed_step,api_client_id=EXCLUDED.api_client_id,web_client_id=EXCLUDED.web_client_id,
	    sealed_client_secret=EXCLUDED.sealed_client_secret,updated_at=NOW()`,
		r.Name, r.DisplayName, r.CompanyID, string(r.Status), r.FailedStep, r.APIClientID, r.WebClientID, r.SealedClientSecret)
	return err
}

func (p *PostgresStore) SetStatus(ctx context.Context, name string, status Status, failedStep string) error {
	if status != StatusFailed {
		failedStep = ""
	}
	tag, err := p.dbPool.Exec(ctx, `UPDATE realms SET status=$2, failed_step=$3, updated_at=NOW() WHERE name=$1`, name, string(status), failedStep)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) Add(ctx context.Context, email, realmName string) error {
	_, err := p.dbPool.Exec(ctx, `INSERT INTO realm_memberships(email,realm_name) VALUES ($1,$2) ON CONFLICT DO NOTHING`,
		normalizeEmail(email), realmName)
	return err
}

func (p *PostgresStore) RealmsFor(ctx context.Context, email string) ([]string, error) {
	rows, err := p.dbPool.Query(ctx, `SELECT realm_name FROM realm_memberships WHERE email=$1 ORDER BY created_at, realm_name`, normalizeEmail(email))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}
