package tenants

import "context"

// Directory stores realm records.
type Directory interface {
	// Get returns ErrNotFound when no record exists.
	Get(ctx context.Context, name string) (Realm, error)
	// Save inserts or replaces the record keyed by Name.
	Save(ctx context.Context, r Realm) error
	// SetStatus moves an existing record to status. failedStep is kept only
	// for StatusFailed.
	SetStatus(ctx context.Context, name string, status Status, failedStep string) error
}

// Memberships indexes realms by user email.
type Memberships interface {
	// Add is idempotent; re-adding keeps the original timestamp.
	Add(ctx context.Context, email, realmName string) error
	// RealmsFor lists realm names oldest membership first.
	RealmsFor(ctx context.Context, email string) ([]string, error)
}
