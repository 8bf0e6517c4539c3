// Package tenants keeps local bookkeeping about provisioned realms and the
// realms each email belongs to. The identity provider stays the source of
// truth for users and credentials.
package tenants

import (
	"errors"
	"strings"
	"time"
)

var ErrNotFound = errors.New("tenants: not found")

// Status tracks how far provisioning of a realm got.
type Status string

const (
	StatusProvisioning   Status = "provisioning"
	StatusRealmCreated   Status = "realm_created"
	StatusClientsCreated Status = "clients_created"
	StatusRolesSeeded    Status = "roles_seeded"
	StatusReady          Status = "ready"
	StatusFailed         Status = "failed"
)

// Realm is one company's realm as recorded locally.
type Realm struct {
	Name        string
	DisplayName string
	CompanyID   string
	Status      Status
	FailedStep  string // set when Status is StatusFailed
	APIClientID string
	WebClientID string
	// SealedClientSecret is the API client's secret as produced by secret.Sealer.
	SealedClientSecret []byte
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// Membership records that a user with Email exists in RealmName.
type Membership struct {
	Email     string
	RealmName string
	CreatedAt time.Time
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
