// Package keycloak abstracts the identity provider's administrative API.
package keycloak

import "context"

// RealmSpec describes a realm to create.
type RealmSpec struct {
	Name                string
	DisplayName         string
	CompanyID           string
	DefaultLocale       string
	AccessTokenLifespan int // seconds; zero keeps the provider default
}

// ClientSpec describes an OAuth client inside a realm.
type ClientSpec struct {
	ClientID     string
	Name         string
	Public       bool
	Secret       string // confidential clients only
	RedirectURIs []string
	WebOrigins   []string
	// DirectAccessGrants enables the resource-owner password grant.
	DirectAccessGrants bool
	ServiceAccounts    bool
}

// RoleSpec is a realm-scoped role.
type RoleSpec struct {
	Name        string
	Description string
}

// UserSpec is a user to create. TemporaryPassword forces a change on first login.
type UserSpec struct {
	Email             string
	FirstName         string
	LastName          string
	CompanyID         string
	AuthID            string
	TemporaryPassword string
	EmailVerified     bool
}

// User is the subset of the provider's user representation we consume.
type User struct {
	ID            string
	Username      string
	Email         string
	FirstName     string
	LastName      string
	Enabled       bool
	EmailVerified bool
	CompanyID     string
	AuthID        string
}

// AdminClient is the administrative surface the provisioning workflows need.
//
// Every method authenticates a fresh administrative session before acting.
// Errors carry domainerrors codes: admin_unauthenticated, conflict,
// not_found, validation_failed or unavailable. Nothing is retried.
type AdminClient interface {
	RealmExists(ctx context.Context, realm string) (bool, error)
	CreateRealm(ctx context.Context, spec RealmSpec) error
	CreateClient(ctx context.Context, realm string, spec ClientSpec) error
	CreateRole(ctx context.Context, realm string, spec RoleSpec) error
	CreateUser(ctx context.Context, realm string, spec UserSpec) (string, error)
	AssignRole(ctx context.Context, realm, userID, roleName string) error
	// FindUserByEmail returns nil, nil when no user has that email.
	FindUserByEmail(ctx context.Context, realm, email string) (*User, error)
	ResetPassword(ctx context.Context, realm, userID, newPassword string) error
	MarkVerified(ctx context.Context, realm, userID string) error
}
