// Package keycloaktest provides an in-memory keycloak.AdminClient for tests.
package keycloaktest

import (
	"context"
	"fmt"
	"strings"
	"sync"

	dErrors "realmauth/pkg/domainerrors"
	"realmauth/pkg/keycloak"
)

// Operation names recorded in Calls and accepted by FailOn.
const (
	OpRealmExists     = "RealmExists"
	OpCreateRealm     = "CreateRealm"
	OpCreateClient    = "CreateClient"
	OpCreateRole      = "CreateRole"
	OpCreateUser      = "CreateUser"
	OpAssignRole      = "AssignRole"
	OpFindUserByEmail = "FindUserByEmail"
	OpResetPassword   = "ResetPassword"
	OpMarkVerified    = "MarkVerified"
)

type Realm struct {
	Spec    keycloak.RealmSpec
	Clients []keycloak.ClientSpec
	Roles   []keycloak.RoleSpec
	Users   map[string]*User // by id
}

type User struct {
	keycloak.User
	Spec     keycloak.UserSpec
	Roles    []string
	Password string
}

// Fake records every call and keeps realms in memory. Set FailOn[op] to make
// the next calls to op fail with that error.
type Fake struct {
	mu     sync.Mutex
	Realms map[string]*Realm
	Calls  []string
	FailOn map[string]error
	nextID int
}

var _ keycloak.AdminClient = (*Fake)(nil)

func New() *Fake {
	return &Fake{Realms: map[string]*Realm{}, FailOn: map[string]error{}}
}

// AddRealm seeds a realm with the given roles.
func (f *Fake) AddRealm(name string, roles ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := &Realm{Spec: keycloak.RealmSpec{Name: name}, Users: map[string]*User{}}
	for _, role := range roles {
		r.Roles = append(r.Roles, keycloak.RoleSpec{Name: role})
	}
	f.Realms[name] = r
}

// Count returns how many times op was called.
func (f *Fake) Count(op string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c == op {
			n++
		}
	}
	return n
}

// Realm returns the stored realm. Callers must not mutate it.
func (f *Fake) Realm(name string) *Realm {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Realms[name]
}

func (f *Fake) enter(op string) error {
	f.Calls = append(f.Calls, op)
	return f.FailOn[op]
}

func (f *Fake) realm(name string) (*Realm, error) {
	r, ok := f.Realms[name]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("realm %q not found", name))
	}
	return r, nil
}

func (f *Fake) RealmExists(ctx context.Context, realm string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpRealmExists); err != nil {
		return false, err
	}
	_, ok := f.Realms[realm]
	return ok, nil
}

func (f *Fake) CreateRealm(ctx context.Context, spec keycloak.RealmSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpCreateRealm); err != nil {
		return err
	}
	if _, ok := f.Realms[spec.Name]; ok {
		return dErrors.New(dErrors.CodeConflict, "realm exists")
	}
	f.Realms[spec.Name] = &Realm{Spec: spec, Users: map[string]*User{}}
	return nil
}

func (f *Fake) CreateClient(ctx context.Context, realm string, spec keycloak.ClientSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpCreateClient); err != nil {
		return err
	}
	r, err := f.realm(realm)
	if err != nil {
		return err
	}
	for _, c := range r.Clients {
		if c.ClientID == spec.ClientID {
			return dErrors.New(dErrors.CodeConflict, "client exists")
		}
	}
	r.Clients = append(r.Clients, spec)
	return nil
}

func (f *Fake) CreateRole(ctx context.Context, realm string, spec keycloak.RoleSpec) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpCreateRole); err != nil {
		return err
	}
	r, err := f.realm(realm)
	if err != nil {
		return err
	}
	for _, role := range r.Roles {
		if role.Name == spec.Name {
			return dErrors.New(dErrors.CodeConflict, "role exists")
		}
	}
	r.Roles = append(r.Roles, spec)
	return nil
}

func (f *Fake) CreateUser(ctx context.Context, realm string, spec keycloak.UserSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpCreateUser); err != nil {
		return "", err
	}
	r, err := f.realm(realm)
	if err != nil {
		return "", err
	}
	for _, u := range r.Users {
		if strings.EqualFold(u.Email, spec.Email) {
			return "", dErrors.New(dErrors.CodeConflict, "user exists")
		}
	}
	f.nextID++
	id := fmt.Sprintf("user-%d", f.nextID)
	r.Users[id] = &User{
		User: keycloak.User{
			ID: id, Username: spec.Email, Email: spec.Email,
			FirstName: spec.FirstName, LastName: spec.LastName,
			Enabled: true, EmailVerified: spec.EmailVerified,
			CompanyID: spec.CompanyID, AuthID: spec.AuthID,
		},
		Spec:     spec,
		Password: spec.TemporaryPassword,
	}
	return id, nil
}

func (f *Fake) AssignRole(ctx context.Context, realm, userID, roleName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpAssignRole); err != nil {
		return err
	}
	r, err := f.realm(realm)
	if err != nil {
		return err
	}
	u, ok := r.Users[userID]
	if !ok {
		return dErrors.New(dErrors.CodeNotFound, "user not found")
	}
	for _, role := range r.Roles {
		if role.Name == roleName {
			u.Roles = append(u.Roles, roleName)
			return nil
		}
	}
	return dErrors.New(dErrors.CodeNotFound, "role not found")
}

func (f *Fake) FindUserByEmail(ctx context.Context, realm, email string) (*keycloak.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpFindUserByEmail); err != nil {
		return nil, err
	}
	r, err := f.realm(realm)
	if err != nil {
		return nil, err
	}
	for _, u := range r.Users {
		if strings.EqualFold(u.Email, email) {
			cp := u.User
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *Fake) ResetPassword(ctx context.Context, realm, userID, newPassword string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpResetPassword); err != nil {
		return err
	}
	u, err := f.user(realm, userID)
	if err != nil {
		return err
	}
	u.Password = newPassword
	return nil
}

func (f *Fake) MarkVerified(ctx context.Context, realm, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.enter(OpMarkVerified); err != nil {
		return err
	}
	u, err := f.user(realm, userID)
	if err != nil {
		return err
	}
	u.EmailVerified = true
	return nil
}

func (f *Fake) user(realm, userID string) (*User, error) {
	r, err := f.realm(realm)
	if err != nil {
		return nil, err
	}
	u, ok := r.Users[userID]
	if !ok {
		return nil, dErrors.New(dErrors.CodeNotFound, "user not found")
	}
	return u, nil
}
