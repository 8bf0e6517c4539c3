// Package provisioning runs the multi-step workflows that create company
// realms and their users in the identity provider.
//
// The identity provider offers no transactions. Steps run strictly in order,
// the first failure aborts the workflow, and nothing already created is undone.
package provisioning

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	dErrors "realmauth/pkg/domainerrors"
	"realmauth/pkg/keycloak"
	"realmauth/pkg/metrics"
	"realmauth/pkg/realm"
	"realmauth/pkg/secret"
	"realmauth/pkg/tenants"
)

const (
	tempPasswordLen   = 12
	clientSecretLen   = 32
	minPasswordLen    = 8
	sharedCompanyID   = "generic"
	defaultSharedRole = "user"
)

// Workflow steps, used in errors, metrics and the realm record.
const (
	StepCreateRealm   = "create_realm"
	StepCreateClients = "create_clients"
	StepSeedRoles     = "seed_roles"
	StepGenerate      = "generate_credentials"
	StepCreateOwner   = "create_owner"
	StepAssignRole    = "assign_role"
)

type Company struct {
	ID   string `validate:"required,max=64"`
	Name string `validate:"required,max=200"`
}

type NewUser struct {
	Email     string `validate:"required,email,max=254"`
	FirstName string `validate:"required,max=100"`
	LastName  string `validate:"required,max=100"`
	AuthID    string `validate:"required,max=128"`
	CompanyID string `validate:"max=64"`
}

type RealmProvisioned struct {
	RealmName         string `json:"realmName"`
	UserID            string `json:"userId"`
	TemporaryPassword string `json:"temporaryPassword"`
	APIClientID       string `json:"apiClientId"`
	WebClientID       string `json:"webClientId"`
}

type UserProvisioned struct {
	RealmName         string `json:"realmName"`
	UserID            string `json:"userId"`
	Email             string `json:"email"`
	Role              string `json:"role"`
	TemporaryPassword string `json:"temporaryPassword"`
}

type Config struct {
	SharedRealm string
	SharedRole  string
	Template    Template
}

// Provisioner owns no mutable state; concurrent workflows for different
// companies need no coordination.
type Provisioner struct {
	cfg      Config
	admin    keycloak.AdminClient
	dir      tenants.Directory
	members  tenants.Memberships
	sealer   *secret.Sealer
	gen      secret.Generator
	validate *validator.Validate
	m        *metrics.Metrics
	log      *zap.SugaredLogger
	tracer   trace.Tracer
}

// New wires a Provisioner. dir and members may be nil, in which case no
// local bookkeeping is kept.
func New(cfg Config, admin keycloak.AdminClient, dir tenants.Directory, members tenants.Memberships, sealer *secret.Sealer, m *metrics.Metrics, log *zap.SugaredLogger) *Provisioner {
	if cfg.SharedRole == "" {
		cfg.SharedRole = defaultSharedRole
	}
	if sealer == nil {
		sealer = secret.NewSealer("")
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Provisioner{
		cfg:      cfg,
		admin:    admin,
		dir:      dir,
		members:  members,
		sealer:   sealer,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		m:        m,
		log:      log,
		tracer:   otel.Tracer("realmauth/provisioning"),
	}
}

// ProvisionCompanyRealm creates the company's realm, its two clients, the
// role catalog and the owner account with the Admin role.
func (p *Provisioner) ProvisionCompanyRealm(ctx context.Context, company Company, owner NewUser) (RealmProvisioned, error) {
	ctx, span := p.tracer.Start(ctx, "provisioning.company_realm")
	defer span.End()

	if owner.CompanyID == "" {
		owner.CompanyID = company.ID
	}
	if err := p.check(company); err != nil {
		return RealmProvisioned{}, err
	}
	if err := p.check(owner); err != nil {
		return RealmProvisioned{}, err
	}
	name := realm.NameFor(company.Name)
	if err := realm.Validate(name); err != nil {
		return RealmProvisioned{}, dErrors.Wrap(err, dErrors.CodeValidation, fmt.Sprintf("company name %q yields no usable realm name", company.Name))
	}
	span.SetAttributes(attribute.String("realm", name))
	log := p.log.With("realm", name, "company_id", company.ID)

	exists, err := p.admin.RealmExists(ctx, name)
	if err != nil {
		return RealmProvisioned{}, dErrors.Wrap(err, dErrors.CodeInternal, "check realm existence: "+err.Error())
	}
	if exists {
		return RealmProvisioned{}, dErrors.New(dErrors.CodeConflict, fmt.Sprintf("realm %q already exists", name))
	}

	out := RealmProvisioned{RealmName: name, APIClientID: name + "-api", WebClientID: name + "-web"}
	rec := tenants.Realm{
		Name:        name,
		DisplayName: company.Name,
		CompanyID:   company.ID,
		APIClientID: out.APIClientID,
		WebClientID: out.WebClientID,
	}

	err = p.step(ctx, StepCreateRealm, func(ctx context.Context) error {
		return p.admin.CreateRealm(ctx, keycloak.RealmSpec{
			Name:                name,
			DisplayName:         company.Name,
			CompanyID:           company.ID,
			DefaultLocale:       p.cfg.Template.DefaultLocale,
			AccessTokenLifespan: p.cfg.Template.AccessTokenLifespan,
		})
	})
	if err != nil {
		// nothing exists yet, so there is no record to mark
		return RealmProvisioned{}, p.abort(ctx, log, name, StepCreateRealm, err, false)
	}
	rec.Status = tenants.StatusRealmCreated
	p.saveRecord(ctx, log, rec)

	err = p.step(ctx, StepCreateClients, func(ctx context.Context) error {
		clientSecret, err := p.gen.Token(clientSecretLen)
		if err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "generate client secret")
		}
		if err := p.admin.CreateClient(ctx, name, keycloak.ClientSpec{
			ClientID:        out.APIClientID,
			Name:            company.Name + " API",
			Secret:          clientSecret,
			ServiceAccounts: true,
		}); err != nil {
			return err
		}
		if err := p.admin.CreateClient(ctx, name, keycloak.ClientSpec{
			ClientID:           out.WebClientID,
			Name:               company.Name + " Web",
			Public:             true,
			DirectAccessGrants: true,
			RedirectURIs:       p.cfg.Template.Web.RedirectURIs,
			WebOrigins:         p.cfg.Template.Web.WebOrigins,
		}); err != nil {
			return err
		}
		sealed, err := p.sealer.Seal([]byte(clientSecret))
		if err != nil {
			log.Warnw("sealing client secret failed", "err", err)
		}
		rec.SealedClientSecret = sealed
		return nil
	})
	if err != nil {
		return RealmProvisioned{}, p.abort(ctx, log, name, StepCreateClients, err, true)
	}
	rec.Status = tenants.StatusClientsCreated
	p.saveRecord(ctx, log, rec)

	err = p.step(ctx, StepSeedRoles, func(ctx context.Context) error {
		for _, role := range catalog {
			role.Description = p.cfg.Template.roleDescription(role.Name, role.Description)
			if err := p.admin.CreateRole(ctx, name, role); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return RealmProvisioned{}, p.abort(ctx, log, name, StepSeedRoles, err, true)
	}
	p.setStatus(ctx, log, name, tenants.StatusRolesSeeded, "")

	var tempPassword string
	err = p.step(ctx, StepGenerate, func(ctx context.Context) error {
		var err error
		if tempPassword, err = p.gen.Password(tempPasswordLen); err != nil {
			return dErrors.Wrap(err, dErrors.CodeInternal, "generate temporary password")
		}
		return nil
	})
	if err != nil {
		return RealmProvisioned{}, p.abort(ctx, log, name, StepGenerate, err, true)
	}

	err = p.step(ctx, StepCreateOwner, func(ctx context.Context) error {
		id, err := p.admin.CreateUser(ctx, name, userSpec(owner, tempPassword))
		out.UserID = id
		return err
	})
	if err != nil {
		return RealmProvisioned{}, p.abort(ctx, log, name, StepCreateOwner, err, true)
	}
	p.addMembership(ctx, log, owner.Email, name)

	err = p.step(ctx, StepAssignRole, func(ctx context.Context) error {
		return p.admin.AssignRole(ctx, name, out.UserID, RoleAdmin)
	})
	if err != nil {
		return RealmProvisioned{}, p.abort(ctx, log, name, StepAssignRole, err, true)
	}

	p.setStatus(ctx, log, name, tenants.StatusReady, "")
	p.m.IncRealmProvisioned()
	p.m.IncUserProvisioned("company_owner")
	log.Infow("company realm provisioned", "user_id", out.UserID)
	out.TemporaryPassword = tempPassword
	return out, nil
}

// AddUserToRealm creates a user in an existing company realm with a catalog role.
func (p *Provisioner) AddUserToRealm(ctx context.Context, realmName string, u NewUser, role string) (UserProvisioned, error) {
	ctx, span := p.tracer.Start(ctx, "provisioning.add_user", trace.WithAttributes(attribute.String("realm", realmName)))
	defer span.End()

	if err := realm.Validate(realmName); err != nil {
		return UserProvisioned{}, dErrors.Wrap(err, dErrors.CodeValidation, err.Error())
	}
	if !IsCatalogRole(role) {
		return UserProvisioned{}, dErrors.New(dErrors.CodeValidation, fmt.Sprintf("role %q is not one of %s", role, roleNames()))
	}
	if err := p.check(u); err != nil {
		return UserProvisioned{}, err
	}
	exists, err := p.admin.RealmExists(ctx, realmName)
	if err != nil {
		return UserProvisioned{}, dErrors.Wrap(err, dErrors.CodeInternal, "check realm existence: "+err.Error())
	}
	if !exists {
		return UserProvisioned{}, dErrors.New(dErrors.CodeNotFound, fmt.Sprintf("realm %q does not exist", realmName))
	}
	return p.addUser(ctx, realmName, u, role, "company_user")
}

// RegisterInSharedRealm creates a user that belongs to no company yet in the
// shared realm, with the basic role.
func (p *Provisioner) RegisterInSharedRealm(ctx context.Context, u NewUser) (UserProvisioned, error) {
	ctx, span := p.tracer.Start(ctx, "provisioning.register_shared", trace.WithAttributes(attribute.String("realm", p.cfg.SharedRealm)))
	defer span.End()

	u.CompanyID = sharedCompanyID
	if err := p.check(u); err != nil {
		return UserProvisioned{}, err
	}
	if err := realm.Validate(p.cfg.SharedRealm); err != nil {
		return UserProvisioned{}, dErrors.Wrap(err, dErrors.CodeInternal, "shared realm misconfigured: "+err.Error())
	}
	return p.addUser(ctx, p.cfg.SharedRealm, u, p.cfg.SharedRole, "shared")
}

func (p *Provisioner) addUser(ctx context.Context, realmName string, u NewUser, role, flow string) (UserProvisioned, error) {
	log := p.log.With("realm", realmName, "email", u.Email)

	existing, err := p.admin.FindUserByEmail(ctx, realmName, u.Email)
	if err != nil {
		return UserProvisioned{}, dErrors.Wrap(err, dErrors.CodeInternal, "look up user: "+err.Error())
	}
	if existing != nil {
		return UserProvisioned{}, dErrors.New(dErrors.CodeConflict, fmt.Sprintf("user %q already exists in realm %q", u.Email, realmName))
	}

	tempPassword, err := p.gen.Password(tempPasswordLen)
	if err != nil {
		return UserProvisioned{}, dErrors.Wrap(err, dErrors.CodeInternal, "generate temporary password")
	}
	out := UserProvisioned{RealmName: realmName, Email: u.Email, Role: role}
	err = p.step(ctx, StepCreateOwner, func(ctx context.Context) error {
		id, err := p.admin.CreateUser(ctx, realmName, userSpec(u, tempPassword))
		out.UserID = id
		return err
	})
	if err != nil {
		p.m.IncProvisioningFailure(StepCreateOwner)
		log.Errorw("user creation failed", "err", err)
		return UserProvisioned{}, dErrors.Wrap(err, dErrors.CodeInternal, "create user: "+err.Error())
	}
	p.addMembership(ctx, log, u.Email, realmName)

	err = p.step(ctx, StepAssignRole, func(ctx context.Context) error {
		return p.admin.AssignRole(ctx, realmName, out.UserID, role)
	})
	if err != nil {
		p.m.IncProvisioningFailure(StepAssignRole)
		log.Errorw("role assignment failed, user left without role", "user_id", out.UserID, "role", role, "err", err)
		return UserProvisioned{}, dErrors.Wrap(err, dErrors.CodeInternal, "assign role: "+err.Error())
	}

	p.m.IncUserProvisioned(flow)
	log.Infow("user provisioned", "user_id", out.UserID, "role", role)
	out.TemporaryPassword = tempPassword
	return out, nil
}

// VerifyUser marks the user's email as verified.
func (p *Provisioner) VerifyUser(ctx context.Context, realmName, userID string) error {
	if err := realm.Validate(realmName); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, err.Error())
	}
	if strings.TrimSpace(userID) == "" {
		return dErrors.New(dErrors.CodeValidation, "user id is required")
	}
	if err := p.admin.MarkVerified(ctx, realmName, userID); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "verify user: "+err.Error())
	}
	p.log.Infow("user verified", "realm", realmName, "user_id", userID)
	return nil
}

// ChangePassword sets a permanent password, clearing any temporary one.
func (p *Provisioner) ChangePassword(ctx context.Context, realmName, userID, newPassword string) error {
	if err := realm.Validate(realmName); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, err.Error())
	}
	if strings.TrimSpace(userID) == "" {
		return dErrors.New(dErrors.CodeValidation, "user id is required")
	}
	if len(newPassword) < minPasswordLen {
		return dErrors.New(dErrors.CodeValidation, fmt.Sprintf("password must be at least %d characters", minPasswordLen))
	}
	if err := p.admin.ResetPassword(ctx, realmName, userID, newPassword); err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "change password: "+err.Error())
	}
	p.log.Infow("password changed", "realm", realmName, "user_id", userID)
	return nil
}

func userSpec(u NewUser, tempPassword string) keycloak.UserSpec {
	return keycloak.UserSpec{
		Email:             u.Email,
		FirstName:         u.FirstName,
		LastName:          u.LastName,
		CompanyID:         u.CompanyID,
		AuthID:            u.AuthID,
		TemporaryPassword: tempPassword,
		EmailVerified:     false,
	}
}

func (p *Provisioner) step(ctx context.Context, name string, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, "provisioning."+name)
	defer span.End()
	if err := fn(ctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, name+" failed")
		return err
	}
	return nil
}

// abort reports the first failure of a realm workflow. Created resources
// are left in place; the local record is marked failed when one exists.
func (p *Provisioner) abort(ctx context.Context, log *zap.SugaredLogger, name, step string, err error, recorded bool) error {
	p.m.IncProvisioningFailure(step)
	log.Errorw("realm provisioning aborted", "step", step, "err", err)
	if recorded {
		p.setStatus(ctx, log, name, tenants.StatusFailed, step)
	}
	return dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("provisioning realm %q failed at %s: %v", name, step, err))
}

func (p *Provisioner) check(v any) error {
	err := p.validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s (%s)", fe.Field(), fe.Tag()))
		}
		return dErrors.Wrap(err, dErrors.CodeValidation, "invalid "+strings.Join(fields, ", "))
	}
	return dErrors.Wrap(err, dErrors.CodeValidation, err.Error())
}

// Directory and membership writes are bookkeeping; their failures are
// logged and never fail a workflow.
func (p *Provisioner) saveRecord(ctx context.Context, log *zap.SugaredLogger, rec tenants.Realm) {
	if p.dir == nil {
		return
	}
	if err := p.dir.Save(ctx, rec); err != nil {
		log.Warnw("realm record not saved", "status", rec.Status, "err", err)
	}
}

func (p *Provisioner) setStatus(ctx context.Context, log *zap.SugaredLogger, name string, status tenants.Status, step string) {
	if p.dir == nil {
		return
	}
	if err := p.dir.SetStatus(ctx, name, status, step); err != nil {
		log.Warnw("realm status not updated", "status", status, "err", err)
	}
}

func (p *Provisioner) addMembership(ctx context.Context, log *zap.SugaredLogger, email, realmName string) {
	if p.members == nil {
		return
	}
	if err := p.members.Add(ctx, email, realmName); err != nil {
		log.Warnw("membership not recorded", "err", err)
	}
}

func roleNames() string {
	names := make([]string, 0, len(catalog))
	for _, r := range catalog {
		names = append(names, r.Name)
	}
	return strings.Join(names, ", ")
}
