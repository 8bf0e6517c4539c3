package keycloak

import (
	"context"
	"strings"
	"time"

	"github.com/Nerzal/gocloak/v13"
	"go.uber.org/zap"

	dErrors "realmauth/pkg/domainerrors"
)

// AdminConfig configures the administrative session.
type AdminConfig struct {
	BaseURL    string
	AdminRealm string
	Username   string
	Password   string
	ClientID   string
	Timeout    time.Duration
}

// Admin implements AdminClient on top of gocloak.
type Admin struct {
	gc         *gocloak.GoCloak
	adminRealm string
	username   string
	password   string
	clientID   string
	log        *zap.SugaredLogger
}

var _ AdminClient = (*Admin)(nil)

func NewAdmin(cfg AdminConfig, log *zap.SugaredLogger) *Admin {
	gc := gocloak.NewClient(strings.TrimRight(cfg.BaseURL, "/"))
	if cfg.Timeout > 0 {
		gc.RestyClient().SetTimeout(cfg.Timeout)
	}
	realm := cfg.AdminRealm
	if realm == "" {
		realm = "master"
	}
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "admin-cli"
	}
	return &Admin{
		gc:         gc,
		adminRealm: realm,
		username:   cfg.Username,
		password:   cfg.Password,
		clientID:   clientID,
		log:        log,
	}
}

// session logs in again on every call; admin tokens are short-lived and
// are never reused across calls.
func (a *Admin) session(ctx context.Context) (string, error) {
	tok, err := a.gc.GetToken(ctx, a.adminRealm, gocloak.TokenOptions{
		ClientID:  gocloak.StringP(a.clientID),
		GrantType: gocloak.StringP("password"),
		Username:  gocloak.StringP(a.username),
		Password:  gocloak.StringP(a.password),
	})
	if err != nil {
		return "", translateLogin(err)
	}
	return tok.AccessToken, nil
}

func (a *Admin) RealmExists(ctx context.Context, realm string) (bool, error) {
	token, err := a.session(ctx)
	if err != nil {
		return false, err
	}
	if _, err := a.gc.GetRealm(ctx, token, realm); err != nil {
		terr := translate(err, "get realm "+realm)
		if dErrors.HasCode(terr, dErrors.CodeNotFound) {
			return false, nil
		}
		return false, terr
	}
	return true, nil
}

func (a *Admin) CreateRealm(ctx context.Context, spec RealmSpec) error {
	token, err := a.session(ctx)
	if err != nil {
		return err
	}
	rep := gocloak.RealmRepresentation{
		Realm:                  gocloak.StringP(spec.Name),
		DisplayName:            gocloak.StringP(spec.DisplayName),
		Enabled:                gocloak.BoolP(true),
		RegistrationAllowed:    gocloak.BoolP(false),
		LoginWithEmailAllowed:  gocloak.BoolP(true),
		DuplicateEmailsAllowed: gocloak.BoolP(false),
		ResetPasswordAllowed:   gocloak.BoolP(true),
		RememberMe:             gocloak.BoolP(true),
		EditUsernameAllowed:    gocloak.BoolP(false),
		BruteForceProtected:    gocloak.BoolP(true),
		Attributes:             &map[string]string{"companyId": spec.CompanyID},
	}
	if spec.DefaultLocale != "" {
		rep.InternationalizationEnabled = gocloak.BoolP(true)
		rep.DefaultLocale = gocloak.StringP(spec.DefaultLocale)
	}
	if spec.AccessTokenLifespan > 0 {
		rep.AccessTokenLifespan = gocloak.IntP(spec.AccessTokenLifespan)
	}
	if _, err := a.gc.CreateRealm(ctx, token, rep); err != nil {
		return translate(err, "create realm "+spec.Name)
	}
	a.log.Debugw("realm created", "realm", spec.Name)
	return nil
}

func (a *Admin) CreateClient(ctx context.Context, realm string, spec ClientSpec) error {
	token, err := a.session(ctx)
	if err != nil {
		return err
	}
	c := gocloak.Client{
		ClientID:                  gocloak.StringP(spec.ClientID),
		Name:                      gocloak.StringP(spec.Name),
		Enabled:                   gocloak.BoolP(true),
		PublicClient:              gocloak.BoolP(spec.Public),
		Protocol:                  gocloak.StringP("openid-connect"),
		StandardFlowEnabled:       gocloak.BoolP(true),
		DirectAccessGrantsEnabled: gocloak.BoolP(spec.DirectAccessGrants),
		ServiceAccountsEnabled:    gocloak.BoolP(spec.ServiceAccounts),
	}
	if !spec.Public && spec.Secret != "" {
		c.Secret = gocloak.StringP(spec.Secret)
	}
	if len(spec.RedirectURIs) > 0 {
		uris := append([]string(nil), spec.RedirectURIs...)
		c.RedirectURIs = &uris
	}
	if len(spec.WebOrigins) > 0 {
		origins := append([]string(nil), spec.WebOrigins...)
		c.WebOrigins = &origins
	}
	if _, err := a.gc.CreateClient(ctx, token, realm, c); err != nil {
		return translate(err, "create client "+spec.ClientID)
	}
	a.log.Debugw("client created", "realm", realm, "client_id", spec.ClientID, "public", spec.Public)
	return nil
}

func (a *Admin) CreateRole(ctx context.Context, realm string, spec RoleSpec) error {
	token, err := a.session(ctx)
	if err != nil {
		return err
	}
	role := gocloak.Role{Name: gocloak.StringP(spec.Name), Description: gocloak.StringP(spec.Description)}
	if _, err := a.gc.CreateRealmRole(ctx, token, realm, role); err != nil {
		return translate(err, "create role "+spec.Name)
	}
	return nil
}

func (a *Admin) CreateUser(ctx context.Context, realm string, spec UserSpec) (string, error) {
	token, err := a.session(ctx)
	if err != nil {
		return "", err
	}
	attrs := map[string][]string{
		"companyId": {spec.CompanyID},
		"authId":    {spec.AuthID},
	}
	creds := []gocloak.CredentialRepresentation{{
		Type:      gocloak.StringP("password"),
		Value:     gocloak.StringP(spec.TemporaryPassword),
		Temporary: gocloak.BoolP(true),
	}}
	u := gocloak.User{
		Username:      gocloak.StringP(spec.Email),
		Email:         gocloak.StringP(spec.Email),
		FirstName:     gocloak.StringP(spec.FirstName),
		LastName:      gocloak.StringP(spec.LastName),
		Enabled:       gocloak.BoolP(true),
		EmailVerified: gocloak.BoolP(spec.EmailVerified),
		Attributes:    &attrs,
		Credentials:   &creds,
	}
	id, err := a.gc.CreateUser(ctx, token, realm, u)
	if err != nil {
		return "", translate(err, "create user in "+realm)
	}
	if id == "" {
		return "", dErrors.New(dErrors.CodeInternal, "identity provider returned no user id")
	}
	a.log.Debugw("user created", "realm", realm, "user_id", id)
	return id, nil
}

func (a *Admin) AssignRole(ctx context.Context, realm, userID, roleName string) error {
	token, err := a.session(ctx)
	if err != nil {
		return err
	}
	role, err := a.gc.GetRealmRole(ctx, token, realm, roleName)
	if err != nil {
		return translate(err, "get role "+roleName)
	}
	if err := a.gc.AddRealmRoleToUser(ctx, token, realm, userID, []gocloak.Role{*role}); err != nil {
		return translate(err, "assign role "+roleName)
	}
	return nil
}

func (a *Admin) FindUserByEmail(ctx context.Context, realm, email string) (*User, error) {
	token, err := a.session(ctx)
	if err != nil {
		return nil, err
	}
	users, err := a.gc.GetUsers(ctx, token, realm, gocloak.GetUsersParams{
		Email: gocloak.StringP(email),
		Exact: gocloak.BoolP(true),
	})
	if err != nil {
		return nil, translate(err, "find user in "+realm)
	}
	for _, u := range users {
		if u != nil && strings.EqualFold(gocloak.PString(u.Email), email) {
			return toUser(u), nil
		}
	}
	return nil, nil
}

func (a *Admin) ResetPassword(ctx context.Context, realm, userID, newPassword string) error {
	token, err := a.session(ctx)
	if err != nil {
		return err
	}
	if err := a.gc.SetPassword(ctx, token, userID, realm, newPassword, false); err != nil {
		return translate(err, "reset password")
	}
	return nil
}

func (a *Admin) MarkVerified(ctx context.Context, realm, userID string) error {
	token, err := a.session(ctx)
	if err != nil {
		return err
	}
	u := gocloak.User{ID: gocloak.StringP(userID), EmailVerified: gocloak.BoolP(true)}
	if err := a.gc.UpdateUser(ctx, token, realm, u); err != nil {
		return translate(err, "mark user verified")
	}
	return nil
}

func toUser(u *gocloak.User) *User {
	out := &User{
		ID:            gocloak.PString(u.ID),
		Username:      gocloak.PString(u.Username),
		Email:         gocloak.PString(u.Email),
		FirstName:     gocloak.PString(u.FirstName),
		LastName:      gocloak.PString(u.LastName),
		Enabled:       gocloak.PBool(u.Enabled),
		EmailVerified: gocloak.PBool(u.EmailVerified),
	}
	if u.Attributes != nil {
		attrs := *u.Attributes
		out.CompanyID = first(attrs["companyId"])
		out.AuthID = first(attrs["authId"])
	}
	return out
}

func first(v []string) string {
	if len(v) == 0 {
		return ""
	}
	return v[0]
}
