// Package credentials exchanges user credentials for tokens at the realm
// the user belongs to.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Nerzal/gocloak/v13"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	dErrors "realmauth/pkg/domainerrors"
	"realmauth/pkg/keycloak"
	"realmauth/pkg/metrics"
	"realmauth/pkg/realm"
	"realmauth/pkg/tenants"
	"realmauth/pkg/tokens"
)

var defaultScopes = []string{"openid", "profile", "email"}

// Session is the result of a successful credential or refresh exchange.
type Session struct {
	AccessToken      string            `json:"accessToken"`
	RefreshToken     string            `json:"refreshToken"`
	TokenType        string            `json:"tokenType"`
	ExpiresIn        int64             `json:"expiresIn"`
	ExpiresAt        time.Time         `json:"expiresAt"`
	RefreshExpiresIn int64             `json:"refreshExpiresIn,omitempty"`
	RealmName        string            `json:"realm"`
	User             *tokens.Principal `json:"user"`
}

type Config struct {
	BaseURL     string
	SharedRealm string
	Scopes      []string
	HTTPClient  *http.Client
}

// Issuer runs the password, refresh and logout flows against a realm's
// public web client.
type Issuer struct {
	cfg     Config
	admin   keycloak.AdminClient
	members tenants.Memberships
	mapper  *tokens.ClaimMapper
	gc      *gocloak.GoCloak
	m       *metrics.Metrics
	log     *zap.SugaredLogger
}

// New builds an Issuer. members may be nil, in which case only the shared
// realm is tried when no realm hint is given.
func New(cfg Config, admin keycloak.AdminClient, members tenants.Memberships, mapper *tokens.ClaimMapper, m *metrics.Metrics, log *zap.SugaredLogger) *Issuer {
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = defaultScopes
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if mapper == nil {
		mapper = tokens.MustClaimMapper()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	gc := gocloak.NewClient(cfg.BaseURL)
	gc.RestyClient().SetTimeout(cfg.HTTPClient.Timeout)
	return &Issuer{cfg: cfg, admin: admin, members: members, mapper: mapper, gc: gc, m: m, log: log}
}

func (i *Issuer) oauthConfig(realmName string) *oauth2.Config {
	return &oauth2.Config{
		ClientID: realmName + "-web",
		Scopes:   i.cfg.Scopes,
		Endpoint: oauth2.Endpoint{
			TokenURL:  i.cfg.BaseURL + "/realms/" + realmName + "/protocol/openid-connect/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}
}

func (i *Issuer) clientCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, i.cfg.HTTPClient)
}

// Authenticate exchanges email and password for tokens. With an empty
// realmHint the realm is resolved from the shared realm and the user's
// recorded memberships.
func (i *Issuer) Authenticate(ctx context.Context, email, password, realmHint string) (*Session, error) {
	email = strings.TrimSpace(email)
	if email == "" || password == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "email and password are required")
	}
	realmName, err := i.resolveRealm(ctx, email, realmHint)
	if err != nil {
		i.m.IncLogin(outcome(err))
		return nil, err
	}
	log := i.log.With("realm", realmName, "email", email)

	tok, err := i.oauthConfig(realmName).PasswordCredentialsToken(i.clientCtx(ctx), email, password)
	if err != nil {
		derr := mapTokenError(err, false)
		i.m.IncLogin(outcome(derr))
		log.Infow("login failed", "code", dErrors.CodeOf(derr))
		return nil, derr
	}
	s, err := i.session(realmName, tok)
	if err != nil {
		i.m.IncLogin("error")
		return nil, err
	}
	i.m.IncLogin("success")
	log.Infow("login succeeded", "user_id", s.User.Subject)
	return s, nil
}

// Refresh redeems a refresh token issued by realmName.
func (i *Issuer) Refresh(ctx context.Context, realmName, refreshToken string) (*Session, error) {
	if err := realm.Validate(realmName); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, err.Error())
	}
	if refreshToken == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "refresh token is required")
	}
	src := i.oauthConfig(realmName).TokenSource(i.clientCtx(ctx), &oauth2.Token{RefreshToken: refreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, mapTokenError(err, true)
	}
	if tok.RefreshToken == "" {
		tok.RefreshToken = refreshToken
	}
	return i.session(realmName, tok)
}

// Logout ends the session the refresh token belongs to.
func (i *Issuer) Logout(ctx context.Context, realmName, refreshToken string) error {
	if err := realm.Validate(realmName); err != nil {
		return dErrors.Wrap(err, dErrors.CodeValidation, err.Error())
	}
	if refreshToken == "" {
		return dErrors.New(dErrors.CodeValidation, "refresh token is required")
	}
	if err := i.gc.Logout(ctx, realmName+"-web", "", realmName, refreshToken); err != nil {
		switch code := keycloak.StatusCode(err); {
		case code == 0 || code >= 500:
			return dErrors.Wrap(err, dErrors.CodeUnavailable, "identity provider unavailable")
		case code == http.StatusUnauthorized:
			return dErrors.Wrap(err, dErrors.CodeUnauthorized, "session not recognized")
		default:
			return dErrors.Wrap(err, dErrors.CodeBadRequest, "logout rejected")
		}
	}
	i.log.Infow("logged out", "realm", realmName)
	return nil
}

// resolveRealm picks the realm to authenticate against. Candidates are the
// shared realm followed by recorded memberships, oldest first; the first
// realm where the user exists wins.
func (i *Issuer) resolveRealm(ctx context.Context, email, hint string) (string, error) {
	if hint != "" {
		if err := realm.Validate(hint); err != nil {
			return "", dErrors.Wrap(err, dErrors.CodeValidation, err.Error())
		}
		return hint, nil
	}

	candidates := []string{i.cfg.SharedRealm}
	if i.members != nil {
		recorded, err := i.members.RealmsFor(ctx, email)
		if err != nil {
			i.log.Warnw("membership lookup failed, trying shared realm only", "email", email, "err", err)
		}
		candidates = append(candidates, recorded...)
	}

	seen := map[string]bool{}
	for _, name := range candidates {
		if name == "" || seen[name] || realm.Validate(name) != nil {
			continue
		}
		seen[name] = true
		u, err := i.admin.FindUserByEmail(ctx, name, email)
		if err != nil {
			if dErrors.HasCode(err, dErrors.CodeNotFound) {
				continue
			}
			return "", err
		}
		if u != nil {
			return name, nil
		}
	}
	return "", dErrors.New(dErrors.CodeUnauthorized, "invalid credentials")
}

func (i *Issuer) session(realmName string, tok *oauth2.Token) (*Session, error) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(tok.AccessToken, claims); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "identity provider returned an unreadable access token")
	}
	p, err := i.mapper.Map(claims)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "access token lacks required claims")
	}
	p.RealmName = realmName

	s := &Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.TokenType,
		ExpiresAt:    tok.Expiry,
		RealmName:    realmName,
		User:         p,
	}
	if !tok.Expiry.IsZero() {
		s.ExpiresIn = int64(time.Until(tok.Expiry).Round(time.Second).Seconds())
	}
	if v, ok := tok.Extra("refresh_expires_in").(float64); ok {
		s.RefreshExpiresIn = int64(v)
	}
	return s, nil
}

// mapTokenError translates token endpoint failures. On refresh an
// invalid_grant means the refresh token is no longer valid.
func mapTokenError(err error, refreshing bool) error {
	var re *oauth2.RetrieveError
	if !errors.As(err, &re) || re.Response == nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "identity provider unavailable")
	}
	desc := re.ErrorDescription
	if desc == "" {
		desc = re.ErrorCode
	}
	switch status := re.Response.StatusCode; {
	case status == http.StatusUnauthorized:
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "invalid credentials")
	case status == http.StatusBadRequest && refreshing && re.ErrorCode == "invalid_grant":
		return dErrors.Wrap(err, dErrors.CodeUnauthorized, "refresh token expired or revoked")
	case status == http.StatusBadRequest:
		return dErrors.Wrap(err, dErrors.CodeBadRequest, fmt.Sprintf("token request rejected: %s", desc))
	case status >= 500:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "identity provider unavailable")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, fmt.Sprintf("unexpected token endpoint status %d", status))
	}
}

func outcome(err error) string {
	switch dErrors.CodeOf(err) {
	case dErrors.CodeUnauthorized:
		return "invalid_credentials"
	case dErrors.CodeBadRequest, dErrors.CodeValidation:
		return "rejected"
	default:
		return "error"
	}
}
