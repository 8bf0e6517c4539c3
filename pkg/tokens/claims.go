package tokens

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jmespath/go-jmespath"
)

var ErrMissingClaim = errors.New("required claim missing")

// Principal is the authenticated identity derived from a token.
type Principal struct {
	Subject       string    `json:"sub"`
	Email         string    `json:"email"`
	FirstName     string    `json:"firstName,omitempty"`
	LastName      string    `json:"lastName,omitempty"`
	EmailVerified bool      `json:"emailVerified"`
	Issuer        string    `json:"iss"`
	RealmName     string    `json:"realm"`
	CompanyID     string    `json:"companyId,omitempty"`
	AuthID        string    `json:"authId"`
	Roles         []string  `json:"roles"`
	ExpiresAt     time.Time `json:"exp"`
	IssuedAt      time.Time `json:"iat"`
}

func (p *Principal) HasRole(role string) bool {
	return p != nil && slices.Contains(p.Roles, role)
}

// ClaimPaths are JMESPath expressions evaluated against the token claims.
type ClaimPaths struct {
	Roles   string
	Company string
	AuthID  string
}

func DefaultClaimPaths() ClaimPaths {
	return ClaimPaths{
		Roles:   "realm_access.roles",
		Company: "companyId || company_id",
		AuthID:  "authId || auth_id || sub",
	}
}

// ClaimMapper turns a claim set into a Principal.
type ClaimMapper struct {
	roles   *jmespath.JMESPath
	company *jmespath.JMESPath
	authID  *jmespath.JMESPath
}

// NewClaimMapper compiles p; empty paths fall back to the defaults.
func NewClaimMapper(p ClaimPaths) (*ClaimMapper, error) {
	def := DefaultClaimPaths()
	if p.Roles == "" {
		p.Roles = def.Roles
	}
	if p.Company == "" {
		p.Company = def.Company
	}
	if p.AuthID == "" {
		p.AuthID = def.AuthID
	}
	m := &ClaimMapper{}
	var err error
	if m.roles, err = jmespath.Compile(p.Roles); err != nil {
		return nil, fmt.Errorf("roles path %q: %w", p.Roles, err)
	}
	if m.company, err = jmespath.Compile(p.Company); err != nil {
		return nil, fmt.Errorf("company path %q: %w", p.Company, err)
	}
	if m.authID, err = jmespath.Compile(p.AuthID); err != nil {
		return nil, fmt.Errorf("auth id path %q: %w", p.AuthID, err)
	}
	return m, nil
}

// MustClaimMapper is NewClaimMapper for the default paths.
func MustClaimMapper() *ClaimMapper {
	m, err := NewClaimMapper(DefaultClaimPaths())
	if err != nil {
		panic(err)
	}
	return m
}

// Map builds a Principal. Subject and email are required.
func (m *ClaimMapper) Map(claims map[string]any) (*Principal, error) {
	p := &Principal{
		Subject:       str(claims["sub"]),
		Email:         str(claims["email"]),
		FirstName:     str(claims["given_name"]),
		LastName:      str(claims["family_name"]),
		EmailVerified: claims["email_verified"] == true,
		Issuer:        str(claims["iss"]),
		ExpiresAt:     timeOf(claims["exp"]),
		IssuedAt:      timeOf(claims["iat"]),
	}
	if p.Subject == "" {
		return nil, fmt.Errorf("%w: sub", ErrMissingClaim)
	}
	if p.Email == "" {
		return nil, fmt.Errorf("%w: email", ErrMissingClaim)
	}

	if v, err := m.roles.Search(claims); err == nil {
		p.Roles = strs(v)
	}
	if p.Roles == nil {
		p.Roles = []string{}
	}
	if v, err := m.company.Search(claims); err == nil {
		p.CompanyID = str(v)
	}
	if v, err := m.authID.Search(claims); err == nil {
		p.AuthID = str(v)
	}
	return p, nil
}

func str(v any) string {
	switch s := v.(type) {
	case string:
		return s
	case []any:
		if len(s) > 0 {
			return str(s[0])
		}
	case []string:
		if len(s) > 0 {
			return s[0]
		}
	}
	return ""
}

func strs(v any) []string {
	switch s := v.(type) {
	case []string:
		return append([]string(nil), s...)
	case []any:
		out := make([]string, 0, len(s))
		for _, e := range s {
			if x, ok := e.(string); ok && x != "" {
				out = append(out, x)
			}
		}
		return out
	case string:
		if s != "" {
			return []string{s}
		}
	}
	return nil
}

func timeOf(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case float64:
		return time.Unix(int64(t), 0)
	case int64:
		return time.Unix(t, 0)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return time.Unix(i, 0)
		}
	}
	return time.Time{}
}
