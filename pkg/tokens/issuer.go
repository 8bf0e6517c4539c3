// Package tokens validates bearer tokens whose signing keys differ per realm.
//
// Trust is established in two phases. ParseIssuer decides, without any I/O,
// whether an unverified issuer names a realm on the configured identity
// provider. Only then are that realm's keys fetched and the signature checked.
package tokens

import (
	"errors"
	"fmt"
	"strings"

	"realmauth/pkg/realm"
)

var ErrForeignIssuer = errors.New("issuer is not served by the configured identity provider")

// ParseIssuer returns the realm name encoded in iss, which must be exactly
// base + "/realms/" + name with name a valid realm name.
func ParseIssuer(base, iss string) (string, error) {
	base = strings.TrimRight(base, "/")
	if base == "" || iss == "" {
		return "", ErrForeignIssuer
	}
	prefix := base + "/realms/"
	if !strings.HasPrefix(iss, prefix) {
		return "", ErrForeignIssuer
	}
	name := strings.TrimPrefix(iss, prefix)
	if err := realm.Validate(name); err != nil {
		return "", fmt.Errorf("%w: %v", ErrForeignIssuer, err)
	}
	return name, nil
}

// IssuerFor is the inverse of ParseIssuer.
func IssuerFor(base, realmName string) string {
	return strings.TrimRight(base, "/") + "/realms/" + realmName
}

func jwksURL(issuer string) string {
	return issuer + "/protocol/openid-connect/certs"
}
