package tokens

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/stretchr/testify/require"
)

const testBase = "https://idp.example.test"

type signer struct {
	priv jwk.Key
	pub  jwk.Key
}

func newSigner(t *testing.T, kid string) signer {
	t.Helper()
	raw, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	priv, err := jwk.FromRaw(raw)
	require.NoError(t, err)
	require.NoError(t, priv.Set(jwk.KeyIDKey, kid))
	require.NoError(t, priv.Set(jwk.AlgorithmKey, jwa.RS256))
	pub, err := jwk.PublicKeyOf(priv)
	require.NoError(t, err)
	require.NoError(t, pub.Set(jwk.KeyUsageKey, "sig"))
	return signer{priv: priv, pub: pub}
}

func (s signer) set(t *testing.T) jwk.Set {
	t.Helper()
	set := jwk.NewSet()
	require.NoError(t, set.AddKey(s.pub))
	return set
}

type claims map[string]any

func validClaims(realmName string) claims {
	now := time.Now()
	return claims{
		jwt.IssuerKey:     testBase + "/realms/" + realmName,
		jwt.SubjectKey:    "user-1",
		jwt.AudienceKey:   []string{"account"},
		jwt.IssuedAtKey:   now.Add(-time.Minute),
		jwt.ExpirationKey: now.Add(5 * time.Minute),
		"email":           "ana@acme.test",
		"given_name":      "Ana",
		"family_name":     "Lima",
		"email_verified":  true,
		"companyId":       "c-1",
		"authId":          "auth-1",
		"realm_access":    map[string]any{"roles": []any{"Admin", "Employee"}},
	}
}

func (s signer) sign(t *testing.T, c claims) string {
	t.Helper()
	return signWith(t, c, jwa.RS256, s.priv, s.priv.KeyID())
}

func signWith(t *testing.T, c claims, alg jwa.SignatureAlgorithm, key any, kid string) string {
	t.Helper()
	tok := jwt.New()
	for k, v := range c {
		require.NoError(t, tok.Set(k, v))
	}
	hdrs := jws.NewHeaders()
	if kid != "" {
		require.NoError(t, hdrs.Set(jws.KeyIDKey, kid))
	}
	signed, err := jwt.Sign(tok, jwt.WithKey(alg, key, jws.WithProtectedHeaders(hdrs)))
	require.NoError(t, err)
	return string(signed)
}

// fakeKeys serves key sets per issuer and counts fetches.
type fakeKeys struct {
	sets    map[string][]jwk.Set // successive responses; the last repeats
	fetches atomic.Int32
	fail    error
}

func (f *fakeKeys) fetch(_ context.Context, url string) (jwk.Set, error) {
	n := int(f.fetches.Add(1))
	if f.fail != nil {
		return nil, f.fail
	}
	for iss, sets := range f.sets {
		if jwksURL(iss) == url {
			if n-1 < len(sets) {
				return sets[n-1], nil
			}
			return sets[len(sets)-1], nil
		}
	}
	return nil, errors.New("404 not found")
}

func (f *fakeKeys) count() int { return int(f.fetches.Load()) }
