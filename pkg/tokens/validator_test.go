package tokens

import (
	"context"
	"crypto/rsa"
	"errors"
	"testing"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "realmauth/pkg/domainerrors"
	"realmauth/pkg/metrics"
)

func newTestValidator(keys *fakeKeys, m *metrics.Metrics) *Validator {
	cache := NewKeyCache(KeyCacheConfig{Fetch: keys.fetch, Metrics: m})
	return NewValidator(ValidatorConfig{
		IssuerBase:  testBase,
		Audiences:   []string{"account", "api"},
		AllowedAlgs: []string{"RS256"},
		ClockSkew:   30 * time.Second,
	}, cache, nil, m, nil)
}

func requireRejected(t *testing.T, err error, stage Stage) *RejectedError {
	t.Helper()
	var rej *RejectedError
	require.ErrorAs(t, err, &rej)
	assert.Equal(t, stage, rej.Stage, rej.Reason)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeUnauthorized))
	return rej
}

func TestValidateAcceptsRealmToken(t *testing.T) {
	s := newSigner(t, "k1")
	keys := &fakeKeys{sets: map[string][]jwk.Set{testBase + "/realms/acme-inc": {s.set(t)}}}
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	v := newTestValidator(keys, m)

	p, err := v.Validate(context.Background(), s.sign(t, validClaims("acme-inc")))
	require.NoError(t, err)
	assert.Equal(t, "acme-inc", p.RealmName)
	assert.Equal(t, testBase+"/realms/acme-inc", p.Issuer)
	assert.Equal(t, "user-1", p.Subject)
	assert.Equal(t, "ana@acme.test", p.Email)
	assert.Equal(t, "c-1", p.CompanyID)
	assert.Equal(t, "auth-1", p.AuthID)
	assert.ElementsMatch(t, []string{"Admin", "Employee"}, p.Roles)
	assert.True(t, p.HasRole("Admin"))
	assert.True(t, p.EmailVerified)
	assert.False(t, p.ExpiresAt.IsZero())

	// second token from the same realm is served from cache
	_, err = v.Validate(context.Background(), s.sign(t, validClaims("acme-inc")))
	require.NoError(t, err)
	assert.Equal(t, 1, keys.count())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.TokenValidations.WithLabelValues("accepted", string(StageClaimsMapped))))
}

func TestValidateRejectsForeignIssuerWithoutFetching(t *testing.T) {
	s := newSigner(t, "k1")
	keys := &fakeKeys{}
	v := newTestValidator(keys, nil)

	for _, iss := range []string{
		"https://evil.example.test/realms/acme-inc",
		testBase + "/realms/Acme_Inc",
		testBase + "/realms/acme-inc/extra",
		testBase + "/realms/",
		"",
	} {
		c := validClaims("acme-inc")
		c[jwt.IssuerKey] = iss
		_, err := v.Validate(context.Background(), s.sign(t, c))
		requireRejected(t, err, StageReceived)
	}
	assert.Zero(t, keys.count())
}

func TestValidateRejectsGarbage(t *testing.T) {
	v := newTestValidator(&fakeKeys{}, nil)
	_, err := v.Validate(context.Background(), "")
	requireRejected(t, err, StageReceived)
	_, err = v.Validate(context.Background(), "not.a.jwt")
	requireRejected(t, err, StageReceived)
}

func TestValidateRejectsForeignSignature(t *testing.T) {
	trusted := newSigner(t, "k1")
	attacker := newSigner(t, "k1") // same kid, different key
	keys := &fakeKeys{sets: map[string][]jwk.Set{testBase + "/realms/acme-inc": {trusted.set(t)}}}
	v := newTestValidator(keys, nil)

	_, err := v.Validate(context.Background(), attacker.sign(t, validClaims("acme-inc")))
	requireRejected(t, err, StageKeysResolved)
}

func TestValidateRejectsExpired(t *testing.T) {
	s := newSigner(t, "k1")
	keys := &fakeKeys{sets: map[string][]jwk.Set{testBase + "/realms/acme-inc": {s.set(t)}}}
	v := newTestValidator(keys, nil)

	c := validClaims("acme-inc")
	c[jwt.IssuedAtKey] = time.Now().Add(-2 * time.Hour)
	c[jwt.ExpirationKey] = time.Now().Add(-time.Hour)
	_, err := v.Validate(context.Background(), s.sign(t, c))
	requireRejected(t, err, StageSignatureVerified)
}

func TestValidateToleratesClockSkew(t *testing.T) {
	s := newSigner(t, "k1")
	keys := &fakeKeys{sets: map[string][]jwk.Set{testBase + "/realms/acme-inc": {s.set(t)}}}
	v := newTestValidator(keys, nil)

	c := validClaims("acme-inc")
	c[jwt.ExpirationKey] = time.Now().Add(-10 * time.Second)
	_, err := v.Validate(context.Background(), s.sign(t, c))
	assert.NoError(t, err)
}

func TestValidateRejectsDisallowedAlgorithm(t *testing.T) {
	keys := &fakeKeys{}
	v := newTestValidator(keys, nil)

	tok := signWith(t, validClaims("acme-inc"), jwa.HS256, []byte("shared-secret-shared-secret-0123"), "k1")
	_, err := v.Validate(context.Background(), tok)
	rej := requireRejected(t, err, StageIssuerParsed)
	assert.Contains(t, rej.Reason, "HS256")
	assert.Zero(t, keys.count())
}

func TestValidateRejectsMissingKid(t *testing.T) {
	s := newSigner(t, "k1")
	keys := &fakeKeys{sets: map[string][]jwk.Set{testBase + "/realms/acme-inc": {s.set(t)}}}
	v := newTestValidator(keys, nil)

	// a bare RSA key carries no kid for jwx to copy into the header
	var raw rsa.PrivateKey
	require.NoError(t, s.priv.Raw(&raw))
	tok := signWith(t, validClaims("acme-inc"), jwa.RS256, &raw, "")

	_, err := v.Validate(context.Background(), tok)
	requireRejected(t, err, StageIssuerParsed)
	assert.Zero(t, keys.count())
}

func TestValidateRefreshesOnUnknownKid(t *testing.T) {
	old := newSigner(t, "k1")
	rotated := newSigner(t, "k2")
	keys := &fakeKeys{sets: map[string][]jwk.Set{
		testBase + "/realms/acme-inc": {old.set(t), rotated.set(t)},
	}}
	v := newTestValidator(keys, nil)

	_, err := v.Validate(context.Background(), old.sign(t, validClaims("acme-inc")))
	require.NoError(t, err)
	assert.Equal(t, 1, keys.count())

	p, err := v.Validate(context.Background(), rotated.sign(t, validClaims("acme-inc")))
	require.NoError(t, err)
	assert.Equal(t, "acme-inc", p.RealmName)
	assert.Equal(t, 2, keys.count())
}

func TestValidateUnknownKidAfterRefresh(t *testing.T) {
	s := newSigner(t, "k1")
	stranger := newSigner(t, "k9")
	keys := &fakeKeys{sets: map[string][]jwk.Set{testBase + "/realms/acme-inc": {s.set(t)}}}
	v := newTestValidator(keys, nil)

	_, err := v.Validate(context.Background(), stranger.sign(t, validClaims("acme-inc")))
	rej := requireRejected(t, err, StageIssuerParsed)
	assert.Equal(t, "unknown key id", rej.Reason)
	assert.Equal(t, 2, keys.count(), "one initial fetch and one refresh")
}

func TestValidateRejectsWhenKeysUnavailable(t *testing.T) {
	s := newSigner(t, "k1")
	keys := &fakeKeys{fail: errors.New("connection refused")}
	v := newTestValidator(keys, nil)

	_, err := v.Validate(context.Background(), s.sign(t, validClaims("acme-inc")))
	requireRejected(t, err, StageIssuerParsed)
}

func TestValidateAudience(t *testing.T) {
	s := newSigner(t, "k1")
	keys := &fakeKeys{sets: map[string][]jwk.Set{testBase + "/realms/acme-inc": {s.set(t)}}}
	v := newTestValidator(keys, nil)

	c := validClaims("acme-inc")
	c[jwt.AudienceKey] = []string{"other", "api"}
	_, err := v.Validate(context.Background(), s.sign(t, c))
	require.NoError(t, err)

	c[jwt.AudienceKey] = []string{"billing"}
	_, err = v.Validate(context.Background(), s.sign(t, c))
	requireRejected(t, err, StageSignatureVerified)
}

func TestValidateRequiresEmail(t *testing.T) {
	s := newSigner(t, "k1")
	keys := &fakeKeys{sets: map[string][]jwk.Set{testBase + "/realms/acme-inc": {s.set(t)}}}
	v := newTestValidator(keys, nil)

	c := validClaims("acme-inc")
	delete(c, "email")
	_, err := v.Validate(context.Background(), s.sign(t, c))
	requireRejected(t, err, StageSignatureVerified)
}

func TestValidateKeepsRealmsApart(t *testing.T) {
	acme := newSigner(t, "k1")
	globex := newSigner(t, "k1")
	keys := &fakeKeys{sets: map[string][]jwk.Set{
		testBase + "/realms/acme-inc": {acme.set(t)},
		testBase + "/realms/globex":   {globex.set(t)},
	}}
	v := newTestValidator(keys, nil)

	// globex's key cannot vouch for an acme issuer
	_, err := v.Validate(context.Background(), globex.sign(t, validClaims("acme-inc")))
	requireRejected(t, err, StageKeysResolved)
}

func TestValidateRejectsAlgorithmNotAdvertisedByKey(t *testing.T) {
	s := newSigner(t, "k1")
	keys := &fakeKeys{sets: map[string][]jwk.Set{testBase + "/realms/acme-inc": {s.set(t)}}}
	v := NewValidator(ValidatorConfig{
		IssuerBase:  testBase,
		Audiences:   []string{"account"},
		AllowedAlgs: []string{"RS256", "RS512"},
	}, NewKeyCache(KeyCacheConfig{Fetch: keys.fetch}), nil, nil, nil)

	// same RSA key, but the published JWK advertises RS256 only
	var raw rsa.PrivateKey
	require.NoError(t, s.priv.Raw(&raw))
	tok := signWith(t, validClaims("acme-inc"), jwa.RS512, &raw, "k1")

	_, err := v.Validate(context.Background(), tok)
	rej := requireRejected(t, err, StageKeysResolved)
	assert.Equal(t, "token algorithm does not match key", rej.Reason)
}

func TestValidateRejectsOnceCachedKeysExpire(t *testing.T) {
	s := newSigner(t, "k1")
	keys := &fakeKeys{sets: map[string][]jwk.Set{testBase + "/realms/acme-inc": {s.set(t)}}}
	clk := &clock{now: time.Unix(1_700_000_000, 0)}
	cache := NewKeyCache(KeyCacheConfig{TTL: 10 * time.Minute, Fetch: keys.fetch, Now: clk.Now})
	v := NewValidator(ValidatorConfig{
		IssuerBase:  testBase,
		Audiences:   []string{"account"},
		AllowedAlgs: []string{"RS256"},
	}, cache, nil, nil, nil)

	_, err := v.Validate(context.Background(), s.sign(t, validClaims("acme-inc")))
	require.NoError(t, err)

	clk.Advance(time.Hour)
	keys.fail = errors.New("connection refused")
	_, err = v.Validate(context.Background(), s.sign(t, validClaims("acme-inc")))
	rej := requireRejected(t, err, StageIssuerParsed)
	assert.Equal(t, "signing keys unavailable", rej.Reason)
	assert.Equal(t, 2, keys.count())
}
