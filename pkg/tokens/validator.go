package tokens

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"
	"github.com/lestrrat-go/jwx/v2/jws"
	"github.com/lestrrat-go/jwx/v2/jwt"
	"go.uber.org/zap"

	dErrors "realmauth/pkg/domainerrors"
	"realmauth/pkg/metrics"
)

// Stage is how far a token got through validation.
type Stage string

const (
	StageReceived          Stage = "received"
	StageIssuerParsed      Stage = "issuer_parsed"
	StageKeysResolved      Stage = "keys_resolved"
	StageSignatureVerified Stage = "signature_verified"
	StageClaimsMapped      Stage = "claims_mapped"
	StageRejected          Stage = "rejected"
)

// RejectedError reports the last stage a token passed before rejection.
// It carries domainerrors.CodeUnauthorized.
type RejectedError struct {
	Stage  Stage
	Reason string
	err    error
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("token rejected after %s: %s", e.Stage, e.Reason)
}

func (e *RejectedError) Unwrap() error { return e.err }

func reject(stage Stage, reason string, cause error) *RejectedError {
	return &RejectedError{
		Stage:  stage,
		Reason: reason,
		err:    &dErrors.Error{Code: dErrors.CodeUnauthorized, Message: reason, Err: cause},
	}
}

// KeySource resolves an issuer's signing keys.
type KeySource interface {
	Keys(ctx context.Context, issuer string) (jwk.Set, error)
	Refresh(ctx context.Context, issuer string) (jwk.Set, error)
}

type ValidatorConfig struct {
	// IssuerBase is the identity provider URL that every trusted issuer starts with.
	IssuerBase  string
	Audiences   []string
	AllowedAlgs []string
	ClockSkew   time.Duration
}

type Validator struct {
	cfg    ValidatorConfig
	keys   KeySource
	mapper *ClaimMapper
	m      *metrics.Metrics
	log    *zap.SugaredLogger
	now    func() time.Time
}

func NewValidator(cfg ValidatorConfig, keys KeySource, mapper *ClaimMapper, m *metrics.Metrics, log *zap.SugaredLogger) *Validator {
	if len(cfg.AllowedAlgs) == 0 {
		cfg.AllowedAlgs = []string{jwa.RS256.String()}
	}
	if mapper == nil {
		mapper = MustClaimMapper()
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Validator{cfg: cfg, keys: keys, mapper: mapper, m: m, log: log, now: time.Now}
}

// Validate authenticates raw and returns its principal. Every failure is a
// *RejectedError; no partial principal is ever returned.
func (v *Validator) Validate(ctx context.Context, raw string) (*Principal, error) {
	start := time.Now()
	p, err := v.validate(ctx, strings.TrimSpace(raw))
	if err != nil {
		v.m.ObserveValidation("rejected", string(err.Stage), start)
		v.log.Debugw("token rejected", "stage", err.Stage, "reason", err.Reason)
		return nil, err
	}
	v.m.ObserveValidation("accepted", string(StageClaimsMapped), start)
	return p, nil
}

func (v *Validator) validate(ctx context.Context, raw string) (*Principal, *RejectedError) {
	if raw == "" {
		return nil, reject(StageReceived, "empty token", nil)
	}

	// Phase 1: nothing is trusted yet, so nothing may trigger I/O.
	unverified, err := jwt.Parse([]byte(raw), jwt.WithVerify(false), jwt.WithValidate(false))
	if err != nil {
		return nil, reject(StageReceived, "malformed token", err)
	}
	issuer := unverified.Issuer()
	realmName, err := ParseIssuer(v.cfg.IssuerBase, issuer)
	if err != nil {
		return nil, reject(StageReceived, "untrusted issuer", err)
	}

	msg, err := jws.Parse([]byte(raw))
	if err != nil || len(msg.Signatures()) != 1 {
		return nil, reject(StageIssuerParsed, "malformed signature envelope", err)
	}
	hdr := msg.Signatures()[0].ProtectedHeaders()
	alg := hdr.Algorithm()
	if !slices.Contains(v.cfg.AllowedAlgs, alg.String()) {
		return nil, reject(StageIssuerParsed, "algorithm not allowed: "+alg.String(), nil)
	}
	kid := hdr.KeyID()
	if kid == "" {
		return nil, reject(StageIssuerParsed, "token has no key id", nil)
	}

	// Phase 2: the issuer is one of ours, resolve its keys.
	key, rerr := v.lookupKey(ctx, issuer, kid)
	if rerr != nil {
		return nil, rerr
	}
	if use := key.KeyUsage(); use != "" && use != "sig" {
		return nil, reject(StageKeysResolved, "key is not a signing key", nil)
	}
	if key.Algorithm().String() != alg.String() {
		return nil, reject(StageKeysResolved, "token algorithm does not match key", nil)
	}
	if _, err := jws.Verify([]byte(raw), jws.WithKey(alg, key)); err != nil {
		return nil, reject(StageKeysResolved, "signature invalid", err)
	}

	tok, err := jwt.Parse([]byte(raw),
		jwt.WithKey(alg, key),
		jwt.WithValidate(true),
		jwt.WithAcceptableSkew(v.cfg.ClockSkew),
		jwt.WithClock(jwt.ClockFunc(v.now)),
	)
	if err != nil {
		return nil, reject(StageSignatureVerified, "claims invalid: "+err.Error(), err)
	}
	if len(v.cfg.Audiences) > 0 && !anyOf(tok.Audience(), v.cfg.Audiences) {
		return nil, reject(StageSignatureVerified, "audience not accepted", nil)
	}

	claims, err := tok.AsMap(ctx)
	if err != nil {
		return nil, reject(StageSignatureVerified, "claims unreadable", err)
	}
	p, err := v.mapper.Map(claims)
	if err != nil {
		return nil, reject(StageSignatureVerified, err.Error(), err)
	}
	p.Issuer = issuer
	p.RealmName = realmName
	return p, nil
}

func (v *Validator) lookupKey(ctx context.Context, issuer, kid string) (jwk.Key, *RejectedError) {
	set, err := v.keys.Keys(ctx, issuer)
	if err != nil {
		return nil, reject(StageIssuerParsed, "signing keys unavailable", err)
	}
	if key, ok := set.LookupKeyID(kid); ok {
		return key, nil
	}
	set, err = v.keys.Refresh(ctx, issuer)
	if err != nil {
		return nil, reject(StageIssuerParsed, "signing keys unavailable", err)
	}
	if key, ok := set.LookupKeyID(kid); ok {
		return key, nil
	}
	return nil, reject(StageIssuerParsed, "unknown key id", nil)
}

func anyOf(have, accepted []string) bool {
	for _, h := range have {
		if slices.Contains(accepted, h) {
			return true
		}
	}
	return false
}
