package jwtx

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jws"
)

// Verifier checks Firebase identity tokens claim by claim before verifying the signature.
// Structural and temporal checks run first so a malformed or expired token never
// reaches the key endpoint.
type Verifier struct {
	cfg  VerifierConfig
	keys KeySource
	now  func() time.Time
}

// VerifierOption customizes a Verifier.
type VerifierOption func(*Verifier)

// WithKeySource replaces the HTTP key source built from the configuration.
func WithKeySource(src KeySource) VerifierOption {
	return func(v *Verifier) {
		v.keys = src
	}
}

// WithClock overrides the time source used for temporal checks.
func WithClock(now func() time.Time) VerifierOption {
	return func(v *Verifier) {
		v.now = now
	}
}

type invalidator interface {
	Invalidate()
}

// NewVerifier builds a verifier for the project described by cfg.
func NewVerifier(cfg VerifierConfig, opts ...VerifierOption) (*Verifier, error) {
	cfg.normalize()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	v := &Verifier{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	if v.keys == nil {
		httpClient := &http.Client{
			Timeout: cfg.HTTPTimeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
			},
		}
		src := NewHTTPKeySource(cfg.KeysURL, cfg.KeyFormat, httpClient)
		if cfg.CacheKeys {
			v.keys = NewCachingKeySource(src, cfg.MinRefresh)
		} else {
			v.keys = src
		}
	}
	return v, nil
}

// Config returns the normalized configuration.
func (v *Verifier) Config() VerifierConfig {
	return v.cfg
}

// Verify validates token and returns its claims. Every failure is an *Error whose Code
// names the first check that rejected the token.
func (v *Verifier) Verify(ctx context.Context, token string) (*Claims, error) {
	segments := strings.Split(token, ".")
	if len(segments) != 3 {
		return nil, newError(ErrCodeInvalidToken, fmt.Errorf("expected 3 segments, got %d", len(segments)))
	}
	header, err := decodeSegment(segments[0])
	if err != nil {
		return nil, newError(ErrCodeInvalidToken, fmt.Errorf("header: %w", err))
	}
	payload, err := decodeSegment(segments[1])
	if err != nil {
		return nil, newError(ErrCodeInvalidToken, fmt.Errorf("payload: %w", err))
	}

	if err := v.checkClaims(payload); err != nil {
		return nil, err
	}

	kid := stringClaim(header, "kid")
	key, err := v.lookupKey(ctx, kid)
	if err != nil {
		return nil, err
	}
	if _, err := jws.Verify([]byte(token), jws.WithKey(jwa.RS256, key)); err != nil {
		return nil, newError(ErrCodeInvalidSignature, err)
	}

	return claimsFromPayload(payload, kid), nil
}

func (v *Verifier) checkClaims(payload map[string]any) error {
	now := v.now().Unix()

	exp, ok := numericClaim(payload, "exp")
	if !ok {
		return newError(ErrCodeExpired, errors.New("exp claim missing or invalid"))
	}
	if exp < now {
		return newError(ErrCodeExpired, fmt.Errorf("expired at %d, now %d", exp, now))
	}

	iat, ok := numericClaim(payload, "iat")
	if !ok {
		return newError(ErrCodeNotYetValid, errors.New("iat claim missing or invalid"))
	}
	if iat > now+int64(v.cfg.IssuedAtSkew/time.Second) {
		return newError(ErrCodeNotYetValid, fmt.Errorf("issued at %d, now %d", iat, now))
	}

	if sub, ok := payload["sub"].(string); !ok || sub == "" {
		return newError(ErrCodeInvalidSubject, errors.New("sub claim missing or empty"))
	}

	if iss := stringClaim(payload, "iss"); iss != v.cfg.Issuer() {
		return newError(ErrCodeInvalidIssuer, fmt.Errorf("issuer mismatch: got %q, want %q", iss, v.cfg.Issuer()))
	}

	if aud := stringClaim(payload, "aud"); aud != v.cfg.ProjectID {
		return newError(ErrCodeInvalidAudience, fmt.Errorf("audience mismatch: got %q, want %q", aud, v.cfg.ProjectID))
	}

	authTime, ok := numericClaim(payload, "auth_time")
	if !ok {
		return newError(ErrCodeInvalidAuthTime, errors.New("auth_time claim missing or invalid"))
	}
	if authTime > now {
		return newError(ErrCodeInvalidAuthTime, fmt.Errorf("auth_time %d is in the future", authTime))
	}
	return nil
}

// lookupKey finds the key named by kid. A cached key set that misses is refreshed once
// so rotated keys are picked up without waiting for expiry.
func (v *Verifier) lookupKey(ctx context.Context, kid string) (any, error) {
	set, err := v.keys.Keys(ctx)
	if err != nil {
		return nil, newError(ErrCodeKeysUnavailable, err)
	}
	if key, ok := set.LookupKeyID(kid); ok {
		return key, nil
	}

	inv, ok := v.keys.(invalidator)
	if !ok {
		return nil, newError(ErrCodeUnknownSigningKey, fmt.Errorf("kid %q not found", kid))
	}
	inv.Invalidate()
	set, err = v.keys.Keys(ctx)
	if err != nil {
		return nil, newError(ErrCodeKeysUnavailable, err)
	}
	if key, ok := set.LookupKeyID(kid); ok {
		return key, nil
	}
	return nil, newError(ErrCodeUnknownSigningKey, fmt.Errorf("kid %q not found", kid))
}

func decodeSegment(seg string) (map[string]any, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(seg, "="))
	if err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("unmarshal: %w", err)
	}
	if out == nil {
		return nil, errors.New("segment is not a JSON object")
	}
	return out, nil
}
