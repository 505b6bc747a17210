package jwtx

import (
	"errors"
	"fmt"
	"time"
)

const (
	defaultIssuedAtSkew = 300 * time.Second
	defaultMinRefresh   = 5 * time.Minute
	defaultHTTPTimeout  = 5 * time.Second

	// DefaultKeysURL serves the Firebase token signing certificates as a kid -> PEM map.
	DefaultKeysURL = "https://www.googleapis.com/robot/v1/metadata/x509/securetoken@system.gserviceaccount.com"
	// DefaultJWKSURL serves the same keys as a JWK set.
	DefaultJWKSURL = "https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"

	issuerPrefix = "https://securetoken.google.com/"
)

// KeyFormat selects how the signing key endpoint encodes its response.
type KeyFormat string

const (
	KeyFormatX509 KeyFormat = "x509"
	KeyFormatJWKS KeyFormat = "jwks"
)

// VerifierConfig describes the trust domain and key endpoint used to verify identity tokens.
type VerifierConfig struct {
	ProjectID    string
	KeysURL      string
	KeyFormat    KeyFormat
	IssuedAtSkew time.Duration
	HTTPTimeout  time.Duration
	// CacheKeys keeps the fetched key set until its Cache-Control max-age elapses.
	// When false the key set is fetched again for every verification.
	CacheKeys  bool
	MinRefresh time.Duration
}

// Issuer returns the issuer claim every accepted token must carry.
func (c VerifierConfig) Issuer() string {
	return issuerPrefix + c.ProjectID
}

// normalize sets default values for optional fields.
func (c *VerifierConfig) normalize() {
	if c.KeyFormat == "" {
		c.KeyFormat = KeyFormatX509
	}
	if c.KeysURL == "" {
		if c.KeyFormat == KeyFormatJWKS {
			c.KeysURL = DefaultJWKSURL
		} else {
			c.KeysURL = DefaultKeysURL
		}
	}
	if c.IssuedAtSkew <= 0 {
		c.IssuedAtSkew = defaultIssuedAtSkew
	}
	if c.MinRefresh <= 0 {
		c.MinRefresh = defaultMinRefresh
	}
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = defaultHTTPTimeout
	}
}

// validate ensures the configuration is usable.
func (c VerifierConfig) validate() error {
	switch {
	case c.ProjectID == "":
		return errors.New("project id is required")
	case c.KeyFormat != KeyFormatX509 && c.KeyFormat != KeyFormatJWKS:
		return fmt.Errorf("unsupported key format %q", c.KeyFormat)
	}
	return nil
}
