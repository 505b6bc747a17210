package proxy

import (
	"errors"
	"fmt"

	"github.com/bionicotaku/tastesig-proxy"
)

const (
	defaultMaxBodyBytes       = 100_000
	defaultMaxMessageChars    = 50_000
	defaultMaxSystemChars     = 10_000
	defaultMaxTokens          = 4096
	defaultRequestedMaxTokens = 1024
	defaultModel              = "claude-sonnet-4-20250514"
	defaultTemperature        = 0.7
)

// ProductionOrigins are the web app origins that may always call the proxy.
var ProductionOrigins = []string{
	"https://tastesignature.app",
	"https://www.tastesignature.app",
}

// Config is the read-only configuration a Handler is built with.
type Config struct {
	// AllowedOrigins receive an Access-Control-Allow-Origin echo. Empty means ProductionOrigins.
	AllowedOrigins []string
	// CustomOrigin is one operator-supplied origin added to AllowedOrigins.
	CustomOrigin string

	MaxBodyBytes    int
	MaxMessageChars int
	MaxSystemChars  int
	// MaxTokens is the ceiling requested generation limits are clamped to.
	MaxTokens          int
	DefaultMaxTokens   int
	DefaultModel       string
	DefaultTemperature float64
	// AllowedModels restricts the model field when non-empty.
	AllowedModels []string

	// RateLimitPerMinute is the sustained request rate allowed per subject. Zero disables limiting.
	RateLimitPerMinute int
	RateLimitBurst     int

	// DevBypass skips token verification and authenticates every request as this identity.
	DevBypass *jwtx.DevBypassClaims
}

func (c *Config) normalize() {
	if len(c.AllowedOrigins) == 0 {
		c.AllowedOrigins = append([]string(nil), ProductionOrigins...)
	}
	if c.CustomOrigin != "" {
		c.AllowedOrigins = append(c.AllowedOrigins, c.CustomOrigin)
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = defaultMaxBodyBytes
	}
	if c.MaxMessageChars <= 0 {
		c.MaxMessageChars = defaultMaxMessageChars
	}
	if c.MaxSystemChars <= 0 {
		c.MaxSystemChars = defaultMaxSystemChars
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.DefaultMaxTokens <= 0 {
		c.DefaultMaxTokens = defaultRequestedMaxTokens
	}
	if c.DefaultModel == "" {
		c.DefaultModel = defaultModel
	}
	if c.DefaultTemperature == 0 {
		c.DefaultTemperature = defaultTemperature
	}
	if c.RateLimitPerMinute > 0 && c.RateLimitBurst <= 0 {
		c.RateLimitBurst = c.RateLimitPerMinute
	}
}

func (c Config) validate() error {
	switch {
	case c.DefaultTemperature < 0 || c.DefaultTemperature > 1:
		return fmt.Errorf("default temperature %v outside [0, 1]", c.DefaultTemperature)
	case c.RateLimitPerMinute < 0:
		return errors.New("rate limit must not be negative")
	case c.DevBypass != nil && c.DevBypass.Subject == "":
		return errors.New("dev bypass subject is required")
	}
	return nil
}
