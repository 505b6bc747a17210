// Package config loads process configuration for the chat proxy from an optional YAML
// file and the environment. Environment variables override file values.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/bionicotaku/tastesig-proxy"
	"github.com/bionicotaku/tastesig-proxy/proxy"
	"github.com/bionicotaku/tastesig-proxy/upstream"
)

// Config holds everything the chat-proxy process needs.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Firebase FirebaseConfig `yaml:"firebase"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Limits   LimitsConfig   `yaml:"limits"`
	Dev      DevConfig      `yaml:"dev"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig holds the listener settings.
type ServerConfig struct {
	Address         string        `yaml:"address"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	// AllowedOrigin is one extra CORS origin on top of the production origins.
	AllowedOrigin string `yaml:"allowed_origin"`
}

// FirebaseConfig describes the identity-token trust domain.
type FirebaseConfig struct {
	ProjectID  string        `yaml:"project_id"`
	KeysURL    string        `yaml:"keys_url"`
	KeyFormat  string        `yaml:"key_format"`
	CacheKeys  bool          `yaml:"cache_keys"`
	MinRefresh time.Duration `yaml:"min_refresh"`
}

// UpstreamConfig describes the AI API the proxy forwards to.
type UpstreamConfig struct {
	// APIKey is normally supplied through ANTHROPIC_API_KEY rather than the file.
	APIKey     string        `yaml:"api_key"`
	BaseURL    string        `yaml:"base_url"`
	APIVersion string        `yaml:"api_version"`
	Timeout    time.Duration `yaml:"timeout"`
	// IdentityAudience, when set, attaches a Google identity token for this audience to
	// every upstream call.
	IdentityAudience string `yaml:"identity_audience"`
	ServiceAccount   string `yaml:"service_account"`
}

// LimitsConfig bounds request payloads and per-user request rate.
type LimitsConfig struct {
	MaxBodyBytes       int      `yaml:"max_body_bytes"`
	MaxMessageChars    int      `yaml:"max_message_chars"`
	MaxSystemChars     int      `yaml:"max_system_chars"`
	MaxTokens          int      `yaml:"max_tokens"`
	DefaultModel       string   `yaml:"default_model"`
	AllowedModels      []string `yaml:"allowed_models"`
	RateLimitPerMinute int      `yaml:"rate_limit_per_minute"`
	RateLimitBurst     int      `yaml:"rate_limit_burst"`
}

// DevConfig enables local development shortcuts.
type DevConfig struct {
	BypassAuth bool   `yaml:"bypass_auth"`
	Subject    string `yaml:"subject"`
	Email      string `yaml:"email"`
}

// LoggingConfig holds configuration for logging.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads configuration from path, if non-empty, and applies environment overrides.
func Load(path string) (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Address:         ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) error {
	env := envReader{}

	env.str("PORT", func(v string) { cfg.Server.Address = ":" + v })
	env.str("PROXY_ADDR", func(v string) { cfg.Server.Address = v })
	env.duration("PROXY_SHUTDOWN_TIMEOUT", &cfg.Server.ShutdownTimeout)
	env.str("ALLOWED_ORIGIN", func(v string) { cfg.Server.AllowedOrigin = v })

	env.str("FIREBASE_PROJECT_ID", func(v string) { cfg.Firebase.ProjectID = v })
	env.str("FIREBASE_KEYS_URL", func(v string) { cfg.Firebase.KeysURL = v })
	env.str("FIREBASE_KEY_FORMAT", func(v string) { cfg.Firebase.KeyFormat = v })
	env.boolean("FIREBASE_CACHE_KEYS", &cfg.Firebase.CacheKeys)
	env.duration("FIREBASE_MIN_REFRESH", &cfg.Firebase.MinRefresh)

	env.str("ANTHROPIC_API_KEY", func(v string) { cfg.Upstream.APIKey = v })
	env.str("ANTHROPIC_BASE_URL", func(v string) { cfg.Upstream.BaseURL = v })
	env.str("ANTHROPIC_VERSION", func(v string) { cfg.Upstream.APIVersion = v })
	env.duration("UPSTREAM_TIMEOUT", &cfg.Upstream.Timeout)
	env.str("UPSTREAM_IDENTITY_AUDIENCE", func(v string) { cfg.Upstream.IdentityAudience = v })
	env.str("UPSTREAM_SERVICE_ACCOUNT", func(v string) { cfg.Upstream.ServiceAccount = v })

	env.integer("MAX_BODY_BYTES", &cfg.Limits.MaxBodyBytes)
	env.integer("MAX_MESSAGE_CHARS", &cfg.Limits.MaxMessageChars)
	env.integer("MAX_SYSTEM_CHARS", &cfg.Limits.MaxSystemChars)
	env.integer("MAX_TOKENS", &cfg.Limits.MaxTokens)
	env.str("DEFAULT_MODEL", func(v string) { cfg.Limits.DefaultModel = v })
	env.str("ALLOWED_MODELS", func(v string) { cfg.Limits.AllowedModels = splitList(v) })
	env.integer("RATE_LIMIT_PER_MINUTE", &cfg.Limits.RateLimitPerMinute)
	env.integer("RATE_LIMIT_BURST", &cfg.Limits.RateLimitBurst)

	env.boolean("DEV_BYPASS_AUTH", &cfg.Dev.BypassAuth)
	env.str("DEV_BYPASS_SUBJECT", func(v string) { cfg.Dev.Subject = v })
	env.str("DEV_BYPASS_EMAIL", func(v string) { cfg.Dev.Email = v })

	env.str("LOG_LEVEL", func(v string) { cfg.Logging.Level = v })
	env.boolean("LOG_DEVELOPMENT", &cfg.Logging.Development)

	return errors.Join(env.errs...)
}

// Validate checks the settings that cannot be defaulted. A missing API key is not an
// error here: the proxy answers 503 until one is configured.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Server.Address) == "" {
		return errors.New("server address is required")
	}
	if c.Firebase.ProjectID == "" && !c.Dev.BypassAuth {
		return errors.New("firebase project id is required (FIREBASE_PROJECT_ID)")
	}
	switch jwtx.KeyFormat(c.Firebase.KeyFormat) {
	case "", jwtx.KeyFormatX509, jwtx.KeyFormatJWKS:
	default:
		return fmt.Errorf("unsupported firebase key format %q", c.Firebase.KeyFormat)
	}
	for name, v := range map[string]int{
		"max_body_bytes":        c.Limits.MaxBodyBytes,
		"max_message_chars":     c.Limits.MaxMessageChars,
		"max_system_chars":      c.Limits.MaxSystemChars,
		"max_tokens":            c.Limits.MaxTokens,
		"rate_limit_per_minute": c.Limits.RateLimitPerMinute,
		"rate_limit_burst":      c.Limits.RateLimitBurst,
	} {
		if v < 0 {
			return fmt.Errorf("limits.%s must not be negative", name)
		}
	}
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level %q", c.Logging.Level)
	}
	return nil
}

// VerifierConfig returns the token verifier settings.
func (c *Config) VerifierConfig() jwtx.VerifierConfig {
	return jwtx.VerifierConfig{
		ProjectID:  c.Firebase.ProjectID,
		KeysURL:    c.Firebase.KeysURL,
		KeyFormat:  jwtx.KeyFormat(c.Firebase.KeyFormat),
		CacheKeys:  c.Firebase.CacheKeys,
		MinRefresh: c.Firebase.MinRefresh,
	}
}

// ProxyConfig returns the request handler settings.
func (c *Config) ProxyConfig() proxy.Config {
	cfg := proxy.Config{
		CustomOrigin:       c.Server.AllowedOrigin,
		MaxBodyBytes:       c.Limits.MaxBodyBytes,
		MaxMessageChars:    c.Limits.MaxMessageChars,
		MaxSystemChars:     c.Limits.MaxSystemChars,
		MaxTokens:          c.Limits.MaxTokens,
		DefaultModel:       c.Limits.DefaultModel,
		AllowedModels:      c.Limits.AllowedModels,
		RateLimitPerMinute: c.Limits.RateLimitPerMinute,
		RateLimitBurst:     c.Limits.RateLimitBurst,
	}
	if c.Dev.BypassAuth {
		bypass := jwtx.DefaultDevBypassClaims(c.Dev.Subject)
		bypass.Email = c.Dev.Email
		cfg.DevBypass = &bypass
	}
	return cfg
}

// UpstreamConfig returns the upstream client settings. The identity-token authorizer is
// attached by the caller because it needs Google credentials.
func (c *Config) UpstreamConfig() upstream.Config {
	return upstream.Config{
		APIKey:     c.Upstream.APIKey,
		BaseURL:    c.Upstream.BaseURL,
		APIVersion: c.Upstream.APIVersion,
		Timeout:    c.Upstream.Timeout,
	}
}

// envReader applies set environment variables and collects parse errors.
type envReader struct {
	errs []error
}

func (r *envReader) str(key string, apply func(string)) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		apply(v)
	}
}

func (r *envReader) integer(key string, dst *int) {
	r.str(key, func(v string) {
		n, err := strconv.Atoi(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = n
	})
}

func (r *envReader) boolean(key string, dst *bool) {
	r.str(key, func(v string) {
		b, err := strconv.ParseBool(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = b
	})
}

func (r *envReader) duration(key string, dst *time.Duration) {
	r.str(key, func(v string) {
		d, err := time.ParseDuration(v)
		if err != nil {
			r.errs = append(r.errs, fmt.Errorf("%s: %w", key, err))
			return
		}
		*dst = d
	})
}

func splitList(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
