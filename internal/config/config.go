// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

// Package config loads holoauth configuration from defaults, an optional YAML
// file, HOLOAUTH_ environment variables and command-line flags.
package config

import (
	"net/url"
	"strings"
	"time"

	"github.com/invopop/jsonschema"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/holomush/holoauth/internal/admission"
	"github.com/holomush/holoauth/internal/logging"
	"github.com/holomush/holoauth/internal/store"
)

// MinSecretLength is the shortest accepted JWT signing secret, in bytes.
const MinSecretLength = 32

// redactedValue replaces secrets in printed configuration.
const redactedValue = "[REDACTED]"

// Duration is a time.Duration written as a Go duration string ("60s", "500ms")
// in YAML, environment variables and the JSON Schema.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return oops.Code("CONFIG_INVALID_DURATION").With("value", string(text)).Wrap(err)
	}
	*d = Duration(v)
	return nil
}

// JSONSchema describes Duration as a duration string.
func (Duration) JSONSchema() *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:        "string",
		Pattern:     `^([0-9]+(\.[0-9]+)?(ns|us|µs|ms|s|m|h))+$`,
		Description: "Go duration string, for example 500ms or 60s",
	}
}

// Config is the complete holoauth configuration.
type Config struct {
	HTTP      HTTPConfig      `koanf:"http" json:"http" yaml:"http"`
	Metrics   MetricsConfig   `koanf:"metrics" json:"metrics" yaml:"metrics"`
	Log       LogConfig       `koanf:"log" json:"log" yaml:"log"`
	Database  DatabaseConfig  `koanf:"database" json:"database" yaml:"database"`
	JWT       JWTConfig       `koanf:"jwt" json:"jwt" yaml:"jwt"`
	RateLimit RateLimitConfig `koanf:"ratelimit" json:"ratelimit" yaml:"ratelimit"`
	Redis     RedisConfig     `koanf:"redis" json:"redis" yaml:"redis"`
}

// HTTPConfig configures the API listener.
type HTTPConfig struct {
	Addr              string   `koanf:"addr" json:"addr" yaml:"addr" jsonschema:"description=API listen address"`
	ReadHeaderTimeout Duration `koanf:"read_header_timeout" json:"read_header_timeout" yaml:"read_header_timeout"`
	ShutdownTimeout   Duration `koanf:"shutdown_timeout" json:"shutdown_timeout" yaml:"shutdown_timeout"`
}

// MetricsConfig configures the observability listener. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `koanf:"addr" json:"addr" yaml:"addr" jsonschema:"description=Metrics and health listen address; empty disables"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	Format string `koanf:"format" json:"format" yaml:"format" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" json:"level" yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// DatabaseConfig configures the PostgreSQL pool.
type DatabaseConfig struct {
	URL             string   `koanf:"url" json:"url" yaml:"url" jsonschema:"description=PostgreSQL connection URL"`
	ConnectAttempts int      `koanf:"connect_attempts" json:"connect_attempts" yaml:"connect_attempts" jsonschema:"minimum=1"`
	ConnectBackoff  Duration `koanf:"connect_backoff" json:"connect_backoff" yaml:"connect_backoff"`
}

// JWTConfig configures token signing and lifetimes.
type JWTConfig struct {
	Secret             string `koanf:"secret" json:"secret" yaml:"secret" jsonschema:"description=HMAC signing secret of at least 32 bytes"`
	AccessTokenMinutes int    `koanf:"access_token_minutes" json:"access_token_minutes" yaml:"access_token_minutes" jsonschema:"minimum=1"`
	RefreshTokenDays   int    `koanf:"refresh_token_days" json:"refresh_token_days" yaml:"refresh_token_days" jsonschema:"minimum=1"`
}

// RateLimitConfig configures the admission limiter.
type RateLimitConfig struct {
	Enabled           bool     `koanf:"enabled" json:"enabled" yaml:"enabled"`
	RequestsPerWindow int64    `koanf:"requests_per_window" json:"requests_per_window" yaml:"requests_per_window" jsonschema:"minimum=1"`
	Window            Duration `koanf:"window" json:"window" yaml:"window"`
	KeyStrategy       string   `koanf:"key_strategy" json:"key_strategy" yaml:"key_strategy" jsonschema:"enum=token,enum=ip-address,enum=token-or-ip-with-path"`
	ExemptPaths       []string `koanf:"exempt_paths" json:"exempt_paths" yaml:"exempt_paths"`
	IPKeyedPaths      []string `koanf:"ip_keyed_paths" json:"ip_keyed_paths" yaml:"ip_keyed_paths"`
}

// RedisConfig configures the shared rate-limit counter store.
type RedisConfig struct {
	Host     string `koanf:"host" json:"host" yaml:"host"`
	Port     int    `koanf:"port" json:"port" yaml:"port" jsonschema:"minimum=1,maximum=65535"`
	DB       int    `koanf:"db" json:"db" yaml:"db" jsonschema:"minimum=0"`
	Password string `koanf:"password" json:"password" yaml:"password"`
	TLS      bool   `koanf:"tls" json:"tls" yaml:"tls"`
}

// Default returns the configuration used when nothing overrides it.
func Default() Config {
	return Config{
		HTTP: HTTPConfig{
			Addr:              ":8080",
			ReadHeaderTimeout: Duration(10 * time.Second),
			ShutdownTimeout:   Duration(10 * time.Second),
		},
		Metrics: MetricsConfig{Addr: "127.0.0.1:9100"},
		Log:     LogConfig{Format: "json", Level: "info"},
		Database: DatabaseConfig{
			ConnectAttempts: 5,
			ConnectBackoff:  Duration(500 * time.Millisecond),
		},
		JWT: JWTConfig{
			AccessTokenMinutes: 15,
			RefreshTokenDays:   7,
		},
		RateLimit: RateLimitConfig{
			Enabled:           true,
			RequestsPerWindow: admission.DefaultRequestsPerWindow,
			Window:            Duration(admission.DefaultWindow),
			KeyStrategy:       string(admission.DefaultStrategy),
			ExemptPaths:       []string{"/api/v1/auth/healthz"},
			IPKeyedPaths:      []string{
				"/api/v1/auth/login",
				"/api/v1/auth/register",
				"/api/v1/auth/token/refresh",
			},
		},
		Redis: RedisConfig{
			Host: "127.0.0.1",
			Port: 6379,
		},
	}
}

// Validate checks the configuration for values the service cannot run with.
func (c *Config) Validate() error {
	invalid := func(key, format string, args ...any) error {
		return oops.Code("CONFIG_INVALID").With("key", key).Errorf(format, args...)
	}

	if c.HTTP.Addr == "" {
		return invalid("http.addr", "http.addr is required")
	}
	if c.HTTP.ReadHeaderTimeout <= 0 {
		return invalid("http.read_header_timeout", "http.read_header_timeout must be positive")
	}
	if c.HTTP.ShutdownTimeout <= 0 {
		return invalid("http.shutdown_timeout", "http.shutdown_timeout must be positive")
	}
	if c.Log.Format != "json" && c.Log.Format != "text" {
		return invalid("log.format", "log.format must be json or text, got %q", c.Log.Format)
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		return oops.Code("CONFIG_INVALID").With("key", "log.level").Wrap(err)
	}
	if c.Database.URL == "" {
		return invalid("database.url", "database.url is required")
	}
	if c.Database.ConnectAttempts < 1 {
		return invalid("database.connect_attempts", "database.connect_attempts must be at least 1")
	}
	if c.Database.ConnectBackoff <= 0 {
		return invalid("database.connect_backoff", "database.connect_backoff must be positive")
	}
	if len(c.JWT.Secret) < MinSecretLength {
		return invalid("jwt.secret", "jwt.secret must be at least %d bytes", MinSecretLength)
	}
	if c.JWT.AccessTokenMinutes < 1 {
		return invalid("jwt.access_token_minutes", "jwt.access_token_minutes must be positive")
	}
	if c.JWT.RefreshTokenDays < 1 {
		return invalid("jwt.refresh_token_days", "jwt.refresh_token_days must be positive")
	}
	if c.RateLimit.RequestsPerWindow < 1 {
		return invalid("ratelimit.requests_per_window", "ratelimit.requests_per_window must be positive")
	}
	if c.RateLimit.Window <= 0 {
		return invalid("ratelimit.window", "ratelimit.window must be positive")
	}
	if _, err := admission.ParseKeyStrategy(c.RateLimit.KeyStrategy); err != nil {
		return oops.Code("CONFIG_INVALID").With("key", "ratelimit.key_strategy").Wrap(err)
	}
	if _, err := admission.CompilePathGlobs(c.RateLimit.ExemptPaths); err != nil {
		return oops.Code("CONFIG_INVALID").With("key", "ratelimit.exempt_paths").Wrap(err)
	}
	if _, err := admission.CompilePathGlobs(c.RateLimit.IPKeyedPaths); err != nil {
		return oops.Code("CONFIG_INVALID").With("key", "ratelimit.ip_keyed_paths").Wrap(err)
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		return invalid("redis.port", "redis.port must be between 1 and 65535")
	}
	if c.Redis.DB < 0 {
		return invalid("redis.db", "redis.db must not be negative")
	}
	return nil
}

// AccessTTL is the access token lifetime.
func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.JWT.AccessTokenMinutes) * time.Minute
}

// RefreshTTL is the refresh token lifetime.
func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.JWT.RefreshTokenDays) * 24 * time.Hour
}

// RetryBackoff is the start-up retry policy shared by the database and Redis.
func (c *Config) RetryBackoff() retry.Backoff {
	return store.ConnectBackoff(c.Database.ConnectAttempts, c.Database.ConnectBackoff.Std())
}

// Admission converts the rate-limit settings for admission.NewLimiter.
// Validate has already rejected an unknown strategy.
func (c *Config) Admission() admission.Config {
	strategy, err := admission.ParseKeyStrategy(c.RateLimit.KeyStrategy)
	if err != nil {
		strategy = admission.DefaultStrategy
	}
	return admission.Config{
		RequestsPerWindow: c.RateLimit.RequestsPerWindow,
		Window:            c.RateLimit.Window.Std(),
		Strategy:          strategy,
		ExemptPaths:       c.RateLimit.ExemptPaths,
		IPKeyedPaths:      c.RateLimit.IPKeyedPaths,
	}
}

// RedisOptions converts the Redis settings for admission.NewRedisClient.
func (c *Config) RedisOptions() admission.RedisConfig {
	return admission.RedisConfig{
		Host:     c.Redis.Host,
		Port:     c.Redis.Port,
		DB:       c.Redis.DB,
		Password: c.Redis.Password,
		TLS:      c.Redis.TLS,
	}
}

// Redacted returns a copy with the signing secret, the Redis password and
// any password in the database URL masked.
func (c Config) Redacted() Config {
	out := c
	out.RateLimit.ExemptPaths = append([]string(nil), c.RateLimit.ExemptPaths...)
	out.RateLimit.IPKeyedPaths = append([]string(nil), c.RateLimit.IPKeyedPaths...)
	if out.JWT.Secret != "" {
		out.JWT.Secret = redactedValue
	}
	if out.Redis.Password != "" {
		out.Redis.Password = redactedValue
	}
	out.Database.URL = redactDSN(out.Database.URL)
	return out
}

func redactDSN(dsn string) string {
	if dsn == "" {
		return ""
	}
	u, err := url.Parse(dsn)
	if err != nil || u.Scheme == "" {
		// keyword/value DSNs may carry password=...; hide the whole thing
		if strings.Contains(dsn, "password") {
			return redactedValue
		}
		return dsn
	}
	if _, ok := u.User.Password(); ok {
		u.User = url.UserPassword(u.User.Username(), "REDACTED")
	}
	return u.String()
}
