// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package config

import (
	"os"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	kyaml "github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// EnvPrefix prefixes every configuration environment variable. A double
// underscore separates nesting levels: HOLOAUTH_JWT__SECRET sets jwt.secret.
const EnvPrefix = "HOLOAUTH_"

const delim = "."

// flagKeys maps command-line flags onto configuration keys.
var flagKeys = map[string]string{
	"addr":         "http.addr",
	"metrics-addr": "metrics.addr",
	"log-format":   "log.format",
	"log-level":    "log.level",
	"database-url": "database.url",
}

// RegisterFlags adds the configuration override flags to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	def := Default()
	fs.String("addr", def.HTTP.Addr, "API listen address")
	fs.String("metrics-addr", def.Metrics.Addr, "metrics and health listen address (empty disables)")
	fs.String("log-format", def.Log.Format, "log format (json, text)")
	fs.String("log-level", def.Log.Level, "log level (debug, info, warn, error)")
	fs.String("database-url", "", "PostgreSQL connection URL")
}

// Options controls where Load reads configuration from.
type Options struct {
	// File is an optional YAML file. Empty skips the file layer.
	File string
	// Flags holds flags registered with RegisterFlags. Only flags set on the
	// command line override earlier layers.
	Flags *pflag.FlagSet
	// Environ replaces os.Environ when non-nil.
	Environ []string
}

// defaultsProvider feeds Default into koanf as the lowest layer.
type defaultsProvider struct{}

func (defaultsProvider) ReadBytes() ([]byte, error) {
	return nil, oops.Code("CONFIG_PROVIDER_UNSUPPORTED").Errorf("defaults provider does not support ReadBytes")
}

func (defaultsProvider) Read() (map[string]any, error) {
	d := Default()
	return map[string]any{
		"http": map[string]any{
			"addr":                d.HTTP.Addr,
			"read_header_timeout": d.HTTP.ReadHeaderTimeout.Std().String(),
			"shutdown_timeout":    d.HTTP.ShutdownTimeout.Std().String(),
		},
		"metrics": map[string]any{"addr": d.Metrics.Addr},
		"log":     map[string]any{"format": d.Log.Format, "level": d.Log.Level},
		"database": map[string]any{
			"url":              d.Database.URL,
			"connect_attempts": d.Database.ConnectAttempts,
			"connect_backoff":  d.Database.ConnectBackoff.Std().String(),
		},
		"jwt": map[string]any{
			"secret":               d.JWT.Secret,
			"access_token_minutes": d.JWT.AccessTokenMinutes,
			"refresh_token_days":   d.JWT.RefreshTokenDays,
		},
		"ratelimit": map[string]any{
			"enabled":             d.RateLimit.Enabled,
			"requests_per_window": d.RateLimit.RequestsPerWindow,
			"window":              d.RateLimit.Window.Std().String(),
			"key_strategy":        d.RateLimit.KeyStrategy,
			"exempt_paths":        d.RateLimit.ExemptPaths,
			"ip_keyed_paths":      d.RateLimit.IPKeyedPaths,
		},
		"redis": map[string]any{
			"host":     d.Redis.Host,
			"port":     d.Redis.Port,
			"db":       d.Redis.DB,
			"password": d.Redis.Password,
			"tls":      d.Redis.TLS,
		},
	}, nil
}

// envKey turns HOLOAUTH_RATELIMIT__KEY_STRATEGY into ratelimit.key_strategy.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", delim)
}

// Load reads the configuration and validates it.
func Load(opts Options) (*Config, error) {
	cfg, err := Read(opts)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read merges defaults, the YAML file, the environment and flags, in that
// order, without validating the result. Commands that need only part of the
// configuration check what they use.
func Read(opts Options) (*Config, error) {
	k := koanf.New(delim)

	if err := k.Load(defaultsProvider{}, nil); err != nil {
		return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "defaults").Wrap(err)
	}

	if opts.File != "" {
		data, err := os.ReadFile(opts.File)
		if err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "file").With("path", opts.File).Wrap(err)
		}
		if err := ValidateYAML(data); err != nil {
			return nil, oops.With("path", opts.File).Wrap(err)
		}
		if err := k.Load(file.Provider(opts.File), kyaml.Parser()); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "file").With("path", opts.File).Wrap(err)
		}
	}

	if err := loadEnv(k, opts.Environ); err != nil {
		return nil, err
	}

	if opts.Flags != nil {
		provider := posflag.ProviderWithFlag(opts.Flags, delim, k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(opts.Flags, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return nil, oops.Code("CONFIG_LOAD_FAILED").With("layer", "flags").Wrap(err)
		}
	}

	var cfg Config
	err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{
		Tag: "koanf",
		DecoderConfig: &mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.TextUnmarshallerHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
			WeaklyTypedInput: true,
			TagName:          "koanf",
			Result:           &cfg,
		},
	})
	if err != nil {
		return nil, oops.Code("CONFIG_DECODE_FAILED").Wrap(err)
	}
	return &cfg, nil
}

// loadEnv applies HOLOAUTH_ variables. Tests pass an explicit environment so
// they never depend on the process environment.
func loadEnv(k *koanf.Koanf, environ []string) error {
	if environ == nil {
		if err := k.Load(env.Provider(EnvPrefix, delim, envKey), nil); err != nil {
			return oops.Code("CONFIG_LOAD_FAILED").With("layer", "env").Wrap(err)
		}
		return nil
	}

	values := make(map[string]any)
	for _, kv := range environ {
		name, value, ok := strings.Cut(kv, "=")
		if !ok || !strings.HasPrefix(name, EnvPrefix) {
			continue
		}
		values[envKey(name)] = value
	}
	if err := k.Load(flatProvider(values), nil); err != nil {
		return oops.Code("CONFIG_LOAD_FAILED").With("layer", "env").Wrap(err)
	}
	return nil
}

// flatProvider serves dotted keys as a nested map.
type flatProvider map[string]any

func (p flatProvider) ReadBytes() ([]byte, error) {
	return nil, oops.Code("CONFIG_PROVIDER_UNSUPPORTED").Errorf("flat provider does not support ReadBytes")
}

func (p flatProvider) Read() (map[string]any, error) {
	out := make(map[string]any)
	for key, value := range p {
		parts := strings.Split(key, delim)
		node := out
		for _, part := range parts[:len(parts)-1] {
			next, ok := node[part].(map[string]any)
			if !ok {
				next = make(map[string]any)
				node[part] = next
			}
			node = next
		}
		node[parts[len(parts)-1]] = value
	}
	return out, nil
}
