// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

// Package config loads tripwarden configuration from defaults, a YAML file,
// environment variables and command-line flags, in that order.
package config

import (
	"errors"
	"os"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"

	"github.com/tripwarden/tripwarden/internal/audit"
	"github.com/tripwarden/tripwarden/internal/xdg"
)

// CurrentVersion is written by `config show` and accepted by the loader.
const CurrentVersion = "1.0.0"

var supportedVersions = mustConstraint("^1")

func mustConstraint(c string) *semver.Constraints {
	cs, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return cs
}

// Config is the complete process configuration.
type Config struct {
	ConfigVersion string              `koanf:"config_version" json:"config_version,omitempty" yaml:"config_version" jsonschema:"description=Configuration format version; must satisfy ^1"`
	Log           LogConfig           `koanf:"log" json:"log,omitempty" yaml:"log"`
	Database      DatabaseConfig      `koanf:"database" json:"database,omitempty" yaml:"database"`
	Audit         audit.Config        `koanf:"audit" json:"audit,omitempty" yaml:"audit"`
	Observability ObservabilityConfig `koanf:"observability" json:"observability,omitempty" yaml:"observability"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	Format string `koanf:"format" json:"format,omitempty" yaml:"format" jsonschema:"enum=json,enum=text"`
	Level  string `koanf:"level" json:"level,omitempty" yaml:"level" jsonschema:"enum=debug,enum=info,enum=warn,enum=error"`
}

// DatabaseConfig points at the trip store.
type DatabaseConfig struct {
	URL        string        `koanf:"url" json:"url,omitempty" yaml:"url" jsonschema:"description=PostgreSQL connection string"`
	MaxRetries int           `koanf:"max_retries" json:"max_retries,omitempty" yaml:"max_retries" jsonschema:"minimum=0"`
	RetryBase  time.Duration `koanf:"retry_base" json:"retry_base,omitempty" yaml:"retry_base" jsonschema:"type=string"`
}

// ObservabilityConfig controls the metrics and health endpoint.
type ObservabilityConfig struct {
	// Addr is the listen address; empty disables the server.
	Addr string `koanf:"addr" json:"addr,omitempty" yaml:"addr"`
}

// Environment variables read by Load. Secrets are kept out of files and
// flags.
const (
	EnvDatabaseURL = "TRIPWARDEN_DATABASE_URL"
	EnvAuditSecret = "TRIPWARDEN_AUDIT_SECRET"
	EnvLogLevel    = "TRIPWARDEN_LOG_LEVEL"
)

var envKeys = map[string]string{
	EnvDatabaseURL: "database.url",
	EnvAuditSecret: "audit.secret",
	EnvLogLevel:    "log.level",
}

// Default returns the built-in configuration.
func Default() Config {
	a := audit.DefaultConfig()
	a.Dir = xdg.AuditDir()
	a.SpillPath = xdg.SpillFile()
	return Config{
		ConfigVersion: CurrentVersion,
		Log:           LogConfig{Format: "json", Level: "info"},
		Database:      DatabaseConfig{MaxRetries: 3, RetryBase: 50 * time.Millisecond},
		Audit:         a,
		Observability: ObservabilityConfig{Addr: "127.0.0.1:9100"},
	}
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"log-level":    "log.level",
	"log-format":   "log.format",
	"database-url": "database.url",
	"audit-dir":    "audit.dir",
	"metrics-addr": "observability.addr",
}

// RegisterFlags adds the overridable settings to fs.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.String("log-level", "", "log level (debug, info, warn, error)")
	fs.String("log-format", "", "log format (json, text)")
	fs.String("database-url", "", "PostgreSQL connection string")
	fs.String("audit-dir", "", "directory for audit log files")
	fs.String("metrics-addr", "", "metrics and health listen address")
}

// Load builds the configuration. path may be empty, in which case the XDG
// config file is used if it exists. fs may be nil.
func Load(path string, fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")

	explicit := path != ""
	if !explicit {
		path = xdg.ConfigFile()
	}
	if _, err := os.Stat(path); err == nil {
		if err := ValidateFile(path); err != nil {
			return Config{}, err
		}
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
		}
	} else if explicit || !errors.Is(err, os.ErrNotExist) {
		return Config{}, oops.Code("CONFIG_INVALID").With("path", path).Wrap(err)
	}

	for env, key := range envKeys {
		if v := os.Getenv(env); v != "" {
			if err := k.Set(key, v); err != nil {
				return Config{}, oops.Code("CONFIG_INVALID").With("env", env).Wrap(err)
			}
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, any) {
			key, ok := flagKeys[f.Name]
			if !ok || !f.Changed {
				return "", nil
			}
			return key, posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.Code("CONFIG_INVALID").Wrap(err)
		}
	}

	cfg := Default()
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints the schema cannot express.
func (c Config) Validate() error {
	v, err := semver.NewVersion(c.ConfigVersion)
	if err != nil {
		return oops.Code("CONFIG_INVALID").With("config_version", c.ConfigVersion).Wrap(err)
	}
	if !supportedVersions.Check(v) {
		return oops.Code("CONFIG_INVALID").
			With("config_version", c.ConfigVersion).
			Errorf("unsupported config version %s (want %s)", c.ConfigVersion, supportedVersions)
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return oops.Code("CONFIG_INVALID").With("log.format", c.Log.Format).Errorf("log format must be json or text")
	}
	if c.Database.MaxRetries < 0 {
		return oops.Code("CONFIG_INVALID").Errorf("database.max_retries must not be negative")
	}
	return nil
}

// ValidateForServe additionally requires the settings the server cannot
// run without.
func (c Config) ValidateForServe() error {
	var errs []error
	if c.Database.URL == "" {
		errs = append(errs, errors.New("database.url is required (or set "+EnvDatabaseURL+")"))
	}
	if err := c.Audit.Validate(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return nil
}

// Redacted returns a copy safe to print.
func (c Config) Redacted() Config {
	if c.Audit.Secret != "" {
		c.Audit.Secret = audit.Redacted
	}
	if c.Database.URL != "" {
		c.Database.URL = redactURL(c.Database.URL)
	}
	return c
}
