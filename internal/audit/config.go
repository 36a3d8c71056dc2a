// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package audit

import (
	"errors"
	"time"

	"github.com/samber/oops"
)

// Config controls the audit pipeline.
type Config struct {
	Dir       string `koanf:"dir" yaml:"dir,omitempty" json:"dir,omitempty" jsonschema:"description=Directory for audit-YYYY-MM-DD.jsonl files"`
	SpillPath string `koanf:"spill_path" yaml:"spill_path,omitempty" json:"spill_path,omitempty"`
	Secret    string `koanf:"secret" yaml:"secret,omitempty" json:"secret,omitempty" jsonschema:"description=HMAC secret used to derive the integrity key"`

	BufferSize    int           `koanf:"buffer_size" yaml:"buffer_size,omitempty" json:"buffer_size,omitempty" jsonschema:"minimum=1"`
	FlushInterval time.Duration `koanf:"flush_interval" yaml:"flush_interval,omitempty" json:"flush_interval,omitempty" jsonschema:"type=string"`
	// RateLimit is the maximum number of events accepted per second.
	RateLimit int `koanf:"rate_limit" yaml:"rate_limit,omitempty" json:"rate_limit,omitempty" jsonschema:"minimum=0"`

	MaxFileBytes      int64         `koanf:"max_file_bytes" yaml:"max_file_bytes,omitempty" json:"max_file_bytes,omitempty" jsonschema:"minimum=0"`
	MaxFiles          int           `koanf:"max_files" yaml:"max_files,omitempty" json:"max_files,omitempty" jsonschema:"minimum=0"`
	RetentionDays     int           `koanf:"retention_days" yaml:"retention_days,omitempty" json:"retention_days,omitempty" jsonschema:"minimum=0"`
	RetentionInterval time.Duration `koanf:"retention_interval" yaml:"retention_interval,omitempty" json:"retention_interval,omitempty" jsonschema:"type=string"`

	BreakerThreshold int           `koanf:"breaker_threshold" yaml:"breaker_threshold,omitempty" json:"breaker_threshold,omitempty" jsonschema:"minimum=1"`
	BreakerCooldown  time.Duration `koanf:"breaker_cooldown" yaml:"breaker_cooldown,omitempty" json:"breaker_cooldown,omitempty" jsonschema:"type=string"`

	ForwardTimeout   time.Duration     `koanf:"forward_timeout" yaml:"forward_timeout,omitempty" json:"forward_timeout,omitempty" jsonschema:"type=string"`
	ForwardQueueSize int               `koanf:"forward_queue_size" yaml:"forward_queue_size,omitempty" json:"forward_queue_size,omitempty" jsonschema:"minimum=1"`
	Endpoints        []ForwardEndpoint `koanf:"endpoints" yaml:"endpoints,omitempty" json:"endpoints,omitempty"`

	// RedactKeys are metadata keys whose values are replaced before signing.
	RedactKeys []string `koanf:"redact_keys" yaml:"redact_keys,omitempty" json:"redact_keys,omitempty"`
}

// DefaultConfig returns production defaults. Dir, SpillPath and Secret are
// left empty for the caller to fill in.
func DefaultConfig() Config {
	return Config{
		BufferSize:        100,
		FlushInterval:     5 * time.Second,
		RateLimit:         1000,
		MaxFileBytes:      10 << 20,
		MaxFiles:          30,
		RetentionDays:     90,
		RetentionInterval: time.Hour,
		BreakerThreshold:  5,
		BreakerCooldown:   30 * time.Second,
		ForwardTimeout:    5 * time.Second,
		ForwardQueueSize:  1024,
		RedactKeys:        []string{"password", "secret", "token", "authorization", "api_key"},
	}
}

// Validate checks that the configuration is usable.
func (c Config) Validate() error {
	var errs []error
	if c.Dir == "" {
		errs = append(errs, errors.New("audit.dir is required"))
	}
	if c.Secret == "" {
		errs = append(errs, errors.New("audit.secret is required"))
	}
	if c.BufferSize < 1 {
		errs = append(errs, errors.New("audit.buffer_size must be at least 1"))
	}
	if c.FlushInterval <= 0 {
		errs = append(errs, errors.New("audit.flush_interval must be positive"))
	}
	if c.RateLimit < 0 {
		errs = append(errs, errors.New("audit.rate_limit must not be negative"))
	}
	if c.BreakerThreshold < 1 {
		errs = append(errs, errors.New("audit.breaker_threshold must be at least 1"))
	}
	if c.BreakerCooldown <= 0 {
		errs = append(errs, errors.New("audit.breaker_cooldown must be positive"))
	}
	if c.RetentionDays > 0 && c.RetentionInterval <= 0 {
		errs = append(errs, errors.New("audit.retention_interval must be positive when retention is enabled"))
	}
	for i, ep := range c.Endpoints {
		if ep.URL == "" {
			errs = append(errs, oops.With("index", i).Errorf("audit.endpoints[%d].url is required", i))
		}
	}
	if err := errors.Join(errs...); err != nil {
		return oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return nil
}
