// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package main

import (
	"context"

	"github.com/tripwarden/tripwarden/internal/access"
	"github.com/tripwarden/tripwarden/internal/audit"
	"github.com/tripwarden/tripwarden/internal/config"
	"github.com/tripwarden/tripwarden/internal/observability"
	"github.com/tripwarden/tripwarden/internal/store"
)

// Deps contains injectable dependencies for the commands that touch the
// database, the audit log or the network.
// All fields with nil values will use their default implementations.
type Deps struct {
	// StoreFactory opens the trip store. The returned func releases it.
	// Default: store.Connect + store.NewTripStore
	StoreFactory func(ctx context.Context, cfg config.DatabaseConfig) (access.ResourceStore, func(), error)

	// MigratorFactory creates a schema migrator for a database URL.
	// Default: store.NewMigrator
	MigratorFactory func(databaseURL string) (Migrator, error)

	// AuditLoggerFactory builds the audit pipeline.
	// Default: audit.NewLogger
	AuditLoggerFactory func(cfg audit.Config, opts ...audit.Option) (AuditLogger, error)

	// ObservabilityServerFactory creates an observability server.
	// Default: observability.NewServer
	ObservabilityServerFactory func(addr string, ready observability.ReadinessChecker, opts ...observability.Option) ObservabilityServer
}

// Migrator interface wraps the methods used from store.Migrator.
type Migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Status() (store.MigrationStatus, error)
	Close() error
}

// AuditLogger interface wraps the methods used from audit.Logger.
type AuditLogger interface {
	access.Auditor
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Ready() bool
	Stats() audit.Stats
}

// ObservabilityServer interface wraps the methods used from observability.Server.
type ObservabilityServer interface {
	Start() (<-chan error, error)
	Stop(ctx context.Context) error
	Addr() string
}

func (d *Deps) withDefaults() *Deps {
	out := Deps{}
	if d != nil {
		out = *d
	}
	if out.StoreFactory == nil {
		out.StoreFactory = openTripStore
	}
	if out.MigratorFactory == nil {
		out.MigratorFactory = func(databaseURL string) (Migrator, error) {
			return store.NewMigrator(databaseURL)
		}
	}
	if out.AuditLoggerFactory == nil {
		out.AuditLoggerFactory = func(cfg audit.Config, opts ...audit.Option) (AuditLogger, error) {
			return audit.NewLogger(cfg, opts...)
		}
	}
	if out.ObservabilityServerFactory == nil {
		out.ObservabilityServerFactory = func(addr string, ready observability.ReadinessChecker, opts ...observability.Option) ObservabilityServer {
			return observability.NewServer(addr, ready, opts...)
		}
	}
	return &out
}

func openTripStore(ctx context.Context, cfg config.DatabaseConfig) (access.ResourceStore, func(), error) {
	pool, err := store.Connect(ctx, cfg.URL)
	if err != nil {
		return nil, nil, err
	}
	retries := uint64(0)
	if cfg.MaxRetries > 0 {
		retries = uint64(cfg.MaxRetries)
	}
	base := cfg.RetryBase
	if base <= 0 {
		base = store.DefaultRetryBase
	}
	return store.NewTripStore(pool, store.WithRetry(retries, base)), pool.Close, nil
}
