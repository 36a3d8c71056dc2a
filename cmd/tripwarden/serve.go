// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/tripwarden/tripwarden/internal/access"
	"github.com/tripwarden/tripwarden/internal/audit"
	"github.com/tripwarden/tripwarden/internal/config"
	"github.com/tripwarden/tripwarden/internal/logging"
	"github.com/tripwarden/tripwarden/internal/observability"
	"github.com/tripwarden/tripwarden/pkg/errutil"
)

// shutdownTimeout bounds the graceful stop, including the final audit flush.
const shutdownTimeout = 10 * time.Second

// decisionPath is where serve mounts the decision endpoint.
const decisionPath = "/v1/access"

func newServeCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the access resolver with auditing, metrics and health probes",
		Long: `Start the long-running process: connect to the trip store, start the
audit pipeline and serve access decisions, metrics and health probes on the
observability address until SIGINT or SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cmd, cfg, deps)
		},
	}
}

// runServe starts the process with injectable dependencies and blocks until
// a signal arrives, ctx is cancelled or a server fails.
func runServe(ctx context.Context, cmd *cobra.Command, cfg config.Config, deps *Deps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	if err := cfg.ValidateForServe(); err != nil {
		return err
	}
	if cfg.Observability.Addr == "" {
		return oops.Code("CONFIG_INVALID").Errorf("observability.addr is required for serve")
	}

	logger := logging.SetDefault("tripwarden", version, cfg.Log.Format, cfg.Log.Level)
	logger.Info("starting tripwarden", "audit_dir", cfg.Audit.Dir, "addr", cfg.Observability.Addr)

	resources, closeStore, err := deps.StoreFactory(ctx, cfg.Database)
	if err != nil {
		return oops.With("operation", "open trip store").Wrap(err)
	}
	defer closeStore()
	logger.Info("connected to trip store")

	auditLogger, err := deps.AuditLoggerFactory(cfg.Audit,
		audit.WithSlog(logger),
		audit.WithMetrics(audit.NewMetrics(prometheus.DefaultRegisterer)),
	)
	if err != nil {
		return oops.With("operation", "create audit logger").Wrap(err)
	}
	if err := auditLogger.Start(ctx); err != nil {
		return oops.With("operation", "start audit logger").Wrap(err)
	}
	defer stopAuditLogger(auditLogger, logger)

	resolver := access.NewResolver(resources, auditLogger, access.WithLogger(logger))

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	obsServer := deps.ObservabilityServerFactory(cfg.Observability.Addr, auditLogger.Ready,
		observability.WithBuildInfo(version, commit),
		observability.WithStats(func() any { return auditLogger.Stats() }),
		observability.WithHandler(decisionPath, access.Handler(access.Guard(resolver), logger)),
	)
	obsErrChan, err := obsServer.Start()
	if err != nil {
		return oops.With("operation", "start observability server").Wrap(err)
	}
	go monitorServerErrors(ctx, cancel, obsErrChan, "observability")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("tripwarden started on", obsServer.Addr())
	logger.Info("tripwarden ready", "addr", obsServer.Addr())

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig)
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := obsServer.Stop(shutdownCtx); err != nil {
		errutil.LogError(logger, "error stopping observability server", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func stopAuditLogger(l AuditLogger, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := l.Stop(ctx); err != nil {
		errutil.LogError(logger, "error stopping audit logger", err)
	}
}

// monitorServerErrors cancels the process context when a server fails.
// It exits when either an error is received, the channel is closed, or the context is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			slog.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
