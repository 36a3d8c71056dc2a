// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/tripwarden/tripwarden/internal/access"
	"github.com/tripwarden/tripwarden/internal/audit"
	"github.com/tripwarden/tripwarden/internal/config"
	"github.com/tripwarden/tripwarden/internal/logging"
)

type checkOptions struct {
	trip       string
	subject    string
	level      string
	permission string
	operation  string
	jsonOutput bool
}

func newCheckCmd(deps *Deps) *cobra.Command {
	opts := &checkOptions{}
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Resolve one access request and print the decision",
		Long: `Resolve a single access request against the configured trip store.
The decision is audited like any other. The command exits with status 2 when
access is denied.`,
		Example: `  tripwarden check --trip trip-1 --subject user-B --permission edit`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runCheck(cmd.Context(), cmd.OutOrStdout(), cfg, opts, deps)
		},
	}

	cmd.Flags().StringVar(&opts.trip, "trip", "", "trip id")
	cmd.Flags().StringVar(&opts.subject, "subject", "", "subject (user) id")
	cmd.Flags().StringVar(&opts.level, "level", "", "required level (read, write, collaborator, owner)")
	cmd.Flags().StringVar(&opts.permission, "permission", "", "required permission (view, edit, manage)")
	cmd.Flags().StringVar(&opts.operation, "operation", "cli.check", "operation label recorded in the audit event")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "print the decision as JSON")
	_ = cmd.MarkFlagRequired("trip")    //nolint:errcheck // flag exists
	_ = cmd.MarkFlagRequired("subject") //nolint:errcheck // flag exists

	return cmd
}

func (o *checkOptions) accessContext() (access.AccessContext, error) {
	level, err := access.ParseLevel(o.level)
	if err != nil {
		return access.AccessContext{}, err
	}
	perm, err := access.ParsePermission(o.permission)
	if err != nil {
		return access.AccessContext{}, err
	}
	return access.NewAccessContext(o.trip, o.subject,
		access.RequireLevel(level),
		access.RequirePermission(perm),
		access.WithOperation(o.operation),
		access.WithSource("", "tripwarden-cli/"+version),
	)
}

func runCheck(ctx context.Context, out io.Writer, cfg config.Config, opts *checkOptions, deps *Deps) error {
	deps = deps.withDefaults()
	if ctx == nil {
		ctx = context.Background()
	}

	actx, err := opts.accessContext()
	if err != nil {
		return err
	}
	if err := cfg.ValidateForServe(); err != nil {
		return err
	}

	logger := logging.Setup("tripwarden", version, cfg.Log.Format, cfg.Log.Level, nil)

	resources, closeStore, err := deps.StoreFactory(ctx, cfg.Database)
	if err != nil {
		return oops.With("operation", "open trip store").Wrap(err)
	}
	defer closeStore()

	auditLogger, err := deps.AuditLoggerFactory(cfg.Audit, audit.WithSlog(logger))
	if err != nil {
		return oops.With("operation", "create audit logger").Wrap(err)
	}
	if err := auditLogger.Start(ctx); err != nil {
		return oops.With("operation", "start audit logger").Wrap(err)
	}
	// Stop flushes, so the decision's audit event is durable before exit.
	defer stopAuditLogger(auditLogger, logger)

	resolver := access.NewResolver(resources, auditLogger, access.WithLogger(logger))
	decision, err := access.Require(ctx, access.Guard(resolver), actx)
	if err != nil && decision.DenialReason == "" {
		return err
	}

	if printErr := printDecision(out, decision, opts.jsonOutput); printErr != nil {
		return printErr
	}
	return err
}

func printDecision(out io.Writer, d access.AccessDecision, asJSON bool) error {
	resp := access.NewDecisionResponse(d)
	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return oops.Code("OUTPUT_FAILED").Wrap(err)
		}
		return nil
	}

	var err error
	if resp.Authorized {
		_, err = fmt.Fprintf(out, "GRANTED level=%s permission=%s owner=%t collaborator=%t visibility=%s\n",
			resp.Level, resp.Permission, resp.IsOwner, resp.IsCollaborator, resp.Visibility)
	} else {
		_, err = fmt.Fprintf(out, "DENIED %s\n", resp.Reason)
	}
	if err != nil {
		return oops.Code("OUTPUT_FAILED").Wrap(err)
	}
	return nil
}
