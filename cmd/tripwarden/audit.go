// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/tripwarden/tripwarden/internal/audit"
	"github.com/tripwarden/tripwarden/internal/logging"
)

func newAuditCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit log",
	}
	cmd.AddCommand(newAuditQueryCmd())
	cmd.AddCommand(newAuditVerifyCmd())
	return cmd
}

type queryOptions struct {
	since       string
	until       string
	types       []string
	minSeverity string
	actor       string
	where       string
	limit       int
	jsonOutput  bool
}

func newAuditQueryCmd() *cobra.Command {
	opts := &queryOptions{}
	cmd := &cobra.Command{
		Use:   "query",
		Short: "List stored audit events, newest first",
		Example: `  tripwarden audit query --since 24h --type access.denied
  tripwarden audit query --where 'risk >= 40 && actor in ["user-B"]'`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			filter, err := opts.filter(time.Now())
			if err != nil {
				return err
			}
			logger := logging.Setup("tripwarden", version, cfg.Log.Format, cfg.Log.Level, cmd.ErrOrStderr())
			events, err := audit.QueryDir(cmd.Context(), cfg.Audit.Dir, filter, opts.limit, logger)
			if err != nil {
				return err
			}
			if opts.jsonOutput {
				return writeEventsJSON(cmd.OutOrStdout(), events)
			}
			return writeEventsTable(cmd.OutOrStdout(), events)
		},
	}

	cmd.Flags().StringVar(&opts.since, "since", "", "earliest event: RFC 3339 time or a duration back from now (e.g. 24h)")
	cmd.Flags().StringVar(&opts.until, "until", "", "latest event: RFC 3339 time or a duration back from now")
	cmd.Flags().StringSliceVar(&opts.types, "type", nil, "event types to include (repeatable)")
	cmd.Flags().StringVar(&opts.minSeverity, "min-severity", "", "minimum severity (informational, low, medium, high, critical)")
	cmd.Flags().StringVar(&opts.actor, "actor", "", "actor id")
	cmd.Flags().StringVar(&opts.where, "where", "", "filter expression, e.g. 'type == \"access.denied\" && risk >= 40'")
	cmd.Flags().IntVar(&opts.limit, "limit", audit.DefaultQueryLimit, "maximum number of events")
	cmd.Flags().BoolVar(&opts.jsonOutput, "json", false, "print events as JSON lines")

	return cmd
}

func (o *queryOptions) filter(now time.Time) (audit.Filter, error) {
	var f audit.Filter
	var err error
	if f.Start, err = parseTimeFlag("since", o.since, now); err != nil {
		return f, err
	}
	if f.End, err = parseTimeFlag("until", o.until, now); err != nil {
		return f, err
	}
	if !f.Start.IsZero() && !f.End.IsZero() && f.End.Before(f.Start) {
		return f, oops.Code("INVALID_FLAG").Errorf("--until must not be before --since")
	}
	for _, t := range o.types {
		et := audit.EventType(strings.TrimSpace(t))
		if !et.Valid() {
			return f, oops.Code("INVALID_FLAG").With("type", t).Errorf("unknown event type %q", t)
		}
		f.Types = append(f.Types, et)
	}
	if o.minSeverity != "" {
		if f.MinSeverity, err = audit.ParseSeverity(o.minSeverity); err != nil {
			return f, err
		}
	}
	f.ActorID = o.actor
	if o.where != "" {
		if f.Where, err = audit.ParseWhere(o.where); err != nil {
			return f, err
		}
	}
	return f, nil
}

// parseTimeFlag accepts an RFC 3339 timestamp or a duration before now.
func parseTimeFlag(name, value string, now time.Time) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if d, err := time.ParseDuration(value); err == nil {
		return now.Add(-d), nil
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, oops.Code("INVALID_FLAG").With("flag", name).With("value", value).
			Errorf("--%s must be an RFC 3339 time or a duration", name)
	}
	return t, nil
}

func writeEventsJSON(out io.Writer, events []audit.Event) error {
	enc := json.NewEncoder(out)
	for i := range events {
		if err := enc.Encode(&events[i]); err != nil {
			return oops.Code("OUTPUT_FAILED").Wrap(err)
		}
	}
	return nil
}

func writeEventsTable(out io.Writer, events []audit.Event) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "TIME\tTYPE\tSEVERITY\tOUTCOME\tACTOR\tTARGET\tRISK\tMESSAGE")
	for _, e := range events {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			e.Timestamp.Format(time.RFC3339), e.Type, e.Severity, e.Outcome,
			e.Actor.ID, e.Target.ID, e.RiskScore, e.Message)
	}
	if err := tw.Flush(); err != nil {
		return oops.Code("OUTPUT_FAILED").Wrap(err)
	}
	return nil
}

func newAuditVerifyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "verify",
		Short: "Recompute integrity hashes over the stored audit files",
		Long: `Recompute the HMAC of every stored event with the configured secret and
report events whose hash does not match. The command fails if any event was
tampered with.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cfg.Audit.Secret == "" {
				return oops.Code("CONFIG_INVALID").Errorf("audit.secret is required (or set TRIPWARDEN_AUDIT_SECRET)")
			}
			signer, err := audit.NewSigner([]byte(cfg.Audit.Secret))
			if err != nil {
				return err
			}
			res, err := audit.VerifyDir(cmd.Context(), cfg.Audit.Dir, signer)
			if err != nil {
				return err
			}
			return reportVerify(cmd.OutOrStdout(), res)
		},
	}
}

func reportVerify(out io.Writer, res audit.VerifyResult) error {
	fmt.Fprintf(out, "checked %d events: %d valid, %d invalid, %d unsigned\n",
		res.Checked, res.Valid, len(res.Invalid), len(res.Unsigned))
	for _, id := range res.Invalid {
		fmt.Fprintf(out, "  tampered: %s\n", id)
	}
	for _, id := range res.Unsigned {
		fmt.Fprintf(out, "  unsigned: %s\n", id)
	}
	if len(res.Invalid) > 0 || len(res.Unsigned) > 0 {
		return oops.Code("AUDIT_INTEGRITY_FAILED").
			With("invalid", len(res.Invalid)).
			With("unsigned", len(res.Unsigned)).
			Errorf("audit log integrity check failed")
	}
	return nil
}
