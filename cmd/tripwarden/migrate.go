// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/tripwarden/tripwarden/internal/config"
)

// newMigrateCmd creates the migrate subcommand.
func newMigrateCmd(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the trip store schema",
		Long:  `Apply, roll back or inspect the embedded PostgreSQL schema migrations.`,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(deps, func(out io.Writer, m Migrator, _ []string) error {
			if err := m.Up(); err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out, "Migrations completed successfully")
			return nil
		}),
	})

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations (one step by default, --all for every step)",
		Args:  cobra.NoArgs,
		RunE: withMigrator(deps, func(out io.Writer, m Migrator, _ []string) error {
			var err error
			if steps <= 0 {
				err = m.Down()
			} else {
				err = m.Steps(-steps)
			}
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(out, "Rollback completed successfully")
			return nil
		}),
	}
	down.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back; 0 rolls back all")
	down.Flags().Bool("all", false, "roll back every migration")
	down.PreRunE = func(cmd *cobra.Command, _ []string) error {
		if all, _ := cmd.Flags().GetBool("all"); all { //nolint:errcheck // flag exists
			steps = 0
		}
		return nil
	}
	cmd.AddCommand(down)

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the current schema version and pending migrations",
		Args:  cobra.NoArgs,
		RunE: withMigrator(deps, func(out io.Writer, m Migrator, _ []string) error {
			st, err := m.Status()
			if err != nil {
				return err
			}
			name := st.Name
			if name == "" {
				name = "none"
			}
			_, _ = fmt.Fprintf(out, "version: %d (%s)\ndirty: %t\napplied: %d\npending: %d\n",
				st.Version, name, st.Dirty, len(st.Applied), len(st.Pending))
			return nil
		}),
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "force VERSION",
		Short: "Set the schema version without running migrations (clears the dirty flag)",
		Args:  cobra.ExactArgs(1),
		RunE: withMigrator(deps, func(out io.Writer, m Migrator, args []string) error {
			v, err := parseForceVersion(args[0])
			if err != nil {
				return err
			}
			if err := m.Force(v); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(out, "Schema version forced to %d\n", v)
			return nil
		}),
	})

	return cmd
}

// withMigrator loads config, opens a migrator and closes it after fn.
func withMigrator(deps *Deps, fn func(out io.Writer, m Migrator, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) (err error) {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		url, err := databaseURL(cfg)
		if err != nil {
			return err
		}
		m, err := deps.withDefaults().MigratorFactory(url)
		if err != nil {
			return err
		}
		defer func() {
			if closeErr := m.Close(); closeErr != nil && err == nil {
				err = closeErr
			}
		}()
		return fn(cmd.OutOrStdout(), m, args)
	}
}

func databaseURL(cfg config.Config) (string, error) {
	if cfg.Database.URL == "" {
		return "", oops.Code("CONFIG_INVALID").
			Errorf("database.url is required (or set %s)", config.EnvDatabaseURL)
	}
	return cfg.Database.URL, nil
}

// parseForceVersion parses the version argument of `migrate force`. -1
// means no version, as golang-migrate defines it.
func parseForceVersion(s string) (int, error) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, oops.Code("INVALID_VERSION").With("version", s).Wrap(err)
	}
	if v < -1 {
		return 0, oops.Code("INVALID_VERSION").With("version", s).Errorf("version must be -1 or greater")
	}
	return v, nil
}
