// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package main

import (
	"fmt"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/tripwarden/tripwarden/internal/config"
	"github.com/tripwarden/tripwarden/internal/xdg"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema for config.yaml",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			data, err := config.GenerateSchema()
			if err != nil {
				return err
			}
			if _, err := cmd.OutOrStdout().Write(append(data, '\n')); err != nil {
				return oops.Code("OUTPUT_FAILED").Wrap(err)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			data, err := config.MarshalYAML(cfg.Redacted())
			if err != nil {
				return err
			}
			if _, err := cmd.OutOrStdout().Write(data); err != nil {
				return oops.Code("OUTPUT_FAILED").Wrap(err)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate [FILE]",
		Short: "Validate a config file against the schema",
		Long: `Validate FILE, or the file given with --config, or the default
XDG config file, against the configuration schema and version constraint.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configFile
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				path = xdg.ConfigFile()
			}
			if _, err := config.Load(path, nil); err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: ok\n", path)
			return nil
		},
	})

	return cmd
}
