// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/tripwarden/tripwarden/internal/config"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the tripwarden CLI.
func NewRootCmd() *cobra.Command {
	return newRootCmdWithDeps(&Deps{})
}

func newRootCmdWithDeps(deps *Deps) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tripwarden",
		Short: "Tripwarden - trip access control with tamper-evident auditing",
		Long: `Tripwarden decides who may read, edit or own a shared trip and records
every decision in an HMAC-signed audit log.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(newServeCmd(deps))
	cmd.AddCommand(newCheckCmd(deps))
	cmd.AddCommand(newAuditCmd())
	cmd.AddCommand(newMigrateCmd(deps))
	cmd.AddCommand(newConfigCmd())

	return cmd
}

// loadConfig layers the config file, environment and the flags cmd was
// invoked with.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	return config.Load(configFile, cmd.Flags())
}
