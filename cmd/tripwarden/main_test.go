// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripwarden/tripwarden/internal/access"
	"github.com/tripwarden/tripwarden/internal/access/accesstest"
	"github.com/tripwarden/tripwarden/internal/config"
)

// testEnv isolates XDG paths and tripwarden env vars and returns the state
// directory audit files land in.
func testEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, "config"))
	t.Setenv("XDG_STATE_HOME", filepath.Join(dir, "state"))
	t.Setenv(config.EnvDatabaseURL, "postgres://test@localhost/trips")
	t.Setenv(config.EnvAuditSecret, "test-secret")
	t.Setenv(config.EnvLogLevel, "error")
	configFile = ""
	return filepath.Join(dir, "state", "tripwarden", "audit")
}

// memoryDeps serves resources from an in-memory store.
func memoryDeps(s *accesstest.MemoryStore) *Deps {
	return &Deps{
		StoreFactory: func(context.Context, config.DatabaseConfig) (access.ResourceStore, func(), error) {
			return s, func() {}, nil
		},
	}
}

// runCLI executes the root command and returns what it wrote to stdout.
func runCLI(t *testing.T, deps *Deps, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmdWithDeps(deps)
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(new(bytes.Buffer))
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootCommand_HasExpectedSubcommands(t *testing.T) {
	out, err := runCLI(t, nil, "--help")
	require.NoError(t, err)

	for _, sub := range []string{"serve", "check", "audit", "migrate", "config"} {
		assert.Contains(t, out, sub, "Help missing %q command", sub)
	}
}

func TestRootCommand_ConfigFlag(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantFlag string
	}{
		{
			name:     "separate value",
			args:     []string{"--config", "/path/to/config.yaml", "--help"},
			wantFlag: "/path/to/config.yaml",
		},
		{
			name:     "config flag with equals",
			args:     []string{"--config=/etc/tripwarden.yaml", "--help"},
			wantFlag: "/etc/tripwarden.yaml",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configFile = ""
			_, err := runCLI(t, nil, tt.args...)
			require.NoError(t, err)
			assert.Equal(t, tt.wantFlag, configFile)
		})
	}
}

func TestRootCommand_VersionFlag(t *testing.T) {
	cmd := NewRootCmd()
	cmd.Version = "test-version"
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{"--version"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), "test-version")
}

func TestRootCommand_PersistentConfigFlags(t *testing.T) {
	cmd := NewRootCmd()
	for _, name := range []string{"config", "log-level", "log-format", "database-url", "audit-dir", "metrics-addr"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), "missing --%s", name)
	}
}
