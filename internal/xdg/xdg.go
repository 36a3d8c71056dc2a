// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

// Package xdg resolves XDG Base Directory paths for tripwarden.
package xdg

import (
	"os"
	"path/filepath"

	"github.com/samber/oops"
)

const appName = "tripwarden"

// ConfigDir returns the XDG config directory.
// Checks XDG_CONFIG_HOME first, falls back to ~/.config.
func ConfigDir() string {
	return filepath.Join(baseDir("XDG_CONFIG_HOME", ".config"), appName)
}

// StateDir returns the XDG state directory.
// Checks XDG_STATE_HOME first, falls back to ~/.local/state.
func StateDir() string {
	return filepath.Join(baseDir("XDG_STATE_HOME", ".local", "state"), appName)
}

// ConfigFile is the default config file location.
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

// AuditDir is the default directory for audit JSONL files.
func AuditDir() string {
	return filepath.Join(StateDir(), "audit")
}

// SpillFile is the default spill file used while the audit writer is unavailable.
func SpillFile() string {
	return filepath.Join(StateDir(), "audit-spill.jsonl")
}

// EnsureDir creates a directory and all parent directories if they don't exist.
// Directories are created with 0700 permissions.
func EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0o700); err != nil {
		return oops.Code("XDG_DIR_FAILED").With("path", path).Wrap(err)
	}
	return nil
}

func baseDir(env string, fallback ...string) string {
	if base := os.Getenv(env); base != "" {
		return base
	}
	return filepath.Join(append([]string{os.Getenv("HOME")}, fallback...)...)
}
