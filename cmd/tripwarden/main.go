// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

// Package main is the entry point for the tripwarden CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/tripwarden/tripwarden/internal/access"
)

// Version information set at build time.
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// exitDenied is returned by `tripwarden check` when access is refused so
// scripts can tell a denial from a failure.
const exitDenied = 2

func main() {
	cmd := NewRootCmd()
	cmd.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)

	if err := cmd.Execute(); err != nil {
		if errors.Is(err, access.ErrAccessDenied) {
			os.Exit(exitDenied)
		}
		os.Exit(1)
	}
}
