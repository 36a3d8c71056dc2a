// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

// Command gen-schema generates the config JSON Schema file.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/tripwarden/tripwarden/internal/config"
)

//go:generate go run . -o ../../schemas/config.schema.json

func main() {
	outPath := filepath.Join("schemas", "config.schema.json")
	if len(os.Args) == 3 && os.Args[1] == "-o" {
		outPath = os.Args[2]
	}

	schema, err := config.GenerateSchema()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error generating schema: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(filepath.Dir(outPath), 0o750); err != nil {
		fmt.Fprintf(os.Stderr, "Error creating directory: %v\n", err)
		os.Exit(1)
	}

	if err := os.WriteFile(outPath, append(schema, '\n'), 0o600); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing file: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Generated %s\n", outPath)
}
