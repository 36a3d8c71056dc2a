// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/tripwarden/tripwarden/pkg/errutil"
)

func TestConfigSchema(t *testing.T) {
	testEnv(t)

	out, err := runCLI(t, nil, "config", "schema")
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &doc))
	assert.Contains(t, doc, "properties")
}

func TestConfigShow_RedactsSecrets(t *testing.T) {
	testEnv(t)
	t.Setenv("TRIPWARDEN_DATABASE_URL", "postgres://app:pa55word@db/trips")

	out, err := runCLI(t, nil, "config", "show", "--log-format", "text")
	require.NoError(t, err)
	assert.NotContains(t, out, "test-secret")
	assert.NotContains(t, out, "pa55word")

	var doc map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &doc))
	logCfg, ok := doc["log"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "text", logCfg["format"])
}

func TestConfigValidate(t *testing.T) {
	testEnv(t)
	dir := t.TempDir()

	good := filepath.Join(dir, "good.yaml")
	require.NoError(t, os.WriteFile(good, []byte("config_version: \"1.0.0\"\nlog:\n  level: debug\n"), 0o600))
	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("log:\n  colour: blue\n"), 0o600))

	out, err := runCLI(t, nil, "config", "validate", good)
	require.NoError(t, err)
	assert.Contains(t, out, "good.yaml: ok")

	_, err = runCLI(t, nil, "config", "validate", bad)
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "CONFIG_INVALID")

	_, err = runCLI(t, nil, "--config", good, "config", "validate")
	require.NoError(t, err)
}
