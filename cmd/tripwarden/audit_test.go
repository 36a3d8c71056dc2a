// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripwarden/tripwarden/internal/audit"
	"github.com/tripwarden/tripwarden/pkg/errutil"
)

// seedAudit writes events through a real Logger with the test secret.
func seedAudit(t *testing.T, auditDir string, events ...*audit.Event) {
	t.Helper()
	cfg := audit.DefaultConfig()
	cfg.Dir = auditDir
	cfg.SpillPath = filepath.Join(t.TempDir(), "spill.jsonl")
	cfg.Secret = "test-secret"
	cfg.RetentionDays = 0

	l, err := audit.NewLogger(cfg)
	require.NoError(t, err)
	require.NoError(t, l.Start(context.Background()))
	for _, ev := range events {
		require.True(t, l.LogEvent(context.Background(), ev))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, l.Stop(ctx))
}

func auditFiles(t *testing.T, dir string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "audit-*.jsonl"))
	require.NoError(t, err)
	require.NotEmpty(t, files)
	return files
}

func TestAuditQuery(t *testing.T) {
	auditDir := testEnv(t)
	seedAudit(t, auditDir,
		audit.AccessGranted("user-A", "trip", "trip-1", "access granted"),
		audit.AccessDenied("user-B", "trip", "trip-1", "requires edit permission"),
		audit.AccessDenied("user-C", "trip", "trip-2", "access denied"),
	)

	tests := []struct {
		name  string
		args  []string
		count int
	}{
		{name: "everything", args: nil, count: 3},
		{name: "by type", args: []string{"--type", "access.denied"}, count: 2},
		{name: "by actor", args: []string{"--actor", "user-B"}, count: 1},
		{name: "where expression", args: []string{"--where", `type == "access.denied" && actor in ["user-C"]`}, count: 1},
		{name: "limit", args: []string{"--limit", "2"}, count: 2},
		{name: "since in the future", args: []string{"--since", time.Now().Add(time.Hour).Format(time.RFC3339)}, count: 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := runCLI(t, nil, append([]string{"audit", "query", "--json"}, tt.args...)...)
			require.NoError(t, err)

			var got []audit.Event
			sc := bufio.NewScanner(strings.NewReader(out))
			for sc.Scan() {
				var ev audit.Event
				require.NoError(t, json.Unmarshal(sc.Bytes(), &ev))
				got = append(got, ev)
			}
			assert.Len(t, got, tt.count)
		})
	}
}

func TestAuditQuery_Table(t *testing.T) {
	auditDir := testEnv(t)
	seedAudit(t, auditDir, audit.AccessDenied("user-B", "trip", "trip-1", "requires edit permission"))

	out, err := runCLI(t, nil, "audit", "query")
	require.NoError(t, err)
	assert.Contains(t, out, "TYPE")
	assert.Contains(t, out, "access.denied")
	assert.Contains(t, out, "requires edit permission")
}

func TestAuditQuery_InvalidFlags(t *testing.T) {
	testEnv(t)

	tests := []struct {
		name string
		args []string
		code string
	}{
		{"unknown type", []string{"--type", "access.maybe"}, "INVALID_FLAG"},
		{"bad since", []string{"--since", "yesterday"}, "INVALID_FLAG"},
		{"until before since", []string{"--since", "1h", "--until", "2h"}, "INVALID_FLAG"},
		{"bad severity", []string{"--min-severity", "apocalyptic"}, "INVALID_SEVERITY"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runCLI(t, nil, append([]string{"audit", "query"}, tt.args...)...)
			require.Error(t, err)
			errutil.AssertErrorCode(t, err, tt.code)
		})
	}
}

func TestAuditVerify(t *testing.T) {
	auditDir := testEnv(t)
	seedAudit(t, auditDir,
		audit.AccessGranted("user-A", "trip", "trip-1", "access granted"),
		audit.AccessDenied("user-B", "trip", "trip-1", "access denied"),
	)

	out, err := runCLI(t, nil, "audit", "verify")
	require.NoError(t, err)
	assert.Contains(t, out, "checked 2 events: 2 valid, 0 invalid, 0 unsigned")
}

func TestAuditVerify_DetectsTampering(t *testing.T) {
	auditDir := testEnv(t)
	seedAudit(t, auditDir, audit.AccessDenied("user-B", "trip", "trip-1", "access denied"))

	path := auditFiles(t, auditDir)[0]
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), `"outcome":"failure"`, `"outcome":"success"`, 1)
	require.NotEqual(t, string(data), tampered)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o600))

	out, err := runCLI(t, nil, "audit", "verify")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUDIT_INTEGRITY_FAILED")
	assert.Contains(t, out, "tampered:")
}

func TestAuditVerify_WrongSecret(t *testing.T) {
	auditDir := testEnv(t)
	seedAudit(t, auditDir, audit.AccessGranted("user-A", "trip", "trip-1", "access granted"))
	t.Setenv("TRIPWARDEN_AUDIT_SECRET", "another-secret")

	_, err := runCLI(t, nil, "audit", "verify")
	require.Error(t, err)
	errutil.AssertErrorCode(t, err, "AUDIT_INTEGRITY_FAILED")
}

func TestParseTimeFlag(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	got, err := parseTimeFlag("since", "90m", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-90*time.Minute), got)

	got, err = parseTimeFlag("since", "2026-02-01T00:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), got)

	got, err = parseTimeFlag("since", "", now)
	require.NoError(t, err)
	assert.True(t, got.IsZero())
}
