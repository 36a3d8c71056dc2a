// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package errutil_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tripwarden/tripwarden/pkg/errutil"
)

func decode(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	return entry
}

func TestLogError_WithOopsError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	err := oops.Code("STORE_QUERY_FAILED").
		With("resource_id", "trip-1").
		Errorf("query failed")

	errutil.LogError(logger, "operation failed", err)

	entry := decode(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Equal(t, "operation failed", entry["msg"])
	assert.Equal(t, "STORE_QUERY_FAILED", entry["code"])
	assert.Equal(t, map[string]any{"resource_id": "trip-1"}, entry["context"])
}

func TestLogError_WithStandardError(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.LogError(logger, "operation failed", errors.New("standard error"))

	entry := decode(t, &buf)
	assert.Equal(t, "ERROR", entry["level"])
	assert.Contains(t, entry["error"], "standard error")
	assert.NotContains(t, entry, "code")
}

func TestLog_LevelAndExtraAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))

	errutil.Log(context.Background(), logger, slog.LevelWarn, "spill failed", errors.New("disk full"), "events", 3)

	entry := decode(t, &buf)
	assert.Equal(t, "WARN", entry["level"])
	assert.InDelta(t, 3, entry["events"], 0)
}

func TestCode(t *testing.T) {
	assert.Equal(t, "CONFIG_INVALID", errutil.Code(oops.Code("CONFIG_INVALID").Errorf("bad")))
	assert.Empty(t, errutil.Code(errors.New("plain")))
	assert.Empty(t, errutil.Code(nil))
}
