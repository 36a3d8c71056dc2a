// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package audit

import (
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const testSecret = "test-integrity-secret"

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// testConfig returns a config that flushes every event immediately and
// never trips on its own.
func testConfig(t *testing.T) Config {
	t.Helper()
	cfg := DefaultConfig()
	cfg.Dir = t.TempDir()
	cfg.SpillPath = filepath.Join(t.TempDir(), "spill.jsonl")
	cfg.Secret = testSecret
	cfg.BufferSize = 1
	cfg.FlushInterval = time.Hour
	cfg.RateLimit = 0
	cfg.RetentionDays = 0
	cfg.BreakerThreshold = 3
	cfg.BreakerCooldown = time.Hour
	return cfg
}

func newTestLogger(t *testing.T, cfg Config, opts ...Option) *Logger {
	t.Helper()
	opts = append([]Option{WithSlog(discardLogger())}, opts...)
	l, err := NewLogger(cfg, opts...)
	require.NoError(t, err)
	return l
}

// fakeClock is a settable time source.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingWriter captures batches and can be told to fail.
type recordingWriter struct {
	mu      sync.Mutex
	batches [][]Event
	calls   int
	fail    bool
	closed  bool
}

var errDiskFull = errors.New("disk full")

func (w *recordingWriter) Append(batch []Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls++
	if w.fail {
		return errDiskFull
	}
	w.batches = append(w.batches, append([]Event(nil), batch...))
	return nil
}

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func (w *recordingWriter) setFail(fail bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.fail = fail
}

func (w *recordingWriter) callCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls
}

func (w *recordingWriter) events() []Event {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []Event
	for _, b := range w.batches {
		out = append(out, b...)
	}
	return out
}

func mustEvent(t *testing.T, typ EventType, sev Severity, risk int) *Event {
	t.Helper()
	ev, err := NewEvent(typ, sev, OutcomeSuccess, "test event", risk)
	require.NoError(t, err)
	return ev
}
