// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package audit

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu     sync.Mutex
	events []Event
	auth   []string
	status int
}

func (c *collector) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var ev Event
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.auth = append(c.auth, r.Header.Get("Authorization"))
	status := c.status
	c.mu.Unlock()
	if status == 0 {
		status = http.StatusAccepted
	}
	w.WriteHeader(status)
}

func (c *collector) received() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func TestForwarder_DeliversMatchingEvents(t *testing.T) {
	sink := &collector{}
	srv := httptest.NewServer(sink)
	defer srv.Close()

	f, err := NewForwarder([]ForwardEndpoint{{
		Name:       "siem",
		URL:        srv.URL,
		Headers:    map[string]string{"Authorization": "Bearer xyz"},
		EventTypes: []string{"access.*"},
	}}, time.Second, 10, discardLogger(), NewMetrics(nil))
	require.NoError(t, err)
	f.Start(context.Background())

	f.Enqueue(*mustEvent(t, EventAccessDenied, SeverityMedium, 40))
	f.Enqueue(*mustEvent(t, EventAuthSuccess, SeverityLow, 1))
	f.Enqueue(*mustEvent(t, EventAccessGranted, SeverityLow, 10))
	f.Close()

	got := sink.received()
	require.Len(t, got, 2)
	assert.Equal(t, EventAccessDenied, got[0].Type)
	assert.Equal(t, EventAccessGranted, got[1].Type)
	assert.Equal(t, "Bearer xyz", sink.auth[0])
	assert.Equal(t, EndpointStats{Sent: 2}, f.Stats().Endpoints["siem"])
}

func TestForwarder_CountsFailures(t *testing.T) {
	sink := &collector{status: http.StatusInternalServerError}
	srv := httptest.NewServer(sink)
	defer srv.Close()

	f, err := NewForwarder([]ForwardEndpoint{{Name: "flaky", URL: srv.URL}}, time.Second, 10, discardLogger(), NewMetrics(nil))
	require.NoError(t, err)
	f.Start(context.Background())
	f.Enqueue(*mustEvent(t, EventAuthFailure, SeverityHigh, 70))
	f.Close()

	assert.Equal(t, EndpointStats{Failures: 1}, f.Stats().Endpoints["flaky"])
}

func TestForwarder_DropsWhenQueueFull(t *testing.T) {
	f, err := NewForwarder([]ForwardEndpoint{{URL: "http://127.0.0.1:1"}}, time.Second, 1, discardLogger(), NewMetrics(nil))
	require.NoError(t, err)

	// not started, so nothing drains the queue
	f.Enqueue(*mustEvent(t, EventAuthSuccess, SeverityLow, 1))
	f.Enqueue(*mustEvent(t, EventAuthSuccess, SeverityLow, 1))
	assert.Equal(t, uint64(1), f.Stats().Dropped)
}

func TestForwarder_InvalidPattern(t *testing.T) {
	_, err := NewForwarder([]ForwardEndpoint{{URL: "http://x", EventTypes: []string{"access.["}}}, time.Second, 1, discardLogger(), NewMetrics(nil))
	require.Error(t, err)
}

func TestLogger_ForwardsAcceptedEvents(t *testing.T) {
	sink := &collector{}
	srv := httptest.NewServer(sink)
	defer srv.Close()

	ctx := context.Background()
	cfg := testConfig(t)
	cfg.Endpoints = []ForwardEndpoint{{Name: "siem", URL: srv.URL}}
	l := newTestLogger(t, cfg, WithWriter(&recordingWriter{}))
	require.NoError(t, l.Start(ctx))

	ev := mustEvent(t, EventSuspiciousActivity, SeverityHigh, 60)
	require.True(t, l.LogEvent(ctx, ev))
	require.NoError(t, l.Stop(ctx))

	got := sink.received()
	require.Len(t, got, 1)
	assert.Equal(t, ev.ID, got[0].ID)
	assert.NotEmpty(t, got[0].IntegrityHash())
}
