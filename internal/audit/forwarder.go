// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/glob"
	"github.com/samber/oops"
	"golang.org/x/time/rate"
)

// ForwardEndpoint is a remote collector that receives events as JSON.
type ForwardEndpoint struct {
	Name    string            `koanf:"name" yaml:"name,omitempty" json:"name"`
	URL     string            `koanf:"url" yaml:"url,omitempty" json:"url"`
	Headers map[string]string `koanf:"headers" yaml:"headers,omitempty" json:"headers,omitempty"`
	// EventTypes are glob patterns such as "access.*". Empty forwards all.
	EventTypes []string `koanf:"event_types" yaml:"event_types,omitempty" json:"event_types,omitempty"`
}

type forwardTarget struct {
	ForwardEndpoint
	patterns []glob.Glob
	failures atomic.Uint64
	sent     atomic.Uint64
}

func (t *forwardTarget) wants(eventType EventType) bool {
	if len(t.patterns) == 0 {
		return true
	}
	for _, p := range t.patterns {
		if p.Match(string(eventType)) {
			return true
		}
	}
	return false
}

// ForwarderStats reports per-endpoint delivery counters.
type ForwarderStats struct {
	Dropped   uint64
	Endpoints map[string]EndpointStats
}

// EndpointStats counts deliveries for one endpoint.
type EndpointStats struct {
	Sent     uint64
	Failures uint64
}

// Forwarder delivers events to remote collectors on a background goroutine.
// Delivery is best effort: failures are counted and logged, never returned
// to the producer.
type Forwarder struct {
	client  *http.Client
	targets []*forwardTarget
	queue   chan Event
	logger  *slog.Logger
	metrics *Metrics
	warn    rate.Sometimes

	dropped atomic.Uint64
	stop    chan struct{}
	wg      sync.WaitGroup
	closed  atomic.Bool
}

// NewForwarder compiles endpoint filters. It returns an error if a pattern
// does not compile.
func NewForwarder(endpoints []ForwardEndpoint, timeout time.Duration, queueSize int, logger *slog.Logger, metrics *Metrics) (*Forwarder, error) {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	targets := make([]*forwardTarget, 0, len(endpoints))
	for _, ep := range endpoints {
		t := &forwardTarget{ForwardEndpoint: ep}
		if t.Name == "" {
			t.Name = ep.URL
		}
		for _, pattern := range ep.EventTypes {
			g, err := glob.Compile(pattern, '.')
			if err != nil {
				return nil, oops.Code("CONFIG_INVALID").With("endpoint", t.Name).With("pattern", pattern).Wrap(err)
			}
			t.patterns = append(t.patterns, g)
		}
		targets = append(targets, t)
	}
	return &Forwarder{
		client:  &http.Client{Timeout: timeout},
		targets: targets,
		queue:   make(chan Event, queueSize),
		logger:  logger,
		metrics: metrics,
		warn:    rate.Sometimes{Interval: 10 * time.Second},
		stop:    make(chan struct{}),
	}, nil
}

// Start launches the delivery goroutine. Requests carry ctx's values but
// are bounded only by the client timeout, so Close can drain the queue.
func (f *Forwarder) Start(ctx context.Context) {
	f.wg.Add(1)
	go f.run(context.WithoutCancel(ctx))
}

// Enqueue hands an event to the delivery goroutine without blocking. When
// the queue is full the event is dropped from forwarding only.
func (f *Forwarder) Enqueue(ev Event) {
	if len(f.targets) == 0 || f.closed.Load() {
		return
	}
	select {
	case f.queue <- ev:
	default:
		f.dropped.Add(1)
		f.metrics.forwardFailures.WithLabelValues("queue_full").Inc()
		f.warn.Do(func() {
			f.logger.Warn("audit forward queue full, dropping event from forwarding", "event_id", ev.ID)
		})
	}
}

func (f *Forwarder) run(ctx context.Context) {
	defer f.wg.Done()
	for {
		select {
		case ev := <-f.queue:
			f.deliver(ctx, ev)
		case <-f.stop:
			f.drain(ctx)
			return
		}
	}
}

// drain delivers what is already queued.
func (f *Forwarder) drain(ctx context.Context) {
	for {
		select {
		case ev := <-f.queue:
			f.deliver(ctx, ev)
		default:
			return
		}
	}
}

func (f *Forwarder) deliver(ctx context.Context, ev Event) {
	body, err := json.Marshal(ev)
	if err != nil {
		f.logger.Error("encoding audit event for forwarding failed", "event_id", ev.ID, "error", err)
		return
	}
	for _, t := range f.targets {
		if !t.wants(ev.Type) {
			continue
		}
		if err := f.post(ctx, t, body); err != nil {
			t.failures.Add(1)
			f.metrics.forwardFailures.WithLabelValues(t.Name).Inc()
			f.logger.Warn("audit forward failed", "endpoint", t.Name, "event_id", ev.ID, "error", err)
			continue
		}
		t.sent.Add(1)
	}
}

func (f *Forwarder) post(ctx context.Context, t *forwardTarget, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.URL, bytes.NewReader(body))
	if err != nil {
		return oops.Code("AUDIT_FORWARD_FAILED").With("endpoint", t.Name).Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range t.Headers {
		req.Header.Set(k, v)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return oops.Code("AUDIT_FORWARD_FAILED").With("endpoint", t.Name).Wrap(err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return oops.Code("AUDIT_FORWARD_FAILED").
			With("endpoint", t.Name).
			With("status", resp.StatusCode).
			Errorf("collector returned %s", resp.Status)
	}
	return nil
}

// Stats returns a snapshot of delivery counters.
func (f *Forwarder) Stats() ForwarderStats {
	s := ForwarderStats{Dropped: f.dropped.Load(), Endpoints: make(map[string]EndpointStats, len(f.targets))}
	for _, t := range f.targets {
		s.Endpoints[t.Name] = EndpointStats{Sent: t.sent.Load(), Failures: t.failures.Load()}
	}
	return s
}

// Close stops accepting events and waits for queued deliveries to finish.
func (f *Forwarder) Close() {
	if !f.closed.CompareAndSwap(false, true) {
		return
	}
	close(f.stop)
	f.wg.Wait()
	f.client.CloseIdleConnections()
}
