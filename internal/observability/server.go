// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

// Package observability provides HTTP endpoints for metrics and health checks.
package observability

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/oops"
)

// ReadinessChecker returns whether the service is ready to make decisions.
type ReadinessChecker func() bool

// StatsFunc returns a JSON-encodable snapshot served at /healthz/stats.
type StatsFunc func() any

// Metrics contains the server's own Prometheus metrics.
type Metrics struct {
	BuildInfo       *prometheus.GaugeVec
	ReadinessProbes *prometheus.CounterVec
}

// NewMetrics creates and registers the server metrics.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		BuildInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "tripwarden_build_info",
				Help: "Build information; the value is always 1",
			},
			[]string{"version", "commit"},
		),
		ReadinessProbes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "tripwarden_readiness_probes_total",
				Help: "Readiness probe results",
			},
			[]string{"result"},
		),
	}

	reg.MustRegister(m.BuildInfo)
	reg.MustRegister(m.ReadinessProbes)

	return m
}

// Option configures a Server.
type Option func(*Server)

// WithStats exposes fn at /healthz/stats.
func WithStats(fn StatsFunc) Option {
	return func(s *Server) { s.stats = fn }
}

// WithHandler mounts h at pattern next to the health endpoints.
func WithHandler(pattern string, h http.Handler) Option {
	return func(s *Server) {
		if s.handlers == nil {
			s.handlers = make(map[string]http.Handler)
		}
		s.handlers[pattern] = h
	}
}

// WithBuildInfo sets the labels of tripwarden_build_info.
func WithBuildInfo(version, commit string) Option {
	return func(s *Server) { s.metrics.BuildInfo.WithLabelValues(version, commit).Set(1) }
}

// Server provides HTTP endpoints for observability (metrics and health probes).
type Server struct {
	addr       string
	listener   net.Listener
	httpServer *http.Server
	registry   *prometheus.Registry
	metrics    *Metrics
	isReady    ReadinessChecker
	stats      StatsFunc
	handlers   map[string]http.Handler
	running    atomic.Bool
}

// NewServer creates a new observability server.
// addr: listen address in "host:port" format (e.g., "127.0.0.1:9100", ":9100" for all interfaces).
//
// /metrics serves the server's own registry merged with the default
// registry, which carries the Go and process collectors and every
// promauto-registered metric.
func NewServer(addr string, readinessChecker ReadinessChecker, opts ...Option) *Server {
	registry := prometheus.NewRegistry()

	s := &Server{
		addr:     addr,
		registry: registry,
		metrics:  NewMetrics(registry),
		isReady:  readinessChecker,
	}
	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start begins serving observability endpoints.
// It returns an error channel that will receive any errors from the HTTP server
// after it starts. The channel is closed when the server stops gracefully.
func (s *Server) Start() (<-chan error, error) {
	if !s.running.CompareAndSwap(false, true) {
		return nil, oops.Code("OBSERVABILITY_RUNNING").Errorf("observability server already running")
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		s.running.Store(false)
		return nil, oops.Code("OBSERVABILITY_LISTEN_FAILED").With("addr", s.addr).Wrap(err)
	}
	s.listener = listener

	mux := http.NewServeMux()

	gatherers := prometheus.Gatherers{s.registry, prometheus.DefaultGatherer}
	mux.Handle("/metrics", promhttp.HandlerFor(gatherers, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	mux.HandleFunc("/healthz/liveness", s.handleLiveness)
	mux.HandleFunc("/healthz/readiness", s.handleReadiness)
	if s.stats != nil {
		mux.HandleFunc("/healthz/stats", s.handleStats)
	}
	for pattern, h := range s.handlers {
		mux.Handle(pattern, h)
	}

	httpSrv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.httpServer = httpSrv

	errCh := make(chan error, 1)

	go func() {
		defer close(errCh)
		// Use local httpSrv to avoid race with subsequent Start() calls
		if serveErr := httpSrv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			slog.Error("observability server error", "error", serveErr)
			errCh <- serveErr
		}
	}()

	slog.Info("observability server started", "addr", listener.Addr().String())
	return errCh, nil
}

// Stop gracefully shuts down the observability server.
func (s *Server) Stop(ctx context.Context) error {
	// CompareAndSwap keeps a concurrent Start from slipping in between the
	// check and the store.
	if !s.running.CompareAndSwap(true, false) {
		return nil
	}

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			// Restore running state on failure so the server can be stopped again
			s.running.Store(true)
			return oops.With("operation", "shutdown_observability_server").Wrap(err)
		}
	}

	slog.Info("observability server stopped")
	return nil
}

// Addr returns the address the server is listening on.
// Returns empty string if not running.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

func (s *Server) handleLiveness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("ok\n"))
}

// handleReadiness returns 503 while the checker reports not ready, which in
// serve means the audit writer's breaker is open.
func (s *Server) handleReadiness(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	if s.isReady == nil || s.isReady() {
		s.metrics.ReadinessProbes.WithLabelValues("ready").Inc()
		w.WriteHeader(http.StatusOK)
		//nolint:errcheck // health check write error is acceptable, client may disconnect
		w.Write([]byte("ok\n"))
		return
	}

	s.metrics.ReadinessProbes.WithLabelValues("not_ready").Inc()
	w.WriteHeader(http.StatusServiceUnavailable)
	//nolint:errcheck // health check write error is acceptable, client may disconnect
	w.Write([]byte("not ready\n"))
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.stats()); err != nil {
		slog.Warn("encode stats", "error", err)
	}
}
