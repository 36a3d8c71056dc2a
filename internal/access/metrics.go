// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package access

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	resolveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "access_resolve_duration_seconds",
		Help:    "Histogram of authorization resolution latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// decisions counts Resolve outcomes: granted, denied, not_found, error.
	decisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "access_decisions_total",
		Help: "Total number of authorization resolutions by outcome",
	}, []string{"outcome"})
)

// Outcome labels.
const (
	outcomeGranted  = "granted"
	outcomeDenied   = "denied"
	outcomeNotFound = "not_found"
	outcomeError    = "error"
	outcomeInvalid  = "invalid"
)

func recordResolveMetrics(d time.Duration, outcome string) {
	resolveDuration.Observe(d.Seconds())
	decisions.WithLabelValues(outcome).Inc()
}
