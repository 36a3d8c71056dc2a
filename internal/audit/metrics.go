// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package audit

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the audit pipeline's Prometheus collectors.
type Metrics struct {
	events          *prometheus.CounterVec
	rejected        *prometheus.CounterVec
	writeFailures   prometheus.Counter
	forwardFailures *prometheus.CounterVec
	spilled         prometheus.Counter
	breakerState    prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with reg. A nil
// registerer leaves them unregistered, which tests rely on.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_events_total",
			Help: "Audit events accepted, by event type",
		}, []string{"type"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_rejected_total",
			Help: "Audit events rejected before buffering, by reason",
		}, []string{"reason"}),
		writeFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_write_failures_total",
			Help: "Failed batch writes to the audit files",
		}),
		forwardFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_forward_failures_total",
			Help: "Failed deliveries to remote collectors, by endpoint",
		}, []string{"endpoint"}),
		spilled: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "audit_spilled_events_total",
			Help: "Audit events written to the spill file",
		}),
		breakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "audit_breaker_state",
			Help: "Audit writer circuit breaker state (0=closed, 1=half-open, 2=open)",
		}),
	}
	if reg == nil {
		return m
	}
	m.events = register(reg, m.events)
	m.rejected = register(reg, m.rejected)
	m.writeFailures = register(reg, m.writeFailures)
	m.forwardFailures = register(reg, m.forwardFailures)
	m.spilled = register(reg, m.spilled)
	m.breakerState = register(reg, m.breakerState)
	return m
}

// register adds c to reg, reusing an identical collector that is already
// registered.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}
