// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package audit

import (
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// errShortCircuit marks a write that was skipped because the breaker is open
// or its half-open probe slot is taken.
var errShortCircuit = errors.New("audit writer circuit open")

// writeBreaker trips after threshold consecutive write failures and lets a
// single probe through once the cooldown elapses.
type writeBreaker struct {
	cb *gobreaker.CircuitBreaker
}

func newWriteBreaker(threshold int, cooldown time.Duration, logger *slog.Logger, onChange func(to gobreaker.State)) *writeBreaker {
	if threshold < 1 {
		threshold = 1
	}
	trip := uint32(threshold) //nolint:gosec // bounded by config validation
	settings := gobreaker.Settings{
		Name:        "audit-writer",
		MaxRequests: 1,
		Timeout:     cooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= trip
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("audit circuit breaker state change",
				"name", name,
				"from", from.String(),
				"to", to.String(),
			)
			if onChange != nil {
				onChange(to)
			}
		},
	}
	return &writeBreaker{cb: gobreaker.NewCircuitBreaker(settings)}
}

// Open reports whether writes are currently being short-circuited. After the
// cooldown gobreaker reports half-open, which is not open.
func (b *writeBreaker) Open() bool {
	return b.cb.State() == gobreaker.StateOpen
}

// State returns the current breaker state.
func (b *writeBreaker) State() gobreaker.State {
	return b.cb.State()
}

// Do runs write through the breaker. It returns errShortCircuit when the
// call was not attempted.
func (b *writeBreaker) Do(write func() error) error {
	_, err := b.cb.Execute(func() (any, error) {
		return nil, write()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return errShortCircuit
	}
	return err
}
