// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package audit

import (
	"sync"
	"time"
)

// windowLimiter admits at most limit events per fixed window. A limit of
// zero or less disables limiting.
type windowLimiter struct {
	limit  int
	window time.Duration

	mu          sync.Mutex
	count       int
	windowStart time.Time
}

func newWindowLimiter(limit int, window time.Duration) *windowLimiter {
	if window <= 0 {
		window = time.Second
	}
	return &windowLimiter{limit: limit, window: window}
}

// windowFor truncates t to the start of its window.
func (l *windowLimiter) windowFor(t time.Time) time.Time {
	n := l.window.Nanoseconds()
	return time.Unix(0, (t.UnixNano()/n)*n)
}

// Allow reports whether one more event fits in the window containing now.
func (l *windowLimiter) Allow(now time.Time) bool {
	if l.limit <= 0 {
		return true
	}
	start := l.windowFor(now)

	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.windowStart.Equal(start) {
		l.windowStart = start
		l.count = 0
	}
	if l.count >= l.limit {
		return false
	}
	l.count++
	return true
}
