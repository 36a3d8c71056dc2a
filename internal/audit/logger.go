// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package audit

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/samber/oops"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/tripwarden/tripwarden/internal/xdg"
	"github.com/tripwarden/tripwarden/pkg/errutil"
)

// Redacted is stored in place of sensitive metadata values.
const Redacted = "[REDACTED]"

// Stats is a point-in-time snapshot of the logger's counters.
type Stats struct {
	Accepted        uint64
	Written         uint64
	RateLimited     uint64
	BreakerRejected uint64
	WriteFailures   uint64
	Spilled         uint64
	Dropped         uint64
	Buffered        int
	BreakerState    string
	Forwarding      ForwarderStats
}

// Option configures a Logger.
type Option func(*Logger)

// WithClock overrides the time source used for rate limiting, file naming
// and retention.
func WithClock(clock func() time.Time) Option {
	return func(l *Logger) { l.clock = clock }
}

// WithWriter replaces the default file writer.
func WithWriter(w Writer) Option {
	return func(l *Logger) { l.writer = w }
}

// WithSlog sets the operational logger.
func WithSlog(logger *slog.Logger) Option {
	return func(l *Logger) { l.logger = logger }
}

// WithMetrics sets the collectors the logger reports to.
func WithMetrics(m *Metrics) Option {
	return func(l *Logger) { l.metrics = m }
}

// Logger accepts audit events from any goroutine, signs them, buffers them
// and writes them in batches. LogEvent never blocks on remote I/O and never
// returns an I/O error; failures are counted and logged instead.
type Logger struct {
	cfg       Config
	logger    *slog.Logger
	clock     func() time.Time
	signer    *Signer
	writer    Writer
	spill     *spillFile
	breaker   *writeBreaker
	limiter   *windowLimiter
	forwarder *Forwarder
	retention *RetentionWorker
	metrics   *Metrics
	redact    map[string]struct{}

	mu     sync.Mutex
	buffer []Event
	closed bool

	// flushMu serializes buffer swaps with the writes that follow them so
	// batches land in the order they were taken. It also guards
	// writerClosed.
	flushMu      sync.Mutex
	writerClosed bool

	startOnce sync.Once
	stopOnce  sync.Once
	stopped   atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	replayCh  chan struct{}
	warn      rate.Sometimes

	accepted        atomic.Uint64
	written         atomic.Uint64
	rateLimited     atomic.Uint64
	breakerRejected atomic.Uint64
	writeFailures   atomic.Uint64
	spilled         atomic.Uint64
	dropped         atomic.Uint64
}

// NewLogger validates cfg and assembles the pipeline. Call Start to begin
// periodic flushing and Stop to drain.
func NewLogger(cfg Config, opts ...Option) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	signer, err := NewSigner([]byte(cfg.Secret))
	if err != nil {
		return nil, err
	}

	l := &Logger{
		cfg:      cfg,
		logger:   slog.Default(),
		clock:    time.Now,
		signer:   signer,
		limiter:  newWindowLimiter(cfg.RateLimit, time.Second),
		redact:   make(map[string]struct{}, len(cfg.RedactKeys)),
		buffer:   make([]Event, 0, cfg.BufferSize),
		replayCh: make(chan struct{}, 1),
		warn:     rate.Sometimes{Interval: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.metrics == nil {
		l.metrics = NewMetrics(nil)
	}
	for _, k := range cfg.RedactKeys {
		l.redact[strings.ToLower(k)] = struct{}{}
	}

	if l.writer == nil {
		fw, err := NewFileWriter(cfg.Dir, cfg.MaxFileBytes, cfg.MaxFiles, l.clock, l.logger)
		if err != nil {
			return nil, err
		}
		l.writer = fw
	}

	spillPath := cfg.SpillPath
	if spillPath == "" {
		spillPath = xdg.SpillFile()
	}
	l.spill = newSpillFile(spillPath, l.logger)

	l.breaker = newWriteBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown, l.logger, func(to gobreaker.State) {
		l.metrics.breakerState.Set(float64(to))
		if to == gobreaker.StateClosed {
			select {
			case l.replayCh <- struct{}{}:
			default:
			}
		}
	})

	l.forwarder, err = NewForwarder(cfg.Endpoints, cfg.ForwardTimeout, cfg.ForwardQueueSize, l.logger, l.metrics)
	if err != nil {
		return nil, err
	}

	if cfg.RetentionDays > 0 {
		var active func() string
		if fw, ok := l.writer.(*FileWriter); ok {
			active = fw.ActivePath
		}
		l.retention = NewRetentionWorker(cfg.Dir, time.Duration(cfg.RetentionDays)*24*time.Hour, cfg.RetentionInterval, active, l.logger)
		l.retention.clock = l.clock
	}

	return l, nil
}

// Start replays any spilled events and launches the flush, forwarding and
// retention goroutines. Calling Start more than once has no effect.
func (l *Logger) Start(ctx context.Context) error {
	l.startOnce.Do(func() {
		if n, err := l.ReplaySpill(ctx); err != nil {
			errutil.Log(ctx, l.logger, slog.LevelWarn, "replaying spilled audit events failed", err)
		} else if n > 0 {
			l.logger.Info("replayed spilled audit events", "count", n)
		}

		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		l.cancel = cancel
		l.forwarder.Start(runCtx)
		if l.retention != nil {
			l.retention.Start(runCtx)
		}
		l.wg.Add(1)
		go l.flushLoop(runCtx)
	})
	return nil
}

// LogEvent signs ev and adds it to the buffer. It returns false when the
// event was rejected by the rate limiter, by an open circuit breaker, or
// because the logger has stopped. The caller's event is not modified.
func (l *Logger) LogEvent(ctx context.Context, ev *Event) bool {
	if ev == nil || l.stopped.Load() {
		return false
	}
	now := l.clock()

	if !l.limiter.Allow(now) {
		l.rateLimited.Add(1)
		l.metrics.rejected.WithLabelValues("rate_limited").Inc()
		l.warn.Do(func() {
			l.logger.WarnContext(ctx, "audit rate limit exceeded, dropping events", "limit_per_second", l.cfg.RateLimit)
		})
		return false
	}
	if l.breaker.Open() {
		l.breakerRejected.Add(1)
		l.metrics.rejected.WithLabelValues("breaker_open").Inc()
		return false
	}

	rec := ev.clone()
	if rec.ID == "" {
		rec.ID = NewID()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = now.UTC()
	}
	if rec.SchemaVersion == "" {
		rec.SchemaVersion = SchemaVersion
	}
	NormalizeStrings(&rec)
	l.redactMetadata(&rec)
	if err := l.signer.Sign(&rec); err != nil {
		l.metrics.rejected.WithLabelValues("sign_failed").Inc()
		errutil.Log(ctx, l.logger, slog.LevelError, "signing audit event failed", err, "event_id", rec.ID)
		return false
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.buffer = append(l.buffer, rec)
	full := len(l.buffer) >= l.cfg.BufferSize
	l.mu.Unlock()

	l.accepted.Add(1)
	l.metrics.events.WithLabelValues(string(rec.Type)).Inc()
	l.forwarder.Enqueue(rec)

	if full {
		l.flush()
	}
	return true
}

func (l *Logger) redactMetadata(ev *Event) {
	if len(l.redact) == 0 {
		return
	}
	for k := range ev.Metadata {
		lk := strings.ToLower(k)
		if i := strings.LastIndexByte(lk, '.'); i >= 0 {
			lk = lk[i+1:]
		}
		if _, ok := l.redact[lk]; ok {
			ev.Metadata[k] = Redacted
		}
	}
}

// Flush writes whatever is buffered.
func (l *Logger) Flush(_ context.Context) error {
	l.flush()
	return nil
}

func (l *Logger) flush() {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()

	l.mu.Lock()
	batch := l.buffer
	l.buffer = make([]Event, 0, l.cfg.BufferSize)
	l.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if l.writerClosed {
		l.dropped.Add(uint64(len(batch)))
		l.logger.Error("audit events lost: flushed after stop", "events", len(batch))
		return
	}
	l.writeBatch(batch)
}

// writeBatch must be called with flushMu held.
func (l *Logger) writeBatch(batch []Event) {
	err := l.breaker.Do(func() error { return l.writer.Append(batch) })
	if err == nil {
		l.written.Add(uint64(len(batch)))
		return
	}
	if !errors.Is(err, errShortCircuit) {
		l.writeFailures.Add(1)
		l.metrics.writeFailures.Inc()
		errutil.Log(context.Background(), l.logger, slog.LevelWarn, "audit batch write failed", err, "events", len(batch))
	}

	if err := l.spill.Append(batch); err != nil {
		l.dropped.Add(uint64(len(batch)))
		errutil.Log(context.Background(), l.logger, slog.LevelError, "audit events lost: spill failed", err, "events", len(batch))
		return
	}
	l.spilled.Add(uint64(len(batch)))
	l.metrics.spilled.Add(float64(len(batch)))
}

// ReplaySpill writes spilled events back through the breaker and clears the
// spill file once they land. It returns the number of events replayed.
func (l *Logger) ReplaySpill(_ context.Context) (int, error) {
	l.flushMu.Lock()
	defer l.flushMu.Unlock()
	if l.writerClosed {
		return 0, nil
	}

	n, err := l.spill.Replay(func(batch []Event) error {
		if len(batch) == 0 {
			return nil
		}
		err := l.breaker.Do(func() error { return l.writer.Append(batch) })
		if err != nil && !errors.Is(err, errShortCircuit) {
			l.writeFailures.Add(1)
			l.metrics.writeFailures.Inc()
		}
		return err
	})
	if err != nil {
		return 0, oops.Code("AUDIT_REPLAY_FAILED").Wrap(err)
	}
	l.written.Add(uint64(n))
	return n, nil
}

func (l *Logger) maybeReplay(ctx context.Context) {
	if l.spill.Pending() == 0 || l.breaker.Open() {
		return
	}
	n, err := l.ReplaySpill(ctx)
	if err != nil {
		errutil.Log(ctx, l.logger, slog.LevelWarn, "replaying spilled audit events failed", err)
		return
	}
	l.logger.InfoContext(ctx, "replayed spilled audit events", "count", n)
}

func (l *Logger) flushLoop(ctx context.Context) {
	defer l.wg.Done()

	ticker := time.NewTicker(l.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.flush()
			l.maybeReplay(ctx)
		case <-l.replayCh:
			l.maybeReplay(ctx)
		}
	}
}

// QueryEvents returns up to limit events from durable storage that match
// filter, newest first. Events still in the buffer are not visible.
func (l *Logger) QueryEvents(ctx context.Context, filter Filter, limit int) ([]Event, error) {
	events, err := queryDir(ctx, l.cfg.Dir, filter, limit, l.logger)
	if err != nil {
		return nil, oops.Code("AUDIT_QUERY_FAILED").With("dir", l.cfg.Dir).Wrap(err)
	}
	return events, nil
}

// Verify reports whether ev carries a valid integrity hash for this
// logger's key.
func (l *Logger) Verify(ev *Event) bool {
	return l.signer.Verify(ev)
}

// Ready reports whether the logger is accepting events and its file writer
// breaker is not open.
func (l *Logger) Ready() bool {
	return !l.stopped.Load() && !l.breaker.Open()
}

// Stats returns a snapshot of the logger's counters.
func (l *Logger) Stats() Stats {
	l.mu.Lock()
	buffered := len(l.buffer)
	l.mu.Unlock()
	return Stats{
		Accepted:        l.accepted.Load(),
		Written:         l.written.Load(),
		RateLimited:     l.rateLimited.Load(),
		BreakerRejected: l.breakerRejected.Load(),
		WriteFailures:   l.writeFailures.Load(),
		Spilled:         l.spilled.Load(),
		Dropped:         l.dropped.Load(),
		Buffered:        buffered,
		BreakerState:    l.breaker.State().String(),
		Forwarding:      l.forwarder.Stats(),
	}
}

// Stop rejects further events, stops the background goroutines, flushes the
// buffer and closes files. It is safe to call more than once.
func (l *Logger) Stop(ctx context.Context) error {
	var err error
	l.stopOnce.Do(func() {
		l.stopped.Store(true)
		l.mu.Lock()
		l.closed = true
		l.mu.Unlock()
		if l.cancel != nil {
			l.cancel()
		}

		done := make(chan struct{})
		go func() {
			l.wg.Wait()
			close(done)
		}()
		select {
		case <-done:
		case <-ctx.Done():
			err = oops.Code("AUDIT_STOP_TIMEOUT").Wrap(ctx.Err())
		}

		l.flush()
		l.forwarder.Close()
		if l.retention != nil {
			l.retention.Stop()
		}

		l.flushMu.Lock()
		l.writerClosed = true
		err = errors.Join(err, l.writer.Close(), l.spill.Close())
		l.flushMu.Unlock()
	})
	return err
}
