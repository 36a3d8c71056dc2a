// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package audit

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/samber/oops"
)

// RetentionWorker deletes whole audit files whose last write is older than
// the retention period. The file currently being appended to is never
// removed.
type RetentionWorker struct {
	dir      string
	retain   time.Duration
	interval time.Duration
	active   func() string
	logger   *slog.Logger
	clock    func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewRetentionWorker creates a worker for dir. active reports the path that
// must be preserved and may be nil.
func NewRetentionWorker(dir string, retain, interval time.Duration, active func() string, logger *slog.Logger) *RetentionWorker {
	if logger == nil {
		logger = slog.Default()
	}
	if active == nil {
		active = func() string { return "" }
	}
	return &RetentionWorker{
		dir:      dir,
		retain:   retain,
		interval: interval,
		active:   active,
		logger:   logger,
		clock:    time.Now,
	}
}

// RunOnce executes a single sweep and returns how many files were deleted.
// Every expired file is attempted even if earlier removals fail; errors are
// combined.
func (w *RetentionWorker) RunOnce(ctx context.Context) (int, error) {
	if w.retain <= 0 {
		return 0, nil
	}
	cutoff := w.clock().Add(-w.retain)
	files, err := listFiles(w.dir)
	if err != nil {
		return 0, err
	}

	active := w.active()
	removed := 0
	var errs []error
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		if f.Path == active {
			continue
		}
		info, err := os.Stat(f.Path)
		if err != nil {
			if !os.IsNotExist(err) {
				errs = append(errs, oops.With("path", f.Path).Wrap(err))
			}
			continue
		}
		if !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.Remove(f.Path); err != nil {
			w.logger.Error("removing expired audit file failed", "path", f.Path, "error", err)
			errs = append(errs, oops.With("path", f.Path).Wrap(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		w.logger.Info("removed expired audit files", "count", removed, "cutoff", cutoff)
	}
	return removed, errors.Join(errs...)
}

// Start begins periodic sweeps.
func (w *RetentionWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go w.run(ctx)
}

// Stop stops the worker and waits for an in-flight sweep.
func (w *RetentionWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *RetentionWorker) run(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	if _, err := w.RunOnce(ctx); err != nil {
		w.logger.Error("retention sweep failed", "error", err)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := w.RunOnce(ctx); err != nil {
				w.logger.Error("retention sweep failed", "error", err)
			}
		}
	}
}
