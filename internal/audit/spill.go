// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/samber/oops"
)

// spillFile holds events that could not be written while the primary writer
// was failing. Entries are replayed into the writer later and the file is
// truncated once they land.
type spillFile struct {
	path   string
	logger *slog.Logger

	mu      sync.Mutex
	file    *os.File
	pending int
}

// newSpillFile counts events left behind by a previous run as pending so
// they are replayed once the writer recovers, even if the replay at start
// fails.
func newSpillFile(path string, logger *slog.Logger) *spillFile {
	s := &spillFile{path: path, logger: logger}
	n, err := countLines(path)
	if err != nil {
		logger.Warn("counting spilled audit events failed", "path", path, "error", err)
	}
	s.pending = n
	return s
}

// countLines returns the number of non-blank lines in path. A missing file
// has none.
func countLines(path string) (int, error) {
	f, err := os.Open(path) //nolint:gosec // operator-configured spill path
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, oops.Code("AUDIT_SPILL_FAILED").With("path", path).Wrap(err)
	}
	defer func() { _ = f.Close() }()

	n := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		if len(bytes.TrimSpace(scanner.Bytes())) > 0 {
			n++
		}
	}
	if err := scanner.Err(); err != nil {
		// The file has content; make sure a replay is still attempted.
		return max(n, 1), oops.Code("AUDIT_SPILL_FAILED").With("path", path).Wrap(err)
	}
	return n, nil
}

// Append writes the batch synchronously.
func (s *spillFile) Append(batch []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
			return oops.Code("AUDIT_SPILL_FAILED").With("path", s.path).Wrap(err)
		}
		f, err := os.OpenFile(s.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY|os.O_SYNC, 0o600)
		if err != nil {
			return oops.Code("AUDIT_SPILL_FAILED").With("path", s.path).Wrap(err)
		}
		s.file = f
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range batch {
		if err := enc.Encode(&batch[i]); err != nil {
			return oops.Code("AUDIT_SPILL_FAILED").With("event_id", batch[i].ID).Wrap(err)
		}
	}
	if _, err := s.file.Write(buf.Bytes()); err != nil {
		return oops.Code("AUDIT_SPILL_FAILED").With("path", s.path).Wrap(err)
	}
	s.pending += len(batch)
	return nil
}

// Pending returns how many spilled events have not been replayed, including
// those found on disk at startup.
func (s *spillFile) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pending
}

// Replay feeds every spilled event to write and truncates the spill file
// once write succeeds. Undecodable lines are skipped and logged.
func (s *spillFile) Replay(write func([]Event) error) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, oops.Code("AUDIT_SPILL_FAILED").With("path", s.path).Wrap(err)
	}
	if len(data) == 0 {
		return 0, nil
	}

	var batch []Event
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		ev, err := decodeEvent(line)
		if err != nil {
			s.logger.Error("dropping undecodable spilled audit event", "error", err)
			continue
		}
		batch = append(batch, *ev)
	}
	if err := scanner.Err(); err != nil {
		return 0, oops.Code("AUDIT_SPILL_FAILED").With("path", s.path).Wrap(err)
	}

	if err := write(batch); err != nil {
		return 0, err
	}

	if s.file != nil {
		_ = s.file.Close()
		s.file = nil
	}
	if err := os.Truncate(s.path, 0); err != nil {
		return len(batch), oops.Code("AUDIT_SPILL_FAILED").With("path", s.path).Wrap(err)
	}
	s.pending = 0
	return len(batch), nil
}

// Close closes the spill file handle.
func (s *spillFile) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	if err != nil {
		return oops.Code("AUDIT_SPILL_FAILED").Wrap(err)
	}
	return nil
}
