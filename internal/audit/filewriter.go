// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package audit

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/samber/oops"
)

// Writer persists batches of signed events.
type Writer interface {
	Append(batch []Event) error
	Close() error
}

const dateLayout = "2006-01-02"

var fileNamePattern = regexp.MustCompile(`^audit-(\d{4}-\d{2}-\d{2})(?:\.(\d+))?\.jsonl$`)

// auditFile is one JSONL file in the audit directory.
type auditFile struct {
	Path  string
	Date  time.Time
	Index int
}

// fileName returns the on-disk name for the given day and part index.
func fileName(date string, index int) string {
	if index == 0 {
		return "audit-" + date + ".jsonl"
	}
	return "audit-" + date + "." + strconv.Itoa(index) + ".jsonl"
}

// listFiles returns the audit files in dir, oldest first.
func listFiles(dir string) ([]auditFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, oops.Code("AUDIT_DIR_UNREADABLE").With("dir", dir).Wrap(err)
	}
	var files []auditFile
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		m := fileNamePattern.FindStringSubmatch(entry.Name())
		if m == nil {
			continue
		}
		date, err := time.Parse(dateLayout, m[1])
		if err != nil {
			continue
		}
		idx := 0
		if m[2] != "" {
			idx, _ = strconv.Atoi(m[2])
		}
		files = append(files, auditFile{Path: filepath.Join(dir, entry.Name()), Date: date, Index: idx})
	}
	slices.SortFunc(files, func(a, b auditFile) int {
		if c := a.Date.Compare(b.Date); c != 0 {
			return c
		}
		return a.Index - b.Index
	})
	return files, nil
}

// FileWriter appends events to daily JSONL files under a directory. A day
// rolls over to a new part when the current part would exceed MaxBytes, and
// the oldest files are pruned once more than MaxFiles exist.
type FileWriter struct {
	dir      string
	maxBytes int64
	maxFiles int
	clock    func() time.Time
	logger   *slog.Logger
	write    func(f *os.File, b []byte) (int, error)

	mu    sync.Mutex
	file  *os.File
	date  string
	index int
	size  int64
}

// NewFileWriter creates the directory if needed and returns a writer.
func NewFileWriter(dir string, maxBytes int64, maxFiles int, clock func() time.Time, logger *slog.Logger) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, oops.Code("AUDIT_DIR_UNWRITABLE").With("dir", dir).Wrap(err)
	}
	if clock == nil {
		clock = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &FileWriter{
		dir:      dir,
		maxBytes: maxBytes,
		maxFiles: maxFiles,
		clock:    clock,
		logger:   logger,
		write:    (*os.File).Write,
	}, nil
}

// Append writes the batch as consecutive lines and syncs the file. A failed
// write leaves the file as it was, so the batch can be spilled and replayed
// without duplicating lines.
func (w *FileWriter) Append(batch []Event) error {
	if len(batch) == 0 {
		return nil
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range batch {
		if err := enc.Encode(&batch[i]); err != nil {
			return oops.Code("AUDIT_ENCODE_FAILED").With("event_id", batch[i].ID).Wrap(err)
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.ensureFile(int64(buf.Len())); err != nil {
		return err
	}
	prev := w.size
	n, err := w.write(w.file, buf.Bytes())
	if err != nil {
		if n > 0 {
			w.rollback(prev)
		}
		return oops.Code("AUDIT_WRITE_FAILED").With("path", w.file.Name()).Wrap(err)
	}
	w.size += int64(n)
	if err := w.file.Sync(); err != nil {
		return oops.Code("AUDIT_WRITE_FAILED").With("path", w.file.Name()).Wrap(err)
	}
	return nil
}

// rollback truncates a partially written batch. If that fails the file is
// closed so the next Append reopens it and picks up its real size.
func (w *FileWriter) rollback(size int64) {
	path := w.file.Name()
	if err := w.file.Truncate(size); err != nil {
		w.logger.Error("truncating partial audit batch failed", "path", path, "error", err)
		_ = w.file.Close()
		w.file = nil
		return
	}
	w.size = size
}

// ensureFile makes sure an open file for today can take n more bytes.
func (w *FileWriter) ensureFile(n int64) error {
	today := w.clock().UTC().Format(dateLayout)
	switch {
	case w.file == nil || w.date != today:
		return w.openLatest(today, n)
	case w.maxBytes > 0 && w.size > 0 && w.size+n > w.maxBytes:
		return w.open(today, w.index+1)
	}
	return nil
}

// openLatest resumes the newest existing part for date, or starts a new one
// when that part is full.
func (w *FileWriter) openLatest(date string, n int64) error {
	index := 0
	files, err := listFiles(w.dir)
	if err != nil {
		return err
	}
	for _, f := range files {
		if f.Date.Format(dateLayout) == date && f.Index >= index {
			index = f.Index
		}
	}
	if info, err := os.Stat(filepath.Join(w.dir, fileName(date, index))); err == nil {
		if w.maxBytes > 0 && info.Size() > 0 && info.Size()+n > w.maxBytes {
			index++
		}
	}
	return w.open(date, index)
}

func (w *FileWriter) open(date string, index int) error {
	if w.file != nil {
		if err := w.file.Close(); err != nil {
			w.logger.Warn("closing audit file failed", "path", w.file.Name(), "error", err)
		}
		w.file = nil
	}
	path := filepath.Join(w.dir, fileName(date, index))
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600) //nolint:gosec // path built from fixed pattern
	if err != nil {
		return oops.Code("AUDIT_WRITE_FAILED").With("path", path).Wrap(err)
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return oops.Code("AUDIT_WRITE_FAILED").With("path", path).Wrap(err)
	}
	w.file, w.date, w.index, w.size = f, date, index, info.Size()
	w.prune()
	return nil
}

// prune deletes the oldest files beyond maxFiles. The active file is never
// removed.
func (w *FileWriter) prune() {
	if w.maxFiles <= 0 {
		return
	}
	files, err := listFiles(w.dir)
	if err != nil {
		w.logger.Warn("listing audit files for pruning failed", "error", err)
		return
	}
	active := w.file.Name()
	for len(files) > w.maxFiles {
		oldest := files[0]
		files = files[1:]
		if oldest.Path == active {
			continue
		}
		if err := os.Remove(oldest.Path); err != nil {
			w.logger.Warn("pruning audit file failed", "path", oldest.Path, "error", err)
			continue
		}
		w.logger.Info("pruned audit file", "path", oldest.Path)
	}
}

// ActivePath returns the file currently being appended to, if any.
func (w *FileWriter) ActivePath() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return ""
	}
	return w.file.Name()
}

// Dir returns the directory the writer appends to.
func (w *FileWriter) Dir() string {
	return w.dir
}

// Close closes the active file.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	if err != nil {
		return oops.Code("AUDIT_WRITE_FAILED").Wrap(err)
	}
	return nil
}
