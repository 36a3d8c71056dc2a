// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"slices"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/samber/oops"
)

// maxLineBytes bounds a single JSONL record when scanning files.
const maxLineBytes = 1 << 20

// DefaultQueryLimit applies when a caller passes a non-positive limit.
const DefaultQueryLimit = 100

// readableSchemas lists the record schema versions this build can decode.
var readableSchemas = mustConstraint("^1")

func mustConstraint(c string) *semver.Constraints {
	constraint, err := semver.NewConstraint(c)
	if err != nil {
		panic(err)
	}
	return constraint
}

// Filter selects events from durable storage. Zero-valued fields do not
// constrain the result.
type Filter struct {
	Start       time.Time
	End         time.Time
	Types       []EventType
	MinSeverity Severity
	ActorID     string
	Where       Predicate
}

func (f Filter) matches(e *Event) bool {
	if !f.Start.IsZero() && e.Timestamp.Before(f.Start) {
		return false
	}
	if !f.End.IsZero() && e.Timestamp.After(f.End) {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, e.Type) {
		return false
	}
	if e.Severity < f.MinSeverity {
		return false
	}
	if f.ActorID != "" && e.Actor.ID != f.ActorID {
		return false
	}
	if f.Where != nil && !f.Where(e) {
		return false
	}
	return true
}

// decodeEvent parses one JSONL line. Numbers in metadata keep their literal
// form so integrity hashes recompute exactly.
func decodeEvent(line []byte) (*Event, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var ev Event
	if err := dec.Decode(&ev); err != nil {
		return nil, oops.Code("AUDIT_DECODE_FAILED").Wrap(err)
	}
	return &ev, nil
}

// schemaReadable reports whether a record's schema version is understood.
func schemaReadable(version string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return readableSchemas.Check(v)
}

// QueryDir runs a query against the audit files in dir without a running
// Logger. The CLI uses it to inspect logs offline.
func QueryDir(ctx context.Context, dir string, filter Filter, limit int, logger *slog.Logger) ([]Event, error) {
	if logger == nil {
		logger = slog.Default()
	}
	return queryDir(ctx, dir, filter, limit, logger)
}

// queryDir scans the audit files in dir and returns up to limit matching
// events, newest first.
func queryDir(ctx context.Context, dir string, filter Filter, limit int, logger *slog.Logger) ([]Event, error) {
	if limit <= 0 {
		limit = DefaultQueryLimit
	}
	files, err := listFiles(dir)
	if err != nil {
		return nil, err
	}

	var out []Event
	for i := len(files) - 1; i >= 0; i-- {
		if err := ctx.Err(); err != nil {
			return nil, oops.Code("AUDIT_QUERY_FAILED").Wrap(err)
		}
		f := files[i]
		// A file is written no earlier than the events it holds, so
		// nothing in it can be newer than the end of its day.
		if !filter.Start.IsZero() && f.Date.AddDate(0, 0, 1).Before(filter.Start) {
			continue
		}
		matched, err := scanFile(f.Path, filter, logger)
		if err != nil {
			return nil, err
		}
		out = append(out, matched...)
	}

	slices.SortStableFunc(out, func(a, b Event) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ReadFile decodes every readable event in a single audit file, in file
// order. Corrupt lines are skipped.
func ReadFile(path string) ([]Event, error) {
	return scanFile(path, Filter{}, slog.Default())
}

func scanFile(path string, filter Filter, logger *slog.Logger) ([]Event, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the audit directory listing
	if err != nil {
		if os.IsNotExist(err) {
			// pruned or swept between listing and opening
			return nil, nil
		}
		return nil, oops.Code("AUDIT_QUERY_FAILED").With("path", path).Wrap(err)
	}
	defer f.Close()

	var out []Event
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		ev, err := decodeEvent(raw)
		if err != nil {
			logger.Warn("skipping unreadable audit record", "path", path, "line", line, "error", err)
			continue
		}
		if !schemaReadable(ev.SchemaVersion) {
			logger.Warn("skipping audit record with unsupported schema", "path", path, "line", line, "schema_version", ev.SchemaVersion)
			continue
		}
		if filter.matches(ev) {
			out = append(out, *ev)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, oops.Code("AUDIT_QUERY_FAILED").With("path", path).Wrap(err)
	}
	return out, nil
}

// VerifyResult summarizes an integrity check over stored events.
type VerifyResult struct {
	Checked  int
	Valid    int
	Invalid  []string
	Unsigned []string
}

// VerifyDir recomputes the integrity hash of every stored event.
func VerifyDir(ctx context.Context, dir string, signer *Signer) (VerifyResult, error) {
	var res VerifyResult
	files, err := listFiles(dir)
	if err != nil {
		return res, err
	}
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return res, oops.Code("AUDIT_QUERY_FAILED").Wrap(err)
		}
		events, err := ReadFile(f.Path)
		if err != nil {
			return res, err
		}
		for i := range events {
			ev := &events[i]
			res.Checked++
			switch {
			case ev.IntegrityHash() == "":
				res.Unsigned = append(res.Unsigned, ev.ID)
			case signer.Verify(ev):
				res.Valid++
			default:
				res.Invalid = append(res.Invalid, ev.ID)
			}
		}
	}
	return res, nil
}
