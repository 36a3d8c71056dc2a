// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package audit

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"maps"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/samber/oops"
	"golang.org/x/crypto/hkdf"
)

// IntegrityHashKey is the metadata key that holds an event's HMAC.
const IntegrityHashKey = "integrity.hash"

const integrityInfo = "tripwarden/audit-integrity/v1"

// canonicalEvent fixes field order for hashing. The hash key itself is
// excluded from Metadata before marshaling; map keys are sorted by
// encoding/json.
type canonicalEvent struct {
	ID            string         `json:"id"`
	Timestamp     string         `json:"timestamp"`
	Type          EventType      `json:"type"`
	Severity      string         `json:"severity"`
	Outcome       Outcome        `json:"outcome"`
	Actor         Actor          `json:"actor"`
	Target        Target         `json:"target"`
	Source        Source         `json:"source"`
	Message       string         `json:"message"`
	RiskScore     int            `json:"risk_score"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	SchemaVersion string         `json:"schema_version"`
}

// CanonicalJSON returns the deterministic serialization used for hashing.
// Events holding invalid UTF-8 are rejected: encoding/json would fold every
// invalid byte into U+FFFD, so distinct values would hash alike.
func CanonicalJSON(e *Event) ([]byte, error) {
	if field, ok := invalidUTF8Field(e); ok {
		return nil, oops.Code("AUDIT_CANONICALIZE_FAILED").
			With("event_id", e.ID).
			With("field", field).
			Errorf("audit event field %s is not valid UTF-8", field)
	}
	md := maps.Clone(e.Metadata)
	delete(md, IntegrityHashKey)
	if len(md) == 0 {
		md = nil
	}
	data, err := json.Marshal(canonicalEvent{
		ID:            e.ID,
		Timestamp:     e.Timestamp.UTC().Format(time.RFC3339Nano),
		Type:          e.Type,
		Severity:      e.Severity.String(),
		Outcome:       e.Outcome,
		Actor:         e.Actor,
		Target:        e.Target,
		Source:        e.Source,
		Message:       e.Message,
		RiskScore:     e.RiskScore,
		Metadata:      md,
		SchemaVersion: e.SchemaVersion,
	})
	if err != nil {
		return nil, oops.Code("AUDIT_CANONICALIZE_FAILED").With("event_id", e.ID).Wrap(err)
	}
	return data, nil
}

// Signer computes and verifies event integrity hashes. The HMAC key is
// derived from the configured secret with HKDF-SHA256.
type Signer struct {
	key []byte
}

// NewSigner derives a signing key from secret.
func NewSigner(secret []byte) (*Signer, error) {
	if len(secret) == 0 {
		return nil, oops.Code("CONFIG_INVALID").Errorf("audit integrity secret is empty")
	}
	key := make([]byte, sha256.Size)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(integrityInfo)), key); err != nil {
		return nil, oops.Code("CONFIG_INVALID").Wrap(err)
	}
	return &Signer{key: key}, nil
}

// Hash returns the hex HMAC-SHA256 of the event's canonical form.
func (s *Signer) Hash(e *Event) (string, error) {
	data, err := CanonicalJSON(e)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Sign stores the integrity hash in the event metadata.
func (s *Signer) Sign(e *Event) error {
	h, err := s.Hash(e)
	if err != nil {
		return err
	}
	if e.Metadata == nil {
		e.Metadata = make(map[string]any, 1)
	}
	e.Metadata[IntegrityHashKey] = h
	return nil
}

// Verify recomputes the hash and compares it to the stored one in
// constant time. Events without a stored hash do not verify.
func (s *Signer) Verify(e *Event) bool {
	stored := e.IntegrityHash()
	if stored == "" {
		return false
	}
	want, err := s.Hash(e)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(stored), []byte(want))
}

// ComputeIntegrityHash is a one-shot Hash for callers without a Signer.
func ComputeIntegrityHash(e *Event, secret []byte) (string, error) {
	s, err := NewSigner(secret)
	if err != nil {
		return "", err
	}
	return s.Hash(e)
}

// VerifyIntegrity is a one-shot Verify for callers without a Signer.
func VerifyIntegrity(e *Event, secret []byte) bool {
	s, err := NewSigner(secret)
	if err != nil {
		return false
	}
	return s.Verify(e)
}

// NormalizeStrings replaces invalid UTF-8 in every string of e with U+FFFD,
// which is what a reader decodes from the stored record. Metadata values of
// other types are normalized to their JSON-decoded form for the same reason.
func NormalizeStrings(e *Event) {
	e.ID = validUTF8(e.ID)
	e.Type = EventType(validUTF8(string(e.Type)))
	e.Outcome = Outcome(validUTF8(string(e.Outcome)))
	e.Actor.Type = validUTF8(e.Actor.Type)
	e.Actor.ID = validUTF8(e.Actor.ID)
	for i, r := range e.Actor.Roles {
		e.Actor.Roles[i] = validUTF8(r)
	}
	e.Target.Type = validUTF8(e.Target.Type)
	e.Target.ID = validUTF8(e.Target.ID)
	e.Source.IP = validUTF8(e.Source.IP)
	e.Source.UserAgent = validUTF8(e.Source.UserAgent)
	e.Message = validUTF8(e.Message)
	e.SchemaVersion = validUTF8(e.SchemaVersion)
	if e.Metadata == nil {
		return
	}
	md := make(map[string]any, len(e.Metadata))
	for k, v := range e.Metadata {
		md[validUTF8(k)] = normalizeValue(v)
	}
	e.Metadata = md
}

func validUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	return strings.ToValidUTF8(s, "\uFFFD")
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil, bool, float64, int, int64:
		return v
	case string:
		return validUTF8(t)
	case []string:
		out := make([]string, len(t))
		for i, s := range t {
			out[i] = validUTF8(s)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, x := range t {
			out[i] = normalizeValue(x)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, x := range t {
			out[validUTF8(k)] = normalizeValue(x)
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(t))
		for k, x := range t {
			out[validUTF8(k)] = validUTF8(x)
		}
		return out
	}
	data, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var decoded any
	if err := json.Unmarshal(data, &decoded); err != nil {
		return v
	}
	return decoded
}

// invalidUTF8Field names the first field of e that is not valid UTF-8.
func invalidUTF8Field(e *Event) (string, bool) {
	fields := []struct {
		name, value string
	}{
		{"id", e.ID},
		{"type", string(e.Type)},
		{"outcome", string(e.Outcome)},
		{"actor.type", e.Actor.Type},
		{"actor.id", e.Actor.ID},
		{"target.type", e.Target.Type},
		{"target.id", e.Target.ID},
		{"source.ip", e.Source.IP},
		{"source.user_agent", e.Source.UserAgent},
		{"message", e.Message},
		{"schema_version", e.SchemaVersion},
	}
	for _, f := range fields {
		if !utf8.ValidString(f.value) {
			return f.name, true
		}
	}
	for _, r := range e.Actor.Roles {
		if !utf8.ValidString(r) {
			return "actor.roles", true
		}
	}
	for k, v := range e.Metadata {
		if !utf8.ValidString(k) || !validValue(v) {
			return "metadata", true
		}
	}
	return "", false
}

func validValue(v any) bool {
	switch t := v.(type) {
	case string:
		return utf8.ValidString(t)
	case []string:
		for _, s := range t {
			if !utf8.ValidString(s) {
				return false
			}
		}
	case []any:
		for _, x := range t {
			if !validValue(x) {
				return false
			}
		}
	case map[string]any:
		for k, x := range t {
			if !utf8.ValidString(k) || !validValue(x) {
				return false
			}
		}
	case map[string]string:
		for k, x := range t {
			if !utf8.ValidString(k) || !utf8.ValidString(x) {
				return false
			}
		}
	}
	return true
}
