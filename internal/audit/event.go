// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

// Package audit records security-relevant events to rotated JSONL files.
//
// Events are tamper-evident (each carries an HMAC over its canonical form),
// rate limited per second, buffered and flushed in batches, guarded by a
// circuit breaker on the write path, and optionally forwarded to remote
// collectors. A failed write never propagates to the caller.
package audit

import (
	"crypto/rand"
	"encoding/json"
	"maps"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"
)

// SchemaVersion is stamped on every record written by this package.
const SchemaVersion = "1.0.0"

// EventType categorizes an audit event.
type EventType string

// Known event types.
const (
	EventAuthSuccess          EventType = "auth.success"
	EventAuthFailure          EventType = "auth.failure"
	EventLogout               EventType = "auth.logout"
	EventAccessGranted        EventType = "access.granted"
	EventAccessDenied         EventType = "access.denied"
	EventPermissionChanged    EventType = "access.permission_changed"
	EventConfigurationChanged EventType = "config.changed"
	EventRateLimitExceeded    EventType = "security.rate_limit_exceeded"
	EventSuspiciousActivity   EventType = "security.suspicious_activity"
	EventDataExport           EventType = "data.export"
)

var knownEventTypes = map[EventType]struct{}{
	EventAuthSuccess:          {},
	EventAuthFailure:          {},
	EventLogout:               {},
	EventAccessGranted:        {},
	EventAccessDenied:         {},
	EventPermissionChanged:    {},
	EventConfigurationChanged: {},
	EventRateLimitExceeded:    {},
	EventSuspiciousActivity:   {},
	EventDataExport:           {},
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	_, ok := knownEventTypes[t]
	return ok
}

// Severity orders events by how urgently they need attention.
type Severity int

// Severity levels, lowest first. The zero value is SeverityInformational.
const (
	SeverityInformational Severity = iota
	SeverityLow
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

var severityNames = [...]string{"informational", "low", "medium", "high", "critical"}

func (s Severity) String() string {
	if s < 0 || int(s) >= len(severityNames) {
		return "unknown"
	}
	return severityNames[s]
}

// ParseSeverity parses a severity name, case-insensitively.
func ParseSeverity(name string) (Severity, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, candidate := range severityNames {
		if candidate == n {
			return Severity(i), nil
		}
	}
	return 0, oops.Code("INVALID_SEVERITY").With("severity", name).Errorf("unknown severity %q", name)
}

// MarshalJSON encodes the severity by name.
func (s Severity) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalJSON decodes a severity name.
func (s *Severity) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return oops.Code("INVALID_SEVERITY").Wrap(err)
	}
	parsed, err := ParseSeverity(name)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Outcome is the result of the audited action.
type Outcome string

// Outcomes.
const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeWarning Outcome = "warning"
	OutcomeError   Outcome = "error"
	OutcomeUnknown Outcome = "unknown"
)

// Actor identifies who performed the action.
type Actor struct {
	Type  string   `json:"type,omitempty"`
	ID    string   `json:"id,omitempty"`
	Roles []string `json:"roles,omitempty"`
}

// Target identifies what the action was performed on.
type Target struct {
	Type string `json:"type,omitempty"`
	ID   string `json:"id,omitempty"`
}

// Source describes where the request came from.
type Source struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// Event is a single audit record. Events are append-only: the Logger works
// on its own copy and never mutates the caller's value.
type Event struct {
	ID            string         `json:"id"`
	Timestamp     time.Time      `json:"timestamp"`
	Type          EventType      `json:"type"`
	Severity      Severity       `json:"severity"`
	Outcome       Outcome        `json:"outcome"`
	Actor         Actor          `json:"actor"`
	Target        Target         `json:"target"`
	Source        Source         `json:"source"`
	Message       string         `json:"message"`
	RiskScore     int            `json:"risk_score"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	SchemaVersion string         `json:"schema_version"`
}

// NewEvent builds an event with a fresh id and the current UTC timestamp.
// The risk score must be within 0..100.
func NewEvent(eventType EventType, severity Severity, outcome Outcome, message string, riskScore int) (*Event, error) {
	if !eventType.Valid() {
		return nil, oops.Code("INVALID_EVENT").With("type", eventType).Errorf("unknown event type %q", eventType)
	}
	if severity < SeverityInformational || severity > SeverityCritical {
		return nil, oops.Code("INVALID_EVENT").With("severity", int(severity)).Errorf("severity out of range")
	}
	if riskScore < 0 || riskScore > 100 {
		return nil, oops.Code("INVALID_EVENT").With("risk_score", riskScore).Errorf("risk score must be between 0 and 100")
	}
	return newEvent(eventType, severity, outcome, message, riskScore), nil
}

func newEvent(eventType EventType, severity Severity, outcome Outcome, message string, riskScore int) *Event {
	return &Event{
		ID:            NewID(),
		Timestamp:     time.Now().UTC(),
		Type:          eventType,
		Severity:      severity,
		Outcome:       outcome,
		Message:       message,
		RiskScore:     riskScore,
		SchemaVersion: SchemaVersion,
	}
}

// WithActor sets the actor and returns the event for chaining.
func (e *Event) WithActor(actorType, id string, roles ...string) *Event {
	e.Actor = Actor{Type: actorType, ID: id, Roles: roles}
	return e
}

// WithTarget sets the target and returns the event for chaining.
func (e *Event) WithTarget(targetType, id string) *Event {
	e.Target = Target{Type: targetType, ID: id}
	return e
}

// WithSource sets the request origin and returns the event for chaining.
func (e *Event) WithSource(ip, userAgent string) *Event {
	e.Source = Source{IP: ip, UserAgent: userAgent}
	return e
}

// WithMetadata sets one metadata key and returns the event for chaining.
func (e *Event) WithMetadata(key string, value any) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]any)
	}
	e.Metadata[key] = value
	return e
}

// IntegrityHash returns the stored integrity hash, if any.
func (e *Event) IntegrityHash() string {
	h, _ := e.Metadata[IntegrityHashKey].(string)
	return h
}

// clone returns a copy whose metadata and roles can be modified freely.
func (e *Event) clone() Event {
	c := *e
	c.Metadata = maps.Clone(e.Metadata)
	if e.Actor.Roles != nil {
		c.Actor.Roles = append([]string(nil), e.Actor.Roles...)
	}
	return c
}

var (
	entropy     = ulid.Monotonic(rand.Reader, 0)
	entropyLock sync.Mutex
)

// NewID returns a monotonic ULID string, so ids sort in creation order.
func NewID() string {
	entropyLock.Lock()
	defer entropyLock.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), entropy).String()
}

// Convenience constructors for the events the access layer emits.

// AccessGranted records a successful authorization decision.
func AccessGranted(subjectID, resourceType, resourceID, reason string) *Event {
	return newEvent(EventAccessGranted, SeverityLow, OutcomeSuccess, reason, 10).
		WithActor("user", subjectID).
		WithTarget(resourceType, resourceID)
}

// AccessDenied records a refused authorization decision.
func AccessDenied(subjectID, resourceType, resourceID, reason string) *Event {
	return newEvent(EventAccessDenied, SeverityMedium, OutcomeFailure, reason, 40).
		WithActor("user", subjectID).
		WithTarget(resourceType, resourceID)
}

// SuspiciousActivity records a failure during a security check.
func SuspiciousActivity(subjectID, resourceType, resourceID, message string) *Event {
	return newEvent(EventSuspiciousActivity, SeverityHigh, OutcomeFailure, message, 60).
		WithActor("user", subjectID).
		WithTarget(resourceType, resourceID)
}

// RateLimitExceeded records a caller exceeding a request budget.
func RateLimitExceeded(subjectID, scope string, limit int) *Event {
	return newEvent(EventRateLimitExceeded, SeverityMedium, OutcomeFailure, "rate limit exceeded", 50).
		WithActor("user", subjectID).
		WithMetadata("rate_limit.scope", scope).
		WithMetadata("rate_limit.limit", limit)
}

// ConfigurationChanged records an administrative configuration change.
func ConfigurationChanged(actorID, key string, oldValue, newValue any) *Event {
	return newEvent(EventConfigurationChanged, SeverityMedium, OutcomeSuccess, "configuration changed", 30).
		WithActor("user", actorID).
		WithTarget("config", key).
		WithMetadata("config.old", oldValue).
		WithMetadata("config.new", newValue)
}
