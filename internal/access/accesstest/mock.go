// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

// Package accesstest provides test helpers for access control.
package accesstest

import (
	"context"
	"sync"

	"github.com/samber/oops"

	"github.com/tripwarden/tripwarden/internal/access"
	"github.com/tripwarden/tripwarden/internal/audit"
)

// MemoryStore is an in-memory access.ResourceStore.
type MemoryStore struct {
	mu        sync.RWMutex
	resources map[string]access.Resource
	grants    map[string][]access.CollaboratorGrant

	// Err, when set, is returned by every method.
	Err error
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		resources: make(map[string]access.Resource),
		grants:    make(map[string][]access.CollaboratorGrant),
	}
}

// AddResource stores a trip.
func (m *MemoryStore) AddResource(id, ownerID string, vis access.Visibility) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resources[id] = access.Resource{ID: id, OwnerID: ownerID, Visibility: vis}
}

// AddGrant stores an accepted collaborator grant with a raw permission string.
func (m *MemoryStore) AddGrant(resourceID, subjectID, permission string) {
	m.AddGrantWithStatus(resourceID, subjectID, permission, access.GrantAccepted)
}

// AddGrantWithStatus stores a collaborator grant with an explicit status.
func (m *MemoryStore) AddGrantWithStatus(resourceID, subjectID, permission, status string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.grants[resourceID] = append(m.grants[resourceID], access.CollaboratorGrant{
		ResourceID: resourceID,
		SubjectID:  subjectID,
		Permission: permission,
		Status:     status,
	})
}

// CheckBasicAccess implements access.ResourceStore.
func (m *MemoryStore) CheckBasicAccess(_ context.Context, resourceID, subjectID string, requireOwner bool) (bool, error) {
	if m.Err != nil {
		return false, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.resources[resourceID]
	if !ok {
		return false, oops.Code("RESOURCE_NOT_FOUND").With("resource_id", resourceID).Wrap(access.ErrResourceNotFound)
	}
	if res.OwnerID == subjectID {
		return true, nil
	}
	if requireOwner {
		return false, nil
	}
	if res.Visibility == access.VisibilityPublic {
		return true, nil
	}
	for _, g := range m.grants[resourceID] {
		if g.SubjectID == subjectID && (g.Status == "" || g.Status == access.GrantAccepted) {
			return true, nil
		}
	}
	return false, nil
}

// GetResourceByID implements access.ResourceStore.
func (m *MemoryStore) GetResourceByID(_ context.Context, resourceID string) (*access.Resource, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.resources[resourceID]
	if !ok {
		return nil, nil
	}
	return &res, nil
}

// GetCollaborators implements access.ResourceStore.
func (m *MemoryStore) GetCollaborators(_ context.Context, resourceID string) ([]access.CollaboratorGrant, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]access.CollaboratorGrant(nil), m.grants[resourceID]...), nil
}

// RecordingAuditor captures audit events in memory.
type RecordingAuditor struct {
	mu     sync.Mutex
	events []audit.Event
}

// LogEvent implements access.Auditor.
func (r *RecordingAuditor) LogEvent(_ context.Context, ev *audit.Event) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, *ev)
	return true
}

// Events returns a copy of the recorded events.
func (r *RecordingAuditor) Events() []audit.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]audit.Event(nil), r.events...)
}

// Reset discards recorded events.
func (r *RecordingAuditor) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}

var (
	_ access.ResourceStore = (*MemoryStore)(nil)
	_ access.Auditor       = (*RecordingAuditor)(nil)
)
