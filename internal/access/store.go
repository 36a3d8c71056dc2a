// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package access

import "context"

// Resource is the subset of a trip record the resolver reads.
type Resource struct {
	ID         string
	OwnerID    string
	Visibility Visibility
}

// CollaboratorGrant is a stored sharing grant. Permission is kept as the raw
// stored string; ParseGrantPermission maps it onto the enum.
type CollaboratorGrant struct {
	ResourceID string
	SubjectID  string
	Permission string
	InvitedBy  string
	Status     string
}

// GrantAccepted is the only status that confers access.
const GrantAccepted = "accepted"

// active reports whether the grant confers access. An empty status is
// treated as accepted for stores that do not track invitations.
func (g CollaboratorGrant) active() bool {
	return g.Status == "" || g.Status == GrantAccepted
}

// ResourceStore is the persistence contract the resolver depends on.
type ResourceStore interface {
	// CheckBasicAccess reports whether subjectID is the owner or, unless
	// requireOwner is set, an accepted collaborator or the resource is
	// public. A missing resource yields an error wrapping
	// ErrResourceNotFound so it is never mistaken for a denial.
	CheckBasicAccess(ctx context.Context, resourceID, subjectID string, requireOwner bool) (bool, error)
	// GetResourceByID returns (nil, nil) when the resource does not exist.
	GetResourceByID(ctx context.Context, resourceID string) (*Resource, error)
	GetCollaborators(ctx context.Context, resourceID string) ([]CollaboratorGrant, error)
}
