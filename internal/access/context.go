// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

// Package access decides whether a subject may act on a trip and records
// every decision in the audit log.
package access

import (
	"strings"

	"github.com/samber/oops"
)

// Source describes where a request originated.
type Source struct {
	IP        string
	UserAgent string
}

// AccessContext describes one authorization request. Build it with
// NewAccessContext; the fields are read-only afterwards.
type AccessContext struct {
	resourceID         string
	subjectID          string
	requiredLevel      Level
	requiredPermission Permission
	operation          string
	source             Source
}

// ContextOption sets an optional AccessContext field.
type ContextOption func(*AccessContext)

// RequireLevel sets the minimum access level.
func RequireLevel(l Level) ContextOption {
	return func(c *AccessContext) { c.requiredLevel = l }
}

// RequirePermission sets the minimum collaborator permission.
func RequirePermission(p Permission) ContextOption {
	return func(c *AccessContext) { c.requiredPermission = p }
}

// WithOperation labels the request for audit and diagnostics.
func WithOperation(op string) ContextOption {
	return func(c *AccessContext) { c.operation = op }
}

// WithSource records the caller's network origin.
func WithSource(ip, userAgent string) ContextOption {
	return func(c *AccessContext) { c.source = Source{IP: ip, UserAgent: userAgent} }
}

// NewAccessContext validates and builds an AccessContext. Empty ids and
// out-of-range enums are rejected before any side effect.
func NewAccessContext(resourceID, subjectID string, opts ...ContextOption) (AccessContext, error) {
	c := AccessContext{
		resourceID: strings.TrimSpace(resourceID),
		subjectID:  strings.TrimSpace(subjectID),
	}
	for _, opt := range opts {
		opt(&c)
	}
	if c.resourceID == "" {
		return AccessContext{}, oops.Code("INVALID_ACCESS_CONTEXT").Wrapf(ErrInvalidContext, "resource id must not be empty")
	}
	if c.subjectID == "" {
		return AccessContext{}, oops.Code("INVALID_ACCESS_CONTEXT").Wrapf(ErrInvalidContext, "subject id must not be empty")
	}
	if !c.requiredLevel.valid() {
		return AccessContext{}, oops.Code("INVALID_ACCESS_CONTEXT").With("level", int(c.requiredLevel)).Wrapf(ErrInvalidContext, "invalid access level")
	}
	if !c.requiredPermission.valid() {
		return AccessContext{}, oops.Code("INVALID_ACCESS_CONTEXT").With("permission", int(c.requiredPermission)).Wrapf(ErrInvalidContext, "invalid permission")
	}
	return c, nil
}

// ResourceID returns the trip being accessed.
func (c AccessContext) ResourceID() string { return c.resourceID }

// SubjectID returns the user requesting access.
func (c AccessContext) SubjectID() string { return c.subjectID }

// RequiredLevel returns the minimum level, or LevelNone.
func (c AccessContext) RequiredLevel() Level { return c.requiredLevel }

// RequiredPermission returns the minimum permission, or PermissionNone.
func (c AccessContext) RequiredPermission() Permission { return c.requiredPermission }

// Operation returns the diagnostic label.
func (c AccessContext) Operation() string { return c.operation }

// Source returns the network origin.
func (c AccessContext) Source() Source { return c.source }

// requireOwner reports whether only the owner can pass the basic check.
func (c AccessContext) requireOwner() bool {
	return c.requiredLevel == LevelOwner
}

// effectivePermission is the permission the request needs. A Write level
// without an explicit permission needs Edit, so a view-only collaborator
// cannot write.
func (c AccessContext) effectivePermission() Permission {
	if c.requiredPermission == PermissionNone && c.requiredLevel == LevelWrite {
		return PermissionEdit
	}
	return c.requiredPermission
}
