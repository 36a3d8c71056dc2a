// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package access

import (
	"strings"

	"github.com/samber/oops"
)

// Permission is a collaborator capability. The zero value means "none
// required" when used in an AccessContext.
type Permission int

// Permissions, totally ordered by rank.
const (
	PermissionNone Permission = iota
	PermissionView
	PermissionEdit
	PermissionManage
)

var permissionNames = map[Permission]string{
	PermissionNone:   "none",
	PermissionView:   "view",
	PermissionEdit:   "edit",
	PermissionManage: "manage",
}

func (p Permission) String() string {
	if name, ok := permissionNames[p]; ok {
		return name
	}
	return "invalid"
}

// Rank returns the permission's position in the hierarchy.
func (p Permission) Rank() int { return int(p) }

// Satisfies reports whether p grants at least required.
func (p Permission) Satisfies(required Permission) bool {
	return p.Rank() >= required.Rank()
}

func (p Permission) valid() bool {
	return p >= PermissionNone && p <= PermissionManage
}

// ParseGrantPermission maps a stored collaborator permission to the closed
// enum. Anything unrecognized falls back to View so a malformed row can
// never widen access.
func ParseGrantPermission(s string) Permission {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "edit":
		return PermissionEdit
	case "manage":
		return PermissionManage
	default:
		return PermissionView
	}
}

// ParsePermission parses a required permission strictly.
func ParsePermission(s string) (Permission, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return PermissionNone, nil
	case "view":
		return PermissionView, nil
	case "edit":
		return PermissionEdit, nil
	case "manage":
		return PermissionManage, nil
	}
	return PermissionNone, oops.Code("INVALID_ACCESS_CONTEXT").With("permission", s).Wrap(ErrInvalidContext)
}

// Level is the coarse access tier a caller needs. LevelNone means no level
// requirement.
type Level int

// Levels.
const (
	LevelNone Level = iota
	LevelRead
	LevelWrite
	LevelCollaborator
	LevelOwner
)

var levelNames = map[Level]string{
	LevelNone:         "none",
	LevelRead:         "read",
	LevelWrite:        "write",
	LevelCollaborator: "collaborator",
	LevelOwner:        "owner",
}

func (l Level) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "invalid"
}

// Rank orders levels Read < Collaborator < Owner. Write ranks with
// Collaborator: only collaborators and owners can write.
func (l Level) Rank() int {
	switch l {
	case LevelRead:
		return 1
	case LevelWrite, LevelCollaborator:
		return 2
	case LevelOwner:
		return 3
	}
	return 0
}

func (l Level) valid() bool {
	return l >= LevelNone && l <= LevelOwner
}

// ParseLevel parses a required level strictly.
func ParseLevel(s string) (Level, error) {
	for l, name := range levelNames {
		if strings.EqualFold(strings.TrimSpace(s), name) {
			return l, nil
		}
	}
	if strings.TrimSpace(s) == "" {
		return LevelNone, nil
	}
	return LevelNone, oops.Code("INVALID_ACCESS_CONTEXT").With("level", s).Wrap(ErrInvalidContext)
}

// Visibility is a resource's disclosure setting.
type Visibility string

// Visibilities.
const (
	VisibilityPrivate Visibility = "private"
	VisibilityShared  Visibility = "shared"
	VisibilityPublic  Visibility = "public"
)

// ParseVisibility maps a stored visibility. Unknown values are treated as
// private.
func ParseVisibility(s string) Visibility {
	switch Visibility(strings.ToLower(strings.TrimSpace(s))) {
	case VisibilityPublic:
		return VisibilityPublic
	case VisibilityShared:
		return VisibilityShared
	default:
		return VisibilityPrivate
	}
}
