// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package access

import "fmt"

// AccessDecision is the outcome of one Resolve call. The authorized flag is
// unexported so a decision can only be produced by grant or deny.
type AccessDecision struct {
	authorized        bool
	Level             Level
	PermissionGranted Permission
	IsOwner           bool
	IsCollaborator    bool
	Visibility        Visibility
	DenialReason      string
}

func grant(level Level, perm Permission, owner, collaborator bool, vis Visibility) AccessDecision {
	return AccessDecision{
		authorized:        true,
		Level:             level,
		PermissionGranted: perm,
		IsOwner:           owner,
		IsCollaborator:    collaborator,
		Visibility:        vis,
	}
}

func deny(reason string) AccessDecision {
	return AccessDecision{DenialReason: reason}
}

// Authorized reports whether access was granted.
func (d AccessDecision) Authorized() bool { return d.authorized }

// Validate checks that a denial reason is present exactly when access is
// refused.
func (d AccessDecision) Validate() error {
	if d.authorized && d.DenialReason != "" {
		return fmt.Errorf("decision invariant violated: authorized with denial reason %q", d.DenialReason)
	}
	if !d.authorized && d.DenialReason == "" {
		return fmt.Errorf("decision invariant violated: denied without a reason")
	}
	return nil
}
