// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package access

import (
	"context"

	"github.com/samber/oops"
)

// GuardFunc authorizes a request before the protected operation runs.
type GuardFunc func(ctx context.Context, actx AccessContext) (AccessDecision, error)

// Guard returns the resolver as a GuardFunc for boundary code.
func Guard(r *Resolver) GuardFunc {
	return r.Resolve
}

// Require runs guard and turns a denial into an error wrapping
// ErrAccessDenied, so callers can use a single error path.
func Require(ctx context.Context, guard GuardFunc, actx AccessContext) (AccessDecision, error) {
	decision, err := guard(ctx, actx)
	if err != nil {
		return decision, err
	}
	if !decision.Authorized() {
		return decision, oops.Code("ACCESS_DENIED").
			With("resource_id", actx.ResourceID()).
			With("subject_id", actx.SubjectID()).
			With("reason", decision.DenialReason).
			Wrap(ErrAccessDenied)
	}
	return decision, nil
}
