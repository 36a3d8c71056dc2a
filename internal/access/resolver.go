// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package access

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/oops"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/tripwarden/tripwarden/internal/audit"
	"github.com/tripwarden/tripwarden/pkg/errutil"
)

// ResourceType labels the audited target of every decision.
const ResourceType = "trip"

var tracer = otel.Tracer("tripwarden/access")

// Auditor receives one event per decision. *audit.Logger satisfies it.
type Auditor interface {
	LogEvent(ctx context.Context, ev *audit.Event) bool
}

type discardAuditor struct{}

func (discardAuditor) LogEvent(context.Context, *audit.Event) bool { return false }

// ResolverOption configures a Resolver.
type ResolverOption func(*Resolver)

// WithLogger sets the structured logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) ResolverOption {
	return func(r *Resolver) { r.logger = l }
}

// Resolver decides whether a subject may act on a trip.
type Resolver struct {
	store   ResourceStore
	auditor Auditor
	logger  *slog.Logger
}

// NewResolver creates a resolver backed by store that records decisions
// with auditor.
func NewResolver(store ResourceStore, auditor Auditor, opts ...ResolverOption) *Resolver {
	r := &Resolver{store: store, auditor: auditor, logger: slog.Default()}
	if r.auditor == nil {
		r.auditor = discardAuditor{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Resolve runs the guard chain for actx. A denial is returned as a decision,
// not an error. Errors are ErrInvalidContext, ErrResourceNotFound, a
// *SecurityError, or the context's error when cancelled before a decision.
func (r *Resolver) Resolve(ctx context.Context, actx AccessContext) (AccessDecision, error) {
	start := time.Now()
	ctx, span := tracer.Start(ctx, "access.resolve",
		trace.WithAttributes(
			attribute.String("access.resource_id", actx.ResourceID()),
			attribute.String("access.subject_id", actx.SubjectID()),
			attribute.String("access.operation", actx.Operation()),
		))
	defer span.End()

	decision, outcome, err := r.resolve(ctx, actx)
	recordResolveMetrics(time.Since(start), outcome)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
		return AccessDecision{}, err
	}
	span.SetAttributes(attribute.Bool("access.authorized", decision.Authorized()))
	if valErr := decision.Validate(); valErr != nil {
		return AccessDecision{}, oops.Wrapf(valErr, "decision validation failed")
	}
	return decision, nil
}

func (r *Resolver) resolve(ctx context.Context, actx AccessContext) (AccessDecision, string, error) {
	// Step 0: a zero AccessContext never went through NewAccessContext.
	if actx.ResourceID() == "" || actx.SubjectID() == "" {
		return AccessDecision{}, outcomeInvalid, oops.Code("INVALID_ACCESS_CONTEXT").
			Wrapf(ErrInvalidContext, "access context must be built with NewAccessContext")
	}
	if err := ctx.Err(); err != nil {
		return AccessDecision{}, outcomeError, oops.Wrapf(err, "context cancelled before resolution")
	}

	// Step 1: basic access.
	ok, err := r.store.CheckBasicAccess(ctx, actx.ResourceID(), actx.SubjectID(), actx.requireOwner())
	if err != nil {
		return r.fail(ctx, actx, err)
	}
	if !ok {
		return r.deny(ctx, actx, "access denied"), outcomeDenied, nil
	}

	// Step 2: the record itself.
	res, err := r.store.GetResourceByID(ctx, actx.ResourceID())
	if err != nil {
		return r.fail(ctx, actx, err)
	}
	if res == nil {
		return AccessDecision{}, outcomeNotFound, notFound(actx)
	}
	visibility := res.Visibility
	if visibility == "" {
		visibility = VisibilityPrivate
	}

	// Step 3: ownership and grants.
	isOwner := res.OwnerID == actx.SubjectID()
	isCollaborator := false
	granted := PermissionNone
	if isOwner {
		granted = PermissionManage
	} else {
		grants, err := r.store.GetCollaborators(ctx, actx.ResourceID())
		if err != nil {
			return r.fail(ctx, actx, err)
		}
		for _, g := range grants {
			if g.SubjectID != actx.SubjectID() || !g.active() {
				continue
			}
			isCollaborator = true
			granted = ParseGrantPermission(g.Permission)
			break
		}
	}

	// Step 4: resolved level.
	var level Level
	switch {
	case isOwner:
		level = LevelOwner
	case isCollaborator:
		level = LevelCollaborator
	case visibility == VisibilityPublic:
		level = LevelRead
		granted = PermissionView
	default:
		// The store passed basic access for a stranger on a non-public trip.
		return r.deny(ctx, actx, "access denied"), outcomeDenied, nil
	}

	// Step 5: permission.
	if required := actx.effectivePermission(); required != PermissionNone && !granted.Satisfies(required) {
		reason := fmt.Sprintf("requires %s permission", required)
		return r.deny(ctx, actx, reason), outcomeDenied, nil
	}

	// Step 6: level.
	if required := actx.RequiredLevel(); required != LevelNone && level.Rank() < required.Rank() {
		reason := fmt.Sprintf("requires %s access", required)
		return r.deny(ctx, actx, reason), outcomeDenied, nil
	}

	// Step 7: grant.
	decision := grant(level, granted, isOwner, isCollaborator, visibility)
	r.record(ctx, actx, audit.AccessGranted(actx.SubjectID(), ResourceType, actx.ResourceID(), "access granted").
		WithMetadata("access.level", level.String()).
		WithMetadata("access.permission", granted.String()).
		WithMetadata("access.visibility", string(visibility)))
	return decision, outcomeGranted, nil
}

func (r *Resolver) deny(ctx context.Context, actx AccessContext, reason string) AccessDecision {
	ev := audit.AccessDenied(actx.SubjectID(), ResourceType, actx.ResourceID(), reason)
	if l := actx.RequiredLevel(); l != LevelNone {
		ev.WithMetadata("access.required_level", l.String())
	}
	if p := actx.effectivePermission(); p != PermissionNone {
		ev.WithMetadata("access.required_permission", p.String())
	}
	r.record(ctx, actx, ev)
	return deny(reason)
}

// fail classifies a store error. Not-found and cancellation are not
// decisions and are returned without an event; anything else is audited as
// suspicious and wrapped in a SecurityError.
func (r *Resolver) fail(ctx context.Context, actx AccessContext, err error) (AccessDecision, string, error) {
	if errors.Is(err, ErrResourceNotFound) {
		return AccessDecision{}, outcomeNotFound, notFound(actx)
	}
	if ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return AccessDecision{}, outcomeError, oops.Wrapf(err, "resolution cancelled")
	}

	errutil.Log(ctx, r.logger, slog.LevelError, "authorization check failed", err,
		"resource_id", actx.ResourceID(), "subject_id", actx.SubjectID())
	r.record(ctx, actx, audit.SuspiciousActivity(actx.SubjectID(), ResourceType, actx.ResourceID(), "authorization check failed").
		WithMetadata("security.error", err.Error()))
	return AccessDecision{}, outcomeError, newSecurityError(actx, err)
}

// record stamps request details and hands the event to the auditor. A
// decision already made is recorded even if the caller's context has since
// been cancelled.
func (r *Resolver) record(ctx context.Context, actx AccessContext, ev *audit.Event) {
	if op := actx.Operation(); op != "" {
		ev.WithMetadata("access.operation", op)
	}
	if src := actx.Source(); src != (Source{}) {
		ev.WithSource(src.IP, src.UserAgent)
	}
	if !r.auditor.LogEvent(context.WithoutCancel(ctx), ev) {
		r.logger.WarnContext(ctx, "audit event not accepted",
			"type", string(ev.Type), "resource_id", actx.ResourceID(), "subject_id", actx.SubjectID())
	}
}
