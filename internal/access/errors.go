// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

package access

import (
	"errors"
	"net/http"

	"github.com/samber/oops"
)

// Sentinel errors. Match with errors.Is; the returned errors are wrapped
// with oops codes.
var (
	ErrInvalidContext   = errors.New("invalid access context")
	ErrResourceNotFound = errors.New("resource not found")
	ErrAccessDenied     = errors.New("access denied")
)

// SecurityError is returned when resolution fails unexpectedly. Its message
// is deliberately generic; the cause is available through Unwrap for logs,
// never for the end user.
type SecurityError struct {
	ResourceID string
	SubjectID  string
	cause      error
}

func (e *SecurityError) Error() string {
	return "authorization check failed"
}

// Unwrap returns the underlying failure.
func (e *SecurityError) Unwrap() error { return e.cause }

func newSecurityError(actx AccessContext, cause error) error {
	return oops.Code("SECURITY_ERROR").
		With("resource_id", actx.ResourceID()).
		With("subject_id", actx.SubjectID()).
		Wrap(&SecurityError{ResourceID: actx.ResourceID(), SubjectID: actx.SubjectID(), cause: cause})
}

func notFound(actx AccessContext) error {
	return oops.Code("RESOURCE_NOT_FOUND").
		With("resource_id", actx.ResourceID()).
		Wrap(ErrResourceNotFound)
}

// HTTPStatus maps a resolution result to a response status for the
// boundary layer.
func HTTPStatus(err error, decision AccessDecision) int {
	if err == nil {
		if decision.Authorized() {
			return http.StatusOK
		}
		return http.StatusForbidden
	}
	var secErr *SecurityError
	switch {
	case errors.Is(err, ErrAccessDenied):
		return http.StatusForbidden
	case errors.Is(err, ErrResourceNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidContext):
		return http.StatusBadRequest
	case errors.As(err, &secErr):
		return http.StatusInternalServerError
	}
	return http.StatusInternalServerError
}
