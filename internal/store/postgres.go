// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Tripwarden Contributors

// Package store provides the PostgreSQL trip store and its schema
// migrations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/samber/oops"
	"github.com/sethvargo/go-retry"

	"github.com/tripwarden/tripwarden/internal/access"
)

// poolIface is the subset of *pgxpool.Pool the store uses. pgxmock's pool
// satisfies it in unit tests.
type poolIface interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Default retry policy for transient database errors.
const (
	DefaultMaxRetries = 3
	DefaultRetryBase  = 50 * time.Millisecond
)

// Option configures a TripStore.
type Option func(*TripStore)

// WithRetry sets how many times a transient failure is retried and the
// base delay of the fibonacci backoff. maxRetries 0 disables retries.
func WithRetry(maxRetries uint64, base time.Duration) Option {
	return func(s *TripStore) {
		s.maxRetries = maxRetries
		s.retryBase = base
	}
}

// TripStore implements access.ResourceStore over the trips and
// trip_collaborators tables.
type TripStore struct {
	pool       poolIface
	maxRetries uint64
	retryBase  time.Duration
}

var _ access.ResourceStore = (*TripStore)(nil)

// NewTripStore wraps a connection pool.
func NewTripStore(pool poolIface, opts ...Option) *TripStore {
	s := &TripStore{pool: pool, maxRetries: DefaultMaxRetries, retryBase: DefaultRetryBase}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect opens and pings a pgx pool for dsn.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, oops.Code("STORE_CONNECT_FAILED").Wrap(err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, oops.Code("STORE_CONNECT_FAILED").Wrap(err)
	}
	return pool, nil
}

// transient reports whether err is worth retrying: connection loss,
// serialization conflicts, deadlocks and server overload.
func transient(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected,
			pgerrcode.TooManyConnections, pgerrcode.AdminShutdown,
			pgerrcode.CannotConnectNow:
			return true
		}
		return pgerrcode.IsConnectionException(pgErr.Code)
	}
	return pgconn.SafeToRetry(err)
}

// classify wraps a database error with a stable code.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UndefinedTable {
		return oops.Code("STORE_SCHEMA_MISSING").
			With("operation", op).
			Hint("run `tripwarden migrate up`").
			Wrap(err)
	}
	return oops.Code("STORE_QUERY_FAILED").With("operation", op).Wrap(err)
}

// do runs fn, retrying transient failures with fibonacci backoff.
func (s *TripStore) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	backoff := retry.WithMaxRetries(s.maxRetries, retry.NewFibonacci(s.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn(ctx)
		if err != nil && transient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
	if err == nil {
		return nil
	}
	if errors.Is(err, access.ErrResourceNotFound) {
		return err
	}
	if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
		return err
	}
	return classify(op, err)
}

const basicAccessSQL = `SELECT t.owner_id = $2,
       t.visibility = 'public',
       EXISTS (SELECT 1 FROM trip_collaborators c
               WHERE c.trip_id = t.id AND c.user_id = $2 AND c.status = 'accepted')
FROM trips t
WHERE t.id = $1`

// CheckBasicAccess implements access.ResourceStore.
func (s *TripStore) CheckBasicAccess(ctx context.Context, resourceID, subjectID string, requireOwner bool) (bool, error) {
	var isOwner, isPublic, isCollaborator bool
	err := s.do(ctx, "check basic access", func(ctx context.Context) error {
		err := s.pool.QueryRow(ctx, basicAccessSQL, resourceID, subjectID).Scan(&isOwner, &isPublic, &isCollaborator)
		if errors.Is(err, pgx.ErrNoRows) {
			return oops.Code("RESOURCE_NOT_FOUND").With("resource_id", resourceID).Wrap(access.ErrResourceNotFound)
		}
		return err
	})
	if err != nil {
		return false, err
	}
	if isOwner {
		return true, nil
	}
	if requireOwner {
		return false, nil
	}
	return isPublic || isCollaborator, nil
}

// GetResourceByID implements access.ResourceStore.
func (s *TripStore) GetResourceByID(ctx context.Context, resourceID string) (*access.Resource, error) {
	var res *access.Resource
	err := s.do(ctx, "get trip", func(ctx context.Context) error {
		var ownerID, visibility string
		err := s.pool.QueryRow(ctx,
			`SELECT owner_id, visibility FROM trips WHERE id = $1`, resourceID).Scan(&ownerID, &visibility)
		if errors.Is(err, pgx.ErrNoRows) {
			res = nil
			return nil
		}
		if err != nil {
			return err
		}
		res = &access.Resource{ID: resourceID, OwnerID: ownerID, Visibility: access.ParseVisibility(visibility)}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetCollaborators implements access.ResourceStore.
func (s *TripStore) GetCollaborators(ctx context.Context, resourceID string) ([]access.CollaboratorGrant, error) {
	var grants []access.CollaboratorGrant
	err := s.do(ctx, "get collaborators", func(ctx context.Context) error {
		rows, err := s.pool.Query(ctx,
			`SELECT user_id, permission, invited_by, status
			 FROM trip_collaborators WHERE trip_id = $1 ORDER BY created_at`, resourceID)
		if err != nil {
			return err
		}
		defer rows.Close()

		grants = grants[:0]
		for rows.Next() {
			g := access.CollaboratorGrant{ResourceID: resourceID}
			if err := rows.Scan(&g.SubjectID, &g.Permission, &g.InvitedBy, &g.Status); err != nil {
				return err
			}
			grants = append(grants, g)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return grants, nil
}

// CreateTrip inserts a trip.
func (s *TripStore) CreateTrip(ctx context.Context, res access.Resource, title string) error {
	vis := res.Visibility
	if vis == "" {
		vis = access.VisibilityPrivate
	}
	return s.do(ctx, "create trip", func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO trips (id, owner_id, title, visibility) VALUES ($1, $2, $3, $4)`,
			res.ID, res.OwnerID, title, string(vis))
		return err
	})
}

// UpsertCollaborator creates or replaces a grant.
func (s *TripStore) UpsertCollaborator(ctx context.Context, g access.CollaboratorGrant) error {
	return s.do(ctx, "upsert collaborator", func(ctx context.Context) error {
		_, err := s.pool.Exec(ctx,
			`INSERT INTO trip_collaborators (trip_id, user_id, permission, invited_by, status)
			 VALUES ($1, $2, $3, $4, $5)
			 ON CONFLICT (trip_id, user_id)
			 DO UPDATE SET permission = $3, invited_by = $4, status = $5`,
			g.ResourceID, g.SubjectID, g.Permission, g.InvitedBy, g.Status)
		return err
	})
}
