package clusterlock

import (
	"context"
	"time"
)

// Store defines the persistence contract for cluster lock rows. Every
// method must be atomic with respect to other replicas.
type Store interface {
	// AcquireLock writes l if no row named l.Name exists or the existing
	// row is expired at l.LockedAt; a taken over row starts with
	// CombinePending cleared. When a live row exists and both it and l are
	// combine locks, the row's CombinePending marker is set. Returns true
	// if l is now the row.
	AcquireLock(ctx context.Context, l *Lock) (bool, error)

	// ReleaseLock deletes the row if owner still holds it.
	ReleaseLock(ctx context.Context, name, owner string) (bool, error)

	// ReleaseLockUnlessPending deletes owner's row unless its
	// CombinePending marker is set, in which case it clears the marker and
	// keeps the row. Exactly one of released and pending is true while
	// owner holds the row; both are false when it does not.
	ReleaseLockUnlessPending(ctx context.Context, name, owner string) (released, pending bool, err error)

	// IsLocked reports whether a row named name exists.
	IsLocked(ctx context.Context, name string) (bool, error)

	// TakeCombinePending clears the CombinePending marker on the row held
	// by owner and reports whether it was set.
	TakeCombinePending(ctx context.Context, name, owner string) (bool, error)

	// RefreshLock moves the expiry of the row held by owner.
	RefreshLock(ctx context.Context, name, owner string, expiresAt time.Time) (bool, error)

	// ListExpiredLocks returns rows whose expiry is at or before asOf.
	ListExpiredLocks(ctx context.Context, asOf time.Time) ([]*Lock, error)

	// ReclaimExpiredLock deletes the row only if owner still holds it and
	// it is still expired at asOf.
	ReclaimExpiredLock(ctx context.Context, name, owner string, asOf time.Time) (bool, error)
}
