package sqlite

import (
	"context"
	"fmt"
	"time"

	"github.com/Juanbuhler/zmlp-sub000/clusterlock"
)

const lockColumns = `
	name, owner, host, combine, hold_till_timeout, combine_pending,
	locked_at, expires_at`

// AcquireLock inserts a lock row, or takes over one that is expired at
// l.LockedAt. When the row is live and both sides are combine locks, the
// row is marked pending instead.
func (s *Store) AcquireLock(ctx context.Context, l *clusterlock.Lock) (bool, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `
		INSERT INTO archivist_cluster_locks (`+lockColumns+`)
		VALUES (?, ?, ?, ?, ?, 0, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			owner = excluded.owner,
			host = excluded.host,
			combine = excluded.combine,
			hold_till_timeout = excluded.hold_till_timeout,
			combine_pending = 0,
			locked_at = excluded.locked_at,
			expires_at = excluded.expires_at
		WHERE archivist_cluster_locks.expires_at <= excluded.locked_at`,
		l.Name, l.Owner, l.Host, l.Combine, l.HoldTillTimeout,
		nanos(l.LockedAt), nanos(l.ExpiresAt),
	)
	if err != nil {
		return false, fmt.Errorf("archivist/sqlite: acquire lock: %w", err)
	}
	if affected(res) > 0 {
		return true, nil
	}

	if l.Combine {
		_, err = s.conn(ctx).ExecContext(ctx, `
			UPDATE archivist_cluster_locks SET combine_pending = 1
			WHERE name = ? AND combine = 1 AND expires_at > ?`,
			l.Name, nanos(l.LockedAt),
		)
		if err != nil {
			return false, fmt.Errorf("archivist/sqlite: mark combine pending: %w", err)
		}
	}
	return false, nil
}

// ReleaseLock deletes the row if owner still holds it.
func (s *Store) ReleaseLock(ctx context.Context, name, owner string) (bool, error) {
	res, err := s.conn(ctx).ExecContext(ctx,
		`DELETE FROM archivist_cluster_locks WHERE name = ? AND owner = ?`, name, owner,
	)
	if err != nil {
		return false, fmt.Errorf("archivist/sqlite: release lock: %w", err)
	}
	return affected(res) > 0, nil
}

// ReleaseLockUnlessPending deletes owner's row, or clears its combine
// marker when one is set. Only the owner clears the marker, so a delete
// that misses because the marker was set is always followed by an update
// that sees it.
func (s *Store) ReleaseLockUnlessPending(ctx context.Context, name, owner string) (bool, bool, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `
		DELETE FROM archivist_cluster_locks
		WHERE name = ? AND owner = ? AND combine_pending = 0`,
		name, owner,
	)
	if err != nil {
		return false, false, fmt.Errorf("archivist/sqlite: release lock: %w", err)
	}
	if affected(res) > 0 {
		return true, false, nil
	}
	pending, err := s.TakeCombinePending(ctx, name, owner)
	if err != nil {
		return false, false, err
	}
	return false, pending, nil
}

// IsLocked reports whether a row exists for name.
func (s *Store) IsLocked(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.conn(ctx).QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM archivist_cluster_locks WHERE name = ?)`, name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("archivist/sqlite: is locked: %w", err)
	}
	return exists, nil
}

// TakeCombinePending reads and clears the combine marker.
func (s *Store) TakeCombinePending(ctx context.Context, name, owner string) (bool, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `
		UPDATE archivist_cluster_locks SET combine_pending = 0
		WHERE name = ? AND owner = ? AND combine_pending = 1`,
		name, owner,
	)
	if err != nil {
		return false, fmt.Errorf("archivist/sqlite: take combine pending: %w", err)
	}
	return affected(res) > 0, nil
}

// RefreshLock extends the expiry of owner's row.
func (s *Store) RefreshLock(ctx context.Context, name, owner string, expiresAt time.Time) (bool, error) {
	res, err := s.conn(ctx).ExecContext(ctx,
		`UPDATE archivist_cluster_locks SET expires_at = ? WHERE name = ? AND owner = ?`,
		nanos(expiresAt), name, owner,
	)
	if err != nil {
		return false, fmt.Errorf("archivist/sqlite: refresh lock: %w", err)
	}
	return affected(res) > 0, nil
}

// ListExpiredLocks returns rows expired at asOf, oldest expiry first.
func (s *Store) ListExpiredLocks(ctx context.Context, asOf time.Time) ([]*clusterlock.Lock, error) {
	rows, err := s.conn(ctx).QueryContext(ctx,
		`SELECT `+lockColumns+` FROM archivist_cluster_locks
		WHERE expires_at <= ? ORDER BY expires_at ASC`,
		nanos(asOf),
	)
	if err != nil {
		return nil, fmt.Errorf("archivist/sqlite: list expired locks: %w", err)
	}
	defer rows.Close()

	var locks []*clusterlock.Lock
	for rows.Next() {
		var (
			l                 clusterlock.Lock
			lockedAt, expires int64
		)
		if err := rows.Scan(
			&l.Name, &l.Owner, &l.Host, &l.Combine, &l.HoldTillTimeout,
			&l.CombinePending, &lockedAt, &expires,
		); err != nil {
			return nil, fmt.Errorf("archivist/sqlite: scan lock row: %w", err)
		}
		l.LockedAt = fromNanos(lockedAt)
		l.ExpiresAt = fromNanos(expires)
		locks = append(locks, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("archivist/sqlite: iterate lock rows: %w", err)
	}
	return locks, nil
}

// ReclaimExpiredLock deletes the row only if owner still holds it and it
// is still expired at asOf.
func (s *Store) ReclaimExpiredLock(ctx context.Context, name, owner string, asOf time.Time) (bool, error) {
	res, err := s.conn(ctx).ExecContext(ctx, `
		DELETE FROM archivist_cluster_locks
		WHERE name = ? AND owner = ? AND expires_at <= ?`,
		name, owner, nanos(asOf),
	)
	if err != nil {
		return false, fmt.Errorf("archivist/sqlite: reclaim lock: %w", err)
	}
	return affected(res) > 0, nil
}
