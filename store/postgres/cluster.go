package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/Juanbuhler/zmlp-sub000/clusterlock"
)

const lockColumns = `
	name, owner, host, combine, hold_till_timeout, combine_pending,
	locked_at, expires_at`

// AcquireLock inserts a lock row, or takes over one that is expired at
// l.LockedAt, in a single statement. When the row is live and both sides
// are combine locks, the row is marked pending instead.
func (s *Store) AcquireLock(ctx context.Context, l *clusterlock.Lock) (bool, error) {
	tag, err := s.db(ctx).Exec(ctx, `
		INSERT INTO archivist_cluster_locks (`+lockColumns+`)
		VALUES ($1, $2, $3, $4, $5, FALSE, $6, $7)
		ON CONFLICT (name) DO UPDATE SET
			owner = EXCLUDED.owner,
			host = EXCLUDED.host,
			combine = EXCLUDED.combine,
			hold_till_timeout = EXCLUDED.hold_till_timeout,
			combine_pending = FALSE,
			locked_at = EXCLUDED.locked_at,
			expires_at = EXCLUDED.expires_at
		WHERE archivist_cluster_locks.expires_at <= EXCLUDED.locked_at`,
		l.Name, l.Owner, l.Host, l.Combine, l.HoldTillTimeout, l.LockedAt, l.ExpiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("archivist/postgres: acquire lock: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return true, nil
	}

	if l.Combine {
		_, err = s.db(ctx).Exec(ctx, `
			UPDATE archivist_cluster_locks SET combine_pending = TRUE
			WHERE name = $1 AND combine AND expires_at > $2`,
			l.Name, l.LockedAt,
		)
		if err != nil {
			return false, fmt.Errorf("archivist/postgres: mark combine pending: %w", err)
		}
	}
	return false, nil
}

// ReleaseLock deletes the row if owner still holds it.
func (s *Store) ReleaseLock(ctx context.Context, name, owner string) (bool, error) {
	tag, err := s.db(ctx).Exec(ctx,
		`DELETE FROM archivist_cluster_locks WHERE name = $1 AND owner = $2`,
		name, owner,
	)
	if err != nil {
		return false, fmt.Errorf("archivist/postgres: release lock: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ReleaseLockUnlessPending deletes owner's row, or clears its combine
// marker when one is set. Only the owner clears the marker, so a delete
// that misses because the marker was set is always followed by an update
// that sees it.
func (s *Store) ReleaseLockUnlessPending(ctx context.Context, name, owner string) (bool, bool, error) {
	tag, err := s.db(ctx).Exec(ctx, `
		DELETE FROM archivist_cluster_locks
		WHERE name = $1 AND owner = $2 AND NOT combine_pending`,
		name, owner,
	)
	if err != nil {
		return false, false, fmt.Errorf("archivist/postgres: release lock: %w", err)
	}
	if tag.RowsAffected() > 0 {
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
	err := s.db(ctx).QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM archivist_cluster_locks WHERE name = $1)`,
		name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("archivist/postgres: is locked: %w", err)
	}
	return exists, nil
}

// TakeCombinePending reads and clears the combine marker.
func (s *Store) TakeCombinePending(ctx context.Context, name, owner string) (bool, error) {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE archivist_cluster_locks SET combine_pending = FALSE
		WHERE name = $1 AND owner = $2 AND combine_pending`,
		name, owner,
	)
	if err != nil {
		return false, fmt.Errorf("archivist/postgres: take combine pending: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RefreshLock extends the expiry of owner's row.
func (s *Store) RefreshLock(ctx context.Context, name, owner string, expiresAt time.Time) (bool, error) {
	tag, err := s.db(ctx).Exec(ctx, `
		UPDATE archivist_cluster_locks SET expires_at = $3
		WHERE name = $1 AND owner = $2`,
		name, owner, expiresAt,
	)
	if err != nil {
		return false, fmt.Errorf("archivist/postgres: refresh lock: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// ListExpiredLocks returns rows expired at asOf, oldest expiry first.
func (s *Store) ListExpiredLocks(ctx context.Context, asOf time.Time) ([]*clusterlock.Lock, error) {
	rows, err := s.db(ctx).Query(ctx, `
		SELECT `+lockColumns+` FROM archivist_cluster_locks
		WHERE expires_at <= $1
		ORDER BY expires_at ASC`,
		asOf,
	)
	if err != nil {
		return nil, fmt.Errorf("archivist/postgres: list expired locks: %w", err)
	}
	defer rows.Close()

	var locks []*clusterlock.Lock
	for rows.Next() {
		l, scanErr := scanLock(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("archivist/postgres: scan lock row: %w", scanErr)
		}
		locks = append(locks, l)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("archivist/postgres: iterate lock rows: %w", err)
	}
	return locks, nil
}

// ReclaimExpiredLock deletes the row only if owner still holds it and it
// is still expired at asOf.
func (s *Store) ReclaimExpiredLock(ctx context.Context, name, owner string, asOf time.Time) (bool, error) {
	tag, err := s.db(ctx).Exec(ctx, `
		DELETE FROM archivist_cluster_locks
		WHERE name = $1 AND owner = $2 AND expires_at <= $3`,
		name, owner, asOf,
	)
	if err != nil {
		return false, fmt.Errorf("archivist/postgres: reclaim lock: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

func scanLock(row pgx.Row) (*clusterlock.Lock, error) {
	var l clusterlock.Lock
	err := row.Scan(
		&l.Name, &l.Owner, &l.Host, &l.Combine, &l.HoldTillTimeout,
		&l.CombinePending, &l.LockedAt, &l.ExpiresAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}
