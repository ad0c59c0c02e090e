package memory

import (
	"context"
	"sort"
	"time"

	"github.com/Juanbuhler/zmlp-sub000/clusterlock"
)

// AcquireLock inserts a lock row, or takes over an expired one. A live
// row is left alone, except that a combine request marks it pending.
func (m *Store) AcquireLock(_ context.Context, l *clusterlock.Lock) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	existing, ok := m.locks[l.Name]
	if ok && !existing.Expired(l.LockedAt) {
		if existing.Combine && l.Combine {
			existing.CombinePending = true
		}
		return false, nil
	}
	cp := *l
	cp.CombinePending = false
	m.locks[l.Name] = &cp
	return true, nil
}

// ReleaseLock deletes the row if owner still holds it.
func (m *Store) ReleaseLock(_ context.Context, name, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[name]
	if !ok || l.Owner != owner {
		return false, nil
	}
	delete(m.locks, name)
	return true, nil
}

// ReleaseLockUnlessPending deletes owner's row, or clears its combine
// marker when one is set.
func (m *Store) ReleaseLockUnlessPending(_ context.Context, name, owner string) (bool, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[name]
	if !ok || l.Owner != owner {
		return false, false, nil
	}
	if l.CombinePending {
		l.CombinePending = false
		return false, true, nil
	}
	delete(m.locks, name)
	return true, false, nil
}

// IsLocked reports whether a row exists for name.
func (m *Store) IsLocked(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	_, ok := m.locks[name]
	return ok, nil
}

// TakeCombinePending reads and clears the combine marker.
func (m *Store) TakeCombinePending(_ context.Context, name, owner string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[name]
	if !ok || l.Owner != owner || !l.CombinePending {
		return false, nil
	}
	l.CombinePending = false
	return true, nil
}

// RefreshLock extends the expiry of owner's row.
func (m *Store) RefreshLock(_ context.Context, name, owner string, expiresAt time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[name]
	if !ok || l.Owner != owner {
		return false, nil
	}
	l.ExpiresAt = expiresAt
	return true, nil
}

// ListExpiredLocks returns rows expired at asOf, oldest expiry first.
func (m *Store) ListExpiredLocks(_ context.Context, asOf time.Time) ([]*clusterlock.Lock, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*clusterlock.Lock
	for _, l := range m.locks {
		if l.Expired(asOf) {
			cp := *l
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, k int) bool {
		return result[i].ExpiresAt.Before(result[k].ExpiresAt)
	})
	return result, nil
}

// ReclaimExpiredLock deletes the row only if owner still holds it and it
// is still expired at asOf.
func (m *Store) ReclaimExpiredLock(_ context.Context, name, owner string, asOf time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l, ok := m.locks[name]
	if !ok || l.Owner != owner || !l.Expired(asOf) {
		return false, nil
	}
	delete(m.locks, name)
	return true, nil
}
