package redis

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Juanbuhler/zmlp-sub000/clusterlock"
)

// Times are stored as unix microseconds, which Lua compares exactly as
// doubles.

// KEYS[1] lock hash, KEYS[2] expiry index.
// ARGV name, owner, host, combine, hold, locked_at, expires_at.
var acquireScript = goredis.NewScript(`
local exp = redis.call('HGET', KEYS[1], 'expires_at')
if exp and tonumber(exp) > tonumber(ARGV[6]) then
	if ARGV[4] == '1' and redis.call('HGET', KEYS[1], 'combine') == '1' then
		redis.call('HSET', KEYS[1], 'combine_pending', '1')
	end
	return 0
end
redis.call('HSET', KEYS[1],
	'name', ARGV[1], 'owner', ARGV[2], 'host', ARGV[3], 'combine', ARGV[4],
	'hold_till_timeout', ARGV[5], 'combine_pending', '0',
	'locked_at', ARGV[6], 'expires_at', ARGV[7])
redis.call('ZADD', KEYS[2], ARGV[7], ARGV[1])
return 1
`)

// KEYS[1] lock hash, KEYS[2] expiry index. ARGV name, owner.
var releaseScript = goredis.NewScript(`
if redis.call('HGET', KEYS[1], 'owner') ~= ARGV[2] then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)

// KEYS[1] lock hash, KEYS[2] expiry index. ARGV name, owner.
// Returns 1 released, 2 pending, 0 not held.
var releaseUnlessPendingScript = goredis.NewScript(`
if redis.call('HGET', KEYS[1], 'owner') ~= ARGV[2] then
	return 0
end
if redis.call('HGET', KEYS[1], 'combine_pending') == '1' then
	redis.call('HSET', KEYS[1], 'combine_pending', '0')
	return 2
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)

// KEYS[1] lock hash. ARGV owner.
var takePendingScript = goredis.NewScript(`
if redis.call('HGET', KEYS[1], 'owner') ~= ARGV[1] then
	return 0
end
if redis.call('HGET', KEYS[1], 'combine_pending') ~= '1' then
	return 0
end
redis.call('HSET', KEYS[1], 'combine_pending', '0')
return 1
`)

// KEYS[1] lock hash, KEYS[2] expiry index. ARGV name, owner, expires_at.
var refreshScript = goredis.NewScript(`
if redis.call('HGET', KEYS[1], 'owner') ~= ARGV[2] then
	return 0
end
redis.call('HSET', KEYS[1], 'expires_at', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[1])
return 1
`)

// KEYS[1] lock hash, KEYS[2] expiry index. ARGV name, owner, as_of.
var reclaimScript = goredis.NewScript(`
if redis.call('HGET', KEYS[1], 'owner') ~= ARGV[2] then
	return 0
end
local exp = redis.call('HGET', KEYS[1], 'expires_at')
if not exp or tonumber(exp) > tonumber(ARGV[3]) then
	return 0
end
redis.call('DEL', KEYS[1])
redis.call('ZREM', KEYS[2], ARGV[1])
return 1
`)

// AcquireLock writes l unless a live row exists. A live combine row is
// marked pending when l is also a combine lock.
func (s *Store) AcquireLock(ctx context.Context, l *clusterlock.Lock) (bool, error) {
	n, err := acquireScript.Run(ctx, s.client,
		[]string{lockKey(l.Name), lockExpiryKey},
		l.Name, l.Owner, l.Host, flag(l.Combine), flag(l.HoldTillTimeout),
		micros(l.LockedAt), micros(l.ExpiresAt),
	).Int()
	if err != nil {
		return false, fmt.Errorf("archivist/redis: acquire lock: %w", err)
	}
	return n == 1, nil
}

// ReleaseLock deletes the row if owner still holds it.
func (s *Store) ReleaseLock(ctx context.Context, name, owner string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.client,
		[]string{lockKey(name), lockExpiryKey}, name, owner,
	).Int()
	if err != nil {
		return false, fmt.Errorf("archivist/redis: release lock: %w", err)
	}
	return n == 1, nil
}

// ReleaseLockUnlessPending deletes owner's row, or clears its combine
// marker when one is set.
func (s *Store) ReleaseLockUnlessPending(ctx context.Context, name, owner string) (bool, bool, error) {
	n, err := releaseUnlessPendingScript.Run(ctx, s.client,
		[]string{lockKey(name), lockExpiryKey}, name, owner,
	).Int()
	if err != nil {
		return false, false, fmt.Errorf("archivist/redis: release lock: %w", err)
	}
	return n == 1, n == 2, nil
}

// IsLocked reports whether a row exists for name.
func (s *Store) IsLocked(ctx context.Context, name string) (bool, error) {
	n, err := s.client.Exists(ctx, lockKey(name)).Result()
	if err != nil {
		return false, fmt.Errorf("archivist/redis: is locked: %w", err)
	}
	return n > 0, nil
}

// TakeCombinePending reads and clears the combine marker.
func (s *Store) TakeCombinePending(ctx context.Context, name, owner string) (bool, error) {
	n, err := takePendingScript.Run(ctx, s.client, []string{lockKey(name)}, owner).Int()
	if err != nil {
		return false, fmt.Errorf("archivist/redis: take combine pending: %w", err)
	}
	return n == 1, nil
}

// RefreshLock extends the expiry of owner's row.
func (s *Store) RefreshLock(ctx context.Context, name, owner string, expiresAt time.Time) (bool, error) {
	n, err := refreshScript.Run(ctx, s.client,
		[]string{lockKey(name), lockExpiryKey}, name, owner, micros(expiresAt),
	).Int()
	if err != nil {
		return false, fmt.Errorf("archivist/redis: refresh lock: %w", err)
	}
	return n == 1, nil
}

// ListExpiredLocks returns rows expired at asOf, oldest expiry first.
func (s *Store) ListExpiredLocks(ctx context.Context, asOf time.Time) ([]*clusterlock.Lock, error) {
	names, err := s.client.ZRangeByScore(ctx, lockExpiryKey, &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(micros(asOf), 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("archivist/redis: list expired locks: %w", err)
	}

	locks := make([]*clusterlock.Lock, 0, len(names))
	for _, name := range names {
		vals, getErr := s.client.HGetAll(ctx, lockKey(name)).Result()
		if getErr != nil {
			return nil, fmt.Errorf("archivist/redis: read lock %s: %w", name, getErr)
		}
		if len(vals) == 0 {
			// Released between the index read and the hash read.
			continue
		}
		l, convErr := mapToLock(vals)
		if convErr != nil {
			s.logger.Warn("skipping malformed lock row",
				slog.String("name", name),
				slog.String("error", convErr.Error()),
			)
			continue
		}
		if l.Expired(asOf) {
			locks = append(locks, l)
		}
	}
	return locks, nil
}

// ReclaimExpiredLock deletes the row only if owner still holds it and it
// is still expired at asOf.
func (s *Store) ReclaimExpiredLock(ctx context.Context, name, owner string, asOf time.Time) (bool, error) {
	n, err := reclaimScript.Run(ctx, s.client,
		[]string{lockKey(name), lockExpiryKey}, name, owner, micros(asOf),
	).Int()
	if err != nil {
		return false, fmt.Errorf("archivist/redis: reclaim lock: %w", err)
	}
	return n == 1, nil
}

func micros(t time.Time) int64 { return t.UnixMicro() }

func flag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func mapToLock(vals map[string]string) (*clusterlock.Lock, error) {
	lockedAt, err := strconv.ParseInt(vals["locked_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse locked_at: %w", err)
	}
	expiresAt, err := strconv.ParseInt(vals["expires_at"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("parse expires_at: %w", err)
	}
	return &clusterlock.Lock{
		Name:            vals["name"],
		Owner:           vals["owner"],
		Host:            vals["host"],
		Combine:         vals["combine"] == "1",
		HoldTillTimeout: vals["hold_till_timeout"] == "1",
		CombinePending:  vals["combine_pending"] == "1",
		LockedAt:        time.UnixMicro(lockedAt).UTC(),
		ExpiresAt:       time.UnixMicro(expiresAt).UTC(),
	}, nil
}
