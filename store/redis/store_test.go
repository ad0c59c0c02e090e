package redis_test

import (
	"context"
	"os"
	"testing"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/Juanbuhler/zmlp-sub000/clusterlock"
	"github.com/Juanbuhler/zmlp-sub000/store"
	"github.com/Juanbuhler/zmlp-sub000/store/memory"
	"github.com/Juanbuhler/zmlp-sub000/store/redis"
	"github.com/Juanbuhler/zmlp-sub000/store/storetest"
)

var _ clusterlock.Store = (*redis.Store)(nil)

// setupClient connects to ARCHIVIST_TEST_REDIS and flushes the selected
// database. The test is skipped when the variable is unset.
func setupClient(t *testing.T) *goredis.Client {
	t.Helper()
	addr := os.Getenv("ARCHIVIST_TEST_REDIS")
	if addr == "" {
		t.Skip("ARCHIVIST_TEST_REDIS not set")
	}
	client := goredis.NewClient(&goredis.Options{Addr: addr, DB: 15})
	t.Cleanup(func() { _ = client.Close() })
	if err := client.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unreachable at %s: %v", addr, err)
	}
	return client
}

func TestRedisLocks(t *testing.T) {
	client := setupClient(t)

	storetest.Run(t, func(t *testing.T, now func() time.Time) store.Store {
		if err := client.FlushDB(context.Background()).Err(); err != nil {
			t.Fatalf("flush: %v", err)
		}
		return store.WithLocks(memory.New(memory.WithClock(now)), redis.New(client))
	})
}

func TestListExpiredSkipsReleasedRows(t *testing.T) {
	client := setupClient(t)
	ctx := context.Background()
	if err := client.FlushDB(ctx).Err(); err != nil {
		t.Fatal(err)
	}
	s := redis.New(client)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	// An index entry without a hash behaves as a released row.
	if err := client.ZAdd(ctx, "archivist:lock_expiry", goredis.Z{Score: 1, Member: "ghost"}).Err(); err != nil {
		t.Fatal(err)
	}
	ok, err := s.AcquireLock(ctx, &clusterlock.Lock{
		Name: "real", Owner: "o", LockedAt: now.Add(-2 * time.Minute), ExpiresAt: now.Add(-time.Minute),
	})
	if err != nil || !ok {
		t.Fatalf("AcquireLock = %v, %v", ok, err)
	}

	expired, err := s.ListExpiredLocks(ctx, now)
	if err != nil {
		t.Fatalf("ListExpiredLocks: %v", err)
	}
	if len(expired) != 1 || expired[0].Name != "real" {
		t.Fatalf("expired = %+v, want only real", expired)
	}
	if !expired[0].ExpiresAt.Equal(now.Add(-time.Minute)) {
		t.Errorf("expires at = %v", expired[0].ExpiresAt)
	}
}
