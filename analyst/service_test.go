package analyst_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	archivist "github.com/Juanbuhler/zmlp-sub000"
	"github.com/Juanbuhler/zmlp-sub000/analyst"
	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/store/memory"
	"github.com/Juanbuhler/zmlp-sub000/task"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type stubKiller struct {
	ok  bool
	err error
}

func (k stubKiller) Kill(context.Context, string, id.TaskID, analyst.KillRequest) (bool, error) {
	return k.ok, k.err
}

type killFailures struct {
	mu    sync.Mutex
	calls []string
}

func (k *killFailures) EmitAnalystKillFailed(_ context.Context, endpoint string, _ id.TaskID, _ error) {
	k.mu.Lock()
	k.calls = append(k.calls, endpoint)
	k.mu.Unlock()
}

func newService(t *testing.T, opts ...analyst.Option) (*analyst.Service, *memory.Store, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	s := memory.New(memory.WithClock(c.Now))
	base := []analyst.Option{
		analyst.WithClock(c.Now),
		analyst.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	}
	return analyst.NewService(s, s, append(base, opts...)...), s, c
}

func TestUpsert_CreatesThenUpdates(t *testing.T) {
	svc, _, c := newService(t)
	ctx := context.Background()

	a, err := svc.Upsert(ctx, &analyst.Spec{Endpoint: "http://a:5000", Version: "1.0", FreeRAM: 100})
	if err != nil {
		t.Fatalf("Upsert: %v", err)
	}
	if a.State != analyst.StateUp || a.LockState != analyst.Unlocked || a.ID.IsNil() {
		t.Fatalf("new analyst = %+v", a)
	}
	created := a.TimeCreated

	c.Advance(30 * time.Second)
	a, err = svc.Upsert(ctx, &analyst.Spec{Endpoint: "http://a:5000", Version: "1.1", FreeRAM: 50})
	if err != nil {
		t.Fatalf("second Upsert: %v", err)
	}
	if a.Version != "1.1" || a.FreeRAM != 50 {
		t.Errorf("metrics not updated: %+v", a)
	}
	if !a.TimeCreated.Equal(created) || !a.TimePing.Equal(c.Now()) {
		t.Errorf("created=%v ping=%v", a.TimeCreated, a.TimePing)
	}

	all, _ := svc.List(ctx)
	if len(all) != 1 {
		t.Errorf("analysts = %d, want 1", len(all))
	}
}

func TestUpsert_ConcurrentFirstHeartbeats(t *testing.T) {
	svc, _, _ := newService(t)
	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := svc.Upsert(context.Background(), &analyst.Spec{Endpoint: "http://a:5000"}); err != nil {
				t.Errorf("Upsert: %v", err)
			}
		}()
	}
	wg.Wait()

	all, _ := svc.List(context.Background())
	if len(all) != 1 {
		t.Fatalf("analysts = %d, want 1", len(all))
	}
}

func TestGetUnresponsive(t *testing.T) {
	tests := []struct {
		name   string
		silent time.Duration
		want   int
	}{
		{"one minute stale", time.Minute, 0},
		{"ten minutes stale", 10 * time.Minute, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, c := newService(t)
			ctx := context.Background()
			if _, err := svc.Upsert(ctx, &analyst.Spec{Endpoint: "http://a:5000"}); err != nil {
				t.Fatal(err)
			}
			c.Advance(tt.silent)

			got, err := svc.GetUnresponsive(ctx, analyst.StateUp, 5*time.Minute)
			if err != nil {
				t.Fatalf("GetUnresponsive: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("unresponsive = %d, want %d", len(got), tt.want)
			}
		})
	}
}

func TestGetUnresponsive_HeartbeatEvery30s(t *testing.T) {
	svc, _, c := newService(t)
	ctx := context.Background()

	for range 10 {
		if _, err := svc.Upsert(ctx, &analyst.Spec{Endpoint: "http://a:5000"}); err != nil {
			t.Fatal(err)
		}
		c.Advance(30 * time.Second)
	}
	if got, _ := svc.GetUnresponsive(ctx, analyst.StateUp, 5*time.Minute); len(got) != 0 {
		t.Fatalf("heartbeating analyst reported unresponsive")
	}

	c.Advance(6 * time.Minute)
	got, _ := svc.GetUnresponsive(ctx, analyst.StateUp, 5*time.Minute)
	if len(got) != 1 || got[0].Endpoint != "http://a:5000" {
		t.Fatalf("silent analyst not reported: %+v", got)
	}
	if got, _ := svc.GetUnresponsive(ctx, analyst.StateDown, 5*time.Minute); len(got) != 0 {
		t.Errorf("state filter ignored")
	}
}

func TestLockUnlock(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.Upsert(ctx, &analyst.Spec{Endpoint: "http://a:5000"}); err != nil {
		t.Fatal(err)
	}

	if err := svc.Lock(ctx, "http://a:5000"); err != nil {
		t.Fatalf("Lock: %v", err)
	}
	a, _ := svc.Get(ctx, "http://a:5000")
	if a.LockState != analyst.Locked {
		t.Errorf("lock state = %s, want locked", a.LockState)
	}

	// Heartbeats do not clear maintenance mode.
	if _, err := svc.Upsert(ctx, &analyst.Spec{Endpoint: "http://a:5000"}); err != nil {
		t.Fatal(err)
	}
	a, _ = svc.Get(ctx, "http://a:5000")
	if a.LockState != analyst.Locked {
		t.Errorf("heartbeat unlocked the analyst")
	}

	if err := svc.Unlock(ctx, "http://a:5000"); err != nil {
		t.Fatalf("Unlock: %v", err)
	}
	a, _ = svc.Get(ctx, "http://a:5000")
	if a.LockState != analyst.Unlocked {
		t.Errorf("lock state = %s, want unlocked", a.LockState)
	}

	if err := svc.Lock(ctx, "http://nobody:5000"); !errors.Is(err, archivist.ErrAnalystNotFound) {
		t.Errorf("Lock unknown = %v, want ErrAnalystNotFound", err)
	}
}

func TestAssignAndReleaseTask(t *testing.T) {
	svc, _, _ := newService(t)
	ctx := context.Background()
	const ep = "http://a:5000"
	if _, err := svc.Upsert(ctx, &analyst.Spec{Endpoint: ep}); err != nil {
		t.Fatal(err)
	}
	first, second := id.NewTaskID(), id.NewTaskID()

	if err := svc.AssignTask(ctx, ep, first); err != nil {
		t.Fatalf("AssignTask: %v", err)
	}
	if ok, _ := svc.ReleaseTask(ctx, ep, second); ok {
		t.Error("released a task the analyst does not hold")
	}
	if ok, _ := svc.ReleaseTask(ctx, ep, first); !ok {
		t.Error("failed to release the held task")
	}
	a, _ := svc.Get(ctx, ep)
	if !a.TaskID.IsNil() {
		t.Errorf("task = %s, want none", a.TaskID)
	}
}

func TestKillTask(t *testing.T) {
	tests := []struct {
		name      string
		endpoint  string
		killer    stubKiller
		want      bool
		wantEmits int
	}{
		{"accepted", "http://a:5000", stubKiller{ok: true}, true, 0},
		{"declined", "http://a:5000", stubKiller{ok: false}, false, 0},
		{"unreachable", "http://a:5000", stubKiller{err: errors.New("dial tcp: refused")}, false, 1},
		{"no endpoint", "", stubKiller{ok: true}, false, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			emitter := &killFailures{}
			svc, _, _ := newService(t, analyst.WithKiller(tt.killer), analyst.WithEmitter(emitter))

			got := svc.KillTask(context.Background(), tt.endpoint, id.NewTaskID(), "cancel", task.StateWaiting)
			if got != tt.want {
				t.Errorf("KillTask = %v, want %v", got, tt.want)
			}
			if len(emitter.calls) != tt.wantEmits {
				t.Errorf("kill failure hooks = %d, want %d", len(emitter.calls), tt.wantEmits)
			}
		})
	}
}
