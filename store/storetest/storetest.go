// Package storetest is a conformance suite every store.Store backend runs
// from its own tests. It pins down the conditional write semantics the
// dispatcher and cluster locks depend on.
package storetest

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	archivist "github.com/Juanbuhler/zmlp-sub000"
	"github.com/Juanbuhler/zmlp-sub000/analyst"
	"github.com/Juanbuhler/zmlp-sub000/clusterlock"
	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/job"
	"github.com/Juanbuhler/zmlp-sub000/store"
	"github.com/Juanbuhler/zmlp-sub000/task"
	"github.com/Juanbuhler/zmlp-sub000/taskerror"
)

// Factory returns an empty, migrated store that stamps rows with now.
type Factory func(t *testing.T, now func() time.Time) store.Store

// Clock is a settable time source.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// NewClock returns a clock at a fixed whole second.
func NewClock() *Clock {
	return &Clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// Run runs the whole suite against stores built by f.
func Run(t *testing.T, f Factory) {
	t.Run("Jobs", func(t *testing.T) { testJobs(t, f) })
	t.Run("TaskStateCAS", func(t *testing.T) { testTaskStateCAS(t, f) })
	t.Run("TaskTimestamps", func(t *testing.T) { testTaskTimestamps(t, f) })
	t.Run("WaitingOrder", func(t *testing.T) { testWaitingOrder(t, f) })
	t.Run("ChildTasks", func(t *testing.T) { testChildTasks(t, f) })
	t.Run("PingAndOrphans", func(t *testing.T) { testPingAndOrphans(t, f) })
	t.Run("TaskErrors", func(t *testing.T) { testTaskErrors(t, f) })
	t.Run("Analysts", func(t *testing.T) { testAnalysts(t, f) })
	t.Run("Locks", func(t *testing.T) { testLocks(t, f) })
	t.Run("LockExpiry", func(t *testing.T) { testLockExpiry(t, f) })
	t.Run("ReleaseUnlessPending", func(t *testing.T) { testReleaseUnlessPending(t, f) })
	t.Run("ConcurrentLockAcquire", func(t *testing.T) { testConcurrentLockAcquire(t, f) })
}

// ──────────────────────────────────────────────────
// Fixtures
// ──────────────────────────────────────────────────

func newStore(t *testing.T, f Factory) (store.Store, *Clock) {
	t.Helper()
	c := NewClock()
	return f(t, c.Now), c
}

func mustJob(t *testing.T, s store.Store, priority int) *job.Job {
	t.Helper()
	j := job.New("job", "org-1")
	j.Priority = priority
	j.MaxRetries = 3
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	return j
}

func mustTask(t *testing.T, s store.Store, j *job.Job, created time.Time) *task.Task {
	t.Helper()
	tk := task.New(j.ID, "task", &task.Script{
		Type:     "asset",
		Settings: map[string]any{"depth": float64(2)},
		Execute:  []task.Processor{{ClassName: "ingest.Import", Args: map[string]any{"fast": true}}},
		Assets:   []task.Asset{{ID: "a1", Path: "/a1"}},
	})
	tk.MaxRetries = 3
	tk.CreatedAt = created
	tk.UpdatedAt = created
	if err := s.CreateTask(context.Background(), tk); err != nil {
		t.Fatalf("CreateTask: %v", err)
	}
	return tk
}

func getTask(t *testing.T, s store.Store, taskID id.TaskID) *task.Task {
	t.Helper()
	tk, err := s.GetTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	return tk
}

// ──────────────────────────────────────────────────
// Jobs
// ──────────────────────────────────────────────────

func testJobs(t *testing.T, f Factory) {
	s, c := newStore(t, f)
	ctx := context.Background()
	j := mustJob(t, s, job.PriorityInteractive)

	got, err := s.GetJob(ctx, j.ID)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if got.Name != "job" || got.OrganizationID != "org-1" || got.Priority != job.PriorityInteractive || got.State != job.StateActive {
		t.Errorf("job = %+v", got)
	}
	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, archivist.ErrJobNotFound) {
		t.Errorf("GetJob unknown = %v, want ErrJobNotFound", err)
	}
	if err := s.CreateJob(ctx, j); !errors.Is(err, archivist.ErrJobAlreadyExists) {
		t.Errorf("duplicate CreateJob = %v, want ErrJobAlreadyExists", err)
	}

	ok, err := s.SetJobState(ctx, j.ID, job.StateCancelled, job.StateFinished)
	if err != nil || ok {
		t.Errorf("SetJobState with wrong expectation = %v, %v", ok, err)
	}
	ok, err = s.SetJobState(ctx, j.ID, job.StateCancelled, job.StateActive)
	if err != nil || !ok {
		t.Errorf("SetJobState = %v, %v", ok, err)
	}
	cancelled, _ := s.ListJobs(ctx, job.StateCancelled)
	if len(cancelled) != 1 {
		t.Errorf("ListJobs(cancelled) = %d, want 1", len(cancelled))
	}
	active, _ := s.ListJobs(ctx, job.StateActive)
	if len(active) != 0 {
		t.Errorf("ListJobs(active) = %d, want 0", len(active))
	}

	until := c.Now().Add(time.Hour)
	if err := s.SetJobPaused(ctx, j.ID, true, &until); err != nil {
		t.Fatalf("SetJobPaused: %v", err)
	}
	got, _ = s.GetJob(ctx, j.ID)
	if !got.Paused || got.PausedUntil == nil || !got.PausedUntil.Equal(until) {
		t.Errorf("pause not stored: paused=%v until=%v", got.Paused, got.PausedUntil)
	}
	if err := s.SetJobPaused(ctx, j.ID, false, nil); err != nil {
		t.Fatalf("SetJobPaused(false): %v", err)
	}
	got, _ = s.GetJob(ctx, j.ID)
	if got.Paused || got.PausedUntil != nil {
		t.Errorf("pause not cleared")
	}
	if err := s.SetJobPaused(ctx, id.NewJobID(), true, nil); !errors.Is(err, archivist.ErrJobNotFound) {
		t.Errorf("SetJobPaused unknown = %v, want ErrJobNotFound", err)
	}

	first := c.Now()
	if err := s.MarkJobStarted(ctx, j.ID, first); err != nil {
		t.Fatalf("MarkJobStarted: %v", err)
	}
	if err := s.MarkJobStarted(ctx, j.ID, first.Add(time.Minute)); err != nil {
		t.Fatalf("MarkJobStarted again: %v", err)
	}
	got, _ = s.GetJob(ctx, j.ID)
	if got.TimeStarted == nil || !got.TimeStarted.Equal(first) {
		t.Errorf("time started = %v, want %v", got.TimeStarted, first)
	}
}

// ──────────────────────────────────────────────────
// Tasks
// ──────────────────────────────────────────────────

func testTaskStateCAS(t *testing.T, f Factory) {
	tests := []struct {
		name     string
		from     task.State
		to       task.State
		expected []task.State
		want     bool
	}{
		{"matching expectation", task.StateWaiting, task.StateQueued, []task.State{task.StateWaiting}, true},
		{"mismatched expectation", task.StateWaiting, task.StateRunning, []task.State{task.StateQueued}, false},
		{"any of several", task.StateQueued, task.StateSuccess, []task.State{task.StateRunning, task.StateQueued}, true},
		{"none of several", task.StateSuccess, task.StateFailure, []task.State{task.StateRunning, task.StateQueued}, false},
		{"unconditional", task.StateSkipped, task.StateWaiting, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, c := newStore(t, f)
			ctx := context.Background()
			tk := mustTask(t, s, mustJob(t, s, job.PriorityStandard), c.Now())
			if tt.from != task.StateWaiting {
				if _, err := s.SetState(ctx, tk.ID, tt.from); err != nil {
					t.Fatalf("setup SetState: %v", err)
				}
			}

			ok, err := s.SetState(ctx, tk.ID, tt.to, tt.expected...)
			if err != nil {
				t.Fatalf("SetState: %v", err)
			}
			if ok != tt.want {
				t.Errorf("SetState = %v, want %v", ok, tt.want)
			}
			want := tt.from
			if tt.want {
				want = tt.to
			}
			if got := getTask(t, s, tk.ID); got.State != want {
				t.Errorf("state = %s, want %s", got.State, want)
			}
		})
	}

	t.Run("unknown task", func(t *testing.T) {
		s, _ := newStore(t, f)
		_, err := s.SetState(context.Background(), id.NewTaskID(), task.StateQueued, task.StateWaiting)
		if !errors.Is(err, archivist.ErrTaskNotFound) {
			t.Errorf("err = %v, want ErrTaskNotFound", err)
		}
	})

	t.Run("racing claims", func(t *testing.T) {
		s, c := newStore(t, f)
		tk := mustTask(t, s, mustJob(t, s, job.PriorityStandard), c.Now())

		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			wins int
		)
		for range 8 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				ok, err := s.SetState(context.Background(), tk.ID, task.StateQueued, task.StateWaiting)
				if err != nil {
					t.Errorf("SetState: %v", err)
					return
				}
				if ok {
					mu.Lock()
					wins++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		if wins != 1 {
			t.Errorf("winners = %d, want 1", wins)
		}
	})
}

func testTaskTimestamps(t *testing.T, f Factory) {
	s, c := newStore(t, f)
	ctx := context.Background()
	tk := mustTask(t, s, mustJob(t, s, job.PriorityStandard), c.Now())

	got := getTask(t, s, tk.ID)
	if got.Script == nil || got.Script.Type != "asset" || len(got.Script.Execute) != 1 || got.Script.Execute[0].Args["fast"] != true {
		t.Errorf("script not stored: %+v", got.Script)
	}
	script, err := s.GetScript(ctx, tk.ID)
	if err != nil || script.Settings["depth"] != float64(2) || len(script.Assets) != 1 {
		t.Errorf("GetScript = %+v, %v", script, err)
	}

	if _, err := s.SetState(ctx, tk.ID, task.StateQueued, task.StateWaiting); err != nil {
		t.Fatal(err)
	}
	if err := s.SetHostEndpoint(ctx, tk.ID, "http://a:5000"); err != nil {
		t.Fatal(err)
	}
	c.Advance(time.Second)
	if _, err := s.SetState(ctx, tk.ID, task.StateRunning, task.StateQueued); err != nil {
		t.Fatal(err)
	}
	got = getTask(t, s, tk.ID)
	if got.HostEndpoint != "http://a:5000" {
		t.Errorf("endpoint = %q while running", got.HostEndpoint)
	}
	if got.TimeStarted == nil || !got.TimeStarted.Equal(c.Now()) {
		t.Errorf("time started = %v, want %v", got.TimeStarted, c.Now())
	}

	c.Advance(time.Second)
	if _, err := s.SetState(ctx, tk.ID, task.StateFailure, task.StateRunning); err != nil {
		t.Fatal(err)
	}
	if err := s.SetExitStatus(ctx, tk.ID, 137); err != nil {
		t.Fatal(err)
	}
	n, err := s.IncrementRetryCount(ctx, tk.ID)
	if err != nil || n != 1 {
		t.Errorf("IncrementRetryCount = %d, %v", n, err)
	}
	got = getTask(t, s, tk.ID)
	if got.HostEndpoint != "" {
		t.Errorf("endpoint = %q after stop, want cleared", got.HostEndpoint)
	}
	if got.TimeStopped == nil || !got.TimeStopped.Equal(c.Now()) {
		t.Errorf("time stopped = %v", got.TimeStopped)
	}
	if got.ExitStatus == nil || *got.ExitStatus != 137 || got.RetryCount != 1 {
		t.Errorf("exit=%v retry=%d", got.ExitStatus, got.RetryCount)
	}
}

func testWaitingOrder(t *testing.T, f Factory) {
	s, c := newStore(t, f)
	ctx := context.Background()
	t0 := c.Now()

	standard := mustJob(t, s, job.PriorityStandard)
	interactive := mustJob(t, s, job.PriorityInteractive)
	paused := mustJob(t, s, job.PriorityReindex)
	cancelled := mustJob(t, s, job.PriorityReindex)

	old := mustTask(t, s, standard, t0)
	urgent := mustTask(t, s, interactive, t0.Add(2*time.Second))
	young := mustTask(t, s, standard, t0.Add(time.Second))
	mustTask(t, s, paused, t0)
	mustTask(t, s, cancelled, t0)
	queued := mustTask(t, s, standard, t0)

	if err := s.SetJobPaused(ctx, paused.ID, true, nil); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetJobState(ctx, cancelled.ID, job.StateCancelled); err != nil {
		t.Fatal(err)
	}
	if _, err := s.SetState(ctx, queued.ID, task.StateQueued); err != nil {
		t.Fatal(err)
	}

	got, err := s.GetWaitingTasks(ctx, 10)
	if err != nil {
		t.Fatalf("GetWaitingTasks: %v", err)
	}
	want := []id.TaskID{urgent.ID, old.ID, young.ID}
	if len(got) != len(want) {
		t.Fatalf("waiting = %d tasks, want %d", len(got), len(want))
	}
	for i, w := range want {
		if got[i].ID != w {
			t.Errorf("position %d = %s, want %s", i, got[i].ID, w)
		}
	}
	if got[0].OrganizationID != "org-1" || got[0].Priority != job.PriorityInteractive {
		t.Errorf("dispatch view missing job fields: %+v", got[0])
	}

	limited, _ := s.GetWaitingTasks(ctx, 2)
	if len(limited) != 2 {
		t.Errorf("limit ignored: %d", len(limited))
	}

	// A pause that has run out no longer hides the job.
	until := c.Now().Add(time.Minute)
	if err := s.SetJobPaused(ctx, paused.ID, true, &until); err != nil {
		t.Fatal(err)
	}
	c.Advance(2 * time.Minute)
	got, _ = s.GetWaitingTasks(ctx, 10)
	if len(got) != 4 || got[0].Priority != job.PriorityReindex {
		t.Errorf("expired pause: %d tasks, first priority %d", len(got), got[0].Priority)
	}

	byJob, _ := s.ListTasksByJob(ctx, standard.ID, task.StateWaiting)
	if len(byJob) != 2 {
		t.Errorf("ListTasksByJob(waiting) = %d, want 2", len(byJob))
	}
	all, _ := s.ListTasksByJob(ctx, standard.ID)
	if len(all) != 3 {
		t.Errorf("ListTasksByJob() = %d, want 3", len(all))
	}
}

func testChildTasks(t *testing.T, f Factory) {
	s, c := newStore(t, f)
	ctx := context.Background()
	parent := mustTask(t, s, mustJob(t, s, job.PriorityStandard), c.Now())

	child := task.New(id.Nil, "child", parent.Script.Expand(task.ExpandSpec{Assets: []task.Asset{{ID: "c1"}}}))
	child.MaxRetries = 3
	if err := s.CreateChildTask(ctx, parent.ID, child); err != nil {
		t.Fatalf("CreateChildTask: %v", err)
	}
	got := getTask(t, s, child.ID)
	if got.ParentID != parent.ID || got.JobID != parent.JobID {
		t.Errorf("child parent=%s job=%s", got.ParentID, got.JobID)
	}
	if got.Script.Type != "asset" || got.Script.Assets[0].ID != "c1" {
		t.Errorf("child script = %+v", got.Script)
	}

	orphan := task.New(id.Nil, "orphan", nil)
	if err := s.CreateChildTask(ctx, id.NewTaskID(), orphan); !errors.Is(err, archivist.ErrTaskNotFound) {
		t.Errorf("CreateChildTask unknown parent = %v, want ErrTaskNotFound", err)
	}
}

func testPingAndOrphans(t *testing.T, f Factory) {
	s, c := newStore(t, f)
	ctx := context.Background()
	j := mustJob(t, s, job.PriorityStandard)
	a := mustTask(t, s, j, c.Now())
	b := mustTask(t, s, j, c.Now())

	for _, tk := range []*task.Task{a, b} {
		if _, err := s.SetState(ctx, tk.ID, task.StateQueued, task.StateWaiting); err != nil {
			t.Fatal(err)
		}
		if err := s.SetHostEndpoint(ctx, tk.ID, "http://a:5000"); err != nil {
			t.Fatal(err)
		}
	}

	c.Advance(10 * time.Minute)
	// Wrong endpoint: no effect.
	if err := s.PingTask(ctx, a.ID, "http://other:5000", c.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.PingTask(ctx, b.ID, "http://a:5000", c.Now()); err != nil {
		t.Fatal(err)
	}

	orphans, err := s.ListOrphanedTasks(ctx, c.Now().Add(-5*time.Minute))
	if err != nil {
		t.Fatalf("ListOrphanedTasks: %v", err)
	}
	if len(orphans) != 1 || orphans[0].ID != a.ID {
		t.Fatalf("orphans = %d, want only the unpinged task", len(orphans))
	}
	if orphans[0].HostEndpoint != "http://a:5000" {
		t.Errorf("orphan endpoint = %q", orphans[0].HostEndpoint)
	}
}

// ──────────────────────────────────────────────────
// Task errors
// ──────────────────────────────────────────────────

func testTaskErrors(t *testing.T, f Factory) {
	s, c := newStore(t, f)
	ctx := context.Background()
	j := mustJob(t, s, job.PriorityStandard)
	a := mustTask(t, s, j, c.Now())
	b := mustTask(t, s, j, c.Now())

	entry := func(tk *task.Task, asset string, at time.Time) *taskerror.Entry {
		return &taskerror.Entry{
			ID: id.NewTaskErrorID(), TaskID: tk.ID, JobID: tk.JobID,
			AssetID: asset, Message: "boom", Fatal: true, Phase: "execute",
			Stack: []string{"a.py:1", "b.py:2"}, CreatedAt: at,
		}
	}
	t0 := c.Now()
	if err := s.CreateTaskErrors(ctx, []*taskerror.Entry{entry(a, "x", t0), entry(a, "y", t0.Add(time.Second))}); err != nil {
		t.Fatalf("CreateTaskErrors: %v", err)
	}
	if err := s.CreateTaskErrors(ctx, []*taskerror.Entry{entry(b, "z", t0)}); err != nil {
		t.Fatalf("CreateTaskErrors: %v", err)
	}

	got, err := s.ListTaskErrors(ctx, a.ID)
	if err != nil {
		t.Fatalf("ListTaskErrors: %v", err)
	}
	if len(got) != 2 || got[0].AssetID != "x" || got[1].AssetID != "y" {
		t.Fatalf("errors = %+v", got)
	}
	if !got[0].Fatal || len(got[0].Stack) != 2 {
		t.Errorf("entry fields lost: %+v", got[0])
	}
	n, err := s.CountTaskErrors(ctx, j.ID)
	if err != nil || n != 3 {
		t.Errorf("CountTaskErrors = %d, %v; want 3", n, err)
	}
}

// ──────────────────────────────────────────────────
// Analysts
// ──────────────────────────────────────────────────

func testAnalysts(t *testing.T, f Factory) {
	s, c := newStore(t, f)
	ctx := context.Background()
	const ep = "http://a:5000"

	ok, err := s.UpdateAnalyst(ctx, &analyst.Spec{Endpoint: ep}, c.Now())
	if err != nil || ok {
		t.Fatalf("UpdateAnalyst before create = %v, %v", ok, err)
	}

	a := &analyst.Analyst{
		ID: id.NewAnalystID(), Endpoint: ep, State: analyst.StateUp, LockState: analyst.Unlocked,
		Version: "1", TimeCreated: c.Now(), TimePing: c.Now(),
	}
	if err := s.CreateAnalyst(ctx, a); err != nil {
		t.Fatalf("CreateAnalyst: %v", err)
	}
	if err := s.CreateAnalyst(ctx, a); !errors.Is(err, archivist.ErrAnalystExists) {
		t.Errorf("duplicate CreateAnalyst = %v, want ErrAnalystExists", err)
	}
	if _, err := s.GetAnalyst(ctx, "http://nobody"); !errors.Is(err, archivist.ErrAnalystNotFound) {
		t.Errorf("GetAnalyst unknown = %v", err)
	}

	taskID := id.NewTaskID()
	if err := s.SetAnalystTask(ctx, ep, taskID); err != nil {
		t.Fatal(err)
	}
	if err := s.SetAnalystLockState(ctx, ep, analyst.Locked); err != nil {
		t.Fatal(err)
	}
	if err := s.SetAnalystState(ctx, ep, analyst.StateDown); err != nil {
		t.Fatal(err)
	}

	c.Advance(time.Minute)
	ok, err = s.UpdateAnalyst(ctx, &analyst.Spec{Endpoint: ep, Version: "2", FreeRAM: 42, Load: 1.5}, c.Now())
	if err != nil || !ok {
		t.Fatalf("UpdateAnalyst = %v, %v", ok, err)
	}
	got, err := s.GetAnalyst(ctx, ep)
	if err != nil {
		t.Fatal(err)
	}
	if got.State != analyst.StateUp || got.LockState != analyst.Locked || got.TaskID != taskID {
		t.Errorf("heartbeat changed the wrong fields: %+v", got)
	}
	if got.Version != "2" || got.FreeRAM != 42 || got.Load != 1.5 || !got.TimePing.Equal(c.Now()) {
		t.Errorf("heartbeat fields not stored: %+v", got)
	}

	if ok, _ := s.ClearAnalystTask(ctx, ep, id.NewTaskID()); ok {
		t.Error("cleared a task the analyst does not hold")
	}
	if ok, _ := s.ClearAnalystTask(ctx, ep, taskID); !ok {
		t.Error("did not clear the held task")
	}

	b := &analyst.Analyst{
		ID: id.NewAnalystID(), Endpoint: "http://b:5000", State: analyst.StateUp, LockState: analyst.Unlocked,
		TimeCreated: c.Now(), TimePing: c.Now(),
	}
	if err := s.CreateAnalyst(ctx, b); err != nil {
		t.Fatal(err)
	}
	c.Advance(6 * time.Minute)
	if _, err := s.UpdateAnalyst(ctx, &analyst.Spec{Endpoint: ep}, c.Now()); err != nil {
		t.Fatal(err)
	}
	stale, err := s.ListUnresponsiveAnalysts(ctx, analyst.StateUp, c.Now().Add(-5*time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(stale) != 1 || stale[0].Endpoint != "http://b:5000" {
		t.Errorf("unresponsive = %+v, want only b", stale)
	}
	all, _ := s.ListAnalysts(ctx)
	if len(all) != 2 {
		t.Errorf("ListAnalysts = %d, want 2", len(all))
	}
}

// ──────────────────────────────────────────────────
// Cluster locks
// ──────────────────────────────────────────────────

func newLock(name, owner string, combine bool, at time.Time, ttl time.Duration) *clusterlock.Lock {
	return &clusterlock.Lock{
		Name: name, Owner: owner, Host: "test", Combine: combine,
		LockedAt: at, ExpiresAt: at.Add(ttl),
	}
}

func testLocks(t *testing.T, f Factory) {
	s, c := newStore(t, f)
	ctx := context.Background()
	now := c.Now()

	ok, err := s.AcquireLock(ctx, newLock("rebuild", "o1", true, now, time.Minute))
	if err != nil || !ok {
		t.Fatalf("AcquireLock = %v, %v", ok, err)
	}
	if locked, _ := s.IsLocked(ctx, "rebuild"); !locked {
		t.Error("IsLocked = false after acquire")
	}

	// Contention from a combine request marks the row.
	ok, err = s.AcquireLock(ctx, newLock("rebuild", "o2", true, now, time.Minute))
	if err != nil || ok {
		t.Fatalf("contended AcquireLock = %v, %v", ok, err)
	}
	if took, _ := s.TakeCombinePending(ctx, "rebuild", "o2"); took {
		t.Error("non-owner took the combine marker")
	}
	if took, _ := s.TakeCombinePending(ctx, "rebuild", "o1"); !took {
		t.Error("owner did not see the combine marker")
	}
	if took, _ := s.TakeCombinePending(ctx, "rebuild", "o1"); took {
		t.Error("combine marker not cleared")
	}

	if ok, _ := s.RefreshLock(ctx, "rebuild", "o2", now.Add(time.Hour)); ok {
		t.Error("non-owner refreshed the lock")
	}
	if ok, _ := s.RefreshLock(ctx, "rebuild", "o1", now.Add(time.Hour)); !ok {
		t.Error("owner could not refresh the lock")
	}

	if ok, _ := s.ReleaseLock(ctx, "rebuild", "o2"); ok {
		t.Error("non-owner released the lock")
	}
	if ok, _ := s.ReleaseLock(ctx, "rebuild", "o1"); !ok {
		t.Error("owner could not release the lock")
	}
	if locked, _ := s.IsLocked(ctx, "rebuild"); locked {
		t.Error("IsLocked = true after release")
	}

	// Plain hard locks never set the combine marker.
	if ok, _ := s.AcquireLock(ctx, newLock("hard", "o1", false, now, time.Minute)); !ok {
		t.Fatal("AcquireLock(hard) failed")
	}
	_, _ = s.AcquireLock(ctx, newLock("hard", "o2", false, now, time.Minute))
	if took, _ := s.TakeCombinePending(ctx, "hard", "o1"); took {
		t.Error("hard lock got a combine marker")
	}
}

func testReleaseUnlessPending(t *testing.T, f Factory) {
	s, c := newStore(t, f)
	ctx := context.Background()
	now := c.Now()

	if ok, _ := s.AcquireLock(ctx, newLock("merge", "o1", true, now, time.Minute)); !ok {
		t.Fatal("AcquireLock failed")
	}
	_, _ = s.AcquireLock(ctx, newLock("merge", "o2", true, now, time.Minute))

	tests := []struct {
		name         string
		owner        string
		wantReleased bool
		wantPending  bool
		wantLocked   bool
	}{
		{"non-owner", "o2", false, false, true},
		{"pending keeps row", "o1", false, true, true},
		{"marker cleared", "o1", true, false, false},
		{"already released", "o1", false, false, false},
	}
	for _, tt := range tests {
		released, pending, err := s.ReleaseLockUnlessPending(ctx, "merge", tt.owner)
		if err != nil {
			t.Fatalf("%s: ReleaseLockUnlessPending: %v", tt.name, err)
		}
		if released != tt.wantReleased || pending != tt.wantPending {
			t.Errorf("%s: got (%v, %v), want (%v, %v)",
				tt.name, released, pending, tt.wantReleased, tt.wantPending)
		}
		if locked, _ := s.IsLocked(ctx, "merge"); locked != tt.wantLocked {
			t.Errorf("%s: IsLocked = %v, want %v", tt.name, locked, tt.wantLocked)
		}
	}
}

func testLockExpiry(t *testing.T, f Factory) {
	s, c := newStore(t, f)
	ctx := context.Background()
	now := c.Now()

	if ok, _ := s.AcquireLock(ctx, newLock("crashed", "dead", true, now, time.Minute)); !ok {
		t.Fatal("AcquireLock failed")
	}
	_, _ = s.AcquireLock(ctx, newLock("crashed", "waiter", true, now, time.Minute))
	if ok, _ := s.AcquireLock(ctx, newLock("alive", "live", false, now, time.Hour)); !ok {
		t.Fatal("AcquireLock failed")
	}

	c.Advance(2 * time.Minute)
	later := c.Now()
	expired, err := s.ListExpiredLocks(ctx, later)
	if err != nil {
		t.Fatalf("ListExpiredLocks: %v", err)
	}
	if len(expired) != 1 || expired[0].Name != "crashed" || expired[0].Owner != "dead" {
		t.Fatalf("expired = %+v", expired)
	}

	// A stale owner token cannot reclaim.
	if ok, _ := s.ReclaimExpiredLock(ctx, "crashed", "someone-else", later); ok {
		t.Error("reclaimed with the wrong owner")
	}
	// Not yet expired as of the recheck time.
	if ok, _ := s.ReclaimExpiredLock(ctx, "crashed", "dead", now); ok {
		t.Error("reclaimed a row that was live at asOf")
	}
	if ok, _ := s.ReclaimExpiredLock(ctx, "alive", "live", later); ok {
		t.Error("reclaimed a live lock")
	}

	// A new acquirer takes over an expired row and starts without a marker.
	ok, err := s.AcquireLock(ctx, newLock("crashed", "new", true, later, time.Minute))
	if err != nil || !ok {
		t.Fatalf("takeover AcquireLock = %v, %v", ok, err)
	}
	if took, _ := s.TakeCombinePending(ctx, "crashed", "new"); took {
		t.Error("takeover inherited the combine marker")
	}
	if ok, _ := s.ReclaimExpiredLock(ctx, "crashed", "dead", later); ok {
		t.Error("old owner reclaimed the new owner's row")
	}

	c.Advance(2 * time.Minute)
	if ok, _ := s.ReclaimExpiredLock(ctx, "crashed", "new", c.Now()); !ok {
		t.Error("could not reclaim an expired row")
	}
	if locked, _ := s.IsLocked(ctx, "crashed"); locked {
		t.Error("row still present after reclaim")
	}
}

func testConcurrentLockAcquire(t *testing.T, f Factory) {
	s, c := newStore(t, f)
	now := c.Now()

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			owner := "owner-" + string(rune('a'+i))
			ok, err := s.AcquireLock(context.Background(), newLock("race", owner, false, now, time.Minute))
			if err != nil {
				t.Errorf("AcquireLock: %v", err)
				return
			}
			if ok {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("winners = %d, want 1", wins)
	}
}
