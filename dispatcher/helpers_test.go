package dispatcher_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Juanbuhler/zmlp-sub000/analyst"
	"github.com/Juanbuhler/zmlp-sub000/credential"
	"github.com/Juanbuhler/zmlp-sub000/dispatcher"
	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/job"
	"github.com/Juanbuhler/zmlp-sub000/store/memory"
	"github.com/Juanbuhler/zmlp-sub000/task"
	"github.com/Juanbuhler/zmlp-sub000/taskerror"
)

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type killCall struct {
	endpoint string
	taskID   id.TaskID
	req      analyst.KillRequest
}

// fakeKiller records kill requests. Endpoints listed in unreachable fail
// like a refused connection.
type fakeKiller struct {
	mu          sync.Mutex
	calls       []killCall
	unreachable map[string]bool
}

func (k *fakeKiller) Kill(_ context.Context, endpoint string, taskID id.TaskID, req analyst.KillRequest) (bool, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.calls = append(k.calls, killCall{endpoint, taskID, req})
	if k.unreachable[endpoint] {
		return false, errors.New("connection refused")
	}
	return true, nil
}

func (k *fakeKiller) Calls() []killCall {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]killCall(nil), k.calls...)
}

type recordingEmitter struct {
	mu      sync.Mutex
	events  []string
	stopped []task.State
	killed  []int
}

func (r *recordingEmitter) add(name string) {
	r.mu.Lock()
	r.events = append(r.events, name)
	r.mu.Unlock()
}

func (r *recordingEmitter) EmitTaskQueued(context.Context, *task.DispatchTask, string) {
	r.add("queued")
}

func (r *recordingEmitter) EmitTaskStarted(context.Context, *task.Task) { r.add("started") }

func (r *recordingEmitter) EmitTaskStopped(_ context.Context, _ *task.Task, state task.State, _ int) {
	r.mu.Lock()
	r.stopped = append(r.stopped, state)
	r.mu.Unlock()
	r.add("stopped")
}

func (r *recordingEmitter) EmitTaskExpanded(context.Context, *task.Task, *task.Task) {
	r.add("expanded")
}

func (r *recordingEmitter) EmitJobCancelled(_ context.Context, _ *job.Job, killed int) {
	r.mu.Lock()
	r.killed = append(r.killed, killed)
	r.mu.Unlock()
	r.add("cancelled")
}

func (r *recordingEmitter) Count(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == name {
			n++
		}
	}
	return n
}

type harness struct {
	store   *memory.Store
	clock   *fakeClock
	killer  *fakeKiller
	emitter *recordingEmitter
	fleet   *analyst.Service
	errors  *taskerror.Service
	signer  *credential.Signer
	svc     *dispatcher.Service
	queue   *dispatcher.QueueManager
}

func newHarness(t *testing.T, qopts ...dispatcher.QueueOption) *harness {
	t.Helper()
	h := &harness{
		clock:   newClock(),
		killer:  &fakeKiller{unreachable: map[string]bool{}},
		emitter: &recordingEmitter{},
	}
	h.store = memory.New(memory.WithClock(h.clock.Now))
	h.fleet = analyst.NewService(h.store, h.store,
		analyst.WithKiller(h.killer),
		analyst.WithClock(h.clock.Now),
		analyst.WithLogger(discard()),
	)
	h.errors = taskerror.NewService(h.store, discard())

	signer, err := credential.NewSigner("", credential.WithClock(h.clock.Now))
	if err != nil {
		t.Fatalf("NewSigner: %v", err)
	}
	h.signer = signer

	h.svc = dispatcher.NewService(h.store, h.store, h.fleet, h.errors,
		dispatcher.WithEmitter(h.emitter),
		dispatcher.WithClock(h.clock.Now),
		dispatcher.WithLogger(discard()),
	)
	opts := append([]dispatcher.QueueOption{dispatcher.WithQueueLogger(discard())}, qopts...)
	h.queue = dispatcher.NewQueueManager(h.svc, signer, opts...)
	return h
}

// submit creates an active job with priority and n tasks, each over the
// given assets.
func (h *harness) submit(t *testing.T, priority, n int, assets ...task.Asset) (*job.Job, []*task.Task) {
	t.Helper()
	j := job.New("job", "org-1")
	j.Priority = priority
	tasks := make([]*task.Task, n)
	for i := range tasks {
		tasks[i] = task.New(id.Nil, "task", &task.Script{
			Type:     "asset",
			Settings: map[string]any{"quality": "high"},
			Execute:  []task.Processor{{ClassName: "ingest.Import"}},
			Assets:   assets,
		})
	}
	if err := h.svc.SubmitJob(context.Background(), j, tasks...); err != nil {
		t.Fatalf("SubmitJob: %v", err)
	}
	return j, tasks
}

func (h *harness) heartbeat(t *testing.T, endpoint string) {
	t.Helper()
	if _, err := h.fleet.Upsert(context.Background(), &analyst.Spec{Endpoint: endpoint}); err != nil {
		t.Fatalf("Upsert(%s): %v", endpoint, err)
	}
}

// dispatch pulls work for endpoint and fails the test if none is handed out.
func (h *harness) dispatch(t *testing.T, endpoint string) *task.DispatchTask {
	t.Helper()
	dt, err := h.queue.GetNext(context.Background(), endpoint)
	if err != nil {
		t.Fatalf("GetNext(%s): %v", endpoint, err)
	}
	if dt == nil {
		t.Fatalf("GetNext(%s): nothing dispatched", endpoint)
	}
	return dt
}

func (h *harness) task(t *testing.T, taskID id.TaskID) *task.Task {
	t.Helper()
	tk, err := h.store.GetTask(context.Background(), taskID)
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	return tk
}

func (h *harness) analyst(t *testing.T, endpoint string) *analyst.Analyst {
	t.Helper()
	a, err := h.store.GetAnalyst(context.Background(), endpoint)
	if err != nil {
		t.Fatalf("GetAnalyst: %v", err)
	}
	return a
}

// running dispatches the next task to endpoint and starts it.
func (h *harness) running(t *testing.T, endpoint string) *task.Task {
	t.Helper()
	dt := h.dispatch(t, endpoint)
	tk := h.task(t, dt.ID)
	ok, err := h.svc.StartTask(context.Background(), tk)
	if err != nil || !ok {
		t.Fatalf("StartTask = %v, %v", ok, err)
	}
	return h.task(t, dt.ID)
}
