package dispatcher_test

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"sync"
	"testing"
	"time"

	archivist "github.com/Juanbuhler/zmlp-sub000"
	"github.com/Juanbuhler/zmlp-sub000/dispatcher"
	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/job"
	"github.com/Juanbuhler/zmlp-sub000/queue"
	"github.com/Juanbuhler/zmlp-sub000/task"
)

func TestGetNext_EnrichesTask(t *testing.T) {
	h := newHarness(t,
		dispatcher.WithDebug(true),
		dispatcher.WithLogURL("http://archivist:8080/api/v1/logs", time.Hour),
	)
	const ep = "http://a:5000"
	h.heartbeat(t, ep)
	j, _ := h.submit(t, job.PriorityStandard, 1, task.Asset{ID: "a1"})

	dt := h.dispatch(t, ep)

	if dt.State != task.StateQueued || dt.HostEndpoint != ep {
		t.Errorf("dispatched task: state=%s endpoint=%q", dt.State, dt.HostEndpoint)
	}
	if dt.Script == nil || len(dt.Script.Assets) != 1 {
		t.Errorf("script not attached: %+v", dt.Script)
	}

	want := map[string]string{
		dispatcher.EnvTaskID:         dt.ID.String(),
		dispatcher.EnvJobID:          j.ID.String(),
		dispatcher.EnvOrganizationID: "org-1",
		dispatcher.EnvMaxRetries:     strconv.Itoa(j.MaxRetries),
		dispatcher.EnvDebugMode:      "true",
	}
	for k, v := range want {
		if dt.Env[k] != v {
			t.Errorf("env %s = %q, want %q", k, dt.Env[k], v)
		}
	}

	claims, err := h.signer.Verify(dt.Env[dispatcher.EnvAuthToken])
	if err != nil {
		t.Fatalf("auth token does not verify: %v", err)
	}
	if claims.TaskID != dt.ID.String() || claims.OrganizationID != "org-1" {
		t.Errorf("claims = %+v", claims)
	}

	u, err := url.Parse(dt.LogURL)
	if err != nil {
		t.Fatalf("log url: %v", err)
	}
	q := u.Query()
	if err := h.signer.VerifyLogURL(dt.ID.String(), q.Get("expires"), q.Get("sig")); err != nil {
		t.Errorf("log url does not verify: %v", err)
	}

	if h.emitter.Count("queued") != 1 {
		t.Errorf("queued hooks = %d, want 1", h.emitter.Count("queued"))
	}
	if a := h.analyst(t, ep); a.TaskID != dt.ID {
		t.Errorf("analyst task = %s, want %s", a.TaskID, dt.ID)
	}
}

func TestGetNext_NoDebugNoLogURL(t *testing.T) {
	h := newHarness(t)
	h.heartbeat(t, "http://a:5000")
	h.submit(t, job.PriorityStandard, 1)

	dt := h.dispatch(t, "http://a:5000")
	if _, ok := dt.Env[dispatcher.EnvDebugMode]; ok {
		t.Error("DEBUG_MODE set without debug")
	}
	if dt.LogURL != "" {
		t.Errorf("log url = %q, want none", dt.LogURL)
	}
}

func TestGetNext_NothingToDo(t *testing.T) {
	tests := []struct {
		name  string
		setup func(t *testing.T, h *harness)
	}{
		{"no waiting tasks", func(*testing.T, *harness) {}},
		{"locked analyst", func(t *testing.T, h *harness) {
			h.submit(t, job.PriorityStandard, 1)
			if err := h.fleet.Lock(context.Background(), "http://a:5000"); err != nil {
				t.Fatalf("Lock: %v", err)
			}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			h.heartbeat(t, "http://a:5000")
			tt.setup(t, h)

			dt, err := h.queue.GetNext(context.Background(), "http://a:5000")
			if err != nil || dt != nil {
				t.Fatalf("GetNext = %v, %v; want nil, nil", dt, err)
			}
		})
	}
}

func TestGetNext_UnknownAnalyst(t *testing.T) {
	h := newHarness(t)
	h.submit(t, job.PriorityStandard, 1)

	_, err := h.queue.GetNext(context.Background(), "http://stranger:5000")
	if !errors.Is(err, archivist.ErrAnalystNotFound) {
		t.Fatalf("err = %v, want ErrAnalystNotFound", err)
	}
	waiting, _ := h.svc.GetWaitingTasks(context.Background(), 10)
	if len(waiting) != 1 {
		t.Error("task should stay waiting")
	}
}

func TestGetNext_ConcurrentAnalystsGetDistinctTasks(t *testing.T) {
	h := newHarness(t)
	const n = 8
	endpoints := make([]string, n)
	for i := range endpoints {
		endpoints[i] = "http://analyst-" + strconv.Itoa(i) + ":5000"
		h.heartbeat(t, endpoints[i])
	}
	h.submit(t, job.PriorityStandard, n)

	var (
		mu   sync.Mutex
		seen = map[id.TaskID]string{}
		wg   sync.WaitGroup
	)
	for _, ep := range endpoints {
		wg.Add(1)
		go func() {
			defer wg.Done()
			dt, err := h.queue.GetNext(context.Background(), ep)
			if err != nil {
				t.Errorf("GetNext(%s): %v", ep, err)
				return
			}
			if dt == nil {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			if other, dup := seen[dt.ID]; dup {
				t.Errorf("task %s handed to %s and %s", dt.ID, other, ep)
			}
			seen[dt.ID] = ep
		}()
	}
	wg.Wait()

	if len(seen) != n {
		t.Errorf("dispatched %d distinct tasks, want %d", len(seen), n)
	}
}

func TestGetNext_OrganizationThrottle(t *testing.T) {
	throttle := queue.NewManager(queue.Limit{})
	throttle.SetOrgLimit("org-1", queue.Limit{Rate: 0.001, Burst: 1})
	h := newHarness(t, dispatcher.WithThrottle(throttle))
	h.heartbeat(t, "http://a:5000")
	h.heartbeat(t, "http://b:5000")
	h.submit(t, job.PriorityStandard, 2)

	h.dispatch(t, "http://a:5000")
	dt, err := h.queue.GetNext(context.Background(), "http://b:5000")
	if err != nil || dt != nil {
		t.Fatalf("throttled GetNext = %v, %v; want nil, nil", dt, err)
	}
}

// rivalStore hands out the waiting batch but lets another replica claim its
// first task before the caller gets to it.
type rivalStore struct {
	task.Store
	once    sync.Once
	claimed id.TaskID
}

func (r *rivalStore) GetWaitingTasks(ctx context.Context, limit int) ([]*task.DispatchTask, error) {
	batch, err := r.Store.GetWaitingTasks(ctx, limit)
	if err != nil || len(batch) == 0 {
		return batch, err
	}
	r.once.Do(func() {
		r.claimed = batch[0].ID
		_, err = r.Store.SetState(ctx, batch[0].ID, task.StateQueued, task.StateWaiting)
	})
	return batch, err
}

func TestGetNext_LostClaimKeepsThrottleToken(t *testing.T) {
	throttle := queue.NewManager(queue.Limit{})
	throttle.SetOrgLimit("org-1", queue.Limit{Rate: 0.001, Burst: 1})
	h := newHarness(t)
	h.heartbeat(t, "http://a:5000")
	h.submit(t, job.PriorityStandard, 2)

	rival := &rivalStore{Store: h.store}
	svc := dispatcher.NewService(rival, h.store, h.fleet, h.errors,
		dispatcher.WithClock(h.clock.Now),
		dispatcher.WithLogger(discard()),
	)
	qm := dispatcher.NewQueueManager(svc, h.signer,
		dispatcher.WithThrottle(throttle),
		dispatcher.WithQueueLogger(discard()),
	)

	dt, err := qm.GetNext(context.Background(), "http://a:5000")
	if err != nil {
		t.Fatalf("GetNext: %v", err)
	}
	if dt == nil {
		t.Fatal("losing the first claim spent org-1's only token")
	}
	if dt.ID == rival.claimed {
		t.Errorf("dispatched %s, which the other replica had claimed", dt.ID)
	}
	if throttle.Ready("org-1") {
		t.Error("successful dispatch did not take a token")
	}
}
