package dispatcher_test

import (
	"context"
	"testing"
	"time"

	"github.com/Juanbuhler/zmlp-sub000/job"
	"github.com/Juanbuhler/zmlp-sub000/task"
)

func TestCancelJob_KillsEveryDispatchedTask(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.heartbeat(t, "http://a:5000")
	h.heartbeat(t, "http://b:5000")
	h.killer.unreachable["http://b:5000"] = true

	j, _ := h.submit(t, job.PriorityStandard, 3)
	ta := h.running(t, "http://a:5000")
	tb := h.running(t, "http://b:5000")

	ok, err := h.svc.CancelJob(ctx, j.ID, "user cancelled")
	if err != nil || !ok {
		t.Fatalf("CancelJob = %v, %v", ok, err)
	}

	calls := h.killer.Calls()
	if len(calls) != 2 {
		t.Fatalf("kill requests = %d, want 2", len(calls))
	}
	for _, c := range calls {
		if c.req.NewState != task.StateWaiting || c.req.Reason != "user cancelled" {
			t.Errorf("kill request = %+v", c.req)
		}
	}
	for _, tk := range []*task.Task{ta, tb} {
		got := h.task(t, tk.ID)
		if got.State != task.StateWaiting || got.HostEndpoint != "" {
			t.Errorf("task %s: state=%s endpoint=%q, want waiting with no endpoint", tk.ID, got.State, got.HostEndpoint)
		}
	}
	for _, ep := range []string{"http://a:5000", "http://b:5000"} {
		if a := h.analyst(t, ep); !a.TaskID.IsNil() {
			t.Errorf("analyst %s still holds a task", ep)
		}
	}
	if gotJob, _ := h.store.GetJob(ctx, j.ID); gotJob.State != job.StateCancelled {
		t.Errorf("job state = %s, want cancelled", gotJob.State)
	}
	if len(h.emitter.killed) != 1 || h.emitter.killed[0] != 1 {
		t.Errorf("cancel hook killed = %v, want [1]", h.emitter.killed)
	}

	// Cancelling twice is a no-op.
	ok, err = h.svc.CancelJob(ctx, j.ID, "again")
	if err != nil || ok {
		t.Fatalf("second CancelJob = %v, %v; want false, nil", ok, err)
	}

	// A restarted job dispatches again.
	if ok, err := h.svc.RestartJob(ctx, j.ID); err != nil || !ok {
		t.Fatalf("RestartJob = %v, %v", ok, err)
	}
	waiting, _ := h.svc.GetWaitingTasks(ctx, 10)
	if len(waiting) != 3 {
		t.Errorf("waiting after restart = %d, want 3", len(waiting))
	}
}

func TestRetryAndSkip_UnreachableAnalyst(t *testing.T) {
	tests := []struct {
		name string
		op   func(h *harness, tk *task.Task) (bool, error)
		want task.State
	}{
		{"retry", func(h *harness, tk *task.Task) (bool, error) {
			return h.svc.RetryTask(context.Background(), tk.ID, "operator retry")
		}, task.StateWaiting},
		{"skip", func(h *harness, tk *task.Task) (bool, error) {
			return h.svc.SkipTask(context.Background(), tk.ID, "operator skip")
		}, task.StateSkipped},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			const ep = "http://gone:5000"
			h.heartbeat(t, ep)
			h.killer.unreachable[ep] = true
			h.submit(t, job.PriorityStandard, 1)
			tk := h.running(t, ep)

			ok, err := tt.op(h, tk)
			if err != nil || !ok {
				t.Fatalf("op = %v, %v", ok, err)
			}
			if calls := h.killer.Calls(); len(calls) != 1 || calls[0].req.NewState != tt.want {
				t.Errorf("kill calls = %+v", calls)
			}
			got := h.task(t, tk.ID)
			if got.State != tt.want || got.HostEndpoint != "" {
				t.Errorf("state=%s endpoint=%q, want %s with no endpoint", got.State, got.HostEndpoint, tt.want)
			}
			if a := h.analyst(t, ep); !a.TaskID.IsNil() {
				t.Error("analyst still holds the task")
			}
		})
	}
}

func TestRetryTask_WaitingIsNoop(t *testing.T) {
	h := newHarness(t)
	_, tasks := h.submit(t, job.PriorityStandard, 1)

	ok, err := h.svc.RetryTask(context.Background(), tasks[0].ID, "why")
	if err != nil || ok {
		t.Fatalf("RetryTask on waiting task = %v, %v; want false, nil", ok, err)
	}
	if len(h.killer.Calls()) != 0 {
		t.Error("waiting task should not be killed")
	}
}

func TestPauseJob_Until(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	j, _ := h.submit(t, job.PriorityStandard, 1)

	until := h.clock.Now().Add(time.Hour)
	if err := h.svc.PauseJob(ctx, j.ID, &until); err != nil {
		t.Fatalf("PauseJob: %v", err)
	}
	if got, _ := h.svc.GetWaitingTasks(ctx, 10); len(got) != 0 {
		t.Fatalf("paused job dispatched %d tasks", len(got))
	}

	h.clock.Advance(2 * time.Hour)
	if got, _ := h.svc.GetWaitingTasks(ctx, 10); len(got) != 1 {
		t.Fatalf("expired pause: got %d tasks, want 1", len(got))
	}
}
