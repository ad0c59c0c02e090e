package ext_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/Juanbuhler/zmlp-sub000/analyst"
	"github.com/Juanbuhler/zmlp-sub000/clusterlock"
	"github.com/Juanbuhler/zmlp-sub000/ext"
	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/job"
	"github.com/Juanbuhler/zmlp-sub000/task"
)

var (
	_ clusterlock.Emitter = (*ext.Registry)(nil)
	_ analyst.Emitter     = (*ext.Registry)(nil)
)

// ──────────────────────────────────────────────────
// Test extensions
// ──────────────────────────────────────────────────

// allHooksExt implements every lifecycle hook for testing.
type allHooksExt struct {
	calls []string
}

func (e *allHooksExt) Name() string { return "all-hooks" }

func (e *allHooksExt) record(name string) error {
	e.calls = append(e.calls, name)
	return nil
}

func (e *allHooksExt) OnTaskQueued(context.Context, *task.DispatchTask, string) error {
	return e.record("OnTaskQueued")
}

func (e *allHooksExt) OnTaskStarted(context.Context, *task.Task) error {
	return e.record("OnTaskStarted")
}

func (e *allHooksExt) OnTaskStopped(context.Context, *task.Task, task.State, int) error {
	return e.record("OnTaskStopped")
}

func (e *allHooksExt) OnTaskExpanded(context.Context, *task.Task, *task.Task) error {
	return e.record("OnTaskExpanded")
}

func (e *allHooksExt) OnJobCancelled(context.Context, *job.Job, int) error {
	return e.record("OnJobCancelled")
}

func (e *allHooksExt) OnLockAcquired(context.Context, string) error {
	return e.record("OnLockAcquired")
}

func (e *allHooksExt) OnLockReentrant(context.Context, string) error {
	return e.record("OnLockReentrant")
}

func (e *allHooksExt) OnLockContended(context.Context, string) error {
	return e.record("OnLockContended")
}

func (e *allHooksExt) OnLockReclaimed(context.Context, string) error {
	return e.record("OnLockReclaimed")
}

func (e *allHooksExt) OnLockReclaimFailed(context.Context, string) error {
	return e.record("OnLockReclaimFailed")
}

func (e *allHooksExt) OnAnalystKillFailed(context.Context, string, id.TaskID, error) error {
	return e.record("OnAnalystKillFailed")
}

func (e *allHooksExt) OnCronFired(context.Context, string) error {
	return e.record("OnCronFired")
}

func (e *allHooksExt) OnShutdown(context.Context) error {
	return e.record("OnShutdown")
}

// queuedOnlyExt implements only TaskQueued.
type queuedOnlyExt struct {
	calls []string
}

func (e *queuedOnlyExt) Name() string { return "queued-only" }

func (e *queuedOnlyExt) OnTaskQueued(context.Context, *task.DispatchTask, string) error {
	e.calls = append(e.calls, "OnTaskQueued")
	return nil
}

// failingExt returns errors from its hooks.
type failingExt struct{}

func (e *failingExt) Name() string { return "failing" }

func (e *failingExt) OnTaskQueued(context.Context, *task.DispatchTask, string) error {
	return errors.New("queued boom")
}

func (e *failingExt) OnShutdown(context.Context) error {
	return errors.New("shutdown boom")
}

func newTask() *task.Task {
	return task.New(id.NewJobID(), "t", &task.Script{})
}

// ──────────────────────────────────────────────────
// Tests
// ──────────────────────────────────────────────────

func TestRegistry_RegisterDiscoversInterfaces(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	r.Register(&allHooksExt{})

	if got := len(r.Extensions()); got != 1 {
		t.Fatalf("expected 1 extension, got %d", got)
	}
	if got := r.Extensions()[0].Name(); got != "all-hooks" {
		t.Fatalf("expected name 'all-hooks', got %q", got)
	}
}

func TestRegistry_EmitFiresOnlyImplementors(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	qo := &queuedOnlyExt{}
	r.Register(all)
	r.Register(qo)

	ctx := context.Background()
	dt := &task.DispatchTask{Task: *newTask()}

	r.EmitTaskQueued(ctx, dt, "http://analyst-1:5000")
	if len(all.calls) != 1 || len(qo.calls) != 1 {
		t.Fatalf("expected both called once, got all=%v qo=%v", all.calls, qo.calls)
	}

	r.EmitTaskStarted(ctx, &dt.Task)
	if len(all.calls) != 2 || all.calls[1] != "OnTaskStarted" {
		t.Fatalf("all: expected OnTaskStarted as 2nd, got %v", all.calls)
	}
	if len(qo.calls) != 1 {
		t.Fatalf("qo: should still have 1 call, got %v", qo.calls)
	}
}

func TestRegistry_AllHooksFire(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}
	r.Register(all)

	ctx := context.Background()
	tk := newTask()
	j := job.New("j", "org")

	r.EmitTaskQueued(ctx, &task.DispatchTask{Task: *tk}, "ep")
	r.EmitTaskStarted(ctx, tk)
	r.EmitTaskStopped(ctx, tk, task.StateSuccess, 0)
	r.EmitTaskExpanded(ctx, tk, newTask())
	r.EmitJobCancelled(ctx, j, 2)
	r.EmitLockAcquired(ctx, "l")
	r.EmitLockReentrant(ctx, "l")
	r.EmitLockContended(ctx, "l")
	r.EmitLockReclaimed(ctx, "l")
	r.EmitLockReclaimFailed(ctx, "l")
	r.EmitAnalystKillFailed(ctx, "ep", tk.ID, errors.New("unreachable"))
	r.EmitCronFired(ctx, "lock-expiration")
	r.EmitShutdown(ctx)

	expected := []string{
		"OnTaskQueued", "OnTaskStarted", "OnTaskStopped", "OnTaskExpanded",
		"OnJobCancelled", "OnLockAcquired", "OnLockReentrant", "OnLockContended",
		"OnLockReclaimed", "OnLockReclaimFailed", "OnAnalystKillFailed",
		"OnCronFired", "OnShutdown",
	}
	if len(all.calls) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(all.calls), all.calls)
	}
	for i, want := range expected {
		if all.calls[i] != want {
			t.Errorf("call[%d] = %q, want %q", i, all.calls[i], want)
		}
	}
}

func TestRegistry_HookErrorsLoggedNotPropagated(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	all := &allHooksExt{}

	// Register failing first, then all-hooks. Both should be called.
	r.Register(&failingExt{})
	r.Register(all)

	ctx := context.Background()
	r.EmitTaskQueued(ctx, &task.DispatchTask{Task: *newTask()}, "ep")
	r.EmitShutdown(ctx)

	if len(all.calls) != 2 || all.calls[0] != "OnTaskQueued" || all.calls[1] != "OnShutdown" {
		t.Fatalf("all: expected hooks to fire despite failing ext, got %v", all.calls)
	}
}

func TestRegistry_EmptyRegistryNoOp(_ *testing.T) {
	r := ext.NewRegistry(nil)
	ctx := context.Background()

	// None of these should panic.
	r.EmitTaskQueued(ctx, &task.DispatchTask{}, "")
	r.EmitTaskStarted(ctx, &task.Task{})
	r.EmitTaskStopped(ctx, &task.Task{}, task.StateFailure, 1)
	r.EmitTaskExpanded(ctx, &task.Task{}, &task.Task{})
	r.EmitJobCancelled(ctx, &job.Job{}, 0)
	r.EmitLockAcquired(ctx, "x")
	r.EmitAnalystKillFailed(ctx, "", id.Nil, errors.New("x"))
	r.EmitCronFired(ctx, "x")
	r.EmitShutdown(ctx)
}

func TestRegistry_MultipleExtensionsOrderPreserved(t *testing.T) {
	r := ext.NewRegistry(slog.Default())
	var order []string
	r.Register(&orderExt{name: "first", order: &order})
	r.Register(&orderExt{name: "second", order: &order})

	r.EmitCronFired(context.Background(), "sweep")

	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("expected [first second], got %v", order)
	}
}

type orderExt struct {
	name  string
	order *[]string
}

func (e *orderExt) Name() string { return e.name }

func (e *orderExt) OnCronFired(context.Context, string) error {
	*e.order = append(*e.order, e.name)
	return nil
}
