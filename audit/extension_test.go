package audit_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/Juanbuhler/zmlp-sub000/audit"
	"github.com/Juanbuhler/zmlp-sub000/ext"
	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/job"
	"github.com/Juanbuhler/zmlp-sub000/task"
)

// ── Mock recorder ────────────────────────────────────

type mockRecorder struct {
	mu     sync.Mutex
	events []*audit.Event
}

func (m *mockRecorder) Record(_ context.Context, evt *audit.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, evt)
	return nil
}

func (m *mockRecorder) last() *audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.events) == 0 {
		return nil
	}
	return m.events[len(m.events)-1]
}

func (m *mockRecorder) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.events)
}

func (m *mockRecorder) findByAction(action string) *audit.Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, evt := range m.events {
		if evt.Action == action {
			return evt
		}
	}
	return nil
}

// ── Test helpers ─────────────────────────────────────

func newTestJob() *job.Job {
	return job.New("ingest", "org-1")
}

func newTestTask(j *job.Job) *task.Task {
	t := task.New(j.ID, "import", nil)
	t.HostEndpoint = "http://a1:5000"
	t.RetryCount = 1
	return t
}

// ── Tests ────────────────────────────────────────────

func TestExtension_Name(t *testing.T) {
	if name := audit.New(&mockRecorder{}).Name(); name != "audit" {
		t.Errorf("Name() = %q, want audit", name)
	}
}

func TestExtension_TaskQueued(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	j := newTestJob()
	dt := &task.DispatchTask{Task: *newTestTask(j), OrganizationID: "org-1"}

	if err := e.OnTaskQueued(context.Background(), dt, "http://a1:5000"); err != nil {
		t.Fatalf("OnTaskQueued: %v", err)
	}

	evt := rec.last()
	if evt == nil {
		t.Fatal("no event recorded")
	}
	if evt.Action != audit.ActionTaskQueued {
		t.Errorf("Action = %q", evt.Action)
	}
	if evt.Resource != audit.ResourceTask || evt.Category != audit.CategoryTask {
		t.Errorf("Resource/Category = %q/%q", evt.Resource, evt.Category)
	}
	if evt.ResourceID != dt.ID.String() {
		t.Errorf("ResourceID = %q, want %q", evt.ResourceID, dt.ID.String())
	}
	if evt.Metadata["endpoint"] != "http://a1:5000" {
		t.Errorf("Metadata[endpoint] = %v", evt.Metadata["endpoint"])
	}
	if evt.Metadata["organization_id"] != "org-1" {
		t.Errorf("Metadata[organization_id] = %v", evt.Metadata["organization_id"])
	}
}

func TestExtension_TaskStopped_Severity(t *testing.T) {
	tests := []struct {
		state    task.State
		severity string
		outcome  string
	}{
		{task.StateSuccess, audit.SeverityInfo, audit.OutcomeSuccess},
		{task.StateFailure, audit.SeverityCritical, audit.OutcomeFailure},
		{task.StateWaiting, audit.SeverityWarning, audit.OutcomeFailure},
		{task.StateSkipped, audit.SeverityWarning, audit.OutcomeFailure},
	}
	for _, tt := range tests {
		t.Run(string(tt.state), func(t *testing.T) {
			rec := &mockRecorder{}
			e := audit.New(rec)
			tk := newTestTask(newTestJob())

			if err := e.OnTaskStopped(context.Background(), tk, tt.state, 3); err != nil {
				t.Fatalf("OnTaskStopped: %v", err)
			}
			evt := rec.last()
			if evt.Severity != tt.severity || evt.Outcome != tt.outcome {
				t.Errorf("severity/outcome = %s/%s, want %s/%s", evt.Severity, evt.Outcome, tt.severity, tt.outcome)
			}
			if evt.Metadata["exit_status"] != 3 {
				t.Errorf("Metadata[exit_status] = %v", evt.Metadata["exit_status"])
			}
			if evt.Metadata["state"] != string(tt.state) {
				t.Errorf("Metadata[state] = %v", evt.Metadata["state"])
			}
		})
	}
}

func TestExtension_TaskExpanded(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	j := newTestJob()
	parent, child := newTestTask(j), newTestTask(j)

	if err := e.OnTaskExpanded(context.Background(), parent, child); err != nil {
		t.Fatalf("OnTaskExpanded: %v", err)
	}
	evt := rec.last()
	if evt.ResourceID != child.ID.String() {
		t.Errorf("ResourceID = %q, want child", evt.ResourceID)
	}
	if evt.Metadata["parent_id"] != parent.ID.String() {
		t.Errorf("Metadata[parent_id] = %v", evt.Metadata["parent_id"])
	}
}

func TestExtension_JobCancelled(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	j := newTestJob()

	if err := e.OnJobCancelled(context.Background(), j, 2); err != nil {
		t.Fatalf("OnJobCancelled: %v", err)
	}
	evt := rec.last()
	if evt.Action != audit.ActionJobCancelled || evt.Resource != audit.ResourceJob {
		t.Errorf("event = %+v", evt)
	}
	if evt.Metadata["killed"] != 2 {
		t.Errorf("Metadata[killed] = %v", evt.Metadata["killed"])
	}
}

func TestExtension_KillFailed(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec)
	taskID := id.NewTaskID()

	if err := e.OnAnalystKillFailed(context.Background(), "http://a1:5000", taskID, errors.New("connection refused")); err != nil {
		t.Fatalf("OnAnalystKillFailed: %v", err)
	}
	evt := rec.last()
	if evt.Severity != audit.SeverityCritical {
		t.Errorf("Severity = %q", evt.Severity)
	}
	if evt.Reason != "connection refused" {
		t.Errorf("Reason = %q", evt.Reason)
	}
	if evt.ResourceID != "http://a1:5000" {
		t.Errorf("ResourceID = %q", evt.ResourceID)
	}
	if evt.Metadata["task_id"] != taskID.String() {
		t.Errorf("Metadata[task_id] = %v", evt.Metadata["task_id"])
	}
}

func TestExtension_WithActions_FiltersDisabled(t *testing.T) {
	rec := &mockRecorder{}
	e := audit.New(rec, audit.WithActions(audit.ActionCronFired, audit.ActionLockReclaimFailed))
	ctx := context.Background()

	if err := e.OnLockContended(ctx, "taxonomy"); err != nil {
		t.Fatalf("OnLockContended: %v", err)
	}
	if rec.count() != 0 {
		t.Errorf("expected 0 events (contended disabled), got %d", rec.count())
	}

	if err := e.OnCronFired(ctx, "task-orphans"); err != nil {
		t.Fatalf("OnCronFired: %v", err)
	}
	if err := e.OnLockReclaimFailed(ctx, "taxonomy"); err != nil {
		t.Fatalf("OnLockReclaimFailed: %v", err)
	}
	if rec.count() != 2 {
		t.Errorf("expected 2 events, got %d", rec.count())
	}
}

func TestExtension_RecorderError_DoesNotPropagate(t *testing.T) {
	failing := audit.RecorderFunc(func(context.Context, *audit.Event) error {
		return errors.New("audit backend down")
	})
	var logs bytes.Buffer
	e := audit.New(failing, audit.WithLogger(slog.New(slog.NewTextHandler(&logs, nil))))

	if err := e.OnCronFired(context.Background(), "task-orphans"); err != nil {
		t.Fatalf("expected the recorder error to be swallowed, got %v", err)
	}
	if !strings.Contains(logs.String(), "audit backend down") {
		t.Errorf("recorder failure not logged: %s", logs.String())
	}
}

func TestLogRecorder(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	e := audit.New(audit.NewLogRecorder(logger))

	if err := e.OnLockReclaimFailed(context.Background(), "cluster-lock-expiration"); err != nil {
		t.Fatalf("OnLockReclaimFailed: %v", err)
	}
	out := buf.String()
	for _, want := range []string{"level=ERROR", "action=lock.reclaim_failed", "resource_id=cluster-lock-expiration"} {
		if !strings.Contains(out, want) {
			t.Errorf("log missing %q: %s", want, out)
		}
	}
}

func TestExtension_ViaRegistry(t *testing.T) {
	rec := &mockRecorder{}
	reg := ext.NewRegistry(slog.Default())
	reg.Register(audit.New(rec))

	ctx := context.Background()
	j := newTestJob()
	tk := newTestTask(j)

	reg.EmitTaskQueued(ctx, &task.DispatchTask{Task: *tk}, "http://a1:5000")
	reg.EmitTaskStarted(ctx, tk)
	reg.EmitTaskStopped(ctx, tk, task.StateSuccess, 0)
	reg.EmitTaskExpanded(ctx, tk, newTestTask(j))
	reg.EmitJobCancelled(ctx, j, 0)
	reg.EmitLockContended(ctx, "l1")
	reg.EmitLockReclaimed(ctx, "l1")
	reg.EmitLockReclaimFailed(ctx, "l2")
	reg.EmitAnalystKillFailed(ctx, "http://a1:5000", tk.ID, errors.New("down"))
	reg.EmitCronFired(ctx, "task-orphans")

	// Hooks the extension does not implement record nothing.
	reg.EmitLockAcquired(ctx, "l1")
	reg.EmitShutdown(ctx)

	all := audit.AllActions()
	if rec.count() != len(all) {
		t.Fatalf("expected %d events, got %d", len(all), rec.count())
	}
	for _, action := range all {
		if rec.findByAction(action) == nil {
			t.Errorf("missing event for action %q", action)
		}
	}
}
