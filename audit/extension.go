package audit

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/Juanbuhler/zmlp-sub000/ext"
	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/job"
	"github.com/Juanbuhler/zmlp-sub000/task"
)

// Compile-time interface checks.
var (
	_ ext.Extension         = (*Extension)(nil)
	_ ext.TaskQueued        = (*Extension)(nil)
	_ ext.TaskStarted       = (*Extension)(nil)
	_ ext.TaskStopped       = (*Extension)(nil)
	_ ext.TaskExpanded      = (*Extension)(nil)
	_ ext.JobCancelled      = (*Extension)(nil)
	_ ext.LockContended     = (*Extension)(nil)
	_ ext.LockReclaimed     = (*Extension)(nil)
	_ ext.LockReclaimFailed = (*Extension)(nil)
	_ ext.AnalystKillFailed = (*Extension)(nil)
	_ ext.CronFired         = (*Extension)(nil)
)

// Recorder persists audit events.
type Recorder interface {
	Record(ctx context.Context, event *Event) error
}

// Event is one audit trail entry.
type Event struct {
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *Event) error

// Record calls f.
func (f RecorderFunc) Record(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// NewLogRecorder returns a Recorder writing each event as one structured
// log record. Critical events log at error level, warnings at warn.
func NewLogRecorder(logger *slog.Logger) Recorder {
	return RecorderFunc(func(ctx context.Context, evt *Event) error {
		level := slog.LevelInfo
		switch evt.Severity {
		case SeverityWarning:
			level = slog.LevelWarn
		case SeverityCritical:
			level = slog.LevelError
		}
		attrs := []slog.Attr{
			slog.String("action", evt.Action),
			slog.String("resource", evt.Resource),
			slog.String("resource_id", evt.ResourceID),
			slog.String("category", evt.Category),
			slog.String("outcome", evt.Outcome),
		}
		if evt.Reason != "" {
			attrs = append(attrs, slog.String("reason", evt.Reason))
		}
		for k, v := range evt.Metadata {
			attrs = append(attrs, slog.Any(k, v))
		}
		logger.LogAttrs(ctx, level, "audit", attrs...)
		return nil
	})
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension bridges archivist lifecycle hooks to an audit trail.
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through r.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements ext.Extension.
func (e *Extension) Name() string { return "audit" }

// ── Task lifecycle hooks ────────────────────────────

// OnTaskQueued implements ext.TaskQueued.
func (e *Extension) OnTaskQueued(ctx context.Context, t *task.DispatchTask, endpoint string) error {
	return e.record(ctx, ActionTaskQueued, SeverityInfo, OutcomeSuccess,
		ResourceTask, t.ID.String(), CategoryTask, nil,
		"job_id", t.JobID.String(),
		"task_name", t.Name,
		"organization_id", t.OrganizationID,
		"endpoint", endpoint,
	)
}

// OnTaskStarted implements ext.TaskStarted.
func (e *Extension) OnTaskStarted(ctx context.Context, t *task.Task) error {
	return e.record(ctx, ActionTaskStarted, SeverityInfo, OutcomeSuccess,
		ResourceTask, t.ID.String(), CategoryTask, nil,
		"job_id", t.JobID.String(),
		"endpoint", t.HostEndpoint,
	)
}

// OnTaskStopped implements ext.TaskStopped. Failures are critical, a task
// sent back to Waiting for retry is a warning.
func (e *Extension) OnTaskStopped(ctx context.Context, t *task.Task, state task.State, exitStatus int) error {
	severity, outcome := SeverityInfo, OutcomeSuccess
	switch state {
	case task.StateFailure:
		severity, outcome = SeverityCritical, OutcomeFailure
	case task.StateWaiting, task.StateSkipped:
		severity, outcome = SeverityWarning, OutcomeFailure
	}
	return e.record(ctx, ActionTaskStopped, severity, outcome,
		ResourceTask, t.ID.String(), CategoryTask, nil,
		"job_id", t.JobID.String(),
		"state", string(state),
		"exit_status", exitStatus,
		"retry_count", t.RetryCount,
	)
}

// OnTaskExpanded implements ext.TaskExpanded.
func (e *Extension) OnTaskExpanded(ctx context.Context, parent, child *task.Task) error {
	return e.record(ctx, ActionTaskExpanded, SeverityInfo, OutcomeSuccess,
		ResourceTask, child.ID.String(), CategoryTask, nil,
		"job_id", child.JobID.String(),
		"parent_id", parent.ID.String(),
		"task_name", child.Name,
	)
}

// ── Job lifecycle hooks ─────────────────────────────

// OnJobCancelled implements ext.JobCancelled.
func (e *Extension) OnJobCancelled(ctx context.Context, j *job.Job, killed int) error {
	return e.record(ctx, ActionJobCancelled, SeverityWarning, OutcomeSuccess,
		ResourceJob, j.ID.String(), CategoryJob, nil,
		"job_name", j.Name,
		"organization_id", j.OrganizationID,
		"killed", killed,
	)
}

// ── Cluster lock hooks ──────────────────────────────

// OnLockContended implements ext.LockContended.
func (e *Extension) OnLockContended(ctx context.Context, name string) error {
	return e.record(ctx, ActionLockContended, SeverityWarning, OutcomeFailure,
		ResourceLock, name, CategoryLock, nil)
}

// OnLockReclaimed implements ext.LockReclaimed.
func (e *Extension) OnLockReclaimed(ctx context.Context, name string) error {
	return e.record(ctx, ActionLockReclaimed, SeverityWarning, OutcomeSuccess,
		ResourceLock, name, CategoryLock, nil)
}

// OnLockReclaimFailed implements ext.LockReclaimFailed.
func (e *Extension) OnLockReclaimFailed(ctx context.Context, name string) error {
	return e.record(ctx, ActionLockReclaimFailed, SeverityCritical, OutcomeFailure,
		ResourceLock, name, CategoryLock, nil)
}

// ── Analyst and cron hooks ──────────────────────────

// OnAnalystKillFailed implements ext.AnalystKillFailed.
func (e *Extension) OnAnalystKillFailed(ctx context.Context, endpoint string, taskID id.TaskID, killErr error) error {
	return e.record(ctx, ActionKillFailed, SeverityCritical, OutcomeFailure,
		ResourceAnalyst, endpoint, CategoryAnalyst, killErr,
		"task_id", taskID.String(),
	)
}

// OnCronFired implements ext.CronFired.
func (e *Extension) OnCronFired(ctx context.Context, entryName string) error {
	return e.record(ctx, ActionCronFired, SeverityInfo, OutcomeSuccess,
		ResourceCron, entryName, CategoryCron, nil)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// kvPairs is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &Event{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit: failed to record event",
			slog.String("action", action),
			slog.String("resource_id", resourceID),
			slog.String("error", recErr.Error()),
		)
	}
	return nil
}
