package ext

import (
	"context"

	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/job"
	"github.com/Juanbuhler/zmlp-sub000/task"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Task lifecycle hooks
// ──────────────────────────────────────────────────

// TaskQueued is called after a task was claimed for an analyst.
type TaskQueued interface {
	OnTaskQueued(ctx context.Context, t *task.DispatchTask, endpoint string) error
}

// TaskStarted is called when an analyst reports a task running.
type TaskStarted interface {
	OnTaskStarted(ctx context.Context, t *task.Task) error
}

// TaskStopped is called after a task left the running state. state is the
// state it moved to: waiting for a retry, or a terminal state.
type TaskStopped interface {
	OnTaskStopped(ctx context.Context, t *task.Task, state task.State, exitStatus int) error
}

// TaskExpanded is called after a running task registered a child task.
type TaskExpanded interface {
	OnTaskExpanded(ctx context.Context, parent, child *task.Task) error
}

// JobCancelled is called after a job was cancelled. killed counts the
// kill requests analysts accepted.
type JobCancelled interface {
	OnJobCancelled(ctx context.Context, j *job.Job, killed int) error
}

// ──────────────────────────────────────────────────
// Cluster lock hooks
// ──────────────────────────────────────────────────

// LockAcquired is called when a lock row was written.
type LockAcquired interface {
	OnLockAcquired(ctx context.Context, name string) error
}

// LockReentrant is called when a flow re-acquired a name it holds.
type LockReentrant interface {
	OnLockReentrant(ctx context.Context, name string) error
}

// LockContended is called when an acquisition found the name held.
type LockContended interface {
	OnLockContended(ctx context.Context, name string) error
}

// LockReclaimed is called when an expired lock row was cleared.
type LockReclaimed interface {
	OnLockReclaimed(ctx context.Context, name string) error
}

// LockReclaimFailed is called when an expired row turned out to be live.
type LockReclaimFailed interface {
	OnLockReclaimFailed(ctx context.Context, name string) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// AnalystKillFailed is called when a kill RPC could not reach an analyst.
type AnalystKillFailed interface {
	OnAnalystKillFailed(ctx context.Context, endpoint string, taskID id.TaskID, err error) error
}

// CronFired is called when a maintenance entry fires.
type CronFired interface {
	OnCronFired(ctx context.Context, entryName string) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
