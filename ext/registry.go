package ext

import (
	"context"
	"log/slog"

	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/job"
	"github.com/Juanbuhler/zmlp-sub000/task"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type taskQueuedEntry struct {
	name string
	hook TaskQueued
}

type taskStartedEntry struct {
	name string
	hook TaskStarted
}

type taskStoppedEntry struct {
	name string
	hook TaskStopped
}

type taskExpandedEntry struct {
	name string
	hook TaskExpanded
}

type jobCancelledEntry struct {
	name string
	hook JobCancelled
}

type lockAcquiredEntry struct {
	name string
	hook LockAcquired
}

type lockReentrantEntry struct {
	name string
	hook LockReentrant
}

type lockContendedEntry struct {
	name string
	hook LockContended
}

type lockReclaimedEntry struct {
	name string
	hook LockReclaimed
}

type lockReclaimFailedEntry struct {
	name string
	hook LockReclaimFailed
}

type analystKillFailedEntry struct {
	name string
	hook AnalystKillFailed
}

type cronFiredEntry struct {
	name string
	hook CronFired
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Registry satisfies the Emitter interfaces of the clusterlock, analyst
// and dispatcher packages. Register every extension before the registry
// is handed to them; emit methods are not synchronized with Register.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	taskQueued        []taskQueuedEntry
	taskStarted       []taskStartedEntry
	taskStopped       []taskStoppedEntry
	taskExpanded      []taskExpandedEntry
	jobCancelled      []jobCancelledEntry
	lockAcquired      []lockAcquiredEntry
	lockReentrant     []lockReentrantEntry
	lockContended     []lockContendedEntry
	lockReclaimed     []lockReclaimedEntry
	lockReclaimFailed []lockReclaimFailedEntry
	analystKillFailed []analystKillFailedEntry
	cronFired         []cronFiredEntry
	shutdown          []shutdownEntry
}

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(TaskQueued); ok {
		r.taskQueued = append(r.taskQueued, taskQueuedEntry{name, h})
	}
	if h, ok := e.(TaskStarted); ok {
		r.taskStarted = append(r.taskStarted, taskStartedEntry{name, h})
	}
	if h, ok := e.(TaskStopped); ok {
		r.taskStopped = append(r.taskStopped, taskStoppedEntry{name, h})
	}
	if h, ok := e.(TaskExpanded); ok {
		r.taskExpanded = append(r.taskExpanded, taskExpandedEntry{name, h})
	}
	if h, ok := e.(JobCancelled); ok {
		r.jobCancelled = append(r.jobCancelled, jobCancelledEntry{name, h})
	}
	if h, ok := e.(LockAcquired); ok {
		r.lockAcquired = append(r.lockAcquired, lockAcquiredEntry{name, h})
	}
	if h, ok := e.(LockReentrant); ok {
		r.lockReentrant = append(r.lockReentrant, lockReentrantEntry{name, h})
	}
	if h, ok := e.(LockContended); ok {
		r.lockContended = append(r.lockContended, lockContendedEntry{name, h})
	}
	if h, ok := e.(LockReclaimed); ok {
		r.lockReclaimed = append(r.lockReclaimed, lockReclaimedEntry{name, h})
	}
	if h, ok := e.(LockReclaimFailed); ok {
		r.lockReclaimFailed = append(r.lockReclaimFailed, lockReclaimFailedEntry{name, h})
	}
	if h, ok := e.(AnalystKillFailed); ok {
		r.analystKillFailed = append(r.analystKillFailed, analystKillFailedEntry{name, h})
	}
	if h, ok := e.(CronFired); ok {
		r.cronFired = append(r.cronFired, cronFiredEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Task event emitters
// ──────────────────────────────────────────────────

// EmitTaskQueued notifies all extensions that implement TaskQueued.
func (r *Registry) EmitTaskQueued(ctx context.Context, t *task.DispatchTask, endpoint string) {
	for _, e := range r.taskQueued {
		if err := e.hook.OnTaskQueued(ctx, t, endpoint); err != nil {
			r.logHookError("OnTaskQueued", e.name, err)
		}
	}
}

// EmitTaskStarted notifies all extensions that implement TaskStarted.
func (r *Registry) EmitTaskStarted(ctx context.Context, t *task.Task) {
	for _, e := range r.taskStarted {
		if err := e.hook.OnTaskStarted(ctx, t); err != nil {
			r.logHookError("OnTaskStarted", e.name, err)
		}
	}
}

// EmitTaskStopped notifies all extensions that implement TaskStopped.
func (r *Registry) EmitTaskStopped(ctx context.Context, t *task.Task, state task.State, exitStatus int) {
	for _, e := range r.taskStopped {
		if err := e.hook.OnTaskStopped(ctx, t, state, exitStatus); err != nil {
			r.logHookError("OnTaskStopped", e.name, err)
		}
	}
}

// EmitTaskExpanded notifies all extensions that implement TaskExpanded.
func (r *Registry) EmitTaskExpanded(ctx context.Context, parent, child *task.Task) {
	for _, e := range r.taskExpanded {
		if err := e.hook.OnTaskExpanded(ctx, parent, child); err != nil {
			r.logHookError("OnTaskExpanded", e.name, err)
		}
	}
}

// EmitJobCancelled notifies all extensions that implement JobCancelled.
func (r *Registry) EmitJobCancelled(ctx context.Context, j *job.Job, killed int) {
	for _, e := range r.jobCancelled {
		if err := e.hook.OnJobCancelled(ctx, j, killed); err != nil {
			r.logHookError("OnJobCancelled", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Cluster lock event emitters
// ──────────────────────────────────────────────────

// EmitLockAcquired notifies all extensions that implement LockAcquired.
func (r *Registry) EmitLockAcquired(ctx context.Context, name string) {
	for _, e := range r.lockAcquired {
		if err := e.hook.OnLockAcquired(ctx, name); err != nil {
			r.logHookError("OnLockAcquired", e.name, err)
		}
	}
}

// EmitLockReentrant notifies all extensions that implement LockReentrant.
func (r *Registry) EmitLockReentrant(ctx context.Context, name string) {
	for _, e := range r.lockReentrant {
		if err := e.hook.OnLockReentrant(ctx, name); err != nil {
			r.logHookError("OnLockReentrant", e.name, err)
		}
	}
}

// EmitLockContended notifies all extensions that implement LockContended.
func (r *Registry) EmitLockContended(ctx context.Context, name string) {
	for _, e := range r.lockContended {
		if err := e.hook.OnLockContended(ctx, name); err != nil {
			r.logHookError("OnLockContended", e.name, err)
		}
	}
}

// EmitLockReclaimed notifies all extensions that implement LockReclaimed.
func (r *Registry) EmitLockReclaimed(ctx context.Context, name string) {
	for _, e := range r.lockReclaimed {
		if err := e.hook.OnLockReclaimed(ctx, name); err != nil {
			r.logHookError("OnLockReclaimed", e.name, err)
		}
	}
}

// EmitLockReclaimFailed notifies all extensions that implement LockReclaimFailed.
func (r *Registry) EmitLockReclaimFailed(ctx context.Context, name string) {
	for _, e := range r.lockReclaimFailed {
		if err := e.hook.OnLockReclaimFailed(ctx, name); err != nil {
			r.logHookError("OnLockReclaimFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitAnalystKillFailed notifies all extensions that implement AnalystKillFailed.
func (r *Registry) EmitAnalystKillFailed(ctx context.Context, endpoint string, taskID id.TaskID, killErr error) {
	for _, e := range r.analystKillFailed {
		if err := e.hook.OnAnalystKillFailed(ctx, endpoint, taskID, killErr); err != nil {
			r.logHookError("OnAnalystKillFailed", e.name, err)
		}
	}
}

// EmitCronFired notifies all extensions that implement CronFired.
func (r *Registry) EmitCronFired(ctx context.Context, entryName string) {
	for _, e := range r.cronFired {
		if err := e.hook.OnCronFired(ctx, entryName); err != nil {
			r.logHookError("OnCronFired", e.name, err)
		}
	}
}

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated; they must not block dispatch.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
