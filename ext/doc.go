// Package ext defines the extension system for archivist.
//
// Extensions are notified of lifecycle events and can react to them:
// recording metrics, writing audit logs, paging on lock trouble.
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
//
// # Implementing an Extension
//
//	type Auditor struct{}
//
//	func (a *Auditor) Name() string { return "auditor" }
//
//	func (a *Auditor) OnJobCancelled(ctx context.Context, j *job.Job, killed int) error {
//	    log.Printf("job %s cancelled, %d tasks killed", j.ID, killed)
//	    return nil
//	}
//
// # Task Hooks
//
//   - [TaskQueued]: a task was claimed for an analyst
//   - [TaskStarted]: an analyst started a task
//   - [TaskStopped]: a task stopped, with the state it moved to
//   - [TaskExpanded]: a running task registered a child task
//   - [JobCancelled]: a job was cancelled and its tasks killed
//
// # Cluster Lock Hooks
//
//   - [LockAcquired], [LockReentrant], [LockContended]
//   - [LockReclaimed], [LockReclaimFailed]: expiry sweep outcomes
//
// # Other Hooks
//
//   - [AnalystKillFailed]: a kill RPC could not reach its analyst
//   - [CronFired]: a maintenance entry fired
//   - [Shutdown]: the server is shutting down gracefully
//
// The [Registry] fans out each event to all registered extensions that
// implement the corresponding hook interface.
package ext
