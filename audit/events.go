package audit

// Audit event actions. Each constant corresponds to one lifecycle hook
// and becomes the Action field of the audit event.
const (
	ActionTaskQueued        = "task.queued"
	ActionTaskStarted       = "task.started"
	ActionTaskStopped       = "task.stopped"
	ActionTaskExpanded      = "task.expanded"
	ActionJobCancelled      = "job.cancelled"
	ActionLockContended     = "lock.contended"
	ActionLockReclaimed     = "lock.reclaimed"
	ActionLockReclaimFailed = "lock.reclaim_failed"
	ActionKillFailed        = "analyst.kill_failed"
	ActionCronFired         = "cron.fired"
)

// Audit event categories group related actions.
const (
	CategoryTask    = "archivist.task"
	CategoryJob     = "archivist.job"
	CategoryLock    = "archivist.lock"
	CategoryAnalyst = "archivist.analyst"
	CategoryCron    = "archivist.cron"
)

// Resource types used as the Resource field in audit events.
const (
	ResourceTask    = "task"
	ResourceJob     = "job"
	ResourceLock    = "cluster_lock"
	ResourceAnalyst = "analyst"
	ResourceCron    = "cron_entry"
)

// AllActions returns every action this extension can emit.
func AllActions() []string {
	return []string{
		ActionTaskQueued,
		ActionTaskStarted,
		ActionTaskStopped,
		ActionTaskExpanded,
		ActionJobCancelled,
		ActionLockContended,
		ActionLockReclaimed,
		ActionLockReclaimFailed,
		ActionKillFailed,
		ActionCronFired,
	}
}
