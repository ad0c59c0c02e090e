// Package job defines the job entity, its aggregate state, dispatch
// priorities and the store interface.
//
// A [Job] groups the tasks submitted together. It carries the priority
// every one of its tasks dispatches at, a pause flag with an optional
// expiry, and an aggregate state:
//
//	active → finished → archived
//	active → cancelled → active (restart)
//
// Lower priority values dispatch first. [PriorityReindex] is negative so
// reindex jobs go ahead of interactive ones.
package job
