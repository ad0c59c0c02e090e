// Package cron runs cluster maintenance on cron schedules.
//
// Every replica registers the same entries and every replica's scheduler
// fires them, but each firing runs its body through a
// [clusterlock.Executor] under the entry's lock. With the default soft
// lock a replica that finds the lock taken simply skips that firing, so a
// maintenance body runs at most once across the cluster at any moment.
//
// # Entry
//
// An [Entry] names a recurring body:
//   - Name: unique within a scheduler; also the default lock name
//   - Schedule: standard 5 field cron expression or a descriptor such as
//     "@every 1m"
//   - Lock: the lock spec the body runs under (defaults to a soft lock)
//   - Run: the body
//
// A combine lock is the right choice for rebuild style jobs where a firing
// that finds the job running should make the holder run once more.
//
// # Scheduler
//
// [Scheduler] wraps robfig/cron. [Scheduler.RunNow] runs an entry on the
// calling goroutine under the same lock, which is how the sweep command
// performs one-shot maintenance.
package cron
