// Package clusterlock provides cluster wide named locks backed by a
// persistent Lock Store, used to serialize background work across server
// replicas.
//
// # Lock kinds
//
//   - [HardLock] retries with linear backoff until it gets the lock.
//   - [SoftLock] tries once; if the name is held the body is skipped.
//   - [CombineLock] tries once; if the name is held the attempt is recorded
//     on the lock row and the current holder runs its body one more time
//     after it finishes.
//
// # Reentrancy
//
// Reentrancy is tracked by a [Flow] carried in context.Context. A flow that
// already holds a name acquires it again without touching the store.
// Every asynchronous boundary must hand the callee a [Flow.Child] of the
// caller's flow; [Executor.Execute] and [Submit] do this for their worker
// goroutines. A goroutine that runs with a fresh flow instead will contend
// with its own caller and, for a hard lock, wait forever.
//
// # Crash recovery
//
// Lock rows carry an expiry that the executor refreshes while a body runs.
// A row whose owner crashed stops being refreshed and is reclaimed either
// by the next acquirer or by the [ExpirationManager] sweep.
package clusterlock
