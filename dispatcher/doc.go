// Package dispatcher matches waiting tasks to the analysts that ask for
// work and drives tasks through their lifecycle.
//
// Every transition is a conditional write against the task store
// (task.Store.SetState with the expected prior states), so any number of
// server replicas can run a Service against the same store without
// coordinating in memory. Two replicas racing to queue the same task
// both attempt Waiting -> Queued; exactly one write lands.
//
// [QueueManager] is the pull endpoint an analyst calls. It skips analysts
// in maintenance mode, walks a small batch of waiting tasks until one
// claim succeeds, then attaches the task's auth token, retry budget and
// signed log upload URL. A claim whose enrichment fails is put back to
// Waiting.
//
// Remote failures never block the scheduler: kills are best effort, and
// local state always moves to where the operator asked it to go.
package dispatcher
