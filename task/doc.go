// Package task defines the task entity, its state machine, the pipeline
// script an analyst executes and the store interface.
//
// Task state only moves through conditional writes:
//
//	waiting → queued → running → success | failure | skipped
//	queued | running → waiting (retry)
//
// [Store.SetState] succeeds only when the persisted state is one of the
// expected states. Duplicate event delivery and racing dispatcher
// replicas are safe because of that check, not because of any lock.
package task
