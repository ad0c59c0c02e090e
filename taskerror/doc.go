// Package taskerror records per-asset processing errors of tasks.
//
// Analysts report errors as they go through error events, which
// [Service.Record] persists. When a task fails hard,
// [Service.SynthesizeFailure] adds one fatal entry for every asset of the
// task that has no error recorded yet, so every asset of a failed batch
// can be diagnosed later.
package taskerror
