// Package audit is an archivist extension that turns lifecycle hooks into
// structured audit events.
//
// Every task, job, cluster lock, analyst and cron hook emits an [Event]
// through the [Recorder] interface. Severity is info for normal progress,
// warning for contention and skipped work, and critical for failures.
//
// # Usage
//
//	eng, err := engine.New(s,
//	    engine.WithExtension(audit.New(audit.NewLogRecorder(logger))),
//	)
//
// # Selective filtering
//
//	audit.New(recorder,
//	    audit.WithActions(
//	        audit.ActionTaskStopped,
//	        audit.ActionJobCancelled,
//	        audit.ActionKillFailed,
//	    ),
//	)
package audit
