// Package observability provides an OpenTelemetry metrics extension for
// archivist. MetricsExtension implements lifecycle hooks to record
// system-wide counters for task dispatch, task outcomes, job
// cancellation, cluster lock activity and maintenance runs.
//
// For per-body tracing and metrics of locked work, see the middleware
// package: middleware.Tracing() and middleware.Metrics().
package observability
