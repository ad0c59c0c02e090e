package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/Juanbuhler/zmlp-sub000/ext"
	"github.com/Juanbuhler/zmlp-sub000/id"
	"github.com/Juanbuhler/zmlp-sub000/job"
	"github.com/Juanbuhler/zmlp-sub000/task"
)

// meterName is the instrumentation scope name for archivist metrics.
const meterName = "github.com/Juanbuhler/zmlp-sub000/observability"

// Compile-time interface checks.
var (
	_ ext.Extension         = (*MetricsExtension)(nil)
	_ ext.TaskQueued        = (*MetricsExtension)(nil)
	_ ext.TaskStarted       = (*MetricsExtension)(nil)
	_ ext.TaskStopped       = (*MetricsExtension)(nil)
	_ ext.TaskExpanded      = (*MetricsExtension)(nil)
	_ ext.JobCancelled      = (*MetricsExtension)(nil)
	_ ext.LockAcquired      = (*MetricsExtension)(nil)
	_ ext.LockContended     = (*MetricsExtension)(nil)
	_ ext.LockReclaimed     = (*MetricsExtension)(nil)
	_ ext.LockReclaimFailed = (*MetricsExtension)(nil)
	_ ext.AnalystKillFailed = (*MetricsExtension)(nil)
	_ ext.CronFired         = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle counters through an
// OpenTelemetry meter. Register it with the extension registry to track
// dispatch rates, task outcomes, lock contention and kill failures.
type MetricsExtension struct {
	TaskQueued        metric.Int64Counter
	TaskStarted       metric.Int64Counter
	TaskStopped       metric.Int64Counter
	TaskExpanded      metric.Int64Counter
	JobCancelled      metric.Int64Counter
	TasksKilled       metric.Int64Counter
	LockAcquired      metric.Int64Counter
	LockContended     metric.Int64Counter
	LockReclaimed     metric.Int64Counter
	LockReclaimFailed metric.Int64Counter
	AnalystKillFailed metric.Int64Counter
	CronFired         metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension on the global MeterProvider.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the provided meter.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	return &MetricsExtension{
		TaskQueued:        counter(meter, "archivist.task.queued", "Tasks claimed for an analyst"),
		TaskStarted:       counter(meter, "archivist.task.started", "Tasks reported running"),
		TaskStopped:       counter(meter, "archivist.task.stopped", "Tasks stopped, by resulting state"),
		TaskExpanded:      counter(meter, "archivist.task.expanded", "Child tasks created by expansion"),
		JobCancelled:      counter(meter, "archivist.job.cancelled", "Jobs cancelled"),
		TasksKilled:       counter(meter, "archivist.job.tasks_killed", "Running tasks killed by job cancellation"),
		LockAcquired:      counter(meter, "archivist.lock.acquired", "Cluster lock rows written"),
		LockContended:     counter(meter, "archivist.lock.contended", "Cluster lock acquisitions that found the name held"),
		LockReclaimed:     counter(meter, "archivist.lock.reclaimed", "Expired cluster locks cleared"),
		LockReclaimFailed: counter(meter, "archivist.lock.reclaim_failed", "Expired cluster locks that could not be cleared"),
		AnalystKillFailed: counter(meter, "archivist.analyst.kill_failed", "Kill requests that did not reach an analyst"),
		CronFired:         counter(meter, "archivist.cron.fired", "Maintenance entries fired"),
	}
}

func counter(meter metric.Meter, name, desc string) metric.Int64Counter {
	// On error the API hands back a noop instrument.
	c, _ := meter.Int64Counter(name, metric.WithDescription(desc)) //nolint:errcheck // noop fallback guaranteed by OTel API contract
	return c
}

// Name implements ext.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Task lifecycle hooks ────────────────────────────

// OnTaskQueued implements ext.TaskQueued.
func (m *MetricsExtension) OnTaskQueued(ctx context.Context, t *task.DispatchTask, _ string) error {
	m.TaskQueued.Add(ctx, 1, metric.WithAttributes(attribute.String("organization", t.OrganizationID)))
	return nil
}

// OnTaskStarted implements ext.TaskStarted.
func (m *MetricsExtension) OnTaskStarted(ctx context.Context, _ *task.Task) error {
	m.TaskStarted.Add(ctx, 1)
	return nil
}

// OnTaskStopped implements ext.TaskStopped.
func (m *MetricsExtension) OnTaskStopped(ctx context.Context, _ *task.Task, state task.State, _ int) error {
	m.TaskStopped.Add(ctx, 1, metric.WithAttributes(attribute.String("state", string(state))))
	return nil
}

// OnTaskExpanded implements ext.TaskExpanded.
func (m *MetricsExtension) OnTaskExpanded(ctx context.Context, _, _ *task.Task) error {
	m.TaskExpanded.Add(ctx, 1)
	return nil
}

// OnJobCancelled implements ext.JobCancelled.
func (m *MetricsExtension) OnJobCancelled(ctx context.Context, _ *job.Job, killed int) error {
	m.JobCancelled.Add(ctx, 1)
	if killed > 0 {
		m.TasksKilled.Add(ctx, int64(killed))
	}
	return nil
}

// ── Cluster lock hooks ──────────────────────────────

// OnLockAcquired implements ext.LockAcquired.
func (m *MetricsExtension) OnLockAcquired(ctx context.Context, name string) error {
	m.LockAcquired.Add(ctx, 1, lockAttr(name))
	return nil
}

// OnLockContended implements ext.LockContended.
func (m *MetricsExtension) OnLockContended(ctx context.Context, name string) error {
	m.LockContended.Add(ctx, 1, lockAttr(name))
	return nil
}

// OnLockReclaimed implements ext.LockReclaimed.
func (m *MetricsExtension) OnLockReclaimed(ctx context.Context, name string) error {
	m.LockReclaimed.Add(ctx, 1, lockAttr(name))
	return nil
}

// OnLockReclaimFailed implements ext.LockReclaimFailed.
func (m *MetricsExtension) OnLockReclaimFailed(ctx context.Context, name string) error {
	m.LockReclaimFailed.Add(ctx, 1, lockAttr(name))
	return nil
}

func lockAttr(name string) metric.AddOption {
	return metric.WithAttributes(attribute.String("lock", name))
}

// ── Other hooks ─────────────────────────────────────

// OnAnalystKillFailed implements ext.AnalystKillFailed.
func (m *MetricsExtension) OnAnalystKillFailed(ctx context.Context, endpoint string, _ id.TaskID, _ error) error {
	m.AnalystKillFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("endpoint", endpoint)))
	return nil
}

// OnCronFired implements ext.CronFired.
func (m *MetricsExtension) OnCronFired(ctx context.Context, entryName string) error {
	m.CronFired.Add(ctx, 1, metric.WithAttributes(attribute.String("entry", entryName)))
	return nil
}
