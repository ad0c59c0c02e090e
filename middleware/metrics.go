package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name for archivist metrics.
const meterName = "github.com/Juanbuhler/zmlp-sub000"

// Metrics returns middleware that records per-body execution metrics using
// the global OTel MeterProvider.
//
// Instruments:
//   - archivist.lock.body.duration (Float64Histogram): run time in seconds
//   - archivist.lock.body.runs (Int64Counter): total runs
//
// Both carry the attributes lock, kind and status ("ok" or "error").
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the API hands back noop instruments.
	duration, _ := meter.Float64Histogram( //nolint:errcheck // noop fallback guaranteed by OTel API contract
		"archivist.lock.body.duration",
		metric.WithDescription("Duration of locked body runs in seconds"),
		metric.WithUnit("s"),
	)
	runs, _ := meter.Int64Counter( //nolint:errcheck // noop fallback guaranteed by OTel API contract
		"archivist.lock.body.runs",
		metric.WithDescription("Total number of locked body runs"),
		metric.WithUnit("{run}"),
	)

	return func(ctx context.Context, info Info, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("lock", info.Lock),
			attribute.String("kind", info.Kind),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		runs.Add(ctx, 1, attrs)

		return err
	}
}
