package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for archivist tracing.
const tracerName = "github.com/Juanbuhler/zmlp-sub000"

// Tracing returns middleware that wraps each locked body run in an
// OpenTelemetry span using the global TracerProvider.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, info Info, next Handler) error {
		ctx, span := tracer.Start(ctx, "archivist.clusterlock.run",
			trace.WithAttributes(
				attribute.String("archivist.lock.name", info.Lock),
				attribute.String("archivist.lock.kind", info.Kind),
				attribute.Int("archivist.lock.attempt", info.Attempt),
				attribute.Bool("archivist.lock.reentrant", info.Reentrant),
			),
			trace.WithSpanKind(trace.SpanKindInternal),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}

		return err
	}
}
