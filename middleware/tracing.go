package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/herald/job"
)

// tracerName is the instrumentation scope name for herald tracing.
const tracerName = "github.com/xraph/herald"

// Tracing returns middleware that wraps delivery execution in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a
// pass-through with zero overhead.
//
// Span attributes include: herald.job.id, herald.workflow,
// herald.channel, herald.transaction_id, herald.subscriber_id,
// herald.org_id. On error, the span status is set to codes.Error with
// the error message.
func Tracing() Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided tracer.
// This variant allows injecting a specific TracerProvider for testing or
// when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		ctx, span := tracer.Start(ctx, "herald.delivery.execute",
			trace.WithAttributes(
				attribute.String("herald.job.id", j.ID.String()),
				attribute.String("herald.workflow", j.Workflow),
				attribute.String("herald.channel", string(j.StepType)),
				attribute.String("herald.transaction_id", j.TransactionID.String()),
				attribute.String("herald.subscriber_id", j.SubscriberID.String()),
				attribute.String("herald.org_id", j.OrganizationID),
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
