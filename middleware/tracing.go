package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/sitewright/automation/intent"
	"github.com/sitewright/automation/scope"
)

// tracerName is the instrumentation scope name for automation tracing.
const tracerName = "github.com/sitewright/automation"

// Tracing returns middleware that wraps intent execution in an
// OpenTelemetry span. If no TracerProvider is configured globally, the
// default noop tracer is used and this middleware becomes a
// pass-through with zero overhead.
//
// Span attributes include: automation.intent.id, automation.intent.name,
// automation.scope.site_id, automation.scope.account_id. On error, the
// span status is set to codes.Error with the error message.
func Tracing() intent.Middleware {
	tracer := otel.Tracer(tracerName)
	return TracingWithTracer(tracer)
}

// TracingWithTracer returns tracing middleware using the provided
// tracer. This variant allows injecting a specific TracerProvider for
// testing or when multiple providers are in use.
func TracingWithTracer(tracer trace.Tracer) intent.Middleware {
	return func(ctx context.Context, in *intent.Intent, next intent.Next) error {
		siteID, accountID := scope.Capture(ctx)
		ctx, span := tracer.Start(ctx, "automation.intent.execute",
			trace.WithAttributes(
				attribute.String("automation.intent.id", in.ID.String()),
				attribute.String("automation.intent.name", in.Name),
				attribute.String("automation.scope.site_id", siteID),
				attribute.String("automation.scope.account_id", accountID),
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
