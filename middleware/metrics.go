package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sitewright/automation/intent"
)

// meterName is the instrumentation scope name for automation metrics.
const meterName = "github.com/sitewright/automation"

// Metrics returns middleware that records per-intent execution metrics
// using the global OTel MeterProvider. If no MeterProvider is
// configured, noop instruments are used and this middleware becomes a
// pass-through.
//
// Instruments:
//   - automation.intent.duration (Float64Histogram): execution time in
//     seconds, with attributes: intent_name, status ("ok" or "error")
//   - automation.intent.handled (Int64Counter): total executions,
//     with attributes: intent_name, status ("ok" or "error")
func Metrics() intent.Middleware {
	meter := otel.Meter(meterName)
	return MetricsWithMeter(meter)
}

// MetricsWithMeter returns metrics middleware using the provided meter.
// This variant allows injecting a specific MeterProvider for testing.
func MetricsWithMeter(meter metric.Meter) intent.Middleware {
	// Create instruments once at middleware construction time.
	// OTel instruments are safe for concurrent use. On error, the API
	// returns noop instruments so the middleware degrades gracefully.
	duration, dErr := meter.Float64Histogram(
		"automation.intent.duration",
		metric.WithDescription("Duration of intent execution in seconds"),
		metric.WithUnit("s"),
	)
	_ = dErr // noop fallback guaranteed by OTel API contract

	handled, hErr := meter.Int64Counter(
		"automation.intent.handled",
		metric.WithDescription("Total number of intent executions"),
		metric.WithUnit("{execution}"),
	)
	_ = hErr // noop fallback guaranteed by OTel API contract

	return func(ctx context.Context, in *intent.Intent, next intent.Next) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}

		attrs := metric.WithAttributes(
			attribute.String("intent_name", in.Name),
			attribute.String("status", status),
		)

		duration.Record(ctx, elapsed, attrs)
		handled.Add(ctx, 1, attrs)

		return err
	}
}
