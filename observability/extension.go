package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/sitewright/automation/hook"
	"github.com/sitewright/automation/intent"
	"github.com/sitewright/automation/workflow"
)

// meterName is the instrumentation scope name for automation metrics.
const meterName = "github.com/sitewright/automation"

// Compile-time interface checks.
var (
	_ hook.Extension      = (*MetricsExtension)(nil)
	_ hook.IntentExecuted = (*MetricsExtension)(nil)
	_ hook.EventForwarded = (*MetricsExtension)(nil)
	_ hook.EventDropped   = (*MetricsExtension)(nil)
	_ hook.ForwardFailed  = (*MetricsExtension)(nil)
	_ hook.RunStarted     = (*MetricsExtension)(nil)
	_ hook.RunCompleted   = (*MetricsExtension)(nil)
	_ hook.RunFailed      = (*MetricsExtension)(nil)
	_ hook.RunCancelled   = (*MetricsExtension)(nil)
	_ hook.StepRetrying   = (*MetricsExtension)(nil)
)

// MetricsExtension records system-wide lifecycle metrics. Register it
// with a hook.Registry to automatically track intent execution counts,
// event bridge forward/drop/failure rates, run outcomes by terminal
// state, run durations and step retries.
type MetricsExtension struct {
	intentExecutions metric.Int64Counter
	eventsForwarded  metric.Int64Counter
	eventsDropped    metric.Int64Counter
	forwardFailures  metric.Int64Counter
	runsStarted      metric.Int64Counter
	runsFinished     metric.Int64Counter
	runDuration      metric.Float64Histogram
	stepRetries      metric.Int64Counter
}

// NewMetricsExtension creates a MetricsExtension using the global OTel
// MeterProvider. If no MeterProvider is configured, noop instruments
// are used and every hook becomes a pass-through.
func NewMetricsExtension() *MetricsExtension {
	return NewMetricsExtensionWithMeter(otel.Meter(meterName))
}

// NewMetricsExtensionWithMeter creates a MetricsExtension with the
// provided meter. This variant allows injecting a specific
// MeterProvider for testing.
func NewMetricsExtensionWithMeter(meter metric.Meter) *MetricsExtension {
	// Instruments are created once here. On error the OTel API returns
	// noop instruments, so the extension degrades gracefully.
	m := &MetricsExtension{}
	m.intentExecutions, _ = meter.Int64Counter(
		"automation.intent.executions",
		metric.WithDescription("Total number of intent executions"),
		metric.WithUnit("{execution}"),
	)
	m.eventsForwarded, _ = meter.Int64Counter(
		"automation.bridge.forwarded",
		metric.WithDescription("Events forwarded to a workflow trigger"),
		metric.WithUnit("{event}"),
	)
	m.eventsDropped, _ = meter.Int64Counter(
		"automation.bridge.dropped",
		metric.WithDescription("Events with no forwarding rule"),
		metric.WithUnit("{event}"),
	)
	m.forwardFailures, _ = meter.Int64Counter(
		"automation.bridge.failures",
		metric.WithDescription("Events whose delivery failed after retries"),
		metric.WithUnit("{event}"),
	)
	m.runsStarted, _ = meter.Int64Counter(
		"automation.run.started",
		metric.WithDescription("Workflow runs that began executing"),
		metric.WithUnit("{run}"),
	)
	m.runsFinished, _ = meter.Int64Counter(
		"automation.run.finished",
		metric.WithDescription("Workflow runs that reached a terminal state"),
		metric.WithUnit("{run}"),
	)
	m.runDuration, _ = meter.Float64Histogram(
		"automation.run.duration",
		metric.WithDescription("Wall-clock duration of completed runs in seconds"),
		metric.WithUnit("s"),
	)
	m.stepRetries, _ = meter.Int64Counter(
		"automation.step.retries",
		metric.WithDescription("Step executions that failed and were retried"),
		metric.WithUnit("{retry}"),
	)
	return m
}

// Name implements hook.Extension.
func (m *MetricsExtension) Name() string { return "observability-metrics" }

// ── Intent lifecycle hooks ──────────────────────────

// OnIntentExecuted implements hook.IntentExecuted.
func (m *MetricsExtension) OnIntentExecuted(ctx context.Context, in *intent.Intent, res *intent.Result, _ time.Duration) error {
	status := "ok"
	if !res.Success {
		status = "error"
	}
	m.intentExecutions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("intent_name", in.Name),
		attribute.String("status", status),
	))
	return nil
}

// ── Bridge lifecycle hooks ──────────────────────────

// OnEventForwarded implements hook.EventForwarded.
func (m *MetricsExtension) OnEventForwarded(ctx context.Context, evt intent.Event, trigger string) error {
	m.eventsForwarded.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_name", evt.Name),
		attribute.String("trigger", trigger),
	))
	return nil
}

// OnEventDropped implements hook.EventDropped.
func (m *MetricsExtension) OnEventDropped(ctx context.Context, evt intent.Event) error {
	m.eventsDropped.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_name", evt.Name),
	))
	return nil
}

// OnForwardFailed implements hook.ForwardFailed.
func (m *MetricsExtension) OnForwardFailed(ctx context.Context, evt intent.Event, trigger string, _ error) error {
	m.forwardFailures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("event_name", evt.Name),
		attribute.String("trigger", trigger),
	))
	return nil
}

// ── Run lifecycle hooks ─────────────────────────────

// OnRunStarted implements hook.RunStarted.
func (m *MetricsExtension) OnRunStarted(ctx context.Context, r *workflow.Run) error {
	m.runsStarted.Add(ctx, 1, metric.WithAttributes(
		attribute.String("definition", r.DefinitionID),
	))
	return nil
}

// OnRunCompleted implements hook.RunCompleted.
func (m *MetricsExtension) OnRunCompleted(ctx context.Context, r *workflow.Run, elapsed time.Duration) error {
	attrs := metric.WithAttributes(
		attribute.String("definition", r.DefinitionID),
		attribute.String("status", string(workflow.StatusCompleted)),
	)
	m.runsFinished.Add(ctx, 1, attrs)
	m.runDuration.Record(ctx, elapsed.Seconds(), attrs)
	return nil
}

// OnRunFailed implements hook.RunFailed.
func (m *MetricsExtension) OnRunFailed(ctx context.Context, r *workflow.Run, _ error) error {
	m.runsFinished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("definition", r.DefinitionID),
		attribute.String("status", string(workflow.StatusFailed)),
	))
	return nil
}

// OnRunCancelled implements hook.RunCancelled.
func (m *MetricsExtension) OnRunCancelled(ctx context.Context, r *workflow.Run) error {
	m.runsFinished.Add(ctx, 1, metric.WithAttributes(
		attribute.String("definition", r.DefinitionID),
		attribute.String("status", string(workflow.StatusCancelled)),
	))
	return nil
}

// ── Step lifecycle hooks ────────────────────────────

// OnStepRetrying implements hook.StepRetrying.
func (m *MetricsExtension) OnStepRetrying(ctx context.Context, r *workflow.Run, stepID string, _ int, _ time.Duration) error {
	m.stepRetries.Add(ctx, 1, metric.WithAttributes(
		attribute.String("definition", r.DefinitionID),
		attribute.String("step", stepID),
	))
	return nil
}
