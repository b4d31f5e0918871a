// Package hook defines the extension system for the automation engine.
// Extensions are notified of lifecycle events (intent executed, event
// forwarded, run completed, etc.) and can react to them, for example by
// recording metrics or an audit trail.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package hook

import (
	"context"
	"time"

	"github.com/sitewright/automation/intent"
	"github.com/sitewright/automation/workflow"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Intent lifecycle hooks
// ──────────────────────────────────────────────────

// IntentExecuted is called after an intent finishes, whether or not the
// capability reported success.
type IntentExecuted interface {
	OnIntentExecuted(ctx context.Context, in *intent.Intent, res *intent.Result, elapsed time.Duration) error
}

// ──────────────────────────────────────────────────
// Event bridge hooks
// ──────────────────────────────────────────────────

// EventForwarded is called after an automation event is delivered to
// its mapped trigger.
type EventForwarded interface {
	OnEventForwarded(ctx context.Context, evt intent.Event, trigger string) error
}

// EventDropped is called when an event has no forwarding rule and is
// discarded.
type EventDropped interface {
	OnEventDropped(ctx context.Context, evt intent.Event) error
}

// ForwardFailed is called when delivery of a mapped event fails after
// all retries.
type ForwardFailed interface {
	OnForwardFailed(ctx context.Context, evt intent.Event, trigger string, err error) error
}

// ──────────────────────────────────────────────────
// Run lifecycle hooks
// ──────────────────────────────────────────────────

// RunStarted is called when a workflow run begins executing for the
// first time.
type RunStarted interface {
	OnRunStarted(ctx context.Context, r *workflow.Run) error
}

// RunSuspended is called when a run goes to sleep until wakeAt.
type RunSuspended interface {
	OnRunSuspended(ctx context.Context, r *workflow.Run, wakeAt time.Time) error
}

// RunResumed is called when a sleeping run is picked back up.
type RunResumed interface {
	OnRunResumed(ctx context.Context, r *workflow.Run) error
}

// RunCompleted is called after a run finishes successfully.
type RunCompleted interface {
	OnRunCompleted(ctx context.Context, r *workflow.Run, elapsed time.Duration) error
}

// RunFailed is called when a run fails terminally (no more retries).
type RunFailed interface {
	OnRunFailed(ctx context.Context, r *workflow.Run, err error) error
}

// RunCancelled is called when a run is cancelled by an operator.
type RunCancelled interface {
	OnRunCancelled(ctx context.Context, r *workflow.Run) error
}

// ──────────────────────────────────────────────────
// Step lifecycle hooks
// ──────────────────────────────────────────────────

// StepCompleted is called after a workflow step records its result.
type StepCompleted interface {
	OnStepCompleted(ctx context.Context, r *workflow.Run, stepID string, elapsed time.Duration) error
}

// StepRetrying is called when a step fails but will be retried after delay.
type StepRetrying interface {
	OnStepRetrying(ctx context.Context, r *workflow.Run, stepID string, attempt int, delay time.Duration) error
}

// StepFailed is called when a step exhausts its retries or fails fatally.
type StepFailed interface {
	OnStepFailed(ctx context.Context, r *workflow.Run, stepID string, err error) error
}

// ──────────────────────────────────────────────────
// Other lifecycle hooks
// ──────────────────────────────────────────────────

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
