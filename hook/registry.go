package hook

import (
	"context"
	"log/slog"
	"time"

	"github.com/sitewright/automation/intent"
	"github.com/sitewright/automation/workflow"
)

// Named entry types pair a hook implementation with the extension name
// captured at registration time. This avoids type-asserting back to
// Extension inside the emit methods.
type intentExecutedEntry struct {
	name string
	hook IntentExecuted
}

type eventForwardedEntry struct {
	name string
	hook EventForwarded
}

type eventDroppedEntry struct {
	name string
	hook EventDropped
}

type forwardFailedEntry struct {
	name string
	hook ForwardFailed
}

type runStartedEntry struct {
	name string
	hook RunStarted
}

type runSuspendedEntry struct {
	name string
	hook RunSuspended
}

type runResumedEntry struct {
	name string
	hook RunResumed
}

type runCompletedEntry struct {
	name string
	hook RunCompleted
}

type runFailedEntry struct {
	name string
	hook RunFailed
}

type runCancelledEntry struct {
	name string
	hook RunCancelled
}

type stepCompletedEntry struct {
	name string
	hook StepCompleted
}

type stepRetryingEntry struct {
	name string
	hook StepRetrying
}

type stepFailedEntry struct {
	name string
	hook StepFailed
}

type shutdownEntry struct {
	name string
	hook Shutdown
}

// Registry holds registered extensions and dispatches lifecycle events
// to them. It type-caches extensions at registration time so emit calls
// iterate only over extensions that implement the relevant hook.
//
// Registry satisfies intent.LifecycleEmitter, bridge.Emitter and
// workflow.RunEmitter, so a single registry can observe the whole
// pipeline.
type Registry struct {
	extensions []Extension
	logger     *slog.Logger

	// Type-cached slices for each lifecycle hook.
	intentExecuted []intentExecutedEntry
	eventForwarded []eventForwardedEntry
	eventDropped   []eventDroppedEntry
	forwardFailed  []forwardFailedEntry
	runStarted     []runStartedEntry
	runSuspended   []runSuspendedEntry
	runResumed     []runResumedEntry
	runCompleted   []runCompletedEntry
	runFailed      []runFailedEntry
	runCancelled   []runCancelledEntry
	stepCompleted  []stepCompletedEntry
	stepRetrying   []stepRetryingEntry
	stepFailed     []stepFailedEntry
	shutdown       []shutdownEntry
}

var (
	_ intent.LifecycleEmitter = (*Registry)(nil)
	_ workflow.RunEmitter     = (*Registry)(nil)
)

// NewRegistry creates an extension registry with the given logger.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{logger: logger}
}

// Register adds an extension and type-asserts it into all applicable
// hook caches. Extensions are notified in registration order.
func (r *Registry) Register(e Extension) {
	r.extensions = append(r.extensions, e)
	name := e.Name()

	if h, ok := e.(IntentExecuted); ok {
		r.intentExecuted = append(r.intentExecuted, intentExecutedEntry{name, h})
	}
	if h, ok := e.(EventForwarded); ok {
		r.eventForwarded = append(r.eventForwarded, eventForwardedEntry{name, h})
	}
	if h, ok := e.(EventDropped); ok {
		r.eventDropped = append(r.eventDropped, eventDroppedEntry{name, h})
	}
	if h, ok := e.(ForwardFailed); ok {
		r.forwardFailed = append(r.forwardFailed, forwardFailedEntry{name, h})
	}
	if h, ok := e.(RunStarted); ok {
		r.runStarted = append(r.runStarted, runStartedEntry{name, h})
	}
	if h, ok := e.(RunSuspended); ok {
		r.runSuspended = append(r.runSuspended, runSuspendedEntry{name, h})
	}
	if h, ok := e.(RunResumed); ok {
		r.runResumed = append(r.runResumed, runResumedEntry{name, h})
	}
	if h, ok := e.(RunCompleted); ok {
		r.runCompleted = append(r.runCompleted, runCompletedEntry{name, h})
	}
	if h, ok := e.(RunFailed); ok {
		r.runFailed = append(r.runFailed, runFailedEntry{name, h})
	}
	if h, ok := e.(RunCancelled); ok {
		r.runCancelled = append(r.runCancelled, runCancelledEntry{name, h})
	}
	if h, ok := e.(StepCompleted); ok {
		r.stepCompleted = append(r.stepCompleted, stepCompletedEntry{name, h})
	}
	if h, ok := e.(StepRetrying); ok {
		r.stepRetrying = append(r.stepRetrying, stepRetryingEntry{name, h})
	}
	if h, ok := e.(StepFailed); ok {
		r.stepFailed = append(r.stepFailed, stepFailedEntry{name, h})
	}
	if h, ok := e.(Shutdown); ok {
		r.shutdown = append(r.shutdown, shutdownEntry{name, h})
	}
}

// Extensions returns all registered extensions.
func (r *Registry) Extensions() []Extension { return r.extensions }

// ──────────────────────────────────────────────────
// Intent event emitters
// ──────────────────────────────────────────────────

// EmitIntentExecuted notifies all extensions that implement IntentExecuted.
func (r *Registry) EmitIntentExecuted(ctx context.Context, in *intent.Intent, res *intent.Result, elapsed time.Duration) {
	for _, e := range r.intentExecuted {
		if err := e.hook.OnIntentExecuted(ctx, in, res, elapsed); err != nil {
			r.logHookError("OnIntentExecuted", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Bridge event emitters
// ──────────────────────────────────────────────────

// EmitEventForwarded notifies all extensions that implement EventForwarded.
func (r *Registry) EmitEventForwarded(ctx context.Context, evt intent.Event, trigger string) {
	for _, e := range r.eventForwarded {
		if err := e.hook.OnEventForwarded(ctx, evt, trigger); err != nil {
			r.logHookError("OnEventForwarded", e.name, err)
		}
	}
}

// EmitEventDropped notifies all extensions that implement EventDropped.
func (r *Registry) EmitEventDropped(ctx context.Context, evt intent.Event) {
	for _, e := range r.eventDropped {
		if err := e.hook.OnEventDropped(ctx, evt); err != nil {
			r.logHookError("OnEventDropped", e.name, err)
		}
	}
}

// EmitForwardFailed notifies all extensions that implement ForwardFailed.
func (r *Registry) EmitForwardFailed(ctx context.Context, evt intent.Event, trigger string, fwdErr error) {
	for _, e := range r.forwardFailed {
		if err := e.hook.OnForwardFailed(ctx, evt, trigger, fwdErr); err != nil {
			r.logHookError("OnForwardFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Run event emitters
// ──────────────────────────────────────────────────

// EmitRunStarted notifies all extensions that implement RunStarted.
func (r *Registry) EmitRunStarted(ctx context.Context, run *workflow.Run) {
	for _, e := range r.runStarted {
		if err := e.hook.OnRunStarted(ctx, run); err != nil {
			r.logHookError("OnRunStarted", e.name, err)
		}
	}
}

// EmitRunSuspended notifies all extensions that implement RunSuspended.
func (r *Registry) EmitRunSuspended(ctx context.Context, run *workflow.Run, wakeAt time.Time) {
	for _, e := range r.runSuspended {
		if err := e.hook.OnRunSuspended(ctx, run, wakeAt); err != nil {
			r.logHookError("OnRunSuspended", e.name, err)
		}
	}
}

// EmitRunResumed notifies all extensions that implement RunResumed.
func (r *Registry) EmitRunResumed(ctx context.Context, run *workflow.Run) {
	for _, e := range r.runResumed {
		if err := e.hook.OnRunResumed(ctx, run); err != nil {
			r.logHookError("OnRunResumed", e.name, err)
		}
	}
}

// EmitRunCompleted notifies all extensions that implement RunCompleted.
func (r *Registry) EmitRunCompleted(ctx context.Context, run *workflow.Run, elapsed time.Duration) {
	for _, e := range r.runCompleted {
		if err := e.hook.OnRunCompleted(ctx, run, elapsed); err != nil {
			r.logHookError("OnRunCompleted", e.name, err)
		}
	}
}

// EmitRunFailed notifies all extensions that implement RunFailed.
func (r *Registry) EmitRunFailed(ctx context.Context, run *workflow.Run, runErr error) {
	for _, e := range r.runFailed {
		if err := e.hook.OnRunFailed(ctx, run, runErr); err != nil {
			r.logHookError("OnRunFailed", e.name, err)
		}
	}
}

// EmitRunCancelled notifies all extensions that implement RunCancelled.
func (r *Registry) EmitRunCancelled(ctx context.Context, run *workflow.Run) {
	for _, e := range r.runCancelled {
		if err := e.hook.OnRunCancelled(ctx, run); err != nil {
			r.logHookError("OnRunCancelled", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Step event emitters
// ──────────────────────────────────────────────────

// EmitStepCompleted notifies all extensions that implement StepCompleted.
func (r *Registry) EmitStepCompleted(ctx context.Context, run *workflow.Run, stepID string, elapsed time.Duration) {
	for _, e := range r.stepCompleted {
		if err := e.hook.OnStepCompleted(ctx, run, stepID, elapsed); err != nil {
			r.logHookError("OnStepCompleted", e.name, err)
		}
	}
}

// EmitStepRetrying notifies all extensions that implement StepRetrying.
func (r *Registry) EmitStepRetrying(ctx context.Context, run *workflow.Run, stepID string, attempt int, delay time.Duration) {
	for _, e := range r.stepRetrying {
		if err := e.hook.OnStepRetrying(ctx, run, stepID, attempt, delay); err != nil {
			r.logHookError("OnStepRetrying", e.name, err)
		}
	}
}

// EmitStepFailed notifies all extensions that implement StepFailed.
func (r *Registry) EmitStepFailed(ctx context.Context, run *workflow.Run, stepID string, stepErr error) {
	for _, e := range r.stepFailed {
		if err := e.hook.OnStepFailed(ctx, run, stepID, stepErr); err != nil {
			r.logHookError("OnStepFailed", e.name, err)
		}
	}
}

// ──────────────────────────────────────────────────
// Other event emitters
// ──────────────────────────────────────────────────

// EmitShutdown notifies all extensions that implement Shutdown.
func (r *Registry) EmitShutdown(ctx context.Context) {
	for _, e := range r.shutdown {
		if err := e.hook.OnShutdown(ctx); err != nil {
			r.logHookError("OnShutdown", e.name, err)
		}
	}
}

// logHookError logs a warning when a lifecycle hook returns an error.
// Errors from hooks are never propagated; they must not block the pipeline.
func (r *Registry) logHookError(hook, extName string, err error) {
	r.logger.Warn("extension hook error",
		slog.String("hook", hook),
		slog.String("extension", extName),
		slog.String("error", err.Error()),
	)
}
