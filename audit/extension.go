package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/sitewright/automation/hook"
	"github.com/sitewright/automation/intent"
	"github.com/sitewright/automation/workflow"
)

// Compile-time interface checks.
var (
	_ hook.Extension      = (*Extension)(nil)
	_ hook.IntentExecuted = (*Extension)(nil)
	_ hook.EventDropped   = (*Extension)(nil)
	_ hook.ForwardFailed  = (*Extension)(nil)
	_ hook.RunStarted     = (*Extension)(nil)
	_ hook.RunSuspended   = (*Extension)(nil)
	_ hook.RunResumed     = (*Extension)(nil)
	_ hook.RunCompleted   = (*Extension)(nil)
	_ hook.RunFailed      = (*Extension)(nil)
	_ hook.RunCancelled   = (*Extension)(nil)
	_ hook.StepRetrying   = (*Extension)(nil)
	_ hook.StepFailed     = (*Extension)(nil)
)

// Recorder is the interface audit backends must implement. It is
// defined locally so this package carries no backend dependency; the
// host bridges to its concrete audit store at wiring time.
type Recorder interface {
	// Record persists a fully-formed audit event.
	Record(ctx context.Context, event *Event) error
}

// RecorderFunc is an adapter to use a plain function as a Recorder.
type RecorderFunc func(ctx context.Context, event *Event) error

func (f RecorderFunc) Record(ctx context.Context, event *Event) error {
	return f(ctx, event)
}

// Event is one audit trail entry.
type Event struct {
	// What happened
	Action   string `json:"action"`
	Resource string `json:"resource"`
	Category string `json:"category"`

	// Details
	ResourceID string         `json:"resource_id,omitempty"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	Outcome    string         `json:"outcome"`
	Severity   string         `json:"severity"`
	Reason     string         `json:"reason,omitempty"`
}

// Severity constants.
const (
	SeverityInfo     = "info"
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

// Outcome constants.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Extension mirrors engine lifecycle events into an audit trail
// backend. Each hook emits a structured audit event through the
// [Recorder].
type Extension struct {
	recorder Recorder
	enabled  map[string]bool // nil = all enabled
	logger   *slog.Logger
}

// New creates an Extension that emits audit events through the provided
// Recorder.
func New(r Recorder, opts ...Option) *Extension {
	e := &Extension{
		recorder: r,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name implements hook.Extension.
func (e *Extension) Name() string { return "audit" }

// ── Intent hooks ────────────────────────────────────

// OnIntentExecuted implements hook.IntentExecuted.
func (e *Extension) OnIntentExecuted(ctx context.Context, in *intent.Intent, res *intent.Result, elapsed time.Duration) error {
	severity, outcome := SeverityInfo, OutcomeSuccess
	var cause error
	if !res.Success {
		severity, outcome = SeverityWarning, OutcomeFailure
		cause = fmt.Errorf("%s: %s", res.Error, res.Cause)
	}
	return e.record(ctx, ActionIntentExecuted, severity, outcome,
		ResourceIntent, in.ID.String(), CategoryIntent, cause,
		"intent_name", in.Name,
		"events", len(res.Events),
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// ── Bridge hooks ────────────────────────────────────

// OnEventDropped implements hook.EventDropped.
func (e *Extension) OnEventDropped(ctx context.Context, evt intent.Event) error {
	return e.record(ctx, ActionEventDropped, SeverityInfo, OutcomeSuccess,
		ResourceEvent, evt.ID.String(), CategoryEvent, nil,
		"event_name", evt.Name,
	)
}

// OnForwardFailed implements hook.ForwardFailed.
func (e *Extension) OnForwardFailed(ctx context.Context, evt intent.Event, trigger string, fwdErr error) error {
	return e.record(ctx, ActionForwardFailed, SeverityCritical, OutcomeFailure,
		ResourceEvent, evt.ID.String(), CategoryEvent, fwdErr,
		"event_name", evt.Name,
		"trigger", trigger,
	)
}

// ── Run hooks ───────────────────────────────────────

// OnRunStarted implements hook.RunStarted.
func (e *Extension) OnRunStarted(ctx context.Context, r *workflow.Run) error {
	return e.record(ctx, ActionRunStarted, SeverityInfo, OutcomeSuccess,
		ResourceRun, r.ID.String(), CategoryRun, nil,
		"definition_id", r.DefinitionID,
	)
}

// OnRunSuspended implements hook.RunSuspended.
func (e *Extension) OnRunSuspended(ctx context.Context, r *workflow.Run, wakeAt time.Time) error {
	return e.record(ctx, ActionRunSuspended, SeverityInfo, OutcomeSuccess,
		ResourceRun, r.ID.String(), CategoryRun, nil,
		"definition_id", r.DefinitionID,
		"wake_at", wakeAt.Format(time.RFC3339),
	)
}

// OnRunResumed implements hook.RunResumed.
func (e *Extension) OnRunResumed(ctx context.Context, r *workflow.Run) error {
	return e.record(ctx, ActionRunResumed, SeverityInfo, OutcomeSuccess,
		ResourceRun, r.ID.String(), CategoryRun, nil,
		"definition_id", r.DefinitionID,
	)
}

// OnRunCompleted implements hook.RunCompleted.
func (e *Extension) OnRunCompleted(ctx context.Context, r *workflow.Run, elapsed time.Duration) error {
	return e.record(ctx, ActionRunCompleted, SeverityInfo, OutcomeSuccess,
		ResourceRun, r.ID.String(), CategoryRun, nil,
		"definition_id", r.DefinitionID,
		"elapsed_ms", elapsed.Milliseconds(),
	)
}

// OnRunFailed implements hook.RunFailed.
func (e *Extension) OnRunFailed(ctx context.Context, r *workflow.Run, runErr error) error {
	return e.record(ctx, ActionRunFailed, SeverityCritical, OutcomeFailure,
		ResourceRun, r.ID.String(), CategoryRun, runErr,
		"definition_id", r.DefinitionID,
	)
}

// OnRunCancelled implements hook.RunCancelled.
func (e *Extension) OnRunCancelled(ctx context.Context, r *workflow.Run) error {
	return e.record(ctx, ActionRunCancelled, SeverityInfo, OutcomeSuccess,
		ResourceRun, r.ID.String(), CategoryRun, nil,
		"definition_id", r.DefinitionID,
	)
}

// ── Step hooks ──────────────────────────────────────

// OnStepRetrying implements hook.StepRetrying.
func (e *Extension) OnStepRetrying(ctx context.Context, r *workflow.Run, stepID string, attempt int, delay time.Duration) error {
	return e.record(ctx, ActionStepRetrying, SeverityWarning, OutcomeFailure,
		ResourceRun, r.ID.String(), CategoryRun, nil,
		"definition_id", r.DefinitionID,
		"step_id", stepID,
		"attempt", attempt,
		"delay_ms", delay.Milliseconds(),
	)
}

// OnStepFailed implements hook.StepFailed.
func (e *Extension) OnStepFailed(ctx context.Context, r *workflow.Run, stepID string, stepErr error) error {
	return e.record(ctx, ActionStepFailed, SeverityCritical, OutcomeFailure,
		ResourceRun, r.ID.String(), CategoryRun, stepErr,
		"definition_id", r.DefinitionID,
		"step_id", stepID,
	)
}

// ── Internal helpers ────────────────────────────────

// record builds and sends an audit event if the action is enabled.
// kvPairs is a list of key-value pairs added to Metadata.
func (e *Extension) record(
	ctx context.Context,
	action, severity, outcome string,
	resource, resourceID, category string,
	err error,
	kvPairs ...any,
) error {
	if e.enabled != nil && !e.enabled[action] {
		return nil
	}

	meta := make(map[string]any, len(kvPairs)/2+1)
	for i := 0; i+1 < len(kvPairs); i += 2 {
		key, ok := kvPairs[i].(string)
		if !ok {
			key = fmt.Sprintf("%v", kvPairs[i])
		}
		meta[key] = kvPairs[i+1]
	}

	var reason string
	if err != nil {
		reason = err.Error()
		meta["error"] = err.Error()
	}

	evt := &Event{
		Action:     action,
		Resource:   resource,
		Category:   category,
		ResourceID: resourceID,
		Metadata:   meta,
		Outcome:    outcome,
		Severity:   severity,
		Reason:     reason,
	}

	if recErr := e.recorder.Record(ctx, evt); recErr != nil {
		e.logger.Warn("audit: failed to record event",
			"action", action,
			"resource_id", resourceID,
			"error", recErr,
		)
	}
	return nil
}
