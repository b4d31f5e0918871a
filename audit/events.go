package audit

// Audit actions. Each constant corresponds to one lifecycle hook and
// becomes the Action field of the audit event.
const (
	ActionIntentExecuted = "intent.executed"
	ActionEventDropped   = "event.dropped"
	ActionForwardFailed  = "event.forward_failed"
	ActionRunStarted     = "run.started"
	ActionRunSuspended   = "run.suspended"
	ActionRunResumed     = "run.resumed"
	ActionRunCompleted   = "run.completed"
	ActionRunFailed      = "run.failed"
	ActionRunCancelled   = "run.cancelled"
	ActionStepRetrying   = "step.retrying"
	ActionStepFailed     = "step.failed"
)

// Categories group related actions.
const (
	CategoryIntent = "intent"
	CategoryEvent  = "event"
	CategoryRun    = "run"
)

// Resource types named in audit events.
const (
	ResourceIntent = "intent"
	ResourceEvent  = "event"
	ResourceRun    = "workflow_run"
)
