package workflow

import (
	"encoding/json"
	"time"

	"github.com/sitewright/automation"
	"github.com/sitewright/automation/id"
)

// Status represents the lifecycle state of a workflow run.
type Status string

const (
	// StatusPending means the run is created but not yet executing.
	StatusPending Status = "pending"
	// StatusRunning means a worker holds the run's lease and is
	// executing steps.
	StatusRunning Status = "running"
	// StatusSleeping means the run is suspended until WakeAt.
	StatusSleeping Status = "sleeping"
	// StatusCompleted means every step finished.
	StatusCompleted Status = "completed"
	// StatusFailed means a step exhausted its retries or failed fatally.
	StatusFailed Status = "failed"
	// StatusCancelled means the run was explicitly cancelled.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// StepResult is one memoized step outcome. Results are append-only:
// once a step id has a value it is never rewritten.
type StepResult struct {
	StepID     string    `json:"step_id"`
	Data       []byte    `json:"data,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

// Run is the unit of durable state: one execution instance of a
// definition. The cursor is always re-derived from the number of
// recorded step results on load, so a crash between a step's side
// effect and its recorded result replays the step rather than skipping
// it (at-least-once execution).
type Run struct {
	automation.Entity

	ID           id.RunID     `json:"id"`
	DefinitionID string       `json:"definition_id"`
	TriggerID    id.TriggerID `json:"trigger_id"`

	// TriggerPayload is the transformed event payload that started the
	// run, JSON-encoded. Immutable.
	TriggerPayload []byte `json:"trigger_payload,omitempty"`

	Status Status `json:"status"`

	// Cursor is the index of the next step to execute. Invariant:
	// Cursor == len(StepResults) whenever the run is at rest.
	Cursor int `json:"cursor"`

	// StepResults holds the memoized result of every completed step, in
	// execution order.
	StepResults []StepResult `json:"step_results,omitempty"`

	// WakeAt is set only while Status is StatusSleeping.
	WakeAt *time.Time `json:"wake_at,omitempty"`

	// Attempt counts retries of the step at Cursor. Resets to zero when
	// the cursor advances.
	Attempt int `json:"attempt"`

	// Error records the last fatal error. Set only when StatusFailed.
	Error string `json:"error,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SyncCursor restores the cursor invariant from the recorded results.
// Stores call this after loading a run so replay is driven purely by
// what was durably recorded.
func (r *Run) SyncCursor() {
	r.Cursor = len(r.StepResults)
}

// HasResult reports whether a result is recorded for the given step id.
func (r *Run) HasResult(stepID string) bool {
	for _, res := range r.StepResults {
		if res.StepID == stepID {
			return true
		}
	}
	return false
}

// stepContext builds the read view handed to step bodies.
func (r *Run) stepContext() (*StepContext, error) {
	sc := &StepContext{
		Trigger: map[string]any{},
		results: make(map[string]map[string]any, len(r.StepResults)),
	}

	if len(r.TriggerPayload) > 0 {
		if err := json.Unmarshal(r.TriggerPayload, &sc.Trigger); err != nil {
			return nil, err
		}
	}

	for _, res := range r.StepResults {
		if len(res.Data) == 0 {
			sc.results[res.StepID] = nil
			continue
		}
		var m map[string]any
		if err := json.Unmarshal(res.Data, &m); err != nil {
			return nil, err
		}
		sc.results[res.StepID] = m
	}

	return sc, nil
}
