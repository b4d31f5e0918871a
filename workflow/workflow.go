// Package workflow defines workflow definitions, steps, durable runs,
// the validated definition registry, the persistence contract, and the
// step executor that advances runs with memoized results, timed
// suspension, and bounded retries.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sitewright/automation/backoff"
)

// StepKind discriminates the four step shapes a definition may contain.
type StepKind string

const (
	// StepRun executes arbitrary business logic (send an email, tag a
	// lead). Bodies must tolerate at-least-once execution: a crash
	// between the side effect and the recorded result re-executes the
	// step on resume.
	StepRun StepKind = "run"
	// StepSleep suspends the run for a fixed duration.
	StepSleep StepKind = "sleep"
	// StepSleepUntil suspends the run until an absolute time computed
	// from the trigger payload (e.g. 24h before an appointment).
	StepSleepUntil StepKind = "sleep_until"
	// StepSendEvent ingests a trigger for a different workflow and
	// advances immediately (fire-and-forget composition).
	StepSendEvent StepKind = "send_event"
)

// StepContext exposes the trigger payload and prior step results to a
// step body. Results are read-only copies.
type StepContext struct {
	// Trigger is the transformed event payload that started the run.
	Trigger map[string]any

	results map[string]map[string]any
}

// Result returns the memoized result of an earlier step by id.
func (sc *StepContext) Result(stepID string) (map[string]any, bool) {
	r, ok := sc.results[stepID]
	return r, ok
}

// RunFunc is the body of a StepRun step.
type RunFunc func(ctx context.Context, sc *StepContext) (map[string]any, error)

// UntilFunc computes the absolute wake time for a StepSleepUntil step.
type UntilFunc func(sc *StepContext) time.Time

// EventFunc builds the trigger name and payload for a StepSendEvent step.
type EventFunc func(sc *StepContext) (trigger string, payload map[string]any)

// Step is one unit of work in a definition. Its ID is the memoization
// key: it must be stable and unique within the definition.
type Step struct {
	ID   string
	Kind StepKind

	// Exactly one of the following is set, matching Kind.
	Run   RunFunc
	Sleep time.Duration
	Until UntilFunc
	Event EventFunc
}

// RunStep constructs a business-logic step.
func RunStep(stepID string, fn RunFunc) Step {
	return Step{ID: stepID, Kind: StepRun, Run: fn}
}

// Sleep constructs a fixed-duration suspension step.
func Sleep(stepID string, d time.Duration) Step {
	return Step{ID: stepID, Kind: StepSleep, Sleep: d}
}

// SleepUntil constructs an absolute-time suspension step.
func SleepUntil(stepID string, fn UntilFunc) Step {
	return Step{ID: stepID, Kind: StepSleepUntil, Until: fn}
}

// SendEvent constructs a cross-workflow composition step.
func SendEvent(stepID string, fn EventFunc) Step {
	return Step{ID: stepID, Kind: StepSendEvent, Event: fn}
}

// Definition is an ordered step sequence bound to a trigger event.
// Definitions are registered at process start and immutable at runtime.
// Several definitions may share a trigger event (fan-out).
type Definition struct {
	// ID uniquely names the definition ("cart-abandonment").
	ID string

	// TriggerEvent is the ingested trigger name that starts a run.
	TriggerEvent string

	// MaxRetries bounds retries per step for transient failures.
	// Zero means use the engine default.
	MaxRetries int

	// Backoff computes retry delays for this definition. Nil means use
	// the engine default.
	Backoff backoff.Strategy

	// Steps execute strictly in order.
	Steps []Step
}

// Validate checks the static shape of the definition: non-empty ids,
// a trigger event, and step bodies matching their kinds. Called by the
// registry so a malformed definition is a startup error, not a runtime
// surprise.
func (d *Definition) Validate() error {
	if d.ID == "" {
		return errors.New("workflow: definition id is empty")
	}
	if d.TriggerEvent == "" {
		return fmt.Errorf("workflow %s: trigger event is empty", d.ID)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %s: no steps", d.ID)
	}
	if d.MaxRetries < 0 {
		return fmt.Errorf("workflow %s: negative max retries", d.ID)
	}

	seen := make(map[string]struct{}, len(d.Steps))
	for i, step := range d.Steps {
		if step.ID == "" {
			return fmt.Errorf("workflow %s: step %d has empty id", d.ID, i)
		}
		if _, dup := seen[step.ID]; dup {
			return fmt.Errorf("workflow %s: step %q appears twice", d.ID, step.ID)
		}
		seen[step.ID] = struct{}{}

		switch step.Kind {
		case StepRun:
			if step.Run == nil {
				return fmt.Errorf("workflow %s: run step %q has no body", d.ID, step.ID)
			}
		case StepSleep:
			if step.Sleep <= 0 {
				return fmt.Errorf("workflow %s: sleep step %q has non-positive duration", d.ID, step.ID)
			}
		case StepSleepUntil:
			if step.Until == nil {
				return fmt.Errorf("workflow %s: sleep-until step %q has no time func", d.ID, step.ID)
			}
		case StepSendEvent:
			if step.Event == nil {
				return fmt.Errorf("workflow %s: send-event step %q has no event func", d.ID, step.ID)
			}
		default:
			return fmt.Errorf("workflow %s: step %q has unknown kind %q", d.ID, step.ID, step.Kind)
		}
	}

	return nil
}
