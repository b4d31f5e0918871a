// Package intent defines UI-emitted intents, their execution results,
// the handler registry, and the Executor that dispatches an intent to
// the capability manager bound to its name.
package intent

import (
	"context"

	"github.com/sitewright/automation/id"
)

// Intent is a named, payload-carrying request for a domain action,
// dispatched by the UI. Names are dot-namespaced ("booking.create").
// An Intent is immutable once issued.
type Intent struct {
	ID      id.IntentID    `json:"id"`
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload,omitempty"`
}

// NewIntent creates an Intent with a fresh ID.
func NewIntent(name string, payload map[string]any) Intent {
	return Intent{ID: id.NewIntentID(), Name: name, Payload: payload}
}

// Event is a named side-effect signal produced by executing an intent.
// Ordering within a single Result is significant and preserved all the
// way through the event bridge.
type Event struct {
	ID      id.EventID     `json:"id"`
	Name    string         `json:"name"`
	Payload map[string]any `json:"payload,omitempty"`
}

// ErrorKind classifies why an intent execution did not succeed.
type ErrorKind string

const (
	// ErrorNone means the execution succeeded.
	ErrorNone ErrorKind = ""
	// ErrorUnknownIntent means no handler is bound to the intent name.
	ErrorUnknownIntent ErrorKind = "unknown_intent"
	// ErrorManagerFailure means the bound capability call returned an
	// error or panicked.
	ErrorManagerFailure ErrorKind = "manager_failure"
)

// Result is the structured return value of one Executor invocation.
// It is a pure call-return value and is never persisted. The caller
// always receives a Result; executor failures are returned, never
// propagated as faults.
type Result struct {
	Success bool           `json:"success"`
	Data    map[string]any `json:"data,omitempty"`
	Events  []Event        `json:"events,omitempty"`
	Error   ErrorKind      `json:"error,omitempty"`
	// Cause carries the underlying error message when Error is
	// ErrorManagerFailure. Informational only.
	Cause string `json:"cause,omitempty"`
}

// Emitter collects domain events in emission order during one intent
// execution. It is handed to the bound handler and is not safe for use
// after the handler returns.
type Emitter struct {
	events []Event
}

// Emit records a named event with its payload. Order of Emit calls is
// the order events appear on the Result.
func (e *Emitter) Emit(name string, payload map[string]any) {
	e.events = append(e.events, Event{
		ID:      id.NewEventID(),
		Name:    name,
		Payload: payload,
	})
}

// Events returns the events recorded so far, in emission order.
func (e *Emitter) Events() []Event {
	return e.events
}

// HandlerFunc executes one intent against a capability manager. It
// receives the intent payload, may emit domain events through em, and
// returns result data for the UI.
type HandlerFunc func(ctx context.Context, em *Emitter, payload map[string]any) (map[string]any, error)

// Next is the terminal function a middleware calls to continue the chain.
type Next func(ctx context.Context) error

// Middleware wraps intent execution with cross-cutting logic (logging,
// panic recovery, timeouts, metrics). Implementations live in the
// middleware package; the type is defined here so the Executor does not
// import its own wrappers.
type Middleware func(ctx context.Context, in *Intent, next Next) error
