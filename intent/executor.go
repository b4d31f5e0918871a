package intent

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// Forwarder receives the ordered events of a successful execution and
// hands them to downstream automation. Implementations must not block:
// the bridge queues events and returns immediately, so an Execute caller
// never waits on workflow ingestion.
type Forwarder interface {
	Dispatch(ctx context.Context, events []Event)
}

// LifecycleEmitter is notified after every execution. Defined here
// rather than in the hook package so this package carries no hook
// dependency; hook.Registry satisfies it.
type LifecycleEmitter interface {
	EmitIntentExecuted(ctx context.Context, in *Intent, res *Result, elapsed time.Duration)
}

// NopForwarder discards events. Used when no automation is wired.
type NopForwarder struct{}

// Dispatch implements Forwarder.
func (NopForwarder) Dispatch(context.Context, []Event) {}

// nopEmitter discards lifecycle notifications.
type nopEmitter struct{}

func (nopEmitter) EmitIntentExecuted(context.Context, *Intent, *Result, time.Duration) {}

// Chain composes middleware into a single Middleware. Middleware are
// applied right-to-left: the first in the list is the outermost wrapper.
func Chain(mws ...Middleware) Middleware {
	return func(ctx context.Context, in *Intent, next Next) error {
		h := next
		for i := len(mws) - 1; i >= 0; i-- {
			mw := mws[i]
			prev := h
			h = func(ctx context.Context) error {
				return mw(ctx, in, prev)
			}
		}
		return h(ctx)
	}
}

// Executor dispatches intents to their bound capability handlers and
// collects emitted events. It has no special-cased logic for any
// capability: UI side effects (toast, navigation, overlay) go through
// the same dispatch path as domain operations, which lets the host swap
// real managers for test doubles without touching dispatch.
type Executor struct {
	registry  *Registry
	forwarder Forwarder
	emitter   LifecycleEmitter
	mw        Middleware
	logger    *slog.Logger
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithForwarder sets the downstream event forwarder.
func WithForwarder(f Forwarder) ExecutorOption {
	return func(e *Executor) { e.forwarder = f }
}

// WithLifecycleEmitter sets the lifecycle emitter.
func WithLifecycleEmitter(em LifecycleEmitter) ExecutorOption {
	return func(e *Executor) { e.emitter = em }
}

// WithMiddleware sets the middleware chain wrapped around every handler
// invocation.
func WithMiddleware(mws ...Middleware) ExecutorOption {
	return func(e *Executor) { e.mw = Chain(mws...) }
}

// WithLogger sets the executor logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// NewExecutor creates an Executor over the given registry.
func NewExecutor(registry *Registry, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:  registry,
		forwarder: NopForwarder{},
		emitter:   nopEmitter{},
		mw:        Chain(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute dispatches the intent to its bound handler and returns a
// structured Result. It never returns an error and never panics: an
// unbound name yields ErrorUnknownIntent, and handler errors or panics
// yield ErrorManagerFailure. Emitted events are forwarded to automation
// only when the handler succeeds; forwarding outcome is observable via
// logs and hooks, never via the Result.
func (e *Executor) Execute(ctx context.Context, in Intent) Result {
	start := time.Now()

	handler, ok := e.registry.Get(in.Name)
	if !ok {
		e.logger.Warn("unknown intent",
			slog.String("intent", in.Name),
			slog.String("intent_id", in.ID.String()),
		)
		res := Result{Success: false, Error: ErrorUnknownIntent}
		e.emitter.EmitIntentExecuted(ctx, &in, &res, time.Since(start))
		return res
	}

	em := &Emitter{}
	var data map[string]any

	terminal := func(ctx context.Context) error {
		var err error
		data, err = e.invoke(ctx, handler, em, in)
		return err
	}

	err := e.mw(ctx, &in, terminal)
	elapsed := time.Since(start)

	if err != nil {
		res := Result{
			Success: false,
			Error:   ErrorManagerFailure,
			Cause:   err.Error(),
			Events:  em.Events(),
		}
		e.logger.Error("intent failed",
			slog.String("intent", in.Name),
			slog.String("intent_id", in.ID.String()),
			slog.Duration("elapsed", elapsed),
			slog.String("error", err.Error()),
		)
		e.emitter.EmitIntentExecuted(ctx, &in, &res, elapsed)
		return res
	}

	res := Result{Success: true, Data: data, Events: em.Events()}

	// Hand emitted events to the bridge. Dispatch is non-blocking; the
	// UI's success determination never waits on workflow ingestion.
	if len(res.Events) > 0 {
		e.forwarder.Dispatch(ctx, res.Events)
	}

	e.logger.Debug("intent executed",
		slog.String("intent", in.Name),
		slog.String("intent_id", in.ID.String()),
		slog.Int("events", len(res.Events)),
		slog.Duration("elapsed", elapsed),
	)
	e.emitter.EmitIntentExecuted(ctx, &in, &res, elapsed)

	return res
}

// invoke calls the handler, converting panics into errors so capability
// faults are always surfaced as structured manager failures.
func (e *Executor) invoke(ctx context.Context, handler HandlerFunc, em *Emitter, in Intent) (data map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("capability handler panicked",
				slog.String("intent", in.Name),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in intent %s: %v", in.Name, r)
		}
	}()
	return handler(ctx, em, in.Payload)
}
