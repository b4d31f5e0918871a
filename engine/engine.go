// Package engine wires all automation subsystems together. It creates
// the hook registry, intent registry, middleware chain, event bridge,
// workflow executor, and scheduler, and provides the Execute/Trigger
// operations the host application calls.
//
// This package exists to break the import cycle: the root automation
// package defines Entity and the shared error values (imported by
// intent, workflow, etc.) and so cannot import those packages back.
// The engine package sits above all subsystem packages and below the
// application layer.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/sitewright/automation"
	"github.com/sitewright/automation/automations"
	"github.com/sitewright/automation/backoff"
	"github.com/sitewright/automation/bridge"
	"github.com/sitewright/automation/capability"
	"github.com/sitewright/automation/hook"
	"github.com/sitewright/automation/id"
	"github.com/sitewright/automation/intent"
	mw "github.com/sitewright/automation/middleware"
	"github.com/sitewright/automation/notify"
	"github.com/sitewright/automation/observability"
	"github.com/sitewright/automation/scheduler"
	"github.com/sitewright/automation/store"
	"github.com/sitewright/automation/workflow"
)

const defaultIntentTimeout = 30 * time.Second

// Engine is the assembled automation core: intent executor, event
// bridge, workflow executor, and scheduler sharing one store and one
// hook registry. Use Build() to create one.
type Engine struct {
	cfg    automation.Config
	logger *slog.Logger
	st     store.Store

	hooks   *hook.Registry
	intents *intent.Registry
	exec    *intent.Executor

	bus   *bridge.Bridge
	rules *bridge.Rules

	wfRegistry *workflow.Registry
	wfExec     *workflow.Executor
	sched      *scheduler.Scheduler

	// Build inputs collected by options.
	mws           []intent.Middleware
	extensions    []hook.Extension
	defs          []*workflow.Definition
	notifier      notify.Notifier
	bridgeCtx     map[string]any
	intentTimeout time.Duration

	// OpenTelemetry providers (optional; nil means use global).
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
}

// Option configures an Engine.
type Option func(*Engine)

// WithConfig sets the tuning configuration. If not set,
// automation.DefaultConfig() is used.
func WithConfig(cfg automation.Config) Option {
	return func(eng *Engine) {
		eng.cfg = cfg
	}
}

// WithLogger sets the engine logger. If not set, slog.Default() is used.
func WithLogger(logger *slog.Logger) Option {
	return func(eng *Engine) {
		eng.logger = logger
	}
}

// WithExtension registers a lifecycle extension with the engine.
func WithExtension(e hook.Extension) Option {
	return func(eng *Engine) {
		eng.extensions = append(eng.extensions, e)
	}
}

// WithMiddleware appends middleware to the intent executor's chain,
// after the default stack.
func WithMiddleware(m intent.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, m)
	}
}

// WithRules sets the event-to-trigger rule table for the bridge.
// If not set, automations.DefaultRules() is used.
func WithRules(rules *bridge.Rules) Option {
	return func(eng *Engine) {
		eng.rules = rules
	}
}

// WithBridgeContext adds static fields merged into every trigger
// payload the bridge produces (site ID, environment).
func WithBridgeContext(fields map[string]any) Option {
	return func(eng *Engine) {
		eng.bridgeCtx = fields
	}
}

// WithDefinitions registers workflow definitions with the engine.
func WithDefinitions(defs ...*workflow.Definition) Option {
	return func(eng *Engine) {
		eng.defs = append(eng.defs, defs...)
	}
}

// WithNotifier supplies the outbound notifier and registers the stock
// automation definitions (cart abandonment, booking reminders, lead
// nurture, newsletter welcome) built on it.
func WithNotifier(n notify.Notifier) Option {
	return func(eng *Engine) {
		eng.notifier = n
	}
}

// WithIntentTimeout bounds the execution time of a single intent.
// If not set, a 30-second default applies.
func WithIntentTimeout(d time.Duration) Option {
	return func(eng *Engine) {
		eng.intentTimeout = d
	}
}

// WithTracerProvider sets a custom OTel TracerProvider for the engine.
// When set, the tracing middleware uses this provider instead of the
// global one.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider for the engine.
// When set, both the metrics middleware and the observability extension
// use this provider instead of the global one.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// Build assembles an Engine over the given store and manager set.
// The store is owned by the caller; Build does not migrate or close it.
func Build(st store.Store, caps capability.Registry, opts ...Option) (*Engine, error) {
	if st == nil {
		return nil, automation.ErrNoStore
	}

	eng := &Engine{
		cfg:           automation.DefaultConfig(),
		st:            st,
		intentTimeout: defaultIntentTimeout,
	}
	for _, opt := range opts {
		opt(eng)
	}
	if eng.logger == nil {
		eng.logger = slog.Default()
	}

	// Hook registry: user extensions first, then the built-in metrics
	// extension.
	eng.hooks = hook.NewRegistry(eng.logger)
	for _, e := range eng.extensions {
		eng.hooks.Register(e)
	}
	var obsExt *observability.MetricsExtension
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/sitewright/automation")
		obsExt = observability.NewMetricsExtensionWithMeter(meter)
	} else {
		obsExt = observability.NewMetricsExtension()
	}
	eng.hooks.Register(obsExt)

	// Workflow subsystem.
	eng.wfRegistry = workflow.NewRegistry()
	if eng.notifier != nil {
		for _, def := range automations.All(eng.notifier) {
			if err := eng.wfRegistry.Register(def); err != nil {
				return nil, fmt.Errorf("register automation %q: %w", def.ID, err)
			}
		}
	}
	for _, def := range eng.defs {
		if err := eng.wfRegistry.Register(def); err != nil {
			return nil, fmt.Errorf("register workflow %q: %w", def.ID, err)
		}
	}
	eng.wfExec = workflow.NewExecutor(eng.wfRegistry, st,
		workflow.WithEmitter(eng.hooks),
		workflow.WithLogger(eng.logger),
		workflow.WithLeaseTTL(eng.cfg.LeaseTTL),
		workflow.WithDefaultMaxRetries(eng.cfg.DefaultMaxRetries),
		workflow.WithDefaultBackoff(backoff.NewExponentialWithJitter(eng.cfg.RetryInitial, eng.cfg.RetryMax)),
	)

	// Event bridge, feeding forwarded events into workflow triggers.
	if eng.rules == nil {
		eng.rules = automations.DefaultRules()
	}
	ingest := bridge.IngestorFunc(func(ctx context.Context, trigger string, payload map[string]any) error {
		_, err := eng.wfExec.Trigger(ctx, trigger, payload)
		return err
	})
	bridgeOpts := []bridge.Option{
		bridge.WithLogger(eng.logger),
		bridge.WithEmitter(eng.hooks),
	}
	if eng.bridgeCtx != nil {
		bridgeOpts = append(bridgeOpts, bridge.WithContext(eng.bridgeCtx))
	}
	eng.bus = bridge.New(eng.rules, ingest, bridgeOpts...)

	// Build tracing middleware (custom provider or global).
	var tracingMw intent.Middleware
	if eng.tracerProvider != nil {
		tracer := eng.tracerProvider.Tracer("github.com/sitewright/automation")
		tracingMw = mw.TracingWithTracer(tracer)
	} else {
		tracingMw = mw.Tracing()
	}

	// Build metrics middleware (custom provider or global).
	var metricsMw intent.Middleware
	if eng.meterProvider != nil {
		meter := eng.meterProvider.Meter("github.com/sitewright/automation")
		metricsMw = mw.MetricsWithMeter(meter)
	} else {
		metricsMw = mw.Metrics()
	}

	// Default middleware stack: recover, tracing, metrics, logging,
	// scope, timeout. User middleware runs inside the stack.
	allMws := []intent.Middleware{
		mw.Recover(eng.logger),
		tracingMw,
		metricsMw,
		mw.Logging(eng.logger),
		mw.Scope(),
		mw.Timeout(eng.intentTimeout),
	}
	allMws = append(allMws, eng.mws...)

	// Intent subsystem.
	eng.intents = intent.NewRegistry()
	if err := capability.Register(eng.intents, caps); err != nil {
		return nil, fmt.Errorf("bind capabilities: %w", err)
	}
	eng.exec = intent.NewExecutor(eng.intents,
		intent.WithForwarder(eng.bus),
		intent.WithLifecycleEmitter(eng.hooks),
		intent.WithLogger(eng.logger),
		intent.WithMiddleware(allMws...),
	)

	// Scheduler, sharing the workflow executor's worker identity so
	// wake resumptions reuse its leases.
	triggerFn := scheduler.TriggerFunc(func(ctx context.Context, trigger string, payload map[string]any) error {
		_, err := eng.wfExec.Trigger(ctx, trigger, payload)
		return err
	})
	schedOpts := []scheduler.Option{
		scheduler.WithLogger(eng.logger),
		scheduler.WithTickInterval(eng.cfg.TickInterval),
		scheduler.WithConcurrency(eng.cfg.Concurrency),
	}
	if eng.cfg.ResumeRate > 0 {
		schedOpts = append(schedOpts, scheduler.WithResumeRate(rate.Limit(eng.cfg.ResumeRate), eng.cfg.ResumeBurst))
	}
	eng.sched = scheduler.New(st, eng.wfExec, triggerFn, eng.wfExec.WorkerID(), schedOpts...)

	return eng, nil
}

// Execute runs a single intent through the middleware chain and
// forwards its events into the bridge on success.
func (eng *Engine) Execute(ctx context.Context, in intent.Intent) intent.Result {
	return eng.exec.Execute(ctx, in)
}

// Trigger starts a run of every workflow definition bound to the given
// event, bypassing the bridge. Used for programmatic starts.
func (eng *Engine) Trigger(ctx context.Context, event string, payload map[string]any) ([]*workflow.Run, error) {
	return eng.wfExec.Trigger(ctx, event, payload)
}

// Resume advances a sleeping run whose wake time has arrived.
func (eng *Engine) Resume(ctx context.Context, runID id.RunID) error {
	return eng.wfExec.Resume(ctx, runID)
}

// Cancel terminally stops a pending run.
func (eng *Engine) Cancel(ctx context.Context, runID id.RunID) error {
	return eng.wfExec.Cancel(ctx, runID)
}

// AddRecurring registers a named recurring trigger with a cron spec.
func (eng *Engine) AddRecurring(name, spec, trigger string, payload map[string]any) error {
	return eng.sched.AddRecurring(name, spec, trigger, payload)
}

// Subscribe attaches a synchronous observer to bridge events with the
// given name.
func (eng *Engine) Subscribe(event string, fn bridge.Subscriber) {
	eng.bus.Subscribe(event, fn)
}

// Start verifies store connectivity and begins scheduler ticking.
// Runs interrupted by a previous crash are picked up by the stale-run
// recovery pass on the first tick.
func (eng *Engine) Start(ctx context.Context) error {
	if err := eng.st.Ping(ctx); err != nil {
		return fmt.Errorf("store ping: %w", err)
	}
	if err := eng.sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the engine: scheduler first so no new
// resumptions begin, then the bridge queue, then the shutdown hooks.
// The store is left open for the caller.
func (eng *Engine) Stop(ctx context.Context) error {
	if _, ok := ctx.Deadline(); !ok && eng.cfg.ShutdownTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, eng.cfg.ShutdownTimeout)
		defer cancel()
	}

	if err := eng.sched.Stop(ctx); err != nil {
		eng.logger.Error("scheduler stop error", slog.String("error", err.Error()))
	}
	eng.bus.Close()
	eng.hooks.EmitShutdown(ctx)
	return nil
}

// Hooks returns the lifecycle hook registry.
func (eng *Engine) Hooks() *hook.Registry { return eng.hooks }

// Intents returns the intent executor.
func (eng *Engine) Intents() *intent.Executor { return eng.exec }

// Bridge returns the event bridge.
func (eng *Engine) Bridge() *bridge.Bridge { return eng.bus }

// Workflows returns the workflow executor.
func (eng *Engine) Workflows() *workflow.Executor { return eng.wfExec }

// Scheduler returns the wake scheduler.
func (eng *Engine) Scheduler() *scheduler.Scheduler { return eng.sched }

// Store returns the run store the engine was built over.
func (eng *Engine) Store() store.Store { return eng.st }

// Config returns the engine's effective configuration.
func (eng *Engine) Config() automation.Config { return eng.cfg }
