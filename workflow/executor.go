package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/sitewright/automation"
	"github.com/sitewright/automation/backoff"
	"github.com/sitewright/automation/id"
)

// Ingestor is the trigger ingestion boundary: any system (the event
// bridge, a recurring entry, a SEND_EVENT step) injects work through it.
type Ingestor interface {
	Trigger(ctx context.Context, event string, payload map[string]any) ([]*Run, error)
}

// Executor advances workflow runs: it creates runs for ingested
// triggers, executes steps with memoized results, suspends runs at
// sleep steps, and applies the bounded retry policy. A run is only ever
// advanced under its lease, so concurrent workers never execute the
// same run.
type Executor struct {
	registry *Registry
	store    Store
	emitter  RunEmitter
	logger   *slog.Logger
	workerID id.WorkerID

	leaseTTL   time.Duration
	maxRetries int
	bo         backoff.Strategy

	// now and wait are injectable for tests that simulate the clock.
	now  func() time.Time
	wait func(ctx context.Context, d time.Duration) error
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithEmitter sets the lifecycle emitter.
func WithEmitter(em RunEmitter) ExecutorOption {
	return func(e *Executor) { e.emitter = em }
}

// WithLogger sets the executor logger.
func WithLogger(logger *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = logger }
}

// WithWorkerID sets the lease owner identity. Defaults to a fresh id.
func WithWorkerID(workerID id.WorkerID) ExecutorOption {
	return func(e *Executor) { e.workerID = workerID }
}

// WithLeaseTTL sets how long a run lease lasts before expiring.
func WithLeaseTTL(ttl time.Duration) ExecutorOption {
	return func(e *Executor) { e.leaseTTL = ttl }
}

// WithDefaultMaxRetries sets the retry bound used by definitions that
// do not set their own.
func WithDefaultMaxRetries(n int) ExecutorOption {
	return func(e *Executor) { e.maxRetries = n }
}

// WithDefaultBackoff sets the retry backoff used by definitions that do
// not set their own.
func WithDefaultBackoff(bo backoff.Strategy) ExecutorOption {
	return func(e *Executor) { e.bo = bo }
}

// WithClock overrides the executor's time source. Test hook.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// WithWait overrides how the executor waits out retry delays. Test hook.
func WithWait(wait func(ctx context.Context, d time.Duration) error) ExecutorOption {
	return func(e *Executor) { e.wait = wait }
}

// NewExecutor creates an Executor over the given registry and store.
func NewExecutor(registry *Registry, store Store, opts ...ExecutorOption) *Executor {
	e := &Executor{
		registry:   registry,
		store:      store,
		emitter:    NopEmitter{},
		logger:     slog.Default(),
		workerID:   id.NewWorkerID(),
		leaseTTL:   30 * time.Second,
		maxRetries: 3,
		bo:         backoff.DefaultStrategy(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	e.wait = func(ctx context.Context, d time.Duration) error {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// WorkerID returns the executor's lease owner identity.
func (e *Executor) WorkerID() id.WorkerID { return e.workerID }

// leaseKey namespaces run leases in the shared lease table.
func leaseKey(runID id.RunID) string { return "run:" + runID.String() }

// Trigger implements Ingestor: it creates one run per definition bound
// to the trigger event (fan-out) and advances each until its first
// suspension or terminal state. A trigger with no bound definitions
// starts nothing and is not an error.
func (e *Executor) Trigger(ctx context.Context, event string, payload map[string]any) ([]*Run, error) {
	defs := e.registry.ByTrigger(event)
	if len(defs) == 0 {
		e.logger.Debug("trigger has no bound definitions", slog.String("trigger", event))
		return nil, nil
	}

	if payload == nil {
		payload = map[string]any{}
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("workflow: marshal trigger payload for %q: %w", event, err)
	}

	triggerID := id.NewTriggerID()
	runs := make([]*Run, 0, len(defs))

	for _, def := range defs {
		run := &Run{
			Entity:         automation.NewEntity(),
			ID:             id.NewRunID(),
			DefinitionID:   def.ID,
			TriggerID:      triggerID,
			TriggerPayload: data,
			Status:         StatusPending,
			StartedAt:      e.now(),
		}
		if err := e.store.CreateRun(ctx, run); err != nil {
			return runs, fmt.Errorf("workflow: create run for %q: %w", def.ID, err)
		}
		e.emitter.EmitRunStarted(ctx, run)

		if err := e.resume(ctx, run, def); err != nil && !errors.Is(err, automation.ErrLeaseHeld) {
			e.logger.Error("run execution error",
				slog.String("run_id", run.ID.String()),
				slog.String("workflow", def.ID),
				slog.String("error", err.Error()),
			)
		}
		runs = append(runs, run)
	}

	return runs, nil
}

// Resume loads a run and advances it. This is the scheduler's entry
// point for waking sleeping runs and recovering stalled ones. Returns
// automation.ErrLeaseHeld when another worker already owns the run.
func (e *Executor) Resume(ctx context.Context, runID id.RunID) error {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("workflow: get run %s: %w", runID, err)
	}
	if run.Status.Terminal() {
		return nil
	}

	def, ok := e.registry.Get(run.DefinitionID)
	if !ok {
		// The definition was removed between suspension and wake. The
		// run cannot make progress; fail it visibly rather than letting
		// the scheduler re-scan it forever.
		err := fmt.Errorf("%w: %s", automation.ErrDefinitionNotFound, run.DefinitionID)
		e.failRun(ctx, run, err)
		return err
	}

	return e.resume(ctx, run, def)
}

// Cancel transitions a non-terminal run to StatusCancelled. A run
// mid-step on another worker finishes that step's side effect but will
// not advance further.
func (e *Executor) Cancel(ctx context.Context, runID id.RunID) error {
	run, err := e.store.GetRun(ctx, runID)
	if err != nil {
		return fmt.Errorf("workflow: get run %s: %w", runID, err)
	}
	if run.Status.Terminal() {
		return automation.ErrRunTerminal
	}

	now := e.now()
	run.Status = StatusCancelled
	run.WakeAt = nil
	run.CompletedAt = &now
	run.Touch()
	if err := e.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("workflow: cancel run %s: %w", runID, err)
	}

	e.emitter.EmitRunCancelled(ctx, run)
	e.logger.Info("run cancelled", slog.String("run_id", run.ID.String()))
	return nil
}

// resume acquires the run's lease and advances it, releasing the lease
// on suspension or terminal state.
func (e *Executor) resume(ctx context.Context, run *Run, def *Definition) error {
	ok, err := e.store.AcquireLease(ctx, leaseKey(run.ID), e.workerID, e.leaseTTL)
	if err != nil {
		return fmt.Errorf("workflow: acquire lease for %s: %w", run.ID, err)
	}
	if !ok {
		return automation.ErrLeaseHeld
	}
	defer func() {
		if relErr := e.store.ReleaseLease(context.WithoutCancel(ctx), leaseKey(run.ID), e.workerID); relErr != nil {
			e.logger.Warn("release lease failed",
				slog.String("run_id", run.ID.String()),
				slog.String("error", relErr.Error()),
			)
		}
	}()

	return e.advance(ctx, run, def)
}

// advance executes steps from the cursor until the run suspends,
// completes, fails, or is cancelled. The cursor is re-derived from the
// recorded results on entry, so replay after a crash is driven purely
// by durable state.
func (e *Executor) advance(ctx context.Context, run *Run, def *Definition) error {
	if run.Status == StatusSleeping {
		e.emitter.EmitRunResumed(ctx, run)
	}
	if run.Status == StatusPending || run.Status == StatusSleeping {
		run.Status = StatusRunning
		run.Touch()
		if err := e.store.UpdateRun(ctx, run); err != nil {
			return fmt.Errorf("workflow: mark run %s running: %w", run.ID, err)
		}
	}

	for {
		// Observe external cancellation between steps.
		fresh, err := e.store.GetRun(ctx, run.ID)
		if err != nil {
			return fmt.Errorf("workflow: reload run %s: %w", run.ID, err)
		}
		if fresh.Status == StatusCancelled {
			e.logger.Debug("run cancelled mid-advance", slog.String("run_id", run.ID.String()))
			return nil
		}

		run.SyncCursor()
		if run.Cursor >= len(def.Steps) {
			return e.completeRun(ctx, run)
		}

		step := def.Steps[run.Cursor]
		sc, err := run.stepContext()
		if err != nil {
			e.failRun(ctx, run, fmt.Errorf("decode run state: %w", err))
			return nil
		}

		switch step.Kind {
		case StepSleep, StepSleepUntil:
			done, err := e.advanceSleep(ctx, run, step, sc)
			if err != nil {
				return err
			}
			if !done {
				return nil // suspended
			}

		case StepSendEvent:
			if err := e.advanceSendEvent(ctx, run, step, sc); err != nil {
				return err
			}

		case StepRun:
			done, err := e.advanceRun(ctx, run, def, step, sc)
			if err != nil {
				return err
			}
			if !done {
				return nil // run failed terminally
			}
		}
	}
}

// advanceSleep handles both sleep kinds. It returns done=true when the
// sleep is satisfied and the run advanced, done=false when the run was
// suspended.
func (e *Executor) advanceSleep(ctx context.Context, run *Run, step Step, sc *StepContext) (bool, error) {
	now := e.now()

	// A wake time is already set: the scheduler woke us (or the wake
	// time was in the past). When it has elapsed the sleep is done and
	// its result is recorded so replay skips it.
	if run.WakeAt != nil {
		if now.Before(*run.WakeAt) {
			// Woken early; keep sleeping.
			return false, e.suspend(ctx, run, *run.WakeAt)
		}
		if err := e.record(ctx, run, step.ID, nil); err != nil {
			return false, err
		}
		return true, nil
	}

	var wake time.Time
	if step.Kind == StepSleep {
		wake = now.Add(step.Sleep)
	} else {
		wake = step.Until(sc)
	}

	// An already-elapsed wake time (booking less than 24h away when the
	// reminder cadence starts) completes the sleep immediately.
	if !now.Before(wake) {
		if err := e.record(ctx, run, step.ID, nil); err != nil {
			return false, err
		}
		return true, nil
	}

	return false, e.suspend(ctx, run, wake)
}

// advanceSendEvent dispatches a sub-trigger fire-and-forget and advances
// immediately.
func (e *Executor) advanceSendEvent(ctx context.Context, run *Run, step Step, sc *StepContext) error {
	trigger, payload := step.Event(sc)

	go func(ctx context.Context) {
		if _, err := e.Trigger(ctx, trigger, payload); err != nil {
			e.logger.Error("send-event step trigger failed",
				slog.String("run_id", run.ID.String()),
				slog.String("step", step.ID),
				slog.String("trigger", trigger),
				slog.String("error", err.Error()),
			)
		}
	}(context.WithoutCancel(ctx))

	data, err := json.Marshal(map[string]any{"trigger": trigger})
	if err != nil {
		return fmt.Errorf("workflow: encode send-event result: %w", err)
	}
	if err := e.record(ctx, run, step.ID, data); err != nil {
		return err
	}

	e.emitter.EmitStepCompleted(ctx, run, step.ID, 0)
	return nil
}

// advanceRun executes a business-logic step under the retry policy.
// Returns done=false when the run failed terminally.
func (e *Executor) advanceRun(ctx context.Context, run *Run, def *Definition, step Step, sc *StepContext) (bool, error) {
	maxRetries := def.MaxRetries
	if maxRetries == 0 {
		maxRetries = e.maxRetries
	}
	bo := def.Backoff
	if bo == nil {
		bo = e.bo
	}

	for {
		start := e.now()
		data, err := e.invokeStep(ctx, step, sc)
		elapsed := e.now().Sub(start)

		if err == nil {
			encoded, encErr := json.Marshal(data)
			if encErr != nil {
				e.failRun(ctx, run, fmt.Errorf("encode result of step %q: %w", step.ID, encErr))
				return false, nil
			}
			if data == nil {
				encoded = nil
			}
			if recErr := e.record(ctx, run, step.ID, encoded); recErr != nil {
				return false, recErr
			}
			e.emitter.EmitStepCompleted(ctx, run, step.ID, elapsed)
			return true, nil
		}

		e.emitter.EmitStepFailed(ctx, run, step.ID, err)

		if IsFatal(err) {
			e.failRun(ctx, run, fmt.Errorf("step %q: %w", step.ID, err))
			return false, nil
		}
		if run.Attempt >= maxRetries {
			e.failRun(ctx, run, fmt.Errorf("step %q: %w: %w", step.ID, automation.ErrMaxRetriesExceeded, err))
			return false, nil
		}

		run.Attempt++
		run.Touch()
		if upErr := e.store.UpdateRun(ctx, run); upErr != nil {
			return false, fmt.Errorf("workflow: persist attempt for %s: %w", run.ID, upErr)
		}

		delay := bo.Delay(run.Attempt)
		e.emitter.EmitStepRetrying(ctx, run, step.ID, run.Attempt, delay)
		e.logger.Info("step scheduled for retry",
			slog.String("run_id", run.ID.String()),
			slog.String("step", step.ID),
			slog.Int("attempt", run.Attempt),
			slog.Int("max_retries", maxRetries),
			slog.Duration("delay", delay),
		)

		// Retry delays are sub-minute failure timers, waited out in
		// process while the lease is extended to cover them. Business
		// delays never come through here; they are SLEEP steps.
		if _, extErr := e.store.ExtendLease(ctx, leaseKey(run.ID), e.workerID, delay+e.leaseTTL); extErr != nil {
			return false, fmt.Errorf("workflow: extend lease for %s: %w", run.ID, extErr)
		}
		if waitErr := e.wait(ctx, delay); waitErr != nil {
			return false, waitErr
		}
	}
}

// invokeStep calls the step body, converting panics into errors.
func (e *Executor) invokeStep(ctx context.Context, step Step, sc *StepContext) (data map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("step body panicked",
				slog.String("step", step.ID),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("panic in step %s: %v", step.ID, r)
		}
	}()
	return step.Run(ctx, sc)
}

// record durably appends a step result, advances the cursor, and resets
// the attempt counter.
func (e *Executor) record(ctx context.Context, run *Run, stepID string, data []byte) error {
	res := StepResult{StepID: stepID, Data: data, RecordedAt: e.now()}
	if err := e.store.AppendStepResult(ctx, run.ID, res); err != nil {
		return fmt.Errorf("workflow: record step %q for %s: %w", stepID, run.ID, err)
	}

	run.StepResults = append(run.StepResults, res)
	run.SyncCursor()
	run.Attempt = 0
	run.WakeAt = nil
	run.Status = StatusRunning
	run.Touch()
	if err := e.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("workflow: advance cursor for %s: %w", run.ID, err)
	}
	return nil
}

// suspend parks the run until wake.
func (e *Executor) suspend(ctx context.Context, run *Run, wake time.Time) error {
	run.Status = StatusSleeping
	run.WakeAt = &wake
	run.Touch()
	if err := e.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("workflow: suspend run %s: %w", run.ID, err)
	}

	e.emitter.EmitRunSuspended(ctx, run, wake)
	e.logger.Debug("run sleeping",
		slog.String("run_id", run.ID.String()),
		slog.Time("wake_at", wake),
	)
	return nil
}

// completeRun marks the run terminal-successful.
func (e *Executor) completeRun(ctx context.Context, run *Run) error {
	now := e.now()
	run.Status = StatusCompleted
	run.WakeAt = nil
	run.CompletedAt = &now
	run.Touch()
	if err := e.store.UpdateRun(ctx, run); err != nil {
		return fmt.Errorf("workflow: complete run %s: %w", run.ID, err)
	}

	e.emitter.EmitRunCompleted(ctx, run, now.Sub(run.StartedAt))
	e.logger.Info("run completed",
		slog.String("run_id", run.ID.String()),
		slog.String("workflow", run.DefinitionID),
	)
	return nil
}

// failRun marks the run terminal-failed and records the error for
// operator visibility. Failures never propagate to other runs or to the
// intent that originally triggered this run.
func (e *Executor) failRun(ctx context.Context, run *Run, err error) {
	now := e.now()
	run.Status = StatusFailed
	run.Error = err.Error()
	run.WakeAt = nil
	run.CompletedAt = &now
	run.Touch()
	if upErr := e.store.UpdateRun(ctx, run); upErr != nil {
		e.logger.Error("failed to persist run failure",
			slog.String("run_id", run.ID.String()),
			slog.String("error", upErr.Error()),
		)
	}

	e.emitter.EmitRunFailed(ctx, run, err)
	e.logger.Error("run failed",
		slog.String("run_id", run.ID.String()),
		slog.String("workflow", run.DefinitionID),
		slog.String("error", err.Error()),
	)
}
