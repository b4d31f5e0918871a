package workflow_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sitewright/automation"
	"github.com/sitewright/automation/backoff"
	"github.com/sitewright/automation/id"
	"github.com/sitewright/automation/store/memory"
	"github.com/sitewright/automation/workflow"
)

// testClock is a manually advanced time source.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestExecutor(t *testing.T, defs []*workflow.Definition, clock *testClock, opts ...workflow.ExecutorOption) (*workflow.Executor, *memory.Store) {
	t.Helper()
	reg := workflow.NewRegistry()
	reg.MustRegister(defs...)
	st := memory.New()
	base := []workflow.ExecutorOption{
		workflow.WithClock(clock.Now),
		// Retry waits collapse to zero so tests never sleep.
		workflow.WithWait(func(context.Context, time.Duration) error { return nil }),
		workflow.WithDefaultBackoff(backoff.NewConstant(time.Millisecond)),
	}
	return workflow.NewExecutor(reg, st, append(base, opts...)...), st
}

func TestTrigger_OrderingAcrossSleep(t *testing.T) {
	clock := newTestClock()
	var order []string
	var mu sync.Mutex
	mark := func(name string) workflow.RunFunc {
		return func(context.Context, *workflow.StepContext) (map[string]any, error) {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return map[string]any{"step": name}, nil
		}
	}

	def := &workflow.Definition{
		ID:           "two-phase",
		TriggerEvent: "test/start",
		Steps: []workflow.Step{
			workflow.RunStep("a", mark("a")),
			workflow.Sleep("nap", time.Hour),
			workflow.RunStep("b", mark("b")),
		},
	}
	exec, st := newTestExecutor(t, []*workflow.Definition{def}, clock)
	ctx := context.Background()

	runs, err := exec.Trigger(ctx, "test/start", map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	runID := runs[0].ID

	// A executed, B has not: the sleep suspends between them.
	mu.Lock()
	if len(order) != 1 || order[0] != "a" {
		t.Fatalf("expected only step a before wake, got %v", order)
	}
	mu.Unlock()

	run, _ := st.GetRun(ctx, runID)
	if run.Status != workflow.StatusSleeping {
		t.Fatalf("expected sleeping, got %s", run.Status)
	}
	wantWake := clock.Now().Add(time.Hour)
	if run.WakeAt == nil || !run.WakeAt.Equal(wantWake) {
		t.Fatalf("expected wakeAt %v, got %v", wantWake, run.WakeAt)
	}

	// Waking early keeps the run asleep.
	if err := exec.Resume(ctx, runID); err != nil {
		t.Fatalf("early resume: %v", err)
	}
	run, _ = st.GetRun(ctx, runID)
	if run.Status != workflow.StatusSleeping {
		t.Fatalf("early wake should keep the run sleeping, got %s", run.Status)
	}

	clock.Advance(61 * time.Minute)
	if err := exec.Resume(ctx, runID); err != nil {
		t.Fatalf("resume: %v", err)
	}

	mu.Lock()
	if len(order) != 2 || order[1] != "b" {
		t.Fatalf("expected a then b, got %v", order)
	}
	mu.Unlock()

	run, _ = st.GetRun(ctx, runID)
	if run.Status != workflow.StatusCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
	if run.CompletedAt == nil {
		t.Fatal("expected CompletedAt set")
	}
}

func TestResume_IsIdempotent(t *testing.T) {
	clock := newTestClock()
	var executions atomic.Int64

	def := &workflow.Definition{
		ID:           "count-once",
		TriggerEvent: "test/start",
		Steps: []workflow.Step{
			workflow.RunStep("only", func(context.Context, *workflow.StepContext) (map[string]any, error) {
				executions.Add(1)
				return nil, nil
			}),
			workflow.Sleep("nap", time.Minute),
		},
	}
	exec, st := newTestExecutor(t, []*workflow.Definition{def}, clock)
	ctx := context.Background()

	runs, _ := exec.Trigger(ctx, "test/start", nil)
	runID := runs[0].ID

	clock.Advance(2 * time.Minute)
	if err := exec.Resume(ctx, runID); err != nil {
		t.Fatalf("resume: %v", err)
	}

	// Resuming a terminal run is a no-op: the recorded step does not
	// re-execute and results do not grow.
	for range 3 {
		if err := exec.Resume(ctx, runID); err != nil {
			t.Fatalf("redundant resume: %v", err)
		}
	}

	if got := executions.Load(); got != 1 {
		t.Fatalf("step executed %d times, want 1", got)
	}
	run, _ := st.GetRun(ctx, runID)
	if len(run.StepResults) != 2 {
		t.Fatalf("expected 2 results, got %d", len(run.StepResults))
	}
	if run.Cursor != len(run.StepResults) {
		t.Fatalf("cursor %d out of sync with %d results", run.Cursor, len(run.StepResults))
	}
}

func TestTrigger_FanOut(t *testing.T) {
	clock := newTestClock()
	step := func(context.Context, *workflow.StepContext) (map[string]any, error) { return nil, nil }

	defA := &workflow.Definition{
		ID: "fan-a", TriggerEvent: "shared/start",
		Steps: []workflow.Step{workflow.RunStep("s", step)},
	}
	defB := &workflow.Definition{
		ID: "fan-b", TriggerEvent: "shared/start",
		Steps: []workflow.Step{workflow.RunStep("s", step)},
	}
	exec, st := newTestExecutor(t, []*workflow.Definition{defA, defB}, clock)
	ctx := context.Background()

	runs, err := exec.Trigger(ctx, "shared/start", nil)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if runs[0].TriggerID != runs[1].TriggerID {
		t.Error("fan-out runs should share a trigger id")
	}

	for _, r := range runs {
		got, _ := st.GetRun(ctx, r.ID)
		if got.Status != workflow.StatusCompleted {
			t.Errorf("run %s: expected completed, got %s", r.DefinitionID, got.Status)
		}
	}
}

func TestTrigger_UnknownEventStartsNothing(t *testing.T) {
	clock := newTestClock()
	def := &workflow.Definition{
		ID: "noop", TriggerEvent: "known/start",
		Steps: []workflow.Step{workflow.RunStep("s", func(context.Context, *workflow.StepContext) (map[string]any, error) { return nil, nil })},
	}
	exec, _ := newTestExecutor(t, []*workflow.Definition{def}, clock)

	runs, err := exec.Trigger(context.Background(), "unknown/start", nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected no runs, got %d", len(runs))
	}
}

func TestRetry_BoundedAttempts(t *testing.T) {
	clock := newTestClock()
	var attempts atomic.Int64

	def := &workflow.Definition{
		ID: "flaky", TriggerEvent: "test/start",
		MaxRetries: 2,
		Steps: []workflow.Step{
			workflow.RunStep("fails", func(context.Context, *workflow.StepContext) (map[string]any, error) {
				attempts.Add(1)
				return nil, errors.New("transient")
			}),
		},
	}
	exec, st := newTestExecutor(t, []*workflow.Definition{def}, clock)

	runs, _ := exec.Trigger(context.Background(), "test/start", nil)

	// maxRetries=2 allows the initial attempt plus two retries.
	if got := attempts.Load(); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	run, _ := st.GetRun(context.Background(), runs[0].ID)
	if run.Status != workflow.StatusFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	if !strings.Contains(run.Error, "max retries exceeded") {
		t.Errorf("expected retry-exhaustion error, got %q", run.Error)
	}
}

func TestRetry_FatalSkipsRetries(t *testing.T) {
	clock := newTestClock()
	var attempts atomic.Int64

	def := &workflow.Definition{
		ID: "doomed", TriggerEvent: "test/start",
		MaxRetries: 5,
		Steps: []workflow.Step{
			workflow.RunStep("fatal", func(context.Context, *workflow.StepContext) (map[string]any, error) {
				attempts.Add(1)
				return nil, workflow.Fatal(errors.New("bad payload"))
			}),
		},
	}
	exec, st := newTestExecutor(t, []*workflow.Definition{def}, clock)

	runs, _ := exec.Trigger(context.Background(), "test/start", nil)

	if got := attempts.Load(); got != 1 {
		t.Fatalf("fatal error should not retry, got %d attempts", got)
	}
	run, _ := st.GetRun(context.Background(), runs[0].ID)
	if run.Status != workflow.StatusFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
}

func TestRetry_AttemptResetsAfterSuccess(t *testing.T) {
	clock := newTestClock()
	var attempts atomic.Int64

	def := &workflow.Definition{
		ID: "eventually", TriggerEvent: "test/start",
		MaxRetries: 5,
		Steps: []workflow.Step{
			workflow.RunStep("flaky", func(context.Context, *workflow.StepContext) (map[string]any, error) {
				if attempts.Add(1) < 3 {
					return nil, errors.New("transient")
				}
				return map[string]any{"ok": true}, nil
			}),
		},
	}
	exec, st := newTestExecutor(t, []*workflow.Definition{def}, clock)

	runs, _ := exec.Trigger(context.Background(), "test/start", nil)

	run, _ := st.GetRun(context.Background(), runs[0].ID)
	if run.Status != workflow.StatusCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
	if run.Attempt != 0 {
		t.Errorf("attempt counter should reset on success, got %d", run.Attempt)
	}
}

func TestSendEvent_TriggersOtherWorkflow(t *testing.T) {
	clock := newTestClock()
	var downstream atomic.Int64

	child := &workflow.Definition{
		ID: "child", TriggerEvent: "child/start",
		Steps: []workflow.Step{
			workflow.RunStep("s", func(context.Context, *workflow.StepContext) (map[string]any, error) {
				downstream.Add(1)
				return nil, nil
			}),
		},
	}
	parent := &workflow.Definition{
		ID: "parent", TriggerEvent: "parent/start",
		Steps: []workflow.Step{
			workflow.SendEvent("kick-child", func(*workflow.StepContext) (string, map[string]any) {
				return "child/start", map[string]any{"from": "parent"}
			}),
		},
	}
	exec, st := newTestExecutor(t, []*workflow.Definition{parent, child}, clock)
	ctx := context.Background()

	runs, err := exec.Trigger(ctx, "parent/start", nil)
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}

	// The parent completes without waiting on the child.
	run, _ := st.GetRun(ctx, runs[0].ID)
	if run.Status != workflow.StatusCompleted {
		t.Fatalf("expected parent completed, got %s", run.Status)
	}

	// The child trigger is fire-and-forget; poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for downstream.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if downstream.Load() != 1 {
		t.Fatalf("expected child to run once, got %d", downstream.Load())
	}
}

func TestCancel_StopsSleepingRun(t *testing.T) {
	clock := newTestClock()
	var ran atomic.Int64

	def := &workflow.Definition{
		ID: "cancellable", TriggerEvent: "test/start",
		Steps: []workflow.Step{
			workflow.Sleep("nap", time.Hour),
			workflow.RunStep("after", func(context.Context, *workflow.StepContext) (map[string]any, error) {
				ran.Add(1)
				return nil, nil
			}),
		},
	}
	exec, st := newTestExecutor(t, []*workflow.Definition{def}, clock)
	ctx := context.Background()

	runs, _ := exec.Trigger(ctx, "test/start", nil)
	runID := runs[0].ID

	if err := exec.Cancel(ctx, runID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	run, _ := st.GetRun(ctx, runID)
	if run.Status != workflow.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", run.Status)
	}
	if run.WakeAt != nil {
		t.Error("cancelled run should not keep a wake time")
	}

	// Cancelling twice reports the terminal state.
	if err := exec.Cancel(ctx, runID); !errors.Is(err, automation.ErrRunTerminal) {
		t.Fatalf("expected ErrRunTerminal, got %v", err)
	}

	// A later wake does not revive the run.
	clock.Advance(2 * time.Hour)
	if err := exec.Resume(ctx, runID); err != nil {
		t.Fatalf("resume after cancel: %v", err)
	}
	if ran.Load() != 0 {
		t.Fatal("step after cancellation must not execute")
	}
}

func TestResume_LeaseHeldByAnotherWorker(t *testing.T) {
	clock := newTestClock()
	def := &workflow.Definition{
		ID: "contended", TriggerEvent: "test/start",
		Steps: []workflow.Step{workflow.Sleep("nap", time.Minute)},
	}
	exec, st := newTestExecutor(t, []*workflow.Definition{def}, clock)
	ctx := context.Background()

	runs, _ := exec.Trigger(ctx, "test/start", nil)
	runID := runs[0].ID

	// Another worker holds the run's lease.
	other := id.NewWorkerID()
	ok, err := st.AcquireLease(ctx, "run:"+runID.String(), other, time.Minute)
	if err != nil || !ok {
		t.Fatalf("setup lease: ok=%v err=%v", ok, err)
	}

	clock.Advance(2 * time.Minute)
	if err := exec.Resume(ctx, runID); !errors.Is(err, automation.ErrLeaseHeld) {
		t.Fatalf("expected ErrLeaseHeld, got %v", err)
	}

	// Once released, the same resume succeeds.
	if err := st.ReleaseLease(ctx, "run:"+runID.String(), other); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := exec.Resume(ctx, runID); err != nil {
		t.Fatalf("resume after release: %v", err)
	}
	run, _ := st.GetRun(ctx, runID)
	if run.Status != workflow.StatusCompleted {
		t.Fatalf("expected completed, got %s", run.Status)
	}
}

func TestResume_MissingDefinitionFailsRun(t *testing.T) {
	clock := newTestClock()
	def := &workflow.Definition{
		ID: "registered", TriggerEvent: "test/start",
		Steps: []workflow.Step{workflow.Sleep("nap", time.Minute)},
	}
	exec, st := newTestExecutor(t, []*workflow.Definition{def}, clock)
	ctx := context.Background()

	// A sleeping run whose definition is gone at wake: seed the store
	// directly with an unregistered definition id.
	wake := clock.Now().Add(time.Minute)
	orphan := &workflow.Run{
		Entity:       automation.NewEntity(),
		ID:           id.NewRunID(),
		DefinitionID: "removed-definition",
		TriggerID:    id.NewTriggerID(),
		Status:       workflow.StatusSleeping,
		WakeAt:       &wake,
		StartedAt:    clock.Now(),
	}
	if err := st.CreateRun(ctx, orphan); err != nil {
		t.Fatalf("seed run: %v", err)
	}

	err := exec.Resume(ctx, orphan.ID)
	if !errors.Is(err, automation.ErrDefinitionNotFound) {
		t.Fatalf("expected ErrDefinitionNotFound, got %v", err)
	}

	run, _ := st.GetRun(ctx, orphan.ID)
	if run.Status != workflow.StatusFailed {
		t.Fatalf("expected failed, got %s", run.Status)
	}
	if run.Error == "" {
		t.Error("expected the failure reason recorded on the run")
	}
}

func TestStepContext_ExposesPriorResults(t *testing.T) {
	clock := newTestClock()

	def := &workflow.Definition{
		ID: "pipeline", TriggerEvent: "test/start",
		Steps: []workflow.Step{
			workflow.RunStep("produce", func(context.Context, *workflow.StepContext) (map[string]any, error) {
				return map[string]any{"value": "from-produce"}, nil
			}),
			workflow.RunStep("consume", func(_ context.Context, sc *workflow.StepContext) (map[string]any, error) {
				prior, ok := sc.Result("produce")
				if !ok || prior["value"] != "from-produce" {
					return nil, workflow.Fatal(errors.New("missing upstream result"))
				}
				if sc.Trigger["seed"] != "s1" {
					return nil, workflow.Fatal(errors.New("missing trigger payload"))
				}
				return nil, nil
			}),
		},
	}
	exec, st := newTestExecutor(t, []*workflow.Definition{def}, clock)

	runs, _ := exec.Trigger(context.Background(), "test/start", map[string]any{"seed": "s1"})
	run, _ := st.GetRun(context.Background(), runs[0].ID)
	if run.Status != workflow.StatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", run.Status, run.Error)
	}
}

