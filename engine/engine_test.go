package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sitewright/automation"
	"github.com/sitewright/automation/capability"
	"github.com/sitewright/automation/engine"
	"github.com/sitewright/automation/intent"
	"github.com/sitewright/automation/notify"
	"github.com/sitewright/automation/store/memory"
	"github.com/sitewright/automation/workflow"
)

// ─── Test doubles ───────────────────────────────────────────────────────────

type recorderNotifier struct {
	mu   sync.Mutex
	sent []notify.Message
}

func (r *recorderNotifier) Send(_ context.Context, msg notify.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, msg)
	return nil
}

type fakeCart struct {
	state capability.CartState
}

func (f *fakeCart) AddItem(_ context.Context, cartID string, line capability.CartLine) (capability.CartState, error) {
	f.state.CartID = cartID
	f.state.Items = append(f.state.Items, line)
	return f.state, nil
}

func (f *fakeCart) RemoveItem(_ context.Context, cartID, _ string) (capability.CartState, error) {
	f.state.CartID = cartID
	return f.state, nil
}

func (f *fakeCart) Checkout(_ context.Context, cartID string) (capability.CartState, error) {
	f.state.CartID = cartID
	return f.state, nil
}

func (f *fakeCart) Snapshot(_ context.Context, cartID string) (capability.CartState, error) {
	f.state.CartID = cartID
	return f.state, nil
}

type fakeToast struct {
	mu    sync.Mutex
	shown []string
}

func (f *fakeToast) Show(_ context.Context, _, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shown = append(f.shown, message)
	return nil
}

// waitFor polls until cond returns true or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

// ─── Tests ──────────────────────────────────────────────────────────────────

func TestBuild_WiresSubsystems(t *testing.T) {
	eng, err := engine.Build(memory.New(), capability.Registry{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if eng.Hooks() == nil || eng.Intents() == nil || eng.Bridge() == nil ||
		eng.Workflows() == nil || eng.Scheduler() == nil || eng.Store() == nil {
		t.Fatal("expected all subsystems to be wired")
	}
	if got, want := eng.Config(), automation.DefaultConfig(); got != want {
		t.Fatalf("Config() = %+v, want defaults %+v", got, want)
	}
	eng.Bridge().Close()
}

func TestBuild_NilStoreFails(t *testing.T) {
	_, err := engine.Build(nil, capability.Registry{})
	if !errors.Is(err, automation.ErrNoStore) {
		t.Fatalf("err = %v, want ErrNoStore", err)
	}
}

func TestBuild_DuplicateDefinitionFails(t *testing.T) {
	def := &workflow.Definition{
		ID:           "dup",
		TriggerEvent: "dup/trigger",
		Steps: []workflow.Step{
			workflow.RunStep("noop", func(_ context.Context, _ *workflow.StepContext) (map[string]any, error) {
				return nil, nil
			}),
		},
	}

	_, err := engine.Build(memory.New(), capability.Registry{},
		engine.WithDefinitions(def, def))
	if err == nil {
		t.Fatal("expected duplicate definition to fail Build")
	}
}

func TestExecute_IntentStartsAutomationRun(t *testing.T) {
	st := memory.New()
	rec := &recorderNotifier{}
	cart := &fakeCart{state: capability.CartState{
		CustomerEmail: "shopper@example.com",
		Total:         42.50,
	}}

	eng, err := engine.Build(st, capability.Registry{Cart: cart},
		engine.WithNotifier(rec))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer eng.Bridge().Close()

	res := eng.Execute(context.Background(), intent.NewIntent(capability.IntentCartAbandon, map[string]any{
		"cart_id": "cart-7",
	}))
	if !res.Success {
		t.Fatalf("execute failed: %s (%s)", res.Error, res.Cause)
	}

	// Bridge delivery is asynchronous; wait for the run to appear.
	waitFor(t, 2*time.Second, func() bool {
		runs, listErr := st.ListRuns(context.Background(), workflow.ListOpts{DefinitionID: "cart-abandonment"})
		return listErr == nil && len(runs) == 1
	})

	runs, err := st.ListRuns(context.Background(), workflow.ListOpts{DefinitionID: "cart-abandonment"})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	run := runs[0]
	if run.Status != workflow.StatusSleeping {
		t.Fatalf("run status = %s, want SLEEPING on the first reminder delay", run.Status)
	}
	var trigger map[string]any
	if err := json.Unmarshal(run.TriggerPayload, &trigger); err != nil {
		t.Fatalf("decode trigger payload: %v", err)
	}
	if got := trigger["customerEmail"]; got != "shopper@example.com" {
		t.Fatalf("trigger customerEmail = %v", got)
	}
	rec.mu.Lock()
	sent := len(rec.sent)
	rec.mu.Unlock()
	if sent != 0 {
		t.Fatalf("no reminder should be sent before the first wake, got %d", sent)
	}
}

func TestExecute_UnknownIntentDoesNotReachBridge(t *testing.T) {
	st := memory.New()
	eng, err := engine.Build(st, capability.Registry{}, engine.WithNotifier(&recorderNotifier{}))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer eng.Bridge().Close()

	res := eng.Execute(context.Background(), intent.NewIntent(capability.IntentCartAbandon, map[string]any{
		"cart_id": "cart-7",
	}))
	if res.Success || res.Error != intent.ErrorUnknownIntent {
		t.Fatalf("result = %+v, want UNKNOWN_INTENT", res)
	}

	time.Sleep(50 * time.Millisecond)
	runs, err := st.ListRuns(context.Background(), workflow.ListOpts{})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("expected no runs, got %d", len(runs))
	}
}

func TestTrigger_StartsRegisteredDefinition(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	def := &workflow.Definition{
		ID:           "audit-log",
		TriggerEvent: "audit/record",
		Steps: []workflow.Step{
			workflow.RunStep("record", func(_ context.Context, sc *workflow.StepContext) (map[string]any, error) {
				mu.Lock()
				defer mu.Unlock()
				seen = append(seen, sc.Trigger["entry"].(string))
				return nil, nil
			}),
		},
	}

	eng, err := engine.Build(memory.New(), capability.Registry{},
		engine.WithDefinitions(def))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer eng.Bridge().Close()

	runs, err := eng.Trigger(context.Background(), "audit/record", map[string]any{"entry": "hello"})
	if err != nil {
		t.Fatalf("Trigger: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("got %d runs, want 1", len(runs))
	}
	if runs[0].Status != workflow.StatusCompleted {
		t.Fatalf("run status = %s, want COMPLETED", runs[0].Status)
	}
	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 1 || seen[0] != "hello" {
		t.Fatalf("step saw %v", seen)
	}
}

func TestWithMiddleware_RunsForEveryIntent(t *testing.T) {
	var mu sync.Mutex
	var names []string
	tagged := func(ctx context.Context, in *intent.Intent, next intent.Next) error {
		mu.Lock()
		names = append(names, in.Name)
		mu.Unlock()
		return next(ctx)
	}

	toast := &fakeToast{}
	eng, err := engine.Build(memory.New(), capability.Registry{Toast: toast},
		engine.WithMiddleware(tagged))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer eng.Bridge().Close()

	res := eng.Execute(context.Background(), intent.NewIntent(capability.IntentToastShow, map[string]any{
		"level":   "info",
		"message": "saved",
	}))
	if !res.Success {
		t.Fatalf("execute failed: %s", res.Error)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(names) != 1 || names[0] != capability.IntentToastShow {
		t.Fatalf("middleware saw %v", names)
	}
	if len(toast.shown) != 1 || toast.shown[0] != "saved" {
		t.Fatalf("toast saw %v", toast.shown)
	}
}

func TestStartStop_Lifecycle(t *testing.T) {
	eng, err := engine.Build(memory.New(), capability.Registry{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	ctx := context.Background()
	if err := eng.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := eng.AddRecurring("nightly-digest", "0 3 * * *", "digest/send", nil); err != nil {
		t.Fatalf("AddRecurring: %v", err)
	}
	if err := eng.AddRecurring("bad", "not a cron spec", "digest/send", nil); err == nil {
		t.Fatal("expected invalid cron spec to fail")
	}
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}

func TestSubscribe_ObservesForwardedEvents(t *testing.T) {
	cart := &fakeCart{state: capability.CartState{CustomerEmail: "s@example.com"}}
	eng, err := engine.Build(memory.New(), capability.Registry{Cart: cart},
		engine.WithNotifier(&recorderNotifier{}))
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer eng.Bridge().Close()

	var mu sync.Mutex
	var got []string
	eng.Subscribe(capability.EventCartAbandoned, func(_ context.Context, evt intent.Event) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, evt.Name)
	})

	res := eng.Execute(context.Background(), intent.NewIntent(capability.IntentCartAbandon, map[string]any{
		"cart_id": "cart-9",
	}))
	if !res.Success {
		t.Fatalf("execute failed: %s", res.Error)
	}

	waitFor(t, 2*time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 1
	})
}
