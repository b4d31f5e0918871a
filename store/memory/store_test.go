package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/sitewright/automation"
	"github.com/sitewright/automation/id"
	"github.com/sitewright/automation/workflow"
)

func newRun(defID string, status workflow.Status) *workflow.Run {
	return &workflow.Run{
		Entity:       automation.NewEntity(),
		ID:           id.NewRunID(),
		DefinitionID: defID,
		TriggerID:    id.NewTriggerID(),
		Status:       status,
		StartedAt:    time.Now().UTC(),
	}
}

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestCreateAndGetRun(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	run := newRun("cart-abandonment", workflow.StatusPending)
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.CreateRun(ctx, run); !errors.Is(err, automation.ErrRunAlreadyExists) {
		t.Fatalf("duplicate CreateRun error = %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.DefinitionID != "cart-abandonment" || got.Status != workflow.StatusPending {
		t.Fatalf("got %+v", got)
	}

	if _, err := s.GetRun(ctx, id.NewRunID()); !errors.Is(err, automation.ErrRunNotFound) {
		t.Fatalf("missing run error = %v", err)
	}
}

func TestGetRunReturnsCopy(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	run := newRun("lead-nurture", workflow.StatusRunning)
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	a, _ := s.GetRun(ctx, run.ID)
	a.Status = workflow.StatusFailed
	a.StepResults = append(a.StepResults, workflow.StepResult{StepID: "rogue"})

	b, _ := s.GetRun(ctx, run.ID)
	if b.Status != workflow.StatusRunning || len(b.StepResults) != 0 {
		t.Fatal("mutating a loaded run leaked into the store")
	}
}

func TestAppendStepResultIsAppendOnly(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	run := newRun("lead-nurture", workflow.StatusRunning)
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	if err := s.AppendStepResult(ctx, run.ID, workflow.StepResult{StepID: "welcome", Data: []byte(`{"sent":true}`)}); err != nil {
		t.Fatalf("AppendStepResult: %v", err)
	}
	err := s.AppendStepResult(ctx, run.ID, workflow.StepResult{StepID: "welcome", Data: []byte(`{"sent":false}`)})
	if !errors.Is(err, automation.ErrDuplicateStep) {
		t.Fatalf("duplicate append error = %v", err)
	}

	got, _ := s.GetRun(ctx, run.ID)
	if len(got.StepResults) != 1 || string(got.StepResults[0].Data) != `{"sent":true}` {
		t.Fatalf("results = %+v", got.StepResults)
	}
	if got.Cursor != 1 {
		t.Fatalf("cursor = %d after load, want 1", got.Cursor)
	}
}

func TestUpdateRunNeverTouchesResults(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	run := newRun("lead-nurture", workflow.StatusRunning)
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}
	if err := s.AppendStepResult(ctx, run.ID, workflow.StepResult{StepID: "welcome"}); err != nil {
		t.Fatalf("AppendStepResult: %v", err)
	}

	run.Status = workflow.StatusSleeping
	run.StepResults = nil // caller state must not erase recorded results
	if err := s.UpdateRun(ctx, run); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	got, _ := s.GetRun(ctx, run.ID)
	if got.Status != workflow.StatusSleeping {
		t.Fatalf("status = %s", got.Status)
	}
	if len(got.StepResults) != 1 {
		t.Fatalf("results erased by UpdateRun: %+v", got.StepResults)
	}
}

func TestListRunsFilters(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := s.CreateRun(ctx, newRun("cart-abandonment", workflow.StatusSleeping)); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}
	if err := s.CreateRun(ctx, newRun("lead-nurture", workflow.StatusCompleted)); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	sleeping, err := s.ListRuns(ctx, workflow.ListOpts{Status: workflow.StatusSleeping})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(sleeping) != 3 {
		t.Fatalf("sleeping = %d, want 3", len(sleeping))
	}

	byDef, err := s.ListRuns(ctx, workflow.ListOpts{DefinitionID: "lead-nurture"})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(byDef) != 1 {
		t.Fatalf("byDef = %d, want 1", len(byDef))
	}

	limited, err := s.ListRuns(ctx, workflow.ListOpts{Limit: 2})
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(limited) != 2 {
		t.Fatalf("limited = %d, want 2", len(limited))
	}
}

func TestDueRuns(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := newRun("cart-abandonment", workflow.StatusSleeping)
	due.WakeAt = &past
	notYet := newRun("cart-abandonment", workflow.StatusSleeping)
	notYet.WakeAt = &future
	awake := newRun("cart-abandonment", workflow.StatusRunning)

	for _, r := range []*workflow.Run{due, notYet, awake} {
		if err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("CreateRun: %v", err)
		}
	}

	got, err := s.DueRuns(ctx, now, 10)
	if err != nil {
		t.Fatalf("DueRuns: %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Fatalf("due = %+v", got)
	}
}

func TestLeaseExclusivity(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	w1 := id.NewWorkerID()
	w2 := id.NewWorkerID()

	ok, err := s.AcquireLease(ctx, "run:r1", w1, time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire = %v, %v", ok, err)
	}
	ok, err = s.AcquireLease(ctx, "run:r1", w2, time.Minute)
	if err != nil || ok {
		t.Fatalf("second acquire should fail, got %v, %v", ok, err)
	}

	// Same owner renews.
	ok, _ = s.AcquireLease(ctx, "run:r1", w1, time.Minute)
	if !ok {
		t.Fatal("owner could not renew its own lease")
	}

	ok, _ = s.ExtendLease(ctx, "run:r1", w2, time.Minute)
	if ok {
		t.Fatal("non-owner extended the lease")
	}
	ok, _ = s.ExtendLease(ctx, "run:r1", w1, time.Minute)
	if !ok {
		t.Fatal("owner could not extend the lease")
	}

	if err := s.ReleaseLease(ctx, "run:r1", w2); err != nil {
		t.Fatalf("non-owner release: %v", err)
	}
	ok, _ = s.AcquireLease(ctx, "run:r1", w2, time.Minute)
	if ok {
		t.Fatal("non-owner release freed the lease")
	}

	if err := s.ReleaseLease(ctx, "run:r1", w1); err != nil {
		t.Fatalf("ReleaseLease: %v", err)
	}
	ok, _ = s.AcquireLease(ctx, "run:r1", w2, time.Minute)
	if !ok {
		t.Fatal("lease not acquirable after release")
	}
}

func TestLeaseExpiry(t *testing.T) {
	t.Parallel()
	s := New()
	ctx := context.Background()

	w1 := id.NewWorkerID()
	w2 := id.NewWorkerID()

	ok, _ := s.AcquireLease(ctx, "run:r2", w1, time.Millisecond)
	if !ok {
		t.Fatal("acquire failed")
	}
	time.Sleep(5 * time.Millisecond)

	ok, _ = s.AcquireLease(ctx, "run:r2", w2, time.Minute)
	if !ok {
		t.Fatal("expired lease blocked acquisition")
	}
}
