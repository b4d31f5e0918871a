package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/sitewright/automation"
	"github.com/sitewright/automation/id"
	"github.com/sitewright/automation/workflow"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "automation.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	return s
}

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

func TestMigrateIsIdempotent(t *testing.T) {
	s := openStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second Migrate: %v", err)
	}
}

func TestRunRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	run := newRun("cart-abandonment", workflow.StatusPending)
	run.TriggerPayload = []byte(`{"cartId":"c1"}`)
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
	if got.DefinitionID != run.DefinitionID || string(got.TriggerPayload) != `{"cartId":"c1"}` {
		t.Fatalf("got %+v", got)
	}

	wake := time.Now().UTC().Add(time.Hour).Truncate(time.Millisecond)
	got.Status = workflow.StatusSleeping
	got.WakeAt = &wake
	if err := s.UpdateRun(ctx, got); err != nil {
		t.Fatalf("UpdateRun: %v", err)
	}

	got, err = s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Status != workflow.StatusSleeping || got.WakeAt == nil || !got.WakeAt.Equal(wake) {
		t.Fatalf("after update: %+v", got)
	}
}

func TestStepResultsAppendOnlyAndOrdered(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	run := newRun("lead-nurture", workflow.StatusRunning)
	if err := s.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	for _, stepID := range []string{"welcome", "wait", "followup"} {
		if err := s.AppendStepResult(ctx, run.ID, workflow.StepResult{StepID: stepID}); err != nil {
			t.Fatalf("AppendStepResult(%s): %v", stepID, err)
		}
	}
	err := s.AppendStepResult(ctx, run.ID, workflow.StepResult{StepID: "welcome"})
	if !errors.Is(err, automation.ErrDuplicateStep) {
		t.Fatalf("duplicate append error = %v", err)
	}

	got, err := s.GetRun(ctx, run.ID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if got.Cursor != 3 {
		t.Fatalf("cursor = %d, want 3", got.Cursor)
	}
	want := []string{"welcome", "wait", "followup"}
	for i, r := range got.StepResults {
		if r.StepID != want[i] {
			t.Fatalf("results out of order: %+v", got.StepResults)
		}
	}
}

func TestDueRuns(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	past := now.Add(-time.Minute)
	future := now.Add(time.Hour)

	due := newRun("cart-abandonment", workflow.StatusSleeping)
	due.WakeAt = &past
	notYet := newRun("cart-abandonment", workflow.StatusSleeping)
	notYet.WakeAt = &future

	for _, r := range []*workflow.Run{due, notYet} {
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

func TestDueRunsWholeSecondWakeAt(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	// A whole-second wake_at must sort before fractional timestamps in
	// the same second, so a sub-second "now" still picks the run up.
	wake := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	now := wake.Add(500 * time.Millisecond)

	due := newRun("cart-abandonment", workflow.StatusSleeping)
	due.WakeAt = &wake
	if err := s.CreateRun(ctx, due); err != nil {
		t.Fatalf("CreateRun: %v", err)
	}

	got, err := s.DueRuns(ctx, now, 10)
	if err != nil {
		t.Fatalf("DueRuns: %v", err)
	}
	if len(got) != 1 || got[0].ID != due.ID {
		t.Fatalf("due = %+v, want the whole-second run", got)
	}
}

func TestTimeFormatOrderMatchesTimeOrder(t *testing.T) {
	base := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	times := []time.Time{
		base,
		base.Add(500 * time.Millisecond),
		base.Add(time.Second),
	}
	for i := 1; i < len(times); i++ {
		a, b := fmtTime(times[i-1]), fmtTime(times[i])
		if !(a < b) {
			t.Fatalf("fmtTime order broken: %q >= %q", a, b)
		}
	}
	for _, tm := range times {
		got, err := parseTime(fmtTime(tm))
		if err != nil {
			t.Fatalf("parseTime: %v", err)
		}
		if !got.Equal(tm) {
			t.Fatalf("round trip: %v != %v", got, tm)
		}
	}
}

func TestLeases(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	w1 := id.NewWorkerID()
	w2 := id.NewWorkerID()

	ok, err := s.AcquireLease(ctx, "run:r1", w1, time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire = %v, %v", ok, err)
	}
	ok, _ = s.AcquireLease(ctx, "run:r1", w2, time.Minute)
	if ok {
		t.Fatal("second owner acquired a held lease")
	}
	ok, _ = s.ExtendLease(ctx, "run:r1", w1, time.Minute)
	if !ok {
		t.Fatal("owner could not extend")
	}
	ok, _ = s.ExtendLease(ctx, "run:r1", w2, time.Minute)
	if ok {
		t.Fatal("non-owner extended")
	}
	if err := s.ReleaseLease(ctx, "run:r1", w1); err != nil {
		t.Fatalf("ReleaseLease: %v", err)
	}
	ok, _ = s.AcquireLease(ctx, "run:r1", w2, time.Minute)
	if !ok {
		t.Fatal("released lease not acquirable")
	}
}
