package middleware_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/sitewright/automation/intent"
	"github.com/sitewright/automation/middleware"
	"github.com/sitewright/automation/scope"
)

func TestChain_ExecutionOrder(t *testing.T) {
	var order []string

	mw1 := func(ctx context.Context, _ *intent.Intent, next intent.Next) error {
		order = append(order, "mw1-before")
		err := next(ctx)
		order = append(order, "mw1-after")
		return err
	}

	mw2 := func(ctx context.Context, _ *intent.Intent, next intent.Next) error {
		order = append(order, "mw2-before")
		err := next(ctx)
		order = append(order, "mw2-after")
		return err
	}

	chain := intent.Chain(mw1, mw2)
	in := intent.NewIntent("page.publish", nil)
	handler := func(_ context.Context) error {
		order = append(order, "handler")
		return nil
	}

	err := chain(context.Background(), &in, handler)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	expected := []string{"mw1-before", "mw2-before", "handler", "mw2-after", "mw1-after"}
	if len(order) != len(expected) {
		t.Fatalf("expected %d calls, got %d: %v", len(expected), len(order), order)
	}
	for i, want := range expected {
		if order[i] != want {
			t.Errorf("order[%d] = %q, want %q", i, order[i], want)
		}
	}
}

func TestChain_Empty(t *testing.T) {
	chain := intent.Chain()
	called := false
	in := intent.NewIntent("noop", nil)

	err := chain(context.Background(), &in, func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called with empty chain")
	}
}

func TestChain_PropagatesError(t *testing.T) {
	mw := func(ctx context.Context, _ *intent.Intent, next intent.Next) error {
		return next(ctx)
	}
	chain := intent.Chain(mw)
	in := intent.NewIntent("noop", nil)
	want := errors.New("handler error")

	err := chain(context.Background(), &in, func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestRecover_CatchesPanic(t *testing.T) {
	mw := middleware.Recover(slog.Default())
	in := intent.NewIntent("panicky", nil)

	err := mw(context.Background(), &in, func(_ context.Context) error {
		panic("test panic")
	})
	if err == nil {
		t.Fatal("expected error from panic recovery")
	}
	if got := err.Error(); got != "panic in intent panicky: test panic" {
		t.Errorf("unexpected error message: %q", got)
	}
}

func TestRecover_PassesThrough(t *testing.T) {
	mw := middleware.Recover(slog.Default())
	in := intent.NewIntent("normal", nil)

	called := false
	err := mw(context.Background(), &in, func(_ context.Context) error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Fatal("handler not called")
	}
}

func TestLogging_PassesThrough(t *testing.T) {
	mw := middleware.Logging(slog.Default())
	in := intent.NewIntent("log-test", nil)

	want := errors.New("boom")
	err := mw(context.Background(), &in, func(_ context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
}

func TestTimeout_EnforcesDeadline(t *testing.T) {
	mw := middleware.Timeout(10 * time.Millisecond)
	in := intent.NewIntent("slow", nil)

	err := mw(context.Background(), &in, func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
			return nil
		}
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}
}

func TestTimeout_ZeroIsPassThrough(t *testing.T) {
	mw := middleware.Timeout(0)
	in := intent.NewIntent("fast", nil)

	err := mw(context.Background(), &in, func(ctx context.Context) error {
		if _, ok := ctx.Deadline(); ok {
			t.Error("unexpected deadline on context")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestScope_RestoresTenantFromPayload(t *testing.T) {
	mw := middleware.Scope()
	in := intent.NewIntent("booking.create", map[string]any{
		"siteId":    "site_123",
		"accountId": "acct_456",
	})

	err := mw(context.Background(), &in, func(ctx context.Context) error {
		s, ok := scope.From(ctx)
		if !ok {
			t.Fatal("expected scope in context")
		}
		if s.SiteID != "site_123" || s.AccountID != "acct_456" {
			t.Errorf("unexpected scope: %+v", s)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestScope_NoIdentityPassesThrough(t *testing.T) {
	mw := middleware.Scope()
	in := intent.NewIntent("page.publish", map[string]any{"pageId": "pg_1"})

	err := mw(context.Background(), &in, func(ctx context.Context) error {
		if _, ok := scope.From(ctx); ok {
			t.Error("expected no scope in context")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
