package bridge

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/sitewright/automation/backoff"
	"github.com/sitewright/automation/id"
	"github.com/sitewright/automation/intent"
)

type capture struct {
	mu       sync.Mutex
	triggers []string
	payloads []map[string]any
	err      error
	failN    int
	calls    int
}

func (c *capture) Ingest(_ context.Context, trigger string, payload map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.err != nil && (c.failN == 0 || c.calls <= c.failN) {
		return c.err
	}
	c.triggers = append(c.triggers, trigger)
	c.payloads = append(c.payloads, payload)
	return nil
}

func (c *capture) seen() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.triggers))
	copy(out, c.triggers)
	return out
}

func event(name string, payload map[string]any) intent.Event {
	return intent.Event{ID: id.NewEventID(), Name: name, Payload: payload}
}

func TestNewRulesRejectsDuplicates(t *testing.T) {
	_, err := NewRules(
		Rule{Event: "cart.abandoned", Trigger: "cart/abandoned"},
		Rule{Event: "cart.abandoned", Trigger: "cart/other"},
	)
	if err == nil {
		t.Fatal("expected duplicate rule error")
	}
}

func TestNewRulesRejectsEmptyNames(t *testing.T) {
	if _, err := NewRules(Rule{Event: "", Trigger: "x"}); err == nil {
		t.Fatal("expected empty event error")
	}
	if _, err := NewRules(Rule{Event: "x", Trigger: ""}); err == nil {
		t.Fatal("expected empty trigger error")
	}
}

func TestForwardHitMergesContextAndTransform(t *testing.T) {
	sink := &capture{}
	rules := MustRules(Rule{
		Event:   "booking.requested",
		Trigger: "booking/requested",
		Transform: func(p map[string]any) map[string]any {
			return map[string]any{"bookingId": p["bookingId"], "kind": "reminder"}
		},
	})
	b := New(rules, sink, WithContext(map[string]any{"businessId": "biz_1"}))
	defer b.Close()

	out := b.Forward(context.Background(), event("booking.requested", map[string]any{
		"bookingId": "bk_1",
		"ignored":   true,
	}))
	if !out.Sent || out.Trigger != "booking/requested" || out.Err != nil {
		t.Fatalf("unexpected outcome: %+v", out)
	}

	p := sink.payloads[0]
	if p["businessId"] != "biz_1" {
		t.Errorf("context field missing: %v", p)
	}
	if p["bookingId"] != "bk_1" || p["kind"] != "reminder" {
		t.Errorf("transform output missing: %v", p)
	}
	if _, ok := p["ignored"]; ok {
		t.Error("transform should replace the raw payload")
	}
	if _, ok := p["timestamp"]; !ok {
		t.Error("timestamp not merged")
	}
	if b.Stats().Forwarded != 1 {
		t.Errorf("forwarded = %d, want 1", b.Stats().Forwarded)
	}
}

func TestForwardMissIsInformational(t *testing.T) {
	sink := &capture{}
	b := New(MustRules(), sink)
	defer b.Close()

	out := b.Forward(context.Background(), event("toast.shown", nil))
	if out.Sent || out.Err != nil {
		t.Fatalf("miss should be silent: %+v", out)
	}
	if got := b.Stats().Missed; got != 1 {
		t.Errorf("missed = %d, want 1", got)
	}
	if sink.calls != 0 {
		t.Errorf("ingestor called %d times on a miss", sink.calls)
	}
}

func TestDispatchPreservesEmissionOrder(t *testing.T) {
	sink := &capture{}
	rules := MustRules(
		Rule{Event: "lead.captured", Trigger: "lead/captured"},
		Rule{Event: "checkout.started", Trigger: "checkout/started"},
	)
	b := New(rules, sink)

	b.Dispatch(context.Background(), []intent.Event{
		event("lead.captured", nil),
		event("checkout.started", nil),
	})
	b.Close()

	got := sink.seen()
	want := []string{"lead/captured", "checkout/started"}
	if len(got) != len(want) {
		t.Fatalf("forwarded %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("forwarded %v, want %v", got, want)
		}
	}
}

func TestDeliveryRetriesTransientFailures(t *testing.T) {
	sink := &capture{err: errors.New("ingest unavailable"), failN: 2}
	var delays []time.Duration
	b := New(
		MustRules(Rule{Event: "cart.updated", Trigger: "cart/updated"}),
		sink,
		WithDeliveryTries(3),
		WithRetryBackoff(backoff.NewConstant(time.Second)),
		WithWait(func(d time.Duration) { delays = append(delays, d) }),
	)
	defer b.Close()

	out := b.Forward(context.Background(), event("cart.updated", nil))
	if !out.Sent {
		t.Fatalf("expected success after retries: %+v", out)
	}
	if len(delays) != 2 {
		t.Errorf("waited %d times, want 2", len(delays))
	}
	if sink.calls != 3 {
		t.Errorf("ingestor called %d times, want 3", sink.calls)
	}
}

func TestBreakerFailsFastAfterRepeatedFailures(t *testing.T) {
	sink := &capture{err: errors.New("ingest down")}
	b := New(
		MustRules(Rule{Event: "cart.updated", Trigger: "cart/updated"}),
		sink,
		WithDeliveryTries(3),
		WithWait(func(time.Duration) {}),
	)
	defer b.Close()

	ctx := context.Background()
	b.Forward(ctx, event("cart.updated", nil))
	b.Forward(ctx, event("cart.updated", nil))

	calls := sink.calls
	out := b.Forward(ctx, event("cart.updated", nil))
	if out.Err == nil {
		t.Fatal("expected failure outcome")
	}
	if !errors.Is(out.Err, gobreaker.ErrOpenState) {
		t.Fatalf("err = %v, want open breaker", out.Err)
	}
	if sink.calls != calls {
		t.Errorf("open breaker still reached the ingestor: %d extra calls", sink.calls-calls)
	}
	if got := b.Stats().Failed; got != 3 {
		t.Errorf("failed = %d, want 3", got)
	}
}

func TestDispatchAfterCloseDropsBatch(t *testing.T) {
	sink := &capture{}
	b := New(MustRules(Rule{Event: "cart.updated", Trigger: "cart/updated"}), sink)
	b.Close()

	b.Dispatch(context.Background(), []intent.Event{event("cart.updated", nil)})

	if sink.calls != 0 {
		t.Errorf("ingestor called %d times after close", sink.calls)
	}
	if got := b.Stats().Failed; got != 1 {
		t.Errorf("failed = %d, want 1", got)
	}
}

func TestDispatchConcurrentWithCloseNeverPanics(t *testing.T) {
	for i := 0; i < 50; i++ {
		b := New(MustRules(Rule{Event: "cart.updated", Trigger: "cart/updated"}), &capture{})

		var wg sync.WaitGroup
		start := make(chan struct{})
		for w := 0; w < 4; w++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				for j := 0; j < 20; j++ {
					b.Dispatch(context.Background(), []intent.Event{event("cart.updated", nil)})
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			b.Close()
		}()

		close(start)
		wg.Wait()
	}
}

func TestLocalSubscribersRunOnMiss(t *testing.T) {
	b := New(MustRules(), &capture{})
	defer b.Close()

	var seen []string
	b.Subscribe("toast.shown", func(_ context.Context, evt intent.Event) {
		seen = append(seen, evt.Name)
	})
	b.Subscribe("toast.shown", func(context.Context, intent.Event) {
		panic("subscriber bug")
	})

	b.Forward(context.Background(), event("toast.shown", nil))
	if len(seen) != 1 || seen[0] != "toast.shown" {
		t.Fatalf("subscriber not invoked: %v", seen)
	}
}
