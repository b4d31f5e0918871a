// Package bridge connects intent-emitted events to workflow triggers.
//
// The bridge holds a static, validated event-to-trigger rule table. Events
// dispatched into it are forwarded in emission order by a single background
// goroutine, so the intent executor never waits on workflow ingestion.
// Ingestion failures are retried with backoff behind a circuit breaker;
// persistent failures are logged and counted, never silently dropped.
//
// Local subscribers run synchronously with each event, independent of
// whether a trigger rule exists, so host components can react to side
// effects without going through the workflow engine.
package bridge

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/sitewright/automation/backoff"
	"github.com/sitewright/automation/intent"
)

// Ingestor is the trigger ingestion boundary the bridge delivers into.
// The workflow executor satisfies it via an adapter in the engine package.
type Ingestor interface {
	Ingest(ctx context.Context, trigger string, payload map[string]any) error
}

// IngestorFunc adapts a function to the Ingestor interface.
type IngestorFunc func(ctx context.Context, trigger string, payload map[string]any) error

func (f IngestorFunc) Ingest(ctx context.Context, trigger string, payload map[string]any) error {
	return f(ctx, trigger, payload)
}

// Subscriber is invoked synchronously with each matching event before any
// trigger forwarding happens. Subscriber panics are recovered and logged.
type Subscriber func(ctx context.Context, evt intent.Event)

// Outcome reports what Forward did with one event.
type Outcome struct {
	// Sent is true when a trigger was delivered to the ingestor.
	Sent bool

	// Trigger is the trigger name fired, empty on a mapping miss.
	Trigger string

	// Err is the delivery error after retries were exhausted or the
	// breaker rejected the call. Nil on success and on mapping misses.
	Err error
}

// Stats is a snapshot of the bridge's forwarding counters.
type Stats struct {
	Forwarded int64
	Missed    int64
	Failed    int64
}

// Emitter is notified of bridge outcomes. hook.Registry satisfies this
// interface.
type Emitter interface {
	EmitEventForwarded(ctx context.Context, evt intent.Event, trigger string)
	EmitEventDropped(ctx context.Context, evt intent.Event)
	EmitForwardFailed(ctx context.Context, evt intent.Event, trigger string, err error)
}

// NopEmitter is an Emitter that discards everything.
type NopEmitter struct{}

func (NopEmitter) EmitEventForwarded(context.Context, intent.Event, string)       {}
func (NopEmitter) EmitEventDropped(context.Context, intent.Event)                 {}
func (NopEmitter) EmitForwardFailed(context.Context, intent.Event, string, error) {}

const (
	defaultQueueSize      = 256
	defaultDeliveryTries  = 3
	defaultBreakerFails   = 5
	defaultBreakerTimeout = 30 * time.Second
)

// Bridge forwards emitted events to workflow triggers. Create one with New,
// hand it to the intent executor as its Forwarder, and Close it on shutdown
// to drain the queue.
type Bridge struct {
	rules    *Rules
	ingestor Ingestor
	emitter  Emitter
	logger   *slog.Logger

	context map[string]any
	tries   int
	bo      backoff.Strategy
	breaker *gobreaker.CircuitBreaker[struct{}]

	mu   sync.RWMutex
	subs map[string][]Subscriber

	queue     chan []intent.Event
	done      chan struct{}
	closeOnce sync.Once

	// closeMu serializes Close against in-flight Dispatch sends so the
	// queue channel is never closed while a send is underway.
	closeMu sync.RWMutex
	closed  bool

	forwarded atomic.Int64
	missed    atomic.Int64
	failed    atomic.Int64

	now  func() time.Time
	wait func(time.Duration)
}

// Option configures a Bridge.
type Option func(*Bridge)

// WithLogger sets the bridge's logger. Defaults to slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(b *Bridge) { b.logger = l }
}

// WithEmitter sets the lifecycle emitter.
func WithEmitter(e Emitter) Option {
	return func(b *Bridge) { b.emitter = e }
}

// WithContext sets fixed fields merged into every trigger payload, such as
// the business id and a source tag.
func WithContext(fields map[string]any) Option {
	return func(b *Bridge) { b.context = fields }
}

// WithDeliveryTries sets the total delivery attempts per event, including
// the first. Defaults to 3.
func WithDeliveryTries(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.tries = n
		}
	}
}

// WithRetryBackoff sets the delay strategy between delivery attempts.
func WithRetryBackoff(s backoff.Strategy) Option {
	return func(b *Bridge) {
		if s != nil {
			b.bo = s
		}
	}
}

// WithQueueSize sets the forwarding queue capacity in event batches.
func WithQueueSize(n int) Option {
	return func(b *Bridge) {
		if n > 0 {
			b.queue = make(chan []intent.Event, n)
		}
	}
}

// WithClock overrides the time source. For tests.
func WithClock(now func() time.Time) Option {
	return func(b *Bridge) { b.now = now }
}

// WithWait overrides how retry delays are waited out. For tests.
func WithWait(wait func(time.Duration)) Option {
	return func(b *Bridge) { b.wait = wait }
}

// New builds a bridge over a rule table and an ingestor, and starts its
// forwarding goroutine.
func New(rules *Rules, ingestor Ingestor, opts ...Option) *Bridge {
	b := &Bridge{
		rules:    rules,
		ingestor: ingestor,
		emitter:  NopEmitter{},
		logger:   slog.Default(),
		tries:    defaultDeliveryTries,
		bo:       backoff.NewConstant(time.Second),
		subs:     make(map[string][]Subscriber),
		queue:    make(chan []intent.Event, defaultQueueSize),
		done:     make(chan struct{}),
		now:      time.Now,
		wait:     func(d time.Duration) { time.Sleep(d) },
	}
	for _, opt := range opts {
		opt(b)
	}
	b.breaker = gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:        "bridge",
		MaxRequests: 1,
		Timeout:     defaultBreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= defaultBreakerFails
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			b.logger.Warn("bridge breaker state change",
				"from", from.String(), "to", to.String())
		},
	})
	go b.run()
	return b
}

// Subscribe registers a synchronous local subscriber for an event name.
func (b *Bridge) Subscribe(event string, fn Subscriber) {
	if event == "" || fn == nil {
		return
	}
	b.mu.Lock()
	b.subs[event] = append(b.subs[event], fn)
	b.mu.Unlock()
}

// Dispatch implements intent.Forwarder. The batch is queued and forwarded
// in order by the background goroutine; Dispatch itself never blocks. A
// full queue drops the batch with a warning rather than stalling the
// intent executor.
func (b *Bridge) Dispatch(ctx context.Context, events []intent.Event) {
	if len(events) == 0 {
		return
	}
	batch := make([]intent.Event, len(events))
	copy(batch, events)

	b.closeMu.RLock()
	defer b.closeMu.RUnlock()
	if b.closed {
		b.failed.Add(int64(len(batch)))
		b.logger.Warn("bridge closed, dropping batch", "events", len(batch))
		return
	}
	select {
	case b.queue <- batch:
	default:
		b.failed.Add(int64(len(batch)))
		b.logger.Warn("bridge queue full, dropping batch", "events", len(batch))
	}
}

// Close stops accepting batches and blocks until queued events are
// forwarded. Dispatch calls racing with Close either enqueue before the
// queue closes or are dropped, never panicking.
func (b *Bridge) Close() {
	b.closeOnce.Do(func() {
		b.closeMu.Lock()
		b.closed = true
		b.closeMu.Unlock()
		close(b.queue)
		<-b.done
	})
}

// Stats returns a snapshot of the forwarding counters.
func (b *Bridge) Stats() Stats {
	return Stats{
		Forwarded: b.forwarded.Load(),
		Missed:    b.missed.Load(),
		Failed:    b.failed.Load(),
	}
}

func (b *Bridge) run() {
	defer close(b.done)
	ctx := context.Background()
	for batch := range b.queue {
		for _, evt := range batch {
			b.Forward(ctx, evt)
		}
	}
}

// Forward maps one event to its trigger and delivers it synchronously.
// Local subscribers run first, regardless of whether a rule matches. A
// mapping miss is informational, not an error.
func (b *Bridge) Forward(ctx context.Context, evt intent.Event) Outcome {
	b.notify(ctx, evt)

	rule, ok := b.rules.Lookup(evt.Name)
	if !ok {
		b.missed.Add(1)
		b.emitter.EmitEventDropped(ctx, evt)
		b.logger.Debug("no trigger mapping for event", "event", evt.Name)
		return Outcome{}
	}

	payload := b.buildPayload(rule, evt)
	if err := b.deliver(ctx, rule.Trigger, payload); err != nil {
		b.failed.Add(1)
		b.emitter.EmitForwardFailed(ctx, evt, rule.Trigger, err)
		b.logger.Error("trigger delivery failed",
			"event", evt.Name, "trigger", rule.Trigger, "error", err)
		return Outcome{Trigger: rule.Trigger, Err: err}
	}

	b.forwarded.Add(1)
	b.emitter.EmitEventForwarded(ctx, evt, rule.Trigger)
	b.logger.Debug("event forwarded", "event", evt.Name, "trigger", rule.Trigger)
	return Outcome{Sent: true, Trigger: rule.Trigger}
}

// buildPayload merges the fixed context fields, the per-forward fields, and
// the rule's transform output. Transform output wins on key collision so a
// rule can override context defaults.
func (b *Bridge) buildPayload(rule Rule, evt intent.Event) map[string]any {
	payload := make(map[string]any, len(b.context)+len(evt.Payload)+3)
	for k, v := range b.context {
		payload[k] = v
	}
	payload["eventId"] = evt.ID.String()
	payload["timestamp"] = b.now().UTC().Format(time.RFC3339)
	payload["source"] = "intent"

	body := evt.Payload
	if rule.Transform != nil {
		body = rule.Transform(evt.Payload)
	}
	for k, v := range body {
		payload[k] = v
	}
	return payload
}

// deliver pushes one trigger through the breaker with bounded retries. An
// open breaker fails fast without consuming the remaining attempts.
func (b *Bridge) deliver(ctx context.Context, trigger string, payload map[string]any) error {
	var last error
	for attempt := 1; attempt <= b.tries; attempt++ {
		_, err := b.breaker.Execute(func() (struct{}, error) {
			return struct{}{}, b.ingestor.Ingest(ctx, trigger, payload)
		})
		if err == nil {
			return nil
		}
		last = err
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			return err
		}
		if attempt < b.tries {
			b.wait(b.bo.Delay(attempt))
		}
	}
	return last
}

func (b *Bridge) notify(ctx context.Context, evt intent.Event) {
	b.mu.RLock()
	subs := b.subs[evt.Name]
	b.mu.RUnlock()
	for _, fn := range subs {
		func() {
			defer func() {
				if r := recover(); r != nil {
					b.logger.Error("subscriber panic", "event", evt.Name, "panic", r)
				}
			}()
			fn(ctx, evt)
		}()
	}
}

var _ intent.Forwarder = (*Bridge)(nil)
