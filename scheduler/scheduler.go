// Package scheduler wakes sleeping workflow runs and fires recurring
// triggers. A fixed-interval tick scans the store for runs whose wake
// time has elapsed and resumes each under its run lease, so any number of
// scheduler processes can run concurrently: the lease decides which one
// proceeds. Resumption is bounded by a worker limit and a token-bucket
// rate so a thundering herd of due runs cannot flood downstream
// providers.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sitewright/automation"
	"github.com/sitewright/automation/id"
	"github.com/sitewright/automation/workflow"
)

// Resumer advances a run from its cursor. workflow.Executor satisfies it.
type Resumer interface {
	Resume(ctx context.Context, runID id.RunID) error
}

// TriggerFunc fires a workflow trigger for recurring entries. The engine
// provides the implementation, which breaks the import cycle with the
// workflow executor.
type TriggerFunc func(ctx context.Context, trigger string, payload map[string]any) error

const (
	defaultTickInterval   = 5 * time.Second
	defaultBatchLimit     = 100
	defaultConcurrency    = 8
	defaultStaleThreshold = 5 * time.Minute
	defaultRecoveryEvery  = 12 // ticks between stalled-run sweeps

	// markTTL keeps a recurring fire mark alive long past the firing so
	// a second worker arriving late cannot re-fire the same slot.
	markTTL = 24 * time.Hour
)

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTickInterval sets how often the scheduler scans for due runs.
func WithTickInterval(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.tickInterval = d
		}
	}
}

// WithBatchLimit caps how many due runs one tick picks up.
func WithBatchLimit(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.batchLimit = n
		}
	}
}

// WithConcurrency bounds how many runs resume in parallel.
func WithConcurrency(n int) Option {
	return func(s *Scheduler) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithResumeRate sets the token-bucket rate limit on resumptions.
func WithResumeRate(r rate.Limit, burst int) Option {
	return func(s *Scheduler) { s.limiter = rate.NewLimiter(r, burst) }
}

// WithStaleThreshold sets how long a running run may go without an
// update before the recovery sweep retries it. A crashed worker leaves
// its run in running state; the sweep picks it up once the lease
// expires.
func WithStaleThreshold(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.staleThreshold = d
		}
	}
}

// WithLogger sets the scheduler's logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) { s.logger = l }
}

// WithClock overrides the time source. For tests.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

// Scheduler scans for due runs on a tick loop and resumes them.
type Scheduler struct {
	store    workflow.Store
	resumer  Resumer
	trigger  TriggerFunc
	workerID id.WorkerID
	logger   *slog.Logger

	tickInterval   time.Duration
	batchLimit     int
	concurrency    int
	staleThreshold time.Duration
	limiter        *rate.Limiter
	now            func() time.Time

	mu      sync.Mutex
	entries []*Entry

	ticks  int
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Scheduler. trigger may be nil when no recurring entries
// are registered.
func New(store workflow.Store, resumer Resumer, trigger TriggerFunc, workerID id.WorkerID, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:          store,
		resumer:        resumer,
		trigger:        trigger,
		workerID:       workerID,
		logger:         slog.Default(),
		tickInterval:   defaultTickInterval,
		batchLimit:     defaultBatchLimit,
		concurrency:    defaultConcurrency,
		staleThreshold: defaultStaleThreshold,
		limiter:        rate.NewLimiter(rate.Inf, 1),
		now:            time.Now,
		stopCh:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// AddRecurring registers a recurring trigger entry. Duplicate names are
// rejected.
func (s *Scheduler) AddRecurring(name, spec, trigger string, payload map[string]any) error {
	entry, err := NewEntry(name, spec, trigger, payload)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.entries {
		if e.Name == name {
			return fmt.Errorf("scheduler: recurring entry %q: %w", name, automation.ErrConflict)
		}
	}
	entry.next = entry.schedule.Next(s.now().UTC())
	s.entries = append(s.entries, entry)
	return nil
}

// Start launches the tick loop.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.tickLoop()
	s.logger.Info("scheduler started",
		slog.String("worker_id", s.workerID.String()),
		slog.Duration("tick_interval", s.tickInterval),
	)
	return nil
}

// Stop signals the scheduler to stop and waits for in-flight work.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Tick(context.Background())
		}
	}
}

// Tick performs one scan: wake due runs, fire due recurring entries, and
// periodically sweep for stalled runs. Exported so hosts on serverless
// platforms can drive the scheduler from an external timer instead of
// Start.
func (s *Scheduler) Tick(ctx context.Context) {
	now := s.now().UTC()
	s.wakeDue(ctx, now)
	s.fireRecurring(ctx, now)

	s.ticks++
	if s.staleThreshold > 0 && s.ticks%defaultRecoveryEvery == 0 {
		s.recoverStalled(ctx, now)
	}
}

func (s *Scheduler) wakeDue(ctx context.Context, now time.Time) {
	due, err := s.store.DueRuns(ctx, now, s.batchLimit)
	if err != nil {
		s.logger.Error("due run scan failed", "error", err)
		return
	}
	if len(due) == 0 {
		return
	}

	s.logger.Debug("waking due runs", "count", len(due))
	s.resumeAll(ctx, due)
}

// resumeAll fans the runs out over a bounded worker group. A lease held
// elsewhere is not an error: another scheduler won that run.
func (s *Scheduler) resumeAll(ctx context.Context, runs []*workflow.Run) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)

	for _, run := range runs {
		runID := run.ID
		g.Go(func() error {
			if err := s.limiter.Wait(gctx); err != nil {
				return nil
			}
			err := s.resumer.Resume(gctx, runID)
			switch {
			case err == nil:
			case errors.Is(err, automation.ErrLeaseHeld):
				s.logger.Debug("run claimed elsewhere", "run_id", runID)
			default:
				s.logger.Error("resume failed", "run_id", runID, "error", err)
			}
			return nil
		})
	}
	g.Wait()
}

// fireRecurring fires every entry whose schedule slot has arrived. The
// fire mark lease guarantees one firing per slot across workers.
func (s *Scheduler) fireRecurring(ctx context.Context, now time.Time) {
	if s.trigger == nil {
		return
	}

	s.mu.Lock()
	entries := make([]*Entry, len(s.entries))
	copy(entries, s.entries)
	s.mu.Unlock()

	for _, entry := range entries {
		for !entry.next.IsZero() && !entry.next.After(now) {
			fire := entry.next
			entry.next = entry.schedule.Next(fire)

			acquired, err := s.store.AcquireLease(ctx, entry.markKey(fire), s.workerID, markTTL)
			if err != nil {
				s.logger.Error("fire mark acquire failed", "entry", entry.Name, "error", err)
				continue
			}
			if !acquired {
				continue // another worker fired this slot
			}

			if err := s.trigger(ctx, entry.Trigger, entry.Payload); err != nil {
				s.logger.Error("recurring trigger failed",
					"entry", entry.Name, "trigger", entry.Trigger, "error", err)
				continue
			}
			s.logger.Info("recurring trigger fired",
				"entry", entry.Name, "trigger", entry.Trigger, "at", fire)
		}
	}
}

// recoverStalled retries running runs that have not been touched within
// the stale threshold. Resume re-checks the lease, so a run still being
// worked is left alone.
func (s *Scheduler) recoverStalled(ctx context.Context, now time.Time) {
	runs, err := s.store.ListRuns(ctx, workflow.ListOpts{Status: workflow.StatusRunning})
	if err != nil {
		s.logger.Error("stalled run scan failed", "error", err)
		return
	}

	var stalled []*workflow.Run
	cutoff := now.Add(-s.staleThreshold)
	for _, run := range runs {
		if run.UpdatedAt.Before(cutoff) {
			stalled = append(stalled, run)
		}
	}
	if len(stalled) == 0 {
		return
	}

	s.logger.Warn("recovering stalled runs", "count", len(stalled))
	s.resumeAll(ctx, stalled)
}
