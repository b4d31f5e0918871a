// Package memory provides a fully in-memory store backend. Safe for
// concurrent access. Intended for unit testing and development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sitewright/automation"
	"github.com/sitewright/automation/id"
	"github.com/sitewright/automation/workflow"
)

var _ workflow.Store = (*Store)(nil)

type lease struct {
	owner string
	until time.Time
}

// Store keeps runs and leases in process memory.
type Store struct {
	mu     sync.RWMutex
	runs   map[string]*workflow.Run
	leases map[string]lease
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		runs:   make(map[string]*workflow.Run),
		leases: make(map[string]lease),
	}
}

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// CreateRun persists a new workflow run.
func (m *Store) CreateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	if _, exists := m.runs[key]; exists {
		return automation.ErrRunAlreadyExists
	}
	m.runs[key] = cloneRun(run)
	return nil
}

// GetRun retrieves a workflow run by ID.
func (m *Store) GetRun(_ context.Context, runID id.RunID) (*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return nil, automation.ErrRunNotFound
	}
	cp := cloneRun(r)
	cp.SyncCursor()
	return cp, nil
}

// UpdateRun persists scalar changes to an existing run. Recorded step
// results are kept as stored; they only change through AppendStepResult.
func (m *Store) UpdateRun(_ context.Context, run *workflow.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := run.ID.String()
	prev, ok := m.runs[key]
	if !ok {
		return automation.ErrRunNotFound
	}
	cp := cloneRun(run)
	cp.StepResults = prev.StepResults
	cp.UpdatedAt = time.Now().UTC()
	m.runs[key] = cp
	return nil
}

// AppendStepResult records a step result. A step id that already has a
// value is rejected.
func (m *Store) AppendStepResult(_ context.Context, runID id.RunID, res workflow.StepResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.runs[runID.String()]
	if !ok {
		return automation.ErrRunNotFound
	}
	for _, existing := range r.StepResults {
		if existing.StepID == res.StepID {
			return automation.ErrDuplicateStep
		}
	}
	if res.RecordedAt.IsZero() {
		res.RecordedAt = time.Now().UTC()
	}
	r.StepResults = append(r.StepResults, res)
	r.UpdatedAt = time.Now().UTC()
	return nil
}

// ListRuns returns runs matching the given options, oldest first.
func (m *Store) ListRuns(_ context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make([]*workflow.Run, 0, len(m.runs))
	for _, r := range m.runs {
		if opts.Status != "" && r.Status != opts.Status {
			continue
		}
		if opts.DefinitionID != "" && r.DefinitionID != opts.DefinitionID {
			continue
		}
		cp := cloneRun(r)
		cp.SyncCursor()
		result = append(result, cp)
	}

	sort.Slice(result, func(i, k int) bool {
		return result[i].CreatedAt.Before(result[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(result) {
			return nil, nil
		}
		result = result[opts.Offset:]
	}
	if opts.Limit > 0 && len(result) > opts.Limit {
		result = result[:opts.Limit]
	}
	return result, nil
}

// DueRuns returns up to limit sleeping runs whose wake time has elapsed,
// earliest wake first.
func (m *Store) DueRuns(_ context.Context, now time.Time, limit int) ([]*workflow.Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var due []*workflow.Run
	for _, r := range m.runs {
		if r.Status != workflow.StatusSleeping {
			continue
		}
		if r.WakeAt == nil || r.WakeAt.After(now) {
			continue
		}
		cp := cloneRun(r)
		cp.SyncCursor()
		due = append(due, cp)
	}

	sort.Slice(due, func(i, k int) bool {
		return due[i].WakeAt.Before(*due[k].WakeAt)
	})
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// AcquireLease takes an exclusive hold on key. A hold by another owner
// blocks acquisition until it expires; re-acquiring one's own hold renews
// it.
func (m *Store) AcquireLease(_ context.Context, key string, owner id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	if l, ok := m.leases[key]; ok && l.until.After(now) && l.owner != owner.String() {
		return false, nil
	}
	m.leases[key] = lease{owner: owner.String(), until: now.Add(ttl)}
	return true, nil
}

// ExtendLease renews an existing hold.
func (m *Store) ExtendLease(_ context.Context, key string, owner id.WorkerID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	l, ok := m.leases[key]
	if !ok || l.owner != owner.String() || !l.until.After(now) {
		return false, nil
	}
	l.until = now.Add(ttl)
	m.leases[key] = l
	return true, nil
}

// ReleaseLease drops the hold on key if owner still holds it.
func (m *Store) ReleaseLease(_ context.Context, key string, owner id.WorkerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if l, ok := m.leases[key]; ok && l.owner == owner.String() {
		delete(m.leases, key)
	}
	return nil
}

// cloneRun copies a run deeply enough that callers and the store never
// share mutable state.
func cloneRun(r *workflow.Run) *workflow.Run {
	cp := *r
	if r.StepResults != nil {
		cp.StepResults = make([]workflow.StepResult, len(r.StepResults))
		copy(cp.StepResults, r.StepResults)
	}
	if r.TriggerPayload != nil {
		cp.TriggerPayload = make([]byte, len(r.TriggerPayload))
		copy(cp.TriggerPayload, r.TriggerPayload)
	}
	if r.WakeAt != nil {
		t := *r.WakeAt
		cp.WakeAt = &t
	}
	if r.CompletedAt != nil {
		t := *r.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}
