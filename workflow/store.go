package workflow

import (
	"context"
	"time"

	"github.com/sitewright/automation/id"
)

// ListOpts controls filtering and pagination for run list queries.
type ListOpts struct {
	// Limit is the maximum number of runs to return. Zero means no limit.
	Limit int
	// Offset is the number of runs to skip.
	Offset int
	// Status filters by run status. Empty means all statuses.
	Status Status
	// DefinitionID filters by definition. Empty means all definitions.
	DefinitionID string
}

// Store defines the persistence contract for workflow runs.
//
// UpdateRun persists the run's scalar fields (status, cursor, wakeAt,
// attempt, error, timestamps) and never touches recorded step results;
// results go through AppendStepResult only, which enforces the
// append-only memoization contract. Implementations must populate
// StepResults in recorded order on GetRun/ListRuns/DueRuns and call
// Run.SyncCursor after loading.
//
// Leases are the engine's sole concurrency-control point: exactly one
// worker may hold the lease for a key at a time, and holds expire after
// their TTL so a crashed worker cannot strand a run.
type Store interface {
	// CreateRun persists a new workflow run.
	CreateRun(ctx context.Context, run *Run) error

	// GetRun retrieves a workflow run by ID.
	GetRun(ctx context.Context, runID id.RunID) (*Run, error)

	// UpdateRun persists scalar changes to an existing run.
	UpdateRun(ctx context.Context, run *Run) error

	// AppendStepResult records a step result. Appending a step id that
	// already has a recorded value is an error: results are never
	// rewritten.
	AppendStepResult(ctx context.Context, runID id.RunID, res StepResult) error

	// ListRuns returns runs matching the given options.
	ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error)

	// DueRuns returns up to limit sleeping runs whose wake time has
	// elapsed. This is the scheduler's only query shape.
	DueRuns(ctx context.Context, now time.Time, limit int) ([]*Run, error)

	// AcquireLease attempts to take an exclusive hold on key for the
	// given owner. Returns false if another owner holds an unexpired
	// lease.
	AcquireLease(ctx context.Context, key string, owner id.WorkerID, ttl time.Duration) (bool, error)

	// ExtendLease renews an existing hold. Returns false if the lease
	// is no longer held by owner.
	ExtendLease(ctx context.Context, key string, owner id.WorkerID, ttl time.Duration) (bool, error)

	// ReleaseLease drops the hold on key if owner still holds it.
	ReleaseLease(ctx context.Context, key string, owner id.WorkerID) error
}
