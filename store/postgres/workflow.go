package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/sitewright/automation"
	"github.com/sitewright/automation/id"
	"github.com/sitewright/automation/workflow"
)

const runColumns = `id, definition_id, trigger_id, trigger_payload, status, cursor,
	wake_at, attempt, error, started_at, completed_at, created_at, updated_at`

// CreateRun persists a new workflow run.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO automation_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		run.ID.String(), run.DefinitionID, run.TriggerID.String(),
		run.TriggerPayload, string(run.Status), run.Cursor,
		run.WakeAt, run.Attempt, run.Error,
		run.StartedAt, run.CompletedAt, run.CreatedAt, run.UpdatedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return automation.ErrRunAlreadyExists
		}
		return fmt.Errorf("automation/postgres: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a workflow run by ID, with step results in recorded
// order.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+runColumns+` FROM automation_runs WHERE id = $1`, runID.String())
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, automation.ErrRunNotFound
		}
		return nil, fmt.Errorf("automation/postgres: get run: %w", err)
	}
	if err := s.loadResults(ctx, run); err != nil {
		return nil, err
	}
	run.SyncCursor()
	return run, nil
}

// UpdateRun persists scalar changes to an existing run.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE automation_runs SET
			status = $1, cursor = $2, wake_at = $3, attempt = $4, error = $5,
			completed_at = $6, updated_at = NOW()
		WHERE id = $7`,
		string(run.Status), run.Cursor, run.WakeAt, run.Attempt,
		run.Error, run.CompletedAt, run.ID.String())
	if err != nil {
		return fmt.Errorf("automation/postgres: update run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return automation.ErrRunNotFound
	}
	return nil
}

// AppendStepResult records a step result at the next position. A step id
// that already has a value is rejected.
func (s *Store) AppendStepResult(ctx context.Context, runID id.RunID, r workflow.StepResult) error {
	recordedAt := r.RecordedAt
	if recordedAt.IsZero() {
		recordedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO automation_step_results (run_id, position, step_id, data, recorded_at)
		SELECT $1, COUNT(*), $2, $3, $4
		FROM automation_step_results WHERE run_id = $1`,
		runID.String(), r.StepID, r.Data, recordedAt)
	if err != nil {
		if isDuplicateKey(err) {
			return automation.ErrDuplicateStep
		}
		return fmt.Errorf("automation/postgres: append step result: %w", err)
	}
	return nil
}

// ListRuns returns runs matching the given options, oldest first.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	q := `SELECT ` + runColumns + ` FROM automation_runs`
	var conds []string
	var args []any
	if opts.Status != "" {
		args = append(args, string(opts.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if opts.DefinitionID != "" {
		args = append(args, opts.DefinitionID)
		conds = append(conds, fmt.Sprintf("definition_id = $%d", len(args)))
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at ASC"
	if opts.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		q += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	return s.queryRuns(ctx, q, args...)
}

// DueRuns returns up to limit sleeping runs whose wake time has elapsed,
// earliest wake first. SKIP LOCKED lets concurrent scheduler scans divide
// the due set instead of fighting over the same rows; the lease table is
// still the authoritative exclusivity check.
func (s *Store) DueRuns(ctx context.Context, now time.Time, limit int) ([]*workflow.Run, error) {
	q := `SELECT ` + runColumns + ` FROM automation_runs
		WHERE status = $1 AND wake_at IS NOT NULL AND wake_at <= $2
		ORDER BY wake_at ASC`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	q += " FOR UPDATE SKIP LOCKED"
	return s.queryRuns(ctx, q, string(workflow.StatusSleeping), now)
}

func (s *Store) queryRuns(ctx context.Context, q string, args ...any) ([]*workflow.Run, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("automation/postgres: query runs: %w", err)
	}
	defer rows.Close()

	var runs []*workflow.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("automation/postgres: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("automation/postgres: query runs: %w", err)
	}

	for _, run := range runs {
		if err := s.loadResults(ctx, run); err != nil {
			return nil, err
		}
		run.SyncCursor()
	}
	return runs, nil
}

func (s *Store) loadResults(ctx context.Context, run *workflow.Run) error {
	rows, err := s.pool.Query(ctx, `
		SELECT step_id, data, recorded_at
		FROM automation_step_results
		WHERE run_id = $1 ORDER BY position ASC`, run.ID.String())
	if err != nil {
		return fmt.Errorf("automation/postgres: load results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r workflow.StepResult
		if err := rows.Scan(&r.StepID, &r.Data, &r.RecordedAt); err != nil {
			return fmt.Errorf("automation/postgres: scan result: %w", err)
		}
		run.StepResults = append(run.StepResults, r)
	}
	return rows.Err()
}

func scanRun(row pgx.Row) (*workflow.Run, error) {
	var run workflow.Run
	var runID, trigID, status string
	err := row.Scan(&runID, &run.DefinitionID, &trigID, &run.TriggerPayload,
		&status, &run.Cursor, &run.WakeAt, &run.Attempt, &run.Error,
		&run.StartedAt, &run.CompletedAt, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if run.ID, err = id.ParseRunID(runID); err != nil {
		return nil, err
	}
	if run.TriggerID, err = id.ParseTriggerID(trigID); err != nil {
		return nil, err
	}
	run.Status = workflow.Status(status)
	return &run, nil
}

// isDuplicateKey checks if a PostgreSQL error is a unique_violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
