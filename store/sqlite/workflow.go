package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sitewright/automation"
	"github.com/sitewright/automation/id"
	"github.com/sitewright/automation/workflow"
)

const runColumns = `id, definition_id, trigger_id, trigger_payload, status, cursor,
	wake_at, attempt, error, started_at, completed_at, created_at, updated_at`

// CreateRun persists a new workflow run.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO automation_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID.String(), run.DefinitionID, run.TriggerID.String(),
		run.TriggerPayload, string(run.Status), run.Cursor,
		nullTime(run.WakeAt), run.Attempt, run.Error,
		fmtTime(run.StartedAt), nullTime(run.CompletedAt),
		fmtTime(run.CreatedAt), fmtTime(run.UpdatedAt))
	if err != nil {
		if isUniqueViolation(err) {
			return automation.ErrRunAlreadyExists
		}
		return fmt.Errorf("automation/sqlite: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a workflow run by ID, with step results in recorded
// order.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+runColumns+` FROM automation_runs WHERE id = ?`, runID.String())
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, automation.ErrRunNotFound
		}
		return nil, fmt.Errorf("automation/sqlite: get run: %w", err)
	}
	if err := s.loadResults(ctx, run); err != nil {
		return nil, err
	}
	run.SyncCursor()
	return run, nil
}

// UpdateRun persists scalar changes to an existing run. Step results are
// untouched; they only change through AppendStepResult.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE automation_runs SET
			status = ?, cursor = ?, wake_at = ?, attempt = ?, error = ?,
			completed_at = ?, updated_at = ?
		WHERE id = ?`,
		string(run.Status), run.Cursor, nullTime(run.WakeAt), run.Attempt,
		run.Error, nullTime(run.CompletedAt),
		fmtTime(time.Now()), run.ID.String())
	if err != nil {
		return fmt.Errorf("automation/sqlite: update run: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
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
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO automation_step_results (run_id, position, step_id, data, recorded_at)
		SELECT ?, COUNT(*), ?, ?, ?
		FROM automation_step_results WHERE run_id = ?`,
		runID.String(), r.StepID, r.Data, fmtTime(recordedAt), runID.String())
	if err != nil {
		if isUniqueViolation(err) {
			return automation.ErrDuplicateStep
		}
		return fmt.Errorf("automation/sqlite: append step result: %w", err)
	}
	return nil
}

// ListRuns returns runs matching the given options, oldest first.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	q := `SELECT ` + runColumns + ` FROM automation_runs`
	var conds []string
	var args []any
	if opts.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(opts.Status))
	}
	if opts.DefinitionID != "" {
		conds = append(conds, "definition_id = ?")
		args = append(args, opts.DefinitionID)
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at ASC"
	if opts.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", opts.Limit)
	}
	if opts.Offset > 0 {
		if opts.Limit <= 0 {
			q += " LIMIT -1"
		}
		q += fmt.Sprintf(" OFFSET %d", opts.Offset)
	}

	return s.queryRuns(ctx, q, args...)
}

// DueRuns returns up to limit sleeping runs whose wake time has elapsed,
// earliest wake first.
func (s *Store) DueRuns(ctx context.Context, now time.Time, limit int) ([]*workflow.Run, error) {
	q := `SELECT ` + runColumns + ` FROM automation_runs
		WHERE status = ? AND wake_at IS NOT NULL AND wake_at <= ?
		ORDER BY wake_at ASC`
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	return s.queryRuns(ctx, q, string(workflow.StatusSleeping), fmtTime(now))
}

func (s *Store) queryRuns(ctx context.Context, q string, args ...any) ([]*workflow.Run, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("automation/sqlite: query runs: %w", err)
	}
	defer rows.Close()

	var runs []*workflow.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("automation/sqlite: scan run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("automation/sqlite: query runs: %w", err)
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_id, data, recorded_at
		FROM automation_step_results
		WHERE run_id = ? ORDER BY position ASC`, run.ID.String())
	if err != nil {
		return fmt.Errorf("automation/sqlite: load results: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r workflow.StepResult
		var recorded string
		if err := rows.Scan(&r.StepID, &r.Data, &recorded); err != nil {
			return fmt.Errorf("automation/sqlite: scan result: %w", err)
		}
		if r.RecordedAt, err = parseTime(recorded); err != nil {
			return fmt.Errorf("automation/sqlite: scan result: %w", err)
		}
		run.StepResults = append(run.StepResults, r)
	}
	return rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*workflow.Run, error) {
	var run workflow.Run
	var runID, trigID, status string
	var wakeAt, completedAt sql.NullString
	var started, created, up string
	err := row.Scan(&runID, &run.DefinitionID, &trigID, &run.TriggerPayload,
		&status, &run.Cursor, &wakeAt, &run.Attempt, &run.Error,
		&started, &completedAt, &created, &up)
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

	if run.StartedAt, err = parseTime(started); err != nil {
		return nil, err
	}
	if run.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if run.UpdatedAt, err = parseTime(up); err != nil {
		return nil, err
	}
	if wakeAt.Valid {
		t, err := parseTime(wakeAt.String)
		if err != nil {
			return nil, err
		}
		run.WakeAt = &t
	}
	if completedAt.Valid {
		t, err := parseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		run.CompletedAt = &t
	}
	return &run, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return fmtTime(*t)
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed") && strings.Contains(msg, "2067")
}
