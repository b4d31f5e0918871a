package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/sitewright/automation"
	"github.com/sitewright/automation/id"
	"github.com/sitewright/automation/workflow"
)

// CreateRun persists a new workflow run.
func (s *Store) CreateRun(ctx context.Context, run *workflow.Run) error {
	rID := run.ID.String()
	key := runKey(rID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("automation/redis: create run exists: %w", err)
	}
	if exists > 0 {
		return automation.ErrRunAlreadyExists
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, runToMap(run))
	pipe.SAdd(ctx, runIDsKey, rID)
	if run.Status == workflow.StatusSleeping && run.WakeAt != nil {
		pipe.ZAdd(ctx, wakeKey, zMember(rID, *run.WakeAt))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("automation/redis: create run: %w", err)
	}
	return nil
}

// GetRun retrieves a workflow run by ID, with step results in recorded
// order.
func (s *Store) GetRun(ctx context.Context, runID id.RunID) (*workflow.Run, error) {
	rID := runID.String()
	vals, err := s.client.HGetAll(ctx, runKey(rID)).Result()
	if err != nil {
		return nil, fmt.Errorf("automation/redis: get run: %w", err)
	}
	if len(vals) == 0 {
		return nil, automation.ErrRunNotFound
	}
	run, err := mapToRun(vals)
	if err != nil {
		return nil, fmt.Errorf("automation/redis: get run: %w", err)
	}
	if err := s.loadResults(ctx, run); err != nil {
		return nil, err
	}
	run.SyncCursor()
	return run, nil
}

// UpdateRun persists scalar changes to an existing run and keeps the wake
// index in step with the run's status.
func (s *Store) UpdateRun(ctx context.Context, run *workflow.Run) error {
	rID := run.ID.String()
	key := runKey(rID)

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("automation/redis: update run exists: %w", err)
	}
	if exists == 0 {
		return automation.ErrRunNotFound
	}

	m := runToMap(run)
	m["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, m)
	if run.Status == workflow.StatusSleeping && run.WakeAt != nil {
		pipe.ZAdd(ctx, wakeKey, zMember(rID, *run.WakeAt))
	} else {
		pipe.ZRem(ctx, wakeKey, rID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("automation/redis: update run: %w", err)
	}
	return nil
}

// AppendStepResult records a step result. A step id that already has a
// value is rejected.
func (s *Store) AppendStepResult(ctx context.Context, runID id.RunID, r workflow.StepResult) error {
	rID := runID.String()

	exists, err := s.client.Exists(ctx, runKey(rID)).Result()
	if err != nil {
		return fmt.Errorf("automation/redis: append step result: %w", err)
	}
	if exists == 0 {
		return automation.ErrRunNotFound
	}

	dup, err := s.client.SIsMember(ctx, resultStepsKey(rID), r.StepID).Result()
	if err != nil {
		return fmt.Errorf("automation/redis: append step result: %w", err)
	}
	if dup {
		return automation.ErrDuplicateStep
	}

	if r.RecordedAt.IsZero() {
		r.RecordedAt = time.Now().UTC()
	}
	raw, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("automation/redis: marshal step result: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.RPush(ctx, resultsKey(rID), raw)
	pipe.SAdd(ctx, resultStepsKey(rID), r.StepID)
	pipe.HSet(ctx, runKey(rID), "updated_at", time.Now().UTC().Format(time.RFC3339Nano))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("automation/redis: append step result: %w", err)
	}
	return nil
}

// ListRuns returns runs matching the given options, oldest first.
func (s *Store) ListRuns(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Run, error) {
	ids, err := s.client.SMembers(ctx, runIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("automation/redis: list runs: %w", err)
	}

	var runs []*workflow.Run
	for _, rID := range ids {
		vals, getErr := s.client.HGetAll(ctx, runKey(rID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		run, convErr := mapToRun(vals)
		if convErr != nil {
			continue
		}
		if opts.Status != "" && run.Status != opts.Status {
			continue
		}
		if opts.DefinitionID != "" && run.DefinitionID != opts.DefinitionID {
			continue
		}
		if err := s.loadResults(ctx, run); err != nil {
			return nil, err
		}
		run.SyncCursor()
		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, k int) bool {
		return runs[i].CreatedAt.Before(runs[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(runs) {
			return nil, nil
		}
		runs = runs[opts.Offset:]
	}
	if opts.Limit > 0 && len(runs) > opts.Limit {
		runs = runs[:opts.Limit]
	}
	return runs, nil
}

// DueRuns returns up to limit sleeping runs whose wake time has elapsed,
// earliest wake first, via one range query on the wake index.
func (s *Store) DueRuns(ctx context.Context, now time.Time, limit int) ([]*workflow.Run, error) {
	ids, err := s.client.ZRangeByScore(ctx, wakeKey, &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("automation/redis: due runs: %w", err)
	}

	var due []*workflow.Run
	for _, rID := range ids {
		vals, getErr := s.client.HGetAll(ctx, runKey(rID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		run, convErr := mapToRun(vals)
		if convErr != nil || run.Status != workflow.StatusSleeping {
			continue
		}
		if err := s.loadResults(ctx, run); err != nil {
			return nil, err
		}
		run.SyncCursor()
		due = append(due, run)
	}
	return due, nil
}

func (s *Store) loadResults(ctx context.Context, run *workflow.Run) error {
	raws, err := s.client.LRange(ctx, resultsKey(run.ID.String()), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("automation/redis: load results: %w", err)
	}
	for _, raw := range raws {
		var r workflow.StepResult
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return fmt.Errorf("automation/redis: decode step result: %w", err)
		}
		run.StepResults = append(run.StepResults, r)
	}
	return nil
}

func runToMap(run *workflow.Run) map[string]any {
	m := map[string]any{
		"id":            run.ID.String(),
		"definition_id": run.DefinitionID,
		"trigger_id":    run.TriggerID.String(),
		"status":        string(run.Status),
		"cursor":        run.Cursor,
		"attempt":       run.Attempt,
		"error":         run.Error,
		"started_at":    run.StartedAt.UTC().Format(time.RFC3339Nano),
		"created_at":    run.CreatedAt.UTC().Format(time.RFC3339Nano),
		"updated_at":    run.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if len(run.TriggerPayload) > 0 {
		m["trigger_payload"] = string(run.TriggerPayload)
	}
	if run.WakeAt != nil {
		m["wake_at"] = run.WakeAt.UTC().Format(time.RFC3339Nano)
	} else {
		m["wake_at"] = ""
	}
	if run.CompletedAt != nil {
		m["completed_at"] = run.CompletedAt.UTC().Format(time.RFC3339Nano)
	} else {
		m["completed_at"] = ""
	}
	return m
}

func mapToRun(vals map[string]string) (*workflow.Run, error) {
	var run workflow.Run
	var err error

	if run.ID, err = id.ParseRunID(vals["id"]); err != nil {
		return nil, err
	}
	if run.TriggerID, err = id.ParseTriggerID(vals["trigger_id"]); err != nil {
		return nil, err
	}
	run.DefinitionID = vals["definition_id"]
	run.Status = workflow.Status(vals["status"])
	run.Error = vals["error"]
	if v := vals["trigger_payload"]; v != "" {
		run.TriggerPayload = []byte(v)
	}
	if run.Cursor, err = strconv.Atoi(vals["cursor"]); err != nil {
		return nil, err
	}
	if run.Attempt, err = strconv.Atoi(vals["attempt"]); err != nil {
		return nil, err
	}

	if run.StartedAt, err = parseTime(vals["started_at"]); err != nil {
		return nil, err
	}
	if run.CreatedAt, err = parseTime(vals["created_at"]); err != nil {
		return nil, err
	}
	if run.UpdatedAt, err = parseTime(vals["updated_at"]); err != nil {
		return nil, err
	}
	if v := vals["wake_at"]; v != "" {
		t, err := parseTime(v)
		if err != nil {
			return nil, err
		}
		run.WakeAt = &t
	}
	if v := vals["completed_at"]; v != "" {
		t, err := parseTime(v)
		if err != nil {
			return nil, err
		}
		run.CompletedAt = &t
	}
	return &run, nil
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func zMember(rID string, wakeAt time.Time) goredis.Z {
	return goredis.Z{Score: float64(wakeAt.UnixMilli()), Member: rID}
}
