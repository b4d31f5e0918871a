package scheduler

import (
	"fmt"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/sitewright/automation/id"
)

// cronParser supports standard 5-field cron and descriptors like
// "@every 30s" or "@weekly".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression and returns the schedule.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Entry is a recurring trigger: a cron schedule that fires a workflow
// trigger with a fixed payload. Used for weekly digests and re-engagement
// campaigns that are not started by a domain event.
type Entry struct {
	ID      id.RecurringID
	Name    string
	Spec    string
	Trigger string
	Payload map[string]any

	schedule cronlib.Schedule
	next     time.Time
}

// NewEntry validates the cron spec and builds a recurring entry.
func NewEntry(name, spec, trigger string, payload map[string]any) (*Entry, error) {
	if name == "" {
		return nil, fmt.Errorf("scheduler: recurring entry with empty name")
	}
	if trigger == "" {
		return nil, fmt.Errorf("scheduler: recurring entry %q has empty trigger", name)
	}
	schedule, err := ParseSchedule(spec)
	if err != nil {
		return nil, fmt.Errorf("scheduler: recurring entry %q: parse %q: %w", name, spec, err)
	}
	return &Entry{
		ID:       id.NewRecurringID(),
		Name:     name,
		Spec:     spec,
		Trigger:  trigger,
		Payload:  payload,
		schedule: schedule,
	}, nil
}

// markKey is the lease key that dedups one firing of this entry across
// workers: recurring:<name>:<fire-time>.
func (e *Entry) markKey(fire time.Time) string {
	return fmt.Sprintf("recurring:%s:%d", e.Name, fire.Unix())
}
