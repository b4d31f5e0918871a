package workflow

import (
	"context"
	"time"
)

// RunEmitter receives run and step lifecycle notifications. Defined
// here rather than in the hook package so this package carries no hook
// dependency; hook.Registry satisfies it.
type RunEmitter interface {
	EmitRunStarted(ctx context.Context, run *Run)
	EmitRunSuspended(ctx context.Context, run *Run, wakeAt time.Time)
	EmitRunResumed(ctx context.Context, run *Run)
	EmitRunCompleted(ctx context.Context, run *Run, elapsed time.Duration)
	EmitRunFailed(ctx context.Context, run *Run, err error)
	EmitRunCancelled(ctx context.Context, run *Run)
	EmitStepCompleted(ctx context.Context, run *Run, stepID string, elapsed time.Duration)
	EmitStepRetrying(ctx context.Context, run *Run, stepID string, attempt int, delay time.Duration)
	EmitStepFailed(ctx context.Context, run *Run, stepID string, err error)
}

// NopEmitter discards all lifecycle notifications.
type NopEmitter struct{}

func (NopEmitter) EmitRunStarted(context.Context, *Run)                               {}
func (NopEmitter) EmitRunSuspended(context.Context, *Run, time.Time)                  {}
func (NopEmitter) EmitRunResumed(context.Context, *Run)                               {}
func (NopEmitter) EmitRunCompleted(context.Context, *Run, time.Duration)              {}
func (NopEmitter) EmitRunFailed(context.Context, *Run, error)                         {}
func (NopEmitter) EmitRunCancelled(context.Context, *Run)                             {}
func (NopEmitter) EmitStepCompleted(context.Context, *Run, string, time.Duration)     {}
func (NopEmitter) EmitStepRetrying(context.Context, *Run, string, int, time.Duration) {}
func (NopEmitter) EmitStepFailed(context.Context, *Run, string, error)                {}
