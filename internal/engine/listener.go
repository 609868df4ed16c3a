package engine

import (
	"context"

	"github.com/roach88/weave/internal/ir"
	"github.com/roach88/weave/internal/model"
)

// ExecutionListener observes instance execution.
//
// Listeners are called synchronously from the goroutine holding the
// instance lock, in registration order. The instance and activity instance
// arguments are live; a listener must not mutate them and must copy
// anything it keeps.
type ExecutionListener interface {
	InstanceStarted(ctx context.Context, wi *ir.WorkflowInstance)
	InstanceEnded(ctx context.Context, wi *ir.WorkflowInstance)
	// ActivityStarting is called before an activity instance executes.
	// Returning false vetoes execution: the activity instance stays
	// unstarted and is dropped from the work queue.
	ActivityStarting(ctx context.Context, wi *ir.WorkflowInstance, ai *ir.ActivityInstance) bool
	ActivityEnded(ctx context.Context, wi *ir.WorkflowInstance, ai *ir.ActivityInstance)
	TransitionTaken(ctx context.Context, wi *ir.WorkflowInstance, t *model.Transition, from, to *ir.ActivityInstance)
	// Flushed is called after the instance was persisted.
	Flushed(ctx context.Context, wi *ir.WorkflowInstance)
	// Unlocked is called after the instance lock was released.
	Unlocked(ctx context.Context, wi *ir.WorkflowInstance)
}

// BaseListener implements ExecutionListener with no-ops. Embed it to
// implement only the callbacks you need.
type BaseListener struct{}

func (BaseListener) InstanceStarted(context.Context, *ir.WorkflowInstance) {}
func (BaseListener) InstanceEnded(context.Context, *ir.WorkflowInstance)   {}
func (BaseListener) ActivityStarting(context.Context, *ir.WorkflowInstance, *ir.ActivityInstance) bool {
	return true
}
func (BaseListener) ActivityEnded(context.Context, *ir.WorkflowInstance, *ir.ActivityInstance) {}
func (BaseListener) TransitionTaken(context.Context, *ir.WorkflowInstance, *model.Transition, *ir.ActivityInstance, *ir.ActivityInstance) {
}
func (BaseListener) Flushed(context.Context, *ir.WorkflowInstance)  {}
func (BaseListener) Unlocked(context.Context, *ir.WorkflowInstance) {}

var _ ExecutionListener = BaseListener{}

// listeners fans every callback out to the registered listeners.
type listeners []ExecutionListener

func (ls listeners) instanceStarted(ctx context.Context, wi *ir.WorkflowInstance) {
	for _, l := range ls {
		l.InstanceStarted(ctx, wi)
	}
}

func (ls listeners) instanceEnded(ctx context.Context, wi *ir.WorkflowInstance) {
	for _, l := range ls {
		l.InstanceEnded(ctx, wi)
	}
}

// activityStarting asks every listener; any veto wins, and listeners after
// the vetoing one are not asked.
func (ls listeners) activityStarting(ctx context.Context, wi *ir.WorkflowInstance, ai *ir.ActivityInstance) bool {
	for _, l := range ls {
		if !l.ActivityStarting(ctx, wi, ai) {
			return false
		}
	}
	return true
}

func (ls listeners) activityEnded(ctx context.Context, wi *ir.WorkflowInstance, ai *ir.ActivityInstance) {
	for _, l := range ls {
		l.ActivityEnded(ctx, wi, ai)
	}
}

func (ls listeners) transitionTaken(ctx context.Context, wi *ir.WorkflowInstance, t *model.Transition, from, to *ir.ActivityInstance) {
	for _, l := range ls {
		l.TransitionTaken(ctx, wi, t, from, to)
	}
}

func (ls listeners) flushed(ctx context.Context, wi *ir.WorkflowInstance) {
	for _, l := range ls {
		l.Flushed(ctx, wi)
	}
}

func (ls listeners) unlocked(ctx context.Context, wi *ir.WorkflowInstance) {
	for _, l := range ls {
		l.Unlocked(ctx, wi)
	}
}
