package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/roach88/weave/internal/ir"
	"github.com/roach88/weave/internal/model"
)

// Activation is the view a behavior gets of the activity instance it is
// executing. It is only valid during the Execute or Message call it was
// passed to.
type Activation struct {
	x        *execution
	ai       *ir.ActivityInstance
	activity *model.Activity
	behavior Behavior
}

// Context returns the context of the Façade call driving the execution.
func (a *Activation) Context() context.Context { return a.x.ctx }

// Logger returns a logger scoped to the activity instance.
func (a *Activation) Logger() *slog.Logger {
	return a.x.log.With("activity", a.activity.ID, "activity_instance", a.ai.ID)
}

// InstanceID returns the workflow instance id.
func (a *Activation) InstanceID() string { return a.x.wi.ID }

// ActivityInstanceID returns the activity instance id.
func (a *Activation) ActivityInstanceID() string { return a.ai.ID }

// Activity returns the compiled activity being executed.
func (a *Activation) Activity() *model.Activity { return a.activity }

// State returns the current work state of the activity instance.
func (a *Activation) State() ir.WorkState { return a.ai.State }

// Variable returns a copy of the nearest binding of name.
func (a *Activation) Variable(name string) (any, bool) {
	v, ok := a.x.lookup(a.ai, name)
	return ir.CloneValue(v), ok
}

// Variables returns a copy of every variable visible to the activity.
func (a *Activation) Variables() map[string]any {
	return a.x.visible(a.ai)
}

// SetVariable updates the nearest scope binding name, or creates the
// variable on the workflow instance.
func (a *Activation) SetVariable(name string, v any) {
	a.x.assign(a.ai, name, ir.CloneValue(v))
}

// SetLocalVariable binds name on the activity instance itself.
func (a *Activation) SetLocalVariable(name string, v any) {
	setLocal(a.ai, name, ir.CloneValue(v))
}

// Wait leaves the activity instance waiting for a message.
func (a *Activation) Wait() error {
	return fire(a.ai, triggerWait)
}

// Onwards ends the activity instance and takes every outgoing transition
// whose condition holds, or the default transition when none does.
func (a *Activation) Onwards() error {
	return a.x.onwards(a.ai, a.activity, takeMatching)
}

// TakeFirst ends the activity instance and takes the first outgoing
// transition whose condition holds, in declaration order. Without a match
// the default transition is taken; without a default it is an error.
func (a *Activation) TakeFirst() error {
	return a.x.onwards(a.ai, a.activity, takeFirst)
}

// TakeAll ends the activity instance and takes every outgoing transition.
func (a *Activation) TakeAll() error {
	return a.x.onwards(a.ai, a.activity, takeAll)
}

// End ends the activity instance without taking any transition and
// propagates completion to the enclosing scope.
func (a *Activation) End() error {
	return a.x.complete(a.ai, a.activity, nil)
}

// Join implements the merge barrier of an activity with several incoming
// transitions. Each arriving branch has its own activity instance; all but
// the last arrival wait. The last arrival ends the waiting ones and
// returns true so the caller continues onwards.
//
// Activities with at most one incoming transition always pass.
func (a *Activation) Join() (bool, error) {
	want := len(a.activity.Incoming)
	if want <= 1 {
		return true, nil
	}

	var arrived []*ir.ActivityInstance
	for _, sib := range a.x.children(a.x.parentOf(a.ai)) {
		if sib != a.ai && sib.ActivityID == a.ai.ActivityID && sib.State == ir.StateWaiting {
			arrived = append(arrived, sib)
		}
	}
	if len(arrived)+1 < want {
		a.Logger().Debug("join waiting", "arrived", len(arrived)+1, "incoming", want)
		return false, a.Wait()
	}
	for _, w := range arrived[:want-1] {
		if err := a.x.endActivity(w); err != nil {
			return false, err
		}
	}
	return true, nil
}

// StartChildren starts the nested start activities of a sub-process as
// children of this activity instance and leaves it waiting. It resumes
// and continues onwards once every child ended.
func (a *Activation) StartChildren() error {
	starts := a.activity.StartActivities
	if len(starts) == 0 {
		return nil
	}
	if err := a.Wait(); err != nil {
		return err
	}
	for _, s := range starts {
		if _, err := a.x.createActivityInstance(a.ai, s); err != nil {
			return err
		}
	}
	return nil
}

// ExecuteAsync leaves the activity instance waiting and hands it to the
// async pool once the instance has been flushed. The behavior must
// implement AsyncBehavior.
func (a *Activation) ExecuteAsync() error {
	ab, ok := a.behavior.(AsyncBehavior)
	if !ok {
		return fmt.Errorf("kind %q has no async behavior", a.activity.Kind)
	}
	if err := a.Wait(); err != nil {
		return err
	}
	a.x.wi.AsyncWork = append(a.x.wi.AsyncWork, a.ai.ID)
	a.x.async = append(a.x.async, asyncTask{
		behavior: ab,
		job: AsyncJob{
			InstanceID:         a.x.wi.ID,
			ActivityInstanceID: a.ai.ID,
			ActivityID:         a.activity.ID,
			Variables:          a.x.visible(a.ai),
		},
	})
	return nil
}
