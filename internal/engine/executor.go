package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/weave/internal/ir"
	"github.com/roach88/weave/internal/model"
)

// execution is one locked session on a workflow instance: the state a
// single Façade call needs while it mutates the instance and drains its
// work queue.
//
// An execution is confined to the goroutine holding the instance lock.
type execution struct {
	e        *Engine
	ctx      context.Context
	wi       *ir.WorkflowInstance
	workflow *model.Workflow
	queue    *workQueue
	quota    *stepQuota
	async    []asyncTask
	log      *slog.Logger
}

func (e *Engine) newExecution(ctx context.Context, wi *ir.WorkflowInstance, w *model.Workflow) *execution {
	return &execution{
		e:        e,
		ctx:      ctx,
		wi:       wi,
		workflow: w,
		queue:    newWorkQueue(wi),
		quota:    newStepQuota(e.maxSteps),
		log:      e.logger.With("instance", wi.ID, "workflow", w.ID),
	}
}

// selection decides which outgoing transitions onwards takes.
type selection int

const (
	// takeMatching takes every transition whose condition holds, or the
	// default transition when none holds.
	takeMatching selection = iota
	// takeFirst takes the first transition whose condition holds in
	// declaration order, else the default. No route is an error.
	takeFirst
	// takeAll takes every outgoing transition unconditionally.
	takeAll
)

// executeWork drains the work queue.
//
// The queue is FIFO: activity instances created while draining are
// appended and executed after everything already queued, which makes the
// order of sibling creation deterministic for a given set of transition
// outcomes. The loop runs until the queue is empty or an error aborts it.
func (x *execution) executeWork() error {
	for {
		id, ok := x.queue.pop()
		if !ok {
			return nil
		}
		if err := x.ctx.Err(); err != nil {
			return fmt.Errorf("drain cancelled: %w", err)
		}
		if err := x.quota.check(x.wi.ID); err != nil {
			return err
		}
		ai := x.wi.FindActivityInstance(id)
		if ai == nil || ai.IsEnded() {
			continue
		}
		if err := x.execute(ai); err != nil {
			return err
		}
	}
}

// execute runs one queued activity instance.
func (x *execution) execute(ai *ir.ActivityInstance) error {
	if !x.e.listeners.activityStarting(x.ctx, x.wi, ai) {
		x.log.Debug("activity start vetoed", "activity", ai.ActivityID, "activity_instance", ai.ID)
		return nil
	}

	a := x.workflow.FindActivity(ai.ActivityID)
	if a == nil {
		return newError(CodeActivityNotFound, "activity %q not in workflow", ai.ActivityID).
			withInstance(x.wi.ID).withActivityInstance(ai.ID)
	}

	container := ai.State == ir.StateStartingMultiContainer
	if err := fire(ai, triggerExecute); err != nil {
		return err
	}
	x.log.Debug("executing activity", "activity", a.ID, "kind", a.Kind, "activity_instance", ai.ID)

	x.applyInputs(ai, a)
	if container {
		return x.fanOut(ai, a)
	}

	b, ok := x.e.registry.Lookup(a.Kind)
	if !ok {
		return x.fail(ai, newError(CodeBehaviorError, "no behavior registered for kind %q", a.Kind))
	}
	act := &Activation{x: x, ai: ai, activity: a, behavior: b}
	if err := b.Execute(act); err != nil {
		return x.fail(ai, err)
	}
	if ai.State == ir.StateExecuting {
		if err := x.onwards(ai, a, takeMatching); err != nil {
			return x.fail(ai, err)
		}
	}
	return nil
}

// message resumes a waiting activity instance with external input.
func (x *execution) message(ai *ir.ActivityInstance, msg ir.Message) error {
	if ai.State != ir.StateWaiting {
		return newError(CodeIllegalState, "activity instance is %s, not waiting", stateName(ai.State)).
			withActivityInstance(ai.ID)
	}
	for _, c := range ai.ActivityInstances {
		if c.IsOpen() {
			return newError(CodeIllegalState, "activity instance waits for its children").
				withActivityInstance(ai.ID)
		}
	}
	a := x.workflow.FindActivity(ai.ActivityID)
	if a == nil {
		return newError(CodeActivityNotFound, "activity %q not in workflow", ai.ActivityID).
			withActivityInstance(ai.ID)
	}
	b, ok := x.e.registry.Lookup(a.Kind)
	if !ok {
		return newError(CodeBehaviorError, "no behavior registered for kind %q", a.Kind).
			withActivityInstance(ai.ID)
	}
	if err := fire(ai, triggerResume); err != nil {
		return err
	}
	x.dropAsync(ai.ID)

	act := &Activation{x: x, ai: ai, activity: a, behavior: b}
	if err := b.Message(act, msg); err != nil {
		if errors.Is(err, ErrMessageNotSupported) {
			return newError(CodeIllegalState, "activity %q of kind %q does not accept messages", a.ID, a.Kind).
				withActivityInstance(ai.ID).wrap(err)
		}
		return x.fail(ai, err)
	}
	if ai.State == ir.StateExecuting {
		if err := x.onwards(ai, a, takeMatching); err != nil {
			return x.fail(ai, err)
		}
	}
	return nil
}

// fail marks the activity instance failed and returns the error to raise.
// Engine errors keep their code; anything else becomes BEHAVIOR_ERROR.
func (x *execution) fail(ai *ir.ActivityInstance, err error) error {
	if !ai.IsEnded() {
		_ = fire(ai, triggerFail)
		now := x.e.clock.Now()
		ai.End = &now
		ai.Error = err.Error()
	}
	x.log.Warn("activity failed", "activity", ai.ActivityID, "activity_instance", ai.ID, "error", err)

	var ee *Error
	if errors.As(err, &ee) {
		return ee.withInstance(x.wi.ID).withActivityInstance(ai.ID)
	}
	return newError(CodeBehaviorError, "activity %q failed", ai.ActivityID).
		withInstance(x.wi.ID).withActivityInstance(ai.ID).wrap(err)
}

// createActivityInstance allocates an activity instance for a inside
// scope, starts it and queues it for execution.
func (x *execution) createActivityInstance(scope *ir.ActivityInstance, a *model.Activity) (*ir.ActivityInstance, error) {
	state := ir.StateStarting
	if a.IsMultiInstance() {
		state = ir.StateStartingMultiContainer
	}
	return x.createInState(scope, a, state)
}

func (x *execution) createInState(scope *ir.ActivityInstance, a *model.Activity, state ir.WorkState) (*ir.ActivityInstance, error) {
	ai := &ir.ActivityInstance{
		ID:         x.wi.NextID(),
		ActivityID: a.ID,
		Start:      x.e.clock.Now(),
	}
	if scope != nil {
		ai.ParentID = scope.ID
	}
	t, err := startTrigger(state)
	if err != nil {
		return nil, err
	}
	if err := fire(ai, t); err != nil {
		return nil, err
	}

	if scope == nil {
		x.wi.ActivityInstances = append(x.wi.ActivityInstances, ai)
	} else {
		scope.ActivityInstances = append(scope.ActivityInstances, ai)
	}
	x.queue.push(ai.ID)
	return ai, nil
}

// fanOut executes a multi-instance container: one child per element of
// the collection, each with the element bound locally. The container
// waits until every child ended; an empty collection continues at once.
func (x *execution) fanOut(container *ir.ActivityInstance, a *model.Activity) error {
	mi := a.MultiInstance
	raw, _ := x.lookup(container, mi.Collection)
	var elements []any
	switch v := raw.(type) {
	case nil:
	case []any:
		elements = v
	case []string:
		for _, s := range v {
			elements = append(elements, s)
		}
	default:
		return x.fail(container, newError(CodeBehaviorError,
			"multi-instance collection %q is %T, not a list", mi.Collection, raw))
	}

	if len(elements) == 0 {
		if err := x.onwards(container, a, takeMatching); err != nil {
			return x.fail(container, err)
		}
		return nil
	}

	if err := fire(container, triggerWait); err != nil {
		return err
	}
	for _, el := range elements {
		child, err := x.createInState(container, a, ir.StateStartingMultiInstance)
		if err != nil {
			return err
		}
		setLocal(child, mi.Element, ir.CloneValue(el))
	}
	return nil
}

// onwards ends the activity instance and takes its outgoing transitions
// according to sel.
func (x *execution) onwards(ai *ir.ActivityInstance, a *model.Activity, sel selection) error {
	var taken []*model.Transition
	if !isMultiInstanceChild(ai, x.parentOf(ai)) {
		var err error
		if taken, err = x.selectTransitions(ai, a, sel); err != nil {
			return err
		}
	}
	return x.complete(ai, a, taken)
}

// complete ends the activity instance, then creates a sibling for every
// taken transition. With nothing taken, completion propagates to the
// enclosing scope instead.
func (x *execution) complete(ai *ir.ActivityInstance, a *model.Activity, taken []*model.Transition) error {
	x.applyOutputs(ai, a)
	if err := x.endActivity(ai); err != nil {
		return err
	}

	parent := x.parentOf(ai)
	if len(taken) == 0 {
		return x.propagate(parent)
	}
	for _, t := range taken {
		next, err := x.createActivityInstance(parent, t.To)
		if err != nil {
			return err
		}
		x.log.Debug("transition taken", "transition", t.ID, "from", ai.ID, "to", next.ID)
		x.e.listeners.transitionTaken(x.ctx, x.wi, t, ai, next)
	}
	return nil
}

func (x *execution) selectTransitions(ai *ir.ActivityInstance, a *model.Activity, sel selection) ([]*model.Transition, error) {
	if len(a.Outgoing) == 0 {
		return nil, nil
	}
	if sel == takeAll {
		return a.Outgoing, nil
	}

	var vars map[string]any
	var taken []*model.Transition
	for _, t := range a.Outgoing {
		if t.Default {
			continue
		}
		if t.Condition != "" && vars == nil {
			vars = x.visible(ai)
		}
		ok, err := x.e.conditions.Evaluate(t.Condition, vars)
		if err != nil {
			return nil, newError(CodeBehaviorError, "transition %q", t.ID).wrap(err)
		}
		if !ok {
			continue
		}
		taken = append(taken, t)
		if sel == takeFirst {
			break
		}
	}
	if len(taken) == 0 && a.Default != nil {
		taken = append(taken, a.Default)
	}
	if len(taken) == 0 && sel == takeFirst {
		return nil, newError(CodeBehaviorError, "no outgoing transition of %q matched and there is no default", a.ID)
	}
	return taken, nil
}

// endActivity moves the activity instance to ended and stamps its end time.
func (x *execution) endActivity(ai *ir.ActivityInstance) error {
	if err := fire(ai, triggerEnd); err != nil {
		return err
	}
	now := x.e.clock.Now()
	ai.End = &now
	x.log.Debug("activity ended", "activity", ai.ActivityID, "activity_instance", ai.ID)
	x.e.listeners.activityEnded(x.ctx, x.wi, ai)
	return nil
}

// propagate re-evaluates completion of a scope after one of its activity
// instances ended. A sub-process or multi-instance container whose
// children all ended resumes and continues onwards; the root scope ends
// the workflow instance.
func (x *execution) propagate(scope *ir.ActivityInstance) error {
	for _, c := range x.children(scope) {
		if c.IsOpen() {
			return nil
		}
	}
	if scope == nil {
		x.endInstance()
		return nil
	}
	if scope.State != ir.StateWaiting {
		return nil
	}
	a := x.workflow.FindActivity(scope.ActivityID)
	if a == nil {
		return newError(CodeActivityNotFound, "activity %q not in workflow", scope.ActivityID).
			withActivityInstance(scope.ID)
	}
	if err := fire(scope, triggerResume); err != nil {
		return err
	}
	return x.onwards(scope, a, takeMatching)
}

func (x *execution) endInstance() {
	if x.wi.Ended {
		return
	}
	now := x.e.clock.Now()
	x.wi.Ended = true
	x.wi.End = &now
	x.queue.clear()
	x.log.Info("instance ended")
	x.e.listeners.instanceEnded(x.ctx, x.wi)
}

// cancel ends every open activity instance and the workflow instance
// without evaluating any transition. Children are cancelled before their
// parents.
func (x *execution) cancel() error {
	open := x.wi.OpenActivityInstances()
	now := x.e.clock.Now()
	for i := len(open) - 1; i >= 0; i-- {
		ai := open[i]
		if err := fire(ai, triggerCancel); err != nil {
			return err
		}
		end := now
		ai.End = &end
		x.e.listeners.activityEnded(x.ctx, x.wi, ai)
	}
	x.wi.AsyncWork = nil
	x.async = nil
	x.endInstance()
	return nil
}

// discard ends the single open activity instance before a move. Waiting
// instances end normally; one that never started is cancelled.
func (x *execution) discard(ai *ir.ActivityInstance) error {
	x.queue.remove(ai.ID)
	x.dropAsync(ai.ID)
	if ai.State == ir.StateWaiting || ai.State == ir.StateExecuting {
		return x.endActivity(ai)
	}
	if err := fire(ai, triggerCancel); err != nil {
		return err
	}
	now := x.e.clock.Now()
	ai.End = &now
	x.e.listeners.activityEnded(x.ctx, x.wi, ai)
	return nil
}

func (x *execution) dropAsync(id string) {
	x.wi.AsyncWork = slices.DeleteFunc(x.wi.AsyncWork, func(w string) bool { return w == id })
	if len(x.wi.AsyncWork) == 0 {
		x.wi.AsyncWork = nil
	}
}
