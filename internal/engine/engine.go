package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/roach88/weave/internal/backoff"
	"github.com/roach88/weave/internal/compiler"
	"github.com/roach88/weave/internal/ir"
	"github.com/roach88/weave/internal/model"
	"github.com/roach88/weave/internal/store"
)

// Engine is the Façade over definitions and instances.
//
// Thread-safety model:
//   - Every method is safe for concurrent use
//   - Calls on different instances run in parallel; there is no global lock
//   - Calls on the same instance are serialized by the store's instance lock
//   - Within one call the work queue drains on the calling goroutine
//
// INVARIANTS:
//   - A compiled workflow is never mutated after it is cached
//   - An instance is only mutated while this engine holds its lock
//   - Every call either flushes and unlocks, or unlocks without flushing
//     (except on storage failure, where the lock is kept)
type Engine struct {
	id         string
	store      store.Store
	registry   *Registry
	conditions *compiler.Conditions
	clock      Clock
	logger     *slog.Logger
	listeners  listeners
	cache      *definitionCache
	pool       *asyncPool

	lockAttempts int
	lockBackoff  backoff.Strategy
	maxSteps     int
	asyncWorkers int
}

// Deployment is the outcome of Deploy.
type Deployment struct {
	// ID is empty when the definition was rejected.
	ID string
	// Hash is the content hash of the definition source.
	Hash   string
	Issues []compiler.Issue
}

// HasErrors reports whether any issue blocked the deployment.
func (d *Deployment) HasErrors() bool {
	return compiler.HasErrors(d.Issues)
}

// Err returns a DEPLOYMENT_REJECTED error listing the blocking issues, or
// nil when the deployment succeeded.
func (d *Deployment) Err() error {
	errs := compiler.Errors(d.Issues)
	if len(errs) == 0 {
		return nil
	}
	return newError(CodeDeploymentRejected, "%d blocking issue(s), first: %s", len(errs), errs[0])
}

// New creates an Engine over the given store.
func New(s store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:        s,
		conditions:   compiler.NewConditions(),
		clock:        SystemClock{},
		logger:       slog.Default(),
		cache:        newDefinitionCache(),
		lockAttempts: DefaultLockAttempts,
		lockBackoff:  backoff.Default(),
		maxSteps:     DefaultMaxSteps,
		asyncWorkers: DefaultAsyncWorkers,
	}
	for _, opt := range opts {
		opt(e)
	}

	if e.id == "" {
		e.id = store.UUIDv7Generator{}.Generate()
	}
	if e.registry == nil {
		e.registry = DefaultRegistry()
	}
	if e.lockAttempts < 1 {
		e.lockAttempts = 1
	}
	e.logger = e.logger.With("engine", e.id)
	e.pool = newAsyncPool(e.asyncWorkers)
	return e
}

// ID returns the lock owner id of this engine.
func (e *Engine) ID() string { return e.id }

// Registry returns the activity behavior registry.
func (e *Engine) Registry() *Registry { return e.registry }

// Close waits for running async behaviors. Async work handed off after
// Close is dropped; its activity instances stay waiting until an engine
// calls RecoverAsync.
func (e *Engine) Close() error {
	return e.pool.close()
}

// Deploy compiles a definition and, when no issue blocks it, assigns a
// fresh id, persists the source and publishes the compiled workflow.
//
// A rejected definition is not an error: the returned Deployment carries
// the issues and an empty ID. Use Deployment.Err to treat it as one. An
// id already set on src is ignored; re-deploying always creates a new
// definition.
func (e *Engine) Deploy(ctx context.Context, src *ir.WorkflowSource) (*Deployment, error) {
	s := *src
	s.ID = ""

	w, issues := compiler.Compile(&s, e.registry)
	d := &Deployment{Issues: issues}
	if w == nil {
		e.logger.Warn("deployment rejected", "source", s.SourceID, "issues", len(issues))
		return d, nil
	}

	s.ID = e.store.GenerateWorkflowID()
	s.CreateTime = e.clock.Now()
	w.ID = s.ID
	if err := e.store.InsertWorkflow(ctx, &s); err != nil {
		return d, newError(CodeStorageFailure, "insert workflow %q", s.ID).wrap(err)
	}
	e.cache.put(w)

	d.ID, d.Hash = w.ID, w.Hash
	e.logger.Info("workflow deployed", "workflow", d.ID, "source", s.SourceID, "hash", d.Hash)
	return d, nil
}

// Start creates a workflow instance, executes its start activities and
// drains the work queue before persisting it.
//
// The definition is trig.WorkflowID, or else the latest deployment of
// trig.SourceID. Trigger data becomes the initial instance variables. The
// new instance is not visible to other calls until this one returns, so
// no lock is taken; nothing is persisted when execution fails.
func (e *Engine) Start(ctx context.Context, trig ir.Trigger) (*ir.WorkflowInstance, error) {
	w, err := e.resolve(ctx, trig)
	if err != nil {
		return nil, err
	}
	starts, err := startActivities(w, trig.StartActivityIDs)
	if err != nil {
		return nil, err
	}

	id := trig.InstanceID
	if id == "" {
		id = e.store.GenerateInstanceID()
	}
	wi := &ir.WorkflowInstance{
		ID:         id,
		WorkflowID: w.ID,
		SourceID:   w.SourceID,
		Variables:  trig.Data.Clone(),
		Start:      e.clock.Now(),
	}

	x := e.newExecution(ctx, wi, w)
	x.log.Info("starting instance")
	e.listeners.instanceStarted(ctx, wi)
	for _, a := range starts {
		if _, err := x.createActivityInstance(nil, a); err != nil {
			return nil, withInstance(err, id)
		}
	}
	if err := x.executeWork(); err != nil {
		return nil, withInstance(err, id)
	}

	if err := e.store.InsertInstance(ctx, wi); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, newError(CodeIllegalState, "instance id already exists").withInstance(id).wrap(err)
		}
		return nil, newError(CodeStorageFailure, "insert instance").withInstance(id).wrap(err)
	}
	e.listeners.flushed(ctx, wi)
	e.dispatch(x.async)
	return wi.Clone(), nil
}

func (e *Engine) resolve(ctx context.Context, trig ir.Trigger) (*model.Workflow, error) {
	if trig.WorkflowID != "" {
		w, err := e.workflow(ctx, trig.WorkflowID)
		if CodeOf(err) == CodeWorkflowNotFound {
			return nil, newError(CodeNoWorkflowFound, "no workflow %q deployed", trig.WorkflowID).wrap(err)
		}
		return w, err
	}
	if trig.SourceID == "" {
		return nil, newError(CodeNoWorkflowFound, "trigger names neither a workflow id nor a source id")
	}
	id, err := e.store.FindLatestWorkflowIDBySource(ctx, trig.SourceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(CodeNoWorkflowFound, "no workflow deployed for source %q", trig.SourceID)
	}
	if err != nil {
		return nil, newError(CodeStorageFailure, "find workflow for source %q", trig.SourceID).wrap(err)
	}
	return e.workflow(ctx, id)
}

// startActivities returns the start activities to execute, all of them
// when ids is empty.
func startActivities(w *model.Workflow, ids []string) ([]*model.Activity, error) {
	if len(ids) == 0 {
		return w.StartActivities, nil
	}
	var out []*model.Activity
	for _, a := range w.StartActivities {
		if slices.Contains(ids, a.ID) {
			out = append(out, a)
		}
	}
	for _, id := range ids {
		if !slices.ContainsFunc(out, func(a *model.Activity) bool { return a.ID == id }) {
			return nil, newError(CodeActivityNotFound, "%q is not a start activity of workflow %q", id, w.ID)
		}
	}
	return out, nil
}

// Send delivers a message to a waiting activity instance, drains the work
// queue and persists the instance.
func (e *Engine) Send(ctx context.Context, msg ir.Message) (*ir.WorkflowInstance, error) {
	return e.mutate(ctx, msg.InstanceID, "send", func(x *execution) error {
		ai := x.wi.FindActivityInstance(msg.ActivityInstanceID)
		if ai == nil {
			return newError(CodeActivityInstanceNotFound, "activity instance not found").
				withActivityInstance(msg.ActivityInstanceID)
		}
		if ai.IsEnded() {
			return newError(CodeIllegalState, "activity instance already %s", ai.State).
				withActivityInstance(ai.ID)
		}
		if err := x.message(ai, msg); err != nil {
			return err
		}
		return x.executeWork()
	})
}

// Cancel ends every open activity instance and the workflow instance
// without evaluating transitions. Cancelling an ended instance is a no-op
// that returns its snapshot.
func (e *Engine) Cancel(ctx context.Context, instanceID string) (*ir.WorkflowInstance, error) {
	return e.mutate(ctx, instanceID, "cancel", func(x *execution) error {
		if x.wi.Ended {
			return errUnchanged
		}
		return x.cancel()
	})
}

// Move jumps execution to a top-level activity.
//
// It is only allowed while at most one activity instance is open: that one
// (which must be fromActivityInstanceID when given) is ended without
// taking transitions, a new activity instance for toActivityID is created
// and the work queue drains. An ended instance is reopened.
func (e *Engine) Move(ctx context.Context, instanceID, fromActivityInstanceID, toActivityID string) (*ir.WorkflowInstance, error) {
	return e.mutate(ctx, instanceID, "move", func(x *execution) error {
		target := x.workflow.FindActivity(toActivityID)
		if target == nil {
			return newError(CodeActivityNotFound, "activity %q not in workflow", toActivityID)
		}
		if target.Parent != nil {
			return newError(CodeIllegalState, "activity %q is inside sub-process %q", target.ID, target.Parent.ID)
		}

		open := x.wi.OpenActivityInstances()
		if len(open) > 1 {
			return newError(CodeIllegalState, "move needs at most one open activity instance, found %d", len(open))
		}
		if fromActivityInstanceID != "" {
			from := x.wi.FindActivityInstance(fromActivityInstanceID)
			if from == nil {
				return newError(CodeActivityInstanceNotFound, "activity instance not found").
					withActivityInstance(fromActivityInstanceID)
			}
			if len(open) == 0 || open[0] != from {
				return newError(CodeIllegalState, "activity instance is %s", stateName(from.State)).
					withActivityInstance(from.ID)
			}
		}

		if len(open) == 1 {
			if err := x.discard(open[0]); err != nil {
				return err
			}
		}
		x.wi.Ended = false
		x.wi.End = nil
		if _, err := x.createActivityInstance(nil, target); err != nil {
			return err
		}
		return x.executeWork()
	})
}

// GetVariables returns the variables bound directly on a scope: the
// workflow instance when activityInstanceID is empty, else that activity
// instance. It reads a snapshot without locking.
func (e *Engine) GetVariables(ctx context.Context, instanceID, activityInstanceID string) (ir.VariableMap, error) {
	wi, err := e.GetInstance(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	vars := wi.Variables
	if activityInstanceID != "" {
		ai := wi.FindActivityInstance(activityInstanceID)
		if ai == nil {
			return nil, newError(CodeActivityInstanceNotFound, "activity instance not found").
				withInstance(instanceID).withActivityInstance(activityInstanceID)
		}
		vars = ai.Variables
	}
	if vars == nil {
		return ir.VariableMap{}, nil
	}
	return vars.Clone(), nil
}

// SetVariables binds vars on a scope, as GetVariables selects it, and
// persists the instance. No activity is executed.
func (e *Engine) SetVariables(ctx context.Context, instanceID, activityInstanceID string, vars ir.VariableMap) error {
	_, err := e.mutate(ctx, instanceID, "set variables", func(x *execution) error {
		if activityInstanceID == "" {
			if x.wi.Variables == nil {
				x.wi.Variables = make(ir.VariableMap, len(vars))
			}
			for k, v := range vars {
				x.wi.Variables[k] = ir.CloneValue(v)
			}
			return nil
		}
		ai := x.wi.FindActivityInstance(activityInstanceID)
		if ai == nil {
			return newError(CodeActivityInstanceNotFound, "activity instance not found").
				withActivityInstance(activityInstanceID)
		}
		for k, v := range vars {
			setLocal(ai, k, ir.CloneValue(v))
		}
		return nil
	})
	return err
}

// GetInstance returns a snapshot of the instance without locking it.
func (e *Engine) GetInstance(ctx context.Context, instanceID string) (*ir.WorkflowInstance, error) {
	wi, err := e.store.GetInstance(ctx, instanceID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(CodeInstanceNotFound, "instance not found").withInstance(instanceID)
	}
	if err != nil {
		return nil, newError(CodeStorageFailure, "get instance").withInstance(instanceID).wrap(err)
	}
	return wi, nil
}

// FindWorkflows returns deployed definition sources matching q.
func (e *Engine) FindWorkflows(ctx context.Context, q ir.WorkflowQuery) ([]*ir.WorkflowSource, error) {
	ws, err := e.store.FindWorkflows(ctx, q)
	if err != nil {
		return nil, newError(CodeStorageFailure, "find workflows").wrap(err)
	}
	return ws, nil
}

// DeleteWorkflows deletes matching definitions and evicts them from the
// cache. Instances of deleted definitions are left alone; further calls on
// them fail with WORKFLOW_NOT_FOUND.
func (e *Engine) DeleteWorkflows(ctx context.Context, q ir.WorkflowQuery) (int, error) {
	ws, err := e.FindWorkflows(ctx, q)
	if err != nil {
		return 0, err
	}
	n, err := e.store.DeleteWorkflows(ctx, q)
	if err != nil {
		return n, newError(CodeStorageFailure, "delete workflows").wrap(err)
	}
	for _, w := range ws {
		e.cache.remove(w.ID)
	}
	e.logger.Info("workflows deleted", "count", n)
	return n, nil
}

// FindInstances returns snapshots of matching instances.
func (e *Engine) FindInstances(ctx context.Context, q ir.InstanceQuery) ([]*ir.WorkflowInstance, error) {
	wis, err := e.store.FindInstances(ctx, q)
	if err != nil {
		return nil, newError(CodeStorageFailure, "find instances").wrap(err)
	}
	return wis, nil
}

// DeleteInstances deletes matching instances regardless of their state.
func (e *Engine) DeleteInstances(ctx context.Context, q ir.InstanceQuery) (int, error) {
	n, err := e.store.DeleteInstances(ctx, q)
	if err != nil {
		return n, newError(CodeStorageFailure, "delete instances").wrap(err)
	}
	e.logger.Info("instances deleted", "count", n)
	return n, nil
}

// errUnchanged ends a mutation that found nothing to do: the lock is
// released without a flush and the snapshot is returned.
var errUnchanged = errors.New("unchanged")

// mutate runs fn on a locked instance.
//
// On success the instance is flushed and unlocked, then async work
// collected by fn is dispatched. When fn fails the lock is released
// without flushing, so the instance keeps its last flushed state.
func (e *Engine) mutate(ctx context.Context, instanceID, op string, fn func(x *execution) error) (*ir.WorkflowInstance, error) {
	wi, err := e.lockWithRetry(ctx, instanceID)
	if err != nil {
		return nil, err
	}
	w, err := e.workflow(ctx, wi.WorkflowID)
	if err != nil {
		return nil, e.abandon(ctx, wi, err)
	}

	x := e.newExecution(ctx, wi, w)
	x.log.Info(op)
	if err := fn(x); err != nil {
		if errors.Is(err, errUnchanged) {
			if err := e.unlock(ctx, wi); err != nil {
				return nil, err
			}
			return wi.Clone(), nil
		}
		return nil, e.abandon(ctx, wi, err)
	}

	if err := e.flushAndUnlock(ctx, wi); err != nil {
		return nil, err
	}
	e.dispatch(x.async)
	return wi.Clone(), nil
}

// abandon releases the lock after a failed mutation and returns the
// failure, tagged with the instance id.
func (e *Engine) abandon(ctx context.Context, wi *ir.WorkflowInstance, cause error) error {
	cause = withInstance(cause, wi.ID)
	if err := e.unlock(ctx, wi); err != nil {
		e.logger.Error("unlock after failure", "instance", wi.ID, "error", err, "cause", cause)
		return fmt.Errorf("%w (unlock: %v)", cause, err)
	}
	return cause
}

func withInstance(err error, id string) error {
	var ee *Error
	if errors.As(err, &ee) {
		ee.withInstance(id)
	}
	return err
}
