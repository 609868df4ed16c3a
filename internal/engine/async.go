package engine

import (
	"context"
	"slices"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/roach88/weave/internal/ir"
)

// DefaultAsyncWorkers bounds how many async behaviors run at once.
const DefaultAsyncWorkers = 4

type asyncTask struct {
	behavior AsyncBehavior
	job      AsyncJob
}

// asyncPool runs async behaviors off the drain loop.
//
// Submitting never blocks: every task gets a goroutine immediately and
// waits for one of the worker slots inside it. A task that re-enters the
// engine and submits follow-up work therefore cannot deadlock on a full
// pool.
type asyncPool struct {
	g   errgroup.Group
	sem chan struct{}

	mu     sync.Mutex
	closed bool
}

func newAsyncPool(workers int) *asyncPool {
	if workers < 1 {
		workers = 1
	}
	return &asyncPool{sem: make(chan struct{}, workers)}
}

// submit schedules fn. Returns false once the pool is closed.
func (p *asyncPool) submit(fn func()) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.g.Go(func() error {
		p.sem <- struct{}{}
		defer func() { <-p.sem }()
		fn()
		return nil
	})
	return true
}

// close rejects new tasks and waits for running ones.
func (p *asyncPool) close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	return p.g.Wait()
}

// dispatch hands tasks collected during a drain to the pool. It must only
// be called after the instance was persisted, since each task re-enters
// through Send.
func (e *Engine) dispatch(tasks []asyncTask) {
	for _, t := range tasks {
		if !e.pool.submit(func() { e.runAsync(t) }) {
			e.logger.Warn("engine closed, async work dropped",
				"instance", t.job.InstanceID, "activity_instance", t.job.ActivityInstanceID)
		}
	}
}

func (e *Engine) runAsync(t asyncTask) {
	ctx := context.Background()
	log := e.logger.With("instance", t.job.InstanceID, "activity_instance", t.job.ActivityInstanceID)

	data, err := t.behavior.ExecuteAsync(ctx, t.job)
	if err != nil {
		log.Error("async activity failed", "activity", t.job.ActivityID, "error", err)
		if err := e.failAsync(ctx, t.job, err); err != nil {
			log.Error("async failure not recorded", "error", err)
		}
		return
	}

	_, err = e.Send(ctx, ir.Message{
		InstanceID:         t.job.InstanceID,
		ActivityInstanceID: t.job.ActivityInstanceID,
		Data:               data,
	})
	switch {
	case err == nil:
	case IsIllegalState(err) || IsNotFound(err):
		// The instance was cancelled, moved or deleted meanwhile.
		log.Warn("async result discarded", "error", err)
	default:
		log.Error("async result not delivered", "error", err)
	}
}

// failAsync records a failed async behavior on its activity instance and
// flushes it. The instance stays open until it is moved or cancelled.
func (e *Engine) failAsync(ctx context.Context, job AsyncJob, cause error) error {
	_, err := e.mutate(ctx, job.InstanceID, "async failure", func(x *execution) error {
		ai := x.wi.FindActivityInstance(job.ActivityInstanceID)
		if ai == nil || ai.State != ir.StateWaiting || !slices.Contains(x.wi.AsyncWork, ai.ID) {
			return errUnchanged
		}
		x.dropAsync(ai.ID)
		_ = x.fail(ai, cause)
		return nil
	})
	if IsNotFound(err) {
		return nil
	}
	return err
}

// RecoverAsync dispatches the async work recorded on stored open
// instances, for work an earlier engine accepted but never ran. It returns
// the number of tasks handed to the pool.
//
// Call it once at startup; two engines recovering the same store run the
// work twice, and the second result is discarded as ILLEGAL_STATE.
func (e *Engine) RecoverAsync(ctx context.Context) (int, error) {
	open := false
	found, err := e.FindInstances(ctx, ir.InstanceQuery{Ended: &open})
	if err != nil {
		return 0, err
	}

	var tasks []asyncTask
	for _, wi := range found {
		if len(wi.AsyncWork) == 0 {
			continue
		}
		w, err := e.workflow(ctx, wi.WorkflowID)
		if err != nil {
			return 0, err
		}
		x := e.newExecution(ctx, wi, w)
		for _, id := range wi.AsyncWork {
			ai := wi.FindActivityInstance(id)
			if ai == nil || ai.State != ir.StateWaiting {
				continue
			}
			a := w.FindActivity(ai.ActivityID)
			if a == nil {
				continue
			}
			b, _ := e.registry.Lookup(a.Kind)
			ab, ok := b.(AsyncBehavior)
			if !ok {
				x.log.Warn("no async behavior for recorded work", "activity", a.ID, "kind", a.Kind)
				continue
			}
			tasks = append(tasks, asyncTask{
				behavior: ab,
				job: AsyncJob{
					InstanceID:         wi.ID,
					ActivityInstanceID: ai.ID,
					ActivityID:         a.ID,
					Variables:          x.visible(ai),
				},
			})
		}
	}

	e.dispatch(tasks)
	return len(tasks), nil
}
