package engine

import (
	"context"
	"errors"

	"github.com/roach88/weave/internal/backoff"
	"github.com/roach88/weave/internal/ir"
	"github.com/roach88/weave/internal/store"
)

// DefaultLockAttempts is how often lockWithRetry tries before giving up.
const DefaultLockAttempts = 10

// lockWithRetry acquires the instance lock.
//
// A held lock is transient contention: the call waits per the backoff
// strategy and retries, up to lockAttempts tries in total. Exhaustion is
// CONCURRENCY_EXHAUSTED and leaves the instance untouched.
func (e *Engine) lockWithRetry(ctx context.Context, id string) (*ir.WorkflowInstance, error) {
	for attempt := 1; ; attempt++ {
		wi, err := e.store.LockInstance(ctx, id, ir.Lock{Owner: e.id, Time: e.clock.Now()})
		switch {
		case err == nil:
			return wi, nil
		case errors.Is(err, store.ErrNotFound):
			return nil, newError(CodeInstanceNotFound, "instance not found").withInstance(id)
		case !errors.Is(err, store.ErrLocked):
			return nil, newError(CodeStorageFailure, "lock instance").withInstance(id).wrap(err)
		}

		if attempt >= e.lockAttempts {
			return nil, newError(CodeConcurrencyExhausted, "instance still locked after %d attempts", attempt).
				withInstance(id).wrap(err)
		}
		e.logger.Warn("instance locked, retrying", "instance", id, "attempt", attempt)
		if err := backoff.Wait(ctx, e.lockBackoff, attempt); err != nil {
			return nil, newError(CodeConcurrencyExhausted, "lock wait interrupted").withInstance(id).wrap(err)
		}
	}
}

// flushAndUnlock persists the instance and releases its lock.
//
// A storage failure is raised without unlocking: the instance stays locked
// in the store until resolved externally, so uncommitted work is never
// silently lost.
func (e *Engine) flushAndUnlock(ctx context.Context, wi *ir.WorkflowInstance) error {
	if err := e.store.FlushAndUnlock(ctx, wi); err != nil {
		return newError(CodeStorageFailure, "flush instance").withInstance(wi.ID).wrap(err)
	}
	e.listeners.flushed(ctx, wi)
	e.listeners.unlocked(ctx, wi)
	return nil
}

// unlock releases the lock without persisting anything else. Used when an
// operation is abandoned; the instance keeps its last flushed state.
func (e *Engine) unlock(ctx context.Context, wi *ir.WorkflowInstance) error {
	if err := e.store.UnlockInstance(ctx, wi); err != nil {
		return newError(CodeStorageFailure, "unlock instance").withInstance(wi.ID).wrap(err)
	}
	e.listeners.unlocked(ctx, wi)
	return nil
}
