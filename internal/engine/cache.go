package engine

import (
	"context"
	"errors"
	"sync"

	"github.com/roach88/weave/internal/compiler"
	"github.com/roach88/weave/internal/model"
	"github.com/roach88/weave/internal/store"
)

// definitionCache holds compiled workflows by id.
//
// A workflow is published once and never mutated afterwards, so readers
// share the pointer without copying.
type definitionCache struct {
	mu        sync.RWMutex
	workflows map[string]*model.Workflow
}

func newDefinitionCache() *definitionCache {
	return &definitionCache{workflows: make(map[string]*model.Workflow)}
}

func (c *definitionCache) get(id string) (*model.Workflow, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	w, ok := c.workflows[id]
	return w, ok
}

func (c *definitionCache) put(w *model.Workflow) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.workflows[w.ID] = w
}

func (c *definitionCache) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.workflows, id)
}

// workflow returns the compiled workflow, loading and compiling it from
// the store on a cache miss.
func (e *Engine) workflow(ctx context.Context, id string) (*model.Workflow, error) {
	if w, ok := e.cache.get(id); ok {
		return w, nil
	}

	src, err := e.store.LoadWorkflowByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, newError(CodeWorkflowNotFound, "workflow %q not found", id)
	}
	if err != nil {
		return nil, newError(CodeStorageFailure, "load workflow %q", id).wrap(err)
	}

	w, issues := compiler.Compile(src, e.registry)
	if w == nil {
		return nil, newError(CodeDeploymentRejected, "stored workflow %q no longer compiles: %s",
			id, compiler.Errors(issues)[0])
	}
	w.ID = src.ID
	e.cache.put(w)
	return w, nil
}
