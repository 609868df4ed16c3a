// Package memory is an in-memory store.Store backend.
package memory

import (
	"context"
	"sync"

	"github.com/roach88/weave/internal/ir"
	"github.com/roach88/weave/internal/store"
)

// Ensure Store implements store.Store at compile time.
var _ store.Store = (*Store)(nil)

// Store keeps definitions and instances in maps. Every value crossing the
// API boundary is deep-copied, so callers never share memory with the
// stored state. Safe for concurrent access.
type Store struct {
	mu  sync.RWMutex
	ids store.IDGenerator

	workflows     map[string]*ir.WorkflowSource
	workflowOrder []string // insertion order; the last match by source is the latest

	instances     map[string]*ir.WorkflowInstance
	instanceOrder []string
}

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides the UUIDv7 id generator.
func WithIDGenerator(g store.IDGenerator) Option {
	return func(s *Store) { s.ids = g }
}

// New returns a new empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		ids:       store.UUIDv7Generator{},
		workflows: make(map[string]*ir.WorkflowSource),
		instances: make(map[string]*ir.WorkflowInstance),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Close is a no-op for the memory store.
func (s *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Workflow store
// ──────────────────────────────────────────────────

// GenerateWorkflowID returns a fresh definition id.
func (s *Store) GenerateWorkflowID() string { return s.ids.Generate() }

// InsertWorkflow stores a deployed definition.
func (s *Store) InsertWorkflow(_ context.Context, w *ir.WorkflowSource) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.workflows[w.ID]; exists {
		return store.ErrDuplicate
	}
	s.workflows[w.ID] = cloneSource(w)
	s.workflowOrder = append(s.workflowOrder, w.ID)
	return nil
}

// LoadWorkflowByID returns a copy of the definition.
func (s *Store) LoadWorkflowByID(_ context.Context, id string) (*ir.WorkflowSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	w, ok := s.workflows[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return cloneSource(w), nil
}

// FindLatestWorkflowIDBySource returns the last inserted definition id for
// the source.
func (s *Store) FindLatestWorkflowIDBySource(_ context.Context, sourceID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := len(s.workflowOrder) - 1; i >= 0; i-- {
		if w := s.workflows[s.workflowOrder[i]]; w.SourceID == sourceID {
			return w.ID, nil
		}
	}
	return "", store.ErrNotFound
}

// FindWorkflows returns matching definitions in insertion order.
func (s *Store) FindWorkflows(_ context.Context, q ir.WorkflowQuery) ([]*ir.WorkflowSource, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*ir.WorkflowSource
	for _, id := range s.workflowOrder {
		w := s.workflows[id]
		if !q.Matches(w) {
			continue
		}
		out = append(out, cloneSource(w))
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// DeleteWorkflows removes matching definitions and returns how many.
func (s *Store) DeleteWorkflows(_ context.Context, q ir.WorkflowQuery) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.workflowOrder[:0]
	deleted := 0
	for _, id := range s.workflowOrder {
		if q.Matches(s.workflows[id]) && (q.Limit == 0 || deleted < q.Limit) {
			delete(s.workflows, id)
			deleted++
			continue
		}
		kept = append(kept, id)
	}
	s.workflowOrder = kept
	return deleted, nil
}

// ──────────────────────────────────────────────────
// Instance store
// ──────────────────────────────────────────────────

// GenerateInstanceID returns a fresh instance id.
func (s *Store) GenerateInstanceID() string { return s.ids.Generate() }

// InsertInstance stores a new instance, lock included.
func (s *Store) InsertInstance(_ context.Context, wi *ir.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.instances[wi.ID]; exists {
		return store.ErrDuplicate
	}
	s.instances[wi.ID] = wi.Clone()
	s.instanceOrder = append(s.instanceOrder, wi.ID)
	return nil
}

// LockInstance acquires the lock if no lock is held.
func (s *Store) LockInstance(_ context.Context, id string, lock ir.Lock) (*ir.WorkflowInstance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	wi, ok := s.instances[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	if wi.Lock != nil {
		return nil, store.ErrLocked
	}
	l := lock
	wi.Lock = &l
	return wi.Clone(), nil
}

// Flush persists the instance while keeping the lock.
func (s *Store) Flush(_ context.Context, wi *ir.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOwner(wi); err != nil {
		return err
	}
	s.instances[wi.ID] = wi.Clone()
	return nil
}

// FlushAndUnlock persists the instance and releases the lock.
func (s *Store) FlushAndUnlock(_ context.Context, wi *ir.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOwner(wi); err != nil {
		return err
	}
	wi.Lock = nil
	s.instances[wi.ID] = wi.Clone()
	return nil
}

// UnlockInstance releases the lock, discarding unflushed changes.
func (s *Store) UnlockInstance(_ context.Context, wi *ir.WorkflowInstance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkOwner(wi); err != nil {
		return err
	}
	s.instances[wi.ID].Lock = nil
	wi.Lock = nil
	return nil
}

// checkOwner requires the stored lock to belong to wi's lock owner.
// Caller must hold s.mu.
func (s *Store) checkOwner(wi *ir.WorkflowInstance) error {
	stored, ok := s.instances[wi.ID]
	if !ok {
		return store.ErrNotFound
	}
	if stored.Lock == nil || wi.Lock == nil || stored.Lock.Owner != wi.Lock.Owner {
		return store.ErrNotLocked
	}
	return nil
}

// GetInstance returns a snapshot copy.
func (s *Store) GetInstance(_ context.Context, id string) (*ir.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wi, ok := s.instances[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return wi.Clone(), nil
}

// FindInstances returns matching instances in insertion order.
func (s *Store) FindInstances(_ context.Context, q ir.InstanceQuery) ([]*ir.WorkflowInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*ir.WorkflowInstance
	for _, id := range s.instanceOrder {
		wi := s.instances[id]
		if !q.Matches(wi) {
			continue
		}
		out = append(out, wi.Clone())
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out, nil
}

// DeleteInstances removes matching instances and returns how many.
func (s *Store) DeleteInstances(_ context.Context, q ir.InstanceQuery) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.instanceOrder[:0]
	deleted := 0
	for _, id := range s.instanceOrder {
		if q.Matches(s.instances[id]) && (q.Limit == 0 || deleted < q.Limit) {
			delete(s.instances, id)
			deleted++
			continue
		}
		kept = append(kept, id)
	}
	s.instanceOrder = kept
	return deleted, nil
}

// cloneSource deep-copies a definition through its only mutable parts.
func cloneSource(w *ir.WorkflowSource) *ir.WorkflowSource {
	c := *w
	c.Variables = append([]ir.VariableSource(nil), w.Variables...)
	c.Activities = cloneActivities(w.Activities)
	c.Transitions = append([]ir.TransitionSource(nil), w.Transitions...)
	c.Properties = ir.VariableMap(w.Properties).Clone()
	return &c
}

func cloneActivities(list []ir.ActivitySource) []ir.ActivitySource {
	if list == nil {
		return nil
	}
	out := make([]ir.ActivitySource, len(list))
	for i, a := range list {
		a.Activities = cloneActivities(a.Activities)
		a.Transitions = append([]ir.TransitionSource(nil), a.Transitions...)
		a.Config = ir.VariableMap(a.Config).Clone()
		out[i] = a
	}
	return out
}
