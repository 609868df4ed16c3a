package engine

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/roach88/weave/internal/compiler"
	"github.com/roach88/weave/internal/ir"
)

// ErrMessageNotSupported is returned by behaviors that do not accept
// messages. Sending to such an activity instance is an ILLEGAL_STATE error.
var ErrMessageNotSupported = errors.New("activity does not accept messages")

// Behavior is the capability set every activity kind implements.
//
// Execute is invoked once when the activity instance starts executing. It
// may finish the activity itself (Onwards, TakeFirst, TakeAll, End), leave
// it waiting (Wait, StartChildren, ExecuteAsync), or simply return: an
// activity instance still executing after Execute returns continues
// onwards.
//
// Message is invoked when an external message targets a waiting instance.
// The same rule applies when it returns.
type Behavior interface {
	Execute(a *Activation) error
	Message(a *Activation, msg ir.Message) error
}

// AsyncBehavior is implemented by behaviors that offload work from the
// drain loop. After the instance is flushed, ExecuteAsync runs on the
// engine's async pool and its result is sent back to the activity
// instance as a message.
type AsyncBehavior interface {
	Behavior
	ExecuteAsync(ctx context.Context, job AsyncJob) (ir.VariableMap, error)
}

// AsyncJob describes one activity instance handed to the async pool.
type AsyncJob struct {
	InstanceID         string
	ActivityInstanceID string
	ActivityID         string
	// Variables is a copy of the variables visible to the activity instance
	// when it was handed off.
	Variables map[string]any
}

// BaseBehavior rejects messages. Embed it in behaviors that never wait for
// external input.
type BaseBehavior struct{}

// Message returns ErrMessageNotSupported.
func (BaseBehavior) Message(*Activation, ir.Message) error {
	return ErrMessageNotSupported
}

// Registry maps activity kinds to behaviors. It implements compiler.Kinds
// so deployment can reject unknown kinds.
//
// Safe for concurrent use. Registration normally happens once at startup.
type Registry struct {
	mu        sync.RWMutex
	behaviors map[string]Behavior
}

var _ compiler.Kinds = (*Registry)(nil)

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{behaviors: make(map[string]Behavior)}
}

// DefaultRegistry creates a registry holding the built-in kinds.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	registerBuiltins(r)
	return r
}

// Register binds a kind to a behavior, replacing any previous binding.
func (r *Registry) Register(kind string, b Behavior) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.behaviors[kind] = b
}

// Lookup returns the behavior for kind.
func (r *Registry) Lookup(kind string) (Behavior, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.behaviors[kind]
	return b, ok
}

// Known reports whether kind has a behavior.
func (r *Registry) Known(kind string) bool {
	_, ok := r.Lookup(kind)
	return ok
}

// Kinds returns the registered kinds in sorted order.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.behaviors))
	for k := range r.behaviors {
		kinds = append(kinds, k)
	}
	slices.Sort(kinds)
	return kinds
}
