package store

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"github.com/google/uuid"

	"github.com/roach88/weave/internal/ir"
)

// Sentinel errors returned by every backend. Callers match with errors.Is.
var (
	// ErrNotFound means no definition or instance has the requested id.
	ErrNotFound = errors.New("store: not found")
	// ErrLocked means the instance is already locked by another session.
	ErrLocked = errors.New("store: instance already locked")
	// ErrNotLocked means the caller does not hold the instance lock.
	ErrNotLocked = errors.New("store: instance not locked by caller")
	// ErrDuplicate means an insert used an id that already exists.
	ErrDuplicate = errors.New("store: duplicate id")
)

// WorkflowStore persists deployed definition sources.
type WorkflowStore interface {
	GenerateWorkflowID() string
	InsertWorkflow(ctx context.Context, w *ir.WorkflowSource) error
	// LoadWorkflowByID returns ErrNotFound when absent.
	LoadWorkflowByID(ctx context.Context, id string) (*ir.WorkflowSource, error)
	// FindLatestWorkflowIDBySource returns the id of the most recently
	// inserted definition with the source id, or ErrNotFound.
	FindLatestWorkflowIDBySource(ctx context.Context, sourceID string) (string, error)
	FindWorkflows(ctx context.Context, q ir.WorkflowQuery) ([]*ir.WorkflowSource, error)
	DeleteWorkflows(ctx context.Context, q ir.WorkflowQuery) (int, error)
}

// InstanceStore persists workflow instances and arbitrates their locks.
//
// Every returned instance is a private copy: mutating it never affects the
// stored state until it is flushed.
type InstanceStore interface {
	GenerateInstanceID() string
	// InsertInstance stores a new instance as given, including its lock.
	InsertInstance(ctx context.Context, wi *ir.WorkflowInstance) error
	// LockInstance atomically sets the lock if the instance is unlocked and
	// returns the locked instance. It returns ErrLocked when another lock
	// is held and ErrNotFound when the instance does not exist.
	LockInstance(ctx context.Context, id string, lock ir.Lock) (*ir.WorkflowInstance, error)
	// Flush persists the instance, keeping the lock. The stored lock owner
	// must match wi.Lock, else ErrNotLocked.
	Flush(ctx context.Context, wi *ir.WorkflowInstance) error
	// FlushAndUnlock persists the instance and clears the lock atomically.
	// On success wi.Lock is nil.
	FlushAndUnlock(ctx context.Context, wi *ir.WorkflowInstance) error
	// UnlockInstance clears the lock without persisting other changes.
	// On success wi.Lock is nil.
	UnlockInstance(ctx context.Context, wi *ir.WorkflowInstance) error
	// GetInstance returns a snapshot without locking.
	GetInstance(ctx context.Context, id string) (*ir.WorkflowInstance, error)
	FindInstances(ctx context.Context, q ir.InstanceQuery) ([]*ir.WorkflowInstance, error)
	DeleteInstances(ctx context.Context, q ir.InstanceQuery) (int, error)
}

// Store is a backend serving both contracts.
type Store interface {
	WorkflowStore
	InstanceStore
	Close() error
}

// IDGenerator produces unique ids.
// Implemented by UUIDv7Generator (production) and SequentialGenerator (tests).
type IDGenerator interface {
	Generate() string
}

// UUIDv7Generator generates time-sortable UUIDv7 ids.
//
// UUIDv7 embeds a timestamp in the most significant bits, so ids sort by
// creation time. Stateless and safe for concurrent use.
type UUIDv7Generator struct{}

// Generate returns a new hyphenated UUIDv7.
// Panics if UUID generation fails (should never happen in practice).
func (UUIDv7Generator) Generate() string {
	return uuid.Must(uuid.NewV7()).String()
}

// SequentialGenerator returns prefix-1, prefix-2, ... for deterministic
// tests and golden traces. Safe for concurrent use.
type SequentialGenerator struct {
	mu     sync.Mutex
	prefix string
	next   int
}

// NewSequentialGenerator creates a generator whose first id is prefix-1.
func NewSequentialGenerator(prefix string) *SequentialGenerator {
	return &SequentialGenerator{prefix: prefix}
}

// Generate returns the next id in sequence.
func (g *SequentialGenerator) Generate() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.next++
	return g.prefix + "-" + strconv.Itoa(g.next)
}
