package testutil

import (
	"github.com/roach88/weave/internal/store"
	"github.com/roach88/weave/internal/store/memory"
)

// NewMemoryStore returns an in-memory store whose definition and
// instance ids are "id-1", "id-2", ... in generation order.
//
// With a DeterministicClock this makes a whole engine run reproducible.
func NewMemoryStore() *memory.Store {
	return memory.New(memory.WithIDGenerator(store.NewSequentialGenerator("id")))
}
