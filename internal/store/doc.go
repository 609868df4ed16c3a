// Package store defines the persistence contract the engine consumes.
//
// The engine never talks to a database directly. It depends on two
// interfaces: WorkflowStore for deployed definitions and InstanceStore for
// running process instances. Backends live in sub-packages:
//
//   - store/memory: maps guarded by a mutex, for tests and embedding
//   - store/sqlite: durable storage with an atomic lock column
//
// The lock contract is the serialization point for concurrent mutation:
// LockInstance must be an atomic "acquire if unlocked" operation, and
// Flush/FlushAndUnlock must refuse callers that do not own the lock.
package store
