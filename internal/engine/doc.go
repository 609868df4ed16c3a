// Package engine implements the weave execution core and its Façade.
//
// The engine compiles and caches definitions, creates workflow instances
// from triggers and drives each instance forward by draining its work
// queue until nothing is left to execute.
//
// ARCHITECTURE:
//
// Lock, mutate, flush:
// Every call that changes an existing instance locks it in the store
// first (retrying with backoff while another session holds it), mutates
// the locked copy, then flushes and unlocks in one store operation. A
// failed call unlocks without flushing, so the stored instance only ever
// moves from one completed call to the next.
//
// Drain loop:
// Activity instances are queued in FIFO order and executed one at a time
// on the calling goroutine. Executing an activity dispatches to the
// Behavior registered for its kind. A behavior either finishes (the
// engine then takes outgoing transitions and queues the targets) or
// leaves the activity instance waiting for a message, its children, a
// join or async work.
//
// Scopes:
// Sub-process and multi-instance activity instances contain child activity
// instances. When the last child of a scope ends, the scope continues
// onwards; when the last top-level activity instance ends, the workflow
// instance ends.
//
// Async work:
// Behaviors implementing AsyncBehavior are handed to a bounded pool after
// the instance was flushed. Their result re-enters the engine through
// Send, which is the only way work crosses calls.
//
// Ordering guarantees hold per instance only. Different instances are
// independent units of concurrency.
package engine
