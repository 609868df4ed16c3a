package engine

import (
	"slices"

	"github.com/roach88/weave/internal/ir"
)

// workQueue is the FIFO of activity instance ids awaiting execution.
//
// The backing slice is the instance's persisted Work field; a completed
// drain leaves it empty. A vetoed activity instance is popped like any
// other and stays starting, out of the queue, until a move or cancel ends
// it. Queue order alone determines the order in which sibling activity
// instances execute.
//
// Not safe for concurrent use: a queue only lives inside one locked
// execution.
type workQueue struct {
	wi *ir.WorkflowInstance
}

func newWorkQueue(wi *ir.WorkflowInstance) *workQueue {
	return &workQueue{wi: wi}
}

// push adds an activity instance id to the back of the queue.
func (q *workQueue) push(id string) {
	q.wi.Work = append(q.wi.Work, id)
}

// pop removes and returns the front id.
// Returns ("", false) if the queue is empty.
func (q *workQueue) pop() (string, bool) {
	if len(q.wi.Work) == 0 {
		return "", false
	}
	id := q.wi.Work[0]
	if len(q.wi.Work) == 1 {
		q.wi.Work = nil
	} else {
		q.wi.Work = q.wi.Work[1:]
	}
	return id, true
}

// remove drops every occurrence of id, keeping the order of the rest.
func (q *workQueue) remove(id string) {
	q.wi.Work = slices.DeleteFunc(q.wi.Work, func(w string) bool { return w == id })
	if len(q.wi.Work) == 0 {
		q.wi.Work = nil
	}
}

// clear empties the queue.
func (q *workQueue) clear() {
	q.wi.Work = nil
}

func (q *workQueue) len() int {
	return len(q.wi.Work)
}
