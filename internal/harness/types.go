package harness

import "github.com/roach88/weave/internal/ir"

// Trace event names.
const (
	EventInstanceStarted = "instance_started"
	EventStarting        = "starting"
	EventEnded           = "ended"
	EventTransition      = "transition"
	EventInstanceEnded   = "instance_ended"
)

// TraceEvent is one listener callback observed during a run.
//
// For transition events Activity and ActivityInstance describe the target
// that the transition created. For ended events State is the terminal
// state (ended, cancelled or failed).
type TraceEvent struct {
	Seq              int64  `json:"seq"`
	Step             int    `json:"step"`
	Event            string `json:"event"`
	Activity         string `json:"activity,omitempty"`
	ActivityInstance string `json:"activity_instance,omitempty"`
	State            string `json:"state,omitempty"`
	Transition       string `json:"transition,omitempty"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds the listener events in the order they occurred.
	Trace []TraceEvent `json:"trace"`

	// Errors describes every failed expectation. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Instance is the last snapshot of the instance, nil if it never started.
	Instance *ir.WorkflowInstance `json:"instance,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError records a failed expectation and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}
