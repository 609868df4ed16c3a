package ir

import (
	"strconv"
	"time"
)

// WorkState is the lifecycle state of an activity instance.
type WorkState string

const (
	// StateCreated is the zero value, before the instance is started.
	StateCreated WorkState = ""
	// StateStarting means the instance is queued and about to execute.
	StateStarting WorkState = "starting"
	// StateStartingMultiContainer marks the container of a multi-instance fan-out.
	StateStartingMultiContainer WorkState = "startingMultiContainer"
	// StateStartingMultiInstance marks one child of a multi-instance fan-out.
	StateStartingMultiInstance WorkState = "startingMultiInstance"
	// StateExecuting means the behavior is running.
	StateExecuting WorkState = "executing"
	// StateWaiting means the instance awaits a message, its children or a join.
	StateWaiting WorkState = "waiting"
	// StateEnded is terminal: completed normally.
	StateEnded WorkState = "ended"
	// StateCancelled is terminal: forcibly ended by cancel.
	StateCancelled WorkState = "cancelled"
	// StateFailed is terminal: the behavior returned an error.
	StateFailed WorkState = "failed"
)

// IsTerminal reports whether no further state change is possible.
func (s WorkState) IsTerminal() bool {
	return s == StateEnded || s == StateCancelled || s == StateFailed
}

// Lock is the exclusivity token on a persisted WorkflowInstance.
type Lock struct {
	Owner string    `json:"owner"`
	Time  time.Time `json:"time"`
}

// WorkflowInstance is one running or completed execution of a definition.
//
// The instance is the root scope of its activity-instance tree. Work holds
// the ids of activity instances queued for synchronous execution in FIFO
// order; AsyncWork holds ids handed to the async pool after the next flush.
type WorkflowInstance struct {
	ID                     string              `json:"id"`
	WorkflowID             string              `json:"workflow_id"`
	SourceID               string              `json:"source_id,omitempty"`
	Variables              VariableMap         `json:"variables,omitempty"`
	Lock                   *Lock               `json:"lock,omitempty"`
	Work                   []string            `json:"work,omitempty"`
	AsyncWork              []string            `json:"async_work,omitempty"`
	ActivityInstances      []*ActivityInstance `json:"activity_instances,omitempty"`
	NextActivityInstanceID int64               `json:"next_activity_instance_id"`
	Start                  time.Time           `json:"start"`
	End                    *time.Time          `json:"end,omitempty"`
	Ended                  bool                `json:"ended"`
}

// ActivityInstance is one runtime occurrence of an activity.
//
// ActivityID is a weak reference into the compiled definition. ParentID is
// empty for activity instances directly inside the workflow instance.
type ActivityInstance struct {
	ID                string              `json:"id"`
	ActivityID        string              `json:"activity_id"`
	ParentID          string              `json:"parent_id,omitempty"`
	State             WorkState           `json:"state"`
	Start             time.Time           `json:"start"`
	End               *time.Time          `json:"end,omitempty"`
	Variables         VariableMap         `json:"variables,omitempty"`
	ActivityInstances []*ActivityInstance `json:"activity_instances,omitempty"`
	Error             string              `json:"error,omitempty"`
}

// IsEnded reports whether the activity instance reached a terminal state.
func (ai *ActivityInstance) IsEnded() bool {
	return ai.State.IsTerminal()
}

// IsOpen reports whether the activity instance still awaits work or input.
func (ai *ActivityInstance) IsOpen() bool {
	return !ai.IsEnded()
}

// IsEnded reports whether the workflow instance has ended.
func (wi *WorkflowInstance) IsEnded() bool {
	return wi.Ended
}

// NextID allocates the next activity instance id. Ids are decimal strings,
// monotonic within the workflow instance.
func (wi *WorkflowInstance) NextID() string {
	wi.NextActivityInstanceID++
	return strconv.FormatInt(wi.NextActivityInstanceID, 10)
}

// FindActivityInstance returns the activity instance with the given id at
// any depth, or nil.
func (wi *WorkflowInstance) FindActivityInstance(id string) *ActivityInstance {
	return findByID(wi.ActivityInstances, id)
}

// FindOpenActivityInstanceByActivityID returns the first open activity
// instance of the given activity, searching depth-first in creation order.
func (wi *WorkflowInstance) FindOpenActivityInstanceByActivityID(activityID string) *ActivityInstance {
	return findOpenByActivity(wi.ActivityInstances, activityID)
}

// OpenActivityInstances returns every open activity instance at any depth,
// parents before children.
func (wi *WorkflowInstance) OpenActivityInstances() []*ActivityInstance {
	var open []*ActivityInstance
	walk(wi.ActivityInstances, func(ai *ActivityInstance) {
		if ai.IsOpen() {
			open = append(open, ai)
		}
	})
	return open
}

// HasOpenActivityInstances reports whether any activity instance is open.
func (wi *WorkflowInstance) HasOpenActivityInstances() bool {
	return len(wi.OpenActivityInstances()) > 0
}

// Children returns the activity instances directly inside the scope
// identified by parentID. An empty parentID is the workflow instance.
func (wi *WorkflowInstance) Children(parentID string) []*ActivityInstance {
	if parentID == "" {
		return wi.ActivityInstances
	}
	if parent := wi.FindActivityInstance(parentID); parent != nil {
		return parent.ActivityInstances
	}
	return nil
}

// Walk visits every activity instance depth-first in creation order.
func (wi *WorkflowInstance) Walk(fn func(*ActivityInstance)) {
	walk(wi.ActivityInstances, fn)
}

func walk(list []*ActivityInstance, fn func(*ActivityInstance)) {
	for _, ai := range list {
		fn(ai)
		walk(ai.ActivityInstances, fn)
	}
}

func findByID(list []*ActivityInstance, id string) *ActivityInstance {
	for _, ai := range list {
		if ai.ID == id {
			return ai
		}
		if found := findByID(ai.ActivityInstances, id); found != nil {
			return found
		}
	}
	return nil
}

func findOpenByActivity(list []*ActivityInstance, activityID string) *ActivityInstance {
	for _, ai := range list {
		if ai.ActivityID == activityID && ai.IsOpen() {
			return ai
		}
		if found := findOpenByActivity(ai.ActivityInstances, activityID); found != nil {
			return found
		}
	}
	return nil
}

// Clone returns a deep copy of the workflow instance.
func (wi *WorkflowInstance) Clone() *WorkflowInstance {
	if wi == nil {
		return nil
	}
	c := *wi
	c.Variables = wi.Variables.Clone()
	if wi.Lock != nil {
		l := *wi.Lock
		c.Lock = &l
	}
	c.Work = cloneStrings(wi.Work)
	c.AsyncWork = cloneStrings(wi.AsyncWork)
	c.End = cloneTime(wi.End)
	c.ActivityInstances = cloneActivityInstances(wi.ActivityInstances)
	return &c
}

// Clone returns a deep copy of the activity instance and its children.
func (ai *ActivityInstance) Clone() *ActivityInstance {
	if ai == nil {
		return nil
	}
	c := *ai
	c.End = cloneTime(ai.End)
	c.Variables = ai.Variables.Clone()
	c.ActivityInstances = cloneActivityInstances(ai.ActivityInstances)
	return &c
}

// Clone returns a deep copy of the map. Nested maps and slices are copied;
// other values are shared.
func (m VariableMap) Clone() VariableMap {
	if m == nil {
		return nil
	}
	c := make(VariableMap, len(m))
	for k, v := range m {
		c[k] = CloneValue(v)
	}
	return c
}

// CloneValue deep-copies JSON-like values (maps and slices).
func CloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		c := make(map[string]any, len(val))
		for k, e := range val {
			c[k] = CloneValue(e)
		}
		return c
	case VariableMap:
		return val.Clone()
	case []any:
		c := make([]any, len(val))
		for i, e := range val {
			c[i] = CloneValue(e)
		}
		return c
	default:
		return v
	}
}

func cloneActivityInstances(list []*ActivityInstance) []*ActivityInstance {
	if list == nil {
		return nil
	}
	c := make([]*ActivityInstance, len(list))
	for i, ai := range list {
		c[i] = ai.Clone()
	}
	return c
}

func cloneStrings(s []string) []string {
	if s == nil {
		return nil
	}
	return append([]string(nil), s...)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
