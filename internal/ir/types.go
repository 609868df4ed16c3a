package ir

import "time"

// WorkflowSource is the raw, uncompiled definition of a process graph.
//
// ID is empty until the definition is deployed. SourceID groups successive
// versions of the same process: starting by source id picks the most
// recently deployed version.
type WorkflowSource struct {
	ID          string             `json:"id,omitempty" yaml:"id,omitempty"`
	SourceID    string             `json:"source_id,omitempty" yaml:"source_id,omitempty"`
	Name        string             `json:"name,omitempty" yaml:"name,omitempty"`
	Description string             `json:"description,omitempty" yaml:"description,omitempty"`
	CreateTime  time.Time          `json:"create_time,omitempty" yaml:"create_time,omitempty"`
	CreatorID   string             `json:"creator_id,omitempty" yaml:"creator_id,omitempty"`
	Variables   []VariableSource   `json:"variables,omitempty" yaml:"variables,omitempty"`
	Activities  []ActivitySource   `json:"activities,omitempty" yaml:"activities,omitempty"`
	Transitions []TransitionSource `json:"transitions,omitempty" yaml:"transitions,omitempty"`
	Properties  map[string]any     `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// VariableSource declares a process variable.
type VariableSource struct {
	ID   string `json:"id" yaml:"id"`
	Type string `json:"type,omitempty" yaml:"type,omitempty"`
}

// ActivitySource is one node in the raw graph.
//
// Nested Activities and Transitions form a sub-scope (sub-process). Inputs
// maps a local variable name to the outer variable copied into it before
// execution; Outputs maps an outer variable name to the local variable
// copied out when the activity ends.
type ActivitySource struct {
	ID            string               `json:"id" yaml:"id"`
	Kind          string               `json:"kind" yaml:"kind"`
	Name          string               `json:"name,omitempty" yaml:"name,omitempty"`
	Inputs        map[string]string    `json:"inputs,omitempty" yaml:"inputs,omitempty"`
	Outputs       map[string]string    `json:"outputs,omitempty" yaml:"outputs,omitempty"`
	MultiInstance *MultiInstanceSource `json:"multi_instance,omitempty" yaml:"multi_instance,omitempty"`
	Activities    []ActivitySource     `json:"activities,omitempty" yaml:"activities,omitempty"`
	Transitions   []TransitionSource   `json:"transitions,omitempty" yaml:"transitions,omitempty"`
	Config        map[string]any       `json:"config,omitempty" yaml:"config,omitempty"`
}

// MultiInstanceSource configures fan-out of one activity over a collection.
// Collection names a list variable; each child instance gets one element
// bound to the Element variable.
type MultiInstanceSource struct {
	Collection string `json:"collection" yaml:"collection"`
	Element    string `json:"element" yaml:"element"`
}

// TransitionSource is a directed edge between two activities of one scope.
type TransitionSource struct {
	ID        string `json:"id,omitempty" yaml:"id,omitempty"`
	From      string `json:"from" yaml:"from"`
	To        string `json:"to" yaml:"to"`
	Condition string `json:"condition,omitempty" yaml:"condition,omitempty"`
	Default   bool   `json:"default,omitempty" yaml:"default,omitempty"`
}

// VariableMap holds variable values keyed by variable id.
type VariableMap map[string]any

// Trigger starts a new process instance.
//
// Exactly one of WorkflowID or SourceID selects the definition; WorkflowID
// wins when both are set. InstanceID optionally pre-assigns the new
// instance id. StartActivityIDs restricts which start activities run.
type Trigger struct {
	WorkflowID       string      `json:"workflow_id,omitempty"`
	SourceID         string      `json:"source_id,omitempty"`
	InstanceID       string      `json:"instance_id,omitempty"`
	Data             VariableMap `json:"data,omitempty"`
	StartActivityIDs []string    `json:"start_activity_ids,omitempty"`
}

// Message resumes a waiting activity instance.
type Message struct {
	InstanceID         string      `json:"instance_id"`
	ActivityInstanceID string      `json:"activity_instance_id"`
	Data               VariableMap `json:"data,omitempty"`
}
