// Package model holds the compiled, immutable form of a workflow definition.
//
// A Workflow is produced once by the compiler and then shared read-only by
// every instance that references it. Nothing in this package mutates a
// Workflow after compile returns.
package model

import "github.com/roach88/weave/internal/ir"

// Workflow is a compiled process graph.
type Workflow struct {
	ID        string
	SourceID  string
	Name      string
	Hash      string
	Variables []ir.VariableSource
	Scope

	// Source is the definition this workflow was compiled from.
	Source *ir.WorkflowSource

	index map[string]*Activity
}

// Scope is a container of activities: the workflow itself or a sub-process.
type Scope struct {
	Activities  []*Activity
	Transitions []*Transition
	// StartActivities are the activities without incoming transitions, in
	// declaration order.
	StartActivities []*Activity

	local map[string]*Activity
}

// Activity is one node in the compiled graph.
type Activity struct {
	ID            string
	Kind          string
	Name          string
	Inputs        map[string]string
	Outputs       map[string]string
	MultiInstance *ir.MultiInstanceSource
	Config        map[string]any
	Scope

	Incoming []*Transition
	Outgoing []*Transition
	// Default is the outgoing transition flagged default, or nil.
	Default *Transition

	// Parent is the enclosing sub-process activity, nil at the top level.
	Parent   *Activity
	Workflow *Workflow
}

// Transition is a directed edge between two activities of one scope.
type Transition struct {
	ID        string
	From      *Activity
	To        *Activity
	Condition string
	Default   bool
}

// FindActivity returns the activity with the given id at any depth, or nil.
func (w *Workflow) FindActivity(id string) *Activity {
	return w.index[id]
}

// AllActivities returns every activity at any depth, parents before
// children, in declaration order.
func (w *Workflow) AllActivities() []*Activity {
	var out []*Activity
	var visit func(s *Scope)
	visit = func(s *Scope) {
		for _, a := range s.Activities {
			out = append(out, a)
			visit(&a.Scope)
		}
	}
	visit(&w.Scope)
	return out
}

// FindLocal returns the activity with the given id declared directly in
// this scope, or nil.
func (s *Scope) FindLocal(id string) *Activity {
	return s.local[id]
}

// HasActivities reports whether the scope contains nested activities.
func (s *Scope) HasActivities() bool {
	return len(s.Activities) > 0
}

// EnclosingScope returns the scope the activity is declared in.
func (a *Activity) EnclosingScope() *Scope {
	if a.Parent != nil {
		return &a.Parent.Scope
	}
	return &a.Workflow.Scope
}

// IsMultiInstance reports whether the activity fans out over a collection.
func (a *Activity) IsMultiInstance() bool {
	return a.MultiInstance != nil
}

// HasMultipleIncoming reports whether the activity merges several branches.
func (a *Activity) HasMultipleIncoming() bool {
	return len(a.Incoming) > 1
}

// ConfigString returns a string config value, or "" when absent.
func (a *Activity) ConfigString(key string) string {
	s, _ := a.Config[key].(string)
	return s
}
