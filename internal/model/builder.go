package model

import "github.com/roach88/weave/internal/ir"

// Builder assembles a Workflow. The compiler is its only intended user;
// it validates the source first and then wires the graph through here.
type Builder struct {
	w *Workflow
}

// NewBuilder starts a workflow for the given source.
func NewBuilder(src *ir.WorkflowSource) *Builder {
	return &Builder{w: &Workflow{
		ID:        src.ID,
		SourceID:  src.SourceID,
		Name:      src.Name,
		Variables: src.Variables,
		Source:    src,
		Scope:     Scope{local: map[string]*Activity{}},
		index:     map[string]*Activity{},
	}}
}

// Root returns the top-level scope.
func (b *Builder) Root() *Scope {
	return &b.w.Scope
}

// AddActivity declares an activity in scope. parent is nil at the top level.
func (b *Builder) AddActivity(scope *Scope, parent *Activity, src ir.ActivitySource) *Activity {
	a := &Activity{
		ID:            src.ID,
		Kind:          src.Kind,
		Name:          src.Name,
		Inputs:        src.Inputs,
		Outputs:       src.Outputs,
		MultiInstance: src.MultiInstance,
		Config:        src.Config,
		Scope:         Scope{local: map[string]*Activity{}},
		Parent:        parent,
		Workflow:      b.w,
	}
	scope.Activities = append(scope.Activities, a)
	scope.local[a.ID] = a
	if _, exists := b.w.index[a.ID]; !exists {
		b.w.index[a.ID] = a
	}
	return a
}

// AddTransition connects two activities of scope.
func (b *Builder) AddTransition(scope *Scope, id string, from, to *Activity, condition string, isDefault bool) *Transition {
	t := &Transition{ID: id, From: from, To: to, Condition: condition, Default: isDefault}
	scope.Transitions = append(scope.Transitions, t)
	from.Outgoing = append(from.Outgoing, t)
	to.Incoming = append(to.Incoming, t)
	if isDefault && from.Default == nil {
		from.Default = t
	}
	return t
}

// Build computes start activities for every scope and returns the workflow.
func (b *Builder) Build(hash string) *Workflow {
	b.w.Hash = hash
	var finish func(s *Scope)
	finish = func(s *Scope) {
		s.StartActivities = nil
		for _, a := range s.Activities {
			if len(a.Incoming) == 0 {
				s.StartActivities = append(s.StartActivities, a)
			}
			finish(&a.Scope)
		}
	}
	finish(&b.w.Scope)
	return b.w
}
