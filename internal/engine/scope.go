package engine

import (
	"github.com/roach88/weave/internal/ir"
	"github.com/roach88/weave/internal/model"
)

// Variable scopes follow the activity instance tree. A nil *ActivityInstance
// stands for the workflow instance, the root scope.
//
// Reads walk from the activity instance up to the root and return the
// nearest binding. Writes through assign update the nearest scope that
// already binds the name and otherwise create the variable at the root, so
// data produced deep inside a sub-process is visible to the rest of the
// workflow unless the sub-process declared it locally.

// parentOf returns the scope that contains ai, nil for the root.
func (x *execution) parentOf(ai *ir.ActivityInstance) *ir.ActivityInstance {
	if ai == nil || ai.ParentID == "" {
		return nil
	}
	return x.wi.FindActivityInstance(ai.ParentID)
}

// children returns the activity instances directly inside scope.
func (x *execution) children(scope *ir.ActivityInstance) []*ir.ActivityInstance {
	if scope == nil {
		return x.wi.ActivityInstances
	}
	return scope.ActivityInstances
}

// isMultiInstanceChild reports whether ai is one element of a
// multi-instance fan-out: its parent is the container of the same activity.
func isMultiInstanceChild(ai, parent *ir.ActivityInstance) bool {
	return parent != nil && parent.ActivityID == ai.ActivityID
}

func (x *execution) lookup(scope *ir.ActivityInstance, name string) (any, bool) {
	for s := scope; s != nil; s = x.parentOf(s) {
		if v, ok := s.Variables[name]; ok {
			return v, true
		}
	}
	v, ok := x.wi.Variables[name]
	return v, ok
}

func (x *execution) assign(scope *ir.ActivityInstance, name string, v any) {
	for s := scope; s != nil; s = x.parentOf(s) {
		if _, ok := s.Variables[name]; ok {
			s.Variables[name] = v
			return
		}
	}
	if x.wi.Variables == nil {
		x.wi.Variables = make(ir.VariableMap)
	}
	x.wi.Variables[name] = v
}

func setLocal(ai *ir.ActivityInstance, name string, v any) {
	if ai.Variables == nil {
		ai.Variables = make(ir.VariableMap)
	}
	ai.Variables[name] = v
}

// visible returns a copy of every variable visible from scope, nearer
// bindings shadowing outer ones. Transition conditions evaluate against it.
func (x *execution) visible(scope *ir.ActivityInstance) map[string]any {
	var chain []ir.VariableMap
	for s := scope; s != nil; s = x.parentOf(s) {
		chain = append(chain, s.Variables)
	}
	out := make(map[string]any, len(x.wi.Variables))
	for k, v := range x.wi.Variables {
		out[k] = ir.CloneValue(v)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		for k, v := range chain[i] {
			out[k] = ir.CloneValue(v)
		}
	}
	return out
}

// applyInputs copies outer variables into the activity instance before it
// executes. Inputs map a local name to an outer name; unbound outer names
// are skipped.
func (x *execution) applyInputs(ai *ir.ActivityInstance, a *model.Activity) {
	if len(a.Inputs) == 0 {
		return
	}
	parent := x.parentOf(ai)
	for local, outer := range a.Inputs {
		if v, ok := x.lookup(parent, outer); ok {
			setLocal(ai, local, ir.CloneValue(v))
		}
	}
}

// applyOutputs copies local variables out of the activity instance when
// it ends. Outputs map an outer name to a local name.
func (x *execution) applyOutputs(ai *ir.ActivityInstance, a *model.Activity) {
	if len(a.Outputs) == 0 {
		return
	}
	parent := x.parentOf(ai)
	for outer, local := range a.Outputs {
		if v, ok := ai.Variables[local]; ok {
			x.assign(parent, outer, ir.CloneValue(v))
		}
	}
}
