package compiler

import (
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"
	"gopkg.in/yaml.v3"

	"github.com/roach88/weave/internal/ir"
)

// DecodeYAML parses a definition written in YAML or JSON.
func DecodeYAML(data []byte) (*ir.WorkflowSource, error) {
	var src ir.WorkflowSource
	if err := yaml.Unmarshal(data, &src); err != nil {
		return nil, fmt.Errorf("parse definition: %w", err)
	}
	return &src, nil
}

// DecodeCUE parses a definition from a CUE value.
//
// The value is the workflow struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`workflow: { source_id: "greeting", ... }`)
//	src, err := DecodeCUE(v.LookupPath(cue.ParsePath("workflow")))
//
// Activities may be written as a list of structs with an id field, or as a
// struct keyed by activity id. The struct form keeps declaration order.
func DecodeCUE(v cue.Value) (*ir.WorkflowSource, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	src := &ir.WorkflowSource{}
	var err error
	if src.SourceID, err = optionalString(v, "source_id"); err != nil {
		return nil, err
	}
	if src.Name, err = optionalString(v, "name"); err != nil {
		return nil, err
	}
	if src.Description, err = optionalString(v, "description"); err != nil {
		return nil, err
	}

	if vars := v.LookupPath(cue.ParsePath("variables")); vars.Exists() {
		if err := vars.Decode(&src.Variables); err != nil {
			return nil, formatCUEError(err)
		}
	}
	if props := v.LookupPath(cue.ParsePath("properties")); props.Exists() {
		if err := props.Decode(&src.Properties); err != nil {
			return nil, formatCUEError(err)
		}
	}

	if src.Activities, err = parseActivities(v, "activities"); err != nil {
		return nil, err
	}
	if src.Transitions, err = parseTransitions(v, "transitions"); err != nil {
		return nil, err
	}
	return src, nil
}

func optionalString(v cue.Value, field string) (string, error) {
	f := v.LookupPath(cue.ParsePath(field))
	if !f.Exists() {
		return "", nil
	}
	s, err := f.String()
	if err != nil {
		return "", &CompileError{Field: field, Message: "must be a string", Pos: f.Pos()}
	}
	return s, nil
}

func parseActivities(parent cue.Value, field string) ([]ir.ActivitySource, error) {
	val := parent.LookupPath(cue.ParsePath(field))
	if !val.Exists() {
		return nil, nil
	}

	var activities []ir.ActivitySource
	switch val.IncompleteKind() {
	case cue.ListKind:
		iter, err := val.List()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			a, err := parseActivity(iter.Value(), "")
			if err != nil {
				return nil, err
			}
			activities = append(activities, a)
		}
	case cue.StructKind:
		iter, err := val.Fields()
		if err != nil {
			return nil, formatCUEError(err)
		}
		for iter.Next() {
			a, err := parseActivity(iter.Value(), iter.Selector().Unquoted())
			if err != nil {
				return nil, err
			}
			activities = append(activities, a)
		}
	default:
		return nil, &CompileError{Field: field, Message: "must be a list or struct", Pos: val.Pos()}
	}
	return activities, nil
}

// parseActivity reads one activity. label is the struct key in the keyed
// form; an explicit id field takes precedence.
func parseActivity(v cue.Value, label string) (ir.ActivitySource, error) {
	a := ir.ActivitySource{ID: label}
	var err error

	id, err := optionalString(v, "id")
	if err != nil {
		return a, err
	}
	if id != "" {
		a.ID = id
	}

	kind := v.LookupPath(cue.ParsePath("kind"))
	if !kind.Exists() {
		return a, &CompileError{
			Field:   fmt.Sprintf("activities.%s.kind", a.ID),
			Message: "kind is required",
			Pos:     v.Pos(),
		}
	}
	if a.Kind, err = kind.String(); err != nil {
		return a, formatCUEError(err)
	}
	if a.Name, err = optionalString(v, "name"); err != nil {
		return a, err
	}

	decodeField := func(field string, target any) error {
		f := v.LookupPath(cue.ParsePath(field))
		if !f.Exists() {
			return nil
		}
		if err := f.Decode(target); err != nil {
			return formatCUEError(err)
		}
		return nil
	}
	if err := decodeField("inputs", &a.Inputs); err != nil {
		return a, err
	}
	if err := decodeField("outputs", &a.Outputs); err != nil {
		return a, err
	}
	if err := decodeField("multi_instance", &a.MultiInstance); err != nil {
		return a, err
	}
	if err := decodeField("config", &a.Config); err != nil {
		return a, err
	}

	if a.Activities, err = parseActivities(v, "activities"); err != nil {
		return a, err
	}
	if a.Transitions, err = parseTransitions(v, "transitions"); err != nil {
		return a, err
	}
	return a, nil
}

func parseTransitions(parent cue.Value, field string) ([]ir.TransitionSource, error) {
	val := parent.LookupPath(cue.ParsePath(field))
	if !val.Exists() {
		return nil, nil
	}
	iter, err := val.List()
	if err != nil {
		return nil, &CompileError{Field: field, Message: "must be a list", Pos: val.Pos()}
	}

	var transitions []ir.TransitionSource
	for iter.Next() {
		var t ir.TransitionSource
		if err := iter.Value().Decode(&t); err != nil {
			return nil, formatCUEError(err)
		}
		transitions = append(transitions, t)
	}
	return transitions, nil
}

// CompileError represents a decoding error with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	first := errs[0]
	if positions := errors.Positions(first); len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: first.Error(),
			Pos:     positions[0],
		}
	}
	return err
}
