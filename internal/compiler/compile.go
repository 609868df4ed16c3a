package compiler

import (
	"fmt"
	"strings"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/weave/internal/ir"
	"github.com/roach88/weave/internal/model"
)

// Kinds reports whether an activity kind has a registered behavior.
// The engine's behavior registry implements it.
type Kinds interface {
	Known(kind string) bool
}

// Compile turns a raw definition into the immutable workflow model.
//
// All problems are collected as issues; Compile never fails hard. The
// returned workflow is nil when any issue has error severity, because a
// graph with unresolved references cannot be executed.
//
// Activity ids are unique across the whole workflow (not only within their
// scope) so that an activity instance can reference its activity by id
// alone. Ids are NFC normalized.
func Compile(src *ir.WorkflowSource, kinds Kinds) (*model.Workflow, []Issue) {
	c := &compilation{
		b:     model.NewBuilder(src),
		kinds: kinds,
		seen:  make(map[string]string),
		paths: make(map[string]string),
	}

	c.compileScope(c.b.Root(), nil, src.Activities, src.Transitions, "")

	hash, err := ir.WorkflowHash(src)
	if err != nil {
		c.errorf(CodeUnhashable, "", "%v", err)
	}

	w := c.b.Build(hash)

	if len(w.StartActivities) == 0 {
		c.errorf(CodeNoStartActivity, "activities", "workflow has no start activity")
	}
	for _, a := range w.AllActivities() {
		if a.HasActivities() && len(a.StartActivities) == 0 {
			c.errorf(CodeNoStartActivity, c.paths[a.ID], "sub-process %q has no start activity", a.ID)
		}
	}

	c.issues = append(c.issues, AnalyzeLoops(w)...)
	c.checkReachable(w)

	if HasErrors(c.issues) {
		return nil, c.issues
	}
	return w, c.issues
}

type compilation struct {
	b      *model.Builder
	kinds  Kinds
	seen   map[string]string // activity id -> path of first declaration
	paths  map[string]string
	issues []Issue
}

func (c *compilation) errorf(code, path, format string, args ...any) {
	c.issues = append(c.issues, Issue{
		Code:     code,
		Severity: SeverityError,
		Path:     path,
		Message:  fmt.Sprintf(format, args...),
	})
}

func (c *compilation) warnf(code, path, format string, args ...any) {
	c.issues = append(c.issues, Issue{
		Code:     code,
		Severity: SeverityWarning,
		Path:     path,
		Message:  fmt.Sprintf(format, args...),
	})
}

func normalizeID(id string) string {
	return norm.NFC.String(strings.TrimSpace(id))
}

func (c *compilation) compileScope(
	scope *model.Scope,
	parent *model.Activity,
	activities []ir.ActivitySource,
	transitions []ir.TransitionSource,
	prefix string,
) {
	type nested struct {
		activity *model.Activity
		src      ir.ActivitySource
		path     string
	}
	var children []nested

	for i, as := range activities {
		path := fmt.Sprintf("%sactivities[%d]", prefix, i)
		id := normalizeID(as.ID)
		if id == "" {
			c.errorf(CodeMissingActivityID, path, "activity has no id")
			continue
		}
		if first, dup := c.seen[id]; dup {
			c.errorf(CodeDuplicateActivityID, path, "activity id %q already declared at %s", id, first)
			continue
		}
		c.seen[id] = path
		c.paths[id] = path

		if as.Kind == "" {
			c.errorf(CodeUnknownActivityKind, path, "activity %q has no kind", id)
		} else if c.kinds != nil && !c.kinds.Known(as.Kind) {
			c.errorf(CodeUnknownActivityKind, path, "activity %q has unknown kind %q", id, as.Kind)
		}
		if mi := as.MultiInstance; mi != nil && (mi.Collection == "" || mi.Element == "") {
			c.errorf(CodeInvalidMultiInstance, path+".multi_instance",
				"activity %q needs both collection and element", id)
		}

		as.ID = id
		a := c.b.AddActivity(scope, parent, as)
		if len(as.Activities) > 0 || len(as.Transitions) > 0 {
			children = append(children, nested{activity: a, src: as, path: path})
		}
	}

	ids := make(map[string]int)
	for i, ts := range transitions {
		path := fmt.Sprintf("%stransitions[%d]", prefix, i)
		fromID, toID := normalizeID(ts.From), normalizeID(ts.To)

		from := scope.FindLocal(fromID)
		to := scope.FindLocal(toID)
		if from == nil {
			c.errorf(CodeDanglingTransition, path+".from", "source activity %q not found in scope", fromID)
		}
		if to == nil {
			c.errorf(CodeDanglingTransition, path+".to", "target activity %q not found in scope", toID)
		}
		if ts.Condition != "" {
			if err := ValidateCondition(ts.Condition); err != nil {
				c.errorf(CodeInvalidCondition, path+".condition", "%v", err)
			}
		}
		if from == nil || to == nil {
			continue
		}
		if ts.Default && from.Default != nil {
			c.errorf(CodeMultipleDefaults, path, "activity %q already has default transition %q", fromID, from.Default.ID)
		}

		id := normalizeID(ts.ID)
		if id == "" {
			id = fromID + "->" + toID
		}
		ids[id]++
		if n := ids[id]; n > 1 {
			id = fmt.Sprintf("%s#%d", id, n)
		}
		c.b.AddTransition(scope, id, from, to, ts.Condition, ts.Default)
	}

	for _, n := range children {
		c.compileScope(&n.activity.Scope, n.activity, n.src.Activities, n.src.Transitions, n.path+".")
	}
}

// checkReachable warns about activities that no start activity of their
// scope can reach. Such activities only exist inside loops without an entry.
func (c *compilation) checkReachable(w *model.Workflow) {
	var check func(s *model.Scope)
	check = func(s *model.Scope) {
		reached := make(map[*model.Activity]bool)
		queue := append([]*model.Activity(nil), s.StartActivities...)
		for len(queue) > 0 {
			a := queue[0]
			queue = queue[1:]
			if reached[a] {
				continue
			}
			reached[a] = true
			for _, t := range a.Outgoing {
				queue = append(queue, t.To)
			}
		}
		for _, a := range s.Activities {
			if !reached[a] {
				c.warnf(CodeUnreachable, c.paths[a.ID], "activity %q is not reachable from a start activity", a.ID)
			}
			check(&a.Scope)
		}
	}
	check(&w.Scope)
}
