package compiler

import (
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/ast"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/parser"

	"github.com/roach88/weave/internal/ir"
)

// ValidateCondition checks that a transition condition is a syntactically
// valid CUE expression. References to variables are resolved at run time.
func ValidateCondition(expr string) error {
	if _, err := parser.ParseExpr("condition", expr); err != nil {
		return fmt.Errorf("invalid condition %q: %w", expr, formatCUEError(err))
	}
	return nil
}

// Conditions evaluates transition conditions as CUE expressions against the
// variables visible from an activity instance.
//
// Variables are bound as identifiers, so a condition reads like
//
//	amount > 1000 && customer.tier == "gold"
//
// A cue.Context is not safe for concurrent use; evaluation is serialized.
type Conditions struct {
	mu  sync.Mutex
	ctx *cue.Context
}

// NewConditions creates an evaluator with its own CUE context.
func NewConditions() *Conditions {
	return &Conditions{ctx: cuecontext.New()}
}

// Evaluate returns the boolean value of expr with vars in scope.
// An empty expression is true. A condition that fails because it reads a
// variable or field that is not set is false. Other failures, including
// non-boolean results, are errors.
func (c *Conditions) Evaluate(expr string, vars map[string]any) (bool, error) {
	if expr == "" {
		return true, nil
	}
	if vars == nil {
		vars = map[string]any{}
	}

	x, err := parser.ParseExpr("condition", expr)
	if err != nil {
		return false, fmt.Errorf("invalid condition %q: %w", expr, formatCUEError(err))
	}
	refs := references(x)

	c.mu.Lock()
	defer c.mu.Unlock()

	scope := c.ctx.Encode(vars)
	if err := scope.Err(); err != nil {
		return false, fmt.Errorf("encode variables: %w", formatCUEError(err))
	}

	v := c.ctx.BuildExpr(x, cue.Scope(scope))
	result, err := v.Bool()
	if err != nil {
		if unset(vars, refs) {
			return false, nil
		}
		return false, fmt.Errorf("condition %q: %w", expr, formatCUEError(err))
	}
	return result, nil
}

// references collects the variable paths an expression reads, such as
// ["customer", "tier"] for customer.tier. Struct labels are not references.
func references(x ast.Expr) [][]string {
	var refs [][]string
	var visit func(n ast.Node) bool
	visit = func(n ast.Node) bool {
		switch n := n.(type) {
		case *ast.SelectorExpr:
			if path, ok := referencePath(n); ok {
				refs = append(refs, path)
				return false
			}
		case *ast.Ident:
			refs = append(refs, []string{n.Name})
		case *ast.Field:
			ast.Walk(n.Value, visit, nil)
			return false
		}
		return true
	}
	ast.Walk(x, visit, nil)
	return refs
}

func referencePath(x ast.Expr) ([]string, bool) {
	switch x := x.(type) {
	case *ast.Ident:
		return []string{x.Name}, true
	case *ast.SelectorExpr:
		path, ok := referencePath(x.X)
		if !ok {
			return nil, false
		}
		name, _, err := ast.LabelName(x.Sel)
		if err != nil {
			return path, true
		}
		return append(path, name), true
	}
	return nil, false
}

// unset reports whether any of refs names a variable or nested field
// missing from vars.
func unset(vars map[string]any, refs [][]string) bool {
	for _, path := range refs {
		var cur any = vars
		for _, name := range path {
			var m map[string]any
			switch c := cur.(type) {
			case map[string]any:
				m = c
			case ir.VariableMap:
				m = c
			}
			if m == nil {
				break
			}
			next, ok := m[name]
			if !ok {
				return true
			}
			cur = next
		}
	}
	return false
}
