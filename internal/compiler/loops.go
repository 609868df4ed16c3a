package compiler

import (
	"fmt"
	"strings"

	"github.com/roach88/weave/internal/model"
)

// AnalyzeLoops reports every loop in the transition graph as a warning.
//
// Loops are legal (retry and review cycles are common), but a loop with no
// waiting activity spins until the engine's step limit stops it, so each
// one is worth a look.
//
// The algorithm runs Tarjan's strongly connected components per scope and
// reports each component with more than one activity, or a self-loop.
// Components are visited in declaration order so the output is stable.
func AnalyzeLoops(w *model.Workflow) []Issue {
	var issues []Issue
	var visit func(s *model.Scope)
	visit = func(s *model.Scope) {
		for _, scc := range tarjanSCC(s.Activities) {
			if len(scc) > 1 || hasSelfLoop(scc[0]) {
				path := loopPath(scc)
				issues = append(issues, Issue{
					Code:     CodeLoop,
					Severity: SeverityWarning,
					Path:     "activities." + scc[0].ID,
					Message:  fmt.Sprintf("loop detected: %s", strings.Join(path, " → ")),
				})
			}
		}
		for _, a := range s.Activities {
			visit(&a.Scope)
		}
	}
	visit(&w.Scope)
	return issues
}

func hasSelfLoop(a *model.Activity) bool {
	for _, t := range a.Outgoing {
		if t.To == a {
			return true
		}
	}
	return false
}

// tarjanSCC finds strongly connected components among the given activities.
// Components are returned with their members in discovery order.
func tarjanSCC(nodes []*model.Activity) [][]*model.Activity {
	var (
		index   = 0
		stack   []*model.Activity
		indices = make(map[*model.Activity]int)
		lowlink = make(map[*model.Activity]int)
		onStack = make(map[*model.Activity]bool)
		sccs    [][]*model.Activity
	)

	var strongConnect func(v *model.Activity)
	strongConnect = func(v *model.Activity) {
		indices[v] = index
		lowlink[v] = index
		index++
		stack = append(stack, v)
		onStack[v] = true

		for _, t := range v.Outgoing {
			w := t.To
			if _, visited := indices[w]; !visited {
				strongConnect(w)
				lowlink[v] = min(lowlink[v], lowlink[w])
			} else if onStack[w] {
				lowlink[v] = min(lowlink[v], indices[w])
			}
		}

		if lowlink[v] == indices[v] {
			var scc []*model.Activity
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			// Reverse so the component starts at its root.
			for i, j := 0, len(scc)-1; i < j; i, j = i+1, j-1 {
				scc[i], scc[j] = scc[j], scc[i]
			}
			sccs = append(sccs, scc)
		}
	}

	for _, n := range nodes {
		if _, visited := indices[n]; !visited {
			strongConnect(n)
		}
	}
	return sccs
}

// loopPath walks the component from its first member back to itself.
func loopPath(scc []*model.Activity) []string {
	members := make(map[*model.Activity]bool, len(scc))
	for _, a := range scc {
		members[a] = true
	}

	start := scc[0]
	path := []string{start.ID}
	visited := map[*model.Activity]bool{}
	current := start
	for {
		visited[current] = true
		var next *model.Activity
		for _, t := range current.Outgoing {
			if members[t.To] && (!visited[t.To] || t.To == start) {
				next = t.To
				break
			}
		}
		if next == nil {
			break
		}
		path = append(path, next.ID)
		if next == start {
			break
		}
		current = next
	}
	return path
}
