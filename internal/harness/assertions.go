package harness

import (
	"fmt"
	"reflect"
	"slices"
	"sort"
	"strings"

	"github.com/roach88/weave/internal/engine"
	"github.com/roach88/weave/internal/ir"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string       // Assertion type or "step N" for expect clauses
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Full trace for debugging context, may be nil
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nStarted activities:\n")
		for _, event := range e.Trace {
			if event.Event == EventStarting {
				fmt.Fprintf(&buf, "  [%d] step %d: %s (%s)\n", event.Seq, event.Step, event.Activity, event.ActivityInstance)
			}
		}
	}
	return buf.String()
}

// checkExpect compares the outcome of step index against its expect
// clause and returns a message per mismatch.
func checkExpect(index int, expect *Expect, wi *ir.WorkflowInstance, err error) []string {
	label := fmt.Sprintf("step %d", index)
	if expect == nil {
		if err != nil {
			return []string{(&AssertionError{Type: label, Expected: "success", Actual: err.Error()}).Error()}
		}
		return nil
	}

	if expect.Error != "" {
		code := string(engine.CodeOf(err))
		switch {
		case err == nil:
			return []string{(&AssertionError{Type: label, Expected: "error " + expect.Error, Actual: "success"}).Error()}
		case code != expect.Error:
			return []string{(&AssertionError{Type: label, Expected: "error " + expect.Error, Actual: err.Error()}).Error()}
		}
	} else if err != nil {
		return []string{(&AssertionError{Type: label, Expected: "success", Actual: err.Error()}).Error()}
	}

	var msgs []string
	for _, e := range checkState(label, wi, expect.Ended, expect.Open, expect.Variables) {
		msgs = append(msgs, e.Error())
	}
	return msgs
}

// checkState compares an instance snapshot with the expected ended flag,
// open activities and variable subset. Unset expectations are skipped.
func checkState(label string, wi *ir.WorkflowInstance, ended *bool, open []string, vars map[string]any) []error {
	if ended == nil && open == nil && len(vars) == 0 {
		return nil
	}
	if wi == nil {
		return []error{&AssertionError{Type: label, Expected: "a started instance", Actual: "no instance"}}
	}

	var errs []error
	if ended != nil && *ended != wi.IsEnded() {
		errs = append(errs, &AssertionError{
			Type:     label,
			Expected: fmt.Sprintf("ended = %t", *ended),
			Actual:   fmt.Sprintf("ended = %t", wi.IsEnded()),
		})
	}
	if open != nil {
		actual := openActivities(wi)
		if !slices.Equal(open, actual) {
			errs = append(errs, &AssertionError{
				Type:     label,
				Expected: fmt.Sprintf("open activities %v", open),
				Actual:   fmt.Sprintf("open activities %v", actual),
			})
		}
	}
	for _, key := range sortedKeys(vars) {
		actual, ok := wi.Variables[key]
		if !ok {
			errs = append(errs, &AssertionError{
				Type:     label,
				Expected: fmt.Sprintf("variable %q = %v", key, vars[key]),
				Actual:   fmt.Sprintf("variable %q not set", key),
			})
			continue
		}
		if !valuesEqual(actual, vars[key]) {
			errs = append(errs, &AssertionError{
				Type:     label,
				Expected: fmt.Sprintf("variable %q = %v (type %T)", key, vars[key], vars[key]),
				Actual:   fmt.Sprintf("variable %q = %v (type %T)", key, actual, actual),
			})
		}
	}
	return errs
}

func openActivities(wi *ir.WorkflowInstance) []string {
	ids := []string{}
	for _, ai := range wi.OpenActivityInstances() {
		ids = append(ids, ai.ActivityID)
	}
	return ids
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// assertTraceContains checks that the trace holds the event for the
// activity. The event defaults to starting.
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	event := assertion.Event
	if event == "" {
		event = EventStarting
	}
	for _, ev := range trace {
		if ev.Event == event && ev.Activity == assertion.Activity {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("%s event for %s", event, assertion.Activity),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that activities first started in the given
// order. Other activities may start in between.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, ev := range trace {
		if ev.Event != EventStarting {
			continue
		}
		if _, seen := positions[ev.Activity]; !seen {
			positions[ev.Activity] = i + 1
		}
	}

	for _, activity := range assertion.Activities {
		if positions[activity] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all activities started: %v", assertion.Activities),
				Actual:   fmt.Sprintf("never started: %s", activity),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Activities); i++ {
		prev := assertion.Activities[i-1]
		curr := assertion.Activities[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("activities started in order: %v", assertion.Activities),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks how often the activity started.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, ev := range trace {
		if ev.Event == EventStarting && ev.Activity == assertion.Activity {
			count++
		}
	}
	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d starts of %s", assertion.Count, assertion.Activity),
			Actual:   fmt.Sprintf("%d starts", count),
			Trace:    trace,
		}
	}
	return nil
}

// valuesEqual compares a stored variable with an expected one. Numbers
// compare by value, so an expected 3 matches a stored int 3 and a float64
// 3 decoded from SQLite alike.
func valuesEqual(actual, expected any) bool {
	return reflect.DeepEqual(normalize(actual), normalize(expected))
}

func normalize(v any) any {
	switch val := v.(type) {
	case int:
		return float64(val)
	case int64:
		return float64(val)
	case int32:
		return float64(val)
	case float32:
		return float64(val)
	case uint64:
		return float64(val)
	case []any:
		out := make([]any, len(val))
		for i, e := range val {
			out[i] = normalize(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, e := range val {
			out[k] = normalize(e)
		}
		return out
	case ir.VariableMap:
		return normalize(map[string]any(val))
	}
	return v
}

// EvaluateAssertions evaluates all assertions against the result.
// Returns a slice of error messages for failed assertions.
func EvaluateAssertions(result *Result, assertions []Assertion) []string {
	var msgs []string
	for i, assertion := range assertions {
		var errs []error
		switch assertion.Type {
		case AssertTraceContains:
			errs = append(errs, assertTraceContains(result.Trace, assertion))
		case AssertTraceOrder:
			errs = append(errs, assertTraceOrder(result.Trace, assertion))
		case AssertTraceCount:
			errs = append(errs, assertTraceCount(result.Trace, assertion))
		case AssertFinalState:
			errs = checkState(AssertFinalState, result.Instance, assertion.Ended, assertion.Open, assertion.Variables)
		default:
			errs = append(errs, fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type))
		}
		for _, err := range errs {
			if err != nil {
				msgs = append(msgs, err.Error())
			}
		}
	}
	return msgs
}
