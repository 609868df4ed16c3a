package harness

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weave/internal/engine"
	"github.com/roach88/weave/internal/ir"
)

// sampleTrace is start -> review -> end with review started twice.
func sampleTrace() []TraceEvent {
	return []TraceEvent{
		{Seq: 1, Event: EventInstanceStarted},
		{Seq: 2, Event: EventStarting, Activity: "start", ActivityInstance: "1"},
		{Seq: 3, Event: EventEnded, Activity: "start", ActivityInstance: "1", State: "ended"},
		{Seq: 4, Event: EventStarting, Activity: "review", ActivityInstance: "2"},
		{Seq: 5, Event: EventEnded, Activity: "review", ActivityInstance: "2", State: "cancelled"},
		{Seq: 6, Event: EventStarting, Activity: "review", ActivityInstance: "3"},
		{Seq: 7, Event: EventStarting, Activity: "end", ActivityInstance: "4"},
	}
}

func sampleInstance() *ir.WorkflowInstance {
	return &ir.WorkflowInstance{
		ID:        "id-1",
		Variables: ir.VariableMap{"amount": 250, "approved": true, "tags": []any{"a"}},
		ActivityInstances: []*ir.ActivityInstance{
			{ID: "1", ActivityID: "start", State: ir.StateEnded},
			{ID: "2", ActivityID: "sub", State: ir.StateWaiting, ActivityInstances: []*ir.ActivityInstance{
				{ID: "3", ActivityID: "inner", ParentID: "2", State: ir.StateWaiting},
			}},
		},
	}
}

func boolPtr(b bool) *bool { return &b }

func TestAssertTraceContains_Found(t *testing.T) {
	err := assertTraceContains(sampleTrace(), Assertion{Type: AssertTraceContains, Activity: "review"})
	assert.NoError(t, err)
}

func TestAssertTraceContains_Event(t *testing.T) {
	trace := sampleTrace()

	assert.NoError(t, assertTraceContains(trace, Assertion{Type: AssertTraceContains, Event: EventEnded, Activity: "review"}))
	assert.Error(t, assertTraceContains(trace, Assertion{Type: AssertTraceContains, Event: EventEnded, Activity: "end"}))
}

func TestAssertTraceContains_NotFound(t *testing.T) {
	err := assertTraceContains(sampleTrace(), Assertion{Type: AssertTraceContains, Activity: "approve"})
	require.Error(t, err)

	var assertErr *AssertionError
	require.True(t, errors.As(err, &assertErr))
	assert.Equal(t, "trace_contains", assertErr.Type)
	assert.Equal(t, "starting event for approve", assertErr.Expected)
	assert.Equal(t, "not found in trace", assertErr.Actual)
}

func TestAssertTraceOrder_Correct(t *testing.T) {
	err := assertTraceOrder(sampleTrace(), Assertion{Type: AssertTraceOrder, Activities: []string{"start", "review", "end"}})
	assert.NoError(t, err)
}

func TestAssertTraceOrder_InterveningActivitiesAllowed(t *testing.T) {
	err := assertTraceOrder(sampleTrace(), Assertion{Type: AssertTraceOrder, Activities: []string{"start", "end"}})
	assert.NoError(t, err)
}

func TestAssertTraceOrder_WrongOrder(t *testing.T) {
	err := assertTraceOrder(sampleTrace(), Assertion{Type: AssertTraceOrder, Activities: []string{"end", "review"}})
	require.Error(t, err)

	var assertErr *AssertionError
	require.True(t, errors.As(err, &assertErr))
	assert.Equal(t, "end (pos 7) should be before review (pos 4)", assertErr.Actual)
}

func TestAssertTraceOrder_MissingActivity(t *testing.T) {
	err := assertTraceOrder(sampleTrace(), Assertion{Type: AssertTraceOrder, Activities: []string{"start", "approve"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "never started: approve")
}

func TestAssertTraceCount(t *testing.T) {
	tests := []struct {
		activity string
		count    int
		wantErr  bool
	}{
		{"review", 2, false},
		{"start", 1, false},
		{"approve", 0, false},
		{"review", 1, true},
		{"review", 3, true},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("%s_%d", tt.activity, tt.count), func(t *testing.T) {
			err := assertTraceCount(sampleTrace(), Assertion{Type: AssertTraceCount, Activity: tt.activity, Count: tt.count})
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), fmt.Sprintf("%d starts of %s", tt.count, tt.activity))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestCheckState_Match(t *testing.T) {
	errs := checkState("final_state", sampleInstance(), boolPtr(false), []string{"sub", "inner"}, map[string]any{"amount": 250.0, "tags": []any{"a"}})
	assert.Empty(t, errs)
}

func TestCheckState_Mismatch(t *testing.T) {
	errs := checkState("final_state", sampleInstance(), boolPtr(true), []string{"inner"}, map[string]any{"amount": 100, "missing": 1})
	require.Len(t, errs, 4)
	assert.Contains(t, errs[0].Error(), "ended = true")
	assert.Contains(t, errs[1].Error(), "open activities [sub inner]")
	assert.Contains(t, errs[2].Error(), `variable "amount" = 250`)
	assert.Contains(t, errs[3].Error(), `variable "missing" not set`)
}

func TestCheckState_NoInstance(t *testing.T) {
	errs := checkState("step 0", nil, boolPtr(true), nil, nil)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "no instance")

	assert.Empty(t, checkState("step 0", nil, nil, nil, nil))
}

func TestCheckExpect(t *testing.T) {
	illegal := fmt.Errorf("send: %w", &engine.Error{Code: engine.CodeIllegalState, Message: "activity instance is ended"})

	assert.Empty(t, checkExpect(0, nil, sampleInstance(), nil))
	assert.Empty(t, checkExpect(0, &Expect{Error: "ILLEGAL_STATE"}, nil, illegal))

	msgs := checkExpect(1, nil, nil, illegal)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Assertion failed: step 1")
	assert.Contains(t, msgs[0], "Expected: success")

	msgs = checkExpect(2, &Expect{Error: "ACTIVITY_NOT_FOUND"}, nil, illegal)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "Actual: send: ILLEGAL_STATE")

	msgs = checkExpect(3, &Expect{Open: []string{}}, sampleInstance(), nil)
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "open activities []")
}

func TestValuesEqual(t *testing.T) {
	tests := []struct {
		name     string
		actual   any
		expected any
		want     bool
	}{
		{"both_nil", nil, nil, true},
		{"actual_nil", nil, "value", false},
		{"strings_equal", "hello", "hello", true},
		{"strings_different", "hello", "world", false},
		{"int_float", 42, 42.0, true},
		{"int64_int", int64(42), 42, true},
		{"ints_different", 42, 43, false},
		{"bools_equal", true, true, true},
		{"bool_string", true, "true", false},
		{"lists_equal", []any{1, "b"}, []any{1.0, "b"}, true},
		{"lists_different", []any{"a", "b"}, []any{"a", "c"}, false},
		{"variable_map", ir.VariableMap{"n": 1}, map[string]any{"n": 1.0}, true},
		{"maps_different", map[string]any{"k": "v1"}, map[string]any{"k": "v2"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, valuesEqual(tt.actual, tt.expected))
		})
	}
}

func TestEvaluateAssertions_AllPass(t *testing.T) {
	result := &Result{Trace: sampleTrace(), Instance: sampleInstance()}

	msgs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceContains, Activity: "review"},
		{Type: AssertTraceOrder, Activities: []string{"start", "review", "end"}},
		{Type: AssertTraceCount, Activity: "review", Count: 2},
		{Type: AssertFinalState, Open: []string{"sub", "inner"}, Variables: map[string]any{"approved": true}},
	})
	assert.Empty(t, msgs)
}

func TestEvaluateAssertions_SomeFail(t *testing.T) {
	result := &Result{Trace: sampleTrace(), Instance: sampleInstance()}

	msgs := EvaluateAssertions(result, []Assertion{
		{Type: AssertTraceContains, Activity: "review"},
		{Type: AssertTraceContains, Activity: "approve"},
		{Type: AssertTraceCount, Activity: "review", Count: 3},
		{Type: AssertFinalState, Ended: boolPtr(true)},
	})
	require.Len(t, msgs, 3)
	assert.Contains(t, msgs[0], "approve")
	assert.Contains(t, msgs[1], "3 starts of review")
	assert.Contains(t, msgs[2], "ended = true")
}

func TestEvaluateAssertions_UnknownType(t *testing.T) {
	msgs := EvaluateAssertions(&Result{}, []Assertion{{Type: "unknown_assertion_type"}})
	require.Len(t, msgs, 1)
	assert.Contains(t, msgs[0], "unknown assertion type")
}

func TestAssertionError_ErrorFormat(t *testing.T) {
	err := &AssertionError{
		Type:     "trace_contains",
		Expected: "starting event for approve",
		Actual:   "not found in trace",
		Trace:    sampleTrace(),
	}

	errorStr := err.Error()
	assert.Contains(t, errorStr, "Assertion failed: trace_contains")
	assert.Contains(t, errorStr, "Expected: starting event for approve")
	assert.Contains(t, errorStr, "Actual: not found in trace")
	assert.Contains(t, errorStr, "Started activities:")
	assert.Contains(t, errorStr, "[4] step 0: review (2)")
	assert.NotContains(t, errorStr, "[3]")
}
