package harness

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weave/internal/engine"
	"github.com/roach88/weave/internal/ir"
)

func loadTestScenario(t *testing.T, name string) *Scenario {
	t.Helper()
	scenario, err := LoadScenario(filepath.Join("testdata", "scenarios", name+".yaml"))
	require.NoError(t, err)
	return scenario
}

func TestRun_Scenarios(t *testing.T) {
	for _, name := range []string{"greeting", "parallel", "approval_review", "approval_auto", "reviewers", "move_and_cancel"} {
		t.Run(name, func(t *testing.T) {
			result, err := Run(loadTestScenario(t, name))
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			require.NotNil(t, result.Instance)
			assert.True(t, result.Instance.IsEnded())
		})
	}
}

func TestRun_TraceStepsAndSequence(t *testing.T) {
	result, err := Run(loadTestScenario(t, "greeting"))
	require.NoError(t, err)

	require.Len(t, result.Trace, 10)
	for i, ev := range result.Trace {
		assert.Equal(t, int64(i+1), ev.Seq)
	}
	assert.Equal(t, EventInstanceStarted, result.Trace[0].Event)
	assert.Equal(t, 0, result.Trace[4].Step)
	assert.Equal(t, 1, result.Trace[5].Step)
	assert.Equal(t, EventInstanceEnded, result.Trace[9].Event)
}

func TestRun_Deterministic(t *testing.T) {
	first, err := Run(loadTestScenario(t, "reviewers"))
	require.NoError(t, err)
	second, err := Run(loadTestScenario(t, "reviewers"))
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.Instance, second.Instance)
}

func TestRun_FailedExpectations(t *testing.T) {
	scenario := loadTestScenario(t, "greeting")
	scenario.Steps[0].Expect.Open = []string{"end"}
	ended := false
	scenario.Steps[1].Expect.Ended = &ended

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 2)
	assert.Contains(t, result.Errors[0], "step 0")
	assert.Contains(t, result.Errors[0], "open activities [greet]")
	assert.Contains(t, result.Errors[1], "ended = false")
}

func TestRun_UnexpectedErrorStopsTheRun(t *testing.T) {
	scenario := loadTestScenario(t, "approval_review")
	scenario.Steps[2].Expect = nil
	scenario.Steps = append(scenario.Steps, Step{Cancel: &CancelStep{}})

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0], "ILLEGAL_STATE")
}

func TestRun_ExpectedErrorThatDoesNotHappen(t *testing.T) {
	scenario := loadTestScenario(t, "approval_auto")
	scenario.Steps[0].Expect = &Expect{Error: "BEHAVIOR_ERROR"}

	result, err := Run(scenario)
	require.NoError(t, err)

	assert.False(t, result.Pass)
	assert.Contains(t, result.Errors[0], "Expected: error BEHAVIOR_ERROR")
}

func TestRun_RejectedDefinition(t *testing.T) {
	scenario := loadTestScenario(t, "greeting")
	registry := engine.NewRegistry()

	_, err := Run(scenario, WithRegistry(registry))

	require.Error(t, err)
	assert.Equal(t, engine.CodeDeploymentRejected, engine.CodeOf(err))
}

func TestRun_CustomServiceTask(t *testing.T) {
	registry := engine.DefaultRegistry()
	registry.Register("receiveTask", engine.ServiceTask(func(_ context.Context, vars map[string]any) (ir.VariableMap, error) {
		return ir.VariableMap{"reply": "auto " + vars["name"].(string)}, nil
	}))
	scenario := loadTestScenario(t, "greeting")
	scenario.Steps = scenario.Steps[:1]
	scenario.Steps[0].Expect = nil
	scenario.Assertions = []Assertion{{Type: AssertFinalState, Variables: map[string]any{"reply": "auto ann"}}}

	result, err := Run(scenario, WithRegistry(registry))
	require.NoError(t, err)

	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.True(t, result.Instance.IsEnded(), "the async result ended the instance before the final state was read")
}

func TestRun_ServiceTaskFailureLeavesInstanceOpen(t *testing.T) {
	registry := engine.DefaultRegistry()
	registry.Register("receiveTask", engine.ServiceTask(func(context.Context, map[string]any) (ir.VariableMap, error) {
		return nil, errors.New("unavailable")
	}))
	scenario := loadTestScenario(t, "greeting")
	scenario.Steps = scenario.Steps[:1]
	open := false
	scenario.Assertions = []Assertion{{Type: AssertFinalState, Ended: &open, Open: []string{"greet"}}}

	result, err := Run(scenario, WithRegistry(registry))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}
