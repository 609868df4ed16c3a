package harness

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/weave/internal/ir"
)

func TestRunWithGolden_Greeting(t *testing.T) {
	err := RunWithGolden(t, loadTestScenario(t, "greeting"))
	require.NoError(t, err)
}

func TestRunWithGolden_Parallel(t *testing.T) {
	err := RunWithGolden(t, loadTestScenario(t, "parallel"))
	require.NoError(t, err)
}

func TestAssertGolden_FromResult(t *testing.T) {
	scenario := loadTestScenario(t, "greeting")
	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	err = AssertGolden(t, "greeting", result)
	require.NoError(t, err)
}

func TestCanonicalJSONDeterminism(t *testing.T) {
	snapshot := TraceSnapshot{
		ScenarioName: "determinism_test",
		Trace: []TraceEvent{
			{Seq: 1, Event: EventInstanceStarted},
			{Seq: 2, Event: EventStarting, Activity: "start", ActivityInstance: "1", State: "starting"},
		},
	}

	canonicalMap := snapshot.toCanonicalMap()
	json1, err := ir.MarshalCanonical(canonicalMap)
	require.NoError(t, err)

	json2, err := ir.MarshalCanonical(canonicalMap)
	require.NoError(t, err)

	require.Equal(t, json1, json2, "canonical JSON must be deterministic")
}

func TestTraceSnapshotJSON(t *testing.T) {
	snapshot := TraceSnapshot{
		ScenarioName: "test_scenario",
		Trace: []TraceEvent{
			{Seq: 1, Step: 0, Event: EventInstanceStarted},
			{Seq: 2, Step: 1, Event: EventTransition, Activity: "b", ActivityInstance: "3", Transition: "a->b"},
		},
	}

	jsonBytes, err := snapshot.Marshal()
	require.NoError(t, err)

	require.Equal(t,
		`{"scenario_name":"test_scenario","trace":[{"event":"instance_started","seq":1,"step":0},`+
			`{"activity":"b","activity_instance":"3","event":"transition","seq":2,"step":1,"transition":"a->b"}]}`,
		string(jsonBytes))
}
