package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeScenario writes a scenario and an empty-but-present definition next
// to it.
func writeScenario(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "flow.yaml"), []byte("source_id: x\n"), 0o644))
	path := filepath.Join(dir, "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: test_scenario
description: "Test scenario for validation"
definition: flow.yaml
steps:
  - start:
      data: {amount: 3}
    expect:
      open: [review]
  - send:
      activity: review
      data: {ok: true}
  - cancel: {}
    expect:
      error: ILLEGAL_STATE
assertions:
  - type: trace_contains
    activity: review
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, filepath.Join(filepath.Dir(path), "flow.yaml"), scenario.Definition)
	require.Len(t, scenario.Steps, 3)
	assert.Equal(t, "start", scenario.Steps[0].op())
	assert.Equal(t, 3, scenario.Steps[0].Start.Data["amount"])
	assert.Equal(t, []string{"review"}, scenario.Steps[0].Expect.Open)
	assert.Equal(t, "review", scenario.Steps[1].Send.Activity)
	assert.Equal(t, "cancel", scenario.Steps[2].op())
	assert.Equal(t, "ILLEGAL_STATE", scenario.Steps[2].Expect.Error)
	assert.Len(t, scenario.Assertions, 1)
}

func TestLoadScenario_EmptyOpenMeansNothingOpen(t *testing.T) {
	path := writeScenario(t, `
name: s
definition: flow.yaml
steps:
  - start: {}
    expect:
      open: []
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)
	assert.NotNil(t, scenario.Steps[0].Expect.Open)
	assert.Empty(t, scenario.Steps[0].Expect.Open)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, `
name: s
definition: flow.yaml
stepz: []
`)

	_, err := LoadScenario(path)
	assert.ErrorContains(t, err, "failed to parse YAML")
}

func TestLoadScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{
			name:    "missing name",
			content: "definition: flow.yaml\nsteps: [{start: {}}]\n",
			want:    "name is required",
		},
		{
			name:    "missing definition",
			content: "name: s\nsteps: [{start: {}}]\n",
			want:    "definition is required",
		},
		{
			name:    "definition not found",
			content: "name: s\ndefinition: other.yaml\nsteps: [{start: {}}]\n",
			want:    "definition file not found",
		},
		{
			name:    "no steps",
			content: "name: s\ndefinition: flow.yaml\n",
			want:    "steps list is required",
		},
		{
			name:    "first step not a start",
			content: "name: s\ndefinition: flow.yaml\nsteps: [{cancel: {}}]\n",
			want:    "the first step must be a start",
		},
		{
			name:    "two operations in one step",
			content: "name: s\ndefinition: flow.yaml\nsteps: [{start: {}, cancel: {}}]\n",
			want:    "exactly one of",
		},
		{
			name:    "second start",
			content: "name: s\ndefinition: flow.yaml\nsteps: [{start: {}}, {start: {}}]\n",
			want:    "starts its instance once",
		},
		{
			name:    "send without activity",
			content: "name: s\ndefinition: flow.yaml\nsteps: [{start: {}}, {send: {}}]\n",
			want:    "steps[1].send: activity is required",
		},
		{
			name:    "move without target",
			content: "name: s\ndefinition: flow.yaml\nsteps: [{start: {}}, {move: {from: a}}]\n",
			want:    "steps[1].move: to is required",
		},
		{
			name:    "set without data",
			content: "name: s\ndefinition: flow.yaml\nsteps: [{start: {}}, {set: {scope: a}}]\n",
			want:    "steps[1].set: data is required",
		},
		{
			name:    "unknown assertion",
			content: "name: s\ndefinition: flow.yaml\nsteps: [{start: {}}]\nassertions: [{type: vibes}]\n",
			want:    `unknown assertion type "vibes"`,
		},
		{
			name:    "trace_order without activities",
			content: "name: s\ndefinition: flow.yaml\nsteps: [{start: {}}]\nassertions: [{type: trace_order}]\n",
			want:    "activities list is required",
		},
		{
			name:    "empty final_state",
			content: "name: s\ndefinition: flow.yaml\nsteps: [{start: {}}]\nassertions: [{type: final_state}]\n",
			want:    "final_state needs",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadScenario(writeScenario(t, tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseScenario_AbsoluteDefinitionKept(t *testing.T) {
	def := filepath.Join(t.TempDir(), "flow.yaml")
	require.NoError(t, os.WriteFile(def, []byte("source_id: x\n"), 0o644))

	scenario, err := ParseScenario([]byte("name: s\ndefinition: "+def+"\nsteps: [{start: {}}]\n"), "/elsewhere")
	require.NoError(t, err)
	assert.Equal(t, def, scenario.Definition)
}
