package ir

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleSource() *WorkflowSource {
	return &WorkflowSource{
		SourceID: "greeting",
		Activities: []ActivitySource{
			{ID: "start", Kind: "startEvent"},
			{ID: "greet", Kind: "receiveTask"},
			{ID: "end", Kind: "endEvent"},
		},
		Transitions: []TransitionSource{
			{From: "start", To: "greet"},
			{From: "greet", To: "end"},
		},
	}
}

func TestWorkflowHashStable(t *testing.T) {
	h1, err := WorkflowHash(sampleSource())
	require.NoError(t, err)
	h2, err := WorkflowHash(sampleSource())
	require.NoError(t, err)

	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestWorkflowHashIgnoresDeploymentMetadata(t *testing.T) {
	a := sampleSource()
	b := sampleSource()
	b.ID = "wf-2"
	b.CreateTime = time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	b.CreatorID = "alice"

	assert.Equal(t, MustWorkflowHash(a), MustWorkflowHash(b))
}

func TestWorkflowHashDetectsContentChange(t *testing.T) {
	a := sampleSource()
	b := sampleSource()
	b.Transitions[1].Condition = "done == true"

	assert.NotEqual(t, MustWorkflowHash(a), MustWorkflowHash(b))
}

func TestWorkflowHashDoesNotMutateSource(t *testing.T) {
	src := sampleSource()
	src.ID = "wf-1"
	_ = MustWorkflowHash(src)
	assert.Equal(t, "wf-1", src.ID)
}

func TestTraceHashDomainSeparated(t *testing.T) {
	v := map[string]any{"a": 1}
	h, err := TraceHash(v)
	require.NoError(t, err)

	canonical, err := MarshalCanonical(v)
	require.NoError(t, err)
	assert.NotEqual(t, hashWithDomain(DomainWorkflow, canonical), h)
	assert.Equal(t, hashWithDomain(DomainTrace, canonical), h)
}
