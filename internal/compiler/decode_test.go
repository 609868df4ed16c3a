package compiler

import (
	"testing"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCUEKeyedActivities(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		workflow: {
			source_id: "approval"
			name:      "Approval"
			activities: {
				start: kind: "startEvent"
				review: {
					kind: "receiveTask"
					inputs: {doc: "document"}
				}
				check: kind: "exclusiveGateway"
				approved: kind: "endEvent"
				rejected: kind: "endEvent"
			}
			transitions: [
				{from: "start", to: "review"},
				{from: "review", to: "check"},
				{from: "check", to: "approved", condition: "ok == true"},
				{from: "check", to: "rejected", default: true},
			]
		}
	`)
	require.NoError(t, v.Err())

	src, err := DecodeCUE(v.LookupPath(cue.ParsePath("workflow")))
	require.NoError(t, err)

	assert.Equal(t, "approval", src.SourceID)
	assert.Equal(t, "Approval", src.Name)
	require.Len(t, src.Activities, 5)
	assert.Equal(t, "start", src.Activities[0].ID)
	assert.Equal(t, "review", src.Activities[1].ID)
	assert.Equal(t, map[string]string{"doc": "document"}, src.Activities[1].Inputs)
	require.Len(t, src.Transitions, 4)
	assert.Equal(t, "ok == true", src.Transitions[2].Condition)
	assert.True(t, src.Transitions[3].Default)

	w, issues := Compile(src, testKinds)
	require.Empty(t, issues)
	assert.NotNil(t, w.FindActivity("rejected"))
}

func TestDecodeCUEListActivitiesAndNesting(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`
		source_id: "batch"
		activities: [
			{id: "start", kind: "startEvent"},
			{
				id: "each"
				kind: "subProcess"
				multi_instance: {collection: "items", element: "item"}
				activities: [{id: "work", kind: "noneTask"}]
			},
		]
		transitions: [{from: "start", to: "each"}]
	`)
	require.NoError(t, v.Err())

	src, err := DecodeCUE(v)
	require.NoError(t, err)

	require.Len(t, src.Activities, 2)
	each := src.Activities[1]
	require.NotNil(t, each.MultiInstance)
	assert.Equal(t, "items", each.MultiInstance.Collection)
	require.Len(t, each.Activities, 1)
	assert.Equal(t, "work", each.Activities[0].ID)
}

func TestDecodeCUEMissingKind(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`activities: { start: { name: "Start" } }`)
	require.NoError(t, v.Err())

	_, err := DecodeCUE(v)
	require.Error(t, err)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "activities.start.kind", ce.Field)
}

func TestDecodeCUEBadSourceID(t *testing.T) {
	ctx := cuecontext.New()
	v := ctx.CompileString(`source_id: 42`)
	require.NoError(t, v.Err())

	_, err := DecodeCUE(v)
	assert.Error(t, err)
}

func TestDecodeYAML(t *testing.T) {
	data := []byte(`
source_id: greeting
activities:
  - id: start
    kind: startEvent
  - id: greet
    kind: receiveTask
    config:
      prompt: hello
  - id: end
    kind: endEvent
transitions:
  - from: start
    to: greet
  - from: greet
    to: end
`)

	src, err := DecodeYAML(data)
	require.NoError(t, err)
	assert.Equal(t, "greeting", src.SourceID)
	require.Len(t, src.Activities, 3)
	assert.Equal(t, "hello", src.Activities[1].Config["prompt"])
	assert.Equal(t, "end", src.Transitions[1].To)
}

func TestDecodeYAMLAcceptsJSON(t *testing.T) {
	src, err := DecodeYAML([]byte(`{"source_id":"x","activities":[{"id":"a","kind":"noneTask"}]}`))
	require.NoError(t, err)
	assert.Equal(t, "a", src.Activities[0].ID)
}

func TestDecodeYAMLInvalid(t *testing.T) {
	_, err := DecodeYAML([]byte("activities: [oops"))
	assert.Error(t, err)
}
