package compiler

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadFileCUE(t *testing.T) {
	path := writeFile(t, "greeting.cue", `
workflow: {
	source_id: "greeting"
	activities: {
		start: kind: "startEvent"
		greet: kind: "receiveTask"
	}
	transitions: [{from: "start", to: "greet"}]
}
`)

	src, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "greeting", src.SourceID)
	require.Len(t, src.Activities, 2)
	assert.Equal(t, "start", src.Activities[0].ID)
	assert.Equal(t, "greet", src.Activities[1].ID)
}

func TestLoadFileCUEWithoutWorkflow(t *testing.T) {
	path := writeFile(t, "empty.cue", `other: 1`)

	_, err := LoadFile(path)

	var ce *CompileError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "workflow", ce.Field)
}

func TestLoadFileYAMLAndJSON(t *testing.T) {
	yamlPath := writeFile(t, "g.yaml", `
source_id: greeting
activities:
  - {id: start, kind: startEvent}
`)
	jsonPath := writeFile(t, "g.json", `{"source_id": "greeting", "activities": [{"id": "start", "kind": "startEvent"}]}`)

	for _, path := range []string{yamlPath, jsonPath} {
		src, err := LoadFile(path)
		require.NoError(t, err, path)
		assert.Equal(t, "greeting", src.SourceID)
		assert.Len(t, src.Activities, 1)
	}
}

func TestLoadFileErrors(t *testing.T) {
	_, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)

	_, err = LoadFile(writeFile(t, "g.xml", "<bpmn/>"))
	assert.ErrorContains(t, err, "unsupported definition format")
}
