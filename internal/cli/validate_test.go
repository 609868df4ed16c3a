package cli

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weave/internal/compiler"
)

func TestValidate_ValidDefinition(t *testing.T) {
	stdout, _, code := runCLI(t, "validate", "testdata/greeting.yaml")

	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "✓ testdata/greeting.yaml is valid (hash ")
}

func TestValidate_WarningsDoNotFail(t *testing.T) {
	stdout, _, code := runCLI(t, "validate", "testdata/loop.cue")

	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "is valid")
	assert.Contains(t, stdout, compiler.CodeLoop+" warning")
}

func TestValidate_JSON(t *testing.T) {
	var result ValidationResult
	resp, code := runJSON(t, &result, "validate", "testdata/loop.cue")

	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "ok", resp.Status)
	assert.True(t, result.Valid)
	assert.Equal(t, "loop", result.SourceID)
	assert.Len(t, result.Hash, 64)
	require.NotEmpty(t, result.Issues)
	assert.Equal(t, compiler.CodeLoop, result.Issues[0].Code)
}

func TestValidate_UnknownKind(t *testing.T) {
	stdout, _, code := runCLI(t, "validate", "testdata/unknown_kind.yaml")

	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "✗ testdata/unknown_kind.yaml is invalid")
	assert.Contains(t, stdout, compiler.CodeUnknownActivityKind+" error")
	assert.Contains(t, stdout, "sendMail")
}

func TestValidate_UnknownKindJSON(t *testing.T) {
	var result ValidationResult
	resp, code := runJSON(t, &result, "validate", "testdata/unknown_kind.yaml")

	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, "error", resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, compiler.CodeUnknownActivityKind, resp.Error.Code)
	assert.False(t, result.Valid)
	assert.Empty(t, result.Hash)
}

func TestValidate_SyntaxError(t *testing.T) {
	resp, code := runJSON(t, nil, "validate", "testdata/syntax_error.cue")

	assert.Equal(t, ExitFailure, code)
	require.NotNil(t, resp.Error)
	assert.Equal(t, ErrCodeLoad, resp.Error.Code)
}

func TestValidate_MissingFile(t *testing.T) {
	stdout, _, code := runCLI(t, "validate", "testdata/nope.yaml")

	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stdout, "Error [E_LOAD]")
}
