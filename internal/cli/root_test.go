package cli

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// runCLI executes the CLI and returns stdout, stderr and the exit code.
func runCLI(t *testing.T, args ...string) (string, string, int) {
	t.Helper()
	stdout := &bytes.Buffer{}
	stderr := &bytes.Buffer{}
	code := Execute(args, stdout, stderr)
	return stdout.String(), stderr.String(), code
}

// response is CLIResponse with the payload left undecoded.
type response struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
	Error  *CLIError       `json:"error"`
}

// runJSON executes the CLI with --format json and decodes the response
// payload into data when it is non-nil.
func runJSON(t *testing.T, data any, args ...string) (response, int) {
	t.Helper()
	stdout, stderr, code := runCLI(t, append([]string{"--format", "json"}, args...)...)

	var resp response
	require.NoError(t, json.Unmarshal([]byte(stdout), &resp), "stdout: %s\nstderr: %s", stdout, stderr)
	if data != nil && resp.Data != nil {
		require.NoError(t, json.Unmarshal(resp.Data, data))
	}
	return resp, code
}

func tempDB(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "weave.db")
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "weave", cmd.Use)
	assert.Contains(t, cmd.Long, "workflow definitions")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := [][]string{
		{"validate"}, {"deploy"}, {"start"}, {"send"}, {"cancel"}, {"move"},
		{"vars", "get"}, {"vars", "set"}, {"instances"}, {"workflows"}, {"test"}, {"version"},
	}

	for _, path := range commands {
		t.Run(path[len(path)-1], func(t *testing.T) {
			subCmd, _, err := cmd.Find(path)
			require.NoError(t, err, "Command %v should exist", path)
			require.NotNil(t, subCmd)
			assert.Equal(t, path[len(path)-1], subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	for _, name := range []string{"config", "db", "events"} {
		assert.NotNil(t, cmd.PersistentFlags().Lookup(name), name)
	}
}

func TestStartCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	startCmd, _, err := cmd.Find([]string{"start"})
	require.NoError(t, err)

	for _, name := range []string{"workflow", "source", "id", "data", "activity"} {
		assert.NotNil(t, startCmd.Flags().Lookup(name), name)
	}
}

func TestTestCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	testCmd, _, err := cmd.Find([]string{"test"})
	require.NoError(t, err)

	updateFlag := testCmd.Flags().Lookup("update")
	require.NotNil(t, updateFlag)
	assert.Equal(t, "false", updateFlag.DefValue)

	assert.NotNil(t, testCmd.Flags().Lookup("filter"))
	assert.NotNil(t, testCmd.Flags().Lookup("golden"))
}

func TestFormatValidation(t *testing.T) {
	assert.True(t, isValidFormat("text"))
	assert.True(t, isValidFormat("json"))

	assert.False(t, isValidFormat("xml"))
	assert.False(t, isValidFormat(""))
	assert.False(t, isValidFormat("TEXT"))
}

func TestFormatValidationIntegration(t *testing.T) {
	_, stderr, code := runCLI(t, "--format", "invalid", "version")

	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "invalid format")
}

func TestExecute_UsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"launch"}, "unknown command"},
		{"missing argument", []string{"cancel"}, "accepts 1 arg"},
		{"start needs a definition", []string{"start"}, "workflow"},
		{"start takes one definition", []string{"start", "--workflow", "a", "--source", "b"}, "none of the others"},
		{"vars set needs data", []string{"vars", "set", "id-1"}, `"data" not set`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout, stderr, code := runCLI(t, tt.args...)
			assert.Equal(t, ExitCommandError, code)
			assert.Empty(t, stdout)
			assert.Contains(t, stderr, tt.want)
		})
	}
}

func TestVersion(t *testing.T) {
	stdout, _, code := runCLI(t, "version")
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "weave 0.1.0 (format 1)")

	var info VersionInfo
	resp, code := runJSON(t, &info, "version")
	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "0.1.0", info.Version)
}
