package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	harnessScenarios = "../harness/testdata/scenarios"
	harnessGolden    = "../harness/testdata/golden"
)

// writeGreetingScenario writes a scenario for testdata/greeting.yaml into
// dir. When reply is empty the scenario expects the wrong open activity.
func writeGreetingScenario(t *testing.T, dir, name, reply string) {
	t.Helper()
	def, err := filepath.Abs("testdata/greeting.yaml")
	require.NoError(t, err)

	open := "[greet]"
	if reply == "" {
		open = "[end]"
	}
	content := "name: " + name + "\n" +
		"definition: " + def + "\n" +
		"steps:\n" +
		"  - start: {data: {name: ann}}\n" +
		"    expect: {open: " + open + "}\n" +
		"  - send: {activity: greet, data: {reply: " + reply + "x}}\n" +
		"    expect: {ended: true}\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, name+".yaml"), []byte(content), 0o644))
}

func TestTestCommandMissingArgs(t *testing.T) {
	_, stderr, code := runCLI(t, "test")

	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "accepts 1 arg")
}

func TestTestCommandNonExistentScenariosDir(t *testing.T) {
	stdout, _, code := runCLI(t, "test", "/nonexistent/scenarios")

	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stdout, "scenarios directory not found")
}

func TestTestCommandEmptyScenariosDir(t *testing.T) {
	stdout, _, code := runCLI(t, "test", t.TempDir())

	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "No scenarios found")
}

func TestTestCommandEmptyScenariosDirJSON(t *testing.T) {
	var result TestResult
	resp, code := runJSON(t, &result, "test", t.TempDir())

	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 0, result.Total)
}

func TestTestCommandHarnessScenarios(t *testing.T) {
	stdout, _, code := runCLI(t, "test", harnessScenarios, "--golden", harnessGolden)

	assert.Equal(t, ExitSuccess, code, stdout)
	assert.Contains(t, stdout, "✓ greeting (golden match)")
	assert.Contains(t, stdout, "✓ parallel (golden match)")
	assert.Contains(t, stdout, "✓ reviewers\n")
	assert.Contains(t, stdout, "Test Summary: 6 passed, 0 failed, 6 total")
}

func TestTestCommandFilterJSON(t *testing.T) {
	var result TestResult
	resp, code := runJSON(t, &result, "test", harnessScenarios, "--golden", harnessGolden, "--filter", "approval_*")

	assert.Equal(t, ExitSuccess, code)
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 2, result.Passed)
	for _, s := range result.Scenarios {
		assert.True(t, strings.HasPrefix(s.Name, "approval_"), s.Name)
	}
}

func TestTestCommandFailures(t *testing.T) {
	dir := t.TempDir()
	writeGreetingScenario(t, dir, "good", "hi")
	writeGreetingScenario(t, dir, "bad", "")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.yaml"), []byte("name: broken\n"), 0o644))

	stdout, _, code := runCLI(t, "test", dir)

	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "✓ good")
	assert.Contains(t, stdout, "✗ bad")
	assert.Contains(t, stdout, "Expected: open activities [end]")
	assert.Contains(t, stdout, "✗ broken.yaml")
	assert.Contains(t, stdout, "failed to load scenario")
	assert.Contains(t, stdout, "Test Summary: 1 passed, 2 failed, 3 total")
}

func TestTestCommandFailuresJSON(t *testing.T) {
	dir := t.TempDir()
	writeGreetingScenario(t, dir, "bad", "")

	var result TestResult
	resp, code := runJSON(t, &result, "test", dir)

	assert.Equal(t, ExitFailure, code)
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, ErrCodeTestFailed, resp.Error.Code)
	require.Len(t, result.Scenarios, 1)
	assert.False(t, result.Scenarios[0].Pass)
	assert.NotEmpty(t, result.Scenarios[0].Errors)
}

func TestTestCommandGoldenUpdateAndMismatch(t *testing.T) {
	dir := t.TempDir()
	writeGreetingScenario(t, dir, "hello", "hi")

	stdout, _, code := runCLI(t, "test", dir, "--update")
	require.Equal(t, ExitSuccess, code, stdout)
	assert.Contains(t, stdout, "✓ hello (golden updated)")

	golden, err := os.ReadFile(filepath.Join(dir, "golden", "hello.golden"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(golden, []byte(`{"scenario_name":"hello","trace":[`)))

	stdout, _, code = runCLI(t, "test", dir)
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "✓ hello (golden match)")

	require.NoError(t, os.WriteFile(filepath.Join(dir, "golden", "hello.golden"), []byte(`{}`), 0o644))
	stdout, _, code = runCLI(t, "test", dir)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stdout, "trace does not match golden file")
}

func TestTestHelpText(t *testing.T) {
	stdout, _, code := runCLI(t, "test", "--help")

	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout, "in-memory engine")
	assert.Contains(t, stdout, "--update")
	assert.Contains(t, stdout, "--filter")
	assert.Contains(t, stdout, "scenarios-dir")
}

func TestFindScenarioFiles(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test1.yaml"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "test2.yml"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "ignore.txt"), []byte(""), 0o644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}

func TestFindScenarioFilesWithFilter(t *testing.T) {
	tmpDir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "order-approve.yaml"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "order-reject.yaml"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "invoice.yaml"), []byte(""), 0o644))

	files, err := findScenarioFiles(tmpDir, "order-*")
	require.NoError(t, err)
	assert.Len(t, files, 2)
	for _, f := range files {
		assert.True(t, strings.HasPrefix(filepath.Base(f), "order-"), f)
	}

	_, err = findScenarioFiles(tmpDir, "[")
	assert.ErrorContains(t, err, "invalid filter pattern")
}

func TestFindScenarioFilesSubdirectories(t *testing.T) {
	tmpDir := t.TempDir()
	subDir := filepath.Join(tmpDir, "subdir")
	require.NoError(t, os.MkdirAll(subDir, 0o755))

	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, "root.yaml"), []byte(""), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(subDir, "sub.yaml"), []byte(""), 0o644))

	files, err := findScenarioFiles(tmpDir, "")
	require.NoError(t, err)
	assert.Len(t, files, 2)
}
