package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	c := Default()

	assert.Equal(t, 10000, c.Engine.MaxSteps)
	assert.Equal(t, 4, c.Engine.AsyncWorkers)
	assert.Equal(t, DriverMemory, c.Storage.Driver)
	assert.Equal(t, 10, c.Lock.MaxAttempts)
	assert.Equal(t, 10*time.Millisecond, c.Lock.InitialBackoff)
	assert.Equal(t, 500*time.Millisecond, c.Lock.MaxBackoff)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, "text", c.Log.Format)
	assert.Empty(t, c.Validate())
}

func TestParse(t *testing.T) {
	c, err := Parse([]byte(`
engine:
  id: worker-1
  max_steps: 50
storage:
  driver: sqlite
  path: /tmp/weave.db
lock:
  max_attempts: 3
  initial_backoff: 5ms
  max_backoff: 1s
log:
  level: debug
  format: json
`))
	require.NoError(t, err)

	assert.Equal(t, "worker-1", c.Engine.ID)
	assert.Equal(t, 50, c.Engine.MaxSteps)
	assert.Equal(t, 4, c.Engine.AsyncWorkers, "unset keys get defaults")
	assert.Equal(t, DriverSQLite, c.Storage.Driver)
	assert.Equal(t, "/tmp/weave.db", c.Storage.Path)
	assert.Equal(t, 3, c.Lock.MaxAttempts)
	assert.Equal(t, 5*time.Millisecond, c.Lock.InitialBackoff)
	assert.Equal(t, time.Second, c.Lock.MaxBackoff)

	level, err := c.Log.SlogLevel()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, level)
}

func TestParseEmpty(t *testing.T) {
	c, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), c)
}

func TestParseUnknownKey(t *testing.T) {
	_, err := Parse([]byte("engine:\n  max_stepz: 3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max_stepz")
}

func TestParseInvalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"sqlite without path", "storage:\n  driver: sqlite\n", "storage.path"},
		{"unknown driver", "storage:\n  driver: mongo\n", "storage.driver"},
		{"bad level", "log:\n  level: loud\n", "log.level"},
		{"bad format", "log:\n  format: xml\n", "log.format"},
		{"backoff order", "lock:\n  initial_backoff: 2s\n  max_backoff: 1s\n", "lock.max_backoff"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weave.yaml")
	require.NoError(t, os.WriteFile(path, []byte("engine:\n  async_workers: 2\n"), 0o600))

	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, c.Engine.AsyncWorkers)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
