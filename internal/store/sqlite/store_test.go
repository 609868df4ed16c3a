package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/weave/internal/ir"
	"github.com/roach88/weave/internal/store"
	"github.com/roach88/weave/internal/store/storetest"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "weave.db"))
	require.NoError(t, err)
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		return openTestStore(t)
	})
}

func TestOpenAppliesPragmas(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	assert.NoError(t, s.verifyPragma("journal_mode", "wal"))
	assert.NoError(t, s.verifyPragma("synchronous", "1"))
	assert.NoError(t, s.verifyPragma("busy_timeout", "5000"))
	assert.NoError(t, s.verifyPragma("foreign_keys", "1"))
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "weave.db")

	s1, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s1.InsertWorkflow(context.Background(), storetest.Workflow("wf-1", "greeting")))
	require.NoError(t, s1.Close())

	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	v, err := s2.schemaVersion()
	require.NoError(t, err)
	assert.Equal(t, currentSchemaVersion, v)

	w, err := s2.LoadWorkflowByID(context.Background(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "greeting", w.SourceID)
}

func TestMigrationCreatesIndex(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()

	var n int
	err := s.DB().Get(&n, `SELECT COUNT(*) FROM sqlite_master WHERE type = 'index' AND name = 'idx_instances_workflow'`)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestWorkflowHashStored(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()
	ctx := context.Background()

	w := storetest.Workflow("wf-1", "greeting")
	require.NoError(t, s.InsertWorkflow(ctx, w))

	hash, err := s.WorkflowHash(ctx, "wf-1")
	require.NoError(t, err)
	assert.Equal(t, ir.MustWorkflowHash(w), hash)

	_, err = s.WorkflowHash(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestLockLivesInColumns(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()
	ctx := context.Background()

	wi := storetest.Instance("wi-1", "wf-1")
	wi.Lock = &ir.Lock{Owner: "engine-a"}
	require.NoError(t, s.InsertInstance(ctx, wi))

	var body string
	require.NoError(t, s.DB().Get(&body, `SELECT body FROM workflow_instances WHERE id = ?`, "wi-1"))
	assert.NotContains(t, body, "engine-a")

	got, err := s.GetInstance(ctx, "wi-1")
	require.NoError(t, err)
	require.NotNil(t, got.Lock)
	assert.Equal(t, "engine-a", got.Lock.Owner)
}

func TestNumbersDecodeAsFloat(t *testing.T) {
	s := openTestStore(t)
	defer s.Close()
	ctx := context.Background()

	wi := storetest.Instance("wi-1", "wf-1")
	wi.Variables["x"] = 1
	require.NoError(t, s.InsertInstance(ctx, wi))

	got, err := s.GetInstance(ctx, "wi-1")
	require.NoError(t, err)
	assert.Equal(t, float64(1), got.Variables["x"])
}
