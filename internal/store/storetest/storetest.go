// Package storetest is a conformance suite every store.Store backend runs.
package storetest

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/weave/internal/ir"
	"github.com/roach88/weave/internal/store"
)

// Factory returns a fresh, empty backend for one subtest.
type Factory func(t *testing.T) store.Store

// Run executes the conformance suite against the backend.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s store.Store)
	}{
		{"WorkflowRoundTrip", testWorkflowRoundTrip},
		{"WorkflowNotFound", testWorkflowNotFound},
		{"LatestBySource", testLatestBySource},
		{"FindAndDeleteWorkflows", testFindAndDeleteWorkflows},
		{"InstanceRoundTrip", testInstanceRoundTrip},
		{"InsertDuplicate", testInsertDuplicate},
		{"LockExclusive", testLockExclusive},
		{"LockNotFound", testLockNotFound},
		{"ConcurrentLock", testConcurrentLock},
		{"FlushKeepsLock", testFlushKeepsLock},
		{"FlushAndUnlock", testFlushAndUnlock},
		{"UnlockDiscardsChanges", testUnlockDiscardsChanges},
		{"FlushRequiresOwner", testFlushRequiresOwner},
		{"FindAndDeleteInstances", testFindAndDeleteInstances},
		{"SnapshotIsolation", testSnapshotIsolation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// Workflow returns a small definition for the given id and source.
func Workflow(id, sourceID string) *ir.WorkflowSource {
	return &ir.WorkflowSource{
		ID:         id,
		SourceID:   sourceID,
		Name:       "Greeting",
		CreateTime: base,
		Activities: []ir.ActivitySource{
			{ID: "start", Kind: "startEvent"},
			{ID: "greet", Kind: "receiveTask", Config: map[string]any{"prompt": "hi"}},
			{ID: "end", Kind: "endEvent"},
		},
		Transitions: []ir.TransitionSource{
			{From: "start", To: "greet"},
			{From: "greet", To: "end"},
		},
	}
}

// Instance returns a waiting instance with one open activity instance.
func Instance(id, workflowID string) *ir.WorkflowInstance {
	end := base.Add(time.Second)
	return &ir.WorkflowInstance{
		ID:         id,
		WorkflowID: workflowID,
		Variables:  ir.VariableMap{"name": "ada"},
		Start:      base,
		ActivityInstances: []*ir.ActivityInstance{
			{ID: "1", ActivityID: "start", State: ir.StateEnded, Start: base, End: &end},
			{ID: "2", ActivityID: "greet", State: ir.StateWaiting, Start: end},
		},
		NextActivityInstanceID: 2,
	}
}

func testWorkflowRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	w := Workflow(s.GenerateWorkflowID(), "greeting")
	require.NotEmpty(t, w.ID)
	require.NoError(t, s.InsertWorkflow(ctx, w))

	got, err := s.LoadWorkflowByID(ctx, w.ID)
	require.NoError(t, err)
	assert.Equal(t, w.ID, got.ID)
	assert.Equal(t, "greeting", got.SourceID)
	assert.True(t, base.Equal(got.CreateTime))
	assert.Equal(t, w.Activities[1].ID, got.Activities[1].ID)
	assert.Equal(t, "hi", got.Activities[1].Config["prompt"])
	assert.Equal(t, w.Transitions, got.Transitions)
}

func testWorkflowNotFound(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.LoadWorkflowByID(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, err = s.FindLatestWorkflowIDBySource(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testLatestBySource(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertWorkflow(ctx, Workflow("wf-b", "greeting")))
	require.NoError(t, s.InsertWorkflow(ctx, Workflow("wf-other", "other")))
	require.NoError(t, s.InsertWorkflow(ctx, Workflow("wf-a", "greeting")))

	id, err := s.FindLatestWorkflowIDBySource(ctx, "greeting")
	require.NoError(t, err)
	assert.Equal(t, "wf-a", id, "latest is the last inserted, not the highest id")
}

func testFindAndDeleteWorkflows(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertWorkflow(ctx, Workflow("wf-1", "greeting")))
	require.NoError(t, s.InsertWorkflow(ctx, Workflow("wf-2", "greeting")))
	require.NoError(t, s.InsertWorkflow(ctx, Workflow("wf-3", "other")))

	found, err := s.FindWorkflows(ctx, ir.WorkflowQuery{SourceID: "greeting"})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "wf-1", found[0].ID)
	assert.Equal(t, "wf-2", found[1].ID)

	all, err := s.FindWorkflows(ctx, ir.WorkflowQuery{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, all, 1)

	n, err := s.DeleteWorkflows(ctx, ir.WorkflowQuery{SourceID: "greeting"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rest, err := s.FindWorkflows(ctx, ir.WorkflowQuery{})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "wf-3", rest[0].ID)
}

func testInstanceRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()
	wi := Instance(s.GenerateInstanceID(), "wf-1")
	require.NoError(t, s.InsertInstance(ctx, wi))

	got, err := s.GetInstance(ctx, wi.ID)
	require.NoError(t, err)
	assert.Equal(t, wi.ID, got.ID)
	assert.Equal(t, "wf-1", got.WorkflowID)
	assert.Equal(t, "ada", got.Variables["name"])
	require.Len(t, got.ActivityInstances, 2)
	assert.Equal(t, ir.StateWaiting, got.ActivityInstances[1].State)
	assert.Equal(t, int64(2), got.NextActivityInstanceID)
	assert.Nil(t, got.Lock)

	_, err = s.GetInstance(ctx, "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testInsertDuplicate(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertInstance(ctx, Instance("wi-1", "wf-1")))
	assert.ErrorIs(t, s.InsertInstance(ctx, Instance("wi-1", "wf-1")), store.ErrDuplicate)

	require.NoError(t, s.InsertWorkflow(ctx, Workflow("wf-1", "g")))
	assert.ErrorIs(t, s.InsertWorkflow(ctx, Workflow("wf-1", "g")), store.ErrDuplicate)
}

func testLockExclusive(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertInstance(ctx, Instance("wi-1", "wf-1")))

	locked, err := s.LockInstance(ctx, "wi-1", ir.Lock{Owner: "a", Time: base})
	require.NoError(t, err)
	require.NotNil(t, locked.Lock)
	assert.Equal(t, "a", locked.Lock.Owner)

	_, err = s.LockInstance(ctx, "wi-1", ir.Lock{Owner: "b", Time: base})
	assert.ErrorIs(t, err, store.ErrLocked)

	// Same owner id still cannot lock twice.
	_, err = s.LockInstance(ctx, "wi-1", ir.Lock{Owner: "a", Time: base})
	assert.ErrorIs(t, err, store.ErrLocked)

	snapshot, err := s.GetInstance(ctx, "wi-1")
	require.NoError(t, err)
	require.NotNil(t, snapshot.Lock)
	assert.Equal(t, "a", snapshot.Lock.Owner)
}

func testLockNotFound(t *testing.T, s store.Store) {
	_, err := s.LockInstance(context.Background(), "missing", ir.Lock{Owner: "a"})
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func testConcurrentLock(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertInstance(ctx, Instance("wi-1", "wf-1")))

	var acquired, rejected atomic.Int32
	var g errgroup.Group
	for i := 0; i < 16; i++ {
		owner := string(rune('a' + i))
		g.Go(func() error {
			_, err := s.LockInstance(ctx, "wi-1", ir.Lock{Owner: owner, Time: base})
			switch {
			case err == nil:
				acquired.Add(1)
			case errors.Is(err, store.ErrLocked):
				rejected.Add(1)
			default:
				return err
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Equal(t, int32(1), acquired.Load())
	assert.Equal(t, int32(15), rejected.Load())
}

func testFlushKeepsLock(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertInstance(ctx, Instance("wi-1", "wf-1")))
	wi, err := s.LockInstance(ctx, "wi-1", ir.Lock{Owner: "a", Time: base})
	require.NoError(t, err)

	wi.Variables["step"] = "flushed"
	require.NoError(t, s.Flush(ctx, wi))

	got, err := s.GetInstance(ctx, "wi-1")
	require.NoError(t, err)
	assert.Equal(t, "flushed", got.Variables["step"])
	require.NotNil(t, got.Lock)

	_, err = s.LockInstance(ctx, "wi-1", ir.Lock{Owner: "b"})
	assert.ErrorIs(t, err, store.ErrLocked)
}

func testFlushAndUnlock(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertInstance(ctx, Instance("wi-1", "wf-1")))
	wi, err := s.LockInstance(ctx, "wi-1", ir.Lock{Owner: "a", Time: base})
	require.NoError(t, err)

	end := base.Add(time.Minute)
	wi.ActivityInstances[1].State = ir.StateEnded
	wi.ActivityInstances[1].End = &end
	wi.Ended = true
	wi.End = &end
	require.NoError(t, s.FlushAndUnlock(ctx, wi))
	assert.Nil(t, wi.Lock)

	got, err := s.GetInstance(ctx, "wi-1")
	require.NoError(t, err)
	assert.True(t, got.Ended)
	assert.Nil(t, got.Lock)
	assert.Equal(t, ir.StateEnded, got.ActivityInstances[1].State)

	again, err := s.LockInstance(ctx, "wi-1", ir.Lock{Owner: "b"})
	require.NoError(t, err)
	assert.Equal(t, "b", again.Lock.Owner)
}

func testUnlockDiscardsChanges(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertInstance(ctx, Instance("wi-1", "wf-1")))
	wi, err := s.LockInstance(ctx, "wi-1", ir.Lock{Owner: "a", Time: base})
	require.NoError(t, err)

	wi.Variables["name"] = "changed"
	require.NoError(t, s.UnlockInstance(ctx, wi))
	assert.Nil(t, wi.Lock)

	got, err := s.GetInstance(ctx, "wi-1")
	require.NoError(t, err)
	assert.Equal(t, "ada", got.Variables["name"])
	assert.Nil(t, got.Lock)
}

func testFlushRequiresOwner(t *testing.T, s store.Store) {
	ctx := context.Background()
	require.NoError(t, s.InsertInstance(ctx, Instance("wi-1", "wf-1")))

	unlocked, err := s.GetInstance(ctx, "wi-1")
	require.NoError(t, err)
	assert.ErrorIs(t, s.Flush(ctx, unlocked), store.ErrNotLocked)
	assert.ErrorIs(t, s.FlushAndUnlock(ctx, unlocked), store.ErrNotLocked)

	_, err = s.LockInstance(ctx, "wi-1", ir.Lock{Owner: "a", Time: base})
	require.NoError(t, err)

	intruder := Instance("wi-1", "wf-1")
	intruder.Lock = &ir.Lock{Owner: "b"}
	assert.ErrorIs(t, s.Flush(ctx, intruder), store.ErrNotLocked)
	assert.ErrorIs(t, s.UnlockInstance(ctx, intruder), store.ErrNotLocked)
}

func testFindAndDeleteInstances(t *testing.T, s store.Store) {
	ctx := context.Background()
	done := Instance("wi-1", "wf-1")
	done.Ended = true
	done.ActivityInstances[1].State = ir.StateEnded
	require.NoError(t, s.InsertInstance(ctx, done))
	require.NoError(t, s.InsertInstance(ctx, Instance("wi-2", "wf-1")))
	require.NoError(t, s.InsertInstance(ctx, Instance("wi-3", "wf-2")))

	open := false
	found, err := s.FindInstances(ctx, ir.InstanceQuery{WorkflowID: "wf-1", Ended: &open})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "wi-2", found[0].ID)

	byActivity, err := s.FindInstances(ctx, ir.InstanceQuery{ActivityID: "greet"})
	require.NoError(t, err)
	require.Len(t, byActivity, 2)
	assert.Equal(t, "wi-2", byActivity[0].ID)
	assert.Equal(t, "wi-3", byActivity[1].ID)

	byIDs, err := s.FindInstances(ctx, ir.InstanceQuery{IDs: []string{"wi-3", "wi-1"}})
	require.NoError(t, err)
	assert.Len(t, byIDs, 2)

	n, err := s.DeleteInstances(ctx, ir.InstanceQuery{WorkflowID: "wf-1"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	rest, err := s.FindInstances(ctx, ir.InstanceQuery{})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	assert.Equal(t, "wi-3", rest[0].ID)
}

func testSnapshotIsolation(t *testing.T, s store.Store) {
	ctx := context.Background()
	wi := Instance("wi-1", "wf-1")
	require.NoError(t, s.InsertInstance(ctx, wi))

	wi.Variables["name"] = "mutated after insert"
	got, err := s.GetInstance(ctx, "wi-1")
	require.NoError(t, err)
	assert.Equal(t, "ada", got.Variables["name"])

	got.ActivityInstances[1].State = ir.StateEnded
	again, err := s.GetInstance(ctx, "wi-1")
	require.NoError(t, err)
	assert.Equal(t, ir.StateWaiting, again.ActivityInstances[1].State)
}
