package engine

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/weave/internal/ir"
	"github.com/roach88/weave/internal/model"
	"github.com/roach88/weave/internal/store/memory"
	"github.com/roach88/weave/internal/testutil"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestEngine(t *testing.T, opts ...Option) (*Engine, *memory.Store) {
	t.Helper()
	s := testutil.NewMemoryStore()
	base := []Option{
		WithID("test-engine"),
		WithClock(testutil.NewDeterministicClock()),
		WithLogger(quietLogger()),
	}
	e := New(s, append(base, opts...)...)
	t.Cleanup(func() { _ = e.Close() })
	return e, s
}

func act(id, kind string) ir.ActivitySource {
	return ir.ActivitySource{ID: id, Kind: kind}
}

func tr(from, to string) ir.TransitionSource {
	return ir.TransitionSource{From: from, To: to}
}

func trIf(from, to, condition string) ir.TransitionSource {
	return ir.TransitionSource{From: from, To: to, Condition: condition}
}

func trDefault(from, to string) ir.TransitionSource {
	return ir.TransitionSource{From: from, To: to, Default: true}
}

func workflow(sourceID string, activities []ir.ActivitySource, transitions ...ir.TransitionSource) *ir.WorkflowSource {
	return &ir.WorkflowSource{SourceID: sourceID, Activities: activities, Transitions: transitions}
}

// greeting is Start -> ReceiveTask("greet") -> End.
func greeting() *ir.WorkflowSource {
	return workflow("greeting",
		[]ir.ActivitySource{
			act("start", KindStartEvent),
			act("greet", KindReceiveTask),
			act("end", KindEndEvent),
		},
		tr("start", "greet"),
		tr("greet", "end"),
	)
}

func deploy(t *testing.T, e *Engine, src *ir.WorkflowSource) string {
	t.Helper()
	d, err := e.Deploy(context.Background(), src)
	require.NoError(t, err)
	require.NoError(t, d.Err())
	require.NotEmpty(t, d.ID)
	return d.ID
}

func start(t *testing.T, e *Engine, workflowID string, data ir.VariableMap) *ir.WorkflowInstance {
	t.Helper()
	wi, err := e.Start(context.Background(), ir.Trigger{WorkflowID: workflowID, Data: data})
	require.NoError(t, err)
	return wi
}

func send(t *testing.T, e *Engine, wi *ir.WorkflowInstance, activityID string, data ir.VariableMap) *ir.WorkflowInstance {
	t.Helper()
	ai := wi.FindOpenActivityInstanceByActivityID(activityID)
	require.NotNil(t, ai, "no open activity instance for %q", activityID)
	out, err := e.Send(context.Background(), ir.Message{
		InstanceID:         wi.ID,
		ActivityInstanceID: ai.ID,
		Data:               data,
	})
	require.NoError(t, err)
	return out
}

// activityIDs lists the activity of every activity instance, depth-first
// in creation order.
func activityIDs(wi *ir.WorkflowInstance) []string {
	var ids []string
	wi.Walk(func(ai *ir.ActivityInstance) { ids = append(ids, ai.ActivityID) })
	return ids
}

func openActivityIDs(wi *ir.WorkflowInstance) []string {
	var ids []string
	for _, ai := range wi.OpenActivityInstances() {
		ids = append(ids, ai.ActivityID)
	}
	return ids
}

// recorder logs every listener callback as a short string.
type recorder struct {
	mu     sync.Mutex
	events []string
	veto   string
}

var _ ExecutionListener = (*recorder)(nil)

func (r *recorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *recorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) InstanceStarted(_ context.Context, wi *ir.WorkflowInstance) {
	r.add("instance started")
}

func (r *recorder) InstanceEnded(_ context.Context, wi *ir.WorkflowInstance) {
	r.add("instance ended")
}

func (r *recorder) ActivityStarting(_ context.Context, _ *ir.WorkflowInstance, ai *ir.ActivityInstance) bool {
	if ai.ActivityID == r.veto {
		r.add("veto %s", ai.ActivityID)
		return false
	}
	r.add("starting %s", ai.ActivityID)
	return true
}

func (r *recorder) ActivityEnded(_ context.Context, _ *ir.WorkflowInstance, ai *ir.ActivityInstance) {
	r.add("%s %s", ai.State, ai.ActivityID)
}

func (r *recorder) TransitionTaken(_ context.Context, _ *ir.WorkflowInstance, t *model.Transition, _, _ *ir.ActivityInstance) {
	r.add("take %s", t.ID)
}

func (r *recorder) Flushed(context.Context, *ir.WorkflowInstance) {
	r.add("flushed")
}

func (r *recorder) Unlocked(context.Context, *ir.WorkflowInstance) {
	r.add("unlocked")
}
