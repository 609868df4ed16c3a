package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/roach88/weave/internal/compiler"
	"github.com/roach88/weave/internal/engine"
	"github.com/roach88/weave/internal/ir"
	"github.com/roach88/weave/internal/model"
	"github.com/roach88/weave/internal/testutil"
)

// Option configures a run.
type Option func(*config)

type config struct {
	registry *engine.Registry
	logger   *slog.Logger
}

// WithRegistry runs the scenario with custom activity kinds.
func WithRegistry(r *engine.Registry) Option {
	return func(c *config) { c.registry = r }
}

// WithLogger routes engine logs to l. Default: discarded.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// Harness is the state of one scenario run.
type Harness struct {
	engine *engine.Engine
	tracer *tracer
	wf     string
	wi     *ir.WorkflowInstance
	logger *slog.Logger
}

// Run executes a scenario and returns the result.
//
// Each run gets a fresh in-memory store, deterministic clock and
// sequential ids. Failed expectations are reported in the Result; the
// returned error is reserved for scenarios that cannot run at all, such as
// an unreadable or rejected definition.
//
// Execution flow:
//  1. Load and deploy the definition
//  2. Run the steps, checking each expect clause
//  3. Evaluate the assertions against the trace and the final instance
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	cfg := config{
		registry: engine.DefaultRegistry(),
		logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	src, err := compiler.LoadFile(scenario.Definition)
	if err != nil {
		return nil, fmt.Errorf("failed to load definition: %w", err)
	}

	tr := &tracer{}
	eng := engine.New(testutil.NewMemoryStore(),
		engine.WithID("harness"),
		engine.WithClock(testutil.NewDeterministicClock()),
		engine.WithLogger(cfg.logger),
		engine.WithRegistry(cfg.registry),
		engine.WithListener(tr),
	)

	ctx := context.Background()
	d, err := eng.Deploy(ctx, src)
	if err != nil {
		return nil, fmt.Errorf("failed to deploy definition: %w", err)
	}
	if err := d.Err(); err != nil {
		return nil, fmt.Errorf("failed to deploy definition: %w", err)
	}

	h := &Harness{engine: eng, tracer: tr, wf: d.ID, logger: cfg.logger}
	result := NewResult()
	h.executeSteps(ctx, scenario.Steps, result)

	// Async work must settle before the final state is read.
	if err := eng.Close(); err != nil {
		return nil, fmt.Errorf("failed to close engine: %w", err)
	}
	if h.wi != nil {
		if wi, err := eng.GetInstance(ctx, h.wi.ID); err == nil {
			h.wi = wi
		}
	}

	result.Trace = tr.events()
	result.Instance = h.wi
	for _, msg := range EvaluateAssertions(result, scenario.Assertions) {
		result.AddError(msg)
	}
	return result, nil
}

// executeSteps runs the steps in order. A step that fails unexpectedly
// stops the run, since later steps depend on its outcome.
func (h *Harness) executeSteps(ctx context.Context, steps []Step, result *Result) {
	for i := range steps {
		step := &steps[i]
		h.tracer.setStep(i)

		wi, err := h.execute(ctx, step)
		if wi != nil {
			h.wi = wi
		}
		h.logger.Info("step executed", "step", i, "op", step.op(), "error", err)

		if msgs := checkExpect(i, step.Expect, h.wi, err); len(msgs) > 0 {
			for _, msg := range msgs {
				result.AddError(msg)
			}
			if err != nil && (step.Expect == nil || step.Expect.Error == "") {
				return
			}
		}
	}
}

func (h *Harness) execute(ctx context.Context, step *Step) (*ir.WorkflowInstance, error) {
	switch step.op() {
	case "start":
		return h.engine.Start(ctx, ir.Trigger{
			WorkflowID:       h.wf,
			Data:             ir.VariableMap(step.Start.Data),
			StartActivityIDs: step.Start.StartActivities,
		})
	case "send":
		ai, err := h.open(step.Send.Activity)
		if err != nil {
			return nil, err
		}
		return h.engine.Send(ctx, ir.Message{
			InstanceID:         h.wi.ID,
			ActivityInstanceID: ai,
			Data:               ir.VariableMap(step.Send.Data),
		})
	case "cancel":
		if h.wi == nil {
			return nil, errNotStarted
		}
		return h.engine.Cancel(ctx, h.wi.ID)
	case "move":
		var from string
		if step.Move.From != "" {
			var err error
			if from, err = h.open(step.Move.From); err != nil {
				return nil, err
			}
		}
		if h.wi == nil {
			return nil, errNotStarted
		}
		return h.engine.Move(ctx, h.wi.ID, from, step.Move.To)
	case "set":
		var scope string
		if step.Set.Scope != "" {
			var err error
			if scope, err = h.open(step.Set.Scope); err != nil {
				return nil, err
			}
		}
		if h.wi == nil {
			return nil, errNotStarted
		}
		if err := h.engine.SetVariables(ctx, h.wi.ID, scope, ir.VariableMap(step.Set.Data)); err != nil {
			return nil, err
		}
		return h.engine.GetInstance(ctx, h.wi.ID)
	}
	return nil, errors.New("unknown step")
}

var errNotStarted = errors.New("instance was never started")

// open resolves an activity id to an activity instance in the latest
// snapshot: the first open one without open children, else the first open
// one, else the most recent one so that the engine reports why it cannot
// be used.
func (h *Harness) open(activityID string) (string, error) {
	if h.wi == nil {
		return "", errNotStarted
	}
	var leaf, open, last *ir.ActivityInstance
	h.wi.Walk(func(ai *ir.ActivityInstance) {
		if ai.ActivityID != activityID {
			return
		}
		last = ai
		if !ai.IsOpen() {
			return
		}
		if open == nil {
			open = ai
		}
		if leaf == nil && !hasOpenChild(ai) {
			leaf = ai
		}
	})
	for _, ai := range []*ir.ActivityInstance{leaf, open, last} {
		if ai != nil {
			return ai.ID, nil
		}
	}
	return "", fmt.Errorf("no activity instance for %q", activityID)
}

func hasOpenChild(ai *ir.ActivityInstance) bool {
	for _, c := range ai.ActivityInstances {
		if c.IsOpen() {
			return true
		}
	}
	return false
}

// tracer records listener callbacks as trace events.
type tracer struct {
	engine.BaseListener

	mu    sync.Mutex
	step  int
	seq   int64
	trace []TraceEvent
}

func (t *tracer) setStep(step int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.step = step
}

func (t *tracer) add(ev TraceEvent) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.seq++
	ev.Seq = t.seq
	ev.Step = t.step
	t.trace = append(t.trace, ev)
}

func (t *tracer) events() []TraceEvent {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]TraceEvent{}, t.trace...)
}

func (t *tracer) InstanceStarted(context.Context, *ir.WorkflowInstance) {
	t.add(TraceEvent{Event: EventInstanceStarted})
}

func (t *tracer) InstanceEnded(context.Context, *ir.WorkflowInstance) {
	t.add(TraceEvent{Event: EventInstanceEnded})
}

func (t *tracer) ActivityStarting(_ context.Context, _ *ir.WorkflowInstance, ai *ir.ActivityInstance) bool {
	t.add(TraceEvent{Event: EventStarting, Activity: ai.ActivityID, ActivityInstance: ai.ID, State: string(ai.State)})
	return true
}

func (t *tracer) ActivityEnded(_ context.Context, _ *ir.WorkflowInstance, ai *ir.ActivityInstance) {
	t.add(TraceEvent{Event: EventEnded, Activity: ai.ActivityID, ActivityInstance: ai.ID, State: string(ai.State)})
}

func (t *tracer) TransitionTaken(_ context.Context, _ *ir.WorkflowInstance, tr *model.Transition, _, to *ir.ActivityInstance) {
	t.add(TraceEvent{Event: EventTransition, Activity: to.ActivityID, ActivityInstance: to.ID, Transition: tr.ID})
}
