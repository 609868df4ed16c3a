package engine

import (
	"context"

	"github.com/roach88/weave/internal/ir"
)

// Built-in activity kinds.
const (
	KindStartEvent       = "startEvent"
	KindEndEvent         = "endEvent"
	KindNoneTask         = "noneTask"
	KindReceiveTask      = "receiveTask"
	KindUserTask         = "userTask"
	KindExclusiveGateway = "exclusiveGateway"
	KindParallelGateway  = "parallelGateway"
	KindSubProcess       = "subProcess"
)

func registerBuiltins(r *Registry) {
	r.Register(KindStartEvent, passThrough{})
	r.Register(KindEndEvent, endEvent{})
	r.Register(KindNoneTask, passThrough{})
	r.Register(KindReceiveTask, receiveTask{})
	r.Register(KindUserTask, receiveTask{})
	r.Register(KindExclusiveGateway, exclusiveGateway{})
	r.Register(KindParallelGateway, parallelGateway{})
	r.Register(KindSubProcess, subProcess{})
}

// passThrough completes immediately and continues onwards.
type passThrough struct{ BaseBehavior }

func (passThrough) Execute(*Activation) error { return nil }

type endEvent struct{ BaseBehavior }

func (endEvent) Execute(a *Activation) error { return a.End() }

// receiveTask waits for a message and merges its data into the variables.
type receiveTask struct{}

func (receiveTask) Execute(a *Activation) error { return a.Wait() }

func (receiveTask) Message(a *Activation, msg ir.Message) error {
	mergeMessage(a, msg)
	return nil
}

func mergeMessage(a *Activation, msg ir.Message) {
	for k, v := range msg.Data {
		a.SetVariable(k, v)
	}
}

type exclusiveGateway struct{ BaseBehavior }

func (exclusiveGateway) Execute(a *Activation) error { return a.TakeFirst() }

type parallelGateway struct{ BaseBehavior }

func (parallelGateway) Execute(a *Activation) error {
	joined, err := a.Join()
	if err != nil || !joined {
		return err
	}
	return a.TakeAll()
}

type subProcess struct{ BaseBehavior }

func (subProcess) Execute(a *Activation) error { return a.StartChildren() }

// ServiceFunc does the work of a service task. It receives a copy of the
// variables visible to the activity and returns variables to set.
type ServiceFunc func(ctx context.Context, vars map[string]any) (ir.VariableMap, error)

// ServiceTask returns a behavior that runs fn on the async pool. The
// activity instance waits until fn returns; the result is then sent back
// as a message and merged like receive task data.
//
//	registry.Register("chargeCard", engine.ServiceTask(charge))
func ServiceTask(fn ServiceFunc) AsyncBehavior {
	return serviceTask{fn: fn}
}

type serviceTask struct {
	fn ServiceFunc
}

func (serviceTask) Execute(a *Activation) error { return a.ExecuteAsync() }

func (serviceTask) Message(a *Activation, msg ir.Message) error {
	mergeMessage(a, msg)
	return nil
}

func (s serviceTask) ExecuteAsync(ctx context.Context, job AsyncJob) (ir.VariableMap, error) {
	return s.fn(ctx, job.Variables)
}
