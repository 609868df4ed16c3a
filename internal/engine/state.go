package engine

import (
	"context"
	"fmt"

	"github.com/qmuntal/stateless"

	"github.com/roach88/weave/internal/ir"
)

// trigger names a work-state change of an activity instance.
type trigger string

const (
	triggerStart               trigger = "start"
	triggerStartMultiContainer trigger = "startMultiContainer"
	triggerStartMultiInstance  trigger = "startMultiInstance"
	triggerExecute             trigger = "execute"
	triggerWait                trigger = "wait"
	triggerResume              trigger = "resume"
	triggerEnd                 trigger = "end"
	triggerCancel              trigger = "cancel"
	triggerFail                trigger = "fail"
)

// activityMachine builds the state machine guarding one activity instance.
//
// The state lives in the instance itself (external storage), so the machine
// is a throwaway view: building one per change keeps the persisted
// ir.ActivityInstance the single source of truth.
//
//	created  -> starting | startingMultiContainer | startingMultiInstance
//	starting* -> executing
//	executing -> waiting | ended
//	waiting   -> executing (message, join, children ended) | ended
//	open      -> cancelled | failed
func activityMachine(ai *ir.ActivityInstance) *stateless.StateMachine {
	sm := stateless.NewStateMachineWithExternalStorage(
		func(_ context.Context) (stateless.State, error) {
			return ai.State, nil
		},
		func(_ context.Context, s stateless.State) error {
			ai.State = s.(ir.WorkState)
			return nil
		},
		stateless.FiringImmediate,
	)

	sm.Configure(ir.StateCreated).
		Permit(triggerStart, ir.StateStarting).
		Permit(triggerStartMultiContainer, ir.StateStartingMultiContainer).
		Permit(triggerStartMultiInstance, ir.StateStartingMultiInstance)

	for _, s := range []ir.WorkState{ir.StateStarting, ir.StateStartingMultiContainer, ir.StateStartingMultiInstance} {
		sm.Configure(s).
			Permit(triggerExecute, ir.StateExecuting).
			Permit(triggerCancel, ir.StateCancelled).
			Permit(triggerFail, ir.StateFailed)
	}

	sm.Configure(ir.StateExecuting).
		Permit(triggerWait, ir.StateWaiting).
		Permit(triggerEnd, ir.StateEnded).
		Permit(triggerCancel, ir.StateCancelled).
		Permit(triggerFail, ir.StateFailed)

	sm.Configure(ir.StateWaiting).
		Permit(triggerResume, ir.StateExecuting).
		Permit(triggerEnd, ir.StateEnded).
		Permit(triggerCancel, ir.StateCancelled).
		Permit(triggerFail, ir.StateFailed)

	return sm
}

// fire applies a trigger to the activity instance. A trigger that is not
// permitted in the current state is an ILLEGAL_STATE error and leaves the
// state unchanged.
func fire(ai *ir.ActivityInstance, t trigger) error {
	from := ai.State
	if err := activityMachine(ai).Fire(t); err != nil {
		return newError(CodeIllegalState, "activity instance cannot %s from state %q", t, stateName(from)).
			withActivityInstance(ai.ID).
			wrap(err)
	}
	return nil
}

func stateName(s ir.WorkState) string {
	if s == ir.StateCreated {
		return "created"
	}
	return string(s)
}

// startTrigger returns the trigger that moves a new instance into the
// given starting state.
func startTrigger(s ir.WorkState) (trigger, error) {
	switch s {
	case ir.StateStarting:
		return triggerStart, nil
	case ir.StateStartingMultiContainer:
		return triggerStartMultiContainer, nil
	case ir.StateStartingMultiInstance:
		return triggerStartMultiInstance, nil
	}
	return "", fmt.Errorf("%q is not a starting state", s)
}
