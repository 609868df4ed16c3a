package engine

import (
	"errors"
	"fmt"
)

// Error is the typed failure returned by every Engine operation.
//
// Error carries structured fields for diagnostics:
//   - Code identifies the error category (see the Code constants)
//   - InstanceID / ActivityInstanceID locate the affected instance, when known
//   - Err is the underlying cause, exposed through Unwrap
type Error struct {
	Code               ErrorCode
	Message            string
	InstanceID         string
	ActivityInstanceID string
	Err                error
}

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// CodeNoWorkflowFound means a trigger did not resolve to any definition,
	// by explicit id or by source id.
	CodeNoWorkflowFound ErrorCode = "NO_WORKFLOW_FOUND"

	// CodeWorkflowNotFound means a stored instance refers to a definition
	// that no longer exists.
	CodeWorkflowNotFound ErrorCode = "WORKFLOW_NOT_FOUND"

	// CodeInstanceNotFound means the workflow instance does not exist.
	CodeInstanceNotFound ErrorCode = "INSTANCE_NOT_FOUND"

	// CodeActivityInstanceNotFound means the activity instance does not exist.
	CodeActivityInstanceNotFound ErrorCode = "ACTIVITY_INSTANCE_NOT_FOUND"

	// CodeActivityNotFound means an activity id is not part of the definition.
	CodeActivityNotFound ErrorCode = "ACTIVITY_NOT_FOUND"

	// CodeIllegalState means the operation does not apply to the current state.
	CodeIllegalState ErrorCode = "ILLEGAL_STATE"

	// CodeConcurrencyExhausted means lock retries ran out.
	CodeConcurrencyExhausted ErrorCode = "CONCURRENCY_EXHAUSTED"

	// CodeStorageFailure means the backing store failed.
	CodeStorageFailure ErrorCode = "STORAGE_FAILURE"

	// CodeBehaviorError means an activity behavior failed.
	CodeBehaviorError ErrorCode = "BEHAVIOR_ERROR"

	// CodeDeploymentRejected means the definition has error issues.
	CodeDeploymentRejected ErrorCode = "DEPLOYMENT_REJECTED"

	// CodeStepsExceeded means one drain executed more activities than allowed.
	CodeStepsExceeded ErrorCode = "STEPS_EXCEEDED"
)

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	switch {
	case e.InstanceID != "" && e.ActivityInstanceID != "":
		msg = fmt.Sprintf("%s (instance=%s, activity_instance=%s)", msg, e.InstanceID, e.ActivityInstanceID)
	case e.InstanceID != "":
		msg = fmt.Sprintf("%s (instance=%s)", msg, e.InstanceID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func (e *Error) withInstance(id string) *Error {
	if e.InstanceID == "" {
		e.InstanceID = id
	}
	return e
}

func (e *Error) withActivityInstance(id string) *Error {
	if e.ActivityInstanceID == "" {
		e.ActivityInstanceID = id
	}
	return e
}

func (e *Error) wrap(err error) *Error {
	e.Err = err
	return e
}

// CodeOf returns the code of an engine error, or "" for other errors.
// Uses errors.As to handle wrapped errors.
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsNotFound reports whether err is any of the not-found codes.
func IsNotFound(err error) bool {
	switch CodeOf(err) {
	case CodeNoWorkflowFound, CodeWorkflowNotFound, CodeInstanceNotFound,
		CodeActivityInstanceNotFound, CodeActivityNotFound:
		return true
	}
	return false
}

// IsIllegalState reports whether err is an ILLEGAL_STATE error.
func IsIllegalState(err error) bool {
	return CodeOf(err) == CodeIllegalState
}

// IsConcurrencyExhausted reports whether lock retries ran out.
func IsConcurrencyExhausted(err error) bool {
	return CodeOf(err) == CodeConcurrencyExhausted
}

// IsStorageFailure reports whether the backing store failed.
func IsStorageFailure(err error) bool {
	return CodeOf(err) == CodeStorageFailure
}

// IsBehaviorError reports whether an activity behavior failed.
func IsBehaviorError(err error) bool {
	return CodeOf(err) == CodeBehaviorError
}

// IsStepsExceeded reports whether a drain hit the max steps limit.
func IsStepsExceeded(err error) bool {
	return CodeOf(err) == CodeStepsExceeded
}
