package compiler

import "fmt"

// Issue codes (W100-W199). Error-severity issues block deployment.
const (
	CodeUnknownActivityKind  = "W101" // activity references an unregistered kind
	CodeDanglingTransition   = "W102" // transition endpoint not found in its scope
	CodeNoStartActivity      = "W103" // scope has activities but none without incoming transitions
	CodeDuplicateActivityID  = "W104" // activity id declared twice in the workflow
	CodeMissingActivityID    = "W105" // activity without id
	CodeInvalidCondition     = "W106" // transition condition does not parse
	CodeMultipleDefaults     = "W107" // more than one default transition leaves an activity
	CodeInvalidMultiInstance = "W108" // multi-instance without collection or element
	CodeUnhashable           = "W109" // source cannot be canonically encoded
	CodeLoop                 = "W110" // activities form a loop
	CodeUnreachable          = "W111" // activity cannot be reached from any start activity
)

// Severity ranks an issue.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Issue is one problem found while compiling a definition.
// Issues are collected, never thrown; the caller decides what blocks.
type Issue struct {
	Code     string   `json:"code"`
	Severity Severity `json:"severity"`
	Path     string   `json:"path"`
	Message  string   `json:"message"`
}

func (i Issue) String() string {
	return fmt.Sprintf("[%s] %s %s: %s", i.Code, i.Severity, i.Path, i.Message)
}

// HasErrors reports whether any issue has error severity.
func HasErrors(issues []Issue) bool {
	for _, i := range issues {
		if i.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns only the error-severity issues.
func Errors(issues []Issue) []Issue {
	var out []Issue
	for _, i := range issues {
		if i.Severity == SeverityError {
			out = append(out, i)
		}
	}
	return out
}
