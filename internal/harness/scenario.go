package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Scenario drives one instance of one definition through a list of steps.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Definition is the path of the workflow definition (.cue, .yaml or
	// .json). Relative paths resolve against the scenario file.
	Definition string `yaml:"definition"`

	// Steps run in order. The first one must be a start.
	Steps []Step `yaml:"steps"`

	// Assertions validate the trace and final state after the last step.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// Step is one Façade call. Exactly one of the operation fields is set.
type Step struct {
	Start  *StartStep  `yaml:"start,omitempty"`
	Send   *SendStep   `yaml:"send,omitempty"`
	Cancel *CancelStep `yaml:"cancel,omitempty"`
	Move   *MoveStep   `yaml:"move,omitempty"`
	Set    *SetStep    `yaml:"set,omitempty"`

	// Expect is checked after the step. If nil the step must not fail.
	Expect *Expect `yaml:"expect,omitempty"`
}

// StartStep starts the instance.
type StartStep struct {
	Data map[string]any `yaml:"data,omitempty"`
	// StartActivities restricts which start activities run.
	StartActivities []string `yaml:"start_activities,omitempty"`
}

// SendStep messages the first open activity instance of Activity.
type SendStep struct {
	Activity string         `yaml:"activity"`
	Data     map[string]any `yaml:"data,omitempty"`
}

// CancelStep cancels the instance.
type CancelStep struct{}

// MoveStep moves execution to the top-level activity To. From optionally
// names the activity whose open instance must be the one moved away from.
type MoveStep struct {
	To   string `yaml:"to"`
	From string `yaml:"from,omitempty"`
}

// SetStep sets variables on the root scope, or on the open instance of the
// Scope activity.
type SetStep struct {
	Scope string         `yaml:"scope,omitempty"`
	Data  map[string]any `yaml:"data"`
}

// Expect describes the instance after a step.
type Expect struct {
	// Error is the engine error code the step must fail with.
	Error string `yaml:"error,omitempty"`

	// Ended, if set, must equal the instance's ended flag.
	Ended *bool `yaml:"ended,omitempty"`

	// Open, if set, must equal the open activities in tree order.
	Open []string `yaml:"open,omitempty"`

	// Variables is a subset match against the root variables.
	Variables map[string]any `yaml:"variables,omitempty"`
}

// Assertion validates the trace or the final instance.
type Assertion struct {
	// Type is trace_contains, trace_order, trace_count or final_state.
	Type string `yaml:"type"`

	// Event is the trace event for trace_contains. Default: starting.
	Event string `yaml:"event,omitempty"`

	// Activity is used by trace_contains and trace_count.
	Activity string `yaml:"activity,omitempty"`

	// Activities is the expected start order for trace_order.
	Activities []string `yaml:"activities,omitempty"`

	// Count is the expected number of starts for trace_count.
	Count int `yaml:"count,omitempty"`

	// Ended, Open and Variables are checked by final_state like an Expect.
	Ended     *bool          `yaml:"ended,omitempty"`
	Open      []string       `yaml:"open,omitempty"`
	Variables map[string]any `yaml:"variables,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
)

// op names the operation of a step, "" when none or several are set.
func (s *Step) op() string {
	var ops []string
	if s.Start != nil {
		ops = append(ops, "start")
	}
	if s.Send != nil {
		ops = append(ops, "send")
	}
	if s.Cancel != nil {
		ops = append(ops, "cancel")
	}
	if s.Move != nil {
		ops = append(ops, "move")
	}
	if s.Set != nil {
		ops = append(ops, "set")
	}
	if len(ops) != 1 {
		return ""
	}
	return ops[0]
}

// LoadScenario reads and parses a scenario YAML file. The definition path
// is resolved against the scenario's directory.
// Returns an error if the file doesn't exist, is malformed, contains
// unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data, filepath.Dir(path))
}

// ParseScenario parses scenario YAML, resolving the definition path
// against baseDir.
func ParseScenario(data []byte, baseDir string) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Definition != "" && !filepath.IsAbs(scenario.Definition) && baseDir != "" {
		scenario.Definition = filepath.Join(baseDir, scenario.Definition)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and valid.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Definition == "" {
		return fmt.Errorf("definition is required")
	}
	if _, err := os.Stat(s.Definition); os.IsNotExist(err) {
		return fmt.Errorf("definition file not found: %s", s.Definition)
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}

	for i := range s.Steps {
		step := &s.Steps[i]
		op := step.op()
		switch {
		case op == "":
			return fmt.Errorf("steps[%d]: exactly one of start, send, cancel, move, set is required", i)
		case i == 0 && op != "start":
			return fmt.Errorf("steps[0]: the first step must be a start")
		case i > 0 && op == "start":
			return fmt.Errorf("steps[%d]: a scenario starts its instance once", i)
		}
		switch op {
		case "send":
			if step.Send.Activity == "" {
				return fmt.Errorf("steps[%d].send: activity is required", i)
			}
		case "move":
			if step.Move.To == "" {
				return fmt.Errorf("steps[%d].move: to is required", i)
			}
		case "set":
			if len(step.Set.Data) == 0 {
				return fmt.Errorf("steps[%d].set: data is required", i)
			}
		}
	}

	for i := range s.Assertions {
		if err := validateAssertion(i, &s.Assertions[i]); err != nil {
			return err
		}
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertTraceContains:
		if a.Activity == "" {
			return fmt.Errorf("assertions[%d]: activity is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Activities) == 0 {
			return fmt.Errorf("assertions[%d]: activities list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Activity == "" {
			return fmt.Errorf("assertions[%d]: activity is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Ended == nil && a.Open == nil && len(a.Variables) == 0 {
			return fmt.Errorf("assertions[%d]: final_state needs ended, open or variables", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
