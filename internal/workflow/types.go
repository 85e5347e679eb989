package workflow

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/rahul/operator/internal/tools"
)

var (
	ErrSessionNotSealed = errors.New("session is still being recorded")
	ErrWorkflowNotFound = errors.New("workflow not found")
	ErrInvalidStep      = errors.New("invalid workflow step")
)

// LoopAction is the action name of a step that repeats its nested steps.
const LoopAction = "loop"

// OnErrorContinue lets a replay carry on past a failed step.
const OnErrorContinue = "continue"

type Variable struct {
	Value       any    `yaml:"value" json:"value"`
	Description string `yaml:"description,omitempty" json:"description,omitempty"`
	Type        string `yaml:"type" json:"type"`
}

// Step is either one action ("browser.click") or a loop over nested steps.
type Step struct {
	Step           int            `yaml:"step" json:"step"`
	Action         string         `yaml:"action" json:"action"`
	Parameters     map[string]any `yaml:"parameters,omitempty" json:"parameters,omitempty"`
	ExpectedResult map[string]any `yaml:"expected_result,omitempty" json:"expected_result,omitempty"`
	OnError        string         `yaml:"on_error,omitempty" json:"on_error,omitempty"`
	TimeoutMS      int            `yaml:"timeout_ms,omitempty" json:"timeout_ms,omitempty"`
	Iterations     int            `yaml:"iterations,omitempty" json:"iterations,omitempty"`
	Steps          []Step         `yaml:"steps,omitempty" json:"steps,omitempty"`
}

func (s Step) IsLoop() bool {
	return s.Action == LoopAction
}

// Target splits the step's action into its domain and tool.
func (s Step) Target() (tools.ActionType, string, error) {
	domain, tool, ok := strings.Cut(s.Action, ".")
	if !ok || tool == "" {
		return "", "", fmt.Errorf("%w: action %q is not of the form type.tool", ErrInvalidStep, s.Action)
	}
	t, err := tools.ParseActionType(domain)
	if err != nil {
		return "", "", err
	}
	return t, tool, nil
}

// sameAs reports whether two steps do the same thing: same action and
// parameters, and for loops the same iterations and body. Numbering and
// expectations are ignored.
func (s Step) sameAs(o Step) bool {
	if s.Action != o.Action || !reflect.DeepEqual(s.Parameters, o.Parameters) {
		return false
	}
	if !s.IsLoop() {
		return true
	}
	if s.Iterations != o.Iterations || len(s.Steps) != len(o.Steps) {
		return false
	}
	for i := range s.Steps {
		if !s.Steps[i].sameAs(o.Steps[i]) {
			return false
		}
	}
	return true
}

// Workflow is a replayable document generated from a sealed session.
type Workflow struct {
	Name        string              `yaml:"name" json:"name"`
	Description string              `yaml:"description,omitempty" json:"description,omitempty"`
	Version     int                 `yaml:"version" json:"version"`
	Metadata    map[string]any      `yaml:"metadata,omitempty" json:"metadata,omitempty"`
	Variables   map[string]Variable `yaml:"variables,omitempty" json:"variables,omitempty"`
	Steps       []Step              `yaml:"steps" json:"steps"`
}
