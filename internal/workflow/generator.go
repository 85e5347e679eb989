package workflow

import (
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/rahul/operator/internal/recorder"
)

const (
	maxPatternLength  = 10
	slowStepMS        = 1000
	timeoutMultiplier = 1.5
)

var essentialResultFields = []string{"status", "success", "element_count", "found", "visible"}

// Generator turns sealed recording sessions into workflows.
type Generator struct {
	Optimize         bool
	ExtractVariables bool
	DetectLoops      bool
}

func NewGenerator() *Generator {
	return &Generator{Optimize: true, ExtractVariables: true, DetectLoops: true}
}

// Generate builds a workflow from s. The name defaults to the session's.
func (g *Generator) Generate(s *recorder.Session, name string) (*Workflow, error) {
	if s == nil {
		return nil, fmt.Errorf("no session to generate from")
	}
	if !s.Sealed() {
		return nil, fmt.Errorf("%w: %s", ErrSessionNotSealed, s.ID)
	}
	if name == "" {
		name = s.Name
	}

	meta := map[string]any{
		"generated_from": s.ID,
		"generated_at":   s.EndedAt.UTC().Format(time.RFC3339),
		"action_count":   len(s.Actions),
	}
	for k, v := range s.Metadata {
		meta[k] = v
	}

	var vars []binding
	if g.ExtractVariables {
		vars = extractVariables(s.Actions)
	}

	steps := convertActions(s.Actions, vars)
	if g.DetectLoops {
		steps = foldLoops(steps)
	}
	if g.Optimize {
		steps = dropAdjacentDuplicates(steps)
	}
	for i := range steps {
		steps[i].Step = i + 1
	}

	wf := &Workflow{
		Name:        name,
		Description: "Generated from recording session: " + s.ID,
		Version:     1,
		Metadata:    meta,
		Steps:       steps,
	}
	if len(vars) > 0 {
		wf.Variables = make(map[string]Variable, len(vars))
		for _, b := range vars {
			wf.Variables[b.name] = b.Variable
		}
	}

	log.Printf("Generator: workflow %q from %s (%d actions -> %d steps, %d variables)",
		name, s.ID, len(s.Actions), len(steps), len(vars))
	return wf, nil
}

type binding struct {
	name string
	Variable
}

type groupKey struct {
	actionType string
	tool       string
	param      string
}

// extractVariables binds one variable per (type, tool, param) group seen
// more than once, to the group's most frequent value. Ties go to the value
// seen first. A value already bound by an earlier group is not bound again.
func extractVariables(actions []recorder.Action) []binding {
	var order []groupKey
	groups := make(map[groupKey][]any)
	for _, a := range actions {
		for _, k := range a.Parameters.Keys() {
			v, ok := scalar(a.Parameters[k])
			if !ok {
				continue
			}
			key := groupKey{string(a.ActionType), a.ToolName, k}
			if _, seen := groups[key]; !seen {
				order = append(order, key)
			}
			groups[key] = append(groups[key], v)
		}
	}

	var out []binding
	bound := make(map[any]bool)
	for _, key := range order {
		values := groups[key]
		if len(values) < 2 {
			continue
		}
		value := mostFrequent(values)
		if bound[value] {
			continue
		}
		bound[value] = true
		out = append(out, binding{
			name: fmt.Sprintf("var_%d", len(out)+1),
			Variable: Variable{
				Value:       value,
				Description: fmt.Sprintf("Extracted from %s.%s %s", key.actionType, key.tool, key.param),
				Type:        typeName(value),
			},
		})
	}
	return out
}

func mostFrequent(values []any) any {
	counts := make(map[any]int)
	var order []any
	for _, v := range values {
		if counts[v] == 0 {
			order = append(order, v)
		}
		counts[v]++
	}
	best := order[0]
	for _, v := range order[1:] {
		if counts[v] > counts[best] {
			best = v
		}
	}
	return best
}

// scalar reports whether v can become a variable, normalizing numbers to
// float64 so values decoded from JSON and YAML compare equal.
func scalar(v any) (any, bool) {
	switch n := v.(type) {
	case string:
		return n, true
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	}
	return nil, false
}

func typeName(v any) string {
	if _, ok := v.(string); ok {
		return "string"
	}
	return "number"
}

func reference(name string) string {
	return "${" + name + "}"
}

// substitute replaces every parameter whose value equals a bound value with
// a reference to the first such variable.
func substitute(params map[string]any, vars []binding) map[string]any {
	if len(params) == 0 {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = v
		s, ok := scalar(v)
		if !ok {
			continue
		}
		for _, b := range vars {
			if b.Value == s {
				out[k] = reference(b.name)
				break
			}
		}
	}
	return out
}

func convertActions(actions []recorder.Action, vars []binding) []Step {
	steps := make([]Step, 0, len(actions))
	for i, a := range actions {
		step := Step{
			Step:           i + 1,
			Action:         a.ID(),
			Parameters:     substitute(a.Parameters, vars),
			ExpectedResult: simplifyResult(a.Result),
		}
		if !a.Success {
			step.OnError = OnErrorContinue
		}
		if a.DurationMS > slowStepMS {
			step.TimeoutMS = int(a.DurationMS * timeoutMultiplier)
		}
		steps = append(steps, step)
	}
	return steps
}

func simplifyResult(result any) map[string]any {
	m, ok := result.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]any)
	for _, f := range essentialResultFields {
		if v, ok := m[f]; ok {
			out[f] = v
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// foldLoops collapses contiguous repeats of the shortest action pattern
// (1 to 10 steps, compared by action only) into loop steps.
func foldLoops(steps []Step) []Step {
	var out []Step
	for i := 0; i < len(steps); {
		length := patternLength(steps, i)
		if length == 0 {
			out = append(out, steps[i])
			i++
			continue
		}

		repeats := countRepeats(steps, i, length)
		body := make([]Step, length)
		copy(body, steps[i:i+length])
		for j := range body {
			body[j].Step = j + 1
		}
		out = append(out, Step{
			Step:       len(out) + 1,
			Action:     LoopAction,
			Iterations: repeats,
			Steps:      body,
		})
		i += length * repeats
	}
	return out
}

// patternLength returns the shortest pattern starting at i that is repeated
// right after itself, or 0. A single step repeated as exact copies is not a
// loop: it reports 0 so the duplicate pass drops the copies.
func patternLength(steps []Step, i int) int {
	limit := min(maxPatternLength, (len(steps)-i)/2)
	for length := 1; length <= limit; length++ {
		if !repeatsAt(steps, i, length) {
			continue
		}
		if length == 1 && exactRun(steps, i) {
			return 0
		}
		return length
	}
	return 0
}

func repeatsAt(steps []Step, i, length int) bool {
	if i+2*length > len(steps) {
		return false
	}
	for j := 0; j < length; j++ {
		if steps[i+j].Action != steps[i+length+j].Action {
			return false
		}
	}
	return true
}

// exactRun reports whether every step in the run of equal actions starting
// at i is an exact copy of the first.
func exactRun(steps []Step, i int) bool {
	for j := i + 1; j < len(steps) && steps[j].Action == steps[i].Action; j++ {
		if !steps[j].sameAs(steps[i]) {
			return false
		}
	}
	return true
}

func countRepeats(steps []Step, i, length int) int {
	count := 1
	for start := i + length; start+length <= len(steps); start += length {
		match := true
		for j := 0; j < length; j++ {
			if steps[start+j].Action != steps[i+j].Action {
				match = false
				break
			}
		}
		if !match {
			break
		}
		count++
	}
	return count
}

func dropAdjacentDuplicates(steps []Step) []Step {
	var out []Step
	for _, s := range steps {
		if n := len(out); n > 0 && out[n-1].sameAs(s) {
			log.Printf("Generator: dropping repeated step %s", s.Action)
			continue
		}
		out = append(out, s)
	}
	return out
}

// Actions lists the distinct actions a workflow uses, loops included.
func (w *Workflow) Actions() []string {
	seen := make(map[string]bool)
	var walk func([]Step)
	walk = func(steps []Step) {
		for _, s := range steps {
			if s.IsLoop() {
				walk(s.Steps)
				continue
			}
			seen[s.Action] = true
		}
	}
	walk(w.Steps)

	out := make([]string, 0, len(seen))
	for a := range seen {
		out = append(out, a)
	}
	sort.Strings(out)
	return out
}
