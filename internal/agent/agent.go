package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/rahul/operator/internal/observability"
	"github.com/rahul/operator/internal/store"
	"github.com/rahul/operator/internal/tools"
)

var (
	ErrAnalysisFailed   = errors.New("vision analysis failed")
	ErrInvalidThreshold = errors.New("confidence threshold must be in (0, 1]")
)

const (
	recallLimit       = 5
	defaultConfidence = 0.5
)

// Executor runs actions on the agent's behalf. The orchestrator is the
// production implementation.
type Executor interface {
	ExecuteAction(ctx context.Context, actionType tools.ActionType, tool string, params tools.Params) tools.Result
}

type Config struct {
	ConfidenceThreshold float64
	MaxRetries          int
	LearningEnabled     bool
	MaxIterations       int
	DefaultScreenshot   string
}

func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.7,
		MaxRetries:          3,
		LearningEnabled:     true,
		MaxIterations:       10,
		DefaultScreenshot:   "/tmp/current_screen.png",
	}
}

// ActionOutcome pairs an executed action with its result.
type ActionOutcome struct {
	Action   PlannedAction `json:"action"`
	Result   tools.Result  `json:"result"`
	Fallback bool          `json:"fallback,omitempty"`
}

// CycleResult is everything one ANALYZE..LEARN cycle produced.
type CycleResult struct {
	Goal       string          `json:"goal"`
	Analysis   tools.Analysis  `json:"analysis"`
	Plan       ActionPlan      `json:"plan"`
	Outcomes   []ActionOutcome `json:"outcomes"`
	Success    bool            `json:"success"`
	Confidence float64         `json:"confidence"`
	Learned    bool            `json:"learned"`
}

// TaskRecord is the history entry of a completed cycle.
type TaskRecord struct {
	Goal       string    `json:"goal"`
	Strategy   Strategy  `json:"strategy"`
	Confidence float64   `json:"confidence"`
	Success    bool      `json:"success"`
	Actions    int       `json:"actions"`
	Timestamp  time.Time `json:"timestamp"`
}

type Stats struct {
	TotalDecisions      int              `json:"total_decisions"`
	SuccessfulActions   int              `json:"successful_actions"`
	FailedActions       int              `json:"failed_actions"`
	ByStrategy          map[Strategy]int `json:"by_strategy"`
	CurrentTask         string           `json:"current_task,omitempty"`
	LearningEnabled     bool             `json:"learning_enabled"`
	ConfidenceThreshold float64          `json:"confidence_threshold"`
}

// Agent runs goal-driven decision cycles through an Executor. Cycles of one
// agent never overlap.
type Agent struct {
	exec    Executor
	prompts *PromptManager
	events  *observability.Logger
	cfg     Config

	run     sync.Mutex
	mu      sync.Mutex
	history []TaskRecord
	current string
}

func New(exec Executor, prompts *PromptManager, events *observability.Logger, cfg Config) (*Agent, error) {
	if exec == nil {
		return nil, fmt.Errorf("agent needs an executor")
	}
	if cfg.ConfidenceThreshold <= 0 || cfg.ConfidenceThreshold > 1 {
		return nil, fmt.Errorf("%w: got %v", ErrInvalidThreshold, cfg.ConfidenceThreshold)
	}
	if cfg.MaxIterations <= 0 {
		cfg.MaxIterations = DefaultConfig().MaxIterations
	}
	log.Printf("Agent initialized (confidence_threshold=%.2f)", cfg.ConfidenceThreshold)
	return &Agent{exec: exec, prompts: prompts, events: events, cfg: cfg}, nil
}

// AnalyzeAndAct runs one full cycle for goal against the given screenshot.
// Only a failed analysis is an error; everything after it degrades or is
// reported in the result.
func (a *Agent) AnalyzeAndAct(ctx context.Context, screenshot, goal string) (*CycleResult, error) {
	a.run.Lock()
	defer a.run.Unlock()
	defer observability.SetStatus(observability.PhaseIdle, "")
	return a.cycle(ctx, screenshot, goal)
}

func (a *Agent) cycle(ctx context.Context, screenshot, goal string) (*CycleResult, error) {
	a.setCurrent(goal)
	defer a.setCurrent("")

	observability.SetStatus(observability.PhaseAnalyze, goal)
	analysis, err := a.analyze(ctx, screenshot, goal)
	if err != nil {
		return nil, err
	}

	observability.SetStatus(observability.PhaseRecall, goal)
	experiences := a.recall(ctx, goal)

	observability.SetStatus(observability.PhaseDecide, goal)
	plan := Decide(goal, analysis, experiences, a.cfg.ConfidenceThreshold)
	log.Printf("Agent: using %s strategy (confidence: %.2f)", plan.Strategy, plan.Confidence)
	a.events.LogDecision(goal, string(plan.Strategy), plan.Confidence, len(plan.Actions), len(plan.FallbackActions))

	observability.SetStatus(observability.PhaseExecute, goal)
	outcomes, success := a.execute(ctx, plan, screenshot)

	res := &CycleResult{
		Goal:       goal,
		Analysis:   analysis,
		Plan:       plan,
		Outcomes:   outcomes,
		Success:    success,
		Confidence: analysis.Confidence,
	}

	if a.cfg.LearningEnabled {
		observability.SetStatus(observability.PhaseLearn, goal)
		res.Learned = a.learn(ctx, plan, success)
	}

	a.mu.Lock()
	a.history = append(a.history, TaskRecord{
		Goal:       goal,
		Strategy:   plan.Strategy,
		Confidence: plan.Confidence,
		Success:    success,
		Actions:    len(outcomes),
		Timestamp:  time.Now(),
	})
	a.mu.Unlock()
	return res, nil
}

func (a *Agent) analyze(ctx context.Context, screenshot, goal string) (tools.Analysis, error) {
	log.Printf("Agent: analyzing situation for goal: %s", goal)
	res := a.exec.ExecuteAction(ctx, tools.ActionVision, "analyze_screen", tools.Params{
		"screenshot_path": screenshot,
		"prompt":          a.prompts.AnalysisPrompt(goal),
	})
	if !res.Success {
		return tools.Analysis{}, fmt.Errorf("%w: %s", ErrAnalysisFailed, res.Error)
	}
	analysis, err := decodeAnalysis(res.Output)
	if err != nil {
		return tools.Analysis{}, fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}
	return analysis, nil
}

func (a *Agent) recall(ctx context.Context, goal string) []store.Experience {
	res := a.exec.ExecuteAction(ctx, tools.ActionMemory, "search", tools.Params{
		"query": goal,
		"kind":  string(store.KindWorkflow),
		"limit": recallLimit,
	})
	if !res.Success {
		log.Printf("Warning: Memory search failed: %s", res.Error)
		return nil
	}
	var found store.SearchResult
	switch out := res.Output.(type) {
	case store.SearchResult:
		found = out
	case *store.SearchResult:
		found = *out
	default:
		if err := decode(out, &found); err != nil {
			log.Printf("Warning: Unreadable memory search result: %v", err)
			return nil
		}
	}
	return found.Results
}

// execute runs the primary actions until one fails, then the fallbacks until
// one succeeds. Every result is kept.
func (a *Agent) execute(ctx context.Context, plan ActionPlan, screenshot string) ([]ActionOutcome, bool) {
	var outcomes []ActionOutcome
	success := true
	for _, act := range plan.Actions {
		res := a.exec.ExecuteAction(ctx, act.ActionType, act.ToolName, withScreenshot(act, screenshot))
		outcomes = append(outcomes, ActionOutcome{Action: act, Result: res})
		if !res.Success {
			log.Printf("Warning: Action failed: %s: %s", act, res.Error)
			success = false
			break
		}
	}
	if success || len(plan.FallbackActions) == 0 {
		return outcomes, success
	}

	log.Printf("Agent: attempting %d fallback actions", len(plan.FallbackActions))
	for _, act := range plan.FallbackActions {
		res := a.exec.ExecuteAction(ctx, act.ActionType, act.ToolName, withScreenshot(act, screenshot))
		outcomes = append(outcomes, ActionOutcome{Action: act, Result: res, Fallback: true})
		if res.Success {
			return outcomes, true
		}
	}
	return outcomes, false
}

// withScreenshot points screen analyses without a screenshot of their own
// at the cycle's screenshot.
func withScreenshot(act PlannedAction, screenshot string) tools.Params {
	params := act.Parameters.Clone()
	if act.ActionType == tools.ActionVision && params.String("screenshot_path") == "" && screenshot != "" {
		params["screenshot_path"] = screenshot
	}
	return params
}

func (a *Agent) learn(ctx context.Context, plan ActionPlan, success bool) bool {
	res := a.exec.ExecuteAction(ctx, tools.ActionMemory, "store_workflow", tools.Params{
		"content":       fmt.Sprintf("Goal: %s, Strategy: %s", plan.Goal, plan.Strategy),
		"workflow_name": "auto_" + strings.ReplaceAll(plan.Goal, " ", "_"),
		"steps":         toSteps(plan.Actions),
		"success":       success,
		"metadata": map[string]any{
			"confidence": plan.Confidence,
			"strategy":   string(plan.Strategy),
		},
	})
	if !res.Success {
		log.Printf("Warning: Failed to learn from result: %s", res.Error)
	} else {
		log.Printf("Agent: learned from result: goal=%s, success=%v", plan.Goal, success)
	}
	a.events.LogLearn(plan.Goal, success, res.Success)
	return res.Success
}

func (a *Agent) setCurrent(goal string) {
	a.mu.Lock()
	a.current = goal
	a.mu.Unlock()
}

// History returns a copy of the completed cycles.
func (a *Agent) History() []TaskRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]TaskRecord(nil), a.history...)
}

func (a *Agent) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	st := Stats{
		TotalDecisions:      len(a.history),
		ByStrategy:          map[Strategy]int{},
		CurrentTask:         a.current,
		LearningEnabled:     a.cfg.LearningEnabled,
		ConfidenceThreshold: a.cfg.ConfidenceThreshold,
	}
	for _, t := range a.history {
		if t.Success {
			st.SuccessfulActions++
		} else {
			st.FailedActions++
		}
		st.ByStrategy[t.Strategy]++
	}
	return st
}

// decodeAnalysis accepts the analyzer's own type or any JSON-shaped value.
// A missing confidence counts as 0.5.
func decodeAnalysis(out any) (tools.Analysis, error) {
	switch v := out.(type) {
	case tools.Analysis:
		return v, nil
	case *tools.Analysis:
		if v == nil {
			return tools.Analysis{}, fmt.Errorf("empty analysis")
		}
		return *v, nil
	}

	var raw struct {
		tools.Analysis
		Confidence *float64 `json:"confidence"`
	}
	if err := decode(out, &raw); err != nil {
		return tools.Analysis{}, err
	}
	analysis := raw.Analysis
	analysis.Confidence = defaultConfidence
	if raw.Confidence != nil {
		analysis.Confidence = *raw.Confidence
	}
	return analysis, nil
}

func decode(src, dst any) error {
	data, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, dst)
}
