package agent

import (
	"fmt"

	"github.com/rahul/operator/internal/store"
	"github.com/rahul/operator/internal/tools"
)

// Strategy is how a decision cycle chose its actions.
type Strategy string

const (
	StrategyProven      Strategy = "proven"
	StrategyExploratory Strategy = "exploratory"
	StrategyCautious    Strategy = "cautious"
)

const cautiousPrompt = "Provide detailed analysis of all interactive elements"

// PlannedAction is one action the agent intends to run.
type PlannedAction struct {
	ActionType tools.ActionType `json:"action_type"`
	ToolName   string           `json:"tool_name"`
	Parameters tools.Params     `json:"parameters"`
}

func (a PlannedAction) String() string {
	return fmt.Sprintf("%s.%s", a.ActionType, a.ToolName)
}

// ActionPlan is the outcome of DECIDE. It lives for one cycle only.
type ActionPlan struct {
	Goal            string          `json:"goal"`
	Confidence      float64         `json:"confidence"`
	Strategy        Strategy        `json:"strategy"`
	Actions         []PlannedAction `json:"actions"`
	FallbackActions []PlannedAction `json:"fallback_actions,omitempty"`
}

// Decide picks a strategy and its actions:
//
//	confidence >= threshold with a successful experience -> proven
//	confidence >= threshold without one                  -> exploratory
//	confidence <  threshold                              -> cautious
//
// Proven replays the steps of the most relevant successful experience as
// they were stored. Only learned plans count: single-action summaries and
// plans that were themselves a cautious re-analysis are skipped.
func Decide(goal string, analysis tools.Analysis, experiences []store.Experience, threshold float64) ActionPlan {
	plan := ActionPlan{Goal: goal, Confidence: analysis.Confidence}

	if analysis.Confidence < threshold {
		plan.Strategy = StrategyCautious
		plan.Actions = []PlannedAction{{
			ActionType: tools.ActionVision,
			ToolName:   "analyze_screen",
			Parameters: tools.Params{"prompt": cautiousPrompt},
		}}
		plan.FallbackActions = []PlannedAction{{
			ActionType: tools.ActionMemory,
			ToolName:   "search",
			Parameters: tools.Params{"query": "alternative approaches for " + goal, "limit": 3},
		}}
		return plan
	}

	for _, exp := range experiences {
		if replayable(exp) {
			plan.Strategy = StrategyProven
			plan.Actions = actionsFromMemory(exp)
			return plan
		}
	}

	plan.Strategy = StrategyExploratory
	plan.Actions = actionsFromAnalysis(analysis)
	return plan
}

func replayable(exp store.Experience) bool {
	if !exp.Success || exp.Kind == store.KindAction {
		return false
	}
	strategy, _ := exp.Metadata["strategy"].(string)
	return strategy != string(StrategyCautious)
}

func actionsFromMemory(exp store.Experience) []PlannedAction {
	if len(exp.Steps) == 0 {
		return []PlannedAction{{
			ActionType: tools.ActionMemory,
			ToolName:   "get",
			Parameters: tools.Params{"memory_id": exp.ID},
		}}
	}
	out := make([]PlannedAction, 0, len(exp.Steps))
	for _, s := range exp.Steps {
		out = append(out, PlannedAction{
			ActionType: tools.ActionType(s.ActionType),
			ToolName:   s.ToolName,
			Parameters: tools.Params(s.Parameters).Clone(),
		})
	}
	return out
}

func actionsFromAnalysis(analysis tools.Analysis) []PlannedAction {
	out := make([]PlannedAction, 0, len(analysis.RecommendedActions))
	for _, rec := range analysis.RecommendedActions {
		a := PlannedAction{
			ActionType: tools.ActionType(rec.Type),
			ToolName:   rec.Tool,
			Parameters: rec.Parameters.Clone(),
		}
		if a.ActionType == "" {
			a.ActionType = tools.ActionBrowser
		}
		if a.ToolName == "" {
			a.ToolName = "click"
		}
		out = append(out, a)
	}
	return out
}

func toSteps(actions []PlannedAction) []store.Step {
	steps := make([]store.Step, 0, len(actions))
	for _, a := range actions {
		steps = append(steps, store.Step{
			ActionType: string(a.ActionType),
			ToolName:   a.ToolName,
			Parameters: a.Parameters,
		})
	}
	return steps
}
