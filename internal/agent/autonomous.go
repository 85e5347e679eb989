package agent

import (
	"context"
	"log"

	"github.com/rahul/operator/internal/observability"
	"github.com/rahul/operator/internal/tools"
)

// achievedConfidence is the analysis confidence a successful cycle needs
// before the goal counts as reached.
const achievedConfidence = 0.8

type IterationResult struct {
	Iteration  int          `json:"iteration"`
	Screenshot string       `json:"screenshot"`
	Cycle      *CycleResult `json:"cycle,omitempty"`
	Error      string       `json:"error,omitempty"`
}

type GoalResult struct {
	Goal       string            `json:"goal"`
	Achieved   bool              `json:"achieved"`
	Iterations int               `json:"iterations"`
	History    []IterationResult `json:"history"`
	Cancelled  bool              `json:"cancelled,omitempty"`
	// StoppedEarly is set when MaxRetries consecutive cycles failed to
	// analyze the screen.
	StoppedEarly bool `json:"stopped_early,omitempty"`
}

// ExecuteGoalAutonomously repeats decision cycles until a cycle succeeds
// with confidence above 0.8 or maxIterations is reached. Every iteration
// after the first takes a fresh screenshot. ctx is checked between
// iterations only. Running out of iterations is not an error.
func (a *Agent) ExecuteGoalAutonomously(ctx context.Context, goal, initialScreenshot string, maxIterations int) GoalResult {
	a.run.Lock()
	defer a.run.Unlock()
	defer observability.SetStatus(observability.PhaseIdle, "")

	if maxIterations <= 0 {
		maxIterations = a.cfg.MaxIterations
	}
	log.Printf("Agent: starting autonomous execution of goal: %s", goal)

	res := GoalResult{Goal: goal, History: []IterationResult{}}
	screenshot := initialScreenshot
	failures := 0

	for res.Iterations < maxIterations {
		if ctx.Err() != nil {
			res.Cancelled = true
			break
		}
		res.Iterations++
		log.Printf("Agent: iteration %d/%d", res.Iterations, maxIterations)

		if screenshot == "" {
			screenshot = a.captureScreen(ctx)
		}
		it := IterationResult{Iteration: res.Iterations, Screenshot: screenshot}

		cycle, err := a.cycle(ctx, screenshot, goal)
		if err != nil {
			log.Printf("Warning: Iteration %d failed: %v", res.Iterations, err)
			it.Error = err.Error()
			res.History = append(res.History, it)
			failures++
			if a.cfg.MaxRetries > 0 && failures >= a.cfg.MaxRetries {
				res.StoppedEarly = true
				break
			}
			screenshot = ""
			continue
		}
		failures = 0
		it.Cycle = cycle
		res.History = append(res.History, it)

		if cycle.Success && cycle.Confidence > achievedConfidence {
			res.Achieved = true
			log.Printf("Agent: goal achieved after %d iterations", res.Iterations)
			break
		}
		screenshot = ""
	}

	a.events.LogGoal(goal, res.Achieved, res.Iterations)
	return res
}

// captureScreen asks the hands domain for a desktop screenshot and falls
// back to the configured default path.
func (a *Agent) captureScreen(ctx context.Context) string {
	res := a.exec.ExecuteAction(ctx, tools.ActionHands, "screenshot", tools.Params{})
	if res.Success {
		if out, ok := res.Output.(map[string]any); ok {
			if path, ok := out["path"].(string); ok && path != "" {
				return path
			}
		}
	}
	if res.Error != "" {
		log.Printf("Warning: Screenshot failed, using %s: %s", a.cfg.DefaultScreenshot, res.Error)
	}
	return a.cfg.DefaultScreenshot
}
