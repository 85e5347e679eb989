package orchestrator

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/rahul/operator/internal/observability"
	"github.com/rahul/operator/internal/tools"
	"github.com/rahul/operator/internal/workflow"
)

// StepReport is the outcome of one executed workflow step. Iteration is set
// for steps run inside a loop.
type StepReport struct {
	Step      int          `json:"step"`
	Iteration int          `json:"iteration,omitempty"`
	Action    string       `json:"action"`
	Result    tools.Result `json:"result"`
}

type ReplayReport struct {
	Workflow string       `json:"workflow"`
	Success  bool         `json:"success"`
	Steps    []StepReport `json:"steps"`
}

// ReplayWorkflow executes wf through ExecuteAction. Variable references are
// resolved against the workflow's variables, with overrides taking
// precedence. A failed step stops the replay unless its on_error is
// "continue". Cancellation is checked between steps; the returned report
// always holds the steps that ran.
func (o *Orchestrator) ReplayWorkflow(ctx context.Context, wf *workflow.Workflow, overrides map[string]any) (*ReplayReport, error) {
	observability.SetStatus(observability.PhaseReplay, wf.Name)
	defer observability.SetStatus(observability.PhaseIdle, "")

	report := &ReplayReport{Workflow: wf.Name, Steps: []StepReport{}}
	r := &replayer{o: o, wf: wf, bindings: wf.Bindings(overrides), report: report}

	ok, err := r.run(ctx, wf.Steps, 0)
	report.Success = ok && err == nil
	log.Printf("Orchestrator: replayed %s (%d steps, success=%v)", wf.Name, len(report.Steps), report.Success)
	return report, err
}

type replayer struct {
	o        *Orchestrator
	wf       *workflow.Workflow
	bindings map[string]any
	report   *ReplayReport
}

func (r *replayer) run(ctx context.Context, steps []workflow.Step, iteration int) (bool, error) {
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return false, err
		}

		if step.IsLoop() {
			for i := 1; i <= step.Iterations; i++ {
				ok, err := r.run(ctx, step.Steps, i)
				if err != nil || !ok {
					return ok, err
				}
			}
			continue
		}

		actionType, tool, err := step.Target()
		if err != nil {
			return false, fmt.Errorf("step %d: %w", step.Step, err)
		}
		params, err := workflow.Resolve(step.Parameters, r.bindings)
		if err != nil {
			return false, fmt.Errorf("step %d: %w", step.Step, err)
		}

		result := r.execute(ctx, step, actionType, tool, params)
		r.report.Steps = append(r.report.Steps, StepReport{
			Step:      step.Step,
			Iteration: iteration,
			Action:    step.Action,
			Result:    result,
		})
		r.o.events.LogReplay(r.wf.Name, step.Step, step.Action, result.Success)

		if !result.Success && step.OnError != workflow.OnErrorContinue {
			return false, nil
		}
	}
	return true, nil
}

func (r *replayer) execute(ctx context.Context, step workflow.Step, actionType tools.ActionType, tool string, params tools.Params) tools.Result {
	if step.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(step.TimeoutMS)*time.Millisecond)
		defer cancel()
	}
	return r.o.ExecuteAction(ctx, actionType, tool, params)
}
