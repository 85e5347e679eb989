package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/rahul/operator/internal/governance"
	"github.com/rahul/operator/internal/observability"
	"github.com/rahul/operator/internal/store"
	"github.com/rahul/operator/internal/tools"
)

var ErrRecorderUnavailable = errors.New("workflow recorder not available")

const memoryWriteTimeout = 10 * time.Second

// Recorder is the session capture the orchestrator drives.
type Recorder interface {
	StartRecording(name string, metadata map[string]any) (string, error)
	StopRecording() (string, error)
	ActiveSession() (string, bool)
	MarkActionStart(actionType tools.ActionType, tool string)
	CaptureAction(actionType tools.ActionType, tool string, params tools.Params, result any, success bool, errMsg string) string
}

// ActionMemory receives a summary of every successful action.
type ActionMemory interface {
	StoreAction(ctx context.Context, mem store.ActionMemory) (string, error)
}

// Components are the optional collaborators of an Orchestrator. Any of them
// may be nil; the orchestrator degrades instead of failing.
type Components struct {
	Registry  *tools.Registry
	Validator governance.Validator
	Policy    governance.PolicyEngine
	Limiter   *RateLimiter
	Recorder  Recorder
	Memory    ActionMemory
	Events    *observability.Logger
}

// Orchestrator gates, records and dispatches every tool action.
type Orchestrator struct {
	registry  *tools.Registry
	validator governance.Validator
	policy    governance.PolicyEngine
	limiter   *RateLimiter
	recorder  Recorder
	memory    ActionMemory
	events    *observability.Logger

	writes sync.WaitGroup
}

func New(c Components) *Orchestrator {
	if c.Registry == nil {
		c.Registry = tools.NewRegistry()
	}
	return &Orchestrator{
		registry:  c.Registry,
		validator: c.Validator,
		policy:    c.Policy,
		limiter:   c.Limiter,
		recorder:  c.Recorder,
		memory:    c.Memory,
		events:    c.Events,
	}
}

// ExecuteAction runs one tool action. Blocked calls never reach a handler,
// the recorder or memory. Everything that was dispatched is captured when a
// session is active, whether it succeeded or not.
func (o *Orchestrator) ExecuteAction(ctx context.Context, actionType tools.ActionType, tool string, params tools.Params) tools.Result {
	if !actionType.Valid() {
		return tools.Failed(fmt.Errorf("%w: %q", tools.ErrUnknownAction, actionType))
	}
	if params == nil {
		params = tools.Params{}
	}

	if reason, blocked := o.gate(ctx, actionType, tool, params); blocked {
		log.Printf("Orchestrator: blocked %s.%s: %s", actionType, tool, reason)
		o.events.LogBlocked(string(actionType), tool, reason)
		return tools.Blocked(reason)
	}

	sessionID, recording := o.activeSession()
	if recording {
		o.recorder.MarkActionStart(actionType, tool)
	}

	start := time.Now()
	output, err := o.dispatch(ctx, actionType, tool, params)
	elapsed := time.Since(start)

	result := tools.OK(output)
	if err != nil {
		result = tools.Failed(err)
	}

	if recording {
		o.recorder.CaptureAction(actionType, tool, params, result.Output, result.Success, result.Error)
	}
	o.events.LogAction(sessionID, string(actionType), tool, result.Success, elapsed, result.Error)

	if result.Success {
		o.remember(ctx, actionType, tool, params)
	}
	return result
}

// gate runs the policy, per-parameter validation and rate checks in that
// order and reports the first refusal.
func (o *Orchestrator) gate(ctx context.Context, actionType tools.ActionType, tool string, params tools.Params) (string, bool) {
	if o.policy != nil {
		args, err := json.Marshal(params)
		if err != nil {
			return fmt.Sprintf("policy check failed: %v", err), true
		}
		sessionID, _ := o.activeSession()
		res, err := o.policy.Evaluate(ctx, governance.Request{
			Tool:      string(actionType) + "." + tool,
			Arguments: string(args),
			SessionID: sessionID,
		})
		if err != nil {
			return fmt.Sprintf("policy check failed: %v", err), true
		}
		if res.Effect == governance.EffectDeny {
			return res.Reason, true
		}
	}

	if o.validator != nil {
		for _, name := range params.Keys() {
			value, ok := params[name].(string)
			if !ok {
				continue
			}
			if ok, reason := o.validator.Validate(value, governance.DetectInputClass(name)); !ok {
				return fmt.Sprintf("security validation failed: parameter '%s': %s", name, reason), true
			}
		}
	}

	if !o.limiter.Allow(actionType) {
		return fmt.Sprintf("rate limit exceeded for %s actions", actionType), true
	}
	return "", false
}

func (o *Orchestrator) dispatch(ctx context.Context, actionType tools.ActionType, tool string, params tools.Params) (any, error) {
	switch actionType {
	case tools.ActionVision, tools.ActionBrowser, tools.ActionHands, tools.ActionMemory:
		h, err := o.ensure(ctx, actionType)
		if err != nil {
			return nil, err
		}
		return h.Execute(ctx, tool, params)
	default:
		return nil, fmt.Errorf("%w: %q", tools.ErrUnknownAction, actionType)
	}
}

// ensure returns the handler for a domain, initializing it on first use.
func (o *Orchestrator) ensure(ctx context.Context, actionType tools.ActionType) (tools.Handler, error) {
	return o.registry.Get(ctx, actionType)
}

func (o *Orchestrator) activeSession() (string, bool) {
	if o.recorder == nil {
		return "", false
	}
	return o.recorder.ActiveSession()
}

// remember stores a summary of a successful action in the background.
// Failures are logged only.
func (o *Orchestrator) remember(ctx context.Context, actionType tools.ActionType, tool string, params tools.Params) {
	if o.memory == nil {
		return
	}
	mem := store.ActionMemory{
		Content:    fmt.Sprintf("%s.%s: %v", actionType, tool, map[string]any(params)),
		ActionType: string(actionType),
		ToolName:   tool,
		Parameters: params.Clone(),
		Success:    true,
	}

	o.writes.Add(1)
	go func() {
		defer o.writes.Done()
		wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), memoryWriteTimeout)
		defer cancel()
		if _, err := o.memory.StoreAction(wctx, mem); err != nil {
			log.Printf("Orchestrator: failed to store %s.%s in memory: %v", actionType, tool, err)
		}
	}()
}

// Wait blocks until background memory writes have finished.
func (o *Orchestrator) Wait() {
	o.writes.Wait()
}

func (o *Orchestrator) StartRecording(name string, metadata map[string]any) (string, error) {
	if o.recorder == nil {
		return "", ErrRecorderUnavailable
	}
	id, err := o.recorder.StartRecording(name, metadata)
	if err != nil {
		return "", err
	}
	log.Printf("Orchestrator: started recording %s", id)
	return id, nil
}

// StopRecording seals the active session. It returns false when nothing was
// being recorded.
func (o *Orchestrator) StopRecording() (string, bool, error) {
	if _, ok := o.activeSession(); !ok {
		log.Printf("Orchestrator: no active recording")
		return "", false, nil
	}
	id, err := o.recorder.StopRecording()
	if err != nil {
		return "", false, err
	}
	log.Printf("Orchestrator: stopped recording %s", id)
	return id, true, nil
}
