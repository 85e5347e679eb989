package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/operator/internal/governance"
	"github.com/rahul/operator/internal/observability"
	"github.com/rahul/operator/internal/recorder"
	"github.com/rahul/operator/internal/store"
	"github.com/rahul/operator/internal/tools"
	"github.com/rahul/operator/internal/workflow"
)

type call struct {
	tool   string
	params tools.Params
}

type fakeHandler struct {
	mu     sync.Mutex
	domain tools.ActionType
	calls  []call
	fn     func(ctx context.Context, tool string, params tools.Params) (any, error)
}

func (h *fakeHandler) Domain() tools.ActionType { return h.domain }

func (h *fakeHandler) Tools() []string { return nil }

func (h *fakeHandler) Execute(ctx context.Context, tool string, params tools.Params) (any, error) {
	h.mu.Lock()
	h.calls = append(h.calls, call{tool, params})
	h.mu.Unlock()
	if h.fn != nil {
		return h.fn(ctx, tool, params)
	}
	return map[string]any{"status": "ok"}, nil
}

func (h *fakeHandler) Calls() []call {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]call(nil), h.calls...)
}

type fakeMemory struct {
	mu     sync.Mutex
	stored []store.ActionMemory
	err    error
}

func (m *fakeMemory) StoreAction(ctx context.Context, mem store.ActionMemory) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.stored = append(m.stored, mem)
	return "mem-1", nil
}

func (m *fakeMemory) Stored() []store.ActionMemory {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]store.ActionMemory(nil), m.stored...)
}

type fixture struct {
	orch     *Orchestrator
	rec      *recorder.Recorder
	mem      *fakeMemory
	browser  *fakeHandler
	hands    *fakeHandler
	registry *tools.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	rec, err := recorder.New(recorder.Config{StorageDir: t.TempDir()})
	require.NoError(t, err)

	f := &fixture{
		rec:      rec,
		mem:      &fakeMemory{},
		browser:  &fakeHandler{domain: tools.ActionBrowser},
		hands:    &fakeHandler{domain: tools.ActionHands},
		registry: tools.NewRegistry(),
	}
	f.registry.Register(f.browser)
	f.registry.Register(f.hands)
	f.orch = New(Components{
		Registry:  f.registry,
		Validator: governance.NewDefaultValidator(true),
		Recorder:  rec,
		Memory:    f.mem,
	})
	return f
}

func TestExecuteAction_BlockedHasNoSideEffects(t *testing.T) {
	f := newFixture(t)
	id, err := f.orch.StartRecording("blocked", nil)
	require.NoError(t, err)

	res := f.orch.ExecuteAction(context.Background(), tools.ActionHands, "type", tools.Params{"command": "rm -rf /"})
	f.orch.Wait()

	assert.True(t, res.Blocked)
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "security validation failed: parameter 'command'")
	assert.Empty(t, f.hands.Calls())
	assert.Empty(t, f.mem.Stored())

	stopped, ok, err := f.orch.StopRecording()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, id, stopped)
	s, err := f.rec.LoadSession(id)
	require.NoError(t, err)
	assert.Empty(t, s.Actions)
}

func TestExecuteAction_ValidatesEveryStringParameter(t *testing.T) {
	f := newFixture(t)

	res := f.orch.ExecuteAction(context.Background(), tools.ActionBrowser, "navigate", tools.Params{
		"url":   "javascript:alert(1)",
		"count": 3,
	})
	assert.True(t, res.Blocked)
	assert.Contains(t, res.Error, "parameter 'url'")
	assert.Empty(t, f.browser.Calls())
}

func TestExecuteAction_UnknownType(t *testing.T) {
	f := newFixture(t)
	res := f.orch.ExecuteAction(context.Background(), tools.ActionType("teleport"), "go", nil)
	assert.False(t, res.Success)
	assert.False(t, res.Blocked)
	assert.Contains(t, res.Error, tools.ErrUnknownAction.Error())
}

func TestExecuteAction_MissingHandler(t *testing.T) {
	f := newFixture(t)
	res := f.orch.ExecuteAction(context.Background(), tools.ActionVision, "analyze_screen", tools.Params{})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, tools.ErrHandlerUnavailable.Error())
}

func TestExecuteAction_SuccessIsRecordedAndRemembered(t *testing.T) {
	f := newFixture(t)
	id, err := f.orch.StartRecording("ok", nil)
	require.NoError(t, err)

	res := f.orch.ExecuteAction(context.Background(), tools.ActionBrowser, "navigate", tools.Params{"url": "https://example.com"})
	f.orch.Wait()
	require.True(t, res.Success)
	assert.Equal(t, map[string]any{"status": "ok"}, res.Output)

	stored := f.mem.Stored()
	require.Len(t, stored, 1)
	assert.Equal(t, "browser.navigate: map[url:https://example.com]", stored[0].Content)
	assert.Equal(t, "browser", stored[0].ActionType)
	assert.Equal(t, "navigate", stored[0].ToolName)

	_, _, err = f.orch.StopRecording()
	require.NoError(t, err)
	s, err := f.rec.LoadSession(id)
	require.NoError(t, err)
	require.Len(t, s.Actions, 1)
	assert.True(t, s.Actions[0].Success)
	assert.Equal(t, "ok", s.Actions[0].Result.(map[string]any)["status"])
}

func TestExecuteAction_FailureIsRecordedNotRemembered(t *testing.T) {
	f := newFixture(t)
	f.browser.fn = func(ctx context.Context, tool string, params tools.Params) (any, error) {
		return nil, errors.New("element not found")
	}
	id, err := f.orch.StartRecording("fail", nil)
	require.NoError(t, err)

	res := f.orch.ExecuteAction(context.Background(), tools.ActionBrowser, "click", tools.Params{"selector": "#missing"})
	f.orch.Wait()
	assert.False(t, res.Success)
	assert.Equal(t, "element not found", res.Error)
	assert.Empty(t, f.mem.Stored())

	_, _, err = f.orch.StopRecording()
	require.NoError(t, err)
	s, err := f.rec.LoadSession(id)
	require.NoError(t, err)
	require.Len(t, s.Actions, 1)
	assert.False(t, s.Actions[0].Success)
	assert.Equal(t, "element not found", s.Actions[0].Error)
}

func TestExecuteAction_MemoryFailureIsSwallowed(t *testing.T) {
	f := newFixture(t)
	f.mem.err = errors.New("disk full")
	res := f.orch.ExecuteAction(context.Background(), tools.ActionHands, "click", tools.Params{"button": 1})
	f.orch.Wait()
	assert.True(t, res.Success)
}

func TestExecuteAction_PolicyDeny(t *testing.T) {
	f := newFixture(t)
	policy, err := governance.NewPolicyEngine([]string{"hands.run_command"}, []string{`(?i)password`})
	require.NoError(t, err)
	f.orch.policy = policy

	res := f.orch.ExecuteAction(context.Background(), tools.ActionHands, "run_command", tools.Params{"command": "ls"})
	assert.True(t, res.Blocked)
	assert.Contains(t, res.Error, "restricted by system policy")

	res = f.orch.ExecuteAction(context.Background(), tools.ActionHands, "type", tools.Params{"text": "my Password"})
	assert.True(t, res.Blocked)
	assert.Empty(t, f.hands.Calls())
}

func TestExecuteAction_RateLimit(t *testing.T) {
	f := newFixture(t)
	f.orch.limiter = NewRateLimiter(map[tools.ActionType]Limit{tools.ActionBrowser: {PerMinute: 1, Burst: 1}})

	first := f.orch.ExecuteAction(context.Background(), tools.ActionBrowser, "reload", nil)
	second := f.orch.ExecuteAction(context.Background(), tools.ActionBrowser, "reload", nil)
	other := f.orch.ExecuteAction(context.Background(), tools.ActionHands, "click", nil)

	assert.True(t, first.Success)
	assert.True(t, second.Blocked)
	assert.Contains(t, second.Error, "rate limit exceeded")
	assert.True(t, other.Success)
	f.orch.Wait()
}

func TestRecordingControl_WithoutRecorder(t *testing.T) {
	o := New(Components{})

	_, err := o.StartRecording("x", nil)
	assert.ErrorIs(t, err, ErrRecorderUnavailable)

	_, ok, err := o.StopRecording()
	assert.NoError(t, err)
	assert.False(t, ok)

	st := o.Status()
	assert.False(t, st.Components.Recorder)
	assert.False(t, st.Components.Security)
	assert.False(t, st.Recording.IsRecording)
}

func TestStatus(t *testing.T) {
	f := newFixture(t)
	f.registry.RegisterFactory(tools.ActionVision, func(ctx context.Context) (tools.Handler, error) {
		return &fakeHandler{domain: tools.ActionVision}, nil
	})

	st := f.orch.Status()
	assert.True(t, st.Components.Browser)
	assert.True(t, st.Components.Hands)
	assert.True(t, st.Components.Memory)
	assert.True(t, st.Components.Security)
	assert.False(t, st.Components.Vision)

	id, err := f.orch.StartRecording("status", nil)
	require.NoError(t, err)
	f.orch.ExecuteAction(context.Background(), tools.ActionVision, "analyze_screen", nil)
	f.orch.Wait()

	st = f.orch.Status()
	assert.True(t, st.Components.Vision)
	assert.Equal(t, RecordingStatus{IsRecording: true, SessionID: id}, st.Recording)

	_, ok, err := f.orch.StopRecording()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, f.orch.Status().Recording.IsRecording)
}

func TestReplayWorkflow(t *testing.T) {
	f := newFixture(t)
	f.hands.fn = func(ctx context.Context, tool string, params tools.Params) (any, error) {
		if tool == "key_press" {
			return nil, errors.New("no display")
		}
		return map[string]any{"status": "ok"}, nil
	}

	wf := &workflow.Workflow{
		Name:      "search",
		Variables: map[string]workflow.Variable{"var_1": {Value: "https://example.com", Type: "string"}},
		Steps: []workflow.Step{
			{Step: 1, Action: "browser.navigate", Parameters: map[string]any{"url": "${var_1}"}},
			{Step: 2, Action: workflow.LoopAction, Iterations: 2, Steps: []workflow.Step{
				{Step: 1, Action: "hands.type", Parameters: map[string]any{"text": "${term}"}},
				{Step: 2, Action: "hands.key_press", Parameters: map[string]any{"key": "Return"}, OnError: workflow.OnErrorContinue},
			}},
			{Step: 3, Action: "hands.key_press", Parameters: map[string]any{"key": "Escape"}},
			{Step: 4, Action: "browser.reload"},
		},
	}

	report, err := f.orch.ReplayWorkflow(context.Background(), wf, map[string]any{"term": "golang"})
	f.orch.Wait()
	require.NoError(t, err)

	assert.False(t, report.Success)
	require.Len(t, report.Steps, 6)
	assert.Equal(t, "https://example.com", f.browser.Calls()[0].params["url"])
	assert.Equal(t, "golang", f.hands.Calls()[0].params["text"])
	assert.Equal(t, 2, report.Steps[3].Iteration)
	assert.Equal(t, 3, report.Steps[5].Step)
	assert.False(t, report.Steps[5].Result.Success)
	assert.Len(t, f.browser.Calls(), 1, "replay stops at the failed step")
}

func TestReplayWorkflow_TimeoutHintAndCancel(t *testing.T) {
	f := newFixture(t)
	var hadDeadline bool
	f.browser.fn = func(ctx context.Context, tool string, params tools.Params) (any, error) {
		_, hadDeadline = ctx.Deadline()
		return map[string]any{"status": "ok"}, nil
	}
	wf := &workflow.Workflow{Name: "slow", Steps: []workflow.Step{
		{Step: 1, Action: "browser.reload", TimeoutMS: 3000},
	}}

	report, err := f.orch.ReplayWorkflow(context.Background(), wf, nil)
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.True(t, hadDeadline)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	report, err = f.orch.ReplayWorkflow(ctx, wf, nil)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, report.Steps)
	f.orch.Wait()
}

func TestReplayWorkflow_BadStep(t *testing.T) {
	f := newFixture(t)
	_, err := f.orch.ReplayWorkflow(context.Background(), &workflow.Workflow{Steps: []workflow.Step{
		{Step: 1, Action: "browser.navigate", Parameters: map[string]any{"url": "${missing}"}},
	}}, nil)
	assert.Error(t, err)

	_, err = f.orch.ReplayWorkflow(context.Background(), &workflow.Workflow{Steps: []workflow.Step{
		{Step: 1, Action: "nonsense"},
	}}, nil)
	assert.ErrorIs(t, err, workflow.ErrInvalidStep)
}

func TestReplayWorkflow_PublishesReplayPhase(t *testing.T) {
	f := newFixture(t)
	var phase observability.Phase
	var goal string
	f.browser.fn = func(ctx context.Context, tool string, params tools.Params) (any, error) {
		phase, goal, _ = observability.GetStatus()
		return map[string]any{"status": "ok"}, nil
	}

	_, err := f.orch.ReplayWorkflow(context.Background(), &workflow.Workflow{
		Name:  "nightly",
		Steps: []workflow.Step{{Step: 1, Action: "browser.reload"}},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, observability.PhaseReplay, phase)
	assert.Equal(t, "nightly", goal)
	after, _, _ := observability.GetStatus()
	assert.Equal(t, observability.PhaseIdle, after)
}
