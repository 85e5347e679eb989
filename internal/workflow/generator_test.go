package workflow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/operator/internal/recorder"
	"github.com/rahul/operator/internal/tools"
)

func sealed(actions ...recorder.Action) *recorder.Session {
	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(time.Minute)
	return &recorder.Session{
		ID:        "session_1_test",
		Name:      "test",
		StartedAt: start,
		EndedAt:   &end,
		Metadata:  map[string]any{"owner": "ops"},
		Actions:   actions,
	}
}

func act(t tools.ActionType, tool string, params tools.Params) recorder.Action {
	return recorder.Action{ActionType: t, ToolName: tool, Parameters: params, Success: true}
}

func TestGenerate_RejectsOpenSession(t *testing.T) {
	s := sealed()
	s.EndedAt = nil
	_, err := NewGenerator().Generate(s, "")
	assert.ErrorIs(t, err, ErrSessionNotSealed)
}

func TestGenerate_OneVariableSharedByAllSteps(t *testing.T) {
	g := &Generator{ExtractVariables: true}
	wf, err := g.Generate(sealed(
		act(tools.ActionBrowser, "type", tools.Params{"text": "foo"}),
		act(tools.ActionBrowser, "type", tools.Params{"text": "foo"}),
		act(tools.ActionBrowser, "type", tools.Params{"text": "foo"}),
	), "")
	require.NoError(t, err)

	require.Len(t, wf.Variables, 1)
	assert.Equal(t, Variable{Value: "foo", Description: "Extracted from browser.type text", Type: "string"}, wf.Variables["var_1"])
	require.Len(t, wf.Steps, 3)
	for _, s := range wf.Steps {
		assert.Equal(t, "${var_1}", s.Parameters["text"])
	}
}

func TestGenerate_MostFrequentValueWithFirstSeenTies(t *testing.T) {
	g := &Generator{ExtractVariables: true}
	wf, err := g.Generate(sealed(
		act(tools.ActionHands, "click", tools.Params{"button": 1}),
		act(tools.ActionHands, "click", tools.Params{"button": 3}),
		act(tools.ActionHands, "click", tools.Params{"button": 3}),
		act(tools.ActionBrowser, "navigate", tools.Params{"url": "https://a.example"}),
		act(tools.ActionBrowser, "navigate", tools.Params{"url": "https://b.example"}),
	), "")
	require.NoError(t, err)

	require.Len(t, wf.Variables, 2)
	assert.Equal(t, 3.0, wf.Variables["var_1"].Value)
	assert.Equal(t, "number", wf.Variables["var_1"].Type)
	assert.Equal(t, "https://a.example", wf.Variables["var_2"].Value)

	assert.Equal(t, 1, wf.Steps[0].Parameters["button"])
	assert.Equal(t, "${var_1}", wf.Steps[1].Parameters["button"])
	assert.Equal(t, "${var_2}", wf.Steps[3].Parameters["url"])
	assert.Equal(t, "https://b.example", wf.Steps[4].Parameters["url"])
}

func TestGenerate_StepFields(t *testing.T) {
	slow := act(tools.ActionBrowser, "navigate", tools.Params{"url": "https://example.com"})
	slow.DurationMS = 2000
	slow.Result = map[string]any{"status": "navigated", "html": "<p>big</p>"}

	failed := act(tools.ActionBrowser, "click", tools.Params{"selector": "#missing"})
	failed.Success = false
	failed.Error = "not found"
	failed.DurationMS = 900

	wf, err := (&Generator{}).Generate(sealed(slow, failed), "login")
	require.NoError(t, err)

	assert.Equal(t, "login", wf.Name)
	assert.Equal(t, 1, wf.Version)
	assert.Equal(t, "session_1_test", wf.Metadata["generated_from"])
	assert.Equal(t, "ops", wf.Metadata["owner"])
	assert.Empty(t, wf.Variables)

	require.Len(t, wf.Steps, 2)
	assert.Equal(t, Step{
		Step:           1,
		Action:         "browser.navigate",
		Parameters:     map[string]any{"url": "https://example.com"},
		ExpectedResult: map[string]any{"status": "navigated"},
		TimeoutMS:      3000,
	}, wf.Steps[0])
	assert.Equal(t, OnErrorContinue, wf.Steps[1].OnError)
	assert.Zero(t, wf.Steps[1].TimeoutMS)
}

func TestGenerate_FoldsRepeatedPattern(t *testing.T) {
	var actions []recorder.Action
	for i := 0; i < 3; i++ {
		actions = append(actions,
			act(tools.ActionBrowser, "click", tools.Params{"selector": "#next"}),
			act(tools.ActionVision, "analyze_screen", tools.Params{"prompt": "row"}),
		)
	}
	wf, err := NewGenerator().Generate(sealed(actions...), "")
	require.NoError(t, err)

	require.Len(t, wf.Steps, 1)
	loop := wf.Steps[0]
	assert.True(t, loop.IsLoop())
	assert.Equal(t, 3, loop.Iterations)
	require.Len(t, loop.Steps, 2)
	assert.Equal(t, "browser.click", loop.Steps[0].Action)
	assert.Equal(t, "vision.analyze_screen", loop.Steps[1].Action)
	assert.Equal(t, 2, loop.Steps[1].Step)
}

func TestGenerate_LoopKeepsSurroundingSteps(t *testing.T) {
	wf, err := (&Generator{DetectLoops: true}).Generate(sealed(
		act(tools.ActionBrowser, "navigate", tools.Params{"url": "u"}),
		act(tools.ActionHands, "type", tools.Params{"text": "a"}),
		act(tools.ActionHands, "type", tools.Params{"text": "b"}),
		act(tools.ActionHands, "type", tools.Params{"text": "c"}),
		act(tools.ActionHands, "key_press", tools.Params{"key": "Return"}),
	), "")
	require.NoError(t, err)

	require.Len(t, wf.Steps, 3)
	assert.Equal(t, "browser.navigate", wf.Steps[0].Action)
	assert.Equal(t, LoopAction, wf.Steps[1].Action)
	assert.Equal(t, 3, wf.Steps[1].Iterations)
	assert.Equal(t, "a", wf.Steps[1].Steps[0].Parameters["text"])
	assert.Equal(t, "hands.key_press", wf.Steps[2].Action)
	assert.Equal(t, []int{1, 2, 3}, []int{wf.Steps[0].Step, wf.Steps[1].Step, wf.Steps[2].Step})
}

func TestGenerate_DropsAdjacentDuplicates(t *testing.T) {
	wf, err := NewGenerator().Generate(sealed(
		act(tools.ActionBrowser, "click", tools.Params{"selector": "#a"}),
		act(tools.ActionBrowser, "click", tools.Params{"selector": "#a"}),
	), "")
	require.NoError(t, err)

	require.Len(t, wf.Steps, 1)
	assert.Equal(t, "browser.click", wf.Steps[0].Action)
	assert.Equal(t, 1, wf.Steps[0].Step)
}

func TestGenerate_KeepsNonAdjacentDuplicates(t *testing.T) {
	wf, err := (&Generator{Optimize: true}).Generate(sealed(
		act(tools.ActionBrowser, "click", tools.Params{"selector": "#a"}),
		act(tools.ActionBrowser, "scroll", tools.Params{}),
		act(tools.ActionBrowser, "click", tools.Params{"selector": "#a"}),
	), "")
	require.NoError(t, err)
	assert.Len(t, wf.Steps, 3)
}

func TestWorkflow_Actions(t *testing.T) {
	wf := &Workflow{Steps: []Step{
		{Action: "browser.navigate"},
		{Action: LoopAction, Iterations: 2, Steps: []Step{{Action: "hands.click"}, {Action: "browser.navigate"}}},
	}}
	assert.Equal(t, []string{"browser.navigate", "hands.click"}, wf.Actions())
}

func TestStep_Target(t *testing.T) {
	typ, tool, err := Step{Action: "browser.click"}.Target()
	require.NoError(t, err)
	assert.Equal(t, tools.ActionBrowser, typ)
	assert.Equal(t, "click", tool)

	_, _, err = Step{Action: "click"}.Target()
	assert.ErrorIs(t, err, ErrInvalidStep)

	_, _, err = Step{Action: "teleport.now"}.Target()
	assert.ErrorIs(t, err, tools.ErrUnknownAction)
}

func TestGenerate_ExactRepeatsCollapseToOneStep(t *testing.T) {
	for _, n := range []int{2, 3, 4, 5, 7} {
		actions := make([]recorder.Action, n)
		for i := range actions {
			actions[i] = act(tools.ActionHands, "key_press", tools.Params{"key": "Tab"})
		}
		wf, err := NewGenerator().Generate(sealed(actions...), "")
		require.NoError(t, err)

		require.Len(t, wf.Steps, 1, "run of %d", n)
		assert.Equal(t, "hands.key_press", wf.Steps[0].Action, "run of %d", n)
		assert.False(t, wf.Steps[0].IsLoop(), "run of %d", n)
	}
}

func TestGenerate_SingleStepLoopWithVaryingParams(t *testing.T) {
	wf, err := (&Generator{DetectLoops: true, Optimize: true}).Generate(sealed(
		act(tools.ActionHands, "type", tools.Params{"text": "a"}),
		act(tools.ActionHands, "type", tools.Params{"text": "b"}),
		act(tools.ActionHands, "type", tools.Params{"text": "c"}),
		act(tools.ActionHands, "type", tools.Params{"text": "d"}),
	), "")
	require.NoError(t, err)

	require.Len(t, wf.Steps, 1)
	assert.True(t, wf.Steps[0].IsLoop())
	assert.Equal(t, 4, wf.Steps[0].Iterations)
	assert.Len(t, wf.Steps[0].Steps, 1)
}
