package agent

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/operator/internal/orchestrator"
	"github.com/rahul/operator/internal/store"
	"github.com/rahul/operator/internal/tools"
)

type scriptedVision struct {
	analysis tools.Analysis
}

func (v scriptedVision) Domain() tools.ActionType { return tools.ActionVision }
func (v scriptedVision) Tools() []string          { return []string{"analyze_screen"} }
func (v scriptedVision) Execute(ctx context.Context, tool string, params tools.Params) (any, error) {
	return v.analysis, nil
}

type countingBrowser struct {
	mu     sync.Mutex
	clicks []string
}

func (b *countingBrowser) Domain() tools.ActionType { return tools.ActionBrowser }
func (b *countingBrowser) Tools() []string          { return []string{"click"} }
func (b *countingBrowser) Execute(ctx context.Context, tool string, params tools.Params) (any, error) {
	if tool != "click" {
		return nil, fmt.Errorf("%w: browser.%s", tools.ErrUnknownTool, tool)
	}
	b.mu.Lock()
	b.clicks = append(b.clicks, params.String("selector"))
	b.mu.Unlock()
	return map[string]any{"status": "clicked", "found": true}, nil
}

func TestAgent_LearnsAndReplaysThroughOrchestrator(t *testing.T) {
	mem, err := store.NewMemoryStore(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })

	browser := &countingBrowser{}
	registry := tools.NewRegistry()
	registry.Register(scriptedVision{analysis: tools.Analysis{
		Confidence: 0.75,
		RecommendedActions: []tools.Recommendation{
			{Type: "browser", Tool: "click", Parameters: tools.Params{"selector": "#settings"}},
		},
	}})
	registry.Register(browser)
	registry.Register(tools.NewMemoryTool(mem))

	orch := orchestrator.New(orchestrator.Components{Registry: registry, Memory: mem})
	a, err := New(orch, NewPromptManager(""), nil, DefaultConfig())
	require.NoError(t, err)

	want := []Strategy{StrategyExploratory, StrategyProven, StrategyProven}
	for i, strategy := range want {
		res, err := a.AnalyzeAndAct(context.Background(), "", "open settings")
		require.NoError(t, err)
		orch.Wait()

		assert.Equal(t, strategy, res.Plan.Strategy, "cycle %d", i+1)
		require.Len(t, res.Plan.Actions, 1, "cycle %d", i+1)
		assert.Equal(t, "browser.click", res.Plan.Actions[0].String(), "cycle %d", i+1)
		assert.True(t, res.Success)
		assert.True(t, res.Learned)
	}
	assert.Equal(t, []string{"#settings", "#settings", "#settings"}, browser.clicks)

	// Action summaries are still written; recall just does not replay them.
	all, err := mem.Search(context.Background(), "open settings", 50)
	require.NoError(t, err)
	kinds := map[store.Kind]int{}
	for _, e := range all.Results {
		kinds[e.Kind]++
	}
	assert.Equal(t, 3, kinds[store.KindWorkflow])
	assert.Positive(t, kinds[store.KindAction])
}
