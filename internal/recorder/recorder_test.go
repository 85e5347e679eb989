package recorder

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rahul/operator/internal/tools"
)

type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestRecorder(t *testing.T) (*Recorder, *fakeClock) {
	t.Helper()
	r, err := New(Config{StorageDir: t.TempDir(), CaptureScreenshots: true})
	require.NoError(t, err)
	clock := &fakeClock{t: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)}
	r.now = clock.now
	return r, clock
}

func TestRecorder_RoundTrip(t *testing.T) {
	r, clock := newTestRecorder(t)

	id, err := r.StartRecording("s", map[string]any{"owner": "ops"})
	require.NoError(t, err)

	captured := []tools.Params{
		{"url": "https://example.com"},
		{"selector": "#login", "timeout": 3},
		{"text": "hello", "nested": map[string]any{"a": []any{1, "two"}}},
	}
	for i, p := range captured {
		clock.advance(time.Second)
		actionID := r.CaptureAction(tools.ActionBrowser, "step", p, map[string]any{"status": "ok"}, i != 1, "")
		assert.Equal(t, "action_"+string(rune('1'+i)), actionID)
	}

	stopped, err := r.StopRecording()
	require.NoError(t, err)
	assert.Equal(t, id, stopped)

	s, err := r.LoadSession(id)
	require.NoError(t, err)
	require.Len(t, s.Actions, len(captured))
	assert.True(t, s.Sealed())
	assert.Equal(t, "s", s.Name)
	assert.Equal(t, "ops", s.Metadata["owner"])
	for i, p := range captured {
		assert.Equal(t, normalizeParams(p), s.Actions[i].Parameters)
	}
	assert.Equal(t, float64(3), s.Actions[1].Parameters["timeout"])
	assert.False(t, s.Actions[1].Success)
	assert.Equal(t, 3*time.Second, s.Duration())
}

func TestRecorder_SessionIDIsSanitized(t *testing.T) {
	r, _ := newTestRecorder(t)

	id, err := r.StartRecording("log in/out", nil)
	require.NoError(t, err)
	assert.Equal(t, "session_1772359200_log_in_out", id)
	_, err = r.StopRecording()
	require.NoError(t, err)

	// Same second, same name.
	second, err := r.StartRecording("log in/out", nil)
	require.NoError(t, err)
	assert.Equal(t, id+"_2", second)
}

func TestRecorder_ImplicitStopOnRestart(t *testing.T) {
	r, clock := newTestRecorder(t)

	first, err := r.StartRecording("first", nil)
	require.NoError(t, err)
	r.CaptureAction(tools.ActionHands, "click", tools.Params{"button": 1}, nil, true, "")
	r.CaptureAction(tools.ActionHands, "type", tools.Params{"text": "hi"}, nil, true, "")

	clock.advance(time.Second)
	second, err := r.StartRecording("second", nil)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)

	active, ok := r.ActiveSession()
	require.True(t, ok)
	assert.Equal(t, second, active)

	s, err := r.LoadSession(first)
	require.NoError(t, err)
	assert.Len(t, s.Actions, 2)
	assert.True(t, s.Sealed())
}

func TestRecorder_CaptureWithoutSessionIsNoop(t *testing.T) {
	r, _ := newTestRecorder(t)

	assert.Empty(t, r.CaptureAction(tools.ActionBrowser, "click", tools.Params{}, nil, true, ""))
	_, ok := r.ActiveSession()
	assert.False(t, ok)

	_, err := r.StopRecording()
	assert.ErrorIs(t, err, ErrNotRecording)
}

func TestRecorder_TimingIsConsumed(t *testing.T) {
	r, clock := newTestRecorder(t)
	id, err := r.StartRecording("timing", nil)
	require.NoError(t, err)

	r.MarkActionStart(tools.ActionBrowser, "navigate")
	clock.advance(1500 * time.Millisecond)
	r.CaptureAction(tools.ActionBrowser, "navigate", tools.Params{"url": "a"}, nil, true, "")

	clock.advance(2 * time.Second)
	r.CaptureAction(tools.ActionBrowser, "navigate", tools.Params{"url": "b"}, nil, true, "")

	_, err = r.StopRecording()
	require.NoError(t, err)

	s, err := r.LoadSession(id)
	require.NoError(t, err)
	assert.Equal(t, 1500.0, s.Actions[0].DurationMS)
	assert.Zero(t, s.Actions[1].DurationMS)
}

func TestRecorder_ScreenshotSlots(t *testing.T) {
	r, _ := newTestRecorder(t)
	id, err := r.StartRecording("shots", nil)
	require.NoError(t, err)

	r.CaptureAction(tools.ActionVision, "analyze_screen", tools.Params{}, nil, true, "")
	r.CaptureAction(tools.ActionMemory, "search", tools.Params{"query": "x"}, nil, true, "")
	_, err = r.StopRecording()
	require.NoError(t, err)

	s, err := r.LoadSession(id)
	require.NoError(t, err)
	assert.Contains(t, s.Actions[0].ScreenshotPath, filepath.Join("screenshots", id+"_vision_analyze_screen_"))
	assert.Empty(t, s.Actions[1].ScreenshotPath)

	_, err = os.Stat(s.Actions[0].ScreenshotPath)
	assert.True(t, os.IsNotExist(err), "the recorder only reserves the path")
}

func TestRecorder_LoadSessionErrors(t *testing.T) {
	r, _ := newTestRecorder(t)

	_, err := r.LoadSession("session_0_missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.True(t, IsMissing(err))

	require.NoError(t, os.WriteFile(filepath.Join(r.StorageDir(), "session_1_bad.json"), []byte("{not json"), 0644))
	_, err = r.LoadSession("session_1_bad")
	assert.ErrorIs(t, err, ErrSessionCorrupt)
	assert.NotErrorIs(t, err, ErrSessionNotFound)
	assert.True(t, IsMissing(err))

	_, err = r.LoadSession("../etc/passwd")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRecorder_StatsAndList(t *testing.T) {
	r, clock := newTestRecorder(t)

	first, err := r.StartRecording("one", nil)
	require.NoError(t, err)
	r.MarkActionStart(tools.ActionBrowser, "navigate")
	clock.advance(400 * time.Millisecond)
	r.CaptureAction(tools.ActionBrowser, "navigate", tools.Params{"url": "a"}, nil, true, "")
	r.MarkActionStart(tools.ActionBrowser, "click")
	clock.advance(200 * time.Millisecond)
	r.CaptureAction(tools.ActionBrowser, "click", tools.Params{"selector": "#a"}, nil, false, "not found")
	r.CaptureAction(tools.ActionMemory, "search", tools.Params{"query": "x"}, nil, true, "")
	_, err = r.StopRecording()
	require.NoError(t, err)

	clock.advance(time.Minute)
	second, err := r.StartRecording("two", nil)
	require.NoError(t, err)
	_, err = r.StopRecording()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(r.StorageDir(), "session_9_broken.json"), []byte("]"), 0644))

	stats, err := r.GetSessionStats(first)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.TotalActions)
	assert.Equal(t, map[string]int{"browser": 2, "memory": 1}, stats.ActionTypes)
	assert.Equal(t, 1, stats.ToolsUsed["click"])
	assert.Equal(t, 600.0, stats.TotalDurationMS)
	assert.Equal(t, 200.0, stats.AverageDurationMS)
	assert.Equal(t, 2, stats.SuccessCount)
	assert.Equal(t, 1, stats.ErrorCount)
	assert.InDelta(t, 2.0/3.0, stats.SuccessRate, 1e-9)

	list, err := r.ListSessions()
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second, list[0].ID)
	assert.Equal(t, first, list[1].ID)
	assert.Equal(t, 3, list[1].ActionCount)

	_, err = r.GetSessionStats("session_0_nope")
	assert.True(t, IsMissing(err))
}

func TestComputeStats_Empty(t *testing.T) {
	st := ComputeStats(&Session{ID: "x"})
	assert.Zero(t, st.SuccessRate)
	assert.Zero(t, st.AverageDurationMS)
}

func TestRecorder_DottedNameRoundTrips(t *testing.T) {
	r, _ := newTestRecorder(t)

	id, err := r.StartRecording("release v1..2", nil)
	require.NoError(t, err)
	assert.Equal(t, "session_1772359200_release_v1..2", id)
	r.CaptureAction(tools.ActionHands, "click", tools.Params{}, nil, true, "")
	_, err = r.StopRecording()
	require.NoError(t, err)

	s, err := r.LoadSession(id)
	require.NoError(t, err)
	assert.Len(t, s.Actions, 1)

	stats, err := r.GetSessionStats(id)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.TotalActions)
}

func TestRecorder_ConcurrentCapture(t *testing.T) {
	r, _ := newTestRecorder(t)
	id, err := r.StartRecording("parallel", nil)
	require.NoError(t, err)

	const workers, perWorker = 8, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				r.MarkActionStart(tools.ActionHands, "type")
				r.CaptureAction(tools.ActionHands, "type", tools.Params{"text": fmt.Sprintf("%d-%d", w, i)}, nil, true, "")
			}
		}(w)
	}
	wg.Wait()

	_, err = r.StopRecording()
	require.NoError(t, err)

	s, err := r.LoadSession(id)
	require.NoError(t, err)
	require.Len(t, s.Actions, workers*perWorker)

	seen := make(map[string]bool)
	for _, a := range s.Actions {
		seen[a.Parameters["text"].(string)] = true
	}
	assert.Len(t, seen, workers*perWorker)
}
