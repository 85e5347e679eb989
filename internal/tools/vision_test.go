package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"

	"github.com/rahul/operator/internal/observability"
)

type fakeModel struct {
	reply    string
	err      error
	messages []llms.MessageContent
}

func (f *fakeModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	f.messages = messages
	if f.err != nil {
		return nil, f.err
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{{Content: f.reply}}}, nil
}

func (f *fakeModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, f, prompt, options...)
}

func TestParseAnalysis(t *testing.T) {
	a, err := ParseAnalysis("Sure!\n```json\n{\"confidence\": 1.7, \"description\": \"login page\", \"recommended_actions\": [{\"type\": \"browser\", \"tool\": \"click\", \"parameters\": {\"selector\": \"#login\"}}]}\n```")
	require.NoError(t, err)
	assert.Equal(t, 1.0, a.Confidence)
	assert.Equal(t, "login page", a.Description)
	require.Len(t, a.RecommendedActions, 1)
	assert.Equal(t, "#login", a.RecommendedActions[0].Parameters.String("selector"))
	assert.Contains(t, a.RawText, "Sure!")

	a, err = ParseAnalysis(`{"confidence": -0.2}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, a.Confidence)

	_, err = ParseAnalysis("I cannot see anything")
	assert.Error(t, err)
	_, err = ParseAnalysis("{not json}")
	assert.Error(t, err)
}

func TestLLMAnalyzer_SendsScreenshotAndPrompt(t *testing.T) {
	shot := filepath.Join(t.TempDir(), "screen.jpg")
	require.NoError(t, os.WriteFile(shot, []byte("jpegdata"), 0644))

	model := &fakeModel{reply: `{"confidence": 0.9, "recommended_actions": []}`}
	analyzer := NewLLMAnalyzer(model, "you operate a desktop")
	tool := NewVisionTool(analyzer)

	out, err := tool.Execute(context.Background(), "analyze_screen", Params{
		"screenshot_path": shot,
		"prompt":          "find the inbox",
	})
	require.NoError(t, err)
	assert.Equal(t, 0.9, out.(Analysis).Confidence)

	require.Len(t, model.messages, 2)
	assert.Equal(t, schema.ChatMessageTypeSystem, model.messages[0].Role)
	human := model.messages[1]
	require.Len(t, human.Parts, 2)
	assert.Contains(t, human.Parts[0].(llms.TextContent).Text, "find the inbox")
	img := human.Parts[1].(llms.BinaryContent)
	assert.Equal(t, "image/jpeg", img.MIMEType)
	assert.Equal(t, []byte("jpegdata"), img.Data)
}

func TestLLMAnalyzer_Errors(t *testing.T) {
	analyzer := NewLLMAnalyzer(&fakeModel{err: errors.New("quota")}, "")
	_, err := analyzer.AnalyzeScreen(context.Background(), "", "goal")
	assert.ErrorContains(t, err, "quota")

	_, err = analyzer.AnalyzeScreen(context.Background(), filepath.Join(t.TempDir(), "missing.png"), "goal")
	assert.ErrorContains(t, err, "read screenshot")

	_, err = NewVisionTool(analyzer).Execute(context.Background(), "ocr", nil)
	assert.ErrorIs(t, err, ErrUnknownTool)
}

func TestImageMIME(t *testing.T) {
	assert.Equal(t, "image/png", imageMIME("a.png"))
	assert.Equal(t, "image/jpeg", imageMIME("a.JPEG"))
	assert.Equal(t, "image/webp", imageMIME("a.webp"))
	assert.Equal(t, "image/png", imageMIME("noext"))
}

func TestLLMAnalyzer_LogsPromptAndReply(t *testing.T) {
	var buf bytes.Buffer
	events := observability.NewLoggerTo(&buf)
	llmLog := filepath.Join(t.TempDir(), "llm.jsonl")
	events.SetLLMLogPath(llmLog)

	analyzer := NewLLMAnalyzer(&fakeModel{reply: `{"confidence": 0.4}`}, "")
	analyzer.Events = events
	_, err := analyzer.AnalyzeScreen(context.Background(), "", "find the inbox")
	require.NoError(t, err)

	var evt struct {
		Type observability.EventType `json:"type"`
		Goal string                  `json:"goal"`
		Data struct {
			Prompt   map[string]any `json:"prompt"`
			Response string         `json:"response"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &evt))
	assert.Equal(t, observability.EventTypeLLM, evt.Type)
	assert.Empty(t, evt.Goal)
	assert.Equal(t, "find the inbox", evt.Data.Prompt["prompt"])
	assert.Equal(t, "", evt.Data.Prompt["screenshot_path"])
	assert.Equal(t, `{"confidence": 0.4}`, evt.Data.Response)
	assert.FileExists(t, llmLog)
}
