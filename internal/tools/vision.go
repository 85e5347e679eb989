package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rahul/operator/internal/observability"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/schema"
)

// Recommendation is one action suggested by a screen analysis.
type Recommendation struct {
	Type       string `json:"type"`
	Tool       string `json:"tool"`
	Parameters Params `json:"parameters"`
	Reason     string `json:"reason,omitempty"`
}

// Analysis is what a vision collaborator reports about a screen.
type Analysis struct {
	Confidence         float64          `json:"confidence"`
	Description        string           `json:"description,omitempty"`
	RecommendedActions []Recommendation `json:"recommended_actions"`
	RawText            string           `json:"raw_text,omitempty"`
}

type VisionAnalyzer interface {
	AnalyzeScreen(ctx context.Context, screenshotPath, prompt string) (Analysis, error)
}

// VisionTool exposes a VisionAnalyzer as the vision action domain.
type VisionTool struct {
	Analyzer VisionAnalyzer
}

func NewVisionTool(analyzer VisionAnalyzer) *VisionTool {
	return &VisionTool{Analyzer: analyzer}
}

func (v *VisionTool) Domain() ActionType { return ActionVision }

func (v *VisionTool) Tools() []string { return []string{"analyze_screen"} }

func (v *VisionTool) Execute(ctx context.Context, tool string, params Params) (any, error) {
	switch tool {
	case "analyze_screen":
		return v.Analyzer.AnalyzeScreen(ctx, params.String("screenshot_path"), params.String("prompt"))
	default:
		return nil, fmt.Errorf("%w: vision.%s", ErrUnknownTool, tool)
	}
}

const visionInstructions = `Respond with a single JSON object and nothing else:
{"confidence": <number between 0 and 1>,
 "description": "<what is visible>",
 "recommended_actions": [{"type": "browser|hands|vision|memory", "tool": "<tool name>", "parameters": {}, "reason": "<why>"}]}`

// LLMAnalyzer asks a multimodal model to describe a screenshot.
type LLMAnalyzer struct {
	Model        llms.Model
	SystemPrompt string
	Events       *observability.Logger
}

func NewLLMAnalyzer(model llms.Model, systemPrompt string) *LLMAnalyzer {
	return &LLMAnalyzer{Model: model, SystemPrompt: systemPrompt}
}

func (a *LLMAnalyzer) AnalyzeScreen(ctx context.Context, screenshotPath, prompt string) (Analysis, error) {
	var messages []llms.MessageContent
	if a.SystemPrompt != "" {
		messages = append(messages, llms.MessageContent{
			Role:  schema.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(a.SystemPrompt)},
		})
	}

	parts := []llms.ContentPart{llms.TextPart(prompt + "\n\n" + visionInstructions)}
	if screenshotPath != "" {
		data, err := os.ReadFile(screenshotPath)
		if err != nil {
			return Analysis{}, fmt.Errorf("read screenshot: %w", err)
		}
		parts = append(parts, llms.BinaryPart(imageMIME(screenshotPath), data))
	}
	messages = append(messages, llms.MessageContent{
		Role:  schema.ChatMessageTypeHuman,
		Parts: parts,
	})

	resp, err := a.Model.GenerateContent(ctx, messages, llms.WithJSONMode(), llms.WithTemperature(0))
	if err != nil {
		return Analysis{}, fmt.Errorf("vision model: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Analysis{}, fmt.Errorf("vision model returned no choices")
	}
	reply := resp.Choices[0].Content
	a.Events.LogLLM("", map[string]any{"prompt": prompt, "screenshot_path": screenshotPath}, reply)
	return ParseAnalysis(reply)
}

// ParseAnalysis extracts the JSON object from a model reply. Confidence is
// clamped to [0,1].
func ParseAnalysis(text string) (Analysis, error) {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return Analysis{}, fmt.Errorf("no JSON object in vision reply")
	}

	var out Analysis
	if err := json.Unmarshal([]byte(text[start:end+1]), &out); err != nil {
		return Analysis{}, fmt.Errorf("decode vision reply: %w", err)
	}
	out.RawText = text
	switch {
	case out.Confidence < 0:
		out.Confidence = 0
	case out.Confidence > 1:
		out.Confidence = 1
	}
	return out, nil
}

func imageMIME(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".webp":
		return "image/webp"
	case ".gif":
		return "image/gif"
	default:
		return "image/png"
	}
}
