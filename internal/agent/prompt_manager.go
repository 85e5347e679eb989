package agent

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const analysisFile = "analysis.md"

const defaultAnalysisPrompt = `Analyze this screen in the context of the following goal: {goal}

Please identify:
1. What is currently visible on the screen
2. Which UI elements are available for interaction
3. Which actions would help achieve the goal
4. Any obstacles or issues present
5. Your confidence (0.0-1.0) in the recommended actions`

// PromptManager loads the markdown prompts the agent sends to its vision
// model. analysis.md, when present, replaces the built-in analysis prompt;
// every other file is part of the system prompt.
type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

// SystemPrompt joins the prompt files in a fixed order: identity,
// capabilities, safety, user, then the rest by name.
func (pm *PromptManager) SystemPrompt() (string, error) {
	files, err := os.ReadDir(pm.Directory)
	if err != nil {
		return "", fmt.Errorf("failed to read prompts directory: %w", err)
	}

	order := map[string]int{
		"identity.md":     1,
		"capabilities.md": 2,
		"safety.md":       3,
		"user.md":         4,
	}
	sort.Slice(files, func(i, j int) bool {
		oi, okI := order[files[i].Name()]
		oj, okJ := order[files[j].Name()]
		switch {
		case okI && okJ:
			return oi < oj
		case okI:
			return true
		case okJ:
			return false
		}
		return files[i].Name() < files[j].Name()
	})

	var contents []string
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".md") || f.Name() == analysisFile {
			continue
		}
		path := filepath.Join(pm.Directory, f.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Warning: Failed to read prompt file %s: %v", path, err)
			continue
		}
		contents = append(contents, string(data))
	}

	if len(contents) == 0 {
		return "", fmt.Errorf("no prompt files found in %s", pm.Directory)
	}
	return strings.Join(contents, "\n\n---\n\n"), nil
}

// AnalysisPrompt renders the screen analysis prompt for goal.
func (pm *PromptManager) AnalysisPrompt(goal string) string {
	tmpl := defaultAnalysisPrompt
	if pm != nil && pm.Directory != "" {
		data, err := os.ReadFile(filepath.Join(pm.Directory, analysisFile))
		switch {
		case err == nil && strings.TrimSpace(string(data)) != "":
			tmpl = string(data)
		case err != nil && !os.IsNotExist(err):
			log.Printf("Warning: Failed to read analysis prompt: %v", err)
		}
	}
	return strings.ReplaceAll(tmpl, "{goal}", goal)
}
