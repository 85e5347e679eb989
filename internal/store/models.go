package store

import (
	"errors"
	"time"
)

var ErrMemoryNotFound = errors.New("memory not found")

// Kind distinguishes single-action memories from learned workflows.
type Kind string

const (
	KindAction   Kind = "action"
	KindWorkflow Kind = "workflow"
)

// Step is one replayable action kept with a memory.
type Step struct {
	ActionType string         `json:"action_type"`
	ToolName   string         `json:"tool_name"`
	Parameters map[string]any `json:"parameters"`
}

// Record is a stored memory.
type Record struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	Name      string         `json:"name,omitempty"`
	Content   string         `json:"content"`
	Source    string         `json:"source,omitempty"`
	Success   bool           `json:"success"`
	Steps     []Step         `json:"steps,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// Experience is a search hit: a record plus its relevance score.
type Experience struct {
	Record
	Score float64 `json:"score"`
}

type SearchResult struct {
	Query      string       `json:"query"`
	TotalCount int          `json:"total_count"`
	Results    []Experience `json:"results"`
}

// ActionMemory is the compact summary written after a successful action.
type ActionMemory struct {
	Content    string
	ActionType string
	ToolName   string
	Parameters map[string]any
	Success    bool
}

// WorkflowMemory is what the agent learns after a decision cycle.
type WorkflowMemory struct {
	Content  string
	Name     string
	Steps    []Step
	Success  bool
	Metadata map[string]any
}
