package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rahul/operator/internal/store"
)

// Memory is the persistent experience backend.
type Memory interface {
	Search(ctx context.Context, query string, limit int) (store.SearchResult, error)
	SearchKind(ctx context.Context, query string, kind store.Kind, limit int) (store.SearchResult, error)
	Get(ctx context.Context, id string) (store.Record, error)
	StoreAction(ctx context.Context, mem store.ActionMemory) (string, error)
	StoreWorkflowMemory(ctx context.Context, mem store.WorkflowMemory) (string, error)
}

// MemoryTool exposes a Memory as the memory action domain.
type MemoryTool struct {
	Store Memory
}

func NewMemoryTool(m Memory) *MemoryTool {
	return &MemoryTool{Store: m}
}

func (m *MemoryTool) Domain() ActionType { return ActionMemory }

func (m *MemoryTool) Tools() []string {
	return []string{"search", "get", "store_action", "store_workflow"}
}

func (m *MemoryTool) Execute(ctx context.Context, tool string, params Params) (any, error) {
	switch tool {
	case "search":
		query, err := params.Require("query")
		if err != nil {
			return nil, err
		}
		limit := params.Int("limit", 10)
		if kind := params.String("kind"); kind != "" {
			return m.Store.SearchKind(ctx, query, store.Kind(kind), limit)
		}
		return m.Store.Search(ctx, query, limit)

	case "get":
		id, err := params.Require("memory_id")
		if err != nil {
			return nil, err
		}
		return m.Store.Get(ctx, id)

	case "store_action":
		content, err := params.Require("content")
		if err != nil {
			return nil, err
		}
		var args map[string]any
		if err := convert(params["parameters"], &args); err != nil {
			return nil, fmt.Errorf("parameters: %w", err)
		}
		id, err := m.Store.StoreAction(ctx, store.ActionMemory{
			Content:    content,
			ActionType: params.String("action_type"),
			ToolName:   params.String("tool_name"),
			Parameters: args,
			Success:    params.Bool("success", true),
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"memory_id": id}, nil

	case "store_workflow":
		content, err := params.Require("content")
		if err != nil {
			return nil, err
		}
		var steps []store.Step
		if err := convert(params["steps"], &steps); err != nil {
			return nil, fmt.Errorf("steps: %w", err)
		}
		var meta map[string]any
		if err := convert(params["metadata"], &meta); err != nil {
			return nil, fmt.Errorf("metadata: %w", err)
		}
		id, err := m.Store.StoreWorkflowMemory(ctx, store.WorkflowMemory{
			Content:  content,
			Name:     params.String("workflow_name"),
			Steps:    steps,
			Success:  params.Bool("success", false),
			Metadata: meta,
		})
		if err != nil {
			return nil, err
		}
		return map[string]any{"memory_id": id}, nil

	default:
		return nil, fmt.Errorf("%w: memory.%s", ErrUnknownTool, tool)
	}
}

// convert copies a loosely typed parameter into dst. Values that already
// have dst's type are assigned directly; anything else goes through JSON,
// which covers data read back from recordings and workflow files.
func convert(src any, dst any) error {
	if src == nil {
		return nil
	}
	switch d := dst.(type) {
	case *[]store.Step:
		if v, ok := src.([]store.Step); ok {
			*d = v
			return nil
		}
	case *map[string]any:
		if v, ok := src.(map[string]any); ok {
			*d = v
			return nil
		}
	}
	raw, err := json.Marshal(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, dst)
}
