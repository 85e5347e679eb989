package main

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"time"

	"github.com/rahul/operator/internal/agent"
	"github.com/rahul/operator/internal/governance"
	"github.com/rahul/operator/internal/observability"
	"github.com/rahul/operator/internal/orchestrator"
	"github.com/rahul/operator/internal/recorder"
	"github.com/rahul/operator/internal/store"
	"github.com/rahul/operator/internal/tools"
	"github.com/rahul/operator/internal/workflow"
	"github.com/rahul/operator/pkg/config"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/anthropic"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// app holds every long-lived component of one process.
type app struct {
	cfg       *config.Config
	events    *observability.Logger
	memory    *store.MemoryStore
	browser   *tools.BrowserTool
	recorder  *recorder.Recorder
	workflows *workflow.Store
	orch      *orchestrator.Orchestrator
	agent     *agent.Agent
}

func newApp(cfg *config.Config) (*app, error) {
	events := observability.NewLogger()

	memory, err := store.NewMemoryStore(cfg.Memory.Path)
	if err != nil {
		return nil, fmt.Errorf("open memory store: %w", err)
	}

	validator := governance.NewDefaultValidator(cfg.Security.StrictMode)
	for _, d := range cfg.Security.AllowedDomains {
		validator.AllowDomain(d)
	}
	for _, d := range cfg.Security.BlockedDomains {
		validator.BlockDomain(d)
	}
	for _, root := range cfg.Security.AllowedRoots {
		validator.AllowRoot(root)
	}
	policy, err := governance.NewPolicyEngine(cfg.Security.DeniedTools, cfg.Security.DeniedPatterns)
	if err != nil {
		memory.Close()
		return nil, err
	}

	rec, err := recorder.New(recorder.Config{
		StorageDir:         cfg.Recorder.StorageDir,
		CaptureScreenshots: cfg.Recorder.CaptureScreenshots,
	})
	if err != nil {
		// Actions still run without a recorder; only recording is lost.
		log.Printf("Warning: recorder unavailable: %v", err)
		rec = nil
	} else {
		rec.Events = events
	}

	prompts := agent.NewPromptManager(cfg.App.Prompts)
	screenshots := filepath.Join(cfg.App.Workspace, "screenshots")
	browser := tools.NewBrowserTool(screenshots, true)

	registry := tools.NewRegistry()
	if cfg.Agent.VisionInitTimeout > 0 {
		registry.InitTimeout = time.Duration(cfg.Agent.VisionInitTimeout) * time.Second
	}
	registry.RegisterFactory(tools.ActionVision, visionFactory(cfg, prompts, events))
	registry.Register(browser)
	registry.Register(tools.NewHandsTool(screenshots))
	registry.Register(tools.NewMemoryTool(memory))

	limits := make(map[tools.ActionType]orchestrator.Limit)
	for name, l := range cfg.Limits {
		t, err := tools.ParseActionType(name)
		if err != nil {
			log.Printf("Warning: ignoring limit for %q: %v", name, err)
			continue
		}
		limits[t] = orchestrator.Limit{PerMinute: l.PerMinute, Burst: l.Burst}
	}

	comps := orchestrator.Components{
		Registry:  registry,
		Validator: validator,
		Policy:    policy,
		Limiter:   orchestrator.NewRateLimiter(limits),
		Memory:    memory,
		Events:    events,
	}
	if rec != nil {
		comps.Recorder = rec
	}
	orch := orchestrator.New(comps)

	ag, err := agent.New(orch, prompts, events, agent.Config{
		ConfidenceThreshold: cfg.Agent.ConfidenceThreshold,
		MaxRetries:          cfg.Agent.MaxRetries,
		LearningEnabled:     cfg.Agent.LearningEnabled,
		MaxIterations:       cfg.Agent.MaxIterations,
		DefaultScreenshot:   cfg.Agent.DefaultScreenshot,
	})
	if err != nil {
		memory.Close()
		return nil, err
	}

	return &app{
		cfg:       cfg,
		events:    events,
		memory:    memory,
		browser:   browser,
		recorder:  rec,
		workflows: workflow.NewStore(cfg.Recorder.WorkflowDir),
		orch:      orch,
		agent:     ag,
	}, nil
}

// Close waits for pending memory writes, then releases the browser and
// the database.
func (a *app) Close() {
	if id, ok, err := a.orch.StopRecording(); ok {
		if err != nil {
			log.Printf("Warning: failed to save session %s: %v", id, err)
		} else {
			log.Printf("Session %s saved", id)
		}
	}
	a.orch.Wait()
	a.browser.Close()
	if err := a.memory.Close(); err != nil {
		log.Printf("Warning: closing memory store: %v", err)
	}
}

// visionFactory builds the vision handler on first use from the default
// enabled provider.
func visionFactory(cfg *config.Config, prompts *agent.PromptManager, events *observability.Logger) tools.Factory {
	return func(ctx context.Context) (tools.Handler, error) {
		name, pCfg := cfg.GetDefaultProvider()
		if name == "" {
			return nil, fmt.Errorf("no enabled provider found in config")
		}
		model, err := newModel(name, pCfg)
		if err != nil {
			return nil, err
		}
		system, err := prompts.SystemPrompt()
		if err != nil {
			log.Printf("Warning: %v; continuing without a system prompt", err)
		}
		analyzer := tools.NewLLMAnalyzer(model, system)
		analyzer.Events = events
		return tools.NewVisionTool(analyzer), nil
	}
}

func newModel(name string, p config.ProviderConfig) (llms.Model, error) {
	switch name {
	case "openai", "openrouter":
		opts := []openai.Option{
			openai.WithToken(p.APIKey),
			openai.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(p.BaseURL))
		}
		return openai.New(opts...)
	case "anthropic":
		opts := []anthropic.Option{
			anthropic.WithToken(p.APIKey),
			anthropic.WithModel(p.Model),
		}
		if p.BaseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(p.BaseURL))
		}
		return anthropic.New(opts...)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(p.Model)}
		if p.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(p.BaseURL))
		}
		return ollama.New(opts...)
	default:
		return nil, fmt.Errorf("provider %s not supported", name)
	}
}
