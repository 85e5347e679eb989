package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

type Config struct {
	App       AppConfig                 `json:"app"`
	Gateways  map[string]GatewayConfig  `json:"gateways"`
	Providers map[string]ProviderConfig `json:"providers"`
	Memory    MemoryConfig              `json:"memory"`
	Recorder  RecorderConfig            `json:"recorder"`
	Agent     AgentConfig               `json:"agent"`
	Security  SecurityConfig            `json:"security"`
	Limits    map[string]LimitConfig    `json:"limits"`
}

type AppConfig struct {
	Name      string `json:"name"`
	Workspace string `json:"workspace"`
	Prompts   string `json:"prompts"`
}

type GatewayConfig struct {
	Token   string `json:"token"`
	ChatID  string `json:"chat_id"`
	Enabled bool   `json:"enabled"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key"`
	Model   string `json:"model"`
	BaseURL string `json:"base_url,omitempty"`
	Enabled bool   `json:"enabled"`
}

type MemoryConfig struct {
	Type string `json:"type"`
	Path string `json:"path"`
}

// RecorderConfig controls where sessions and generated workflows live.
type RecorderConfig struct {
	StorageDir         string `json:"storage_dir"`
	WorkflowDir        string `json:"workflow_dir"`
	CaptureScreenshots bool   `json:"capture_screenshots"`
}

type AgentConfig struct {
	ConfidenceThreshold float64 `json:"confidence_threshold"`
	MaxRetries          int     `json:"max_retries"`
	LearningEnabled     bool    `json:"learning_enabled"`
	MaxIterations       int     `json:"max_iterations"`
	DefaultScreenshot   string  `json:"default_screenshot"`
	VisionInitTimeout   int     `json:"vision_init_timeout_seconds"`
}

type SecurityConfig struct {
	StrictMode     bool     `json:"strict_mode"`
	AllowedDomains []string `json:"allowed_domains"`
	BlockedDomains []string `json:"blocked_domains"`
	AllowedRoots   []string `json:"allowed_roots"`
	DeniedTools    []string `json:"denied_tools"`
	DeniedPatterns []string `json:"denied_patterns"`
}

// LimitConfig is a token bucket for one action type.
type LimitConfig struct {
	PerMinute int `json:"per_minute"`
	Burst     int `json:"burst"`
}

// Default returns the configuration used when no file is present. Values
// from a config file are decoded on top of it, so absent keys keep these.
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:      "operator",
			Workspace: "./workspace",
			Prompts:   "./prompts",
		},
		Gateways:  map[string]GatewayConfig{},
		Providers: map[string]ProviderConfig{},
		Memory: MemoryConfig{
			Type: "sqlite",
			Path: "./data/memory.db",
		},
		Recorder: RecorderConfig{
			StorageDir:         "./data/recordings",
			WorkflowDir:        "./data/workflows",
			CaptureScreenshots: true,
		},
		Agent: AgentConfig{
			ConfidenceThreshold: 0.7,
			MaxRetries:          3,
			LearningEnabled:     true,
			MaxIterations:       10,
			DefaultScreenshot:   filepath.Join(os.TempDir(), "current_screen.png"),
			VisionInitTimeout:   5,
		},
		Security: SecurityConfig{
			StrictMode:     true,
			DeniedPatterns: []string{`rm\s+-rf`, `mkfs`, `shutdown`, `reboot`},
		},
		Limits: map[string]LimitConfig{},
	}
}

// Load reads the JSON config at path, applies the .env/environment overlay
// and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	file, err := os.Open(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Printf("Warning: config file %s not found, using defaults", path)
	case err != nil:
		return nil, fmt.Errorf("failed to open config file: %w", err)
	default:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to decode config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		log.Printf("Warning: could not load .env file: %v", err)
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnv fills secrets from the environment. Values already present in
// the config file win.
func (c *Config) applyEnv() {
	if key, ok := os.LookupEnv("OPERATOR_API_KEY"); ok {
		for name, p := range c.Providers {
			if p.APIKey == "" {
				p.APIKey = key
				c.Providers[name] = p
			}
		}
	}
	for name, env := range map[string]string{
		"telegram": "OPERATOR_TELEGRAM_TOKEN",
		"discord":  "OPERATOR_DISCORD_TOKEN",
	} {
		token, ok := os.LookupEnv(env)
		if !ok {
			continue
		}
		gw := c.Gateways[name]
		if gw.Token == "" {
			gw.Token = token
			c.Gateways[name] = gw
		}
	}
	if dir, ok := os.LookupEnv("OPERATOR_DATA_DIR"); ok && dir != "" {
		c.Memory.Path = filepath.Join(dir, "memory.db")
		c.Recorder.StorageDir = filepath.Join(dir, "recordings")
		c.Recorder.WorkflowDir = filepath.Join(dir, "workflows")
	}
}

// Validate checks the ranges the agent and recorder rely on.
func (c *Config) Validate() error {
	if c.Agent.ConfidenceThreshold <= 0 || c.Agent.ConfidenceThreshold > 1 {
		return fmt.Errorf("agent.confidence_threshold must be in (0,1], got %v", c.Agent.ConfidenceThreshold)
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be > 0")
	}
	if c.Recorder.StorageDir == "" {
		return fmt.Errorf("recorder.storage_dir cannot be empty")
	}
	if c.Recorder.WorkflowDir == "" {
		return fmt.Errorf("recorder.workflow_dir cannot be empty")
	}
	if c.Memory.Path == "" {
		return fmt.Errorf("memory.path cannot be empty")
	}
	for name, l := range c.Limits {
		if l.PerMinute <= 0 {
			return fmt.Errorf("limits.%s.per_minute must be > 0", name)
		}
	}
	return nil
}

// GetDefaultProvider returns the first enabled provider
func (c *Config) GetDefaultProvider() (string, ProviderConfig) {
	for name, p := range c.Providers {
		if p.Enabled {
			return name, p
		}
	}
	return "", ProviderConfig{}
}

// GetGateway returns the named gateway config if it is enabled and has a token.
func (c *Config) GetGateway(name string) (GatewayConfig, bool) {
	gw, ok := c.Gateways[name]
	if ok && gw.Enabled && gw.Token != "" {
		return gw, true
	}
	return GatewayConfig{}, false
}
