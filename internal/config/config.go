package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models maestro.yml: the LLM provider, stream tuning, and the
// agent catalog served to the planner.
type Config struct {
	Provider struct {
		Name             string  `yaml:"name"` // anthropic, openai or mock
		Model            string  `yaml:"model"`
		APIKeyEnv        string  `yaml:"api_key_env"`
		MaxTokens        int     `yaml:"max_tokens"`
		Retries          int     `yaml:"retries"`
		CentsPer1KTokens float64 `yaml:"cents_per_1k_tokens"`
	} `yaml:"provider"`
	Stream struct {
		QueueDepth          int `yaml:"queue_depth"`
		HeartbeatSeconds    int `yaml:"heartbeat_seconds"`
		MaxMissedHeartbeats int `yaml:"max_missed_heartbeats"`
		ChunkSize           int `yaml:"chunk_size"` // characters per CHUNK event
	} `yaml:"stream"`
	Agents []AgentSpec `yaml:"agents"`
}

// AgentSpec seeds one registry entry.
type AgentSpec struct {
	ID             string   `yaml:"id"`
	Name           string   `yaml:"name"`
	Type           string   `yaml:"type"`
	Specialization string   `yaml:"specialization"`
	Capabilities   []string `yaml:"capabilities"`
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	switch c.Provider.Name {
	case "anthropic", "openai", "mock":
	case "":
		return fmt.Errorf("config.provider.name is required")
	default:
		return fmt.Errorf("unknown provider %q (want anthropic, openai or mock)", c.Provider.Name)
	}
	if c.Provider.Retries < 0 {
		return fmt.Errorf("config.provider.retries must be >= 0")
	}
	if c.Stream.QueueDepth <= 0 {
		return fmt.Errorf("config.stream.queue_depth must be positive")
	}
	if c.Stream.HeartbeatSeconds <= 0 {
		return fmt.Errorf("config.stream.heartbeat_seconds must be positive")
	}
	if c.Stream.MaxMissedHeartbeats <= 0 {
		return fmt.Errorf("config.stream.max_missed_heartbeats must be positive")
	}
	if c.Stream.ChunkSize <= 0 {
		return fmt.Errorf("config.stream.chunk_size must be positive")
	}
	seen := map[string]bool{}
	for _, a := range c.Agents {
		if a.ID == "" {
			return fmt.Errorf("config.agents contains entry without id")
		}
		if seen[a.ID] {
			return fmt.Errorf("duplicate agent id %s", a.ID)
		}
		seen[a.ID] = true
		if a.Specialization == "" {
			return fmt.Errorf("agent %s is missing specialization", a.ID)
		}
	}
	return nil
}

// APIKey resolves the provider key from the configured environment variable.
func (c *Config) APIKey() string {
	if c.Provider.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.Provider.APIKeyEnv)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "maestro.yml")
}

// Load reads and validates config from workspace, falling back to the
// defaults when the file does not exist.
func Load(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// GenerateDefault returns the default config YAML for maestro init.
func GenerateDefault() string {
	return defaultTemplate
}

const defaultTemplate = `provider:
  name: mock
  model: claude-sonnet-4
  api_key_env: ANTHROPIC_API_KEY
  max_tokens: 4096
  retries: 2
  cents_per_1k_tokens: 0.3

stream:
  queue_depth: 64
  heartbeat_seconds: 15
  max_missed_heartbeats: 3
  chunk_size: 24

agents:
  - id: research-agent
    name: Research Agent
    type: research
    specialization: "Web and literature research, source synthesis"
    capabilities: [search, summarize, cite]
  - id: code-agent
    name: Code Agent
    type: development
    specialization: "Code generation, review and refactoring"
    capabilities: [generate, review, refactor]
  - id: analytics-agent
    name: Analytics Agent
    type: analytics
    specialization: "Data analysis and metric interpretation"
    capabilities: [analyze, chart, forecast]
  - id: docs-agent
    name: Documentation Agent
    type: documentation
    specialization: "Technical writing and report drafting"
    capabilities: [draft, structure, edit]
`
