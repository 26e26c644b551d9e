// Package config holds the orchestrator's configuration surface:
// compiled-in defaults, overridden by an optional YAML file, overridden
// by a .env file for provider secrets, overridden by CLI flags.
package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ToolCategory is one of the closed set of tool categories the
// registry gates on.
type ToolCategory string

const (
	CategoryBasic              ToolCategory = "basic"
	CategoryRAG                ToolCategory = "rag"
	CategoryMemory             ToolCategory = "memory"
	CategoryFileManagement     ToolCategory = "file_management"
	CategorySessionState       ToolCategory = "session_state"
	CategoryAssistanceRequest  ToolCategory = "assistance_request"
	CategoryAgentManagement    ToolCategory = "agent_management"
	CategoryTaskManagement     ToolCategory = "task_management"
	CategoryAgentCommunication ToolCategory = "agent_communication"
	CategoryBackgroundAgents   ToolCategory = "background_agents"
)

// AllCategories lists every category the registry recognizes; a
// configured category outside this set is a validation error.
var AllCategories = []ToolCategory{
	CategoryBasic, CategoryRAG, CategoryMemory, CategoryFileManagement,
	CategorySessionState, CategoryAssistanceRequest, CategoryAgentManagement,
	CategoryTaskManagement, CategoryAgentCommunication, CategoryBackgroundAgents,
}

// ProviderConfig configures the embedding+chat provider adapter.
// Variant is a closed enum; provider-specific fields are only
// consulted for the matching variant.
type ProviderConfig struct {
	Variant      string   `yaml:"variant"` // "cloud", "local", "openai_compatible"
	FallbackTo   []string `yaml:"fallback_to,omitempty"`
	ChatModel    string   `yaml:"chat_model"`
	EmbedModel   string   `yaml:"embed_model"`
	BaseURL      string   `yaml:"base_url,omitempty"`
	APIKeyEnvVar string   `yaml:"api_key_env_var,omitempty"`
	TargetDim    int      `yaml:"target_dim"`
}

func (c *ProviderConfig) SetDefaults() {
	if c.Variant == "" {
		c.Variant = "cloud"
	}
	if c.TargetDim <= 0 {
		c.TargetDim = 1536
	}
	if c.APIKeyEnvVar == "" {
		c.APIKeyEnvVar = "AGENTMCP_PROVIDER_API_KEY"
	}
}

func (c *ProviderConfig) Validate() error {
	switch c.Variant {
	case "cloud", "local", "openai_compatible":
	default:
		return fmt.Errorf("provider.variant: unsupported variant %q", c.Variant)
	}
	if c.TargetDim <= 0 {
		return fmt.Errorf("provider.target_dim: must be > 0")
	}
	return nil
}

// IndexingConfig configures the knowledge indexer.
type IndexingConfig struct {
	Enabled          bool `yaml:"enabled"`
	IntervalSeconds  int  `yaml:"interval_seconds"`
	WarmupSeconds    int  `yaml:"warmup_seconds"`
	AdvancedCode     bool `yaml:"advanced_code"`
	ChunkWindow      int  `yaml:"chunk_window"`
	ChunkOverlap     int  `yaml:"chunk_overlap"`
	MaxBatchSources  int  `yaml:"max_batch_sources"`
	WatchProjectDir  bool `yaml:"watch_project_dir"`
}

func (c *IndexingConfig) SetDefaults() {
	if c.IntervalSeconds <= 0 {
		c.IntervalSeconds = 300
	}
	if c.WarmupSeconds <= 0 {
		c.WarmupSeconds = 5
	}
	if c.ChunkWindow <= 0 {
		c.ChunkWindow = 800
	}
	if c.ChunkOverlap <= 0 {
		c.ChunkOverlap = 100
	}
	if c.MaxBatchSources <= 0 {
		c.MaxBatchSources = 10
	}
}

func (c *IndexingConfig) Validate() error {
	if c.ChunkWindow <= 0 {
		return fmt.Errorf("indexing.chunk_window: must be > 0")
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkWindow {
		return fmt.Errorf("indexing.chunk_overlap: must satisfy 0 <= overlap < window")
	}
	return nil
}

// RetrievalConfig configures the hybrid retriever.
type RetrievalConfig struct {
	K                int `yaml:"k"`
	MaxContextTokens int `yaml:"max_context_tokens"`
}

func (c *RetrievalConfig) SetDefaults() {
	if c.K <= 0 {
		c.K = 13
	}
	if c.MaxContextTokens <= 0 {
		c.MaxContextTokens = 8000
	}
}

// TransportConfig configures session persistence.
type TransportConfig struct {
	GracePeriodMinutes   int `yaml:"grace_period_minutes"`
	SweepIntervalSeconds int `yaml:"sweep_interval_seconds"`
	IdleAfterSeconds     int `yaml:"idle_after_seconds"`
}

func (c *TransportConfig) SetDefaults() {
	if c.GracePeriodMinutes <= 0 {
		c.GracePeriodMinutes = 15
	}
	if c.SweepIntervalSeconds <= 0 {
		c.SweepIntervalSeconds = 60
	}
	if c.IdleAfterSeconds <= 0 {
		c.IdleAfterSeconds = 120
	}
}

// AgentConfig configures the background worker health check.
type AgentConfig struct {
	HealthCheckIntervalSeconds int `yaml:"health_check_interval_seconds"`
}

func (c *AgentConfig) SetDefaults() {
	if c.HealthCheckIntervalSeconds <= 0 {
		c.HealthCheckIntervalSeconds = 30
	}
}

// ToolsConfig gates which categories are advertised/invocable.
type ToolsConfig struct {
	EnabledCategories []ToolCategory `yaml:"enabled_categories"`
}

func (c *ToolsConfig) SetDefaults() {
	if len(c.EnabledCategories) == 0 {
		c.EnabledCategories = []ToolCategory{
			CategoryBasic, CategoryRAG, CategoryMemory,
			CategoryFileManagement, CategorySessionState,
		}
	}
}

func (c *ToolsConfig) Validate() error {
	allowed := make(map[ToolCategory]bool, len(AllCategories))
	for _, c := range AllCategories {
		allowed[c] = true
	}
	for _, cat := range c.EnabledCategories {
		if !allowed[cat] {
			return fmt.Errorf("tools.enabled_categories: unknown category %q", cat)
		}
	}
	return nil
}

// Config is the root configuration object.
type Config struct {
	Port       int    `yaml:"port"`
	ProjectDir string `yaml:"project_dir"`

	Provider  ProviderConfig  `yaml:"embedding"`
	Indexing  IndexingConfig  `yaml:"indexing"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Transport TransportConfig `yaml:"transport"`
	Agent     AgentConfig     `yaml:"agent"`
	Tools     ToolsConfig     `yaml:"tools"`

	MultiplexerBin string `yaml:"multiplexer_bin"`

	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`
	Trace     bool   `yaml:"trace"`
}

// SetDefaults fills in every unset field with its documented default.
func (c *Config) SetDefaults() {
	if c.Port <= 0 {
		c.Port = 3001
	}
	if c.ProjectDir == "" {
		if wd, err := os.Getwd(); err == nil {
			c.ProjectDir = wd
		} else {
			c.ProjectDir = "."
		}
	}
	if c.MultiplexerBin == "" {
		c.MultiplexerBin = "tmux"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.LogFormat == "" {
		c.LogFormat = "text"
	}
	c.Provider.SetDefaults()
	c.Indexing.SetDefaults()
	c.Retrieval.SetDefaults()
	c.Transport.SetDefaults()
	c.Agent.SetDefaults()
	c.Tools.SetDefaults()
}

// Validate checks all sub-configs after defaults have been applied.
func (c *Config) Validate() error {
	if err := c.Provider.Validate(); err != nil {
		return err
	}
	if err := c.Indexing.Validate(); err != nil {
		return err
	}
	if err := c.Tools.Validate(); err != nil {
		return err
	}
	return nil
}

// Load reads defaults, then an optional YAML file at path (ignored if
// empty or missing), then a .env file in the project directory for
// provider secrets, then applies defaults+validation.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading config file %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	cfg.SetDefaults()

	envPath := ".env"
	if cfg.ProjectDir != "" {
		envPath = cfg.ProjectDir + string(os.PathSeparator) + ".env"
	}
	if _, err := os.Stat(envPath); err == nil {
		_ = godotenv.Load(envPath)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}
