package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration for the VoiceTask agent core.
// It is loaded from ~/.voicetask/config.yaml and can be overridden by
// environment variables (VOICETASK_*).
type Config struct {
	LLM      LLMConfig      `mapstructure:"llm" yaml:"llm"`
	Store    StoreConfig    `mapstructure:"store" yaml:"store"`
	Agent    AgentConfig    `mapstructure:"agent" yaml:"agent"`
	Router   RouterConfig   `mapstructure:"router" yaml:"router"`
	Analysis AnalysisConfig `mapstructure:"analysis" yaml:"analysis"`
	Trace    TraceConfig    `mapstructure:"trace" yaml:"trace"`
	Server   ServerConfig   `mapstructure:"server" yaml:"server"`
	Logging  LoggingConfig  `mapstructure:"logging" yaml:"logging"`
}

// LLMConfig contains configuration for the reasoning providers.
// The router uses the mini model for cheap classification; the agent loops
// use the main model for tool calling.
type LLMConfig struct {
	// Endpoint is the Ollama-compatible chat API base URL.
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Model is the tool-calling model used by the agent loops.
	Model string `mapstructure:"model" yaml:"model"`

	// MiniModel is the small model used for routing and memory extraction.
	MiniModel string `mapstructure:"mini_model" yaml:"mini_model"`

	// RequestTimeoutSec bounds a single reasoning call.
	RequestTimeoutSec int `mapstructure:"request_timeout_sec" yaml:"request_timeout_sec"`
}

// StoreConfig contains configuration for the SQLite persistence layer.
type StoreConfig struct {
	// DataDir is the directory holding the voicetask.db database file.
	DataDir string `mapstructure:"data_dir" yaml:"data_dir"`
}

// AgentConfig contains configuration for the tool-calling agent loops.
type AgentConfig struct {
	// MaxIterations is the hard bound on THINK→ACT→OBSERVE iterations per
	// turn. Exceeding it fails the turn with a budget-exhausted error.
	MaxIterations int `mapstructure:"max_iterations" yaml:"max_iterations"`

	// TurnTimeoutSec is the wall-clock budget for one whole turn.
	TurnTimeoutSec int `mapstructure:"turn_timeout_sec" yaml:"turn_timeout_sec"`
}

// RouterConfig contains configuration for intent classification.
type RouterConfig struct {
	// ConfidenceThreshold is the minimum fast-path confidence; below it the
	// semantic classifier is consulted.
	ConfidenceThreshold float64 `mapstructure:"confidence_threshold" yaml:"confidence_threshold"`

	// AcceptThreshold is the minimum confidence for routing to the mutation
	// path at all. Anything below routes to analysis.
	AcceptThreshold float64 `mapstructure:"accept_threshold" yaml:"accept_threshold"`
}

// AnalysisConfig contains configuration for the analytics tools.
type AnalysisConfig struct {
	// StaleTaskThresholdDays is the idle window after which an open task is
	// reported as stale.
	StaleTaskThresholdDays int `mapstructure:"stale_task_threshold_days" yaml:"stale_task_threshold_days"`
}

// TraceConfig contains configuration for the per-turn trace recorder.
type TraceConfig struct {
	// Enabled controls whether traces are persisted. Disabling keeps the
	// in-memory record for hallucination checks but skips storage writes.
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`
}

// ServerConfig contains configuration for the HTTP/WebSocket front end.
type ServerConfig struct {
	// Listen is the address the API server binds to.
	Listen string `mapstructure:"listen" yaml:"listen"`
}

// LoggingConfig contains configuration for application logging.
type LoggingConfig struct {
	// Level is the log level ("debug", "info", "warn", "error")
	Level string `mapstructure:"level" yaml:"level"`
	// File is the path to the log file
	File string `mapstructure:"file" yaml:"file"`
}

// Default returns a Config with sensible default values.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()
	dataDir := filepath.Join(homeDir, ".voicetask")

	return &Config{
		LLM: LLMConfig{
			Endpoint:          "http://127.0.0.1:11434",
			Model:             "llama3.2",
			MiniModel:         "llama3.2:1b",
			RequestTimeoutSec: 120,
		},
		Store: StoreConfig{
			DataDir: dataDir,
		},
		Agent: AgentConfig{
			MaxIterations:  8,
			TurnTimeoutSec: 90,
		},
		Router: RouterConfig{
			ConfidenceThreshold: 0.7,
			AcceptThreshold:     0.55,
		},
		Analysis: AnalysisConfig{
			StaleTaskThresholdDays: 7,
		},
		Trace: TraceConfig{
			Enabled: true,
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:8884",
		},
		Logging: LoggingConfig{
			Level: "info",
			File:  filepath.Join(dataDir, "logs", "voicetask.log"),
		},
	}
}

// Load reads configuration from the default location
// (~/.voicetask/config.yaml) and merges with environment variables. If no
// config file exists, it creates one with default values.
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, ".voicetask", "config.yaml")
	return LoadFromPath(configPath)
}

// LoadFromPath reads configuration from a specific file path and merges with
// environment variables. If the file doesn't exist, it creates one with
// default values.
func LoadFromPath(path string) (*Config, error) {
	path = expandPath(path)

	configDir := filepath.Dir(path)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := Default()
		if err := writeConfigFile(path, cfg); err != nil {
			return nil, fmt.Errorf("failed to write default config: %w", err)
		}
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("yaml")

	// Enable environment variable overrides
	// Example: VOICETASK_AGENT_MAX_ITERATIONS
	v.SetEnvPrefix("VOICETASK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Booleans that default to on cannot be backfilled in applyDefaults
	// without erasing an explicit false, so they default here instead.
	v.SetDefault("trace.enabled", true)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg.Store.DataDir = expandPath(cfg.Store.DataDir)
	cfg.Logging.File = expandPath(cfg.Logging.File)
	cfg.applyDefaults()

	return &cfg, nil
}

// applyDefaults fills in zero values left by partial config files.
func (c *Config) applyDefaults() {
	def := Default()

	if c.LLM.Endpoint == "" {
		c.LLM.Endpoint = def.LLM.Endpoint
	}
	if c.LLM.Model == "" {
		c.LLM.Model = def.LLM.Model
	}
	if c.LLM.MiniModel == "" {
		c.LLM.MiniModel = def.LLM.MiniModel
	}
	if c.LLM.RequestTimeoutSec <= 0 {
		c.LLM.RequestTimeoutSec = def.LLM.RequestTimeoutSec
	}
	if c.Store.DataDir == "" {
		c.Store.DataDir = def.Store.DataDir
	}
	if c.Agent.MaxIterations <= 0 {
		c.Agent.MaxIterations = def.Agent.MaxIterations
	}
	if c.Agent.TurnTimeoutSec <= 0 {
		c.Agent.TurnTimeoutSec = def.Agent.TurnTimeoutSec
	}
	if c.Router.ConfidenceThreshold <= 0 {
		c.Router.ConfidenceThreshold = def.Router.ConfidenceThreshold
	}
	if c.Router.AcceptThreshold <= 0 {
		c.Router.AcceptThreshold = def.Router.AcceptThreshold
	}
	if c.Analysis.StaleTaskThresholdDays <= 0 {
		c.Analysis.StaleTaskThresholdDays = def.Analysis.StaleTaskThresholdDays
	}
	if c.Server.Listen == "" {
		c.Server.Listen = def.Server.Listen
	}
	if c.Logging.Level == "" {
		c.Logging.Level = def.Logging.Level
	}
}

// Save writes the current configuration back to the given path.
func (c *Config) Save(path string) error {
	return writeConfigFile(expandPath(path), c)
}

// writeConfigFile marshals the config to YAML and writes it to disk.
func writeConfigFile(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	header := "# VoiceTask configuration\n# Environment overrides use the VOICETASK_ prefix, e.g. VOICETASK_AGENT_MAX_ITERATIONS.\n\n"
	return os.WriteFile(path, append([]byte(header), data...), 0644)
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
		}
	}
	return path
}
