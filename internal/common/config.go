package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/pelletier/go-toml/v2"
)

// Config represents the application configuration
type Config struct {
	Environment string         `toml:"environment"` // "development" or "production"
	Server      ServerConfig   `toml:"server"`
	Storage     StorageConfig  `toml:"storage"`
	Logging     LoggingConfig  `toml:"logging"`
	Engine      EngineConfig   `toml:"engine"`
	Rescue      RescueConfig   `toml:"rescue"`
	Features    FeatureConfig  `toml:"features"`
	Iteration   IterationConfig `toml:"iteration"`
	Tools       ToolsConfig    `toml:"tools"`
	Vector      VectorConfig   `toml:"vector"`
	Gemini      GeminiConfig   `toml:"gemini"`
	Claude      ClaudeConfig   `toml:"claude"`
	LLM         LLMConfig      `toml:"llm"`
}

type ServerConfig struct {
	Port int    `toml:"port" validate:"gte=0,lte=65535"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger    BadgerConfig    `toml:"badger"`
	Artifacts ArtifactsConfig `toml:"artifacts"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

// ArtifactsConfig configures the filesystem blob store for raw pages and rendered reports
type ArtifactsConfig struct {
	Path         string `toml:"path"`           // Root directory for artifact objects
	SignedURLTTL string `toml:"signed_url_ttl"` // Default TTL for signed URLs (duration string)
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// EngineConfig controls the job execution engine
type EngineConfig struct {
	MaxConcurrent    int    `toml:"max_concurrent" validate:"gte=1"` // Worker slots
	TickInterval     string `toml:"tick_interval"`                   // Sweeper/claimer tick (duration string, default "2s")
	MaxSteps         int    `toml:"max_steps" validate:"gte=1"`      // Planner cap
	MaxJobSeconds    int    `toml:"max_job_seconds"`                 // Default per-job duration budget
	MaxLLMTokens     int    `toml:"max_llm_tokens"`                  // Response token cap per chat call
	MaxContext       int    `toml:"max_context"`                     // Model context window (tokens)
	MaxNotesForSynth int    `toml:"max_notes_for_synth"`             // Cap on packed notes at synthesis
	WarmNotesLimit   int    `toml:"warm_notes_limit"`                // Archive notes pulled for plan context
	WarmImportanceMin int   `toml:"warm_importance_min"`             // Minimum importance for warm notes
}

// RescueConfig controls stale-job detection thresholds
type RescueConfig struct {
	StartSeconds     int `toml:"start_seconds"`     // Rescue running jobs with no steps after this
	HeartbeatSeconds int `toml:"heartbeat_seconds"` // Rescue running jobs with stale heartbeats after this
	GraceSeconds     int `toml:"grace_seconds"`     // Grace added on top of a job's duration budget
}

type FeatureConfig struct {
	LongformEnabled bool `toml:"longform_enabled"` // Section-draft synthesis path
}

// IterationConfig bounds planner expansion rounds
type IterationConfig struct {
	MaxIterations int `toml:"max_iterations"`
	TokenBudget   int `toml:"token_budget"`
}

// ToolsConfig configures the external search and fetch endpoints
type ToolsConfig struct {
	SearxngURL        string `toml:"searxng_url"`         // Primary search endpoint
	SearchWorkflowURL string `toml:"search_workflow_url"` // Workflow search endpoint (fallback)
	FetchWorkflowURL  string `toml:"fetch_workflow_url"`  // Workflow fetch endpoint
	RequestTimeout    string `toml:"request_timeout"`     // HTTP timeout (duration string)
	MaxFetchPerStep   int    `toml:"max_fetch_per_step"`  // Top results fetched per step (default 3)
}

// VectorConfig configures the vector store collaborator
type VectorConfig struct {
	URL        string `toml:"url"`        // Vector store base URL (empty disables warm context)
	Collection string `toml:"collection"` // Collection name
	Dimension  int    `toml:"dimension"`  // Embedding dimension
}

// GeminiConfig contains Google Gemini API configuration
type GeminiConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`       // Default: "gemini-3-flash-preview"
	Timeout     string  `toml:"timeout"`     // Operation timeout as duration string (default: "5m")
	RateLimit   string  `toml:"rate_limit"`  // Rate limit duration string (default: "4s" for 15 RPM)
	Temperature float32 `toml:"temperature"` // Completion temperature (default: 0.2)
}

// ClaudeConfig contains Anthropic Claude API configuration
type ClaudeConfig struct {
	APIKey      string  `toml:"api_key"`
	Model       string  `toml:"model"`       // Default: "claude-haiku-3-5-20241022"
	MaxTokens   int     `toml:"max_tokens"`  // Maximum tokens in response (default: 8192)
	Timeout     string  `toml:"timeout"`     // Operation timeout as duration string (default: "5m")
	RateLimit   string  `toml:"rate_limit"`  // Rate limit duration string (default: "1s")
	Temperature float32 `toml:"temperature"` // Completion temperature (default: 0.2)
}

// LLMProvider represents the AI provider type
type LLMProvider string

const (
	// LLMProviderGemini uses Google Gemini API
	LLMProviderGemini LLMProvider = "gemini"
	// LLMProviderClaude uses Anthropic Claude API
	LLMProviderClaude LLMProvider = "claude"
)

// LLMConfig contains unified configuration for all AI providers
type LLMConfig struct {
	DefaultProvider LLMProvider `toml:"default_provider"` // "gemini" or "claude" (default: "gemini")
}

// NewDefaultConfig creates a configuration with default values.
// Technical parameters are hardcoded here for production stability.
// Only user-facing settings should be exposed in perquire.toml.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8080,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path:           "./data/perquire",
				ResetOnStartup: false,
			},
			Artifacts: ArtifactsConfig{
				Path:         "./data/artifacts",
				SignedURLTTL: "1h",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout", "file"},
		},
		Engine: EngineConfig{
			MaxConcurrent:     2,
			TickInterval:      "2s",
			MaxSteps:          6,
			MaxJobSeconds:     1800,
			MaxLLMTokens:      4096,
			MaxContext:        128000,
			MaxNotesForSynth:  40,
			WarmNotesLimit:    5,
			WarmImportanceMin: 3,
		},
		Rescue: RescueConfig{
			StartSeconds:     120,
			HeartbeatSeconds: 300,
			GraceSeconds:     60,
		},
		Features: FeatureConfig{
			LongformEnabled: true,
		},
		Iteration: IterationConfig{
			MaxIterations: 2,
			TokenBudget:   20000,
		},
		Tools: ToolsConfig{
			SearxngURL:        "http://localhost:8888",
			SearchWorkflowURL: "",
			FetchWorkflowURL:  "",
			RequestTimeout:    "30s",
			MaxFetchPerStep:   3,
		},
		Vector: VectorConfig{
			URL:        "",
			Collection: "perquire_notes",
			Dimension:  768,
		},
		Gemini: GeminiConfig{
			Model:       "gemini-3-flash-preview",
			Timeout:     "5m",
			RateLimit:   "4s",
			Temperature: 0.2,
		},
		Claude: ClaudeConfig{
			Model:       "claude-haiku-3-5-20241022",
			MaxTokens:   8192,
			Timeout:     "5m",
			RateLimit:   "1s",
			Temperature: 0.2,
		},
		LLM: LLMConfig{
			DefaultProvider: LLMProviderGemini,
		},
	}
}

// LoadConfig loads configuration from a TOML file, applying defaults first
// and environment overrides last.
func LoadConfig(path string) (*Config, error) {
	config := NewDefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, fmt.Errorf("config file not found: %s", path)
			}
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	applyEnvOverrides(config)

	if err := validator.New().Struct(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// applyEnvOverrides applies PERQUIRE_* environment variable overrides.
// Secrets are the primary use case; everything else belongs in the TOML file.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("PERQUIRE_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			config.Server.Port = port
		}
	}
	if v := os.Getenv("PERQUIRE_LOG_LEVEL"); v != "" {
		config.Logging.Level = strings.ToLower(v)
	}
	if v := os.Getenv("PERQUIRE_DB_PATH"); v != "" {
		config.Storage.Badger.Path = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		config.Gemini.APIKey = v
	}
	if v := os.Getenv("ANTHROPIC_API_KEY"); v != "" {
		config.Claude.APIKey = v
	}
	if v := os.Getenv("PERQUIRE_SEARXNG_URL"); v != "" {
		config.Tools.SearxngURL = v
	}
	if v := os.Getenv("PERQUIRE_VECTOR_URL"); v != "" {
		config.Vector.URL = v
	}
}

// TickInterval returns the parsed engine tick interval
func (c *Config) TickInterval() time.Duration {
	d, err := time.ParseDuration(c.Engine.TickInterval)
	if err != nil || d <= 0 {
		return 2 * time.Second
	}
	return d
}

// ToolTimeout returns the parsed HTTP timeout for tool adapters
func (c *Config) ToolTimeout() time.Duration {
	d, err := time.ParseDuration(c.Tools.RequestTimeout)
	if err != nil || d <= 0 {
		return 30 * time.Second
	}
	return d
}

// SynthesisBudget returns the token budget available for packed notes:
// the context window minus a fixed prompt reserve and the response cap.
func (c *Config) SynthesisBudget() int {
	budget := c.Engine.MaxContext - 2000 - c.Engine.MaxLLMTokens
	if budget < 0 {
		return 0
	}
	return budget
}
