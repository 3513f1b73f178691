// Package config defines the application configuration. A single AppConfig
// is constructed at process start and injected into every component
// constructor; nothing reads configuration globally.
package config

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"

	pkgconfig "github.com/lewisedginton/sentio/pkg/config"
)

// Storage backends.
const (
	BackendFile     = "file"
	BackendS3       = "s3"
	BackendPostgres = "postgres"
)

// ServiceConfig identifies the process.
type ServiceConfig struct {
	Name        string `yaml:"name" env:"SENTIO_SERVICE_NAME" default:"sentio"`
	PromptsPath string `yaml:"prompts_path" env:"SENTIO_PROMPTS_PATH" default:"config/prompts.yaml"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `yaml:"level" env:"SENTIO_LOG_LEVEL" default:"info"`
	Format string `yaml:"format" env:"SENTIO_LOG_FORMAT" default:"json"`
}

// StorageConfig selects and configures the memory store backend.
type StorageConfig struct {
	Backend string `yaml:"backend" env:"SENTIO_STORAGE_BACKEND" default:"file"`

	// file backend
	BaseDir string `yaml:"base_dir" env:"SENTIO_STORAGE_DIR" default:"data"`

	// s3 backend
	Bucket string `yaml:"bucket" env:"SENTIO_S3_BUCKET"`
	Prefix string `yaml:"prefix" env:"SENTIO_S3_PREFIX" default:"sentio"`

	// postgres backend
	DatabaseURL string `yaml:"database_url" env:"SENTIO_DATABASE_URL"`
}

// GenerationConfig configures the text generation provider.
type GenerationConfig struct {
	APIKey      string        `yaml:"api_key" env:"SENTIO_GENERATION_API_KEY" required:"true"`
	BaseURL     string        `yaml:"base_url" env:"SENTIO_GENERATION_BASE_URL" default:"https://api.deepseek.com"`
	Model       string        `yaml:"model" env:"SENTIO_GENERATION_MODEL" default:"deepseek-chat"`
	Temperature float64       `yaml:"temperature" env:"SENTIO_GENERATION_TEMPERATURE" default:"0.7"`
	MaxTokens   int           `yaml:"max_tokens" env:"SENTIO_GENERATION_MAX_TOKENS" default:"1024"`
	TopP        float64       `yaml:"top_p" env:"SENTIO_GENERATION_TOP_P"`
	Timeout     time.Duration `yaml:"timeout" env:"SENTIO_GENERATION_TIMEOUT" default:"60s"`
	MaxAttempts int           `yaml:"max_attempts" env:"SENTIO_GENERATION_MAX_ATTEMPTS" default:"3"`
	BackoffBase time.Duration `yaml:"backoff_base" env:"SENTIO_GENERATION_BACKOFF_BASE" default:"500ms"`
	BackoffCap  time.Duration `yaml:"backoff_cap" env:"SENTIO_GENERATION_BACKOFF_CAP" default:"30s"`
}

// WorkflowConfig configures the orchestrator.
type WorkflowConfig struct {
	Deadline                 time.Duration `yaml:"deadline" env:"SENTIO_WORKFLOW_DEADLINE" default:"2m"`
	PromptCategory           string        `yaml:"prompt_category" env:"SENTIO_PROMPT_CATEGORY" default:"email"`
	PromptCostPerMillion     float64       `yaml:"prompt_cost_per_million" env:"SENTIO_PROMPT_COST_PER_MILLION" default:"0.27"`
	CompletionCostPerMillion float64       `yaml:"completion_cost_per_million" env:"SENTIO_COMPLETION_COST_PER_MILLION" default:"1.10"`
}

// MonitoringConfig configures the metrics endpoint. Metrics are on by
// default; the flag is phrased as a disable so the zero value means enabled.
type MonitoringConfig struct {
	MetricsDisabled bool `yaml:"metrics_disabled" env:"SENTIO_METRICS_DISABLED"`
	MetricsPort     int  `yaml:"metrics_port" env:"SENTIO_METRICS_PORT" default:"9090"`
}

// AppConfig is the root configuration.
type AppConfig struct {
	Service    ServiceConfig    `yaml:"service"`
	Logging    LoggingConfig    `yaml:"logging"`
	Storage    StorageConfig    `yaml:"storage"`
	Generation GenerationConfig `yaml:"generation"`
	Workflow   WorkflowConfig   `yaml:"workflow"`
	Monitoring MonitoringConfig `yaml:"monitoring"`
}

// Load reads the config file (when path is non-empty) and overlays
// environment variables.
func Load(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := pkgconfig.GetConfig(&cfg, path, path == ""); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks cross-field constraints after loading.
func (c AppConfig) Validate() error {
	var result error

	switch c.Storage.Backend {
	case BackendFile:
		if c.Storage.BaseDir == "" {
			result = multierror.Append(result, fmt.Errorf("storage.base_dir is required for the file backend"))
		}
	case BackendS3:
		if c.Storage.Bucket == "" {
			result = multierror.Append(result, fmt.Errorf("storage.bucket is required for the s3 backend"))
		}
	case BackendPostgres:
		if c.Storage.DatabaseURL == "" {
			result = multierror.Append(result, fmt.Errorf("storage.database_url is required for the postgres backend"))
		}
	default:
		result = multierror.Append(result, fmt.Errorf("unknown storage backend %q", c.Storage.Backend))
	}

	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		result = multierror.Append(result, fmt.Errorf("generation.temperature %v outside [0, 2]", c.Generation.Temperature))
	}
	if c.Generation.TopP < 0 || c.Generation.TopP > 1 {
		result = multierror.Append(result, fmt.Errorf("generation.top_p %v outside [0, 1]", c.Generation.TopP))
	}
	if c.Generation.MaxAttempts < 1 || c.Generation.MaxAttempts > 9 {
		result = multierror.Append(result, fmt.Errorf("generation.max_attempts %d outside [1, 9]", c.Generation.MaxAttempts))
	}
	if c.Workflow.Deadline <= 0 {
		result = multierror.Append(result, fmt.Errorf("workflow.deadline must be positive"))
	}
	if !c.Monitoring.MetricsDisabled && (c.Monitoring.MetricsPort < 1 || c.Monitoring.MetricsPort > 65535) {
		result = multierror.Append(result, fmt.Errorf("monitoring.metrics_port %d is not a valid port", c.Monitoring.MetricsPort))
	}

	return result
}
