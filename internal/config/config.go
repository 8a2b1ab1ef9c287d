// File: internal/config/config.go
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/xkilldash9x/mender/internal/artifacts"
	"github.com/xkilldash9x/mender/internal/autofix"
	"github.com/xkilldash9x/mender/internal/autofix/payload"
	"github.com/xkilldash9x/mender/internal/autofix/surgeon"
)

// Interface defines the contract for accessing application configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	Project() ProjectConfig
	Model() ModelConfig
	Prompt() PromptConfig
	Run() RunConfig
	Artifacts() ArtifactsConfig

	// Derived views handed to the core.
	BuildPromptConfig() autofix.PromptConfig
	RunMetadata() autofix.RunMetadata
}

// Config holds the entire application configuration.
type Config struct {
	LoggerCfg    LoggerConfig    `mapstructure:"logger" yaml:"logger"`
	ProjectCfg   ProjectConfig   `mapstructure:"project" yaml:"project"`
	ModelCfg     ModelConfig     `mapstructure:"model" yaml:"model"`
	PromptCfg    PromptConfig    `mapstructure:"prompt" yaml:"prompt"`
	RunCfg       RunConfig       `mapstructure:"run" yaml:"run"`
	ArtifactsCfg ArtifactsConfig `mapstructure:"artifacts" yaml:"artifacts"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig       { return c.LoggerCfg }
func (c *Config) Project() ProjectConfig     { return c.ProjectCfg }
func (c *Config) Model() ModelConfig         { return c.ModelCfg }
func (c *Config) Prompt() PromptConfig       { return c.PromptCfg }
func (c *Config) Run() RunConfig             { return c.RunCfg }
func (c *Config) Artifacts() ArtifactsConfig { return c.ArtifactsCfg }

// BuildPromptConfig converts the prompt and model sections into the
// immutable configuration the payload builder consumes.
func (c *Config) BuildPromptConfig() autofix.PromptConfig {
	return autofix.PromptConfig{
		SystemInstructions: c.PromptCfg.System,
		UserTemplate:       c.PromptCfg.Template,
		Model: autofix.ModelParameters{
			Model:           c.ModelCfg.Name,
			MaxOutputTokens: c.ModelCfg.MaxTokens,
			Temperature:     c.ModelCfg.Temperature,
		},
		MaxDOMChars: c.ModelCfg.MaxDOMChars,
	}
}

// RunMetadata returns the CI run description for prompt rendering.
func (c *Config) RunMetadata() autofix.RunMetadata {
	return autofix.RunMetadata{
		Repository:   c.RunCfg.Repository,
		WorkflowName: c.RunCfg.WorkflowName,
		FailureURL:   c.RunCfg.FailureURL,
	}
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// ProjectConfig locates the repository under test.
type ProjectConfig struct {
	// Root is the directory test file paths are relative to.
	Root string `mapstructure:"root" yaml:"root"`
	// FailuresDir is where the test runner drops DOM snapshots and context records.
	FailuresDir string `mapstructure:"failures_dir" yaml:"failures_dir"`
}

// ModelConfig holds the fixed generation parameters.
type ModelConfig struct {
	Name        string  `mapstructure:"name" yaml:"name"`
	MaxTokens   int     `mapstructure:"max_tokens" yaml:"max_tokens"`
	Temperature float64 `mapstructure:"temperature" yaml:"temperature"`
	// MaxDOMChars bounds the DOM block of the prompt. 0 disables truncation.
	MaxDOMChars int `mapstructure:"max_dom_chars" yaml:"max_dom_chars"`
}

// PromptConfig holds the prompt text.
type PromptConfig struct {
	System   string `mapstructure:"system" yaml:"system"`
	Template string `mapstructure:"template" yaml:"template"`
}

// RunConfig describes the CI run. Usually populated from the environment.
type RunConfig struct {
	Repository   string `mapstructure:"repository" yaml:"repository"`
	WorkflowName string `mapstructure:"workflow_name" yaml:"workflow_name"`
	FailureURL   string `mapstructure:"failure_url" yaml:"failure_url"`
}

// ArtifactsConfig names the files a run reads and writes.
type ArtifactsConfig struct {
	PayloadPath  string `mapstructure:"payload_path" yaml:"payload_path"`
	ResponsePath string `mapstructure:"response_path" yaml:"response_path"`
	FixDataPath  string `mapstructure:"fix_data_path" yaml:"fix_data_path"`
	SummaryPath  string `mapstructure:"summary_path" yaml:"summary_path"`
	BackupSuffix string `mapstructure:"backup_suffix" yaml:"backup_suffix"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &cfg
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "mender")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 10)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 7)
	v.SetDefault("logger.compress", true)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "magenta")

	// -- Project --
	v.SetDefault("project.root", ".")
	v.SetDefault("project.failures_dir", "cypress/failures")

	// -- Model --
	v.SetDefault("model.name", "gpt-4")
	v.SetDefault("model.max_tokens", 1000)
	v.SetDefault("model.temperature", 0.1)
	v.SetDefault("model.max_dom_chars", 0)

	// -- Prompt --
	v.SetDefault("prompt.system", payload.DefaultSystemPrompt)
	v.SetDefault("prompt.template", payload.DefaultUserTemplate)

	// -- Run --
	v.SetDefault("run.repository", "")
	v.SetDefault("run.workflow_name", "")
	v.SetDefault("run.failure_url", "")

	// -- Artifacts --
	paths := artifacts.DefaultPaths()
	v.SetDefault("artifacts.payload_path", paths.Payload)
	v.SetDefault("artifacts.response_path", paths.Response)
	v.SetDefault("artifacts.fix_data_path", paths.FixData)
	v.SetDefault("artifacts.summary_path", paths.Summary)
	v.SetDefault("artifacts.backup_suffix", surgeon.DefaultBackupSuffix)
}

// BindEnvironment maps the CI runner's variables onto the run section. The
// MENDER_ names win over the CI-provided ones when both are set.
func BindEnvironment(v *viper.Viper) {
	v.BindEnv("run.repository", "MENDER_RUN_REPOSITORY", "GITHUB_REPOSITORY")
	v.BindEnv("run.workflow_name", "MENDER_RUN_WORKFLOW_NAME", "GITHUB_WORKFLOW")
	v.BindEnv("run.failure_url", "MENDER_RUN_FAILURE_URL", "GITHUB_SERVER_URL")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	var cfg Config

	BindEnvironment(v)

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if err := c.ModelCfg.Validate(); err != nil {
		return fmt.Errorf("model configuration invalid: %w", err)
	}
	if strings.TrimSpace(c.PromptCfg.System) == "" {
		return fmt.Errorf("prompt.system must not be empty")
	}
	if err := payload.ValidateTemplate(c.PromptCfg.Template); err != nil {
		return fmt.Errorf("prompt.template invalid: %w", err)
	}
	if err := c.ArtifactsCfg.Validate(); err != nil {
		return fmt.Errorf("artifacts configuration invalid: %w", err)
	}
	return nil
}

// Validate checks the model parameters.
func (m *ModelConfig) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if m.MaxTokens <= 0 {
		return fmt.Errorf("max_tokens must be a positive integer")
	}
	if m.Temperature < 0.0 || m.Temperature > 2.0 {
		return fmt.Errorf("temperature must be between 0.0 and 2.0")
	}
	if m.MaxDOMChars < 0 {
		return fmt.Errorf("max_dom_chars must not be negative")
	}
	return nil
}

// Validate checks that every artifact has somewhere to go.
func (a *ArtifactsConfig) Validate() error {
	required := map[string]string{
		"payload_path":  a.PayloadPath,
		"response_path": a.ResponsePath,
		"fix_data_path": a.FixDataPath,
		"summary_path":  a.SummaryPath,
		"backup_suffix": a.BackupSuffix,
	}
	for _, key := range []string{"payload_path", "response_path", "fix_data_path", "summary_path", "backup_suffix"} {
		if strings.TrimSpace(required[key]) == "" {
			return fmt.Errorf("%s must not be empty", key)
		}
	}
	return nil
}
