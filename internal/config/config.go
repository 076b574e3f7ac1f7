// Copyright (C) 2026 Stepflow
// SPDX-License-Identifier: AGPL-3.0-or-later

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// AppConfig holds all application configuration.
// It is instantiated by NewConfig() and passed to components that need it (dependency injection).
type AppConfig struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Log       LogConfig       `mapstructure:"log"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Analysis  AnalysisConfig  `mapstructure:"analysis"`
	Workflow  WorkflowConfig  `mapstructure:"workflow"`
	Project   ProjectConfig   `mapstructure:"project"`
	IDE       IDEConfig       `mapstructure:"ide"`
	Container ContainerConfig `mapstructure:"container"`
	Git       GitConfig       `mapstructure:"git"`
	Server    ServerConfig    `mapstructure:"server"`
	Claude    ClaudeConfig    `mapstructure:"claude"`
	Agent     AgentConfig     `mapstructure:"agent"`
	Hooks     HooksConfig     `mapstructure:"hooks"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Telemetry TelemetryConfig `mapstructure:"telemetry"`
}

// DatabaseConfig holds all database configuration.
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// LogConfig holds comprehensive logging configuration
type LogConfig struct {
	Level    string            `mapstructure:"level"`
	Format   string            `mapstructure:"format"`
	Dir      string            `mapstructure:"dir"` // Deprecated, kept for backward compatibility
	Output   []LogOutputConfig `mapstructure:"output"`
	Levels   map[string]string `mapstructure:"levels"`
	Context  LogContextConfig  `mapstructure:"context"`
	Sampling LogSamplingConfig `mapstructure:"sampling"`
}

// LogOutputConfig defines where logs are written
type LogOutputConfig struct {
	Type    string          `mapstructure:"type"` // "file", "console", "syslog"
	Enabled bool            `mapstructure:"enabled"`
	Path    string          `mapstructure:"path"`   // For file output
	Rotate  LogRotateConfig `mapstructure:"rotate"` // For file output
}

// LogRotateConfig defines log rotation settings
type LogRotateConfig struct {
	MaxSizeMB  int  `mapstructure:"max_size_mb"`
	MaxBackups int  `mapstructure:"max_backups"`
	MaxAgeDays int  `mapstructure:"max_age_days"`
	Compress   bool `mapstructure:"compress"`
}

// LogContextConfig defines what context to include in logs
type LogContextConfig struct {
	IncludeCaller     bool   `mapstructure:"include_caller"`
	IncludeTimestamp  bool   `mapstructure:"include_timestamp"`
	IncludeLevel      bool   `mapstructure:"include_level"`
	IncludeStackTrace string `mapstructure:"include_stack_trace"` // Level at which to include stack trace
}

// LogSamplingConfig defines log sampling settings
type LogSamplingConfig struct {
	Enabled    bool          `mapstructure:"enabled"`
	Initial    uint32        `mapstructure:"initial"`
	Thereafter uint32        `mapstructure:"thereafter"`
	Tick       time.Duration `mapstructure:"tick"`
}

// QueueConfig holds Task Queue Core (C5) defaults.
type QueueConfig struct {
	MaxSize                 int           `mapstructure:"max_size"`
	MaxConcurrentPerProject int           `mapstructure:"max_concurrent_per_project"`
	DefaultTimeout          time.Duration `mapstructure:"default_timeout"`
	MaxRetries              int           `mapstructure:"max_retries"`
	HistorySize             int           `mapstructure:"history_size"`
	DefaultEstimatedStep    time.Duration `mapstructure:"default_estimated_step"`
}

// AnalysisConfig holds Analysis Queue (C7) defaults.
type AnalysisConfig struct {
	MemoryBudgetMB           int64         `mapstructure:"memory_budget_mb"`
	DegradeThresholdFraction float64       `mapstructure:"degrade_threshold_fraction"`
	DefaultTimeout           time.Duration `mapstructure:"default_timeout"`
	StreamingBatchSize       int           `mapstructure:"streaming_batch_size"`
	MaxFileSizeMB            int64         `mapstructure:"max_file_size_mb"`
	MaxDirectoryDepth        int           `mapstructure:"max_directory_depth"`
	Exclusions               []string      `mapstructure:"exclusions"`
}

// WorkflowConfig points at the declarative workflow definitions file loaded
// by the Workflow Loader (C3).
type WorkflowConfig struct {
	DefinitionsPath string `mapstructure:"definitions_path"`
	FrameworksDir   string `mapstructure:"frameworks_dir"`
}

// ProjectConfig holds Project Context (C9) defaults.
type ProjectConfig struct {
	CacheTTL          time.Duration `mapstructure:"cache_ttl"`
	MonorepoMaxDepth  int           `mapstructure:"monorepo_max_depth"`
	WatchDebounce     time.Duration `mapstructure:"watch_debounce"`
}

// IDEConfig holds the docker-backed IDE adapter configuration.
type IDEConfig struct {
	Image        string        `mapstructure:"image"`
	StartTimeout time.Duration `mapstructure:"start_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// TelemetryConfig holds the OpenTelemetry tracing configuration.
type TelemetryConfig struct {
	Enabled        bool          `mapstructure:"enabled"`
	ServiceName    string        `mapstructure:"service_name"`
	ServiceVersion string        `mapstructure:"service_version"`
	OTLPEndpoint   string        `mapstructure:"otlp_endpoint"`
	Insecure       bool          `mapstructure:"insecure"`
	SampleRatio    float64       `mapstructure:"sample_ratio"`
	BatchTimeout   time.Duration `mapstructure:"batch_timeout"`
}

// ContainerConfig holds container-related configuration.
type ContainerConfig struct {
	DefaultImage   string            `mapstructure:"default_image"`
	WorkspaceDir   string            `mapstructure:"workspace_dir"`
	DockerHost     string            `mapstructure:"docker_host"`
	NetworkMode    string            `mapstructure:"network_mode"`
	Volumes        []VolumeConfig    `mapstructure:"volumes"`
	Environment    map[string]string `mapstructure:"environment"`
	ResourceLimits ResourceLimits    `mapstructure:"resource_limits"`
	Timeouts       ContainerTimeouts `mapstructure:"timeouts"`
}

// VolumeConfig defines volume mount configuration.
type VolumeConfig struct {
	Host      string `mapstructure:"host"`
	Container string `mapstructure:"container"`
	ReadOnly  bool   `mapstructure:"read_only"`
}

// ResourceLimits defines container resource limits.
type ResourceLimits struct {
	CPUShares  int64 `mapstructure:"cpu_shares"`
	MemoryMB   int64 `mapstructure:"memory_mb"`
	DiskSizeMB int64 `mapstructure:"disk_size_mb"`
}

// ContainerTimeouts defines container operation timeouts.
type ContainerTimeouts struct {
	StopTimeout         time.Duration `mapstructure:"stop_timeout"`
	TaskDuplicateWindow time.Duration `mapstructure:"task_duplicate_window"`
}

// GitConfig holds git-related configuration.
type GitConfig struct {
	DefaultBranch                     string `mapstructure:"default_branch"`
	CreateGitRepoForProjectIfNotExist bool   `mapstructure:"create_git_repo_for_project_if_not_exist"`
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host           string   `mapstructure:"host"`
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"` // Empty = allow all (development); set for production
}

// ClaudeConfig holds Claude-related configuration.
type ClaudeConfig struct {
	ClaudeJSONHostPath string `mapstructure:"claude_json_host_path"`
}

// AgentConfig holds default AI agent configuration for task processing.
// This defines the default behavior when a task is created without explicit agent configuration.
type AgentConfig struct {
	DefaultTool    string                 `mapstructure:"default_tool"`    // Tool name: "claude", "gemini", etc.
	DefaultVersion string                 `mapstructure:"default_version"` // Tool version: "4.5"
	PromptTemplate string                 `mapstructure:"prompt_template"` // Template with {{.variable}} placeholders
	Variables      map[string]string      `mapstructure:"variables"`       // Default values for template variables
	ToolOptions    map[string]interface{} `mapstructure:"tool_options"`    // CLI flags and options (e.g., model, custom flags)
	FlagFormat     string                 `mapstructure:"flag_format"`     // Format for CLI flags: "space" (--flag value) or "equals" (--flag=value)
}

// HooksConfig holds configuration for Claude Code hooks.
type HooksConfig struct {
	EnableLogging bool   `mapstructure:"enable_logging"` // Enable debug logging in hook script
	ScriptPath    string `mapstructure:"script_path"`    // Path for hook script in container (default: ~/.stepflow/bin/stepflow-hook.sh)
}

// PipelineConfig holds default configuration for pipeline execution.
type PipelineConfig struct {
	PromptPrefix string `mapstructure:"prompt_prefix"` // Default prefix prepended to all step prompts
	PromptSuffix string `mapstructure:"prompt_suffix"` // Default suffix appended to all step prompts (e.g., summary instruction)
}

// NewConfig creates a new AppConfig by reading from a file, environment variables,
// and applying defaults. This function replaces the global Init().
func NewConfig(configPath string) (*AppConfig, error) {
	// Create a new config struct with default values
	cfg := defaultConfig()

	v := viper.New()

	// Set config file if provided, otherwise search in standard locations
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/stepflow/")
		v.AddConfigPath("$HOME/.stepflow")
	}

	// Configure viper to use environment variables
	v.SetEnvPrefix("STEPFLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read the config file. It's okay if it doesn't exist.
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	// Unmarshal the viper configuration into our config struct.
	// This will overwrite the default values with any values found in the config file or env vars.
	// We use a decoder hook to correctly handle nested structs.
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	// Expand paths that may contain ~ or environment variables
	cfg.expandPaths()

	// Validate the final configuration
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// defaultConfig returns an AppConfig with default values.
// This is more type-safe than using viper.SetDefault().
func defaultConfig() AppConfig {
	return AppConfig{
		Database: DatabaseConfig{
			Driver:   "postgres",
			Database: "stepflow",
			Host:     "localhost",
			Port:     5432,
			Username: "stepflow",
			SSLMode:  "disable",
		},
		Log: LogConfig{
			Level:  "INFO",
			Format: "console",
			Dir:    "./logs", // Backward compatibility
			Output: []LogOutputConfig{
				{
					Type:    "file",
					Enabled: true,
					Path:    "./logs/stepflow.log",
					Rotate: LogRotateConfig{
						MaxSizeMB:  100,
						MaxBackups: 7,
						MaxAgeDays: 30,
						Compress:   true,
					},
				},
				{
					Type:    "console",
					Enabled: false, // Disabled by default for TUI
				},
			},
			Levels: map[string]string{
				"orchestration": "INFO",
				"queue":         "INFO",
				"processor":     "INFO",
				"stepengine":    "INFO",
				"analysis":      "INFO",
				"eventbus":      "WARN",
				"wsbridge":      "INFO",
				"projectctx":    "INFO",
				"svcregistry":   "INFO",
				"workflowdef":   "INFO",
				"aiprovider":    "INFO",
				"database":      "INFO",
				"git":           "INFO",
				"container":     "INFO",
				"ide":           "INFO",
				"api":           "INFO",
			},
			Context: LogContextConfig{
				IncludeCaller:     true,
				IncludeTimestamp:  true,
				IncludeLevel:      true,
				IncludeStackTrace: "ERROR",
			},
			Sampling: LogSamplingConfig{
				Enabled:    false,
				Initial:    100,
				Thereafter: 100,
				Tick:       time.Second,
			},
		},
		Queue: QueueConfig{
			MaxSize:                 10,
			MaxConcurrentPerProject: 3,
			DefaultTimeout:          5 * time.Minute,
			MaxRetries:              2,
			HistorySize:             200,
			DefaultEstimatedStep:    3 * time.Minute,
		},
		Analysis: AnalysisConfig{
			MemoryBudgetMB:           512,
			DegradeThresholdFraction: 0.8,
			DefaultTimeout:           5 * time.Minute,
			StreamingBatchSize:       100,
			MaxFileSizeMB:            10,
			MaxDirectoryDepth:        8,
			Exclusions:               []string{"node_modules", ".git", "dist", "build", "coverage"},
		},
		Workflow: WorkflowConfig{
			DefinitionsPath: "./config/workflows.json",
			FrameworksDir:   "./config/frameworks",
		},
		Project: ProjectConfig{
			CacheTTL:         2 * time.Minute,
			MonorepoMaxDepth: 4,
			WatchDebounce:    500 * time.Millisecond,
		},
		IDE: IDEConfig{
			Image:        "codercom/code-server:latest",
			StartTimeout: 30 * time.Second,
			IdleTimeout:  30 * time.Minute,
		},
		Container: ContainerConfig{
			DefaultImage: "ubuntu:22.04",
			WorkspaceDir: "/workspace",
			DockerHost:   "unix:///var/run/docker.sock",
			ResourceLimits: ResourceLimits{
				CPUShares:  1024,
				MemoryMB:   2048,
				DiskSizeMB: 10240,
			},
			Timeouts: ContainerTimeouts{
				StopTimeout:         10 * time.Second,
				TaskDuplicateWindow: 5 * time.Minute,
			},
		},
		Git: GitConfig{
			DefaultBranch:                     "main",
			CreateGitRepoForProjectIfNotExist: true,
		},
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8080,
		},
		Claude: ClaudeConfig{
			ClaudeJSONHostPath: "$HOME/.claude.json",
		},
		Agent: AgentConfig{
			DefaultTool:    "claude",
			DefaultVersion: "4.5",
			PromptTemplate: `Please complete the task described below.

Task: {{.title}}
Description: {{.description}}

The task details have been written to: {{.task_file}}

Please read the task file for complete information and execute the requested work in the workspace directory.`,
			Variables: map[string]string{
				"title":       "",
				"description": "",
				"task_file":   "",
			},
			ToolOptions: map[string]interface{}{
				"model": "claude-sonnet-4-5",
			},
			FlagFormat: "space", // Default: --flag value
		},
		Hooks: HooksConfig{
			EnableLogging: false,
			ScriptPath:    "", // Empty means use default: /home/stepflow/.stepflow/bin/stepflow-hook.sh
		},
		Pipeline: PipelineConfig{
			PromptPrefix: "",
			PromptSuffix: `

When you complete this task, end your response with a summary in this exact format:
---SUMMARY---
{"reason": "brief explanation of why these changes were needed", "changes": ["change 1", "change 2", "change 3"]}
---END SUMMARY---
`,
		},
		Telemetry: TelemetryConfig{
			Enabled:        false,
			ServiceName:    "stepflow",
			ServiceVersion: "dev",
			OTLPEndpoint:   "localhost:4318",
			Insecure:       true,
			SampleRatio:    1.0,
			BatchTimeout:   5 * time.Second,
		},
	}
}

// expandPaths expands ~ and environment variables in path configuration values
func (c *AppConfig) expandPaths() {
	// Expand Claude config path
	if c.Claude.ClaudeJSONHostPath != "" {
		c.Claude.ClaudeJSONHostPath = expandPath(c.Claude.ClaudeJSONHostPath)
	}

	// Expand Docker host path
	if c.Container.DockerHost != "" {
		c.Container.DockerHost = expandPath(c.Container.DockerHost)
	}
}

// expandPath expands ~ to home directory and environment variables
func expandPath(path string) string {
	if path == "" {
		return path
	}

	// Expand ~ to home directory
	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[1:])
		}
	}

	// Expand environment variables
	path = os.ExpandEnv(path)

	return path
}

// validate checks if the configuration is valid.
func (c *AppConfig) validate() error {
	if c.Database.Driver == "" {
		return errors.New("database driver is required")
	}

	validLogLevels := map[string]bool{
		"DEBUG": true, "INFO": true, "WARN": true, "ERROR": true, "FATAL": true, "PANIC": true,
	}
	if !validLogLevels[strings.ToUpper(c.Log.Level)] {
		return fmt.Errorf("invalid log level: %s", c.Log.Level)
	}

	if c.Container.DefaultImage == "" {
		return errors.New("container default_image is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	// Validate agent configuration
	if c.Agent.DefaultTool == "" {
		return errors.New("agent.default_tool is required")
	}
	if c.Agent.PromptTemplate == "" {
		return errors.New("agent.prompt_template is required")
	}
	if c.Agent.FlagFormat != "" && c.Agent.FlagFormat != "space" && c.Agent.FlagFormat != "equals" {
		return fmt.Errorf("agent.flag_format must be 'space' or 'equals', got: %s", c.Agent.FlagFormat)
	}

	if c.Queue.MaxSize <= 0 {
		return errors.New("queue.max_size must be positive")
	}
	if c.Queue.MaxConcurrentPerProject <= 0 {
		return errors.New("queue.max_concurrent_per_project must be positive")
	}

	if c.Analysis.MemoryBudgetMB <= 0 {
		return errors.New("analysis.memory_budget_mb must be positive")
	}
	if c.Analysis.DegradeThresholdFraction <= 0 || c.Analysis.DegradeThresholdFraction > 1 {
		return errors.New("analysis.degrade_threshold_fraction must be in (0, 1]")
	}

	return nil
}

// GetDSN returns the database connection string. postgres is the only
// wired driver; any other value is passed through verbatim so a test
// harness can still hand GetDSN a literal DSN.
func (dc *DatabaseConfig) GetDSN() string {
	if dc.Driver != "postgres" {
		return dc.Database
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		dc.Host, dc.Port, dc.Username, dc.Password, dc.Database, dc.SSLMode)
}
