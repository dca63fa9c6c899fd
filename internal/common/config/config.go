// Package config provides configuration management for agentbridge.
// It supports loading configuration from environment variables, config files, and defaults.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration sections for agentbridge.
type Config struct {
	Subprocess   SubprocessConfig   `mapstructure:"subprocess"`
	WorkerPool   WorkerPoolConfig   `mapstructure:"workerPool"`
	SessionIndex SessionIndexConfig `mapstructure:"sessionIndex"`
	Logging      LoggingConfig      `mapstructure:"logging"`
	Tracing      TracingConfig      `mapstructure:"tracing"`
}

// SubprocessConfig controls how the agent subprocess is located and launched.
type SubprocessConfig struct {
	// Command is the agent binary to exec (e.g. "claude").
	Command string `mapstructure:"command"`
	// ExtraArgs are passed verbatim, placed before the bridge's own framing
	// flags.
	ExtraArgs []string `mapstructure:"extraArgs"`
	// InitializeTimeout bounds how long the bridge waits for the child's
	// initialize control response after spawn.
	InitializeTimeout time.Duration `mapstructure:"initializeTimeout"`
	// ShutdownGrace is how long close() waits after signalling EOF before
	// escalating to a forced kill.
	ShutdownGrace time.Duration `mapstructure:"shutdownGrace"`
}

// WorkerPoolConfig controls the pre-warmed auxiliary worker pool.
type WorkerPoolConfig struct {
	InitialSize  int    `mapstructure:"initialSize"`
	SoftMax      int    `mapstructure:"softMax"`
	MaxUses      int    `mapstructure:"maxUses"`
	SystemPrompt string `mapstructure:"systemPrompt"`
}

// SessionIndexConfig controls the disk-backed session index.
type SessionIndexConfig struct {
	// Path is the sqlite database file. Empty means in-memory only.
	Path string `mapstructure:"path"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	OutputPath string `mapstructure:"outputPath"`
}

// TracingConfig holds OpenTelemetry exporter configuration. When Endpoint is
// empty, a no-op tracer provider is installed.
type TracingConfig struct {
	Endpoint    string `mapstructure:"endpoint"`
	ServiceName string `mapstructure:"serviceName"`
}

// detectDefaultLogFormat mirrors logger.detectLogFormat so a Config built
// without going through the logger package still picks a sensible default.
func detectDefaultLogFormat() string {
	if os.Getenv("KUBERNETES_SERVICE_HOST") != "" {
		return "json"
	}
	if env := os.Getenv("AGENTBRIDGE_ENV"); env == "production" || env == "prod" {
		return "json"
	}
	return "text"
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("subprocess.command", "claude")
	v.SetDefault("subprocess.extraArgs", []string{})
	v.SetDefault("subprocess.initializeTimeout", 60*time.Second)
	v.SetDefault("subprocess.shutdownGrace", 5*time.Second)

	v.SetDefault("workerPool.initialSize", 1)
	v.SetDefault("workerPool.softMax", 3)
	v.SetDefault("workerPool.maxUses", 20)
	v.SetDefault("workerPool.systemPrompt", "You are a fast auxiliary assistant used for routing and title generation. Answer in one line.")

	v.SetDefault("sessionIndex.path", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", detectDefaultLogFormat())
	v.SetDefault("logging.outputPath", "stderr")

	v.SetDefault("tracing.endpoint", "")
	v.SetDefault("tracing.serviceName", "agentbridge")
}

// Load reads configuration from environment variables, a config file, and
// defaults. Environment variables use the prefix AGENTBRIDGE_ with
// snake_case naming.
func Load() (*Config, error) {
	return LoadWithPath("")
}

// LoadWithPath reads configuration from the specified directory or the
// default search locations (".", "/etc/agentbridge/").
func LoadWithPath(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix("AGENTBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetConfigName("config")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	v.AddConfigPath("/etc/agentbridge/")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

func validate(cfg *Config) error {
	var errs []string

	if cfg.Subprocess.Command == "" {
		errs = append(errs, "subprocess.command must not be empty")
	}
	if cfg.WorkerPool.InitialSize < 0 {
		errs = append(errs, "workerPool.initialSize must be >= 0")
	}
	if cfg.WorkerPool.SoftMax < cfg.WorkerPool.InitialSize {
		errs = append(errs, "workerPool.softMax must be >= workerPool.initialSize")
	}
	if cfg.WorkerPool.MaxUses <= 0 {
		errs = append(errs, "workerPool.maxUses must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(cfg.Logging.Level)] {
		errs = append(errs, "logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true, "console": true}
	if !validFormats[strings.ToLower(cfg.Logging.Format)] {
		errs = append(errs, "logging.format must be one of: json, text, console")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}
