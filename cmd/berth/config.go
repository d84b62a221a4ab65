package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"

	"github.com/artpar/berth/internal/core/deploy"
)

// =============================================================================
// Config Types
// =============================================================================

// Config holds the CLI configuration. Values come from defaults, the
// optional config file, and BERTH_* environment variables, in that order;
// explicit flags override all of them.
type Config struct {
	Log     LogConfig     `mapstructure:"log"`
	Deploy  DeployConfig  `mapstructure:"deploy"`
	History HistoryConfig `mapstructure:"history"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DeployConfig holds deployment defaults.
type DeployConfig struct {
	// BaseDir is the root under which per-service directories are managed.
	BaseDir string `mapstructure:"base_dir"`

	// RegistryRetries and BackoffSeconds set the retry policy for
	// transient registry failures.
	RegistryRetries int `mapstructure:"registry_retries"`
	BackoffSeconds  int `mapstructure:"backoff_seconds"`

	// SSHKey is the private key used with --host. Empty probes the
	// standard ~/.ssh locations.
	SSHKey string `mapstructure:"ssh_key"`
}

// HistoryConfig holds run-history configuration.
type HistoryConfig struct {
	// Enabled turns run recording off entirely when false.
	Enabled bool `mapstructure:"enabled"`

	// Path overrides the run database location. Empty derives it from the
	// deployment base directory.
	Path string `mapstructure:"path"`
}

// HistoryPath returns the run database location: the configured path, or
// berth.db under the deployment base directory.
func (c *Config) HistoryPath(baseDir string) string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return filepath.Join(baseDir, "berth.db")
}

// =============================================================================
// Config Errors
// =============================================================================

// ConfigError reports an unusable configuration source.
type ConfigError struct {
	Message string
	Err     error
}

func (e *ConfigError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("config: %s: %v", e.Message, e.Err)
	}
	return "config: " + e.Message
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// NewConfigError creates a ConfigError.
func NewConfigError(message string, err error) *ConfigError {
	return &ConfigError{Message: message, Err: err}
}

// =============================================================================
// Config Loading
// =============================================================================

// LoadConfig loads configuration from file and environment.
func LoadConfig(configPath string) (*Config, error) {
	v := viper.New()

	// Set defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("deploy.base_dir", deploy.DefaultBaseDir)
	v.SetDefault("deploy.registry_retries", deploy.DefaultRegistryRetries)
	v.SetDefault("deploy.backoff_seconds", deploy.DefaultRetryBackoffSeconds)
	v.SetDefault("deploy.ssh_key", "")
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", "")

	// Load from file if provided
	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			// Only return error if file was explicitly specified and is invalid
			if _, ok := err.(viper.ConfigParseError); ok {
				return nil, NewConfigError("failed to parse config file", err)
			}
			// File not found is OK, we'll use defaults
		}
	}

	// Enable environment variable overrides
	v.SetEnvPrefix("BERTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Unmarshal config
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, NewConfigError("failed to unmarshal config", err)
	}

	return &cfg, nil
}

// =============================================================================
// Logger Setup
// =============================================================================

// SetupLogger creates a logger with the given level and format, installs it
// as the process default, and returns it. Logs go to stderr so stdout stays
// clean for command output.
func SetupLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: lvl,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
