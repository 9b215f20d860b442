// Package config handles configuration loading and management for Maestro.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Maestro.
type Config struct {
	Anthropic  AnthropicConfig  `mapstructure:"anthropic"`
	Limits     LimitsConfig     `mapstructure:"limits"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Server     ServerConfig     `mapstructure:"server"`
	Cache      CacheConfig      `mapstructure:"cache"`
	Debug      DebugConfig      `mapstructure:"debug"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	// APIKey is the Anthropic API key. ${VAR} references are expanded.
	APIKey string `mapstructure:"api_key"`
	// Model overrides the default model id.
	Model string `mapstructure:"model"`
	// UseBedrock routes requests through AWS Bedrock instead of the API.
	UseBedrock bool `mapstructure:"use_bedrock"`
	// AWSRegion is the Bedrock region.
	AWSRegion string `mapstructure:"aws_region"`
	// AWSProfile is the AWS credentials profile for Bedrock.
	AWSProfile string `mapstructure:"aws_profile"`
}

// LimitsConfig holds structural limits for task execution.
type LimitsConfig struct {
	// MaxNestingLevel caps decomposition depth.
	MaxNestingLevel int `mapstructure:"max_nesting_level"`
	// MaxSubtasksPerTask caps children per breakdown.
	MaxSubtasksPerTask int `mapstructure:"max_subtasks_per_task"`
	// MaxRefinementsPerRun caps refinement cycles per request.
	MaxRefinementsPerRun int `mapstructure:"max_refinements_per_run"`
}

// SupervisorConfig holds strategy selection settings.
type SupervisorConfig struct {
	// MaxStrategy caps strategy selection (direct, flat, hierarchical).
	// Empty means no cap.
	MaxStrategy string `mapstructure:"max_strategy"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `mapstructure:"addr"`
	// AllowedOrigins lists CORS origins. Empty allows all.
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// CacheConfig holds session snapshot cache settings.
type CacheConfig struct {
	// TTL is how long a session snapshot stays readable without updates.
	TTL time.Duration `mapstructure:"ttl"`
	// MaxEntries bounds the snapshot cache.
	MaxEntries int `mapstructure:"max_entries"`
}

// DebugConfig holds debug logging settings.
type DebugConfig struct {
	// LogPath is the debug log file path. Empty disables debug logging.
	LogPath string `mapstructure:"log_path"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, MAESTRO_*)
// 2. Project config (.maestro.yaml in current directory or parent)
// 3. User config (~/.config/maestro/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	// Project config takes precedence over the user config.
	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("MAESTRO")
	v.AutomaticEnv()

	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("anthropic.model", "MAESTRO_MODEL")
	v.BindEnv("server.addr", "MAESTRO_ADDR")
	v.BindEnv("debug.log_path", "MAESTRO_DEBUG_LOG")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	cfg.Anthropic.APIKey = expandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// GetProjectConfigPath returns the path to the project config file if it exists.
func GetProjectConfigPath() string {
	return findProjectConfig()
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")

	v.SetDefault("limits.max_nesting_level", 5)
	v.SetDefault("limits.max_subtasks_per_task", 10)
	v.SetDefault("limits.max_refinements_per_run", 10)

	v.SetDefault("supervisor.max_strategy", "")

	v.SetDefault("server.addr", ":8420")
	v.SetDefault("server.allowed_origins", []string{})

	v.SetDefault("cache.ttl", "30m")
	v.SetDefault("cache.max_entries", 1024)

	v.SetDefault("debug.log_path", "")
}

// getUserConfigDir returns the XDG config directory for Maestro.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "maestro")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "maestro")
	}
	return filepath.Join(home, ".config", "maestro")
}

// findProjectConfig searches for .maestro.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".maestro.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}

// expandEnv expands ${VAR} references in a string.
func expandEnv(s string) string {
	return os.ExpandEnv(s)
}

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Limits: LimitsConfig{
			MaxNestingLevel:      5,
			MaxSubtasksPerTask:   10,
			MaxRefinementsPerRun: 10,
		},
		Server: ServerConfig{
			Addr: ":8420",
		},
		Cache: CacheConfig{
			TTL:        30 * time.Minute,
			MaxEntries: 1024,
		},
	}
}
