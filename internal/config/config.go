// Package config handles configuration loading and management for Flowline.
// It supports XDG config paths, project-level overrides, and environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for Flowline.
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Locks     LocksConfig     `mapstructure:"locks"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Pool      PoolConfig      `mapstructure:"pool"`
	FlowTypes FlowTypesConfig `mapstructure:"flow_types"`
	Anthropic AnthropicConfig `mapstructure:"anthropic"`
}

// DatabaseConfig holds persistence settings.
type DatabaseConfig struct {
	// Path is the SQLite database file path. Empty uses the XDG default.
	Path string `mapstructure:"path"`
}

// LocksConfig holds distributed lock settings.
type LocksConfig struct {
	// TTL is the lock lease duration.
	TTL time.Duration `mapstructure:"ttl"`
	// RetryDelay is the delay before the single acquisition retry.
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

// CacheConfig holds status snapshot cache settings.
type CacheConfig struct {
	// TTL is how long a combined-status snapshot stays valid.
	TTL time.Duration `mapstructure:"ttl"`
}

// PoolConfig holds tenant agent pool settings.
type PoolConfig struct {
	// MaxIdle is how long an agent may sit unused before eviction.
	MaxIdle time.Duration `mapstructure:"max_idle"`
	// AgentTypes are the agent roles created per tenant.
	AgentTypes []string `mapstructure:"agent_types"`
}

// FlowTypesConfig holds flow type definition loading settings.
type FlowTypesConfig struct {
	// Dir is the directory holding flow type YAML definitions.
	Dir string `mapstructure:"dir"`
	// Watch enables hot reload of definitions on file changes.
	Watch bool `mapstructure:"watch"`
}

// AnthropicConfig holds Anthropic API settings.
type AnthropicConfig struct {
	APIKey     string `mapstructure:"api_key"`
	Model      string `mapstructure:"model"`
	UseBedrock bool   `mapstructure:"use_bedrock"`
	AWSRegion  string `mapstructure:"aws_region"`
	AWSProfile string `mapstructure:"aws_profile"`
}

// Load loads configuration from XDG paths, project overrides, and environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (ANTHROPIC_API_KEY, FLOWLINE_DB_PATH)
// 2. Project config (.flowline.yaml in current directory or parent)
// 3. User config (~/.config/flowline/config.yaml)
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

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			// Merge project config (takes precedence)
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.AutomaticEnv()
	v.BindEnv("anthropic.api_key", "ANTHROPIC_API_KEY")
	v.BindEnv("database.path", "FLOWLINE_DB_PATH")

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	// Expand ${VAR} references
	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

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

	cfg.Anthropic.APIKey = os.ExpandEnv(cfg.Anthropic.APIKey)

	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "")

	v.SetDefault("locks.ttl", "30s")
	v.SetDefault("locks.retry_delay", "500ms")

	v.SetDefault("cache.ttl", "5m")

	v.SetDefault("pool.max_idle", "4h")
	v.SetDefault("pool.agent_types", []string{"analyst", "reviewer"})

	v.SetDefault("flow_types.dir", "")
	v.SetDefault("flow_types.watch", false)

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "")
	v.SetDefault("anthropic.use_bedrock", false)
	v.SetDefault("anthropic.aws_region", "")
	v.SetDefault("anthropic.aws_profile", "")
}

// getUserConfigDir returns the XDG config directory for Flowline.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "flowline")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "flowline")
	}
	return filepath.Join(home, ".config", "flowline")
}

// findProjectConfig searches for .flowline.yaml in the current directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".flowline.yaml")
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

// Default returns a Config with default values.
func Default() *Config {
	return &Config{
		Locks: LocksConfig{
			TTL:        30 * time.Second,
			RetryDelay: 500 * time.Millisecond,
		},
		Cache: CacheConfig{
			TTL: 5 * time.Minute,
		},
		Pool: PoolConfig{
			MaxIdle:    4 * time.Hour,
			AgentTypes: []string{"analyst", "reviewer"},
		},
	}
}
