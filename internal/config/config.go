// Package config loads the daemon configuration from YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds everything the daemon needs to start.
type Config struct {
	// Listen is the control plane bind address.
	Listen string `yaml:"listen"`
	// DBPath is the sqlite database file. "~" expands to the home directory.
	DBPath string `yaml:"db_path"`
	// Workspace is the sandbox root directory.
	Workspace string `yaml:"workspace"`
	// Generator names the default backend when a request does not pick one.
	Generator string `yaml:"generator"`

	Queue    QueueConfig    `yaml:"queue"`
	Cache    CacheConfig    `yaml:"cache"`
	Selector SelectorConfig `yaml:"selector"`
}

// QueueConfig controls the per-context execution workers.
type QueueConfig struct {
	// Buffer is the per-context channel capacity.
	Buffer int `yaml:"buffer"`
	// ShellTimeoutSeconds bounds each shell action.
	ShellTimeoutSeconds int `yaml:"shell_timeout_seconds"`
}

// CacheConfig controls the response cache.
type CacheConfig struct {
	// TTLMinutes is the entry lifetime.
	TTLMinutes int `yaml:"ttl_minutes"`
	// Capacity is the maximum entry count before the oldest is evicted.
	Capacity int `yaml:"capacity"`
	// SimilarityThreshold is the near-match cutoff, 0 to 1.
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
}

// SelectorConfig controls context window assembly.
type SelectorConfig struct {
	// BudgetBytes caps the assembled window size.
	BudgetBytes int `yaml:"budget_bytes"`
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() *Config {
	return &Config{
		Listen:    "127.0.0.1:7433",
		DBPath:    "~/.weft/weft.db",
		Workspace: ".",
		Queue: QueueConfig{
			Buffer:              64,
			ShellTimeoutSeconds: 120,
		},
		Cache: CacheConfig{
			TTLMinutes:          60,
			Capacity:            256,
			SimilarityThreshold: 0.85,
		},
		Selector: SelectorConfig{
			BudgetBytes: 48 * 1024,
		},
	}
}

// LoadConfig loads configuration from a YAML file. A missing file yields the
// defaults; keys absent from the file keep their default values.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return DefaultConfig(), nil
		}
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// LoadConfigFromHome loads configuration from ~/.weft/config.yaml.
func LoadConfigFromHome() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return DefaultConfig(), nil
	}
	return LoadConfig(filepath.Join(home, ".weft", "config.yaml"))
}

// SaveConfig writes the configuration, creating parent directories if needed.
func SaveConfig(path string, cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config cannot be nil")
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating config dir: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}
	return nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address cannot be empty")
	}
	if c.Queue.Buffer < 1 {
		return fmt.Errorf("queue buffer must be at least 1")
	}
	if c.Queue.ShellTimeoutSeconds < 1 {
		return fmt.Errorf("shell timeout must be at least 1 second")
	}
	if c.Cache.SimilarityThreshold < 0 || c.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity threshold must be between 0 and 1")
	}
	if c.Selector.BudgetBytes < 1 {
		return fmt.Errorf("selector budget must be positive")
	}
	return nil
}

// ShellTimeout returns the shell timeout as a duration.
func (c *Config) ShellTimeout() time.Duration {
	return time.Duration(c.Queue.ShellTimeoutSeconds) * time.Second
}

// CacheTTL returns the cache entry lifetime as a duration.
func (c *Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLMinutes) * time.Minute
}

// ResolveDBPath expands a leading "~" in the database path and creates the
// parent directory.
func (c *Config) ResolveDBPath() (string, error) {
	p := c.DBPath
	if len(p) > 0 && p[0] == '~' {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolving home dir: %w", err)
		}
		p = filepath.Join(home, p[1:])
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return "", fmt.Errorf("creating data dir: %w", err)
	}
	return p, nil
}
