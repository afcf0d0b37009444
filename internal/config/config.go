// Package config loads and validates the notesync configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// RemoteConfig holds the settings for the remote task service.
type RemoteConfig struct {
	BaseURL        string `yaml:"base_url"`
	Account        string `yaml:"account"`
	ConnectTimeout string `yaml:"connect_timeout"`
	RequestTimeout string `yaml:"request_timeout"`
	UpdateBatchMax int    `yaml:"update_batch_max"`
}

// StoreConfig holds the settings for the local note store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig holds the logging settings.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
}

// Config is the top-level configuration.
type Config struct {
	Remote  RemoteConfig  `yaml:"remote"`
	Store   StoreConfig   `yaml:"store"`
	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			BaseURL:        "https://mail.google.com/tasks",
			ConnectTimeout: "10s",
			RequestTimeout: "15s",
			UpdateBatchMax: 10,
		},
		Store: StoreConfig{
			Path: defaultStorePath(),
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// defaultStorePath returns the default database location under the
// user config directory.
func defaultStorePath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "notesync.db"
	}
	return filepath.Join(configDir, "notesync", "notesync.db")
}

// DefaultConfigPath returns the default config file location.
func DefaultConfigPath() string {
	configDir, err := os.UserConfigDir()
	if err != nil {
		return "notesync.yaml"
	}
	return filepath.Join(configDir, "notesync", "config.yaml")
}

// Load reads the config file at path, layering it over the defaults.
// A missing file is not an error; the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Remote.BaseURL == "" {
		return fmt.Errorf("remote.base_url must not be empty")
	}
	if _, err := time.ParseDuration(c.Remote.ConnectTimeout); err != nil {
		return fmt.Errorf("remote.connect_timeout: %w", err)
	}
	if _, err := time.ParseDuration(c.Remote.RequestTimeout); err != nil {
		return fmt.Errorf("remote.request_timeout: %w", err)
	}
	if c.Remote.UpdateBatchMax < 1 {
		return fmt.Errorf("remote.update_batch_max must be at least 1, got %d", c.Remote.UpdateBatchMax)
	}
	return nil
}

// ConnectTimeout returns the parsed connect timeout.
func (c *Config) ConnectTimeout() time.Duration {
	d, err := time.ParseDuration(c.Remote.ConnectTimeout)
	if err != nil {
		return 10 * time.Second
	}
	return d
}

// RequestTimeout returns the parsed request timeout.
func (c *Config) RequestTimeout() time.Duration {
	d, err := time.ParseDuration(c.Remote.RequestTimeout)
	if err != nil {
		return 15 * time.Second
	}
	return d
}
