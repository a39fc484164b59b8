package client

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds client connection settings.
type Config struct {
	Server    string `yaml:"server"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Region    string `yaml:"region"`
	Service   string `yaml:"service"`
}

// DefaultConfigPath returns ~/.partflow/config.yaml, or empty string if
// the home directory cannot be determined.
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".partflow", "config.yaml")
}

// LoadConfigFromFile reads a YAML config file.
func LoadConfigFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path) //nolint:gosec // Path comes from the user's own flags
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return &cfg, nil
}

// SaveConfigFile writes the config as YAML, creating the parent
// directory if needed. The file is written with owner-only permissions
// since it holds a secret key.
func SaveConfigFile(path string, cfg *Config) error {
	if path == "" {
		return errors.New("save config: empty path")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("save config: %w", err)
	}

	return nil
}

// ConfigFromEnv builds a Config from PARTFLOW_* environment variables.
func ConfigFromEnv() *Config {
	return &Config{
		Server:    os.Getenv("PARTFLOW_SERVER"),
		AccessKey: os.Getenv("PARTFLOW_ACCESS_KEY"),
		SecretKey: os.Getenv("PARTFLOW_SECRET_KEY"),
		Region:    os.Getenv("PARTFLOW_REGION"),
		Service:   os.Getenv("PARTFLOW_SERVICE"),
	}
}

// MergeConfig merges configs left to right; later non-empty fields win.
func MergeConfig(configs ...*Config) *Config {
	merged := &Config{}
	for _, c := range configs {
		if c == nil {
			continue
		}
		if c.Server != "" {
			merged.Server = c.Server
		}
		if c.AccessKey != "" {
			merged.AccessKey = c.AccessKey
		}
		if c.SecretKey != "" {
			merged.SecretKey = c.SecretKey
		}
		if c.Region != "" {
			merged.Region = c.Region
		}
		if c.Service != "" {
			merged.Service = c.Service
		}
	}
	return merged
}
