// Package config loads the inbound CLI configuration and cached session.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

const defaultAPIURL = "https://api.inbound.new/api/v1"

// Config is the CLI configuration sourced from the config file, environment
// variables and flags, in increasing precedence.
type Config struct {
	Profile      string `yaml:"-"`
	ConfigFile   string `yaml:"-"`
	APIBaseURL   string `yaml:"api_url"`
	HomeDir      string `yaml:"home"`
	OutputFormat string `yaml:"format"`
	// APIKey, when set, is sent instead of a login session
	APIKey string `yaml:"api_key"`
}

type fileConfig struct {
	Config   `yaml:",inline"`
	Profiles map[string]Config `yaml:"profiles"`
}

// DefaultHomeDir returns the default configuration directory.
func DefaultHomeDir() (string, error) {
	base, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory: %w", err)
	}
	return filepath.Join(base, ".inbound"), nil
}

// Load reads path (a missing file is fine) and applies the named profile and
// INBOUND_* environment overrides.
func Load(path, profile string) (*Config, error) {
	cfg := defaultConfig()
	cfg.ConfigFile = path

	fc, err := readFileConfig(path)
	if err != nil {
		return nil, err
	}
	cfg.merge(fc.Config)

	if profile == "" {
		profile = "default"
	}
	if profile != "default" {
		profileCfg, ok := fc.Profiles[profile]
		if !ok {
			return nil, fmt.Errorf("profile %q not defined in %s", profile, path)
		}
		cfg.merge(profileCfg)
	}

	applyEnvOverrides(&cfg)
	cfg.Profile = profile
	return &cfg, nil
}

func defaultConfig() Config {
	home, _ := DefaultHomeDir()
	return Config{
		APIBaseURL:   defaultAPIURL,
		HomeDir:      home,
		OutputFormat: "table",
	}
}

func readFileConfig(path string) (*fileConfig, error) {
	if path == "" {
		return &fileConfig{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &fileConfig{}, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &fc, nil
}

func (c *Config) merge(other Config) {
	if other.APIBaseURL != "" {
		c.APIBaseURL = strings.TrimRight(other.APIBaseURL, "/")
	}
	if other.HomeDir != "" {
		c.HomeDir = other.HomeDir
	}
	if other.OutputFormat != "" {
		c.OutputFormat = other.OutputFormat
	}
	if other.APIKey != "" {
		c.APIKey = other.APIKey
	}
}

func applyEnvOverrides(cfg *Config) {
	if val := os.Getenv("INBOUND_API_URL"); val != "" {
		cfg.APIBaseURL = strings.TrimRight(val, "/")
	}
	if val := os.Getenv("INBOUND_HOME"); val != "" {
		cfg.HomeDir = val
	}
	if val := os.Getenv("INBOUND_FORMAT"); val != "" {
		cfg.OutputFormat = val
	}
	if val := os.Getenv("INBOUND_API_KEY"); val != "" {
		cfg.APIKey = val
	}
}
