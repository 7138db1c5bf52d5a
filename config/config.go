// Package config loads broker configuration from .agentbroker.yaml.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// FileName is the per-directory configuration file name.
const FileName = ".agentbroker.yaml"

// Config holds broker configuration. Zero values defer to built-in
// defaults; command-line flags override file values.
type Config struct {
	// Env holds extra environment variables for the agent process.
	Env map[string]string `yaml:"env"`

	// CLIPath is the agent CLI binary ("claude" in PATH if empty).
	CLIPath string `yaml:"cli_path"`

	// Model to spawn with (CLI default when empty).
	Model string `yaml:"model"`

	// PermissionMode is the initial permission mode.
	PermissionMode string `yaml:"permission_mode"`

	// PluginDir is an extra plugin directory passed to the CLI.
	PluginDir string `yaml:"plugin_dir"`

	// WorkDir is the agent's working directory (the config file's
	// directory when empty).
	WorkDir string `yaml:"work_dir"`

	// SessionFile overrides the persisted session-identifier file path.
	SessionFile string `yaml:"session_file"`

	// Listen is the serve-mode address (default "127.0.0.1:8754").
	Listen string `yaml:"listen"`

	// LogDir enables file-backed logging when set.
	LogDir string `yaml:"log_dir"`

	// Verbose enables debug logging.
	Verbose bool `yaml:"verbose"`
}

// Load reads the configuration file from dir. A missing file yields the
// default configuration; a malformed one is an error.
func Load(dir string) (*Config, error) {
	path := filepath.Join(dir, FileName)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return defaults(dir), nil
	}
	if err != nil {
		return nil, err
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	applyDefaults(&config, dir)
	return &config, nil
}

func defaults(dir string) *Config {
	config := &Config{}
	applyDefaults(config, dir)
	return config
}

func applyDefaults(config *Config, dir string) {
	if config.WorkDir == "" {
		config.WorkDir = dir
	}
	if config.Listen == "" {
		config.Listen = "127.0.0.1:8754"
	}
}
