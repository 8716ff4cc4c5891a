package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config holds the worker configuration
type Config struct {
	Source  SourceConfig  `yaml:"source"`
	Shard   ShardConfig   `yaml:"shard"`
	Resume  ResumeConfig  `yaml:"resume"`
	Runner  RunnerConfig  `yaml:"runner"`
	Health  HealthConfig  `yaml:"health"`
	Logging LoggingConfig `yaml:"logging"`
}

// DefaultConfig returns the configuration used when no file or variable
// overrides a value.
func DefaultConfig() *Config {
	return &Config{
		Source:  DefaultSourceConfig(),
		Shard:   DefaultShardConfig(),
		Resume:  DefaultResumeConfig(),
		Runner:  DefaultRunnerConfig(),
		Health:  DefaultHealthConfig(),
		Logging: DefaultLoggingConfig(),
	}
}

// LoadConfig loads configuration from files and environment variables.
// Order: defaults -> config.yml -> config.local.yml -> ApplyDefaults ->
// ApplyEnvOverrides -> ResolvePaths -> Validate
func LoadConfig(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = "config"
	}

	// 1. Start with default values (so YAML can override them, including bool fields)
	cfg := DefaultConfig()

	// 2. Load config.yml, then config.local.yml on top of it
	for _, name := range []string{"config.yml", "config.local.yml"} {
		if err := loadFile(filepath.Join(configDir, name), cfg); err != nil {
			return nil, err
		}
	}

	// 3. Apply the lifecycle to every section
	if err := ApplyServiceConfigs(configDir,
		&cfg.Source,
		&cfg.Shard,
		&cfg.Resume,
		&cfg.Runner,
		&cfg.Health,
		&cfg.Logging,
	); err != nil {
		return nil, fmt.Errorf("configuration error: %w", err)
	}
	return cfg, nil
}

func loadFile(filename string, cfg *Config) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		if os.IsNotExist(err) {
			return nil // File doesn't exist, skip
		}
		return fmt.Errorf("failed to read %s: %w", filename, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	return nil
}
