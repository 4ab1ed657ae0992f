package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// Load reads and merges configuration from global and project paths.
// Order of precedence (highest to lowest): project config, global config,
// defaults. Missing files are not errors; malformed JSON is.
func Load(globalPath, projectPath string) (*Config, error) {
	cfg := DefaultConfig()

	if globalPath != "" {
		if err := mergeConfigFile(cfg, globalPath); err != nil {
			return nil, fmt.Errorf("loading global config: %w", err)
		}
	}

	if projectPath != "" {
		if err := mergeConfigFile(cfg, projectPath); err != nil {
			return nil, fmt.Errorf("loading project config: %w", err)
		}
	}

	return cfg, nil
}

// LoadDefault loads configuration from conventional paths.
// Global: ~/.gyre/config.json
// Project: .gyre/config.json (relative to cwd)
func LoadDefault() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("getting home directory: %w", err)
	}

	globalPath := filepath.Join(homeDir, StateDir, "config.json")
	projectPath := filepath.Join(StateDir, "config.json")

	return Load(globalPath, projectPath)
}

// mergeConfigFile reads a JSON config file and merges it into the base
// config. Missing files are silently skipped.
func mergeConfigFile(base *Config, path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var loaded Config
	if err := json.Unmarshal(data, &loaded); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	mergeScheduler(&base.Scheduler, loaded.Scheduler)
	for key, backend := range loaded.Backends {
		base.Backends[key] = backend
	}
	mergeTriage(&base.Triage, loaded.Triage)
	mergePaths(&base.Paths, loaded.Paths)

	return nil
}

// Scalar sections merge field-by-field: a zero value in the loaded file
// means "not set" and keeps the base value.

func mergeScheduler(base *SchedulerConfig, loaded SchedulerConfig) {
	if loaded.Concurrency > 0 {
		base.Concurrency = loaded.Concurrency
	}
	if loaded.PollInterval != "" {
		base.PollInterval = loaded.PollInterval
	}
	if loaded.DefaultBackend != "" {
		base.DefaultBackend = loaded.DefaultBackend
	}
	if loaded.DefaultModel != "" {
		base.DefaultModel = loaded.DefaultModel
	}
	if loaded.LoopOnFailure {
		base.LoopOnFailure = true
	}
}

func mergeTriage(base *TriageConfig, loaded TriageConfig) {
	if loaded.Timeout != "" {
		base.Timeout = loaded.Timeout
	}
	if loaded.MaxRecoveries > 0 {
		base.MaxRecoveries = loaded.MaxRecoveries
	}
	// Triage defaults on; a file that sets any triage field and leaves
	// enabled false is asking to turn it off.
	if loaded.Timeout != "" || loaded.MaxRecoveries > 0 {
		base.Enabled = loaded.Enabled
	} else if loaded.Enabled {
		base.Enabled = true
	}
}

func mergePaths(base *PathsConfig, loaded PathsConfig) {
	if loaded.Graph != "" {
		base.Graph = loaded.Graph
	}
	if loaded.Registry != "" {
		base.Registry = loaded.Registry
	}
	if loaded.History != "" {
		base.History = loaded.History
	}
	if loaded.Socket != "" {
		base.Socket = loaded.Socket
	}
	if loaded.RunDir != "" {
		base.RunDir = loaded.RunDir
	}
}
