package config

import "path/filepath"

// StateDir is the project-local directory holding all scheduler state.
const StateDir = ".gyre"

// DefaultConfig returns the built-in configuration: three known backend
// CLIs, a conservative concurrency budget, and project-local paths.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			Concurrency:    4,
			PollInterval:   "15s",
			DefaultBackend: "claude",
		},
		Backends: map[string]BackendConfig{
			"claude": {
				Command: "claude",
				Args:    []string{"-p", "--dangerously-skip-permissions"},
			},
			"codex": {
				Command: "codex",
				Args:    []string{"exec"},
			},
			"goose": {
				Command: "goose",
				Args:    []string{"run", "--text"},
			},
		},
		Triage: TriageConfig{
			Enabled:       true,
			Timeout:       "30s",
			MaxRecoveries: 3,
		},
		Paths: PathsConfig{
			Graph:    filepath.Join(StateDir, "graph.ndjson"),
			Registry: filepath.Join(StateDir, "agents.ndjson"),
			History:  filepath.Join(StateDir, "history.db"),
			Socket:   filepath.Join(StateDir, "gyre.sock"),
			RunDir:   filepath.Join(StateDir, "runs"),
		},
	}
}
