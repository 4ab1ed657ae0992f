package config

import (
	"time"
)

// SchedulerConfig carries the coordinator's tunables. The coordinator
// holds these in an atomically swappable settings object; reconfigure
// replaces them without a restart.
type SchedulerConfig struct {
	Concurrency    int    `json:"concurrency"`               // max simultaneously alive agents
	PollInterval   string `json:"poll_interval"`             // safety-net tick cadence, e.g. "15s"
	DefaultBackend string `json:"default_backend"`           // key into Backends
	DefaultModel   string `json:"default_model,omitempty"`   // model override passed to the backend
	LoopOnFailure  bool   `json:"loop_on_failure,omitempty"` // evaluate loop edges on failed/abandoned too
}

// PollDuration parses PollInterval, falling back to 15s.
func (s SchedulerConfig) PollDuration() time.Duration {
	if d, err := time.ParseDuration(s.PollInterval); err == nil && d > 0 {
		return d
	}
	return 15 * time.Second
}

// BackendConfig defines one execution backend: the CLI that runs a worker.
type BackendConfig struct {
	Command      string   `json:"command"`                 // binary name, e.g. "claude"
	Args         []string `json:"args,omitempty"`          // args prepended to every invocation
	Model        string   `json:"model,omitempty"`         // backend-level model default
	SystemPrompt string   `json:"system_prompt,omitempty"` // role prompt passed through
}

// TriageConfig governs dead-agent classification.
type TriageConfig struct {
	Enabled       bool   `json:"enabled"`
	Timeout       string `json:"timeout,omitempty"`        // classification time budget
	MaxRecoveries int    `json:"max_recoveries,omitempty"` // retry ceiling before marking failed
}

// TimeoutDuration parses Timeout, falling back to 30s.
func (t TriageConfig) TimeoutDuration() time.Duration {
	if d, err := time.ParseDuration(t.Timeout); err == nil && d > 0 {
		return d
	}
	return 30 * time.Second
}

// PathsConfig locates the durable state files and the control socket.
type PathsConfig struct {
	Graph    string `json:"graph"`    // task graph NDJSON
	Registry string `json:"registry"` // agent registry NDJSON
	History  string `json:"history"`  // SQLite audit trail
	Socket   string `json:"socket"`   // control channel unix socket
	RunDir   string `json:"run_dir"`  // per-dispatch workspaces
}

// Config is the top-level configuration.
type Config struct {
	Scheduler SchedulerConfig          `json:"scheduler"`
	Backends  map[string]BackendConfig `json:"backends"`
	Triage    TriageConfig             `json:"triage"`
	Paths     PathsConfig              `json:"paths"`
}
