// Package backend turns a task assignment into the command line of a
// worker process. Each supported CLI gets its own adapter; the
// dispatcher wraps the invocation in a reporting shell so the exit code
// reaches the scheduler even if the worker never reports on its own.
package backend

import (
	"fmt"

	"github.com/gyredev/gyre/internal/config"
)

// Backend builds worker invocations for one execution CLI.
type Backend interface {
	// Kind returns the backend's configuration key.
	Kind() string

	// Invocation builds the command for one worker run.
	Invocation(req Request) Invocation
}

// New creates a backend adapter for the named kind. The adapter is
// chosen by the configured command's family; unknown kinds fall back to
// a generic adapter that passes the prompt as the final argument.
func New(kind string, cfg config.BackendConfig) (Backend, error) {
	if cfg.Command == "" {
		return nil, fmt.Errorf("backend %q has no command configured", kind)
	}
	switch kind {
	case "claude":
		return &claudeBackend{kind: kind, cfg: cfg}, nil
	case "codex":
		return &codexBackend{kind: kind, cfg: cfg}, nil
	case "goose":
		return &gooseBackend{kind: kind, cfg: cfg}, nil
	default:
		return &genericBackend{kind: kind, cfg: cfg}, nil
	}
}
