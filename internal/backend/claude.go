package backend

import (
	"github.com/gyredev/gyre/internal/config"
)

// claudeBackend builds one-shot runs of the Claude Code CLI.
type claudeBackend struct {
	kind string
	cfg  config.BackendConfig
}

func (b *claudeBackend) Kind() string { return b.kind }

func (b *claudeBackend) Invocation(req Request) Invocation {
	args := append([]string{}, b.cfg.Args...)
	if model := resolveModel(req, b.cfg); model != "" {
		args = append(args, "--model", model)
	}
	if sp := resolveSystemPrompt(req, b.cfg); sp != "" {
		args = append(args, "--append-system-prompt", sp)
	}
	args = append(args, req.Prompt)

	return Invocation{Path: b.cfg.Command, Args: args, WorkDir: req.WorkDir}
}

// resolveModel prefers the per-request model over the backend default.
func resolveModel(req Request, cfg config.BackendConfig) string {
	if req.Model != "" {
		return req.Model
	}
	return cfg.Model
}

func resolveSystemPrompt(req Request, cfg config.BackendConfig) string {
	if req.SystemPrompt != "" {
		return req.SystemPrompt
	}
	return cfg.SystemPrompt
}
