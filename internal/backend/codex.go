package backend

import (
	"github.com/gyredev/gyre/internal/config"
)

// codexBackend builds one-shot runs of the Codex CLI. Codex has no
// separate system-prompt flag, so the role prompt is folded into the
// task prompt.
type codexBackend struct {
	kind string
	cfg  config.BackendConfig
}

func (b *codexBackend) Kind() string { return b.kind }

func (b *codexBackend) Invocation(req Request) Invocation {
	args := append([]string{}, b.cfg.Args...)
	if model := resolveModel(req, b.cfg); model != "" {
		args = append(args, "--model", model)
	}

	prompt := req.Prompt
	if sp := resolveSystemPrompt(req, b.cfg); sp != "" {
		prompt = sp + "\n\n" + prompt
	}
	args = append(args, prompt)

	return Invocation{Path: b.cfg.Command, Args: args, WorkDir: req.WorkDir}
}
