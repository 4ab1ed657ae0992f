package backend

import (
	"github.com/gyredev/gyre/internal/config"
)

// gooseBackend builds one-shot runs of the Goose CLI.
type gooseBackend struct {
	kind string
	cfg  config.BackendConfig
}

func (b *gooseBackend) Kind() string { return b.kind }

func (b *gooseBackend) Invocation(req Request) Invocation {
	args := append([]string{}, b.cfg.Args...)

	prompt := req.Prompt
	if sp := resolveSystemPrompt(req, b.cfg); sp != "" {
		prompt = sp + "\n\n" + prompt
	}
	args = append(args, prompt)

	return Invocation{Path: b.cfg.Command, Args: args, WorkDir: req.WorkDir}
}

// genericBackend covers user-configured CLIs the scheduler does not know
// flags for: configured args, then the prompt as the last argument.
type genericBackend struct {
	kind string
	cfg  config.BackendConfig
}

func (b *genericBackend) Kind() string { return b.kind }

func (b *genericBackend) Invocation(req Request) Invocation {
	args := append([]string{}, b.cfg.Args...)
	prompt := req.Prompt
	if sp := resolveSystemPrompt(req, b.cfg); sp != "" {
		prompt = sp + "\n\n" + prompt
	}
	args = append(args, prompt)
	return Invocation{Path: b.cfg.Command, Args: args, WorkDir: req.WorkDir}
}
