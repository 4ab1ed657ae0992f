package backend

// Request carries everything an adapter needs to build one worker run.
type Request struct {
	Prompt       string // the full task briefing, context included
	Model        string // resolved model override, may be empty
	SystemPrompt string // resolved role prompt, may be empty
	WorkDir      string // directory the worker runs in
}

// Invocation is a fully resolved worker command line.
type Invocation struct {
	Path    string   // binary to execute
	Args    []string // arguments, prompt included
	WorkDir string
}
