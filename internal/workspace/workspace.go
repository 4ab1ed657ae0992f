// Package workspace manages per-dispatch run directories: the worker's
// working directory, its captured output, and the context briefing
// assembled from upstream results.
package workspace

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gyredev/gyre/internal/graph"
)

const (
	// ContextFile is the briefing written into every run directory.
	ContextFile = "CONTEXT.md"
	// ResultFile is where a worker may leave a structured result for
	// dead-agent triage to inspect.
	ResultFile = "result.json"

	logTailLines = 20
)

// Manager creates and prunes run directories under a single base dir.
type Manager struct {
	baseDir string
}

// NewManager creates a run-directory manager rooted at baseDir.
func NewManager(baseDir string) (*Manager, error) {
	if baseDir == "" {
		baseDir = filepath.Join(".gyre", "runs")
	}
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("creating run dir %s: %w", baseDir, err)
	}
	return &Manager{baseDir: baseDir}, nil
}

// BaseDir returns the root under which run directories are created.
func (m *Manager) BaseDir() string { return m.baseDir }

// Create makes a fresh run directory for one dispatch and writes the
// context briefing into it.
func (m *Manager) Create(g *graph.Graph, task *graph.Task, agentID string) (string, error) {
	dir := filepath.Join(m.baseDir, task.ID, agentID)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("creating run dir for %s: %w", task.ID, err)
	}

	briefing := BuildContext(g, task)
	if err := os.WriteFile(filepath.Join(dir, ContextFile), []byte(briefing), 0644); err != nil {
		return "", fmt.Errorf("writing context for %s: %w", task.ID, err)
	}
	return dir, nil
}

// ResultPath returns the path a worker's structured result would live at.
func (m *Manager) ResultPath(taskID, agentID string) string {
	return filepath.Join(m.baseDir, taskID, agentID, ResultFile)
}

// Prune removes run directories for tasks whose directories have not
// been modified within maxAge. Errors are logged, not returned; pruning
// is best-effort housekeeping.
func (m *Manager) Prune(maxAge time.Duration) {
	entries, err := os.ReadDir(m.baseDir)
	if err != nil {
		log.Printf("WARNING: reading run dir %s: %v", m.baseDir, err)
		return
	}
	cutoff := time.Now().Add(-maxAge)
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(m.baseDir, e.Name())
		if err := os.RemoveAll(path); err != nil {
			log.Printf("WARNING: pruning %s: %v", path, err)
		}
	}
}

// BuildContext assembles the briefing a worker starts from: the task
// itself, plus deliverables and recent log lines of every terminal
// direct dependency.
func BuildContext(g *graph.Graph, task *graph.Task) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "# Task: %s\n\n", task.Title)
	fmt.Fprintf(&sb, "ID: %s\n", task.ID)
	if task.LoopIteration > 0 {
		fmt.Fprintf(&sb, "Iteration: %d\n", task.LoopIteration)
	}
	if task.Description != "" {
		fmt.Fprintf(&sb, "\n%s\n", task.Description)
	}
	if len(task.Inputs) > 0 {
		sb.WriteString("\n## Inputs\n\n")
		for _, in := range task.Inputs {
			fmt.Fprintf(&sb, "- %s\n", in)
		}
	}
	if task.Deliverables != "" {
		fmt.Fprintf(&sb, "\n## Expected deliverables\n\n%s\n", task.Deliverables)
	}

	deps := terminalDeps(g, task)
	if len(deps) > 0 {
		sb.WriteString("\n## Upstream results\n")
		for _, dep := range deps {
			fmt.Fprintf(&sb, "\n### %s (%s, %s)\n", dep.Title, dep.ID, dep.Status)
			if dep.Deliverables != "" {
				fmt.Fprintf(&sb, "\n%s\n", dep.Deliverables)
			}
			for _, art := range dep.Artifacts {
				fmt.Fprintf(&sb, "- artifact: %s\n", art)
			}
			if tail := logTail(dep.Log, logTailLines); len(tail) > 0 {
				sb.WriteString("\n```\n")
				for _, line := range tail {
					sb.WriteString(line)
					sb.WriteByte('\n')
				}
				sb.WriteString("```\n")
			}
		}
	}
	return sb.String()
}

func terminalDeps(g *graph.Graph, task *graph.Task) []*graph.Task {
	var deps []*graph.Task
	for _, id := range task.BlockedBy {
		dep, ok := g.Get(id)
		if !ok || !dep.Status.Terminal() {
			continue
		}
		deps = append(deps, dep)
	}
	return deps
}

func logTail(lines []string, n int) []string {
	if len(lines) <= n {
		return lines
	}
	return lines[len(lines)-n:]
}
