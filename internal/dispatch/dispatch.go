// Package dispatch claims ready tasks and launches detached workers for
// them. The claim is durable before the process exists: a worker that
// boots and reads the graph always finds its own assignment already
// recorded.
package dispatch

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/gyredev/gyre/internal/backend"
	"github.com/gyredev/gyre/internal/config"
	"github.com/gyredev/gyre/internal/events"
	"github.com/gyredev/gyre/internal/graph"
	"github.com/gyredev/gyre/internal/registry"
	"github.com/gyredev/gyre/internal/store"
	"github.com/gyredev/gyre/internal/workspace"
)

// Dispatcher owns the claim-then-spawn sequence for one scheduler.
type Dispatcher struct {
	store    *store.GraphStore
	registry *registry.Registry
	ws       *workspace.Manager
	breakers *CircuitBreakerRegistry
	bus      *events.Bus
	launcher Launcher
	selfExe  string
}

// New creates a dispatcher. The scheduler's own binary path is resolved
// so the worker wrapper can call back into it for exit reporting.
func New(st *store.GraphStore, reg *registry.Registry, ws *workspace.Manager, bus *events.Bus) *Dispatcher {
	selfExe, err := os.Executable()
	if err != nil {
		log.Printf("WARNING: resolving own executable: %v, wrapper will rely on PATH", err)
		selfExe = "gyre"
	}
	return &Dispatcher{
		store:    st,
		registry: reg,
		ws:       ws,
		breakers: NewCircuitBreakerRegistry(),
		bus:      bus,
		launcher: ProcessLauncher{},
		selfExe:  selfExe,
	}
}

// SetLauncher replaces the process launcher. Tests use this to avoid
// spawning real processes.
func (d *Dispatcher) SetLauncher(l Launcher) { d.launcher = l }

// Dispatch claims task for a fresh agent and launches its worker.
// On launch failure the claim is rolled back so the task returns to the
// ready set on the next tick.
func (d *Dispatcher) Dispatch(ctx context.Context, g *graph.Graph, task *graph.Task, cfg *config.Config, backendName, model string) (registry.Agent, error) {
	kind := backendName
	if kind == "" {
		kind = cfg.Scheduler.DefaultBackend
	}
	bcfg, ok := cfg.Backends[kind]
	if !ok {
		return registry.Agent{}, fmt.Errorf("unknown backend %q", kind)
	}
	b, err := backend.New(kind, bcfg)
	if err != nil {
		return registry.Agent{}, err
	}
	if model == "" {
		model = cfg.Scheduler.DefaultModel
	}

	agentID := registry.NewID()

	// Claim before spawn. A crash between claim and launch leaves an
	// in_progress task with no process, which liveness triage resolves.
	if err := d.store.Claim(ctx, task.ID, agentID); err != nil {
		return registry.Agent{}, fmt.Errorf("claiming %s: %w", task.ID, err)
	}

	// The run directory is created only once the claim holds, so a
	// conflict never leaves an orphaned workspace behind.
	runDir, err := d.ws.Create(g, task, agentID)
	if err != nil {
		d.rollbackClaim(ctx, task.ID, fmt.Sprintf("workspace creation failed: %v", err))
		return registry.Agent{}, err
	}

	inv := b.Invocation(backend.Request{
		Prompt:       workerPrompt(task, d.selfExe),
		Model:        model,
		SystemPrompt: bcfg.SystemPrompt,
		WorkDir:      runDir,
	})
	wrapped := backend.Wrap(inv, d.selfExe, task.ID, agentID)

	pid, err := d.launchThroughBreaker(ctx, kind, wrapped)
	if err != nil {
		d.rollbackClaim(ctx, task.ID, fmt.Sprintf("launch failed: %v", err))
		return registry.Agent{}, fmt.Errorf("launching worker for %s: %w", task.ID, err)
	}

	now := time.Now().UTC()
	agent := registry.Agent{
		ID:        agentID,
		PID:       pid,
		Task:      task.ID,
		Backend:   kind,
		Model:     model,
		RunDir:    runDir,
		StartedAt: now,
		LastSeen:  now,
		State:     registry.StateAlive,
	}
	if err := d.registry.Register(ctx, agent); err != nil {
		// The worker is already running; losing the record would orphan
		// it, so surface the error but do not kill the process.
		return agent, fmt.Errorf("registering agent for %s: %w", task.ID, err)
	}

	d.bus.Publish(events.TopicTask, events.TaskDispatchedEvent{
		Task:      task.ID,
		Agent:     agentID,
		PID:       pid,
		Backend:   kind,
		Timestamp: now,
	})
	return agent, nil
}

// rollbackClaim returns a claimed task to open after a failed dispatch
// step and announces the unclaim.
func (d *Dispatcher) rollbackClaim(ctx context.Context, taskID, reason string) {
	if err := d.store.Unclaim(ctx, taskID); err != nil {
		log.Printf("ERROR: rolling back claim on %s: %v", taskID, err)
	}
	d.bus.Publish(events.TopicTask, events.TaskUnclaimedEvent{
		Task:      taskID,
		Reason:    reason,
		Timestamp: time.Now().UTC(),
	})
}

func (d *Dispatcher) launchThroughBreaker(ctx context.Context, kind string, inv backend.Invocation) (int, error) {
	cb := d.breakers.Get(kind)
	result, err := cb.Execute(func() (interface{}, error) {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		return d.launcher.Launch(inv)
	})
	if err != nil {
		return 0, err
	}
	return result.(int), nil
}

// workerPrompt is the instruction handed to the backend CLI. The full
// briefing lives in the run directory; the prompt points the worker at
// it and at the reporting commands.
func workerPrompt(task *graph.Task, selfExe string) string {
	return fmt.Sprintf(
		"You are working on task %q: %s\n\n"+
			"Read %s in your working directory for the full briefing, inputs, and upstream results.\n\n"+
			"When you finish, record the outcome yourself:\n"+
			"  %s done %s --deliverables \"what you produced\"\n"+
			"or, if the task cannot be completed:\n"+
			"  %s fail %s --note \"why\"\n",
		task.ID, task.Title, workspace.ContextFile, selfExe, task.ID, selfExe, task.ID)
}
