// Package coordinator runs the scheduling loop: it watches the graph,
// probes worker liveness, and dispatches ready tasks within the
// concurrency budget. One coordinator runs per graph; ticks are
// strictly serialized.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"golang.org/x/sync/errgroup"

	"github.com/gyredev/gyre/internal/config"
	"github.com/gyredev/gyre/internal/dispatch"
	"github.com/gyredev/gyre/internal/events"
	"github.com/gyredev/gyre/internal/graph"
	"github.com/gyredev/gyre/internal/registry"
	"github.com/gyredev/gyre/internal/store"
	"github.com/gyredev/gyre/internal/triage"
)

// MetaHook is an opaque graph mutation step run between liveness
// probing and dispatch. Planner-style collaborators use it to inject
// generated tasks before the ready set is computed.
type MetaHook func(ctx context.Context, g *graph.Graph) error

// Coordinator owns the tick loop and the operational controls exposed
// over the control channel.
type Coordinator struct {
	store      *store.GraphStore
	registry   *registry.Registry
	prober     registry.Prober
	dispatcher *dispatch.Dispatcher
	triager    *triage.Triager
	bus        *events.Bus

	cfg      atomic.Pointer[config.Config]
	paused   atomic.Bool
	wake     chan struct{}
	metaHook MetaHook

	tickMu        sync.Mutex
	graphComplete bool
}

// New creates a coordinator. triager may be nil, in which case dead
// agents always have their task unclaimed.
func New(st *store.GraphStore, reg *registry.Registry, d *dispatch.Dispatcher, tr *triage.Triager, bus *events.Bus, cfg *config.Config) *Coordinator {
	c := &Coordinator{
		store:      st,
		registry:   reg,
		prober:     registry.ProcessProber{},
		dispatcher: d,
		triager:    tr,
		bus:        bus,
		wake:       make(chan struct{}, 1),
	}
	c.cfg.Store(cfg)
	return c
}

// SetProber replaces the liveness prober. Tests use this.
func (c *Coordinator) SetProber(p registry.Prober) { c.prober = p }

// SetMetaHook installs the opaque graph mutation step.
func (c *Coordinator) SetMetaHook(h MetaHook) { c.metaHook = h }

// Config returns the current configuration snapshot.
func (c *Coordinator) Config() *config.Config { return c.cfg.Load() }

// Wake requests an immediate tick. Never blocks; a wake during an
// in-flight tick coalesces into one follow-up tick.
func (c *Coordinator) Wake() {
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// Pause stops dispatching. Liveness probing and reaping continue so no
// task is stranded in_progress while the scheduler is paused.
func (c *Coordinator) Pause() { c.paused.Store(true) }

// Resume re-enables dispatching and triggers a tick.
func (c *Coordinator) Resume() {
	c.paused.Store(false)
	c.Wake()
}

// Paused reports whether dispatching is paused.
func (c *Coordinator) Paused() bool { return c.paused.Load() }

// Reconfigure applies mutate to a copy of the current configuration and
// swaps it in. The next tick sees the new settings.
func (c *Coordinator) Reconfigure(mutate func(*config.Config)) {
	cur := c.cfg.Load()
	next := *cur
	next.Backends = make(map[string]config.BackendConfig, len(cur.Backends))
	for k, v := range cur.Backends {
		next.Backends[k] = v
	}
	mutate(&next)
	c.cfg.Store(&next)
	c.Wake()
}

// Run drives the loop until ctx is cancelled: wakes are served
// immediately, and a periodic timer ticks as a safety net against
// out-of-band graph edits. A filesystem watcher on the graph file turns
// external writes into wakes.
func (c *Coordinator) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	eg.Go(func() error { return c.watchGraph(ctx) })
	eg.Go(func() error { return c.loop(ctx) })

	err := eg.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (c *Coordinator) loop(ctx context.Context) error {
	// Initial tick covers restart recovery: persisted agents are
	// rediscovered and probed before any new dispatch.
	if err := c.Tick(ctx); err != nil {
		log.Printf("ERROR: tick: %v", err)
	}

	timer := time.NewTimer(c.Config().Scheduler.PollDuration())
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.wake:
		case <-timer.C:
		}

		if err := c.Tick(ctx); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Printf("ERROR: tick: %v", err)
		}

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(c.Config().Scheduler.PollDuration())
	}
}

// watchGraph wakes the loop when the graph file changes. The store
// rewrites via rename, so the watch sits on the directory.
func (c *Coordinator) watchGraph(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating graph watcher: %w", err)
	}
	defer watcher.Close()

	dir := filepath.Dir(c.store.Path())
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("watching %s: %w", dir, err)
	}
	name := filepath.Base(c.store.Path())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) == name && ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				c.Wake()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("WARNING: graph watcher: %v", err)
		}
	}
}

// KillAgent terminates a worker: SIGTERM, then SIGKILL after the grace
// period unless force skips straight to SIGKILL. The agent is retired
// and its task unclaimed.
func (c *Coordinator) KillAgent(ctx context.Context, agentID string, force bool, grace time.Duration) error {
	agent, err := c.registry.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.Retired() {
		return nil
	}

	if force {
		_ = syscall.Kill(agent.PID, syscall.SIGKILL)
	} else {
		_ = syscall.Kill(agent.PID, syscall.SIGTERM)
		deadline := time.After(grace)
	waitLoop:
		for c.prober.Alive(agent.PID) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-deadline:
				_ = syscall.Kill(agent.PID, syscall.SIGKILL)
				break waitLoop
			case <-time.After(100 * time.Millisecond):
			}
		}
	}

	// An operator kill does not count against the task's retry ceiling.
	now := time.Now().UTC()
	if err := c.registry.Retire(ctx, agentID, now); err != nil {
		return err
	}
	if agent.Task != "" {
		if err := c.store.Unclaim(ctx, agent.Task); err != nil {
			return fmt.Errorf("unclaiming %s: %w", agent.Task, err)
		}
		c.bus.Publish(events.TopicTask, events.TaskUnclaimedEvent{
			Task:      agent.Task,
			Reason:    fmt.Sprintf("agent %s killed", agentID),
			Timestamp: now,
		})
	}
	c.Wake()
	return nil
}

// Spawn dispatches one task immediately, bypassing the ready-set
// computation. The claim protocol still applies, so an in_progress task
// cannot be double-spawned.
func (c *Coordinator) Spawn(ctx context.Context, taskID, backendName, model string) (registry.Agent, error) {
	g, err := c.store.Snapshot(ctx)
	if err != nil {
		return registry.Agent{}, err
	}
	task, ok := g.Get(taskID)
	if !ok {
		return registry.Agent{}, store.ErrTaskNotFound
	}
	return c.dispatcher.Dispatch(ctx, g, task, c.Config(), backendName, model)
}

// TerminateWorkers sends SIGTERM to every active agent. Used by
// shutdown-with-kill; shutdown without it simply leaves detached
// workers running.
func (c *Coordinator) TerminateWorkers(ctx context.Context) error {
	agents, err := c.registry.Active(ctx)
	if err != nil {
		return err
	}
	for _, a := range agents {
		if c.prober.Alive(a.PID) {
			_ = syscall.Kill(a.PID, syscall.SIGTERM)
		}
	}
	return nil
}
