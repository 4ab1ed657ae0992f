package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"syscall"
	"time"

	"github.com/gyredev/gyre/internal/events"
	"github.com/gyredev/gyre/internal/graph"
	"github.com/gyredev/gyre/internal/registry"
	"github.com/gyredev/gyre/internal/store"
)

// Tick runs one pass of the scheduling loop. Ticks never overlap; a
// tick with no new state is a no-op.
//
// Phases, in order: reap exited children, probe agent liveness and
// triage the dead, run the meta hook, recompute the ready set, dispatch
// within the concurrency budget.
func (c *Coordinator) Tick(ctx context.Context) error {
	c.tickMu.Lock()
	defer c.tickMu.Unlock()

	start := time.Now()
	cfg := c.Config()

	reapChildren()

	alive, err := c.probeAgents(ctx)
	if err != nil {
		return fmt.Errorf("probing agents: %w", err)
	}

	if alive >= cfg.Scheduler.Concurrency {
		c.publishTick(alive, 0, 0, start)
		return nil
	}

	if c.metaHook != nil {
		if err := c.store.Update(ctx, func(g *graph.Graph) error {
			return c.metaHook(ctx, g)
		}); err != nil {
			log.Printf("WARNING: meta hook: %v", err)
		}
	}

	g, err := c.store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("loading graph: %w", err)
	}
	ready := g.Ready(time.Now())
	if len(ready) == 0 {
		if g.AllTerminal() && g.Len() > 0 && !c.graphComplete {
			c.graphComplete = true
			log.Printf("All %d tasks terminal, graph complete", g.Len())
			c.bus.Publish(events.TopicTick, events.GraphCompleteEvent{
				Tasks:     g.Len(),
				Timestamp: time.Now().UTC(),
			})
		}
		c.publishTick(alive, 0, 0, start)
		return nil
	}
	c.graphComplete = false

	dispatched := 0
	if !c.Paused() {
		for _, id := range ready {
			if alive+dispatched >= cfg.Scheduler.Concurrency {
				break
			}
			task, ok := g.Get(id)
			if !ok {
				continue
			}
			// An open task's assigned field may carry a backend
			// preference; the claim overwrites it with the agent binding.
			backendName := ""
			if _, ok := cfg.Backends[task.Assigned]; ok {
				backendName = task.Assigned
			}
			_, err := c.dispatcher.Dispatch(ctx, g, task, cfg, backendName, "")
			switch {
			case err == nil:
				dispatched++
			case errors.Is(err, store.ErrClaimConflict):
				// Someone else claimed it between snapshot and claim.
			case ctx.Err() != nil:
				return ctx.Err()
			default:
				log.Printf("WARNING: dispatching %s: %v", id, err)
			}
		}
	}

	c.publishTick(alive, len(ready), dispatched, start)
	return nil
}

func (c *Coordinator) publishTick(alive, ready, dispatched int, start time.Time) {
	c.bus.Publish(events.TopicTick, events.TickDoneEvent{
		Alive:      alive,
		Ready:      ready,
		Dispatched: dispatched,
		Duration:   time.Since(start),
		Timestamp:  time.Now().UTC(),
	})
}

// probeAgents verifies every active agent's process still exists,
// triages the dead ones, and returns the count still alive.
func (c *Coordinator) probeAgents(ctx context.Context) (int, error) {
	agents, err := c.registry.Active(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	alive := 0
	for _, a := range agents {
		if c.prober.Alive(a.PID) {
			alive++
			if err := c.registry.MarkSeen(ctx, a.ID, registry.StateAlive, now); err != nil {
				log.Printf("WARNING: marking %s seen: %v", a.ID, err)
			}
			continue
		}

		c.bus.Publish(events.TopicAgent, events.AgentDiedEvent{
			Agent:     a.ID,
			Task:      a.Task,
			PID:       a.PID,
			Timestamp: now,
		})
		if err := c.handleDead(ctx, a); err != nil {
			log.Printf("ERROR: handling dead agent %s: %v", a.ID, err)
		}
	}
	return alive, nil
}

// handleDead resolves a dead agent's task: triage when configured,
// plain unclaim otherwise. Tasks already terminal (the worker reported
// before dying) only need the agent retired.
func (c *Coordinator) handleDead(ctx context.Context, a registry.Agent) error {
	g, err := c.store.Snapshot(ctx)
	if err != nil {
		return err
	}
	task, ok := g.Get(a.Task)
	if !ok || task.Status != graph.StatusInProgress || task.Assigned != a.ID {
		return c.registry.Retire(ctx, a.ID, time.Now().UTC())
	}

	if c.triager != nil {
		return c.triager.HandleDead(ctx, task, a)
	}

	if err := c.registry.RetireRecovered(ctx, a.ID, time.Now().UTC()); err != nil {
		return err
	}
	if err := c.store.Unclaim(ctx, a.Task); err != nil {
		return err
	}
	c.bus.Publish(events.TopicTask, events.TaskUnclaimedEvent{
		Task:      a.Task,
		Reason:    fmt.Sprintf("agent %s died", a.ID),
		Timestamp: time.Now().UTC(),
	})
	return nil
}

// reapChildren collects exit statuses of terminated child processes so
// liveness probes see them as gone rather than zombies.
func reapChildren() {
	for {
		var ws syscall.WaitStatus
		pid, err := syscall.Wait4(-1, &ws, syscall.WNOHANG, nil)
		if err != nil || pid <= 0 {
			return
		}
	}
}
