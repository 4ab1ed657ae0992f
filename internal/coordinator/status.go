package coordinator

import (
	"context"
	"time"

	"github.com/gyredev/gyre/internal/registry"
)

// Status is the snapshot returned to monitoring tooling.
type Status struct {
	Paused      bool           `json:"paused"`
	Concurrency int            `json:"concurrency"`
	AliveAgents int            `json:"alive_agents"`
	Tasks       int            `json:"tasks"`
	ByStatus    map[string]int `json:"by_status"`
	Ready       []string       `json:"ready"`
}

// Status reports the scheduler's current state without mutating it.
func (c *Coordinator) Status(ctx context.Context) (Status, error) {
	g, err := c.store.Snapshot(ctx)
	if err != nil {
		return Status{}, err
	}
	agents, err := c.registry.Active(ctx)
	if err != nil {
		return Status{}, err
	}

	alive := 0
	for _, a := range agents {
		if c.prober.Alive(a.PID) {
			alive++
		}
	}

	byStatus := make(map[string]int)
	for _, t := range g.Tasks() {
		byStatus[string(t.Status)]++
	}

	return Status{
		Paused:      c.Paused(),
		Concurrency: c.Config().Scheduler.Concurrency,
		AliveAgents: alive,
		Tasks:       g.Len(),
		ByStatus:    byStatus,
		Ready:       g.Ready(time.Now()),
	}, nil
}

// Agents returns every registry record with a fresh liveness probe
// applied to the non-retired ones.
func (c *Coordinator) Agents(ctx context.Context) ([]registry.Agent, error) {
	agents, err := c.registry.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	for i := range agents {
		if agents[i].Retired() {
			continue
		}
		if c.prober.Alive(agents[i].PID) {
			agents[i].State = registry.StateAlive
		} else {
			agents[i].State = registry.StateDead
		}
	}
	return agents, nil
}
