package graph

import (
	"time"
)

// Ready returns the IDs of all tasks eligible for dispatch at the given
// instant, in insertion order. Readiness is recomputed fresh on every call;
// it is never cached and never stored on the task.
//
// A task is ready iff:
//  1. its status is open,
//  2. it is not paused,
//  3. not_before and ready_after are unset, malformed, or <= now,
//  4. every blocker is missing from the graph (fail-open) or terminal.
//
// No transitive closure is computed: a chain A -> B -> C resolves one hop
// per completion, because each link only inspects its immediate blockers.
func (g *Graph) Ready(now time.Time) []string {
	var ready []string
	for _, id := range g.order {
		if g.isReady(g.tasks[id], now) {
			ready = append(ready, id)
		}
	}
	return ready
}

// IsReady reports whether the task with the given ID is ready at now.
func (g *Graph) IsReady(id string, now time.Time) bool {
	t, ok := g.tasks[id]
	if !ok {
		return false
	}
	return g.isReady(t, now)
}

func (g *Graph) isReady(t *Task, now time.Time) bool {
	if t.Status != StatusOpen {
		return false
	}
	if t.Paused {
		return false
	}
	if !timeConstraintSatisfied(t.NotBefore, now) {
		return false
	}
	if !timeConstraintSatisfied(t.ReadyAfter, now) {
		return false
	}
	for _, depID := range t.BlockedBy {
		dep, exists := g.tasks[depID]
		if !exists {
			// Dangling blocker: treat as resolved so bad data never
			// freezes downstream work. Lint reports these.
			continue
		}
		if !dep.Status.Terminal() {
			return false
		}
	}
	return true
}

// timeConstraintSatisfied parses an RFC3339 timestamp lazily. Empty or
// unparseable values are satisfied constraints (fail-open).
func timeConstraintSatisfied(ts string, now time.Time) bool {
	if ts == "" {
		return true
	}
	at, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		return true
	}
	return !at.After(now)
}
