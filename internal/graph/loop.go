package graph

import (
	"time"
)

// Firing records one loop edge that fired, for logging and audit.
type Firing struct {
	Source    string   // task whose completion fired the edge
	Target    string   // task the edge points back to
	Iteration int      // target's loop_iteration after the firing
	Reopened  []string // every task reopened, target and source included
}

// FireLoops evaluates the loop edges of a task that just completed and
// applies any firings to the graph. It must be invoked exactly once per
// transition into a terminal status; whether non-done completions evaluate
// loops at all is the caller's policy.
//
// converged suppresses all firing for this completion.
//
// For each edge, independently: the guard must hold against current graph
// state and the target's loop_iteration must be below the edge's cap.
// Exceeding the cap is a normal stop condition, not an error. A firing
// increments the target's loop_iteration, reopens the target, reopens
// every currently-terminal task on a blocked_by path between target and
// source (loop_iteration synchronized to the target's new value), and
// reopens the source itself.
func (g *Graph) FireLoops(sourceID string, converged bool, now time.Time) []Firing {
	src, ok := g.tasks[sourceID]
	if !ok || converged {
		return nil
	}

	var firings []Firing
	for _, edge := range src.LoopsTo {
		target, ok := g.tasks[edge.Target]
		if !ok {
			// Dangling loop target: nothing to reopen. Lint reports it.
			continue
		}
		if !g.guardHolds(edge.Guard, target) {
			continue
		}
		if target.LoopIteration >= edge.MaxIterations {
			// Cap reached: this edge is silently done firing.
			continue
		}

		target.LoopIteration++
		iter := target.LoopIteration

		readyAfter := ""
		if edge.Delay != "" {
			if d, err := time.ParseDuration(edge.Delay); err == nil {
				readyAfter = now.Add(d).Format(time.RFC3339)
			}
		}

		reopened := []string{target.ID}
		reopenTask(target, iter, readyAfter)

		for _, mid := range g.intermediates(edge.Target, sourceID) {
			if !mid.Status.Terminal() {
				continue
			}
			reopenTask(mid, iter, "")
			reopened = append(reopened, mid.ID)
		}

		// The source re-enters the cycle too, unless the edge points at
		// itself and the target reopen above already covered it.
		if sourceID != edge.Target {
			reopenTask(src, iter, "")
			reopened = append(reopened, sourceID)
		}

		firings = append(firings, Firing{
			Source:    sourceID,
			Target:    edge.Target,
			Iteration: iter,
			Reopened:  reopened,
		})
	}
	return firings
}

// guardHolds evaluates a loop-edge guard against current graph state.
// A task_status guard naming a missing task does not hold.
func (g *Graph) guardHolds(guard Guard, target *Task) bool {
	switch guard.Type {
	case GuardAlways, "":
		return true
	case GuardTaskStatus:
		named, ok := g.tasks[guard.Task]
		if !ok {
			return false
		}
		return named.Status == guard.Status
	case GuardIterationLT:
		return target.LoopIteration < guard.Threshold
	}
	return false
}

// intermediates returns the tasks strictly between target and source along
// blocked_by paths: descendants of target that are ancestors of source.
// Traversals carry visited sets because the structure may be cyclic.
func (g *Graph) intermediates(targetID, sourceID string) []*Task {
	sourceAnc := g.Ancestors(sourceID)

	var out []*Task
	for _, id := range g.order {
		if id == targetID || id == sourceID {
			continue
		}
		if !sourceAnc[id] {
			continue
		}
		if g.Ancestors(id)[targetID] {
			out = append(out, g.tasks[id])
		}
	}
	return out
}

// reopenTask puts a task back into the scheduling cycle: status open,
// binding and not_before cleared, ready_after replaced (or cleared).
func reopenTask(t *Task, iteration int, readyAfter string) {
	t.Status = StatusOpen
	t.Assigned = ""
	t.NotBefore = ""
	t.ReadyAfter = readyAfter
	t.LoopIteration = iteration
}
