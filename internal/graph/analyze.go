package graph

import (
	"fmt"
	"time"

	"github.com/gammazero/toposort"
)

// Warning is a non-fatal graph anomaly. Anomalies never abort scheduling;
// the engines degrade toward "treat as resolved". Warnings exist so that
// inspection tooling can surface what was silently tolerated.
type Warning struct {
	TaskID  string
	Message string
}

func (w Warning) String() string {
	if w.TaskID == "" {
		return w.Message
	}
	return fmt.Sprintf("%s: %s", w.TaskID, w.Message)
}

// Lint checks the graph for fail-open anomalies and structural problems.
func (g *Graph) Lint() []Warning {
	var warnings []Warning

	for _, id := range g.order {
		t := g.tasks[id]

		if !t.Status.Valid() {
			warnings = append(warnings, Warning{id, fmt.Sprintf("unknown status %q", t.Status)})
		}

		for _, depID := range t.BlockedBy {
			if _, ok := g.tasks[depID]; !ok {
				warnings = append(warnings, Warning{id, fmt.Sprintf("blocked_by references missing task %q (treated as resolved)", depID)})
			}
		}

		warnings = append(warnings, lintTimestamp(id, "not_before", t.NotBefore)...)
		warnings = append(warnings, lintTimestamp(id, "ready_after", t.ReadyAfter)...)

		for _, edge := range t.LoopsTo {
			if edge.MaxIterations <= 0 {
				warnings = append(warnings, Warning{id, fmt.Sprintf("loop edge to %q has non-positive max_iterations", edge.Target)})
			}
			if _, ok := g.tasks[edge.Target]; !ok {
				warnings = append(warnings, Warning{id, fmt.Sprintf("loop edge targets missing task %q (never fires)", edge.Target)})
				continue
			}
			if !g.Ancestors(id)[edge.Target] {
				warnings = append(warnings, Warning{id, fmt.Sprintf("loop edge target %q is not upstream; firings still reopen it, bounded only by max_iterations", edge.Target)})
			}
			if edge.Delay != "" {
				if _, err := time.ParseDuration(edge.Delay); err != nil {
					warnings = append(warnings, Warning{id, fmt.Sprintf("loop edge to %q has malformed delay %q (treated as no delay)", edge.Target, edge.Delay)})
				}
			}
		}
	}

	if err := g.checkForwardCycles(); err != nil {
		warnings = append(warnings, Warning{Message: err.Error()})
	}

	return warnings
}

func lintTimestamp(taskID, field, value string) []Warning {
	if value == "" {
		return nil
	}
	if _, err := time.Parse(time.RFC3339, value); err != nil {
		return []Warning{{taskID, fmt.Sprintf("malformed %s %q (treated as satisfied)", field, value)}}
	}
	return nil
}

// checkForwardCycles topologically sorts the forward blocked_by edges.
// Loop edges are excluded by construction: only blocked_by participates.
// A blocked_by cycle deadlocks all of its members, since none can become
// terminal while blocked.
func (g *Graph) checkForwardCycles() error {
	var edges []toposort.Edge
	for _, id := range g.order {
		t := g.tasks[id]
		if len(t.BlockedBy) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, depID := range t.BlockedBy {
			if _, ok := g.tasks[depID]; !ok {
				continue
			}
			edges = append(edges, toposort.Edge{depID, id})
		}
	}

	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("blocked_by edges contain a cycle (its members can never unblock): %w", err)
	}
	return nil
}

// CriticalPath returns the longest blocked_by chain in the graph as a list
// of task IDs from the deepest ancestor down to its furthest dependent.
// Chains are measured over all tasks regardless of status. The walk is
// memoized and carries an in-stack guard: the structure is not acyclic by
// construction, so an unguarded walk could recurse forever.
func (g *Graph) CriticalPath() []string {
	memo := make(map[string][]string)
	inStack := make(map[string]bool)

	var best []string
	for _, id := range g.order {
		path := g.longestChain(id, memo, inStack)
		if len(path) > len(best) {
			best = path
		}
	}
	return best
}

// longestChain returns the longest chain ending at id, id included.
func (g *Graph) longestChain(id string, memo map[string][]string, inStack map[string]bool) []string {
	if cached, ok := memo[id]; ok {
		return cached
	}
	if inStack[id] {
		// blocked_by cycle: cut it here rather than recurse forever.
		return nil
	}
	inStack[id] = true
	defer delete(inStack, id)

	t, ok := g.tasks[id]
	if !ok {
		return nil
	}

	var best []string
	for _, depID := range t.BlockedBy {
		chain := g.longestChain(depID, memo, inStack)
		if len(chain) > len(best) {
			best = chain
		}
	}

	path := make([]string, 0, len(best)+1)
	path = append(path, best...)
	path = append(path, id)
	memo[id] = path
	return path
}
