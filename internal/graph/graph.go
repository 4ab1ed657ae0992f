// Package graph holds the task model and the two scheduling engines that
// operate on it: readiness (which tasks may be dispatched now) and loops
// (which completed tasks get reopened). The graph is deliberately NOT a
// DAG: forward blocked_by edges are expected to be acyclic, but loop edges
// point backward, so every traversal here guards with a visited set.
package graph

import (
	"fmt"
	"sort"
)

// Graph is an index-addressed node table. Edges are identifier lists on
// the tasks themselves; there are no pointers between nodes.
type Graph struct {
	tasks map[string]*Task
	order []string // insertion order, preserved across persistence round-trips
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{tasks: make(map[string]*Task)}
}

// Add inserts a task. Returns an error if the ID already exists.
func (g *Graph) Add(t *Task) error {
	if t.ID == "" {
		return fmt.Errorf("task has empty ID")
	}
	if _, exists := g.tasks[t.ID]; exists {
		return fmt.Errorf("task %q already exists", t.ID)
	}
	if t.Status == "" {
		t.Status = StatusOpen
	}
	g.tasks[t.ID] = t
	g.order = append(g.order, t.ID)
	return nil
}

// Get returns the task with the given ID. The returned pointer aliases
// graph state; callers that need a snapshot should Clone.
func (g *Graph) Get(id string) (*Task, bool) {
	t, ok := g.tasks[id]
	return t, ok
}

// Tasks returns all tasks in insertion order.
func (g *Graph) Tasks() []*Task {
	out := make([]*Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[id])
	}
	return out
}

// Len returns the number of tasks.
func (g *Graph) Len() int { return len(g.tasks) }

// AllTerminal reports whether every task in the graph is terminal.
// An empty graph is not considered terminal.
func (g *Graph) AllTerminal() bool {
	if len(g.tasks) == 0 {
		return false
	}
	for _, t := range g.tasks {
		if !t.Status.Terminal() {
			return false
		}
	}
	return true
}

// RebuildBlocks recomputes the derived Blocks lists from BlockedBy.
// Dangling blocker references are skipped; they are reported by Lint,
// not here.
func (g *Graph) RebuildBlocks() {
	for _, t := range g.tasks {
		t.Blocks = nil
	}
	for _, id := range g.order {
		t := g.tasks[id]
		for _, depID := range t.BlockedBy {
			dep, ok := g.tasks[depID]
			if !ok {
				continue
			}
			dep.Blocks = append(dep.Blocks, id)
		}
	}
	for _, t := range g.tasks {
		sort.Strings(t.Blocks)
	}
}

// Ancestors returns the set of task IDs reachable from id by following
// blocked_by edges transitively. The visited set doubles as the result and
// as the cycle guard: loop edges make the overall structure cyclic, and
// nothing stops a user from writing a blocked_by cycle either.
func (g *Graph) Ancestors(id string) map[string]bool {
	visited := make(map[string]bool)
	g.walkUp(id, visited)
	delete(visited, id)
	return visited
}

func (g *Graph) walkUp(id string, visited map[string]bool) {
	if visited[id] {
		return
	}
	visited[id] = true
	t, ok := g.tasks[id]
	if !ok {
		return
	}
	for _, depID := range t.BlockedBy {
		g.walkUp(depID, visited)
	}
}
