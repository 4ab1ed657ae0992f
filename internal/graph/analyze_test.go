package graph

import (
	"strings"
	"testing"
)

func TestLint(t *testing.T) {
	tests := []struct {
		name         string
		setup        func(t *testing.T) *Graph
		wantContains []string
		wantClean    bool
	}{
		{
			name: "clean graph",
			setup: func(t *testing.T) *Graph {
				g := New()
				mustAdd(t, g, &Task{ID: "a", Status: StatusOpen})
				mustAdd(t, g, &Task{ID: "b", Status: StatusOpen, BlockedBy: []string{"a"}})
				return g
			},
			wantClean: true,
		},
		{
			name: "dangling blocker",
			setup: func(t *testing.T) *Graph {
				g := New()
				mustAdd(t, g, &Task{ID: "a", Status: StatusOpen, BlockedBy: []string{"ghost"}})
				return g
			},
			wantContains: []string{"missing task"},
		},
		{
			name: "malformed timestamps",
			setup: func(t *testing.T) *Graph {
				g := New()
				mustAdd(t, g, &Task{ID: "a", Status: StatusOpen, NotBefore: "tomorrow", ReadyAfter: "later"},
				)
				return g
			},
			wantContains: []string{"malformed not_before", "malformed ready_after"},
		},
		{
			name: "loop target not upstream",
			setup: func(t *testing.T) *Graph {
				g := New()
				mustAdd(t, g, &Task{ID: "a", Status: StatusOpen})
				mustAdd(t, g, &Task{ID: "b", Status: StatusOpen,
					LoopsTo: []LoopEdge{{Target: "a", Guard: Guard{Type: GuardAlways}, MaxIterations: 1}}})
				return g
			},
			wantContains: []string{"not upstream"},
		},
		{
			name: "blocked_by cycle",
			setup: func(t *testing.T) *Graph {
				g := New()
				mustAdd(t, g, &Task{ID: "a", Status: StatusOpen, BlockedBy: []string{"b"}})
				mustAdd(t, g, &Task{ID: "b", Status: StatusOpen, BlockedBy: []string{"a"}})
				return g
			},
			wantContains: []string{"cycle"},
		},
		{
			name: "non-positive max_iterations",
			setup: func(t *testing.T) *Graph {
				g := New()
				mustAdd(t, g, &Task{ID: "a", Status: StatusOpen})
				mustAdd(t, g, &Task{ID: "b", Status: StatusOpen, BlockedBy: []string{"a"},
					LoopsTo: []LoopEdge{{Target: "a", MaxIterations: 0}}})
				return g
			},
			wantContains: []string{"non-positive max_iterations"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			warnings := tt.setup(t).Lint()
			if tt.wantClean {
				if len(warnings) != 0 {
					t.Fatalf("warnings = %v, want none", warnings)
				}
				return
			}
			joined := ""
			for _, w := range warnings {
				joined += w.String() + "\n"
			}
			for _, want := range tt.wantContains {
				if !strings.Contains(joined, want) {
					t.Errorf("warnings missing %q:\n%s", want, joined)
				}
			}
		})
	}
}

// TestLintLoopEdgesAreNotCycles verifies that a backward loop edge does not
// trip the forward-cycle check: only blocked_by participates.
func TestLintLoopEdgesAreNotCycles(t *testing.T) {
	g := New()
	mustAdd(t, g, &Task{ID: "write", Status: StatusOpen})
	mustAdd(t, g, &Task{ID: "review", Status: StatusOpen, BlockedBy: []string{"write"}})
	mustAdd(t, g, &Task{ID: "revise", Status: StatusOpen, BlockedBy: []string{"review"},
		LoopsTo: []LoopEdge{{Target: "write", Guard: Guard{Type: GuardAlways}, MaxIterations: 5}}})

	if warnings := g.Lint(); len(warnings) != 0 {
		t.Errorf("loop edge flagged by lint: %v", warnings)
	}
}

func TestCriticalPath(t *testing.T) {
	g := New()
	mustAdd(t, g, &Task{ID: "a", Status: StatusOpen})
	mustAdd(t, g, &Task{ID: "b", Status: StatusOpen, BlockedBy: []string{"a"}})
	mustAdd(t, g, &Task{ID: "c", Status: StatusOpen, BlockedBy: []string{"b"}})
	mustAdd(t, g, &Task{ID: "side", Status: StatusOpen, BlockedBy: []string{"a"}})

	path := g.CriticalPath()
	want := []string{"a", "b", "c"}
	if len(path) != len(want) {
		t.Fatalf("path = %v, want %v", path, want)
	}
	for i := range want {
		if path[i] != want[i] {
			t.Fatalf("path = %v, want %v", path, want)
		}
	}
}

// TestCriticalPathTerminatesOnCycle ensures the walk's visited guard cuts
// blocked_by cycles instead of recursing forever.
func TestCriticalPathTerminatesOnCycle(t *testing.T) {
	g := New()
	mustAdd(t, g, &Task{ID: "a", Status: StatusOpen, BlockedBy: []string{"c"}})
	mustAdd(t, g, &Task{ID: "b", Status: StatusOpen, BlockedBy: []string{"a"}})
	mustAdd(t, g, &Task{ID: "c", Status: StatusOpen, BlockedBy: []string{"b"}})

	path := g.CriticalPath()
	if len(path) == 0 || len(path) > 3 {
		t.Errorf("path over cycle = %v", path)
	}
}

func TestRebuildBlocks(t *testing.T) {
	g := New()
	mustAdd(t, g, &Task{ID: "a", Status: StatusOpen, Blocks: []string{"stale-entry"}})
	mustAdd(t, g, &Task{ID: "b", Status: StatusOpen, BlockedBy: []string{"a", "ghost"}})
	mustAdd(t, g, &Task{ID: "c", Status: StatusOpen, BlockedBy: []string{"a"}})

	g.RebuildBlocks()

	a, _ := g.Get("a")
	if len(a.Blocks) != 2 || a.Blocks[0] != "b" || a.Blocks[1] != "c" {
		t.Errorf("a.Blocks = %v, want [b c]", a.Blocks)
	}
	b, _ := g.Get("b")
	if len(b.Blocks) != 0 {
		t.Errorf("b.Blocks = %v, want empty", b.Blocks)
	}
}
