package graph

import (
	"testing"
	"time"
)

// writeReviewRevise builds the three-task cycle used throughout these
// tests: revise carries a loop edge back to write, guarded on review
// having failed.
func writeReviewRevise(t *testing.T, maxIterations int) *Graph {
	t.Helper()
	g := New()
	mustAdd(t, g, &Task{ID: "write", Status: StatusOpen})
	mustAdd(t, g, &Task{ID: "review", Status: StatusOpen, BlockedBy: []string{"write"}})
	mustAdd(t, g, &Task{
		ID:        "revise",
		Status:    StatusOpen,
		BlockedBy: []string{"review"},
		LoopsTo: []LoopEdge{{
			Target:        "write",
			Guard:         Guard{Type: GuardTaskStatus, Task: "review", Status: StatusFailed},
			MaxIterations: maxIterations,
		}},
	})
	return g
}

func completeCycle(g *Graph, now time.Time) []Firing {
	w, _ := g.Get("write")
	r, _ := g.Get("review")
	v, _ := g.Get("revise")
	w.Status = StatusDone
	r.Status = StatusFailed
	v.Status = StatusDone
	return g.FireLoops("revise", false, now)
}

func TestFireLoopsWriteReviewRevise(t *testing.T) {
	now := time.Now()
	g := writeReviewRevise(t, 5)

	firings := completeCycle(g, now)
	if len(firings) != 1 {
		t.Fatalf("firings = %d, want 1", len(firings))
	}

	for _, id := range []string{"write", "review", "revise"} {
		task, _ := g.Get(id)
		if task.Status != StatusOpen {
			t.Errorf("%s status = %s, want open", id, task.Status)
		}
		if task.LoopIteration != 1 {
			t.Errorf("%s loop_iteration = %d, want 1", id, task.LoopIteration)
		}
		if task.Assigned != "" || task.NotBefore != "" || task.ReadyAfter != "" {
			t.Errorf("%s not cleared on reopen: %+v", id, task)
		}
	}
}

func TestFireLoopsRespectsMaxIterations(t *testing.T) {
	now := time.Now()
	g := writeReviewRevise(t, 5)

	for i := 1; i <= 5; i++ {
		firings := completeCycle(g, now)
		if len(firings) != 1 {
			t.Fatalf("iteration %d: firings = %d, want 1", i, len(firings))
		}
		w, _ := g.Get("write")
		if w.LoopIteration != i {
			t.Fatalf("iteration %d: write loop_iteration = %d", i, w.LoopIteration)
		}
	}

	// Sixth completion under a satisfied guard: no reopening.
	firings := completeCycle(g, now)
	if len(firings) != 0 {
		t.Fatalf("firings after cap = %d, want 0", len(firings))
	}
	w, _ := g.Get("write")
	if w.Status != StatusDone {
		t.Errorf("write status = %s, want done (cap reached)", w.Status)
	}
	if w.LoopIteration != 5 {
		t.Errorf("write loop_iteration = %d, must never exceed max_iterations", w.LoopIteration)
	}
}

func TestFireLoopsGuards(t *testing.T) {
	tests := []struct {
		name      string
		guard     Guard
		wantFired bool
	}{
		{"always fires", Guard{Type: GuardAlways}, true},
		{"empty guard defaults to always", Guard{}, true},
		{"task_status match", Guard{Type: GuardTaskStatus, Task: "probe", Status: StatusFailed}, true},
		{"task_status mismatch", Guard{Type: GuardTaskStatus, Task: "probe", Status: StatusDone}, false},
		{"task_status missing task", Guard{Type: GuardTaskStatus, Task: "ghost", Status: StatusFailed}, false},
		{"iteration_lt below threshold", Guard{Type: GuardIterationLT, Threshold: 2}, true},
		{"iteration_lt at threshold", Guard{Type: GuardIterationLT, Threshold: 0}, false},
		{"unknown guard type never fires", Guard{Type: "sometimes"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := New()
			mustAdd(t, g, &Task{ID: "up", Status: StatusDone})
			mustAdd(t, g, &Task{ID: "probe", Status: StatusFailed})
			mustAdd(t, g, &Task{
				ID:        "src",
				Status:    StatusDone,
				BlockedBy: []string{"up"},
				LoopsTo:   []LoopEdge{{Target: "up", Guard: tt.guard, MaxIterations: 3}},
			})

			firings := g.FireLoops("src", false, time.Now())
			if fired := len(firings) > 0; fired != tt.wantFired {
				t.Errorf("fired = %v, want %v", fired, tt.wantFired)
			}
		})
	}
}

func TestFireLoopsConvergedSuppressesFiring(t *testing.T) {
	g := writeReviewRevise(t, 5)
	w, _ := g.Get("write")
	r, _ := g.Get("review")
	v, _ := g.Get("revise")
	w.Status = StatusDone
	r.Status = StatusFailed
	v.Status = StatusDone

	if firings := g.FireLoops("revise", true, time.Now()); len(firings) != 0 {
		t.Fatalf("converged completion fired %d edges", len(firings))
	}
	if w.Status != StatusDone || w.LoopIteration != 0 {
		t.Errorf("converged completion mutated target: %+v", w)
	}
}

func TestFireLoopsDelaySetsReadyAfter(t *testing.T) {
	now := time.Now()
	g := New()
	mustAdd(t, g, &Task{ID: "up", Status: StatusDone})
	mustAdd(t, g, &Task{
		ID:        "src",
		Status:    StatusDone,
		BlockedBy: []string{"up"},
		LoopsTo:   []LoopEdge{{Target: "up", Guard: Guard{Type: GuardAlways}, MaxIterations: 1, Delay: "30s"}},
	})

	if firings := g.FireLoops("src", false, now); len(firings) != 1 {
		t.Fatal("edge did not fire")
	}

	up, _ := g.Get("up")
	readyAfter, err := time.Parse(time.RFC3339, up.ReadyAfter)
	if err != nil {
		t.Fatalf("ready_after %q not RFC3339: %v", up.ReadyAfter, err)
	}
	want := now.Add(30 * time.Second)
	if diff := readyAfter.Sub(want); diff < -time.Second || diff > time.Second {
		t.Errorf("ready_after = %v, want ~%v", readyAfter, want)
	}
	// The source itself reopens without the delay.
	src, _ := g.Get("src")
	if src.ReadyAfter != "" {
		t.Errorf("source ready_after = %q, want empty", src.ReadyAfter)
	}
}

func TestFireLoopsSelfEdgeKeepsDelay(t *testing.T) {
	now := time.Now()
	g := New()
	mustAdd(t, g, &Task{
		ID:      "poll",
		Status:  StatusDone,
		LoopsTo: []LoopEdge{{Target: "poll", Guard: Guard{Type: GuardAlways}, MaxIterations: 2, Delay: "30s"}},
	})

	firings := g.FireLoops("poll", false, now)
	if len(firings) != 1 {
		t.Fatal("self-edge did not fire")
	}

	task, _ := g.Get("poll")
	if task.Status != StatusOpen || task.LoopIteration != 1 {
		t.Fatalf("task = %s/iter %d, want open/1", task.Status, task.LoopIteration)
	}
	if task.ReadyAfter == "" {
		t.Error("self-edge delay dropped on reopen")
	}
	if got := firings[0].Reopened; len(got) != 1 || got[0] != "poll" {
		t.Errorf("reopened = %v, want [poll]", got)
	}
}

func TestFireLoopsIntermediatesOnlyTerminalOnes(t *testing.T) {
	now := time.Now()
	g := New()
	mustAdd(t, g, &Task{ID: "a", Status: StatusDone})
	mustAdd(t, g, &Task{ID: "b", Status: StatusInProgress, BlockedBy: []string{"a"}, Assigned: "agent-1"})
	mustAdd(t, g, &Task{ID: "c", Status: StatusDone, BlockedBy: []string{"b"}})
	mustAdd(t, g, &Task{
		ID:        "d",
		Status:    StatusDone,
		BlockedBy: []string{"c"},
		LoopsTo:   []LoopEdge{{Target: "a", Guard: Guard{Type: GuardAlways}, MaxIterations: 2}},
	})
	mustAdd(t, g, &Task{ID: "offpath", Status: StatusDone})

	firings := g.FireLoops("d", false, now)
	if len(firings) != 1 {
		t.Fatal("edge did not fire")
	}

	b, _ := g.Get("b")
	if b.Status != StatusInProgress || b.Assigned != "agent-1" {
		t.Errorf("in-progress intermediate was touched: %+v", b)
	}
	c, _ := g.Get("c")
	if c.Status != StatusOpen || c.LoopIteration != 1 {
		t.Errorf("terminal intermediate not reopened: %+v", c)
	}
	off, _ := g.Get("offpath")
	if off.Status != StatusOpen {
		// offpath is not between a and d; it must stay terminal.
	} else {
		t.Errorf("off-path task reopened: %+v", off)
	}
}

func TestFireLoopsIndependentEdgeCaps(t *testing.T) {
	now := time.Now()
	g := New()
	mustAdd(t, g, &Task{ID: "up", Status: StatusDone})
	mustAdd(t, g, &Task{
		ID:        "src",
		Status:    StatusDone,
		BlockedBy: []string{"up"},
		LoopsTo: []LoopEdge{
			{Target: "up", Guard: Guard{Type: GuardAlways}, MaxIterations: 1},
			{Target: "up", Guard: Guard{Type: GuardAlways}, MaxIterations: 3},
		},
	})

	// First completion: the first edge fires and exhausts its cap of 1;
	// after that only the second edge can fire. Each edge's cap is
	// checked against the target's loop_iteration at evaluation time.
	firings := g.FireLoops("src", false, now)
	if len(firings) != 2 {
		t.Fatalf("first completion fired %d edges, want 2", len(firings))
	}
	up, _ := g.Get("up")
	if up.LoopIteration != 2 {
		t.Fatalf("loop_iteration = %d, want 2 (one per edge)", up.LoopIteration)
	}

	src, _ := g.Get("src")
	src.Status = StatusDone
	up.Status = StatusDone
	firings = g.FireLoops("src", false, now)
	if len(firings) != 1 {
		t.Fatalf("second completion fired %d edges, want 1 (first edge capped)", len(firings))
	}
	if up.LoopIteration != 3 {
		t.Errorf("loop_iteration = %d, want 3", up.LoopIteration)
	}
}
