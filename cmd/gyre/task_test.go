package main

import (
	"strings"
	"testing"

	"github.com/gyredev/gyre/internal/graph"
)

func resetLoopFlags() {
	loopTarget = ""
	loopMax = 3
	loopGuardTask = ""
	loopGuardState = ""
	loopIterLT = 0
	loopDelay = ""
}

func TestBuildLoopEdge(t *testing.T) {
	t.Cleanup(resetLoopFlags)

	tests := []struct {
		name    string
		setup   func()
		want    *graph.LoopEdge
		wantErr bool
	}{
		{
			name:  "no loop flags",
			setup: func() {},
			want:  nil,
		},
		{
			name: "plain target defaults to always",
			setup: func() {
				loopTarget = "write"
				loopMax = 5
			},
			want: &graph.LoopEdge{
				Target:        "write",
				MaxIterations: 5,
				Guard:         graph.Guard{Type: graph.GuardAlways},
			},
		},
		{
			name: "task status guard",
			setup: func() {
				loopTarget = "write"
				loopGuardTask = "review"
				loopGuardState = "failed"
				loopDelay = "30s"
			},
			want: &graph.LoopEdge{
				Target:        "write",
				MaxIterations: 3,
				Delay:         "30s",
				Guard: graph.Guard{
					Type:   graph.GuardTaskStatus,
					Task:   "review",
					Status: graph.StatusFailed,
				},
			},
		},
		{
			name: "iteration guard",
			setup: func() {
				loopTarget = "write"
				loopIterLT = 4
			},
			want: &graph.LoopEdge{
				Target:        "write",
				MaxIterations: 3,
				Guard:         graph.Guard{Type: graph.GuardIterationLT, Threshold: 4},
			},
		},
		{
			name: "guard flags without target",
			setup: func() {
				loopGuardTask = "review"
			},
			wantErr: true,
		},
		{
			name: "half a status guard",
			setup: func() {
				loopTarget = "write"
				loopGuardTask = "review"
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetLoopFlags()
			tt.setup()

			got, err := buildLoopEdge()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("buildLoopEdge: %v", err)
			}
			if tt.want == nil {
				if got != nil {
					t.Fatalf("got %+v, want nil", got)
				}
				return
			}
			if got == nil || *got != *tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestRenderTaskTable(t *testing.T) {
	g := graph.New()
	g.Add(&graph.Task{ID: "write", Title: "Write the draft", Status: graph.StatusOpen})
	g.Add(&graph.Task{ID: "review", Title: "Review it", Status: graph.StatusOpen, BlockedBy: []string{"write"}})
	g.Add(&graph.Task{ID: "old", Title: "Done already", Status: graph.StatusDone, LoopIteration: 2})

	out := renderTaskTable(g)
	if !strings.Contains(out, "write") || !strings.Contains(out, "ready") {
		t.Errorf("ready task not marked:\n%s", out)
	}
	if !strings.Contains(out, "Done already") {
		t.Errorf("terminal task missing:\n%s", out)
	}

	if got := renderTaskTable(graph.New()); !strings.Contains(got, "No tasks") {
		t.Errorf("empty graph rendering = %q", got)
	}
}
