package store

import (
	"context"
	"fmt"
	"time"

	"github.com/gyredev/gyre/internal/graph"
)

// The operations below are the externally-callable mutation surface:
// worker processes report outcomes through them and operator tooling edits
// the graph through them. Each is idempotent: repeating a call that has
// already taken effect is a no-op, not an error, so wrapper fallbacks and
// retried reports cannot corrupt state.

// Create adds a task. Creating a task that already exists with the same ID
// is a no-op.
func (s *GraphStore) Create(ctx context.Context, t *graph.Task) error {
	return s.Update(ctx, func(g *graph.Graph) error {
		if _, exists := g.Get(t.ID); exists {
			return nil
		}
		return g.Add(t.Clone())
	})
}

// Claim transitions a task open -> in_progress and binds it to assignee.
// Claiming a task already bound to the same assignee is a no-op; any other
// non-open state is ErrClaimConflict, which callers skip rather than retry
// within the same tick.
func (s *GraphStore) Claim(ctx context.Context, id, assignee string) error {
	return s.Update(ctx, func(g *graph.Graph) error {
		t, ok := g.Get(id)
		if !ok {
			return fmt.Errorf("claiming %q: %w", id, ErrTaskNotFound)
		}
		if t.Status == graph.StatusInProgress && t.Assigned == assignee {
			return nil
		}
		if t.Status != graph.StatusOpen {
			return fmt.Errorf("claiming %q (status %s): %w", id, t.Status, ErrClaimConflict)
		}
		t.Status = graph.StatusInProgress
		t.Assigned = assignee
		return nil
	})
}

// Unclaim reverses a claim: in_progress -> open, binding cleared. Used for
// claim rollback after launch failure and for dead-agent recovery. A task
// that is already open is left alone.
func (s *GraphStore) Unclaim(ctx context.Context, id string) error {
	return s.Update(ctx, func(g *graph.Graph) error {
		t, ok := g.Get(id)
		if !ok {
			return fmt.Errorf("unclaiming %q: %w", id, ErrTaskNotFound)
		}
		if t.Status != graph.StatusInProgress {
			return nil
		}
		t.Status = graph.StatusOpen
		t.Assigned = ""
		return nil
	})
}

// CompleteOptions modifies a completion report.
type CompleteOptions struct {
	Deliverables  string // recorded output, if any
	Note          string // appended to the task log
	Converged     bool   // suppress loop evaluation for this completion
	LoopOnFailure bool   // policy: evaluate loop edges on failed/abandoned too
}

// Complete reports a terminal outcome for a task and evaluates its loop
// edges. Reporting the same terminal status twice is a no-op (and fires no
// loops again); this is what lets the exit-code wrapper re-report safely.
func (s *GraphStore) Complete(ctx context.Context, id string, status graph.Status, opts CompleteOptions) ([]graph.Firing, error) {
	if !status.Terminal() {
		return nil, fmt.Errorf("completing %q: %s is not a terminal status", id, status)
	}

	var firings []graph.Firing
	err := s.Update(ctx, func(g *graph.Graph) error {
		t, ok := g.Get(id)
		if !ok {
			return fmt.Errorf("completing %q: %w", id, ErrTaskNotFound)
		}
		if t.Status.Terminal() {
			return nil
		}

		now := time.Now()
		t.Status = status
		t.Assigned = ""
		if opts.Deliverables != "" {
			t.Deliverables = opts.Deliverables
		}
		if opts.Note != "" {
			t.Log = append(t.Log, logLine(now, opts.Note))
		}

		if status == graph.StatusDone || opts.LoopOnFailure {
			firings = g.FireLoops(id, opts.Converged, now)
		}
		return nil
	})
	return firings, err
}

// Reopen puts a terminal task back to open for another run. loop_iteration
// and the task log are preserved. Reopening an open task is a no-op.
func (s *GraphStore) Reopen(ctx context.Context, id, note string) error {
	return s.Update(ctx, func(g *graph.Graph) error {
		t, ok := g.Get(id)
		if !ok {
			return fmt.Errorf("reopening %q: %w", id, ErrTaskNotFound)
		}
		if t.Status == graph.StatusOpen {
			return nil
		}
		t.Status = graph.StatusOpen
		t.Assigned = ""
		t.ReadyAfter = ""
		if note != "" {
			t.Log = append(t.Log, logLine(time.Now(), note))
		}
		return nil
	})
}

// SetPaused pauses or resumes a single task. Idempotent.
func (s *GraphStore) SetPaused(ctx context.Context, id string, paused bool) error {
	return s.Update(ctx, func(g *graph.Graph) error {
		t, ok := g.Get(id)
		if !ok {
			return fmt.Errorf("pausing %q: %w", id, ErrTaskNotFound)
		}
		t.Paused = paused
		return nil
	})
}

// Hold places a task in the explicit manual hold status; Release returns
// it to open. Both only move between open and held; the hold is
// orthogonal to blocking derived from blocked_by and is never set by the
// scheduler itself.
func (s *GraphStore) Hold(ctx context.Context, id string) error {
	return s.Update(ctx, func(g *graph.Graph) error {
		t, ok := g.Get(id)
		if !ok {
			return fmt.Errorf("holding %q: %w", id, ErrTaskNotFound)
		}
		if t.Status == graph.StatusHeld {
			return nil
		}
		if t.Status != graph.StatusOpen {
			return fmt.Errorf("holding %q (status %s): only open tasks can be held", id, t.Status)
		}
		t.Status = graph.StatusHeld
		return nil
	})
}

// Release exits the manual hold.
func (s *GraphStore) Release(ctx context.Context, id string) error {
	return s.Update(ctx, func(g *graph.Graph) error {
		t, ok := g.Get(id)
		if !ok {
			return fmt.Errorf("releasing %q: %w", id, ErrTaskNotFound)
		}
		if t.Status != graph.StatusHeld {
			return nil
		}
		t.Status = graph.StatusOpen
		return nil
	})
}

// AppendLog appends a timestamped line to the task's pass-through log.
func (s *GraphStore) AppendLog(ctx context.Context, id, line string) error {
	return s.Update(ctx, func(g *graph.Graph) error {
		t, ok := g.Get(id)
		if !ok {
			return fmt.Errorf("logging to %q: %w", id, ErrTaskNotFound)
		}
		t.Log = append(t.Log, logLine(time.Now(), line))
		return nil
	})
}

// AnnotateDescription replaces a task's description. Used by triage to
// inject recovery context before a continuation run.
func (s *GraphStore) AnnotateDescription(ctx context.Context, id, description string) error {
	return s.Update(ctx, func(g *graph.Graph) error {
		t, ok := g.Get(id)
		if !ok {
			return fmt.Errorf("annotating %q: %w", id, ErrTaskNotFound)
		}
		t.Description = description
		return nil
	})
}

func logLine(now time.Time, text string) string {
	return fmt.Sprintf("[%s] %s", now.Format(time.RFC3339), text)
}
