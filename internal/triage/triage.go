// Package triage decides what happens to a task whose worker process
// died without recording a terminal status. The evidence left in the
// run directory determines whether the work actually finished, should
// be retried, or has exhausted its retries.
package triage

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/gyredev/gyre/internal/events"
	"github.com/gyredev/gyre/internal/graph"
	"github.com/gyredev/gyre/internal/registry"
	"github.com/gyredev/gyre/internal/store"
	"github.com/gyredev/gyre/internal/workspace"
)

// Outcome is the triage verdict for one dead agent.
type Outcome string

const (
	// OutcomeMarkDone records the task as done: the worker finished the
	// work and died before (or while) reporting.
	OutcomeMarkDone Outcome = "done"
	// OutcomeContinue releases the claim and injects recovery context
	// into the task description so the next worker picks up where the
	// dead one stopped.
	OutcomeContinue Outcome = "continue"
	// OutcomeRestart releases the claim so the task re-enters the ready
	// set and gets a fresh worker, with no carried-over context.
	OutcomeRestart Outcome = "restart"
	// OutcomeFail records the task as failed.
	OutcomeFail Outcome = "failed"
)

// Decision carries the verdict and its supporting detail.
type Decision struct {
	Outcome      Outcome
	Note         string
	Deliverables string
}

// Strategy classifies one dead agent. Implementations must respect the
// context deadline; classification runs inside the scheduling tick.
type Strategy interface {
	Classify(ctx context.Context, task *graph.Task, agent registry.Agent) (Decision, error)
}

// Triager applies a strategy's decisions to the durable stores.
type Triager struct {
	store         *store.GraphStore
	registry      *registry.Registry
	bus           *events.Bus
	strategy      Strategy
	timeout       time.Duration
	maxRecoveries int
}

// New creates a triager. A nil strategy defaults to the result-file
// classifier.
func New(st *store.GraphStore, reg *registry.Registry, bus *events.Bus, strategy Strategy, timeout time.Duration, maxRecoveries int) *Triager {
	if strategy == nil {
		strategy = ResultFileStrategy{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if maxRecoveries <= 0 {
		maxRecoveries = 3
	}
	return &Triager{
		store:         st,
		registry:      reg,
		bus:           bus,
		strategy:      strategy,
		timeout:       timeout,
		maxRecoveries: maxRecoveries,
	}
}

// HandleDead classifies the death, retires the agent, and applies the
// verdict. Classification failure degrades to a restart: losing one
// worker run is recoverable, losing the task record is not.
//
// Only requeue verdicts (restart, continue) consume the retry budget:
// the ceiling compares against prior recoveries, so a task allows
// exactly maxRecoveries requeues before the next death fails it, and a
// run that completed cleanly never counts.
func (t *Triager) HandleDead(ctx context.Context, task *graph.Task, agent registry.Agent) error {
	now := time.Now().UTC()

	cctx, cancel := context.WithTimeout(ctx, t.timeout)
	decision, err := t.strategy.Classify(cctx, task, agent)
	cancel()
	if err != nil {
		log.Printf("WARNING: triage of %s (agent %s) failed, treating as restart: %v", task.ID, agent.ID, err)
		decision = Decision{Outcome: OutcomeRestart, Note: fmt.Sprintf("triage error: %v", err)}
	}

	if decision.Outcome == OutcomeRestart || decision.Outcome == OutcomeContinue {
		n, err := t.registry.RecoveryCount(ctx, task.ID)
		if err != nil {
			return fmt.Errorf("counting recoveries for %s: %w", task.ID, err)
		}
		if n >= t.maxRecoveries {
			decision = Decision{
				Outcome: OutcomeFail,
				Note:    fmt.Sprintf("worker died %d times without finishing", n+1),
			}
		}
	}

	retire := t.registry.Retire
	if decision.Outcome == OutcomeRestart || decision.Outcome == OutcomeContinue {
		retire = t.registry.RetireRecovered
	}
	if err := retire(ctx, agent.ID, now); err != nil {
		return fmt.Errorf("retiring agent %s: %w", agent.ID, err)
	}

	if err := t.apply(ctx, task, decision); err != nil {
		return err
	}

	t.bus.Publish(events.TopicAgent, events.AgentTriagedEvent{
		Agent:     agent.ID,
		Task:      task.ID,
		Outcome:   string(decision.Outcome),
		Timestamp: now,
	})
	return nil
}

func (t *Triager) apply(ctx context.Context, task *graph.Task, d Decision) error {
	switch d.Outcome {
	case OutcomeMarkDone:
		firings, err := t.store.Complete(ctx, task.ID, graph.StatusDone, store.CompleteOptions{
			Deliverables: d.Deliverables,
			Note:         noteOr(d.Note, "completed, recovered post-mortem"),
		})
		if err != nil {
			return err
		}
		t.publishCompletion(task.ID, graph.StatusDone, firings)
		return nil
	case OutcomeFail:
		firings, err := t.store.Complete(ctx, task.ID, graph.StatusFailed, store.CompleteOptions{
			Note: noteOr(d.Note, "worker died"),
		})
		if err != nil {
			return err
		}
		t.publishCompletion(task.ID, graph.StatusFailed, firings)
		return nil
	case OutcomeContinue:
		if err := t.store.Unclaim(ctx, task.ID); err != nil {
			return fmt.Errorf("unclaiming %s: %w", task.ID, err)
		}
		note := noteOr(d.Note, "previous worker died mid-task")
		desc := task.Description
		if desc != "" {
			desc += "\n\n"
		}
		desc += "Recovery context: " + note
		if err := t.store.AnnotateDescription(ctx, task.ID, desc); err != nil {
			return fmt.Errorf("annotating %s: %w", task.ID, err)
		}
		return t.store.AppendLog(ctx, task.ID, note)
	case OutcomeRestart:
		if err := t.store.Unclaim(ctx, task.ID); err != nil {
			return fmt.Errorf("unclaiming %s: %w", task.ID, err)
		}
		return t.store.AppendLog(ctx, task.ID, noteOr(d.Note, "worker died, requeued"))
	default:
		return fmt.Errorf("unknown triage outcome %q", d.Outcome)
	}
}

func (t *Triager) publishCompletion(taskID string, status graph.Status, firings []graph.Firing) {
	now := time.Now().UTC()
	t.bus.Publish(events.TopicTask, events.TaskCompletedEvent{
		Task:      taskID,
		Status:    string(status),
		Timestamp: now,
	})
	for _, f := range firings {
		t.bus.Publish(events.TopicTask, events.LoopFiredEvent{
			Source:    f.Source,
			Target:    f.Target,
			Iteration: f.Iteration,
			Reopened:  f.Reopened,
			Timestamp: now,
		})
	}
}

func noteOr(note, fallback string) string {
	if note != "" {
		return note
	}
	return fallback
}

// ResultFileStrategy inspects the structured result a worker may have
// written before dying. No result, or an unreadable one, means the work
// is presumed unfinished.
type ResultFileStrategy struct{}

type workerResult struct {
	Status       string `json:"status"`
	Deliverables string `json:"deliverables,omitempty"`
	Note         string `json:"note,omitempty"`
}

func (ResultFileStrategy) Classify(ctx context.Context, task *graph.Task, agent registry.Agent) (Decision, error) {
	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}

	data, err := os.ReadFile(filepath.Join(agent.RunDir, workspace.ResultFile))
	if err != nil {
		if os.IsNotExist(err) {
			return Decision{Outcome: OutcomeRestart, Note: "worker died leaving no result"}, nil
		}
		return Decision{}, fmt.Errorf("reading result file: %w", err)
	}

	var res workerResult
	if err := json.Unmarshal(data, &res); err != nil {
		return Decision{Outcome: OutcomeRestart, Note: "worker left an unreadable result"}, nil
	}

	switch res.Status {
	case "done":
		return Decision{Outcome: OutcomeMarkDone, Note: res.Note, Deliverables: res.Deliverables}, nil
	case "failed":
		return Decision{Outcome: OutcomeFail, Note: noteOr(res.Note, "worker reported failure before dying")}, nil
	case "continue":
		return Decision{Outcome: OutcomeContinue, Note: res.Note}, nil
	default:
		return Decision{Outcome: OutcomeRestart, Note: fmt.Sprintf("result status %q, requeued", res.Status)}, nil
	}
}
