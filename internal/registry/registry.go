// Package registry keeps the durable record of every spawned worker
// process. Records are newline-delimited JSON keyed by agent ID, written
// under the same exclusive-lock-then-rewrite discipline as the graph file.
// Records are retired, not deleted, once the coordinator has handled the
// process's death: the retained history is what bounds per-task retries.
package registry

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/gyredev/gyre/internal/store"
)

// State is the liveness status of an agent's process.
type State string

const (
	StateAlive   State = "alive"
	StateDead    State = "dead"
	StateUnknown State = "unknown"
)

// ErrAgentNotFound is returned for operations on unknown agent IDs.
var ErrAgentNotFound = errors.New("agent not found")

// Agent is one worker-process record.
type Agent struct {
	ID        string     `json:"id"`
	PID       int        `json:"pid"`
	Task      string     `json:"task"`
	Backend   string     `json:"backend"`
	Model     string     `json:"model,omitempty"`
	RunDir    string     `json:"run_dir,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	LastSeen  time.Time  `json:"last_seen"`
	State     State      `json:"state"`
	RetiredAt *time.Time `json:"retired_at,omitempty"`
	// Recovered marks a retirement that sent the task back into the
	// scheduling cycle. Clean exits and operator kills leave it false.
	Recovered bool `json:"recovered,omitempty"`
}

// Retired reports whether the coordinator has finished handling this agent.
func (a *Agent) Retired() bool { return a.RetiredAt != nil }

// NewID generates a fresh agent identifier.
func NewID() string { return uuid.NewString() }

// Registry owns the durable agent record file.
type Registry struct {
	path string
}

// New creates a registry stored at path.
func New(path string) (*Registry, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating registry directory: %w", err)
	}
	return &Registry{path: path}, nil
}

// Path returns the location of the registry file.
func (r *Registry) Path() string { return r.path }

// Snapshot returns all records, lock-free, in file order.
func (r *Registry) Snapshot(ctx context.Context) ([]Agent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.load()
}

// Active returns the non-retired records: processes the coordinator is
// still responsible for monitoring. Used on restart to rediscover workers
// that outlived the previous coordinator.
func (r *Registry) Active(ctx context.Context) ([]Agent, error) {
	all, err := r.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	var active []Agent
	for _, a := range all {
		if !a.Retired() {
			active = append(active, a)
		}
	}
	return active, nil
}

// RecoveryCount returns how many retired agents bound to the task were
// recovered from: runs that died without the task going terminal, so the
// task was requeued. Agents retired after a clean exit or an operator
// kill do not count. Triage compares this against the retry ceiling.
func (r *Registry) RecoveryCount(ctx context.Context, taskID string) (int, error) {
	all, err := r.Snapshot(ctx)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, a := range all {
		if a.Task == taskID && a.Retired() && a.Recovered {
			n++
		}
	}
	return n, nil
}

// Register persists a new agent record. Registering an existing ID
// overwrites it (idempotent re-registration after a partial write).
func (r *Registry) Register(ctx context.Context, a Agent) error {
	return r.update(ctx, func(agents []Agent) ([]Agent, error) {
		for i := range agents {
			if agents[i].ID == a.ID {
				agents[i] = a
				return agents, nil
			}
		}
		return append(agents, a), nil
	})
}

// MarkSeen updates the liveness state and last-seen time of an agent.
func (r *Registry) MarkSeen(ctx context.Context, id string, state State, at time.Time) error {
	return r.update(ctx, func(agents []Agent) ([]Agent, error) {
		for i := range agents {
			if agents[i].ID == id {
				agents[i].State = state
				agents[i].LastSeen = at
				return agents, nil
			}
		}
		return nil, fmt.Errorf("marking %q: %w", id, ErrAgentNotFound)
	})
}

// Retire marks an agent as fully handled. Retiring twice is a no-op.
func (r *Registry) Retire(ctx context.Context, id string, at time.Time) error {
	return r.retire(ctx, id, at, false)
}

// RetireRecovered retires an agent whose death put its task back into
// the scheduling cycle. Only these retirements count against the
// per-task retry ceiling.
func (r *Registry) RetireRecovered(ctx context.Context, id string, at time.Time) error {
	return r.retire(ctx, id, at, true)
}

func (r *Registry) retire(ctx context.Context, id string, at time.Time, recovered bool) error {
	return r.update(ctx, func(agents []Agent) ([]Agent, error) {
		for i := range agents {
			if agents[i].ID != id {
				continue
			}
			if agents[i].RetiredAt == nil {
				agents[i].RetiredAt = &at
				agents[i].Recovered = recovered
				if agents[i].State == StateAlive {
					agents[i].State = StateDead
				}
			}
			return agents, nil
		}
		return nil, fmt.Errorf("retiring %q: %w", id, ErrAgentNotFound)
	})
}

// Get returns a single agent record.
func (r *Registry) Get(ctx context.Context, id string) (Agent, error) {
	all, err := r.Snapshot(ctx)
	if err != nil {
		return Agent{}, err
	}
	for _, a := range all {
		if a.ID == id {
			return a, nil
		}
	}
	return Agent{}, fmt.Errorf("agent %q: %w", id, ErrAgentNotFound)
}

func (r *Registry) update(ctx context.Context, fn func([]Agent) ([]Agent, error)) error {
	lock, err := store.Lock(ctx, r.path+".lock")
	if err != nil {
		return fmt.Errorf("acquiring registry lock: %w", err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Printf("WARNING: releasing registry lock: %v", err)
		}
	}()

	agents, err := r.load()
	if err != nil {
		return err
	}
	agents, err = fn(agents)
	if err != nil {
		return err
	}
	return r.rewrite(agents)
}

func (r *Registry) load() ([]Agent, error) {
	f, err := os.Open(r.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening registry file: %w", err)
	}
	defer f.Close()

	var agents []Agent
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var a Agent
		if err := json.Unmarshal(line, &a); err != nil {
			log.Printf("WARNING: %s:%d: skipping malformed agent record: %v", r.path, lineNo, err)
			continue
		}
		agents = append(agents, a)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading registry file: %w", err)
	}
	return agents, nil
}

func (r *Registry) rewrite(agents []Agent) error {
	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".agents-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for i := range agents {
		if err := enc.Encode(&agents[i]); err != nil {
			tmp.Close()
			return fmt.Errorf("encoding agent %q: %w", agents[i].ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing registry file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing registry file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("replacing registry file: %w", err)
	}
	return nil
}
