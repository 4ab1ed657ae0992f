// Package store persists the task graph as newline-delimited JSON: one
// self-contained record per task, reconstructable without reading any other
// record. Writes follow an exclusive-lock-then-rewrite-then-release
// discipline shared by every writer (coordinator, workers reporting
// outcomes, operator tooling); reads are lock-free snapshots of the last
// fully-written file, which the atomic rename guarantees is consistent.
package store

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/gyredev/gyre/internal/graph"
)

// Sentinel errors for mutation outcomes.
var (
	ErrTaskNotFound  = errors.New("task not found")
	ErrTaskExists    = errors.New("task already exists")
	ErrClaimConflict = errors.New("task is not open")
)

// GraphStore owns the durable graph file.
type GraphStore struct {
	path string
}

// NewGraphStore creates a store rooted at path, creating parent
// directories as needed. The file itself is created on first write.
func NewGraphStore(path string) (*GraphStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating graph directory: %w", err)
	}
	return &GraphStore{path: path}, nil
}

// Path returns the location of the graph file.
func (s *GraphStore) Path() string { return s.path }

// Snapshot reads the last fully-written graph state without locking.
// A missing file is an empty graph.
func (s *GraphStore) Snapshot(ctx context.Context) (*graph.Graph, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.load()
}

// Update runs fn inside the exclusive write lock: load, mutate, rebuild
// derived edges, atomically replace the file. If fn returns an error the
// file is left untouched. The rename makes the new state visible to every
// subsequent reader before Update returns, so a persisted claim
// happens-before the next readiness computation that could observe it.
func (s *GraphStore) Update(ctx context.Context, fn func(g *graph.Graph) error) error {
	lock, err := Lock(ctx, s.path+".lock")
	if err != nil {
		return fmt.Errorf("acquiring graph lock: %w", err)
	}
	defer func() {
		if err := lock.Release(); err != nil {
			log.Printf("WARNING: releasing graph lock: %v", err)
		}
	}()

	g, err := s.load()
	if err != nil {
		return err
	}

	if err := fn(g); err != nil {
		return err
	}

	g.RebuildBlocks()
	return s.rewrite(g)
}

// load parses the NDJSON file into a graph. Malformed lines are skipped
// with a warning rather than aborting: the scheduler must degrade, not
// halt, on bad data.
func (s *GraphStore) load() (*graph.Graph, error) {
	g := graph.New()

	f, err := os.Open(s.path)
	if os.IsNotExist(err) {
		return g, nil
	}
	if err != nil {
		return nil, fmt.Errorf("opening graph file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var t graph.Task
		if err := json.Unmarshal(line, &t); err != nil {
			log.Printf("WARNING: %s:%d: skipping malformed record: %v", s.path, lineNo, err)
			continue
		}
		if err := g.Add(&t); err != nil {
			log.Printf("WARNING: %s:%d: %v", s.path, lineNo, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading graph file: %w", err)
	}

	g.RebuildBlocks()
	return g, nil
}

// rewrite writes the whole graph to a temp file in the same directory and
// renames it over the data file, so readers only ever see complete states.
func (s *GraphStore) rewrite(g *graph.Graph) error {
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".graph-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	for _, t := range g.Tasks() {
		if err := enc.Encode(t); err != nil {
			tmp.Close()
			return fmt.Errorf("encoding task %q: %w", t.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("flushing graph file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("syncing graph file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp file: %w", err)
	}

	if err := os.Rename(tmpName, s.path); err != nil {
		return fmt.Errorf("replacing graph file: %w", err)
	}
	return nil
}
