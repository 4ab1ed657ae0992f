// Package history keeps a queryable audit trail of scheduler events in
// SQLite. The NDJSON graph file holds current state only; history
// answers "what happened to this task and when".
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	_ "modernc.org/sqlite"
)

var memorySeq atomic.Int64

// Entry is one recorded scheduler event.
type Entry struct {
	ID         int64
	Type       string
	Task       string
	Agent      string
	Detail     string // JSON payload of the original event
	OccurredAt time.Time
}

// SQLiteStore is the SQLite-backed audit trail.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the audit database at dbPath.
// Creates parent directories if needed. Enables WAL mode and a busy
// timeout so the CLI and the daemon can read concurrently.
func NewSQLiteStore(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create parent directories: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL", dbPath)
	db, err := sql.Open("sqlite", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// NewMemoryStore creates an in-memory audit store for testing. Each
// call gets its own database.
func NewMemoryStore(ctx context.Context) (*SQLiteStore, error) {
	name := fmt.Sprintf("file:mem%d?mode=memory&cache=shared", memorySeq.Add(1))
	db, err := sql.Open("sqlite", name)
	if err != nil {
		return nil, fmt.Errorf("failed to open in-memory database: %w", err)
	}
	// A single connection keeps the in-memory DB alive for the store's
	// lifetime.
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initSchema(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return store, nil
}

// Record appends one entry to the trail.
func (s *SQLiteStore) Record(ctx context.Context, e Entry) error {
	occurred := e.OccurredAt
	if occurred.IsZero() {
		occurred = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events (event_type, task_id, agent_id, detail, occurred_at)
		 VALUES (?, ?, ?, ?, ?)`,
		e.Type, e.Task, e.Agent, e.Detail, occurred.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("recording %s: %w", e.Type, err)
	}
	return nil
}

// ForTask returns a task's entries, oldest first.
func (s *SQLiteStore) ForTask(ctx context.Context, taskID string) ([]Entry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_type, task_id, agent_id, detail, occurred_at
		 FROM events WHERE task_id = ? ORDER BY occurred_at, id`, taskID)
	if err != nil {
		return nil, fmt.Errorf("querying history for %s: %w", taskID, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// Recent returns the newest entries across all tasks, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, event_type, task_id, agent_id, detail, occurred_at
		 FROM events ORDER BY occurred_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying recent history: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var entries []Entry
	for rows.Next() {
		var e Entry
		var task, agent, detail sql.NullString
		var occurred string
		if err := rows.Scan(&e.ID, &e.Type, &task, &agent, &detail, &occurred); err != nil {
			return nil, fmt.Errorf("scanning history row: %w", err)
		}
		e.Task = task.String
		e.Agent = agent.String
		e.Detail = detail.String
		if ts, err := time.Parse(time.RFC3339Nano, occurred); err == nil {
			e.OccurredAt = ts
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
