package history

import (
	"context"
)

// initSchema creates all required tables if they don't exist.
func (s *SQLiteStore) initSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		task_id TEXT,
		agent_id TEXT,
		detail TEXT,
		occurred_at DATETIME NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_task_occurred
		ON events(task_id, occurred_at);
	CREATE INDEX IF NOT EXISTS idx_events_type_occurred
		ON events(event_type, occurred_at);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}
