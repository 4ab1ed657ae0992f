package history

import (
	"context"
	"testing"
	"time"

	"github.com/gyredev/gyre/internal/events"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewMemoryStore(context.Background())
	if err != nil {
		t.Fatalf("NewMemoryStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordAndQueryForTask(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	entries := []Entry{
		{Type: "task.dispatched", Task: "write", Agent: "a1", OccurredAt: base},
		{Type: "task.completed", Task: "write", OccurredAt: base.Add(time.Minute)},
		{Type: "task.dispatched", Task: "review", Agent: "a2", OccurredAt: base.Add(2 * time.Minute)},
	}
	for _, e := range entries {
		if err := s.Record(ctx, e); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := s.ForTask(ctx, "write")
	if err != nil {
		t.Fatalf("ForTask: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d entries, want 2", len(got))
	}
	if got[0].Type != "task.dispatched" || got[1].Type != "task.completed" {
		t.Errorf("wrong order: %s, %s", got[0].Type, got[1].Type)
	}
	if got[0].Agent != "a1" {
		t.Errorf("agent = %q, want a1", got[0].Agent)
	}
	if !got[0].OccurredAt.Equal(base) {
		t.Errorf("occurred_at = %v, want %v", got[0].OccurredAt, base)
	}
}

func TestRecentIsNewestFirstAndLimited(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	base := time.Date(2026, 8, 1, 10, 0, 0, 0, time.UTC)
	for i := 0; i < 10; i++ {
		err := s.Record(ctx, Entry{
			Type:       "tick.done",
			OccurredAt: base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	got, err := s.Recent(ctx, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d entries, want 3", len(got))
	}
	if !got[0].OccurredAt.After(got[2].OccurredAt) {
		t.Errorf("not newest first: %v then %v", got[0].OccurredAt, got[2].OccurredAt)
	}
}

func TestRecordDefaultsTimestamp(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.Record(ctx, Entry{Type: "tick.done"}); err != nil {
		t.Fatalf("Record: %v", err)
	}
	got, err := s.Recent(ctx, 1)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if got[0].OccurredAt.IsZero() {
		t.Error("zero timestamp persisted")
	}
}

func TestRecorderDrainsBus(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	bus := events.NewBus()

	rec := NewRecorder(s, bus)
	done := make(chan struct{})
	go func() {
		defer close(done)
		rec.Run(ctx)
	}()

	now := time.Now().UTC()
	bus.Publish(events.TopicTask, events.TaskDispatchedEvent{
		Task: "write", Agent: "a1", PID: 42, Backend: "claude", Timestamp: now,
	})
	bus.Publish(events.TopicTask, events.LoopFiredEvent{
		Source: "review", Target: "write", Iteration: 2, Timestamp: now,
	})

	// Closing the bus flushes the firehose and stops the recorder.
	bus.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("recorder did not stop after bus close")
	}

	got, err := s.ForTask(ctx, "write")
	if err != nil {
		t.Fatalf("ForTask: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d entries for write, want 1", len(got))
	}
	if got[0].Agent != "a1" || got[0].Detail == "" {
		t.Errorf("entry = %+v", got[0])
	}

	loops, err := s.ForTask(ctx, "review")
	if err != nil {
		t.Fatalf("ForTask: %v", err)
	}
	if len(loops) != 1 || loops[0].Type != events.EventTypeLoopFired {
		t.Errorf("loop entry = %+v", loops)
	}
}
