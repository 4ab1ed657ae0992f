package history

import (
	"context"
	"encoding/json"
	"log"

	"github.com/gyredev/gyre/internal/events"
)

// Recorder drains the event bus into the audit trail.
type Recorder struct {
	store *SQLiteStore
	bus   *events.Bus
}

// NewRecorder creates a recorder over the given store and bus.
func NewRecorder(store *SQLiteStore, bus *events.Bus) *Recorder {
	return &Recorder{store: store, bus: bus}
}

// Run consumes the firehose until the bus closes or ctx is cancelled.
// Intended to run in its own goroutine.
func (r *Recorder) Run(ctx context.Context) {
	ch := r.bus.SubscribeAll(1024)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := r.store.Record(ctx, toEntry(ev)); err != nil {
				log.Printf("WARNING: recording %s: %v", ev.EventType(), err)
			}
		}
	}
}

func toEntry(ev events.Event) Entry {
	detail, err := json.Marshal(ev)
	if err != nil {
		detail = nil
	}
	e := Entry{
		Type:   ev.EventType(),
		Task:   ev.TaskID(),
		Detail: string(detail),
	}
	switch v := ev.(type) {
	case events.TaskDispatchedEvent:
		e.Agent = v.Agent
		e.OccurredAt = v.Timestamp
	case events.TaskCompletedEvent:
		e.OccurredAt = v.Timestamp
	case events.TaskUnclaimedEvent:
		e.OccurredAt = v.Timestamp
	case events.LoopFiredEvent:
		e.OccurredAt = v.Timestamp
	case events.AgentDiedEvent:
		e.Agent = v.Agent
		e.OccurredAt = v.Timestamp
	case events.AgentTriagedEvent:
		e.Agent = v.Agent
		e.OccurredAt = v.Timestamp
	case events.TickDoneEvent:
		e.OccurredAt = v.Timestamp
	case events.GraphCompleteEvent:
		e.OccurredAt = v.Timestamp
	}
	return e
}
