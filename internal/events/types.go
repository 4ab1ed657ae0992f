package events

import (
	"time"
)

// Event is implemented by everything the scheduler publishes.
type Event interface {
	EventType() string
	TaskID() string
}

// Topics group events for subscribers that only care about one concern.
const (
	TopicTask  = "task"  // per-task lifecycle: dispatch, completion, loops
	TopicAgent = "agent" // worker-process lifecycle
	TopicTick  = "tick"  // coordinator cadence
)

// Event type identifiers, stored verbatim in the history trail.
const (
	EventTypeTaskDispatched = "task.dispatched"
	EventTypeTaskCompleted  = "task.completed"
	EventTypeTaskUnclaimed  = "task.unclaimed"
	EventTypeLoopFired      = "task.loop_fired"
	EventTypeAgentDied      = "agent.died"
	EventTypeAgentTriaged   = "agent.triaged"
	EventTypeTickDone       = "tick.done"
	EventTypeGraphComplete  = "tick.graph_complete"
)

// TaskDispatchedEvent is published when the dispatcher claims a task and
// launches a worker for it.
type TaskDispatchedEvent struct {
	Task      string
	Agent     string
	PID       int
	Backend   string
	Timestamp time.Time
}

func (e TaskDispatchedEvent) EventType() string { return EventTypeTaskDispatched }
func (e TaskDispatchedEvent) TaskID() string    { return e.Task }

// TaskCompletedEvent is published when a terminal outcome is recorded.
type TaskCompletedEvent struct {
	Task      string
	Status    string
	Timestamp time.Time
}

func (e TaskCompletedEvent) EventType() string { return EventTypeTaskCompleted }
func (e TaskCompletedEvent) TaskID() string    { return e.Task }

// TaskUnclaimedEvent is published when a claim is rolled back or a dead
// agent's task is reopened.
type TaskUnclaimedEvent struct {
	Task      string
	Reason    string
	Timestamp time.Time
}

func (e TaskUnclaimedEvent) EventType() string { return EventTypeTaskUnclaimed }
func (e TaskUnclaimedEvent) TaskID() string    { return e.Task }

// LoopFiredEvent is published once per loop-edge firing.
type LoopFiredEvent struct {
	Source    string
	Target    string
	Iteration int
	Reopened  []string
	Timestamp time.Time
}

func (e LoopFiredEvent) EventType() string { return EventTypeLoopFired }
func (e LoopFiredEvent) TaskID() string    { return e.Source }

// AgentDiedEvent is published when liveness probing finds a dead process.
type AgentDiedEvent struct {
	Agent     string
	Task      string
	PID       int
	Timestamp time.Time
}

func (e AgentDiedEvent) EventType() string { return EventTypeAgentDied }
func (e AgentDiedEvent) TaskID() string    { return e.Task }

// AgentTriagedEvent records the recovery decision for a dead agent.
type AgentTriagedEvent struct {
	Agent     string
	Task      string
	Outcome   string // done, continue, restart, unclaim, failed
	Timestamp time.Time
}

func (e AgentTriagedEvent) EventType() string { return EventTypeAgentTriaged }
func (e AgentTriagedEvent) TaskID() string    { return e.Task }

// TickDoneEvent summarizes one pass of the scheduling loop.
type TickDoneEvent struct {
	Alive      int
	Ready      int
	Dispatched int
	Duration   time.Duration
	Timestamp  time.Time
}

func (e TickDoneEvent) EventType() string { return EventTypeTickDone }
func (e TickDoneEvent) TaskID() string    { return "" }

// GraphCompleteEvent is published once when every task is terminal.
type GraphCompleteEvent struct {
	Tasks     int
	Timestamp time.Time
}

func (e GraphCompleteEvent) EventType() string { return EventTypeGraphComplete }
func (e GraphCompleteEvent) TaskID() string    { return "" }
