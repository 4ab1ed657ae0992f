package graph

// Status represents the current lifecycle state of a task.
type Status string

const (
	StatusOpen       Status = "open"        // Waiting to be claimed
	StatusInProgress Status = "in_progress" // Claimed and bound to an agent
	StatusDone       Status = "done"        // Finished successfully
	StatusFailed     Status = "failed"      // Finished with error
	StatusAbandoned  Status = "abandoned"   // Given up on
	StatusHeld       Status = "held"        // Explicit manual hold, never derived
)

// Terminal reports whether a status satisfies downstream dependencies.
// Done, Failed and Abandoned all unblock dependents equally.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed || s == StatusAbandoned
}

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusOpen, StatusInProgress, StatusDone, StatusFailed, StatusAbandoned, StatusHeld:
		return true
	}
	return false
}

// Guard kinds for loop edges.
const (
	GuardAlways      = "always"
	GuardTaskStatus  = "task_status"
	GuardIterationLT = "iteration_lt"
)

// Guard gates whether a loop edge fires. Type selects the variant;
// the other fields are meaningful only for their variant.
type Guard struct {
	Type      string `json:"type"`
	Task      string `json:"task,omitempty"`      // task_status: task to inspect
	Status    Status `json:"status,omitempty"`    // task_status: status to match
	Threshold int    `json:"threshold,omitempty"` // iteration_lt: upper bound
}

// LoopEdge is a conditional, bounded backward edge. It is never consulted
// for readiness; it only reopens its target when the owning task completes.
type LoopEdge struct {
	Target        string `json:"target"`
	Guard         Guard  `json:"guard"`
	MaxIterations int    `json:"max_iterations"`
	Delay         string `json:"delay,omitempty"` // duration string, e.g. "30s"
}

// Task is a node in the work graph. BlockedBy is the sole source of truth
// for forward ordering; Blocks is the derived inverse and is rebuilt from
// BlockedBy whenever the graph is loaded or persisted.
//
// Inputs, Deliverables, Artifacts and Log are pass-through payload for the
// persona layer; the scheduler core never interprets them.
type Task struct {
	ID            string     `json:"id"`
	Title         string     `json:"title,omitempty"`
	Description   string     `json:"description,omitempty"`
	Status        Status     `json:"status"`
	Paused        bool       `json:"paused,omitempty"`
	BlockedBy     []string   `json:"blocked_by,omitempty"`
	Blocks        []string   `json:"blocks,omitempty"`
	LoopsTo       []LoopEdge `json:"loops_to,omitempty"`
	LoopIteration int        `json:"loop_iteration,omitempty"`
	NotBefore     string     `json:"not_before,omitempty"`
	ReadyAfter    string     `json:"ready_after,omitempty"`
	Assigned      string     `json:"assigned,omitempty"`
	Inputs        []string   `json:"inputs,omitempty"`
	Deliverables  string     `json:"deliverables,omitempty"`
	Artifacts     []string   `json:"artifacts,omitempty"`
	Log           []string   `json:"log,omitempty"`
}

// Clone returns a deep copy of the task.
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}

	cp := *t
	if t.BlockedBy != nil {
		cp.BlockedBy = append([]string(nil), t.BlockedBy...)
	}
	if t.Blocks != nil {
		cp.Blocks = append([]string(nil), t.Blocks...)
	}
	if t.LoopsTo != nil {
		cp.LoopsTo = append([]LoopEdge(nil), t.LoopsTo...)
	}
	if t.Inputs != nil {
		cp.Inputs = append([]string(nil), t.Inputs...)
	}
	if t.Artifacts != nil {
		cp.Artifacts = append([]string(nil), t.Artifacts...)
	}
	if t.Log != nil {
		cp.Log = append([]string(nil), t.Log...)
	}
	return &cp
}
