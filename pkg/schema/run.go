package schema

import "time"

// State is the open key/value mapping a run threads through its nodes.
type State = map[string]any

// RunStatus is the lifecycle state of a run.
type RunStatus string

const (
	RunStatusRunning         RunStatus = "running"
	RunStatusCompleted       RunStatus = "completed"
	RunStatusStoppedMaxLoops RunStatus = "stopped_max_loops"
	RunStatusFailed          RunStatus = "failed"
	RunStatusCancelled       RunStatus = "cancelled"
)

// Terminal reports whether no further transitions are possible.
func (s RunStatus) Terminal() bool {
	return s != RunStatusRunning
}

// StepRecord is one entry of an execution trace.
// StateBefore and StateAfter are deep copies owned by the record.
type StepRecord struct {
	Step        int       `json:"step"`
	Node        string    `json:"node"`
	StateBefore State     `json:"state_before"`
	StateAfter  State     `json:"state_after"`
	NextNode    *string   `json:"next_node"`
	Overridden  bool      `json:"overridden"`
	Error       *Error    `json:"error,omitempty"`
	StartedAt   time.Time `json:"started_at"`
	DurationMs  int64     `json:"duration_ms"`
}

// RunResult is the inspectable artifact produced by every run.
type RunResult struct {
	RunID       string       `json:"run_id"`
	GraphID     string       `json:"graph_id"`
	Status      RunStatus    `json:"status"`
	FinalState  State        `json:"final_state"`
	CurrentNode string       `json:"current_node,omitempty"`
	Trace       []StepRecord `json:"trace"`
	Error       *Error       `json:"error,omitempty"`
	StartedAt   time.Time    `json:"started_at"`
	CompletedAt *time.Time   `json:"completed_at,omitempty"`
}

// Finished reports whether the run reached a terminal status.
func (r *RunResult) Finished() bool {
	return r.Status.Terminal()
}
