package schema

// Event types published while graphs are created and runs execute.
const (
	EventGraphCreated = "graph_created"

	EventRunStarted   = "run_started"
	EventRunCompleted = "run_completed"
	EventRunStopped   = "run_stopped_max_loops"
	EventRunFailed    = "run_failed"
	EventRunCancelled = "run_cancelled"

	EventStepCompleted = "step_completed"
	EventStepFailed    = "step_failed"

	EventScheduleTriggered = "schedule_triggered"
)
