package orchestrator

// InternalState is the orchestrator loop's own state (spec §4.7), distinct
// from the run's state-machine state: it reflects what the orchestrator is
// doing right now rather than where the run sits in its lifecycle.
type InternalState string

const (
	InternalIdle             InternalState = "idle"
	InternalStarting         InternalState = "starting"
	InternalRunning          InternalState = "running"
	InternalPaused           InternalState = "paused"
	InternalAwaitingApproval InternalState = "awaiting_approval"
	InternalStopping         InternalState = "stopping"
	InternalStopped          InternalState = "stopped"
	InternalError            InternalState = "error"
)
