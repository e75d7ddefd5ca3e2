// Package statemachine validates run-state transitions and user actions
// for the run control plane (spec §4.2), emitting the phase.changed event
// that accompanies every successful transition.
package statemachine

// State is one of the 12 lifecycle states a run can occupy.
type State string

const (
	StatePending          State = "pending"
	StateInitializing     State = "initializing"
	StatePlanning         State = "planning"
	StateExecuting        State = "executing"
	StateVerifying        State = "verifying"
	StatePackaging        State = "packaging"
	StateAwaitingApproval State = "awaiting_approval"
	StatePaused           State = "paused"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
	StateCancelled        State = "cancelled"
	StateTimeout          State = "timeout"
)

var terminalStates = map[State]bool{
	StateCompleted: true,
	StateFailed:    true,
	StateCancelled: true,
	StateTimeout:   true,
}

var resumableStates = map[State]bool{
	StatePlanning:  true,
	StateExecuting: true,
	StateVerifying: true,
}

// edges is the permitted-transition table from spec §4.2. Terminal states
// carry no entry: IsTerminal callers must check before consulting edges.
var edges = map[State][]State{
	StatePending:          {StateInitializing, StateCancelled},
	StateInitializing:     {StatePlanning, StateFailed, StateCancelled},
	StatePlanning:         {StateExecuting, StateAwaitingApproval, StatePaused, StateFailed, StateCancelled},
	StateExecuting:        {StateVerifying, StateAwaitingApproval, StatePaused, StateFailed, StateCancelled},
	StateVerifying:        {StatePackaging, StateExecuting, StatePaused, StateFailed, StateCancelled},
	StatePackaging:        {StateCompleted, StateFailed, StateCancelled},
	StateAwaitingApproval: {StatePlanning, StateExecuting, StateVerifying, StateCancelled, StatePaused, StateFailed, StateTimeout},
	StatePaused:           {StatePlanning, StateExecuting, StateVerifying, StateCancelled},
}

// IsTerminal reports whether s has no outgoing transitions.
func IsTerminal(s State) bool { return terminalStates[s] }

// IsResumable reports whether s is one of the work states a run may be
// suspended from and later resumed to.
func IsResumable(s State) bool { return resumableStates[s] }

func edgeAllowed(from, to State) bool {
	for _, candidate := range edges[from] {
		if candidate == to {
			return true
		}
	}
	return false
}

// UserAction is one of the actions an operator can request against a run.
type UserAction string

const (
	ActionPause   UserAction = "pause"
	ActionResume  UserAction = "resume"
	ActionCancel  UserAction = "cancel"
	ActionApprove UserAction = "approve"
	ActionReject  UserAction = "reject"
	ActionRetry   UserAction = "retry"
)

// RejectReason selects the target state for a reject action (spec §4.2's
// "reject | awaiting_approval | cancelled | paused | failed" mapping).
type RejectReason string

const (
	ReasonUserCancelled   RejectReason = "user_cancelled"
	ReasonNeedsEdit       RejectReason = "needs_edit"
	ReasonPolicyViolation RejectReason = "policy_violation"
)
