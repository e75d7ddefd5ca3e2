package statemachine

import (
	"context"
	"errors"
	"fmt"

	"github.com/runcontrolplane/rcp/eventlog"
	"github.com/runcontrolplane/rcp/internal/invariant"
)

var (
	// ErrInvalidTransition is returned when the requested (from, to) pair is
	// not in the permitted-transition table, or when the previous_state
	// discipline is violated by the caller-supplied target.
	ErrInvalidTransition = errors.New("statemachine: invalid transition")
	// ErrTerminalState is returned when a transition or action is attempted
	// against a run already in a terminal state.
	ErrTerminalState = errors.New("statemachine: run is in a terminal state")
)

// Snapshot is the subset of run state the machine needs to validate and
// apply a transition. Callers (the run store / orchestrator) own the full
// Run record; the machine never reads or writes it directly.
type Snapshot struct {
	RunID         string
	State         State
	PreviousState *State
}

// Result is the outcome of a successful transition: the new state pair to
// persist on the run record, and the phase.changed event that was appended
// to justify it.
type Result struct {
	State         State
	PreviousState *State
	Event         *eventlog.Event
}

// Machine validates and applies run-state transitions. Every successful
// transition appends a phase.changed event before reporting success; the
// caller is expected to treat a returned error as "abort, do not commit the
// new state", satisfying spec §4.2's transactional requirement.
type Machine struct {
	events eventlog.Store
}

// New builds a Machine backed by the given event log store.
func New(events eventlog.Store) *Machine {
	return &Machine{events: events}
}

// Transition validates moving snap.State to `to` and, if allowed, appends
// the accompanying phase.changed event and returns the new state pair.
//
// The previous_state discipline (spec §4.2) is applied as follows:
//   - Entering awaiting_approval/paused from a resumable state: previous_state
//     is set to the resumable state being left.
//   - Switching directly between awaiting_approval and paused (an edge the
//     table permits but the prose doesn't address) leaves the existing
//     previous_state untouched rather than overwriting it with a
//     non-resumable value; reaching either suspend state always implies a
//     previous_state was already recorded; if none is, that is a broken
//     invariant, not a normal validation failure.
//   - Exiting to a resumable state requires it to equal the stored
//     previous_state; on success previous_state is cleared.
func (m *Machine) Transition(ctx context.Context, snap Snapshot, to State, reason string) (*Result, error) {
	if IsTerminal(snap.State) {
		return nil, fmt.Errorf("%w: run_id=%s state=%s", ErrTerminalState, snap.RunID, snap.State)
	}
	if !edgeAllowed(snap.State, to) {
		return nil, fmt.Errorf("%w: run_id=%s from=%s to=%s", ErrInvalidTransition, snap.RunID, snap.State, to)
	}

	nextPrevious := snap.PreviousState
	switch {
	case to == StateAwaitingApproval || to == StatePaused:
		switch {
		case IsResumable(snap.State):
			from := snap.State
			nextPrevious = &from
		case snap.State == StateAwaitingApproval || snap.State == StatePaused:
			if snap.PreviousState == nil {
				invariant.Raise("statemachine", "run %s entered %s with no previous_state recorded", snap.RunID, snap.State)
			}
		default:
			invariant.Raise("statemachine", "run %s entered %s from non-resumable state %s", snap.RunID, to, snap.State)
		}
	case IsResumable(to) && (snap.State == StateAwaitingApproval || snap.State == StatePaused):
		if snap.PreviousState == nil || *snap.PreviousState != to {
			return nil, fmt.Errorf("%w: run_id=%s resume target %s does not match previous_state", ErrInvalidTransition, snap.RunID, to)
		}
		nextPrevious = nil
	}

	ev := eventlog.NewEvent(snap.RunID, string(to), eventlog.SeverityInfo, eventlog.PhaseChangedPayload{
		From:   string(snap.State),
		To:     string(to),
		Reason: reason,
	})
	stored, err := m.events.Append(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("statemachine: append phase.changed: %w", err)
	}

	return &Result{State: to, PreviousState: nextPrevious, Event: stored}, nil
}

// Apply validates and applies a user action against snap, mapping it to the
// underlying Transition call per spec §4.2's action table.
func (m *Machine) Apply(ctx context.Context, snap Snapshot, action UserAction, reason RejectReason) (*Result, error) {
	switch action {
	case ActionPause:
		if !IsResumable(snap.State) {
			return nil, fmt.Errorf("%w: pause is only valid from a resumable state, got %s", ErrInvalidTransition, snap.State)
		}
		return m.Transition(ctx, snap, StatePaused, "user_paused")

	case ActionResume:
		if snap.State != StatePaused {
			return nil, fmt.Errorf("%w: resume is only valid from paused, got %s", ErrInvalidTransition, snap.State)
		}
		if snap.PreviousState == nil {
			invariant.Raise("statemachine", "run %s is paused with no previous_state recorded", snap.RunID)
		}
		return m.Transition(ctx, snap, *snap.PreviousState, "user_resumed")

	case ActionCancel:
		if IsTerminal(snap.State) {
			return nil, fmt.Errorf("%w: run_id=%s state=%s", ErrTerminalState, snap.RunID, snap.State)
		}
		return m.Transition(ctx, snap, StateCancelled, "user_cancelled")

	case ActionApprove:
		if snap.State != StateAwaitingApproval {
			return nil, fmt.Errorf("%w: approve is only valid from awaiting_approval, got %s", ErrInvalidTransition, snap.State)
		}
		if snap.PreviousState == nil {
			invariant.Raise("statemachine", "run %s is awaiting_approval with no previous_state recorded", snap.RunID)
		}
		return m.Transition(ctx, snap, *snap.PreviousState, "approved")

	case ActionReject:
		if snap.State != StateAwaitingApproval {
			return nil, fmt.Errorf("%w: reject is only valid from awaiting_approval, got %s", ErrInvalidTransition, snap.State)
		}
		target, err := RejectTarget(reason)
		if err != nil {
			return nil, err
		}
		return m.Transition(ctx, snap, target, fmt.Sprintf("rejected:%s", reason))

	case ActionRetry:
		return m.Retry(ctx, snap)

	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrInvalidTransition, action)
	}
}

// RejectTarget maps a reject reason onto the state-machine target it
// selects (spec §4.2's "reject | awaiting_approval | cancelled | paused |
// failed" mapping). Exported so callers that need to predict or persist a
// reject's outcome ahead of calling Apply (the orchestrator, syncing the
// run row after approval.Service.Reject) do not duplicate the mapping.
func RejectTarget(reason RejectReason) (State, error) {
	switch reason {
	case ReasonUserCancelled:
		return StateCancelled, nil
	case ReasonNeedsEdit:
		return StatePaused, nil
	case ReasonPolicyViolation:
		return StateFailed, nil
	default:
		return "", fmt.Errorf("%w: unknown reject reason %q", ErrInvalidTransition, reason)
	}
}

// Retry resets a terminal run back to pending for a fresh attempt. This is
// deliberately not routed through the permitted-edges table: terminal
// states carry no table entries (spec line 226, "a terminal state has no
// outgoing transitions"), yet the action table explicitly allows
// failed/cancelled/timeout -> pending. Retry is its own gated reset path
// rather than an edge-table exception, so the table's terminal-state
// invariant stays literally true for every transition it governs.
func (m *Machine) Retry(ctx context.Context, snap Snapshot) (*Result, error) {
	switch snap.State {
	case StateFailed, StateCancelled, StateTimeout:
	default:
		return nil, fmt.Errorf("%w: retry is only valid from failed/cancelled/timeout, got %s", ErrInvalidTransition, snap.State)
	}

	ev := eventlog.NewEvent(snap.RunID, string(StatePending), eventlog.SeverityInfo, eventlog.PhaseChangedPayload{
		From:   string(snap.State),
		To:     string(StatePending),
		Reason: "retry",
	})
	stored, err := m.events.Append(ctx, ev)
	if err != nil {
		return nil, fmt.Errorf("statemachine: append phase.changed: %w", err)
	}
	return &Result{State: StatePending, PreviousState: nil, Event: stored}, nil
}
