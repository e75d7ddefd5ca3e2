package orchestrator

import (
	"context"
	"fmt"

	"github.com/runcontrolplane/rcp/run"
	"github.com/runcontrolplane/rcp/statemachine"
)

// transition validates and applies a state-machine move and persists the
// result onto the run row. Every successful state change is followed by a
// store write in the same call so the run row and the phase.changed event
// never drift out of sync from the orchestrator's point of view (spec §5:
// "readers never see a new state without the corresponding phase.changed
// event, nor vice versa").
func (o *Orchestrator) transition(ctx context.Context, to statemachine.State, reason string) (*statemachine.Result, error) {
	snap, err := o.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: snapshot: %w", err)
	}
	res, err := o.deps.Machine.Transition(ctx, snap, to, reason)
	if err != nil {
		return nil, err
	}
	if err := o.deps.Runs.UpdateState(ctx, o.runID, run.StateUpdate{State: res.State, PreviousState: res.PreviousState}); err != nil {
		return nil, fmt.Errorf("orchestrator: persist state: %w", err)
	}
	if res.Event != nil {
		if err := o.deps.Runs.SetLastEventSeq(ctx, o.runID, res.Event.Seq); err != nil {
			return nil, fmt.Errorf("orchestrator: persist last_event_seq: %w", err)
		}
	}
	return res, nil
}

// persistState writes a state/previous_state pair onto the run row without
// going through the state machine, used when the new state was already
// derived and transitioned elsewhere (the approval service's internal
// Transition/Apply calls, which append the phase.changed event themselves
// but do not have write access to the run row; spec §3: "The Approval
// Service owns live PendingApproval entries but writes audit records into
// the Run Store" — state itself still flows back through the orchestrator).
func (o *Orchestrator) persistState(ctx context.Context, state statemachine.State, previous *statemachine.State) error {
	return o.deps.Runs.UpdateState(ctx, o.runID, run.StateUpdate{State: state, PreviousState: previous})
}
