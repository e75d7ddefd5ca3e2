package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/runcontrolplane/rcp/approval"
	"github.com/runcontrolplane/rcp/eventlog"
	"github.com/runcontrolplane/rcp/statemachine"
)

// RequestApproval implements spec §4.7's approval gate: it emits the
// checkpoint.requested event (the orchestrator's job, not the approval
// service's, per spec §4.4), delegates the state transition and registry
// entry to approval.Service, and then persists the resulting
// awaiting_approval state onto the run row, since the service itself only
// has a narrow Snapshot reader and cannot write the run row.
func (o *Orchestrator) RequestApproval(ctx context.Context, opts approval.RequestOptions) (*approval.PendingApproval, error) {
	o.mu.Lock()
	if err := o.checkInternal("RequestApproval", InternalRunning); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	runID := o.runID
	o.mu.Unlock()

	snap, err := o.snapshot(ctx)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: snapshot: %w", err)
	}
	fromState := snap.State

	ev := eventlog.NewEvent(runID, string(fromState), eventlog.SeverityInfo, eventlog.CheckpointRequestedPayload{
		CheckpointID: opts.CheckpointID,
		ActionType:   opts.ActionType,
		Preview:      opts.Preview,
		TimeoutSec:   opts.TimeoutSeconds,
	})
	if _, err := o.deps.Events.Append(ctx, ev); err != nil {
		return nil, fmt.Errorf("orchestrator: append checkpoint.requested: %w", err)
	}

	pending, err := o.deps.Approvals.RequestApproval(ctx, runID, opts)
	if err != nil {
		return nil, err
	}

	if err := o.persistState(ctx, statemachine.StateAwaitingApproval, &fromState); err != nil {
		return nil, err
	}

	o.mu.Lock()
	o.preSuspendState = &fromState
	o.pendingCheckpointID = opts.CheckpointID
	o.internal = InternalAwaitingApproval
	o.mu.Unlock()

	return pending, nil
}

// OnApprovalGranted implements the approve half of spec §4.7's approval
// gate: the run always returns to the resumable state it was suspended
// from (approval.Service.applyApprove resolves to snap.PreviousState,
// which the orchestrator already cached as preSuspendState when the
// checkpoint was requested).
func (o *Orchestrator) OnApprovalGranted(ctx context.Context, checkpointID, actor string, source approval.Source) error {
	if err := o.deps.Approvals.Approve(ctx, checkpointID, actor, source); err != nil {
		return err
	}
	return o.resumeFromSuspend(ctx)
}

// OnApprovalRejected implements the reject half of spec §4.7's approval
// gate. The target state is computed independently via
// statemachine.RejectTarget rather than read back from approval.Service,
// since Reject does not surface its resulting state to the caller.
func (o *Orchestrator) OnApprovalRejected(ctx context.Context, checkpointID string, reason statemachine.RejectReason, note, actor string, source approval.Source) error {
	target, err := statemachine.RejectTarget(reason)
	if err != nil {
		return err
	}
	if err := o.deps.Approvals.Reject(ctx, checkpointID, reason, note, actor, source); err != nil {
		return err
	}

	// machine.Transition only clears previous_state when the target is
	// itself the resumable state being returned to; every reject target
	// (paused, cancelled, failed) leaves the suspend-time previous_state
	// untouched, so the orchestrator mirrors that rather than nil it out.
	o.mu.Lock()
	prev := o.preSuspendState
	o.mu.Unlock()
	if err := o.persistState(ctx, target, prev); err != nil {
		return err
	}

	o.mu.Lock()
	o.pendingCheckpointID = ""
	switch target {
	case statemachine.StatePaused:
		o.internal = InternalPaused
	default:
		o.internal = InternalStopped
	}
	o.mu.Unlock()

	switch target {
	case statemachine.StateCancelled:
		o.deps.Errors.ClearRun(o.runID)
		o.deps.Stalls.ClearRun(o.runID)
		o.stop(ctx, stopOutcomeCancelled)
	case statemachine.StateFailed:
		o.deps.Stalls.ClearRun(o.runID)
		o.stop(ctx, stopOutcomeFailed)
	}
	return nil
}

// resumeFromSuspend returns the run to its cached pre-suspend state,
// shared by OnApprovalGranted and the timeout driver's approve-on-timeout
// path.
func (o *Orchestrator) resumeFromSuspend(ctx context.Context) error {
	o.mu.Lock()
	prev := o.preSuspendState
	o.mu.Unlock()
	if prev == nil {
		return fmt.Errorf("orchestrator: resume from suspend with no preSuspendState recorded")
	}
	if err := o.persistState(ctx, *prev, nil); err != nil {
		return err
	}
	o.mu.Lock()
	o.preSuspendState = nil
	o.pendingCheckpointID = ""
	o.phaseStart = time.Now().UTC()
	o.internal = InternalRunning
	o.mu.Unlock()
	return nil
}

// startApprovalDriver begins the periodic approval-timeout sweep (spec
// §4.7: "begins the periodic approval-timeout driver (every ~5s)"). Each
// orchestrator instance runs its own ticker: approval.Service's
// ProcessTimeouts sweeps every expired checkpoint in the registry (it is
// not run-scoped), so after each sweep the driver separately checks
// whether its own tracked pendingCheckpointID resolved, in order to learn
// the outcome and sync this run's row and internal state.
func (o *Orchestrator) startApprovalDriver() {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	o.mu.Lock()
	o.driverCancel = cancel
	o.driverDone = done
	o.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(o.deps.ApprovalPollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				o.pollApprovalTimeout(ctx)
			}
		}
	}()
}

func (o *Orchestrator) pollApprovalTimeout(ctx context.Context) {
	if errs := o.deps.Approvals.ProcessTimeouts(ctx, time.Now().UTC()); len(errs) > 0 {
		for _, err := range errs {
			o.deps.Logger.Warn(ctx, "orchestrator: approval timeout sweep error", "run_id", o.runID, "error", err.Error())
		}
	}

	o.mu.Lock()
	checkpointID := o.pendingCheckpointID
	o.mu.Unlock()
	if checkpointID == "" {
		return
	}

	p, err := o.deps.Registry.Get(ctx, checkpointID)
	if err != nil {
		o.deps.Logger.Warn(ctx, "orchestrator: approval registry lookup failed", "run_id", o.runID, "error", err.Error())
		return
	}
	switch p.Status {
	case approval.StatusTimeout:
		if p.TimeoutAction == "approve" {
			if err := o.resumeFromSuspend(ctx); err != nil {
				o.deps.Logger.Warn(ctx, "orchestrator: resume after timeout-approve failed", "run_id", o.runID, "error", err.Error())
			}
			return
		}
		o.mu.Lock()
		prev := o.preSuspendState
		o.pendingCheckpointID = ""
		o.internal = InternalError
		o.mu.Unlock()
		if err := o.persistState(ctx, statemachine.StateTimeout, prev); err != nil {
			o.deps.Logger.Warn(ctx, "orchestrator: persist timeout state failed", "run_id", o.runID, "error", err.Error())
		}
		o.deps.Stalls.ClearRun(o.runID)
		o.stop(ctx, stopOutcomeFailed)
	}
}

func (o *Orchestrator) stopApprovalDriver() {
	o.mu.Lock()
	cancel := o.driverCancel
	done := o.driverDone
	o.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	if done != nil {
		<-done
	}
}
