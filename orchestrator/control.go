package orchestrator

import (
	"context"
	"fmt"

	"github.com/runcontrolplane/rcp/run"
	"github.com/runcontrolplane/rcp/statemachine"
)

// Pause implements spec §4.2's pause action: valid from any resumable
// state (planning/executing/verifying).
func (o *Orchestrator) Pause(ctx context.Context) error {
	o.mu.Lock()
	if err := o.checkInternal("Pause", InternalRunning); err != nil {
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	snap, err := o.snapshot(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: snapshot: %w", err)
	}
	res, err := o.deps.Machine.Apply(ctx, snap, statemachine.ActionPause, "")
	if err != nil {
		return err
	}
	if err := o.persistState(ctx, res.State, res.PreviousState); err != nil {
		return err
	}

	o.mu.Lock()
	o.internal = InternalPaused
	o.mu.Unlock()
	return nil
}

// Resume implements spec §4.2's resume action: returns the run to the
// resumable state it was paused from.
func (o *Orchestrator) Resume(ctx context.Context) error {
	o.mu.Lock()
	if err := o.checkInternal("Resume", InternalPaused); err != nil {
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	snap, err := o.snapshot(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: snapshot: %w", err)
	}
	res, err := o.deps.Machine.Apply(ctx, snap, statemachine.ActionResume, "")
	if err != nil {
		return err
	}
	if err := o.persistState(ctx, res.State, res.PreviousState); err != nil {
		return err
	}

	o.mu.Lock()
	o.internal = InternalRunning
	o.phaseStart = run.Now()
	o.mu.Unlock()
	return nil
}

// Cancel implements spec §4.7/§5's Cancel: valid from every non-terminal
// state, always results in cancelled. In-flight sandbox work is
// force-killed, then best-effort artifact extraction proceeds before
// shutdown.
func (o *Orchestrator) Cancel(ctx context.Context) error {
	o.mu.Lock()
	state := o.internal
	o.mu.Unlock()
	if state == InternalStopped || state == InternalIdle {
		return &ErrWrongInternalState{Op: "Cancel", Have: state, Want: []InternalState{InternalRunning, InternalPaused, InternalAwaitingApproval, InternalStarting}}
	}

	_ = o.deps.Sandbox.ForceKill(ctx)

	snap, err := o.snapshot(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: snapshot: %w", err)
	}
	res, err := o.deps.Machine.Apply(ctx, snap, statemachine.ActionCancel, "")
	if err != nil {
		return err
	}
	if err := o.persistState(ctx, res.State, res.PreviousState); err != nil {
		return err
	}

	o.deps.Errors.ClearRun(o.runID)
	o.deps.Stalls.ClearRun(o.runID)
	o.stop(ctx, stopOutcomeCancelled)
	return nil
}

// stopOutcome classifies why the cleanup sequence ran, for the trace
// bundle's outcome field.
type stopOutcome string

const (
	stopOutcomeCompleted stopOutcome = "completed"
	stopOutcomeFailed    stopOutcome = "failed"
	stopOutcomeCancelled stopOutcome = "cancelled"
)

// Shutdown implements spec §4.7's Shutdown cleanup: cancels the timeout
// driver, extracts outstanding artifacts, shuts down the sandbox, and
// writes the trace bundle. Safe to call directly (explicit shutdown
// request) or indirectly (from the completed/failed/cancelled paths).
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.stop(ctx, stopOutcomeCompleted)
	return nil
}

// stop runs the shared cleanup sequence (spec §4.7 "Cleanup"). It never
// returns an error: every step is best-effort past the first failure so a
// broken sandbox or a trace-write error cannot prevent the orchestrator
// from reaching a stopped internal state.
func (o *Orchestrator) stop(ctx context.Context, outcome stopOutcome) {
	o.stopApprovalDriver()

	if artifacts, err := o.deps.Sandbox.ExtractArtifacts(ctx); err == nil {
		for _, a := range artifacts {
			if _, werr := o.writeArtifact(ctx, a); werr != nil {
				o.deps.Logger.Warn(ctx, "orchestrator: artifact extraction failed", "run_id", o.runID, "error", werr.Error())
			}
		}
	} else {
		o.deps.Logger.Warn(ctx, "orchestrator: artifact extraction failed", "run_id", o.runID, "error", err.Error())
	}

	if err := o.deps.Sandbox.Shutdown(ctx); err != nil {
		o.deps.Logger.Warn(ctx, "orchestrator: sandbox shutdown failed", "run_id", o.runID, "error", err.Error())
	}

	if err := o.writeTrace(ctx, outcome); err != nil {
		o.deps.Logger.Warn(ctx, "orchestrator: trace write failed", "run_id", o.runID, "error", err.Error())
	}

	o.mu.Lock()
	if o.internal != InternalError {
		o.internal = InternalStopped
	}
	o.mu.Unlock()
}
