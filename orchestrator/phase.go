package orchestrator

import (
	"context"
	"fmt"

	"github.com/runcontrolplane/rcp/eventlog"
	"github.com/runcontrolplane/rcp/run"
	"github.com/runcontrolplane/rcp/statemachine"
)

// phaseSequence is the linear forward progression AdvancePhase steps
// through (spec §4.7: "from the current state, step to the next in the
// linear sequence planning -> executing -> verifying -> packaging ->
// completed").
var phaseSequence = map[statemachine.State]statemachine.State{
	statemachine.StatePlanning:  statemachine.StateExecuting,
	statemachine.StateExecuting: statemachine.StateVerifying,
	statemachine.StateVerifying: statemachine.StatePackaging,
	statemachine.StatePackaging: statemachine.StateCompleted,
}

// AdvancePhase implements spec §4.7's phase progression: it steps the run
// from its current state to the next phase in the linear sequence. The
// verifying -> executing edge the permitted-transitions table allows is not
// an implicit state-machine effect (spec §9 Open Questions): it only fires
// when the caller driving verification explicitly sets retryVerification,
// and only from verifying; AdvancePhase is the single place that decision
// is made, rather than a second method duplicating its bookkeeping.
// Entering completed triggers final artifact extraction, one last pass of
// cost finalization, trace assembly, and shutdown.
func (o *Orchestrator) AdvancePhase(ctx context.Context, reason string, retryVerification bool) error {
	o.mu.Lock()
	if err := o.checkInternal("AdvancePhase", InternalRunning); err != nil {
		o.mu.Unlock()
		return err
	}
	o.mu.Unlock()

	snap, err := o.snapshot(ctx)
	if err != nil {
		return fmt.Errorf("orchestrator: snapshot: %w", err)
	}

	var to statemachine.State
	if retryVerification {
		if snap.State != statemachine.StateVerifying {
			return fmt.Errorf("orchestrator: retry verification is only valid from verifying, got %s", snap.State)
		}
		to = statemachine.StateExecuting
	} else {
		next, ok := phaseSequence[snap.State]
		if !ok {
			return fmt.Errorf("orchestrator: advance phase: no forward phase defined from %s", snap.State)
		}
		to = next
	}

	o.recordPhaseDuration(snap.State)

	if _, err := o.transition(ctx, to, reason); err != nil {
		return err
	}

	if to == statemachine.StateCompleted {
		return o.completeRun(ctx)
	}

	o.mu.Lock()
	o.phaseStart = run.Now()
	o.mu.Unlock()
	return nil
}

func (o *Orchestrator) recordPhaseDuration(phase statemachine.State) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.phaseDurations[phase] += run.Now().Sub(o.phaseStart)
}

// completeRun implements spec §4.7's "entering completed triggers final
// artifact extraction from the sandbox, one last pass of cost
// finalization, trace assembly, and shutdown."
func (o *Orchestrator) completeRun(ctx context.Context) error {
	o.mu.Lock()
	runID := o.runID
	o.mu.Unlock()

	if err := o.deps.Runs.MarkCompleted(ctx, runID); err != nil {
		return fmt.Errorf("orchestrator: mark completed: %w", err)
	}

	breakdown, err := o.deps.Costs.Breakdown(ctx, runID)
	if err != nil {
		return fmt.Errorf("orchestrator: final cost breakdown: %w", err)
	}

	r, err := o.deps.Runs.Get(ctx, runID)
	if err != nil {
		return fmt.Errorf("orchestrator: get run: %w", err)
	}

	var durationMs int64
	if r.StartedAt != nil {
		durationMs = run.Now().Sub(*r.StartedAt).Milliseconds()
	}

	completedEv := eventlog.NewEvent(runID, string(statemachine.StateCompleted), eventlog.SeverityInfo, eventlog.RunCompletedPayload{
		TotalCostCents: breakdown.TotalCents,
		ArtifactCount:  len(r.Artifacts),
		DurationMs:     durationMs,
	})
	stored, err := o.deps.Events.Append(ctx, completedEv)
	if err != nil {
		return fmt.Errorf("orchestrator: append run.completed: %w", err)
	}
	if err := o.deps.Runs.SetLastEventSeq(ctx, runID, stored.Seq); err != nil {
		return fmt.Errorf("orchestrator: persist last_event_seq: %w", err)
	}

	o.deps.Errors.ClearRun(runID)
	o.deps.Stalls.ClearRun(runID)

	o.mu.Lock()
	o.internal = InternalStopping
	o.mu.Unlock()

	o.stop(ctx, stopOutcomeCompleted)
	return nil
}
