package statemachine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/runcontrolplane/rcp/eventlog"
	"github.com/runcontrolplane/rcp/eventlog/inmem"
)

func TestTransitionAllowsTableEdge(t *testing.T) {
	t.Parallel()
	m := New(inmem.New())
	snap := Snapshot{RunID: "run-1", State: StatePlanning}

	res, err := m.Transition(context.Background(), snap, StateExecuting, "advance")
	require.NoError(t, err)
	require.Equal(t, StateExecuting, res.State)
	require.Nil(t, res.PreviousState)
	payload, ok := res.Event.Payload.(eventlog.PhaseChangedPayload)
	require.True(t, ok)
	require.Equal(t, "planning", payload.From)
	require.Equal(t, "executing", payload.To)
}

func TestTransitionRejectsEdgeNotInTable(t *testing.T) {
	t.Parallel()
	m := New(inmem.New())
	snap := Snapshot{RunID: "run-1", State: StatePending}

	_, err := m.Transition(context.Background(), snap, StatePackaging, "skip")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestTransitionRejectsTerminalState(t *testing.T) {
	t.Parallel()
	m := New(inmem.New())
	snap := Snapshot{RunID: "run-1", State: StateCompleted}

	_, err := m.Transition(context.Background(), snap, StatePending, "whatever")
	require.ErrorIs(t, err, ErrTerminalState)
}

func TestTransitionIntoPausedRecordsPreviousState(t *testing.T) {
	t.Parallel()
	m := New(inmem.New())
	snap := Snapshot{RunID: "run-1", State: StateExecuting}

	res, err := m.Transition(context.Background(), snap, StatePaused, "user_paused")
	require.NoError(t, err)
	require.Equal(t, StatePaused, res.State)
	require.NotNil(t, res.PreviousState)
	require.Equal(t, StateExecuting, *res.PreviousState)
}

func TestApplyResumeRequiresPreviousStateMatch(t *testing.T) {
	t.Parallel()
	m := New(inmem.New())
	prev := StateVerifying
	snap := Snapshot{RunID: "run-1", State: StatePaused, PreviousState: &prev}

	res, err := m.Apply(context.Background(), snap, ActionResume, "")
	require.NoError(t, err)
	require.Equal(t, StateVerifying, res.State)
	require.Nil(t, res.PreviousState)
}

func TestApplyPauseRejectsNonResumableState(t *testing.T) {
	t.Parallel()
	m := New(inmem.New())
	snap := Snapshot{RunID: "run-1", State: StatePackaging}

	_, err := m.Apply(context.Background(), snap, ActionPause, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApplyRejectMapsReasonToTargetState(t *testing.T) {
	t.Parallel()
	m := New(inmem.New())
	prev := StatePlanning

	cases := []struct {
		reason RejectReason
		want   State
	}{
		{ReasonUserCancelled, StateCancelled},
		{ReasonNeedsEdit, StatePaused},
		{ReasonPolicyViolation, StateFailed},
	}
	for _, tc := range cases {
		snap := Snapshot{RunID: "run-1", State: StateAwaitingApproval, PreviousState: &prev}
		res, err := m.Apply(context.Background(), snap, ActionReject, tc.reason)
		require.NoError(t, err)
		require.Equal(t, tc.want, res.State)
	}
}

func TestApplyRetryResetsTerminalRunToPending(t *testing.T) {
	t.Parallel()
	m := New(inmem.New())

	for _, s := range []State{StateFailed, StateCancelled, StateTimeout} {
		snap := Snapshot{RunID: "run-1", State: s}
		res, err := m.Apply(context.Background(), snap, ActionRetry, "")
		require.NoError(t, err)
		require.Equal(t, StatePending, res.State)
	}
}

func TestApplyRetryRejectsNonTerminalState(t *testing.T) {
	t.Parallel()
	m := New(inmem.New())
	snap := Snapshot{RunID: "run-1", State: StatePlanning}

	_, err := m.Apply(context.Background(), snap, ActionRetry, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestApplyApproveRequiresAwaitingApproval(t *testing.T) {
	t.Parallel()
	m := New(inmem.New())
	snap := Snapshot{RunID: "run-1", State: StatePlanning}

	_, err := m.Apply(context.Background(), snap, ActionApprove, "")
	require.ErrorIs(t, err, ErrInvalidTransition)
}

func TestSwitchingBetweenSuspendStatesPreservesPreviousState(t *testing.T) {
	t.Parallel()
	m := New(inmem.New())
	prev := StateExecuting
	snap := Snapshot{RunID: "run-1", State: StateAwaitingApproval, PreviousState: &prev}

	res, err := m.Transition(context.Background(), snap, StatePaused, "switch_to_paused")
	require.NoError(t, err)
	require.Equal(t, StatePaused, res.State)
	require.NotNil(t, res.PreviousState)
	require.Equal(t, StateExecuting, *res.PreviousState)
}
