package errorhandler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/runcontrolplane/rcp/eventlog/inmem"
	"github.com/runcontrolplane/rcp/statemachine"
)

type fakeSnapshotter struct {
	snap statemachine.Snapshot
}

func (f fakeSnapshotter) Snapshot(_ context.Context, _ string) (statemachine.Snapshot, error) {
	return f.snap, nil
}

func TestHandleErrorRetriesUpToPolicyLimit(t *testing.T) {
	events := inmem.New()
	machine := statemachine.New(events)
	runs := fakeSnapshotter{snap: statemachine.Snapshot{RunID: "run-1", State: statemachine.StateExecuting}}
	h := New(machine, events, runs)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		res, err := h.HandleError(ctx, "run-1", CategoryTransient, "NetworkError", "connection reset", PartialInputs{})
		require.NoError(t, err)
		require.True(t, res.ShouldRetry, "attempt %d should still retry", i)
		require.Nil(t, res.NewState)
	}

	res, err := h.HandleError(ctx, "run-1", CategoryTransient, "NetworkError", "connection reset", PartialInputs{LastPhase: "executing"})
	require.NoError(t, err)
	require.False(t, res.ShouldRetry)
	require.NotNil(t, res.NewState)
	require.Equal(t, statemachine.StateFailed, *res.NewState)
	require.NotNil(t, res.PartialResults)
}

func TestHandleErrorZeroRetryCategoryFailsImmediately(t *testing.T) {
	events := inmem.New()
	machine := statemachine.New(events)
	runs := fakeSnapshotter{snap: statemachine.Snapshot{RunID: "run-1", State: statemachine.StateExecuting}}
	h := New(machine, events, runs)

	res, err := h.HandleError(context.Background(), "run-1", CategoryContractViolation, "PolicyError", "blocked tool invoked", PartialInputs{LastPhase: "executing"})
	require.NoError(t, err)
	require.False(t, res.ShouldRetry)
	require.Equal(t, statemachine.StateFailed, *res.NewState)
}

func TestClearRunDropsAttemptCounters(t *testing.T) {
	events := inmem.New()
	machine := statemachine.New(events)
	runs := fakeSnapshotter{snap: statemachine.Snapshot{RunID: "run-1", State: statemachine.StateExecuting}}
	h := New(machine, events, runs)
	ctx := context.Background()

	_, err := h.HandleError(ctx, "run-1", CategoryTransient, "NetworkError", "connection reset", PartialInputs{})
	require.NoError(t, err)
	require.Equal(t, 1, h.attempts[attemptKey{runID: "run-1", category: CategoryTransient}])

	h.ClearRun("run-1")
	require.Equal(t, 0, h.attempts[attemptKey{runID: "run-1", category: CategoryTransient}])
}
