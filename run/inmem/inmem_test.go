package inmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/runcontrolplane/rcp/approval"
	"github.com/runcontrolplane/rcp/contract"
	"github.com/runcontrolplane/rcp/cost"
	"github.com/runcontrolplane/rcp/run"
	"github.com/runcontrolplane/rcp/statemachine"
)

func TestCreateAndGetRoundTrips(t *testing.T) {
	s := New()
	ctx := context.Background()

	r, err := s.Create(ctx, run.CreateInput{
		RunID:       "run-1",
		WorkspaceID: "ws-1",
		Contract:    contract.Contract{Goal: "ship the feature"},
	})
	require.NoError(t, err)
	require.Equal(t, statemachine.StatePending, r.State)
	require.Equal(t, int64(-1), r.LastEventSeq)

	got, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, "ship the feature", got.Contract.Goal)
}

func TestCreateRejectsDuplicateRunID(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Create(ctx, run.CreateInput{RunID: "run-1"})
	require.NoError(t, err)

	_, err = s.Create(ctx, run.CreateInput{RunID: "run-1"})
	require.Error(t, err)
}

func TestGetUnknownRunReturnsNotFound(t *testing.T) {
	s := New()
	_, err := s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, run.ErrNotFound)
}

func TestUpdateStateMutatesSnapshot(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Create(ctx, run.CreateInput{RunID: "run-1"})
	require.NoError(t, err)

	prev := statemachine.StateExecuting
	require.NoError(t, s.UpdateState(ctx, "run-1", run.StateUpdate{State: statemachine.StatePaused, PreviousState: &prev}))

	snap, err := s.Snapshot(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, statemachine.StatePaused, snap.State)
	require.Equal(t, statemachine.StateExecuting, *snap.PreviousState)
}

func TestMarkStartedAndCompleted(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Create(ctx, run.CreateInput{RunID: "run-1"})
	require.NoError(t, err)

	require.NoError(t, s.MarkStarted(ctx, "run-1", run.ExecutionEnv{SandboxID: "sbx-1"}))
	r, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, r.StartedAt)
	require.Equal(t, "sbx-1", r.ExecutionEnv.SandboxID)

	require.NoError(t, s.MarkCompleted(ctx, "run-1"))
	r, err = s.Get(ctx, "run-1")
	require.NoError(t, err)
	require.NotNil(t, r.CompletedAt)
}

func TestAddArtifactAppends(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Create(ctx, run.CreateInput{RunID: "run-1"})
	require.NoError(t, err)

	require.NoError(t, s.AddArtifact(ctx, "run-1", run.ArtifactManifest{ArtifactID: "a1", Status: run.ArtifactFinal}))
	r, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, r.Artifacts, 1)
	require.Equal(t, "a1", r.Artifacts[0].ArtifactID)
}

func TestSetTerminalErrorAndUpdateCost(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Create(ctx, run.CreateInput{RunID: "run-1"})
	require.NoError(t, err)

	require.NoError(t, s.SetTerminalError(ctx, "run-1", run.Error{Kind: "timeout", Message: "deadline exceeded"}))
	require.NoError(t, s.UpdateCost(ctx, "run-1", cost.Breakdown{TotalCents: 500}))

	r, err := s.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, "timeout", r.TerminalError.Kind)
	require.Equal(t, int64(500), r.Cost.TotalCents)
}

func TestAuditAppendAndList(t *testing.T) {
	s := New()
	ctx := context.Background()
	require.NoError(t, s.AppendAudit(ctx, approval.AuditRecord{AuditID: "a1", RunID: "run-1", Action: approval.StatusApproved}))
	require.NoError(t, s.AppendAudit(ctx, approval.AuditRecord{AuditID: "a2", RunID: "run-1", Action: approval.StatusRejected}))

	recs, err := s.ListAudit(ctx, "run-1")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "a1", recs[0].AuditID)
}

func TestDeleteRemovesRunAndAudit(t *testing.T) {
	s := New()
	ctx := context.Background()
	_, err := s.Create(ctx, run.CreateInput{RunID: "run-1"})
	require.NoError(t, err)
	require.NoError(t, s.AppendAudit(ctx, approval.AuditRecord{AuditID: "a1", RunID: "run-1"}))

	require.NoError(t, s.Delete(ctx, "run-1"))

	_, err = s.Get(ctx, "run-1")
	require.ErrorIs(t, err, run.ErrNotFound)
	recs, err := s.ListAudit(ctx, "run-1")
	require.NoError(t, err)
	require.Empty(t, recs)
}
