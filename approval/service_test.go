package approval

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runcontrolplane/rcp/approval/inmem"
	"github.com/runcontrolplane/rcp/contract"
	"github.com/runcontrolplane/rcp/eventlog"
	eventinmem "github.com/runcontrolplane/rcp/eventlog/inmem"
	"github.com/runcontrolplane/rcp/statemachine"
)

type fakeAuditSink struct {
	mu      sync.Mutex
	records []AuditRecord
}

func (f *fakeAuditSink) AppendAudit(_ context.Context, rec AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

type fakeRuns struct {
	mu    sync.Mutex
	snaps map[string]statemachine.Snapshot
}

func newFakeRuns(runID string, state statemachine.State) *fakeRuns {
	return &fakeRuns{snaps: map[string]statemachine.Snapshot{runID: {RunID: runID, State: state}}}
}

func (f *fakeRuns) Snapshot(_ context.Context, runID string) (statemachine.Snapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snaps[runID], nil
}

func newTestService(runID string, state statemachine.State) (*Service, *fakeRuns, *fakeAuditSink, eventlog.Store) {
	events := eventinmem.New()
	machine := statemachine.New(events)
	registry := inmem.New()
	audit := &fakeAuditSink{}
	runs := newFakeRuns(runID, state)

	svc := New(machine, events, registry, audit, runs)

	// The service does not update the fake run store's snapshot; tests that
	// need a later state set it explicitly with runs.set.
	return svc, runs, audit, events
}

func (f *fakeRuns) set(runID string, state statemachine.State, prev *statemachine.State) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snaps[runID] = statemachine.Snapshot{RunID: runID, State: state, PreviousState: prev}
}

func TestRequestApprovalTransitionsToAwaitingApproval(t *testing.T) {
	svc, runs, _, events := newTestService("run-1", statemachine.StateExecuting)

	p, err := svc.RequestApproval(context.Background(), "run-1", RequestOptions{
		CheckpointID:   "cp-1",
		ActionType:     "deploy",
		TimeoutSeconds: 60,
		TimeoutAction:  contract.ApprovalActionReject,
	})
	require.NoError(t, err)
	require.Equal(t, StatusPending, p.Status)
	require.Equal(t, "executing", p.RequestedFromPhase)

	page, err := events.Query(context.Background(), "run-1", eventlog.QueryOptions{AfterSeq: -1, Types: []eventlog.EventType{eventlog.TypePhaseChanged}})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
	require.Equal(t, string(statemachine.StateAwaitingApproval), page.Events[0].Payload.(eventlog.PhaseChangedPayload).To)

	snap, _ := runs.Snapshot(context.Background(), "run-1")
	_ = snap // state mutation is applied by the orchestrator via Store.UpdateState in production; the service only calls Transition.
}

func TestRequestApprovalRejectsDuplicateCheckpoint(t *testing.T) {
	svc, _, _, _ := newTestService("run-1", statemachine.StateExecuting)
	ctx := context.Background()
	opts := RequestOptions{CheckpointID: "cp-1", TimeoutSeconds: 60}

	_, err := svc.RequestApproval(ctx, "run-1", opts)
	require.NoError(t, err)

	_, err = svc.RequestApproval(ctx, "run-1", opts)
	require.ErrorIs(t, err, ErrAlreadyPending)
}

func TestApproveTransitionsBackAndAppendsEvents(t *testing.T) {
	svc, runs, audit, events := newTestService("run-1", statemachine.StateExecuting)
	ctx := context.Background()

	_, err := svc.RequestApproval(ctx, "run-1", RequestOptions{CheckpointID: "cp-1", TimeoutSeconds: 60})
	require.NoError(t, err)

	prev := statemachine.StateExecuting
	runs.set("run-1", statemachine.StateAwaitingApproval, &prev)

	require.NoError(t, svc.Approve(ctx, "cp-1", "alice", SourceWeb))

	require.Len(t, audit.records, 1)
	require.Equal(t, StatusApproved, audit.records[0].Action)
	require.Equal(t, SourceWeb, audit.records[0].Source)

	page, err := events.Query(ctx, "run-1", eventlog.QueryOptions{AfterSeq: -1})
	require.NoError(t, err)
	var sawApproved bool
	for _, ev := range page.Events {
		if ev.Type() == eventlog.TypeCheckpointApproved {
			sawApproved = true
			payload := ev.Payload.(eventlog.CheckpointApprovedPayload)
			require.Equal(t, "web", payload.ApprovedFrom)
			require.Equal(t, "alice", payload.ActorID)
		}
	}
	require.True(t, sawApproved)
}

func TestRejectMapsReasonAndRecordsNote(t *testing.T) {
	svc, runs, audit, events := newTestService("run-1", statemachine.StateExecuting)
	ctx := context.Background()

	_, err := svc.RequestApproval(ctx, "run-1", RequestOptions{CheckpointID: "cp-1", TimeoutSeconds: 60})
	require.NoError(t, err)
	prev := statemachine.StateExecuting
	runs.set("run-1", statemachine.StateAwaitingApproval, &prev)

	require.NoError(t, svc.Reject(ctx, "cp-1", statemachine.ReasonNeedsEdit, "please revise the plan", "bob", SourceAPI))

	require.Len(t, audit.records, 1)
	require.Equal(t, "please revise the plan", audit.records[0].RejectionReason)

	page, err := events.Query(ctx, "run-1", eventlog.QueryOptions{AfterSeq: -1})
	require.NoError(t, err)
	for _, ev := range page.Events {
		if ev.Type() == eventlog.TypeCheckpointRejected {
			payload := ev.Payload.(eventlog.CheckpointRejectedPayload)
			require.Equal(t, "please revise the plan", payload.RejectionReason)
			require.Equal(t, "bob", payload.ActorID)
		}
	}
}

func TestResolveRejectsAlreadyResolvedCheckpoint(t *testing.T) {
	svc, runs, _, _ := newTestService("run-1", statemachine.StateExecuting)
	ctx := context.Background()

	_, err := svc.RequestApproval(ctx, "run-1", RequestOptions{CheckpointID: "cp-1", TimeoutSeconds: 60})
	require.NoError(t, err)
	prev := statemachine.StateExecuting
	runs.set("run-1", statemachine.StateAwaitingApproval, &prev)

	require.NoError(t, svc.Approve(ctx, "cp-1", "alice", SourceWeb))

	err = svc.Approve(ctx, "cp-1", "alice", SourceWeb)
	require.ErrorIs(t, err, ErrNotPending)
}

func TestBulkApproveProcessesMatchingInOrder(t *testing.T) {
	svc, runs, audit, _ := newTestService("run-1", statemachine.StateExecuting)
	ctx := context.Background()

	_, err := svc.RequestApproval(ctx, "run-1", RequestOptions{CheckpointID: "cp-1", ActionType: "deploy", TimeoutSeconds: 60})
	require.NoError(t, err)
	time.Sleep(time.Millisecond)
	_, err = svc.RequestApproval(ctx, "run-1", RequestOptions{CheckpointID: "cp-2", ActionType: "deploy", TimeoutSeconds: 60})
	require.NoError(t, err)

	prev := statemachine.StateExecuting
	runs.set("run-1", statemachine.StateAwaitingApproval, &prev)

	approved, errs := svc.BulkApprove(ctx, "ops", Filter{ActionType: "deploy"})
	require.Empty(t, errs)
	require.Equal(t, []string{"cp-1", "cp-2"}, approved)
	for _, rec := range audit.records {
		require.Equal(t, SourceBulk, rec.Source)
	}
}

func TestProcessTimeoutsAppliesConfiguredAction(t *testing.T) {
	svc, runs, _, events := newTestService("run-1", statemachine.StateExecuting)
	ctx := context.Background()

	_, err := svc.RequestApproval(ctx, "run-1", RequestOptions{
		CheckpointID:   "cp-1",
		TimeoutSeconds: 1,
		TimeoutAction:  contract.ApprovalActionApprove,
	})
	require.NoError(t, err)
	prev := statemachine.StateExecuting
	runs.set("run-1", statemachine.StateAwaitingApproval, &prev)

	future := time.Now().UTC().Add(time.Hour)
	errs := svc.ProcessTimeouts(ctx, future)
	require.Empty(t, errs)

	page, err := events.Query(ctx, "run-1", eventlog.QueryOptions{AfterSeq: -1})
	require.NoError(t, err)
	var sawTimeout bool
	for _, ev := range page.Events {
		if ev.Type() == eventlog.TypeCheckpointTimeout {
			sawTimeout = true
			payload := ev.Payload.(eventlog.CheckpointTimeoutPayload)
			require.Equal(t, "approve", payload.AppliedAction)
		}
	}
	require.True(t, sawTimeout)
}
