package orchestrator

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runcontrolplane/rcp/approval"
	approvalinmem "github.com/runcontrolplane/rcp/approval/inmem"
	"github.com/runcontrolplane/rcp/contract"
	"github.com/runcontrolplane/rcp/cost"
	costinmem "github.com/runcontrolplane/rcp/cost/inmem"
	"github.com/runcontrolplane/rcp/errorhandler"
	"github.com/runcontrolplane/rcp/eventlog"
	eventinmem "github.com/runcontrolplane/rcp/eventlog/inmem"
	"github.com/runcontrolplane/rcp/run"
	runinmem "github.com/runcontrolplane/rcp/run/inmem"
	"github.com/runcontrolplane/rcp/statemachine"
)

// fakeSandbox is a minimal in-process Sandbox for orchestrator tests.
type fakeSandbox struct {
	mu        sync.Mutex
	killed    bool
	shutdown  bool
	artifacts []ArtifactBytes
}

func (f *fakeSandbox) Provision(_ context.Context, req ProvisionRequest) (*SandboxEnv, error) {
	return &SandboxEnv{SandboxID: "sbx-" + req.RunID, CreatedAt: run.Now()}, nil
}

func (f *fakeSandbox) ExecuteTool(_ context.Context, call ToolCall) (*ToolCallResult, error) {
	return &ToolCallResult{Success: true, Duration: time.Millisecond}, nil
}

func (f *fakeSandbox) ExtractArtifacts(_ context.Context) ([]ArtifactBytes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.artifacts, nil
}

func (f *fakeSandbox) ForceKill(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.killed = true
	return nil
}

func (f *fakeSandbox) Shutdown(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.shutdown = true
	return nil
}

// fakeVault is an in-memory Vault for orchestrator tests.
type fakeVault struct {
	mu    sync.Mutex
	files map[string][]byte
}

func newFakeVault() *fakeVault { return &fakeVault{files: make(map[string][]byte)} }

func (v *fakeVault) Write(_ context.Context, path string, content []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.files[path] = content
	return nil
}

func (v *fakeVault) Exists(_ context.Context, path string) (bool, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	_, ok := v.files[path]
	return ok, nil
}

// harness bundles a freshly wired Orchestrator with direct access to its
// collaborators so tests can assert on the event log and run row.
type harness struct {
	orch    *Orchestrator
	events  eventlog.Store
	runs    run.Store
	sandbox *fakeSandbox
	vault   *fakeVault
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	events := eventinmem.New()
	machine := statemachine.New(events)
	runs := runinmem.New()
	registry := approvalinmem.New()
	approvals := approval.New(machine, events, registry, runs, runs)
	errHandler := errorhandler.New(machine, events, runs)
	stalls := errorhandler.NewStallDetector(time.Minute)
	tracker := cost.New(costinmem.NewEntryStore(), costinmem.NewCounters(), cost.DefaultRates())
	sandbox := &fakeSandbox{}
	vault := newFakeVault()

	o := New(Deps{
		Runs:                 runs,
		Events:               events,
		Machine:              machine,
		Approvals:            approvals,
		Registry:             registry,
		Costs:                tracker,
		Budget:               cost.Budget{},
		Errors:               errHandler,
		Stalls:               stalls,
		Validators:           contract.NewCustomValidatorRegistry(),
		Sandbox:              sandbox,
		Vault:                vault,
		ApprovalPollInterval: 20 * time.Millisecond,
	})

	return &harness{orch: o, events: events, runs: runs, sandbox: sandbox, vault: vault}
}

func minimalContract() contract.Contract {
	return contract.Contract{
		Goal: "write a summary",
		ToolPolicy: contract.ToolPolicy{
			Allowed: []string{"read_file"},
		},
		Deliverables: []contract.Deliverable{
			{ID: "d1", Kind: "markdown", DestinationPattern: "outputs/{run_id}.md", Required: true},
		},
	}
}

func TestStartDrivesPendingToPlanning(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	r, err := h.orch.Start(ctx, StartOptions{
		RunID:       "run-1",
		WorkspaceID: "ws-1",
		TemplateID:  "tmpl-1",
		Contract:    minimalContract(),
	})
	require.NoError(t, err)
	require.Equal(t, statemachine.StatePlanning, r.State)
	require.Nil(t, r.PreviousState)
	require.Equal(t, InternalRunning, h.orch.Internal())

	page, err := h.events.Query(ctx, "run-1", eventlog.QueryOptions{AfterSeq: -1, Limit: 100})
	require.NoError(t, err)
	require.False(t, page.HasMore)

	var sawStarted, sawInitializing, sawPlanning bool
	for i, ev := range page.Events {
		require.Equal(t, int64(i), ev.Seq)
		switch p := ev.Payload.(type) {
		case eventlog.RunStartedPayload:
			sawStarted = true
		case eventlog.PhaseChangedPayload:
			if p.To == string(statemachine.StateInitializing) {
				sawInitializing = true
			}
			if p.To == string(statemachine.StatePlanning) {
				sawPlanning = true
			}
		}
	}
	require.True(t, sawStarted, "expected a run.started event")
	require.True(t, sawInitializing, "expected a phase.changed into initializing")
	require.True(t, sawPlanning, "expected a phase.changed into planning")

	h.orch.stopApprovalDriver()
}

func TestStartRejectsContractWithToolPolicyConflict(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	bad := minimalContract()
	bad.ToolPolicy.Blocked = []string{"read_file"}

	_, err := h.orch.Start(ctx, StartOptions{RunID: "run-bad", WorkspaceID: "ws-1", TemplateID: "tmpl-1", Contract: bad})
	require.Error(t, err)
	var rejected *ContractRejectedError
	require.ErrorAs(t, err, &rejected)
	require.NotEmpty(t, rejected.Issues)
	require.Equal(t, InternalIdle, h.orch.Internal())
}

func TestAdvancePhaseWalksToCompletedAndWritesTrace(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Start(ctx, StartOptions{RunID: "run-2", WorkspaceID: "ws-1", TemplateID: "tmpl-1", Contract: minimalContract()})
	require.NoError(t, err)

	for _, to := range []statemachine.State{
		statemachine.StateExecuting,
		statemachine.StateVerifying,
		statemachine.StatePackaging,
		statemachine.StateCompleted,
	} {
		require.NoError(t, h.orch.AdvancePhase(ctx, "advance", false))
		r, err := h.runs.Get(ctx, "run-2")
		require.NoError(t, err)
		require.Equal(t, to, r.State)
	}

	require.Equal(t, InternalStopped, h.orch.Internal())

	h.vault.mu.Lock()
	defer h.vault.mu.Unlock()
	var sawMD, sawJSONL bool
	for path := range h.vault.files {
		if len(path) > 3 && path[len(path)-3:] == ".md" {
			sawMD = true
		}
		if len(path) > 6 && path[len(path)-6:] == ".jsonl" {
			sawJSONL = true
		}
	}
	require.True(t, sawMD, "expected a trace markdown file")
	require.True(t, sawJSONL, "expected a trace jsonl file")
}

func TestToolCallGateRejectsBlockedTool(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	c := minimalContract()
	c.ToolPolicy.Allowed = nil
	c.ToolPolicy.Blocked = []string{"shell"}

	_, err := h.orch.Start(ctx, StartOptions{RunID: "run-3", WorkspaceID: "ws-1", TemplateID: "tmpl-1", Contract: c})
	require.NoError(t, err)
	require.NoError(t, h.orch.AdvancePhase(ctx, "advance", false)) // planning -> executing

	err = h.orch.ValidateToolCall(ctx, ToolCall{ToolName: "shell"})
	require.Error(t, err)
	var rejected *ErrToolCallRejected
	require.ErrorAs(t, err, &rejected)
	require.Equal(t, contract.DriftUnauthorizedTool, rejected.Violation.DriftType)

	r, err := h.runs.Get(ctx, "run-3")
	require.NoError(t, err)
	require.Equal(t, statemachine.StateFailed, r.State)
	require.NotNil(t, r.TerminalError)
	require.Equal(t, string(errorhandler.CategoryContractViolation), r.TerminalError.Kind)

	page, err := h.events.Query(ctx, "run-3", eventlog.QueryOptions{AfterSeq: -1, Types: []eventlog.EventType{eventlog.TypeDriftDetected}})
	require.NoError(t, err)
	require.Len(t, page.Events, 1)
}

func TestApprovalGrantResumesExecuting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Start(ctx, StartOptions{RunID: "run-4", WorkspaceID: "ws-1", TemplateID: "tmpl-1", Contract: minimalContract()})
	require.NoError(t, err)
	require.NoError(t, h.orch.AdvancePhase(ctx, "advance", false)) // planning -> executing

	_, err = h.orch.RequestApproval(ctx, approval.RequestOptions{
		CheckpointID:   "cp1",
		ActionType:     "send_email",
		TimeoutSeconds: 60,
		TimeoutAction:  contract.ApprovalActionReject,
	})
	require.NoError(t, err)

	r, err := h.runs.Get(ctx, "run-4")
	require.NoError(t, err)
	require.Equal(t, statemachine.StateAwaitingApproval, r.State)
	require.NotNil(t, r.PreviousState)
	require.Equal(t, statemachine.StateExecuting, *r.PreviousState)

	require.NoError(t, h.orch.OnApprovalGranted(ctx, "cp1", "u1", approval.SourceWeb))

	r, err = h.runs.Get(ctx, "run-4")
	require.NoError(t, err)
	require.Equal(t, statemachine.StateExecuting, r.State)
	require.Nil(t, r.PreviousState)

	audit, err := h.runs.ListAudit(ctx, "run-4")
	require.NoError(t, err)
	require.Len(t, audit, 1)
	require.Equal(t, approval.StatusApproved, audit[0].Action)
	require.Equal(t, "u1", audit[0].ActorID)

	h.orch.stopApprovalDriver()
}

func TestCancelDuringExecutingReachesCancelled(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Start(ctx, StartOptions{RunID: "run-5", WorkspaceID: "ws-1", TemplateID: "tmpl-1", Contract: minimalContract()})
	require.NoError(t, err)
	require.NoError(t, h.orch.AdvancePhase(ctx, "advance", false)) // planning -> executing

	require.NoError(t, h.orch.Cancel(ctx))

	r, err := h.runs.Get(ctx, "run-5")
	require.NoError(t, err)
	require.Equal(t, statemachine.StateCancelled, r.State)
	require.Equal(t, InternalStopped, h.orch.Internal())
	h.sandbox.mu.Lock()
	require.True(t, h.sandbox.killed)
	h.sandbox.mu.Unlock()
}

func TestAdvancePhaseRetryVerificationReturnsToExecuting(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	_, err := h.orch.Start(ctx, StartOptions{RunID: "run-6", WorkspaceID: "ws-1", TemplateID: "tmpl-1", Contract: minimalContract()})
	require.NoError(t, err)
	require.NoError(t, h.orch.AdvancePhase(ctx, "advance", false)) // planning -> executing
	require.NoError(t, h.orch.AdvancePhase(ctx, "advance", false)) // executing -> verifying

	require.NoError(t, h.orch.AdvancePhase(ctx, "retry", true)) // verifying -> executing

	r, err := h.runs.Get(ctx, "run-6")
	require.NoError(t, err)
	require.Equal(t, statemachine.StateExecuting, r.State)

	err = h.orch.AdvancePhase(ctx, "retry", true)
	require.Error(t, err)
}
