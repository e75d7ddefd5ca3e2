package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"

	"github.com/runcontrolplane/rcp/contract"
	"github.com/runcontrolplane/rcp/errorhandler"
	"github.com/runcontrolplane/rcp/eventlog"
	"github.com/runcontrolplane/rcp/run"
	"github.com/runcontrolplane/rcp/statemachine"
)

// StartOptions is the caller-supplied basis for starting a new run (spec
// §4.7's Start sequence). RawDocument, if non-empty, is checked against the
// contract wire schema (spec §4.3 pre-run item 1) before the three
// semantic checks run against Contract; callers that already validated the
// wire document upstream (the template catalog, an external collaborator
// per spec §1) may leave it nil and rely on the semantic checks alone.
type StartOptions struct {
	RunID           string
	WorkspaceID     string
	TemplateID      string
	TemplateVersion string
	Contract        contract.Contract
	RawDocument     []byte
	InputFiles      []string
}

// Start implements spec §4.7's Start sequence: pre-run validate the
// contract (abort on any error-severity issue), create the run row,
// transition pending -> initializing, provision a sandbox, mark the run
// started, emit run.started, transition -> planning, begin the periodic
// approval-timeout driver, and return the created Run.
//
// Per spec §9 REDESIGN FLAGS this implementation logs a phase.changed
// event for every state-machine transition, including pending ->
// initializing, rather than treating the pre-planning bootstrap as
// event-log-invisible bookkeeping: spec §4.2 states "every successful
// transition emits a phase.changed event" without exception, and spec §8's
// quantified invariants (gap-free seq, edges table membership) hold
// regardless of the absolute seq numbers a walkthrough assigns. The
// consequence is that the illustrative seq numbers in spec §8 scenario 1
// (run.started at seq 0) shift by one: the pending->initializing event
// takes seq 0, so run.started lands at seq 1; the ordering and event
// vocabulary those numbers illustrate are unaffected.
func (o *Orchestrator) Start(ctx context.Context, opts StartOptions) (*run.Run, error) {
	o.mu.Lock()
	if err := o.checkInternal("Start", InternalIdle); err != nil {
		o.mu.Unlock()
		return nil, err
	}
	o.mu.Unlock()

	var issues []contract.Issue
	if len(opts.RawDocument) > 0 {
		if err := contract.ValidateDocument(opts.RawDocument); err != nil {
			issues = append(issues, contract.Issue{Severity: contract.IssueError, Code: "schema", Message: err.Error()})
		}
	}
	issues = append(issues, contract.PreRun(opts.Contract)...)
	if contract.HasErrors(issues) {
		return nil, &ContractRejectedError{Issues: issues}
	}

	runID := opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}

	if _, err := o.deps.Runs.Create(ctx, run.CreateInput{
		RunID:           runID,
		WorkspaceID:     opts.WorkspaceID,
		TemplateID:      opts.TemplateID,
		TemplateVersion: opts.TemplateVersion,
		Contract:        opts.Contract,
	}); err != nil {
		return nil, fmt.Errorf("orchestrator: create run: %w", err)
	}

	o.mu.Lock()
	o.runID = runID
	o.frozenContract = opts.Contract
	o.internal = InternalStarting
	o.phaseStart = run.Now()
	o.phaseDurations = make(map[statemachine.State]time.Duration)
	o.toolCallCount = 0
	o.toolCallDurSum = 0
	o.mu.Unlock()

	if _, err := o.transition(ctx, statemachine.StateInitializing, "start"); err != nil {
		return nil, fmt.Errorf("orchestrator: transition to initializing: %w", err)
	}

	spanCtx, span := o.deps.Tracer.Start(ctx, "orchestrator.provision_sandbox")
	env, err := o.deps.Sandbox.Provision(spanCtx, ProvisionRequest{
		RunID:       runID,
		WorkspaceID: opts.WorkspaceID,
		TemplateID:  opts.TemplateID,
		InputFiles:  opts.InputFiles,
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.End()
		if _, herr := o.HandleError(ctx, errorhandler.CategorySandboxCrash, "SandboxProvisionError", err.Error(),
			errorhandler.PartialInputs{LastPhase: string(statemachine.StateInitializing)}); herr != nil {
			return nil, herr
		}
		return nil, fmt.Errorf("orchestrator: provision sandbox: %w", err)
	}
	span.End()

	if err := o.deps.Runs.MarkStarted(ctx, runID, run.ExecutionEnv{SandboxID: env.SandboxID, CreatedAt: env.CreatedAt}); err != nil {
		return nil, fmt.Errorf("orchestrator: mark started: %w", err)
	}

	startedEv := eventlog.NewEvent(runID, string(statemachine.StateInitializing), eventlog.SeverityInfo, eventlog.RunStartedPayload{
		WorkspaceID: opts.WorkspaceID,
		TemplateID:  opts.TemplateID,
		Goal:        opts.Contract.Goal,
		SandboxID:   env.SandboxID,
	})
	stored, err := o.deps.Events.Append(ctx, startedEv)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: append run.started: %w", err)
	}
	if err := o.deps.Runs.SetLastEventSeq(ctx, runID, stored.Seq); err != nil {
		return nil, fmt.Errorf("orchestrator: persist last_event_seq: %w", err)
	}

	if _, err := o.transition(ctx, statemachine.StatePlanning, "start"); err != nil {
		return nil, fmt.Errorf("orchestrator: transition to planning: %w", err)
	}

	o.mu.Lock()
	o.internal = InternalRunning
	o.phaseStart = run.Now()
	o.mu.Unlock()

	o.startApprovalDriver()

	return o.deps.Runs.Get(ctx, runID)
}
