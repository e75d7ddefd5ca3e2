// Package orchestrator implements spec §4.7: the component that owns one
// run from creation through terminal state, driving sandbox lifecycle,
// phase progression, the tool-call and approval gates, cost accounting,
// and final trace assembly. Per spec §3 ("One run is owned by one
// orchestrator instance at a time") and §5 ("Each run is bound to a single
// orchestrator"), one Orchestrator value drives exactly one run.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/runcontrolplane/rcp/approval"
	"github.com/runcontrolplane/rcp/contract"
	"github.com/runcontrolplane/rcp/cost"
	"github.com/runcontrolplane/rcp/errorhandler"
	"github.com/runcontrolplane/rcp/eventlog"
	"github.com/runcontrolplane/rcp/internal/telemetry"
	"github.com/runcontrolplane/rcp/run"
	"github.com/runcontrolplane/rcp/statemachine"
)

// Deps wires an Orchestrator to its collaborators, following the teacher's
// Options-struct convention (registry.ServiceOptions, mongostore.Options)
// rather than a global config singleton.
type Deps struct {
	Runs       run.Store
	Events     eventlog.Store
	Machine    *statemachine.Machine
	Approvals  *approval.Service
	Registry   approval.Registry
	Costs      *cost.Tracker
	Budget     cost.Budget
	Errors     *errorhandler.Handler
	Stalls     *errorhandler.StallDetector
	Validators *contract.CustomValidatorRegistry
	Sandbox    Sandbox
	Vault      Vault

	// TraceDir and OutputDir root the trace bundle (spec §6 "Trace file
	// layout") and artifact layout (spec §6 "Artifact layout") writers.
	// Default to "traces" and "outputs" when empty.
	TraceDir  string
	OutputDir string

	// ApprovalPollInterval is the approval-timeout driver's tick period.
	// Defaults to 5s (spec §4.7: "begin the periodic approval-timeout
	// driver (every ~5s)").
	ApprovalPollInterval time.Duration

	Logger  telemetry.Logger
	Metrics telemetry.Metrics
	Tracer  telemetry.Tracer
}

func (d Deps) withDefaults() Deps {
	if d.TraceDir == "" {
		d.TraceDir = "traces"
	}
	if d.OutputDir == "" {
		d.OutputDir = "outputs"
	}
	if d.ApprovalPollInterval <= 0 {
		d.ApprovalPollInterval = 5 * time.Second
	}
	if d.Logger == nil {
		d.Logger = telemetry.NoopLogger{}
	}
	if d.Metrics == nil {
		d.Metrics = telemetry.NoopMetrics{}
	}
	if d.Tracer == nil {
		d.Tracer = telemetry.NoopTracer{}
	}
	return d
}

// Orchestrator drives a single run through its lifecycle (spec §4.7).
type Orchestrator struct {
	deps Deps

	mu       sync.Mutex
	runID    string
	internal InternalState

	// frozenContract is the contract snapshotted at Start; it never
	// changes for the lifetime of the run (spec §3: "Contract. Frozen at
	// run start").
	frozenContract contract.Contract

	// preSuspendState is the resumable state (planning/executing/
	// verifying) the run was in when it entered awaiting_approval or
	// paused; restored on resume. Mirrors the run row's previous_state
	// but is cached here so the approval-timeout driver and the
	// On* callbacks do not need a store round-trip to learn it.
	preSuspendState *statemachine.State

	pendingCheckpointID string
	phaseStart          time.Time

	driverCancel context.CancelFunc
	driverDone   chan struct{}

	toolCallCount  int
	toolCallDurSum time.Duration
	phaseDurations map[statemachine.State]time.Duration

	// calibrationSeeds accumulates seeds supplied via AddCalibrationSeed
	// for the trace bundle's "calibration seeds if provided" section
	// (spec §4.7 Cleanup). Empty unless a caller adds one.
	calibrationSeeds []CalibrationSeed
}

// New builds an Orchestrator over the given dependencies. The returned
// value is idle until Start is called.
func New(deps Deps) *Orchestrator {
	return &Orchestrator{
		deps:           deps.withDefaults(),
		internal:       InternalIdle,
		phaseDurations: make(map[statemachine.State]time.Duration),
	}
}

// ErrWrongInternalState is returned when an operation is attempted while
// the orchestrator's internal state does not permit it.
type ErrWrongInternalState struct {
	Op   string
	Have InternalState
	Want []InternalState
}

func (e *ErrWrongInternalState) Error() string {
	return fmt.Sprintf("orchestrator: %s: invalid in state %s (want one of %v)", e.Op, e.Have, e.Want)
}

func (o *Orchestrator) checkInternal(op string, want ...InternalState) error {
	for _, w := range want {
		if o.internal == w {
			return nil
		}
	}
	return &ErrWrongInternalState{Op: op, Have: o.internal, Want: want}
}

// Internal returns the orchestrator's current internal state.
func (o *Orchestrator) Internal() InternalState {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.internal
}

// RunID returns the run this orchestrator owns, empty before Start.
func (o *Orchestrator) RunID() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.runID
}

func (o *Orchestrator) snapshot(ctx context.Context) (statemachine.Snapshot, error) {
	return o.deps.Runs.Snapshot(ctx, o.runID)
}
