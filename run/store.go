package run

import (
	"context"
	"errors"
	"time"

	"github.com/runcontrolplane/rcp/approval"
	"github.com/runcontrolplane/rcp/contract"
	"github.com/runcontrolplane/rcp/cost"
	"github.com/runcontrolplane/rcp/statemachine"
)

// ErrNotFound is returned when a run id has no record.
var ErrNotFound = errors.New("run: not found")

// CreateInput is the caller-supplied data for a new Run (spec §4.7's
// Orchestrator.Start: "pre-run validate contract ... create run row").
type CreateInput struct {
	RunID           string
	WorkspaceID     string
	TemplateID      string
	TemplateVersion string
	Contract        contract.Contract
}

// StateUpdate is the new state pair to persist after a successful
// statemachine.Transition (spec §4.2).
type StateUpdate struct {
	State         statemachine.State
	PreviousState *statemachine.State
}

// Store is the Run Store of spec §4 "Run/Event Store": the sole writer of
// run rows (spec §5), wrapping the event log's view of a run's lifecycle
// with durable metadata, artifacts, and the approval audit log.
//
// Store satisfies both errorhandler.Snapshotter and approval.Snapshotter
// (the narrow Snapshot(ctx, runID) method) and approval.AuditSink
// (AppendAudit), per REDESIGN FLAGS §9: those components depend on this
// single typed interface rather than opaque getRun/updateRun callbacks.
type Store interface {
	// Create inserts a new run row in StatePending. Fails if RunID
	// already exists.
	Create(ctx context.Context, in CreateInput) (*Run, error)

	// Get returns the full run record, or ErrNotFound.
	Get(ctx context.Context, runID string) (*Run, error)

	// Snapshot returns just the state-machine-relevant fields, used by
	// statemachine.Machine.Transition/Apply callers.
	Snapshot(ctx context.Context, runID string) (statemachine.Snapshot, error)

	// UpdateState persists a state transition already validated and
	// event-logged by statemachine.Machine. Callers must not call this
	// without first calling Machine.Transition/Apply successfully (spec
	// §4.2: state change and event are a single transaction; the event
	// append happens inside the machine, this call happens right after
	// and must not itself fail for reasons the machine could have
	// caught).
	UpdateState(ctx context.Context, runID string, upd StateUpdate) error

	// MarkStarted records StartedAt and the execution environment,
	// called once during Orchestrator.Start.
	MarkStarted(ctx context.Context, runID string, env ExecutionEnv) error

	// MarkCompleted records CompletedAt.
	MarkCompleted(ctx context.Context, runID string) error

	// SetLastEventSeq updates the cached last_event_seq. The orchestrator
	// calls it after the phase.changed events of its own transitions and
	// after run.started and run.completed; other appends (tool, drift,
	// artifact and checkpoint events, and transitions made by the approval
	// service or error handler) do not update it.
	SetLastEventSeq(ctx context.Context, runID string, seq int64) error

	// UpdateCost persists a new cost breakdown, called after every
	// successful cost.Tracker.AddCost.
	UpdateCost(ctx context.Context, runID string, breakdown cost.Breakdown) error

	// AddArtifact appends an artifact manifest to the run's artifact
	// list.
	AddArtifact(ctx context.Context, runID string, artifact ArtifactManifest) error

	// SetTerminalError records the run's terminal error, called by the
	// error handler alongside its failed-state transition.
	SetTerminalError(ctx context.Context, runID string, err Error) error

	// AppendAudit persists one approval audit record (approval.AuditSink).
	AppendAudit(ctx context.Context, rec approval.AuditRecord) error

	// ListAudit returns every audit record for a run, oldest first.
	ListAudit(ctx context.Context, runID string) ([]approval.AuditRecord, error)

	// Delete permanently removes a run and its audit trail. Used only by
	// test/cleanup paths (spec §3: "destroyed only by explicit delete
	// (tests/cleanup)").
	Delete(ctx context.Context, runID string) error
}

// Now is overridable in tests; production callers should not need to
// touch it.
var Now = func() time.Time { return time.Now().UTC() }
