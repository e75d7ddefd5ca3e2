// Package run implements the Run Store of spec §4 "Run/Event Store": the
// canonical Run record, artifact manifests, and the approval audit log,
// all owned exclusively by this package's Store implementations (spec §5:
// "the Run Store is the only writer of run rows").
package run

import (
	"time"

	"github.com/runcontrolplane/rcp/contract"
	"github.com/runcontrolplane/rcp/cost"
	"github.com/runcontrolplane/rcp/statemachine"
)

// ExecutionEnv records the sandbox backing a run's execution (spec §3).
type ExecutionEnv struct {
	SandboxID string
	CreatedAt time.Time
}

// Error is a run's terminal error record (spec §3).
type Error struct {
	Kind        string
	Message     string
	Recoverable bool
}

// Run is the durable record of one execution of a templated agent against
// a user goal (spec §3). It is created by the orchestrator, mutated only
// through the Run Store, and destroyed only by explicit Delete.
type Run struct {
	RunID           string
	WorkspaceID     string
	TemplateID      string
	TemplateVersion string

	// Contract is frozen at run start (spec §3: "Contract. Frozen at run
	// start").
	Contract contract.Contract

	ExecutionEnv *ExecutionEnv

	State         statemachine.State
	PreviousState *statemachine.State

	CreatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
	UpdatedAt   time.Time

	// LastEventSeq is -1 before any event has been appended for this run.
	LastEventSeq int64

	Cost cost.Breakdown

	Artifacts []ArtifactManifest

	TerminalError *Error
}

// ArtifactKind and PreviewKind are free-form strings per spec §3; the
// Contract's deliverable "kind" field shares the same vocabulary.
type (
	ArtifactStatus string
)

const (
	ArtifactDraft   ArtifactStatus = "draft"
	ArtifactFinal   ArtifactStatus = "final"
	ArtifactPartial ArtifactStatus = "partial"
)

// ArtifactManifest is a reference to one deliverable artifact produced by
// a run (spec §3). The Run Store owns the manifest by reference; the
// bytes live in the external vault/sandbox.
type ArtifactManifest struct {
	ArtifactID      string
	RunID           string
	ArtifactKind    string
	Mime            string
	PreviewKind     string
	DestinationPath string
	SHA256          string
	SizeBytes       int64
	CreatedAt       time.Time
	Status          ArtifactStatus
}
