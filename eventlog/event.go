// Package eventlog implements the durable, append-only per-run event stream
// described in spec §4.1. It assigns gap-free per-run sequence numbers,
// accepts idempotent re-appends of the same event id, and exposes
// cursor-based replay via Query.
//
// Event payloads are a closed, tagged variant (spec §9 REDESIGN FLAGS: no
// runtime type->schema map). Each EventType has exactly one corresponding
// Payload implementation, and validation is an exhaustive type switch rather
// than a lookup table.
package eventlog

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// EventType is the closed vocabulary of events the control plane emits.
type EventType string

const (
	TypeRunStarted          EventType = "run.started"
	TypePhaseChanged        EventType = "phase.changed"
	TypeToolCalled          EventType = "tool.called"
	TypeToolResult          EventType = "tool.result"
	TypeFileChanged         EventType = "file.changed"
	TypeArtifactCreated     EventType = "artifact.created"
	TypeCheckpointRequested EventType = "checkpoint.requested"
	TypeCheckpointApproved  EventType = "checkpoint.approved"
	TypeCheckpointRejected  EventType = "checkpoint.rejected"
	TypeCheckpointTimeout   EventType = "checkpoint.timeout"
	TypeDriftDetected       EventType = "drift.detected"
	TypeRunCompleted        EventType = "run.completed"
	TypeRunFailed           EventType = "run.failed"
)

// Severity classifies the significance of an event for consumers that
// triage or alert on the stream.
type Severity string

const (
	SeverityInfo    Severity = "info"
	SeverityWarning Severity = "warning"
	SeverityError   Severity = "error"
)

// Payload is implemented by every concrete event payload type. Type returns
// the EventType the payload belongs to, and Validate performs structural
// checks specific to that payload (spec §4.1: "fails with invalid_payload if
// payload does not satisfy the kind's schema").
type Payload interface {
	Type() EventType
	Validate() error
}

// Event is a single immutable entry in a run's event log.
type Event struct {
	// EventID is globally unique; Append is idempotent on this field.
	EventID string
	// RunID identifies the run this event belongs to.
	RunID string
	// Seq is the strictly monotonic, gap-free per-run sequence number.
	Seq int64
	// Timestamp is the UTC event time.
	Timestamp time.Time
	// Phase is the run phase active when the event was produced (may be
	// empty for events that precede phase assignment, e.g. run.started).
	Phase string
	// Severity classifies the event.
	Severity Severity
	// Payload carries the event's typed, kind-specific data.
	Payload Payload
}

// Type returns the event's EventType, delegating to the payload.
func (e *Event) Type() EventType {
	if e == nil || e.Payload == nil {
		return ""
	}
	return e.Payload.Type()
}

// NewEvent constructs an Event with a fresh event id and the current UTC
// time. Seq is left at zero; the store assigns/validates it on Append.
func NewEvent(runID, phase string, severity Severity, payload Payload) *Event {
	return &Event{
		EventID:   uuid.NewString(),
		RunID:     runID,
		Timestamp: time.Now().UTC(),
		Phase:     phase,
		Severity:  severity,
		Payload:   payload,
	}
}

// Validate checks the event's required fields and delegates payload
// structural validation. It does not check seq contiguity; that is the
// store's responsibility (spec §4.1).
func (e *Event) Validate() error {
	if e.EventID == "" {
		return fmt.Errorf("%w: event_id is required", ErrInvalidPayload)
	}
	if e.RunID == "" {
		return fmt.Errorf("%w: run_id is required", ErrInvalidPayload)
	}
	if e.Payload == nil {
		return fmt.Errorf("%w: payload is required", ErrInvalidPayload)
	}
	if err := e.Payload.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return nil
}

type (
	// RunStartedPayload fires when a run begins sandbox-backed execution.
	RunStartedPayload struct {
		WorkspaceID string
		TemplateID  string
		Goal        string
		SandboxID   string
	}

	// PhaseChangedPayload fires on every successful state-machine transition,
	// before the store commits the new state (spec §4.2).
	PhaseChangedPayload struct {
		From   string
		To     string
		Reason string
	}

	// ToolCalledPayload fires immediately before a tool call executes.
	ToolCalledPayload struct {
		ToolName  string
		ToolInput json.RawMessage
	}

	// ToolResultPayload fires after a tool call completes.
	ToolResultPayload struct {
		ToolName string
		Success  bool
		Duration time.Duration
		Output   json.RawMessage
		Error    string
	}

	// FileChangedPayload fires when the sandbox reports a filesystem change.
	FileChangedPayload struct {
		Path   string
		Action string // created|modified|deleted
	}

	// ArtifactCreatedPayload fires when a deliverable artifact is recorded.
	ArtifactCreatedPayload struct {
		ArtifactID      string
		ArtifactKind    string
		DestinationPath string
		SizeBytes       int64
	}

	// CheckpointRequestedPayload fires when the orchestrator requests human
	// approval for a side-effectful action.
	CheckpointRequestedPayload struct {
		CheckpointID string
		ActionType   string
		Preview      string
		TimeoutSec   int
	}

	// CheckpointApprovedPayload fires when a pending checkpoint is approved.
	CheckpointApprovedPayload struct {
		CheckpointID string
		ApprovedFrom string // web|desktop|mobile|api|bulk
		ActorID      string
	}

	// CheckpointRejectedPayload fires when a pending checkpoint is rejected.
	CheckpointRejectedPayload struct {
		CheckpointID    string
		RejectedFrom    string
		ActorID         string
		RejectionReason string
	}

	// CheckpointTimeoutPayload fires when a pending checkpoint expires and
	// the configured timeout_action is applied.
	CheckpointTimeoutPayload struct {
		CheckpointID string
		AppliedAction string // approve|reject
	}

	// DriftDetectedPayload fires when a tool call or constraint check fails
	// the contract validator at runtime (spec §4.3).
	DriftDetectedPayload struct {
		DriftType string // unauthorized_tool|path_violation|loop_detected|constraint_breach
		Details   string
		ToolName  string
		Path      string
	}

	// RunCompletedPayload fires once, on successful terminal completion.
	RunCompletedPayload struct {
		TotalCostCents int64
		ArtifactCount  int
		DurationMs     int64
	}

	// RunFailedPayload fires once, on terminal failure.
	RunFailedPayload struct {
		ErrorType          string
		ErrorMessage       string
		Recoverable        bool
		CheckpointAvailable bool
	}
)

func (RunStartedPayload) Type() EventType         { return TypeRunStarted }
func (PhaseChangedPayload) Type() EventType       { return TypePhaseChanged }
func (ToolCalledPayload) Type() EventType         { return TypeToolCalled }
func (ToolResultPayload) Type() EventType         { return TypeToolResult }
func (FileChangedPayload) Type() EventType        { return TypeFileChanged }
func (ArtifactCreatedPayload) Type() EventType    { return TypeArtifactCreated }
func (CheckpointRequestedPayload) Type() EventType { return TypeCheckpointRequested }
func (CheckpointApprovedPayload) Type() EventType { return TypeCheckpointApproved }
func (CheckpointRejectedPayload) Type() EventType { return TypeCheckpointRejected }
func (CheckpointTimeoutPayload) Type() EventType  { return TypeCheckpointTimeout }
func (DriftDetectedPayload) Type() EventType      { return TypeDriftDetected }
func (RunCompletedPayload) Type() EventType       { return TypeRunCompleted }
func (RunFailedPayload) Type() EventType          { return TypeRunFailed }

func (p RunStartedPayload) Validate() error {
	if p.WorkspaceID == "" || p.TemplateID == "" {
		return fmt.Errorf("run.started requires workspace_id and template_id")
	}
	return nil
}

func (p PhaseChangedPayload) Validate() error {
	if p.To == "" {
		return fmt.Errorf("phase.changed requires to")
	}
	return nil
}

func (p ToolCalledPayload) Validate() error {
	if p.ToolName == "" {
		return fmt.Errorf("tool.called requires tool_name")
	}
	return nil
}

func (p ToolResultPayload) Validate() error {
	if p.ToolName == "" {
		return fmt.Errorf("tool.result requires tool_name")
	}
	if !p.Success && p.Error == "" {
		return fmt.Errorf("tool.result requires error when not successful")
	}
	return nil
}

func (p FileChangedPayload) Validate() error {
	if p.Path == "" {
		return fmt.Errorf("file.changed requires path")
	}
	switch p.Action {
	case "created", "modified", "deleted":
	default:
		return fmt.Errorf("file.changed has invalid action %q", p.Action)
	}
	return nil
}

func (p ArtifactCreatedPayload) Validate() error {
	if p.ArtifactID == "" || p.DestinationPath == "" {
		return fmt.Errorf("artifact.created requires artifact_id and destination_path")
	}
	return nil
}

func (p CheckpointRequestedPayload) Validate() error {
	if p.CheckpointID == "" || p.ActionType == "" {
		return fmt.Errorf("checkpoint.requested requires checkpoint_id and action_type")
	}
	return nil
}

func (p CheckpointApprovedPayload) Validate() error {
	if p.CheckpointID == "" {
		return fmt.Errorf("checkpoint.approved requires checkpoint_id")
	}
	return nil
}

func (p CheckpointRejectedPayload) Validate() error {
	if p.CheckpointID == "" {
		return fmt.Errorf("checkpoint.rejected requires checkpoint_id")
	}
	return nil
}

func (p CheckpointTimeoutPayload) Validate() error {
	if p.CheckpointID == "" {
		return fmt.Errorf("checkpoint.timeout requires checkpoint_id")
	}
	switch p.AppliedAction {
	case "approve", "reject":
	default:
		return fmt.Errorf("checkpoint.timeout has invalid applied_action %q", p.AppliedAction)
	}
	return nil
}

func (p DriftDetectedPayload) Validate() error {
	switch p.DriftType {
	case "unauthorized_tool", "path_violation", "loop_detected", "constraint_breach":
	default:
		return fmt.Errorf("drift.detected has invalid drift_type %q", p.DriftType)
	}
	return nil
}

func (p RunCompletedPayload) Validate() error { return nil }

func (p RunFailedPayload) Validate() error {
	if p.ErrorType == "" || p.ErrorMessage == "" {
		return fmt.Errorf("run.failed requires error_type and error_message")
	}
	return nil
}
