package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/runcontrolplane/rcp/eventlog"
	"github.com/runcontrolplane/rcp/statemachine"
)

// Snapshotter gives the service just enough of the run store to read and
// transition a run's state; mirrors errorhandler.Snapshotter (REDESIGN
// FLAGS §9: a typed interface, not an opaque getRun/updateRun closure
// pair).
type Snapshotter interface {
	Snapshot(ctx context.Context, runID string) (statemachine.Snapshot, error)
}

// Service implements spec §4.4's Approval Service.
type Service struct {
	machine  *statemachine.Machine
	events   eventlog.Store
	registry Registry
	audit    AuditSink
	runs     Snapshotter
}

// New builds a Service wired to its collaborators.
func New(machine *statemachine.Machine, events eventlog.Store, registry Registry, audit AuditSink, runs Snapshotter) *Service {
	return &Service{machine: machine, events: events, registry: registry, audit: audit, runs: runs}
}

// RequestApproval implements spec §4.4's RequestApproval. The orchestrator
// is responsible for emitting the preceding checkpoint.requested event;
// this method emits none for the request itself, matching the spec.
func (s *Service) RequestApproval(ctx context.Context, runID string, opts RequestOptions) (*PendingApproval, error) {
	if _, err := s.registry.Get(ctx, opts.CheckpointID); err == nil {
		return nil, ErrAlreadyPending
	} else if err != ErrNotFound {
		return nil, err
	}

	snap, err := s.runs.Snapshot(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("approval: snapshot: %w", err)
	}
	requestedFrom := snap.State

	if _, err := s.machine.Transition(ctx, snap, statemachine.StateAwaitingApproval, "checkpoint_requested"); err != nil {
		return nil, fmt.Errorf("approval: transition to awaiting_approval: %w", err)
	}

	now := time.Now().UTC()
	pending := PendingApproval{
		CheckpointID:       opts.CheckpointID,
		RunID:              runID,
		ActionType:         opts.ActionType,
		Preview:            opts.Preview,
		RequestedAt:        now,
		ExpiresAt:          now.Add(time.Duration(opts.TimeoutSeconds) * time.Second),
		TimeoutAction:      opts.TimeoutAction,
		Status:             StatusPending,
		RequestedFromPhase: string(requestedFrom),
	}
	if err := s.registry.Create(ctx, pending); err != nil {
		return nil, err
	}
	return &pending, nil
}

// Approve implements spec §4.4's Approve.
func (s *Service) Approve(ctx context.Context, checkpointID, actor string, source Source) error {
	return s.resolve(ctx, checkpointID, resolution{
		action: StatusApproved,
		actor:  actor,
		source: source,
		applyFn: func(ctx context.Context, p *PendingApproval) error {
			return s.applyApprove(ctx, p, actor, source)
		},
	})
}

// Reject implements spec §4.4's Reject. reason selects the state-machine
// target per spec §4.2's reject mapping (user_cancelled -> cancelled,
// needs_edit -> paused, policy_violation -> failed); note is optional
// free-text stored on the audit record's rejection_reason field.
func (s *Service) Reject(ctx context.Context, checkpointID string, reason statemachine.RejectReason, note, actor string, source Source) error {
	return s.resolve(ctx, checkpointID, resolution{
		action:          StatusRejected,
		actor:           actor,
		source:          source,
		rejectionReason: note,
		applyFn: func(ctx context.Context, p *PendingApproval) error {
			return s.applyReject(ctx, p, reason, note, actor, source)
		},
	})
}

// BulkApprove implements spec §4.4's BulkApprove: deterministic order,
// per-item failures do not abort the batch, audit source forced to
// SourceBulk.
func (s *Service) BulkApprove(ctx context.Context, actor string, filter Filter) ([]string, []error) {
	pending, err := s.registry.ListPending(ctx, filter)
	if err != nil {
		return nil, []error{err}
	}
	var approved []string
	var errs []error
	for _, p := range pending {
		if err := s.Approve(ctx, p.CheckpointID, actor, SourceBulk); err != nil {
			errs = append(errs, fmt.Errorf("checkpoint %s: %w", p.CheckpointID, err))
			continue
		}
		approved = append(approved, p.CheckpointID)
	}
	return approved, errs
}

// ProcessTimeouts implements spec §4.4's ProcessTimeouts, intended to be
// invoked periodically by the orchestrator's timeout driver. Per-item
// failures do not abort the sweep.
func (s *Service) ProcessTimeouts(ctx context.Context, now time.Time) []error {
	expired, err := s.registry.ListExpired(ctx, now)
	if err != nil {
		return []error{err}
	}
	var errs []error
	for _, p := range expired {
		if err := s.applyTimeout(ctx, p); err != nil {
			errs = append(errs, fmt.Errorf("checkpoint %s: %w", p.CheckpointID, err))
		}
	}
	return errs
}

type resolution struct {
	action          Status
	actor           string
	source          Source
	rejectionReason string
	applyFn         func(ctx context.Context, p *PendingApproval) error
}

func (s *Service) resolve(ctx context.Context, checkpointID string, r resolution) error {
	p, err := s.registry.Get(ctx, checkpointID)
	if err != nil {
		return err
	}
	if p.Status != StatusPending {
		return ErrNotPending
	}
	if err := r.applyFn(ctx, p); err != nil {
		return err
	}
	if err := s.registry.UpdateStatus(ctx, checkpointID, r.action); err != nil {
		return err
	}
	return s.audit.AppendAudit(ctx, AuditRecord{
		AuditID:         uuid.NewString(),
		RunID:           p.RunID,
		CheckpointID:    checkpointID,
		Action:          r.action,
		ActorID:         r.actor,
		Source:          r.source,
		RejectionReason: r.rejectionReason,
		Timestamp:       time.Now().UTC(),
	})
}

// applyApprove invokes the approve state-machine action and emits
// checkpoint.approved at info severity. The event's approved_from field
// uses the same Source value as the audit record (Open Question decision,
// SPEC_FULL.md).
func (s *Service) applyApprove(ctx context.Context, p *PendingApproval, actor string, source Source) error {
	snap, err := s.runs.Snapshot(ctx, p.RunID)
	if err != nil {
		return fmt.Errorf("approval: snapshot: %w", err)
	}
	if _, err := s.machine.Apply(ctx, snap, statemachine.ActionApprove, ""); err != nil {
		return fmt.Errorf("approval: approve transition: %w", err)
	}
	ev := eventlog.NewEvent(p.RunID, p.RequestedFromPhase, eventlog.SeverityInfo, eventlog.CheckpointApprovedPayload{
		CheckpointID: p.CheckpointID,
		ApprovedFrom: string(source),
		ActorID:      actor,
	})
	_, err = s.events.Append(ctx, ev)
	return err
}

// applyReject invokes the reject state-machine action and emits
// checkpoint.rejected at warning severity.
func (s *Service) applyReject(ctx context.Context, p *PendingApproval, reason statemachine.RejectReason, note, actor string, source Source) error {
	snap, err := s.runs.Snapshot(ctx, p.RunID)
	if err != nil {
		return fmt.Errorf("approval: snapshot: %w", err)
	}
	if _, err := s.machine.Apply(ctx, snap, statemachine.ActionReject, reason); err != nil {
		return fmt.Errorf("approval: reject transition: %w", err)
	}
	ev := eventlog.NewEvent(p.RunID, p.RequestedFromPhase, eventlog.SeverityWarning, eventlog.CheckpointRejectedPayload{
		CheckpointID:    p.CheckpointID,
		RejectedFrom:    string(source),
		RejectionReason: note,
		ActorID:         actor,
	})
	_, err = s.events.Append(ctx, ev)
	return err
}

// applyTimeout implements spec §4.4's ProcessTimeouts per-item behavior:
// approve-on-timeout takes the approve path but emits checkpoint.timeout
// (warning) instead of checkpoint.approved; reject-on-timeout transitions
// the run directly to timeout and emits checkpoint.timeout (error).
func (s *Service) applyTimeout(ctx context.Context, p *PendingApproval) error {
	snap, err := s.runs.Snapshot(ctx, p.RunID)
	if err != nil {
		return fmt.Errorf("approval: snapshot: %w", err)
	}

	var ev *eventlog.Event
	switch p.TimeoutAction {
	case "approve":
		if _, err := s.machine.Apply(ctx, snap, statemachine.ActionApprove, ""); err != nil {
			return fmt.Errorf("approval: timeout-approve transition: %w", err)
		}
		ev = eventlog.NewEvent(p.RunID, p.RequestedFromPhase, eventlog.SeverityWarning, eventlog.CheckpointTimeoutPayload{
			CheckpointID:  p.CheckpointID,
			AppliedAction: "approve",
		})
	default:
		if _, err := s.machine.Transition(ctx, snap, statemachine.StateTimeout, "checkpoint_timeout"); err != nil {
			return fmt.Errorf("approval: timeout-reject transition: %w", err)
		}
		ev = eventlog.NewEvent(p.RunID, p.RequestedFromPhase, eventlog.SeverityError, eventlog.CheckpointTimeoutPayload{
			CheckpointID:  p.CheckpointID,
			AppliedAction: "reject",
		})
	}
	if _, err := s.events.Append(ctx, ev); err != nil {
		return err
	}
	if err := s.registry.UpdateStatus(ctx, p.CheckpointID, StatusTimeout); err != nil {
		return err
	}
	return s.audit.AppendAudit(ctx, AuditRecord{
		AuditID:      uuid.NewString(),
		RunID:        p.RunID,
		CheckpointID: p.CheckpointID,
		Action:       StatusTimeout,
		Source:       SourceTimeout,
		Timestamp:    time.Now().UTC(),
	})
}
