package approval

import (
	"context"
	"errors"
	"time"
)

// Errors returned by Registry implementations.
var (
	// ErrAlreadyPending is returned by Create when a checkpoint with the
	// same id is already pending (spec §4.4: "validates no checkpoint
	// with that id is already pending").
	ErrAlreadyPending = errors.New("approval: checkpoint already pending")
	// ErrNotFound is returned when a checkpoint id is unknown.
	ErrNotFound = errors.New("approval: checkpoint not found")
	// ErrNotPending is returned when an operation requires a checkpoint
	// still in StatusPending.
	ErrNotPending = errors.New("approval: checkpoint is not pending")
)

// Filter selects pending entries for BulkApprove (spec §4.4): all present
// predicates are ANDed together.
type Filter struct {
	ActionType string
	RunID      string
	Limit      int
}

// Registry owns live PendingApproval entries (spec §3: "The Approval
// Service owns live PendingApproval entries"). Implementations range from
// an in-process map (approval/inmem) to a Redis-backed registry
// (approval/redisregistry) for multi-process deployments.
type Registry interface {
	// Create registers a new pending checkpoint. Returns ErrAlreadyPending
	// if CheckpointID is already registered regardless of its status.
	Create(ctx context.Context, p PendingApproval) error
	// Get returns the checkpoint, or ErrNotFound.
	Get(ctx context.Context, checkpointID string) (*PendingApproval, error)
	// UpdateStatus advances a checkpoint's status. Implementations should
	// treat this as a terminal write once status leaves StatusPending.
	UpdateStatus(ctx context.Context, checkpointID string, status Status) error
	// ListPending returns pending entries matching filter, ordered by
	// (RequestedAt, CheckpointID) ascending (SPEC_FULL.md "SUPPLEMENTED
	// FEATURES" item 5's deterministic bulk-resolution order), capped at
	// filter.Limit when positive.
	ListPending(ctx context.Context, filter Filter) ([]*PendingApproval, error)
	// ListExpired returns pending entries whose ExpiresAt is <= now, in
	// the same deterministic order as ListPending.
	ListExpired(ctx context.Context, now time.Time) ([]*PendingApproval, error)
}
