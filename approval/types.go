// Package approval implements the Approval Service of spec §4.4: a
// pending-checkpoint registry, resolve/reject/timeout with the state
// machine, bulk resolution, and an append-only audit log.
package approval

import (
	"time"

	"github.com/runcontrolplane/rcp/contract"
)

// Status is a PendingApproval's lifecycle state (spec §3): it advances
// monotonically from Pending to exactly one terminal value.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
	StatusTimeout  Status = "timeout"
)

// Source identifies where a resolution came from (spec §3's
// ApprovalAuditRecord.source and the checkpoint.* events' approved_from /
// rejected_from fields; SPEC_FULL.md's Open Question decision unifies
// both onto this single enum).
type Source string

const (
	SourceWeb     Source = "web"
	SourceDesktop Source = "desktop"
	SourceMobile  Source = "mobile"
	SourceAPI     Source = "api"
	SourceTimeout Source = "timeout"
	SourceBulk    Source = "bulk"
)

// PendingApproval is a live checkpoint awaiting human resolution (spec §3).
type PendingApproval struct {
	CheckpointID       string
	RunID              string
	ActionType         string
	Preview            string
	RequestedAt        time.Time
	ExpiresAt          time.Time
	TimeoutAction      contract.ApprovalAction
	Status             Status
	RequestedFromPhase string
}

// AuditRecord is one immutable row appended per resolution (spec §3).
type AuditRecord struct {
	AuditID         string
	RunID           string
	CheckpointID    string
	Action          Status // approved|rejected|timeout
	ActorID         string // empty for timeout/system resolutions
	Source          Source
	RejectionReason string
	Timestamp       time.Time
}

// RequestOptions is the caller-supplied configuration for RequestApproval.
type RequestOptions struct {
	CheckpointID   string
	ActionType     string
	Preview        string
	TimeoutSeconds int
	TimeoutAction  contract.ApprovalAction
}
