package approval

import "context"

// AuditSink is where the Approval Service writes audit records (spec §3:
// "The Approval Service owns live PendingApproval entries but writes audit
// records into the Run Store"). The Run Store implements this alongside
// its other interfaces; the service depends only on this narrow slice.
type AuditSink interface {
	AppendAudit(ctx context.Context, rec AuditRecord) error
}
