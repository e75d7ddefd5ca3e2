package eventlog

import (
	"context"
	"errors"
	"reflect"

	"github.com/runcontrolplane/rcp/internal/invariant"
)

// Errors returned by Store implementations. Callers distinguish them with
// errors.Is; the orchestrator maps them onto the errorhandler taxonomy.
var (
	// ErrInvalidPayload is returned when an event or its payload fails
	// structural validation.
	ErrInvalidPayload = errors.New("eventlog: invalid payload")
	// ErrRunNotFound is returned by GetByID when the run has no event with
	// the requested id. Query on a run with no events returns an empty page.
	ErrRunNotFound = errors.New("eventlog: run not found")
	// ErrDuplicateEvent is returned only when a re-appended event id carries
	// a payload that differs from the original; a byte-identical re-append
	// is idempotent and returns the original event instead (spec §4.1).
	ErrDuplicateEvent = errors.New("eventlog: duplicate event id with different payload")
)

// Page is one page of a Query result.
type Page struct {
	Events  []*Event
	Cursor  string
	HasMore bool
}

// Stats summarizes a run's event log for reporting and debugging. LatestSeq
// is -1 for a run with no events, matching Store.LatestSeq.
type Stats struct {
	RunID      string
	EventCount int64
	LatestSeq  int64
	ByType     map[EventType]int64
}

// QueryOptions filters and paginates a replay of a run's event log.
type QueryOptions struct {
	// AfterSeq returns only events with Seq > AfterSeq. Seq starts at 0, so
	// the zero value of this field (0) excludes the first event; pass -1
	// explicitly to replay a run from the beginning.
	AfterSeq int64
	// Types, if non-empty, restricts results to the given event types.
	Types []EventType
	// Limit caps the page size; Store implementations apply a default
	// when zero.
	Limit int
	// Cursor resumes a prior Query call; opaque to callers.
	Cursor string
}

// Store is the durable, append-only per-run event log described in spec
// §4.1. Implementations must enforce:
//   - gap-free, strictly increasing per-run Seq, assigned by the store; a
//     Seq supplied by the caller is ignored, and a store whose own
//     assignment is not last_seq+1 raises a hard invariant violation
//     (invariant.Raise via CheckContiguous).
//   - idempotent Append: re-appending an already-seen EventID with an
//     identical payload returns the original event and does not advance
//     Seq; re-appending with a different payload returns ErrDuplicateEvent.
type Store interface {
	// Append assigns the next Seq to ev and durably persists it. ev.Seq is
	// ignored on input and set on the returned Event.
	Append(ctx context.Context, ev *Event) (*Event, error)

	// AppendBatch appends events atomically as a single unit: all events
	// receive contiguous sequence numbers, or none are persisted.
	AppendBatch(ctx context.Context, evs []*Event) ([]*Event, error)

	// Query replays a run's event log, newest page last, oldest event
	// first within a page.
	Query(ctx context.Context, runID string, opts QueryOptions) (*Page, error)

	// GetByID returns the event with the given id within runID, or
	// ErrRunNotFound-wrapped if absent.
	GetByID(ctx context.Context, runID, eventID string) (*Event, error)

	// Stats summarizes the run's event log.
	Stats(ctx context.Context, runID string) (*Stats, error)

	// LatestSeq returns the highest Seq recorded for runID, or -1 if the
	// run has no events yet.
	LatestSeq(ctx context.Context, runID string) (int64, error)
}

// CheckContiguous is a shared defensive assertion store implementations call
// after assigning a seq to a new event: it enforces that the new seq is
// exactly lastSeq+1. A violation indicates a bug in the store's own seq
// assignment, not a condition a caller triggered, so it panics (spec §7)
// rather than returning an error.
func CheckContiguous(component string, lastSeq, nextSeq int64) {
	if nextSeq != lastSeq+1 {
		invariant.Raise(component, "non-contiguous seq: last=%d next=%d", lastSeq, nextSeq)
	}
}

// SamePayload reports whether two events carry equal payloads, used to
// decide whether a re-appended EventID is a true idempotent retry
// (spec §4.1) or a conflicting reuse of the same id.
func SamePayload(a, b *Event) bool {
	return reflect.DeepEqual(a.Payload, b.Payload) && a.RunID == b.RunID &&
		a.Phase == b.Phase && a.Severity == b.Severity
}
