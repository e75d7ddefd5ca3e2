// Package inmem provides an in-memory eventlog.Store for tests and local
// development. It is not durable.
package inmem

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/runcontrolplane/rcp/eventlog"
)

const defaultLimit = 100

// Store implements eventlog.Store in memory, guarded by a single mutex.
type Store struct {
	mu sync.Mutex
	// lastSeq holds the last assigned seq per run; an absent entry means -1
	// (no events yet), matching eventlog.Store.LatestSeq.
	lastSeq map[string]int64
	// events holds per-run events in append order.
	events map[string][]*eventlog.Event
	// byID indexes events by (runID, eventID) for idempotency checks and
	// GetByID.
	byID map[string]map[string]*eventlog.Event
}

// New returns an empty in-memory event log store.
func New() *Store {
	return &Store{
		lastSeq: make(map[string]int64),
		events:  make(map[string][]*eventlog.Event),
		byID:    make(map[string]map[string]*eventlog.Event),
	}
}

func (s *Store) lastSeqLocked(runID string) int64 {
	if seq, ok := s.lastSeq[runID]; ok {
		return seq
	}
	return -1
}

// Append implements eventlog.Store.
func (s *Store) Append(_ context.Context, ev *eventlog.Event) (*eventlog.Event, error) {
	if err := ev.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.byID[ev.RunID][ev.EventID]; ok {
		if !eventlog.SamePayload(existing, ev) {
			return nil, fmt.Errorf("%w: event_id=%s", eventlog.ErrDuplicateEvent, ev.EventID)
		}
		return existing, nil
	}

	return s.append(ev), nil
}

// AppendBatch implements eventlog.Store.
func (s *Store) AppendBatch(_ context.Context, evs []*eventlog.Event) ([]*eventlog.Event, error) {
	for _, ev := range evs {
		if err := ev.Validate(); err != nil {
			return nil, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Reject a conflicting re-append before anything is stored, so a
	// failed batch leaves the log untouched.
	seen := make(map[string]*eventlog.Event, len(evs))
	for _, ev := range evs {
		key := ev.RunID + "\x00" + ev.EventID
		prior, ok := s.byID[ev.RunID][ev.EventID]
		if !ok {
			prior, ok = seen[key]
		}
		if ok && !eventlog.SamePayload(prior, ev) {
			return nil, fmt.Errorf("%w: event_id=%s", eventlog.ErrDuplicateEvent, ev.EventID)
		}
		seen[key] = ev
	}

	out := make([]*eventlog.Event, 0, len(evs))
	for _, ev := range evs {
		if existing, ok := s.byID[ev.RunID][ev.EventID]; ok {
			if !eventlog.SamePayload(existing, ev) {
				return nil, fmt.Errorf("%w: event_id=%s", eventlog.ErrDuplicateEvent, ev.EventID)
			}
			out = append(out, existing)
			continue
		}
		out = append(out, s.append(ev))
	}
	return out, nil
}

// append assigns the next contiguous seq to ev, records it, and returns the
// stored copy. Caller must hold s.mu.
func (s *Store) append(ev *eventlog.Event) *eventlog.Event {
	last := s.lastSeqLocked(ev.RunID)
	next := last + 1
	eventlog.CheckContiguous("eventlog/inmem", last, next)

	stored := *ev
	stored.Seq = next
	s.lastSeq[ev.RunID] = next
	s.events[ev.RunID] = append(s.events[ev.RunID], &stored)

	if s.byID[ev.RunID] == nil {
		s.byID[ev.RunID] = make(map[string]*eventlog.Event)
	}
	s.byID[ev.RunID][ev.EventID] = &stored
	return &stored
}

// Query implements eventlog.Store.
func (s *Store) Query(_ context.Context, runID string, opts eventlog.QueryOptions) (*eventlog.Page, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.events[runID]

	afterSeq := opts.AfterSeq
	if opts.Cursor != "" {
		cur, err := strconv.ParseInt(opts.Cursor, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("eventlog: invalid cursor %q: %w", opts.Cursor, err)
		}
		if cur > afterSeq {
			afterSeq = cur
		}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = defaultLimit
	}

	typeFilter := make(map[eventlog.EventType]bool, len(opts.Types))
	for _, t := range opts.Types {
		typeFilter[t] = true
	}

	filtered := make([]*eventlog.Event, 0, len(all))
	for _, ev := range all {
		if ev.Seq <= afterSeq {
			continue
		}
		if len(typeFilter) > 0 && !typeFilter[ev.Type()] {
			continue
		}
		filtered = append(filtered, ev)
	}

	hasMore := len(filtered) > limit
	if hasMore {
		filtered = filtered[:limit]
	}

	page := &eventlog.Page{Events: filtered, HasMore: hasMore}
	if hasMore {
		page.Cursor = strconv.FormatInt(filtered[len(filtered)-1].Seq, 10)
	}
	return page, nil
}

// GetByID implements eventlog.Store.
func (s *Store) GetByID(_ context.Context, runID, eventID string) (*eventlog.Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ev, ok := s.byID[runID][eventID]
	if !ok {
		return nil, fmt.Errorf("%w: run_id=%s event_id=%s", eventlog.ErrRunNotFound, runID, eventID)
	}
	return ev, nil
}

// Stats implements eventlog.Store.
func (s *Store) Stats(_ context.Context, runID string) (*eventlog.Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := s.events[runID]
	stats := &eventlog.Stats{
		RunID:     runID,
		LatestSeq: s.lastSeqLocked(runID),
		ByType:    make(map[eventlog.EventType]int64),
	}
	for _, ev := range all {
		stats.EventCount++
		stats.ByType[ev.Type()]++
	}
	return stats, nil
}

// LatestSeq implements eventlog.Store.
func (s *Store) LatestSeq(_ context.Context, runID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastSeqLocked(runID), nil
}
