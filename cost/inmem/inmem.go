// Package inmem provides in-process implementations of cost.EntryStore and
// cost.Counters for tests and single-process deployments, mirroring the
// teacher's runtime/agent/runlog/inmem single-mutex-map convention.
package inmem

import (
	"context"
	"sync"

	"github.com/runcontrolplane/rcp/cost"
)

// EntryStore is an in-memory cost.EntryStore keyed by run id.
type EntryStore struct {
	mu      sync.Mutex
	entries map[string][]cost.Entry
}

// NewEntryStore builds an empty EntryStore.
func NewEntryStore() *EntryStore {
	return &EntryStore{entries: make(map[string][]cost.Entry)}
}

// AppendEntry records e against its run.
func (s *EntryStore) AppendEntry(_ context.Context, e cost.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[e.RunID] = append(s.entries[e.RunID], e)
	return nil
}

// RunBreakdown sums the recorded entries for runID.
func (s *EntryStore) RunBreakdown(_ context.Context, runID string) (cost.Breakdown, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var b cost.Breakdown
	for _, e := range s.entries[runID] {
		if e.Kind == cost.KindE2BCompute {
			b.ComputeCents += e.AmountCents
		} else {
			b.APICents += e.AmountCents
		}
	}
	b.TotalCents = b.ComputeCents + b.APICents
	return b, nil
}

// Entries returns a copy of the recorded entries for runID, oldest first.
func (s *EntryStore) Entries(runID string) []cost.Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]cost.Entry, len(s.entries[runID]))
	copy(out, s.entries[runID])
	return out
}

// Counters is an in-memory cost.Counters keyed by period key.
type Counters struct {
	mu     sync.Mutex
	totals map[string]int64
}

// NewCounters builds an empty Counters.
func NewCounters() *Counters {
	return &Counters{totals: make(map[string]int64)}
}

// IncrBy adds deltaCents to key's total and returns the new total.
func (c *Counters) IncrBy(_ context.Context, key string, deltaCents int64) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totals[key] += deltaCents
	return c.totals[key], nil
}

// Peek returns key's current total without mutating it.
func (c *Counters) Peek(_ context.Context, key string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.totals[key], nil
}
