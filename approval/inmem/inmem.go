// Package inmem provides an in-process approval.Registry for tests and
// single-instance deployments, mirroring the teacher's single-mutex-map
// in-memory store convention (runtime/agent/runlog/inmem).
package inmem

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/runcontrolplane/rcp/approval"
)

// Registry is an in-memory approval.Registry.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*approval.PendingApproval
}

// New builds an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[string]*approval.PendingApproval)}
}

// Create registers p, failing if its CheckpointID is already known.
func (r *Registry) Create(_ context.Context, p approval.PendingApproval) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entries[p.CheckpointID]; ok {
		return approval.ErrAlreadyPending
	}
	cp := p
	r.entries[p.CheckpointID] = &cp
	return nil
}

// Get returns a copy of the registered checkpoint.
func (r *Registry) Get(_ context.Context, checkpointID string) (*approval.PendingApproval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.entries[checkpointID]
	if !ok {
		return nil, approval.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// UpdateStatus advances the checkpoint's status.
func (r *Registry) UpdateStatus(_ context.Context, checkpointID string, status approval.Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.entries[checkpointID]
	if !ok {
		return approval.ErrNotFound
	}
	p.Status = status
	return nil
}

// ListPending returns pending entries matching filter in
// (RequestedAt, CheckpointID) order.
func (r *Registry) ListPending(_ context.Context, filter approval.Filter) ([]*approval.PendingApproval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filterLocked(filter, func(p *approval.PendingApproval) bool {
		return p.Status == approval.StatusPending
	}), nil
}

// ListExpired returns pending entries whose ExpiresAt is <= now.
func (r *Registry) ListExpired(_ context.Context, now time.Time) ([]*approval.PendingApproval, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.filterLocked(approval.Filter{}, func(p *approval.PendingApproval) bool {
		return p.Status == approval.StatusPending && !now.Before(p.ExpiresAt)
	}), nil
}

func (r *Registry) filterLocked(filter approval.Filter, pred func(*approval.PendingApproval) bool) []*approval.PendingApproval {
	var matches []*approval.PendingApproval
	for _, p := range r.entries {
		if !pred(p) {
			continue
		}
		if filter.ActionType != "" && p.ActionType != filter.ActionType {
			continue
		}
		if filter.RunID != "" && p.RunID != filter.RunID {
			continue
		}
		cp := *p
		matches = append(matches, &cp)
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].RequestedAt.Equal(matches[j].RequestedAt) {
			return matches[i].CheckpointID < matches[j].CheckpointID
		}
		return matches[i].RequestedAt.Before(matches[j].RequestedAt)
	})
	if filter.Limit > 0 && len(matches) > filter.Limit {
		matches = matches[:filter.Limit]
	}
	return matches
}
