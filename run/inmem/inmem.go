// Package inmem provides an in-process run.Store for tests and
// single-instance deployments, mirroring the teacher's single-mutex-map
// in-memory store convention (runtime/agent/runlog/inmem,
// approval/inmem).
package inmem

import (
	"context"
	"sync"

	"github.com/runcontrolplane/rcp/approval"
	"github.com/runcontrolplane/rcp/cost"
	"github.com/runcontrolplane/rcp/run"
	"github.com/runcontrolplane/rcp/statemachine"
)

// Store is an in-memory run.Store.
type Store struct {
	mu    sync.Mutex
	runs  map[string]*run.Run
	audit map[string][]approval.AuditRecord
}

// New builds an empty Store.
func New() *Store {
	return &Store{
		runs:  make(map[string]*run.Run),
		audit: make(map[string][]approval.AuditRecord),
	}
}

func (s *Store) Create(_ context.Context, in run.CreateInput) (*run.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[in.RunID]; ok {
		return nil, &duplicateRunError{runID: in.RunID}
	}
	now := run.Now()
	r := &run.Run{
		RunID:           in.RunID,
		WorkspaceID:     in.WorkspaceID,
		TemplateID:      in.TemplateID,
		TemplateVersion: in.TemplateVersion,
		Contract:        in.Contract,
		State:           statemachine.StatePending,
		CreatedAt:       now,
		UpdatedAt:       now,
		LastEventSeq:    -1,
	}
	s.runs[in.RunID] = r
	cp := *r
	return &cp, nil
}

func (s *Store) Get(_ context.Context, runID string) (*run.Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, run.ErrNotFound
	}
	cp := *r
	cp.Artifacts = append([]run.ArtifactManifest(nil), r.Artifacts...)
	return &cp, nil
}

func (s *Store) Snapshot(_ context.Context, runID string) (statemachine.Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return statemachine.Snapshot{}, run.ErrNotFound
	}
	return statemachine.Snapshot{
		RunID:         r.RunID,
		State:         r.State,
		PreviousState: r.PreviousState,
	}, nil
}

func (s *Store) UpdateState(_ context.Context, runID string, upd run.StateUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return run.ErrNotFound
	}
	r.State = upd.State
	r.PreviousState = upd.PreviousState
	r.UpdatedAt = run.Now()
	return nil
}

func (s *Store) MarkStarted(_ context.Context, runID string, env run.ExecutionEnv) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return run.ErrNotFound
	}
	cp := env
	r.ExecutionEnv = &cp
	now := run.Now()
	r.StartedAt = &now
	r.UpdatedAt = now
	return nil
}

func (s *Store) MarkCompleted(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return run.ErrNotFound
	}
	now := run.Now()
	r.CompletedAt = &now
	r.UpdatedAt = now
	return nil
}

func (s *Store) SetLastEventSeq(_ context.Context, runID string, seq int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return run.ErrNotFound
	}
	r.LastEventSeq = seq
	r.UpdatedAt = run.Now()
	return nil
}

func (s *Store) UpdateCost(_ context.Context, runID string, breakdown cost.Breakdown) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return run.ErrNotFound
	}
	r.Cost = breakdown
	r.UpdatedAt = run.Now()
	return nil
}

func (s *Store) AddArtifact(_ context.Context, runID string, artifact run.ArtifactManifest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return run.ErrNotFound
	}
	r.Artifacts = append(r.Artifacts, artifact)
	r.UpdatedAt = run.Now()
	return nil
}

func (s *Store) SetTerminalError(_ context.Context, runID string, rerr run.Error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return run.ErrNotFound
	}
	cp := rerr
	r.TerminalError = &cp
	r.UpdatedAt = run.Now()
	return nil
}

func (s *Store) AppendAudit(_ context.Context, rec approval.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audit[rec.RunID] = append(s.audit[rec.RunID], rec)
	return nil
}

func (s *Store) ListAudit(_ context.Context, runID string) ([]approval.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]approval.AuditRecord(nil), s.audit[runID]...), nil
}

func (s *Store) Delete(_ context.Context, runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[runID]; !ok {
		return run.ErrNotFound
	}
	delete(s.runs, runID)
	delete(s.audit, runID)
	return nil
}

type duplicateRunError struct {
	runID string
}

func (e *duplicateRunError) Error() string {
	return "run: duplicate run id " + e.runID
}
