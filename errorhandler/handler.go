package errorhandler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/runcontrolplane/rcp/eventlog"
	"github.com/runcontrolplane/rcp/statemachine"
)

// PartialInputs is what the caller (the orchestrator) knows about a run's
// progress at the moment an unrecoverable error occurs; Handler fills in
// LastEventSeq from the event log and CapturedAt with the capture time.
type PartialInputs struct {
	Artifacts    []string
	FilesChanged []string
	LastPhase    string
}

// PartialResults is the captured snapshot stored on the run record when a
// run transitions to failed (spec §4.6).
type PartialResults struct {
	Artifacts    []string
	FilesChanged []string
	LastPhase    string
	LastEventSeq int64
	CapturedAt   time.Time
}

// Result is the outcome of HandleError (spec §4.6).
type Result struct {
	ShouldRetry    bool
	RetryDelay     time.Duration
	ErrorDetails   string
	PartialResults *PartialResults
	NewState       *statemachine.State
}

// Snapshotter gives the error handler just enough of the run store to read
// the current state snapshot; it does not get a general run-mutation
// surface (REDESIGN FLAGS §9: no opaque getRun/updateRun callbacks).
type Snapshotter interface {
	Snapshot(ctx context.Context, runID string) (statemachine.Snapshot, error)
}

// Handler implements spec §4.6. One Handler instance is shared across runs;
// retry counters are keyed per {run_id, category} internally.
type Handler struct {
	machine *statemachine.Machine
	events  eventlog.Store
	runs    Snapshotter

	mu       sync.Mutex
	attempts map[attemptKey]int
}

type attemptKey struct {
	runID    string
	category Category
}

// New builds a Handler wired to the shared state machine, event log, and a
// run-snapshot accessor.
func New(machine *statemachine.Machine, events eventlog.Store, runs Snapshotter) *Handler {
	return &Handler{
		machine:  machine,
		events:   events,
		runs:     runs,
		attempts: make(map[attemptKey]int),
	}
}

// HandleError implements spec §4.6's HandleError. category is caller-
// classified when known (e.g. contract_violation from the validator),
// otherwise pass Classify(errType, message)'s result.
func (h *Handler) HandleError(ctx context.Context, runID string, category Category, errType, message string, partial PartialInputs) (*Result, error) {
	policy := PolicyFor(category)

	h.mu.Lock()
	key := attemptKey{runID: runID, category: category}
	attempt := h.attempts[key]
	h.mu.Unlock()

	if attempt < policy.MaxRetries {
		h.mu.Lock()
		h.attempts[key] = attempt + 1
		h.mu.Unlock()

		return &Result{
			ShouldRetry:  true,
			RetryDelay:   Delay(policy, attempt),
			ErrorDetails: UserMessage(category, Context{ErrorType: errType, RetryCount: attempt + 1, RetryCap: policy.MaxRetries}),
		}, nil
	}

	lastSeq, err := h.events.LatestSeq(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("errorhandler: latest seq: %w", err)
	}
	captured := &PartialResults{
		Artifacts:    partial.Artifacts,
		FilesChanged: partial.FilesChanged,
		LastPhase:    partial.LastPhase,
		LastEventSeq: lastSeq,
		CapturedAt:   time.Now().UTC(),
	}

	snap, err := h.runs.Snapshot(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("errorhandler: snapshot: %w", err)
	}
	userMessage := UserMessage(category, Context{ErrorType: errType})

	transResult, err := h.machine.Transition(ctx, snap, statemachine.StateFailed, fmt.Sprintf("error:%s", category))
	if err != nil {
		return nil, fmt.Errorf("errorhandler: transition to failed: %w", err)
	}

	failedEvent := eventlog.NewEvent(runID, partial.LastPhase, eventlog.SeverityError, eventlog.RunFailedPayload{
		ErrorType:           string(category),
		ErrorMessage:        userMessage,
		Recoverable:         false,
		CheckpointAvailable: false,
	})
	if _, err := h.events.Append(ctx, failedEvent); err != nil {
		return nil, fmt.Errorf("errorhandler: append run.failed: %w", err)
	}

	newState := transResult.State
	return &Result{
		ShouldRetry:    false,
		ErrorDetails:   userMessage,
		PartialResults: captured,
		NewState:       &newState,
	}, nil
}

// ClearRun drops all retry counters for runID, called on successful run
// completion (spec §4.6: "On successful run completion the error handler's
// retry counters for that run are cleared").
func (h *Handler) ClearRun(runID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for k := range h.attempts {
		if k.runID == runID {
			delete(h.attempts, k)
		}
	}
}
