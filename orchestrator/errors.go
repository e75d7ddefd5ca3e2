package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/runcontrolplane/rcp/contract"
	"github.com/runcontrolplane/rcp/errorhandler"
	"github.com/runcontrolplane/rcp/run"
)

// ContractRejectedError is returned by Start when a contract fails its
// pre-run validation (spec §4.3: "Run proceeds only if no error-severity
// issue remains").
type ContractRejectedError struct {
	Issues []contract.Issue
}

func (e *ContractRejectedError) Error() string {
	var msgs []string
	for _, i := range e.Issues {
		if i.Severity == contract.IssueError {
			msgs = append(msgs, i.Message)
		}
	}
	return fmt.Sprintf("orchestrator: contract rejected: %s", strings.Join(msgs, "; "))
}

// HandleError implements spec §4.7's HandleError operation: it delegates
// classification/retry decisions to the error handler and, on a terminal
// verdict, persists the failure onto the run row and runs the stop
// sequence. On a retryable verdict nothing about run state changes; the
// caller is expected to retry the failed operation after res.RetryDelay.
func (o *Orchestrator) HandleError(ctx context.Context, category errorhandler.Category, errType, message string, partial errorhandler.PartialInputs) (*errorhandler.Result, error) {
	o.mu.Lock()
	runID := o.runID
	o.mu.Unlock()

	res, err := o.deps.Errors.HandleError(ctx, runID, category, errType, message, partial)
	if err != nil {
		return nil, err
	}
	if res.ShouldRetry {
		return res, nil
	}

	// Errors.HandleError already transitioned the run to failed and
	// appended run.failed; persist that state onto the run row the same
	// way every other state change reaches the store (see transition.go).
	if res.NewState != nil {
		if err := o.persistState(ctx, *res.NewState, nil); err != nil {
			return res, fmt.Errorf("orchestrator: persist state: %w", err)
		}
	}

	if err := o.deps.Runs.SetTerminalError(ctx, runID, run.Error{
		Kind:        string(category),
		Message:     res.ErrorDetails,
		Recoverable: false,
	}); err != nil {
		return res, fmt.Errorf("orchestrator: persist terminal error: %w", err)
	}

	o.mu.Lock()
	o.internal = InternalError
	o.mu.Unlock()

	o.deps.Stalls.ClearRun(runID)
	o.stop(ctx, stopOutcomeFailed)

	return res, nil
}

// classify is a convenience wrapper around errorhandler.Classify for
// callers that have not already determined a category (spec §4.6: "If the
// caller does not provide a category, classify by substring heuristics").
func classify(errType, message string) errorhandler.Category {
	return errorhandler.Classify(errType, message)
}
