package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/runcontrolplane/rcp/cost"
)

// AddCost implements spec §4.7's cost-accounting hook: it wraps
// cost.Tracker.AddCost with the run's workspace and budget, persisting the
// resulting breakdown onto the run row on success. A *cost.BudgetBreach is
// returned unwrapped so callers can type-switch on it without errors.As
// boilerplate (spec §4.5: "AddCost... returns a *BudgetBreach without
// mutating any total").
func (o *Orchestrator) AddCost(ctx context.Context, kind cost.Kind, amountCents int64, description string, metadata map[string]any) (*cost.AddResult, error) {
	o.mu.Lock()
	runID := o.runID
	o.mu.Unlock()

	r, err := o.deps.Runs.Get(ctx, runID)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: get run: %w", err)
	}

	result, err := o.deps.Costs.AddCost(ctx, cost.EntryInput{
		RunID:       runID,
		Workspace:   r.WorkspaceID,
		Kind:        kind,
		AmountCents: amountCents,
		Description: description,
		Metadata:    metadata,
	}, o.deps.Budget)
	if err != nil {
		var breach *cost.BudgetBreach
		if errors.As(err, &breach) {
			return nil, breach
		}
		return nil, err
	}

	if err := o.deps.Runs.UpdateCost(ctx, runID, result.RunTotal); err != nil {
		return nil, fmt.Errorf("orchestrator: persist cost: %w", err)
	}
	o.deps.Metrics.RecordGauge("orchestrator.run_cost_cents", float64(result.RunTotal.TotalCents), "run_id", runID)

	for _, w := range result.Warnings {
		o.deps.Logger.Warn(ctx, "orchestrator: budget warning threshold crossed", "run_id", runID, "limit", string(w))
	}

	return result, nil
}

// GetCostBreakdown returns the run's current cost breakdown.
func (o *Orchestrator) GetCostBreakdown(ctx context.Context) (cost.Breakdown, error) {
	o.mu.Lock()
	runID := o.runID
	o.mu.Unlock()
	return o.deps.Costs.Breakdown(ctx, runID)
}
