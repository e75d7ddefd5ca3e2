package cost

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/runcontrolplane/rcp/cost/inmem"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.Parse(time.RFC3339, s)
	require.NoError(t, err)
	return tm
}

func newTestTracker() *Tracker {
	return New(inmem.NewEntryStore(), inmem.NewCounters(), DefaultRates())
}

func TestAddCostAccumulatesBreakdown(t *testing.T) {
	tr := newTestTracker()
	ctx := context.Background()

	res, err := tr.AddCost(ctx, EntryInput{
		RunID: "run-1", Workspace: "ws-1", Kind: KindE2BCompute, AmountCents: 100,
	}, Budget{})
	require.NoError(t, err)
	require.Equal(t, int64(100), res.RunTotal.ComputeCents)
	require.Equal(t, int64(100), res.RunTotal.TotalCents)

	res, err = tr.AddCost(ctx, EntryInput{
		RunID: "run-1", Workspace: "ws-1", Kind: KindClaudeAPI, AmountCents: 50,
	}, Budget{})
	require.NoError(t, err)
	require.Equal(t, int64(100), res.RunTotal.ComputeCents)
	require.Equal(t, int64(50), res.RunTotal.APICents)
	require.Equal(t, int64(150), res.RunTotal.TotalCents)
}

func TestAddCostRejectsNegativeAmount(t *testing.T) {
	tr := newTestTracker()
	_, err := tr.AddCost(context.Background(), EntryInput{RunID: "run-1", Workspace: "ws-1", AmountCents: -1}, Budget{})
	require.Error(t, err)
}

func TestAddCostBlocksOnRunBudgetBreach(t *testing.T) {
	tr := newTestTracker()
	ctx := context.Background()

	_, err := tr.AddCost(ctx, EntryInput{RunID: "run-1", Workspace: "ws-1", Kind: KindClaudeAPI, AmountCents: 900}, Budget{RunCents: 1000})
	require.NoError(t, err)

	_, err = tr.AddCost(ctx, EntryInput{RunID: "run-1", Workspace: "ws-1", Kind: KindClaudeAPI, AmountCents: 200}, Budget{RunCents: 1000})
	require.Error(t, err)
	var breach *BudgetBreach
	require.ErrorAs(t, err, &breach)
	require.Equal(t, LimitRun, breach.Limit)

	// A rejected AddCost must not have mutated the run breakdown.
	b, err := tr.Breakdown(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, int64(900), b.TotalCents)
}

func TestAddCostWarnsPastThresholdWithoutBlocking(t *testing.T) {
	tr := newTestTracker()
	ctx := context.Background()

	res, err := tr.AddCost(ctx, EntryInput{RunID: "run-1", Workspace: "ws-1", Kind: KindClaudeAPI, AmountCents: 850}, Budget{RunCents: 1000})
	require.NoError(t, err)
	require.Contains(t, res.Warnings, LimitRun)
}

func TestAddCostTracksIndependentWorkspaces(t *testing.T) {
	tr := newTestTracker()
	ctx := context.Background()

	_, err := tr.AddCost(ctx, EntryInput{RunID: "run-a", Workspace: "ws-a", Kind: KindClaudeAPI, AmountCents: 500}, Budget{DayCents: 600})
	require.NoError(t, err)
	_, err = tr.AddCost(ctx, EntryInput{RunID: "run-b", Workspace: "ws-b", Kind: KindClaudeAPI, AmountCents: 500}, Budget{DayCents: 600})
	require.NoError(t, err, "ws-b's day total must not be affected by ws-a's spending")
}

func TestEstimateCostAppliesBoundFraction(t *testing.T) {
	rates := DefaultRates()
	est := EstimateCost(EstimateInput{GoalTokens: 1000, EstimatedMinutes: 2}, rates)
	require.Greater(t, est.CentralCents, int64(0))
	require.Less(t, est.LowCents, est.CentralCents)
	require.Greater(t, est.HighCents, est.CentralCents)
}

func TestPeriodKeyFormat(t *testing.T) {
	tm := mustParse(t, "2026-03-05T10:00:00Z")
	require.Equal(t, "ws-1:2026-03-05", PeriodKey("ws-1", PeriodDay, tm))
	require.Equal(t, "ws-1:2026-03", PeriodKey("ws-1", PeriodMonth, tm))
}
