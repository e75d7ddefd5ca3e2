package cost

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Counters is the per-workspace rolling-total backend (spec §4.5/§5): an
// atomic add-and-return-total primitive keyed by the `{workspace, period}`
// strings PeriodKey produces. The in-process implementation and the Redis
// implementation (cost/rediscounters) satisfy the same interface so the
// Tracker is agnostic to single-process vs. multi-process deployments.
type Counters interface {
	// IncrBy atomically adds deltaCents to key's running total and
	// returns the new total.
	IncrBy(ctx context.Context, key string, deltaCents int64) (int64, error)
	// Peek returns key's current total without mutating it (0 if unset),
	// used to compute a projected total before committing.
	Peek(ctx context.Context, key string) (int64, error)
}

// EntryStore persists cost entries and exposes the per-run breakdown.
// Implementations must keep Breakdown's total/compute/api invariant intact
// after every AppendEntry.
type EntryStore interface {
	AppendEntry(ctx context.Context, e Entry) error
	RunBreakdown(ctx context.Context, runID string) (Breakdown, error)
}

// Tracker is the Cost Tracker component of spec §4.5. It composes an
// EntryStore (run-scoped) with Counters (workspace-scoped rolling totals)
// behind the atomic, budget-gated AddCost operation.
type Tracker struct {
	entries  EntryStore
	counters Counters
	rates    Rates

	// workspaceLocks guards the "compute projected totals, check budget,
	// commit" critical section per workspace (spec §5: "Workspace-level
	// totals in the Cost Tracker are the only cross-run shared mutable
	// state and must be guarded"). Counters may itself be backed by Redis
	// INCRBY, which is atomic per key but not across the day and month
	// keys and the EntryStore append a single AddCost touches, so the Tracker still
	// needs its own critical section even with a remote counter store.
	mu             sync.Mutex
	workspaceLocks map[string]*sync.Mutex
}

// New builds a Tracker over the given entry store and counters backend.
func New(entries EntryStore, counters Counters, rates Rates) *Tracker {
	return &Tracker{
		entries:        entries,
		counters:       counters,
		rates:          rates,
		workspaceLocks: make(map[string]*sync.Mutex),
	}
}

func (t *Tracker) lockFor(workspace string) *sync.Mutex {
	t.mu.Lock()
	defer t.mu.Unlock()
	l, ok := t.workspaceLocks[workspace]
	if !ok {
		l = &sync.Mutex{}
		t.workspaceLocks[workspace] = l
	}
	return l
}

// EntryInput is the caller-supplied data for one cost entry; EntryID and
// Timestamp are assigned by AddCost.
type EntryInput struct {
	RunID       string
	Workspace   string
	Kind        Kind
	AmountCents int64
	Description string
	Metadata    map[string]any
}

// AddCost implements spec §4.5's gated AddCost: it computes the projected
// run/day/month totals, and if any configured budget cap would be
// exceeded, returns a *BudgetBreach without mutating any total. Otherwise
// it appends the entry and updates both rolling counters atomically with
// respect to other AddCost calls on the same workspace.
func (t *Tracker) AddCost(ctx context.Context, in EntryInput, budget Budget) (*AddResult, error) {
	if in.AmountCents < 0 {
		return nil, errAmountNegative
	}

	lock := t.lockFor(in.Workspace)
	lock.Lock()
	defer lock.Unlock()

	now := time.Now().UTC()
	dayKey := PeriodKey(in.Workspace, PeriodDay, now)
	monthKey := PeriodKey(in.Workspace, PeriodMonth, now)

	runBreakdown, err := t.entries.RunBreakdown(ctx, in.RunID)
	if err != nil {
		return nil, err
	}
	dayTotal, err := t.counters.Peek(ctx, dayKey)
	if err != nil {
		return nil, err
	}
	monthTotal, err := t.counters.Peek(ctx, monthKey)
	if err != nil {
		return nil, err
	}

	projectedRun := runBreakdown.apply(in.Kind, in.AmountCents)
	projectedDay := dayTotal + in.AmountCents
	projectedMonth := monthTotal + in.AmountCents

	warnFraction := budget.warnFraction()
	if breach, _ := checkBudget(LimitRun, budget.RunCents, projectedRun.TotalCents, warnFraction); breach != nil {
		return nil, breach
	}
	if breach, _ := checkBudget(LimitDay, budget.DayCents, projectedDay, warnFraction); breach != nil {
		return nil, breach
	}
	if breach, _ := checkBudget(LimitMonth, budget.MonthCents, projectedMonth, warnFraction); breach != nil {
		return nil, breach
	}

	entry := Entry{
		EntryID:     uuid.NewString(),
		RunID:       in.RunID,
		Kind:        in.Kind,
		AmountCents: in.AmountCents,
		Description: in.Description,
		Timestamp:   now,
		Metadata:    in.Metadata,
	}
	if err := t.entries.AppendEntry(ctx, entry); err != nil {
		return nil, err
	}
	newDayTotal, err := t.counters.IncrBy(ctx, dayKey, in.AmountCents)
	if err != nil {
		return nil, err
	}
	newMonthTotal, err := t.counters.IncrBy(ctx, monthKey, in.AmountCents)
	if err != nil {
		return nil, err
	}

	var warnings []BudgetLimit
	if _, warned := checkBudget(LimitRun, budget.RunCents, projectedRun.TotalCents, warnFraction); warned {
		warnings = append(warnings, LimitRun)
	}
	if _, warned := checkBudget(LimitDay, budget.DayCents, newDayTotal, warnFraction); warned {
		warnings = append(warnings, LimitDay)
	}
	if _, warned := checkBudget(LimitMonth, budget.MonthCents, newMonthTotal, warnFraction); warned {
		warnings = append(warnings, LimitMonth)
	}

	return &AddResult{
		Entry:      entry,
		RunTotal:   projectedRun,
		DayTotal:   newDayTotal,
		MonthTotal: newMonthTotal,
		Warnings:   warnings,
	}, nil
}

// Breakdown returns the current per-run cost breakdown.
func (t *Tracker) Breakdown(ctx context.Context, runID string) (Breakdown, error) {
	return t.entries.RunBreakdown(ctx, runID)
}
