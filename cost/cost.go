// Package cost implements the per-run and per-workspace cost accounting of
// spec §4.5: a gated AddCost that rejects mutations which would breach a
// configured budget, atomic per-run/per-day/per-month totals, and a
// pre-run cost estimator.
package cost

import (
	"fmt"
	"time"
)

// Kind is the closed set of cost entry kinds (spec §4.5).
type Kind string

const (
	KindE2BCompute  Kind = "e2b_compute"
	KindClaudeAPI   Kind = "claude_api"
	KindExternalAPI Kind = "external_api"
)

// Entry is one recorded cost event against a run.
type Entry struct {
	EntryID     string
	RunID       string
	Kind        Kind
	AmountCents int64
	Description string
	Timestamp   time.Time
	Metadata    map[string]any
}

// Breakdown is a run's cost summary (spec §3's Run.cost_breakdown).
// ComputeCents is the sum of KindE2BCompute entries; APICents is the sum of
// every other kind; TotalCents must equal their sum after every mutation.
type Breakdown struct {
	ComputeCents int64
	APICents     int64
	TotalCents   int64
}

// apply folds one entry's amount into the breakdown, preserving the
// compute/api/total invariant.
func (b Breakdown) apply(k Kind, amountCents int64) Breakdown {
	next := b
	if k == KindE2BCompute {
		next.ComputeCents += amountCents
	} else {
		next.APICents += amountCents
	}
	next.TotalCents = next.ComputeCents + next.APICents
	return next
}

// Period identifies a per-workspace rolling total window.
type Period string

const (
	PeriodDay   Period = "day"
	PeriodMonth Period = "month"
)

// PeriodKey returns the rolling-total bucket key for t under period p, in
// the `{workspace, YYYY-MM-DD}` / `{workspace, YYYY-MM}` form spec §4.5
// describes.
func PeriodKey(workspace string, p Period, t time.Time) string {
	t = t.UTC()
	switch p {
	case PeriodDay:
		return fmt.Sprintf("%s:%04d-%02d-%02d", workspace, t.Year(), t.Month(), t.Day())
	case PeriodMonth:
		return fmt.Sprintf("%s:%04d-%02d", workspace, t.Year(), t.Month())
	default:
		return fmt.Sprintf("%s:%s", workspace, p)
	}
}

// BudgetLimit names which rolling window a breach applies to.
type BudgetLimit string

const (
	LimitRun   BudgetLimit = "run"
	LimitDay   BudgetLimit = "day"
	LimitMonth BudgetLimit = "month"
)

// Budget is the set of configured caps checked on every AddCost. A zero
// value in any field means "no cap" for that window.
type Budget struct {
	RunCents   int64
	DayCents   int64
	MonthCents int64
	// WarnFraction is the fraction of a cap (default 0.8, spec §4.5's
	// "Warning threshold (default 80%)") at which AddCost reports a
	// warning signal without blocking.
	WarnFraction float64
}

// DefaultWarnFraction is applied when Budget.WarnFraction is zero.
const DefaultWarnFraction = 0.8

func (b Budget) warnFraction() float64 {
	if b.WarnFraction <= 0 {
		return DefaultWarnFraction
	}
	return b.WarnFraction
}

// BudgetBreach describes why an AddCost call was rejected.
type BudgetBreach struct {
	Limit     BudgetLimit
	Cap       int64
	Projected int64
}

func (e *BudgetBreach) Error() string {
	return fmt.Sprintf("cost: %s budget of %d cents would be exceeded (projected %d)", e.Limit, e.Cap, e.Projected)
}

// AddResult reports the outcome of a successful AddCost.
type AddResult struct {
	Entry     Entry
	RunTotal  Breakdown
	DayTotal  int64
	MonthTotal int64
	// Warnings lists budget windows whose warn threshold was crossed by
	// this addition; a non-empty slice never blocks the mutation.
	Warnings []BudgetLimit
}

// checkBudget evaluates a single projected total against a cap and warn
// fraction, returning (breached, warned).
func checkBudget(limit BudgetLimit, cap, projected int64, warnFraction float64) (breach *BudgetBreach, warned bool) {
	if cap <= 0 {
		return nil, false
	}
	if projected > cap {
		return &BudgetBreach{Limit: limit, Cap: cap, Projected: projected}, false
	}
	if float64(projected) >= float64(cap)*warnFraction {
		return nil, true
	}
	return nil, false
}
