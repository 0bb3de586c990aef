package ledger

import (
	"context"
	"time"

	"envelope/internal/core"
)

// GoalProgress reports how a category's funding stands against its goal
// for one month. MonthlyTarget is what this month should receive;
// Shortfall is how much of that is still missing.
type GoalProgress struct {
	CategoryID      string
	Month           core.Month
	GoalType        core.GoalType
	GoalAmount      int64
	TargetDate      time.Time
	Frequency       core.GoalFrequency
	Available       int64
	Allocated       int64
	MonthlyTarget   int64
	Shortfall       int64
	MonthsRemaining int
}

// TargetDateMonthlyAmount spreads what is still needed for a target-date
// goal evenly across the remaining months. Money already sitting in the
// envelope reduces the need.
func TargetDateMonthlyAmount(goalAmount int64, monthsRemaining int, currentAvailable int64) (int64, error) {
	if monthsRemaining <= 0 {
		return 0, core.Validation("months_remaining", "must be positive")
	}
	need := goalAmount - currentAvailable
	return divideHalfUp(need, int64(monthsRemaining)), nil
}

// CatchUpMonthlyAmount recomputes the monthly requirement after some
// months were skipped: the unfunded remainder divides across the months
// left.
func CatchUpMonthlyAmount(goalAmount, fundedSoFar int64, monthsRemaining int) (int64, error) {
	if monthsRemaining <= 0 {
		return 0, core.Validation("months_remaining", "must be positive")
	}
	return divideHalfUp(goalAmount-fundedSoFar, int64(monthsRemaining)), nil
}

// RecurringShortfall is the part of a recurring goal this month's
// allocations have not yet covered. Rollover from earlier months does
// not count; recurring goals are funded fresh each period.
func RecurringShortfall(goalAmount, allocatedThisMonth int64) int64 {
	if allocatedThisMonth >= goalAmount {
		return 0
	}
	return goalAmount - allocatedThisMonth
}

// RecurringIntervalMonthlyAmount normalizes a quarterly or yearly goal
// into an even monthly funding target.
func RecurringIntervalMonthlyAmount(goalAmount int64, intervalMonths int) (int64, error) {
	if intervalMonths <= 0 {
		return 0, core.Validation("interval_months", "must be positive")
	}
	return divideHalfUp(goalAmount, int64(intervalMonths)), nil
}

// divideHalfUp divides with half-up rounding. Amounts that are already
// covered divide to zero.
func divideHalfUp(amount, parts int64) int64 {
	if amount <= 0 {
		return 0
	}
	return (2*amount + parts) / (2 * parts)
}

// GoalEngine evaluates category goals against the monthly state cache.
type GoalEngine struct {
	q     querier
	cache *MonthlyStateCache
}

func NewGoalEngine(q querier) *GoalEngine {
	return &GoalEngine{q: q, cache: NewMonthlyStateCache(q)}
}

// Progress evaluates a category's goal for a month. Fails with NotFound
// when the category has no goal configured.
func (g *GoalEngine) Progress(ctx context.Context, categoryID string, month core.Month) (GoalProgress, error) {
	category, err := getCategory(ctx, g.q, categoryID)
	if err != nil {
		return GoalProgress{}, err
	}
	if category.GoalType == "" {
		return GoalProgress{}, core.NotFound("goal", categoryID)
	}

	state, err := g.cache.GetState(ctx, categoryID, month)
	if err != nil {
		return GoalProgress{}, err
	}

	progress := GoalProgress{
		CategoryID: categoryID,
		Month:      month,
		GoalType:   category.GoalType,
		GoalAmount: category.GoalAmount,
		TargetDate: category.GoalTargetDate,
		Frequency:  category.GoalFrequency,
		Available:  state.Available,
		Allocated:  state.Allocated,
	}

	switch category.GoalType {
	case core.GoalTargetDate:
		remaining := monthsUntil(month, core.MonthOf(category.GoalTargetDate))
		progress.MonthsRemaining = remaining
		// Carry-in is what the envelope held before this month moved.
		carryIn := state.Available - state.Allocated - state.Inflow - state.Activity
		target, err := TargetDateMonthlyAmount(category.GoalAmount, remaining, carryIn)
		if err != nil {
			return GoalProgress{}, err
		}
		progress.MonthlyTarget = target
		progress.Shortfall = RecurringShortfall(target, state.Allocated)
	case core.GoalRecurring:
		target, err := RecurringIntervalMonthlyAmount(category.GoalAmount, category.GoalFrequency.Months())
		if err != nil {
			return GoalProgress{}, err
		}
		progress.MonthlyTarget = target
		progress.Shortfall = RecurringShortfall(target, state.Allocated)
	}
	return progress, nil
}

// monthsUntil counts the months from now through target, inclusive, so
// funding the current month still counts toward the goal. A past target
// leaves one month: everything still owed is due now.
func monthsUntil(now, target core.Month) int {
	months := (target.Year-now.Year)*12 + int(target.Month-now.Month) + 1
	if months < 1 {
		return 1
	}
	return months
}
