package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"envelope/internal/core"
)

// AllocationInput is the caller-facing shape of a budget allocation.
// An empty FromCategoryID draws from Ready to Assign.
type AllocationInput struct {
	ToCategoryID   string
	FromCategoryID string
	Amount         int64 // minor units, always > 0
	Date           time.Time
	Memo           string
}

// AllocationEngine moves money between envelopes under a zero-sum rule:
// every cent comes from somewhere, either another category's available
// or Ready to Assign, and the source must cover the move.
type AllocationEngine struct {
	q     querier
	store *VersionStore
	cache *MonthlyStateCache
	now   func() time.Time
}

func NewAllocationEngine(q querier) *AllocationEngine {
	return &AllocationEngine{
		q:     q,
		store: NewVersionStore(q),
		cache: NewMonthlyStateCache(q),
		now:   time.Now,
	}
}

// Allocate appends a new allocation concept after checking the source
// can fund it in the allocation's month.
func (e *AllocationEngine) Allocate(ctx context.Context, in AllocationInput) (core.AllocationVersion, error) {
	if err := e.validate(ctx, in); err != nil {
		return core.AllocationVersion{}, err
	}
	month := core.MonthOf(in.Date)
	if err := e.checkFunding(ctx, in, month); err != nil {
		return core.AllocationVersion{}, err
	}

	v := core.AllocationVersion{
		VersionID:      uuid.New(),
		ConceptID:      uuid.New(),
		FromCategoryID: in.FromCategoryID,
		ToCategoryID:   in.ToCategoryID,
		Amount:         in.Amount,
		Date:           in.Date,
		Memo:           in.Memo,
		RecordedAt:     e.now().UTC(),
		IsActive:       true,
	}
	if err := e.store.AppendAllocation(ctx, v); err != nil {
		return core.AllocationVersion{}, err
	}
	if err := e.applyDeltas(ctx, v, 1); err != nil {
		return core.AllocationVersion{}, err
	}
	return v, nil
}

// EditAllocation supersedes the active version of an allocation. The old
// version's effect is unwound before the new one is funded, so shrinking
// or re-dating an allocation never trips over its own money.
func (e *AllocationEngine) EditAllocation(ctx context.Context, conceptID, expected uuid.UUID, in AllocationInput) (core.AllocationVersion, error) {
	if err := e.validate(ctx, in); err != nil {
		return core.AllocationVersion{}, err
	}
	old, err := e.store.GetActiveAllocation(ctx, conceptID)
	if err != nil {
		return core.AllocationVersion{}, err
	}

	v := core.AllocationVersion{
		VersionID:      uuid.New(),
		ConceptID:      conceptID,
		FromCategoryID: in.FromCategoryID,
		ToCategoryID:   in.ToCategoryID,
		Amount:         in.Amount,
		Date:           in.Date,
		Memo:           in.Memo,
		RecordedAt:     e.now().UTC(),
		IsActive:       true,
	}
	if err := e.store.ReplaceActiveAllocation(ctx, expected, v); err != nil {
		return core.AllocationVersion{}, err
	}
	if err := e.applyDeltas(ctx, old, -1); err != nil {
		return core.AllocationVersion{}, err
	}
	if err := e.checkFunding(ctx, in, core.MonthOf(in.Date)); err != nil {
		return core.AllocationVersion{}, err
	}
	return v, e.applyDeltas(ctx, v, 1)
}

// VoidAllocation retires an allocation and returns its money to the
// source. The target category may go negative; overspend is surfaced,
// not forbidden.
func (e *AllocationEngine) VoidAllocation(ctx context.Context, conceptID, expected uuid.UUID) error {
	old, err := e.store.GetActiveAllocation(ctx, conceptID)
	if err != nil {
		return err
	}
	if err := e.store.CloseActiveAllocation(ctx, conceptID, expected, e.now().UTC()); err != nil {
		return err
	}
	return e.applyDeltas(ctx, old, -1)
}

// ReadyToAssign is the unallocated pool for a month:
//
//	sum of on-budget account balances
//	minus everything envelopes still hold through the month
//	minus what later months have already claimed from the pool.
func (e *AllocationEngine) ReadyToAssign(ctx context.Context, month core.Month) (int64, error) {
	var onBudget int64
	err := e.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(current_balance_minor), 0) FROM accounts WHERE on_budget = 1`,
	).Scan(&onBudget)
	if err != nil {
		return 0, fmt.Errorf("sum on-budget balances: %w", err)
	}

	held, err := e.cache.TotalAvailable(ctx, month)
	if err != nil {
		return 0, err
	}

	var future int64
	err = e.q.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(amount_minor), 0) FROM allocation_versions
		 WHERE is_active = 1 AND from_category_id IS NULL AND month_start > ?`,
		monthString(month)).Scan(&future)
	if err != nil {
		return 0, fmt.Errorf("sum future allocations: %w", err)
	}

	return onBudget - held - future, nil
}

func (e *AllocationEngine) validate(ctx context.Context, in AllocationInput) error {
	if in.Amount <= 0 {
		return core.Validation("amount_minor", "must be positive for allocations")
	}
	if in.Date.IsZero() {
		return core.Validation("allocation_date", "required")
	}
	if in.FromCategoryID == in.ToCategoryID {
		return core.Validation("from_category_id", "source and target categories must differ")
	}
	to, err := getActiveCategory(ctx, e.q, in.ToCategoryID)
	if err != nil {
		return err
	}
	if to.IsSystem {
		return core.Validation("to_category_id", "system categories cannot be allocated to")
	}
	if in.FromCategoryID != "" {
		from, err := getActiveCategory(ctx, e.q, in.FromCategoryID)
		if err != nil {
			return err
		}
		if from.IsSystem {
			return core.Validation("from_category_id", "system categories cannot fund allocations")
		}
	}
	return nil
}

// checkFunding enforces the zero-sum rule: the source must hold at least
// the requested amount through the allocation's month.
func (e *AllocationEngine) checkFunding(ctx context.Context, in AllocationInput, month core.Month) error {
	if in.FromCategoryID == "" {
		rta, err := e.ReadyToAssign(ctx, month)
		if err != nil {
			return err
		}
		if rta < in.Amount {
			return core.InsufficientFunds("ready to assign", in.Amount, rta)
		}
		return nil
	}

	state, err := e.cache.GetState(ctx, in.FromCategoryID, month)
	if err != nil {
		return err
	}
	if state.Available < in.Amount {
		return core.InsufficientFunds("category "+in.FromCategoryID, in.Amount, state.Available)
	}
	return nil
}

// applyDeltas moves the cached allocated totals for both sides of an
// allocation version. sign is 1 to apply and -1 to unwind.
func (e *AllocationEngine) applyDeltas(ctx context.Context, v core.AllocationVersion, sign int64) error {
	month := core.MonthOf(v.Date)
	if err := e.cache.ApplyAllocationDelta(ctx, v.ToCategoryID, month, sign*v.Amount); err != nil {
		return err
	}
	if v.FromCategoryID != "" {
		return e.cache.ApplyAllocationDelta(ctx, v.FromCategoryID, month, -sign*v.Amount)
	}
	return nil
}
