package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"envelope/internal/core"
)

// MonthlyStateCache materializes per-category-per-month aggregates for
// fast reads. It is a derived view: every write path updates it inside
// the same transaction as the version write, and Rebuild can always
// recreate it from the version store alone. Available is never stored;
// it is the running sum of (allocated + inflow + activity) up to the
// requested month, so month rollover needs no job and past-month
// corrections can never leave later months stale.
type MonthlyStateCache struct {
	q querier
}

func NewMonthlyStateCache(q querier) *MonthlyStateCache {
	return &MonthlyStateCache{q: q}
}

// ApplyTransactionDelta folds a transaction effect into a month row.
func (c *MonthlyStateCache) ApplyTransactionDelta(ctx context.Context, categoryID string, month core.Month, inflowDelta, activityDelta int64) error {
	if inflowDelta == 0 && activityDelta == 0 {
		return nil
	}
	return c.upsert(ctx, categoryID, month, 0, inflowDelta, activityDelta)
}

// ApplyAllocationDelta folds an allocation effect into a month row.
func (c *MonthlyStateCache) ApplyAllocationDelta(ctx context.Context, categoryID string, month core.Month, allocatedDelta int64) error {
	if allocatedDelta == 0 {
		return nil
	}
	return c.upsert(ctx, categoryID, month, allocatedDelta, 0, 0)
}

func (c *MonthlyStateCache) upsert(ctx context.Context, categoryID string, month core.Month, allocated, inflow, activity int64) error {
	_, err := c.q.ExecContext(ctx, `
		INSERT INTO category_monthly_state (category_id, month_start, allocated_minor, inflow_minor, activity_minor)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (category_id, month_start) DO UPDATE SET
			allocated_minor = allocated_minor + excluded.allocated_minor,
			inflow_minor    = inflow_minor + excluded.inflow_minor,
			activity_minor  = activity_minor + excluded.activity_minor`,
		categoryID, monthString(month), allocated, inflow, activity)
	if err != nil {
		return fmt.Errorf("upsert monthly state for category %q month %s: %w", categoryID, month, err)
	}
	return nil
}

// GetState returns the month's aggregates with carried-over available.
// A month with no entries still answers, carrying the prior balance.
func (c *MonthlyStateCache) GetState(ctx context.Context, categoryID string, month core.Month) (core.CategoryMonthState, error) {
	state := core.CategoryMonthState{CategoryID: categoryID, Month: month}

	err := c.q.QueryRowContext(ctx, `
		SELECT allocated_minor, inflow_minor, activity_minor
		FROM category_monthly_state
		WHERE category_id = ? AND month_start = ?`,
		categoryID, monthString(month)).Scan(&state.Allocated, &state.Inflow, &state.Activity)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		// a month with no entries is fine; it still carries over
		return core.CategoryMonthState{}, fmt.Errorf("monthly state for category %q month %s: %w", categoryID, month, err)
	}

	err = c.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(allocated_minor + inflow_minor + activity_minor), 0)
		FROM category_monthly_state
		WHERE category_id = ? AND month_start <= ?`,
		categoryID, monthString(month)).Scan(&state.Available)
	if err != nil {
		return core.CategoryMonthState{}, fmt.Errorf("monthly state for category %q month %s: %w", categoryID, month, err)
	}
	return state, nil
}

// ListStates returns the month view for every active budget category,
// including categories with no entries yet (zero rows carry over).
func (c *MonthlyStateCache) ListStates(ctx context.Context, month core.Month) ([]core.CategoryMonthState, error) {
	rows, err := c.q.QueryContext(ctx, `
		SELECT c.category_id,
		       COALESCE(cur.allocated_minor, 0),
		       COALESCE(cur.inflow_minor, 0),
		       COALESCE(cur.activity_minor, 0),
		       COALESCE(run.available_minor, 0)
		FROM categories c
		LEFT JOIN category_monthly_state cur
		       ON cur.category_id = c.category_id AND cur.month_start = ?
		LEFT JOIN (
			SELECT category_id, SUM(allocated_minor + inflow_minor + activity_minor) AS available_minor
			FROM category_monthly_state
			WHERE month_start <= ?
			GROUP BY category_id
		) run ON run.category_id = c.category_id
		WHERE c.is_system = 0 AND c.is_active = 1
		ORDER BY c.category_id`,
		monthString(month), monthString(month))
	if err != nil {
		return nil, fmt.Errorf("list monthly states for %s: %w", month, err)
	}
	defer rows.Close()

	var out []core.CategoryMonthState
	for rows.Next() {
		s := core.CategoryMonthState{Month: month}
		if err := rows.Scan(&s.CategoryID, &s.Allocated, &s.Inflow, &s.Activity, &s.Available); err != nil {
			return nil, fmt.Errorf("scan monthly state: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// TotalAvailable sums available across all budget categories through the
// month. System categories never hold monthly state, so the raw sum is
// already the budget-category total.
func (c *MonthlyStateCache) TotalAvailable(ctx context.Context, month core.Month) (int64, error) {
	var total int64
	err := c.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(allocated_minor + inflow_minor + activity_minor), 0)
		FROM category_monthly_state
		WHERE month_start <= ?`,
		monthString(month)).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("total available through %s: %w", month, err)
	}
	return total, nil
}

// Rebuild recreates the cache and the account balance column from the
// version store. It stages the new rows into a shadow table and swaps
// inside the caller's transaction, so readers never observe a
// half-rebuilt cache. Safe to run at any time; idempotent.
func (c *MonthlyStateCache) Rebuild(ctx context.Context) error {
	if err := c.rebuildAccountBalances(ctx); err != nil {
		return err
	}
	return c.rebuildMonthlyState(ctx)
}

func (c *MonthlyStateCache) rebuildAccountBalances(ctx context.Context) error {
	_, err := c.q.ExecContext(ctx, `
		UPDATE accounts SET current_balance_minor = COALESCE((
			SELECT SUM(v.amount_minor) FROM transaction_versions v
			WHERE v.account_id = accounts.account_id AND v.is_active = 1
		), 0)`)
	if err != nil {
		return fmt.Errorf("rebuild account balances: %w", err)
	}
	return nil
}

type monthAggregate struct {
	allocated int64
	inflow    int64
	activity  int64
}

func (c *MonthlyStateCache) rebuildMonthlyState(ctx context.Context) error {
	aggregates := make(map[string]map[string]*monthAggregate) // category -> month_start -> agg
	entry := func(categoryID, monthStart string) *monthAggregate {
		months, ok := aggregates[categoryID]
		if !ok {
			months = make(map[string]*monthAggregate)
			aggregates[categoryID] = months
		}
		agg, ok := months[monthStart]
		if !ok {
			agg = &monthAggregate{}
			months[monthStart] = agg
		}
		return agg
	}

	// Replay transactions: only on-budget accounts and non-system
	// categories contribute budget activity.
	rows, err := c.q.QueryContext(ctx, `
		SELECT v.category_id, v.transaction_date, v.amount_minor
		FROM transaction_versions v
		JOIN accounts a ON a.account_id = v.account_id
		JOIN categories cat ON cat.category_id = v.category_id
		WHERE v.is_active = 1 AND v.category_id IS NOT NULL
		  AND a.on_budget = 1 AND cat.is_system = 0`)
	if err != nil {
		return fmt.Errorf("rebuild: read active transactions: %w", err)
	}
	for rows.Next() {
		var categoryID, date string
		var amount int64
		if err := rows.Scan(&categoryID, &date, &amount); err != nil {
			rows.Close()
			return fmt.Errorf("rebuild: scan transaction: %w", err)
		}
		day, err := parseDateString(date)
		if err != nil {
			rows.Close()
			return fmt.Errorf("rebuild: parse transaction date: %w", err)
		}
		agg := entry(categoryID, monthString(core.MonthOf(day)))
		if amount > 0 {
			agg.inflow += amount
		} else {
			agg.activity += amount
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("rebuild: read active transactions: %w", err)
	}
	rows.Close()

	// Replay allocations: destination gains, source loses; a NULL source
	// is Ready to Assign, which has no stored state.
	rows, err = c.q.QueryContext(ctx, `
		SELECT from_category_id, to_category_id, month_start, amount_minor
		FROM allocation_versions WHERE is_active = 1`)
	if err != nil {
		return fmt.Errorf("rebuild: read active allocations: %w", err)
	}
	for rows.Next() {
		var from sql.NullString
		var to, monthStart string
		var amount int64
		if err := rows.Scan(&from, &to, &monthStart, &amount); err != nil {
			rows.Close()
			return fmt.Errorf("rebuild: scan allocation: %w", err)
		}
		entry(to, monthStart).allocated += amount
		if from.Valid {
			entry(from.String, monthStart).allocated -= amount
		}
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return fmt.Errorf("rebuild: read active allocations: %w", err)
	}
	rows.Close()

	// Stage, then swap.
	if _, err := c.q.ExecContext(ctx, `DROP TABLE IF EXISTS category_monthly_state_stage`); err != nil {
		return fmt.Errorf("rebuild: drop stale stage: %w", err)
	}
	if _, err := c.q.ExecContext(ctx, `
		CREATE TABLE category_monthly_state_stage (
			category_id     TEXT NOT NULL,
			month_start     TEXT NOT NULL,
			allocated_minor INTEGER NOT NULL DEFAULT 0,
			inflow_minor    INTEGER NOT NULL DEFAULT 0,
			activity_minor  INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (category_id, month_start)
		)`); err != nil {
		return fmt.Errorf("rebuild: create stage: %w", err)
	}
	for categoryID, months := range aggregates {
		for monthStart, agg := range months {
			if _, err := c.q.ExecContext(ctx, `
				INSERT INTO category_monthly_state_stage
					(category_id, month_start, allocated_minor, inflow_minor, activity_minor)
				VALUES (?, ?, ?, ?, ?)`,
				categoryID, monthStart, agg.allocated, agg.inflow, agg.activity); err != nil {
				return fmt.Errorf("rebuild: stage row for %q %s: %w", categoryID, monthStart, err)
			}
		}
	}
	if _, err := c.q.ExecContext(ctx, `DELETE FROM category_monthly_state`); err != nil {
		return fmt.Errorf("rebuild: clear live cache: %w", err)
	}
	if _, err := c.q.ExecContext(ctx, `
		INSERT INTO category_monthly_state (category_id, month_start, allocated_minor, inflow_minor, activity_minor)
		SELECT category_id, month_start, allocated_minor, inflow_minor, activity_minor
		FROM category_monthly_state_stage`); err != nil {
		return fmt.Errorf("rebuild: swap in staged cache: %w", err)
	}
	if _, err := c.q.ExecContext(ctx, `DROP TABLE category_monthly_state_stage`); err != nil {
		return fmt.Errorf("rebuild: drop stage: %w", err)
	}
	return nil
}
