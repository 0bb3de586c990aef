package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"

	"envelope/internal/core"
)

// TemporalQuery reconstructs past state purely from the version columns
// (concept_id, recorded_at, valid_to): for each concept it selects the
// version with the greatest recorded_at at or before the instant, then
// drops concepts whose selected version had already been closed. No
// engine-level temporal features are involved, so the queries work on
// any store that keeps the SCD2 columns.
type TemporalQuery struct {
	q querier
}

func NewTemporalQuery(q querier) *TemporalQuery {
	return &TemporalQuery{q: q}
}

// TransactionsAsOf returns the transaction versions that were effective
// at the given instant. With at = now it matches a live read of active
// versions exactly.
func (t *TemporalQuery) TransactionsAsOf(ctx context.Context, f TransactionFilter, at time.Time) ([]core.TransactionVersion, error) {
	where := []string{}
	var args []any
	args = append(args, at.UTC(), at.UTC(), at.UTC())
	if f.AccountID != "" {
		where = append(where, "v.account_id = ?")
		args = append(args, f.AccountID)
	}
	if f.CategoryID != "" {
		where = append(where, "v.category_id = ?")
		args = append(args, f.CategoryID)
	}
	if f.Status != "" {
		where = append(where, "v.status = ?")
		args = append(args, string(f.Status))
	}
	extra := ""
	if len(where) > 0 {
		extra = " AND " + strings.Join(where, " AND ")
	}

	rows, err := t.q.QueryContext(ctx, `
		SELECT `+prefixColumns("v", transactionColumns)+`
		FROM transaction_versions v
		WHERE v.recorded_at <= ?
		  AND v.recorded_at = (
			SELECT MAX(v2.recorded_at) FROM transaction_versions v2
			WHERE v2.concept_id = v.concept_id AND v2.recorded_at <= ?
		  )
		  AND (v.valid_to IS NULL OR v.valid_to > ?)`+extra+`
		ORDER BY v.recorded_at DESC, v.version_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("transactions as of %s: %w", at, err)
	}
	defer rows.Close()
	return collectTransactionVersions(rows)
}

// AllocationsAsOf returns the allocation versions effective at the instant.
func (t *TemporalQuery) AllocationsAsOf(ctx context.Context, f AllocationFilter, at time.Time) ([]core.AllocationVersion, error) {
	where := []string{}
	var args []any
	args = append(args, at.UTC(), at.UTC(), at.UTC())
	if f.CategoryID != "" {
		where = append(where, "(v.from_category_id = ? OR v.to_category_id = ?)")
		args = append(args, f.CategoryID, f.CategoryID)
	}
	if !f.Month.IsZero() {
		where = append(where, "v.month_start = ?")
		args = append(args, monthString(f.Month))
	}
	extra := ""
	if len(where) > 0 {
		extra = " AND " + strings.Join(where, " AND ")
	}

	rows, err := t.q.QueryContext(ctx, `
		SELECT `+prefixColumns("v", allocationColumns)+`
		FROM allocation_versions v
		WHERE v.recorded_at <= ?
		  AND v.recorded_at = (
			SELECT MAX(v2.recorded_at) FROM allocation_versions v2
			WHERE v2.concept_id = v.concept_id AND v2.recorded_at <= ?
		  )
		  AND (v.valid_to IS NULL OR v.valid_to > ?)`+extra+`
		ORDER BY v.recorded_at DESC, v.version_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("allocations as of %s: %w", at, err)
	}
	defer rows.Close()
	return collectAllocationVersions(rows)
}

// AccountBalanceAsOf derives an account's balance at the instant by
// summing the transaction versions effective then. The opening balance
// is itself a ledger transaction, so the sum is the whole balance.
func (t *TemporalQuery) AccountBalanceAsOf(ctx context.Context, accountID string, at time.Time) (int64, error) {
	var balance int64
	err := t.q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(v.amount_minor), 0)
		FROM transaction_versions v
		WHERE v.account_id = ?
		  AND v.recorded_at <= ?
		  AND v.recorded_at = (
			SELECT MAX(v2.recorded_at) FROM transaction_versions v2
			WHERE v2.concept_id = v.concept_id AND v2.recorded_at <= ?
		  )
		  AND (v.valid_to IS NULL OR v.valid_to > ?)`,
		accountID, at.UTC(), at.UTC(), at.UTC()).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("balance of account %q as of %s: %w", accountID, at, err)
	}
	return balance, nil
}

// prefixColumns qualifies a comma-separated column list with an alias.
func prefixColumns(alias, columns string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
