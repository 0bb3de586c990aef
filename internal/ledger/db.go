// Package ledger implements the temporal budgeting ledger engine: the
// append-only version store, the projection of balances and monthly
// category state, allocations, reconciliation checkpoints, temporal
// queries and net worth aggregation. Service is the public surface.
package ledger

import (
	"context"
	"database/sql"
	"time"

	"envelope/internal/core"
)

// querier is the slice of database/sql shared by *sql.DB and *sql.Tx.
// Engine components run over whichever the caller hands them; writes
// always arrive inside a transaction owned by Service.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const dateLayout = "2006-01-02"

// dateString renders a civil date column value.
func dateString(t time.Time) string {
	return t.UTC().Format(dateLayout)
}

// parseDateString reads a civil date column value back as midnight UTC.
func parseDateString(s string) (time.Time, error) {
	return time.Parse(dateLayout, s)
}

// monthString renders the month_start key for a budget month.
func monthString(m core.Month) string {
	return m.Start().Format(dateLayout)
}

func parseMonthString(s string) (core.Month, error) {
	t, err := time.Parse(dateLayout, s)
	if err != nil {
		return core.Month{}, err
	}
	return core.MonthOf(t), nil
}

// nullStr maps empty strings to NULL for nullable foreign keys.
func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

// nullInt maps zero to NULL for optional amount columns.
func nullInt(n int64) sql.NullInt64 {
	if n == 0 {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: n, Valid: true}
}

// nullDate maps the zero time to NULL for optional date columns.
func nullDate(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: dateString(t), Valid: true}
}

func fromNullStr(ns sql.NullString) string {
	if !ns.Valid {
		return ""
	}
	return ns.String
}

func fromNullTime(nt sql.NullTime) time.Time {
	if !nt.Valid {
		return time.Time{}
	}
	return nt.Time
}
