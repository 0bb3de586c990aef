package ledger

import (
	"context"
	"fmt"
	"time"

	"envelope/internal/core"
)

// NetWorthPoint is one day in the net worth time series.
type NetWorthPoint struct {
	Date  time.Time
	Total int64
}

// NetWorthAggregator consolidates account balances into a net worth
// view. Snapshots are computed on demand from the ledger, never stored.
type NetWorthAggregator struct {
	q querier
}

func NewNetWorthAggregator(q querier) *NetWorthAggregator {
	return &NetWorthAggregator{q: q}
}

// Snapshot returns the instantaneous net worth over active accounts.
func (n *NetWorthAggregator) Snapshot(ctx context.Context) (core.NetWorthSnapshot, error) {
	rows, err := n.q.QueryContext(ctx,
		`SELECT class, COALESCE(SUM(current_balance_minor), 0)
		 FROM accounts WHERE is_active = 1 GROUP BY class`)
	if err != nil {
		return core.NetWorthSnapshot{}, fmt.Errorf("sum balances by class: %w", err)
	}
	defer rows.Close()

	byClass := map[core.AccountClass]int64{}
	for rows.Next() {
		var (
			class string
			total int64
		)
		if err := rows.Scan(&class, &total); err != nil {
			return core.NetWorthSnapshot{}, fmt.Errorf("scan class total: %w", err)
		}
		byClass[core.AccountClass(class)] = total
	}
	if err := rows.Err(); err != nil {
		return core.NetWorthSnapshot{}, err
	}

	// Reconciled investment accounts are carried at market, not at the
	// cash the ledger moved into them. The delta between NAV and ledger
	// balance shifts the investment class; accounts never reconciled
	// stay at ledger value.
	delta, err := n.investmentMarketDelta(ctx)
	if err != nil {
		return core.NetWorthSnapshot{}, err
	}
	if delta != 0 {
		byClass[core.ClassInvestment] += delta
	}
	return buildSnapshot(byClass), nil
}

// investmentMarketDelta sums, over every active investment account with
// a reconciled portfolio, the difference between portfolio NAV and the
// account's ledger balance.
func (n *NetWorthAggregator) investmentMarketDelta(ctx context.Context) (int64, error) {
	rows, err := n.q.QueryContext(ctx, `
		SELECT a.account_id, a.current_balance_minor, b.uninvested_cash_minor
		FROM accounts a
		JOIN brokerage_cash b ON b.account_id = a.account_id
		WHERE a.is_active = 1 AND a.class = ?`, string(core.ClassInvestment))
	if err != nil {
		return 0, fmt.Errorf("list reconciled investment accounts: %w", err)
	}
	defer rows.Close()

	type reconciled struct {
		id      string
		balance int64
		cash    int64
	}
	var accounts []reconciled
	for rows.Next() {
		var r reconciled
		if err := rows.Scan(&r.id, &r.balance, &r.cash); err != nil {
			return 0, fmt.Errorf("scan reconciled account: %w", err)
		}
		accounts = append(accounts, r)
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	var delta int64
	today := dayOf(time.Now().UTC())
	for _, a := range accounts {
		positions, err := listActivePositions(ctx, n.q, a.id)
		if err != nil {
			return 0, err
		}
		nav := a.cash
		for _, pos := range positions {
			close, _, priced, err := latestClose(ctx, n.q, pos.securityID, today)
			if err != nil {
				return 0, err
			}
			if priced {
				nav += marketValueMinor(pos.Quantity, close)
			} else {
				nav += marketValueMinor(pos.Quantity, pos.AvgCost)
			}
		}
		delta += nav - a.balance
	}
	return delta, nil
}

// SnapshotAsOf reconstructs net worth as the ledger knew it at a past
// instant, from the versions recorded on or before it. Accounts are not
// versioned, so retirement after the instant does not hide history.
func (n *NetWorthAggregator) SnapshotAsOf(ctx context.Context, at time.Time) (core.NetWorthSnapshot, error) {
	at = at.UTC()
	rows, err := n.q.QueryContext(ctx, `
		SELECT a.class, COALESCE(SUM(v.amount_minor), 0)
		FROM transaction_versions v
		JOIN accounts a ON a.account_id = v.account_id
		WHERE v.recorded_at <= ?
		  AND (v.valid_to IS NULL OR v.valid_to > ?)
		  AND v.recorded_at = (
			SELECT MAX(recorded_at) FROM transaction_versions
			WHERE concept_id = v.concept_id AND account_id = v.account_id AND recorded_at <= ?)
		GROUP BY a.class`, at, at, at)
	if err != nil {
		return core.NetWorthSnapshot{}, fmt.Errorf("sum balances by class as of %s: %w", at, err)
	}
	defer rows.Close()

	byClass := map[core.AccountClass]int64{}
	for rows.Next() {
		var (
			class string
			total int64
		)
		if err := rows.Scan(&class, &total); err != nil {
			return core.NetWorthSnapshot{}, fmt.Errorf("scan class total: %w", err)
		}
		byClass[core.AccountClass(class)] = total
	}
	if err := rows.Err(); err != nil {
		return core.NetWorthSnapshot{}, err
	}
	return buildSnapshot(byClass), nil
}

// History returns one net worth point per day between from and to,
// inclusive, positioned on the financial timeline: each point reflects
// the active versions dated on or before that day.
func (n *NetWorthAggregator) History(ctx context.Context, from, to time.Time) ([]NetWorthPoint, error) {
	if to.Before(from) {
		return nil, core.Validation("end_date", "must not precede start_date")
	}

	rows, err := n.q.QueryContext(ctx, `
		SELECT v.transaction_date, a.class, SUM(v.amount_minor)
		FROM transaction_versions v
		JOIN accounts a ON a.account_id = v.account_id
		WHERE v.is_active = 1 AND v.transaction_date <= ?
		GROUP BY v.transaction_date, a.class
		ORDER BY v.transaction_date`, dateString(to))
	if err != nil {
		return nil, fmt.Errorf("net worth history: %w", err)
	}
	defer rows.Close()

	type dayDelta struct {
		date  time.Time
		class core.AccountClass
		total int64
	}
	var deltas []dayDelta
	for rows.Next() {
		var (
			day   string
			class string
			total int64
		)
		if err := rows.Scan(&day, &class, &total); err != nil {
			return nil, fmt.Errorf("scan day delta: %w", err)
		}
		d, err := parseDateString(day)
		if err != nil {
			return nil, fmt.Errorf("parse history date: %w", err)
		}
		deltas = append(deltas, dayDelta{date: d, class: core.AccountClass(class), total: total})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	// Walk the calendar, folding in each day's deltas as it passes.
	byClass := map[core.AccountClass]int64{}
	i := 0
	var points []NetWorthPoint
	for day := dayOf(from); !day.After(dayOf(to)); day = day.AddDate(0, 0, 1) {
		for i < len(deltas) && !deltas[i].date.After(day) {
			byClass[deltas[i].class] += deltas[i].total
			i++
		}
		points = append(points, NetWorthPoint{Date: day, Total: buildSnapshot(byClass).Total})
	}
	return points, nil
}

func dayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// buildSnapshot folds per-class sums into the consolidated view.
// Liability classes carry negative balances; the liabilities figure is
// their positive magnitude and total = assets - liabilities + positions
// + tangibles.
func buildSnapshot(byClass map[core.AccountClass]int64) core.NetWorthSnapshot {
	s := core.NetWorthSnapshot{ByClass: map[core.AccountClass]int64{}}
	for class, total := range byClass {
		s.ByClass[class] = total
		switch class {
		case core.ClassCash, core.ClassAccessibleAsset:
			s.Assets += total
		case core.ClassCredit, core.ClassLoan:
			s.Liabilities += -total
		case core.ClassInvestment:
			s.Positions += total
		case core.ClassTangible:
			s.Tangibles += total
		}
	}
	s.Total = s.Assets - s.Liabilities + s.Positions + s.Tangibles
	return s
}
