package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"envelope/internal/core"
)

// positionNamespace seeds deterministic position concept ids: the same
// account and security always map to one concept, so a holding keeps its
// version chain across reconciliations.
var positionNamespace = uuid.MustParse("7b1d3f6a-9c42-4e8b-b1f0-5a2e8d94c317")

// PositionInput is one holding as the brokerage statement reports it.
type PositionInput struct {
	Ticker   string
	Name     string
	Type     core.SecurityType
	Quantity float64
	AvgCost  int64
}

// MarketPriceInput is one closing price observation for a security.
type MarketPriceInput struct {
	Ticker string
	Date   time.Time
	Close  int64
}

// PortfolioPosition is an active holding valued at the latest known
// close. Without any recorded price the cost basis stands in.
type PortfolioPosition struct {
	ConceptID   uuid.UUID
	securityID  uuid.UUID
	Ticker      string
	Name        string
	Quantity    float64
	AvgCost     int64
	CostBasis   int64
	Close       int64
	PriceDate   time.Time
	MarketValue int64
	Gain        int64
}

// PortfolioState is the consolidated view of one investment account.
// NAV is uninvested cash plus holdings at market; total return measures
// NAV against the cash the ledger moved into the account.
type PortfolioState struct {
	AccountID      string
	UninvestedCash int64
	Holdings       int64
	NAV            int64
	LedgerBalance  int64
	TotalReturn    int64
	Positions      []PortfolioPosition
	AsOf           time.Time
}

// PortfolioPoint is one day in the portfolio value series.
type PortfolioPoint struct {
	Date     time.Time
	Cash     int64
	Holdings int64
	NAV      int64
	Return   int64
}

// PortfolioEngine reconciles brokerage statements into versioned
// positions and values them against recorded market prices.
type PortfolioEngine struct {
	q   querier
	now func() time.Time
}

func NewPortfolioEngine(q querier) *PortfolioEngine {
	return &PortfolioEngine{q: q, now: time.Now}
}

// Reconcile replaces the account's position set with what the statement
// reports. Holdings are diffed by ticker: new tickers open a concept,
// changed quantity or cost closes the active version and records a new
// one under the same concept, and tickers absent from the statement are
// closed. Unchanged holdings are left alone.
func (p *PortfolioEngine) Reconcile(ctx context.Context, accountID string, uninvestedCash int64, inputs []PositionInput) (PortfolioState, error) {
	account, err := getActiveAccount(ctx, p.q, accountID)
	if err != nil {
		return PortfolioState{}, err
	}
	if account.Class != core.ClassInvestment {
		return PortfolioState{}, core.Validation("account_id", "must be an investment account")
	}
	if uninvestedCash < 0 {
		return PortfolioState{}, core.Validation("uninvested_cash_minor", "must not be negative")
	}
	seen := map[string]bool{}
	for _, in := range inputs {
		if in.Ticker == "" {
			return PortfolioState{}, core.Validation("ticker", "required")
		}
		if seen[in.Ticker] {
			return PortfolioState{}, core.Validation("ticker", "duplicated in statement")
		}
		seen[in.Ticker] = true
		if in.Quantity <= 0 {
			return PortfolioState{}, core.Validation("quantity", "must be positive")
		}
		if in.AvgCost < 0 {
			return PortfolioState{}, core.Validation("avg_cost_minor", "must not be negative")
		}
		if in.Type != "" && !in.Type.Valid() {
			return PortfolioState{}, core.Validation("type", "unknown security type")
		}
	}

	at := p.now().UTC()
	if err := upsertBrokerageCash(ctx, p.q, accountID, uninvestedCash, at); err != nil {
		return PortfolioState{}, err
	}

	active, err := listActivePositions(ctx, p.q, accountID)
	if err != nil {
		return PortfolioState{}, err
	}
	byTicker := map[string]PortfolioPosition{}
	for _, pos := range active {
		byTicker[pos.Ticker] = pos
	}

	for _, in := range inputs {
		security, err := ensureSecurity(ctx, p.q, in, at)
		if err != nil {
			return PortfolioState{}, err
		}
		current, held := byTicker[in.Ticker]
		delete(byTicker, in.Ticker)
		if held && current.Quantity == in.Quantity && current.AvgCost == in.AvgCost {
			continue
		}
		concept := positionConceptID(accountID, security.ID)
		if held {
			if err := closePosition(ctx, p.q, concept, at); err != nil {
				return PortfolioState{}, err
			}
		}
		if err := insertPositionVersion(ctx, p.q, core.PositionVersion{
			VersionID:  uuid.New(),
			ConceptID:  concept,
			AccountID:  accountID,
			SecurityID: security.ID,
			Quantity:   in.Quantity,
			AvgCost:    in.AvgCost,
			RecordedAt: at,
			IsActive:   true,
		}); err != nil {
			return PortfolioState{}, err
		}
	}

	// Whatever the statement no longer mentions was sold off.
	for _, gone := range byTicker {
		if err := closePosition(ctx, p.q, gone.ConceptID, at); err != nil {
			return PortfolioState{}, err
		}
	}

	return p.State(ctx, accountID)
}

// State values the account's active positions at their latest closes.
func (p *PortfolioEngine) State(ctx context.Context, accountID string) (PortfolioState, error) {
	account, err := getAccount(ctx, p.q, accountID)
	if err != nil {
		return PortfolioState{}, err
	}
	cash, reconciled, err := getBrokerageCash(ctx, p.q, accountID)
	if err != nil {
		return PortfolioState{}, err
	}
	if !reconciled {
		return PortfolioState{}, core.NotFound("portfolio", accountID)
	}

	at := p.now().UTC()
	positions, err := listActivePositions(ctx, p.q, accountID)
	if err != nil {
		return PortfolioState{}, err
	}
	state := PortfolioState{
		AccountID:      accountID,
		UninvestedCash: cash,
		LedgerBalance:  account.CurrentBalance,
		AsOf:           at,
	}
	for i := range positions {
		pos := &positions[i]
		close, priceDate, priced, err := latestClose(ctx, p.q, pos.securityID, at)
		if err != nil {
			return PortfolioState{}, err
		}
		pos.CostBasis = marketValueMinor(pos.Quantity, pos.AvgCost)
		if priced {
			pos.Close = close
			pos.PriceDate = priceDate
			pos.MarketValue = marketValueMinor(pos.Quantity, close)
		} else {
			pos.MarketValue = pos.CostBasis
		}
		pos.Gain = pos.MarketValue - pos.CostBasis
		state.Holdings += pos.MarketValue
	}
	state.Positions = positions
	state.NAV = state.UninvestedCash + state.Holdings
	state.TotalReturn = state.NAV - state.LedgerBalance
	return state, nil
}

// History returns one point per day between from and to, inclusive,
// valuing the current holdings at each day's latest known close. Days
// before a security's first price fall back to its cost basis.
func (p *PortfolioEngine) History(ctx context.Context, accountID string, from, to time.Time) ([]PortfolioPoint, error) {
	if to.Before(from) {
		return nil, core.Validation("end_date", "must not precede start_date")
	}
	account, err := getAccount(ctx, p.q, accountID)
	if err != nil {
		return nil, err
	}
	cash, reconciled, err := getBrokerageCash(ctx, p.q, accountID)
	if err != nil {
		return nil, err
	}
	if !reconciled {
		return nil, core.NotFound("portfolio", accountID)
	}
	positions, err := listActivePositions(ctx, p.q, accountID)
	if err != nil {
		return nil, err
	}

	var points []PortfolioPoint
	for day := dayOf(from); !day.After(dayOf(to)); day = day.AddDate(0, 0, 1) {
		var holdings int64
		for _, pos := range positions {
			close, _, priced, err := latestClose(ctx, p.q, pos.securityID, day)
			if err != nil {
				return nil, err
			}
			if priced {
				holdings += marketValueMinor(pos.Quantity, close)
			} else {
				holdings += marketValueMinor(pos.Quantity, pos.AvgCost)
			}
		}
		points = append(points, PortfolioPoint{
			Date:     day,
			Cash:     cash,
			Holdings: holdings,
			NAV:      cash + holdings,
			Return:   cash + holdings - account.CurrentBalance,
		})
	}
	return points, nil
}

// RecordPrices stores closing prices, overwriting any earlier
// observation for the same security and date. Returns how many rows
// were written.
func (p *PortfolioEngine) RecordPrices(ctx context.Context, inputs []MarketPriceInput) (int, error) {
	if len(inputs) == 0 {
		return 0, core.Validation("prices", "required")
	}
	at := p.now().UTC()
	written := 0
	for _, in := range inputs {
		if in.Ticker == "" {
			return written, core.Validation("ticker", "required")
		}
		if in.Date.IsZero() {
			return written, core.Validation("market_date", "required")
		}
		if in.Close < 0 {
			return written, core.Validation("close_minor", "must not be negative")
		}
		security, err := getSecurityByTicker(ctx, p.q, in.Ticker)
		if err != nil {
			return written, err
		}
		_, err = p.q.ExecContext(ctx, `
			INSERT INTO market_prices (security_id, market_date, close_minor, recorded_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT (security_id, market_date) DO UPDATE SET
				close_minor = excluded.close_minor,
				recorded_at = excluded.recorded_at`,
			security.ID, dateString(in.Date), in.Close, at)
		if err != nil {
			return written, fmt.Errorf("record price for %q on %s: %w", in.Ticker, dateString(in.Date), err)
		}
		written++
	}
	return written, nil
}

// marketValueMinor values a fractional quantity at a per-unit minor
// price, rounding half away from zero.
func marketValueMinor(quantity float64, unitMinor int64) int64 {
	return int64(math.Round(quantity * float64(unitMinor)))
}

func positionConceptID(accountID string, securityID uuid.UUID) uuid.UUID {
	return uuid.NewSHA1(positionNamespace, []byte(accountID+":"+securityID.String()))
}

func ensureSecurity(ctx context.Context, q querier, in PositionInput, at time.Time) (core.Security, error) {
	security, err := getSecurityByTicker(ctx, q, in.Ticker)
	if err == nil {
		return security, nil
	}
	if !errors.Is(err, core.ErrNotFound) {
		return core.Security{}, err
	}
	security = core.Security{
		ID:        uuid.New(),
		Ticker:    in.Ticker,
		Name:      in.Name,
		Type:      in.Type,
		Currency:  "USD",
		CreatedAt: at,
	}
	if security.Type == "" {
		security.Type = core.SecurityStock
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO securities (security_id, ticker, name, type, currency, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		security.ID, security.Ticker, security.Name, string(security.Type),
		security.Currency, security.CreatedAt)
	if err != nil {
		return core.Security{}, fmt.Errorf("insert security %q: %w", in.Ticker, err)
	}
	return security, nil
}

func getSecurityByTicker(ctx context.Context, q querier, ticker string) (core.Security, error) {
	row := q.QueryRowContext(ctx, `
		SELECT security_id, ticker, name, type, currency, created_at
		FROM securities WHERE ticker = ?`, ticker)
	var (
		s   core.Security
		typ string
	)
	err := row.Scan(&s.ID, &s.Ticker, &s.Name, &typ, &s.Currency, &s.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Security{}, core.NotFound("security", ticker)
	}
	if err != nil {
		return core.Security{}, fmt.Errorf("get security %q: %w", ticker, err)
	}
	s.Type = core.SecurityType(typ)
	return s, nil
}

func listActivePositions(ctx context.Context, q querier, accountID string) ([]PortfolioPosition, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT p.concept_id, p.security_id, p.quantity, p.avg_cost_minor, s.ticker, s.name
		FROM position_versions p
		JOIN securities s ON s.security_id = p.security_id
		WHERE p.account_id = ? AND p.is_active = 1
		ORDER BY s.ticker`, accountID)
	if err != nil {
		return nil, fmt.Errorf("list positions for %q: %w", accountID, err)
	}
	defer rows.Close()

	var out []PortfolioPosition
	for rows.Next() {
		var pos PortfolioPosition
		if err := rows.Scan(&pos.ConceptID, &pos.securityID, &pos.Quantity, &pos.AvgCost,
			&pos.Ticker, &pos.Name); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		out = append(out, pos)
	}
	return out, rows.Err()
}

func insertPositionVersion(ctx context.Context, q querier, v core.PositionVersion) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO position_versions (version_id, concept_id, account_id, security_id,
			quantity, avg_cost_minor, recorded_at, valid_to, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, NULL, 1)`,
		v.VersionID, v.ConceptID, v.AccountID, v.SecurityID,
		v.Quantity, v.AvgCost, v.RecordedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert position version %s: %w", v.VersionID, err)
	}
	return nil
}

func closePosition(ctx context.Context, q querier, conceptID uuid.UUID, at time.Time) error {
	_, err := q.ExecContext(ctx, `
		UPDATE position_versions SET valid_to = ?, is_active = 0
		WHERE concept_id = ? AND is_active = 1`,
		at.UTC(), conceptID)
	if err != nil {
		return fmt.Errorf("close position %s: %w", conceptID, err)
	}
	return nil
}

func upsertBrokerageCash(ctx context.Context, q querier, accountID string, cash int64, at time.Time) error {
	_, err := q.ExecContext(ctx, `
		INSERT INTO brokerage_cash (account_id, uninvested_cash_minor, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT (account_id) DO UPDATE SET
			uninvested_cash_minor = excluded.uninvested_cash_minor,
			updated_at = excluded.updated_at`,
		accountID, cash, at.UTC())
	if err != nil {
		return fmt.Errorf("upsert brokerage cash for %q: %w", accountID, err)
	}
	return nil
}

func getBrokerageCash(ctx context.Context, q querier, accountID string) (int64, bool, error) {
	row := q.QueryRowContext(ctx,
		`SELECT uninvested_cash_minor FROM brokerage_cash WHERE account_id = ?`, accountID)
	var cash int64
	err := row.Scan(&cash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get brokerage cash for %q: %w", accountID, err)
	}
	return cash, true, nil
}

// latestClose finds the most recent close on or before the given day.
func latestClose(ctx context.Context, q querier, securityID uuid.UUID, onOrBefore time.Time) (int64, time.Time, bool, error) {
	row := q.QueryRowContext(ctx, `
		SELECT close_minor, market_date FROM market_prices
		WHERE security_id = ? AND market_date <= ?
		ORDER BY market_date DESC LIMIT 1`,
		securityID, dateString(onOrBefore))
	var (
		close int64
		day   string
	)
	err := row.Scan(&close, &day)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, time.Time{}, false, nil
	}
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("latest close for %s: %w", securityID, err)
	}
	d, err := parseDateString(day)
	if err != nil {
		return 0, time.Time{}, false, fmt.Errorf("parse market date: %w", err)
	}
	return close, d, true, nil
}
