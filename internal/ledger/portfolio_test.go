package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"envelope/internal/core"
)

func seedPortfolio(t *testing.T, s *Service, accountID string, cash int64, positions ...PositionInput) PortfolioState {
	t.Helper()
	state, err := s.ReconcilePortfolio(context.Background(), accountID, cash, positions)
	if err != nil {
		t.Fatalf("reconcile %s: %v", accountID, err)
	}
	return state
}

func TestReconcilePortfolio(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seedAccount(t, s, "brokerage", core.ClassInvestment, false, 50_000)

	state := seedPortfolio(t, s, "brokerage", 10_000,
		PositionInput{Ticker: "VTI", Quantity: 10, AvgCost: 2_000},
		PositionInput{Ticker: "BND", Quantity: 5, AvgCost: 1_000},
	)
	if len(state.Positions) != 2 {
		t.Fatalf("positions = %d, want 2", len(state.Positions))
	}
	// No prices recorded yet: holdings are carried at cost.
	if state.Holdings != 25_000 {
		t.Errorf("holdings = %d, want 25000", state.Holdings)
	}
	if state.NAV != 35_000 {
		t.Errorf("nav = %d, want 35000", state.NAV)
	}
	if state.TotalReturn != -15_000 {
		t.Errorf("total return = %d, want -15000", state.TotalReturn)
	}

	var vtiConcept uuid.UUID
	for _, p := range state.Positions {
		if p.Ticker == "VTI" {
			vtiConcept = p.ConceptID
		}
	}

	// The next statement grows VTI, drops BND, and adds VXUS.
	state = seedPortfolio(t, s, "brokerage", 8_000,
		PositionInput{Ticker: "VTI", Quantity: 12, AvgCost: 2_000},
		PositionInput{Ticker: "VXUS", Quantity: 3, AvgCost: 5_000},
	)
	if len(state.Positions) != 2 {
		t.Fatalf("positions after restatement = %d, want 2", len(state.Positions))
	}
	for _, p := range state.Positions {
		switch p.Ticker {
		case "VTI":
			if p.ConceptID != vtiConcept {
				t.Errorf("VTI changed concept: %s vs %s", p.ConceptID, vtiConcept)
			}
			if p.Quantity != 12 {
				t.Errorf("VTI quantity = %v, want 12", p.Quantity)
			}
		case "VXUS":
		default:
			t.Errorf("unexpected ticker %q", p.Ticker)
		}
	}
	if state.UninvestedCash != 8_000 {
		t.Errorf("cash = %d, want 8000", state.UninvestedCash)
	}

	// A statement identical to the stored state is a no-op.
	again := seedPortfolio(t, s, "brokerage", 8_000,
		PositionInput{Ticker: "VTI", Quantity: 12, AvgCost: 2_000},
		PositionInput{Ticker: "VXUS", Quantity: 3, AvgCost: 5_000},
	)
	if again.Holdings != state.Holdings || len(again.Positions) != 2 {
		t.Errorf("idempotent restatement drifted: %+v", again)
	}

	t.Run("validation", func(t *testing.T) {
		seedAccount(t, s, "checking", core.ClassCash, true, 0)
		if _, err := s.ReconcilePortfolio(ctx, "checking", 0, nil); !core.IsValidation(err) {
			t.Errorf("cash account: err = %v, want validation", err)
		}
		if _, err := s.ReconcilePortfolio(ctx, "brokerage", -1, nil); !core.IsValidation(err) {
			t.Errorf("negative cash: err = %v, want validation", err)
		}
		if _, err := s.ReconcilePortfolio(ctx, "brokerage", 0, []PositionInput{
			{Ticker: "VTI", Quantity: 0, AvgCost: 100},
		}); !core.IsValidation(err) {
			t.Errorf("zero quantity: err = %v, want validation", err)
		}
		if _, err := s.ReconcilePortfolio(ctx, "brokerage", 0, []PositionInput{
			{Ticker: "VTI", Quantity: 1, AvgCost: 100},
			{Ticker: "VTI", Quantity: 2, AvgCost: 100},
		}); !core.IsValidation(err) {
			t.Errorf("duplicate ticker: err = %v, want validation", err)
		}
		if _, err := s.ReconcilePortfolio(ctx, "nowhere", 0, nil); !errors.Is(err, core.ErrNotFound) {
			t.Errorf("unknown account: err = %v, want not found", err)
		}
	})
}

func TestMarketPriceValuation(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seedAccount(t, s, "brokerage", core.ClassInvestment, false, 20_000)
	seedPortfolio(t, s, "brokerage", 1_000,
		PositionInput{Ticker: "VTI", Quantity: 10, AvgCost: 2_000})

	n, err := s.RecordMarketPrices(ctx, []MarketPriceInput{
		{Ticker: "VTI", Date: day(2024, time.May, 10), Close: 2_500},
	})
	if err != nil {
		t.Fatalf("record prices: %v", err)
	}
	if n != 1 {
		t.Errorf("recorded = %d, want 1", n)
	}

	state, err := s.Portfolio(ctx, "brokerage")
	if err != nil {
		t.Fatalf("portfolio: %v", err)
	}
	vti := state.Positions[0]
	if vti.MarketValue != 25_000 || vti.Gain != 5_000 {
		t.Errorf("market value/gain = %d/%d, want 25000/5000", vti.MarketValue, vti.Gain)
	}
	if state.NAV != 26_000 {
		t.Errorf("nav = %d, want 26000", state.NAV)
	}
	if state.TotalReturn != 6_000 {
		t.Errorf("total return = %d, want 6000", state.TotalReturn)
	}

	// A later observation for the same day replaces the close.
	if _, err := s.RecordMarketPrices(ctx, []MarketPriceInput{
		{Ticker: "VTI", Date: day(2024, time.May, 10), Close: 2_600},
	}); err != nil {
		t.Fatalf("re-record: %v", err)
	}
	state, err = s.Portfolio(ctx, "brokerage")
	if err != nil {
		t.Fatalf("portfolio: %v", err)
	}
	if state.Positions[0].MarketValue != 26_000 {
		t.Errorf("market value = %d, want 26000", state.Positions[0].MarketValue)
	}

	if _, err := s.RecordMarketPrices(ctx, []MarketPriceInput{
		{Ticker: "NOPE", Date: day(2024, time.May, 10), Close: 100},
	}); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unknown ticker: err = %v, want not found", err)
	}
	if _, err := s.RecordMarketPrices(ctx, nil); !core.IsValidation(err) {
		t.Errorf("empty batch: err = %v, want validation", err)
	}

	// Fractional quantities round half away from zero.
	if got := marketValueMinor(2.5, 333); got != 833 {
		t.Errorf("fractional value = %d, want 833", got)
	}
}

func TestPortfolioHistory(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seedAccount(t, s, "brokerage", core.ClassInvestment, false, 20_000)
	seedPortfolio(t, s, "brokerage", 1_000,
		PositionInput{Ticker: "VTI", Quantity: 10, AvgCost: 2_000})

	if _, err := s.RecordMarketPrices(ctx, []MarketPriceInput{
		{Ticker: "VTI", Date: day(2024, time.May, 10), Close: 2_100},
		{Ticker: "VTI", Date: day(2024, time.May, 12), Close: 2_200},
	}); err != nil {
		t.Fatalf("record prices: %v", err)
	}

	points, err := s.PortfolioHistory(ctx, "brokerage", day(2024, time.May, 9), day(2024, time.May, 12))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(points) != 4 {
		t.Fatalf("points = %d, want 4", len(points))
	}
	// Before the first close the cost basis stands in; a day without a
	// close carries the last one forward.
	wantHoldings := []int64{20_000, 21_000, 21_000, 22_000}
	for i, w := range wantHoldings {
		if points[i].Holdings != w {
			t.Errorf("day %d holdings = %d, want %d", i+1, points[i].Holdings, w)
		}
		if points[i].NAV != w+1_000 {
			t.Errorf("day %d nav = %d, want %d", i+1, points[i].NAV, w+1_000)
		}
	}

	if _, err := s.PortfolioHistory(ctx, "brokerage", day(2024, time.May, 12), day(2024, time.May, 9)); !core.IsValidation(err) {
		t.Errorf("inverted range: err = %v, want validation", err)
	}

	seedAccount(t, s, "ira", core.ClassInvestment, false, 5_000)
	if _, err := s.PortfolioHistory(ctx, "ira", day(2024, time.May, 9), day(2024, time.May, 12)); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unreconciled account: err = %v, want not found", err)
	}
	if _, err := s.Portfolio(ctx, "ira"); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("unreconciled state: err = %v, want not found", err)
	}
}

func TestNetWorthCarriesPortfolioAtMarket(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seedAccount(t, s, "checking", core.ClassCash, true, 5_000)
	seedAccount(t, s, "brokerage", core.ClassInvestment, false, 50_000)

	// Never reconciled: the ledger balance stands.
	snap, err := s.NetWorth(ctx)
	if err != nil {
		t.Fatalf("net worth: %v", err)
	}
	if snap.Positions != 50_000 {
		t.Errorf("positions before reconcile = %d, want 50000", snap.Positions)
	}

	seedPortfolio(t, s, "brokerage", 10_000,
		PositionInput{Ticker: "VTI", Quantity: 10, AvgCost: 2_000})

	snap, err = s.NetWorth(ctx)
	if err != nil {
		t.Fatalf("net worth: %v", err)
	}
	if snap.Positions != 30_000 {
		t.Errorf("positions at cost = %d, want 30000", snap.Positions)
	}
	if snap.Total != 35_000 {
		t.Errorf("total = %d, want 35000", snap.Total)
	}

	if _, err := s.RecordMarketPrices(ctx, []MarketPriceInput{
		{Ticker: "VTI", Date: day(2024, time.May, 10), Close: 2_500},
	}); err != nil {
		t.Fatalf("record prices: %v", err)
	}
	snap, err = s.NetWorth(ctx)
	if err != nil {
		t.Fatalf("net worth: %v", err)
	}
	if snap.Positions != 35_000 {
		t.Errorf("positions at market = %d, want 35000", snap.Positions)
	}

	// A second, never-reconciled investment account keeps ledger value.
	seedAccount(t, s, "ira", core.ClassInvestment, false, 20_000)
	snap, err = s.NetWorth(ctx)
	if err != nil {
		t.Fatalf("net worth: %v", err)
	}
	if snap.Positions != 55_000 {
		t.Errorf("mixed positions = %d, want 55000", snap.Positions)
	}
}
