package ledger

import (
	"context"
	"testing"
	"time"

	"envelope/internal/core"
)

func TestNetWorthSnapshot(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seedAccount(t, s, "checking", core.ClassCash, true, 5_000)
	seedAccount(t, s, "card", core.ClassCredit, true, -1_500)
	seedAccount(t, s, "brokerage", core.ClassInvestment, false, 10_000)
	seedAccount(t, s, "bike", core.ClassTangible, false, 2_000)

	snap, err := s.NetWorth(ctx)
	if err != nil {
		t.Fatalf("net worth: %v", err)
	}
	if snap.Assets != 5_000 {
		t.Errorf("assets = %d, want 5000", snap.Assets)
	}
	if snap.Liabilities != 1_500 {
		t.Errorf("liabilities = %d, want 1500", snap.Liabilities)
	}
	if snap.Positions != 10_000 {
		t.Errorf("positions = %d, want 10000", snap.Positions)
	}
	if snap.Tangibles != 2_000 {
		t.Errorf("tangibles = %d, want 2000", snap.Tangibles)
	}
	if snap.Total != 15_500 {
		t.Errorf("total = %d, want 15500", snap.Total)
	}
	if snap.ByClass[core.ClassCredit] != -1_500 {
		t.Errorf("by-class credit = %d, want -1500", snap.ByClass[core.ClassCredit])
	}
}

func TestNetWorthAsOf(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seedAccount(t, s, "checking", core.ClassCash, true, 5_000)

	time.Sleep(20 * time.Millisecond)
	afterOpening := time.Now().UTC()
	time.Sleep(20 * time.Millisecond)

	v, err := s.CreateTransaction(ctx, TransactionInput{
		AccountID: "checking", Date: day(2024, time.May, 10), Amount: -2_000,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	snap, err := s.NetWorthAsOf(ctx, afterOpening)
	if err != nil {
		t.Fatalf("as of opening: %v", err)
	}
	if snap.Total != 5_000 {
		t.Errorf("total as of opening = %d, want 5000", snap.Total)
	}

	snap, err = s.NetWorthAsOf(ctx, time.Now().UTC())
	if err != nil {
		t.Fatalf("as of now: %v", err)
	}
	if snap.Total != 3_000 {
		t.Errorf("total as of now = %d, want 3000", snap.Total)
	}

	// Before anything was recorded the ledger was empty.
	snap, err = s.NetWorthAsOf(ctx, v.RecordedAt.Add(-time.Hour))
	if err != nil {
		t.Fatalf("as of prehistory: %v", err)
	}
	if snap.Total != 0 {
		t.Errorf("total before any recording = %d, want 0", snap.Total)
	}
}

func TestNetWorthHistory(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seedAccount(t, s, "checking", core.ClassCash, true, 0)

	// Dated entries position the series on the financial timeline.
	entries := []struct {
		date   time.Time
		amount int64
	}{
		{day(2024, time.May, 1), 10_000},
		{day(2024, time.May, 3), -2_000},
		{day(2024, time.May, 5), -1_000},
	}
	for _, e := range entries {
		if _, err := s.CreateTransaction(ctx, TransactionInput{
			AccountID: "checking", Date: e.date, Amount: e.amount,
		}); err != nil {
			t.Fatalf("entry on %s: %v", e.date, err)
		}
	}

	points, err := s.NetWorthHistory(ctx, day(2024, time.May, 1), day(2024, time.May, 6))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(points) != 6 {
		t.Fatalf("points = %d, want 6", len(points))
	}
	want := []int64{10_000, 10_000, 8_000, 8_000, 7_000, 7_000}
	for i, w := range want {
		if points[i].Total != w {
			t.Errorf("day %d total = %d, want %d", i+1, points[i].Total, w)
		}
	}

	if _, err := s.NetWorthHistory(ctx, day(2024, time.May, 6), day(2024, time.May, 1)); !core.IsValidation(err) {
		t.Errorf("inverted range: err = %v, want validation", err)
	}
}
