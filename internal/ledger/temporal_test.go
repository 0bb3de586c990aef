package ledger

import (
	"context"
	"reflect"
	"testing"
	"time"

	"envelope/internal/core"
)

func TestTransactionsAsOf(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seedAccount(t, s, "checking", core.ClassCash, true, 0)
	seedCategory(t, s, "groceries")

	v1, err := s.CreateTransaction(ctx, TransactionInput{
		AccountID: "checking", CategoryID: "groceries",
		Date: day(2024, time.May, 10), Amount: -2_000,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	between := time.Now().UTC()
	time.Sleep(20 * time.Millisecond)

	v2, err := s.EditTransaction(ctx, v1.ConceptID, v1.VersionID, TransactionInput{
		AccountID: "checking", CategoryID: "groceries",
		Date: day(2024, time.May, 10), Amount: -3_000,
	})
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	after := time.Now().UTC()

	filter := TransactionFilter{AccountID: "checking", CategoryID: "groceries"}

	asOfBetween, err := s.TransactionsAsOf(ctx, filter, between)
	if err != nil {
		t.Fatalf("as of between: %v", err)
	}
	if len(asOfBetween) != 1 || asOfBetween[0].VersionID != v1.VersionID {
		t.Fatalf("as-of before the edit should see the original: %+v", asOfBetween)
	}
	if asOfBetween[0].Amount != -2_000 {
		t.Errorf("amount = %d, want -2000", asOfBetween[0].Amount)
	}

	asOfAfter, err := s.TransactionsAsOf(ctx, filter, after)
	if err != nil {
		t.Fatalf("as of after: %v", err)
	}
	if len(asOfAfter) != 1 || asOfAfter[0].VersionID != v2.VersionID {
		t.Fatalf("as-of after the edit should see the correction: %+v", asOfAfter)
	}

	// Before the concept existed, the view is empty.
	asOfNever, err := s.TransactionsAsOf(ctx, filter, v1.RecordedAt.Add(-time.Hour))
	if err != nil {
		t.Fatalf("as of never: %v", err)
	}
	if len(asOfNever) != 0 {
		t.Errorf("pre-history view not empty: %+v", asOfNever)
	}

	// The same instant always reconstructs the same answer.
	again, err := s.TransactionsAsOf(ctx, filter, between)
	if err != nil {
		t.Fatalf("repeat as of: %v", err)
	}
	if !reflect.DeepEqual(asOfBetween, again) {
		t.Error("as-of query is not stable for a fixed instant")
	}
}

func TestAccountBalanceAsOf(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seedAccount(t, s, "checking", core.ClassCash, true, 10_000)

	time.Sleep(20 * time.Millisecond)
	afterOpening := time.Now().UTC()
	time.Sleep(20 * time.Millisecond)

	if _, err := s.CreateTransaction(ctx, TransactionInput{
		AccountID: "checking", Date: day(2024, time.May, 10), Amount: -4_000,
	}); err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	afterSpend := time.Now().UTC()

	got, err := s.AccountBalanceAsOf(ctx, "checking", afterOpening)
	if err != nil {
		t.Fatalf("as of opening: %v", err)
	}
	if got != 10_000 {
		t.Errorf("balance as of opening = %d, want 10000", got)
	}

	got, err = s.AccountBalanceAsOf(ctx, "checking", afterSpend)
	if err != nil {
		t.Fatalf("as of spend: %v", err)
	}
	if got != 6_000 {
		t.Errorf("balance as of spend = %d, want 6000", got)
	}

	if _, err := s.AccountBalanceAsOf(ctx, "missing", afterSpend); err == nil {
		t.Error("unknown account should fail")
	}
}

func TestAllocationsAsOf(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seedAccount(t, s, "checking", core.ClassCash, true, 50_000)
	seedCategory(t, s, "groceries")

	v1, err := s.Allocate(ctx, AllocationInput{
		ToCategoryID: "groceries", Amount: 20_000, Date: day(2024, time.May, 1),
	})
	if err != nil {
		t.Fatalf("allocate: %v", err)
	}
	time.Sleep(20 * time.Millisecond)
	between := time.Now().UTC()
	time.Sleep(20 * time.Millisecond)

	if err := s.VoidAllocation(ctx, v1.ConceptID, v1.VersionID); err != nil {
		t.Fatalf("void: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	asOf, err := s.AllocationsAsOf(ctx, AllocationFilter{CategoryID: "groceries"}, between)
	if err != nil {
		t.Fatalf("as of: %v", err)
	}
	if len(asOf) != 1 || asOf[0].Amount != 20_000 {
		t.Fatalf("as-of before void should see the allocation: %+v", asOf)
	}

	now, err := s.AllocationsAsOf(ctx, AllocationFilter{CategoryID: "groceries"}, time.Now().UTC())
	if err != nil {
		t.Fatalf("as of now: %v", err)
	}
	if len(now) != 0 {
		t.Errorf("voided allocation still visible: %+v", now)
	}
}

func TestRebuildMatchesIncremental(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seedAccount(t, s, "checking", core.ClassCash, true, 120_000)
	seedAccount(t, s, "card", core.ClassCredit, true, -5_000)
	seedCategory(t, s, "groceries")
	seedCategory(t, s, "dining")

	may := core.Month{Year: 2024, Month: time.May}

	ops := []func() error{
		func() error {
			_, err := s.Allocate(ctx, AllocationInput{ToCategoryID: "groceries", Amount: 30_000, Date: day(2024, time.May, 1)})
			return err
		},
		func() error {
			_, err := s.Allocate(ctx, AllocationInput{ToCategoryID: "dining", FromCategoryID: "groceries", Amount: 5_000, Date: day(2024, time.May, 2)})
			return err
		},
		func() error {
			_, err := s.CreateTransaction(ctx, TransactionInput{AccountID: "checking", CategoryID: "groceries", Date: day(2024, time.May, 5), Amount: -7_000})
			return err
		},
		func() error {
			_, err := s.CreateTransaction(ctx, TransactionInput{AccountID: "card", CategoryID: "dining", Date: day(2024, time.May, 7), Amount: -3_200})
			return err
		},
		func() error {
			_, err := s.CreateTransaction(ctx, TransactionInput{AccountID: "checking", CategoryID: "groceries", Date: day(2024, time.May, 12), Amount: 1_500})
			return err
		},
	}
	for i, op := range ops {
		if err := op(); err != nil {
			t.Fatalf("op %d: %v", i, err)
		}
	}

	before, err := s.Summary(ctx, may)
	if err != nil {
		t.Fatalf("summary before: %v", err)
	}
	balancesBefore := map[string]int64{
		"checking": mustBalance(t, s, "checking"),
		"card":     mustBalance(t, s, "card"),
	}

	if err := s.RebuildProjections(ctx); err != nil {
		t.Fatalf("rebuild: %v", err)
	}

	after, err := s.Summary(ctx, may)
	if err != nil {
		t.Fatalf("summary after: %v", err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Errorf("rebuild diverged from incremental state:\nbefore %+v\nafter  %+v", before, after)
	}
	for id, want := range balancesBefore {
		if got := mustBalance(t, s, id); got != want {
			t.Errorf("balance %s = %d after rebuild, want %d", id, got, want)
		}
	}
}
