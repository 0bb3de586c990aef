package worker

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"envelope/internal/core"
	"envelope/internal/export"
	"envelope/internal/export/memory"
	"envelope/internal/ledger"
	"envelope/internal/log"
	"envelope/internal/storage"
)

func newTestLedger(t *testing.T) *ledger.Service {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "ledger.db"))
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logger := log.New(log.Config{Level: slog.LevelError})
	return ledger.NewService(db, logger, nil, 5*time.Second)
}

func seedMonth(t *testing.T, s *ledger.Service) core.Month {
	t.Helper()
	ctx := context.Background()
	if _, err := s.CreateAccount(ctx, ledger.AccountInput{
		ID: "checking", Name: "Checking", Class: core.ClassCash, OnBudget: true,
		OpenedOn: time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC), OpeningBalance: 50_000,
	}); err != nil {
		t.Fatalf("seed account: %v", err)
	}
	if _, err := s.CreateCategory(ctx, ledger.CategoryInput{ID: "groceries", Name: "Groceries"}); err != nil {
		t.Fatalf("seed category: %v", err)
	}
	date := time.Date(2024, time.May, 10, 0, 0, 0, 0, time.UTC)
	if _, err := s.Allocate(ctx, ledger.AllocationInput{
		ToCategoryID: "groceries", Amount: 20_000, Date: date,
	}); err != nil {
		t.Fatalf("seed allocation: %v", err)
	}
	if _, err := s.CreateTransaction(ctx, ledger.TransactionInput{
		AccountID: "checking", CategoryID: "groceries", Date: date, Amount: -3_000,
	}); err != nil {
		t.Fatalf("seed transaction: %v", err)
	}
	return core.Month{Year: 2024, Month: time.May}
}

func TestFlushExportsDirtyMonths(t *testing.T) {
	service := newTestLedger(t)
	month := seedMonth(t, service)

	store := memory.New()
	w := NewExportWorker(service, store, 10, time.Minute)

	ctx := context.Background()
	if err := w.HandleChangeEvent(ctx, ledger.ChangeEvent{
		Kind: "transaction", Month: month.String(),
	}); err != nil {
		t.Fatalf("handle event: %v", err)
	}

	if err := w.Flush(ctx); err != nil {
		t.Fatalf("flush: %v", err)
	}

	summary, ok := store.Summary("2024-05")
	if !ok {
		t.Fatal("month not exported")
	}
	if summary.ReadyToAssign != 30_000 {
		t.Errorf("ready to assign = %d, want 30000", summary.ReadyToAssign)
	}
	if len(summary.Rows) != 1 {
		t.Fatalf("rows = %d, want 1", len(summary.Rows))
	}
	row := summary.Rows[0]
	if row.CategoryID != "groceries" || row.Name != "Groceries" {
		t.Errorf("row identity = %s / %s", row.CategoryID, row.Name)
	}
	if row.Allocated != 20_000 || row.Activity != -3_000 || row.Available != 17_000 {
		t.Errorf("row figures = %+v", row)
	}

	// A clean worker flushes nothing.
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("idle flush: %v", err)
	}
	if store.Len() != 1 {
		t.Errorf("exported months = %d, want 1", store.Len())
	}
}

func TestHandleChangeEventMonths(t *testing.T) {
	service := newTestLedger(t)
	w := NewExportWorker(service, memory.New(), 10, time.Minute)
	ctx := context.Background()

	if err := w.HandleChangeEvent(ctx, ledger.ChangeEvent{Kind: "transaction", Month: "not-a-month"}); err == nil {
		t.Error("malformed month should be rejected")
	}

	// Account admin events carry no month and dirty the current one.
	if err := w.HandleChangeEvent(ctx, ledger.ChangeEvent{Kind: "account"}); err != nil {
		t.Fatalf("monthless event: %v", err)
	}
	w.mu.Lock()
	_, ok := w.dirty[core.MonthOf(time.Now().UTC())]
	w.mu.Unlock()
	if !ok {
		t.Error("current month not marked dirty")
	}
}

type failingWriter struct {
	failures int
	writes   int
}

func (f *failingWriter) WriteMonthSummary(_ context.Context, _ export.Summary) error {
	f.writes++
	if f.failures > 0 {
		f.failures--
		return errors.New("sheet unavailable")
	}
	return nil
}

func TestFailedMonthStaysDirty(t *testing.T) {
	service := newTestLedger(t)
	month := seedMonth(t, service)

	writer := &failingWriter{failures: 1}
	w := NewExportWorker(service, writer, 10, time.Minute)
	ctx := context.Background()

	if err := w.HandleChangeEvent(ctx, ledger.ChangeEvent{Month: month.String()}); err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if err := w.Flush(ctx); err == nil {
		t.Fatal("flush should surface the writer failure")
	}

	// The month was re-marked; the retry succeeds.
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("retry flush: %v", err)
	}
	if writer.writes != 2 {
		t.Errorf("writes = %d, want 2", writer.writes)
	}
}

func TestStartupExport(t *testing.T) {
	service := newTestLedger(t)
	store := memory.New()
	w := NewExportWorker(service, store, 10, time.Minute)

	if err := w.StartupExport(context.Background()); err != nil {
		t.Fatalf("startup export: %v", err)
	}
	if _, ok := store.Summary(core.MonthOf(time.Now().UTC()).String()); !ok {
		t.Error("current month not exported on startup")
	}
}

func TestBatchSizeLimitsFlush(t *testing.T) {
	service := newTestLedger(t)
	seedMonth(t, service)

	store := memory.New()
	w := NewExportWorker(service, store, 2, time.Minute)
	ctx := context.Background()

	for _, m := range []string{"2024-03", "2024-04", "2024-05"} {
		if err := w.HandleChangeEvent(ctx, ledger.ChangeEvent{Month: m}); err != nil {
			t.Fatalf("handle %s: %v", m, err)
		}
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("first flush: %v", err)
	}
	if store.Len() != 2 {
		t.Errorf("exported after first flush = %d, want 2", store.Len())
	}
	if err := w.Flush(ctx); err != nil {
		t.Fatalf("second flush: %v", err)
	}
	if store.Len() != 3 {
		t.Errorf("exported after second flush = %d, want 3", store.Len())
	}
}
