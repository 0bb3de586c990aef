// Package worker keeps external budget summaries in step with the
// ledger by consuming change events and exporting the touched months.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"envelope/internal/core"
	"envelope/internal/export"
	"envelope/internal/ledger"
)

// ExportWorker collects the months touched by ledger changes and flushes
// them to a SummaryWriter in batches. Events only mark months dirty; the
// summary itself is always rebuilt from the ledger at flush time, so a
// lost event costs freshness, never correctness.
type ExportWorker struct {
	service   *ledger.Service
	writer    export.SummaryWriter
	batchSize int
	interval  time.Duration

	mu    sync.Mutex
	dirty map[core.Month]struct{}
}

func NewExportWorker(service *ledger.Service, writer export.SummaryWriter, batchSize int, interval time.Duration) *ExportWorker {
	return &ExportWorker{
		service:   service,
		writer:    writer,
		batchSize: batchSize,
		interval:  interval,
		dirty:     map[core.Month]struct{}{},
	}
}

// HandleChangeEvent marks the month touched by one ledger change.
// Events without a month (account admin) dirty the current month, since
// account changes move Ready to Assign.
func (w *ExportWorker) HandleChangeEvent(ctx context.Context, event ledger.ChangeEvent) error {
	month := core.MonthOf(time.Now().UTC())
	if event.Month != "" {
		var err error
		month, err = core.ParseMonth(event.Month)
		if err != nil {
			return fmt.Errorf("event month: %w", err)
		}
	}

	w.mu.Lock()
	w.dirty[month] = struct{}{}
	pending := len(w.dirty)
	w.mu.Unlock()

	slog.DebugContext(ctx, "Marked month for export",
		"month", month.String(),
		"kind", event.Kind,
		"pending_months", pending)
	return nil
}

// Flush exports up to batchSize dirty months. A month that fails to
// export stays dirty for the next flush.
func (w *ExportWorker) Flush(ctx context.Context) error {
	months := w.takeDirty()
	if len(months) == 0 {
		return nil
	}

	var firstErr error
	for _, month := range months {
		if err := w.exportMonth(ctx, month); err != nil {
			slog.ErrorContext(ctx, "Failed to export month",
				"month", month.String(), "error", err)
			w.markDirty(month)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		slog.InfoContext(ctx, "Exported month summary", "month", month.String())
	}
	return firstErr
}

// Run flushes on a fixed interval until the context is cancelled.
func (w *ExportWorker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Last chance for anything still pending.
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := w.Flush(flushCtx); err != nil {
				slog.ErrorContext(flushCtx, "Final flush failed", "error", err)
			}
			return ctx.Err()
		case <-ticker.C:
			if err := w.Flush(ctx); err != nil {
				slog.ErrorContext(ctx, "Flush failed", "error", err)
			}
		}
	}
}

// StartupExport exports the current month once, recovering from events
// missed while the worker was down.
func (w *ExportWorker) StartupExport(ctx context.Context) error {
	month := core.MonthOf(time.Now().UTC())
	if err := w.exportMonth(ctx, month); err != nil {
		return fmt.Errorf("startup export of %s: %w", month, err)
	}
	slog.InfoContext(ctx, "Startup export completed", "month", month.String())
	return nil
}

func (w *ExportWorker) exportMonth(ctx context.Context, month core.Month) error {
	summary, err := w.service.Summary(ctx, month)
	if err != nil {
		return fmt.Errorf("build summary: %w", err)
	}

	categories, err := w.service.ListCategories(ctx)
	if err != nil {
		return fmt.Errorf("list categories: %w", err)
	}
	names := make(map[string]string, len(categories))
	for _, c := range categories {
		names[c.ID] = c.Name
	}

	out := export.Summary{
		Month:         summary.Month,
		ReadyToAssign: summary.ReadyToAssign,
	}
	for _, state := range summary.Categories {
		name := names[state.CategoryID]
		if name == "" {
			name = state.CategoryID
		}
		out.Rows = append(out.Rows, export.Row{
			CategoryID: state.CategoryID,
			Name:       name,
			Allocated:  state.Allocated,
			Inflow:     state.Inflow,
			Activity:   state.Activity,
			Available:  state.Available,
		})
	}
	return w.writer.WriteMonthSummary(ctx, out)
}

func (w *ExportWorker) takeDirty() []core.Month {
	w.mu.Lock()
	defer w.mu.Unlock()

	months := make([]core.Month, 0, len(w.dirty))
	for month := range w.dirty {
		if len(months) == w.batchSize {
			break
		}
		months = append(months, month)
		delete(w.dirty, month)
	}
	return months
}

func (w *ExportWorker) markDirty(month core.Month) {
	w.mu.Lock()
	w.dirty[month] = struct{}{}
	w.mu.Unlock()
}
