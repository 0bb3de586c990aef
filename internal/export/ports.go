// Package export defines the outbound ports for publishing budget
// summaries to external destinations.
package export

import (
	"context"

	"envelope/internal/core"
)

// Summary is one month's budget view, flattened for an external sheet.
type Summary struct {
	Month         core.Month
	ReadyToAssign int64
	Rows          []Row
}

// Row is one category line of a summary.
type Row struct {
	CategoryID string
	Name       string
	Allocated  int64
	Inflow     int64
	Activity   int64
	Available  int64
}

// SummaryWriter is the port for outbound summary adapters.
type SummaryWriter interface {
	WriteMonthSummary(ctx context.Context, s Summary) error
}
