// Package memory is an in-memory SummaryWriter for tests and local
// development without Sheets credentials.
package memory

import (
	"context"
	"sync"

	"envelope/internal/export"
)

type Store struct {
	mu        sync.Mutex
	summaries map[string]export.Summary
}

var _ export.SummaryWriter = (*Store)(nil)

func New() *Store {
	return &Store{summaries: map[string]export.Summary{}}
}

// WriteMonthSummary stores the latest summary per month.
func (s *Store) WriteMonthSummary(_ context.Context, summary export.Summary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.summaries[summary.Month.String()] = summary
	return nil
}

// Summary returns the stored summary for a month key ("2006-01").
func (s *Store) Summary(monthKey string) (export.Summary, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary, ok := s.summaries[monthKey]
	return summary, ok
}

// Len reports how many months have been exported.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.summaries)
}
