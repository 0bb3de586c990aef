// Package core holds the ledger domain types shared by every layer:
// accounts, categories, versioned facts, months and the error taxonomy.
package core

import (
	"fmt"
	"time"
)

// Month identifies one budget month. It marshals as the first day of the
// month ("2006-01"), which is also how the cache table keys rows.
type Month struct {
	Year  int
	Month time.Month
}

// MonthOf returns the budget month containing t (in t's location).
func MonthOf(t time.Time) Month {
	return Month{Year: t.Year(), Month: t.Month()}
}

// ParseMonth parses "YYYY-MM".
func ParseMonth(s string) (Month, error) {
	t, err := time.Parse("2006-01", s)
	if err != nil {
		return Month{}, fmt.Errorf("parse month %q: %w", s, err)
	}
	return MonthOf(t), nil
}

// Start returns midnight UTC on the first day of the month.
func (m Month) Start() time.Time {
	return time.Date(m.Year, m.Month, 1, 0, 0, 0, 0, time.UTC)
}

// Next returns the following month.
func (m Month) Next() Month {
	return MonthOf(m.Start().AddDate(0, 1, 0))
}

// Prev returns the preceding month.
func (m Month) Prev() Month {
	return MonthOf(m.Start().AddDate(0, -1, 0))
}

// Before reports whether m precedes other.
func (m Month) Before(other Month) bool {
	if m.Year != other.Year {
		return m.Year < other.Year
	}
	return m.Month < other.Month
}

// After reports whether m follows other.
func (m Month) After(other Month) bool {
	return other.Before(m)
}

func (m Month) String() string {
	return m.Start().Format("2006-01")
}

func (m Month) IsZero() bool {
	return m.Year == 0 && m.Month == 0
}
