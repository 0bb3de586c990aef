package core

import (
	"testing"
	"time"
)

func TestMonthOf(t *testing.T) {
	d := time.Date(2026, time.March, 17, 15, 4, 5, 0, time.UTC)
	m := MonthOf(d)
	if m.Year != 2026 || m.Month != time.March {
		t.Fatalf("MonthOf(%v) = %v", d, m)
	}
	if got := m.Start(); !got.Equal(time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("Start() = %v", got)
	}
}

func TestMonthNextPrev(t *testing.T) {
	m := Month{Year: 2026, Month: time.December}
	if next := m.Next(); next.Year != 2027 || next.Month != time.January {
		t.Errorf("Next() = %v", next)
	}
	j := Month{Year: 2026, Month: time.January}
	if prev := j.Prev(); prev.Year != 2025 || prev.Month != time.December {
		t.Errorf("Prev() = %v", prev)
	}
}

func TestMonthOrdering(t *testing.T) {
	a := Month{Year: 2026, Month: time.March}
	b := Month{Year: 2026, Month: time.April}
	if !a.Before(b) || b.Before(a) {
		t.Errorf("Before ordering wrong for %v / %v", a, b)
	}
	if !b.After(a) {
		t.Errorf("After ordering wrong for %v / %v", a, b)
	}
	if a.Before(a) || a.After(a) {
		t.Errorf("month should not order against itself")
	}
}

func TestParseMonth(t *testing.T) {
	m, err := ParseMonth("2026-08")
	if err != nil {
		t.Fatalf("ParseMonth: %v", err)
	}
	if m.String() != "2026-08" {
		t.Errorf("String() = %q", m.String())
	}
	if _, err := ParseMonth("2026-13"); err == nil {
		t.Errorf("expected error for invalid month")
	}
}
