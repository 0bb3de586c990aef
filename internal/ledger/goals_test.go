package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"envelope/internal/core"
)

func TestGoalCalculators(t *testing.T) {
	t.Run("target date spreads evenly", func(t *testing.T) {
		got, err := TargetDateMonthlyAmount(120_000, 12, 0)
		if err != nil {
			t.Fatalf("target date: %v", err)
		}
		if got != 10_000 {
			t.Errorf("monthly = %d, want 10000", got)
		}
	})

	t.Run("existing balance reduces the need", func(t *testing.T) {
		got, err := TargetDateMonthlyAmount(60_000, 6, 12_000)
		if err != nil {
			t.Fatalf("target date: %v", err)
		}
		if got != 8_000 {
			t.Errorf("monthly = %d, want 8000", got)
		}
	})

	t.Run("remainder rounds half up", func(t *testing.T) {
		got, err := CatchUpMonthlyAmount(120_000, 0, 11)
		if err != nil {
			t.Fatalf("catch up: %v", err)
		}
		if got != 10_909 {
			t.Errorf("monthly = %d, want 10909", got)
		}
	})

	t.Run("overfunded goal needs nothing", func(t *testing.T) {
		got, err := TargetDateMonthlyAmount(50_000, 5, 60_000)
		if err != nil {
			t.Fatalf("target date: %v", err)
		}
		if got != 0 {
			t.Errorf("monthly = %d, want 0", got)
		}
	})

	t.Run("recurring shortfall", func(t *testing.T) {
		if got := RecurringShortfall(50_000, 20_000); got != 30_000 {
			t.Errorf("shortfall = %d, want 30000", got)
		}
		if got := RecurringShortfall(50_000, 50_000); got != 0 {
			t.Errorf("funded shortfall = %d, want 0", got)
		}
		if got := RecurringShortfall(50_000, 80_000); got != 0 {
			t.Errorf("overfunded shortfall = %d, want 0", got)
		}
	})

	t.Run("quarterly goal normalizes to monthly", func(t *testing.T) {
		got, err := RecurringIntervalMonthlyAmount(15_000, 3)
		if err != nil {
			t.Fatalf("interval: %v", err)
		}
		if got != 5_000 {
			t.Errorf("monthly = %d, want 5000", got)
		}
	})

	t.Run("non-positive divisors are rejected", func(t *testing.T) {
		if _, err := TargetDateMonthlyAmount(10_000, 0, 0); !core.IsValidation(err) {
			t.Errorf("zero months: err = %v, want validation", err)
		}
		if _, err := CatchUpMonthlyAmount(10_000, 0, -1); !core.IsValidation(err) {
			t.Errorf("negative months: err = %v, want validation", err)
		}
		if _, err := RecurringIntervalMonthlyAmount(10_000, 0); !core.IsValidation(err) {
			t.Errorf("zero interval: err = %v, want validation", err)
		}
	})
}

func TestCategoryGoalLifecycle(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()

	c, err := s.CreateCategory(ctx, CategoryInput{
		ID:             "vacation",
		Name:           "Vacation",
		GoalType:       core.GoalTargetDate,
		GoalAmount:     100_000,
		GoalTargetDate: day(2025, time.December, 31),
	})
	if err != nil {
		t.Fatalf("create with goal: %v", err)
	}
	if c.GoalType != core.GoalTargetDate || c.GoalAmount != 100_000 {
		t.Errorf("goal not set on create: %+v", c)
	}

	categories, err := s.ListCategories(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var stored core.Category
	for _, cat := range categories {
		if cat.ID == "vacation" {
			stored = cat
		}
	}
	if stored.GoalType != core.GoalTargetDate {
		t.Fatalf("goal type not persisted: %+v", stored)
	}
	if !stored.GoalTargetDate.Equal(day(2025, time.December, 31)) {
		t.Errorf("goal target date = %v", stored.GoalTargetDate)
	}

	// Switching to a recurring goal defaults to monthly and drops the
	// target date.
	stored.GoalType = core.GoalRecurring
	stored.GoalAmount = 5_000
	stored.GoalFrequency = ""
	if err := s.UpdateCategory(ctx, stored); err != nil {
		t.Fatalf("update goal: %v", err)
	}
	categories, err = s.ListCategories(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	for _, cat := range categories {
		if cat.ID != "vacation" {
			continue
		}
		if cat.GoalType != core.GoalRecurring || cat.GoalFrequency != core.FrequencyMonthly {
			t.Errorf("recurring goal not applied: %+v", cat)
		}
		if !cat.GoalTargetDate.IsZero() {
			t.Errorf("target date survived the switch: %v", cat.GoalTargetDate)
		}
	}

	tests := []struct {
		name string
		in   CategoryInput
	}{
		{"unknown goal type", CategoryInput{ID: "a", Name: "A", GoalType: "weekly", GoalAmount: 100}},
		{"goal without amount", CategoryInput{ID: "b", Name: "B", GoalType: core.GoalRecurring}},
		{"target date goal without date", CategoryInput{ID: "c", Name: "C", GoalType: core.GoalTargetDate, GoalAmount: 100}},
		{"goal fields without type", CategoryInput{ID: "d", Name: "D", GoalAmount: 100}},
		{"unknown frequency", CategoryInput{ID: "e", Name: "E", GoalType: core.GoalRecurring, GoalAmount: 100, GoalFrequency: "daily"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := s.CreateCategory(ctx, tt.in); !core.IsValidation(err) {
				t.Errorf("err = %v, want validation", err)
			}
		})
	}
}

func TestCategoryGoalProgress(t *testing.T) {
	s := newTestService(t)
	ctx := context.Background()
	seedAccount(t, s, "checking", core.ClassCash, true, 200_000)

	may := core.Month{Year: 2024, Month: time.May}

	if _, err := s.CreateCategory(ctx, CategoryInput{
		ID:             "vacation",
		Name:           "Vacation",
		GoalType:       core.GoalTargetDate,
		GoalAmount:     120_000,
		GoalTargetDate: day(2025, time.April, 30),
	}); err != nil {
		t.Fatalf("create vacation: %v", err)
	}
	if _, err := s.Allocate(ctx, AllocationInput{
		ToCategoryID: "vacation", Amount: 4_000, Date: day(2024, time.May, 1),
	}); err != nil {
		t.Fatalf("allocate: %v", err)
	}

	progress, err := s.CategoryGoalProgress(ctx, "vacation", may)
	if err != nil {
		t.Fatalf("progress: %v", err)
	}
	// May 2024 through April 2025 is twelve funding months.
	if progress.MonthsRemaining != 12 {
		t.Errorf("months remaining = %d, want 12", progress.MonthsRemaining)
	}
	if progress.MonthlyTarget != 10_000 {
		t.Errorf("monthly target = %d, want 10000", progress.MonthlyTarget)
	}
	if progress.Allocated != 4_000 || progress.Shortfall != 6_000 {
		t.Errorf("allocated/shortfall = %d/%d, want 4000/6000", progress.Allocated, progress.Shortfall)
	}

	if _, err := s.CreateCategory(ctx, CategoryInput{
		ID:            "insurance",
		Name:          "Insurance",
		GoalType:      core.GoalRecurring,
		GoalAmount:    15_000,
		GoalFrequency: core.FrequencyQuarterly,
	}); err != nil {
		t.Fatalf("create insurance: %v", err)
	}
	if _, err := s.Allocate(ctx, AllocationInput{
		ToCategoryID: "insurance", Amount: 5_000, Date: day(2024, time.May, 1),
	}); err != nil {
		t.Fatalf("allocate insurance: %v", err)
	}
	progress, err = s.CategoryGoalProgress(ctx, "insurance", may)
	if err != nil {
		t.Fatalf("insurance progress: %v", err)
	}
	if progress.MonthlyTarget != 5_000 {
		t.Errorf("quarterly monthly target = %d, want 5000", progress.MonthlyTarget)
	}
	if progress.Shortfall != 0 {
		t.Errorf("shortfall = %d, want 0", progress.Shortfall)
	}

	seedCategory(t, s, "goalless")
	if _, err := s.CategoryGoalProgress(ctx, "goalless", may); !errors.Is(err, core.ErrNotFound) {
		t.Errorf("no goal: err = %v, want not found", err)
	}
}
