package recurrence

import (
	"errors"
	"testing"
	"time"
)

func mustLocation(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("failed to load location %s: %v", name, err)
	}
	return loc
}

func mustWeekdays(t *testing.T, days ...time.Weekday) WeekdaySet {
	t.Helper()
	set, err := NewWeekdaySet(days...)
	if err != nil {
		t.Fatalf("failed to build weekday set: %v", err)
	}
	return set
}

func TestEngine_Evaluate(t *testing.T) {
	t.Parallel()

	tokyo := mustLocation(t, "Asia/Tokyo")
	engine := NewEngine(tokyo)
	rule := Rule{
		ScheduleID: "schedule-1",
		At:         MustParseTimeOfDay("09:00"),
		Days:       mustWeekdays(t, time.Monday, time.Wednesday, time.Friday),
	}

	t.Run("does not fire on an unselected weekday", func(t *testing.T) {
		t.Parallel()

		tuesday := Date{Year: 2024, Month: time.March, Day: 12}
		if _, fires := engine.Evaluate(rule, tuesday); fires {
			t.Fatalf("expected rule not to fire on %s", tuesday)
		}
	})

	t.Run("fires on a selected weekday at the local time", func(t *testing.T) {
		t.Parallel()

		wednesday := Date{Year: 2024, Month: time.March, Day: 13}
		due, fires := engine.Evaluate(rule, wednesday)
		if !fires {
			t.Fatalf("expected rule to fire on %s", wednesday)
		}
		expected := time.Date(2024, time.March, 13, 9, 0, 0, 0, tokyo)
		if !due.Equal(expected) {
			t.Fatalf("expected due %s, got %s", expected, due)
		}
		if due.Location() != tokyo {
			t.Fatalf("expected due instant in %s, got %s", tokyo, due.Location())
		}
		if due.Second() != 0 || due.Nanosecond() != 0 {
			t.Fatalf("expected zero seconds, got %s", due)
		}
	})

	t.Run("empty weekday set never fires", func(t *testing.T) {
		t.Parallel()

		empty := Rule{At: MustParseTimeOfDay("08:00")}
		start := Date{Year: 2024, Month: time.March, Day: 10}
		for i := 0; i < 14; i++ {
			if _, fires := engine.Evaluate(empty, start.AddDays(i)); fires {
				t.Fatalf("expected empty weekday set not to fire on %s", start.AddDays(i))
			}
		}
	})

	t.Run("fires iff the weekday is selected", func(t *testing.T) {
		t.Parallel()

		for mask := 0; mask <= int(EveryDay); mask++ {
			set, err := WeekdaySetFromMask(mask)
			if err != nil {
				t.Fatalf("unexpected error for mask %d: %v", mask, err)
			}
			r := Rule{At: MustParseTimeOfDay("07:30"), Days: set}
			start := Date{Year: 2024, Month: time.March, Day: 10}
			for i := 0; i < 7; i++ {
				date := start.AddDays(i)
				_, fires := engine.Evaluate(r, date)
				if fires != set.Contains(date.Weekday()) {
					t.Fatalf("mask %07b on %s: expected fires=%t, got %t", mask, date, set.Contains(date.Weekday()), fires)
				}
			}
		}
	})

	t.Run("respects start and end dates", func(t *testing.T) {
		t.Parallel()

		end := Date{Year: 2024, Month: time.March, Day: 15}
		bounded := Rule{
			At:       MustParseTimeOfDay("20:15"),
			Days:     EveryDay,
			StartsOn: Date{Year: 2024, Month: time.March, Day: 13},
			EndsOn:   &end,
		}

		cases := map[Date]bool{
			{Year: 2024, Month: time.March, Day: 12}: false,
			{Year: 2024, Month: time.March, Day: 13}: true,
			{Year: 2024, Month: time.March, Day: 15}: true,
			{Year: 2024, Month: time.March, Day: 16}: false,
		}
		for date, want := range cases {
			if _, fires := engine.Evaluate(bounded, date); fires != want {
				t.Fatalf("expected fires=%t on %s, got %t", want, date, fires)
			}
		}
	})

	t.Run("invalid time of day never fires", func(t *testing.T) {
		t.Parallel()

		invalid := Rule{At: TimeOfDay{Hour: 24}, Days: EveryDay}
		if _, fires := engine.Evaluate(invalid, Date{Year: 2024, Month: time.March, Day: 13}); fires {
			t.Fatalf("expected invalid rule not to fire")
		}
	})
}

func TestEngine_DayBounds(t *testing.T) {
	t.Parallel()

	newYork := mustLocation(t, "America/New_York")
	engine := NewEngine(newYork)

	start, end := engine.DayBounds(Date{Year: 2024, Month: time.March, Day: 10})
	if !start.Equal(time.Date(2024, time.March, 10, 0, 0, 0, 0, newYork)) {
		t.Fatalf("unexpected start %s", start)
	}
	if got := end.Sub(start); got != 23*time.Hour {
		t.Fatalf("expected the spring-forward day to last 23h, got %s", got)
	}
}

func TestEngine_DefaultsToUTC(t *testing.T) {
	t.Parallel()

	engine := NewEngine(nil)
	if engine.Location() != time.UTC {
		t.Fatalf("expected UTC, got %s", engine.Location())
	}

	now := time.Date(2024, time.March, 13, 23, 30, 0, 0, time.FixedZone("UTC-5", -5*60*60))
	if got := engine.Today(now); got != (Date{Year: 2024, Month: time.March, Day: 14}) {
		t.Fatalf("expected 2024-03-14, got %s", got)
	}
}

func TestRule_Validate(t *testing.T) {
	t.Parallel()

	if err := (Rule{At: MustParseTimeOfDay("09:00"), Days: EveryDay}).Validate(); err != nil {
		t.Fatalf("expected valid rule, got %v", err)
	}
	if err := (Rule{At: MustParseTimeOfDay("09:00")}).Validate(); !errors.Is(err, ErrEmptyWeekdays) {
		t.Fatalf("expected ErrEmptyWeekdays, got %v", err)
	}
	if err := (Rule{At: TimeOfDay{Minute: 60}, Days: EveryDay}).Validate(); !errors.Is(err, ErrInvalidTimeOfDay) {
		t.Fatalf("expected ErrInvalidTimeOfDay, got %v", err)
	}
	end := Date{Year: 2024, Month: time.January, Day: 1}
	backwards := Rule{At: MustParseTimeOfDay("09:00"), Days: EveryDay, StartsOn: Date{Year: 2024, Month: time.February, Day: 1}, EndsOn: &end}
	if err := backwards.Validate(); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
}
