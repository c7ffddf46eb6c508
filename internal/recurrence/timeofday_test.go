package recurrence

import (
	"errors"
	"testing"
	"time"
)

func TestParseTimeOfDay(t *testing.T) {
	t.Parallel()

	valid := map[string]TimeOfDay{
		"09:00": {Hour: 9},
		"9:05":  {Hour: 9, Minute: 5},
		"00:00": {},
		"23:59": {Hour: 23, Minute: 59},
		" 7:30": {Hour: 7, Minute: 30},
	}
	for input, want := range valid {
		got, err := ParseTimeOfDay(input)
		if err != nil {
			t.Fatalf("expected %q to parse, got %v", input, err)
		}
		if got != want {
			t.Fatalf("expected %v for %q, got %v", want, input, got)
		}
	}

	for _, input := range []string{"", "24:00", "12:60", "12:5", "12:00:00", "ab:cd", "-1:00", "123:00", "+1:00"} {
		if _, err := ParseTimeOfDay(input); !errors.Is(err, ErrInvalidTimeOfDay) {
			t.Fatalf("expected ErrInvalidTimeOfDay for %q, got %v", input, err)
		}
	}
}

func TestTimeOfDay_String(t *testing.T) {
	t.Parallel()

	if got := (TimeOfDay{Hour: 7, Minute: 5}).String(); got != "07:05" {
		t.Fatalf("expected 07:05, got %q", got)
	}
	if got := MustParseTimeOfDay("21:45").Minutes(); got != 21*60+45 {
		t.Fatalf("expected %d minutes, got %d", 21*60+45, got)
	}
}

func TestWeekdaySet(t *testing.T) {
	t.Parallel()

	set, err := NewWeekdaySet(time.Friday, time.Monday, time.Monday)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !set.Contains(time.Monday) || !set.Contains(time.Friday) || set.Contains(time.Sunday) {
		t.Fatalf("unexpected membership for %07b", set)
	}
	if got := set.Ints(); len(got) != 2 || got[0] != 1 || got[1] != 5 {
		t.Fatalf("expected [1 5], got %v", got)
	}
	if set.Mask() != 0b100010 {
		t.Fatalf("expected mask 34, got %d", set.Mask())
	}

	if _, err := NewWeekdaySet(time.Weekday(7)); !errors.Is(err, ErrInvalidWeekday) {
		t.Fatalf("expected ErrInvalidWeekday, got %v", err)
	}
	if _, err := WeekdaySetFromInts([]int{0, -1}); !errors.Is(err, ErrInvalidWeekday) {
		t.Fatalf("expected ErrInvalidWeekday for negative index, got %v", err)
	}
	if _, err := WeekdaySetFromMask(128); !errors.Is(err, ErrInvalidWeekday) {
		t.Fatalf("expected ErrInvalidWeekday for oversized mask, got %v", err)
	}
	if !WeekdaySet(0).Empty() || EveryDay.Empty() {
		t.Fatalf("unexpected Empty results")
	}
	if len(EveryDay.Weekdays()) != 7 {
		t.Fatalf("expected seven weekdays in EveryDay")
	}
}

func TestDate(t *testing.T) {
	t.Parallel()

	d, err := ParseDate("2024-02-28")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := d.AddDays(2).String(); got != "2024-03-01" {
		t.Fatalf("expected leap-year rollover to 2024-03-01, got %s", got)
	}
	if d.Weekday() != time.Wednesday {
		t.Fatalf("expected Wednesday, got %s", d.Weekday())
	}
	if !d.Before(d.AddDays(1)) || d.After(d.AddDays(1)) {
		t.Fatalf("unexpected date ordering")
	}
	if _, err := ParseDate("2024-13-01"); !errors.Is(err, ErrInvalidDate) {
		t.Fatalf("expected ErrInvalidDate, got %v", err)
	}
	if (Date{}).String() != "" {
		t.Fatalf("expected empty string for zero date")
	}
}
