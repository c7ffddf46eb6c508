package recurrence

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidWeekday indicates a weekday index outside 0 (Sunday) to 6 (Saturday).
var ErrInvalidWeekday = errors.New("recurrence: invalid weekday")

// WeekdaySet is a bitmask of active weekdays. Bit n is set when
// time.Weekday(n) is active.
type WeekdaySet uint8

// EveryDay contains all seven weekdays.
const EveryDay WeekdaySet = 1<<7 - 1

// NewWeekdaySet builds a set from the supplied weekdays. Duplicates are ignored.
func NewWeekdaySet(days ...time.Weekday) (WeekdaySet, error) {
	var set WeekdaySet
	for _, day := range days {
		if day < time.Sunday || day > time.Saturday {
			return 0, fmt.Errorf("%w: %d", ErrInvalidWeekday, int(day))
		}
		set |= 1 << uint(day)
	}
	return set, nil
}

// WeekdaySetFromInts converts numeric weekday indexes into a set.
func WeekdaySetFromInts(days []int) (WeekdaySet, error) {
	converted := make([]time.Weekday, 0, len(days))
	for _, day := range days {
		converted = append(converted, time.Weekday(day))
	}
	return NewWeekdaySet(converted...)
}

// WeekdaySetFromMask validates a stored bitmask.
func WeekdaySetFromMask(mask int) (WeekdaySet, error) {
	if mask < 0 || mask > int(EveryDay) {
		return 0, fmt.Errorf("%w: mask %d", ErrInvalidWeekday, mask)
	}
	return WeekdaySet(mask), nil
}

// Contains reports whether day is active.
func (s WeekdaySet) Contains(day time.Weekday) bool {
	if day < time.Sunday || day > time.Saturday {
		return false
	}
	return s&(1<<uint(day)) != 0
}

// Empty reports whether no weekday is active.
func (s WeekdaySet) Empty() bool {
	return s&EveryDay == 0
}

// Mask returns the numeric bitmask for storage.
func (s WeekdaySet) Mask() int {
	return int(s & EveryDay)
}

// Weekdays lists the active days in Sunday-first order.
func (s WeekdaySet) Weekdays() []time.Weekday {
	days := make([]time.Weekday, 0, 7)
	for day := time.Sunday; day <= time.Saturday; day++ {
		if s.Contains(day) {
			days = append(days, day)
		}
	}
	return days
}

// Ints lists the active days as numeric indexes.
func (s WeekdaySet) Ints() []int {
	days := s.Weekdays()
	out := make([]int, len(days))
	for i, day := range days {
		out[i] = int(day)
	}
	return out
}
