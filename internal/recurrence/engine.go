package recurrence

import (
	"errors"
	"time"
)

// ErrEmptyWeekdays indicates a rule was created without any active weekday.
var ErrEmptyWeekdays = errors.New("recurrence: at least one weekday is required")

// Rule describes a weekly recurring time-of-day.
type Rule struct {
	ScheduleID string
	At         TimeOfDay
	Days       WeekdaySet
	// StartsOn and EndsOn bound the dates the rule is allowed to fire on.
	// A zero StartsOn and nil EndsOn leave the rule unbounded.
	StartsOn Date
	EndsOn   *Date
}

// Validate reports malformed rules. Evaluate never fires invalid rules, so
// input paths should call Validate to surface the reason.
func (r Rule) Validate() error {
	if !r.At.Valid() {
		return ErrInvalidTimeOfDay
	}
	if r.Days.Empty() {
		return ErrEmptyWeekdays
	}
	if r.EndsOn != nil && !r.StartsOn.IsZero() && r.EndsOn.Before(r.StartsOn) {
		return ErrInvalidDate
	}
	return nil
}

// Engine resolves rules against calendar dates in a single location.
type Engine struct {
	location *time.Location
}

// NewEngine constructs an Engine evaluating dates in loc. If loc is nil, UTC is used.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{location: loc}
}

// Location returns the engine's timezone.
func (e *Engine) Location() *time.Location {
	if e == nil || e.location == nil {
		return time.UTC
	}
	return e.location
}

// Evaluate reports whether rule fires on date and, if it does, the due instant.
//
//   - The rule fires iff its weekday set contains the date's weekday (Sunday = 0).
//   - The due instant is the date at the rule's hour and minute, zero seconds,
//     in the engine's location.
//   - An empty weekday set or an invalid time-of-day never fires.
func (e *Engine) Evaluate(rule Rule, date Date) (time.Time, bool) {
	if date.IsZero() || !rule.At.Valid() {
		return time.Time{}, false
	}
	if !rule.Days.Contains(date.Weekday()) {
		return time.Time{}, false
	}
	if !rule.StartsOn.IsZero() && date.Before(rule.StartsOn) {
		return time.Time{}, false
	}
	if rule.EndsOn != nil && date.After(*rule.EndsOn) {
		return time.Time{}, false
	}
	return combineDateTime(date, rule.At, e.Location()), true
}

// DayBounds returns the half-open interval [start, end) covering date in the
// engine's location.
func (e *Engine) DayBounds(date Date) (time.Time, time.Time) {
	loc := e.Location()
	start := date.midnight(loc)
	end := time.Date(date.Year, date.Month, date.Day+1, 0, 0, 0, 0, loc)
	return start, end
}

// Today returns the calendar day now falls on in the engine's location.
func (e *Engine) Today(now time.Time) Date {
	return DateOf(now, e.Location())
}

func combineDateTime(date Date, at TimeOfDay, loc *time.Location) time.Time {
	return time.Date(date.Year, date.Month, date.Day, at.Hour, at.Minute, 0, 0, loc)
}
