// Package adherence derives dose statuses and aggregate counters.
package adherence

import (
	"errors"
	"fmt"
	"strings"
)

// Status is the outcome attached to a dose.
type Status string

const (
	// StatusPending marks a dose with no recorded outcome.
	StatusPending Status = "pending"
	StatusTaken   Status = "taken"
	StatusMissed  Status = "missed"
	StatusSnoozed Status = "snoozed"
)

// ErrInvalidStatus indicates an unknown status string.
var ErrInvalidStatus = errors.New("adherence: invalid status")

// ParseStatus converts a stored or user supplied status.
func ParseStatus(value string) (Status, error) {
	switch s := Status(strings.ToLower(strings.TrimSpace(value))); s {
	case StatusPending, StatusTaken, StatusMissed, StatusSnoozed:
		return s, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, value)
	}
}

// Recorded reports whether the status can appear in the history log.
func (s Status) Recorded() bool {
	return s == StatusTaken || s == StatusMissed || s == StatusSnoozed
}

// Summary aggregates statuses.
type Summary struct {
	Total         int
	Taken         int
	Missed        int
	Snoozed       int
	Pending       int
	AdherenceRate int
}

// Summarize counts statuses and derives the adherence rate.
func Summarize(statuses []Status) Summary {
	summary := Summary{Total: len(statuses)}
	for _, status := range statuses {
		switch status {
		case StatusTaken:
			summary.Taken++
		case StatusMissed:
			summary.Missed++
		case StatusSnoozed:
			summary.Snoozed++
		default:
			summary.Pending++
		}
	}
	summary.AdherenceRate = Rate(summary.Taken, summary.Total)
	return summary
}

// Rate returns round(100 * taken / total) with halves rounded up, or 0 when
// total is not positive.
func Rate(taken, total int) int {
	if total <= 0 || taken <= 0 {
		return 0
	}
	return (200*taken + total) / (2 * total)
}
