// Package reconcile correlates fired doses with history log entries.
package reconcile

import (
	"time"

	"github.com/example/medreminder/internal/adherence"
)

// Entry is the slice of a history record the matcher needs.
type Entry struct {
	ID           string
	MedicationID string
	Status       adherence.Status
	ScheduledAt  time.Time
	ActualAt     time.Time
	CreatedAt    time.Time
}

// window is the width of the scheduled-instant range accepted for a dose.
// Due instants carry minute precision.
const window = time.Minute

// Match returns the entry recording the outcome of the dose of medicationID
// due at due.
//
// An entry matches when its medication id is equal and its scheduled instant
// lies in [due, due+1m). Instants are compared as absolute times, so entries
// written with a different offset still match. When several entries match, the
// one with the latest ActualAt wins, then the latest CreatedAt, then the one
// appearing last in entries.
func Match(entries []Entry, medicationID string, due time.Time) (Entry, bool) {
	var (
		best  Entry
		found bool
	)
	start := due.Truncate(window)
	end := start.Add(window)
	for _, entry := range entries {
		if entry.MedicationID != medicationID {
			continue
		}
		if entry.ScheduledAt.Before(start) || !entry.ScheduledAt.Before(end) {
			continue
		}
		if !found || supersedes(entry, best) {
			best = entry
			found = true
		}
	}
	return best, found
}

// supersedes reports whether candidate replaces current as the final outcome.
// Ties keep the later position, so callers iterate in input order.
func supersedes(candidate, current Entry) bool {
	if !candidate.ActualAt.Equal(current.ActualAt) {
		return candidate.ActualAt.After(current.ActualAt)
	}
	if !candidate.CreatedAt.Equal(current.CreatedAt) {
		return candidate.CreatedAt.After(current.CreatedAt)
	}
	return true
}

// Index groups entries by medication for repeated lookups.
type Index struct {
	byMedication map[string][]Entry
}

// NewIndex builds an Index. Input order is preserved per medication.
func NewIndex(entries []Entry) *Index {
	idx := &Index{byMedication: make(map[string][]Entry)}
	for _, entry := range entries {
		idx.byMedication[entry.MedicationID] = append(idx.byMedication[entry.MedicationID], entry)
	}
	return idx
}

// Match behaves like the package level Match restricted to the index contents.
func (idx *Index) Match(medicationID string, due time.Time) (Entry, bool) {
	if idx == nil {
		return Entry{}, false
	}
	return Match(idx.byMedication[medicationID], medicationID, due)
}

// Status returns the matched entry's status, or pending when none matches.
func (idx *Index) Status(medicationID string, due time.Time) (adherence.Status, string) {
	entry, ok := idx.Match(medicationID, due)
	if !ok {
		return adherence.StatusPending, ""
	}
	return entry.Status, entry.ID
}
