package reconcile

import (
	"fmt"
	"testing"
	"time"

	"github.com/example/medreminder/internal/adherence"
)

func at(t *testing.T, loc *time.Location, day, hour, minute int) time.Time {
	t.Helper()
	return time.Date(2024, time.March, day, hour, minute, 0, 0, loc)
}

func TestMatch(t *testing.T) {
	t.Parallel()

	tokyo, err := time.LoadLocation("Asia/Tokyo")
	if err != nil {
		t.Fatalf("failed to load location: %v", err)
	}
	due := at(t, tokyo, 13, 8, 0)

	t.Run("only matches the same calendar day", func(t *testing.T) {
		t.Parallel()

		entries := []Entry{
			{ID: "yesterday", MedicationID: "med-1", Status: adherence.StatusTaken, ScheduledAt: at(t, tokyo, 12, 8, 0), ActualAt: at(t, tokyo, 12, 8, 5)},
			{ID: "today", MedicationID: "med-1", Status: adherence.StatusMissed, ScheduledAt: at(t, tokyo, 13, 8, 0), ActualAt: at(t, tokyo, 13, 9, 0)},
		}
		got, ok := Match(entries, "med-1", due)
		if !ok || got.ID != "today" {
			t.Fatalf("expected today's entry, got %+v (found=%t)", got, ok)
		}
	})

	t.Run("ignores other medications and other times of day", func(t *testing.T) {
		t.Parallel()

		entries := []Entry{
			{ID: "other-med", MedicationID: "med-2", ScheduledAt: due, ActualAt: due},
			{ID: "evening", MedicationID: "med-1", ScheduledAt: at(t, tokyo, 13, 20, 0), ActualAt: at(t, tokyo, 13, 20, 1)},
			{ID: "just-before", MedicationID: "med-1", ScheduledAt: due.Add(-time.Second), ActualAt: due},
		}
		if got, ok := Match(entries, "med-1", due); ok {
			t.Fatalf("expected no match, got %+v", got)
		}
	})

	t.Run("latest actual instant wins regardless of order", func(t *testing.T) {
		t.Parallel()

		snoozed := Entry{ID: "a", MedicationID: "med-1", Status: adherence.StatusSnoozed, ScheduledAt: at(t, tokyo, 13, 9, 0), ActualAt: at(t, tokyo, 13, 10, 5)}
		taken := Entry{ID: "b", MedicationID: "med-1", Status: adherence.StatusTaken, ScheduledAt: at(t, tokyo, 13, 9, 0), ActualAt: at(t, tokyo, 13, 10, 20)}
		nine := at(t, tokyo, 13, 9, 0)

		for _, entries := range [][]Entry{{snoozed, taken}, {taken, snoozed}} {
			got, ok := Match(entries, "med-1", nine)
			if !ok || got.Status != adherence.StatusTaken {
				t.Fatalf("expected taken to win, got %+v", got)
			}
		}
	})

	t.Run("equal actual instants fall back to creation then position", func(t *testing.T) {
		t.Parallel()

		actual := at(t, tokyo, 13, 8, 30)
		first := Entry{ID: "first", MedicationID: "med-1", ScheduledAt: due, ActualAt: actual, CreatedAt: actual.Add(time.Second)}
		second := Entry{ID: "second", MedicationID: "med-1", ScheduledAt: due, ActualAt: actual, CreatedAt: actual}
		if got, _ := Match([]Entry{first, second}, "med-1", due); got.ID != "first" {
			t.Fatalf("expected later CreatedAt to win, got %s", got.ID)
		}

		third := Entry{ID: "third", MedicationID: "med-1", ScheduledAt: due, ActualAt: actual}
		fourth := Entry{ID: "fourth", MedicationID: "med-1", ScheduledAt: due, ActualAt: actual}
		if got, _ := Match([]Entry{third, fourth}, "med-1", due); got.ID != "fourth" {
			t.Fatalf("expected last appended entry to win, got %s", got.ID)
		}
	})

	t.Run("compares instants rather than representations", func(t *testing.T) {
		t.Parallel()

		entries := []Entry{
			{ID: "utc", MedicationID: "med-1", ScheduledAt: due.UTC().Add(15 * time.Second), ActualAt: due.UTC()},
		}
		if got, ok := Match(entries, "med-1", due); !ok || got.ID != "utc" {
			t.Fatalf("expected UTC encoded entry to match, got %+v", got)
		}
	})
}

func TestIndex(t *testing.T) {
	t.Parallel()

	due := time.Date(2024, time.March, 13, 8, 0, 0, 0, time.UTC)
	entries := []Entry{
		{ID: "h1", MedicationID: "med-1", Status: adherence.StatusTaken, ScheduledAt: due, ActualAt: due.Add(time.Minute)},
		{ID: "h2", MedicationID: "med-2", Status: adherence.StatusMissed, ScheduledAt: due, ActualAt: due.Add(time.Minute)},
	}
	idx := NewIndex(entries)

	if status, id := idx.Status("med-1", due); status != adherence.StatusTaken || id != "h1" {
		t.Fatalf("expected taken/h1, got %s/%s", status, id)
	}
	if status, id := idx.Status("med-3", due); status != adherence.StatusPending || id != "" {
		t.Fatalf("expected pending, got %s/%s", status, id)
	}

	var nilIndex *Index
	if _, ok := nilIndex.Match("med-1", due); ok {
		t.Fatalf("expected nil index not to match")
	}
}

func BenchmarkIndexStatus(b *testing.B) {
	due := time.Date(2024, time.March, 13, 8, 0, 0, 0, time.UTC)
	entries := make([]Entry, 0, 100)
	for i := 0; i < 100; i++ {
		entries = append(entries, Entry{
			ID:           fmt.Sprintf("h%d", i),
			MedicationID: fmt.Sprintf("med-%d", i%10),
			ScheduledAt:  due.AddDate(0, 0, -i/10),
			ActualAt:     due.AddDate(0, 0, -i/10),
		})
	}
	idx := NewIndex(entries)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		idx.Status(fmt.Sprintf("med-%d", i%10), due)
	}
}
