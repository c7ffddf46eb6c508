package application

import (
	"context"
	"errors"
	"maps"
	"slices"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/example/medreminder/internal/adherence"
)

type catalogStub struct {
	medications []Medication
	err         error
}

func (c *catalogStub) ListAll(ctx context.Context, userID string) ([]Medication, error) {
	if c.err != nil {
		return nil, c.err
	}
	var out []Medication
	for _, medication := range c.medications {
		if medication.UserID == userID {
			out = append(out, medication)
		}
	}
	return out, nil
}

func historyEntries() []HistoryEntry {
	return []HistoryEntry{
		{ID: "h3", MedicationID: "gone", Status: adherence.StatusSnoozed, ScheduledAt: at(wednesday, 9, 0), ActualAt: at(wednesday, 9, 5)},
		{ID: "h2", MedicationID: "m", Status: adherence.StatusMissed, ScheduledAt: at(wednesday, 8, 0), ActualAt: at(wednesday, 8, 30)},
		{ID: "h1", MedicationID: "m", Status: adherence.StatusTaken, ScheduledAt: at(wednesday, 7, 0), ActualAt: at(wednesday, 7, 2)},
	}
}

func newHistoryFixture(entries []HistoryEntry) (*HistoryService, *historyLogStub, *catalogStub) {
	log := &historyLogStub{entries: entries}
	deleted := testMedication("gone", 0, 1, 0)
	deleted.Active = false
	deleted.Name = "Retired"
	catalog := &catalogStub{medications: []Medication{testMedication("m", 10, 1, 2), deleted}}
	return NewHistoryService(log, catalog, 0), log, catalog
}

func TestHistoryService_List(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		filter  HistoryFilter
		wantIDs []string
	}{
		{name: "default all", filter: "", wantIDs: []string{"h3", "h2", "h1"}},
		{name: "taken", filter: HistoryFilterTaken, wantIDs: []string{"h1"}},
		{name: "missed upper case", filter: "MISSED", wantIDs: []string{"h2"}},
		{name: "snoozed", filter: HistoryFilterSnoozed, wantIDs: []string{"h3"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			svc, _, _ := newHistoryFixture(historyEntries())
			page, err := svc.List(context.Background(), ListHistoryParams{Principal: principal, Filter: tt.filter})
			if err != nil {
				t.Fatalf("List failed: %v", err)
			}
			var ids []string
			for _, item := range page.Items {
				ids = append(ids, item.ID)
			}
			if diff := cmp.Diff(tt.wantIDs, ids); diff != "" {
				t.Errorf("items mismatch (-want +got):\n%s", diff)
			}
			want := adherence.Summary{Total: 3, Taken: 1, Missed: 1, Snoozed: 1, AdherenceRate: 33}
			if diff := cmp.Diff(want, page.Summary); diff != "" {
				t.Errorf("summary must cover the unfiltered page (-want +got):\n%s", diff)
			}
		})
	}
}

func TestHistoryService_List_EnrichesInactiveMedications(t *testing.T) {
	t.Parallel()

	svc, log, _ := newHistoryFixture(historyEntries())
	page, err := svc.List(context.Background(), ListHistoryParams{Principal: principal})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if page.Items[0].MedicationName != "Retired" {
		t.Errorf("expected soft deleted medication name, got %q", page.Items[0].MedicationName)
	}
	if page.Items[1].MedicationName != "Med m" || page.Items[1].Dose != "10mg" || page.Items[1].Form != FormTablet {
		t.Errorf("unexpected enrichment %+v", page.Items[1])
	}
	if log.lastLimit != DefaultHistoryLimit {
		t.Errorf("expected default limit %d, got %d", DefaultHistoryLimit, log.lastLimit)
	}
}

func TestHistoryService_List_Errors(t *testing.T) {
	t.Parallel()

	svc, log, catalog := newHistoryFixture(nil)

	if _, err := svc.List(context.Background(), ListHistoryParams{}); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	_, err := svc.List(context.Background(), ListHistoryParams{Principal: principal, Filter: "pending", Limit: MaxHistoryLimit + 1})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if diff := cmp.Diff([]string{"limit", "status"}, slices.Sorted(maps.Keys(vErr.FieldErrors))); diff != "" {
		t.Errorf("fields mismatch (-want +got):\n%s", diff)
	}

	catalog.err = errors.New("catalog down")
	_, err = svc.List(context.Background(), ListHistoryParams{Principal: principal, Limit: 5})
	var cErr *CollaboratorError
	if !errors.As(err, &cErr) || cErr.Op != "medications.list_all" {
		t.Fatalf("expected catalog collaborator error, got %v", err)
	}
	if log.lastLimit != 5 {
		t.Errorf("expected explicit limit to reach the log, got %d", log.lastLimit)
	}

	log.listErr = errors.New("log down")
	_, err = svc.List(context.Background(), ListHistoryParams{Principal: principal})
	if !errors.As(err, &cErr) || cErr.Op != "history.list" {
		t.Fatalf("expected history collaborator error, got %v", err)
	}
}
