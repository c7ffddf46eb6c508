package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/example/medreminder/internal/adherence"
	"github.com/example/medreminder/internal/recurrence"
)

func newDataFixture(t *testing.T, medications ...Medication) (*DataService, *medicationRepoStub, *historyLogStub) {
	t.Helper()
	users := newUserStoreStub()
	users.byID["user-1"] = UserCredentials{User: User{ID: "user-1", Email: "u@example.com", DisplayName: "U", Timezone: "UTC"}}
	repo := &medicationRepoStub{medications: medications}
	log := &historyLogStub{}
	ids := 0
	svc := NewDataService(users, repo, repo, log, nil, func() string {
		ids++
		return fmt.Sprintf("new-%d", ids)
	}, func() time.Time { return at(wednesday, 12, 0) })
	return svc, repo, log
}

func TestDataService_ExportImportRoundTrip(t *testing.T) {
	t.Parallel()

	end := wednesday.AddDays(10)
	active := testMedication("a", 30, 2, 4,
		schedule("a1", "08:00", recurrence.EveryDay),
		schedule("a2", "21:30", mustDays(t, time.Monday, time.Friday)),
	)
	active.EndDate = &end
	active.Instructions = "with food"
	retired := testMedication("r", 0, 1, 0, schedule("r1", "12:00", recurrence.EveryDay))
	retired.Active = false

	source, _, sourceLog := newDataFixture(t, active, retired)
	sourceLog.entries = []HistoryEntry{
		{ID: "h2", MedicationID: "r", ScheduleID: "r1", Status: adherence.StatusMissed, ScheduledAt: at(wednesday, 12, 0), ActualAt: at(wednesday, 13, 0), CreatedAt: at(wednesday, 13, 0)},
		{ID: "h1", MedicationID: "a", ScheduleID: "a2", Status: adherence.StatusTaken, ScheduledAt: at(wednesday, 8, 0), ActualAt: at(wednesday, 8, 1), Note: "ok", CreatedAt: at(wednesday, 8, 1)},
	}

	snapshot, err := source.Export(context.Background(), principal)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}
	if snapshot.Version != SnapshotVersion || snapshot.Profile.Email != "u@example.com" {
		t.Fatalf("unexpected snapshot header %+v", snapshot)
	}
	if len(snapshot.Medications) != 2 || len(snapshot.History) != 2 {
		t.Fatalf("expected 2 medications and 2 entries, got %d and %d", len(snapshot.Medications), len(snapshot.History))
	}

	encoded, err := json.Marshal(snapshot)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded Snapshot
	if err := json.Unmarshal(encoded, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	target, repo, log := newDataFixture(t)
	result, err := target.Import(context.Background(), principal, decoded)
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if diff := cmp.Diff(ImportResult{Medications: 2, Schedules: 3, History: 2}, result); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}

	all, _ := repo.ListAll(context.Background(), "user-1")
	if len(all) != 2 {
		t.Fatalf("expected 2 medications, got %d", len(all))
	}
	imported := all[0]
	if imported.ID == "a" || imported.Name != "Med a" || imported.EndDate == nil || *imported.EndDate != end || imported.Instructions != "with food" {
		t.Errorf("unexpected imported medication %+v", imported)
	}
	if !all[0].Active || all[1].Active {
		t.Errorf("expected activity to survive the import")
	}

	newSchedule := imported.Schedules[1].ID
	var taken HistoryEntry
	for _, entry := range log.entries {
		if entry.Status == adherence.StatusTaken {
			taken = entry
		}
	}
	if taken.MedicationID != imported.ID || taken.ScheduleID != newSchedule || taken.Note != "ok" {
		t.Errorf("history not remapped: %+v", taken)
	}
	if !taken.ScheduledAt.Equal(at(wednesday, 8, 0)) {
		t.Errorf("scheduled instant changed: %v", taken.ScheduledAt)
	}
}

func TestDataService_Import_Validation(t *testing.T) {
	t.Parallel()

	svc, repo, log := newDataFixture(t)

	_, err := svc.Import(context.Background(), principal, Snapshot{Version: 2})
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	if _, ok := vErr.FieldErrors["version"]; !ok {
		t.Errorf("expected version error, got %v", vErr.FieldErrors)
	}

	snapshot := Snapshot{
		Version: SnapshotVersion,
		Medications: []SnapshotMedication{
			{ID: "ok", Name: "Fine", Dose: "1", Form: "tablet", UnitsPerDose: 1, StartDate: "2024-01-01", Active: true, Schedules: []SnapshotSchedule{{ID: "s", Time: "08:00"}}},
			{ID: "bad", Name: "Broken", Dose: "1", Form: "tablet", UnitsPerDose: 1, StartDate: "2024-01-01", Schedules: []SnapshotSchedule{{Time: "99:00"}}},
		},
		History: []SnapshotEntry{
			{MedicationID: "ok", Status: "pending", ScheduledAt: at(wednesday, 8, 0)},
		},
	}
	_, err = svc.Import(context.Background(), principal, snapshot)
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}
	for _, field := range []string{"medications[1].schedules[0].time", "history[0].status"} {
		if _, ok := vErr.FieldErrors[field]; !ok {
			t.Errorf("expected %s error, got %v", field, vErr.FieldErrors)
		}
	}
	if len(repo.created) != 0 || len(log.entries) != 0 {
		t.Errorf("a rejected snapshot must not write anything")
	}
}

func TestDataService_Import_SkipsOrphanHistory(t *testing.T) {
	t.Parallel()

	svc, _, log := newDataFixture(t)
	result, err := svc.Import(context.Background(), principal, Snapshot{
		Version: SnapshotVersion,
		History: []SnapshotEntry{{MedicationID: "unknown", Status: "taken", ScheduledAt: at(wednesday, 8, 0)}},
	})
	if err != nil {
		t.Fatalf("Import failed: %v", err)
	}
	if result.SkippedHistory != 1 || len(log.entries) != 0 {
		t.Errorf("expected orphan entry skipped, got %+v", result)
	}
}

func TestDataService_RequiresPrincipal(t *testing.T) {
	t.Parallel()

	svc, _, _ := newDataFixture(t)
	if _, err := svc.Export(context.Background(), Principal{}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized from Export, got %v", err)
	}
	if _, err := svc.Import(context.Background(), Principal{}, Snapshot{Version: SnapshotVersion}); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("expected ErrUnauthorized from Import, got %v", err)
	}
}
