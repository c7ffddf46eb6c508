package docstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/medreminder/internal/persistence"
)

var reference = time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)

func sampleMedication(id, userID string) persistence.Medication {
	end := "2024-04-01"
	return persistence.Medication{
		ID:              id,
		UserID:          userID,
		Name:            "Levothyroxine",
		Dose:            "50mcg",
		Form:            "tablet",
		Quantity:        90,
		UnitsPerDose:    1,
		RefillThreshold: 10,
		StartDate:       "2024-03-01",
		EndDate:         &end,
		Active:          true,
		CreatedAt:       reference,
		UpdatedAt:       reference,
		Schedules: []persistence.Schedule{
			{ID: id + "-am", MedicationID: id, TimeOfDay: "07:00", Weekdays: []time.Weekday{time.Monday, time.Friday}, CreatedAt: reference},
		},
	}
}

func TestMedicationDocRoundTrip(t *testing.T) {
	t.Parallel()

	medication := sampleMedication("m1", "u1")
	doc, err := toMedicationDoc(medication)
	if err != nil {
		t.Fatalf("toMedicationDoc: %v", err)
	}
	if diff := cmp.Diff([]int64{1, 5}, doc.Schedules[0].Weekdays); diff != "" {
		t.Errorf("weekday encoding mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(medication, fromMedicationDoc("m1", doc)); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestToScheduleDocsRejectsBadInput(t *testing.T) {
	t.Parallel()

	if _, err := toScheduleDocs([]persistence.Schedule{{ID: ""}}); !errors.Is(err, persistence.ErrConstraintViolation) {
		t.Errorf("expected ErrConstraintViolation, got %v", err)
	}
	if _, err := toScheduleDocs([]persistence.Schedule{{ID: "a"}, {ID: "a"}}); !errors.Is(err, persistence.ErrDuplicate) {
		t.Errorf("expected ErrDuplicate, got %v", err)
	}
}

func TestMapError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code codes.Code
		want error
	}{
		{codes.NotFound, persistence.ErrNotFound},
		{codes.AlreadyExists, persistence.ErrDuplicate},
		{codes.FailedPrecondition, persistence.ErrConstraintViolation},
	}
	for _, tt := range tests {
		t.Run(tt.code.String(), func(t *testing.T) {
			t.Parallel()
			if err := mapError(status.Error(tt.code, "x")); !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
		})
	}

	if mapError(nil) != nil {
		t.Errorf("expected nil for nil")
	}
	cause := errors.New("unavailable")
	if err := mapError(cause); !errors.Is(err, cause) {
		t.Errorf("expected cause preserved, got %v", err)
	}
}

// TestStoreAgainstEmulator runs when FIRESTORE_EMULATOR_HOST points at a
// running emulator.
func TestStoreAgainstEmulator(t *testing.T) {
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	ctx := context.Background()
	store, err := Open(ctx, "medreminder-test")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	suffix := fmt.Sprintf("%d", time.Now().UnixNano())
	userID := "user-" + suffix
	id := "med-" + suffix
	medication := sampleMedication(id, userID)

	if err := store.CreateMedication(ctx, medication); err != nil {
		t.Fatalf("CreateMedication: %v", err)
	}
	if err := store.CreateMedication(ctx, medication); !errors.Is(err, persistence.ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}

	got, err := store.GetMedication(ctx, id)
	if err != nil {
		t.Fatalf("GetMedication: %v", err)
	}
	if diff := cmp.Diff(medication, got); diff != "" {
		t.Errorf("GetMedication mismatch (-want +got):\n%s", diff)
	}

	medication.Quantity = 89
	medication.EndDate = nil
	if err := store.UpdateMedication(ctx, medication); err != nil {
		t.Fatalf("UpdateMedication: %v", err)
	}
	replacement := []persistence.Schedule{{ID: "pm", TimeOfDay: "19:30", Weekdays: []time.Weekday{time.Sunday}, CreatedAt: reference}}
	if err := store.ReplaceSchedules(ctx, id, replacement); err != nil {
		t.Fatalf("ReplaceSchedules: %v", err)
	}
	got, _ = store.GetMedication(ctx, id)
	if got.Quantity != 89 || got.EndDate != nil || len(got.Schedules) != 1 || got.Schedules[0].ID != "pm" {
		t.Errorf("unexpected medication after update %+v", got)
	}

	for i, outcome := range []string{"taken", "missed", "snoozed"} {
		at := reference.Add(time.Duration(i) * time.Hour)
		if err := store.AppendHistory(ctx, persistence.HistoryEntry{
			ID: fmt.Sprintf("%s-%d", suffix, i), UserID: userID, MedicationID: id, ScheduleID: "pm",
			Status: outcome, ScheduledAt: at, ActualAt: at, CreatedAt: at,
		}); err != nil {
			t.Fatalf("AppendHistory: %v", err)
		}
	}
	if err := store.AppendHistory(ctx, persistence.HistoryEntry{ID: "orphan-" + suffix, UserID: userID, MedicationID: "missing", Status: "taken"}); !errors.Is(err, persistence.ErrForeignKeyViolation) {
		t.Errorf("expected ErrForeignKeyViolation, got %v", err)
	}

	entries, err := store.ListHistory(ctx, userID, 2)
	if err != nil {
		t.Fatalf("ListHistory: %v", err)
	}
	if len(entries) != 2 || entries[0].Status != "snoozed" || entries[1].Status != "missed" {
		t.Errorf("unexpected history %+v", entries)
	}

	if err := store.SoftDeleteMedication(ctx, id, reference); err != nil {
		t.Fatalf("SoftDeleteMedication: %v", err)
	}
	active, _ := store.ListMedications(ctx, userID, false)
	all, _ := store.ListMedications(ctx, userID, true)
	if len(active) != 0 || len(all) != 1 {
		t.Errorf("expected only an inactive medication, got active=%d all=%d", len(active), len(all))
	}
	if err := store.SoftDeleteMedication(ctx, "missing-"+suffix, reference); !errors.Is(err, persistence.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
