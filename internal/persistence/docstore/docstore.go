// Package docstore keeps medications and dose history in Cloud Firestore.
//
// Schedules are embedded in their medication document. History entries live
// in their own collection and are queried by user ordered by actualAt, which
// needs a composite index on (userId, actualAt desc) outside the emulator.
package docstore

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/example/medreminder/internal/persistence"
)

const (
	medicationsCollection = "Medications"
	historyCollection     = "History"
)

// Store implements persistence.MedicationRepository and
// persistence.HistoryRepository.
type Store struct {
	client *firestore.Client
}

var (
	_ persistence.MedicationRepository = (*Store)(nil)
	_ persistence.HistoryRepository    = (*Store)(nil)
)

// New wraps an existing client.
func New(client *firestore.Client) *Store {
	return &Store{client: client}
}

// Open connects to the project. FIRESTORE_EMULATOR_HOST is honoured by the
// client library.
func Open(ctx context.Context, projectID string) (*Store, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("docstore: connect to %s: %w", projectID, err)
	}
	return New(client), nil
}

// Close releases the client.
func (s *Store) Close() error {
	return s.client.Close()
}

type scheduleDoc struct {
	ID        string    `firestore:"id"`
	TimeOfDay string    `firestore:"timeOfDay"`
	Weekdays  []int64   `firestore:"weekdays"`
	CreatedAt time.Time `firestore:"createdAt"`
}

type medicationDoc struct {
	UserID          string        `firestore:"userId"`
	Name            string        `firestore:"name"`
	Dose            string        `firestore:"dose"`
	Form            string        `firestore:"form"`
	Quantity        int64         `firestore:"quantity"`
	UnitsPerDose    int64         `firestore:"unitsPerDose"`
	RefillThreshold int64         `firestore:"refillThreshold"`
	Instructions    string        `firestore:"instructions"`
	StartDate       string        `firestore:"startDate"`
	EndDate         *string       `firestore:"endDate"`
	Active          bool          `firestore:"active"`
	CreatedAt       time.Time     `firestore:"createdAt"`
	UpdatedAt       time.Time     `firestore:"updatedAt"`
	Schedules       []scheduleDoc `firestore:"schedules"`
}

type historyDoc struct {
	UserID       string    `firestore:"userId"`
	MedicationID string    `firestore:"medicationId"`
	ScheduleID   string    `firestore:"scheduleId"`
	Status       string    `firestore:"status"`
	ScheduledAt  time.Time `firestore:"scheduledAt"`
	ActualAt     time.Time `firestore:"actualAt"`
	Note         string    `firestore:"note"`
	CreatedAt    time.Time `firestore:"createdAt"`
}

func toScheduleDocs(schedules []persistence.Schedule) ([]scheduleDoc, error) {
	docs := make([]scheduleDoc, 0, len(schedules))
	seen := make(map[string]struct{}, len(schedules))
	for _, schedule := range schedules {
		if schedule.ID == "" {
			return nil, persistence.ErrConstraintViolation
		}
		if _, dup := seen[schedule.ID]; dup {
			return nil, persistence.ErrDuplicate
		}
		seen[schedule.ID] = struct{}{}
		weekdays := make([]int64, 0, len(schedule.Weekdays))
		for _, day := range schedule.Weekdays {
			weekdays = append(weekdays, int64(day))
		}
		docs = append(docs, scheduleDoc{
			ID:        schedule.ID,
			TimeOfDay: schedule.TimeOfDay,
			Weekdays:  weekdays,
			CreatedAt: schedule.CreatedAt.UTC(),
		})
	}
	return docs, nil
}

func toMedicationDoc(medication persistence.Medication) (medicationDoc, error) {
	schedules, err := toScheduleDocs(medication.Schedules)
	if err != nil {
		return medicationDoc{}, err
	}
	return medicationDoc{
		UserID:          medication.UserID,
		Name:            medication.Name,
		Dose:            medication.Dose,
		Form:            medication.Form,
		Quantity:        int64(medication.Quantity),
		UnitsPerDose:    int64(medication.UnitsPerDose),
		RefillThreshold: int64(medication.RefillThreshold),
		Instructions:    medication.Instructions,
		StartDate:       medication.StartDate,
		EndDate:         medication.EndDate,
		Active:          medication.Active,
		CreatedAt:       medication.CreatedAt.UTC(),
		UpdatedAt:       medication.UpdatedAt.UTC(),
		Schedules:       schedules,
	}, nil
}

func fromMedicationDoc(id string, doc medicationDoc) persistence.Medication {
	medication := persistence.Medication{
		ID:              id,
		UserID:          doc.UserID,
		Name:            doc.Name,
		Dose:            doc.Dose,
		Form:            doc.Form,
		Quantity:        int(doc.Quantity),
		UnitsPerDose:    int(doc.UnitsPerDose),
		RefillThreshold: int(doc.RefillThreshold),
		Instructions:    doc.Instructions,
		StartDate:       doc.StartDate,
		EndDate:         doc.EndDate,
		Active:          doc.Active,
		CreatedAt:       doc.CreatedAt,
		UpdatedAt:       doc.UpdatedAt,
		Schedules:       make([]persistence.Schedule, 0, len(doc.Schedules)),
	}
	for _, schedule := range doc.Schedules {
		weekdays := make([]time.Weekday, 0, len(schedule.Weekdays))
		for _, day := range schedule.Weekdays {
			weekdays = append(weekdays, time.Weekday(day))
		}
		medication.Schedules = append(medication.Schedules, persistence.Schedule{
			ID:           schedule.ID,
			MedicationID: id,
			TimeOfDay:    schedule.TimeOfDay,
			Weekdays:     weekdays,
			CreatedAt:    schedule.CreatedAt,
		})
	}
	return medication
}

// mapError converts gRPC status codes returned by the client into
// persistence sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.NotFound:
		return fmt.Errorf("docstore: %w", persistence.ErrNotFound)
	case codes.AlreadyExists:
		return fmt.Errorf("docstore: %w", persistence.ErrDuplicate)
	case codes.FailedPrecondition:
		return fmt.Errorf("docstore: %w: %v", persistence.ErrConstraintViolation, err)
	default:
		return fmt.Errorf("docstore: %w", err)
	}
}

// CreateMedication stores a new medication document.
func (s *Store) CreateMedication(ctx context.Context, medication persistence.Medication) error {
	if medication.ID == "" || medication.UserID == "" {
		return persistence.ErrConstraintViolation
	}
	doc, err := toMedicationDoc(medication)
	if err != nil {
		return err
	}
	_, err = s.client.Collection(medicationsCollection).Doc(medication.ID).Create(ctx, doc)
	return mapError(err)
}

// UpdateMedication replaces the medication attributes, keeping its schedules.
func (s *Store) UpdateMedication(ctx context.Context, medication persistence.Medication) error {
	_, err := s.client.Collection(medicationsCollection).Doc(medication.ID).Update(ctx, []firestore.Update{
		{Path: "name", Value: medication.Name},
		{Path: "dose", Value: medication.Dose},
		{Path: "form", Value: medication.Form},
		{Path: "quantity", Value: int64(medication.Quantity)},
		{Path: "unitsPerDose", Value: int64(medication.UnitsPerDose)},
		{Path: "refillThreshold", Value: int64(medication.RefillThreshold)},
		{Path: "instructions", Value: medication.Instructions},
		{Path: "startDate", Value: medication.StartDate},
		{Path: "endDate", Value: medication.EndDate},
		{Path: "active", Value: medication.Active},
		{Path: "updatedAt", Value: medication.UpdatedAt.UTC()},
	})
	return mapError(err)
}

// GetMedication retrieves a medication with its schedules.
func (s *Store) GetMedication(ctx context.Context, id string) (persistence.Medication, error) {
	snapshot, err := s.client.Collection(medicationsCollection).Doc(id).Get(ctx)
	if err != nil {
		return persistence.Medication{}, mapError(err)
	}
	var doc medicationDoc
	if err := snapshot.DataTo(&doc); err != nil {
		return persistence.Medication{}, fmt.Errorf("docstore: decode medication %s: %w", id, err)
	}
	return fromMedicationDoc(snapshot.Ref.ID, doc), nil
}

// ListMedications returns the user's medications, newest first.
func (s *Store) ListMedications(ctx context.Context, userID string, includeInactive bool) ([]persistence.Medication, error) {
	query := s.client.Collection(medicationsCollection).Where("userId", "==", userID)
	if !includeInactive {
		query = query.Where("active", "==", true)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	medications := make([]persistence.Medication, 0)
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("docstore: list medications of %s: %w", userID, err)
		}
		var doc medicationDoc
		if err := snapshot.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("docstore: decode medication %s: %w", snapshot.Ref.ID, err)
		}
		medications = append(medications, fromMedicationDoc(snapshot.Ref.ID, doc))
	}

	sort.Slice(medications, func(i, j int) bool {
		if medications[i].CreatedAt.Equal(medications[j].CreatedAt) {
			return medications[i].ID < medications[j].ID
		}
		return medications[i].CreatedAt.After(medications[j].CreatedAt)
	})
	return medications, nil
}

// SoftDeleteMedication clears the active flag.
func (s *Store) SoftDeleteMedication(ctx context.Context, id string, deletedAt time.Time) error {
	_, err := s.client.Collection(medicationsCollection).Doc(id).Update(ctx, []firestore.Update{
		{Path: "active", Value: false},
		{Path: "updatedAt", Value: deletedAt.UTC()},
	})
	return mapError(err)
}

// ReplaceSchedules overwrites the embedded schedule list.
func (s *Store) ReplaceSchedules(ctx context.Context, medicationID string, schedules []persistence.Schedule) error {
	docs, err := toScheduleDocs(schedules)
	if err != nil {
		return err
	}
	_, err = s.client.Collection(medicationsCollection).Doc(medicationID).Update(ctx, []firestore.Update{
		{Path: "schedules", Value: docs},
	})
	return mapError(err)
}

// AppendHistory adds an entry after checking its medication exists.
func (s *Store) AppendHistory(ctx context.Context, entry persistence.HistoryEntry) error {
	if entry.ID == "" || entry.UserID == "" || entry.MedicationID == "" {
		return persistence.ErrConstraintViolation
	}
	medicationRef := s.client.Collection(medicationsCollection).Doc(entry.MedicationID)
	entryRef := s.client.Collection(historyCollection).Doc(entry.ID)
	doc := historyDoc{
		UserID:       entry.UserID,
		MedicationID: entry.MedicationID,
		ScheduleID:   entry.ScheduleID,
		Status:       entry.Status,
		ScheduledAt:  entry.ScheduledAt.UTC(),
		ActualAt:     entry.ActualAt.UTC(),
		Note:         entry.Note,
		CreatedAt:    entry.CreatedAt.UTC(),
	}

	err := s.client.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		if _, err := tx.Get(medicationRef); err != nil {
			if status.Code(err) == codes.NotFound {
				return persistence.ErrForeignKeyViolation
			}
			return err
		}
		return tx.Create(entryRef, doc)
	})
	if errors.Is(err, persistence.ErrForeignKeyViolation) {
		return err
	}
	return mapError(err)
}

// ListHistory returns at most limit entries for the user, newest actual
// instant first. A non-positive limit returns every entry.
func (s *Store) ListHistory(ctx context.Context, userID string, limit int) ([]persistence.HistoryEntry, error) {
	query := s.client.Collection(historyCollection).
		Where("userId", "==", userID).
		OrderBy("actualAt", firestore.Desc)
	if limit > 0 {
		query = query.Limit(limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	entries := make([]persistence.HistoryEntry, 0)
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("docstore: list history of %s: %w", userID, err)
		}
		var doc historyDoc
		if err := snapshot.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("docstore: decode history entry %s: %w", snapshot.Ref.ID, err)
		}
		entries = append(entries, persistence.HistoryEntry{
			ID:           snapshot.Ref.ID,
			UserID:       doc.UserID,
			MedicationID: doc.MedicationID,
			ScheduleID:   doc.ScheduleID,
			Status:       doc.Status,
			ScheduledAt:  doc.ScheduledAt,
			ActualAt:     doc.ActualAt,
			Note:         doc.Note,
			CreatedAt:    doc.CreatedAt,
		})
	}
	return entries, nil
}
