package bridge

import (
	"context"
	"time"

	"github.com/example/medreminder/internal/application"
	"github.com/example/medreminder/internal/persistence"
)

// Medications serves application.MedicationRepository and
// application.MedicationCatalog from a persistence.MedicationRepository.
type Medications struct {
	repo persistence.MedicationRepository
	now  func() time.Time
}

// NewMedications wraps repo.
func NewMedications(repo persistence.MedicationRepository, now func() time.Time) *Medications {
	if now == nil {
		now = time.Now
	}
	return &Medications{repo: repo, now: now}
}

var (
	_ application.MedicationRepository = (*Medications)(nil)
	_ application.MedicationCatalog    = (*Medications)(nil)
)

// ListActive returns the user's active medications, newest first.
func (m *Medications) ListActive(ctx context.Context, userID string) ([]application.Medication, error) {
	return m.list(ctx, userID, false)
}

// ListAll returns every medication of the user, soft deleted ones included.
func (m *Medications) ListAll(ctx context.Context, userID string) ([]application.Medication, error) {
	return m.list(ctx, userID, true)
}

func (m *Medications) list(ctx context.Context, userID string, includeInactive bool) ([]application.Medication, error) {
	records, err := m.repo.ListMedications(ctx, userID, includeInactive)
	if err != nil {
		return nil, mapError(err)
	}
	medications := make([]application.Medication, 0, len(records))
	for _, record := range records {
		medication, err := toMedication(record)
		if err != nil {
			return nil, err
		}
		medications = append(medications, medication)
	}
	return medications, nil
}

// Create stores a new active medication with its schedules.
func (m *Medications) Create(ctx context.Context, userID string, attrs application.MedicationAttributes) (string, error) {
	createdAt := attrs.CreatedAt
	if createdAt.IsZero() {
		createdAt = m.now()
	}
	record := fromMedication(application.Medication{
		ID:              attrs.ID,
		UserID:          userID,
		Name:            attrs.Name,
		Dose:            attrs.Dose,
		Form:            attrs.Form,
		Quantity:        attrs.Quantity,
		UnitsPerDose:    attrs.UnitsPerDose,
		RefillThreshold: attrs.RefillThreshold,
		Instructions:    attrs.Instructions,
		StartDate:       attrs.StartDate,
		EndDate:         attrs.EndDate,
		Active:          true,
		CreatedAt:       createdAt,
		UpdatedAt:       createdAt,
		Schedules:       attrs.Schedules,
	})
	if err := m.repo.CreateMedication(ctx, record); err != nil {
		return "", mapError(err)
	}
	return record.ID, nil
}

// Update reads the medication, applies patch and writes it back.
func (m *Medications) Update(ctx context.Context, id string, patch application.MedicationPatch) error {
	record, err := m.repo.GetMedication(ctx, id)
	if err != nil {
		return mapError(err)
	}
	current, err := toMedication(record)
	if err != nil {
		return err
	}
	if patch.UpdatedAt.IsZero() {
		patch.UpdatedAt = m.now()
	}
	updated := fromMedication(application.ApplyMedicationPatch(current, patch))
	return mapError(m.repo.UpdateMedication(ctx, updated))
}

// SoftDelete deactivates the medication.
func (m *Medications) SoftDelete(ctx context.Context, id string, at time.Time) error {
	return mapError(m.repo.SoftDeleteMedication(ctx, id, at))
}

// ReplaceSchedules swaps every schedule of the medication.
func (m *Medications) ReplaceSchedules(ctx context.Context, medicationID string, schedules []application.ScheduleRule) error {
	return mapError(m.repo.ReplaceSchedules(ctx, medicationID, fromScheduleRules(medicationID, schedules, m.now())))
}

// History serves application.HistoryLog from a persistence.HistoryRepository.
type History struct {
	repo persistence.HistoryRepository
	now  func() time.Time
}

// NewHistory wraps repo.
func NewHistory(repo persistence.HistoryRepository, now func() time.Time) *History {
	if now == nil {
		now = time.Now
	}
	return &History{repo: repo, now: now}
}

var _ application.HistoryLog = (*History)(nil)

// ListForUser returns at most limit entries, newest actual instant first.
func (h *History) ListForUser(ctx context.Context, userID string, limit int) ([]application.HistoryEntry, error) {
	records, err := h.repo.ListHistory(ctx, userID, limit)
	if err != nil {
		return nil, mapError(err)
	}
	entries := make([]application.HistoryEntry, 0, len(records))
	for _, record := range records {
		entry, err := toHistoryEntry(record)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// Append stores entry for userID and returns its ID.
func (h *History) Append(ctx context.Context, userID string, entry application.HistoryEntry) (string, error) {
	createdAt := entry.CreatedAt
	if createdAt.IsZero() {
		createdAt = h.now()
	}
	record := persistence.HistoryEntry{
		ID:           entry.ID,
		UserID:       userID,
		MedicationID: entry.MedicationID,
		ScheduleID:   entry.ScheduleID,
		Status:       string(entry.Status),
		ScheduledAt:  entry.ScheduledAt,
		ActualAt:     entry.ActualAt,
		Note:         entry.Note,
		CreatedAt:    createdAt,
	}
	if err := h.repo.AppendHistory(ctx, record); err != nil {
		return "", mapError(err)
	}
	return record.ID, nil
}
