package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/medreminder/internal/adherence"
	"github.com/example/medreminder/internal/recurrence"
)

// SnapshotVersion is the only snapshot layout Import understands.
const SnapshotVersion = 1

// Snapshot is a portable copy of one user's data.
type Snapshot struct {
	Version     int                  `json:"version"`
	ExportedAt  time.Time            `json:"exported_at"`
	Profile     SnapshotProfile      `json:"profile"`
	Medications []SnapshotMedication `json:"medications"`
	History     []SnapshotEntry      `json:"history"`
}

// SnapshotProfile holds the exported profile settings.
type SnapshotProfile struct {
	Email       string `json:"email"`
	DisplayName string `json:"display_name"`
	Timezone    string `json:"timezone"`
}

// SnapshotMedication is an exported medication with its schedules.
type SnapshotMedication struct {
	ID              string             `json:"id"`
	Name            string             `json:"name"`
	Dose            string             `json:"dose"`
	Form            string             `json:"form"`
	Quantity        int                `json:"quantity"`
	UnitsPerDose    int                `json:"units_per_dose"`
	RefillThreshold int                `json:"refill_threshold"`
	Instructions    string             `json:"instructions,omitempty"`
	StartDate       string             `json:"start_date"`
	EndDate         string             `json:"end_date,omitempty"`
	Active          bool               `json:"active"`
	Schedules       []SnapshotSchedule `json:"schedules"`
}

// SnapshotSchedule is an exported schedule. Weekdays use 0 for Sunday.
type SnapshotSchedule struct {
	ID       string `json:"id"`
	Time     string `json:"time"`
	Weekdays []int  `json:"weekdays"`
}

// SnapshotEntry is an exported history entry.
type SnapshotEntry struct {
	MedicationID string    `json:"medication_id"`
	ScheduleID   string    `json:"schedule_id"`
	Status       string    `json:"status"`
	ScheduledAt  time.Time `json:"scheduled_at"`
	ActualAt     time.Time `json:"actual_at"`
	Note         string    `json:"note,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// ImportResult counts what an import created.
type ImportResult struct {
	Medications int
	Schedules   int
	History     int
	// SkippedHistory counts entries whose medication is not in the snapshot.
	SkippedHistory int
}

// DataService exports and imports user data snapshots.
type DataService struct {
	users       ProfileStore
	medications MedicationRepository
	catalog     MedicationCatalog
	history     HistoryLog
	builder     *MedicationService
	idGenerator func() string
	now         func() time.Time
	logger      *slog.Logger
}

// NewDataService constructs a DataService. catalog may be nil, in which case
// only active medications are exported.
func NewDataService(users ProfileStore, medications MedicationRepository, catalog MedicationCatalog, history HistoryLog, defaultLocation *time.Location, idGenerator func() string, now func() time.Time) *DataService {
	return NewDataServiceWithLogger(users, medications, catalog, history, defaultLocation, idGenerator, now, nil)
}

// NewDataServiceWithLogger constructs a DataService with a specified logger.
func NewDataServiceWithLogger(users ProfileStore, medications MedicationRepository, catalog MedicationCatalog, history HistoryLog, defaultLocation *time.Location, idGenerator func() string, now func() time.Time, logger *slog.Logger) *DataService {
	builder := NewMedicationServiceWithLogger(medications, defaultLocation, idGenerator, now, logger)
	return &DataService{
		users:       users,
		medications: medications,
		catalog:     catalog,
		history:     history,
		builder:     builder,
		idGenerator: builder.idGenerator,
		now:         builder.now,
		logger:      builder.logger,
	}
}

func (s *DataService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "DataService", operation, attrs...)
}

// Export collects the principal's profile, medications and full history.
func (s *DataService) Export(ctx context.Context, principal Principal) (snapshot Snapshot, err error) {
	if s == nil {
		err = fmt.Errorf("DataService is nil")
		return
	}
	logger := s.loggerWith(ctx, "Export", "principal_id", principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "export failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "data exported", "medications", len(snapshot.Medications), "history", len(snapshot.History))
	}()

	if strings.TrimSpace(principal.UserID) == "" {
		err = ErrUnauthorized
		return
	}

	var user User
	user, err = s.users.GetUser(ctx, principal.UserID)
	if err != nil {
		err = collaboratorError("users.get", err)
		return
	}

	var medications []Medication
	if s.catalog != nil {
		medications, err = s.catalog.ListAll(ctx, principal.UserID)
		if err != nil {
			err = collaboratorError("medications.list_all", err)
			return
		}
	} else {
		medications, err = s.medications.ListActive(ctx, principal.UserID)
		if err != nil {
			err = collaboratorError("medications.list_active", err)
			return
		}
	}

	var entries []HistoryEntry
	entries, err = s.history.ListForUser(ctx, principal.UserID, 0)
	if err != nil {
		err = collaboratorError("history.list", err)
		return
	}

	snapshot = Snapshot{
		Version:     SnapshotVersion,
		ExportedAt:  s.now().UTC(),
		Profile:     SnapshotProfile{Email: user.Email, DisplayName: user.DisplayName, Timezone: user.Timezone},
		Medications: make([]SnapshotMedication, 0, len(medications)),
		History:     make([]SnapshotEntry, 0, len(entries)),
	}
	for _, medication := range medications {
		snapshot.Medications = append(snapshot.Medications, exportMedication(medication))
	}
	for _, entry := range entries {
		snapshot.History = append(snapshot.History, SnapshotEntry{
			MedicationID: entry.MedicationID,
			ScheduleID:   entry.ScheduleID,
			Status:       string(entry.Status),
			ScheduledAt:  entry.ScheduledAt.UTC(),
			ActualAt:     entry.ActualAt.UTC(),
			Note:         entry.Note,
			CreatedAt:    entry.CreatedAt.UTC(),
		})
	}
	return
}

func exportMedication(medication Medication) SnapshotMedication {
	out := SnapshotMedication{
		ID:              medication.ID,
		Name:            medication.Name,
		Dose:            medication.Dose,
		Form:            string(medication.Form),
		Quantity:        medication.Quantity,
		UnitsPerDose:    medication.UnitsPerDose,
		RefillThreshold: medication.RefillThreshold,
		Instructions:    medication.Instructions,
		StartDate:       medication.StartDate.String(),
		Active:          medication.Active,
		Schedules:       make([]SnapshotSchedule, 0, len(medication.Schedules)),
	}
	if medication.EndDate != nil {
		out.EndDate = medication.EndDate.String()
	}
	for _, schedule := range medication.Schedules {
		out.Schedules = append(out.Schedules, SnapshotSchedule{
			ID:       schedule.ID,
			Time:     schedule.At.String(),
			Weekdays: schedule.Days.Ints(),
		})
	}
	return out
}

type plannedMedication struct {
	active      bool
	attrs       MedicationAttributes
	scheduleIDs map[string]string
}

// Import recreates the snapshot's medications under fresh IDs and appends its
// history. The whole snapshot is validated before anything is written.
// Profile settings in the snapshot are ignored.
func (s *DataService) Import(ctx context.Context, principal Principal, snapshot Snapshot) (result ImportResult, err error) {
	if s == nil {
		err = fmt.Errorf("DataService is nil")
		return
	}
	logger := s.loggerWith(ctx, "Import", "principal_id", principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "import failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "data imported",
			"medications", result.Medications,
			"history", result.History,
			"skipped_history", result.SkippedHistory,
		)
	}()

	if strings.TrimSpace(principal.UserID) == "" {
		err = ErrUnauthorized
		return
	}

	var (
		plans   []plannedMedication
		entries []HistoryEntry
	)
	plans, entries, result.SkippedHistory, err = s.plan(principal, snapshot)
	if err != nil {
		return
	}

	for _, plan := range plans {
		var id string
		id, err = s.medications.Create(ctx, principal.UserID, plan.attrs)
		if err != nil {
			err = collaboratorError("medications.create", err)
			return
		}
		if id == "" {
			id = plan.attrs.ID
		}
		if id != plan.attrs.ID {
			for i := range entries {
				if entries[i].MedicationID == plan.attrs.ID {
					entries[i].MedicationID = id
				}
			}
		}
		result.Medications++
		result.Schedules += len(plan.attrs.Schedules)
		if !plan.active {
			if err = s.medications.SoftDelete(ctx, id, s.now()); err != nil {
				err = collaboratorError("medications.soft_delete", err)
				return
			}
		}
	}

	for _, entry := range entries {
		if _, err = s.history.Append(ctx, principal.UserID, entry); err != nil {
			err = collaboratorError("history.append", err)
			return
		}
		result.History++
	}
	return
}

func (s *DataService) plan(principal Principal, snapshot Snapshot) ([]plannedMedication, []HistoryEntry, int, error) {
	vErr := &ValidationError{}
	if snapshot.Version != SnapshotVersion {
		vErr.add("version", fmt.Sprintf("unsupported snapshot version %d", snapshot.Version))
		return nil, nil, 0, vErr
	}

	today := recurrence.DateOf(s.now(), resolveLocation(principal.Timezone, s.builder.defaultLocation))
	now := s.now()

	plans := make([]plannedMedication, 0, len(snapshot.Medications))
	byID := make(map[string]int, len(snapshot.Medications))
	for i, medication := range snapshot.Medications {
		field := fmt.Sprintf("medications[%d]", i)
		if _, dup := byID[medication.ID]; dup && medication.ID != "" {
			vErr.add(field+".id", "duplicate medication id")
			continue
		}

		input := MedicationInput{
			Name:            medication.Name,
			Dose:            medication.Dose,
			Form:            medication.Form,
			Quantity:        medication.Quantity,
			UnitsPerDose:    &medication.UnitsPerDose,
			RefillThreshold: &medication.RefillThreshold,
			Instructions:    medication.Instructions,
			StartDate:       medication.StartDate,
			EndDate:         medication.EndDate,
		}
		for _, schedule := range medication.Schedules {
			input.Schedules = append(input.Schedules, ScheduleInput{Time: schedule.Time, Weekdays: schedule.Weekdays})
		}

		attrs, err := s.builder.buildAttributes(input, today)
		if err != nil {
			var nested *ValidationError
			if errors.As(err, &nested) {
				for name, message := range nested.FieldErrors {
					vErr.add(field+"."+name, message)
				}
				continue
			}
			return nil, nil, 0, err
		}
		attrs.ID = s.idGenerator()
		attrs.CreatedAt = now

		scheduleIDs := make(map[string]string, len(medication.Schedules))
		for j, schedule := range medication.Schedules {
			if schedule.ID != "" {
				scheduleIDs[schedule.ID] = attrs.Schedules[j].ID
			}
		}
		if medication.ID != "" {
			byID[medication.ID] = len(plans)
		}
		plans = append(plans, plannedMedication{
			active:      medication.Active,
			attrs:       attrs,
			scheduleIDs: scheduleIDs,
		})
	}

	entries := make([]HistoryEntry, 0, len(snapshot.History))
	skipped := 0
	for i, entry := range snapshot.History {
		field := fmt.Sprintf("history[%d]", i)
		status, err := adherence.ParseStatus(entry.Status)
		if err != nil || !status.Recorded() {
			vErr.add(field+".status", "status must be one of taken, missed, snoozed")
			continue
		}
		if entry.ScheduledAt.IsZero() {
			vErr.add(field+".scheduled_at", "scheduled_at is required")
			continue
		}
		index, ok := byID[entry.MedicationID]
		if !ok {
			skipped++
			continue
		}
		plan := plans[index]
		actual := entry.ActualAt
		if actual.IsZero() {
			actual = entry.ScheduledAt
		}
		created := entry.CreatedAt
		if created.IsZero() {
			created = now
		}
		entries = append(entries, HistoryEntry{
			ID:           s.idGenerator(),
			MedicationID: plan.attrs.ID,
			ScheduleID:   plan.scheduleIDs[entry.ScheduleID],
			Status:       status,
			ScheduledAt:  entry.ScheduledAt,
			ActualAt:     actual,
			Note:         entry.Note,
			CreatedAt:    created,
		})
	}

	if vErr.HasErrors() {
		return nil, nil, 0, vErr
	}
	return plans, entries, skipped, nil
}
