package application

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/medreminder/internal/adherence"
	"github.com/example/medreminder/internal/reconcile"
	"github.com/example/medreminder/internal/recurrence"
)

// MedicationRepository is the medication store the engine reads and updates.
type MedicationRepository interface {
	// ListActive returns the user's active medications with their schedules.
	ListActive(ctx context.Context, userID string) ([]Medication, error)
	Create(ctx context.Context, userID string, attrs MedicationAttributes) (string, error)
	Update(ctx context.Context, id string, patch MedicationPatch) error
	SoftDelete(ctx context.Context, id string, deletedAt time.Time) error
	ReplaceSchedules(ctx context.Context, medicationID string, schedules []ScheduleRule) error
}

// HistoryLog is the append-only store of dose outcomes.
type HistoryLog interface {
	// ListForUser returns at most limit entries, newest actual instant first.
	// A non-positive limit returns every entry.
	ListForUser(ctx context.Context, userID string, limit int) ([]HistoryEntry, error)
	Append(ctx context.Context, userID string, entry HistoryEntry) (string, error)
}

// NotificationSignal receives best-effort reminder conditions. Failures are
// never surfaced to callers of the engine.
type NotificationSignal interface {
	SignalRefillAlert(ctx context.Context, medication Medication) error
	SignalSnoozeReminder(ctx context.Context, medication Medication, minutes int) error
}

// DefaultHistoryLimit bounds the history read used to reconcile a day.
const DefaultHistoryLimit = 100

// MaxSnoozeMinutes caps a single snooze at one day.
const MaxSnoozeMinutes = 24 * 60

// DoseServiceConfig tunes the dose service.
type DoseServiceConfig struct {
	// DefaultLocation is used when the principal has no usable timezone.
	DefaultLocation *time.Location
	HistoryLimit    int
}

// DoseService materializes a day's doses and records dose outcomes.
type DoseService struct {
	medications     MedicationRepository
	history         HistoryLog
	notifier        NotificationSignal
	defaultLocation *time.Location
	historyLimit    int
	idGenerator     func() string
	now             func() time.Time
	logger          *slog.Logger
}

// NewDoseService constructs a DoseService. A nil notifier is replaced by an inert one.
func NewDoseService(medications MedicationRepository, history HistoryLog, notifier NotificationSignal, cfg DoseServiceConfig, idGenerator func() string, now func() time.Time) *DoseService {
	return NewDoseServiceWithLogger(medications, history, notifier, cfg, idGenerator, now, nil)
}

// NewDoseServiceWithLogger constructs a DoseService with a specified logger.
func NewDoseServiceWithLogger(medications MedicationRepository, history HistoryLog, notifier NotificationSignal, cfg DoseServiceConfig, idGenerator func() string, now func() time.Time, logger *slog.Logger) *DoseService {
	if notifier == nil {
		notifier = inertSignal{}
	}
	if cfg.DefaultLocation == nil {
		cfg.DefaultLocation = time.UTC
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &DoseService{
		medications:     medications,
		history:         history,
		notifier:        notifier,
		defaultLocation: cfg.DefaultLocation,
		historyLimit:    cfg.HistoryLimit,
		idGenerator:     idGenerator,
		now:             now,
		logger:          defaultLogger(logger),
	}
}

func (s *DoseService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "DoseService", operation, attrs...)
}

// TodaysDoses returns every dose due on the requested day, ordered by due
// instant and annotated with the status derived from history.
func (s *DoseService) TodaysDoses(ctx context.Context, params TodaysDosesParams) (result DaySchedule, err error) {
	if s == nil {
		err = fmt.Errorf("DoseService is nil")
		return
	}

	logger := s.loggerWith(ctx, "TodaysDoses", "principal_id", params.Principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "materialize doses failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.DebugContext(ctx, "doses materialized",
			"date", result.Date.String(),
			"doses", len(result.Doses),
			"adherence_rate", result.Summary.AdherenceRate,
		)
	}()

	if strings.TrimSpace(params.Principal.UserID) == "" {
		err = ErrUnauthorized
		return
	}

	engine := recurrence.NewEngine(resolveLocation(params.Principal.Timezone, s.defaultLocation))
	date := params.Date
	if date.IsZero() {
		date = engine.Today(s.now())
	}

	medications, listErr := s.medications.ListActive(ctx, params.Principal.UserID)
	if listErr != nil {
		err = collaboratorError("medications.list_active", listErr)
		return
	}
	entries, historyErr := s.history.ListForUser(ctx, params.Principal.UserID, s.historyLimit)
	if historyErr != nil {
		err = collaboratorError("history.list", historyErr)
		return
	}

	result = materialize(engine, date, medications, reconcile.NewIndex(toReconcileEntries(entries)))
	return
}

// materialize evaluates every (medication, schedule) pair against date.
func materialize(engine *recurrence.Engine, date recurrence.Date, medications []Medication, index *reconcile.Index) DaySchedule {
	doses := make([]ScheduledDose, 0)
	seen := make(map[[2]string]struct{})

	for _, medication := range medications {
		if !medication.Active {
			continue
		}
		for _, schedule := range medication.Schedules {
			key := [2]string{medication.ID, schedule.ID}
			if _, dup := seen[key]; dup {
				continue
			}
			due, fires := engine.Evaluate(medication.Rule(schedule), date)
			if !fires {
				continue
			}
			seen[key] = struct{}{}

			status, entryID := index.Status(medication.ID, due)
			doses = append(doses, ScheduledDose{
				MedicationID: medication.ID,
				ScheduleID:   schedule.ID,
				Name:         medication.Name,
				Dose:         medication.Dose,
				Form:         medication.Form,
				Instructions: medication.Instructions,
				At:           schedule.At,
				Due:          due,
				Status:       status,
				EntryID:      entryID,
				Quantity:     medication.Quantity,
			})
		}
	}

	sort.SliceStable(doses, func(i, j int) bool {
		return doses[i].Due.Before(doses[j].Due)
	})

	statuses := make([]adherence.Status, len(doses))
	for i, dose := range doses {
		statuses[i] = dose.Status
	}
	return DaySchedule{
		Date:    date,
		Doses:   doses,
		Summary: adherence.Summarize(statuses),
	}
}

// MarkTaken records a taken dose, then decrements the on-hand quantity and
// signals a refill alert when the quantity reaches the threshold. The two
// follow-up writes run concurrently and their failures only produce warnings.
func (s *DoseService) MarkTaken(ctx context.Context, params DoseActionParams) (outcome DoseOutcome, err error) {
	if s == nil {
		err = fmt.Errorf("DoseService is nil")
		return
	}

	logger := s.loggerWith(ctx, "MarkTaken",
		"principal_id", params.Principal.UserID,
		"medication_id", params.MedicationID,
		"schedule_id", params.ScheduleID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "mark taken failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "dose marked taken",
			"entry_id", outcome.Entry.ID,
			"quantity", outcome.Quantity,
			"refill_alert", outcome.RefillAlertSignaled,
			"warnings", len(outcome.Warnings),
		)
	}()

	var medication Medication
	medication, outcome.Entry, err = s.record(ctx, params, adherence.StatusTaken, "", nil)
	if err != nil {
		return
	}

	quantity := medication.Quantity - medication.UnitsPerDose
	if quantity < 0 {
		quantity = 0
	}
	outcome.Quantity = quantity
	outcome.RefillAlertSignaled = quantity <= medication.RefillThreshold

	var (
		g                    errgroup.Group
		updateErr, signalErr error
	)
	updatedAt := s.now()
	g.Go(func() error {
		updateErr = s.medications.Update(ctx, medication.ID, MedicationPatch{Quantity: &quantity, UpdatedAt: updatedAt})
		return updateErr
	})
	if outcome.RefillAlertSignaled {
		alerted := medication
		alerted.Quantity = quantity
		g.Go(func() error {
			signalErr = s.notifier.SignalRefillAlert(ctx, alerted)
			return signalErr
		})
	}
	_ = g.Wait()

	if updateErr != nil {
		outcome.Quantity = medication.Quantity
		outcome.Warnings = append(outcome.Warnings, collaboratorError("medications.update_quantity", updateErr).Error())
		logger.WarnContext(ctx, "quantity update failed", "error", updateErr)
	}
	if signalErr != nil {
		outcome.Warnings = append(outcome.Warnings, collaboratorError("notifications.refill_alert", signalErr).Error())
		logger.WarnContext(ctx, "refill alert signal failed", "error", signalErr)
	}
	return
}

// MarkMissed records a missed dose. Quantity is not changed.
func (s *DoseService) MarkMissed(ctx context.Context, params DoseActionParams) (outcome DoseOutcome, err error) {
	if s == nil {
		err = fmt.Errorf("DoseService is nil")
		return
	}

	logger := s.loggerWith(ctx, "MarkMissed",
		"principal_id", params.Principal.UserID,
		"medication_id", params.MedicationID,
		"schedule_id", params.ScheduleID,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "mark missed failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "dose marked missed", "entry_id", outcome.Entry.ID)
	}()

	var medication Medication
	medication, outcome.Entry, err = s.record(ctx, params, adherence.StatusMissed, "", nil)
	outcome.Quantity = medication.Quantity
	return
}

// Snooze records a snoozed dose and asks the notifier to remind again after
// the given number of minutes.
func (s *DoseService) Snooze(ctx context.Context, params SnoozeParams) (outcome DoseOutcome, err error) {
	if s == nil {
		err = fmt.Errorf("DoseService is nil")
		return
	}

	logger := s.loggerWith(ctx, "Snooze",
		"principal_id", params.Principal.UserID,
		"medication_id", params.MedicationID,
		"schedule_id", params.ScheduleID,
		"minutes", params.Minutes,
	)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "snooze failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "dose snoozed", "entry_id", outcome.Entry.ID, "warnings", len(outcome.Warnings))
	}()

	vErr := &ValidationError{}
	if params.Minutes <= 0 || params.Minutes > MaxSnoozeMinutes {
		vErr.add("minutes", fmt.Sprintf("must be between 1 and %d", MaxSnoozeMinutes))
	}

	var medication Medication
	note := fmt.Sprintf("Snoozed for %d minutes", params.Minutes)
	medication, outcome.Entry, err = s.record(ctx, params.DoseActionParams, adherence.StatusSnoozed, note, vErr)
	if err != nil {
		return
	}
	outcome.Quantity = medication.Quantity

	if signalErr := s.notifier.SignalSnoozeReminder(ctx, medication, params.Minutes); signalErr != nil {
		outcome.Warnings = append(outcome.Warnings, collaboratorError("notifications.snooze_reminder", signalErr).Error())
		logger.WarnContext(ctx, "snooze reminder signal failed", "error", signalErr)
	}
	return
}

// record validates the action, resolves the dose and appends the history
// entry. Nothing is written when validation fails.
func (s *DoseService) record(ctx context.Context, params DoseActionParams, status adherence.Status, note string, vErr *ValidationError) (Medication, HistoryEntry, error) {
	if strings.TrimSpace(params.Principal.UserID) == "" {
		return Medication{}, HistoryEntry{}, ErrUnauthorized
	}
	if vErr == nil {
		vErr = &ValidationError{}
	}
	if strings.TrimSpace(params.MedicationID) == "" {
		vErr.add("medication_id", "medication id is required")
	}
	if strings.TrimSpace(params.ScheduleID) == "" {
		vErr.add("schedule_id", "schedule id is required")
	}
	if vErr.HasErrors() {
		return Medication{}, HistoryEntry{}, vErr
	}

	medications, err := s.medications.ListActive(ctx, params.Principal.UserID)
	if err != nil {
		return Medication{}, HistoryEntry{}, collaboratorError("medications.list_active", err)
	}
	medication, schedule, err := findDose(medications, params.MedicationID, params.ScheduleID)
	if err != nil {
		return Medication{}, HistoryEntry{}, err
	}

	now := s.now()
	engine := recurrence.NewEngine(resolveLocation(params.Principal.Timezone, s.defaultLocation))
	date := params.Date
	if date.IsZero() {
		date = engine.Today(now)
	}
	due, fires := engine.Evaluate(medication.Rule(schedule), date)
	if !fires {
		vErr.add("date", fmt.Sprintf("schedule does not fire on %s", date))
		return Medication{}, HistoryEntry{}, vErr
	}

	entry := HistoryEntry{
		ID:           s.idGenerator(),
		MedicationID: medication.ID,
		ScheduleID:   schedule.ID,
		Status:       status,
		ScheduledAt:  due,
		ActualAt:     now,
		Note:         note,
		CreatedAt:    now,
	}
	id, err := s.history.Append(ctx, params.Principal.UserID, entry)
	if err != nil {
		return Medication{}, HistoryEntry{}, collaboratorError("history.append", err)
	}
	if id != "" {
		entry.ID = id
	}
	return medication, entry, nil
}

func findDose(medications []Medication, medicationID, scheduleID string) (Medication, ScheduleRule, error) {
	for _, medication := range medications {
		if medication.ID != medicationID {
			continue
		}
		for _, schedule := range medication.Schedules {
			if schedule.ID == scheduleID {
				return medication, schedule, nil
			}
		}
		return Medication{}, ScheduleRule{}, fmt.Errorf("schedule %s: %w", scheduleID, ErrNotFound)
	}
	return Medication{}, ScheduleRule{}, fmt.Errorf("medication %s: %w", medicationID, ErrNotFound)
}

func toReconcileEntries(entries []HistoryEntry) []reconcile.Entry {
	out := make([]reconcile.Entry, len(entries))
	for i, entry := range entries {
		out[i] = reconcile.Entry{
			ID:           entry.ID,
			MedicationID: entry.MedicationID,
			Status:       entry.Status,
			ScheduledAt:  entry.ScheduledAt,
			ActualAt:     entry.ActualAt,
			CreatedAt:    entry.CreatedAt,
		}
	}
	return out
}

// resolveLocation loads the named zone, falling back when it is empty or unknown.
func resolveLocation(name string, fallback *time.Location) *time.Location {
	if fallback == nil {
		fallback = time.UTC
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return fallback
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return fallback
	}
	return loc
}

type inertSignal struct{}

func (inertSignal) SignalRefillAlert(context.Context, Medication) error { return nil }

func (inertSignal) SignalSnoozeReminder(context.Context, Medication, int) error { return nil }
