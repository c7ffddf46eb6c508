// Package bridge adapts persistence repositories to the collaborator
// interfaces consumed by the application services.
package bridge

import (
	"errors"
	"fmt"
	"time"

	"github.com/example/medreminder/internal/adherence"
	"github.com/example/medreminder/internal/application"
	"github.com/example/medreminder/internal/persistence"
	"github.com/example/medreminder/internal/recurrence"
)

// mapError translates storage sentinels into their application counterparts.
// The storage error stays in the chain.
func mapError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, persistence.ErrNotFound):
		return fmt.Errorf("%w: %w", application.ErrNotFound, err)
	case errors.Is(err, persistence.ErrDuplicate):
		return fmt.Errorf("%w: %w", application.ErrAlreadyExists, err)
	default:
		return err
	}
}

func toMedication(record persistence.Medication) (application.Medication, error) {
	start, err := recurrence.ParseDate(record.StartDate)
	if err != nil {
		return application.Medication{}, fmt.Errorf("medication %s start date: %w", record.ID, err)
	}
	var end *recurrence.Date
	if record.EndDate != nil {
		parsed, err := recurrence.ParseDate(*record.EndDate)
		if err != nil {
			return application.Medication{}, fmt.Errorf("medication %s end date: %w", record.ID, err)
		}
		end = &parsed
	}

	schedules := make([]application.ScheduleRule, 0, len(record.Schedules))
	for _, schedule := range record.Schedules {
		rule, err := toScheduleRule(schedule)
		if err != nil {
			return application.Medication{}, fmt.Errorf("medication %s: %w", record.ID, err)
		}
		schedules = append(schedules, rule)
	}

	return application.Medication{
		ID:              record.ID,
		UserID:          record.UserID,
		Name:            record.Name,
		Dose:            record.Dose,
		Form:            application.Form(record.Form),
		Quantity:        record.Quantity,
		UnitsPerDose:    record.UnitsPerDose,
		RefillThreshold: record.RefillThreshold,
		Instructions:    record.Instructions,
		StartDate:       start,
		EndDate:         end,
		Active:          record.Active,
		CreatedAt:       record.CreatedAt,
		UpdatedAt:       record.UpdatedAt,
		Schedules:       schedules,
	}, nil
}

func fromMedication(medication application.Medication) persistence.Medication {
	record := persistence.Medication{
		ID:              medication.ID,
		UserID:          medication.UserID,
		Name:            medication.Name,
		Dose:            medication.Dose,
		Form:            string(medication.Form),
		Quantity:        medication.Quantity,
		UnitsPerDose:    medication.UnitsPerDose,
		RefillThreshold: medication.RefillThreshold,
		Instructions:    medication.Instructions,
		StartDate:       medication.StartDate.String(),
		Active:          medication.Active,
		CreatedAt:       medication.CreatedAt,
		UpdatedAt:       medication.UpdatedAt,
		Schedules:       fromScheduleRules(medication.ID, medication.Schedules, medication.CreatedAt),
	}
	if medication.EndDate != nil {
		end := medication.EndDate.String()
		record.EndDate = &end
	}
	return record
}

func toScheduleRule(schedule persistence.Schedule) (application.ScheduleRule, error) {
	at, err := recurrence.ParseTimeOfDay(schedule.TimeOfDay)
	if err != nil {
		return application.ScheduleRule{}, fmt.Errorf("schedule %s: %w", schedule.ID, err)
	}
	days, err := recurrence.NewWeekdaySet(schedule.Weekdays...)
	if err != nil {
		return application.ScheduleRule{}, fmt.Errorf("schedule %s: %w", schedule.ID, err)
	}
	if days.Empty() {
		days = recurrence.EveryDay
	}
	return application.ScheduleRule{ID: schedule.ID, At: at, Days: days}, nil
}

func fromScheduleRules(medicationID string, rules []application.ScheduleRule, createdAt time.Time) []persistence.Schedule {
	schedules := make([]persistence.Schedule, 0, len(rules))
	for _, rule := range rules {
		schedules = append(schedules, persistence.Schedule{
			ID:           rule.ID,
			MedicationID: medicationID,
			TimeOfDay:    rule.At.String(),
			Weekdays:     rule.Days.Weekdays(),
			CreatedAt:    createdAt,
		})
	}
	return schedules
}

func toHistoryEntry(record persistence.HistoryEntry) (application.HistoryEntry, error) {
	status, err := adherence.ParseStatus(record.Status)
	if err != nil {
		return application.HistoryEntry{}, fmt.Errorf("history entry %s: %w", record.ID, err)
	}
	return application.HistoryEntry{
		ID:           record.ID,
		MedicationID: record.MedicationID,
		ScheduleID:   record.ScheduleID,
		Status:       status,
		ScheduledAt:  record.ScheduledAt,
		ActualAt:     record.ActualAt,
		Note:         record.Note,
		CreatedAt:    record.CreatedAt,
	}, nil
}
