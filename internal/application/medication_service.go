package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/medreminder/internal/recurrence"
)

// MedicationCatalog lists every medication of a user, inactive ones included.
// History views need it to name entries of soft deleted medications.
type MedicationCatalog interface {
	ListAll(ctx context.Context, userID string) ([]Medication, error)
}

const (
	defaultUnitsPerDose    = 1
	defaultRefillThreshold = 5
	maxNameLength          = 120
)

// MedicationService manages medications and their schedules.
type MedicationService struct {
	medications     MedicationRepository
	defaultLocation *time.Location
	idGenerator     func() string
	now             func() time.Time
	logger          *slog.Logger
}

// NewMedicationService constructs a MedicationService.
func NewMedicationService(medications MedicationRepository, defaultLocation *time.Location, idGenerator func() string, now func() time.Time) *MedicationService {
	return NewMedicationServiceWithLogger(medications, defaultLocation, idGenerator, now, nil)
}

// NewMedicationServiceWithLogger constructs a MedicationService with a specified logger.
func NewMedicationServiceWithLogger(medications MedicationRepository, defaultLocation *time.Location, idGenerator func() string, now func() time.Time, logger *slog.Logger) *MedicationService {
	if defaultLocation == nil {
		defaultLocation = time.UTC
	}
	if idGenerator == nil {
		idGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &MedicationService{
		medications:     medications,
		defaultLocation: defaultLocation,
		idGenerator:     idGenerator,
		now:             now,
		logger:          defaultLogger(logger),
	}
}

func (s *MedicationService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "MedicationService", operation, attrs...)
}

// List returns the principal's active medications, newest first.
func (s *MedicationService) List(ctx context.Context, principal Principal) (medications []Medication, err error) {
	if s == nil {
		err = fmt.Errorf("MedicationService is nil")
		return
	}
	logger := s.loggerWith(ctx, "List", "principal_id", principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "list medications failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.DebugContext(ctx, "medications listed", "count", len(medications))
	}()

	if strings.TrimSpace(principal.UserID) == "" {
		err = ErrUnauthorized
		return
	}
	medications, err = s.medications.ListActive(ctx, principal.UserID)
	if err != nil {
		err = collaboratorError("medications.list_active", err)
	}
	return
}

// Create validates the input and stores a new medication with its schedules.
func (s *MedicationService) Create(ctx context.Context, params CreateMedicationParams) (medication Medication, err error) {
	if s == nil {
		err = fmt.Errorf("MedicationService is nil")
		return
	}
	logger := s.loggerWith(ctx, "Create", "principal_id", params.Principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "create medication failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "medication created", "medication_id", medication.ID, "schedules", len(medication.Schedules))
	}()

	if strings.TrimSpace(params.Principal.UserID) == "" {
		err = ErrUnauthorized
		return
	}

	now := s.now()
	today := recurrence.DateOf(now, resolveLocation(params.Principal.Timezone, s.defaultLocation))

	var attrs MedicationAttributes
	attrs, err = s.buildAttributes(params.Input, today)
	if err != nil {
		return
	}
	attrs.ID = s.idGenerator()
	attrs.CreatedAt = now

	var id string
	id, err = s.medications.Create(ctx, params.Principal.UserID, attrs)
	if err != nil {
		err = collaboratorError("medications.create", err)
		return
	}
	if id == "" {
		id = attrs.ID
	}

	medication = Medication{
		ID:              id,
		UserID:          params.Principal.UserID,
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
		CreatedAt:       now,
		UpdatedAt:       now,
		Schedules:       attrs.Schedules,
	}
	return
}

// Update applies a partial change. When schedules are supplied every existing
// schedule is replaced, so schedule IDs do not survive an edit.
func (s *MedicationService) Update(ctx context.Context, params UpdateMedicationParams) (medication Medication, err error) {
	if s == nil {
		err = fmt.Errorf("MedicationService is nil")
		return
	}
	logger := s.loggerWith(ctx, "Update", "principal_id", params.Principal.UserID, "medication_id", params.MedicationID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "update medication failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "medication updated", "schedules_replaced", params.Input.Schedules != nil)
	}()

	var current Medication
	current, err = s.owned(ctx, params.Principal, params.MedicationID)
	if err != nil {
		return
	}

	var (
		patch     MedicationPatch
		schedules []ScheduleRule
	)
	patch, schedules, err = s.buildPatch(params.Input, current)
	if err != nil {
		return
	}
	patch.UpdatedAt = s.now()

	if err = s.medications.Update(ctx, current.ID, patch); err != nil {
		err = collaboratorError("medications.update", err)
		return
	}
	if params.Input.Schedules != nil {
		if err = s.medications.ReplaceSchedules(ctx, current.ID, schedules); err != nil {
			err = collaboratorError("medications.replace_schedules", err)
			return
		}
	}

	medication = ApplyMedicationPatch(current, patch)
	if params.Input.Schedules != nil {
		medication.Schedules = schedules
	}
	return
}

// Delete soft deletes a medication. History keeps referring to it.
func (s *MedicationService) Delete(ctx context.Context, principal Principal, medicationID string) (err error) {
	if s == nil {
		return fmt.Errorf("MedicationService is nil")
	}
	logger := s.loggerWith(ctx, "Delete", "principal_id", principal.UserID, "medication_id", medicationID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "delete medication failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "medication deleted")
	}()

	var current Medication
	current, err = s.owned(ctx, principal, medicationID)
	if err != nil {
		return
	}
	if err = s.medications.SoftDelete(ctx, current.ID, s.now()); err != nil {
		err = collaboratorError("medications.soft_delete", err)
	}
	return
}

// owned returns the principal's active medication with the given ID.
func (s *MedicationService) owned(ctx context.Context, principal Principal, medicationID string) (Medication, error) {
	if strings.TrimSpace(principal.UserID) == "" {
		return Medication{}, ErrUnauthorized
	}
	if strings.TrimSpace(medicationID) == "" {
		vErr := &ValidationError{}
		vErr.add("medication_id", "medication id is required")
		return Medication{}, vErr
	}
	medications, err := s.medications.ListActive(ctx, principal.UserID)
	if err != nil {
		return Medication{}, collaboratorError("medications.list_active", err)
	}
	for _, medication := range medications {
		if medication.ID == medicationID {
			return medication, nil
		}
	}
	return Medication{}, fmt.Errorf("medication %s: %w", medicationID, ErrNotFound)
}

func (s *MedicationService) buildAttributes(input MedicationInput, today recurrence.Date) (MedicationAttributes, error) {
	vErr := &ValidationError{}

	attrs := MedicationAttributes{
		Name:            strings.TrimSpace(input.Name),
		Dose:            strings.TrimSpace(input.Dose),
		Form:            Form(strings.ToLower(strings.TrimSpace(input.Form))),
		Quantity:        input.Quantity,
		UnitsPerDose:    defaultUnitsPerDose,
		RefillThreshold: defaultRefillThreshold,
		Instructions:    strings.TrimSpace(input.Instructions),
		StartDate:       today,
	}
	if input.UnitsPerDose != nil {
		attrs.UnitsPerDose = *input.UnitsPerDose
	}
	if input.RefillThreshold != nil {
		attrs.RefillThreshold = *input.RefillThreshold
	}

	validateName(attrs.Name, vErr)
	validateDose(attrs.Dose, vErr)
	validateForm(attrs.Form, vErr)
	validateCounts(attrs.Quantity, attrs.UnitsPerDose, attrs.RefillThreshold, vErr)

	if strings.TrimSpace(input.StartDate) != "" {
		start, err := recurrence.ParseDate(input.StartDate)
		if err != nil {
			vErr.add("start_date", "must be a date formatted as YYYY-MM-DD")
		} else {
			attrs.StartDate = start
		}
	}
	if strings.TrimSpace(input.EndDate) != "" {
		end, err := recurrence.ParseDate(input.EndDate)
		if err != nil {
			vErr.add("end_date", "must be a date formatted as YYYY-MM-DD")
		} else {
			attrs.EndDate = &end
		}
	}
	validateDateRange(attrs.StartDate, attrs.EndDate, vErr)

	if len(input.Schedules) == 0 {
		vErr.add("schedules", "at least one schedule is required")
	}
	attrs.Schedules = s.buildSchedules(input.Schedules, vErr)

	if vErr.HasErrors() {
		return MedicationAttributes{}, vErr
	}
	return attrs, nil
}

func (s *MedicationService) buildPatch(input MedicationUpdateInput, current Medication) (MedicationPatch, []ScheduleRule, error) {
	vErr := &ValidationError{}
	var patch MedicationPatch

	if input.Name != nil {
		name := strings.TrimSpace(*input.Name)
		validateName(name, vErr)
		patch.Name = &name
	}
	if input.Dose != nil {
		dose := strings.TrimSpace(*input.Dose)
		validateDose(dose, vErr)
		patch.Dose = &dose
	}
	if input.Form != nil {
		form := Form(strings.ToLower(strings.TrimSpace(*input.Form)))
		validateForm(form, vErr)
		patch.Form = &form
	}
	if input.Instructions != nil {
		instructions := strings.TrimSpace(*input.Instructions)
		patch.Instructions = &instructions
	}
	patch.Quantity = input.Quantity
	patch.UnitsPerDose = input.UnitsPerDose
	patch.RefillThreshold = input.RefillThreshold

	merged := ApplyMedicationPatch(current, patch)
	validateCounts(merged.Quantity, merged.UnitsPerDose, merged.RefillThreshold, vErr)

	if input.StartDate != nil {
		start, err := recurrence.ParseDate(*input.StartDate)
		if err != nil {
			vErr.add("start_date", "must be a date formatted as YYYY-MM-DD")
		} else {
			patch.StartDate = &start
		}
	}
	if input.EndDate != nil {
		if strings.TrimSpace(*input.EndDate) == "" {
			patch.ClearEndDate = true
		} else if end, err := recurrence.ParseDate(*input.EndDate); err != nil {
			vErr.add("end_date", "must be a date formatted as YYYY-MM-DD")
		} else {
			patch.EndDate = &end
		}
	}
	merged = ApplyMedicationPatch(current, patch)
	validateDateRange(merged.StartDate, merged.EndDate, vErr)

	var schedules []ScheduleRule
	if input.Schedules != nil {
		if len(input.Schedules) == 0 {
			vErr.add("schedules", "at least one schedule is required")
		}
		schedules = s.buildSchedules(input.Schedules, vErr)
	}

	if vErr.HasErrors() {
		return MedicationPatch{}, nil, vErr
	}
	return patch, schedules, nil
}

// buildSchedules validates raw schedules and assigns fresh IDs. Two schedules
// of one medication may not share a time of day, since history entries are
// matched by medication and due instant.
func (s *MedicationService) buildSchedules(inputs []ScheduleInput, vErr *ValidationError) []ScheduleRule {
	rules := make([]ScheduleRule, 0, len(inputs))
	seen := make(map[recurrence.TimeOfDay]struct{}, len(inputs))
	for i, input := range inputs {
		field := fmt.Sprintf("schedules[%d]", i)

		at, err := recurrence.ParseTimeOfDay(input.Time)
		if err != nil {
			vErr.add(field+".time", "must be a time formatted as HH:MM")
			continue
		}
		days := recurrence.EveryDay
		if len(input.Weekdays) > 0 {
			days, err = recurrence.WeekdaySetFromInts(input.Weekdays)
			if err != nil {
				vErr.add(field+".weekdays", "weekdays must be between 0 (Sunday) and 6 (Saturday)")
				continue
			}
		}
		if _, dup := seen[at]; dup {
			vErr.add(field+".time", fmt.Sprintf("duplicate schedule time %s", at))
			continue
		}
		seen[at] = struct{}{}
		rules = append(rules, ScheduleRule{ID: s.idGenerator(), At: at, Days: days})
	}
	return rules
}

func validateName(name string, vErr *ValidationError) {
	switch {
	case name == "":
		vErr.add("name", "name is required")
	case len([]rune(name)) > maxNameLength:
		vErr.add("name", fmt.Sprintf("name must be at most %d characters", maxNameLength))
	}
}

func validateDose(dose string, vErr *ValidationError) {
	if dose == "" {
		vErr.add("dose", "dose is required")
	}
}

func validateForm(form Form, vErr *ValidationError) {
	if !form.Valid() {
		vErr.add("form", "form must be one of tablet, capsule, syrup, injection, drops, inhaler, patch, other")
	}
}

func validateCounts(quantity, unitsPerDose, refillThreshold int, vErr *ValidationError) {
	if quantity < 0 {
		vErr.add("quantity", "quantity must not be negative")
	}
	if unitsPerDose < 1 {
		vErr.add("units_per_dose", "units per dose must be at least 1")
	}
	if refillThreshold < 0 {
		vErr.add("refill_threshold", "refill threshold must not be negative")
	}
}

func validateDateRange(start recurrence.Date, end *recurrence.Date, vErr *ValidationError) {
	if end != nil && end.Before(start) {
		vErr.add("end_date", "end date must not be before the start date")
	}
}

// ApplyMedicationPatch returns medication with the non-nil patch fields applied.
func ApplyMedicationPatch(medication Medication, patch MedicationPatch) Medication {
	if patch.Name != nil {
		medication.Name = *patch.Name
	}
	if patch.Dose != nil {
		medication.Dose = *patch.Dose
	}
	if patch.Form != nil {
		medication.Form = *patch.Form
	}
	if patch.Quantity != nil {
		medication.Quantity = *patch.Quantity
	}
	if patch.UnitsPerDose != nil {
		medication.UnitsPerDose = *patch.UnitsPerDose
	}
	if patch.RefillThreshold != nil {
		medication.RefillThreshold = *patch.RefillThreshold
	}
	if patch.Instructions != nil {
		medication.Instructions = *patch.Instructions
	}
	if patch.StartDate != nil {
		medication.StartDate = *patch.StartDate
	}
	switch {
	case patch.ClearEndDate:
		medication.EndDate = nil
	case patch.EndDate != nil:
		end := *patch.EndDate
		medication.EndDate = &end
	}
	if !patch.UpdatedAt.IsZero() {
		medication.UpdatedAt = patch.UpdatedAt
	}
	return medication
}
