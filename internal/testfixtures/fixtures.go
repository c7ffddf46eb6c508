package testfixtures

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/example/medreminder/internal/adherence"
	"github.com/example/medreminder/internal/application"
	"github.com/example/medreminder/internal/persistence"
	"github.com/example/medreminder/internal/recurrence"
)

var (
	userCounter       uint64
	medicationCounter uint64
	historyCounter    uint64
)

// referenceTime is a Monday morning in UTC.
var referenceTime = time.Date(2024, time.March, 11, 7, 30, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
func ReferenceTime() time.Time {
	return referenceTime
}

// ReferenceDate returns the calendar day of ReferenceTime in UTC.
func ReferenceDate() recurrence.Date {
	return recurrence.DateOf(referenceTime, time.UTC)
}

// ----------------------------- User fixtures -----------------------------

// UserFixture is a deterministic account holder that can be materialised for
// application or persistence tests.
type UserFixture struct {
	ID           string
	Email        string
	DisplayName  string
	Timezone     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// UserOption configures the generated user fixture.
type UserOption func(*UserFixture)

// NewUserFixture returns a deterministic user fixture with optional overrides.
func NewUserFixture(opts ...UserOption) UserFixture {
	idx := atomic.AddUint64(&userCounter, 1)
	id := fmt.Sprintf("user-%03d", idx)
	created := referenceTime.Add(-time.Duration(idx) * time.Hour)
	fixture := UserFixture{
		ID:           id,
		Email:        fmt.Sprintf("%s@example.com", id),
		DisplayName:  fmt.Sprintf("Patient %03d", idx),
		Timezone:     "UTC",
		PasswordHash: fmt.Sprintf("hash-%03d", idx),
		CreatedAt:    created,
		UpdatedAt:    created,
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithUserID overrides the generated user ID.
func WithUserID(id string) UserOption {
	return func(f *UserFixture) {
		f.ID = id
	}
}

// WithUserEmail overrides the generated email address.
func WithUserEmail(email string) UserOption {
	return func(f *UserFixture) {
		f.Email = email
	}
}

// WithUserTimezone sets the profile timezone.
func WithUserTimezone(tz string) UserOption {
	return func(f *UserFixture) {
		f.Timezone = tz
	}
}

// WithUserPasswordHash overrides the generated password hash.
func WithUserPasswordHash(hash string) UserOption {
	return func(f *UserFixture) {
		f.PasswordHash = hash
	}
}

// Application returns the fixture as an application.User value.
func (f UserFixture) Application() application.User {
	return application.User{
		ID:          f.ID,
		Email:       f.Email,
		DisplayName: f.DisplayName,
		Timezone:    f.Timezone,
		CreatedAt:   f.CreatedAt,
		UpdatedAt:   f.UpdatedAt,
	}
}

// Credentials returns the fixture as application.UserCredentials.
func (f UserFixture) Credentials() application.UserCredentials {
	return application.UserCredentials{
		User:         f.Application(),
		PasswordHash: f.PasswordHash,
	}
}

// Principal returns the principal of the fixture user.
func (f UserFixture) Principal() application.Principal {
	return application.Principal{UserID: f.ID, Timezone: f.Timezone}
}

// Persistence returns the fixture as a persistence.User value.
func (f UserFixture) Persistence() persistence.User {
	return persistence.User{
		ID:           f.ID,
		Email:        f.Email,
		DisplayName:  f.DisplayName,
		Timezone:     f.Timezone,
		PasswordHash: f.PasswordHash,
		CreatedAt:    f.CreatedAt,
		UpdatedAt:    f.UpdatedAt,
	}
}

// -------------------------- Medication fixtures --------------------------

// ScheduleFixture is one dosing time of a medication fixture.
type ScheduleFixture struct {
	ID       string
	At       string
	Weekdays []time.Weekday
}

// MedicationFixture is a deterministic medication with its schedules.
type MedicationFixture struct {
	ID              string
	UserID          string
	Name            string
	Dose            string
	Form            application.Form
	Quantity        int
	UnitsPerDose    int
	RefillThreshold int
	Instructions    string
	StartDate       recurrence.Date
	EndDate         *recurrence.Date
	Active          bool
	Schedules       []ScheduleFixture
	CreatedAt       time.Time
}

// MedicationOption configures the generated medication fixture.
type MedicationOption func(*MedicationFixture)

// NewMedicationFixture returns an active tablet taken at 08:00 every day,
// starting a week before ReferenceDate.
func NewMedicationFixture(userID string, opts ...MedicationOption) MedicationFixture {
	idx := atomic.AddUint64(&medicationCounter, 1)
	id := fmt.Sprintf("med-%03d", idx)
	fixture := MedicationFixture{
		ID:              id,
		UserID:          userID,
		Name:            fmt.Sprintf("Medication %03d", idx),
		Dose:            "10mg",
		Form:            application.FormTablet,
		Quantity:        30,
		UnitsPerDose:    1,
		RefillThreshold: 5,
		StartDate:       ReferenceDate().AddDays(-7),
		Active:          true,
		Schedules:       []ScheduleFixture{{ID: id + "-s1", At: "08:00"}},
		CreatedAt:       referenceTime.Add(-time.Duration(idx) * time.Minute),
	}
	for _, opt := range opts {
		opt(&fixture)
	}
	return fixture
}

// WithMedicationID overrides the generated medication ID. Schedule IDs keep
// their generated values.
func WithMedicationID(id string) MedicationOption {
	return func(f *MedicationFixture) {
		f.ID = id
	}
}

// WithMedicationName overrides the generated name.
func WithMedicationName(name string) MedicationOption {
	return func(f *MedicationFixture) {
		f.Name = name
	}
}

// WithMedicationStock sets the quantity on hand and the refill threshold.
func WithMedicationStock(quantity, threshold int) MedicationOption {
	return func(f *MedicationFixture) {
		f.Quantity = quantity
		f.RefillThreshold = threshold
	}
}

// WithMedicationUnitsPerDose sets how many units one dose consumes.
func WithMedicationUnitsPerDose(units int) MedicationOption {
	return func(f *MedicationFixture) {
		f.UnitsPerDose = units
	}
}

// WithMedicationDates sets the active range. A nil end leaves it open.
func WithMedicationDates(start recurrence.Date, end *recurrence.Date) MedicationOption {
	return func(f *MedicationFixture) {
		f.StartDate = start
		f.EndDate = end
	}
}

// WithMedicationSchedules replaces the schedules. Times are HH:MM and empty
// weekday lists mean every day.
func WithMedicationSchedules(schedules ...ScheduleFixture) MedicationOption {
	return func(f *MedicationFixture) {
		f.Schedules = append([]ScheduleFixture(nil), schedules...)
	}
}

// WithMedicationInactive marks the medication soft deleted.
func WithMedicationInactive() MedicationOption {
	return func(f *MedicationFixture) {
		f.Active = false
	}
}

func (s ScheduleFixture) rule() application.ScheduleRule {
	days := recurrence.EveryDay
	if len(s.Weekdays) > 0 {
		set, err := recurrence.NewWeekdaySet(s.Weekdays...)
		if err != nil {
			panic(fmt.Sprintf("testfixtures: schedule %s: %v", s.ID, err))
		}
		days = set
	}
	return application.ScheduleRule{
		ID:   s.ID,
		At:   recurrence.MustParseTimeOfDay(s.At),
		Days: days,
	}
}

// Rules returns the schedules as application rules.
func (f MedicationFixture) Rules() []application.ScheduleRule {
	rules := make([]application.ScheduleRule, 0, len(f.Schedules))
	for _, schedule := range f.Schedules {
		rules = append(rules, schedule.rule())
	}
	return rules
}

// Application returns the fixture as an application.Medication value.
func (f MedicationFixture) Application() application.Medication {
	return application.Medication{
		ID:              f.ID,
		UserID:          f.UserID,
		Name:            f.Name,
		Dose:            f.Dose,
		Form:            f.Form,
		Quantity:        f.Quantity,
		UnitsPerDose:    f.UnitsPerDose,
		RefillThreshold: f.RefillThreshold,
		Instructions:    f.Instructions,
		StartDate:       f.StartDate,
		EndDate:         copyDatePtr(f.EndDate),
		Active:          f.Active,
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.CreatedAt,
		Schedules:       f.Rules(),
	}
}

// Input returns the fixture as raw caller input for MedicationService.Create.
func (f MedicationFixture) Input() application.MedicationInput {
	units := f.UnitsPerDose
	threshold := f.RefillThreshold
	input := application.MedicationInput{
		Name:            f.Name,
		Dose:            f.Dose,
		Form:            string(f.Form),
		Quantity:        f.Quantity,
		UnitsPerDose:    &units,
		RefillThreshold: &threshold,
		Instructions:    f.Instructions,
		StartDate:       f.StartDate.String(),
	}
	if f.EndDate != nil {
		input.EndDate = f.EndDate.String()
	}
	for _, rule := range f.Rules() {
		input.Schedules = append(input.Schedules, application.ScheduleInput{
			Time:     rule.At.String(),
			Weekdays: rule.Days.Ints(),
		})
	}
	return input
}

// Persistence returns the fixture as a persistence.Medication value.
func (f MedicationFixture) Persistence() persistence.Medication {
	record := persistence.Medication{
		ID:              f.ID,
		UserID:          f.UserID,
		Name:            f.Name,
		Dose:            f.Dose,
		Form:            string(f.Form),
		Quantity:        f.Quantity,
		UnitsPerDose:    f.UnitsPerDose,
		RefillThreshold: f.RefillThreshold,
		Instructions:    f.Instructions,
		StartDate:       f.StartDate.String(),
		Active:          f.Active,
		CreatedAt:       f.CreatedAt,
		UpdatedAt:       f.CreatedAt,
	}
	if f.EndDate != nil {
		end := f.EndDate.String()
		record.EndDate = &end
	}
	for _, rule := range f.Rules() {
		record.Schedules = append(record.Schedules, persistence.Schedule{
			ID:           rule.ID,
			MedicationID: f.ID,
			TimeOfDay:    rule.At.String(),
			Weekdays:     rule.Days.Weekdays(),
			CreatedAt:    f.CreatedAt,
		})
	}
	return record
}

// ---------------------------- History fixtures ----------------------------

// HistoryFixture is a deterministic dose outcome.
type HistoryFixture struct {
	ID           string
	UserID       string
	MedicationID string
	ScheduleID   string
	Status       adherence.Status
	ScheduledAt  time.Time
	ActualAt     time.Time
	Note         string
}

// NewHistoryFixture records an outcome for the medication's first schedule
// on ReferenceDate, acted on at the due instant.
func NewHistoryFixture(medication MedicationFixture, status adherence.Status) HistoryFixture {
	idx := atomic.AddUint64(&historyCounter, 1)
	scheduleID := ""
	due := referenceTime
	if len(medication.Schedules) > 0 {
		first := medication.Schedules[0].rule()
		scheduleID = first.ID
		day := ReferenceDate()
		due = time.Date(day.Year, day.Month, day.Day, first.At.Hour, first.At.Minute, 0, 0, time.UTC)
	}
	return HistoryFixture{
		ID:           fmt.Sprintf("hist-%03d", idx),
		UserID:       medication.UserID,
		MedicationID: medication.ID,
		ScheduleID:   scheduleID,
		Status:       status,
		ScheduledAt:  due,
		ActualAt:     due,
	}
}

// Application returns the fixture as an application.HistoryEntry value.
func (f HistoryFixture) Application() application.HistoryEntry {
	return application.HistoryEntry{
		ID:           f.ID,
		MedicationID: f.MedicationID,
		ScheduleID:   f.ScheduleID,
		Status:       f.Status,
		ScheduledAt:  f.ScheduledAt,
		ActualAt:     f.ActualAt,
		Note:         f.Note,
		CreatedAt:    f.ActualAt,
	}
}

// Persistence returns the fixture as a persistence.HistoryEntry value.
func (f HistoryFixture) Persistence() persistence.HistoryEntry {
	return persistence.HistoryEntry{
		ID:           f.ID,
		UserID:       f.UserID,
		MedicationID: f.MedicationID,
		ScheduleID:   f.ScheduleID,
		Status:       string(f.Status),
		ScheduledAt:  f.ScheduledAt,
		ActualAt:     f.ActualAt,
		Note:         f.Note,
		CreatedAt:    f.ActualAt,
	}
}

func copyDatePtr(d *recurrence.Date) *recurrence.Date {
	if d == nil {
		return nil
	}
	value := *d
	return &value
}
