package application

import (
	"time"

	"github.com/example/medreminder/internal/adherence"
	"github.com/example/medreminder/internal/recurrence"
)

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID string
	// Timezone is an IANA zone name. Empty falls back to the service default.
	Timezone string
}

// Form is the physical form of a medication.
type Form string

const (
	FormTablet    Form = "tablet"
	FormCapsule   Form = "capsule"
	FormSyrup     Form = "syrup"
	FormInjection Form = "injection"
	FormDrops     Form = "drops"
	FormInhaler   Form = "inhaler"
	FormPatch     Form = "patch"
	FormOther     Form = "other"
)

var validForms = map[Form]struct{}{
	FormTablet: {}, FormCapsule: {}, FormSyrup: {}, FormInjection: {},
	FormDrops: {}, FormInhaler: {}, FormPatch: {}, FormOther: {},
}

// Valid reports whether f is one of the known forms.
func (f Form) Valid() bool {
	_, ok := validForms[f]
	return ok
}

// ScheduleRule is a stored schedule of a medication.
type ScheduleRule struct {
	ID   string
	At   recurrence.TimeOfDay
	Days recurrence.WeekdaySet
}

// Medication is a tracked drug as seen by the services.
type Medication struct {
	ID              string
	UserID          string
	Name            string
	Dose            string
	Form            Form
	Quantity        int
	UnitsPerDose    int
	RefillThreshold int
	Instructions    string
	StartDate       recurrence.Date
	EndDate         *recurrence.Date
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Schedules       []ScheduleRule
}

// Rule converts a schedule of m into an evaluable recurrence rule bounded by
// the medication's start and end dates.
func (m Medication) Rule(schedule ScheduleRule) recurrence.Rule {
	return recurrence.Rule{
		ScheduleID: schedule.ID,
		At:         schedule.At,
		Days:       schedule.Days,
		StartsOn:   m.StartDate,
		EndsOn:     m.EndDate,
	}
}

// MedicationAttributes carries everything needed to create a medication.
// ID and schedule IDs are assigned by the caller.
type MedicationAttributes struct {
	ID              string
	Name            string
	Dose            string
	Form            Form
	Quantity        int
	UnitsPerDose    int
	RefillThreshold int
	Instructions    string
	StartDate       recurrence.Date
	EndDate         *recurrence.Date
	Schedules       []ScheduleRule
	CreatedAt       time.Time
}

// MedicationPatch lists attribute changes. Nil fields are left unchanged.
type MedicationPatch struct {
	Name            *string
	Dose            *string
	Form            *Form
	Quantity        *int
	UnitsPerDose    *int
	RefillThreshold *int
	Instructions    *string
	StartDate       *recurrence.Date
	EndDate         *recurrence.Date
	ClearEndDate    bool
	UpdatedAt       time.Time
}

// HistoryEntry is an immutable dose outcome.
type HistoryEntry struct {
	ID           string
	MedicationID string
	ScheduleID   string
	Status       adherence.Status
	ScheduledAt  time.Time
	ActualAt     time.Time
	Note         string
	CreatedAt    time.Time
}

// ScheduledDose is one materialized occurrence for a day.
type ScheduledDose struct {
	MedicationID string
	ScheduleID   string
	Name         string
	Dose         string
	Form         Form
	Instructions string
	At           recurrence.TimeOfDay
	Due          time.Time
	Status       adherence.Status
	// EntryID identifies the history entry the status came from; empty when pending.
	EntryID  string
	Quantity int
}

// DaySchedule is the materialized dose list for one calendar day.
type DaySchedule struct {
	Date    recurrence.Date
	Doses   []ScheduledDose
	Summary adherence.Summary
}

// DoseActionParams identifies a single dose occurrence to act upon.
type DoseActionParams struct {
	Principal    Principal
	MedicationID string
	ScheduleID   string
	// Date is the calendar day of the occurrence. Zero means today.
	Date recurrence.Date
}

// SnoozeParams identifies a dose occurrence and the snooze length.
type SnoozeParams struct {
	DoseActionParams
	Minutes int
}

// DoseOutcome reports the result of a recorded dose action.
type DoseOutcome struct {
	Entry               HistoryEntry
	Quantity            int
	RefillAlertSignaled bool
	// Warnings lists secondary effects that failed after the entry was recorded.
	Warnings []string
}

// TodaysDosesParams selects the day to materialize. Zero Date means today.
type TodaysDosesParams struct {
	Principal Principal
	Date      recurrence.Date
}

// MedicationInput is caller supplied medication data in its raw form.
type MedicationInput struct {
	Name            string
	Dose            string
	Form            string
	Quantity        int
	UnitsPerDose    *int
	RefillThreshold *int
	Instructions    string
	StartDate       string
	EndDate         string
	Schedules       []ScheduleInput
}

// ScheduleInput is a raw schedule: "HH:MM" plus weekday numbers, Sunday = 0.
// An empty weekday list means every day.
type ScheduleInput struct {
	Time     string
	Weekdays []int
}

// MedicationUpdateInput is a partial update. Schedules, when non-nil, replace
// every existing schedule.
type MedicationUpdateInput struct {
	Name            *string
	Dose            *string
	Form            *string
	Quantity        *int
	UnitsPerDose    *int
	RefillThreshold *int
	Instructions    *string
	StartDate       *string
	// EndDate set to an empty string clears the end date.
	EndDate   *string
	Schedules []ScheduleInput
}

// CreateMedicationParams wraps the data required to create a medication.
type CreateMedicationParams struct {
	Principal Principal
	Input     MedicationInput
}

// UpdateMedicationParams wraps the data required to update a medication.
type UpdateMedicationParams struct {
	Principal    Principal
	MedicationID string
	Input        MedicationUpdateInput
}

// HistoryFilter restricts a history listing to one recorded status.
type HistoryFilter string

const (
	HistoryFilterAll     HistoryFilter = "all"
	HistoryFilterTaken   HistoryFilter = "taken"
	HistoryFilterMissed  HistoryFilter = "missed"
	HistoryFilterSnoozed HistoryFilter = "snoozed"
)

// ListHistoryParams selects a page of history.
type ListHistoryParams struct {
	Principal Principal
	Filter    HistoryFilter
	Limit     int
}

// HistoryItem is a history entry enriched with medication details.
type HistoryItem struct {
	HistoryEntry
	MedicationName string
	Dose           string
	Form           Form
}

// HistoryPage is a filtered history listing plus a summary over the page
// before filtering.
type HistoryPage struct {
	Items   []HistoryItem
	Summary adherence.Summary
}

// User is an account holder.
type User struct {
	ID          string
	Email       string
	DisplayName string
	Timezone    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// UserCredentials pairs a user with the stored password hash.
type UserCredentials struct {
	User         User
	PasswordHash string
}

// Session is an issued authentication session.
type Session struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
	RevokedAt *time.Time
}

// SignUpParams captures registration input.
type SignUpParams struct {
	Email       string
	Password    string
	DisplayName string
	Timezone    string
}

// SignInParams captures credentials for a sign in.
type SignInParams struct {
	Email    string
	Password string
}

// AuthResult is returned by successful sign up and sign in calls.
type AuthResult struct {
	User    User
	Session Session
}

// PasswordReset is a pending reset token.
type PasswordReset struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
	UsedAt    *time.Time
}

// UpdateProfileParams captures profile changes. Nil fields are left unchanged.
type UpdateProfileParams struct {
	Principal   Principal
	DisplayName *string
	Timezone    *string
}
