package persistence

import "time"

// User represents an account holder together with their profile settings.
type User struct {
	ID           string
	Email        string
	DisplayName  string
	Timezone     string
	PasswordHash string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Session represents an authentication session persisted for a user.
type Session struct {
	ID        string
	UserID    string
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
	RevokedAt *time.Time
}

// PasswordReset is a single use token allowing a user to choose a new password.
type PasswordReset struct {
	Token     string
	UserID    string
	ExpiresAt time.Time
	CreatedAt time.Time
	UsedAt    *time.Time
}

// Medication is a tracked drug together with its dosing schedules.
//
// StartDate and EndDate are calendar dates formatted as YYYY-MM-DD.
type Medication struct {
	ID              string
	UserID          string
	Name            string
	Dose            string
	Form            string
	Quantity        int
	UnitsPerDose    int
	RefillThreshold int
	Instructions    string
	StartDate       string
	EndDate         *string
	Active          bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
	Schedules       []Schedule
}

// Schedule is a recurring time-of-day rule belonging to a medication.
// TimeOfDay is formatted as HH:MM.
type Schedule struct {
	ID           string
	MedicationID string
	TimeOfDay    string
	Weekdays     []time.Weekday
	CreatedAt    time.Time
}

// HistoryEntry is an immutable dose outcome record.
type HistoryEntry struct {
	ID           string
	UserID       string
	MedicationID string
	ScheduleID   string
	Status       string
	ScheduledAt  time.Time
	ActualAt     time.Time
	Note         string
	CreatedAt    time.Time
}
