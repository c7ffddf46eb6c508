package persistence

import (
	"context"
	"time"
)

// UserRepository stores account holders.
type UserRepository interface {
	CreateUser(ctx context.Context, user User) error
	UpdateUser(ctx context.Context, user User) error
	GetUser(ctx context.Context, id string) (User, error)
	GetUserByEmail(ctx context.Context, email string) (User, error)
}

// SessionRepository stores authentication session state.
type SessionRepository interface {
	CreateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, token string) (Session, error)
	RevokeSession(ctx context.Context, token string, revokedAt time.Time) error
	RevokeUserSessions(ctx context.Context, userID string, revokedAt time.Time) error
	DeleteExpiredSessions(ctx context.Context, reference time.Time) (int64, error)
}

// PasswordResetRepository stores pending password reset tokens.
type PasswordResetRepository interface {
	CreatePasswordReset(ctx context.Context, reset PasswordReset) error
	GetPasswordReset(ctx context.Context, token string) (PasswordReset, error)
	MarkPasswordResetUsed(ctx context.Context, token string, usedAt time.Time) error
}

// MedicationRepository stores medications and their schedules.
type MedicationRepository interface {
	CreateMedication(ctx context.Context, medication Medication) error
	UpdateMedication(ctx context.Context, medication Medication) error
	GetMedication(ctx context.Context, id string) (Medication, error)
	// ListMedications returns the user's medications ordered by creation time,
	// newest first. Inactive medications are included only when requested.
	ListMedications(ctx context.Context, userID string, includeInactive bool) ([]Medication, error)
	SoftDeleteMedication(ctx context.Context, id string, deletedAt time.Time) error
	// ReplaceSchedules deletes every schedule of the medication and stores the
	// supplied ones in their place.
	ReplaceSchedules(ctx context.Context, medicationID string, schedules []Schedule) error
}

// HistoryRepository is an append-only dose outcome log.
type HistoryRepository interface {
	AppendHistory(ctx context.Context, entry HistoryEntry) error
	// ListHistory returns at most limit entries for the user, newest actual
	// instant first. A non-positive limit returns every entry.
	ListHistory(ctx context.Context, userID string, limit int) ([]HistoryEntry, error)
}
