// Package memory provides a process-local implementation of every persistence
// repository. It backs the memory store backend and integration tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/example/medreminder/internal/persistence"
)

// Storage keeps all records in maps guarded by a single lock.
type Storage struct {
	mu          sync.RWMutex
	users       map[string]persistence.User
	sessions    map[string]persistence.Session
	resets      map[string]persistence.PasswordReset
	medications map[string]persistence.Medication
	history     []persistence.HistoryEntry
}

// New returns an empty Storage.
func New() *Storage {
	return &Storage{
		users:       make(map[string]persistence.User),
		sessions:    make(map[string]persistence.Session),
		resets:      make(map[string]persistence.PasswordReset),
		medications: make(map[string]persistence.Medication),
	}
}

// Close is a no-op.
func (s *Storage) Close() error {
	return nil
}

// --- UserRepository implementation ---

// CreateUser stores a new user.
func (s *Storage) CreateUser(ctx context.Context, user persistence.User) error {
	if user.ID == "" {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; ok {
		return fmt.Errorf("memory: user %s: %w", user.ID, persistence.ErrDuplicate)
	}
	if err := s.ensureUniqueEmailLocked(user.ID, user.Email); err != nil {
		return err
	}

	s.users[user.ID] = user
	return nil
}

// UpdateUser replaces an existing user.
func (s *Storage) UpdateUser(ctx context.Context, user persistence.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[user.ID]; !ok {
		return persistence.ErrNotFound
	}
	if err := s.ensureUniqueEmailLocked(user.ID, user.Email); err != nil {
		return err
	}

	s.users[user.ID] = user
	return nil
}

// GetUser retrieves a user by ID.
func (s *Storage) GetUser(ctx context.Context, id string) (persistence.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return persistence.User{}, persistence.ErrNotFound
	}
	return user, nil
}

// GetUserByEmail retrieves a user by case-insensitive email address.
func (s *Storage) GetUserByEmail(ctx context.Context, email string) (persistence.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	lower := strings.ToLower(strings.TrimSpace(email))
	for _, user := range s.users {
		if strings.ToLower(user.Email) == lower {
			return user, nil
		}
	}
	return persistence.User{}, persistence.ErrNotFound
}

func (s *Storage) ensureUniqueEmailLocked(id, email string) error {
	lower := strings.ToLower(email)
	for existingID, user := range s.users {
		if existingID == id {
			continue
		}
		if strings.ToLower(user.Email) == lower {
			return fmt.Errorf("memory: email %s: %w", email, persistence.ErrDuplicate)
		}
	}
	return nil
}

// --- SessionRepository implementation ---

// CreateSession stores a session keyed by its token.
func (s *Storage) CreateSession(ctx context.Context, session persistence.Session) error {
	if session.ID == "" || session.UserID == "" || strings.TrimSpace(session.Token) == "" {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[session.UserID]; !ok {
		return persistence.ErrForeignKeyViolation
	}
	if _, ok := s.sessions[session.Token]; ok {
		return persistence.ErrDuplicate
	}
	s.sessions[session.Token] = cloneSession(session)
	return nil
}

// GetSession retrieves a session by token.
func (s *Storage) GetSession(ctx context.Context, token string) (persistence.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	session, ok := s.sessions[strings.TrimSpace(token)]
	if !ok {
		return persistence.Session{}, persistence.ErrNotFound
	}
	return cloneSession(session), nil
}

// RevokeSession marks a session revoked.
func (s *Storage) RevokeSession(ctx context.Context, token string, revokedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[strings.TrimSpace(token)]
	if !ok {
		return persistence.ErrNotFound
	}
	at := revokedAt
	session.RevokedAt = &at
	s.sessions[session.Token] = session
	return nil
}

// RevokeUserSessions revokes every live session of a user.
func (s *Storage) RevokeUserSessions(ctx context.Context, userID string, revokedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for token, session := range s.sessions {
		if session.UserID != userID || session.RevokedAt != nil {
			continue
		}
		at := revokedAt
		session.RevokedAt = &at
		s.sessions[token] = session
	}
	return nil
}

// DeleteExpiredSessions removes sessions whose expiry is not after reference.
func (s *Storage) DeleteExpiredSessions(ctx context.Context, reference time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for token, session := range s.sessions {
		if !session.ExpiresAt.After(reference) {
			delete(s.sessions, token)
			removed++
		}
	}
	return removed, nil
}

// --- PasswordResetRepository implementation ---

// CreatePasswordReset stores a reset token.
func (s *Storage) CreatePasswordReset(ctx context.Context, reset persistence.PasswordReset) error {
	if reset.Token == "" || reset.UserID == "" {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[reset.UserID]; !ok {
		return persistence.ErrForeignKeyViolation
	}
	if _, ok := s.resets[reset.Token]; ok {
		return persistence.ErrDuplicate
	}
	s.resets[reset.Token] = reset
	return nil
}

// GetPasswordReset retrieves a reset token.
func (s *Storage) GetPasswordReset(ctx context.Context, token string) (persistence.PasswordReset, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reset, ok := s.resets[token]
	if !ok {
		return persistence.PasswordReset{}, persistence.ErrNotFound
	}
	return reset, nil
}

// MarkPasswordResetUsed consumes a reset token.
func (s *Storage) MarkPasswordResetUsed(ctx context.Context, token string, usedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	reset, ok := s.resets[token]
	if !ok {
		return persistence.ErrNotFound
	}
	at := usedAt
	reset.UsedAt = &at
	s.resets[token] = reset
	return nil
}

// --- MedicationRepository implementation ---

// CreateMedication stores a medication and any schedules it carries.
func (s *Storage) CreateMedication(ctx context.Context, medication persistence.Medication) error {
	if medication.ID == "" || medication.UserID == "" {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.medications[medication.ID]; ok {
		return persistence.ErrDuplicate
	}
	if _, ok := s.users[medication.UserID]; !ok {
		return persistence.ErrForeignKeyViolation
	}
	stored := cloneMedication(medication)
	for i := range stored.Schedules {
		stored.Schedules[i].MedicationID = stored.ID
	}
	s.medications[stored.ID] = stored
	return nil
}

// UpdateMedication replaces the medication attributes, keeping its schedules.
func (s *Storage) UpdateMedication(ctx context.Context, medication persistence.Medication) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.medications[medication.ID]
	if !ok {
		return persistence.ErrNotFound
	}
	medication.UserID = existing.UserID
	medication.CreatedAt = existing.CreatedAt
	medication.Schedules = existing.Schedules
	s.medications[medication.ID] = cloneMedication(medication)
	return nil
}

// GetMedication retrieves a medication with its schedules.
func (s *Storage) GetMedication(ctx context.Context, id string) (persistence.Medication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	medication, ok := s.medications[id]
	if !ok {
		return persistence.Medication{}, persistence.ErrNotFound
	}
	return cloneMedication(medication), nil
}

// ListMedications returns the user's medications, newest first.
func (s *Storage) ListMedications(ctx context.Context, userID string, includeInactive bool) ([]persistence.Medication, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	medications := make([]persistence.Medication, 0)
	for _, medication := range s.medications {
		if medication.UserID != userID {
			continue
		}
		if !medication.Active && !includeInactive {
			continue
		}
		medications = append(medications, cloneMedication(medication))
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
func (s *Storage) SoftDeleteMedication(ctx context.Context, id string, deletedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	medication, ok := s.medications[id]
	if !ok {
		return persistence.ErrNotFound
	}
	medication.Active = false
	medication.UpdatedAt = deletedAt
	s.medications[id] = medication
	return nil
}

// ReplaceSchedules swaps the medication's schedule set.
func (s *Storage) ReplaceSchedules(ctx context.Context, medicationID string, schedules []persistence.Schedule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	medication, ok := s.medications[medicationID]
	if !ok {
		return persistence.ErrNotFound
	}
	replaced := make([]persistence.Schedule, 0, len(schedules))
	seen := make(map[string]struct{}, len(schedules))
	for _, schedule := range schedules {
		if schedule.ID == "" {
			return persistence.ErrConstraintViolation
		}
		if _, dup := seen[schedule.ID]; dup {
			return persistence.ErrDuplicate
		}
		seen[schedule.ID] = struct{}{}
		schedule.MedicationID = medicationID
		replaced = append(replaced, cloneSchedule(schedule))
	}
	medication.Schedules = replaced
	s.medications[medicationID] = medication
	return nil
}

// --- HistoryRepository implementation ---

// AppendHistory adds an entry to the log.
func (s *Storage) AppendHistory(ctx context.Context, entry persistence.HistoryEntry) error {
	if entry.ID == "" || entry.UserID == "" || entry.MedicationID == "" {
		return persistence.ErrConstraintViolation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.medications[entry.MedicationID]; !ok {
		return persistence.ErrForeignKeyViolation
	}
	for _, existing := range s.history {
		if existing.ID == entry.ID {
			return persistence.ErrDuplicate
		}
	}
	s.history = append(s.history, entry)
	return nil
}

// ListHistory returns the newest entries for the user.
func (s *Storage) ListHistory(ctx context.Context, userID string, limit int) ([]persistence.HistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]persistence.HistoryEntry, 0)
	for _, entry := range s.history {
		if entry.UserID == userID {
			entries = append(entries, entry)
		}
	}

	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].ActualAt.After(entries[j].ActualAt)
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// --- Helpers ---

func cloneSession(session persistence.Session) persistence.Session {
	if session.RevokedAt != nil {
		at := *session.RevokedAt
		session.RevokedAt = &at
	}
	return session
}

func cloneMedication(medication persistence.Medication) persistence.Medication {
	if medication.EndDate != nil {
		end := *medication.EndDate
		medication.EndDate = &end
	}
	schedules := make([]persistence.Schedule, len(medication.Schedules))
	for i, schedule := range medication.Schedules {
		schedules[i] = cloneSchedule(schedule)
	}
	medication.Schedules = schedules
	return medication
}

func cloneSchedule(schedule persistence.Schedule) persistence.Schedule {
	weekdays := make([]time.Weekday, len(schedule.Weekdays))
	copy(weekdays, schedule.Weekdays)
	schedule.Weekdays = weekdays
	return schedule
}
