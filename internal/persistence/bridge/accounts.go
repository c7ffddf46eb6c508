package bridge

import (
	"context"
	"time"

	"github.com/example/medreminder/internal/application"
	"github.com/example/medreminder/internal/persistence"
)

// Users serves application.CredentialStore from a persistence.UserRepository.
type Users struct {
	repo persistence.UserRepository
}

// NewUsers wraps repo.
func NewUsers(repo persistence.UserRepository) *Users {
	return &Users{repo: repo}
}

var _ application.CredentialStore = (*Users)(nil)

func toUser(record persistence.User) application.User {
	return application.User{
		ID:          record.ID,
		Email:       record.Email,
		DisplayName: record.DisplayName,
		Timezone:    record.Timezone,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}
}

// CreateUser stores a new account with its password hash.
func (u *Users) CreateUser(ctx context.Context, credentials application.UserCredentials) error {
	user := credentials.User
	return mapError(u.repo.CreateUser(ctx, persistence.User{
		ID:           user.ID,
		Email:        user.Email,
		DisplayName:  user.DisplayName,
		Timezone:     user.Timezone,
		PasswordHash: credentials.PasswordHash,
		CreatedAt:    user.CreatedAt,
		UpdatedAt:    user.UpdatedAt,
	}))
}

// GetUser retrieves an account by ID.
func (u *Users) GetUser(ctx context.Context, id string) (application.User, error) {
	record, err := u.repo.GetUser(ctx, id)
	if err != nil {
		return application.User{}, mapError(err)
	}
	return toUser(record), nil
}

// GetUserCredentialsByEmail retrieves an account and its password hash.
func (u *Users) GetUserCredentialsByEmail(ctx context.Context, email string) (application.UserCredentials, error) {
	record, err := u.repo.GetUserByEmail(ctx, email)
	if err != nil {
		return application.UserCredentials{}, mapError(err)
	}
	return application.UserCredentials{User: toUser(record), PasswordHash: record.PasswordHash}, nil
}

// UpdateUser writes profile fields and keeps the stored password hash.
func (u *Users) UpdateUser(ctx context.Context, user application.User) error {
	record, err := u.repo.GetUser(ctx, user.ID)
	if err != nil {
		return mapError(err)
	}
	record.Email = user.Email
	record.DisplayName = user.DisplayName
	record.Timezone = user.Timezone
	record.UpdatedAt = user.UpdatedAt
	return mapError(u.repo.UpdateUser(ctx, record))
}

// UpdatePassword replaces the stored password hash.
func (u *Users) UpdatePassword(ctx context.Context, userID, passwordHash string, updatedAt time.Time) error {
	record, err := u.repo.GetUser(ctx, userID)
	if err != nil {
		return mapError(err)
	}
	record.PasswordHash = passwordHash
	record.UpdatedAt = updatedAt
	return mapError(u.repo.UpdateUser(ctx, record))
}

// Sessions serves application.SessionRepository.
type Sessions struct {
	repo persistence.SessionRepository
}

// NewSessions wraps repo.
func NewSessions(repo persistence.SessionRepository) *Sessions {
	return &Sessions{repo: repo}
}

var _ application.SessionRepository = (*Sessions)(nil)

// CreateSession stores an issued session.
func (s *Sessions) CreateSession(ctx context.Context, session application.Session) error {
	return mapError(s.repo.CreateSession(ctx, persistence.Session{
		ID:        session.ID,
		UserID:    session.UserID,
		Token:     session.Token,
		ExpiresAt: session.ExpiresAt,
		CreatedAt: session.CreatedAt,
		RevokedAt: session.RevokedAt,
	}))
}

// GetSession looks a session up by token.
func (s *Sessions) GetSession(ctx context.Context, token string) (application.Session, error) {
	record, err := s.repo.GetSession(ctx, token)
	if err != nil {
		return application.Session{}, mapError(err)
	}
	return application.Session{
		ID:        record.ID,
		UserID:    record.UserID,
		Token:     record.Token,
		ExpiresAt: record.ExpiresAt,
		CreatedAt: record.CreatedAt,
		RevokedAt: record.RevokedAt,
	}, nil
}

// RevokeSession marks a single session as revoked.
func (s *Sessions) RevokeSession(ctx context.Context, token string, revokedAt time.Time) error {
	return mapError(s.repo.RevokeSession(ctx, token, revokedAt))
}

// RevokeUserSessions revokes every live session of a user.
func (s *Sessions) RevokeUserSessions(ctx context.Context, userID string, revokedAt time.Time) error {
	return mapError(s.repo.RevokeUserSessions(ctx, userID, revokedAt))
}

// DeleteExpiredSessions removes sessions expired at reference.
func (s *Sessions) DeleteExpiredSessions(ctx context.Context, reference time.Time) (int64, error) {
	removed, err := s.repo.DeleteExpiredSessions(ctx, reference)
	return removed, mapError(err)
}

// PasswordResets serves application.PasswordResetStore.
type PasswordResets struct {
	repo persistence.PasswordResetRepository
}

// NewPasswordResets wraps repo.
func NewPasswordResets(repo persistence.PasswordResetRepository) *PasswordResets {
	return &PasswordResets{repo: repo}
}

var _ application.PasswordResetStore = (*PasswordResets)(nil)

// CreatePasswordReset stores a pending reset token.
func (p *PasswordResets) CreatePasswordReset(ctx context.Context, reset application.PasswordReset) error {
	return mapError(p.repo.CreatePasswordReset(ctx, persistence.PasswordReset{
		Token:     reset.Token,
		UserID:    reset.UserID,
		ExpiresAt: reset.ExpiresAt,
		CreatedAt: reset.CreatedAt,
		UsedAt:    reset.UsedAt,
	}))
}

// GetPasswordReset retrieves a reset token.
func (p *PasswordResets) GetPasswordReset(ctx context.Context, token string) (application.PasswordReset, error) {
	record, err := p.repo.GetPasswordReset(ctx, token)
	if err != nil {
		return application.PasswordReset{}, mapError(err)
	}
	return application.PasswordReset{
		Token:     record.Token,
		UserID:    record.UserID,
		ExpiresAt: record.ExpiresAt,
		CreatedAt: record.CreatedAt,
		UsedAt:    record.UsedAt,
	}, nil
}

// MarkPasswordResetUsed consumes a reset token.
func (p *PasswordResets) MarkPasswordResetUsed(ctx context.Context, token string, usedAt time.Time) error {
	return mapError(p.repo.MarkPasswordResetUsed(ctx, token, usedAt))
}
