package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"
)

// ProfileStore reads and writes account holders.
type ProfileStore interface {
	GetUser(ctx context.Context, id string) (User, error)
	UpdateUser(ctx context.Context, user User) error
}

// CredentialStore exposes the user operations required by the auth service.
type CredentialStore interface {
	ProfileStore
	CreateUser(ctx context.Context, credentials UserCredentials) error
	GetUserCredentialsByEmail(ctx context.Context, email string) (UserCredentials, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string, updatedAt time.Time) error
}

// SessionRepository captures the persistence interactions for issued sessions.
type SessionRepository interface {
	CreateSession(ctx context.Context, session Session) error
	GetSession(ctx context.Context, token string) (Session, error)
	RevokeSession(ctx context.Context, token string, revokedAt time.Time) error
	RevokeUserSessions(ctx context.Context, userID string, revokedAt time.Time) error
	DeleteExpiredSessions(ctx context.Context, reference time.Time) (int64, error)
}

// PasswordResetStore keeps pending password reset tokens.
type PasswordResetStore interface {
	CreatePasswordReset(ctx context.Context, reset PasswordReset) error
	GetPasswordReset(ctx context.Context, token string) (PasswordReset, error)
	MarkPasswordResetUsed(ctx context.Context, token string, usedAt time.Time) error
}

// ResetMailer delivers password reset tokens to users.
type ResetMailer interface {
	SendPasswordReset(ctx context.Context, user User, token string, expiresAt time.Time) error
}

const (
	minPasswordLength = 8
	maxPasswordLength = 128
)

// AuthServiceConfig tunes token lifetimes and password hashing.
type AuthServiceConfig struct {
	SessionTTL      time.Duration
	ResetTTL        time.Duration
	DefaultTimezone string
	PasswordParams  Argon2idParams
}

func (c AuthServiceConfig) withDefaults() AuthServiceConfig {
	if c.SessionTTL <= 0 {
		c.SessionTTL = 30 * 24 * time.Hour
	}
	if c.ResetTTL <= 0 {
		c.ResetTTL = time.Hour
	}
	if strings.TrimSpace(c.DefaultTimezone) == "" {
		c.DefaultTimezone = "UTC"
	}
	if c.PasswordParams == (Argon2idParams{}) {
		c.PasswordParams = DefaultArgon2idParams
	}
	return c
}

// AuthService coordinates registration, sign in, sessions and password resets.
type AuthService struct {
	users          CredentialStore
	sessions       SessionRepository
	resets         PasswordResetStore
	mailer         ResetMailer
	cfg            AuthServiceConfig
	tokenGenerator func() string
	now            func() time.Time
	logger         *slog.Logger
}

// NewAuthService constructs an AuthService with the provided dependencies.
func NewAuthService(users CredentialStore, sessions SessionRepository, resets PasswordResetStore, mailer ResetMailer, cfg AuthServiceConfig, tokenGenerator func() string, now func() time.Time) *AuthService {
	return NewAuthServiceWithLogger(users, sessions, resets, mailer, cfg, tokenGenerator, now, nil)
}

// NewAuthServiceWithLogger constructs an AuthService with a specified logger.
func NewAuthServiceWithLogger(users CredentialStore, sessions SessionRepository, resets PasswordResetStore, mailer ResetMailer, cfg AuthServiceConfig, tokenGenerator func() string, now func() time.Time, logger *slog.Logger) *AuthService {
	if tokenGenerator == nil {
		tokenGenerator = func() string { return "" }
	}
	if now == nil {
		now = time.Now
	}
	return &AuthService{
		users:          users,
		sessions:       sessions,
		resets:         resets,
		mailer:         mailer,
		cfg:            cfg.withDefaults(),
		tokenGenerator: tokenGenerator,
		now:            now,
		logger:         defaultLogger(logger),
	}
}

func (s *AuthService) loggerWith(ctx context.Context, operation string, attrs ...any) *slog.Logger {
	return serviceLogger(ctx, s.logger, "AuthService", operation, attrs...)
}

// SignUp registers a new account and signs it in.
func (s *AuthService) SignUp(ctx context.Context, params SignUpParams) (result AuthResult, err error) {
	if s == nil {
		err = fmt.Errorf("AuthService is nil")
		return
	}

	email := normalizeEmail(params.Email)
	logger := s.loggerWith(ctx, "SignUp", "email", email)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "sign up failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("user_id", result.User.ID).InfoContext(ctx, "user registered")
	}()

	vErr := &ValidationError{}
	validateEmail(email, vErr)
	validatePassword("password", params.Password, vErr)
	displayName := strings.TrimSpace(params.DisplayName)
	if len([]rune(displayName)) > maxNameLength {
		vErr.add("display_name", fmt.Sprintf("display name must be at most %d characters", maxNameLength))
	}
	timezone := strings.TrimSpace(params.Timezone)
	if timezone == "" {
		timezone = s.cfg.DefaultTimezone
	}
	validateTimezone(timezone, vErr)
	if vErr.HasErrors() {
		err = vErr
		return
	}

	_, err = s.users.GetUserCredentialsByEmail(ctx, email)
	switch {
	case err == nil:
		err = fmt.Errorf("email %s: %w", email, ErrAlreadyExists)
		return
	case !errors.Is(err, ErrNotFound):
		err = collaboratorError("users.get_by_email", err)
		return
	}

	var hash string
	hash, err = CreatePasswordHash(params.Password, s.cfg.PasswordParams)
	if err != nil {
		return
	}

	if displayName == "" {
		displayName, _, _ = strings.Cut(email, "@")
	}
	now := s.now()
	user := User{
		ID:          s.tokenGenerator(),
		Email:       email,
		DisplayName: displayName,
		Timezone:    timezone,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err = s.users.CreateUser(ctx, UserCredentials{User: user, PasswordHash: hash}); err != nil {
		if !errors.Is(err, ErrAlreadyExists) {
			err = collaboratorError("users.create", err)
		}
		return
	}

	var session Session
	session, err = s.issueSession(ctx, user.ID, now)
	if err != nil {
		return
	}
	result = AuthResult{User: user, Session: session}
	return
}

// SignIn validates credentials and issues a new session token.
func (s *AuthService) SignIn(ctx context.Context, params SignInParams) (result AuthResult, err error) {
	if s == nil {
		err = fmt.Errorf("AuthService is nil")
		return
	}

	email := normalizeEmail(params.Email)
	logger := s.loggerWith(ctx, "SignIn", "email", email)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "sign in failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With(
			"user_id", result.User.ID,
			"session_id", result.Session.ID,
		).InfoContext(ctx, "sign in succeeded")
	}()

	if email == "" || params.Password == "" {
		err = ErrInvalidCredentials
		return
	}

	var creds UserCredentials
	creds, err = s.users.GetUserCredentialsByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			err = ErrInvalidCredentials
			return
		}
		err = collaboratorError("users.get_by_email", err)
		return
	}

	if err = VerifyPassword(creds.PasswordHash, params.Password); err != nil {
		err = ErrInvalidCredentials
		return
	}

	now := s.now()
	if _, err = s.sessions.DeleteExpiredSessions(ctx, now); err != nil {
		err = collaboratorError("sessions.delete_expired", err)
		return
	}

	var session Session
	session, err = s.issueSession(ctx, creds.User.ID, now)
	if err != nil {
		return
	}
	result = AuthResult{User: creds.User, Session: session}
	return
}

func (s *AuthService) issueSession(ctx context.Context, userID string, now time.Time) (Session, error) {
	id := s.tokenGenerator()
	token := s.tokenGenerator()
	if token == "" {
		token = id
	}
	session := Session{
		ID:        id,
		UserID:    userID,
		Token:     token,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.SessionTTL),
	}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return Session{}, collaboratorError("sessions.create", err)
	}
	return session, nil
}

// SignOut revokes an existing session token.
func (s *AuthService) SignOut(ctx context.Context, token string) error {
	if s == nil {
		return fmt.Errorf("AuthService is nil")
	}

	trimmed := strings.TrimSpace(token)
	if trimmed == "" {
		return ErrInvalidCredentials
	}

	logger := s.loggerWith(ctx, "SignOut")

	if err := s.sessions.RevokeSession(ctx, trimmed, s.now()); err != nil {
		if errors.Is(err, ErrNotFound) {
			logger.ErrorContext(ctx, "failed to revoke session", "error", ErrInvalidCredentials, "error_kind", ErrorKind(ErrInvalidCredentials))
			return ErrInvalidCredentials
		}
		err = collaboratorError("sessions.revoke", err)
		logger.ErrorContext(ctx, "failed to revoke session", "error", err, "error_kind", ErrorKind(err))
		return err
	}
	logger.InfoContext(ctx, "session revoked")
	return nil
}

// ValidateSession verifies that the provided token corresponds to an active
// session and returns its principal.
func (s *AuthService) ValidateSession(ctx context.Context, token string) (principal Principal, err error) {
	if s == nil {
		err = fmt.Errorf("AuthService is nil")
		return
	}

	trimmed := strings.TrimSpace(token)
	logger := s.loggerWith(ctx, "ValidateSession", "token_provided", trimmed != "")
	defer func() {
		if err != nil {
			logger.WarnContext(ctx, "session validation failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.With("principal_id", principal.UserID).DebugContext(ctx, "session validated")
	}()

	if trimmed == "" {
		err = ErrInvalidCredentials
		return
	}

	var session Session
	session, err = s.sessions.GetSession(ctx, trimmed)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			err = ErrUnauthorized
			return
		}
		err = collaboratorError("sessions.get", err)
		return
	}

	now := s.now()
	if session.RevokedAt != nil && !session.RevokedAt.IsZero() {
		err = ErrSessionRevoked
		return
	}
	if !session.ExpiresAt.IsZero() && !session.ExpiresAt.After(now) {
		err = ErrSessionExpired
		return
	}

	var user User
	user, err = s.users.GetUser(ctx, session.UserID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			err = ErrUnauthorized
			return
		}
		err = collaboratorError("users.get", err)
		return
	}

	principal = Principal{UserID: user.ID, Timezone: user.Timezone}
	return
}

// RequestPasswordReset issues a reset token and mails it. Unknown emails
// succeed without effect so callers cannot probe for accounts.
func (s *AuthService) RequestPasswordReset(ctx context.Context, email string) (err error) {
	if s == nil {
		return fmt.Errorf("AuthService is nil")
	}

	email = normalizeEmail(email)
	logger := s.loggerWith(ctx, "RequestPasswordReset", "email", email)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "password reset request failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "password reset requested")
	}()

	vErr := &ValidationError{}
	validateEmail(email, vErr)
	if vErr.HasErrors() {
		return vErr
	}

	creds, err := s.users.GetUserCredentialsByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			logger.DebugContext(ctx, "password reset requested for unknown email")
			return nil
		}
		return collaboratorError("users.get_by_email", err)
	}

	now := s.now()
	reset := PasswordReset{
		Token:     s.tokenGenerator(),
		UserID:    creds.User.ID,
		CreatedAt: now,
		ExpiresAt: now.Add(s.cfg.ResetTTL),
	}
	if err = s.resets.CreatePasswordReset(ctx, reset); err != nil {
		return collaboratorError("password_resets.create", err)
	}
	if s.mailer == nil {
		return nil
	}
	if err = s.mailer.SendPasswordReset(ctx, creds.User, reset.Token, reset.ExpiresAt); err != nil {
		return collaboratorError("mailer.send_password_reset", err)
	}
	return nil
}

// ConfirmPasswordReset sets a new password using a reset token. Every session
// of the user is revoked afterwards.
func (s *AuthService) ConfirmPasswordReset(ctx context.Context, token, newPassword string) (err error) {
	if s == nil {
		return fmt.Errorf("AuthService is nil")
	}

	token = strings.TrimSpace(token)
	logger := s.loggerWith(ctx, "ConfirmPasswordReset", "token_provided", token != "")
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "password reset failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "password reset completed")
	}()

	if token == "" {
		return ErrInvalidResetToken
	}
	vErr := &ValidationError{}
	validatePassword("password", newPassword, vErr)
	if vErr.HasErrors() {
		return vErr
	}

	reset, err := s.resets.GetPasswordReset(ctx, token)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidResetToken
		}
		return collaboratorError("password_resets.get", err)
	}
	now := s.now()
	if reset.UsedAt != nil || !reset.ExpiresAt.After(now) {
		return ErrInvalidResetToken
	}

	hash, err := CreatePasswordHash(newPassword, s.cfg.PasswordParams)
	if err != nil {
		return err
	}
	if err = s.resets.MarkPasswordResetUsed(ctx, token, now); err != nil {
		return collaboratorError("password_resets.mark_used", err)
	}
	if err = s.users.UpdatePassword(ctx, reset.UserID, hash, now); err != nil {
		return collaboratorError("users.update_password", err)
	}
	if err = s.sessions.RevokeUserSessions(ctx, reset.UserID, now); err != nil {
		return collaboratorError("sessions.revoke_user", err)
	}
	return nil
}

// PurgeExpiredSessions deletes sessions whose expiry has passed.
func (s *AuthService) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	if s == nil {
		return 0, fmt.Errorf("AuthService is nil")
	}
	logger := s.loggerWith(ctx, "PurgeExpiredSessions")
	removed, err := s.sessions.DeleteExpiredSessions(ctx, s.now())
	if err != nil {
		err = collaboratorError("sessions.delete_expired", err)
		logger.ErrorContext(ctx, "failed to purge sessions", "error", err, "error_kind", ErrorKind(err))
		return 0, err
	}
	logger.DebugContext(ctx, "expired sessions purged", "removed", removed)
	return removed, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validateEmail(email string, vErr *ValidationError) {
	if email == "" {
		vErr.add("email", "email is required")
		return
	}
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		vErr.add("email", "email must be a valid address")
	}
}

func validatePassword(field, password string, vErr *ValidationError) {
	switch n := len(password); {
	case n < minPasswordLength:
		vErr.add(field, fmt.Sprintf("password must be at least %d characters", minPasswordLength))
	case n > maxPasswordLength:
		vErr.add(field, fmt.Sprintf("password must be at most %d characters", maxPasswordLength))
	}
}

func validateTimezone(name string, vErr *ValidationError) {
	if _, err := time.LoadLocation(name); err != nil {
		vErr.add("timezone", "timezone must be a valid IANA zone name")
	}
}
