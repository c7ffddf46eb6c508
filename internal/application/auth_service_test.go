package application

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

var testPasswordParams = Argon2idParams{Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}

func TestAuthService_SignUp(t *testing.T) {
	t.Parallel()

	t.Run("registers and signs in", func(t *testing.T) {
		t.Parallel()

		fx := newAuthFixture(t)
		result, err := fx.svc.SignUp(context.Background(), SignUpParams{
			Email:    " Alice@Example.com ",
			Password: "correct horse",
			Timezone: "Europe/Berlin",
		})
		if err != nil {
			t.Fatalf("SignUp failed: %v", err)
		}

		if result.User.Email != "alice@example.com" {
			t.Errorf("expected normalized email, got %q", result.User.Email)
		}
		if result.User.DisplayName != "alice" {
			t.Errorf("expected display name from the email, got %q", result.User.DisplayName)
		}
		if result.User.Timezone != "Europe/Berlin" {
			t.Errorf("unexpected timezone %q", result.User.Timezone)
		}
		stored := fx.users.byID[result.User.ID]
		if stored.PasswordHash == "" || stored.PasswordHash == "correct horse" {
			t.Fatalf("expected a hashed password, got %q", stored.PasswordHash)
		}
		if err := VerifyPassword(stored.PasswordHash, "correct horse"); err != nil {
			t.Errorf("stored hash does not verify: %v", err)
		}
		if !result.Session.ExpiresAt.Equal(fx.now.Add(time.Hour)) {
			t.Errorf("unexpected expiry %v", result.Session.ExpiresAt)
		}
		if _, ok := fx.sessions.byToken[result.Session.Token]; !ok {
			t.Errorf("expected session persisted")
		}
	})

	t.Run("defaults the timezone", func(t *testing.T) {
		t.Parallel()

		fx := newAuthFixture(t)
		result, err := fx.svc.SignUp(context.Background(), SignUpParams{Email: "bob@example.com", Password: "password1", DisplayName: " Bob "})
		if err != nil {
			t.Fatalf("SignUp failed: %v", err)
		}
		if result.User.Timezone != "Asia/Tokyo" || result.User.DisplayName != "Bob" {
			t.Errorf("unexpected user %+v", result.User)
		}
	})

	t.Run("validates input", func(t *testing.T) {
		t.Parallel()

		fx := newAuthFixture(t)
		_, err := fx.svc.SignUp(context.Background(), SignUpParams{Email: "nope", Password: "short", Timezone: "Mars/Base"})
		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected ValidationError, got %v", err)
		}
		for _, field := range []string{"email", "password", "timezone"} {
			if _, ok := vErr.FieldErrors[field]; !ok {
				t.Errorf("expected %s error, got %v", field, vErr.FieldErrors)
			}
		}
	})

	t.Run("rejects taken emails", func(t *testing.T) {
		t.Parallel()

		fx := newAuthFixture(t)
		fx.seedUser(t, "user-1", "taken@example.com", "password1")
		_, err := fx.svc.SignUp(context.Background(), SignUpParams{Email: "TAKEN@example.com", Password: "password1"})
		if !errors.Is(err, ErrAlreadyExists) {
			t.Fatalf("expected ErrAlreadyExists, got %v", err)
		}
	})

	t.Run("wraps store failures", func(t *testing.T) {
		t.Parallel()

		fx := newAuthFixture(t)
		fx.users.err = errors.New("boom")
		_, err := fx.svc.SignUp(context.Background(), SignUpParams{Email: "a@example.com", Password: "password1"})
		var cErr *CollaboratorError
		if !errors.As(err, &cErr) {
			t.Fatalf("expected CollaboratorError, got %v", err)
		}
	})
}

func TestAuthService_SignIn(t *testing.T) {
	t.Parallel()

	t.Run("issues sessions for valid credentials", func(t *testing.T) {
		t.Parallel()

		fx := newAuthFixture(t)
		fx.seedUser(t, "user-1", "user@example.com", "password1")

		result, err := fx.svc.SignIn(context.Background(), SignInParams{Email: "User@example.com", Password: "password1"})
		if err != nil {
			t.Fatalf("SignIn failed: %v", err)
		}
		if result.User.ID != "user-1" || result.Session.UserID != "user-1" {
			t.Fatalf("unexpected result %+v", result)
		}
		if len(fx.sessions.deleteCalls) != 1 || !fx.sessions.deleteCalls[0].Equal(fx.now) {
			t.Fatalf("expected DeleteExpiredSessions to be called with now, got %#v", fx.sessions.deleteCalls)
		}
	})

	t.Run("rejects invalid credentials with sentinel error", func(t *testing.T) {
		t.Parallel()

		fx := newAuthFixture(t)
		fx.seedUser(t, "user-1", "user@example.com", "password1")

		for _, params := range []SignInParams{
			{Email: "user@example.com", Password: "wrong-password"},
			{Email: "unknown@example.com", Password: "password1"},
			{Email: "", Password: "password1"},
		} {
			if _, err := fx.svc.SignIn(context.Background(), params); !errors.Is(err, ErrInvalidCredentials) {
				t.Errorf("%+v: expected ErrInvalidCredentials, got %v", params, err)
			}
		}
	})

	t.Run("propagates session failures", func(t *testing.T) {
		t.Parallel()

		fx := newAuthFixture(t)
		fx.seedUser(t, "user-1", "user@example.com", "password1")
		expected := errors.New("cleanup-failed")
		fx.sessions.deleteErr = expected

		_, err := fx.svc.SignIn(context.Background(), SignInParams{Email: "user@example.com", Password: "password1"})
		if !errors.Is(err, expected) {
			t.Fatalf("expected cleanup error %v, got %v", expected, err)
		}
	})
}

func TestAuthService_SignOutAndValidate(t *testing.T) {
	t.Parallel()

	fx := newAuthFixture(t)
	fx.seedUser(t, "user-1", "user@example.com", "password1")
	result, err := fx.svc.SignIn(context.Background(), SignInParams{Email: "user@example.com", Password: "password1"})
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	principal, err := fx.svc.ValidateSession(context.Background(), " "+result.Session.Token+" ")
	if err != nil {
		t.Fatalf("ValidateSession failed: %v", err)
	}
	if principal.UserID != "user-1" || principal.Timezone != "Asia/Tokyo" {
		t.Fatalf("unexpected principal: %#v", principal)
	}

	if err := fx.svc.SignOut(context.Background(), result.Session.Token); err != nil {
		t.Fatalf("SignOut failed: %v", err)
	}
	if _, err := fx.svc.ValidateSession(context.Background(), result.Session.Token); !errors.Is(err, ErrSessionRevoked) {
		t.Fatalf("expected ErrSessionRevoked, got %v", err)
	}
	if err := fx.svc.SignOut(context.Background(), "missing"); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if err := fx.svc.SignOut(context.Background(), "  "); !errors.Is(err, ErrInvalidCredentials) {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
}

func TestAuthService_ValidateSession(t *testing.T) {
	t.Parallel()

	revoked := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		session *Session
		token   string
		wantErr error
	}{
		{name: "empty token", token: " ", wantErr: ErrInvalidCredentials},
		{name: "unknown token", token: "nope", wantErr: ErrUnauthorized},
		{
			name:    "expired",
			session: &Session{ID: "s", UserID: "user-1", Token: "t", ExpiresAt: authNow.Add(-time.Minute)},
			token:   "t",
			wantErr: ErrSessionExpired,
		},
		{
			name:    "revoked",
			session: &Session{ID: "s", UserID: "user-1", Token: "t", ExpiresAt: authNow.Add(time.Hour), RevokedAt: &revoked},
			token:   "t",
			wantErr: ErrSessionRevoked,
		},
		{
			name:    "user missing",
			session: &Session{ID: "s", UserID: "ghost", Token: "t", ExpiresAt: authNow.Add(time.Hour)},
			token:   "t",
			wantErr: ErrUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			fx := newAuthFixture(t)
			fx.seedUser(t, "user-1", "user@example.com", "password1")
			if tt.session != nil {
				fx.sessions.byToken[tt.session.Token] = *tt.session
			}
			_, err := fx.svc.ValidateSession(context.Background(), tt.token)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestAuthService_PasswordReset(t *testing.T) {
	t.Parallel()

	fx := newAuthFixture(t)
	fx.seedUser(t, "user-1", "user@example.com", "password1")
	signedIn, err := fx.svc.SignIn(context.Background(), SignInParams{Email: "user@example.com", Password: "password1"})
	if err != nil {
		t.Fatalf("SignIn failed: %v", err)
	}

	if err := fx.svc.RequestPasswordReset(context.Background(), "nobody@example.com"); err != nil {
		t.Fatalf("unknown emails must succeed silently, got %v", err)
	}
	if len(fx.mailer.tokens) != 0 {
		t.Fatalf("expected no mail for unknown email")
	}

	if err := fx.svc.RequestPasswordReset(context.Background(), "USER@example.com"); err != nil {
		t.Fatalf("RequestPasswordReset failed: %v", err)
	}
	if len(fx.mailer.tokens) != 1 {
		t.Fatalf("expected one reset mail, got %d", len(fx.mailer.tokens))
	}
	token := fx.mailer.tokens[0]
	if !fx.resets.byToken[token].ExpiresAt.Equal(fx.now.Add(time.Hour)) {
		t.Errorf("unexpected reset expiry %v", fx.resets.byToken[token].ExpiresAt)
	}

	err = fx.svc.ConfirmPasswordReset(context.Background(), token, "short")
	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected ValidationError, got %v", err)
	}

	if err := fx.svc.ConfirmPasswordReset(context.Background(), token, "new password"); err != nil {
		t.Fatalf("ConfirmPasswordReset failed: %v", err)
	}
	if _, err := fx.svc.SignIn(context.Background(), SignInParams{Email: "user@example.com", Password: "password1"}); !errors.Is(err, ErrInvalidCredentials) {
		t.Errorf("old password must stop working, got %v", err)
	}
	if _, err := fx.svc.SignIn(context.Background(), SignInParams{Email: "user@example.com", Password: "new password"}); err != nil {
		t.Errorf("new password must work, got %v", err)
	}
	if _, err := fx.svc.ValidateSession(context.Background(), signedIn.Session.Token); !errors.Is(err, ErrSessionRevoked) {
		t.Errorf("existing sessions must be revoked, got %v", err)
	}

	if err := fx.svc.ConfirmPasswordReset(context.Background(), token, "another password"); !errors.Is(err, ErrInvalidResetToken) {
		t.Errorf("used tokens must be rejected, got %v", err)
	}
	if err := fx.svc.ConfirmPasswordReset(context.Background(), "unknown", "another password"); !errors.Is(err, ErrInvalidResetToken) {
		t.Errorf("unknown tokens must be rejected, got %v", err)
	}
}

func TestAuthService_PasswordReset_Expired(t *testing.T) {
	t.Parallel()

	fx := newAuthFixture(t)
	fx.seedUser(t, "user-1", "user@example.com", "password1")
	fx.resets.byToken["old"] = PasswordReset{Token: "old", UserID: "user-1", ExpiresAt: authNow}

	if err := fx.svc.ConfirmPasswordReset(context.Background(), "old", "new password"); !errors.Is(err, ErrInvalidResetToken) {
		t.Fatalf("expected ErrInvalidResetToken, got %v", err)
	}

	fx.mailer.err = errors.New("smtp down")
	err := fx.svc.RequestPasswordReset(context.Background(), "user@example.com")
	var cErr *CollaboratorError
	if !errors.As(err, &cErr) || cErr.Op != "mailer.send_password_reset" {
		t.Fatalf("expected mailer collaborator error, got %v", err)
	}
}

func TestAuthService_PurgeExpiredSessions(t *testing.T) {
	t.Parallel()

	fx := newAuthFixture(t)
	fx.sessions.byToken["a"] = Session{ID: "a", Token: "a", ExpiresAt: authNow.Add(-time.Second)}
	fx.sessions.byToken["b"] = Session{ID: "b", Token: "b", ExpiresAt: authNow.Add(time.Second)}

	removed, err := fx.svc.PurgeExpiredSessions(context.Background())
	if err != nil {
		t.Fatalf("PurgeExpiredSessions failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected one removal, got %d", removed)
	}
	if _, ok := fx.sessions.byToken["b"]; !ok {
		t.Errorf("live session must survive")
	}
}

var authNow = time.Date(2024, 3, 13, 10, 0, 0, 0, time.UTC)

type authFixture struct {
	svc      *AuthService
	users    *userStoreStub
	sessions *sessionRepositoryStub
	resets   *resetStoreStub
	mailer   *mailerStub
	now      time.Time
}

func newAuthFixture(t *testing.T) *authFixture {
	t.Helper()
	fx := &authFixture{
		users:    newUserStoreStub(),
		sessions: &sessionRepositoryStub{byToken: map[string]Session{}},
		resets:   &resetStoreStub{byToken: map[string]PasswordReset{}},
		mailer:   &mailerStub{},
		now:      authNow,
	}
	var (
		mu  sync.Mutex
		seq int
	)
	fx.svc = NewAuthService(fx.users, fx.sessions, fx.resets, fx.mailer, AuthServiceConfig{
		SessionTTL:      time.Hour,
		DefaultTimezone: "Asia/Tokyo",
		PasswordParams:  testPasswordParams,
	}, func() string {
		mu.Lock()
		defer mu.Unlock()
		seq++
		return fmt.Sprintf("token-%d", seq)
	}, func() time.Time { return fx.now })
	return fx
}

func (fx *authFixture) seedUser(t *testing.T, id, email, password string) {
	t.Helper()
	hash, err := CreatePasswordHash(password, testPasswordParams)
	if err != nil {
		t.Fatalf("CreatePasswordHash: %v", err)
	}
	fx.users.byID[id] = UserCredentials{
		User:         User{ID: id, Email: email, DisplayName: id, Timezone: "Asia/Tokyo"},
		PasswordHash: hash,
	}
}

// userStoreStub implements CredentialStore for tests.
type userStoreStub struct {
	byID map[string]UserCredentials
	err  error
}

func newUserStoreStub() *userStoreStub {
	return &userStoreStub{byID: make(map[string]UserCredentials)}
}

func (u *userStoreStub) CreateUser(ctx context.Context, credentials UserCredentials) error {
	if u.err != nil {
		return u.err
	}
	u.byID[credentials.User.ID] = credentials
	return nil
}

func (u *userStoreStub) GetUserCredentialsByEmail(ctx context.Context, email string) (UserCredentials, error) {
	if u.err != nil {
		return UserCredentials{}, u.err
	}
	for _, creds := range u.byID {
		if creds.User.Email == email {
			return creds, nil
		}
	}
	return UserCredentials{}, ErrNotFound
}

func (u *userStoreStub) GetUser(ctx context.Context, id string) (User, error) {
	if u.err != nil {
		return User{}, u.err
	}
	creds, ok := u.byID[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return creds.User, nil
}

func (u *userStoreStub) UpdateUser(ctx context.Context, user User) error {
	if u.err != nil {
		return u.err
	}
	creds, ok := u.byID[user.ID]
	if !ok {
		return ErrNotFound
	}
	creds.User = user
	u.byID[user.ID] = creds
	return nil
}

func (u *userStoreStub) UpdatePassword(ctx context.Context, userID, passwordHash string, updatedAt time.Time) error {
	creds, ok := u.byID[userID]
	if !ok {
		return ErrNotFound
	}
	creds.PasswordHash = passwordHash
	creds.User.UpdatedAt = updatedAt
	u.byID[userID] = creds
	return nil
}

// sessionRepositoryStub provides an in-memory implementation of SessionRepository for tests.
type sessionRepositoryStub struct {
	byToken map[string]Session

	createErr error
	deleteErr error

	deleteCalls []time.Time
}

func (s *sessionRepositoryStub) CreateSession(ctx context.Context, session Session) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.byToken[session.Token] = session
	return nil
}

func (s *sessionRepositoryStub) GetSession(ctx context.Context, token string) (Session, error) {
	session, ok := s.byToken[token]
	if !ok {
		return Session{}, ErrNotFound
	}
	return session, nil
}

func (s *sessionRepositoryStub) RevokeSession(ctx context.Context, token string, revokedAt time.Time) error {
	session, ok := s.byToken[token]
	if !ok {
		return ErrNotFound
	}
	revoked := revokedAt.UTC()
	session.RevokedAt = &revoked
	s.byToken[token] = session
	return nil
}

func (s *sessionRepositoryStub) RevokeUserSessions(ctx context.Context, userID string, revokedAt time.Time) error {
	for token, session := range s.byToken {
		if session.UserID == userID && session.RevokedAt == nil {
			revoked := revokedAt.UTC()
			session.RevokedAt = &revoked
			s.byToken[token] = session
		}
	}
	return nil
}

func (s *sessionRepositoryStub) DeleteExpiredSessions(ctx context.Context, reference time.Time) (int64, error) {
	if s.deleteErr != nil {
		return 0, s.deleteErr
	}
	s.deleteCalls = append(s.deleteCalls, reference)
	var removed int64
	for token, session := range s.byToken {
		if !session.ExpiresAt.After(reference) {
			delete(s.byToken, token)
			removed++
		}
	}
	return removed, nil
}

type resetStoreStub struct {
	byToken map[string]PasswordReset
}

func (r *resetStoreStub) CreatePasswordReset(ctx context.Context, reset PasswordReset) error {
	r.byToken[reset.Token] = reset
	return nil
}

func (r *resetStoreStub) GetPasswordReset(ctx context.Context, token string) (PasswordReset, error) {
	reset, ok := r.byToken[token]
	if !ok {
		return PasswordReset{}, ErrNotFound
	}
	return reset, nil
}

func (r *resetStoreStub) MarkPasswordResetUsed(ctx context.Context, token string, usedAt time.Time) error {
	reset, ok := r.byToken[token]
	if !ok {
		return ErrNotFound
	}
	reset.UsedAt = &usedAt
	r.byToken[token] = reset
	return nil
}

type mailerStub struct {
	tokens []string
	err    error
}

func (m *mailerStub) SendPasswordReset(ctx context.Context, user User, token string, expiresAt time.Time) error {
	if m.err != nil {
		return m.err
	}
	m.tokens = append(m.tokens, token)
	return nil
}
