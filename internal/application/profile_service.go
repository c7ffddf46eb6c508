package application

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ProfileService reads and edits the signed in user's own account.
type ProfileService struct {
	users  ProfileStore
	now    func() time.Time
	logger *slog.Logger
}

// NewProfileService wires dependencies for the profile service.
func NewProfileService(users ProfileStore, now func() time.Time) *ProfileService {
	return NewProfileServiceWithLogger(users, now, nil)
}

// NewProfileServiceWithLogger constructs a ProfileService with a specified logger.
func NewProfileServiceWithLogger(users ProfileStore, now func() time.Time, logger *slog.Logger) *ProfileService {
	if now == nil {
		now = time.Now
	}
	return &ProfileService{users: users, now: now, logger: defaultLogger(logger)}
}

// GetProfile returns the principal's account.
func (s *ProfileService) GetProfile(ctx context.Context, principal Principal) (User, error) {
	if s == nil {
		return User{}, fmt.Errorf("ProfileService is nil")
	}
	if strings.TrimSpace(principal.UserID) == "" {
		return User{}, ErrUnauthorized
	}
	user, err := s.users.GetUser(ctx, principal.UserID)
	if err != nil {
		return User{}, collaboratorError("users.get", err)
	}
	return user, nil
}

// UpdateProfile changes the display name and timezone.
func (s *ProfileService) UpdateProfile(ctx context.Context, params UpdateProfileParams) (user User, err error) {
	if s == nil {
		err = fmt.Errorf("ProfileService is nil")
		return
	}
	logger := serviceLogger(ctx, s.logger, "ProfileService", "UpdateProfile", "principal_id", params.Principal.UserID)
	defer func() {
		if err != nil {
			logger.ErrorContext(ctx, "update profile failed", "error", err, "error_kind", ErrorKind(err))
			return
		}
		logger.InfoContext(ctx, "profile updated", "timezone", user.Timezone)
	}()

	user, err = s.GetProfile(ctx, params.Principal)
	if err != nil {
		return
	}

	vErr := &ValidationError{}
	if params.DisplayName != nil {
		name := strings.TrimSpace(*params.DisplayName)
		switch {
		case name == "":
			vErr.add("display_name", "display name is required")
		case len([]rune(name)) > maxNameLength:
			vErr.add("display_name", fmt.Sprintf("display name must be at most %d characters", maxNameLength))
		}
		user.DisplayName = name
	}
	if params.Timezone != nil {
		timezone := strings.TrimSpace(*params.Timezone)
		if timezone == "" {
			vErr.add("timezone", "timezone is required")
		}
		validateTimezone(timezone, vErr)
		user.Timezone = timezone
	}
	if vErr.HasErrors() {
		user = User{}
		err = vErr
		return
	}

	user.UpdatedAt = s.now()
	if err = s.users.UpdateUser(ctx, user); err != nil {
		user = User{}
		err = collaboratorError("users.update", err)
	}
	return
}
