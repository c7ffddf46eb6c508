package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/example/medreminder/internal/persistence"
)

// PasswordResetRepository implements persistence.PasswordResetRepository using SQLite
type PasswordResetRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewPasswordResetRepository creates a new SQLite password reset repository
func NewPasswordResetRepository(pool *ConnectionPool) *PasswordResetRepository {
	return &PasswordResetRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

func (r *PasswordResetRepository) CreatePasswordReset(ctx context.Context, reset persistence.PasswordReset) error {
	if reset.Token == "" || reset.UserID == "" {
		return persistence.ErrConstraintViolation
	}
	_, err := r.helper.Exec(ctx, `
		INSERT INTO password_resets (token, user_id, expires_at, created_at, used_at)
		VALUES (?, ?, ?, ?, ?)`,
		reset.Token,
		reset.UserID,
		formatTime(reset.ExpiresAt),
		formatTime(reset.CreatedAt),
		formatTimePtr(reset.UsedAt),
	)
	return r.mapper.MapError(err)
}

func (r *PasswordResetRepository) GetPasswordReset(ctx context.Context, token string) (persistence.PasswordReset, error) {
	var (
		reset                persistence.PasswordReset
		expiresAt, createdAt string
		usedAt               sql.NullString
	)
	err := r.helper.QueryRow(ctx, `
		SELECT token, user_id, expires_at, created_at, used_at
		FROM password_resets
		WHERE token = ?`, token).Scan(&reset.Token, &reset.UserID, &expiresAt, &createdAt, &usedAt)
	if err != nil {
		return persistence.PasswordReset{}, r.mapper.MapError(err)
	}

	if reset.ExpiresAt, err = parseTime(expiresAt); err != nil {
		return persistence.PasswordReset{}, err
	}
	if reset.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.PasswordReset{}, err
	}
	if reset.UsedAt, err = parseTimePtr(usedAt); err != nil {
		return persistence.PasswordReset{}, err
	}
	return reset, nil
}

func (r *PasswordResetRepository) MarkPasswordResetUsed(ctx context.Context, token string, usedAt time.Time) error {
	result, err := r.helper.Exec(ctx, `UPDATE password_resets SET used_at = ? WHERE token = ?`, formatTime(usedAt), token)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireAffected(result)
}
