package sqlite

import (
	"context"
	"fmt"

	"github.com/example/medreminder/internal/persistence"
)

// HistoryRepository implements the append-only dose log using SQLite
type HistoryRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
	retry  *RetryHelper
}

// NewHistoryRepository creates a new SQLite history repository
func NewHistoryRepository(pool *ConnectionPool) *HistoryRepository {
	return &HistoryRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
		retry:  NewRetryHelper(DefaultRetryConfig()),
	}
}

// AppendHistory inserts a new entry, retrying while the database is busy
func (r *HistoryRepository) AppendHistory(ctx context.Context, entry persistence.HistoryEntry) error {
	if entry.ID == "" || entry.UserID == "" || entry.MedicationID == "" {
		return persistence.ErrConstraintViolation
	}

	return r.retry.WithRetry(ctx, func() error {
		_, err := r.helper.Exec(ctx, `
			INSERT INTO history (id, user_id, medication_id, schedule_id, status, scheduled_at, actual_at, note, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			entry.ID,
			entry.UserID,
			entry.MedicationID,
			entry.ScheduleID,
			entry.Status,
			formatTime(entry.ScheduledAt),
			formatTime(entry.ActualAt),
			entry.Note,
			formatTime(entry.CreatedAt),
		)
		return err
	})
}

// ListHistory returns the user's entries newest actual instant first. Entries
// sharing an instant keep insertion order.
func (r *HistoryRepository) ListHistory(ctx context.Context, userID string, limit int) ([]persistence.HistoryEntry, error) {
	query := `
		SELECT id, user_id, medication_id, schedule_id, status, scheduled_at, actual_at, note, created_at
		FROM history
		WHERE user_id = ?
		ORDER BY actual_at DESC, rowid ASC`
	args := []any{userID}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := r.helper.Query(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	entries := make([]persistence.HistoryEntry, 0)
	for rows.Next() {
		var (
			entry                            persistence.HistoryEntry
			scheduledAt, actualAt, createdAt string
		)
		if err := rows.Scan(
			&entry.ID,
			&entry.UserID,
			&entry.MedicationID,
			&entry.ScheduleID,
			&entry.Status,
			&scheduledAt,
			&actualAt,
			&entry.Note,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("sqlite: scan history entry: %w", err)
		}
		if entry.ScheduledAt, err = parseTime(scheduledAt); err != nil {
			return nil, err
		}
		if entry.ActualAt, err = parseTime(actualAt); err != nil {
			return nil, err
		}
		if entry.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate history: %w", err)
	}
	return entries, nil
}
