package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/example/medreminder/internal/persistence"
)

// MedicationRepository implements persistence.MedicationRepository using SQLite.
// Schedules live in their own table and are loaded alongside each medication.
type MedicationRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewMedicationRepository creates a new SQLite medication repository
func NewMedicationRepository(pool *ConnectionPool) *MedicationRepository {
	return &MedicationRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

const medicationColumns = `id, user_id, name, dose, form, quantity, units_per_dose, refill_threshold,
	instructions, start_date, end_date, active, created_at, updated_at`

// CreateMedication inserts the medication and its schedules atomically
func (r *MedicationRepository) CreateMedication(ctx context.Context, medication persistence.Medication) error {
	if medication.ID == "" || medication.UserID == "" {
		return persistence.ErrConstraintViolation
	}

	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if _, err := r.helper.ExecTx(ctx, tx, `
			INSERT INTO medications (`+medicationColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			medication.ID,
			medication.UserID,
			medication.Name,
			medication.Dose,
			medication.Form,
			medication.Quantity,
			medication.UnitsPerDose,
			medication.RefillThreshold,
			medication.Instructions,
			medication.StartDate,
			nullableString(medication.EndDate),
			medication.Active,
			formatTime(medication.CreatedAt),
			formatTime(medication.UpdatedAt),
		); err != nil {
			return err
		}
		return r.insertSchedules(ctx, tx, medication.ID, medication.Schedules)
	})
	return r.mapper.MapError(err)
}

// UpdateMedication rewrites the medication attributes. Owner, creation time
// and schedules are left untouched.
func (r *MedicationRepository) UpdateMedication(ctx context.Context, medication persistence.Medication) error {
	result, err := r.helper.Exec(ctx, `
		UPDATE medications
		SET name = ?, dose = ?, form = ?, quantity = ?, units_per_dose = ?, refill_threshold = ?,
			instructions = ?, start_date = ?, end_date = ?, active = ?, updated_at = ?
		WHERE id = ?`,
		medication.Name,
		medication.Dose,
		medication.Form,
		medication.Quantity,
		medication.UnitsPerDose,
		medication.RefillThreshold,
		medication.Instructions,
		medication.StartDate,
		nullableString(medication.EndDate),
		medication.Active,
		formatTime(medication.UpdatedAt),
		medication.ID,
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireAffected(result)
}

// GetMedication retrieves a medication with its schedules
func (r *MedicationRepository) GetMedication(ctx context.Context, id string) (persistence.Medication, error) {
	medication, err := scanMedication(r.helper.QueryRow(ctx, `SELECT `+medicationColumns+` FROM medications WHERE id = ?`, id))
	if err != nil {
		return persistence.Medication{}, r.mapper.MapError(err)
	}

	schedules, err := r.loadSchedules(ctx, `
		SELECT id, medication_id, time_of_day, weekdays, created_at
		FROM schedules
		WHERE medication_id = ?
		ORDER BY position ASC`, id)
	if err != nil {
		return persistence.Medication{}, err
	}
	medication.Schedules = schedules[id]
	if medication.Schedules == nil {
		medication.Schedules = []persistence.Schedule{}
	}
	return medication, nil
}

// ListMedications returns the user's medications newest first
func (r *MedicationRepository) ListMedications(ctx context.Context, userID string, includeInactive bool) ([]persistence.Medication, error) {
	query := `SELECT ` + medicationColumns + ` FROM medications WHERE user_id = ?`
	if !includeInactive {
		query += ` AND active = 1`
	}
	query += ` ORDER BY created_at DESC, id ASC`

	rows, err := r.helper.Query(ctx, query, userID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	medications := make([]persistence.Medication, 0)
	for rows.Next() {
		medication, err := scanMedication(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		medications = append(medications, medication)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("sqlite: iterate medications: %w", err)
	}
	rows.Close()

	schedules, err := r.loadSchedules(ctx, `
		SELECT s.id, s.medication_id, s.time_of_day, s.weekdays, s.created_at
		FROM schedules s
		JOIN medications m ON m.id = s.medication_id
		WHERE m.user_id = ?
		ORDER BY s.medication_id, s.position ASC`, userID)
	if err != nil {
		return nil, err
	}
	for i := range medications {
		medications[i].Schedules = schedules[medications[i].ID]
		if medications[i].Schedules == nil {
			medications[i].Schedules = []persistence.Schedule{}
		}
	}
	return medications, nil
}

// SoftDeleteMedication clears the active flag, preserving history references
func (r *MedicationRepository) SoftDeleteMedication(ctx context.Context, id string, deletedAt time.Time) error {
	result, err := r.helper.Exec(ctx, `UPDATE medications SET active = 0, updated_at = ? WHERE id = ?`, formatTime(deletedAt), id)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return requireAffected(result)
}

// ReplaceSchedules swaps the schedule set of a medication in one transaction
func (r *MedicationRepository) ReplaceSchedules(ctx context.Context, medicationID string, schedules []persistence.Schedule) error {
	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT 1 FROM medications WHERE id = ?`, medicationID).Scan(&exists); err != nil {
			return err
		}
		if _, err := r.helper.ExecTx(ctx, tx, `DELETE FROM schedules WHERE medication_id = ?`, medicationID); err != nil {
			return err
		}
		return r.insertSchedules(ctx, tx, medicationID, schedules)
	})
	return r.mapper.MapError(err)
}

func (r *MedicationRepository) insertSchedules(ctx context.Context, tx *sql.Tx, medicationID string, schedules []persistence.Schedule) error {
	for position, schedule := range schedules {
		if schedule.ID == "" {
			return persistence.ErrConstraintViolation
		}
		if _, err := r.helper.ExecTx(ctx, tx, `
			INSERT INTO schedules (id, medication_id, time_of_day, weekdays, position, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			schedule.ID,
			medicationID,
			schedule.TimeOfDay,
			encodeWeekdays(schedule.Weekdays),
			position,
			formatTime(schedule.CreatedAt),
		); err != nil {
			return err
		}
	}
	return nil
}

// loadSchedules groups the rows of query by medication ID.
func (r *MedicationRepository) loadSchedules(ctx context.Context, query string, args ...any) (map[string][]persistence.Schedule, error) {
	rows, err := r.helper.Query(ctx, query, args...)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	grouped := make(map[string][]persistence.Schedule)
	for rows.Next() {
		var (
			schedule  persistence.Schedule
			mask      int64
			createdAt string
		)
		if err := rows.Scan(&schedule.ID, &schedule.MedicationID, &schedule.TimeOfDay, &mask, &createdAt); err != nil {
			return nil, fmt.Errorf("sqlite: scan schedule: %w", err)
		}
		schedule.Weekdays = decodeWeekdays(mask)
		if schedule.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, err
		}
		grouped[schedule.MedicationID] = append(grouped[schedule.MedicationID], schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterate schedules: %w", err)
	}
	return grouped, nil
}

func scanMedication(row rowScanner) (persistence.Medication, error) {
	var (
		medication           persistence.Medication
		endDate              sql.NullString
		createdAt, updatedAt string
	)
	if err := row.Scan(
		&medication.ID,
		&medication.UserID,
		&medication.Name,
		&medication.Dose,
		&medication.Form,
		&medication.Quantity,
		&medication.UnitsPerDose,
		&medication.RefillThreshold,
		&medication.Instructions,
		&medication.StartDate,
		&endDate,
		&medication.Active,
		&createdAt,
		&updatedAt,
	); err != nil {
		return persistence.Medication{}, err
	}

	if endDate.Valid {
		end := endDate.String
		medication.EndDate = &end
	}
	var err error
	if medication.CreatedAt, err = parseTime(createdAt); err != nil {
		return persistence.Medication{}, err
	}
	if medication.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return persistence.Medication{}, err
	}
	return medication, nil
}

func nullableString(value *string) sql.NullString {
	if value == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *value, Valid: true}
}
