package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository implements Repository on top of a pgx pool.
//
// Double-booking protection is two-layered: the service validates inside a
// per-doctor lock, and the appointments table carries a partial unique index
// on (doctor_id, scheduled_at) WHERE status IN ('pending','confirmed') as the
// last line of defense. A unique violation surfaces as ErrSlotTaken.
type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `
	id, patient_id, doctor_id, created_by, scheduled_at, duration_minutes,
	status, type, price, notes,
	confirmed_at, completed_at, cancelled_at, reminded_at,
	created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.CreatedBy,
		&a.ScheduledAt,
		&a.DurationMinutes,
		&a.Status,
		&a.Type,
		&a.Price,
		&a.Notes,
		&a.ConfirmedAt,
		&a.CompletedAt,
		&a.CancelledAt,
		&a.RemindedAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func scanAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// Doctors

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, is_active, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)

	var d Doctor
	err := row.Scan(&d.ID, &d.Name, &d.Specialty, &d.IsActive, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	return &d, nil
}

// Patients

func (r *PgRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, name, email, profile_completed_at,
		       consecutive_no_shows, is_blocked, blocked_reason,
		       created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)

	var p Patient
	err := row.Scan(
		&p.ID, &p.Name, &p.Email, &p.ProfileCompletedAt,
		&p.ConsecutiveNoShows, &p.IsBlocked, &p.BlockedReason,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) UpdatePatientTrust(ctx context.Context, id uuid.UUID, consecutiveNoShows int, isBlocked bool, blockedReason *string) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE patients
		SET consecutive_no_shows = $2,
		    is_blocked = $3,
		    blocked_reason = $4,
		    updated_at = now()
		WHERE id = $1
	`, id, consecutiveNoShows, isBlocked, blockedReason)
	if err != nil {
		return fmt.Errorf("update patient trust: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrPatientNotFound
	}
	return nil
}

// Schedules

func (r *PgRepository) ListActiveWindows(ctx context.Context, doctorID uuid.UUID, dayOfWeek int) ([]Schedule, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, doctor_id, day_of_week, start_time, end_time,
		       slot_duration_minutes, is_blocked, created_at, updated_at
		FROM schedules
		WHERE doctor_id = $1
		  AND day_of_week = $2
		  AND is_blocked = false
		ORDER BY start_time
	`, doctorID, dayOfWeek)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Schedule
	for rows.Next() {
		var s Schedule
		err := rows.Scan(
			&s.ID, &s.DoctorID, &s.DayOfWeek, &s.StartTime, &s.EndTime,
			&s.SlotDurationMinutes, &s.IsBlocked, &s.CreatedAt, &s.UpdatedAt,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *PgRepository) IsDayBlocked(ctx context.Context, doctorID uuid.UUID, date time.Time) (bool, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM schedule_blocks
			WHERE doctor_id = $1
			  AND blocked_date = $2::date
			  AND start_time IS NULL
			  AND end_time IS NULL
		)
	`, doctorID, date.Format("2006-01-02"))

	var blocked bool
	if err := row.Scan(&blocked); err != nil {
		return false, err
	}
	return blocked, nil
}

// Appointments

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) FindActiveByDoctorAndDate(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Appointment, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, date.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor_id = $1
		  AND scheduled_at >= $2
		  AND scheduled_at < $3
		  AND status IN ('pending', 'confirmed')
		ORDER BY scheduled_at
	`, doctorID, dayStart, dayEnd)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *PgRepository) ActiveCountsByDoctorBetween(ctx context.Context, doctorID uuid.UUID, from, to time.Time) (map[string]int, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT to_char(scheduled_at, 'YYYY-MM-DD') AS day, count(*)
		FROM appointments
		WHERE doctor_id = $1
		  AND scheduled_at >= $2
		  AND scheduled_at < $3
		  AND status IN ('pending', 'confirmed')
		GROUP BY day
	`, doctorID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var day string
		var n int
		if err := rows.Scan(&day, &n); err != nil {
			return nil, err
		}
		counts[day] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return counts, nil
}

func (r *PgRepository) CountFutureActiveByPatient(ctx context.Context, patientID uuid.UUID, now time.Time) (int, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE patient_id = $1
		  AND scheduled_at > $2
		  AND status IN ('pending', 'confirmed')
	`, patientID, now)

	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PgRepository) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY scheduled_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *PgRepository) InsertAppointment(ctx context.Context, a *Appointment) error {
	row := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (
			id, patient_id, doctor_id, created_by, scheduled_at,
			duration_minutes, status, type, price, notes,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now(), now())
		RETURNING `+appointmentColumns+`
	`, a.ID, a.PatientID, a.DoctorID, a.CreatedBy, a.ScheduledAt,
		a.DurationMinutes, a.Status, a.Type, a.Price, a.Notes)

	stored, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlotTaken
		}
		return err
	}
	*a = *stored
	return nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, at time.Time) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    confirmed_at = CASE WHEN $2 = 'confirmed' THEN $4 ELSE confirmed_at END,
		    completed_at = CASE WHEN $2 = 'completed' THEN $4 ELSE completed_at END,
		    cancelled_at = CASE WHEN $2 = 'cancelled' THEN $4 ELSE cancelled_at END,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from, at)

	a, err := scanAppointment(row)
	if err != nil {
		if errors.Is(err, ErrAppointmentNotFound) {
			return nil, ErrStatusChanged
		}
		return nil, err
	}
	return a, nil
}

func (r *PgRepository) RescheduleAppointment(ctx context.Context, id uuid.UUID, scheduledAt time.Time, durationMinutes int) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET scheduled_at = $2,
		    duration_minutes = $3,
		    reminded_at = NULL,
		    updated_at = now()
		WHERE id = $1
		  AND status IN ('pending', 'confirmed')
		RETURNING `+appointmentColumns+`
	`, id, scheduledAt, durationMinutes)

	a, err := scanAppointment(row)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrSlotTaken
		}
		return nil, err
	}
	return a, nil
}

func (r *PgRepository) FindDueReminders(ctx context.Context, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE status = 'confirmed'
		  AND reminded_at IS NULL
		  AND scheduled_at >= $1
		  AND scheduled_at < $2
		ORDER BY scheduled_at
	`, from, to)
	if err != nil {
		return nil, err
	}
	return scanAppointments(rows)
}

func (r *PgRepository) MarkReminded(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE appointments
		SET reminded_at = $2,
		    updated_at = now()
		WHERE id = $1
	`, id, at)
	if err != nil {
		return fmt.Errorf("mark reminded: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

// Audit log

func (r *PgRepository) AppendLog(ctx context.Context, entry AppointmentLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO appointment_logs (
			appointment_id, old_status, new_status, actor_id,
			reason, metadata, changed_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, COALESCE($7, now()))
	`, entry.AppointmentID, entry.OldStatus, entry.NewStatus, entry.ActorID,
		entry.Reason, entry.Metadata, nullableTime(entry.ChangedAt))
	if err != nil {
		return fmt.Errorf("append appointment log: %w", err)
	}
	return nil
}

func (r *PgRepository) CountReschedules(ctx context.Context, appointmentID uuid.UUID) (int, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM appointment_logs
		WHERE appointment_id = $1
		  AND metadata->>'action' = 'rescheduled'
	`, appointmentID)

	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func (r *PgRepository) ListLogs(ctx context.Context, appointmentID uuid.UUID) ([]AppointmentLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, appointment_id, old_status, new_status, actor_id,
		       reason, metadata, changed_at
		FROM appointment_logs
		WHERE appointment_id = $1
		ORDER BY changed_at, id
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AppointmentLog
	for rows.Next() {
		var l AppointmentLog
		err := rows.Scan(
			&l.ID, &l.AppointmentID, &l.OldStatus, &l.NewStatus, &l.ActorID,
			&l.Reason, &l.Metadata, &l.ChangedAt,
		)
		if err != nil {
			return nil, err
		}
		result = append(result, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
