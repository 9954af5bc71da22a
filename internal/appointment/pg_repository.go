package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SQLSTATE raised by the appointments_no_overlap exclusion constraint.
const pgExclusionViolation = "23P01"

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const appointmentColumns = `id, start_time, duration_minutes, patient_id, practitioner_id,
	appointment_type, status, version, created_at, updated_at`

// Helpers

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var practitionerID *string

	err := row.Scan(
		&a.ID,
		&a.StartTime,
		&a.DurationMinutes,
		&a.PatientID,
		&practitionerID,
		&a.Type,
		&a.Status,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	// start_time is TIMESTAMP holding UTC wall time
	a.StartTime = asUTC(a.StartTime)
	a.PractitionerID = practitionerID
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
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

func asUTC(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), time.UTC)
}

// naiveUTC strips the zone so pgx writes the UTC wall time into a TIMESTAMP
// column regardless of the session time zone.
func naiveUTC(t time.Time) time.Time {
	u := t.UTC()
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), u.Minute(), u.Second(), u.Nanosecond(), time.UTC)
}

func mapWriteError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation {
		return fmt.Errorf("%w: %s", ErrConflict, pgErr.Message)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

// Interface methods

func (r *PgRepository) FindOverlappingCandidates(ctx context.Context, practitionerID string, windowStart, windowEnd time.Time, excludeID *int64) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE practitioner_id = $1
		  AND start_time >= $2
		  AND start_time < $3
		  AND status <> 'cancelled'
		  AND ($4::bigint IS NULL OR id <> $4)
		ORDER BY start_time ASC
	`, practitionerID, naiveUTC(windowStart), naiveUTC(windowEnd), excludeID)
	if err != nil {
		return nil, fmt.Errorf("query overlapping candidates: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) SaveAppointment(ctx context.Context, a *Appointment) (*Appointment, error) {
	if a.ID == 0 {
		row := r.pool.QueryRow(ctx, `
			INSERT INTO appointments (start_time, duration_minutes, patient_id, practitioner_id,
				appointment_type, status, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, now(), now())
			RETURNING `+appointmentColumns,
			naiveUTC(a.StartTime), a.DurationMinutes, a.PatientID, a.PractitionerID, a.Type, a.Status)

		saved, err := scanAppointment(row)
		if err != nil {
			return nil, fmt.Errorf("insert appointment: %w", mapWriteError(err))
		}
		return saved, nil
	}

	row := r.pool.QueryRow(ctx, `
		UPDATE appointments
		SET start_time = $2,
		    duration_minutes = $3,
		    patient_id = $4,
		    practitioner_id = $5,
		    appointment_type = $6,
		    status = $7,
		    version = version + 1,
		    updated_at = now()
		WHERE id = $1 AND version = $8
		RETURNING `+appointmentColumns,
		a.ID, naiveUTC(a.StartTime), a.DurationMinutes, a.PatientID, a.PractitionerID, a.Type, a.Status, a.Version)

	saved, err := scanAppointment(row)
	if errors.Is(err, ErrNotFound) {
		// No row matched id and version: either gone or changed since read.
		var exists bool
		if qerr := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, a.ID).Scan(&exists); qerr != nil {
			return nil, fmt.Errorf("update appointment %d: %w", a.ID, qerr)
		}
		if exists {
			return nil, fmt.Errorf("update appointment %d: %w", a.ID, ErrStaleWrite)
		}
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("update appointment %d: %w", a.ID, mapWriteError(err))
	}
	return saved, nil
}

func (r *PgRepository) DeleteAppointment(ctx context.Context, id int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete appointment %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PgRepository) FindAppointment(ctx context.Context, id int64) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) ListAppointments(ctx context.Context, q ListQuery) ([]Appointment, error) {
	var from, to *time.Time
	if q.From != nil {
		t := naiveUTC(*q.From)
		from = &t
	}
	if q.To != nil {
		t := naiveUTC(*q.To)
		to = &t
	}

	var participant *string
	if q.ParticipantID != "" {
		participant = &q.ParticipantID
	}

	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE ($1::timestamp IS NULL OR start_time >= $1)
		  AND ($2::timestamp IS NULL OR start_time < $2)
		  AND ($3::text IS NULL OR patient_id = $3 OR practitioner_id = $3)
		ORDER BY start_time ASC, id ASC
	`, from, to, participant)
	if err != nil {
		return nil, fmt.Errorf("query appointments: %w", err)
	}
	return collectAppointments(rows)
}

func (r *PgRepository) ListDueReminders(ctx context.Context, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments a
		WHERE a.status IN ('scheduled', 'confirmed')
		  AND a.start_time >= $1
		  AND a.start_time < $2
		  AND NOT EXISTS (
			SELECT 1 FROM notifications n
			WHERE n.related_appointment_id = a.id
			  AND n.type = 'appointment_reminder'
		  )
		ORDER BY a.start_time ASC
	`, naiveUTC(from), naiveUTC(to))
	if err != nil {
		return nil, fmt.Errorf("query due reminders: %w", err)
	}
	return collectAppointments(rows)
}
