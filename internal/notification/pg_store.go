package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

// Helpers

func scanUser(row pgx.Row) (*UserRef, error) {
	var u UserRef
	var email *string

	if err := row.Scan(&u.ID, &u.Role, &u.Name, &email); err != nil {
		return nil, err
	}

	u.Email = email
	return &u, nil
}

func scanNotification(row pgx.Row) (*Notification, error) {
	var n Notification
	var related *int64

	err := row.Scan(
		&n.ID,
		&n.RecipientUserID,
		&n.Type,
		&n.Message,
		&related,
		&n.IsRead,
		&n.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotificationNotFound
		}
		return nil, err
	}

	n.RelatedAppointmentID = related
	return &n, nil
}

func collectNotifications(rows pgx.Rows) ([]Notification, error) {
	defer rows.Close()

	result := []Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *n)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Interface methods

func (s *PgStore) FindUsersByRole(ctx context.Context, role Role) ([]UserRef, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, role, name, email
		FROM users
		WHERE role = $1
		ORDER BY id
	`, role)
	if err != nil {
		return nil, fmt.Errorf("query users by role: %w", err)
	}
	defer rows.Close()

	var result []UserRef
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *u)
	}

	return result, rows.Err()
}

func (s *PgStore) FindUsersByID(ctx context.Context, ids []string) (map[string]UserRef, error) {
	result := make(map[string]UserRef, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT id, role, name, email
		FROM users
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("query users by id: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		result[u.ID] = *u
	}

	return result, rows.Err()
}

func (s *PgStore) SaveNotification(ctx context.Context, n *Notification) error {
	row := s.pool.QueryRow(ctx, `
		INSERT INTO notifications (recipient_user_id, type, message, related_appointment_id, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, COALESCE($6, now()))
		RETURNING id, created_at
	`, n.RecipientUserID, n.Type, n.Message, n.RelatedAppointmentID, n.IsRead, nullableTime(n.CreatedAt))

	if err := row.Scan(&n.ID, &n.CreatedAt); err != nil {
		return fmt.Errorf("insert notification: %w", err)
	}
	return nil
}

func (s *PgStore) ListNotificationsForUser(ctx context.Context, userID string) ([]Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, recipient_user_id, type, message, related_appointment_id, is_read, created_at
		FROM notifications
		WHERE recipient_user_id = $1
		ORDER BY created_at DESC, id DESC
	`, userID)
	if err != nil {
		return nil, err
	}
	return collectNotifications(rows)
}

func (s *PgStore) ListNotificationsForAppointment(ctx context.Context, appointmentID int64) ([]Notification, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, recipient_user_id, type, message, related_appointment_id, is_read, created_at
		FROM notifications
		WHERE related_appointment_id = $1
		ORDER BY created_at, id
	`, appointmentID)
	if err != nil {
		return nil, err
	}
	return collectNotifications(rows)
}

func (s *PgStore) MarkNotificationRead(ctx context.Context, id int64, recipientID string) (*Notification, error) {
	row := s.pool.QueryRow(ctx, `
		UPDATE notifications
		SET is_read = true
		WHERE id = $1
		  AND ($2 = '' OR recipient_user_id = $2)
		RETURNING id, recipient_user_id, type, message, related_appointment_id, is_read, created_at
	`, id, recipientID)
	return scanNotification(row)
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
