package notification

import (
	"context"
	"errors"
)

var (
	ErrNotificationNotFound = errors.New("notification not found")
	// ErrDispatch wraps every failure to persist a notification. Callers of
	// lifecycle operations never see it.
	ErrDispatch = errors.New("notification dispatch failed")
)

// Store is the persistence boundary for users and notifications.
type Store interface {
	FindUsersByRole(ctx context.Context, role Role) ([]UserRef, error)
	FindUsersByID(ctx context.Context, ids []string) (map[string]UserRef, error)

	SaveNotification(ctx context.Context, n *Notification) error

	ListNotificationsForUser(ctx context.Context, userID string) ([]Notification, error)
	ListNotificationsForAppointment(ctx context.Context, appointmentID int64) ([]Notification, error)
	// MarkNotificationRead only matches recipientID's notifications unless
	// recipientID is empty.
	MarkNotificationRead(ctx context.Context, id int64, recipientID string) (*Notification, error)
}

// Publisher pushes persisted notifications to realtime consumers.
type Publisher interface {
	Publish(ctx context.Context, n Notification) error
}
