package notification

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/metrics"
)

type Service struct {
	store     Store
	publisher Publisher
	logger    zerolog.Logger
	now       func() time.Time
}

// NewService builds the dispatcher. publisher may be nil.
func NewService(store Store, publisher Publisher, logger zerolog.Logger) *Service {
	return &Service{
		store:     store,
		publisher: publisher,
		logger:    logger.With().Str("component", "notification").Logger(),
		now:       time.Now,
	}
}

// Dispatch persists one notification per recipient of ev. Unknown
// recipients are skipped. A failed recipient does not stop the others; all
// failures come back joined under ErrDispatch.
func (s *Service) Dispatch(ctx context.Context, ev Event) error {
	if !ev.Type.Valid() {
		return fmt.Errorf("%w: unknown event type %q", ErrDispatch, ev.Type)
	}

	candidates, err := s.recipients(ctx, ev)
	if err != nil {
		return fmt.Errorf("%w: resolve recipients: %w", ErrDispatch, err)
	}
	if len(candidates) == 0 {
		return nil
	}

	known, err := s.store.FindUsersByID(ctx, candidates)
	if err != nil {
		return fmt.Errorf("%w: load recipients: %w", ErrDispatch, err)
	}

	apptID := ev.AppointmentID
	msg := ev.message()

	var errs []error
	for _, userID := range candidates {
		if _, ok := known[userID]; !ok {
			metrics.Notifications.WithLabelValues(string(ev.Type), "skipped").Inc()
			s.logger.Debug().
				Str("recipient", userID).
				Int64("appointment_id", apptID).
				Msg("skipping notification for unknown user")
			continue
		}

		n := Notification{
			RecipientUserID:      userID,
			Type:                 ev.Type,
			Message:              msg,
			RelatedAppointmentID: &apptID,
			IsRead:               false,
			CreatedAt:            s.now().UTC(),
		}
		if err := s.store.SaveNotification(ctx, &n); err != nil {
			metrics.Notifications.WithLabelValues(string(ev.Type), "failed").Inc()
			errs = append(errs, fmt.Errorf("save notification for %s: %w", userID, err))
			continue
		}
		metrics.Notifications.WithLabelValues(string(ev.Type), "sent").Inc()

		s.publish(ctx, n)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrDispatch, errors.Join(errs...))
	}
	return nil
}

// recipients returns the de-duplicated candidate user ids for ev, patient
// first.
func (s *Service) recipients(ctx context.Context, ev Event) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	add := func(id string) {
		if id == "" {
			return
		}
		if _, ok := seen[id]; ok {
			return
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}

	add(ev.PatientID)

	if ev.Type == TypePendingAssignment {
		// Unassigned work is broadcast to every admin and practitioner.
		for _, role := range []Role{RoleAdmin, RolePractitioner} {
			users, err := s.store.FindUsersByRole(ctx, role)
			if err != nil {
				return nil, fmt.Errorf("find %s users: %w", role, err)
			}
			for _, u := range users {
				add(u.ID)
			}
		}
		return out, nil
	}

	if ev.PractitionerID != nil {
		add(*ev.PractitionerID)
	}
	return out, nil
}

func (s *Service) publish(ctx context.Context, n Notification) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, n); err != nil {
		s.logger.Warn().Err(err).
			Int64("notification_id", n.ID).
			Msg("failed to publish notification")
	}
}

func (s *Service) ListForUser(ctx context.Context, userID string) ([]Notification, error) {
	items, err := s.store.ListNotificationsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list notifications for user: %w", err)
	}
	return items, nil
}

func (s *Service) ListForAppointment(ctx context.Context, appointmentID int64) ([]Notification, error) {
	items, err := s.store.ListNotificationsForAppointment(ctx, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("list notifications for appointment: %w", err)
	}
	return items, nil
}

// MarkRead flips is_read, the only mutable field of a notification. A non
// empty recipientID restricts the update to that user's notifications;
// anyone else's reads as not found.
func (s *Service) MarkRead(ctx context.Context, id int64, recipientID string) (*Notification, error) {
	n, err := s.store.MarkNotificationRead(ctx, id, recipientID)
	if err != nil {
		if errors.Is(err, ErrNotificationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("mark notification read: %w", err)
	}
	return n, nil
}
