// Package memstore is an in-process implementation of the appointment
// repository and the notification store. It backs STORAGE_DRIVER=memory and
// the handler tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/notification"
)

type Store struct {
	mu  sync.RWMutex
	now func() time.Time

	appointments  map[int64]appointment.Appointment
	notifications map[int64]notification.Notification
	users         map[string]notification.UserRef

	nextAppointmentID  int64
	nextNotificationID int64
}

func New() *Store {
	return &Store{
		now:           time.Now,
		appointments:  make(map[int64]appointment.Appointment),
		notifications: make(map[int64]notification.Notification),
		users:         make(map[string]notification.UserRef),
	}
}

// AddUsers registers users as known notification recipients.
func (s *Store) AddUsers(users ...notification.UserRef) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range users {
		s.users[u.ID] = u
	}
}

// Appointments

func (s *Store) FindOverlappingCandidates(_ context.Context, practitionerID string, windowStart, windowEnd time.Time, excludeID *int64) ([]appointment.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []appointment.Appointment
	for _, a := range s.appointments {
		if a.PractitionerID == nil || *a.PractitionerID != practitionerID {
			continue
		}
		if a.Status == appointment.StatusCancelled {
			continue
		}
		if excludeID != nil && a.ID == *excludeID {
			continue
		}
		if a.StartTime.Before(windowStart) || !a.StartTime.Before(windowEnd) {
			continue
		}
		out = append(out, cloneAppointment(a))
	}
	sortByStart(out)
	return out, nil
}

// SaveAppointment inserts when a.ID is zero. Like the database exclusion
// constraint it rejects a write that overlaps another live booking of the
// same practitioner, and like the version check in SQL it rejects an update
// read at an older version.
func (s *Store) SaveAppointment(_ context.Context, a *appointment.Appointment) (*appointment.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := cloneAppointment(*a)
	row.StartTime = row.StartTime.UTC()
	now := s.now().UTC()

	if row.ID != 0 {
		existing, ok := s.appointments[row.ID]
		if !ok {
			return nil, appointment.ErrNotFound
		}
		if existing.Version != row.Version {
			return nil, fmt.Errorf("appointment %d at version %d, write based on %d: %w",
				row.ID, existing.Version, row.Version, appointment.ErrStaleWrite)
		}
		row.CreatedAt = existing.CreatedAt
	}

	if other, ok := s.overlapping(row); ok {
		return nil, fmt.Errorf("%w: overlaps appointment #%d", appointment.ErrConflict, other.ID)
	}

	if row.ID == 0 {
		s.nextAppointmentID++
		row.ID = s.nextAppointmentID
		row.CreatedAt = now
		row.Version = 0
	}
	row.Version++
	row.UpdatedAt = now
	s.appointments[row.ID] = row

	out := cloneAppointment(row)
	return &out, nil
}

func (s *Store) overlapping(row appointment.Appointment) (appointment.Appointment, bool) {
	if row.PractitionerID == nil || row.Status == appointment.StatusCancelled {
		return appointment.Appointment{}, false
	}
	for _, other := range s.appointments {
		if other.ID == row.ID || other.PractitionerID == nil || other.Status == appointment.StatusCancelled {
			continue
		}
		if *other.PractitionerID != *row.PractitionerID {
			continue
		}
		if appointment.Overlaps(row.Interval(), other.Interval()) {
			return other, true
		}
	}
	return appointment.Appointment{}, false
}

func (s *Store) DeleteAppointment(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.appointments[id]; !ok {
		return appointment.ErrNotFound
	}
	delete(s.appointments, id)
	return nil
}

func (s *Store) FindAppointment(_ context.Context, id int64) (*appointment.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.appointments[id]
	if !ok {
		return nil, appointment.ErrNotFound
	}
	out := cloneAppointment(a)
	return &out, nil
}

func (s *Store) ListAppointments(_ context.Context, q appointment.ListQuery) ([]appointment.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []appointment.Appointment{}
	for _, a := range s.appointments {
		if q.From != nil && a.StartTime.Before(*q.From) {
			continue
		}
		if q.To != nil && !a.StartTime.Before(*q.To) {
			continue
		}
		if q.ParticipantID != "" && a.PatientID != q.ParticipantID &&
			(a.PractitionerID == nil || *a.PractitionerID != q.ParticipantID) {
			continue
		}
		out = append(out, cloneAppointment(a))
	}
	sortByStart(out)
	return out, nil
}

func (s *Store) ListDueReminders(_ context.Context, from, to time.Time) ([]appointment.Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	reminded := make(map[int64]bool)
	for _, n := range s.notifications {
		if n.Type == notification.TypeReminder && n.RelatedAppointmentID != nil {
			reminded[*n.RelatedAppointmentID] = true
		}
	}

	var out []appointment.Appointment
	for _, a := range s.appointments {
		if a.Status != appointment.StatusScheduled && a.Status != appointment.StatusConfirmed {
			continue
		}
		if a.StartTime.Before(from) || !a.StartTime.Before(to) || reminded[a.ID] {
			continue
		}
		out = append(out, cloneAppointment(a))
	}
	sortByStart(out)
	return out, nil
}

// Users and notifications

func (s *Store) FindUsersByRole(_ context.Context, role notification.Role) ([]notification.UserRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []notification.UserRef
	for _, u := range s.users {
		if u.Role == role {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) FindUsersByID(_ context.Context, ids []string) (map[string]notification.UserRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]notification.UserRef, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			out[id] = u
		}
	}
	return out, nil
}

func (s *Store) SaveNotification(_ context.Context, n *notification.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[n.RecipientUserID]; !ok {
		return fmt.Errorf("unknown recipient %q", n.RecipientUserID)
	}

	s.nextNotificationID++
	n.ID = s.nextNotificationID
	if n.CreatedAt.IsZero() {
		n.CreatedAt = s.now().UTC()
	}
	s.notifications[n.ID] = cloneNotification(*n)
	return nil
}

func (s *Store) ListNotificationsForUser(_ context.Context, userID string) ([]notification.Notification, error) {
	out := s.filterNotifications(func(n notification.Notification) bool {
		return n.RecipientUserID == userID
	})
	// newest first
	sort.SliceStable(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

func (s *Store) ListNotificationsForAppointment(_ context.Context, appointmentID int64) ([]notification.Notification, error) {
	return s.filterNotifications(func(n notification.Notification) bool {
		return n.RelatedAppointmentID != nil && *n.RelatedAppointmentID == appointmentID
	}), nil
}

func (s *Store) MarkNotificationRead(_ context.Context, id int64, recipientID string) (*notification.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, ok := s.notifications[id]
	if !ok || (recipientID != "" && n.RecipientUserID != recipientID) {
		return nil, notification.ErrNotificationNotFound
	}
	n.IsRead = true
	s.notifications[id] = n

	out := cloneNotification(n)
	return &out, nil
}

func (s *Store) filterNotifications(keep func(notification.Notification) bool) []notification.Notification {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []notification.Notification{}
	for _, n := range s.notifications {
		if keep(n) {
			out = append(out, cloneNotification(n))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortByStart(items []appointment.Appointment) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].StartTime.Equal(items[j].StartTime) {
			return items[i].ID < items[j].ID
		}
		return items[i].StartTime.Before(items[j].StartTime)
	})
}

func cloneAppointment(a appointment.Appointment) appointment.Appointment {
	if a.PractitionerID != nil {
		pid := *a.PractitionerID
		a.PractitionerID = &pid
	}
	return a
}

func cloneNotification(n notification.Notification) notification.Notification {
	if n.RelatedAppointmentID != nil {
		id := *n.RelatedAppointmentID
		n.RelatedAppointmentID = &id
	}
	return n
}
