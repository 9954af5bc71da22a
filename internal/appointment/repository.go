package appointment

import (
	"context"
	"time"

	"github.com/hackgods/clinic-appointment-scheduling/internal/notification"
)

// Repository contains all DB interactions needed by the service.
//
// SaveAppointment must reject a write that would break the per-practitioner
// non-overlap invariant with an error wrapping ErrConflict. An update whose
// Version no longer matches the stored row fails with ErrStaleWrite and
// bumps nothing.
type Repository interface {
	// For conflict checks
	FindOverlappingCandidates(ctx context.Context, practitionerID string, windowStart, windowEnd time.Time, excludeID *int64) ([]Appointment, error)

	// Creation and updates; ID == 0 inserts, otherwise compare-and-set on Version
	SaveAppointment(ctx context.Context, a *Appointment) (*Appointment, error)
	DeleteAppointment(ctx context.Context, id int64) error

	FindAppointment(ctx context.Context, id int64) (*Appointment, error)
	ListAppointments(ctx context.Context, q ListQuery) ([]Appointment, error)

	// Reminder worker: scheduled or confirmed appointments starting in
	// [from, to) without a reminder notification.
	ListDueReminders(ctx context.Context, from, to time.Time) ([]Appointment, error)
}

// Locker guards the check-then-write sequence for one practitioner.
type Locker interface {
	WithPractitionerLock(ctx context.Context, practitionerID string, fn func(ctx context.Context) error) error
}

// Notifier fans out lifecycle events.
type Notifier interface {
	Dispatch(ctx context.Context, ev notification.Event) error
}
