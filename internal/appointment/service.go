package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/metrics"
	"github.com/hackgods/clinic-appointment-scheduling/internal/notification"
	redisclient "github.com/hackgods/clinic-appointment-scheduling/internal/redis"
)

type Service struct {
	repo     Repository
	locker   Locker
	notifier Notifier
	cfg      config.Config
	logger   zerolog.Logger
	now      func() time.Time
}

func NewService(repo Repository, locker Locker, notifier Notifier, cfg config.Config, logger zerolog.Logger) *Service {
	if cfg.ClinicLocation == nil {
		cfg.ClinicLocation = time.UTC
	}
	return &Service{
		repo:     repo,
		locker:   locker,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger.With().Str("component", "appointment").Logger(),
		now:      time.Now,
	}
}

// CreateAppointment books a new appointment in the scheduled state. With a
// practitioner the booking holds that practitioner's lock across the
// conflict check and the insert.
func (s *Service) CreateAppointment(ctx context.Context, in CreateInput) (ap *Appointment, err error) {
	defer func() { s.observe("create", err) }()

	draft := Appointment{
		StartTime:       in.StartTime.UTC(),
		DurationMinutes: in.DurationMinutes,
		PatientID:       in.PatientID,
		PractitionerID:  in.PractitionerID,
		Type:            in.Type,
		Status:          StatusScheduled,
	}
	if draft.Type == "" {
		draft.Type = TypeConsultation
	}

	if err := validateFields(draft); err != nil {
		return nil, err
	}
	if draft.StartTime.Before(s.now()) {
		return nil, ErrPastStartTime
	}

	created, err := s.reserve(ctx, &draft)
	if err != nil {
		return nil, err
	}

	kind := notification.TypePendingAssignment
	if created.Assigned() {
		kind = notification.TypeAssigned
	}
	s.notify(ctx, kind, created)

	return created, nil
}

// maxWriteAttempts bounds how often Update and Cancel reload and retry after
// losing a race with another writer of the same appointment.
const maxWriteAttempts = 3

// UpdateAppointment merges in over the stored appointment and re-checks the
// merged interval against the practitioner's other bookings. On any error
// the stored appointment is left untouched.
func (s *Service) UpdateAppointment(ctx context.Context, id int64, in UpdateInput) (ap *Appointment, err error) {
	defer func() { s.observe("update", err) }()

	var updated *Appointment
	err = s.retryStale(ctx, id, func(current *Appointment) error {
		merged, err := s.merge(current, in)
		if err != nil {
			return err
		}
		updated, err = s.reserve(ctx, merged)
		return err
	})
	if err != nil {
		return nil, err
	}

	kind := notification.TypeModified
	if updated.Status == StatusCancelled {
		kind = notification.TypeCancelled
	}
	s.notify(ctx, kind, updated)

	return updated, nil
}

// CancelAppointment moves a non-terminal appointment to cancelled.
// Cancelling an already cancelled appointment is a no-op and sends nothing.
func (s *Service) CancelAppointment(ctx context.Context, id int64) (ap *Appointment, err error) {
	defer func() { s.observe("cancel", err) }()

	var cancelled *Appointment
	changed := false
	err = s.retryStale(ctx, id, func(current *Appointment) error {
		switch current.Status {
		case StatusCancelled:
			cancelled, changed = current, false
			return nil
		case StatusCompleted, StatusNoShow:
			return fmt.Errorf("%w: appointment is %s", ErrInvalidStatusTransition, current.Status)
		}

		current.Status = StatusCancelled
		saved, err := s.repo.SaveAppointment(ctx, current)
		if err != nil {
			return wrapStorage("cancel appointment", err)
		}
		cancelled, changed = saved, true
		return nil
	})
	if err != nil {
		return nil, err
	}

	if changed {
		s.notify(ctx, notification.TypeCancelled, cancelled)
	}
	return cancelled, nil
}

// retryStale loads the appointment and runs apply on it, reloading and
// running again while the write reports ErrStaleWrite.
func (s *Service) retryStale(ctx context.Context, id int64, apply func(current *Appointment) error) error {
	var err error
	for attempt := 1; attempt <= maxWriteAttempts; attempt++ {
		var current *Appointment
		current, err = s.findAppointment(ctx, id)
		if err != nil {
			return err
		}

		err = apply(current)
		if !errors.Is(err, ErrStaleWrite) {
			return err
		}
		s.logger.Debug().Int64("appointment_id", id).Int("attempt", attempt).Msg("stale appointment write, reloading")
	}
	return err
}

// merge applies in over current and checks the status transition.
func (s *Service) merge(current *Appointment, in UpdateInput) (*Appointment, error) {
	if current.Status.Terminal() {
		return nil, fmt.Errorf("%w: appointment is %s", ErrInvalidStatusTransition, current.Status)
	}

	merged := *current
	if in.StartTime != nil {
		merged.StartTime = in.StartTime.UTC()
		if merged.StartTime.Before(s.now()) {
			return nil, ErrPastStartTime
		}
	}
	if in.DurationMinutes != nil {
		merged.DurationMinutes = *in.DurationMinutes
	}
	if in.PatientID != nil {
		merged.PatientID = *in.PatientID
	}
	if in.PractitionerID != nil {
		pid := *in.PractitionerID
		merged.PractitionerID = &pid
	}
	if in.Type != nil {
		merged.Type = *in.Type
	}
	if in.Status != nil && *in.Status != current.Status {
		if !in.Status.Valid() {
			return nil, validationf("unknown status %q", *in.Status)
		}
		if !current.Status.CanTransition(*in.Status) {
			return nil, fmt.Errorf("%w: %s to %s", ErrInvalidStatusTransition, current.Status, *in.Status)
		}
		merged.Status = *in.Status
	}

	if err := validateFields(merged); err != nil {
		return nil, err
	}
	return &merged, nil
}

// DeleteAppointment removes the row and returns the snapshot taken before
// deletion.
func (s *Service) DeleteAppointment(ctx context.Context, id int64) (ap *Appointment, err error) {
	defer func() { s.observe("delete", err) }()

	snapshot, err := s.findAppointment(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.repo.DeleteAppointment(ctx, id); err != nil {
		return nil, wrapStorage("delete appointment", err)
	}

	s.notify(ctx, notification.TypeCancelled, snapshot)

	return snapshot, nil
}

func (s *Service) GetAppointment(ctx context.Context, id int64) (*Appointment, error) {
	return s.findAppointment(ctx, id)
}

// ListAppointments returns appointments ordered by start time.
func (s *Service) ListAppointments(ctx context.Context, f ListFilter) ([]Appointment, error) {
	q := ListQuery{ParticipantID: f.ParticipantID}
	if f.Day != nil {
		from, to := s.dayBounds(*f.Day)
		q.From, q.To = &from, &to
	}

	items, err := s.repo.ListAppointments(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return items, nil
}

// CheckAvailability reports whether the interval is free for the
// practitioner. Without a practitioner nothing can conflict.
func (s *Service) CheckAvailability(ctx context.Context, q AvailabilityQuery) (bool, error) {
	if err := validateDuration(q.DurationMinutes); err != nil {
		return false, err
	}
	if q.PatientID == "" {
		return false, validationf("patient_id is required")
	}
	if q.PractitionerID == nil {
		return true, nil
	}

	err := s.checkConflict(ctx, *q.PractitionerID, NewInterval(q.StartTime, q.DurationMinutes), nil)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrConflict):
		return false, nil
	}
	return false, err
}

// SendReminders emits one reminder per appointment starting within the
// configured lead time. It returns how many were dispatched without error.
func (s *Service) SendReminders(ctx context.Context) (int, error) {
	now := s.now().UTC()
	due, err := s.repo.ListDueReminders(ctx, now, now.Add(s.cfg.ReminderLead))
	if err != nil {
		return 0, fmt.Errorf("list due reminders: %w", err)
	}

	sent := 0
	for i := range due {
		if s.notify(ctx, notification.TypeReminder, &due[i]) == nil {
			sent++
		}
	}
	if sent < len(due) {
		s.logger.Warn().Int("due", len(due)).Int("sent", sent).Msg("some reminders were not fully dispatched")
	}
	return sent, nil
}

func (s *Service) findAppointment(ctx context.Context, id int64) (*Appointment, error) {
	ap, err := s.repo.FindAppointment(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	return ap, nil
}

// reserve runs the conflict check and the write as one critical section per
// practitioner. Unassigned and cancelled appointments take no lock.
func (s *Service) reserve(ctx context.Context, ap *Appointment) (*Appointment, error) {
	var saved *Appointment

	write := func(ctx context.Context) error {
		if ap.Assigned() && ap.Status != StatusCancelled {
			var exclude *int64
			if ap.ID != 0 {
				id := ap.ID
				exclude = &id
			}
			if err := s.checkConflict(ctx, *ap.PractitionerID, ap.Interval(), exclude); err != nil {
				return err
			}
		}

		out, err := s.repo.SaveAppointment(ctx, ap)
		if err != nil {
			return wrapStorage("save appointment", err)
		}
		saved = out
		return nil
	}

	if !ap.Assigned() || ap.Status == StatusCancelled {
		if err := write(ctx); err != nil {
			return nil, err
		}
		return saved, nil
	}

	start := time.Now()
	err := s.locker.WithPractitionerLock(ctx, *ap.PractitionerID, func(lockCtx context.Context) error {
		metrics.LockWait.Observe(time.Since(start).Seconds())
		return write(lockCtx)
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, fmt.Errorf("%w: schedule of practitioner %s is being changed, retry", ErrConflict, *ap.PractitionerID)
		}
		return nil, err
	}
	return saved, nil
}

func (s *Service) checkConflict(ctx context.Context, practitionerID string, candidate Interval, excludeID *int64) error {
	from, to := ConflictWindow(candidate.Start)

	existing, err := s.repo.FindOverlappingCandidates(ctx, practitionerID, from, to, excludeID)
	if err != nil {
		return fmt.Errorf("find overlapping candidates: %w", err)
	}

	if other, ok := FindConflict(candidate, existing, excludeID); ok {
		return fmt.Errorf("%w: practitioner %s is booked by appointment #%d from %s to %s",
			ErrConflict, practitionerID, other.ID,
			other.StartTime.UTC().Format(time.RFC3339), other.EndTime().UTC().Format(time.RFC3339))
	}
	return nil
}

// notify dispatches best effort. The error is logged here and returned only
// for callers that count deliveries.
func (s *Service) notify(ctx context.Context, kind notification.Type, ap *Appointment) error {
	ev := notification.Event{
		Type:           kind,
		AppointmentID:  ap.ID,
		PatientID:      ap.PatientID,
		PractitionerID: ap.PractitionerID,
		StartTime:      ap.StartTime,
	}

	if err := s.notifier.Dispatch(ctx, ev); err != nil {
		s.logger.Warn().Err(err).
			Int64("appointment_id", ap.ID).
			Str("event", string(kind)).
			Msg("notification dispatch failed")
		return err
	}
	return nil
}

func (s *Service) observe(op string, err error) {
	metrics.AppointmentOps.WithLabelValues(op, KindOf(err).String()).Inc()
}

func (s *Service) dayBounds(day time.Time) (time.Time, time.Time) {
	y, m, d := day.In(s.cfg.ClinicLocation).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, s.cfg.ClinicLocation)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

func validateFields(ap Appointment) error {
	if ap.StartTime.IsZero() {
		return validationf("start_time is required")
	}
	if err := validateDuration(ap.DurationMinutes); err != nil {
		return err
	}
	if ap.PatientID == "" {
		return validationf("patient_id is required")
	}
	if ap.PractitionerID != nil && *ap.PractitionerID == "" {
		return validationf("practitioner_id must not be empty")
	}
	if !ap.Type.Valid() {
		return validationf("unknown appointment_type %q", ap.Type)
	}
	if !ap.Status.Valid() {
		return validationf("unknown status %q", ap.Status)
	}
	return nil
}

func validateDuration(minutes int) error {
	if minutes < MinDurationMinutes || minutes > MaxDurationMinutes {
		return validationf("duration_minutes must be between %d and %d", MinDurationMinutes, MaxDurationMinutes)
	}
	return nil
}

// wrapStorage keeps conflict and not-found kinds from the store visible.
func wrapStorage(op string, err error) error {
	if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w", op, err)
}
