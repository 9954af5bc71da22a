package appointment

import (
	"context"
	"errors"
	"time"
)

// CandidateSlots enumerates start times on the clinic-local day of
// q.Date from StartHour (inclusive) to EndHour (exclusive), every
// StepMinutes.
func CandidateSlots(q SlotQuery, loc *time.Location) []time.Time {
	y, m, d := q.Date.In(loc).Date()

	var out []time.Time
	for minute := q.StartHour * 60; minute < q.EndHour*60; minute += q.StepMinutes {
		out = append(out, time.Date(y, m, d, 0, minute, 0, 0, loc))
	}
	return out
}

// Slots returns the candidate start times that do not conflict
// with the practitioner's bookings. A candidate whose check fails for any
// reason other than a conflict is dropped and logged; the rest still count.
func (s *Service) Slots(ctx context.Context, q SlotQuery) ([]time.Time, error) {
	if err := validateSlotQuery(q); err != nil {
		return nil, err
	}

	candidates := CandidateSlots(q, s.cfg.ClinicLocation)
	if q.PractitionerID == nil {
		return candidates, nil
	}

	available := make([]time.Time, 0, len(candidates))
	for _, start := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		err := s.checkConflict(ctx, *q.PractitionerID, NewInterval(start, q.DurationMinutes), nil)
		switch {
		case err == nil:
			available = append(available, start)
		case errors.Is(err, ErrConflict):
		default:
			s.logger.Warn().Err(err).
				Time("slot", start).
				Str("practitioner_id", *q.PractitionerID).
				Msg("excluding slot after failed conflict check")
		}
	}
	return available, nil
}

func validateSlotQuery(q SlotQuery) error {
	if q.Date.IsZero() {
		return validationf("date is required")
	}
	if q.PatientID == "" {
		return validationf("patient_id is required")
	}
	if q.PractitionerID != nil && *q.PractitionerID == "" {
		return validationf("practitioner_id must not be empty")
	}
	if err := validateDuration(q.DurationMinutes); err != nil {
		return err
	}
	if q.StartHour < 0 || q.EndHour > 24 || q.StartHour >= q.EndHour {
		return validationf("hours must satisfy 0 <= start_hour < end_hour <= 24")
	}
	if q.StepMinutes < 1 || q.StepMinutes > MaxDurationMinutes {
		return validationf("step_minutes must be between 1 and %d", MaxDurationMinutes)
	}
	return nil
}
