package appointment

import (
	"time"
)

// Interval is a half-open [Start, End) range in UTC.
type Interval struct {
	Start time.Time
	End   time.Time
}

func NewInterval(start time.Time, durationMinutes int) Interval {
	s := start.UTC()
	return Interval{Start: s, End: s.Add(time.Duration(durationMinutes) * time.Minute)}
}

// Overlaps is true iff a.Start < b.End and b.Start < a.End. Back to back
// intervals do not overlap.
func Overlaps(a, b Interval) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// ConflictWindow bounds the candidate query: one day before to two days
// after the UTC day start of start.
func ConflictWindow(start time.Time) (time.Time, time.Time) {
	s := start.UTC()
	dayStart := time.Date(s.Year(), s.Month(), s.Day(), 0, 0, 0, 0, time.UTC)
	from := dayStart.AddDate(0, 0, -1)
	return from, from.AddDate(0, 0, 3)
}

// FindConflict returns the first existing appointment overlapping candidate.
// Cancelled appointments and excludeID are ignored.
func FindConflict(candidate Interval, existing []Appointment, excludeID *int64) (*Appointment, bool) {
	for i := range existing {
		ap := existing[i]
		if excludeID != nil && ap.ID == *excludeID {
			continue
		}
		if ap.Status == StatusCancelled {
			continue
		}
		if Overlaps(candidate, ap.Interval()) {
			return &ap, true
		}
	}
	return nil, false
}
