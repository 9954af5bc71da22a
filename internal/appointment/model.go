package appointment

import (
	"time"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no_show"
)

// transitions lists the allowed outgoing states. Terminal states map to nil.
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled: {StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
	StatusCompleted: nil,
	StatusCancelled: nil,
	StatusNoShow:    nil,
}

func (s AppointmentStatus) Valid() bool {
	_, ok := transitions[s]
	return ok
}

func (s AppointmentStatus) Terminal() bool {
	return s.Valid() && len(transitions[s]) == 0
}

// CanTransition reports whether s may move to next. Staying put is not a
// transition.
func (s AppointmentStatus) CanTransition(next AppointmentStatus) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

type AppointmentType string

const (
	TypeInitialEvaluation AppointmentType = "initial_evaluation"
	TypePhysiotherapy     AppointmentType = "physiotherapy"
	TypeRehabilitation    AppointmentType = "rehabilitation"
	TypeFollowUp          AppointmentType = "follow_up"
	TypeConsultation      AppointmentType = "consultation"
	TypeOther             AppointmentType = "other"
)

func (t AppointmentType) Valid() bool {
	switch t {
	case TypeInitialEvaluation, TypePhysiotherapy, TypeRehabilitation,
		TypeFollowUp, TypeConsultation, TypeOther:
		return true
	}
	return false
}

const (
	MinDurationMinutes = 1
	MaxDurationMinutes = 24 * 60
)

type Appointment struct {
	ID              int64             `json:"id"`
	StartTime       time.Time         `json:"start_time"`
	DurationMinutes int               `json:"duration_minutes"`
	PatientID       string            `json:"patient_id"`
	PractitionerID  *string           `json:"practitioner_id"`
	Type            AppointmentType   `json:"appointment_type"`
	Status          AppointmentStatus `json:"status"`
	// Version increments on every stored change. Updates must carry the
	// version they were read at.
	Version         int               `json:"version"`
	CreatedAt       time.Time         `json:"created_at"`
	UpdatedAt       time.Time         `json:"updated_at"`
}

// EndTime is derived and never stored.
func (a Appointment) EndTime() time.Time {
	return a.StartTime.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

func (a Appointment) Interval() Interval {
	return NewInterval(a.StartTime, a.DurationMinutes)
}

// Assigned reports whether a practitioner is attached.
func (a Appointment) Assigned() bool {
	return a.PractitionerID != nil
}

type CreateInput struct {
	StartTime       time.Time
	DurationMinutes int
	PatientID       string
	PractitionerID  *string
	Type            AppointmentType
}

// UpdateInput is a partial update; nil fields keep their current value.
type UpdateInput struct {
	StartTime       *time.Time
	DurationMinutes *int
	PatientID       *string
	PractitionerID  *string
	Type            *AppointmentType
	Status          *AppointmentStatus
}

type ListFilter struct {
	// Day selects a calendar day in the clinic timezone.
	Day *time.Time
	// ParticipantID matches the patient or the practitioner.
	ParticipantID string
}

// ListQuery is the storage form of ListFilter.
type ListQuery struct {
	From          *time.Time
	To            *time.Time
	ParticipantID string
}

type SlotQuery struct {
	Date            time.Time
	StartHour       int
	EndHour         int
	StepMinutes     int
	DurationMinutes int
	PatientID       string
	PractitionerID  *string
}

type AvailabilityQuery struct {
	StartTime       time.Time
	DurationMinutes int
	PatientID       string
	PractitionerID  *string
}
