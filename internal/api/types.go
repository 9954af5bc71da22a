package api

import (
	"time"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
)

// Timestamps are RFC 3339, or naive ISO 8601 read in the clinic timezone.

type CreateAppointmentRequest struct {
	StartTime       string  `json:"start_time" validate:"required"`
	DurationMinutes int     `json:"duration_minutes" validate:"required,min=1,max=1440"`
	PatientID       string  `json:"patient_id" validate:"required"`
	PractitionerID  *string `json:"practitioner_id"`
	AppointmentType string  `json:"appointment_type" validate:"omitempty,oneof=initial_evaluation physiotherapy rehabilitation follow_up consultation other"`
}

// UpdateAppointmentRequest is a partial update; omitted fields keep their
// stored value.
type UpdateAppointmentRequest struct {
	StartTime       *string `json:"start_time"`
	DurationMinutes *int    `json:"duration_minutes" validate:"omitempty,min=1,max=1440"`
	PatientID       *string `json:"patient_id" validate:"omitempty,min=1"`
	PractitionerID  *string `json:"practitioner_id"`
	AppointmentType *string `json:"appointment_type" validate:"omitempty,oneof=initial_evaluation physiotherapy rehabilitation follow_up consultation other"`
	Status          *string `json:"status" validate:"omitempty,oneof=scheduled confirmed completed cancelled no_show"`
}

type CheckAvailabilityRequest struct {
	StartTime       string  `json:"start_time" validate:"required"`
	DurationMinutes int     `json:"duration_minutes" validate:"required,min=1,max=1440"`
	PatientID       string  `json:"patient_id" validate:"required"`
	PractitionerID  *string `json:"practitioner_id"`
}

type CheckAvailabilityResponse struct {
	Available bool `json:"available"`
}

// SlotsParams are the query parameters of GET /appointments/availability
// once parsed.
type SlotsParams struct {
	Date            string `json:"date" validate:"required"`
	DurationMinutes int    `json:"duration_minutes" validate:"min=1,max=1440"`
	PatientID       string `json:"patient_id" validate:"required"`
	StartHour       int    `json:"start_hour" validate:"min=0,max=23"`
	EndHour         int    `json:"end_hour" validate:"min=1,max=24,gtfield=StartHour"`
	StepMinutes     int    `json:"step_minutes" validate:"min=1,max=1440"`
}

type SlotsResponse struct {
	AvailableSlots []time.Time `json:"available_slots"`
}

type AppointmentResponse struct {
	ID              int64     `json:"id"`
	StartTime       time.Time `json:"start_time"`
	EndTime         time.Time `json:"end_time"`
	DurationMinutes int       `json:"duration_minutes"`
	PatientID       string    `json:"patient_id"`
	PractitionerID  *string   `json:"practitioner_id"`
	AppointmentType string    `json:"appointment_type"`
	Status          string    `json:"status"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toAppointmentResponse(a *appointment.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:              a.ID,
		StartTime:       a.StartTime.UTC(),
		EndTime:         a.EndTime().UTC(),
		DurationMinutes: a.DurationMinutes,
		PatientID:       a.PatientID,
		PractitionerID:  a.PractitionerID,
		AppointmentType: string(a.Type),
		Status:          string(a.Status),
		CreatedAt:       a.CreatedAt,
		UpdatedAt:       a.UpdatedAt,
	}
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
