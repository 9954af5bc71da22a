package notification

import (
	"fmt"
	"time"
)

type Type string

const (
	TypeAssigned          Type = "appointment_assigned"
	TypePendingAssignment Type = "appointment_pending_assignment"
	TypeModified          Type = "appointment_modified"
	TypeCancelled         Type = "appointment_cancelled"
	TypeReminder          Type = "appointment_reminder"
)

func (t Type) Valid() bool {
	switch t {
	case TypeAssigned, TypePendingAssignment, TypeModified, TypeCancelled, TypeReminder:
		return true
	}
	return false
}

type Role string

const (
	RoleAdmin        Role = "admin"
	RolePractitioner Role = "practitioner"
	RolePatient      Role = "patient"
)

// UserRef is the read-only view of a user owned by the identity service.
type UserRef struct {
	ID    string
	Role  Role
	Name  string
	Email *string
}

// Notification is immutable apart from IsRead.
type Notification struct {
	ID                   int64     `json:"id"`
	RecipientUserID      string    `json:"recipient_user_id"`
	Type                 Type      `json:"type"`
	Message              string    `json:"message"`
	RelatedAppointmentID *int64    `json:"related_appointment_id"`
	IsRead               bool      `json:"is_read"`
	CreatedAt            time.Time `json:"created_at"`
}

// Event is a lifecycle transition to fan out.
type Event struct {
	Type           Type
	AppointmentID  int64
	PatientID      string
	PractitionerID *string
	StartTime      time.Time
}

func (e Event) message() string {
	when := e.StartTime.UTC().Format(time.RFC3339)
	switch e.Type {
	case TypeAssigned:
		return fmt.Sprintf("Appointment #%d at %s assigned", e.AppointmentID, when)
	case TypePendingAssignment:
		return fmt.Sprintf("Appointment #%d at %s pending assignment", e.AppointmentID, when)
	case TypeModified:
		return fmt.Sprintf("Appointment #%d modified, now at %s", e.AppointmentID, when)
	case TypeCancelled:
		return fmt.Sprintf("Appointment #%d at %s cancelled", e.AppointmentID, when)
	case TypeReminder:
		return fmt.Sprintf("Reminder: appointment #%d at %s", e.AppointmentID, when)
	}
	return fmt.Sprintf("Appointment #%d updated", e.AppointmentID)
}
