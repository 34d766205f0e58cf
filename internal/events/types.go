package events

import (
	"time"

	"github.com/google/uuid"
)

// Intake form kinds sent after confirmation.
const (
	FormNewPatient       = "new_patient_intake"
	FormReturningPatient = "returning_patient_update"
)

// AppointmentConfirmedV1 is appended when a patient confirms a booking.
type AppointmentConfirmedV1 struct {
	AppointmentID   uuid.UUID `json:"appointment_id"`
	PatientID       uuid.UUID `json:"patient_id"`
	SessionID       string    `json:"session_id,omitempty"`
	PatientName     string    `json:"patient_name"`
	Email           string    `json:"email,omitempty"`
	Phone           string    `json:"phone,omitempty"`
	DoctorName      string    `json:"doctor_name"`
	Location        string    `json:"location,omitempty"`
	Start           time.Time `json:"start"`
	DurationMinutes int       `json:"duration_minutes"`
	NewPatient      bool      `json:"new_patient"`
	FormType        string    `json:"form_type"`
	InsuranceOnFile bool      `json:"insurance_on_file"`
}

func (AppointmentConfirmedV1) EventType() string { return "appointment.confirmed.v1" }

// AppointmentCancelledV1 is appended when a confirmed appointment is cancelled.
type AppointmentCancelledV1 struct {
	AppointmentID uuid.UUID `json:"appointment_id"`
	Reason        string    `json:"reason,omitempty"`
	CancelledAt   time.Time `json:"cancelled_at"`
}

func (AppointmentCancelledV1) EventType() string { return "appointment.cancelled.v1" }
