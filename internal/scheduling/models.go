// Package scheduling owns the doctor calendar: slots, appointments and the
// booking transaction.
package scheduling

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DateLayout encodes calendar days.
const DateLayout = "2006-01-02"

var (
	// ErrConflict is matched by every *ConflictError.
	ErrConflict            = errors.New("scheduling: slot conflict")
	ErrSlotNotFound        = errors.New("scheduling: slot not found")
	ErrAppointmentNotFound = errors.New("scheduling: appointment not found")
	ErrUnknownDoctor       = errors.New("scheduling: unknown doctor")
	ErrInvalidRequest      = errors.New("scheduling: invalid booking request")
)

// ConflictError means the requested range is no longer bookable.
type ConflictError struct {
	Doctor string
	Date   string
	Start  time.Time
	Reason string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("scheduling: conflict for %s on %s at %s: %s",
		e.Doctor, e.Date, e.Start.Format("15:04"), e.Reason)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// Doctor is a bookable provider.
type Doctor struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Specialty   string `json:"specialty,omitempty"`
	Location    string `json:"location,omitempty"`
}

// Slot is one pre-generated calendar cell. Available is the single source of truth
// for bookability; HeldBy names the appointment that took it.
type Slot struct {
	Doctor    string        `json:"doctor"`
	Date      string        `json:"date"`
	Start     time.Time     `json:"start"`
	Duration  time.Duration `json:"duration"`
	Available bool          `json:"available"`
	HeldBy    uuid.UUID     `json:"held_by,omitempty"`
}

func (s Slot) End() time.Time { return s.Start.Add(s.Duration) }

// AppointmentStatus is confirmed or cancelled.
type AppointmentStatus string

const (
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// Appointment is created only by Engine.Book.
type Appointment struct {
	ID          uuid.UUID         `json:"id"`
	PatientID   uuid.UUID         `json:"patient_id"`
	Doctor      string            `json:"doctor"`
	Date        string            `json:"date"`
	Start       time.Time         `json:"start"`
	Duration    time.Duration     `json:"duration"`
	Status      AppointmentStatus `json:"status"`
	CreatedAt   time.Time         `json:"created_at"`
	CancelledAt *time.Time        `json:"cancelled_at,omitempty"`
}

func (a Appointment) End() time.Time { return a.Start.Add(a.Duration) }

// BookRequest asks for [Start, Start+Duration) with Doctor on Date.
type BookRequest struct {
	PatientID uuid.UUID
	Doctor    string
	Date      string
	Start     time.Time
	Duration  time.Duration
}

func (r BookRequest) validate() error {
	switch {
	case r.PatientID == uuid.Nil:
		return fmt.Errorf("%w: patient is required", ErrInvalidRequest)
	case r.Doctor == "":
		return fmt.Errorf("%w: doctor is required", ErrInvalidRequest)
	case r.Duration <= 0:
		return fmt.Errorf("%w: duration must be positive", ErrInvalidRequest)
	case r.Start.IsZero():
		return fmt.Errorf("%w: start is required", ErrInvalidRequest)
	}
	if _, err := time.Parse(DateLayout, r.Date); err != nil {
		return fmt.Errorf("%w: date %q", ErrInvalidRequest, r.Date)
	}
	return nil
}

// overlapsBuffered reports whether [s1,e1) and [s2,e2) come closer than buffer.
func overlapsBuffered(s1, e1, s2, e2 time.Time, buffer time.Duration) bool {
	return s1.Before(e2.Add(buffer)) && s2.Before(e1.Add(buffer))
}
