package conversation

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-agent/internal/patients"
)

// ErrSessionNotFound is returned by session stores for unknown or expired ids.
var ErrSessionNotFound = errors.New("conversation: session not found")

// ErrSessionClosed is returned when a turn arrives after Done or Aborted.
var ErrSessionClosed = errors.New("conversation: session is closed")

// ErrSessionConflict is returned by Save when the stored session moved on since it
// was read.
var ErrSessionConflict = errors.New("conversation: session was modified concurrently")

// Offer is one start time presented to the patient.
type Offer struct {
	Doctor     string    `json:"doctor"`
	DoctorName string    `json:"doctor_name"`
	Date       string    `json:"date"`
	Start      time.Time `json:"start"`
}

// Hold is the appointment booked for the session and not yet confirmed by the
// patient (or confirmed, once the session is Done).
type Hold struct {
	AppointmentID uuid.UUID     `json:"appointment_id"`
	Doctor        string        `json:"doctor"`
	DoctorName    string        `json:"doctor_name"`
	Location      string        `json:"location,omitempty"`
	Date          string        `json:"date"`
	Start         time.Time     `json:"start"`
	Duration      time.Duration `json:"duration"`
}

// TurnRecord is one entry of the session transcript. Input and Output have contact
// details and dates masked.
type TurnRecord struct {
	Input  string    `json:"input"`
	Output string    `json:"output"`
	State  State     `json:"state"`
	At     time.Time `json:"at"`
}

// Session is the value threaded through Advance. Callers persist the returned copy.
// Version counts successful saves and guards against lost updates.
type Session struct {
	ID        string              `json:"id"`
	State     State               `json:"state"`
	Buffer    Buffer              `json:"buffer"`
	PatientID uuid.UUID           `json:"patient_id,omitempty"`
	IsNew     bool                `json:"is_new"`
	Duration  time.Duration       `json:"duration,omitempty"`
	Offers    []Offer             `json:"offers,omitempty"`
	OfferKey  string              `json:"offer_key,omitempty"`
	Hold      *Hold               `json:"hold,omitempty"`
	Insurance *patients.Insurance `json:"insurance,omitempty"`
	Stalls    int                 `json:"stalls"`
	Turns     int                 `json:"turns"`
	Outcome   Outcome             `json:"outcome,omitempty"`
	History   []TurnRecord        `json:"history,omitempty"`
	Version   int                 `json:"version"`
	CreatedAt time.Time           `json:"created_at"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// NewSession starts a session in Greeting.
func NewSession(id string, now time.Time) Session {
	if id == "" {
		id = uuid.NewString()
	}
	return Session{ID: id, State: StateGreeting, CreatedAt: now, UpdatedAt: now}
}

// Identity reads the identity fields from the buffer.
func (s Session) Identity() patients.Identity {
	return patients.Identity{
		FirstName:   s.Buffer.Value(identityFields[0]),
		LastName:    s.Buffer.Value(identityFields[1]),
		DateOfBirth: s.Buffer.Value(identityFields[2]),
	}
}

// Classified reports whether Lookup has run for the current identity.
func (s Session) Classified() bool {
	return s.PatientID != uuid.Nil
}

// record returns a copy of the history with rec appended, leaving the receiver's
// backing array untouched.
func (s Session) record(rec TurnRecord) []TurnRecord {
	out := make([]TurnRecord, len(s.History), len(s.History)+1)
	copy(out, s.History)
	return append(out, rec)
}

// clearSchedule drops offers, the slot choice and the hold reference.
func (s *Session) clearSchedule() {
	s.Offers = nil
	s.OfferKey = ""
	s.Hold = nil
}
