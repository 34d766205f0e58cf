package reminders

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-agent/internal/notify"
)

var (
	ErrNotFound        = errors.New("reminders: task not found")
	ErrNotPending      = errors.New("reminders: task is no longer pending")
	ErrInvalidSchedule = errors.New("reminders: invalid schedule")
)

// Status of a reminder task. Pending is the only non-terminal state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
	// StatusSkipped marks a tier whose fire time had already passed when the
	// appointment was booked.
	StatusSkipped Status = "skipped"
)

// Tier numbers reminders from the earliest (1) to the last (3).
type Tier int

// TierCount is the number of reminders every appointment gets.
const TierCount = 3

func (t Tier) String() string { return fmt.Sprintf("%d", int(t)) }

// Task is one scheduled reminder for one appointment.
type Task struct {
	ID               uuid.UUID
	AppointmentID    uuid.UUID
	Tier             Tier
	FireAt           time.Time
	Status           Status
	Attempts         int
	NextAttemptAt    time.Time
	LastError        string
	PatientName      string
	Email            string
	Phone            string
	DoctorName       string
	Location         string
	AppointmentStart time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Recipient is the task's delivery target.
func (t Task) Recipient() notify.Recipient {
	return notify.Recipient{Name: t.PatientName, Email: t.Email, Phone: t.Phone}
}

// RegisterInput describes a confirmed appointment to remind about.
type RegisterInput struct {
	AppointmentID    uuid.UUID
	AppointmentStart time.Time
	PatientName      string
	Email            string
	Phone            string
	DoctorName       string
	Location         string
}

func (in RegisterInput) validate() error {
	switch {
	case in.AppointmentID == uuid.Nil:
		return fmt.Errorf("%w: appointment id required", ErrInvalidSchedule)
	case in.AppointmentStart.IsZero():
		return fmt.Errorf("%w: appointment start required", ErrInvalidSchedule)
	case in.Email == "" && in.Phone == "":
		return fmt.Errorf("%w: recipient needs an email or phone", ErrInvalidSchedule)
	}
	return nil
}

// ValidateLeadTimes requires exactly TierCount positive, strictly decreasing lead
// times.
func ValidateLeadTimes(leads []time.Duration) error {
	if len(leads) != TierCount {
		return fmt.Errorf("%w: need %d lead times, got %d", ErrInvalidSchedule, TierCount, len(leads))
	}
	for i, lead := range leads {
		if lead <= 0 {
			return fmt.Errorf("%w: lead time %d must be positive", ErrInvalidSchedule, i+1)
		}
		if i > 0 && lead >= leads[i-1] {
			return fmt.Errorf("%w: lead times must be strictly decreasing (%s then %s)", ErrInvalidSchedule, leads[i-1], lead)
		}
	}
	return nil
}
