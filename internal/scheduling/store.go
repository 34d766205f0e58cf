package scheduling

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists doctors, slots and appointments.
type Store interface {
	Doctors(ctx context.Context) ([]Doctor, error)
	UpsertDoctor(ctx context.Context, d Doctor) error
	// InsertSlots adds slots, skipping any (doctor, date, start) that already exists.
	InsertSlots(ctx context.Context, slots []Slot) (int, error)
	ListSlots(ctx context.Context, doctor, date string) ([]Slot, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// InTx runs fn in one transaction serialized per (doctor, date).
	InTx(ctx context.Context, doctor, date string, fn func(tx Tx) error) error
}

// Tx is the booking transaction view of one doctor/day.
type Tx interface {
	// ListSlots returns the day's slots, locked for update.
	ListSlots(ctx context.Context, doctor, date string) ([]Slot, error)
	ListConfirmed(ctx context.Context, doctor, date string) ([]Appointment, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	InsertAppointment(ctx context.Context, a Appointment) error
	CancelAppointment(ctx context.Context, id uuid.UUID, at time.Time) error
	// SetSlotHold sets availability; heldBy is uuid.Nil when released.
	SetSlotHold(ctx context.Context, doctor, date string, start time.Time, available bool, heldBy uuid.UUID) error
}
