package bookings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking-agent/internal/events"
	"github.com/wolfman30/clinic-booking-agent/internal/scheduling"
	"github.com/wolfman30/clinic-booking-agent/pkg/logging"
)

var bookingsTracer = otel.Tracer("clinic.internal.bookings")

// Calendar is the part of the scheduling engine cancellation needs.
type Calendar interface {
	GetAppointment(ctx context.Context, id uuid.UUID) (*scheduling.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

// Reminders cancels the pending reminder tasks of an appointment.
type Reminders interface {
	CancelForAppointment(ctx context.Context, appointmentID uuid.UUID) (int, error)
}

// EventAppender records domain events for asynchronous delivery.
type EventAppender interface {
	Append(ctx context.Context, aggregate, correlationID string, evt events.CanonicalEvent) (events.Envelope, error)
}

// Cancellation reports what CancelAppointment changed.
type Cancellation struct {
	Appointment        scheduling.Appointment `json:"appointment"`
	RemindersCancelled int                    `json:"reminders_cancelled"`
	AlreadyCancelled   bool                   `json:"already_cancelled"`
}

// Service cancels confirmed appointments together with everything hanging off them.
type Service struct {
	calendar  Calendar
	reminders Reminders
	outbox    EventAppender
	logger    *logging.Logger
	now       func() time.Time
}

// NewService constructs a bookings service.
func NewService(calendar Calendar, reminders Reminders, outbox EventAppender, logger *logging.Logger) *Service {
	if calendar == nil || reminders == nil || outbox == nil {
		panic("bookings: calendar, reminders and outbox required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{calendar: calendar, reminders: reminders, outbox: outbox, logger: logger, now: time.Now}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// CancelAppointment cancels the appointment's pending reminders, frees its slots and
// records an appointment.cancelled event, in that order, so a failed step can be
// retried. Cancelling an already cancelled appointment reports AlreadyCancelled,
// still sweeps any pending reminders and appends nothing.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID, reason string) (Cancellation, error) {
	ctx, span := bookingsTracer.Start(ctx, "bookings.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("appointment.id", id.String()))

	appt, err := s.calendar.GetAppointment(ctx, id)
	if err != nil {
		if !errors.Is(err, scheduling.ErrAppointmentNotFound) {
			span.RecordError(err)
		}
		return Cancellation{}, err
	}
	cancelled, err := s.reminders.CancelForAppointment(ctx, id)
	if err != nil {
		span.RecordError(err)
		return Cancellation{}, fmt.Errorf("bookings: cancel reminders: %w", err)
	}
	if appt.Status == scheduling.StatusCancelled {
		if cancelled > 0 {
			s.logger.Warn("swept reminders of a cancelled appointment",
				"appointment_id", id.String(),
				"reminders_cancelled", cancelled,
			)
		}
		return Cancellation{Appointment: *appt, RemindersCancelled: cancelled, AlreadyCancelled: true}, nil
	}

	if err := s.calendar.Cancel(ctx, id); err != nil {
		span.RecordError(err)
		return Cancellation{}, err
	}
	at := s.now().UTC()
	if _, err := s.outbox.Append(ctx, id.String(), "", events.AppointmentCancelledV1{
		AppointmentID: id,
		Reason:        reason,
		CancelledAt:   at,
	}); err != nil {
		span.RecordError(err)
		return Cancellation{}, fmt.Errorf("bookings: append cancelled event: %w", err)
	}

	out := *appt
	out.Status = scheduling.StatusCancelled
	out.CancelledAt = &at
	s.logger.Info("appointment cancelled",
		"appointment_id", id.String(),
		"reminders_cancelled", cancelled,
		"reason", reason,
	)
	return Cancellation{Appointment: out, RemindersCancelled: cancelled}, nil
}
