package events

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wolfman30/clinic-booking-agent/internal/notify"
	"github.com/wolfman30/clinic-booking-agent/pkg/logging"
)

const (
	consumerConfirmation = "confirmation_message"
	consumerIntakeForm   = "intake_form"
)

// NotificationHandler turns appointment events into patient messages.
type NotificationHandler struct {
	gateway   notify.Gateway
	processed ProcessedLog
	clinic    string
	loc       *time.Location
	logger    *logging.Logger
}

func NewNotificationHandler(gateway notify.Gateway, processed ProcessedLog, logger *logging.Logger) *NotificationHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if processed == nil {
		processed = NewMemoryProcessedLog()
	}
	return &NotificationHandler{
		gateway:   gateway,
		processed: processed,
		clinic:    "the clinic",
		loc:       time.UTC,
		logger:    logger,
	}
}

// WithClinic sets the name and timezone used in message text.
func (h *NotificationHandler) WithClinic(name string, loc *time.Location) *NotificationHandler {
	if name != "" {
		h.clinic = name
	}
	if loc != nil {
		h.loc = loc
	}
	return h
}

func (h *NotificationHandler) Handle(ctx context.Context, entry OutboxEntry) error {
	env, err := entry.Envelope()
	if err != nil {
		return err
	}
	switch env.EventType {
	case AppointmentConfirmedV1{}.EventType():
		var evt AppointmentConfirmedV1
		if err := env.Decode(&evt); err != nil {
			return err
		}
		return h.handleConfirmed(ctx, env, evt)
	case AppointmentCancelledV1{}.EventType():
		h.logger.Info("appointment cancellation recorded", "aggregate", env.Aggregate, "event_id", env.EventID.String())
		return nil
	default:
		h.logger.Warn("outbox event without handler", "type", env.EventType, "event_id", env.EventID.String())
		return nil
	}
}

func (h *NotificationHandler) handleConfirmed(ctx context.Context, env Envelope, evt AppointmentConfirmedV1) error {
	to := notify.Recipient{Name: evt.PatientName, Email: evt.Email, Phone: evt.Phone}
	parts := []struct {
		consumer string
		content  notify.Content
	}{
		{consumerConfirmation, ConfirmationContent(evt, h.clinic, h.loc)},
		{consumerIntakeForm, IntakeFormContent(evt, h.clinic)},
	}
	for _, part := range parts {
		done, err := h.processed.AlreadyProcessed(ctx, part.consumer, env.EventID)
		if err != nil {
			return err
		}
		if done {
			continue
		}
		if _, err := notify.SendAll(ctx, h.gateway, to, part.content); err != nil {
			return fmt.Errorf("events: %s: %w", part.consumer, err)
		}
		if _, err := h.processed.MarkProcessed(ctx, part.consumer, env.EventID); err != nil {
			return err
		}
	}
	h.logger.Info("confirmation sent",
		"appointment_id", evt.AppointmentID.String(),
		"form_type", evt.FormType,
		"session_id", env.CorrelationID,
	)
	return nil
}

// ConfirmationContent is the message confirming a booked appointment.
func ConfirmationContent(evt AppointmentConfirmedV1, clinic string, loc *time.Location) notify.Content {
	if loc == nil {
		loc = time.UTC
	}
	when := evt.Start.In(loc).Format("Monday, January 2 at 3:04 PM")
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s, your appointment with %s is confirmed for %s", evt.PatientName, evt.DoctorName, when)
	if evt.Location != "" {
		fmt.Fprintf(&b, " at %s", evt.Location)
	}
	fmt.Fprintf(&b, " (%d minutes).", evt.DurationMinutes)
	if evt.InsuranceOnFile {
		b.WriteString(" Please bring your insurance card and a photo ID.")
	} else {
		b.WriteString(" Please bring a photo ID.")
	}
	return notify.Content{
		Subject: fmt.Sprintf("Appointment confirmed at %s", clinic),
		Body:    b.String(),
	}
}

var (
	newPatientFormSections = []string{
		"medical history",
		"current medications",
		"allergies",
		"emergency contact",
		"insurance information",
		"previous medical records",
	}
	returningFormSections = []string{
		"updated medical history",
		"current medications",
		"new allergies",
		"insurance updates",
		"reason for visit",
	}
)

// IntakeFormContent asks the patient to complete the form matching their status.
func IntakeFormContent(evt AppointmentConfirmedV1, clinic string) notify.Content {
	sections, title := newPatientFormSections, "New patient intake form"
	if evt.FormType == FormReturningPatient {
		sections, title = returningFormSections, "Patient update form"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Hi %s, before your visit please complete the %s for %s. It covers:\n", evt.PatientName, strings.ToLower(title), clinic)
	for _, s := range sections {
		fmt.Fprintf(&b, "- %s\n", s)
	}
	b.WriteString("Completing it ahead of time shortens your check-in.")
	return notify.Content{Subject: title, Body: b.String()}
}
