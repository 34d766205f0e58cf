package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-agent/internal/bookings"
	"github.com/wolfman30/clinic-booking-agent/internal/http/middleware"
	"github.com/wolfman30/clinic-booking-agent/internal/reminders"
	"github.com/wolfman30/clinic-booking-agent/internal/scheduling"
	"github.com/wolfman30/clinic-booking-agent/pkg/logging"
)

const defaultFailedLimit = 50

// AppointmentCanceller cancels confirmed appointments.
type AppointmentCanceller interface {
	CancelAppointment(ctx context.Context, id uuid.UUID, reason string) (bookings.Cancellation, error)
}

// FailedReminders lists reminder tasks that exhausted their retries.
type FailedReminders interface {
	Failed(ctx context.Context, limit int) ([]reminders.Task, error)
}

// OperatorHandler serves the operator-only endpoints.
type OperatorHandler struct {
	appointments AppointmentCanceller
	reminders    FailedReminders
	logger       *logging.Logger
}

func NewOperatorHandler(appointments AppointmentCanceller, failed FailedReminders, logger *logging.Logger) *OperatorHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &OperatorHandler{appointments: appointments, reminders: failed, logger: logger}
}

type cancelAppointmentRequest struct {
	Reason string `json:"reason"`
}

// CancelAppointment cancels a confirmed appointment and its pending reminders.
// Route: DELETE /v1/appointments/{id}
func (h *OperatorHandler) CancelAppointment(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(strings.TrimSpace(chi.URLParam(r, "id")))
	if err != nil {
		writeError(w, http.StatusBadRequest, "appointment id must be a UUID")
		return
	}
	var req cancelAppointmentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Reason == "" {
		if claims, ok := middleware.OperatorFromContext(r.Context()); ok && claims.Subject != "" {
			req.Reason = "cancelled by " + claims.Subject
		}
	}

	res, err := h.appointments.CancelAppointment(r.Context(), id, req.Reason)
	if err != nil {
		if errors.Is(err, scheduling.ErrAppointmentNotFound) {
			writeError(w, http.StatusNotFound, "appointment not found")
			return
		}
		h.logger.Error("cancel appointment failed", "appointment_id", id.String(), "error", err)
		writeError(w, http.StatusInternalServerError, "failed to cancel appointment")
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// FailedReminderView is a reminder that will not be retried.
type FailedReminderView struct {
	ID               uuid.UUID `json:"id"`
	AppointmentID    uuid.UUID `json:"appointment_id"`
	Tier             int       `json:"tier"`
	PatientName      string    `json:"patient_name"`
	Attempts         int       `json:"attempts"`
	LastError        string    `json:"last_error"`
	AppointmentStart string    `json:"appointment_start"`
	UpdatedAt        string    `json:"updated_at"`
}

// FailedReminders lists reminders whose delivery failed terminally.
// Route: GET /v1/reminders/failed
func (h *OperatorHandler) FailedReminders(w http.ResponseWriter, r *http.Request) {
	tasks, err := h.reminders.Failed(r.Context(), defaultFailedLimit)
	if err != nil {
		h.logger.Error("list failed reminders failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list reminders")
		return
	}
	out := make([]FailedReminderView, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, FailedReminderView{
			ID:               t.ID,
			AppointmentID:    t.AppointmentID,
			Tier:             int(t.Tier),
			PatientName:      t.PatientName,
			Attempts:         t.Attempts,
			LastError:        t.LastError,
			AppointmentStart: t.AppointmentStart.Format("2006-01-02T15:04:05Z07:00"),
			UpdatedAt:        t.UpdatedAt.Format("2006-01-02T15:04:05Z07:00"),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"reminders": out})
}
