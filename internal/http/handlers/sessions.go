package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-booking-agent/internal/conversation"
	"github.com/wolfman30/clinic-booking-agent/pkg/logging"
)

const maxTurnTextLength = 2000

// SessionService drives booking conversations.
type SessionService interface {
	Start(ctx context.Context) (conversation.Session, conversation.Reply, error)
	Turn(ctx context.Context, id, text string) (conversation.Session, conversation.Reply, error)
	Cancel(ctx context.Context, id string) (conversation.Session, error)
}

// SessionsHandler exposes the conversation manager over HTTP.
type SessionsHandler struct {
	sessions SessionService
	logger   *logging.Logger
}

func NewSessionsHandler(sessions SessionService, logger *logging.Logger) *SessionsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &SessionsHandler{sessions: sessions, logger: logger}
}

// SessionResponse is returned by every session endpoint.
type SessionResponse struct {
	SessionID     string               `json:"session_id"`
	State         conversation.State   `json:"state"`
	Reply         string               `json:"reply,omitempty"`
	Outcome       conversation.Outcome `json:"outcome,omitempty"`
	AppointmentID string               `json:"appointment_id,omitempty"`
	Appointment   *AppointmentSummary  `json:"appointment,omitempty"`
}

// AppointmentSummary describes the appointment a session is holding or booked.
type AppointmentSummary struct {
	Doctor          string    `json:"doctor"`
	DoctorName      string    `json:"doctor_name"`
	Location        string    `json:"location,omitempty"`
	Start           time.Time `json:"start"`
	DurationMinutes int       `json:"duration_minutes"`
}

type turnRequest struct {
	Text string `json:"text"`
}

func sessionResponse(s conversation.Session, reply string) SessionResponse {
	resp := SessionResponse{
		SessionID: s.ID,
		State:     s.State,
		Reply:     reply,
		Outcome:   s.Outcome,
	}
	if s.Hold != nil {
		resp.AppointmentID = s.Hold.AppointmentID.String()
		resp.Appointment = &AppointmentSummary{
			Doctor:          s.Hold.Doctor,
			DoctorName:      s.Hold.DoctorName,
			Location:        s.Hold.Location,
			Start:           s.Hold.Start,
			DurationMinutes: int(s.Hold.Duration / time.Minute),
		}
	}
	return resp
}

// Start opens a new session and returns the greeting.
// Route: POST /v1/sessions
func (h *SessionsHandler) Start(w http.ResponseWriter, r *http.Request) {
	s, reply, err := h.sessions.Start(r.Context())
	if err != nil {
		h.logger.Error("start session failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to start session")
		return
	}
	writeJSON(w, http.StatusCreated, sessionResponse(s, reply.Text))
}

// Turn feeds one patient message into the session.
// Route: POST /v1/sessions/{id}/turns
func (h *SessionsHandler) Turn(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	var req turnRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	text := strings.TrimSpace(req.Text)
	if text == "" {
		writeError(w, http.StatusBadRequest, "text is required")
		return
	}
	if len(text) > maxTurnTextLength {
		writeError(w, http.StatusRequestEntityTooLarge, "text is too long")
		return
	}

	s, reply, err := h.sessions.Turn(r.Context(), id, text)
	if err != nil {
		h.writeSessionError(w, id, "turn", err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(s, reply.Text))
}

// Cancel aborts the session and releases any held appointment.
// Route: DELETE /v1/sessions/{id}
func (h *SessionsHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	s, err := h.sessions.Cancel(r.Context(), id)
	if err != nil {
		h.writeSessionError(w, id, "cancel", err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse(s, ""))
}

func (h *SessionsHandler) writeSessionError(w http.ResponseWriter, id, op string, err error) {
	switch {
	case errors.Is(err, conversation.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, conversation.ErrSessionClosed):
		writeError(w, http.StatusConflict, "session is closed")
	case errors.Is(err, conversation.ErrSessionConflict):
		h.logger.Warn("session "+op+" lost a concurrent update", "session_id", id)
		writeError(w, http.StatusConflict, "session was updated by another request, please retry")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		h.logger.Error("session "+op+" failed", "session_id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "something went wrong, please try again")
	}
}
