package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/clinic-booking-agent/internal/scheduling"
	"github.com/wolfman30/clinic-booking-agent/pkg/logging"
)

// DoctorDirectory lists doctors and their open calendar cells.
type DoctorDirectory interface {
	Doctors(ctx context.Context) ([]scheduling.Doctor, error)
	ResolveDoctor(ctx context.Context, name string) (scheduling.Doctor, error)
	AvailableSlots(ctx context.Context, doctor, date string) ([]scheduling.Slot, error)
}

// DoctorsHandler serves the read-only calendar endpoints.
type DoctorsHandler struct {
	directory DoctorDirectory
	loc       *time.Location
	logger    *logging.Logger
}

func NewDoctorsHandler(directory DoctorDirectory, loc *time.Location, logger *logging.Logger) *DoctorsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &DoctorsHandler{directory: directory, loc: loc, logger: logger}
}

// SlotView is one open slot in clinic local time.
type SlotView struct {
	Start           time.Time `json:"start"`
	Time            string    `json:"time"`
	DurationMinutes int       `json:"duration_minutes"`
}

// SlotsResponse lists a doctor's open slots for one day.
type SlotsResponse struct {
	Doctor scheduling.Doctor `json:"doctor"`
	Date   string            `json:"date"`
	Slots  []SlotView        `json:"slots"`
}

// List returns every bookable doctor.
// Route: GET /v1/doctors
func (h *DoctorsHandler) List(w http.ResponseWriter, r *http.Request) {
	doctors, err := h.directory.Doctors(r.Context())
	if err != nil {
		h.logger.Error("list doctors failed", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list doctors")
		return
	}
	if doctors == nil {
		doctors = []scheduling.Doctor{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"doctors": doctors})
}

// Slots returns the open slots for a doctor on ?date=YYYY-MM-DD.
// Route: GET /v1/doctors/{doctor}/slots
func (h *DoctorsHandler) Slots(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimSpace(chi.URLParam(r, "doctor"))
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if _, err := time.Parse(scheduling.DateLayout, date); err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	doc, err := h.directory.ResolveDoctor(r.Context(), name)
	if err != nil {
		if errors.Is(err, scheduling.ErrUnknownDoctor) {
			writeError(w, http.StatusNotFound, "unknown doctor")
			return
		}
		h.logger.Error("resolve doctor failed", "doctor", name, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load doctor")
		return
	}
	slots, err := h.directory.AvailableSlots(r.Context(), doc.ID, date)
	if err != nil {
		h.logger.Error("list slots failed", "doctor", doc.ID, "date", date, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to list slots")
		return
	}

	resp := SlotsResponse{Doctor: doc, Date: date, Slots: make([]SlotView, 0, len(slots))}
	for _, s := range slots {
		local := s.Start.In(h.loc)
		resp.Slots = append(resp.Slots, SlotView{
			Start:           local,
			Time:            local.Format("15:04"),
			DurationMinutes: int(s.Duration / time.Minute),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}
