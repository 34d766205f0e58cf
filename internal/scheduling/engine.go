package scheduling

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking-agent/internal/keylock"
	"github.com/wolfman30/clinic-booking-agent/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking-agent/pkg/logging"
)

var schedulingTracer = otel.Tracer("clinic.internal.scheduling")

// DefaultBuffer is the idle time kept between two appointments of one doctor.
const DefaultBuffer = 15 * time.Minute

// Engine is the only writer of slots and appointments.
type Engine struct {
	store   Store
	locks   *keylock.Striped
	buffer  time.Duration
	metrics *metrics.BookingMetrics
	logger  *logging.Logger
	now     func() time.Time
}

func NewEngine(store Store, logger *logging.Logger) *Engine {
	if store == nil {
		panic("scheduling: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Engine{
		store:  store,
		locks:  keylock.New(0),
		buffer: DefaultBuffer,
		logger: logger,
		now:    time.Now,
	}
}

// WithBuffer overrides the inter-appointment buffer. Zero is allowed.
func (e *Engine) WithBuffer(buffer time.Duration) *Engine {
	if buffer >= 0 {
		e.buffer = buffer
	}
	return e
}

func (e *Engine) WithMetrics(m *metrics.BookingMetrics) *Engine {
	e.metrics = m
	return e
}

func (e *Engine) WithClock(now func() time.Time) *Engine {
	if now != nil {
		e.now = now
	}
	return e
}

// Buffer reports the configured buffer.
func (e *Engine) Buffer() time.Duration { return e.buffer }

// Doctors lists bookable doctors.
func (e *Engine) Doctors(ctx context.Context) ([]Doctor, error) {
	docs, err := e.store.Doctors(ctx)
	if err != nil {
		return nil, fmt.Errorf("scheduling: doctors: %w", err)
	}
	return docs, nil
}

// ResolveDoctor matches a spoken name ("smith", "Dr. Smith", "sarah smith") to a doctor.
func (e *Engine) ResolveDoctor(ctx context.Context, name string) (Doctor, error) {
	want := normalizeDoctorName(name)
	if want == "" {
		return Doctor{}, ErrUnknownDoctor
	}
	docs, err := e.Doctors(ctx)
	if err != nil {
		return Doctor{}, err
	}
	for _, d := range docs {
		if strings.EqualFold(d.ID, want) {
			return d, nil
		}
	}
	for _, d := range docs {
		display := normalizeDoctorName(d.DisplayName)
		if display == want || lastWord(display) == want {
			return d, nil
		}
	}
	return Doctor{}, fmt.Errorf("%w: %q", ErrUnknownDoctor, name)
}

func normalizeDoctorName(name string) string {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, prefix := range []string{"dr. ", "dr ", "doctor "} {
		n = strings.TrimPrefix(n, prefix)
	}
	return strings.Join(strings.Fields(n), " ")
}

func lastWord(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return fields[len(fields)-1]
}

// AvailableSlots returns the day's open slots in chronological order. It is read
// fresh on every call.
func (e *Engine) AvailableSlots(ctx context.Context, doctor, date string) ([]Slot, error) {
	slots, err := e.store.ListSlots(ctx, doctor, date)
	if err != nil {
		return nil, fmt.Errorf("scheduling: available slots: %w", err)
	}
	sortSlots(slots)
	out := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if s.Available {
			out = append(out, s)
		}
	}
	return out, nil
}

// AvailableStarts narrows the open slots to starts whose whole [start, start+duration)
// range is bookable and still in the future.
func (e *Engine) AvailableStarts(ctx context.Context, doctor, date string, duration time.Duration) ([]Slot, error) {
	if duration <= 0 {
		return nil, fmt.Errorf("%w: duration must be positive", ErrInvalidRequest)
	}
	slots, err := e.store.ListSlots(ctx, doctor, date)
	if err != nil {
		return nil, fmt.Errorf("scheduling: available starts: %w", err)
	}
	sortSlots(slots)
	now := e.now()
	var out []Slot
	for _, s := range slots {
		if !s.Available || !s.Start.After(now) {
			continue
		}
		if rangeBookable(slots, s.Start, s.Start.Add(duration)) == "" {
			out = append(out, s)
		}
	}
	return out, nil
}

// FindOpenings scans forward from date for the first day with starts that fit
// duration and returns up to limit of them.
func (e *Engine) FindOpenings(ctx context.Context, doctor, date string, days int, duration time.Duration, limit int) (string, []Slot, error) {
	day, err := time.Parse(DateLayout, date)
	if err != nil {
		return "", nil, fmt.Errorf("%w: date %q", ErrInvalidRequest, date)
	}
	if days <= 0 {
		days = 1
	}
	for i := 0; i < days; i++ {
		d := day.AddDate(0, 0, i).Format(DateLayout)
		starts, err := e.AvailableStarts(ctx, doctor, d, duration)
		if err != nil {
			return "", nil, err
		}
		if len(starts) == 0 {
			continue
		}
		if limit > 0 && len(starts) > limit {
			starts = starts[:limit]
		}
		return d, starts, nil
	}
	return "", nil, nil
}

// Book reserves [Start, Start+Duration) for the patient. Starts before the engine
// clock are rejected with ErrInvalidRequest. The check and the write
// happen in one transaction serialized per doctor/day. A lost race, an overlap
// (with the buffer applied) or a repeated request yields a *ConflictError.
func (e *Engine) Book(ctx context.Context, req BookRequest) (Appointment, error) {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.book")
	defer span.End()
	span.SetAttributes(
		attribute.String("doctor", req.Doctor),
		attribute.String("date", req.Date),
		attribute.String("start", req.Start.Format(time.RFC3339)),
		attribute.Int("duration_minutes", int(req.Duration/time.Minute)),
	)

	if err := req.validate(); err != nil {
		e.metrics.ObserveAttempt("invalid")
		return Appointment{}, err
	}
	if req.Start.Before(e.now()) {
		e.metrics.ObserveAttempt("invalid")
		return Appointment{}, fmt.Errorf("%w: start %s is in the past", ErrInvalidRequest, req.Start.Format(time.RFC3339))
	}

	waitStart := time.Now()
	unlock := e.locks.Lock(req.Doctor + "|" + req.Date)
	defer unlock()
	e.metrics.ObserveLockWait(time.Since(waitStart))

	var appt Appointment
	err := e.store.InTx(ctx, req.Doctor, req.Date, func(tx Tx) error {
		slots, err := tx.ListSlots(ctx, req.Doctor, req.Date)
		if err != nil {
			return err
		}
		sortSlots(slots)
		i := indexOfStart(slots, req.Start)
		if i < 0 {
			return ErrSlotNotFound
		}
		end := req.Start.Add(req.Duration)
		if reason := rangeBookable(slots, req.Start, end); reason != "" {
			return &ConflictError{Doctor: req.Doctor, Date: req.Date, Start: req.Start, Reason: reason}
		}

		confirmed, err := tx.ListConfirmed(ctx, req.Doctor, req.Date)
		if err != nil {
			return err
		}
		for _, other := range confirmed {
			if overlapsBuffered(req.Start, end, other.Start, other.End(), e.buffer) {
				return &ConflictError{Doctor: req.Doctor, Date: req.Date, Start: req.Start,
					Reason: "too close to appointment at " + other.Start.Format("15:04")}
			}
		}

		appt = Appointment{
			ID:        uuid.New(),
			PatientID: req.PatientID,
			Doctor:    req.Doctor,
			Date:      req.Date,
			Start:     req.Start,
			Duration:  req.Duration,
			Status:    StatusConfirmed,
			CreatedAt: e.now().UTC(),
		}
		if err := tx.InsertAppointment(ctx, appt); err != nil {
			return err
		}
		holdFrom, holdTo := req.Start.Add(-e.buffer), end.Add(e.buffer)
		for _, s := range slots {
			if s.Available && s.Start.Before(holdTo) && s.End().After(holdFrom) {
				if err := tx.SetSlotHold(ctx, s.Doctor, s.Date, s.Start, false, appt.ID); err != nil {
					return err
				}
			}
		}
		return nil
	})

	switch {
	case err == nil:
		e.metrics.ObserveAttempt("booked")
		span.SetAttributes(attribute.String("appointment.id", appt.ID.String()))
		e.logger.Info("appointment booked",
			"appointment_id", appt.ID.String(),
			"doctor", appt.Doctor,
			"start", appt.Start.Format(time.RFC3339),
			"duration_minutes", int(appt.Duration/time.Minute),
		)
		return appt, nil
	case errors.Is(err, ErrConflict):
		e.metrics.ObserveAttempt("conflict")
		e.logger.Info("booking conflict", "doctor", req.Doctor, "date", req.Date, "error", err)
		return Appointment{}, err
	case errors.Is(err, ErrSlotNotFound):
		e.metrics.ObserveAttempt("not_found")
		return Appointment{}, err
	default:
		e.metrics.ObserveAttempt("error")
		span.RecordError(err)
		return Appointment{}, fmt.Errorf("scheduling: book: %w", err)
	}
}

// Cancel cancels a confirmed appointment and releases its slots. A slot that still
// falls inside another confirmed appointment's buffered range is handed to that
// appointment instead. Cancelling twice is a no-op.
func (e *Engine) Cancel(ctx context.Context, id uuid.UUID) error {
	ctx, span := schedulingTracer.Start(ctx, "scheduling.cancel")
	defer span.End()
	span.SetAttributes(attribute.String("appointment.id", id.String()))

	current, err := e.store.GetAppointment(ctx, id)
	if err != nil {
		return err
	}
	if current.Status == StatusCancelled {
		return nil
	}

	unlock := e.locks.Lock(current.Doctor + "|" + current.Date)
	defer unlock()

	err = e.store.InTx(ctx, current.Doctor, current.Date, func(tx Tx) error {
		appt, err := tx.GetAppointment(ctx, id)
		if err != nil {
			return err
		}
		if appt.Status == StatusCancelled {
			return nil
		}
		if err := tx.CancelAppointment(ctx, id, e.now().UTC()); err != nil {
			return err
		}
		slots, err := tx.ListSlots(ctx, appt.Doctor, appt.Date)
		if err != nil {
			return err
		}
		others, err := tx.ListConfirmed(ctx, appt.Doctor, appt.Date)
		if err != nil {
			return err
		}
		for _, s := range slots {
			if s.HeldBy != id {
				continue
			}
			available, holder := true, uuid.Nil
			for _, o := range others {
				if o.ID == id {
					continue
				}
				if s.Start.Before(o.End().Add(e.buffer)) && s.End().After(o.Start.Add(-e.buffer)) {
					available, holder = false, o.ID
					break
				}
			}
			if err := tx.SetSlotHold(ctx, s.Doctor, s.Date, s.Start, available, holder); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("scheduling: cancel: %w", err)
	}
	e.logger.Info("appointment cancelled", "appointment_id", id.String())
	return nil
}

// GetAppointment returns an appointment by id.
func (e *Engine) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return e.store.GetAppointment(ctx, id)
}

// Seed registers doctors and generates their slots for days starting at from.
func (e *Engine) Seed(ctx context.Context, doctors []Doctor, from time.Time, days int) (int, error) {
	total := 0
	for _, d := range doctors {
		if err := e.store.UpsertDoctor(ctx, d); err != nil {
			return total, fmt.Errorf("scheduling: seed: %w", err)
		}
		n, err := e.store.InsertSlots(ctx, GenerateSlots(d.ID, from, days, from.Location()))
		total += n
		if err != nil {
			return total, fmt.Errorf("scheduling: seed: %w", err)
		}
	}
	return total, nil
}

// rangeBookable returns "" when every slot covering [start, end) exists and is
// available, otherwise the reason it is not.
func rangeBookable(sorted []Slot, start, end time.Time) string {
	cursor := start
	for cursor.Before(end) {
		i := indexOfStart(sorted, cursor)
		if i < 0 {
			return "range runs past the end of the schedule"
		}
		if !sorted[i].Available {
			return "slot at " + cursor.Format("15:04") + " is taken"
		}
		if sorted[i].Duration <= 0 {
			return "slot at " + cursor.Format("15:04") + " has no length"
		}
		cursor = sorted[i].End()
	}
	return ""
}
