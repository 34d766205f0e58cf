package reminders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-agent/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking-agent/pkg/logging"
)

// MaxBackoff caps the delay between delivery attempts.
const MaxBackoff = 24 * time.Hour

// Config tunes the scheduler.
type Config struct {
	LeadTimes   []time.Duration
	MaxAttempts int
	BaseDelay   time.Duration
	// Lease is how long a leased task stays invisible to other sweepers.
	Lease time.Duration
}

func DefaultConfig() Config {
	return Config{
		LeadTimes:   []time.Duration{24 * time.Hour, 2 * time.Hour, time.Hour},
		MaxAttempts: 5,
		BaseDelay:   time.Minute,
		Lease:       5 * time.Minute,
	}
}

// Scheduler owns the reminder task lifecycle.
type Scheduler struct {
	store   Store
	cfg     Config
	metrics *metrics.ReminderMetrics
	logger  *logging.Logger
	now     func() time.Time
}

// NewScheduler validates cfg and fills zero values from DefaultConfig.
func NewScheduler(store Store, cfg Config, logger *logging.Logger) (*Scheduler, error) {
	if store == nil {
		return nil, fmt.Errorf("reminders: store required")
	}
	def := DefaultConfig()
	if len(cfg.LeadTimes) == 0 {
		cfg.LeadTimes = def.LeadTimes
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = def.BaseDelay
	}
	if cfg.Lease <= 0 {
		cfg.Lease = def.Lease
	}
	if err := ValidateLeadTimes(cfg.LeadTimes); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Scheduler{store: store, cfg: cfg, logger: logger, now: time.Now}, nil
}

func (s *Scheduler) WithMetrics(m *metrics.ReminderMetrics) *Scheduler {
	s.metrics = m
	return s
}

func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	if now != nil {
		s.now = now
	}
	return s
}

// Register creates one task per lead time. Calling it again for the same
// appointment returns the existing tasks unchanged. Tiers whose fire time has
// already passed are stored as skipped.
func (s *Scheduler) Register(ctx context.Context, in RegisterInput) ([]Task, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	tasks := make([]Task, 0, len(s.cfg.LeadTimes))
	for i, lead := range s.cfg.LeadTimes {
		fireAt := in.AppointmentStart.Add(-lead).UTC()
		status := StatusPending
		if fireAt.Before(now) {
			status = StatusSkipped
		}
		tasks = append(tasks, Task{
			ID:               uuid.New(),
			AppointmentID:    in.AppointmentID,
			Tier:             Tier(i + 1),
			FireAt:           fireAt,
			Status:           status,
			NextAttemptAt:    fireAt,
			PatientName:      in.PatientName,
			Email:            in.Email,
			Phone:            in.Phone,
			DoctorName:       in.DoctorName,
			Location:         in.Location,
			AppointmentStart: in.AppointmentStart.UTC(),
			CreatedAt:        now,
			UpdatedAt:        now,
		})
	}
	if err := s.store.Insert(ctx, tasks); err != nil {
		return nil, err
	}
	stored, err := s.store.ListForAppointment(ctx, in.AppointmentID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("reminders registered",
		"appointment_id", in.AppointmentID.String(),
		"tasks", len(stored),
	)
	return stored, nil
}

// Due leases up to limit tasks ready to send at now.
func (s *Scheduler) Due(ctx context.Context, now time.Time, limit int) ([]Task, error) {
	return s.store.Lease(ctx, now, now.Add(s.cfg.Lease), limit)
}

// MarkSent records a delivery. A task cancelled while it was leased keeps its
// cancelled status.
func (s *Scheduler) MarkSent(ctx context.Context, task Task) error {
	err := s.store.MarkSent(ctx, task.ID, s.now().UTC())
	if errors.Is(err, ErrNotPending) {
		s.superseded(task, "sent")
		return nil
	}
	if err != nil {
		return err
	}
	s.metrics.ObserveDispatch(task.Tier.String(), "sent")
	return nil
}

// MarkFailed records a failed attempt. Below the attempt limit the task is retried
// after an exponential backoff; at the limit it becomes permanently failed.
func (s *Scheduler) MarkFailed(ctx context.Context, task Task, cause error) error {
	attempts := task.Attempts + 1
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if attempts >= s.cfg.MaxAttempts {
		err := s.store.MarkFailed(ctx, task.ID, attempts, msg)
		if errors.Is(err, ErrNotPending) {
			s.superseded(task, "failed")
			return nil
		}
		if err != nil {
			return err
		}
		s.metrics.ObserveDispatch(task.Tier.String(), "failed")
		s.logger.Error("reminder permanently failed",
			"task_id", task.ID.String(),
			"appointment_id", task.AppointmentID.String(),
			"tier", int(task.Tier),
			"attempts", attempts,
			"error", msg,
		)
		return nil
	}
	next := s.now().UTC().Add(Backoff(s.cfg.BaseDelay, attempts))
	err := s.store.MarkRetry(ctx, task.ID, attempts, next, msg)
	if errors.Is(err, ErrNotPending) {
		s.superseded(task, "retry")
		return nil
	}
	if err != nil {
		return err
	}
	s.metrics.ObserveDispatch(task.Tier.String(), "retry")
	s.logger.Warn("reminder delivery failed, will retry",
		"task_id", task.ID.String(),
		"attempts", attempts,
		"next_attempt_at", next.Format(time.RFC3339),
		"error", msg,
	)
	return nil
}

// superseded logs a dispatch outcome dropped because the task left pending while
// it was leased, typically through a cancellation.
func (s *Scheduler) superseded(task Task, outcome string) {
	s.metrics.ObserveDispatch(task.Tier.String(), "superseded")
	s.logger.Info("reminder no longer pending, outcome not recorded",
		"task_id", task.ID.String(),
		"appointment_id", task.AppointmentID.String(),
		"tier", int(task.Tier),
		"outcome", outcome,
	)
}

// CancelForAppointment cancels every pending task of the appointment.
func (s *Scheduler) CancelForAppointment(ctx context.Context, appointmentID uuid.UUID) (int, error) {
	n, err := s.store.CancelForAppointment(ctx, appointmentID)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("reminders cancelled", "appointment_id", appointmentID.String(), "count", n)
	}
	return n, nil
}

// cancelStale cancels a single task whose appointment has already begun.
func (s *Scheduler) cancelStale(ctx context.Context, task Task) error {
	if err := s.store.CancelTask(ctx, task.ID, "appointment already started"); err != nil {
		return err
	}
	s.metrics.ObserveDispatch(task.Tier.String(), "cancelled")
	return nil
}

// Failed lists permanently failed tasks for operators.
func (s *Scheduler) Failed(ctx context.Context, limit int) ([]Task, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.store.ListFailed(ctx, limit)
}

// ForAppointment lists all tasks of an appointment, ordered by tier.
func (s *Scheduler) ForAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Task, error) {
	return s.store.ListForAppointment(ctx, appointmentID)
}

// Backoff returns base * 2^(attempts-1), capped at MaxBackoff.
func Backoff(base time.Duration, attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	d := base
	for i := 1; i < attempts; i++ {
		d *= 2
		if d >= MaxBackoff {
			return MaxBackoff
		}
	}
	if d > MaxBackoff {
		return MaxBackoff
	}
	return d
}
