package reminders

import (
	"context"
	"time"

	"github.com/wolfman30/clinic-booking-agent/internal/notify"
	"github.com/wolfman30/clinic-booking-agent/pkg/logging"
)

// Worker periodically sweeps due reminders and dispatches them.
type Worker struct {
	scheduler *Scheduler
	gateway   notify.Gateway
	logger    *logging.Logger
	interval  time.Duration
	batchSize int
	clinic    string
	loc       *time.Location
}

func NewWorker(scheduler *Scheduler, gateway notify.Gateway, logger *logging.Logger) *Worker {
	if logger == nil {
		logger = logging.Default()
	}
	return &Worker{
		scheduler: scheduler,
		gateway:   gateway,
		logger:    logger,
		interval:  30 * time.Second,
		batchSize: 25,
		clinic:    "Clinic",
		loc:       time.UTC,
	}
}

func (w *Worker) WithInterval(interval time.Duration) *Worker {
	if interval > 0 {
		w.interval = interval
	}
	return w
}

func (w *Worker) WithBatchSize(size int) *Worker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// WithClinic sets the name and timezone used in message text.
func (w *Worker) WithClinic(name string, loc *time.Location) *Worker {
	if name != "" {
		w.clinic = name
	}
	if loc != nil {
		w.loc = loc
	}
	return w
}

// Run sweeps until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	if w.scheduler == nil || w.gateway == nil {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep dispatches one batch and returns how many tasks it handled.
func (w *Worker) Sweep(ctx context.Context) int {
	now := w.scheduler.now()
	tasks, err := w.scheduler.Due(ctx, now, w.batchSize)
	if err != nil {
		w.logger.Error("reminder lease failed", "error", err)
		return 0
	}
	for _, task := range tasks {
		w.dispatch(ctx, now, task)
	}
	return len(tasks)
}

func (w *Worker) dispatch(ctx context.Context, now time.Time, task Task) {
	log := w.logger.With("task_id", task.ID.String(), "appointment_id", task.AppointmentID.String(), "tier", int(task.Tier))

	if !task.AppointmentStart.After(now) {
		if err := w.scheduler.cancelStale(ctx, task); err != nil {
			log.Error("cancel stale reminder failed", "error", err)
			return
		}
		log.Info("reminder cancelled, appointment already started")
		return
	}

	content := Render(task, w.clinic, w.loc)
	delivered, err := notify.SendAll(ctx, w.gateway, task.Recipient(), content)
	if err != nil {
		if markErr := w.scheduler.MarkFailed(ctx, task, err); markErr != nil {
			log.Error("record reminder failure failed", "error", markErr)
		}
		return
	}
	if err := w.scheduler.MarkSent(ctx, task); err != nil {
		log.Error("mark reminder sent failed", "error", err)
		return
	}
	channels := make([]string, 0, len(delivered))
	for _, ch := range delivered {
		channels = append(channels, string(ch))
	}
	log.Info("reminder sent", "channels", channels)
}
