package events

import (
	"context"
	"time"

	"github.com/wolfman30/clinic-booking-agent/pkg/logging"
)

// DeliveryHandler emits events to downstream transports.
type DeliveryHandler interface {
	Handle(ctx context.Context, entry OutboxEntry) error
}

// HandlerFunc adapts a function to DeliveryHandler.
type HandlerFunc func(ctx context.Context, entry OutboxEntry) error

func (f HandlerFunc) Handle(ctx context.Context, entry OutboxEntry) error { return f(ctx, entry) }

// Deliverer polls the outbox and invokes the handler.
type Deliverer struct {
	store       Outbox
	handler     DeliveryHandler
	logger      *logging.Logger
	batchSize   int32
	interval    time.Duration
	maxAttempts int
}

func NewDeliverer(store Outbox, handler DeliveryHandler, logger *logging.Logger) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Deliverer{
		store:       store,
		handler:     handler,
		logger:      logger,
		batchSize:   25,
		interval:    2 * time.Second,
		maxAttempts: 5,
	}
}

func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

func (d *Deliverer) WithMaxAttempts(n int) *Deliverer {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

func (d *Deliverer) Start(ctx context.Context) {
	if d.store == nil || d.handler == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.Drain(ctx)
		}
	}
}

// Drain delivers one batch and returns how many entries were delivered.
func (d *Deliverer) Drain(ctx context.Context) int {
	entries, err := d.store.FetchPending(ctx, d.batchSize)
	if err != nil {
		d.logger.Error("outbox fetch failed", "error", err)
		return 0
	}
	delivered := 0
	for _, entry := range entries {
		if err := d.handler.Handle(ctx, entry); err != nil {
			dead, markErr := d.store.MarkFailed(ctx, entry.ID, d.maxAttempts, err.Error())
			switch {
			case markErr != nil:
				d.logger.Error("failed to record outbox failure", "error", markErr, "event_id", entry.ID)
			case dead:
				d.logger.Error("outbox entry dead-lettered", "error", err, "event_id", entry.ID, "type", entry.Type, "attempts", entry.Attempts+1)
			default:
				d.logger.Warn("outbox delivery failed", "error", err, "event_id", entry.ID, "type", entry.Type)
			}
			continue
		}
		if ok, err := d.store.MarkDelivered(ctx, entry.ID); err != nil {
			d.logger.Error("failed to mark outbox delivered", "error", err, "event_id", entry.ID)
		} else if ok {
			delivered++
			d.logger.Debug("outbox delivered", "event_id", entry.ID, "type", entry.Type)
		}
	}
	return delivered
}
