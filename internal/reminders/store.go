package reminders

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store persists reminder tasks. Implementations must make Insert idempotent per
// (appointment, tier) and Lease safe against concurrent sweepers.
type Store interface {
	// Insert adds tasks, skipping any whose (appointment, tier) already exists.
	Insert(ctx context.Context, tasks []Task) error
	ListForAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Task, error)
	// Lease returns up to limit pending tasks due at now and pushes their next
	// attempt to until so no other sweeper picks them up meanwhile.
	Lease(ctx context.Context, now, until time.Time, limit int) ([]Task, error)
	MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error
	MarkRetry(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error
	CancelTask(ctx context.Context, id uuid.UUID, reason string) error
	CancelForAppointment(ctx context.Context, appointmentID uuid.UUID) (int, error)
	ListFailed(ctx context.Context, limit int) ([]Task, error)
}
