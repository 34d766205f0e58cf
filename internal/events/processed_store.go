package events

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ProcessedLog records which consumer already handled which event so a
// redelivered outbox entry does not repeat side effects.
type ProcessedLog interface {
	AlreadyProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
	MarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error)
}

type rowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ProcessedStore is the Postgres ProcessedLog backed by processed_events.
type ProcessedStore struct {
	pool rowQuerier
}

func NewProcessedStore(pool rowQuerier) *ProcessedStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &ProcessedStore{pool: pool}
}

func (s *ProcessedStore) AlreadyProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	query := `SELECT 1 FROM processed_events WHERE consumer = $1 AND event_id = $2`
	var exists int
	if err := s.pool.QueryRow(ctx, query, consumer, eventID).Scan(&exists); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("events: check processed: %w", err)
	}
	return true, nil
}

// MarkProcessed returns false if the pair was already recorded.
func (s *ProcessedStore) MarkProcessed(ctx context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	query := `
		INSERT INTO processed_events (consumer, event_id)
		VALUES ($1, $2)
		ON CONFLICT DO NOTHING
	`
	ct, err := s.pool.Exec(ctx, query, consumer, eventID)
	if err != nil {
		return false, fmt.Errorf("events: mark processed: %w", err)
	}
	return ct.RowsAffected() > 0, nil
}

// MemoryProcessedLog is the in-process ProcessedLog.
type MemoryProcessedLog struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryProcessedLog() *MemoryProcessedLog {
	return &MemoryProcessedLog{seen: make(map[string]struct{})}
}

func (m *MemoryProcessedLog) AlreadyProcessed(_ context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.seen[consumer+"|"+eventID.String()]
	return ok, nil
}

func (m *MemoryProcessedLog) MarkProcessed(_ context.Context, consumer string, eventID uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := consumer + "|" + eventID.String()
	if _, ok := m.seen[key]; ok {
		return false, nil
	}
	m.seen[key] = struct{}{}
	return true, nil
}

var (
	_ ProcessedLog = (*ProcessedStore)(nil)
	_ ProcessedLog = (*MemoryProcessedLog)(nil)
)
