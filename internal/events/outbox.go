package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// OutboxEntry represents a pending event.
type OutboxEntry struct {
	ID        uuid.UUID
	Type      string
	Aggregate string
	Payload   json.RawMessage
	Attempts  int
	CreatedAt time.Time
}

// Envelope decodes the stored payload.
func (e OutboxEntry) Envelope() (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(e.Payload, &env); err != nil {
		return Envelope{}, fmt.Errorf("events: decode envelope %s: %w", e.ID, err)
	}
	return env, nil
}

// Outbox persists events for reliable delivery.
type Outbox interface {
	Append(ctx context.Context, aggregate, correlationID string, evt CanonicalEvent) (Envelope, error)
	FetchPending(ctx context.Context, limit int32) ([]OutboxEntry, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
	// MarkFailed counts a failed attempt and dead-letters the entry once attempts
	// reach maxAttempts. It reports whether the entry is now dead.
	MarkFailed(ctx context.Context, id uuid.UUID, maxAttempts int, lastErr string) (bool, error)
}

// DB abstracts the pgx pool for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// OutboxStore is the Postgres outbox.
type OutboxStore struct {
	db DB
}

func NewOutboxStore(db DB) *OutboxStore {
	if db == nil {
		panic("events: db required")
	}
	return &OutboxStore{db: db}
}

func (s *OutboxStore) Append(ctx context.Context, aggregate, correlationID string, evt CanonicalEvent) (Envelope, error) {
	env, err := NewEnvelope(aggregate, correlationID, evt)
	if err != nil {
		return Envelope{}, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal envelope: %w", err)
	}
	query := `
		INSERT INTO outbox (id, type, aggregate, payload)
		VALUES ($1, $2, $3, $4)
	`
	if _, err := s.db.Exec(ctx, query, env.EventID, env.EventType, env.Aggregate, data); err != nil {
		return Envelope{}, fmt.Errorf("events: insert outbox: %w", err)
	}
	return env, nil
}

func (s *OutboxStore) FetchPending(ctx context.Context, limit int32) ([]OutboxEntry, error) {
	query := `
		SELECT id, type, aggregate, payload, attempts, created_at
		FROM outbox
		WHERE delivered_at IS NULL AND dead_at IS NULL
		ORDER BY created_at
		LIMIT $1
	`
	rows, err := s.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("events: fetch pending: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var entry OutboxEntry
		var payload []byte
		if err := rows.Scan(&entry.ID, &entry.Type, &entry.Aggregate, &payload, &entry.Attempts, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("events: scan outbox: %w", err)
		}
		entry.Payload = append([]byte(nil), payload...)
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *OutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	query := `
		UPDATE outbox
		SET delivered_at = now()
		WHERE id = $1 AND delivered_at IS NULL
	`
	ct, err := s.db.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("events: mark delivered: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

func (s *OutboxStore) MarkFailed(ctx context.Context, id uuid.UUID, maxAttempts int, lastErr string) (bool, error) {
	query := `
		UPDATE outbox
		SET attempts = attempts + 1,
		    last_error = $3,
		    dead_at = CASE WHEN attempts + 1 >= $2 THEN now() ELSE NULL END
		WHERE id = $1 AND delivered_at IS NULL
		RETURNING dead_at IS NOT NULL
	`
	var dead bool
	if err := s.db.QueryRow(ctx, query, id, maxAttempts, lastErr).Scan(&dead); err != nil {
		return false, fmt.Errorf("events: mark failed: %w", err)
	}
	return dead, nil
}

// MemoryOutbox is an in-process Outbox for development and tests.
type MemoryOutbox struct {
	mu      sync.Mutex
	entries map[uuid.UUID]*memoryEntry
}

type memoryEntry struct {
	OutboxEntry
	delivered bool
	dead      bool
	lastErr   string
}

func NewMemoryOutbox() *MemoryOutbox {
	return &MemoryOutbox{entries: make(map[uuid.UUID]*memoryEntry)}
}

func (m *MemoryOutbox) Append(_ context.Context, aggregate, correlationID string, evt CanonicalEvent) (Envelope, error) {
	env, err := NewEnvelope(aggregate, correlationID, evt)
	if err != nil {
		return Envelope{}, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("events: marshal envelope: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[env.EventID] = &memoryEntry{OutboxEntry: OutboxEntry{
		ID:        env.EventID,
		Type:      env.EventType,
		Aggregate: env.Aggregate,
		Payload:   data,
		CreatedAt: nowFunc().UTC(),
	}}
	return env, nil
}

func (m *MemoryOutbox) FetchPending(_ context.Context, limit int32) ([]OutboxEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OutboxEntry
	for _, e := range m.entries {
		if !e.delivered && !e.dead {
			out = append(out, e.OutboxEntry)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && int32(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryOutbox) MarkDelivered(_ context.Context, id uuid.UUID) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok || e.delivered {
		return false, nil
	}
	e.delivered = true
	return true, nil
}

func (m *MemoryOutbox) MarkFailed(_ context.Context, id uuid.UUID, maxAttempts int, lastErr string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[id]
	if !ok {
		return false, fmt.Errorf("events: mark failed: entry %s not found", id)
	}
	e.Attempts++
	e.lastErr = lastErr
	if e.Attempts >= maxAttempts {
		e.dead = true
	}
	return e.dead, nil
}

// Dead lists dead-lettered entries.
func (m *MemoryOutbox) Dead() []OutboxEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []OutboxEntry
	for _, e := range m.entries {
		if e.dead {
			out = append(out, e.OutboxEntry)
		}
	}
	return out
}

var (
	_ Outbox = (*OutboxStore)(nil)
	_ Outbox = (*MemoryOutbox)(nil)
)
