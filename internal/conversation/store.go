package conversation

import (
	"context"
	"sort"
	"sync"
	"time"
)

// SessionStore persists sessions between turns. Save writes s only when nothing is
// stored under its id or the stored copy is at s.Version-1, and returns
// ErrSessionConflict otherwise; callers bump Version before saving an update.
type SessionStore interface {
	Get(ctx context.Context, id string) (Session, error)
	Save(ctx context.Context, s Session) error
	Delete(ctx context.Context, id string) error
	// Idle lists sessions whose last activity is before cutoff, oldest first.
	Idle(ctx context.Context, cutoff time.Time, limit int) ([]string, error)
}

// MemorySessionStore keeps sessions in process.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]Session)}
}

func (m *MemorySessionStore) Get(_ context.Context, id string) (Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return s, nil
}

func (m *MemorySessionStore) Save(_ context.Context, s Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sessions[s.ID]; ok && cur.Version != s.Version-1 {
		return ErrSessionConflict
	}
	m.sessions[s.ID] = s
	return nil
}

func (m *MemorySessionStore) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func (m *MemorySessionStore) Idle(_ context.Context, cutoff time.Time, limit int) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var idle []Session
	for _, s := range m.sessions {
		if s.UpdatedAt.Before(cutoff) {
			idle = append(idle, s)
		}
	}
	sort.Slice(idle, func(i, j int) bool { return idle[i].UpdatedAt.Before(idle[j].UpdatedAt) })
	if limit > 0 && len(idle) > limit {
		idle = idle[:limit]
	}
	ids := make([]string, len(idle))
	for i, s := range idle {
		ids[i] = s.ID
	}
	return ids, nil
}
