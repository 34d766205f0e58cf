package reminders

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type taskKey struct {
	appointment uuid.UUID
	tier        Tier
}

// MemoryStore keeps tasks in process. Used in development and tests.
type MemoryStore struct {
	mu    sync.Mutex
	tasks map[uuid.UUID]*Task
	keys  map[taskKey]uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[uuid.UUID]*Task),
		keys:  make(map[taskKey]uuid.UUID),
	}
}

func (s *MemoryStore) Insert(_ context.Context, tasks []Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range tasks {
		key := taskKey{t.AppointmentID, t.Tier}
		if _, ok := s.keys[key]; ok {
			continue
		}
		cp := t
		s.tasks[t.ID] = &cp
		s.keys[key] = t.ID
	}
	return nil
}

func (s *MemoryStore) ListForAppointment(_ context.Context, appointmentID uuid.UUID) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Task
	for _, t := range s.tasks {
		if t.AppointmentID == appointmentID {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Tier < out[j].Tier })
	return out, nil
}

func (s *MemoryStore) Lease(_ context.Context, now, until time.Time, limit int) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []*Task
	for _, t := range s.tasks {
		if t.Status == StatusPending && !t.FireAt.After(now) && !t.NextAttemptAt.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].FireAt.Before(due[j].FireAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	out := make([]Task, 0, len(due))
	for _, t := range due {
		t.NextAttemptAt = until
		t.UpdatedAt = now
		out = append(out, *t)
	}
	return out, nil
}

func (s *MemoryStore) update(id uuid.UUID, fn func(t *Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	fn(t)
	return nil
}

// updatePending applies fn only while the task is still pending.
func (s *MemoryStore) updatePending(id uuid.UUID, fn func(t *Task)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return ErrNotFound
	}
	if t.Status != StatusPending {
		return ErrNotPending
	}
	fn(t)
	return nil
}

func (s *MemoryStore) MarkSent(_ context.Context, id uuid.UUID, at time.Time) error {
	return s.updatePending(id, func(t *Task) {
		t.Status = StatusSent
		t.Attempts++
		t.LastError = ""
		t.UpdatedAt = at
	})
}

func (s *MemoryStore) MarkRetry(_ context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error {
	return s.updatePending(id, func(t *Task) {
		t.Attempts = attempts
		t.NextAttemptAt = next
		t.LastError = lastErr
	})
}

func (s *MemoryStore) MarkFailed(_ context.Context, id uuid.UUID, attempts int, lastErr string) error {
	return s.updatePending(id, func(t *Task) {
		t.Status = StatusFailed
		t.Attempts = attempts
		t.LastError = lastErr
	})
}

func (s *MemoryStore) CancelTask(_ context.Context, id uuid.UUID, reason string) error {
	return s.update(id, func(t *Task) {
		if t.Status == StatusPending {
			t.Status = StatusCancelled
			t.LastError = reason
		}
	})
}

func (s *MemoryStore) CancelForAppointment(_ context.Context, appointmentID uuid.UUID) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, t := range s.tasks {
		if t.AppointmentID == appointmentID && t.Status == StatusPending {
			t.Status = StatusCancelled
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListFailed(_ context.Context, limit int) ([]Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Task
	for _, t := range s.tasks {
		if t.Status == StatusFailed {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt.Before(out[j].FireAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
