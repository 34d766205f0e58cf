package patients

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store persists patient records.
type Store interface {
	FindByIdentity(ctx context.Context, identity Identity) ([]Patient, error)
	Create(ctx context.Context, p *Patient) error
	Get(ctx context.Context, id uuid.UUID) (*Patient, error)
	UpdateContact(ctx context.Context, id uuid.UUID, contact Contact) error
	UpdateInsurance(ctx context.Context, id uuid.UUID, ins Insurance) error
	MarkKnown(ctx context.Context, id uuid.UUID) error
}

// MemoryStore keeps patients in process memory.
type MemoryStore struct {
	mu       sync.RWMutex
	patients map[uuid.UUID]Patient
	now      func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		patients: make(map[uuid.UUID]Patient),
		now:      time.Now,
	}
}

func (s *MemoryStore) FindByIdentity(_ context.Context, identity Identity) ([]Patient, error) {
	key := identity.Key()
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Patient
	for _, p := range s.patients {
		if p.Identity.Key() == key {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *MemoryStore) Create(_ context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := s.now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	s.mu.Lock()
	defer s.mu.Unlock()
	s.patients[p.ID] = *p
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id uuid.UUID) (*Patient, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.patients[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (s *MemoryStore) UpdateContact(_ context.Context, id uuid.UUID, contact Contact) error {
	return s.update(id, func(p *Patient) {
		if contact.Phone != "" {
			p.Phone = contact.Phone
		}
		if contact.Email != "" {
			p.Email = contact.Email
		}
	})
}

func (s *MemoryStore) UpdateInsurance(_ context.Context, id uuid.UUID, ins Insurance) error {
	return s.update(id, func(p *Patient) { p.Insurance = ins })
}

func (s *MemoryStore) MarkKnown(_ context.Context, id uuid.UUID) error {
	return s.update(id, func(p *Patient) { p.Known = true })
}

func (s *MemoryStore) update(id uuid.UUID, fn func(*Patient)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.patients[id]
	if !ok {
		return ErrNotFound
	}
	fn(&p)
	p.UpdatedAt = s.now().UTC()
	s.patients[id] = p
	return nil
}
