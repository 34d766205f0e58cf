package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type dayKey struct {
	doctor string
	date   string
}

// MemoryStore keeps the calendar in process memory. Transactions stage their writes
// and apply them only when fn succeeds.
type MemoryStore struct {
	mu      sync.RWMutex
	txMu    sync.Mutex
	doctors map[string]Doctor
	slots   map[dayKey][]Slot
	appts   map[uuid.UUID]Appointment
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		doctors: make(map[string]Doctor),
		slots:   make(map[dayKey][]Slot),
		appts:   make(map[uuid.UUID]Appointment),
	}
}

func (s *MemoryStore) Doctors(_ context.Context) ([]Doctor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Doctor, 0, len(s.doctors))
	for _, d := range s.doctors {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpsertDoctor(_ context.Context, d Doctor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doctors[d.ID] = d
	return nil
}

func (s *MemoryStore) InsertSlots(_ context.Context, slots []Slot) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	inserted := 0
	for _, slot := range slots {
		key := dayKey{slot.Doctor, slot.Date}
		if indexOfStart(s.slots[key], slot.Start) >= 0 {
			continue
		}
		s.slots[key] = append(s.slots[key], slot)
		inserted++
	}
	for key := range s.slots {
		sortSlots(s.slots[key])
	}
	return inserted, nil
}

func (s *MemoryStore) ListSlots(_ context.Context, doctor, date string) ([]Slot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Slot(nil), s.slots[dayKey{doctor, date}]...), nil
}

func (s *MemoryStore) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

// InTx serializes all memory transactions; the engine's striped lock already
// narrows contention to one doctor/day.
func (s *MemoryStore) InTx(ctx context.Context, doctor, date string, fn func(tx Tx) error) error {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	tx := &memoryTx{
		store: s,
		slots: make(map[dayKey][]Slot),
		appts: make(map[uuid.UUID]Appointment),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, slots := range tx.slots {
		s.slots[key] = slots
	}
	for id, a := range tx.appts {
		s.appts[id] = a
	}
	return nil
}

type memoryTx struct {
	store *MemoryStore
	slots map[dayKey][]Slot
	appts map[uuid.UUID]Appointment
}

func (t *memoryTx) daySlots(doctor, date string) []Slot {
	key := dayKey{doctor, date}
	if staged, ok := t.slots[key]; ok {
		return staged
	}
	t.store.mu.RLock()
	staged := append([]Slot(nil), t.store.slots[key]...)
	t.store.mu.RUnlock()
	t.slots[key] = staged
	return staged
}

func (t *memoryTx) ListSlots(_ context.Context, doctor, date string) ([]Slot, error) {
	return append([]Slot(nil), t.daySlots(doctor, date)...), nil
}

func (t *memoryTx) ListConfirmed(_ context.Context, doctor, date string) ([]Appointment, error) {
	t.store.mu.RLock()
	merged := make(map[uuid.UUID]Appointment, len(t.store.appts))
	for id, a := range t.store.appts {
		merged[id] = a
	}
	t.store.mu.RUnlock()
	for id, a := range t.appts {
		merged[id] = a
	}
	var out []Appointment
	for _, a := range merged {
		if a.Doctor == doctor && a.Date == date && a.Status == StatusConfirmed {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start.Before(out[j].Start) })
	return out, nil
}

func (t *memoryTx) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	if a, ok := t.appts[id]; ok {
		return &a, nil
	}
	return t.store.GetAppointment(ctx, id)
}

func (t *memoryTx) InsertAppointment(_ context.Context, a Appointment) error {
	t.appts[a.ID] = a
	return nil
}

func (t *memoryTx) CancelAppointment(ctx context.Context, id uuid.UUID, at time.Time) error {
	a, err := t.GetAppointment(ctx, id)
	if err != nil {
		return err
	}
	a.Status = StatusCancelled
	a.CancelledAt = &at
	t.appts[id] = *a
	return nil
}

func (t *memoryTx) SetSlotHold(_ context.Context, doctor, date string, start time.Time, available bool, heldBy uuid.UUID) error {
	slots := t.daySlots(doctor, date)
	i := indexOfStart(slots, start)
	if i < 0 {
		return ErrSlotNotFound
	}
	slots[i].Available = available
	slots[i].HeldBy = heldBy
	return nil
}

func indexOfStart(slots []Slot, start time.Time) int {
	for i, s := range slots {
		if s.Start.Equal(start) {
			return i
		}
	}
	return -1
}

func sortSlots(slots []Slot) {
	sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
}
