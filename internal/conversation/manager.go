package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-booking-agent/internal/keylock"
	"github.com/wolfman30/clinic-booking-agent/pkg/logging"
)

const (
	defaultIdleTimeout   = 30 * time.Minute
	defaultReapInterval  = time.Minute
	defaultReapBatchSize = 100
)

// Manager owns session persistence and serializes turns per session. Timeouts and
// cancellations take the same lock, so they never interleave with a booking. The lock
// is per process; across instances the store's version check rejects the later save.
type Manager struct {
	orchestrator *Orchestrator
	store        SessionStore
	locks        *keylock.Striped
	logger       *logging.Logger
	idleTimeout  time.Duration
	interval     time.Duration
	now          func() time.Time
}

func NewManager(orchestrator *Orchestrator, store SessionStore, logger *logging.Logger) *Manager {
	if orchestrator == nil {
		panic("conversation: orchestrator cannot be nil")
	}
	if store == nil {
		store = NewMemorySessionStore()
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Manager{
		orchestrator: orchestrator,
		store:        store,
		locks:        keylock.New(0),
		logger:       logger,
		idleTimeout:  defaultIdleTimeout,
		interval:     defaultReapInterval,
		now:          time.Now,
	}
}

// WithIdleTimeout sets how long a session may sit without a turn.
func (m *Manager) WithIdleTimeout(d time.Duration) *Manager {
	if d > 0 {
		m.idleTimeout = d
	}
	return m
}

func (m *Manager) WithReapInterval(d time.Duration) *Manager {
	if d > 0 {
		m.interval = d
	}
	return m
}

func (m *Manager) WithClock(now func() time.Time) *Manager {
	if now != nil {
		m.now = now
	}
	return m
}

// Start creates and stores a session.
func (m *Manager) Start(ctx context.Context) (Session, Reply, error) {
	s, reply := m.orchestrator.Start(uuid.NewString())
	if err := m.store.Save(ctx, s); err != nil {
		return Session{}, Reply{}, err
	}
	m.logger.Info("session started", "session_id", s.ID)
	return s, reply, nil
}

// Get returns the stored session.
func (m *Manager) Get(ctx context.Context, id string) (Session, error) {
	return m.store.Get(ctx, id)
}

// Turn applies one patient message under the session lock.
func (m *Manager) Turn(ctx context.Context, id, text string) (Session, Reply, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	s, err := m.store.Get(ctx, id)
	if err != nil {
		return Session{}, Reply{}, err
	}
	next, reply, err := m.orchestrator.Advance(ctx, s, text)
	if err != nil {
		return s, reply, err
	}
	next.Version = s.Version + 1
	if err := m.store.Save(ctx, next); err != nil {
		if errors.Is(err, ErrSessionConflict) {
			m.discard(ctx, s, next)
		}
		return s, Reply{}, err
	}
	return next, reply, nil
}

// discard releases the appointment a lost turn reserved, so it does not linger
// unconfirmed. Confirmed bookings are left alone.
func (m *Manager) discard(ctx context.Context, prev, next Session) {
	m.logger.Warn("session changed concurrently, discarding turn", "session_id", next.ID, "state", string(next.State))
	if next.Hold == nil || next.State == StateDone {
		return
	}
	if prev.Hold != nil && prev.Hold.AppointmentID == next.Hold.AppointmentID {
		return
	}
	if err := m.orchestrator.releaseHold(ctx, &next); err != nil {
		m.logger.Error("failed to release hold of discarded turn", "session_id", next.ID, "error", err)
	}
}

// Cancel aborts the session on the patient's behalf.
func (m *Manager) Cancel(ctx context.Context, id string) (Session, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	s, err := m.store.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	next, err := m.orchestrator.Abort(ctx, s, OutcomeCancelled)
	if err != nil {
		return s, fmt.Errorf("conversation: cancel: %w", err)
	}
	next.Version = s.Version + 1
	if err := m.store.Save(ctx, next); err != nil {
		return s, err
	}
	return next, nil
}

// Run reaps idle sessions until ctx is cancelled.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	m.logger.Info("session reaper started", "idle_timeout", m.idleTimeout.String())
	for {
		select {
		case <-ctx.Done():
			m.logger.Info("session reaper stopped")
			return
		case <-ticker.C:
			if _, err := m.Reap(ctx); err != nil {
				m.logger.Error("session reap failed", "error", err)
			}
		}
	}
}

// Reap aborts and deletes every session idle beyond the timeout. Terminal sessions
// are deleted without further work. It returns how many sessions were removed.
func (m *Manager) Reap(ctx context.Context) (int, error) {
	cutoff := m.now().Add(-m.idleTimeout)
	ids, err := m.store.Idle(ctx, cutoff, defaultReapBatchSize)
	if err != nil {
		return 0, fmt.Errorf("conversation: reap: %w", err)
	}
	removed := 0
	for _, id := range ids {
		ok, err := m.reapOne(ctx, id, cutoff)
		if err != nil {
			m.logger.Error("failed to reap session", "session_id", id, "error", err)
			continue
		}
		if ok {
			removed++
		}
	}
	return removed, nil
}

func (m *Manager) reapOne(ctx context.Context, id string, cutoff time.Time) (bool, error) {
	unlock := m.locks.Lock(id)
	defer unlock()

	s, err := m.store.Get(ctx, id)
	if errors.Is(err, ErrSessionNotFound) {
		return false, m.store.Delete(ctx, id)
	}
	if err != nil {
		return false, err
	}
	// A turn may have landed between listing and locking.
	if !s.UpdatedAt.Before(cutoff) {
		return false, nil
	}
	if !s.State.Terminal() {
		if _, err := m.orchestrator.Abort(ctx, s, OutcomeTimeout); err != nil {
			return false, err
		}
		m.logger.Info("idle session timed out", "session_id", id, "state", string(s.State))
	}
	if err := m.store.Delete(ctx, id); err != nil {
		return false, err
	}
	return true, nil
}
