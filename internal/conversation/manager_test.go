package conversation

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking-agent/internal/scheduling"
)

func TestManagerTurnPersistsSession(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := NewManager(h.orch, NewMemorySessionStore(), nil)

	s, reply, err := m.Start(ctx)
	require.NoError(t, err)
	assert.Equal(t, StateGreeting, reply.State)
	assert.Contains(t, reply.Text, "Riverside Clinic")

	_, reply, err = m.Turn(ctx, s.ID, janeDoeLine)
	require.NoError(t, err)
	assert.Equal(t, StateScheduling, reply.State)

	stored, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateScheduling, stored.State)
	assert.True(t, stored.Classified())
	assert.Equal(t, 1, stored.Turns)
	assert.Equal(t, 1, stored.Version)
	require.Len(t, stored.History, 1)
	assert.Equal(t, StateScheduling, stored.History[0].State)

	_, _, err = m.Turn(ctx, "missing", "hello")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestManagerSerializesTurns(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := NewManager(h.orch, NewMemorySessionStore(), nil)
	s, _, err := m.Start(ctx)
	require.NoError(t, err)
	_, _, err = m.Turn(ctx, s.ID, "My name is Jane Doe")
	require.NoError(t, err)

	// Four stalling turns stay below the abort threshold; every one must be counted.
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := m.Turn(ctx, s.ID, "hmm")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, 5, stored.Turns)
	assert.Equal(t, 4, stored.Stalls)
	assert.Len(t, stored.History, 5)
	assert.Equal(t, 5, stored.Version)
}

// racingStore lets another writer save the session between a turn's read and write.
type racingStore struct {
	SessionStore
	race bool
}

func (r *racingStore) Get(ctx context.Context, id string) (Session, error) {
	s, err := r.SessionStore.Get(ctx, id)
	if err != nil || !r.race {
		return s, err
	}
	r.race = false
	other := s
	other.Version++
	return s, r.SessionStore.Save(ctx, other)
}

func TestManagerRejectsConcurrentWriter(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	store := &racingStore{SessionStore: NewMemorySessionStore()}
	m := NewManager(h.orch, store, nil)

	s, _, err := m.Start(ctx)
	require.NoError(t, err)
	_, _, err = m.Turn(ctx, s.ID, janeDoeLine)
	require.NoError(t, err)
	free, err := h.engine.AvailableSlots(ctx, "smith", "2026-03-02")
	require.NoError(t, err)

	store.race = true
	_, _, err = m.Turn(ctx, s.ID, "option 1")
	require.ErrorIs(t, err, ErrSessionConflict)

	stored, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.Hold)
	assert.Len(t, stored.History, 1)
	after, err := h.engine.AvailableSlots(ctx, "smith", "2026-03-02")
	require.NoError(t, err)
	assert.Len(t, after, len(free))
}

func TestManagerCancel(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	m := NewManager(h.orch, NewMemorySessionStore(), nil)
	s, _, err := m.Start(ctx)
	require.NoError(t, err)
	for _, line := range []string{janeDoeLine, "(415) 555-2671, book for 2026-03-05", "option 1"} {
		_, _, err = m.Turn(ctx, s.ID, line)
		require.NoError(t, err)
	}
	held, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, held.Hold)

	cancelled, err := m.Cancel(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, StateAborted, cancelled.State)

	appt, err := h.engine.GetAppointment(ctx, held.Hold.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.StatusCancelled, appt.Status)

	_, _, err = m.Turn(ctx, s.ID, "hello")
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestReaperTimesOutIdleSessions(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	store := NewMemorySessionStore()
	now := testNow
	m := NewManager(h.orch, store, nil).
		WithIdleTimeout(30 * time.Minute).
		WithClock(func() time.Time { return now })

	idle, _, err := m.Start(ctx)
	require.NoError(t, err)
	for _, line := range []string{janeDoeLine, "(415) 555-2671, book for 2026-03-05", "option 1"} {
		_, _, err = m.Turn(ctx, idle.ID, line)
		require.NoError(t, err)
	}
	held, err := m.Get(ctx, idle.ID)
	require.NoError(t, err)
	require.NotNil(t, held.Hold)

	fresh := NewSession("fresh", testNow.Add(40*time.Minute))
	require.NoError(t, store.Save(ctx, fresh))

	now = testNow.Add(31 * time.Minute)
	removed, err := m.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = m.Get(ctx, idle.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	_, err = m.Get(ctx, "fresh")
	assert.NoError(t, err)

	appt, err := h.engine.GetAppointment(ctx, held.Hold.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.StatusCancelled, appt.Status)
}

func TestReaperKeepsConfirmedAppointments(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	store := NewMemorySessionStore()
	now := testNow
	m := NewManager(h.orch, store, nil).WithClock(func() time.Time { return now })

	s, _, err := m.Start(ctx)
	require.NoError(t, err)
	for _, line := range []string{janeDoeLine, "(415) 555-2671, book for 2026-03-05", "option 1", "Aetna member ID ABC12345", "yes"} {
		_, _, err = m.Turn(ctx, s.ID, line)
		require.NoError(t, err)
	}
	done, err := m.Get(ctx, s.ID)
	require.NoError(t, err)
	require.Equal(t, StateDone, done.State)

	now = testNow.Add(2 * time.Hour)
	removed, err := m.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	appt, err := h.engine.GetAppointment(ctx, done.Hold.AppointmentID)
	require.NoError(t, err)
	assert.Equal(t, scheduling.StatusConfirmed, appt.Status)
}
