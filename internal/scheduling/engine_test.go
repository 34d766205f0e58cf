package scheduling

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wolfman30/clinic-booking-agent/internal/observability/metrics"
)

// Monday 2 March 2026, before opening.
var testNow = time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)

const tuesday = "2026-03-03"

func at(hour, minute int) time.Time {
	return time.Date(2026, time.March, 3, hour, minute, 0, 0, time.UTC)
}

func newTestEngine(t *testing.T) (*Engine, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	engine := NewEngine(store, nil).
		WithClock(func() time.Time { return testNow }).
		WithMetrics(metrics.NewBookingMetrics(prometheus.NewRegistry()))
	_, err := engine.Seed(context.Background(), DefaultDoctors([]string{"smith", "chen"}), testNow, 7)
	require.NoError(t, err)
	return engine, store
}

func book(t *testing.T, e *Engine, start time.Time, d time.Duration) (Appointment, error) {
	t.Helper()
	return e.Book(context.Background(), BookRequest{
		PatientID: uuid.New(),
		Doctor:    "smith",
		Date:      tuesday,
		Start:     start,
		Duration:  d,
	})
}

func startsOf(slots []Slot) []string {
	out := make([]string, 0, len(slots))
	for _, s := range slots {
		out = append(out, s.Start.Format("15:04"))
	}
	return out
}

func TestAvailableSlotsOrdered(t *testing.T) {
	e, _ := newTestEngine(t)
	slots, err := e.AvailableSlots(context.Background(), "smith", tuesday)
	require.NoError(t, err)
	require.Len(t, slots, 14)
	for i := 1; i < len(slots); i++ {
		assert.True(t, slots[i-1].Start.Before(slots[i].Start))
	}
	assert.Equal(t, "09:00", slots[0].Start.Format("15:04"))
	assert.Equal(t, "16:30", slots[len(slots)-1].Start.Format("15:04"))
}

func TestBookNewPatientHoldsBufferedRange(t *testing.T) {
	e, store := newTestEngine(t)

	appt, err := book(t, e, at(9, 0), 60*time.Minute)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, appt.Status)
	assert.Equal(t, 60*time.Minute, appt.Duration)

	slots, err := e.AvailableSlots(context.Background(), "smith", tuesday)
	require.NoError(t, err)
	assert.Equal(t, "10:30", slots[0].Start.Format("15:04"))

	all, _ := store.ListSlots(context.Background(), "smith", tuesday)
	for _, s := range all[:3] {
		assert.False(t, s.Available)
		assert.Equal(t, appt.ID, s.HeldBy)
	}
	assert.True(t, all[3].Available)
}

func TestBookRepeatedRequestConflicts(t *testing.T) {
	e, _ := newTestEngine(t)
	patient := uuid.New()
	req := BookRequest{PatientID: patient, Doctor: "smith", Date: tuesday, Start: at(13, 0), Duration: 30 * time.Minute}

	_, err := e.Book(context.Background(), req)
	require.NoError(t, err)

	_, err = e.Book(context.Background(), req)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.True(t, errors.Is(err, ErrConflict))
	assert.Equal(t, "smith", conflict.Doctor)
}

func TestBookRespectsBuffer(t *testing.T) {
	e, _ := newTestEngine(t)
	_, err := book(t, e, at(9, 0), 60*time.Minute)
	require.NoError(t, err)

	_, err = book(t, e, at(10, 0), 30*time.Minute)
	assert.ErrorIs(t, err, ErrConflict)

	_, err = book(t, e, at(10, 30), 30*time.Minute)
	assert.NoError(t, err)
}

func TestBookRejectsOverlapEvenWhenSlotsLookFree(t *testing.T) {
	e, store := newTestEngine(t)
	existing := Appointment{
		ID: uuid.New(), PatientID: uuid.New(), Doctor: "smith", Date: tuesday,
		Start: at(14, 0), Duration: 30 * time.Minute, Status: StatusConfirmed,
	}
	// Insert without holding any slot, as a manual import might.
	require.NoError(t, store.InTx(context.Background(), "smith", tuesday, func(tx Tx) error {
		return tx.InsertAppointment(context.Background(), existing)
	}))

	_, err := book(t, e, at(14, 30), 30*time.Minute)
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Contains(t, conflict.Reason, "too close")

	_, err = book(t, e, at(15, 0), 30*time.Minute)
	assert.NoError(t, err)
}

func TestBookErrors(t *testing.T) {
	e, _ := newTestEngine(t)

	_, err := book(t, e, at(8, 0), 30*time.Minute)
	assert.ErrorIs(t, err, ErrSlotNotFound)

	_, err = book(t, e, at(11, 30), 60*time.Minute)
	assert.ErrorIs(t, err, ErrConflict, "range crossing the lunch gap")

	_, err = book(t, e, at(9, 0), 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, err = e.Book(context.Background(), BookRequest{PatientID: uuid.New(), Doctor: "smith", Date: "03/03/2026", Start: at(9, 0), Duration: time.Hour})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestBookRejectsPastStart(t *testing.T) {
	e, _ := newTestEngine(t)
	e.WithClock(func() time.Time { return at(12, 0) })

	_, err := book(t, e, at(9, 0), 30*time.Minute)
	assert.ErrorIs(t, err, ErrInvalidRequest)
	assert.NotErrorIs(t, err, ErrConflict)

	slots, err := e.AvailableSlots(context.Background(), "smith", tuesday)
	require.NoError(t, err)
	assert.Contains(t, startsOf(slots), "09:00", "rejected request must not hold anything")

	_, err = book(t, e, at(12, 0), 30*time.Minute)
	assert.NoError(t, err, "a start equal to now is still bookable")
}

func TestNoTwoConfirmedAppointmentsOverlap(t *testing.T) {
	e, store := newTestEngine(t)
	durations := []time.Duration{30 * time.Minute, 60 * time.Minute}
	for h := 9; h < 17; h++ {
		for _, m := range []int{0, 30} {
			for _, d := range durations {
				_, _ = book(t, e, at(h, m), d)
			}
		}
	}

	var confirmed []Appointment
	require.NoError(t, store.InTx(context.Background(), "smith", tuesday, func(tx Tx) error {
		var err error
		confirmed, err = tx.ListConfirmed(context.Background(), "smith", tuesday)
		return err
	}))
	require.NotEmpty(t, confirmed)
	for i := range confirmed {
		for j := i + 1; j < len(confirmed); j++ {
			a, b := confirmed[i], confirmed[j]
			assert.False(t, overlapsBuffered(a.Start, a.End(), b.Start, b.End(), DefaultBuffer),
				"%s and %s overlap", a.Start.Format("15:04"), b.Start.Format("15:04"))
		}
	}
}

func TestConcurrentBookingRace(t *testing.T) {
	e, _ := newTestEngine(t)

	const racers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
	)
	start := make(chan struct{})
	for i := 0; i < racers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := book(t, e, at(10, 0), 30*time.Minute)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, racers-1, conflicts)
}

func TestCancelReleasesSlots(t *testing.T) {
	e, store := newTestEngine(t)
	appt, err := book(t, e, at(9, 0), 60*time.Minute)
	require.NoError(t, err)

	require.NoError(t, e.Cancel(context.Background(), appt.ID))
	require.NoError(t, e.Cancel(context.Background(), appt.ID), "second cancel is a no-op")

	got, err := e.GetAppointment(context.Background(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
	assert.NotNil(t, got.CancelledAt)

	all, _ := store.ListSlots(context.Background(), "smith", tuesday)
	for _, s := range all {
		assert.True(t, s.Available, s.Start.Format("15:04"))
		assert.Equal(t, uuid.Nil, s.HeldBy)
	}

	_, err = book(t, e, at(9, 0), 60*time.Minute)
	assert.NoError(t, err, "freed slot is bookable again")
}

func TestCancelHandsSharedSlotToNeighbour(t *testing.T) {
	e, store := newTestEngine(t)
	first, err := book(t, e, at(9, 0), 30*time.Minute)
	require.NoError(t, err)
	second, err := book(t, e, at(10, 0), 30*time.Minute)
	require.NoError(t, err)

	require.NoError(t, e.Cancel(context.Background(), first.ID))

	all, _ := store.ListSlots(context.Background(), "smith", tuesday)
	byStart := map[string]Slot{}
	for _, s := range all {
		byStart[s.Start.Format("15:04")] = s
	}
	assert.True(t, byStart["09:00"].Available)
	assert.False(t, byStart["09:30"].Available, "still inside the neighbour's buffer")
	assert.Equal(t, second.ID, byStart["09:30"].HeldBy)
	assert.False(t, byStart["10:00"].Available)
}

func TestCancelUnknownAppointment(t *testing.T) {
	e, _ := newTestEngine(t)
	assert.ErrorIs(t, e.Cancel(context.Background(), uuid.New()), ErrAppointmentNotFound)
}

func TestAvailableStartsFitsDuration(t *testing.T) {
	e, _ := newTestEngine(t)
	starts, err := e.AvailableStarts(context.Background(), "smith", tuesday, 60*time.Minute)
	require.NoError(t, err)
	got := startsOf(starts)
	assert.NotContains(t, got, "11:30")
	assert.NotContains(t, got, "16:30")
	assert.Contains(t, got, "09:00")
	assert.Contains(t, got, "16:00")

	_, err = e.AvailableStarts(context.Background(), "smith", tuesday, 0)
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestAvailableStartsSkipsPastTimes(t *testing.T) {
	e, _ := newTestEngine(t)
	e.WithClock(func() time.Time { return at(12, 0) })
	starts, err := e.AvailableStarts(context.Background(), "smith", tuesday, 30*time.Minute)
	require.NoError(t, err)
	require.NotEmpty(t, starts)
	assert.Equal(t, "13:00", starts[0].Start.Format("15:04"))
}

func TestFindOpenings(t *testing.T) {
	e, _ := newTestEngine(t)
	date, starts, err := e.FindOpenings(context.Background(), "chen", "2026-02-28", 7, 30*time.Minute, 3)
	require.NoError(t, err)
	assert.Equal(t, "2026-03-02", date)
	assert.Equal(t, []string{"09:00", "09:30", "10:00"}, startsOf(starts))

	date, starts, err = e.FindOpenings(context.Background(), "nobody", "2026-03-02", 3, 30*time.Minute, 3)
	require.NoError(t, err)
	assert.Empty(t, date)
	assert.Empty(t, starts)
}

func TestResolveDoctor(t *testing.T) {
	e, _ := newTestEngine(t)
	for _, name := range []string{"smith", "SMITH", "Dr. Smith", "anna smith", "Dr. Anna Smith"} {
		d, err := e.ResolveDoctor(context.Background(), name)
		require.NoError(t, err, name)
		assert.Equal(t, "smith", d.ID)
	}
	_, err := e.ResolveDoctor(context.Background(), "watson")
	assert.ErrorIs(t, err, ErrUnknownDoctor)
	_, err = e.ResolveDoctor(context.Background(), " ")
	assert.ErrorIs(t, err, ErrUnknownDoctor)
}

func TestOverlapsBuffered(t *testing.T) {
	tests := []struct {
		name   string
		s1, e1 time.Time
		s2, e2 time.Time
		want   bool
	}{
		{"identical", at(9, 0), at(9, 30), at(9, 0), at(9, 30), true},
		{"back to back", at(9, 0), at(9, 30), at(9, 30), at(10, 0), true},
		{"inside buffer", at(9, 0), at(9, 30), at(9, 40), at(10, 0), true},
		{"exactly buffer apart", at(9, 0), at(9, 30), at(9, 45), at(10, 15), false},
		{"far apart", at(9, 0), at(9, 30), at(13, 0), at(13, 30), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, overlapsBuffered(tt.s1, tt.e1, tt.s2, tt.e2, 15*time.Minute))
			assert.Equal(t, tt.want, overlapsBuffered(tt.s2, tt.e2, tt.s1, tt.e1, 15*time.Minute))
		})
	}
}
