package patients

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var jane = Identity{FirstName: "Jane", LastName: "Doe", DateOfBirth: "1990-02-04"}

func TestClassifyCreatesUnknownNewPatient(t *testing.T) {
	store := NewMemoryStore()
	c := NewClassifier(store, nil)

	res, err := c.Classify(context.Background(), jane)
	require.NoError(t, err)
	assert.True(t, res.IsNew)
	assert.Equal(t, 60*time.Minute, res.Duration)
	assert.False(t, res.Patient.Known)

	stored, err := store.FindByIdentity(context.Background(), jane)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, res.Patient.ID, stored[0].ID)
}

func TestClassifyReusesUnfinishedRecord(t *testing.T) {
	store := NewMemoryStore()
	c := NewClassifier(store, nil)

	first, err := c.Classify(context.Background(), jane)
	require.NoError(t, err)

	again, err := c.Classify(context.Background(), Identity{FirstName: " JANE ", LastName: "doe", DateOfBirth: "1990-02-04"})
	require.NoError(t, err)
	assert.True(t, again.IsNew)
	assert.Equal(t, first.Patient.ID, again.Patient.ID)

	all, _ := store.FindByIdentity(context.Background(), jane)
	assert.Len(t, all, 1)
}

func TestClassifyReturningPatient(t *testing.T) {
	store := NewMemoryStore()
	c := NewClassifier(store, nil).WithDurations(45*time.Minute, 20*time.Minute)

	first, err := c.Classify(context.Background(), jane)
	require.NoError(t, err)
	require.NoError(t, store.MarkKnown(context.Background(), first.Patient.ID))

	res, err := c.Classify(context.Background(), jane)
	require.NoError(t, err)
	assert.False(t, res.IsNew)
	assert.Equal(t, 20*time.Minute, res.Duration)
}

func TestClassifyDuplicateIsIntegrityError(t *testing.T) {
	store := NewMemoryStore()
	for i := 0; i < 2; i++ {
		p := Patient{Identity: jane}
		require.NoError(t, store.Create(context.Background(), &p))
	}
	c := NewClassifier(store, nil)

	_, err := c.Classify(context.Background(), jane)
	var ierr *IntegrityError
	require.ErrorAs(t, err, &ierr)
	assert.Equal(t, 2, ierr.Matches)
	assert.True(t, errors.Is(err, ErrDuplicatePatient))
}

func TestClassifyIncompleteIdentity(t *testing.T) {
	c := NewClassifier(NewMemoryStore(), nil)
	_, err := c.Classify(context.Background(), Identity{FirstName: "Jane"})
	assert.ErrorIs(t, err, ErrIncompleteIdentity)
}

func TestClassifyConcurrentSameIdentityCreatesOneRecord(t *testing.T) {
	store := NewMemoryStore()
	c := NewClassifier(store, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Classify(context.Background(), jane)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	all, _ := store.FindByIdentity(context.Background(), jane)
	assert.Len(t, all, 1)
}

type failingStore struct{ Store }

func (failingStore) FindByIdentity(context.Context, Identity) ([]Patient, error) {
	return nil, errors.New("db down")
}

func TestClassifyStoreError(t *testing.T) {
	c := NewClassifier(failingStore{NewMemoryStore()}, nil)
	_, err := c.Classify(context.Background(), jane)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "patients: classify")
}
