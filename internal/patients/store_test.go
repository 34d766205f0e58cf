package patients

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	pgxmock "github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreUpdates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	p := Patient{Identity: jane, Contact: Contact{Phone: "+15552345678"}}
	require.NoError(t, store.Create(ctx, &p))

	require.NoError(t, store.UpdateContact(ctx, p.ID, Contact{Email: "jane@example.com"}))
	require.NoError(t, store.UpdateInsurance(ctx, p.ID, Insurance{Carrier: "Aetna", MemberID: "W123"}))
	require.NoError(t, store.MarkKnown(ctx, p.ID))

	got, err := store.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "+15552345678", got.Phone, "empty contact fields keep stored values")
	assert.Equal(t, "jane@example.com", got.Email)
	assert.Equal(t, "Aetna", got.Insurance.Carrier)
	assert.True(t, got.Known)

	_, err = store.Get(ctx, uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.MarkKnown(ctx, uuid.New()), ErrNotFound)
}

func TestPostgresStoreFindByIdentity(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := NewPostgresStore(mock)

	id := uuid.New()
	now := time.Now()
	mock.ExpectQuery("SELECT id, first_name, last_name, dob").
		WithArgs("jane", "doe", "1990-02-04").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "first_name", "last_name", "dob", "phone", "email",
			"insurance_carrier", "insurance_member_id", "insurance_group_id", "known", "created_at", "updated_at",
		}).AddRow(id, "Jane", "Doe", time.Date(1990, 2, 4, 0, 0, 0, 0, time.UTC), "+15552345678", "",
			"Aetna", "W123", "", true, now, now))

	got, err := store.FindByIdentity(context.Background(), Identity{FirstName: "Jane ", LastName: "DOE", DateOfBirth: "1990-02-04"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, id, got[0].ID)
	assert.Equal(t, "1990-02-04", got[0].DateOfBirth)
	assert.True(t, got[0].Known)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreCreateAndMarkKnown(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := NewPostgresStore(mock)

	mock.ExpectExec("INSERT INTO patients").
		WithArgs(pgxmock.AnyArg(), "Jane", "Doe", "1990-02-04", "", "", "", "", "", false, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	p := Patient{Identity: jane}
	require.NoError(t, store.Create(context.Background(), &p))
	assert.NotEqual(t, uuid.Nil, p.ID)

	mock.ExpectExec("UPDATE patients SET known = true").
		WithArgs(p.ID).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	require.NoError(t, store.MarkKnown(context.Background(), p.ID))

	missing := uuid.New()
	mock.ExpectExec("UPDATE patients").
		WithArgs(missing, "Aetna", "W1", "").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	err = store.UpdateInsurance(context.Background(), missing, Insurance{Carrier: "Aetna", MemberID: "W1"})
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStoreGetNotFound(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	store := NewPostgresStore(mock)

	id := uuid.New()
	mock.ExpectQuery("FROM patients WHERE id").
		WithArgs(id).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))
	_, err = store.Get(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFound)
}
