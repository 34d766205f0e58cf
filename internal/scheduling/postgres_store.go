package scheduling

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx pool for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
}

// querier is satisfied by both the pool and a pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore keeps the calendar in doctors, doctor_slots and appointments.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	if db == nil {
		panic("scheduling: db required")
	}
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Doctors(ctx context.Context) ([]Doctor, error) {
	rows, err := s.db.Query(ctx, `SELECT id, display_name, specialty, location FROM doctors ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("scheduling: list doctors: %w", err)
	}
	defer rows.Close()
	var out []Doctor
	for rows.Next() {
		var d Doctor
		if err := rows.Scan(&d.ID, &d.DisplayName, &d.Specialty, &d.Location); err != nil {
			return nil, fmt.Errorf("scheduling: scan doctor: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *PostgresStore) UpsertDoctor(ctx context.Context, d Doctor) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO doctors (id, display_name, specialty, location)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE
		SET display_name = EXCLUDED.display_name, specialty = EXCLUDED.specialty, location = EXCLUDED.location`,
		d.ID, d.DisplayName, d.Specialty, d.Location)
	if err != nil {
		return fmt.Errorf("scheduling: upsert doctor: %w", err)
	}
	return nil
}

func (s *PostgresStore) InsertSlots(ctx context.Context, slots []Slot) (int, error) {
	inserted := 0
	for _, slot := range slots {
		tag, err := s.db.Exec(ctx, `
			INSERT INTO doctor_slots (doctor, date, start_time, duration_minutes, available)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (doctor, date, start_time) DO NOTHING`,
			slot.Doctor, slot.Date, slot.Start, int(slot.Duration/time.Minute), slot.Available)
		if err != nil {
			return inserted, fmt.Errorf("scheduling: insert slots: %w", err)
		}
		inserted += int(tag.RowsAffected())
	}
	return inserted, nil
}

func (s *PostgresStore) ListSlots(ctx context.Context, doctor, date string) ([]Slot, error) {
	return listSlots(ctx, s.db, doctor, date, false)
}

func (s *PostgresStore) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return getAppointment(ctx, s.db, id)
}

// InTx opens a transaction and takes a transaction-scoped advisory lock on the
// doctor/day before running fn, so concurrent API instances serialize too.
func (s *PostgresStore) InTx(ctx context.Context, doctor, date string, fn func(tx Tx) error) (err error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("scheduling: begin: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, doctor+"|"+date); err != nil {
		return fmt.Errorf("scheduling: advisory lock: %w", err)
	}
	if err = fn(&postgresTx{q: tx}); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("scheduling: commit: %w", err)
	}
	return nil
}

type postgresTx struct {
	q querier
}

func (t *postgresTx) ListSlots(ctx context.Context, doctor, date string) ([]Slot, error) {
	return listSlots(ctx, t.q, doctor, date, true)
}

func (t *postgresTx) ListConfirmed(ctx context.Context, doctor, date string) ([]Appointment, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE doctor = $1 AND date = $2 AND status = 'confirmed'
		ORDER BY start_time`, doctor, date)
	if err != nil {
		return nil, fmt.Errorf("scheduling: list confirmed: %w", err)
	}
	defer rows.Close()
	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, fmt.Errorf("scheduling: list confirmed: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (t *postgresTx) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return getAppointment(ctx, t.q, id)
}

func (t *postgresTx) InsertAppointment(ctx context.Context, a Appointment) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO appointments (id, patient_id, doctor, date, start_time, duration_minutes, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.PatientID, a.Doctor, a.Date, a.Start, int(a.Duration/time.Minute), string(a.Status), a.CreatedAt)
	if err != nil {
		return fmt.Errorf("scheduling: insert appointment: %w", err)
	}
	return nil
}

func (t *postgresTx) CancelAppointment(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := t.q.Exec(ctx, `
		UPDATE appointments SET status = 'cancelled', cancelled_at = $2
		WHERE id = $1 AND status = 'confirmed'`, id, at)
	if err != nil {
		return fmt.Errorf("scheduling: cancel appointment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrAppointmentNotFound
	}
	return nil
}

func (t *postgresTx) SetSlotHold(ctx context.Context, doctor, date string, start time.Time, available bool, heldBy uuid.UUID) error {
	var held any
	if heldBy != uuid.Nil {
		held = heldBy
	}
	tag, err := t.q.Exec(ctx, `
		UPDATE doctor_slots SET available = $4, held_by = $5
		WHERE doctor = $1 AND date = $2 AND start_time = $3`,
		doctor, date, start, available, held)
	if err != nil {
		return fmt.Errorf("scheduling: update slot: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrSlotNotFound
	}
	return nil
}

func listSlots(ctx context.Context, q querier, doctor, date string, forUpdate bool) ([]Slot, error) {
	sql := `
		SELECT doctor, date, start_time, duration_minutes, available, held_by
		FROM doctor_slots
		WHERE doctor = $1 AND date = $2
		ORDER BY start_time`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	rows, err := q.Query(ctx, sql, doctor, date)
	if err != nil {
		return nil, fmt.Errorf("scheduling: list slots: %w", err)
	}
	defer rows.Close()
	var out []Slot
	for rows.Next() {
		var (
			slot    Slot
			day     time.Time
			minutes int
			heldBy  *uuid.UUID
		)
		if err := rows.Scan(&slot.Doctor, &day, &slot.Start, &minutes, &slot.Available, &heldBy); err != nil {
			return nil, fmt.Errorf("scheduling: scan slot: %w", err)
		}
		slot.Date = day.Format(DateLayout)
		slot.Duration = time.Duration(minutes) * time.Minute
		if heldBy != nil {
			slot.HeldBy = *heldBy
		}
		out = append(out, slot)
	}
	return out, rows.Err()
}

const appointmentColumns = `id, patient_id, doctor, date, start_time, duration_minutes, status, created_at, cancelled_at`

func getAppointment(ctx context.Context, q querier, id uuid.UUID) (*Appointment, error) {
	row := q.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	a, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAppointmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scheduling: get appointment: %w", err)
	}
	return &a, nil
}

func scanAppointment(row pgx.Row) (Appointment, error) {
	var (
		a       Appointment
		day     time.Time
		minutes int
		status  string
	)
	if err := row.Scan(&a.ID, &a.PatientID, &a.Doctor, &day, &a.Start, &minutes, &status, &a.CreatedAt, &a.CancelledAt); err != nil {
		return Appointment{}, err
	}
	a.Date = day.Format(DateLayout)
	a.Duration = time.Duration(minutes) * time.Minute
	a.Status = AppointmentStatus(status)
	return a, nil
}
