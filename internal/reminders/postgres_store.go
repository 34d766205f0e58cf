package reminders

import (
	"context"
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
}

// PostgresStore persists tasks in reminder_tasks.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	if db == nil {
		panic("reminders: db required")
	}
	return &PostgresStore{db: db}
}

const taskColumns = `id, appointment_id, tier, fire_at, status, attempts, next_attempt_at, last_error,
	patient_name, email, phone, doctor_name, location, appointment_start, created_at, updated_at`

func (s *PostgresStore) Insert(ctx context.Context, tasks []Task) error {
	for _, t := range tasks {
		_, err := s.db.Exec(ctx, `
			INSERT INTO reminder_tasks (id, appointment_id, tier, fire_at, status, attempts, next_attempt_at,
				last_error, patient_name, email, phone, doctor_name, location, appointment_start, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $9, $10, $11, $12, $13, $14, $14)
			ON CONFLICT (appointment_id, tier) DO NOTHING`,
			t.ID, t.AppointmentID, int(t.Tier), t.FireAt, string(t.Status), t.NextAttemptAt, t.LastError,
			t.PatientName, t.Email, t.Phone, t.DoctorName, t.Location, t.AppointmentStart, t.CreatedAt)
		if err != nil {
			return fmt.Errorf("reminders: insert task: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) ListForAppointment(ctx context.Context, appointmentID uuid.UUID) ([]Task, error) {
	rows, err := s.db.Query(ctx, `SELECT `+taskColumns+` FROM reminder_tasks WHERE appointment_id = $1 ORDER BY tier`, appointmentID)
	if err != nil {
		return nil, fmt.Errorf("reminders: list tasks: %w", err)
	}
	return collectTasks(rows)
}

// Lease claims due rows with SKIP LOCKED so parallel workers never share a task.
func (s *PostgresStore) Lease(ctx context.Context, now, until time.Time, limit int) ([]Task, error) {
	rows, err := s.db.Query(ctx, `
		UPDATE reminder_tasks
		SET next_attempt_at = $2, updated_at = $1
		WHERE id IN (
			SELECT id FROM reminder_tasks
			WHERE status = 'pending' AND fire_at <= $1 AND next_attempt_at <= $1
			ORDER BY fire_at
			LIMIT $3
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+taskColumns, now, until, limit)
	if err != nil {
		return nil, fmt.Errorf("reminders: lease: %w", err)
	}
	return collectTasks(rows)
}

func (s *PostgresStore) MarkSent(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.exec(ctx, "mark sent", `
		UPDATE reminder_tasks SET status = 'sent', attempts = attempts + 1, last_error = '', updated_at = $2
		WHERE id = $1 AND status = 'pending'`, id, at)
}

func (s *PostgresStore) MarkRetry(ctx context.Context, id uuid.UUID, attempts int, next time.Time, lastErr string) error {
	return s.exec(ctx, "mark retry", `
		UPDATE reminder_tasks SET attempts = $2, next_attempt_at = $3, last_error = $4, updated_at = now()
		WHERE id = $1 AND status = 'pending'`, id, attempts, next, lastErr)
}

func (s *PostgresStore) MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string) error {
	return s.exec(ctx, "mark failed", `
		UPDATE reminder_tasks SET status = 'failed', attempts = $2, last_error = $3, updated_at = now()
		WHERE id = $1 AND status = 'pending'`, id, attempts, lastErr)
}

func (s *PostgresStore) CancelTask(ctx context.Context, id uuid.UUID, reason string) error {
	_, err := s.db.Exec(ctx, `
		UPDATE reminder_tasks SET status = 'cancelled', last_error = $2, updated_at = now()
		WHERE id = $1 AND status = 'pending'`, id, reason)
	if err != nil {
		return fmt.Errorf("reminders: cancel task: %w", err)
	}
	return nil
}

func (s *PostgresStore) CancelForAppointment(ctx context.Context, appointmentID uuid.UUID) (int, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE reminder_tasks SET status = 'cancelled', updated_at = now()
		WHERE appointment_id = $1 AND status = 'pending'`, appointmentID)
	if err != nil {
		return 0, fmt.Errorf("reminders: cancel for appointment: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) ListFailed(ctx context.Context, limit int) ([]Task, error) {
	rows, err := s.db.Query(ctx, `SELECT `+taskColumns+` FROM reminder_tasks WHERE status = 'failed' ORDER BY fire_at LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("reminders: list failed: %w", err)
	}
	return collectTasks(rows)
}

// exec runs a pending-only update. No affected row means the task is gone or was
// cancelled or settled meanwhile; both report ErrNotPending.
func (s *PostgresStore) exec(ctx context.Context, op, sql string, args ...any) error {
	tag, err := s.db.Exec(ctx, sql, args...)
	if err != nil {
		return fmt.Errorf("reminders: %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotPending
	}
	return nil
}

func collectTasks(rows pgx.Rows) ([]Task, error) {
	defer rows.Close()
	var out []Task
	for rows.Next() {
		var (
			t      Task
			tier   int
			status string
		)
		if err := rows.Scan(&t.ID, &t.AppointmentID, &tier, &t.FireAt, &status, &t.Attempts, &t.NextAttemptAt,
			&t.LastError, &t.PatientName, &t.Email, &t.Phone, &t.DoctorName, &t.Location,
			&t.AppointmentStart, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("reminders: scan task: %w", err)
		}
		t.Tier = Tier(tier)
		t.Status = Status(status)
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reminders: rows: %w", err)
	}
	return out, nil
}

var _ Store = (*PostgresStore)(nil)
