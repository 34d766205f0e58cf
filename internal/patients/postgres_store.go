package patients

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DB abstracts the pgx query interface for testing.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore stores patients in the patients table.
type PostgresStore struct {
	db DB
}

func NewPostgresStore(db DB) *PostgresStore {
	if db == nil {
		panic("patients: db required")
	}
	return &PostgresStore{db: db}
}

const patientColumns = `id, first_name, last_name, dob, phone, email,
	insurance_carrier, insurance_member_id, insurance_group_id, known, created_at, updated_at`

func (s *PostgresStore) FindByIdentity(ctx context.Context, identity Identity) ([]Patient, error) {
	n := identity.Normalized()
	rows, err := s.db.Query(ctx, `
		SELECT `+patientColumns+`
		FROM patients
		WHERE lower(first_name) = $1 AND lower(last_name) = $2 AND dob = $3
		ORDER BY created_at`, n.FirstName, n.LastName, n.DateOfBirth)
	if err != nil {
		return nil, fmt.Errorf("patients: find by identity: %w", err)
	}
	defer rows.Close()
	var out []Patient
	for rows.Next() {
		p, err := scanPatient(rows)
		if err != nil {
			return nil, fmt.Errorf("patients: find by identity: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Create(ctx context.Context, p *Patient) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now
	_, err := s.db.Exec(ctx, `
		INSERT INTO patients (id, first_name, last_name, dob, phone, email,
			insurance_carrier, insurance_member_id, insurance_group_id, known, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		p.ID, p.FirstName, p.LastName, p.DateOfBirth, p.Phone, p.Email,
		p.Insurance.Carrier, p.Insurance.MemberID, p.Insurance.GroupID, p.Known, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("patients: create: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := s.db.QueryRow(ctx, `SELECT `+patientColumns+` FROM patients WHERE id = $1`, id)
	p, err := scanPatient(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("patients: get: %w", err)
	}
	return &p, nil
}

// UpdateContact overwrites only the non-empty contact fields.
func (s *PostgresStore) UpdateContact(ctx context.Context, id uuid.UUID, contact Contact) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE patients
		SET phone = COALESCE(NULLIF($2, ''), phone),
			email = COALESCE(NULLIF($3, ''), email),
			updated_at = now()
		WHERE id = $1`, id, contact.Phone, contact.Email)
	return affected(tag, err, "update contact")
}

func (s *PostgresStore) UpdateInsurance(ctx context.Context, id uuid.UUID, ins Insurance) error {
	tag, err := s.db.Exec(ctx, `
		UPDATE patients
		SET insurance_carrier = $2, insurance_member_id = $3, insurance_group_id = $4, updated_at = now()
		WHERE id = $1`, id, ins.Carrier, ins.MemberID, ins.GroupID)
	return affected(tag, err, "update insurance")
}

func (s *PostgresStore) MarkKnown(ctx context.Context, id uuid.UUID) error {
	tag, err := s.db.Exec(ctx, `UPDATE patients SET known = true, updated_at = now() WHERE id = $1`, id)
	return affected(tag, err, "mark known")
}

func affected(tag pgconn.CommandTag, err error, op string) error {
	if err != nil {
		return fmt.Errorf("patients: %s: %w", op, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("patients: %s: %w", op, ErrNotFound)
	}
	return nil
}

func scanPatient(row pgx.Row) (Patient, error) {
	var p Patient
	var dob time.Time
	err := row.Scan(
		&p.ID, &p.FirstName, &p.LastName, &dob, &p.Phone, &p.Email,
		&p.Insurance.Carrier, &p.Insurance.MemberID, &p.Insurance.GroupID,
		&p.Known, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return Patient{}, err
	}
	p.DateOfBirth = dob.Format("2006-01-02")
	return p, nil
}
