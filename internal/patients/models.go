// Package patients is the simulated EMR: patient records and new/returning
// classification.
package patients

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when no patient has the requested id.
	ErrNotFound = errors.New("patients: not found")
	// ErrDuplicatePatient means an identity matched more than one record.
	ErrDuplicatePatient = errors.New("patients: identity matches more than one record")
	// ErrIncompleteIdentity is returned when a name or date of birth is missing.
	ErrIncompleteIdentity = errors.New("patients: identity requires first name, last name and date of birth")
)

// IntegrityError reports stored data that cannot be resolved without an operator.
type IntegrityError struct {
	Identity Identity
	Matches  int
	Err      error
}

func (e *IntegrityError) Error() string {
	return fmt.Sprintf("patients: integrity: %d records for %s %s (%s): %v",
		e.Matches, e.Identity.FirstName, e.Identity.LastName, e.Identity.DateOfBirth, e.Err)
}

func (e *IntegrityError) Unwrap() error { return e.Err }

// Identity is the exact-match key for a patient. DateOfBirth is YYYY-MM-DD.
type Identity struct {
	FirstName   string `json:"first_name"`
	LastName    string `json:"last_name"`
	DateOfBirth string `json:"date_of_birth"`
}

// Normalized lower-cases and trims the name parts.
func (i Identity) Normalized() Identity {
	return Identity{
		FirstName:   strings.ToLower(strings.TrimSpace(i.FirstName)),
		LastName:    strings.ToLower(strings.TrimSpace(i.LastName)),
		DateOfBirth: strings.TrimSpace(i.DateOfBirth),
	}
}

// Complete reports whether every identity part is present.
func (i Identity) Complete() bool {
	n := i.Normalized()
	return n.FirstName != "" && n.LastName != "" && n.DateOfBirth != ""
}

// Key is a stable string for locking and map lookups.
func (i Identity) Key() string {
	n := i.Normalized()
	return n.FirstName + "|" + n.LastName + "|" + n.DateOfBirth
}

// Contact holds reachability details; either may be empty.
type Contact struct {
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
}

// Insurance is the structured insurance record.
type Insurance struct {
	Carrier  string `json:"carrier,omitempty"`
	MemberID string `json:"member_id,omitempty"`
	GroupID  string `json:"group_id,omitempty"`
}

// Empty reports whether no insurance detail is on file.
func (i Insurance) Empty() bool {
	return i.Carrier == "" && i.MemberID == "" && i.GroupID == ""
}

// Patient is one EMR record. Identity never changes after creation.
type Patient struct {
	ID uuid.UUID `json:"id"`
	Identity
	Contact
	Insurance Insurance `json:"insurance"`
	// Known flips to true on the first confirmed booking.
	Known     bool      `json:"known"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// FullName joins the stored first and last name.
func (p Patient) FullName() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}
