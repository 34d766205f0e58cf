package patients

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking-agent/internal/keylock"
	"github.com/wolfman30/clinic-booking-agent/pkg/logging"
)

var patientsTracer = otel.Tracer("clinic.internal.patients")

const (
	DefaultNewPatientDuration       = 60 * time.Minute
	DefaultReturningPatientDuration = 30 * time.Minute
)

// Classification is the classifier's verdict for one identity.
type Classification struct {
	Patient  Patient       `json:"patient"`
	IsNew    bool          `json:"is_new"`
	Duration time.Duration `json:"duration"`
}

// Classifier decides whether an identity is a new or returning patient.
type Classifier struct {
	store     Store
	logger    *logging.Logger
	locks     *keylock.Striped
	newDur    time.Duration
	returnDur time.Duration
}

func NewClassifier(store Store, logger *logging.Logger) *Classifier {
	if store == nil {
		panic("patients: store required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Classifier{
		store:     store,
		logger:    logger,
		locks:     keylock.New(64),
		newDur:    DefaultNewPatientDuration,
		returnDur: DefaultReturningPatientDuration,
	}
}

// WithDurations overrides the new/returning appointment lengths.
func (c *Classifier) WithDurations(newPatient, returning time.Duration) *Classifier {
	if newPatient > 0 {
		c.newDur = newPatient
	}
	if returning > 0 {
		c.returnDur = returning
	}
	return c
}

// Classify looks the identity up and creates an unknown record when none exists.
// A record left by an unfinished session (known=false) is reused and still counts as
// new. More than one match is an *IntegrityError.
func (c *Classifier) Classify(ctx context.Context, identity Identity) (Classification, error) {
	ctx, span := patientsTracer.Start(ctx, "patients.classify")
	defer span.End()

	if !identity.Complete() {
		return Classification{}, ErrIncompleteIdentity
	}

	// Lookup-or-create must not race with another session for the same person.
	unlock := c.locks.Lock(identity.Key())
	defer unlock()

	matches, err := c.store.FindByIdentity(ctx, identity)
	if err != nil {
		span.RecordError(err)
		return Classification{}, fmt.Errorf("patients: classify: %w", err)
	}

	switch len(matches) {
	case 0:
		p := Patient{Identity: Identity{
			FirstName:   identity.FirstName,
			LastName:    identity.LastName,
			DateOfBirth: identity.DateOfBirth,
		}}
		if err := c.store.Create(ctx, &p); err != nil {
			span.RecordError(err)
			return Classification{}, fmt.Errorf("patients: classify: %w", err)
		}
		span.SetAttributes(attribute.String("patient.id", p.ID.String()), attribute.Bool("patient.new", true))
		c.logger.Info("patient record created", "patient_id", p.ID.String())
		return Classification{Patient: p, IsNew: true, Duration: c.newDur}, nil
	case 1:
		p := matches[0]
		span.SetAttributes(attribute.String("patient.id", p.ID.String()), attribute.Bool("patient.new", !p.Known))
		if p.Known {
			return Classification{Patient: p, IsNew: false, Duration: c.returnDur}, nil
		}
		return Classification{Patient: p, IsNew: true, Duration: c.newDur}, nil
	default:
		err := &IntegrityError{Identity: identity, Matches: len(matches), Err: ErrDuplicatePatient}
		span.RecordError(err)
		c.logger.Error("duplicate patient records", "matches", len(matches), "error", err)
		return Classification{}, err
	}
}
