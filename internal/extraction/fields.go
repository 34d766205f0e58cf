// Package extraction pulls structured booking fields out of free-text turns.
package extraction

import "fmt"

// Field names a slot in the conversation buffer.
type Field string

const (
	FieldFirstName        Field = "first_name"
	FieldLastName         Field = "last_name"
	FieldDateOfBirth      Field = "date_of_birth"
	FieldPhone            Field = "phone"
	FieldEmail            Field = "email"
	FieldDoctor           Field = "doctor"
	FieldAppointmentDate  Field = "appointment_date"
	FieldSlotChoice       Field = "slot_choice"
	FieldInsuranceCarrier Field = "insurance_carrier"
	FieldMemberID         Field = "member_id"
	FieldGroupID          Field = "group_id"
	FieldConfirm          Field = "confirm"
)

// AllFields lists every field in prompt order.
var AllFields = []Field{
	FieldFirstName,
	FieldLastName,
	FieldDateOfBirth,
	FieldPhone,
	FieldEmail,
	FieldDoctor,
	FieldAppointmentDate,
	FieldSlotChoice,
	FieldInsuranceCarrier,
	FieldMemberID,
	FieldGroupID,
	FieldConfirm,
}

// Label is the human wording used in prompts.
func (f Field) Label() string {
	switch f {
	case FieldFirstName:
		return "first name"
	case FieldLastName:
		return "last name"
	case FieldDateOfBirth:
		return "date of birth"
	case FieldPhone:
		return "phone number"
	case FieldEmail:
		return "email address"
	case FieldDoctor:
		return "doctor"
	case FieldAppointmentDate:
		return "appointment date"
	case FieldSlotChoice:
		return "time slot"
	case FieldInsuranceCarrier:
		return "insurance carrier"
	case FieldMemberID:
		return "member ID"
	case FieldGroupID:
		return "group ID"
	case FieldConfirm:
		return "confirmation"
	default:
		return string(f)
	}
}

// Candidate is one extracted value.
type Candidate struct {
	Value      string  `json:"value"`
	Confidence float64 `json:"confidence"`
	Rule       string  `json:"rule"`
	// Anchored is true when the value came from explicit phrasing or a distinctive format.
	Anchored bool `json:"anchored"`
}

// ValidationError reports a structural match that failed a plausibility check.
type ValidationError struct {
	Field  Field
	Value  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("extraction: %s %q: %s", e.Field, e.Value, e.Reason)
}

// Result is the outcome of one extraction pass.
type Result struct {
	Values   map[Field]Candidate
	Rejected map[Field]*ValidationError
}

func newResult() Result {
	return Result{
		Values:   make(map[Field]Candidate),
		Rejected: make(map[Field]*ValidationError),
	}
}

// Has reports whether a value was extracted for f.
func (r Result) Has(f Field) bool {
	_, ok := r.Values[f]
	return ok
}

// Empty reports whether nothing was extracted or rejected.
func (r Result) Empty() bool {
	return len(r.Values) == 0 && len(r.Rejected) == 0
}

type fieldSet map[Field]bool

func newFieldSet(fields []Field) fieldSet {
	set := make(fieldSet, len(fields))
	for _, f := range fields {
		set[f] = true
	}
	return set
}
