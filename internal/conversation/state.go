// Package conversation drives a booking session through an explicit state table.
package conversation

import "github.com/wolfman30/clinic-booking-agent/internal/extraction"

// State is a node of the booking graph.
type State string

const (
	StateGreeting     State = "greeting"
	StateLookup       State = "lookup"
	StateScheduling   State = "scheduling"
	StateInsurance    State = "insurance"
	StateConfirmation State = "confirmation"
	StateDone         State = "done"
	StateAborted      State = "aborted"
)

// Terminal reports whether no further turns are accepted.
func (s State) Terminal() bool {
	return s == StateDone || s == StateAborted
}

// Outcome labels how a session finished.
type Outcome string

const (
	OutcomeBooked    Outcome = "booked"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeStalled   Outcome = "stalled"
	OutcomeIntegrity Outcome = "integrity_error"
	OutcomeTimeout   Outcome = "timeout"
)

// transition is one row of the table. required gates the side effect; expected adds
// optional fields that loose rules may fill while in the state. anyOf is satisfied by
// a single member.
type transition struct {
	required []extraction.Field
	anyOf    []extraction.Field
	expected []extraction.Field
	next     State
}

// Lookup gates on identity alone so classification happens on the turn the patient
// finishes identifying themselves. Scheduling gates only on the doctor: slot_choice is
// requested by the side effect once options have been offered. Contact details are
// collected with insurance, before the summary.
var transitions = map[State]transition{
	StateGreeting: {
		required: []extraction.Field{extraction.FieldFirstName, extraction.FieldLastName, extraction.FieldDateOfBirth},
		next:     StateLookup,
	},
	StateLookup: {
		required: []extraction.Field{extraction.FieldFirstName, extraction.FieldLastName, extraction.FieldDateOfBirth},
		next:     StateScheduling,
	},
	StateScheduling: {
		required: []extraction.Field{extraction.FieldDoctor},
		expected: []extraction.Field{extraction.FieldAppointmentDate},
		next:     StateInsurance,
	},
	StateInsurance: {
		required: []extraction.Field{extraction.FieldInsuranceCarrier, extraction.FieldMemberID},
		anyOf:    []extraction.Field{extraction.FieldPhone, extraction.FieldEmail},
		expected: []extraction.Field{extraction.FieldGroupID},
		next:     StateConfirmation,
	},
	StateConfirmation: {
		required: []extraction.Field{extraction.FieldConfirm},
		next:     StateDone,
	},
}

// identityFields force re-classification when restated after Lookup.
var identityFields = []extraction.Field{
	extraction.FieldFirstName,
	extraction.FieldLastName,
	extraction.FieldDateOfBirth,
}

// missing returns the unmet required fields of s, in prompt order. An unmet anyOf
// group is reported by its first member.
func (t transition) missing(b Buffer) []extraction.Field {
	var out []extraction.Field
	for _, f := range t.required {
		if !b.Has(f) {
			out = append(out, f)
		}
	}
	if len(t.anyOf) > 0 {
		satisfied := false
		for _, f := range t.anyOf {
			if b.Has(f) {
				satisfied = true
				break
			}
		}
		if !satisfied {
			out = append(out, t.anyOf[0])
		}
	}
	return out
}

// listening is the field set loose rules may fill on this turn: everything missing
// plus the state's optional fields and, once offers exist, the slot choice.
func (t transition) listening(b Buffer, offered bool) []extraction.Field {
	var out []extraction.Field
	for _, f := range t.required {
		if !b.Has(f) {
			out = append(out, f)
		}
	}
	for _, f := range t.anyOf {
		if !b.Has(f) {
			out = append(out, f)
		}
	}
	for _, f := range t.expected {
		if !b.Has(f) {
			out = append(out, f)
		}
	}
	if offered && !b.Has(extraction.FieldSlotChoice) {
		out = append(out, extraction.FieldSlotChoice)
	}
	return out
}
