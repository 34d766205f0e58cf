package conversation

import (
	"encoding/json"

	"github.com/wolfman30/clinic-booking-agent/internal/extraction"
)

// Buffer holds the extracted fields of a session. It is immutable: every mutation
// returns a new Buffer and leaves the receiver untouched.
type Buffer struct {
	fields map[extraction.Field]extraction.Candidate
}

// Get returns the candidate stored for f.
func (b Buffer) Get(f extraction.Field) (extraction.Candidate, bool) {
	c, ok := b.fields[f]
	return c, ok
}

// Value is the stored value for f, or "".
func (b Buffer) Value(f extraction.Field) string {
	return b.fields[f].Value
}

func (b Buffer) Has(f extraction.Field) bool {
	_, ok := b.fields[f]
	return ok
}

func (b Buffer) Len() int { return len(b.fields) }

// With returns a copy with f set to c.
func (b Buffer) With(f extraction.Field, c extraction.Candidate) Buffer {
	next := b.clone()
	next.fields[f] = c
	return next
}

// Without returns a copy with the given fields cleared.
func (b Buffer) Without(fields ...extraction.Field) Buffer {
	removed := false
	for _, f := range fields {
		if b.Has(f) {
			removed = true
			break
		}
	}
	if !removed {
		return b
	}
	next := b.clone()
	for _, f := range fields {
		delete(next.fields, f)
	}
	return next
}

// Equal compares stored values only.
func (b Buffer) Equal(other Buffer) bool {
	if len(b.fields) != len(other.fields) {
		return false
	}
	for f, c := range b.fields {
		o, ok := other.fields[f]
		if !ok || o.Value != c.Value {
			return false
		}
	}
	return true
}

// Values flattens the buffer for display and APIs.
func (b Buffer) Values() map[string]string {
	out := make(map[string]string, len(b.fields))
	for f, c := range b.fields {
		out[string(f)] = c.Value
	}
	return out
}

func (b Buffer) clone() Buffer {
	next := make(map[extraction.Field]extraction.Candidate, len(b.fields)+1)
	for f, c := range b.fields {
		next[f] = c
	}
	return Buffer{fields: next}
}

// Merge folds an extraction result into the buffer. Empty fields take any candidate;
// a filled field is replaced only by an anchored candidate at least as confident as
// the stored one. accept filters fields that must not be taken on this turn. The
// returned slice names the fields whose value changed.
func (b Buffer) Merge(values map[extraction.Field]extraction.Candidate, accept func(extraction.Field) bool) (Buffer, []extraction.Field) {
	next := b
	var changed []extraction.Field
	for _, f := range extraction.AllFields {
		cand, ok := values[f]
		if !ok {
			continue
		}
		if accept != nil && !accept(f) {
			continue
		}
		current, filled := b.fields[f]
		if filled {
			if current.Value == cand.Value {
				continue
			}
			if !cand.Anchored || cand.Confidence < current.Confidence {
				continue
			}
		}
		next = next.With(f, cand)
		changed = append(changed, f)
	}
	return next, changed
}

func (b Buffer) MarshalJSON() ([]byte, error) {
	if b.fields == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(b.fields)
}

func (b *Buffer) UnmarshalJSON(data []byte) error {
	var fields map[extraction.Field]extraction.Candidate
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	b.fields = fields
	return nil
}
