package extraction

import (
	"errors"
	"strings"
	"time"
)

// Extractor runs the ordered rule table against a turn.
type Extractor struct {
	rules   []rule
	now     func() time.Time
	loc     *time.Location
	doctors map[string]bool
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithClock overrides the clock used for date plausibility and relative dates.
func WithClock(now func() time.Time) Option {
	return func(e *Extractor) {
		if now != nil {
			e.now = now
		}
	}
}

// WithLocation sets the clinic time zone.
func WithLocation(loc *time.Location) Option {
	return func(e *Extractor) {
		if loc != nil {
			e.loc = loc
		}
	}
}

// WithDoctors restricts doctor values to the given identifiers (case-insensitive).
func WithDoctors(names ...string) Option {
	return func(e *Extractor) {
		for _, n := range names {
			n = strings.ToLower(strings.TrimSpace(n))
			if n != "" {
				e.doctors[n] = true
			}
		}
	}
}

// NewExtractor builds an Extractor with the default rule table.
func NewExtractor(opts ...Option) *Extractor {
	e := &Extractor{
		rules:   defaultRules(),
		now:     time.Now,
		loc:     time.UTC,
		doctors: make(map[string]bool),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract applies the rules to text. Anchored rules run for every field; loose rules
// only for the expected ones. The first structural match decides a field: a value
// that fails plausibility lands in Rejected and later rules do not retry it.
func (e *Extractor) Extract(text string, expected []Field) Result {
	res := newResult()
	text = nameTextNormalizer.Replace(text)
	if strings.TrimSpace(text) == "" {
		return res
	}
	want := newFieldSet(expected)
	for _, r := range e.rules {
		if !r.anchored && !r.wants(want) {
			continue
		}
		if res.decidedAll(r.fields) {
			continue
		}
		for _, m := range r.pattern.FindAllStringSubmatch(text, -1) {
			if e.apply(&res, r, r.values(m, want), want) {
				break
			}
		}
	}
	return res
}

// Validate normalizes a value produced outside the rule table (e.g. by an
// Interpreter) with the same plausibility checks.
func (e *Extractor) Validate(field Field, raw string) (string, error) {
	v, err := e.normalize(field, raw)
	if errors.Is(err, errNoise) {
		return "", invalid(field, raw, "not a usable value")
	}
	return v, err
}

func (e *Extractor) apply(res *Result, r rule, raw map[Field]string, want fieldSet) bool {
	matched := false
	for field, value := range raw {
		if !r.anchored && !want[field] {
			continue
		}
		if res.decided(field) {
			continue
		}
		norm, err := e.normalize(field, value)
		if errors.Is(err, errNoise) {
			continue
		}
		matched = true
		var verr *ValidationError
		if errors.As(err, &verr) {
			res.Rejected[field] = verr
			continue
		}
		res.Values[field] = Candidate{
			Value:      norm,
			Confidence: r.confidence,
			Rule:       r.name,
			Anchored:   r.anchored,
		}
	}
	return matched
}

func (r Result) decided(f Field) bool {
	if _, ok := r.Values[f]; ok {
		return true
	}
	_, ok := r.Rejected[f]
	return ok
}

func (r Result) decidedAll(fields []Field) bool {
	for _, f := range fields {
		if !r.decided(f) {
			return false
		}
	}
	return true
}
