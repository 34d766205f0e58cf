package extraction

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

// maxAgeYears bounds a plausible date of birth.
const maxAgeYears = 130

// errNoise marks a structural match that is clearly not a value (e.g. "I'm looking").
// The rule is treated as not matching rather than rejecting the field.
var errNoise = errors.New("noise")

var (
	digitsOnlyRE  = regexp.MustCompile(`\D`)
	emailValueRE  = regexp.MustCompile(`(?i)^[a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,}$`)
	identifierRE  = regexp.MustCompile(`^[A-Z0-9][A-Z0-9-]{2,19}$`)
	clockChoiceRE = regexp.MustCompile(`(?i)^(\d{1,2})(?::(\d{2}))?\s*(am|pm|a\.m\.|p\.m\.)?$`)
	indexChoiceRE = regexp.MustCompile(`^#?(\d{1,2})$`)
)

var nameTextNormalizer = strings.NewReplacer(
	"’", "'",
	"‘", "'",
	"′", "'",
)

// normalize validates raw and returns the canonical buffer encoding for field.
func (e *Extractor) normalize(field Field, raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", errNoise
	}
	switch field {
	case FieldFirstName, FieldLastName:
		return normalizeName(raw)
	case FieldDateOfBirth:
		return e.normalizeBirthDate(raw)
	case FieldAppointmentDate:
		return e.normalizeAppointmentDate(raw)
	case FieldPhone:
		return normalizePhone(raw)
	case FieldEmail:
		v := strings.ToLower(strings.Trim(raw, ".,;"))
		if !emailValueRE.MatchString(v) {
			return "", invalid(field, raw, "not an email address")
		}
		return v, nil
	case FieldDoctor:
		return e.normalizeDoctor(raw)
	case FieldSlotChoice:
		return normalizeSlotChoice(raw)
	case FieldInsuranceCarrier:
		return normalizeCarrier(raw)
	case FieldMemberID, FieldGroupID:
		v := strings.ToUpper(strings.Trim(raw, ".,;:#"))
		if !identifierRE.MatchString(v) || !strings.ContainsAny(v, "0123456789") {
			return "", invalid(field, raw, "identifier must be 3-20 letters or digits")
		}
		return v, nil
	case FieldConfirm:
		return normalizeConfirm(raw)
	default:
		return "", invalid(field, raw, "unknown field")
	}
}

func invalid(field Field, value, reason string) *ValidationError {
	return &ValidationError{Field: field, Value: value, Reason: reason}
}

func normalizeName(raw string) (string, error) {
	word := strings.Trim(nameTextNormalizer.Replace(raw), ".,!?\"()[]{}'-")
	count := utf8.RuneCountInString(word)
	if count < 2 || count > 30 {
		return "", errNoise
	}
	first, _ := utf8.DecodeRuneInString(word)
	if !unicode.IsLetter(first) || isCommonWord(word) {
		return "", errNoise
	}
	return capitalizeNameWord(word), nil
}

func capitalizeNameWord(word string) string {
	parts := strings.Split(strings.ToLower(word), "-")
	for i, p := range parts {
		r, size := utf8.DecodeRuneInString(p)
		if size == 0 {
			continue
		}
		parts[i] = string(unicode.ToUpper(r)) + p[size:]
	}
	return strings.Join(parts, "-")
}

func (e *Extractor) normalizeBirthDate(raw string) (string, error) {
	t, err := ParseDate(raw, e.loc)
	if err != nil {
		return "", invalid(FieldDateOfBirth, raw, err.Error())
	}
	now := e.now().In(e.loc)
	if t.After(now) {
		return "", invalid(FieldDateOfBirth, raw, "date of birth is in the future")
	}
	if t.Before(now.AddDate(-maxAgeYears, 0, 0)) {
		return "", invalid(FieldDateOfBirth, raw, "date of birth is more than 130 years ago")
	}
	return t.Format(DateLayout), nil
}

func (e *Extractor) normalizeAppointmentDate(raw string) (string, error) {
	now := e.now().In(e.loc)
	t, ok := ResolveRelativeDate(raw, now)
	if !ok {
		var err error
		t, err = ParseDate(raw, e.loc)
		if err != nil {
			return "", invalid(FieldAppointmentDate, raw, err.Error())
		}
	}
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, e.loc)
	if t.Before(today) {
		return "", invalid(FieldAppointmentDate, raw, "appointment date is in the past")
	}
	return t.Format(DateLayout), nil
}

// normalizePhone accepts 10-digit NANP numbers (optionally prefixed with 1) and
// returns E.164.
func normalizePhone(raw string) (string, error) {
	digits := digitsOnlyRE.ReplaceAllString(raw, "")
	if len(digits) == 11 && digits[0] == '1' {
		digits = digits[1:]
	}
	if len(digits) != 10 {
		return "", invalid(FieldPhone, raw, "phone number must have 10 digits")
	}
	if digits[0] < '2' || digits[3] < '2' {
		return "", invalid(FieldPhone, raw, "not a valid North American number")
	}
	return "+1" + digits, nil
}

func (e *Extractor) normalizeDoctor(raw string) (string, error) {
	name := strings.ToLower(strings.Trim(raw, ".,!?'\" "))
	name = strings.TrimPrefix(name, "dr. ")
	name = strings.TrimPrefix(name, "dr ")
	name = strings.TrimPrefix(name, "doctor ")
	if name == "" || isCommonWord(name) {
		return "", errNoise
	}
	if len(e.doctors) == 0 {
		return name, nil
	}
	if e.doctors[name] {
		return name, nil
	}
	return "", invalid(FieldDoctor, raw, "no doctor by that name")
}

// normalizeSlotChoice yields "#N" for an option index or "HH:MM" for a clock time.
func normalizeSlotChoice(raw string) (string, error) {
	s := strings.ToLower(strings.Trim(raw, ".,!? "))
	if n, ok := ordinalWords[s]; ok {
		return "#" + strconv.Itoa(n), nil
	}
	if m := indexChoiceRE.FindStringSubmatch(s); m != nil {
		n := atoi(m[1])
		if n < 1 {
			return "", invalid(FieldSlotChoice, raw, "option numbers start at 1")
		}
		return "#" + strconv.Itoa(n), nil
	}
	m := clockChoiceRE.FindStringSubmatch(s)
	if m == nil {
		return "", invalid(FieldSlotChoice, raw, "not an option number or time")
	}
	hour, minute := atoi(m[1]), 0
	if m[2] != "" {
		minute = atoi(m[2])
	}
	switch strings.ReplaceAll(m[3], ".", "") {
	case "pm":
		if hour < 12 {
			hour += 12
		}
	case "am":
		if hour == 12 {
			hour = 0
		}
	default:
		// Clinic hours: a bare 1-6 means afternoon.
		if hour >= 1 && hour <= 6 {
			hour += 12
		}
	}
	if hour > 23 || minute > 59 {
		return "", invalid(FieldSlotChoice, raw, "not a valid time of day")
	}
	return fmt.Sprintf("%02d:%02d", hour, minute), nil
}

var ordinalWords = map[string]int{
	"first": 1, "1st": 1, "the first": 1, "first one": 1, "the first one": 1,
	"second": 2, "2nd": 2, "the second": 2, "second one": 2, "the second one": 2,
	"third": 3, "3rd": 3, "the third": 3, "third one": 3, "the third one": 3,
	"fourth": 4, "4th": 4, "the fourth": 4, "fourth one": 4, "the fourth one": 4,
	"fifth": 5, "5th": 5, "the fifth": 5, "fifth one": 5, "the fifth one": 5,
}

// carrierAliases maps lower-case mentions to canonical carrier names, longest first.
var carrierAliases = []struct {
	alias string
	name  string
}{
	{"blue cross blue shield", "Blue Cross Blue Shield"},
	{"blue cross", "Blue Cross Blue Shield"},
	{"blue shield", "Blue Cross Blue Shield"},
	{"bcbs", "Blue Cross Blue Shield"},
	{"unitedhealthcare", "UnitedHealthcare"},
	{"united healthcare", "UnitedHealthcare"},
	{"united health", "UnitedHealthcare"},
	{"unitedhealth", "UnitedHealthcare"},
	{"uhc", "UnitedHealthcare"},
	{"kaiser permanente", "Kaiser Permanente"},
	{"kaiser", "Kaiser Permanente"},
	{"aetna", "Aetna"},
	{"cigna", "Cigna"},
	{"humana", "Humana"},
	{"anthem", "Anthem"},
	{"molina", "Molina Healthcare"},
	{"centene", "Centene"},
	{"wellcare", "WellCare"},
	{"medicare", "Medicare"},
	{"medicaid", "Medicaid"},
}

func carrierAlternation() string {
	parts := make([]string, 0, len(carrierAliases))
	for _, c := range carrierAliases {
		parts = append(parts, regexp.QuoteMeta(c.alias))
	}
	return strings.Join(parts, "|")
}

func normalizeCarrier(raw string) (string, error) {
	s := strings.ToLower(strings.Trim(raw, ".,!?'\" "))
	for _, c := range carrierAliases {
		if s == c.alias || strings.HasPrefix(s, c.alias+" ") {
			return c.name, nil
		}
	}
	if utf8.RuneCountInString(s) < 3 || isCommonWord(s) {
		return "", errNoise
	}
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = capitalizeNameWord(w)
	}
	return strings.Join(words, " "), nil
}

var (
	affirmatives = map[string]bool{
		"yes": true, "y": true, "yeah": true, "yep": true, "yup": true, "sure": true, "ok": true,
		"okay": true, "confirm": true, "confirmed": true, "correct": true, "that's right": true,
		"sounds good": true, "looks good": true, "book it": true, "yes please": true,
	}
	negatives = map[string]bool{
		"no": true, "n": true, "nope": true, "nah": true, "not quite": true, "wrong": true,
		"incorrect": true, "change it": true, "no thanks": true,
	}
)

func normalizeConfirm(raw string) (string, error) {
	s := strings.ToLower(strings.Trim(raw, ".,!? "))
	switch {
	case affirmatives[s]:
		return "yes", nil
	case negatives[s]:
		return "no", nil
	}
	return "", errNoise
}

// isCommonWord checks if a word is a common English word that shouldn't be treated as a name
func isCommonWord(word string) bool {
	return commonWords[strings.ToLower(word)]
}

var commonWords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "her": true,
	"was": true, "one": true, "our": true, "out": true, "day": true,
	"had": true, "has": true, "his": true, "how": true, "its": true,
	"may": true, "new": true, "now": true, "old": true, "see": true,
	"way": true, "who": true, "did": true, "get": true,
	"let": true, "put": true, "say": true, "she": true, "too": true,
	"use": true, "yes": true, "no": true, "hi": true, "hey": true, "hello": true,
	"thanks": true, "thank": true, "please": true, "ok": true, "okay": true,
	"sure": true, "good": true, "great": true, "fine": true, "well": true,
	"just": true, "like": true, "want": true, "need": true, "have": true,
	"interested": true, "looking": true, "book": true, "booking": true, "appointment": true,
	"morning": true, "afternoon": true, "evening": true, "today": true, "tomorrow": true,
	"available": true, "schedule": true, "scheduling": true, "time": true,
	"existing": true, "returning": true, "patient": true, "calling": true, "trying": true,
	"in": true, "on": true, "at": true, "to": true, "of": true, "is": true, "it": true,
	"an": true, "as": true, "be": true, "by": true, "do": true, "if": true, "or": true,
	"so": true, "up": true, "we": true, "me": true, "my": true, "he": true,
	"about": true, "with": true, "from": true, "this": true, "that": true, "what": true,
	"when": true, "your": true, "some": true, "been": true, "were": true, "them": true,
	"then": true, "than": true, "also": true, "very": true, "more": true, "much": true,
	"here": true, "there": true, "where": true, "which": true, "their": true,
	"would": true, "could": true, "should": true, "will": true, "going": true,
	"doctor": true, "dr": true, "name": true, "dob": true, "born": true, "insurance": true,
	"member": true, "group": true, "id": true, "phone": true, "email": true, "number": true,
	"cancel": true, "stop": true, "quit": true, "exit": true, "sorry": true, "again": true,
	"free": true, "busy": true, "ready": true, "happy": true, "glad": true, "back": true,
	"done": true, "hoping": true, "wondering": true, "unavailable": true, "off": true,
	"away": true, "afraid": true, "sick": true, "late": true, "early": true, "open": true,
	"flexible": true, "still": true, "really": true, "actually": true, "currently": true,
	"only": true, "covered": true, "insured": true, "a": true, "i": true, "here's": true, "that's": true, "it's": true,
}
