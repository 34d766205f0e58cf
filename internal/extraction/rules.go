package extraction

import (
	"regexp"
	"strings"
)

const (
	nameWord     = `[\p{L}][\p{L}\p{M}'-]*`
	dateAlt      = `(?:` + datePattern + `)`
	relativeAlt  = `(?:` + relativeDatePattern + `)`
	identAlt     = `[A-Za-z0-9][A-Za-z0-9-]{2,19}`
	meridiemAlt  = `(?:am|pm|a\.m\.|p\.m\.)`
	confirmWords = `yes please|yes|yeah|yep|yup|sure|okay|ok|confirmed|confirm|correct|that's right|sounds good|looks good|book it|no thanks|nope|nah|not quite|no|wrong|incorrect|change it|y|n`
)

// rule is one structural pattern. Capture group i+1 feeds fields[i] unless assign
// overrides the mapping.
type rule struct {
	name       string
	fields     []Field
	pattern    *regexp.Regexp
	confidence float64
	anchored   bool
	assign     func(groups []string, expected fieldSet) map[Field]string
}

func (r rule) values(groups []string, expected fieldSet) map[Field]string {
	if r.assign != nil {
		return r.assign(groups, expected)
	}
	out := make(map[Field]string, len(r.fields))
	for i, f := range r.fields {
		if i+1 < len(groups) && groups[i+1] != "" {
			out[f] = groups[i+1]
		}
	}
	return out
}

func (r rule) wants(expected fieldSet) bool {
	for _, f := range r.fields {
		if expected[f] {
			return true
		}
	}
	return false
}

// defaultRules is ordered per field: anchored forms first, loose forms after.
func defaultRules() []rule {
	return []rule{
		// identity
		{
			name:       "labelled_first_name",
			fields:     []Field{FieldFirstName},
			pattern:    regexp.MustCompile(`(?i)\bfirst name(?:\s+is|:)?\s+(` + nameWord + `)`),
			confidence: 0.95,
			anchored:   true,
		},
		{
			name:       "labelled_last_name",
			fields:     []Field{FieldLastName},
			pattern:    regexp.MustCompile(`(?i)\b(?:last name|surname|family name)(?:\s+is|:)?\s+(` + nameWord + `)`),
			confidence: 0.95,
			anchored:   true,
		},
		{
			name:       "stated_name",
			fields:     []Field{FieldFirstName, FieldLastName},
			pattern:    regexp.MustCompile(`(?i)\b(?:my name is|my name's|my full name is|the name is|call me)\s+(` + nameWord + `)(?:\s+(` + nameWord + `))?`),
			confidence: 0.95,
			anchored:   true,
			assign:     assignIntroducedName,
		},
		{
			name:       "self_introduction",
			fields:     []Field{FieldFirstName, FieldLastName},
			pattern:    regexp.MustCompile(`(?i)\b(?:this is|i'?m|i am)\s+(` + nameWord + `)(?:\s+(` + nameWord + `))?\s*(?:[.,!?;]|$|\s(?:and|here|calling|from)\b)`),
			confidence: 0.8,
			anchored:   true,
			assign:     assignIntroducedName,
		},
		{
			name:       "labelled_dob",
			fields:     []Field{FieldDateOfBirth},
			pattern:    regexp.MustCompile(`(?i)\b(?:dob|d\.o\.b\.?|date of birth|birth ?date|birthday|born(?: on)?)\s*(?:is|:|-)?\s*(` + dateAlt + `)`),
			confidence: 0.95,
			anchored:   true,
		},
		// contact
		{
			name:       "phone_number",
			fields:     []Field{FieldPhone},
			pattern:    regexp.MustCompile(`((?:\+?1[\s.-]?)?(?:\(\d{3}\)|\b\d{3})[\s.-]?\d{3}[\s.-]?\d{4})\b`),
			confidence: 0.9,
			anchored:   true,
		},
		{
			name:       "email_address",
			fields:     []Field{FieldEmail},
			pattern:    regexp.MustCompile(`(?i)\b([a-z0-9._%+-]+@[a-z0-9.-]+\.[a-z]{2,})\b`),
			confidence: 0.95,
			anchored:   true,
		},
		// scheduling
		{
			name:       "titled_doctor",
			fields:     []Field{FieldDoctor},
			pattern:    regexp.MustCompile(`(?i)\b(?:dr\.?|doctor)\s+([a-z][a-z'-]+)`),
			confidence: 0.9,
			anchored:   true,
		},
		{
			name:       "appointment_on_date",
			fields:     []Field{FieldAppointmentDate},
			pattern:    regexp.MustCompile(`(?i)\b(?:appointment|visit|come in|book|schedule|see)\b[^.?!]*?\b(?:on|for)\s+(?:the\s+)?(` + dateAlt + `|` + relativeAlt + `)`),
			confidence: 0.9,
			anchored:   true,
		},
		{
			name:       "relative_date",
			fields:     []Field{FieldAppointmentDate},
			pattern:    regexp.MustCompile(`(?i)\b(` + relativeAlt + `)\b`),
			confidence: 0.75,
			anchored:   true,
		},
		{
			name:       "numbered_option",
			fields:     []Field{FieldSlotChoice},
			pattern:    regexp.MustCompile(`(?i)(?:\b(?:option|slot|choice)\s*#?\s*|(?:^|\s)#)(\d{1,2})\b`),
			confidence: 0.9,
			anchored:   true,
		},
		// insurance
		{
			name:       "known_carrier",
			fields:     []Field{FieldInsuranceCarrier},
			pattern:    regexp.MustCompile(`(?i)\b(` + carrierAlternation() + `)\b`),
			confidence: 0.95,
			anchored:   true,
		},
		{
			name:       "labelled_carrier",
			fields:     []Field{FieldInsuranceCarrier},
			pattern:    regexp.MustCompile(`(?i)\b(?:(?:insurance|carrier)(?:\s+(?:provider|company))?(?:\s+is|:)|insured (?:with|by|through)|covered by)\s+([a-z][a-z&.'-]*(?:\s+[a-z][a-z&.'-]*){0,3})`),
			confidence: 0.8,
			anchored:   true,
			assign:     assignLeadingWords(FieldInsuranceCarrier),
		},
		{
			name:       "labelled_member_id",
			fields:     []Field{FieldMemberID},
			pattern:    regexp.MustCompile(`(?i)\b(?:member|subscriber|policy)\s*(?:id|number|no\.?|#)?\s*(?:is|:|#)?\s*(` + identAlt + `)\b`),
			confidence: 0.95,
			anchored:   true,
		},
		{
			name:       "labelled_group_id",
			fields:     []Field{FieldGroupID},
			pattern:    regexp.MustCompile(`(?i)\bgroup\s*(?:id|number|no\.?|#)?\s*(?:is|:|#)?\s*(` + identAlt + `)\b`),
			confidence: 0.95,
			anchored:   true,
		},

		// loose forms, only for the fields currently being asked for
		{
			name:       "bare_full_name",
			fields:     []Field{FieldFirstName, FieldLastName},
			pattern:    regexp.MustCompile(`^\s*(` + nameWord + `)\s+(` + nameWord + `)\s*(?:[.!,]|$)`),
			confidence: 0.65,
			assign:     assignBareFullName,
		},
		{
			name:       "bare_single_name",
			fields:     []Field{FieldFirstName, FieldLastName},
			pattern:    regexp.MustCompile(`^\s*(` + nameWord + `)\s*[.!]?\s*$`),
			confidence: 0.6,
			assign:     assignBareSingleName,
		},
		{
			name:       "bare_birth_date",
			fields:     []Field{FieldDateOfBirth},
			pattern:    regexp.MustCompile(`(?i)\b(` + dateAlt + `)`),
			confidence: 0.7,
		},
		{
			name:       "bare_doctor",
			fields:     []Field{FieldDoctor},
			pattern:    regexp.MustCompile(`(?i)^\s*([a-z][a-z'-]+)\s*[.!]?\s*$`),
			confidence: 0.6,
		},
		{
			name:       "bare_appointment_date",
			fields:     []Field{FieldAppointmentDate},
			pattern:    regexp.MustCompile(`(?i)\b(` + dateAlt + `)`),
			confidence: 0.7,
		},
		{
			name:       "bare_option_number",
			fields:     []Field{FieldSlotChoice},
			pattern:    regexp.MustCompile(`^\s*#?(\d{1,2})\s*[.!]?\s*$`),
			confidence: 0.7,
		},
		{
			name:       "ordinal_option",
			fields:     []Field{FieldSlotChoice},
			pattern:    regexp.MustCompile(`(?i)^\s*(?:the\s+)?(first|second|third|fourth|fifth|1st|2nd|3rd|4th|5th)\b`),
			confidence: 0.7,
		},
		{
			name:       "clock_time",
			fields:     []Field{FieldSlotChoice},
			pattern:    regexp.MustCompile(`(?i)\b(\d{1,2}:\d{2}\s*` + meridiemAlt + `?|\d{1,2}\s*` + meridiemAlt + `)`),
			confidence: 0.7,
		},
		{
			name:       "bare_carrier",
			fields:     []Field{FieldInsuranceCarrier},
			pattern:    regexp.MustCompile(`(?i)^\s*([a-z][a-z&.'-]*(?:\s+[a-z][a-z&.'-]*){0,3})\s*[.!]?\s*$`),
			confidence: 0.6,
		},
		{
			name:       "bare_member_id",
			fields:     []Field{FieldMemberID},
			pattern:    regexp.MustCompile(`(?i)\b([a-z]{0,4}\d[a-z0-9-]{3,19})\b`),
			confidence: 0.6,
		},
		{
			name:       "yes_no",
			fields:     []Field{FieldConfirm},
			pattern:    regexp.MustCompile(`(?i)^\s*(` + confirmWords + `)\b`),
			confidence: 0.9,
		},
	}
}

func assignIntroducedName(groups []string, _ fieldSet) map[Field]string {
	if _, err := normalizeName(groups[1]); err != nil {
		return nil
	}
	out := map[Field]string{FieldFirstName: groups[1]}
	if groups[2] != "" {
		if _, err := normalizeName(groups[2]); err == nil {
			out[FieldLastName] = groups[2]
		}
	}
	return out
}

func assignBareFullName(groups []string, expected fieldSet) map[Field]string {
	for _, g := range groups[1:3] {
		if _, err := normalizeName(g); err != nil {
			return nil
		}
	}
	if expected[FieldFirstName] {
		return map[Field]string{FieldFirstName: groups[1], FieldLastName: groups[2]}
	}
	return map[Field]string{FieldLastName: groups[2]}
}

func assignBareSingleName(groups []string, expected fieldSet) map[Field]string {
	if expected[FieldFirstName] {
		return map[Field]string{FieldFirstName: groups[1]}
	}
	return map[Field]string{FieldLastName: groups[1]}
}

// assignLeadingWords keeps the words of a free-form capture up to the first
// common word, so "Oscar Health and member id" yields "Oscar Health".
func assignLeadingWords(field Field) func([]string, fieldSet) map[Field]string {
	return func(groups []string, _ fieldSet) map[Field]string {
		var kept []string
		for _, w := range strings.Fields(groups[1]) {
			if isCommonWord(strings.Trim(w, ".,")) {
				break
			}
			kept = append(kept, w)
		}
		if len(kept) == 0 {
			return nil
		}
		return map[Field]string{field: strings.Join(kept, " ")}
	}
}
