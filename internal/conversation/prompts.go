package conversation

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/wolfman30/clinic-booking-agent/internal/extraction"
)

var (
	cancelOnly   = regexp.MustCompile(`(?i)^\s*(?:oh\s+|please\s+|actually,?\s+)?(?:cancel|stop|quit|exit|never\s*mind|forget\s+it)(?:\s+(?:it|this|that|everything|please|the\s+booking|my\s+booking|the\s+appointment))*\s*[.!]*\s*$`)
	cancelIntent = regexp.MustCompile(`(?i)\b(?:cancel|stop)\s+(?:this|the|my)\s+(?:booking|appointment|request)\b|\bi\s*(?:want|would\s+like|'d\s+like)\s+to\s+(?:cancel|stop|quit)\b`)
)

// isCancellation reports an explicit request to abandon the booking.
func isCancellation(text string) bool {
	return cancelOnly.MatchString(text) || cancelIntent.MatchString(text)
}

// turn collects the reply of one Advance call.
type turn struct {
	notes  []string
	prompt string
}

func (t *turn) note(s string) {
	if s != "" {
		t.notes = append(t.notes, s)
	}
}

func (t *turn) text() string {
	parts := append([]string(nil), t.notes...)
	if t.prompt != "" {
		parts = append(parts, t.prompt)
	}
	return strings.Join(parts, " ")
}

// prompt asks for the first missing field of the current state.
func (o *Orchestrator) prompt(ctx context.Context, s Session, f extraction.Field) string {
	switch f {
	case extraction.FieldFirstName:
		if !s.Buffer.Has(extraction.FieldLastName) {
			return "May I have your first and last name?"
		}
		return "What's your first name?"
	case extraction.FieldLastName:
		return "And your last name?"
	case extraction.FieldDateOfBirth:
		return "What's your date of birth? For example 1990-02-04."
	case extraction.FieldPhone, extraction.FieldEmail:
		return "What's the best phone number or email address to reach you?"
	case extraction.FieldDoctor:
		return o.doctorPrompt(ctx)
	case extraction.FieldInsuranceCarrier:
		return "Which insurance carrier do you have?"
	case extraction.FieldMemberID:
		return "What's the member ID on your insurance card?"
	case extraction.FieldConfirm:
		return o.summary(s)
	default:
		return fmt.Sprintf("Could you tell me your %s?", f.Label())
	}
}

func (o *Orchestrator) doctorPrompt(ctx context.Context) string {
	docs, err := o.deps.Calendar.Doctors(ctx)
	if err != nil || len(docs) == 0 {
		if err != nil {
			o.logger.Warn("listing doctors for prompt failed", "error", err)
		}
		return "Which doctor would you like to see?"
	}
	names := make([]string, 0, len(docs))
	for _, d := range docs {
		if d.Specialty != "" {
			names = append(names, fmt.Sprintf("%s (%s)", d.DisplayName, d.Specialty))
			continue
		}
		names = append(names, d.DisplayName)
	}
	return "Which doctor would you like to see? We have " + strings.Join(names, ", ") + "."
}

func (o *Orchestrator) offersPrompt(s Session) string {
	var b strings.Builder
	if len(s.Offers) > 0 {
		fmt.Fprintf(&b, "%s has these %d-minute openings:", s.Offers[0].DoctorName, minutes(s.Duration))
	}
	for i, offer := range s.Offers {
		fmt.Fprintf(&b, " %d) %s.", i+1, o.when(offer.Start))
	}
	b.WriteString(" Which one works for you? You can reply with the option number.")
	return strings.TrimSpace(b.String())
}

func (o *Orchestrator) summary(s Session) string {
	var b strings.Builder
	id := s.Identity()
	fmt.Fprintf(&b, "Here's what I have: %s %s (born %s)", id.FirstName, id.LastName, id.DateOfBirth)
	if s.Hold != nil {
		fmt.Fprintf(&b, ", %s on %s for %d minutes", s.Hold.DoctorName, o.when(s.Hold.Start), minutes(s.Hold.Duration))
	}
	if s.Insurance != nil && s.Insurance.Carrier != "" {
		fmt.Fprintf(&b, ", insurance %s member ID %s", s.Insurance.Carrier, s.Insurance.MemberID)
		if s.Insurance.GroupID != "" {
			fmt.Fprintf(&b, " group %s", s.Insurance.GroupID)
		}
	}
	b.WriteString(". Shall I confirm this appointment? (yes/no)")
	return b.String()
}

func (o *Orchestrator) bookedText(s Session, hold Hold) string {
	form := "an update form for your records"
	if s.IsNew {
		form = "your new patient intake form"
	}
	return fmt.Sprintf("You're all set with %s on %s for %d minutes. A confirmation and %s are on the way, and we'll send reminders before your visit.",
		hold.DoctorName, o.when(hold.Start), minutes(hold.Duration), form)
}

func (o *Orchestrator) when(t time.Time) string {
	return t.In(o.cfg.Location).Format("Monday, January 2 at 3:04 PM")
}

func rejectionText(err error) string {
	var verr *extraction.ValidationError
	if !errors.As(err, &verr) {
		return ""
	}
	return fmt.Sprintf("That %s doesn't look right (%s).", verr.Field.Label(), verr.Reason)
}

func closedText(s Session) string {
	if s.State == StateDone {
		return "This booking is already complete."
	}
	return "This conversation has ended. Please start a new one to book."
}
