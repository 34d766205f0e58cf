package conversation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/clinic-booking-agent/internal/events"
	"github.com/wolfman30/clinic-booking-agent/internal/extraction"
	"github.com/wolfman30/clinic-booking-agent/internal/observability/metrics"
	"github.com/wolfman30/clinic-booking-agent/internal/patients"
	"github.com/wolfman30/clinic-booking-agent/internal/redact"
	"github.com/wolfman30/clinic-booking-agent/internal/reminders"
	"github.com/wolfman30/clinic-booking-agent/internal/scheduling"
	"github.com/wolfman30/clinic-booking-agent/pkg/logging"
)

var conversationTracer = otel.Tracer("clinic.internal.conversation")

// prefillRule marks buffer values copied from a returning patient's record.
const prefillRule = "patient_record"

// prefillConfidence lets any anchored restatement replace a prefilled value.
const prefillConfidence = 0.5

// Extractor is the extraction pipeline seen by the orchestrator.
type Extractor interface {
	Run(ctx context.Context, text string, missing []extraction.Field) extraction.Result
}

type Classifier interface {
	Classify(ctx context.Context, identity patients.Identity) (patients.Classification, error)
}

// PatientRecords receives the confirmed patient details.
type PatientRecords interface {
	UpdateContact(ctx context.Context, id uuid.UUID, contact patients.Contact) error
	UpdateInsurance(ctx context.Context, id uuid.UUID, ins patients.Insurance) error
	MarkKnown(ctx context.Context, id uuid.UUID) error
}

// Calendar is the part of the scheduling engine a session uses.
type Calendar interface {
	Doctors(ctx context.Context) ([]scheduling.Doctor, error)
	ResolveDoctor(ctx context.Context, name string) (scheduling.Doctor, error)
	FindOpenings(ctx context.Context, doctor, date string, days int, duration time.Duration, limit int) (string, []scheduling.Slot, error)
	Book(ctx context.Context, req scheduling.BookRequest) (scheduling.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

type ReminderRegistrar interface {
	Register(ctx context.Context, in reminders.RegisterInput) ([]reminders.Task, error)
}

// EventAppender records the confirmation event for asynchronous delivery.
type EventAppender interface {
	Append(ctx context.Context, aggregate, correlationID string, evt events.CanonicalEvent) (events.Envelope, error)
}

// Deps are the collaborators of an Orchestrator. All are required.
type Deps struct {
	Extractor  Extractor
	Classifier Classifier
	Patients   PatientRecords
	Calendar   Calendar
	Reminders  ReminderRegistrar
	Events     EventAppender
}

// Config tunes prompts and limits.
type Config struct {
	ClinicName  string
	Location    *time.Location
	MaxStalls   int
	HorizonDays int
	OfferLimit  int
}

func DefaultConfig() Config {
	return Config{
		ClinicName:  "the clinic",
		Location:    time.UTC,
		MaxStalls:   5,
		HorizonDays: 14,
		OfferLimit:  5,
	}
}

// Reply is what the patient sees after a turn.
type Reply struct {
	Text  string `json:"text"`
	State State  `json:"state"`
}

// Orchestrator advances sessions one turn at a time. It keeps no per-session state;
// callers serialize turns of the same session.
type Orchestrator struct {
	deps    Deps
	cfg     Config
	logger  *logging.Logger
	metrics *metrics.ConversationMetrics
	now     func() time.Time
}

func NewOrchestrator(deps Deps, cfg Config, logger *logging.Logger) (*Orchestrator, error) {
	switch {
	case deps.Extractor == nil:
		return nil, errors.New("conversation: extractor is required")
	case deps.Classifier == nil:
		return nil, errors.New("conversation: classifier is required")
	case deps.Patients == nil:
		return nil, errors.New("conversation: patient records are required")
	case deps.Calendar == nil:
		return nil, errors.New("conversation: calendar is required")
	case deps.Reminders == nil:
		return nil, errors.New("conversation: reminder registrar is required")
	case deps.Events == nil:
		return nil, errors.New("conversation: event appender is required")
	}
	def := DefaultConfig()
	if cfg.ClinicName == "" {
		cfg.ClinicName = def.ClinicName
	}
	if cfg.Location == nil {
		cfg.Location = def.Location
	}
	if cfg.MaxStalls <= 0 {
		cfg.MaxStalls = def.MaxStalls
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = def.HorizonDays
	}
	if cfg.OfferLimit <= 0 {
		cfg.OfferLimit = def.OfferLimit
	}
	if logger == nil {
		logger = logging.Default()
	}
	return &Orchestrator{deps: deps, cfg: cfg, logger: logger, now: time.Now}, nil
}

func (o *Orchestrator) WithMetrics(m *metrics.ConversationMetrics) *Orchestrator {
	o.metrics = m
	return o
}

// WithClock overrides the time source.
func (o *Orchestrator) WithClock(now func() time.Time) *Orchestrator {
	if now != nil {
		o.now = now
	}
	return o
}

// Start opens a new session and returns the greeting.
func (o *Orchestrator) Start(id string) (Session, Reply) {
	s := NewSession(id, o.now())
	text := fmt.Sprintf("Hi! I can book an appointment for you at %s. To get started, may I have your full name and date of birth?", o.cfg.ClinicName)
	return s, Reply{Text: text, State: s.State}
}

// Advance applies one patient turn and appends it to the session history, including
// turns that were rejected, stalled or ended the session. On error the input session
// is returned unchanged and nothing about the turn is recorded.
func (o *Orchestrator) Advance(ctx context.Context, s Session, text string) (Session, Reply, error) {
	next, reply, err := o.advance(ctx, s, text)
	if err != nil {
		return next, reply, err
	}
	next.History = next.record(TurnRecord{
		Input:  redact.Text(text),
		Output: redact.Text(reply.Text),
		State:  reply.State,
		At:     next.UpdatedAt,
	})
	return next, reply, nil
}

func (o *Orchestrator) advance(ctx context.Context, s Session, text string) (Session, Reply, error) {
	ctx, span := conversationTracer.Start(ctx, "conversation.advance")
	defer span.End()
	span.SetAttributes(attribute.String("session.id", s.ID), attribute.String("state.from", string(s.State)))

	if s.State.Terminal() {
		return s, Reply{Text: closedText(s), State: s.State}, ErrSessionClosed
	}

	before := s
	s.Turns++
	s.UpdatedAt = o.now()
	log := o.logger.With("session_id", s.ID)

	if isCancellation(text) {
		next, err := o.Abort(ctx, s, OutcomeCancelled)
		if err != nil {
			span.RecordError(err)
			return before, Reply{}, fmt.Errorf("conversation: advance: %w", err)
		}
		o.metrics.ObserveTurn(string(next.State))
		return next, Reply{Text: "Okay, I've cancelled this booking request. Nothing has been scheduled. Feel free to start again any time.", State: next.State}, nil
	}

	t := &turn{}
	next, err := o.step(ctx, s, text, t)
	if err != nil {
		var integrity *patients.IntegrityError
		if errors.As(err, &integrity) {
			log.Error("aborting session on patient data integrity error", "error", err)
			aborted, abortErr := o.Abort(ctx, s, OutcomeIntegrity)
			if abortErr != nil {
				span.RecordError(abortErr)
				return before, Reply{}, fmt.Errorf("conversation: advance: %w", abortErr)
			}
			o.metrics.ObserveTurn(string(aborted.State))
			return aborted, Reply{
				Text:  "I'm sorry, we found more than one record matching your details, so I can't book online. Please call the clinic and our staff will help you.",
				State: aborted.State,
			}, nil
		}
		span.RecordError(err)
		return before, Reply{}, fmt.Errorf("conversation: advance: %w", err)
	}

	if !next.State.Terminal() {
		if progressed(before, next) {
			next.Stalls = 0
		} else {
			next.Stalls++
		}
		if next.Stalls >= o.cfg.MaxStalls {
			log.Warn("aborting stalled session", "state", string(next.State), "stalls", next.Stalls)
			aborted, err := o.Abort(ctx, next, OutcomeStalled)
			if err != nil {
				span.RecordError(err)
				return before, Reply{}, fmt.Errorf("conversation: advance: %w", err)
			}
			o.metrics.ObserveTurn(string(aborted.State))
			return aborted, Reply{
				Text:  "I'm having trouble understanding, so I've closed this request. Please start a new conversation or call the clinic to book.",
				State: aborted.State,
			}, nil
		}
	}

	if next.State != before.State {
		log.Info("conversation state advanced", "from", string(before.State), "to", string(next.State))
	}
	span.SetAttributes(attribute.String("state.to", string(next.State)))
	o.metrics.ObserveTurn(string(next.State))
	return next, Reply{Text: t.text(), State: next.State}, nil
}

// Abort moves s to Aborted, cancelling a held unconfirmed appointment first.
func (o *Orchestrator) Abort(ctx context.Context, s Session, outcome Outcome) (Session, error) {
	if s.State.Terminal() {
		return s, nil
	}
	if err := o.releaseHold(ctx, &s); err != nil {
		return s, err
	}
	s.State = StateAborted
	s.Outcome = outcome
	s.UpdatedAt = o.now()
	o.metrics.ObserveFinished(string(outcome))
	o.logger.Info("session aborted", "session_id", s.ID, "outcome", string(outcome))
	return s, nil
}

// step merges the turn's extraction into the buffer, applies rewinds and cascades.
func (o *Orchestrator) step(ctx context.Context, s Session, text string, t *turn) (Session, error) {
	offered := s.State == StateScheduling && len(s.Offers) > 0
	listen := transitions[s.State].listening(s.Buffer, offered)
	res := o.deps.Extractor.Run(ctx, text, listen)

	accept := func(f extraction.Field) bool {
		switch f {
		case extraction.FieldSlotChoice:
			return offered
		case extraction.FieldConfirm:
			return s.State == StateConfirmation
		}
		return true
	}
	buf, changed := s.Buffer.Merge(res.Values, accept)
	s.Buffer = buf
	for _, f := range extraction.AllFields {
		if verr, ok := res.Rejected[f]; ok && accept(f) {
			t.note(rejectionText(verr))
		}
	}

	s, err := o.rewind(ctx, s, changed, t)
	if err != nil {
		return s, err
	}
	return o.cascade(ctx, s, t)
}

// rewind sends the session back when an earlier answer changed: an identity change
// after Lookup forces re-classification, a doctor or date change after booking
// forces re-scheduling. Either way the held appointment is cancelled.
func (o *Orchestrator) rewind(ctx context.Context, s Session, changed []extraction.Field, t *turn) (Session, error) {
	if len(changed) == 0 {
		return s, nil
	}
	has := func(fields ...extraction.Field) bool {
		for _, c := range changed {
			for _, f := range fields {
				if c == f {
					return true
				}
			}
		}
		return false
	}

	if s.Classified() && has(identityFields...) {
		if err := o.releaseHold(ctx, &s); err != nil {
			return s, err
		}
		s.PatientID = uuid.Nil
		s.IsNew = false
		s.Duration = 0
		s.Insurance = nil
		s.clearSchedule()
		s.Buffer = dropPrefilled(s.Buffer).Without(extraction.FieldSlotChoice, extraction.FieldConfirm)
		s.State = StateLookup
		t.note("Thanks for the correction, let me look you up again.")
		return s, nil
	}

	if s.Hold != nil && has(extraction.FieldDoctor, extraction.FieldAppointmentDate) {
		if err := o.releaseHold(ctx, &s); err != nil {
			return s, err
		}
		s.clearSchedule()
		s.Buffer = s.Buffer.Without(extraction.FieldSlotChoice, extraction.FieldConfirm)
		s.State = StateScheduling
		t.note("No problem, I've released the previous time. Let's find a new one.")
	}
	return s, nil
}

// cascade runs every state whose requirements are met, stopping at the first state
// that needs more input.
func (o *Orchestrator) cascade(ctx context.Context, s Session, t *turn) (Session, error) {
	for i := 0; i <= len(transitions) && !s.State.Terminal(); i++ {
		if missing := transitions[s.State].missing(s.Buffer); len(missing) > 0 {
			t.prompt = o.prompt(ctx, s, missing[0])
			return s, nil
		}
		var (
			next State
			err  error
		)
		switch s.State {
		case StateGreeting:
			next = StateLookup
		case StateLookup:
			s, next, err = o.lookup(ctx, s, t)
		case StateScheduling:
			s, next, err = o.schedule(ctx, s, t)
		case StateInsurance:
			s, next = o.structureInsurance(s)
		case StateConfirmation:
			s, next, err = o.confirm(ctx, s, t)
		}
		if err != nil {
			return s, err
		}
		if next == s.State {
			return s, nil
		}
		s.State = next
	}
	return s, nil
}

func (o *Orchestrator) lookup(ctx context.Context, s Session, t *turn) (Session, State, error) {
	cls, err := o.deps.Classifier.Classify(ctx, s.Identity())
	if err != nil {
		return s, s.State, fmt.Errorf("lookup: %w", err)
	}
	s.PatientID = cls.Patient.ID
	s.IsNew = cls.IsNew
	s.Duration = cls.Duration
	first := s.Buffer.Value(extraction.FieldFirstName)
	if cls.IsNew {
		t.note(fmt.Sprintf("Thanks, %s. Since this is your first visit, I'll look for a %d-minute new patient appointment.", first, minutes(cls.Duration)))
	} else {
		s.Buffer = prefill(s.Buffer, cls.Patient)
		t.note(fmt.Sprintf("Welcome back, %s!", first))
	}
	return s, StateScheduling, nil
}

func (o *Orchestrator) schedule(ctx context.Context, s Session, t *turn) (Session, State, error) {
	if s.Hold != nil {
		return s, StateInsurance, nil
	}
	requested := s.Buffer.Value(extraction.FieldDoctor)
	doc, err := o.deps.Calendar.ResolveDoctor(ctx, requested)
	if errors.Is(err, scheduling.ErrUnknownDoctor) {
		s.Buffer = s.Buffer.Without(extraction.FieldDoctor, extraction.FieldSlotChoice)
		s.clearSchedule()
		t.note(fmt.Sprintf("I couldn't find a doctor named %q.", requested))
		t.prompt = o.doctorPrompt(ctx)
		return s, s.State, nil
	}
	if err != nil {
		return s, s.State, fmt.Errorf("schedule: %w", err)
	}

	date := s.Buffer.Value(extraction.FieldAppointmentDate)
	if date == "" {
		date = o.now().In(o.cfg.Location).Format(scheduling.DateLayout)
	}
	key := fmt.Sprintf("%s|%s|%d", doc.ID, date, minutes(s.Duration))
	if s.OfferKey != key || len(s.Offers) == 0 {
		s.Buffer = s.Buffer.Without(extraction.FieldSlotChoice)
		return o.offer(ctx, s, doc, date, key, t)
	}

	choice := s.Buffer.Value(extraction.FieldSlotChoice)
	if choice == "" {
		t.prompt = o.offersPrompt(s)
		return s, s.State, nil
	}
	picked, ok := resolveChoice(s.Offers, choice, o.cfg.Location)
	if !ok {
		s.Buffer = s.Buffer.Without(extraction.FieldSlotChoice)
		t.note("That doesn't match one of the options.")
		t.prompt = o.offersPrompt(s)
		return s, s.State, nil
	}

	appt, err := o.deps.Calendar.Book(ctx, scheduling.BookRequest{
		PatientID: s.PatientID,
		Doctor:    picked.Doctor,
		Date:      picked.Date,
		Start:     picked.Start,
		Duration:  s.Duration,
	})
	var conflict *scheduling.ConflictError
	if errors.As(err, &conflict) {
		o.logger.Info("booking lost to a concurrent session, re-offering",
			"session_id", s.ID, "doctor", picked.Doctor, "start", picked.Start.Format(time.RFC3339))
		s.Buffer = s.Buffer.Without(extraction.FieldSlotChoice)
		t.note("Sorry, that time was just taken.")
		return o.offer(ctx, s, doc, date, key, t)
	}
	if err != nil {
		return s, s.State, fmt.Errorf("schedule: %w", err)
	}

	s.Offers = nil
	s.OfferKey = ""
	s.Hold = &Hold{
		AppointmentID: appt.ID,
		Doctor:        doc.ID,
		DoctorName:    doc.DisplayName,
		Location:      doc.Location,
		Date:          appt.Date,
		Start:         appt.Start,
		Duration:      appt.Duration,
	}
	o.logger.Info("appointment held", "session_id", s.ID, "appointment_id", appt.ID.String())
	t.note(fmt.Sprintf("I've reserved %s with %s.", o.when(appt.Start), doc.DisplayName))
	return s, StateInsurance, nil
}

// offer queries openings from date forward and stores them on the session.
func (o *Orchestrator) offer(ctx context.Context, s Session, doc scheduling.Doctor, date, key string, t *turn) (Session, State, error) {
	day, slots, err := o.deps.Calendar.FindOpenings(ctx, doc.ID, date, o.cfg.HorizonDays, s.Duration, o.cfg.OfferLimit)
	if err != nil {
		return s, s.State, fmt.Errorf("schedule: openings: %w", err)
	}
	if len(slots) == 0 {
		s.Buffer = s.Buffer.Without(extraction.FieldDoctor, extraction.FieldAppointmentDate, extraction.FieldSlotChoice)
		s.clearSchedule()
		t.note(fmt.Sprintf("%s has no %d-minute openings in the next %d days.", doc.DisplayName, minutes(s.Duration), o.cfg.HorizonDays))
		t.prompt = o.doctorPrompt(ctx)
		return s, s.State, nil
	}
	offers := make([]Offer, 0, len(slots))
	for _, slot := range slots {
		offers = append(offers, Offer{Doctor: doc.ID, DoctorName: doc.DisplayName, Date: slot.Date, Start: slot.Start})
	}
	s.Offers = offers
	s.OfferKey = key
	if day != date && s.Buffer.Has(extraction.FieldAppointmentDate) {
		t.note(fmt.Sprintf("%s has no openings on %s. The earliest day is %s.", doc.DisplayName, extraction.FormatDate(date), extraction.FormatDate(day)))
	}
	t.prompt = o.offersPrompt(s)
	return s, s.State, nil
}

func (o *Orchestrator) structureInsurance(s Session) (Session, State) {
	s.Insurance = &patients.Insurance{
		Carrier:  s.Buffer.Value(extraction.FieldInsuranceCarrier),
		MemberID: s.Buffer.Value(extraction.FieldMemberID),
		GroupID:  s.Buffer.Value(extraction.FieldGroupID),
	}
	return s, StateConfirmation
}

// confirm persists the patient, registers reminders and appends the confirmation
// event on "yes". On "no" the hold is released and scheduling starts over.
func (o *Orchestrator) confirm(ctx context.Context, s Session, t *turn) (Session, State, error) {
	answer := s.Buffer.Value(extraction.FieldConfirm)
	s.Buffer = s.Buffer.Without(extraction.FieldConfirm)
	if answer != "yes" || s.Hold == nil {
		if err := o.releaseHold(ctx, &s); err != nil {
			return s, s.State, err
		}
		s.clearSchedule()
		s.Buffer = s.Buffer.Without(extraction.FieldSlotChoice)
		t.note("No problem, let's pick a different time.")
		return s, StateScheduling, nil
	}

	hold := *s.Hold
	contact := patients.Contact{
		Phone: s.Buffer.Value(extraction.FieldPhone),
		Email: s.Buffer.Value(extraction.FieldEmail),
	}
	if err := o.deps.Patients.UpdateContact(ctx, s.PatientID, contact); err != nil {
		return s, s.State, fmt.Errorf("confirm: contact: %w", err)
	}
	ins := patients.Insurance{}
	if s.Insurance != nil {
		ins = *s.Insurance
	}
	if err := o.deps.Patients.UpdateInsurance(ctx, s.PatientID, ins); err != nil {
		return s, s.State, fmt.Errorf("confirm: insurance: %w", err)
	}
	if err := o.deps.Patients.MarkKnown(ctx, s.PatientID); err != nil {
		return s, s.State, fmt.Errorf("confirm: mark known: %w", err)
	}

	name := s.Identity().FirstName + " " + s.Identity().LastName
	if _, err := o.deps.Reminders.Register(ctx, reminders.RegisterInput{
		AppointmentID:    hold.AppointmentID,
		AppointmentStart: hold.Start,
		PatientName:      name,
		Email:            contact.Email,
		Phone:            contact.Phone,
		DoctorName:       hold.DoctorName,
		Location:         hold.Location,
	}); err != nil {
		return s, s.State, fmt.Errorf("confirm: reminders: %w", err)
	}

	form := events.FormReturningPatient
	if s.IsNew {
		form = events.FormNewPatient
	}
	if _, err := o.deps.Events.Append(ctx, hold.AppointmentID.String(), s.ID, events.AppointmentConfirmedV1{
		AppointmentID:   hold.AppointmentID,
		PatientID:       s.PatientID,
		SessionID:       s.ID,
		PatientName:     name,
		Email:           contact.Email,
		Phone:           contact.Phone,
		DoctorName:      hold.DoctorName,
		Location:        hold.Location,
		Start:           hold.Start,
		DurationMinutes: minutes(hold.Duration),
		NewPatient:      s.IsNew,
		FormType:        form,
		InsuranceOnFile: !ins.Empty(),
	}); err != nil {
		return s, s.State, fmt.Errorf("confirm: event: %w", err)
	}

	s.Outcome = OutcomeBooked
	o.metrics.ObserveFinished(string(OutcomeBooked))
	o.logger.Info("appointment confirmed", "session_id", s.ID, "appointment_id", hold.AppointmentID.String(), "new_patient", s.IsNew)
	t.note(o.bookedText(s, hold))
	return s, StateDone, nil
}

// releaseHold cancels the session's unconfirmed appointment, if any.
func (o *Orchestrator) releaseHold(ctx context.Context, s *Session) error {
	if s.Hold == nil || s.State == StateDone {
		return nil
	}
	id := s.Hold.AppointmentID
	if err := o.deps.Calendar.Cancel(ctx, id); err != nil && !errors.Is(err, scheduling.ErrAppointmentNotFound) {
		return fmt.Errorf("release hold %s: %w", id, err)
	}
	o.logger.Info("held appointment released", "session_id", s.ID, "appointment_id", id.String())
	s.Hold = nil
	return nil
}

// progressed is false when the turn changed nothing visible: same state, same
// buffer values and the same offers.
func progressed(before, after Session) bool {
	if before.State != after.State || !before.Buffer.Equal(after.Buffer) {
		return true
	}
	if before.OfferKey != after.OfferKey || len(before.Offers) != len(after.Offers) {
		return true
	}
	for i := range before.Offers {
		if !before.Offers[i].Start.Equal(after.Offers[i].Start) {
			return true
		}
	}
	return false
}

// prefill copies contact and insurance from a returning patient's record into
// empty buffer fields.
func prefill(b Buffer, p patients.Patient) Buffer {
	values := map[extraction.Field]string{
		extraction.FieldPhone:            p.Phone,
		extraction.FieldEmail:            p.Email,
		extraction.FieldInsuranceCarrier: p.Insurance.Carrier,
		extraction.FieldMemberID:         p.Insurance.MemberID,
		extraction.FieldGroupID:          p.Insurance.GroupID,
	}
	for _, f := range extraction.AllFields {
		v, ok := values[f]
		if !ok || v == "" || b.Has(f) {
			continue
		}
		b = b.With(f, extraction.Candidate{Value: v, Confidence: prefillConfidence, Rule: prefillRule})
	}
	return b
}

func dropPrefilled(b Buffer) Buffer {
	var fields []extraction.Field
	for _, f := range extraction.AllFields {
		if c, ok := b.Get(f); ok && c.Rule == prefillRule {
			fields = append(fields, f)
		}
	}
	return b.Without(fields...)
}

// resolveChoice maps "#N" or "HH:MM" onto an offer.
func resolveChoice(offers []Offer, choice string, loc *time.Location) (Offer, bool) {
	if len(choice) > 1 && choice[0] == '#' {
		var n int
		if _, err := fmt.Sscanf(choice[1:], "%d", &n); err != nil || n < 1 || n > len(offers) {
			return Offer{}, false
		}
		return offers[n-1], true
	}
	for _, offer := range offers {
		if offer.Start.In(loc).Format("15:04") == choice {
			return offer, true
		}
	}
	return Offer{}, false
}

func minutes(d time.Duration) int {
	return int(d / time.Minute)
}
