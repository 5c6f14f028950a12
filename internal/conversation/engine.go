package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/availability"
	"github.com/hackgods/clinic-appointment-scheduling/internal/clock"
	"github.com/hackgods/clinic-appointment-scheduling/internal/lock"
)

var (
	ErrSessionNotInitialized = errors.New("session not initialized")
	ErrSessionClosed         = errors.New("session closed")
	ErrSessionBusy           = errors.New("another turn is in progress for this user")
)

const retryText = "Sorry, I could not process that right now. Please try again."

// Booker is the booking manager as seen by the conversation.
type Booker interface {
	Book(ctx context.Context, req appointment.BookRequest) (*appointment.Appointment, error)
	Confirm(ctx context.Context, id uuid.UUID, src appointment.Source) (*appointment.Appointment, error)
	Reschedule(ctx context.Context, req appointment.RescheduleRequest) (*appointment.Appointment, error)
	Cancel(ctx context.Context, id uuid.UUID, src appointment.Source) (*appointment.Appointment, error)
	Get(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	ListForPatient(ctx context.Context, patientID uuid.UUID) ([]appointment.Appointment, error)
	Patient(ctx context.Context, id uuid.UUID) (*appointment.Patient, error)
	Professional(ctx context.Context, id uuid.UUID) (*appointment.Professional, error)
}

type Availability interface {
	Snapshot(ctx context.Context, max int) (availability.Snapshot, error)
}

type Options struct {
	MaxResults      int // slots kept per category in the cached snapshot
	OptionsShown    int // options presented at once
	TranscriptLimit int // messages kept per session
}

// Reply is what one turn returns to the user.
type Reply struct {
	Text        string                   `json:"text"`
	State       State                    `json:"state"`
	Action      ActionKind               `json:"action,omitempty"`
	Options     []Option                 `json:"options,omitempty"`
	Appointment *appointment.Appointment `json:"appointment,omitempty"`
	Retry       bool                     `json:"retry,omitempty"`
}

// Engine drives the session state machine:
//
//	uninitialized -> context_loaded <-> awaiting_choice -> closed
//
// Turns for one user are serialized through the locker; different users
// proceed in parallel.
type Engine struct {
	store      Store
	locker     lock.Locker
	booker     Booker
	avail      Availability
	classifier Classifier
	clock      clock.Clock
	opts       Options
	log        *zap.Logger
}

func NewEngine(store Store, locker lock.Locker, booker Booker, avail Availability,
	classifier Classifier, clk clock.Clock, opts Options, logger *zap.Logger) *Engine {

	if opts.MaxResults <= 0 {
		opts.MaxResults = 15
	}
	if opts.OptionsShown <= 0 {
		opts.OptionsShown = 3
	}
	if opts.TranscriptLimit <= 0 {
		opts.TranscriptLimit = 10
	}
	return &Engine{
		store:      store,
		locker:     locker,
		booker:     booker,
		avail:      avail,
		classifier: classifier,
		clock:      clk,
		opts:       opts,
		log:        logger.With(zap.String("component", "conversation")),
	}
}

func sessionKey(userID string) string {
	return "session:" + userID
}

func (e *Engine) withSession(ctx context.Context, userID string, fn func(ctx context.Context) error) error {
	if strings.TrimSpace(userID) == "" {
		return &appointment.ValidationError{Field: "user_id", Reason: "is required"}
	}
	err := e.locker.WithLock(ctx, sessionKey(userID), fn)
	if errors.Is(err, lock.ErrNotAcquired) {
		return ErrSessionBusy
	}
	return err
}

func (e *Engine) load(ctx context.Context, userID string) (*Session, error) {
	s, err := e.store.Get(ctx, userID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, ErrSessionNotInitialized
	}
	if err != nil {
		return nil, appointment.Infra("load session", err)
	}
	if s.State == StateUninitialized {
		return nil, ErrSessionNotInitialized
	}
	return s, nil
}

func (e *Engine) save(ctx context.Context, s *Session) error {
	s.UpdatedAt = e.clock.Now()
	if err := e.store.Save(ctx, s); err != nil {
		return appointment.Infra("save session", err)
	}
	return nil
}

// InitSession loads the patient's context and a fresh availability snapshot.
// Any previous transcript for the user is discarded.
func (e *Engine) InitSession(ctx context.Context, userID string, patientID uuid.UUID) (*Session, error) {
	if patientID == uuid.Nil {
		return nil, &appointment.ValidationError{Field: "patient_id", Reason: "is required"}
	}

	var out *Session
	err := e.withSession(ctx, userID, func(ctx context.Context) error {
		patient, err := e.booker.Patient(ctx, patientID)
		if err != nil {
			return err
		}
		appts, err := e.appointments(ctx, patientID)
		if err != nil {
			return err
		}
		snap, err := e.avail.Snapshot(ctx, e.opts.MaxResults)
		if err != nil {
			return err
		}

		s := &Session{
			UserID:       userID,
			PatientID:    patient.ID,
			PatientName:  patient.FullName(),
			State:        StateContextLoaded,
			Appointments: appts,
			Snapshot:     snap,
		}
		if err := e.save(ctx, s); err != nil {
			return err
		}
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.log.Info("session initialized",
		zap.String("user_id", userID),
		zap.Int("appointments", len(out.Appointments)),
		zap.Int("slots", out.Snapshot.Total()),
	)
	return out, nil
}

// Refresh reloads appointments and availability without touching the
// transcript or the options already presented.
func (e *Engine) Refresh(ctx context.Context, userID string) (*Session, error) {
	var out *Session
	err := e.withSession(ctx, userID, func(ctx context.Context) error {
		s, err := e.load(ctx, userID)
		if err != nil {
			return err
		}
		if s.State == StateClosed {
			return ErrSessionClosed
		}
		if s.Appointments, err = e.appointments(ctx, s.PatientID); err != nil {
			return err
		}
		if s.Snapshot, err = e.avail.Snapshot(ctx, e.opts.MaxResults); err != nil {
			return err
		}
		if err := e.save(ctx, s); err != nil {
			return err
		}
		out = s
		return nil
	})
	return out, err
}

// ClearHistory forgets everything about the user. Clearing an unknown user succeeds.
func (e *Engine) ClearHistory(ctx context.Context, userID string) error {
	return e.withSession(ctx, userID, func(ctx context.Context) error {
		if err := e.store.Delete(ctx, userID); err != nil {
			return appointment.Infra("delete session", err)
		}
		return nil
	})
}

// EndSession closes the session; further turns fail until InitSession.
func (e *Engine) EndSession(ctx context.Context, userID string) error {
	return e.withSession(ctx, userID, func(ctx context.Context) error {
		s, err := e.load(ctx, userID)
		if err != nil {
			return err
		}
		if s.State == StateClosed {
			return nil
		}
		s.State = StateClosed
		s.LastPresentedOptions = nil
		return e.save(ctx, s)
	})
}

// Session returns the stored session for userID.
func (e *Engine) Session(ctx context.Context, userID string) (*Session, error) {
	return e.load(ctx, userID)
}

// HandleTurn processes one utterance to completion: classify, plan, and at
// most one booking call. A classifier or storage failure yields a retry
// reply and leaves the session untouched.
func (e *Engine) HandleTurn(ctx context.Context, userID, utterance string) (Reply, error) {
	utterance = strings.TrimSpace(utterance)
	if utterance == "" {
		return Reply{}, &appointment.ValidationError{Field: "message", Reason: "is required"}
	}

	var reply Reply
	err := e.withSession(ctx, userID, func(ctx context.Context) error {
		s, err := e.load(ctx, userID)
		if err != nil {
			return err
		}
		if s.State == StateClosed {
			return ErrSessionClosed
		}

		dec, err := e.classifier.Classify(ctx, Request{
			Utterance:  utterance,
			State:      s.State,
			Transcript: append([]Message(nil), s.Transcript...),
			Context:    RenderContext(s, e.opts.OptionsShown),
			Categories: s.Snapshot.Categories(),
		})
		if err != nil {
			e.log.Error("intent classifier failed", zap.String("user_id", userID), zap.Error(err))
			reply = Reply{Text: retryText, State: s.State, Retry: true}
			return nil
		}

		next, r, cmd := plan(s, dec, e.opts.OptionsShown)
		if cmd != nil {
			var ok bool
			next, r, ok = e.dispatch(ctx, next, cmd)
			if !ok {
				reply = Reply{Text: retryText, State: s.State, Retry: true}
				return nil
			}
		}

		now := e.clock.Now()
		next.record(Message{Role: RoleUser, Text: utterance, At: now}, e.opts.TranscriptLimit)
		next.record(Message{Role: RoleAssistant, Text: r.Text, At: now}, e.opts.TranscriptLimit)
		r.State = next.State

		if err := e.save(ctx, next); err != nil {
			e.log.Error("save session failed", zap.String("user_id", userID), zap.Error(err))
			if cmd == nil {
				return err
			}
			// the booking itself committed; report it even though the session lags
		}
		reply = r
		return nil
	})
	return reply, err
}

// command is the single side effect a turn may request.
type command struct {
	kind          ActionKind
	appointmentID uuid.UUID
	workWindowID  uuid.UUID
	start         time.Time
	reason        string
}

// plan is the pure part of a turn: it decides the next session, the reply
// and an optional command without touching storage.
func plan(s *Session, dec Decision, shown int) (*Session, Reply, *command) {
	next := s.clone()

	if dec.Action == nil {
		text := dec.Text
		if text == "" {
			text = helpText
		}
		return next, Reply{Text: text}, nil
	}

	a := dec.Action
	switch a.Kind {
	case ActionQuery:
		if a.Category == "" {
			return next, Reply{Action: ActionQuery, Text: describeAppointments(s.Appointments)}, nil
		}
		cat, ok := lookupCategory(s.Snapshot, a.Category)
		if !ok || len(s.Snapshot.ByCategory[cat]) == 0 {
			next.LastPresentedOptions = nil
			next.State = StateContextLoaded
			name := a.Category
			if ok {
				name = cat
			}
			return next, Reply{Action: ActionQuery, Text: fmt.Sprintf("There is no availability for %s right now.", name)}, nil
		}

		slots := s.Snapshot.ByCategory[cat]
		opts := make([]Option, 0, shown)
		for i := 0; i < len(slots) && i < shown; i++ {
			opts = append(opts, Option{Number: i + 1, Slot: slots[i]})
		}
		next.LastPresentedOptions = opts
		next.State = StateAwaitingChoice
		return next, Reply{Action: ActionQuery, Options: opts, Text: describeOptions(cat, len(slots), opts)}, nil

	case ActionBook:
		slot, text := resolveSlot(s, a)
		if slot == nil {
			return next, Reply{Action: ActionBook, Text: text}, nil
		}
		reason := a.Reason
		if reason == "" {
			reason = slot.Category
		}
		return next, Reply{Action: ActionBook}, &command{kind: ActionBook, workWindowID: slot.WorkWindowID, start: slot.Start, reason: reason}

	case ActionConfirm, ActionCancel:
		id, text := resolveAppointment(s, a)
		if id == uuid.Nil {
			return next, Reply{Action: a.Kind, Text: text}, nil
		}
		return next, Reply{Action: a.Kind}, &command{kind: a.Kind, appointmentID: id}

	case ActionReschedule:
		id, text := resolveAppointment(s, a)
		if id == uuid.Nil {
			return next, Reply{Action: ActionReschedule, Text: text}, nil
		}
		slot, text := resolveSlot(s, a)
		if slot == nil {
			return next, Reply{Action: ActionReschedule, Text: text}, nil
		}
		return next, Reply{Action: ActionReschedule}, &command{kind: ActionReschedule, appointmentID: id, workWindowID: slot.WorkWindowID, start: slot.Start}
	}

	return next, Reply{Text: helpText}, nil
}

// resolveSlot maps an option number onto the options frozen when they were
// shown, never onto the live snapshot. Explicit window and start are used as given.
func resolveSlot(s *Session, a *Action) (*availability.AvailableSlot, string) {
	if a.OptionNumber != 0 {
		opts := s.LastPresentedOptions
		if len(opts) == 0 {
			return nil, "Please ask for availability first so I can show you some options."
		}
		n := a.OptionNumber
		if n == lastOption {
			n = len(opts)
		}
		if n < 1 || n > len(opts) {
			return nil, fmt.Sprintf("Please choose an option between 1 and %d.", len(opts))
		}
		slot := opts[n-1].Slot
		return &slot, ""
	}

	if a.WorkWindowID != uuid.Nil && !a.Start.IsZero() {
		slot := availability.AvailableSlot{WorkWindowID: a.WorkWindowID, Start: a.Start, Category: a.Category}
		for _, o := range s.LastPresentedOptions {
			if o.Slot.WorkWindowID == a.WorkWindowID && o.Slot.Start.Equal(a.Start) {
				slot = o.Slot
			}
		}
		return &slot, ""
	}

	if len(s.LastPresentedOptions) > 0 {
		return nil, fmt.Sprintf("Which option would you like? Choose between 1 and %d.", len(s.LastPresentedOptions))
	}
	return nil, "Which specialty are you interested in?"
}

func resolveAppointment(s *Session, a *Action) (uuid.UUID, string) {
	if a.AppointmentID != uuid.Nil {
		return a.AppointmentID, ""
	}

	list := s.Appointments
	switch {
	case len(list) == 0:
		return uuid.Nil, "You have no active appointments."
	case a.AppointmentNumber == lastOption:
		return list[len(list)-1].ID, ""
	case a.AppointmentNumber > 0:
		if a.AppointmentNumber > len(list) {
			return uuid.Nil, fmt.Sprintf("Please choose an appointment between 1 and %d.", len(list))
		}
		return list[a.AppointmentNumber-1].ID, ""
	case len(list) == 1:
		return list[0].ID, ""
	}
	return uuid.Nil, "Which appointment do you mean?\n" + describeAppointments(list)
}

// dispatch runs cmd against the booking manager. ok is false only for
// infrastructure failures, which must not change the session.
func (e *Engine) dispatch(ctx context.Context, s *Session, cmd *command) (*Session, Reply, bool) {
	reply := Reply{Action: cmd.kind}

	appt, err := e.execute(ctx, s, cmd)
	if err != nil {
		if errors.Is(err, appointment.ErrInfrastructure) || !isDomain(err) {
			e.log.Error("assistant action failed",
				zap.String("user_id", s.UserID),
				zap.String("action", string(cmd.kind)),
				zap.Error(err),
			)
			return s, reply, false
		}
		e.log.Info("assistant action rejected",
			zap.String("user_id", s.UserID),
			zap.String("action", string(cmd.kind)),
			zap.Error(err),
		)
		reply.Text = describeFailure(err)
		return s, reply, true
	}

	reply.Appointment = appt

	// non-destructive refresh: appointments only, transcript untouched
	if list, err := e.appointments(ctx, s.PatientID); err == nil {
		s.Appointments = list
	} else {
		e.log.Warn("refresh appointments failed", zap.String("user_id", s.UserID), zap.Error(err))
	}
	if cmd.kind == ActionBook || cmd.kind == ActionReschedule {
		s.Snapshot = s.Snapshot.Without(cmd.workWindowID, appt.StartTime)
	}
	s.LastPresentedOptions = nil
	s.State = StateContextLoaded

	reply.Text = describeSuccess(cmd.kind, appt)
	return s, reply, true
}

func (e *Engine) execute(ctx context.Context, s *Session, cmd *command) (*appointment.Appointment, error) {
	src := appointment.SourceAssistant

	if cmd.kind == ActionBook {
		return e.booker.Book(ctx, appointment.BookRequest{
			PatientID:    s.PatientID,
			WorkWindowID: cmd.workWindowID,
			Start:        cmd.start,
			Reason:       cmd.reason,
			Source:       src,
		})
	}

	// only the session's own patient may act on an appointment
	current, err := e.booker.Get(ctx, cmd.appointmentID)
	if err != nil {
		return nil, err
	}
	if current.PatientID != s.PatientID {
		return nil, &appointment.NotFoundError{Kind: appointment.KindAppointment, ID: cmd.appointmentID}
	}

	switch cmd.kind {
	case ActionConfirm:
		return e.booker.Confirm(ctx, cmd.appointmentID, src)
	case ActionCancel:
		return e.booker.Cancel(ctx, cmd.appointmentID, src)
	case ActionReschedule:
		return e.booker.Reschedule(ctx, appointment.RescheduleRequest{
			AppointmentID: cmd.appointmentID,
			WorkWindowID:  cmd.workWindowID,
			Start:         cmd.start,
			Source:        src,
		})
	}
	return nil, fmt.Errorf("unsupported action %q", cmd.kind)
}

func (e *Engine) appointments(ctx context.Context, patientID uuid.UUID) ([]AppointmentView, error) {
	list, err := e.booker.ListForPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}

	names := make(map[uuid.UUID]*appointment.Professional)
	views := make([]AppointmentView, 0, len(list))
	for _, a := range list {
		prof, ok := names[a.ProfessionalID]
		if !ok {
			prof, err = e.booker.Professional(ctx, a.ProfessionalID)
			if err != nil && !errors.Is(err, appointment.ErrNotFound) {
				return nil, err
			}
			names[a.ProfessionalID] = prof
		}
		v := AppointmentView{Appointment: a}
		if prof != nil {
			v.ProfessionalName = prof.FullName()
			v.Specialty = prof.Specialty
		}
		views = append(views, v)
	}
	return views, nil
}

func isDomain(err error) bool {
	return errors.Is(err, appointment.ErrValidation) ||
		errors.Is(err, appointment.ErrNotFound) ||
		errors.Is(err, appointment.ErrConflict) ||
		errors.Is(err, appointment.ErrInvalidStateTransition)
}

func lookupCategory(snap availability.Snapshot, name string) (string, bool) {
	for cat := range snap.ByCategory {
		if strings.EqualFold(cat, name) {
			return cat, true
		}
	}
	return "", false
}
