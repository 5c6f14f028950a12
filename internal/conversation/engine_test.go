package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/availability"
	"github.com/hackgods/clinic-appointment-scheduling/internal/clock"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/lock"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, time.March, 2, hour, minute, 0, 0, time.UTC)
}

type harness struct {
	repo    *appointment.MemoryRepository
	svc     *appointment.Service
	store   *MemoryStore
	engine  *Engine
	patient appointment.Patient
	window  appointment.WorkWindow
}

func newHarness(t *testing.T, classifier Classifier, opts Options) *harness {
	t.Helper()

	repo := appointment.NewMemoryRepository()
	clk := &clock.Fixed{T: at(7, 0), Loc: time.UTC}
	cfg := config.Config{SlotDuration: 30 * time.Minute}
	locker := lock.NewLocal()

	svc := appointment.NewService(repo, locker, clk, cfg, zap.NewNop())
	agg := availability.NewAggregator(repo, clk, cfg.SlotDuration, zap.NewNop())
	store := NewMemoryStore()

	if classifier == nil {
		classifier = RuleClassifier{}
	}

	unit := repo.AddUnit(appointment.CareUnit{Name: "Main", Active: true})
	prof := repo.AddProfessional(appointment.Professional{Names: "Ana", Surnames: "Silva", Specialty: "Cardiology", Active: true})
	w := repo.AddWorkWindow(appointment.WorkWindow{ProfessionalID: prof.ID, UnitID: &unit.ID, StartTime: at(8, 0), EndTime: at(10, 0)})

	return &harness{
		repo:    repo,
		svc:     svc,
		store:   store,
		engine:  NewEngine(store, locker, svc, agg, classifier, clk, opts, zap.NewNop()),
		patient: repo.AddPatient(appointment.Patient{Names: "Luis", Surnames: "Rojas"}),
		window:  w,
	}
}

func (h *harness) init(t *testing.T, userID string) *Session {
	t.Helper()
	s, err := h.engine.InitSession(context.Background(), userID, h.patient.ID)
	if err != nil {
		t.Fatalf("init session: %v", err)
	}
	return s
}

func (h *harness) turn(t *testing.T, userID, text string) Reply {
	t.Helper()
	r, err := h.engine.HandleTurn(context.Background(), userID, text)
	if err != nil {
		t.Fatalf("turn %q: %v", text, err)
	}
	return r
}

func (h *harness) session(t *testing.T, userID string) *Session {
	t.Helper()
	s, err := h.engine.Session(context.Background(), userID)
	if err != nil {
		t.Fatalf("session: %v", err)
	}
	return s
}

func (h *harness) bookAsOther(t *testing.T, start time.Time) {
	t.Helper()
	other := h.repo.AddPatient(appointment.Patient{Names: "Other"})
	if _, err := h.svc.Book(context.Background(), appointment.BookRequest{PatientID: other.ID, WorkWindowID: h.window.ID, Start: start}); err != nil {
		t.Fatalf("book as other patient: %v", err)
	}
}

func TestInitSession_LoadsContext(t *testing.T) {
	h := newHarness(t, nil, Options{})
	s := h.init(t, "u1")

	if s.State != StateContextLoaded {
		t.Fatalf("expected context_loaded, got %s", s.State)
	}
	if s.PatientName != "Luis Rojas" {
		t.Errorf("unexpected patient name %q", s.PatientName)
	}
	if got := len(s.Snapshot.ByCategory["Cardiology"]); got != 4 {
		t.Errorf("expected 4 cardiology slots, got %d", got)
	}
	if len(s.Transcript) != 0 {
		t.Errorf("fresh session must have an empty transcript")
	}
}

func TestHandleTurn_RequiresInit(t *testing.T) {
	h := newHarness(t, nil, Options{})
	_, err := h.engine.HandleTurn(context.Background(), "nobody", "hello")
	if !errors.Is(err, ErrSessionNotInitialized) {
		t.Fatalf("expected ErrSessionNotInitialized, got %v", err)
	}
	if _, err := h.engine.HandleTurn(context.Background(), "u1", "   "); !errors.Is(err, appointment.ErrValidation) {
		t.Fatalf("expected validation error for empty message, got %v", err)
	}
}

func TestHandleTurn_ResolvesAgainstFrozenOptions(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.init(t, "u1")

	r := h.turn(t, "u1", "Do you have anything in cardiology?")
	if r.State != StateAwaitingChoice || len(r.Options) != 3 {
		t.Fatalf("expected 3 options while awaiting a choice, got %s with %d", r.State, len(r.Options))
	}
	if !r.Options[1].Slot.Start.Equal(at(8, 30)) {
		t.Fatalf("expected option 2 at 08:30, got %s", r.Options[1].Slot.Start)
	}

	// someone else takes option 1, then the context is refreshed
	h.bookAsOther(t, at(8, 0))
	s, err := h.engine.Refresh(context.Background(), "u1")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if live := s.Snapshot.ByCategory["Cardiology"]; !live[1].Start.Equal(at(9, 0)) {
		t.Fatalf("expected the live snapshot to have shifted, second is %s", live[1].Start)
	}
	if len(s.Transcript) != 2 {
		t.Fatalf("refresh must keep the transcript, got %d messages", len(s.Transcript))
	}

	r = h.turn(t, "u1", "the second one please")
	if r.Appointment == nil {
		t.Fatalf("expected a booking, got %q", r.Text)
	}
	if !r.Appointment.StartTime.Equal(at(8, 30)) || r.Appointment.WorkWindowID != h.window.ID {
		t.Fatalf("expected the frozen option 2 at 08:30, got %s", r.Appointment.StartTime)
	}

	s = h.session(t, "u1")
	if s.State != StateContextLoaded || len(s.LastPresentedOptions) != 0 {
		t.Errorf("successful booking must clear options, state %s, %d options", s.State, len(s.LastPresentedOptions))
	}
	if len(s.Appointments) != 1 || s.Appointments[0].ProfessionalName != "Ana Silva" {
		t.Errorf("appointments were not refreshed: %+v", s.Appointments)
	}
	if len(s.Transcript) != 4 {
		t.Errorf("booking must not clear the transcript, got %d messages", len(s.Transcript))
	}
	for _, slot := range s.Snapshot.ByCategory["Cardiology"] {
		if slot.Start.Equal(at(8, 30)) {
			t.Errorf("consumed slot is still offered")
		}
	}

	hist, err := h.svc.History(context.Background(), r.Appointment.ID)
	if err != nil || len(hist) != 1 || hist[0].Reason != "assistant: appointment booked" {
		t.Errorf("unexpected history %+v (%v)", hist, err)
	}
}

func TestHandleTurn_StaleOptionFailsRevalidation(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.init(t, "u1")
	h.turn(t, "u1", "cardiology")

	h.bookAsOther(t, at(8, 30))

	r := h.turn(t, "u1", "option 2")
	if r.Appointment != nil {
		t.Fatalf("stale slot must not be booked")
	}
	if !strings.Contains(r.Text, "no longer available") {
		t.Fatalf("expected a conflict explanation, got %q", r.Text)
	}

	s := h.session(t, "u1")
	if s.State != StateAwaitingChoice || len(s.LastPresentedOptions) != 3 {
		t.Fatalf("failed booking must keep the presented options, state %s", s.State)
	}
	list, _ := h.svc.ListForPatient(context.Background(), h.patient.ID)
	if len(list) != 0 {
		t.Fatalf("expected no appointments for the patient, got %d", len(list))
	}
}

func TestHandleTurn_QuestionWithOrdinalDoesNotBook(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.init(t, "u1")
	h.turn(t, "u1", "show me cardiology")

	r := h.turn(t, "u1", "any cardiology availability in the first week of april?")
	if r.Appointment != nil || r.Action != ActionQuery {
		t.Fatalf("a question must not book, got action %q text %q", r.Action, r.Text)
	}
	r = h.turn(t, "u1", "is the first week of april open?")
	if r.Appointment != nil || r.Action == ActionBook {
		t.Fatalf("a question must not book, got action %q text %q", r.Action, r.Text)
	}

	list, _ := h.svc.ListForPatient(context.Background(), h.patient.ID)
	if len(list) != 0 {
		t.Fatalf("expected no appointments for the patient, got %d", len(list))
	}
	if s := h.session(t, "u1"); s.State != StateAwaitingChoice || len(s.LastPresentedOptions) != 3 {
		t.Fatalf("options must stay presented, state %s with %d", s.State, len(s.LastPresentedOptions))
	}
}

// slotFromContext reads the n-th previewed slot of a category back out of the
// rendered context, the way a model would.
func slotFromContext(rendered, category string, n int) (uuid.UUID, time.Time, bool) {
	_, section, ok := strings.Cut(rendered, "CATEGORY: "+category+"\n")
	if !ok {
		return uuid.Nil, time.Time{}, false
	}
	for _, line := range strings.Split(section, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "CATEGORY: ") || line == "" {
			break
		}
		rest, ok := strings.CutPrefix(line, fmt.Sprintf("SLOT_%d: ", n))
		if !ok {
			continue
		}
		var id uuid.UUID
		var start time.Time
		for _, field := range strings.Split(rest, " | ") {
			k, v, _ := strings.Cut(field, "=")
			switch k {
			case "WORK_WINDOW_ID":
				id, _ = uuid.Parse(v)
			case "START":
				start, _ = time.Parse(time.RFC3339, v)
			}
		}
		return id, start, id != uuid.Nil && !start.IsZero()
	}
	return uuid.Nil, time.Time{}, false
}

func TestHandleTurn_PreviewSlotDoesNotResolveAgainstPresentedOptions(t *testing.T) {
	var contexts []string
	classifier := ClassifierFunc(func(ctx context.Context, req Request) (Decision, error) {
		contexts = append(contexts, req.Context)
		if !strings.Contains(req.Utterance, "dermatology slot") {
			return RuleClassifier{}.Classify(ctx, req)
		}
		id, start, ok := slotFromContext(req.Context, "Dermatology", 2)
		if !ok {
			return Decision{Text: "no such slot"}, nil
		}
		return Decision{Action: &Action{Kind: ActionBook, WorkWindowID: id, Start: start}}, nil
	})
	h := newHarness(t, classifier, Options{})

	derm := h.repo.AddProfessional(appointment.Professional{Names: "Eva", Surnames: "Mora", Specialty: "Dermatology", Active: true})
	dermWindow := h.repo.AddWorkWindow(appointment.WorkWindow{ProfessionalID: derm.ID, UnitID: h.window.UnitID, StartTime: at(8, 0), EndTime: at(10, 0)})
	h.init(t, "u1")

	if r := h.turn(t, "u1", "cardiology"); r.State != StateAwaitingChoice {
		t.Fatalf("expected cardiology options, got %s", r.State)
	}
	r := h.turn(t, "u1", "the 2nd dermatology slot")
	if r.Appointment == nil {
		t.Fatalf("expected a booking, got %q", r.Text)
	}
	if r.Appointment.WorkWindowID != dermWindow.ID || !r.Appointment.StartTime.Equal(at(8, 30)) {
		t.Fatalf("expected dermatology at 08:30, got window %s at %s", r.Appointment.WorkWindowID, r.Appointment.StartTime)
	}

	last := contexts[len(contexts)-1]
	if n := strings.Count(last, "OPTION_1:"); n != 1 {
		t.Errorf("expected OPTION_1 only in the presented list, got %d:\n%s", n, last)
	}
}

func TestHandleTurn_OptionOutOfRange(t *testing.T) {
	h := newHarness(t, nil, Options{OptionsShown: 2})
	h.init(t, "u1")

	r := h.turn(t, "u1", "the first one")
	if r.Appointment != nil || !strings.Contains(r.Text, "availability first") {
		t.Fatalf("expected a prompt to ask for availability, got %q", r.Text)
	}

	h.turn(t, "u1", "cardiology")
	r = h.turn(t, "u1", "option 3")
	if r.Appointment != nil || !strings.Contains(r.Text, "between 1 and 2") {
		t.Fatalf("expected a range prompt, got %q", r.Text)
	}
}

func TestHandleTurn_ConfirmAndCancel(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.init(t, "u1")

	h.turn(t, "u1", "cardiology")
	booked := h.turn(t, "u1", "first").Appointment
	if booked == nil {
		t.Fatal("expected a booking")
	}

	r := h.turn(t, "u1", "please confirm my appointment")
	if r.Appointment == nil || r.Appointment.Status != appointment.StatusConfirmed {
		t.Fatalf("expected confirmation, got %q", r.Text)
	}

	r = h.turn(t, "u1", "confirm it again")
	if !strings.Contains(r.Text, "cannot be confirmed") {
		t.Fatalf("expected an invalid transition explanation, got %q", r.Text)
	}

	r = h.turn(t, "u1", "cancel appointment 1")
	if r.Appointment == nil || r.Appointment.Status != appointment.StatusCancelled {
		t.Fatalf("expected cancellation, got %q", r.Text)
	}
	if s := h.session(t, "u1"); len(s.Appointments) != 0 {
		t.Fatalf("cancelled appointment still listed: %+v", s.Appointments)
	}

	r = h.turn(t, "u1", "cancel")
	if !strings.Contains(r.Text, "no active appointments") {
		t.Fatalf("expected no appointments text, got %q", r.Text)
	}
}

func TestHandleTurn_Reschedule(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.init(t, "u1")
	h.turn(t, "u1", "cardiology")
	booked := h.turn(t, "u1", "option 1").Appointment
	if booked == nil {
		t.Fatal("expected a booking")
	}

	h.turn(t, "u1", "cardiology")
	r := h.turn(t, "u1", "reschedule my first appointment to option 2")
	if r.Appointment == nil || r.Appointment.ID != booked.ID {
		t.Fatalf("expected the appointment to move, got %q", r.Text)
	}
	// option 2 of the second presentation: 08:00 is taken, so 09:00
	if !r.Appointment.StartTime.Equal(at(9, 0)) {
		t.Fatalf("expected 09:00, got %s", r.Appointment.StartTime)
	}
}

func TestHandleTurn_RejectsForeignAppointment(t *testing.T) {
	foreign := uuid.Nil
	classifier := ClassifierFunc(func(_ context.Context, _ Request) (Decision, error) {
		return Decision{Action: &Action{Kind: ActionCancel, AppointmentID: foreign}}, nil
	})
	h := newHarness(t, classifier, Options{})

	other := h.repo.AddPatient(appointment.Patient{Names: "Other"})
	a, err := h.svc.Book(context.Background(), appointment.BookRequest{PatientID: other.ID, WorkWindowID: h.window.ID, Start: at(9, 0)})
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	foreign = a.ID

	h.init(t, "u1")
	r := h.turn(t, "u1", "cancel that one")
	if !strings.Contains(r.Text, "could not find") {
		t.Fatalf("expected not found text, got %q", r.Text)
	}

	got, _ := h.svc.Get(context.Background(), a.ID)
	if got.Status != appointment.StatusRequested {
		t.Fatalf("foreign appointment was modified: %s", got.Status)
	}
}

func TestHandleTurn_ClassifierFailureLeavesSessionUntouched(t *testing.T) {
	classifier := ClassifierFunc(func(_ context.Context, _ Request) (Decision, error) {
		return Decision{}, errors.New("upstream timeout")
	})
	h := newHarness(t, classifier, Options{})
	h.init(t, "u1")

	r := h.turn(t, "u1", "book me something")
	if !r.Retry || strings.Contains(r.Text, "upstream") {
		t.Fatalf("expected a generic retry reply, got %+v", r)
	}
	if s := h.session(t, "u1"); len(s.Transcript) != 0 || s.State != StateContextLoaded {
		t.Fatalf("session changed after classifier failure: %+v", s)
	}
}

func TestInitSession_ClearsTranscript(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.init(t, "u1")
	h.turn(t, "u1", "hello")
	h.turn(t, "u1", "cardiology")

	if s := h.session(t, "u1"); len(s.Transcript) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(s.Transcript))
	}

	s := h.init(t, "u1")
	if len(s.Transcript) != 0 || len(s.LastPresentedOptions) != 0 {
		t.Fatalf("init must start over, got %d messages and %d options", len(s.Transcript), len(s.LastPresentedOptions))
	}
}

func TestTranscriptIsBounded(t *testing.T) {
	h := newHarness(t, nil, Options{TranscriptLimit: 4})
	h.init(t, "u1")
	for _, text := range []string{"one", "two", "three"} {
		h.turn(t, "u1", text)
	}

	s := h.session(t, "u1")
	if len(s.Transcript) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(s.Transcript))
	}
	if s.Transcript[0].Text != "two" || s.Transcript[2].Text != "three" {
		t.Fatalf("expected the oldest turn to be dropped, got %+v", s.Transcript)
	}
}

func TestClearHistory_IsIdempotent(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.init(t, "u1")
	h.turn(t, "u1", "hello")

	for i := 0; i < 2; i++ {
		if err := h.engine.ClearHistory(context.Background(), "u1"); err != nil {
			t.Fatalf("clear #%d: %v", i+1, err)
		}
	}
	if _, err := h.engine.HandleTurn(context.Background(), "u1", "hello"); !errors.Is(err, ErrSessionNotInitialized) {
		t.Fatalf("expected ErrSessionNotInitialized after clear, got %v", err)
	}
}

func TestEndSession(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.init(t, "u1")

	if err := h.engine.EndSession(context.Background(), "u1"); err != nil {
		t.Fatalf("end: %v", err)
	}
	if err := h.engine.EndSession(context.Background(), "u1"); err != nil {
		t.Fatalf("second end: %v", err)
	}
	if _, err := h.engine.HandleTurn(context.Background(), "u1", "hello"); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("expected ErrSessionClosed, got %v", err)
	}

	s := h.init(t, "u1")
	if s.State != StateContextLoaded {
		t.Fatalf("init must reopen a closed session, got %s", s.State)
	}
}

func TestHandleTurn_NoAvailability(t *testing.T) {
	h := newHarness(t, nil, Options{})
	h.repo.AddProfessional(appointment.Professional{Names: "Dan", Specialty: "Neurology", Active: true})
	h.init(t, "u1")

	r := h.turn(t, "u1", "any neurology slots?")
	if r.State != StateContextLoaded || len(r.Options) != 0 || !strings.Contains(r.Text, "no availability for Neurology") {
		t.Fatalf("unexpected reply %+v", r)
	}
}

func TestHandleTurn_SerializesPerUser(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	classifier := ClassifierFunc(func(_ context.Context, _ Request) (Decision, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		return Decision{Text: "ok"}, nil
	})
	h := newHarness(t, classifier, Options{TranscriptLimit: 100})
	h.init(t, "u1")

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := h.engine.HandleTurn(context.Background(), "u1", "hello"); err != nil {
				t.Errorf("turn: %v", err)
			}
		}()
	}
	wg.Wait()

	if maxInFlight.Load() != 1 {
		t.Fatalf("turns for one user overlapped: %d in flight", maxInFlight.Load())
	}
	if s := h.session(t, "u1"); len(s.Transcript) != 10 {
		t.Fatalf("expected every turn recorded, got %d messages", len(s.Transcript))
	}
}

func TestHandleTurn_UsersRunInParallel(t *testing.T) {
	var arrived sync.WaitGroup
	arrived.Add(2)
	released := make(chan struct{})
	go func() {
		arrived.Wait()
		close(released)
	}()

	classifier := ClassifierFunc(func(ctx context.Context, _ Request) (Decision, error) {
		arrived.Done()
		select {
		case <-released:
			return Decision{Text: "ok"}, nil
		case <-time.After(2 * time.Second):
			return Decision{}, errors.New("other user's turn never started")
		}
	})
	h := newHarness(t, classifier, Options{})
	h.init(t, "u1")
	h.init(t, "u2")

	var wg sync.WaitGroup
	replies := make([]Reply, 2)
	for i, user := range []string{"u1", "u2"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			replies[i], _ = h.engine.HandleTurn(context.Background(), user, "hello")
		}()
	}
	wg.Wait()

	for i, r := range replies {
		if r.Retry {
			t.Fatalf("user %d was blocked by the other user's turn", i+1)
		}
	}
}
