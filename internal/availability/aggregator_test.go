package availability

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/clock"
	"github.com/hackgods/clinic-appointment-scheduling/internal/config"
	"github.com/hackgods/clinic-appointment-scheduling/internal/lock"
)

func at(hour, minute int) time.Time {
	return time.Date(2026, time.March, 2, hour, minute, 0, 0, time.UTC)
}

type env struct {
	repo  *appointment.MemoryRepository
	clock *clock.Fixed
	agg   *Aggregator
	svc   *appointment.Service
	unit  appointment.CareUnit
}

func newEnv() *env {
	repo := appointment.NewMemoryRepository()
	clk := &clock.Fixed{T: at(7, 0), Loc: time.UTC}
	cfg := config.Config{SlotDuration: 30 * time.Minute}

	return &env{
		repo:  repo,
		clock: clk,
		agg:   NewAggregator(repo, clk, cfg.SlotDuration, zap.NewNop()),
		svc:   appointment.NewService(repo, lock.NewLocal(), clk, cfg, zap.NewNop()),
		unit:  repo.AddUnit(appointment.CareUnit{Name: "Main", Active: true}),
	}
}

func (e *env) professional(name, specialty string, active bool) appointment.Professional {
	return e.repo.AddProfessional(appointment.Professional{Names: name, Specialty: specialty, Active: active})
}

func (e *env) window(p appointment.Professional, start, end time.Time) appointment.WorkWindow {
	return e.repo.AddWorkWindow(appointment.WorkWindow{ProfessionalID: p.ID, UnitID: &e.unit.ID, StartTime: start, EndTime: end})
}

func TestAvailabilityFor_BookingConsumesSlot(t *testing.T) {
	e := newEnv()
	prof := e.professional("Ana", "Cardiology", true)
	w := e.window(prof, at(8, 0), at(9, 0))

	got, err := e.agg.AvailabilityFor(context.Background(), "Cardiology", 10)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if len(got) != 2 || !got[0].Start.Equal(at(8, 0)) || !got[1].Start.Equal(at(8, 30)) {
		t.Fatalf("expected [08:00, 08:30], got %+v", got)
	}
	if got[0].WorkWindowID != w.ID || got[0].ProfessionalID != prof.ID || got[0].ProfessionalName != "Ana" {
		t.Fatalf("slot is missing booking metadata: %+v", got[0])
	}

	patient := e.repo.AddPatient(appointment.Patient{Names: "Luis"})
	if _, err := e.svc.Book(context.Background(), appointment.BookRequest{PatientID: patient.ID, WorkWindowID: w.ID, Start: at(8, 0)}); err != nil {
		t.Fatalf("book: %v", err)
	}

	got, err = e.agg.AvailabilityFor(context.Background(), "Cardiology", 10)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if len(got) != 1 || !got[0].Start.Equal(at(8, 30)) || !got[0].End.Equal(at(9, 0)) {
		t.Fatalf("expected only [08:30, 09:00), got %+v", got)
	}
}

func TestAvailabilityFor_FiltersAndOrders(t *testing.T) {
	e := newEnv()
	ana := e.professional("Ana", "Cardiology", true)
	bea := e.professional("Bea", "Cardiology", true)
	gone := e.professional("Carl", "Cardiology", false)
	derm := e.professional("Dan", "Dermatology", true)

	e.window(ana, at(9, 0), at(10, 0))
	e.window(bea, at(8, 30), at(9, 30))
	e.window(gone, at(8, 0), at(12, 0))
	e.window(derm, at(8, 0), at(12, 0))
	e.repo.AddWorkWindow(appointment.WorkWindow{ProfessionalID: ana.ID, StartTime: at(7, 0), EndTime: at(8, 0), State: appointment.WindowClosed})

	// a cancelled booking does not block
	e.repo.AddAppointment(appointment.Appointment{ProfessionalID: bea.ID, StartTime: at(8, 30), EndTime: at(9, 0), Status: appointment.StatusCancelled})

	got, err := e.agg.AvailabilityFor(context.Background(), "Cardiology", 10)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}

	want := []struct {
		start time.Time
		name  string
	}{
		{at(8, 30), "Bea"},
		{at(9, 0), "Ana"},
		{at(9, 0), "Bea"},
		{at(9, 30), "Ana"},
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d slots, got %+v", len(want), got)
	}
	for i, w := range want {
		if !got[i].Start.Equal(w.start) || got[i].ProfessionalName != w.name {
			t.Errorf("slot %d: got %s %s, want %s %s", i, got[i].Start.Format("15:04"), got[i].ProfessionalName, w.start.Format("15:04"), w.name)
		}
		if got[i].Category != "Cardiology" {
			t.Errorf("slot %d: unexpected category %q", i, got[i].Category)
		}
	}

	limited, err := e.agg.AvailabilityFor(context.Background(), "Cardiology", 2)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if len(limited) != 2 || !limited[1].Start.Equal(at(9, 0)) {
		t.Fatalf("expected the two earliest slots, got %+v", limited)
	}
}

func TestAvailabilityFor_SkipsElapsedSlots(t *testing.T) {
	e := newEnv()
	prof := e.professional("Ana", "Cardiology", true)
	e.window(prof, at(8, 0), at(9, 30))
	e.clock.Advance(70 * time.Minute) // 08:10

	got, err := e.agg.AvailabilityFor(context.Background(), "Cardiology", 10)
	if err != nil {
		t.Fatalf("availability: %v", err)
	}
	if len(got) != 2 || !got[0].Start.Equal(at(8, 30)) {
		t.Fatalf("expected slots from 08:30 on, got %+v", got)
	}
}

func TestAvailabilityFor_Validation(t *testing.T) {
	e := newEnv()
	if _, err := e.agg.AvailabilityFor(context.Background(), "", 5); !errors.Is(err, appointment.ErrValidation) {
		t.Fatalf("expected validation error for empty category, got %v", err)
	}
	if _, err := e.agg.AvailabilityFor(context.Background(), "Cardiology", 0); !errors.Is(err, appointment.ErrValidation) {
		t.Fatalf("expected validation error for zero limit, got %v", err)
	}

	got, err := e.agg.AvailabilityFor(context.Background(), "Neurology", 5)
	if err != nil {
		t.Fatalf("unknown category must not fail: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil result, got %#v", got)
	}
}

func TestSnapshot(t *testing.T) {
	e := newEnv()
	card := e.professional("Ana", "Cardiology", true)
	derm := e.professional("Dan", "Dermatology", true)
	e.professional("Eve", "Neurology", true)

	cw := e.window(card, at(8, 0), at(9, 0))
	e.window(derm, at(10, 0), at(11, 30))

	snap, err := e.agg.Snapshot(context.Background(), 2)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	cats := snap.Categories()
	if len(cats) != 3 || cats[0] != "Cardiology" || cats[1] != "Dermatology" || cats[2] != "Neurology" {
		t.Fatalf("unexpected categories %v", cats)
	}
	if n := len(snap.ByCategory["Dermatology"]); n != 2 {
		t.Fatalf("expected limit to apply per category, got %d", n)
	}
	if n := len(snap.ByCategory["Neurology"]); n != 0 {
		t.Fatalf("expected no neurology slots, got %d", n)
	}
	if snap.Total() != 4 {
		t.Fatalf("expected 4 slots in total, got %d", snap.Total())
	}
	if !snap.GeneratedAt.Equal(at(7, 0)) {
		t.Fatalf("unexpected generation time %s", snap.GeneratedAt)
	}

	pruned := snap.Without(cw.ID, at(8, 0))
	if len(pruned.ByCategory["Cardiology"]) != 1 || len(snap.ByCategory["Cardiology"]) != 2 {
		t.Fatal("Without must prune a copy and leave the original intact")
	}
}
