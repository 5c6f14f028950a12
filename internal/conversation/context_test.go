package conversation

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/availability"
)

func contextSession() *Session {
	window := uuid.MustParse("6f1c2a4e-0000-4000-8000-000000000001")
	slot := func(h, m int) availability.AvailableSlot {
		return availability.AvailableSlot{
			Start:            at(h, m),
			End:              at(h, m).Add(30 * time.Minute),
			ProfessionalName: "Ana Silva",
			WorkWindowID:     window,
			Category:         "Cardiology",
		}
	}

	return &Session{
		UserID:      "u1",
		PatientID:   uuid.MustParse("6f1c2a4e-0000-4000-8000-0000000000aa"),
		PatientName: "Luis Rojas",
		State:       StateAwaitingChoice,
		Appointments: []AppointmentView{{
			Appointment: appointment.Appointment{
				ID:        uuid.MustParse("6f1c2a4e-0000-4000-8000-0000000000bb"),
				StartTime: at(11, 0),
				EndTime:   at(11, 30),
				Status:    appointment.StatusConfirmed,
			},
			ProfessionalName: "Ana Silva",
			Specialty:        "Cardiology",
		}},
		Snapshot: availability.Snapshot{
			GeneratedAt: at(7, 0),
			ByCategory: map[string][]availability.AvailableSlot{
				"Neurology":  {},
				"Cardiology": {slot(8, 0), slot(8, 30), slot(9, 0)},
			},
		},
		LastPresentedOptions: []Option{{Number: 1, Slot: slot(8, 0)}},
	}
}

func TestRenderContext(t *testing.T) {
	s := contextSession()
	out := RenderContext(s, 2)

	want := []string{
		"PATIENT_ID: 6f1c2a4e-0000-4000-8000-0000000000aa\n",
		"PATIENT_NAME: Luis Rojas\n",
		"ACTIVE_APPOINTMENTS_COUNT: 1\n",
		"APPOINTMENT_1: ID=6f1c2a4e-0000-4000-8000-0000000000bb | START=2026-03-02T11:00:00Z | END=2026-03-02T11:30:00Z | PROFESSIONAL=Ana Silva | SPECIALTY=Cardiology | STATUS=confirmed\n",
		"AVAILABILITY_GENERATED_AT: 2026-03-02T07:00:00Z\n",
		"AVAILABILITY_CATEGORIES_COUNT: 2\n",
		"AVAILABLE_SLOTS_COUNT: 3\n",
		"CATEGORY: Cardiology\n  SLOTS_COUNT: 3\n",
		"  SLOT_1: WORK_WINDOW_ID=6f1c2a4e-0000-4000-8000-000000000001 | START=2026-03-02T08:00:00Z | END=2026-03-02T08:30:00Z | PROFESSIONAL=Ana Silva\n",
		"  SLOT_2: WORK_WINDOW_ID=6f1c2a4e-0000-4000-8000-000000000001 | START=2026-03-02T08:30:00Z | ",
		"CATEGORY: Neurology\n  SLOTS_COUNT: 0\n",
		"PRESENTED_OPTIONS_COUNT: 1\n",
		"OPTION_1: WORK_WINDOW_ID=6f1c2a4e-0000-4000-8000-000000000001 | START=2026-03-02T08:00:00Z | END=2026-03-02T08:30:00Z | PROFESSIONAL=Ana Silva | CATEGORY=Cardiology\n",
	}

	// each fragment must appear after the previous one
	rest := out
	for _, w := range want {
		i := strings.Index(rest, w)
		if i < 0 {
			t.Fatalf("missing or out of order %q in:\n%s", w, out)
		}
		rest = rest[i+len(w):]
	}

	if strings.Contains(out, "SLOT_3") {
		t.Errorf("rendered more slots than shown:\n%s", out)
	}
	// OPTION_N is reserved for the presented list the engine resolves against
	if n := strings.Count(out, "OPTION_1:"); n != 1 {
		t.Errorf("expected OPTION_1 exactly once, got %d:\n%s", n, out)
	}
	if again := RenderContext(s, 2); again != out {
		t.Errorf("rendering is not deterministic")
	}
}

func TestRenderContext_Empty(t *testing.T) {
	out := RenderContext(&Session{}, 3)

	for _, w := range []string{
		"ACTIVE_APPOINTMENTS_COUNT: 0\n",
		"AVAILABILITY_GENERATED_AT: -\n",
		"AVAILABILITY_CATEGORIES_COUNT: 0\n",
		"AVAILABLE_SLOTS_COUNT: 0\n",
		"PRESENTED_OPTIONS_COUNT: 0\n",
	} {
		if !strings.Contains(out, w) {
			t.Errorf("missing %q in:\n%s", w, out)
		}
	}
	if strings.Contains(out, "CATEGORY:") || strings.Contains(out, "OPTION_") || strings.Contains(out, "SLOT_") {
		t.Errorf("empty session rendered details:\n%s", out)
	}
}

func TestBuildContext_Blocks(t *testing.T) {
	c := BuildContext(contextSession(), 1)
	if len(c) != 3 {
		t.Fatalf("expected 3 blocks, got %d", len(c))
	}

	ac, ok := c[1].(AvailabilityContext)
	if !ok {
		t.Fatalf("second block is %T", c[1])
	}
	if ac.Categories[0].Name != "Cardiology" || ac.Categories[0].Total != 3 || len(ac.Categories[0].Slots) != 1 {
		t.Errorf("unexpected cardiology block %+v", ac.Categories[0])
	}
	if ac.Categories[1].Name != "Neurology" || len(ac.Categories[1].Slots) != 0 {
		t.Errorf("unexpected neurology block %+v", ac.Categories[1])
	}
}
