package conversation

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-scheduling/internal/availability"
)

// Block is one section of the context handed to the intent classifier.
// Every block prints counts before details so the classifier can be told
// never to offer availability whose count is zero.
type Block interface {
	render(b *strings.Builder)
}

type PatientContext struct {
	ID           uuid.UUID
	Name         string
	Appointments []AppointmentView
}

// CategoryAvailability previews a category. Its slots are numbered SLOT_N
// and are never OPTION_N: only presented options can be picked by number.
type CategoryAvailability struct {
	Name  string
	Total int
	Slots []availability.AvailableSlot
}

type AvailabilityContext struct {
	GeneratedAt time.Time
	Categories  []CategoryAvailability
}

type PriorOptions struct {
	Options []Option
}

// Context is the ordered set of blocks rendered for one turn.
type Context []Block

// BuildContext derives the classifier context from s, previewing at most
// shown slots per category.
func BuildContext(s *Session, shown int) Context {
	pc := PatientContext{ID: s.PatientID, Name: s.PatientName, Appointments: s.Appointments}

	ac := AvailabilityContext{GeneratedAt: s.Snapshot.GeneratedAt}
	for _, cat := range s.Snapshot.Categories() {
		slots := s.Snapshot.ByCategory[cat]
		ca := CategoryAvailability{Name: cat, Total: len(slots)}
		if len(slots) > 0 && shown > 0 {
			ca.Slots = slots[:min(shown, len(slots))]
		}
		ac.Categories = append(ac.Categories, ca)
	}

	return Context{pc, ac, PriorOptions{Options: s.LastPresentedOptions}}
}

func (c Context) Render() string {
	var b strings.Builder
	for i, block := range c {
		if i > 0 {
			b.WriteString("\n")
		}
		block.render(&b)
	}
	return b.String()
}

// RenderContext is BuildContext followed by Render.
func RenderContext(s *Session, shown int) string {
	return BuildContext(s, shown).Render()
}

func (p PatientContext) render(b *strings.Builder) {
	fmt.Fprintf(b, "PATIENT_ID: %s\n", p.ID)
	fmt.Fprintf(b, "PATIENT_NAME: %s\n", p.Name)
	fmt.Fprintf(b, "ACTIVE_APPOINTMENTS_COUNT: %d\n", len(p.Appointments))
	for i, a := range p.Appointments {
		fmt.Fprintf(b, "APPOINTMENT_%d: ID=%s | START=%s | END=%s | PROFESSIONAL=%s | SPECIALTY=%s | STATUS=%s\n",
			i+1, a.ID, stamp(a.StartTime), stamp(a.EndTime), a.ProfessionalName, a.Specialty, a.Status)
	}
}

func (a AvailabilityContext) render(b *strings.Builder) {
	total := 0
	for _, c := range a.Categories {
		total += c.Total
	}
	fmt.Fprintf(b, "AVAILABILITY_GENERATED_AT: %s\n", stamp(a.GeneratedAt))
	fmt.Fprintf(b, "AVAILABILITY_CATEGORIES_COUNT: %d\n", len(a.Categories))
	fmt.Fprintf(b, "AVAILABLE_SLOTS_COUNT: %d\n", total)
	for _, c := range a.Categories {
		fmt.Fprintf(b, "CATEGORY: %s\n", c.Name)
		fmt.Fprintf(b, "  SLOTS_COUNT: %d\n", c.Total)
		for i, slot := range c.Slots {
			fmt.Fprintf(b, "  SLOT_%d: %s\n", i+1, slotFields(slot))
		}
	}
}

func (p PriorOptions) render(b *strings.Builder) {
	fmt.Fprintf(b, "PRESENTED_OPTIONS_COUNT: %d\n", len(p.Options))
	for _, o := range p.Options {
		fmt.Fprintf(b, "%s | CATEGORY=%s\n", optionLine(o), o.Slot.Category)
	}
}

func optionLine(o Option) string {
	return fmt.Sprintf("OPTION_%d: %s", o.Number, slotFields(o.Slot))
}

func slotFields(s availability.AvailableSlot) string {
	return fmt.Sprintf("WORK_WINDOW_ID=%s | START=%s | END=%s | PROFESSIONAL=%s",
		s.WorkWindowID, stamp(s.Start), stamp(s.End), s.ProfessionalName)
}

func stamp(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(time.RFC3339)
}
