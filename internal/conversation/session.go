// Package conversation keeps per-user booking conversations consistent across
// independent turns and dispatches confirmed intents to the booking manager.
package conversation

import (
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-appointment-scheduling/internal/appointment"
	"github.com/hackgods/clinic-appointment-scheduling/internal/availability"
)

type State string

const (
	StateUninitialized  State = "uninitialized"
	StateContextLoaded  State = "context_loaded"
	StateAwaitingChoice State = "awaiting_choice"
	StateClosed         State = "closed"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role Role      `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// Option is a slot shown to the user under a stable number.
type Option struct {
	Number int                        `json:"number"`
	Slot   availability.AvailableSlot `json:"slot"`
}

// AppointmentView is an appointment with the names the user recognises.
type AppointmentView struct {
	appointment.Appointment
	ProfessionalName string `json:"professional_name"`
	Specialty        string `json:"specialty"`
}

type Session struct {
	UserID               string                `json:"user_id"`
	PatientID            uuid.UUID             `json:"patient_id"`
	PatientName          string                `json:"patient_name"`
	State                State                 `json:"state"`
	Transcript           []Message             `json:"transcript"`
	Appointments         []AppointmentView     `json:"appointments"`
	Snapshot             availability.Snapshot `json:"snapshot"`
	LastPresentedOptions []Option              `json:"last_presented_options,omitempty"`
	UpdatedAt            time.Time             `json:"updated_at"`
}

// record appends m and keeps only the newest limit messages.
func (s *Session) record(m Message, limit int) {
	s.Transcript = append(s.Transcript, m)
	if limit > 0 && len(s.Transcript) > limit {
		s.Transcript = append([]Message(nil), s.Transcript[len(s.Transcript)-limit:]...)
	}
}

// clone returns a copy that shares no slices with s.
func (s *Session) clone() *Session {
	c := *s
	c.Transcript = append([]Message(nil), s.Transcript...)
	c.Appointments = append([]AppointmentView(nil), s.Appointments...)
	c.LastPresentedOptions = append([]Option(nil), s.LastPresentedOptions...)
	if s.Snapshot.ByCategory != nil {
		c.Snapshot.ByCategory = make(map[string][]availability.AvailableSlot, len(s.Snapshot.ByCategory))
		for k, v := range s.Snapshot.ByCategory {
			c.Snapshot.ByCategory[k] = append([]availability.AvailableSlot(nil), v...)
		}
	}
	return &c
}
