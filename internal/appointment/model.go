package appointment

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusRequested AppointmentStatus = "requested"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusFulfilled AppointmentStatus = "fulfilled"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no_show"
)

// Blocking reports whether an appointment in this status occupies its interval.
func (s AppointmentStatus) Blocking() bool {
	return s != StatusCancelled && s != StatusNoShow
}

// Terminal reports whether no further transition is allowed.
func (s AppointmentStatus) Terminal() bool {
	return s == StatusCancelled || s == StatusFulfilled || s == StatusNoShow
}

type WindowState string

const (
	WindowOpen     WindowState = "open"
	WindowReserved WindowState = "reserved"
	WindowClosed   WindowState = "closed"
)

type Channel string

const (
	ChannelInPerson Channel = "in_person"
	ChannelRemote   Channel = "remote"
)

// Source tags who drove a state change; it prefixes history reasons.
type Source string

const (
	SourceAPI       Source = "api"
	SourceAssistant Source = "assistant"
)

type Dimension string

const (
	DimensionPatient      Dimension = "patient"
	DimensionProfessional Dimension = "professional"
)

type Patient struct {
	ID           uuid.UUID
	Names        string
	Surnames     string
	DocumentType string
	DocumentID   string
	Email        *string
	Phone        *string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

func (p Patient) FullName() string {
	return joinName(p.Names, p.Surnames)
}

type Professional struct {
	ID        uuid.UUID
	Names     string
	Surnames  string
	Specialty string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p Professional) FullName() string {
	return joinName(p.Names, p.Surnames)
}

type CareUnit struct {
	ID        uuid.UUID
	Name      string
	Active    bool
	CreatedAt time.Time
}

// WorkWindow is a professional's declared block of availability.
type WorkWindow struct {
	ID             uuid.UUID
	ProfessionalID uuid.UUID
	UnitID         *uuid.UUID
	StartTime      time.Time
	EndTime        time.Time
	State          WindowState
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type Appointment struct {
	ID             uuid.UUID
	PatientID      uuid.UUID
	ProfessionalID uuid.UUID
	WorkWindowID   uuid.UUID
	UnitID         uuid.UUID
	StartTime      time.Time
	EndTime        time.Time
	Status         AppointmentStatus
	Reason         string
	Channel        Channel
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// History is one append-only audit row per state-changing operation.
type History struct {
	ID            int64
	AppointmentID uuid.UUID
	OldStatus     *AppointmentStatus
	NewStatus     AppointmentStatus
	OldStartTime  *time.Time
	NewStartTime  time.Time
	OldEndTime    *time.Time
	NewEndTime    time.Time
	Reason        string
	ChangedAt     time.Time
}

func joinName(first, last string) string {
	switch {
	case first == "":
		return last
	case last == "":
		return first
	default:
		return first + " " + last
	}
}
