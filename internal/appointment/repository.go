package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Queries contains every read and write the scheduling core needs. Lookups
// by id return *NotFoundError when the row is absent.
type Queries interface {
	GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetProfessionalByID(ctx context.Context, id uuid.UUID) (*Professional, error)
	// ListActiveProfessionals filters by exact specialty; an empty specialty returns all.
	ListActiveProfessionals(ctx context.Context, specialty string) ([]Professional, error)
	ListSpecialties(ctx context.Context) ([]string, error)

	GetWorkWindowByID(ctx context.Context, id uuid.UUID) (*WorkWindow, error)
	// ListOpenWorkWindows returns open windows ending after the given instant, by start time.
	ListOpenWorkWindows(ctx context.Context, professionalIDs []uuid.UUID, endingAfter time.Time) ([]WorkWindow, error)
	CloseElapsedWorkWindows(ctx context.Context, now time.Time) (int64, error)
	GetDefaultUnit(ctx context.Context) (*CareUnit, error)

	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)
	// ListAppointmentsByPatient returns the patient's blocking appointments by start time.
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID) ([]Appointment, error)
	// ListBlockingAppointments returns blocking appointments of the professionals ending after from.
	ListBlockingAppointments(ctx context.Context, professionalIDs []uuid.UUID, from time.Time) ([]Appointment, error)
	// FindOverlapping returns one blocking appointment whose interval overlaps
	// [start, end) for the subject, or nil when there is none.
	FindOverlapping(ctx context.Context, dim Dimension, subjectID uuid.UUID, start, end time.Time, exclude *uuid.UUID) (*Appointment, error)

	CreateAppointment(ctx context.Context, a *Appointment) error
	UpdateAppointment(ctx context.Context, a *Appointment) error
	InsertHistory(ctx context.Context, h *History) error
	ListHistory(ctx context.Context, appointmentID uuid.UUID) ([]History, error)
}

// Repository is the persistence collaborator. InTx runs fn in one
// serializable transaction: every write inside fn commits together or not at all.
type Repository interface {
	Queries
	InTx(ctx context.Context, fn func(ctx context.Context, q Queries) error) error
}
